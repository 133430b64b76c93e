package grove

import (
	"github.com/iotaledger/hive.go/ierrors"
)

var (
	// ErrKeyNotFound is returned when a requested key is not present in a subtree.
	ErrKeyNotFound = ierrors.New("key not found")

	// ErrSubtreeNotFound is returned when a path references a subtree that was never created.
	ErrSubtreeNotFound = ierrors.New("subtree not found")

	// ErrBatchOpen is returned when a second committable batch is requested
	// while one is still open against the same tree.
	ErrBatchOpen = ierrors.New("a batch is already open")

	// ErrBatchDiscarded is returned when a batch is used after Commit or Cancel.
	ErrBatchDiscarded = ierrors.New("batch was already committed or discarded")

	// ErrDryRunCommit is returned when Commit is called on a dry-run batch.
	ErrDryRunCommit = ierrors.New("dry-run batches cannot be committed")

	// ErrPathSegmentTooLong is returned for path segments above the maximum
	// segment length.
	ErrPathSegmentTooLong = ierrors.New("path segment exceeds 64 bytes")

	// ErrInvalidProof is returned when a range proof does not verify against the given root.
	ErrInvalidProof = ierrors.New("invalid range proof")

	// ErrNotItem is returned when an element of a different kind is read as an item.
	ErrNotItem = ierrors.New("element is not an item")

	// ErrNotSubtree is returned when an element of a different kind is read as a subtree.
	ErrNotSubtree = ierrors.New("element is not a subtree")
)
