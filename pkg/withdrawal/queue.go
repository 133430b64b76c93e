package withdrawal

import (
	"encoding/binary"

	"github.com/iotaledger/hive.go/ierrors"

	"github.com/iotaledger/drive.go/pkg/grove"
	"github.com/iotaledger/drive.go/pkg/model"
)

var (
	queueKey   = []byte{'q'}
	counterKey = []byte{'c'}
)

// Entry is one dequeued withdrawal: its queue position and opaque payload.
type Entry struct {
	Index   uint64
	Payload []byte
}

// Queue is a FIFO of withdrawal payloads inside the state tree. Entries are
// keyed by a monotonically increasing big-endian index, so queue order equals
// tree order and range scans dequeue in insertion order.
type Queue struct {
	tree *grove.Tree
}

func NewQueue(tree *grove.Tree) *Queue {
	return &Queue{tree: tree}
}

// Path is the withdrawals area; entries live in the nested queue subtree.
func Path() grove.Path {
	return grove.Path{model.RootKeyWithdrawals}
}

func entriesPath() grove.Path {
	return grove.Path{model.RootKeyWithdrawals, queueKey}
}

// CreateStructure materializes the nested entries subtree. It must run once
// before the first enqueue.
func (q *Queue) CreateStructure(batch *grove.Batch) error {
	return batch.PutSubtree(Path(), queueKey)
}

// Enqueue appends a payload and returns its assigned index.
func (q *Queue) Enqueue(batch *grove.Batch, payload []byte) (uint64, error) {
	next, err := q.NextIndex(batch)
	if err != nil {
		return 0, err
	}

	if err := batch.PutItem(entriesPath(), indexKey(next), payload); err != nil {
		return 0, ierrors.Wrapf(err, "failed to enqueue withdrawal %d", next)
	}
	if err := batch.PutItem(Path(), counterKey, indexKey(next+1)); err != nil {
		return 0, ierrors.Wrap(err, "failed to advance withdrawal counter")
	}

	return next, nil
}

// NextIndex returns the index the next enqueued entry will get. It is 0 for a
// queue that never held an entry.
func (q *Queue) NextIndex(batch *grove.Batch) (uint64, error) {
	counterBytes, err := batch.GetItem(Path(), counterKey)
	if err != nil {
		if ierrors.Is(err, grove.ErrKeyNotFound) || ierrors.Is(err, grove.ErrSubtreeNotFound) {
			return 0, nil
		}

		return 0, ierrors.Wrap(err, "failed to load withdrawal counter")
	}
	if len(counterBytes) != 8 {
		return 0, ierrors.Errorf("malformed withdrawal counter of %d bytes", len(counterBytes))
	}

	return binary.BigEndian.Uint64(counterBytes), nil
}

// DequeueUpTo removes and returns the oldest entries, at most limit of them.
// A limit of 0 dequeues nothing.
func (q *Queue) DequeueUpTo(batch *grove.Batch, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	var entries []Entry
	_, err := batch.IterateRange(entriesPath(), grove.Range{Ascending: true, Limit: limit}, func(key []byte, element grove.Element) (bool, error) {
		if element.Kind != grove.ElementItem {
			return false, ierrors.Wrapf(grove.ErrNotItem, "withdrawal entry %x", key)
		}
		if len(key) != 8 {
			return false, ierrors.Errorf("malformed withdrawal key of %d bytes", len(key))
		}
		entries = append(entries, Entry{Index: binary.BigEndian.Uint64(key), Payload: element.Value})

		return true, nil
	})
	if err != nil {
		if ierrors.Is(err, grove.ErrSubtreeNotFound) {
			return nil, nil
		}

		return nil, err
	}

	for _, entry := range entries {
		if _, err := batch.Delete(entriesPath(), indexKey(entry.Index)); err != nil {
			return nil, ierrors.Wrapf(err, "failed to dequeue withdrawal %d", entry.Index)
		}
	}

	return entries, nil
}

func indexKey(index uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, index)

	return key
}
