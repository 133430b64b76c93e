package query

import (
	"bytes"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/core/marshalutil"

	"github.com/iotaledger/drive.go/pkg/contract"
	"github.com/iotaledger/drive.go/pkg/document"
	"github.com/iotaledger/drive.go/pkg/grove"
)

const proofFlagCursor = 0x01

// Prove executes the query against committed state and produces a proof of
// its result: one range proof per scanned index subrange, preceded by a proof
// of the cursor document when the query resumes from one, followed by one
// singleton proof per result document. Everything verifies against the root
// digest of the state the proof was generated from.
func (e *Executor) Prove(q *Query) ([]byte, error) {
	c, err := e.contracts.Get(nil, q.ContractID)
	if err != nil {
		return nil, err
	}

	p, err := planQuery(c, q)
	if err != nil {
		return nil, err
	}

	limit, err := q.effectiveLimit()
	if err != nil {
		return nil, err
	}

	cursorID, cursorInclusive, err := q.cursor()
	if err != nil {
		return nil, err
	}

	m := marshalutil.New()

	subranges := p.subranges
	if cursorID != nil {
		m.WriteByte(proofFlagCursor)

		cursorProof, _, err := e.tree.ProveRange(p.primaryPath, singletonRange(cursorID))
		if err != nil {
			return nil, ierrors.Wrapf(err, "failed to prove cursor document %x", cursorID)
		}
		writeProofBytes(m, cursorProof)

		cursorBytes, err := e.tree.GetItem(p.primaryPath, cursorID)
		if err != nil {
			return nil, ierrors.Wrapf(err, "cursor document %x not found", cursorID)
		}
		cursorDoc, err := document.FromBytes(cursorBytes)
		if err != nil {
			return nil, ierrors.Wrapf(err, "failed to deserialize cursor document %x", cursorID)
		}

		subranges = adjustForCursor(subranges, document.IndexKey(cursorDoc, p.index), cursorInclusive, p.scanAscending)
	} else {
		m.WriteByte(0)
	}

	var (
		rangeProofs [][]byte
		documentIDs [][]byte
	)
	remaining := limit
	for _, rng := range subranges {
		if remaining == 0 {
			break
		}
		rng.Limit = remaining

		proof, _, err := e.tree.ProveRange(p.indexPath, rng)
		if err != nil {
			return nil, ierrors.Wrap(err, "failed to prove index range")
		}
		rangeProofs = append(rangeProofs, proof)

		_, err = e.tree.IterateRange(p.indexPath, rng, func(key []byte, element grove.Element) (bool, error) {
			if element.Kind != grove.ElementItem {
				return false, ierrors.Wrapf(grove.ErrNotItem, "index entry %x", key)
			}
			documentIDs = append(documentIDs, element.Value)
			remaining--

			return true, nil
		})
		if err != nil {
			return nil, err
		}
	}

	m.WriteUint8(uint8(len(rangeProofs)))
	for _, proof := range rangeProofs {
		writeProofBytes(m, proof)
	}

	m.WriteUint16(uint16(len(documentIDs)))
	for _, documentID := range documentIDs {
		proof, _, err := e.tree.ProveRange(p.primaryPath, singletonRange(documentID))
		if err != nil {
			return nil, ierrors.Wrapf(err, "failed to prove document %x", documentID)
		}
		writeProofBytes(m, proof)
	}

	return m.Bytes(), nil
}

// VerifyProof checks a query proof against a trusted root digest. It re-plans
// the query from the contract, so the verifier never trusts the prover's
// choice of index or ranges, and returns the proven result documents in scan
// order.
func VerifyProof(proof []byte, root grove.Digest, c *contract.Contract, q *Query) ([]*document.Document, error) {
	p, err := planQuery(c, q)
	if err != nil {
		return nil, err
	}

	limit, err := q.effectiveLimit()
	if err != nil {
		return nil, err
	}

	cursorID, cursorInclusive, err := q.cursor()
	if err != nil {
		return nil, err
	}

	m := marshalutil.New(proof)

	flags, err := m.ReadByte()
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read proof flags")
	}
	if (flags&proofFlagCursor != 0) != (cursorID != nil) {
		return nil, ierrors.Wrap(ErrInvalidProof, "cursor flag does not match the query")
	}

	subranges := p.subranges
	if cursorID != nil {
		cursorProof, err := readProofBytes(m)
		if err != nil {
			return nil, err
		}
		cursorDoc, err := verifyDocumentProof(cursorProof, root, p.primaryPath, cursorID)
		if err != nil {
			return nil, ierrors.Wrap(err, "cursor document")
		}

		subranges = adjustForCursor(subranges, document.IndexKey(cursorDoc, p.index), cursorInclusive, p.scanAscending)
	}

	rangeProofCount, err := m.ReadUint8()
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read range proof count")
	}

	var (
		entryKeys   [][]byte
		documentIDs [][]byte
	)
	remaining := limit
	proofsRead := 0
	for _, rng := range subranges {
		if remaining == 0 {
			break
		}
		if proofsRead == int(rangeProofCount) {
			return nil, ierrors.Wrap(ErrInvalidProof, "missing index range proof")
		}
		rng.Limit = remaining

		rangeProof, err := readProofBytes(m)
		if err != nil {
			return nil, err
		}
		proofsRead++

		entries, err := grove.VerifyRangeProof(rangeProof, root, p.indexPath, rng)
		if err != nil {
			return nil, ierrors.Wrap(err, "index range proof")
		}
		for _, entry := range entries {
			if entry.Element.Kind != grove.ElementItem {
				return nil, ierrors.Wrap(ErrInvalidProof, "index entry is not an item")
			}
			entryKeys = append(entryKeys, entry.Key)
			documentIDs = append(documentIDs, entry.Element.Value)
			remaining--
		}
	}
	if proofsRead != int(rangeProofCount) {
		return nil, ierrors.Wrap(ErrInvalidProof, "unexpected extra index range proof")
	}

	documentCount, err := m.ReadUint16()
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read document proof count")
	}
	if int(documentCount) != len(documentIDs) {
		return nil, ierrors.Wrapf(ErrInvalidProof, "expected %d document proofs, proof has %d", len(documentIDs), documentCount)
	}

	results := make([]*document.Document, 0, len(documentIDs))
	for i, documentID := range documentIDs {
		documentProof, err := readProofBytes(m)
		if err != nil {
			return nil, err
		}

		d, err := verifyDocumentProof(documentProof, root, p.primaryPath, documentID)
		if err != nil {
			return nil, ierrors.Wrapf(err, "document %x", documentID)
		}
		if !bytes.Equal(document.IndexKey(d, p.index), entryKeys[i]) {
			return nil, ierrors.Wrapf(ErrInvalidProof, "document %x does not match its index entry", documentID)
		}
		results = append(results, d)
	}

	return results, nil
}

// verifyDocumentProof checks a singleton proof of one primary-subtree entry
// and returns the disclosed document.
func verifyDocumentProof(proof []byte, root grove.Digest, primaryPath grove.Path, documentID []byte) (*document.Document, error) {
	entries, err := grove.VerifyRangeProof(proof, root, primaryPath, singletonRange(documentID))
	if err != nil {
		return nil, err
	}
	if len(entries) != 1 || !bytes.Equal(entries[0].Key, documentID) {
		return nil, ierrors.Wrapf(ErrInvalidProof, "proof does not contain document %x", documentID)
	}
	if entries[0].Element.Kind != grove.ElementItem {
		return nil, ierrors.Wrap(ErrInvalidProof, "primary entry is not an item")
	}

	d, err := document.FromBytes(entries[0].Element.Value)
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to deserialize proven document")
	}
	if !bytes.Equal(d.ID, documentID) {
		return nil, ierrors.Wrap(ErrInvalidProof, "proven document carries a different id")
	}

	return d, nil
}

// singletonRange proves the presence and value of exactly one key.
func singletonRange(key []byte) grove.Range {
	end := make([]byte, len(key)+1)
	copy(end, key)

	return grove.Range{Start: key, End: end, Ascending: true, Limit: 1}
}

// writeProofBytes appends one length-prefixed proof blob.
func writeProofBytes(m *marshalutil.MarshalUtil, proof []byte) {
	m.WriteUint32(uint32(len(proof)))
	m.WriteBytes(proof)
}

// readProofBytes consumes one length-prefixed proof blob.
func readProofBytes(m *marshalutil.MarshalUtil) ([]byte, error) {
	length, err := m.ReadUint32()
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read proof length")
	}

	proof, err := m.ReadBytes(int(length))
	if err != nil {
		return nil, ierrors.Wrap(err, "failed to read proof bytes")
	}

	return proof, nil
}

// adjustForCursor clips the planned subranges so the scan resumes at the
// cursor document's index entry.
func adjustForCursor(subranges []grove.Range, cursorKey []byte, inclusive, scanAscending bool) []grove.Range {
	exclusiveBound := make([]byte, len(cursorKey)+1)
	copy(exclusiveBound, cursorKey)

	adjusted := make([]grove.Range, 0, len(subranges))
	for _, rng := range subranges {
		if scanAscending {
			bound := cursorKey
			if !inclusive {
				bound = exclusiveBound
			}
			if rng.Start == nil || bytes.Compare(rng.Start, bound) < 0 {
				rng.Start = bound
			}
		} else {
			bound := cursorKey
			if inclusive {
				bound = exclusiveBound
			}
			if rng.End == nil || bytes.Compare(bound, rng.End) < 0 {
				rng.End = bound
			}
		}

		if rng.Start != nil && rng.End != nil && bytes.Compare(rng.Start, rng.End) >= 0 {
			continue
		}
		adjusted = append(adjusted, rng)
	}

	return adjusted
}
