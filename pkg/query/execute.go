package query

import (
	"bytes"

	"github.com/iotaledger/hive.go/ierrors"

	"github.com/iotaledger/drive.go/pkg/contract"
	"github.com/iotaledger/drive.go/pkg/document"
	"github.com/iotaledger/drive.go/pkg/grove"
)

// Executor runs queries against the state tree. All reads of one execution go
// through a single batch so the accrued operation log prices the whole query.
type Executor struct {
	tree      *grove.Tree
	contracts *contract.Manager
}

func NewExecutor(tree *grove.Tree, contracts *contract.Manager) *Executor {
	return &Executor{tree: tree, contracts: contracts}
}

// Execute runs the query on committed state and returns the matching
// documents in scan order.
func (e *Executor) Execute(q *Query) ([]*document.Document, error) {
	view := e.tree.DryRun()
	defer view.Cancel()

	return e.ExecuteIn(view, q)
}

// ExecuteIn runs the query inside the given batch, observing its uncommitted
// writes and charging its operation log.
func (e *Executor) ExecuteIn(batch *grove.Batch, q *Query) ([]*document.Document, error) {
	c, err := e.contracts.Get(batch, q.ContractID)
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
	// Until the cursor document passes by, entries are skipped, so the scan
	// limit cannot be pushed down into the subtree iteration.
	skipping := cursorID != nil

	var results []*document.Document
	for _, rng := range p.subranges {
		if len(results) == limit {
			break
		}

		scanRange := rng
		if !skipping {
			scanRange.Limit = limit - len(results)
		}

		_, err := batch.IterateRange(p.indexPath, scanRange, func(key []byte, element grove.Element) (bool, error) {
			if element.Kind != grove.ElementItem {
				return false, ierrors.Wrapf(grove.ErrNotItem, "index entry %x", key)
			}
			documentID := element.Value

			if skipping {
				if !bytes.Equal(documentID, cursorID) {
					return true, nil
				}
				skipping = false
				if !cursorInclusive {
					return true, nil
				}
			}

			d, err := e.fetch(batch, p, documentID)
			if err != nil {
				return false, err
			}
			results = append(results, d)

			return len(results) < limit, nil
		})
		if err != nil {
			if ierrors.Is(err, grove.ErrSubtreeNotFound) {
				continue
			}

			return nil, err
		}
	}

	return results, nil
}

func (e *Executor) fetch(batch *grove.Batch, p *plan, documentID []byte) (*document.Document, error) {
	documentBytes, err := batch.GetItem(p.primaryPath, documentID)
	if err != nil {
		return nil, ierrors.Wrapf(err, "index entry references missing document %x", documentID)
	}

	d, err := document.FromBytes(documentBytes)
	if err != nil {
		return nil, ierrors.Wrapf(err, "failed to deserialize document %x", documentID)
	}

	return d, nil
}
