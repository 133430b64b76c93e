package platform

import (
	"github.com/iotaledger/drive.go/pkg/fee"
	"github.com/iotaledger/drive.go/pkg/grove"
)

// Raw tree access. These bypass the document layer but not the fee meter or
// the transaction discipline, so ad-hoc state (application metadata, external
// bookkeeping) stays inside the authenticated root digest.

// GroveGet reads one element.
func (p *Platform) GroveGet(path grove.Path, key []byte) (grove.Element, fee.Result, error) {
	var element grove.Element
	fees, err := p.withBatch(true, func(batch *grove.Batch) error {
		var innerErr error
		element, innerErr = batch.Get(path, key)

		return innerErr
	})

	return element, fees, err
}

// GrovePutItem writes one item element.
func (p *Platform) GrovePutItem(path grove.Path, key, value []byte, dryRun bool) (fee.Result, error) {
	return p.withBatch(dryRun, func(batch *grove.Batch) error {
		return batch.PutItem(path, key, value)
	})
}

// GrovePutSubtree creates an empty subtree element (a no-op if it exists).
func (p *Platform) GrovePutSubtree(path grove.Path, key []byte, dryRun bool) (fee.Result, error) {
	return p.withBatch(dryRun, func(batch *grove.Batch) error {
		return batch.PutSubtree(path, key)
	})
}

// GroveDelete removes one element, reporting whether it existed.
func (p *Platform) GroveDelete(path grove.Path, key []byte, dryRun bool) (bool, fee.Result, error) {
	var found bool
	fees, err := p.withBatch(dryRun, func(batch *grove.Batch) error {
		var innerErr error
		found, innerErr = batch.Delete(path, key)

		return innerErr
	})

	return found, fees, err
}

// GroveProveRange produces a range proof over committed state, priced by scan
// plus proof size.
func (p *Platform) GroveProveRange(path grove.Path, rng grove.Range) ([]byte, fee.Result, error) {
	var proof []byte
	fees, err := p.withBatch(true, func(batch *grove.Batch) error {
		if _, innerErr := batch.IterateRange(path, rng, func([]byte, grove.Element) (bool, error) {
			return true, nil
		}); innerErr != nil {
			return innerErr
		}

		var innerErr error
		if proof, _, innerErr = p.tree.ProveRange(path, rng); innerErr != nil {
			return innerErr
		}
		batch.AddProofOps(len(proof))

		return nil
	})

	return proof, fees, err
}
