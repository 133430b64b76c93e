package platform

import (
	"github.com/iotaledger/drive.go/pkg/contract"
	"github.com/iotaledger/drive.go/pkg/document"
	"github.com/iotaledger/drive.go/pkg/fee"
	"github.com/iotaledger/drive.go/pkg/grove"
	"github.com/iotaledger/drive.go/pkg/identity"
	"github.com/iotaledger/drive.go/pkg/query"
)

// withBatch runs one logical operation against a batch and prices it from the
// operation log it accrued. With dryRun the operation runs on a throwaway
// view of committed state: it returns the same fees a real run would charge
// but stages nothing.
//
// Outside a transaction, a mutating operation gets its own batch and commits
// immediately. Inside one it stages onto the transaction, and inside a block
// its fees additionally accrue to the block total.
func (p *Platform) withBatch(dryRun bool, apply func(batch *grove.Batch) error) (fee.Result, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var batch *grove.Batch
	standalone := false
	switch {
	case dryRun:
		batch = p.tree.DryRun()
		defer batch.Cancel()
	case p.transaction != nil:
		batch = p.transaction
	default:
		b, err := p.tree.Batched()
		if err != nil {
			return fee.Result{}, err
		}
		batch = b
		standalone = true
	}

	checkpoint := batch.OpCount()
	if err := apply(batch); err != nil {
		if standalone {
			batch.Cancel()
		}

		return fee.Result{}, err
	}

	fees, err := p.calculator.Calculate(batch.OpsSince(checkpoint))
	if err != nil {
		if standalone {
			batch.Cancel()
		}

		return fee.Result{}, err
	}

	if !dryRun && p.block != nil {
		if p.block.fees, err = p.block.fees.Add(fees); err != nil {
			return fee.Result{}, err
		}
	}

	if standalone {
		if err := batch.Commit(); err != nil {
			return fee.Result{}, err
		}
	}

	return fees, nil
}

// ApplyContract registers or evolves a data contract.
func (p *Platform) ApplyContract(c *contract.Contract, dryRun bool) (fee.Result, error) {
	return p.withBatch(dryRun, func(batch *grove.Batch) error {
		return p.contracts.Apply(batch, c)
	})
}

// GetContract resolves a contract from committed state.
func (p *Platform) GetContract(contractID []byte) (*contract.Contract, error) {
	return p.contracts.Get(nil, contractID)
}

// CreateDocument inserts a new document and maintains its indices.
func (p *Platform) CreateDocument(d *document.Document, dryRun bool) (fee.Result, error) {
	return p.withBatch(dryRun, func(batch *grove.Batch) error {
		return p.documents.Create(batch, d)
	})
}

// UpdateDocument replaces an existing document.
func (p *Platform) UpdateDocument(d *document.Document, dryRun bool) (fee.Result, error) {
	return p.withBatch(dryRun, func(batch *grove.Batch) error {
		return p.documents.Update(batch, d)
	})
}

// DeleteDocument removes a document and its index entries.
func (p *Platform) DeleteDocument(contractID []byte, documentType string, documentID []byte, dryRun bool) (fee.Result, error) {
	return p.withBatch(dryRun, func(batch *grove.Batch) error {
		return p.documents.Delete(batch, contractID, documentType, documentID)
	})
}

// GetDocument fetches one document by ID, priced like any other operation.
func (p *Platform) GetDocument(contractID []byte, documentType string, documentID []byte) (*document.Document, fee.Result, error) {
	var d *document.Document
	fees, err := p.withBatch(true, func(batch *grove.Batch) error {
		var innerErr error
		d, innerErr = p.documents.Get(batch, contractID, documentType, documentID)

		return innerErr
	})

	return d, fees, err
}

// QueryDocuments executes a query against committed state and prices the
// whole scan.
func (p *Platform) QueryDocuments(q *query.Query) ([]*document.Document, fee.Result, error) {
	var results []*document.Document
	fees, err := p.withBatch(true, func(batch *grove.Batch) error {
		var innerErr error
		results, innerErr = p.executor.ExecuteIn(batch, q)

		return innerErr
	})

	return results, fees, err
}

// ProveQueryDocuments executes a query and returns a proof of its result that
// verifies against the current root digest. The fee covers the scan and the
// proof bytes.
func (p *Platform) ProveQueryDocuments(q *query.Query) ([]byte, fee.Result, error) {
	var proof []byte
	fees, err := p.withBatch(true, func(batch *grove.Batch) error {
		if _, err := p.executor.ExecuteIn(batch, q); err != nil {
			return err
		}

		var innerErr error
		if proof, innerErr = p.executor.Prove(q); innerErr != nil {
			return innerErr
		}
		batch.AddProofOps(len(proof))

		return nil
	})

	return proof, fees, err
}

// InsertIdentity registers a new identity.
func (p *Platform) InsertIdentity(i *identity.Identity, dryRun bool) (fee.Result, error) {
	return p.withBatch(dryRun, func(batch *grove.Batch) error {
		return p.identities.Insert(batch, i)
	})
}

// GetIdentity fetches one identity by ID.
func (p *Platform) GetIdentity(identityID []byte) (*identity.Identity, fee.Result, error) {
	var i *identity.Identity
	fees, err := p.withBatch(true, func(batch *grove.Batch) error {
		var innerErr error
		i, innerErr = p.identities.Get(batch, identityID)

		return innerErr
	})

	return i, fees, err
}

// AddToIdentityBalance credits an identity's balance.
func (p *Platform) AddToIdentityBalance(identityID []byte, amount uint64, dryRun bool) (fee.Result, error) {
	return p.withBatch(dryRun, func(batch *grove.Batch) error {
		return p.identities.AddToBalance(batch, identityID, amount)
	})
}

// EnqueueWithdrawal appends a withdrawal payload to the processing queue and
// returns its queue index.
func (p *Platform) EnqueueWithdrawal(payload []byte, dryRun bool) (uint64, fee.Result, error) {
	var index uint64
	fees, err := p.withBatch(dryRun, func(batch *grove.Batch) error {
		var innerErr error
		index, innerErr = p.withdrawals.Enqueue(batch, payload)

		return innerErr
	})

	return index, fees, err
}
