package platform

import (
	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/kvstore"
	"github.com/iotaledger/hive.go/log"
	"github.com/iotaledger/hive.go/runtime/options"
	"github.com/iotaledger/hive.go/runtime/syncutils"

	"github.com/iotaledger/drive.go/pkg/contract"
	"github.com/iotaledger/drive.go/pkg/document"
	"github.com/iotaledger/drive.go/pkg/fee"
	"github.com/iotaledger/drive.go/pkg/grove"
	"github.com/iotaledger/drive.go/pkg/identity"
	"github.com/iotaledger/drive.go/pkg/model"
	"github.com/iotaledger/drive.go/pkg/query"
	"github.com/iotaledger/drive.go/pkg/withdrawal"
)

var (
	// ErrNoTransaction is returned by operations that need an open transaction.
	ErrNoTransaction = ierrors.New("no open transaction")

	// ErrTransactionOpen is returned when beginning a transaction while one is
	// already open.
	ErrTransactionOpen = ierrors.New("transaction already open")

	// ErrAlreadyInitialized is returned when the initial state structure has
	// already been created.
	ErrAlreadyInitialized = ierrors.New("state structure already initialized")

	// ErrNotInitialized is returned by the block lifecycle before the initial
	// state structure exists.
	ErrNotInitialized = ierrors.New("state structure not initialized")

	// ErrNoBlock is returned by BlockEnd without a matching BlockBegin.
	ErrNoBlock = ierrors.New("no block in progress")

	// ErrBlockOpen is returned by BlockBegin while a block is in progress.
	ErrBlockOpen = ierrors.New("block already in progress")

	// ErrTimeRegression is returned when a block carries an earlier timestamp
	// than the epoch it extends.
	ErrTimeRegression = ierrors.New("block time precedes epoch start")
)

// Platform is the top-level engine: an authenticated document store with fee
// metering and an epoch-based fee distribution lifecycle, all rooted in a
// single state tree whose digest commits to everything.
//
// All state mutations happen inside a transaction (one at a time, mirroring
// the tree's single-writer batch) and become visible on CommitTransaction.
type Platform struct {
	tree        *grove.Tree
	contracts   *contract.Manager
	documents   *document.Store
	identities  *identity.Store
	withdrawals *withdrawal.Queue
	executor    *query.Executor
	calculator  *fee.Calculator

	epochDurationMs     uint64
	enforceUniques      bool
	withdrawalsPerBlock int

	mutex       syncutils.Mutex
	transaction *grove.Batch
	block       *blockState

	log.Logger
}

// blockState tracks the block between BlockBegin and BlockEnd.
type blockState struct {
	info        model.BlockInfo
	epoch       uint64
	epochChange bool
	genesis     bool
	prevEpoch   uint64
	fees        fee.Result
}

func New(store kvstore.KVStore, opts ...options.Option[Platform]) *Platform {
	return options.Apply(&Platform{
		epochDurationMs:     defaultEpochDurationMs,
		enforceUniques:      true,
		withdrawalsPerBlock: defaultWithdrawalsPerBlock,
		calculator:          fee.NewCalculator(fee.DefaultTable()),
		Logger:              log.NewLogger(),
	}, opts, func(p *Platform) {
		p.tree = grove.New(store)
		p.contracts = contract.NewManager(p.tree)
		p.documents = document.NewStore(p.contracts, p.enforceUniques)
		p.identities = identity.NewStore(p.tree)
		p.withdrawals = withdrawal.NewQueue(p.tree)
		p.executor = query.NewExecutor(p.tree, p.contracts)
	})
}

const (
	defaultEpochDurationMs     = 788_400_000 // about 9.125 days
	defaultWithdrawalsPerBlock = 4
)

// WithEpochDurationMs sets the wall-clock length of one epoch.
func WithEpochDurationMs(durationMs uint64) options.Option[Platform] {
	return func(p *Platform) {
		p.epochDurationMs = durationMs
	}
}

// WithFeeTable overrides the fee rate configuration.
func WithFeeTable(table fee.Table) options.Option[Platform] {
	return func(p *Platform) {
		p.calculator = fee.NewCalculator(table)
	}
}

// WithEnforceUniqueIndices toggles unique-index conflict checks on document
// writes.
func WithEnforceUniqueIndices(enforce bool) options.Option[Platform] {
	return func(p *Platform) {
		p.enforceUniques = enforce
	}
}

// WithWithdrawalsPerBlock bounds how many queued withdrawals each block
// dequeues.
func WithWithdrawalsPerBlock(count int) options.Option[Platform] {
	return func(p *Platform) {
		p.withdrawalsPerBlock = count
	}
}

// WithLogger sets the parent logger.
func WithLogger(logger log.Logger) options.Option[Platform] {
	return func(p *Platform) {
		p.Logger = logger
	}
}

// Tree exposes the underlying state tree for direct (passthrough) access.
func (p *Platform) Tree() *grove.Tree {
	return p.tree
}

// RootHash returns the digest over the whole committed state.
func (p *Platform) RootHash() (grove.Digest, error) {
	return p.tree.RootHash()
}

// BeginTransaction opens the platform's single write transaction.
func (p *Platform) BeginTransaction() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.transaction != nil {
		return ErrTransactionOpen
	}

	batch, err := p.tree.Batched()
	if err != nil {
		return err
	}
	p.transaction = batch

	return nil
}

// CommitTransaction atomically applies everything staged since
// BeginTransaction and returns the resulting root digest.
func (p *Platform) CommitTransaction() (grove.Digest, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.transaction == nil {
		return grove.EmptyDigest, ErrNoTransaction
	}
	if p.block != nil {
		return grove.EmptyDigest, ierrors.Wrap(ErrBlockOpen, "cannot commit mid-block")
	}

	err := p.transaction.Commit()
	p.transaction = nil
	if err != nil {
		return grove.EmptyDigest, err
	}

	return p.tree.RootHash()
}

// RollbackTransaction discards everything staged since BeginTransaction.
func (p *Platform) RollbackTransaction() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.transaction == nil {
		return ErrNoTransaction
	}

	p.transaction.Cancel()
	p.transaction = nil
	p.block = nil

	return nil
}

// CreateInitialStateStructure lays out the top-level subtrees of an empty
// state tree. It commits immediately and must run once before the first
// block.
func (p *Platform) CreateInitialStateStructure() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.transaction != nil {
		return ErrTransactionOpen
	}

	batch, err := p.tree.Batched()
	if err != nil {
		return err
	}

	if initialized, err := batch.Has(grove.RootPath, model.RootKeyContracts); err != nil {
		batch.Cancel()

		return err
	} else if initialized {
		batch.Cancel()

		return ErrAlreadyInitialized
	}

	for _, rootKey := range [][]byte{model.RootKeyContracts, model.RootKeyIdentities, model.RootKeyPools, model.RootKeyWithdrawals} {
		if err := batch.PutSubtree(grove.RootPath, rootKey); err != nil {
			batch.Cancel()

			return ierrors.Wrapf(err, "failed to create top-level subtree %x", rootKey)
		}
	}
	if err := batch.PutSubtree(poolsPath(), proposersKey); err != nil {
		batch.Cancel()

		return ierrors.Wrap(err, "failed to create proposer tally subtree")
	}
	if err := p.withdrawals.CreateStructure(batch); err != nil {
		batch.Cancel()

		return ierrors.Wrap(err, "failed to create withdrawal queue subtree")
	}

	if err := batch.Commit(); err != nil {
		return err
	}

	p.LogInfof("initial state structure created")

	return nil
}
