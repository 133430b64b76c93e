package database

import (
	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/kvstore"
)

// DBInstance wraps the backing store of one state tree together with its
// health tracker. The database is marked corrupted while open and healthy
// again on a clean close, so a crash leaves a visible mark.
type DBInstance struct {
	store         kvstore.KVStore
	healthTracker *kvstore.StoreHealthTracker
	dbConfig      Config
}

func NewDBInstance(dbConfig Config) (*DBInstance, error) {
	store, err := StoreWithDefaultSettings(dbConfig.Directory, true, dbConfig.Engine)
	if err != nil {
		return nil, ierrors.Wrapf(err, "failed to open database in %s", dbConfig.Directory)
	}

	healthTracker, err := kvstore.NewStoreHealthTracker(store, dbConfig.PrefixHealth, dbConfig.Version, nil)
	if err != nil {
		return nil, ierrors.Wrapf(err, "database in %s is corrupted, delete database and resync", dbConfig.Directory)
	}
	if err := healthTracker.MarkCorrupted(); err != nil {
		return nil, err
	}

	return &DBInstance{
		store:         store,
		healthTracker: healthTracker,
		dbConfig:      dbConfig,
	}, nil
}

func (d *DBInstance) KVStore() kvstore.KVStore {
	return d.store
}

func (d *DBInstance) Close() error {
	if err := d.healthTracker.MarkHealthy(); err != nil {
		return err
	}
	if err := d.store.Flush(); err != nil {
		return err
	}

	return d.store.Close()
}
