package database

import (
	"runtime"

	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/kvstore"
	hivedb "github.com/iotaledger/hive.go/db"
	"github.com/iotaledger/hive.go/kvstore/mapdb"
	"github.com/iotaledger/hive.go/kvstore/rocksdb"
)

// StoreWithDefaultSettings returns a kvstore with default settings for the
// given engine.
func StoreWithDefaultSettings(directory string, createDatabaseIfNotExists bool, dbEngine hivedb.Engine) (kvstore.KVStore, error) {
	switch dbEngine {
	case hivedb.EngineMapDB:
		return mapdb.NewMapDB(), nil

	case hivedb.EngineRocksDB:
		db, err := NewRocksDB(directory)
		if err != nil {
			return nil, err
		}

		return rocksdb.New(db), nil

	default:
		return nil, ierrors.Errorf("unknown database engine: %s", dbEngine)
	}
}

// NewRocksDB creates a new RocksDB instance.
func NewRocksDB(path string) (*rocksdb.RocksDB, error) {
	opts := []rocksdb.Option{
		rocksdb.IncreaseParallelism(runtime.NumCPU() - 1),
		rocksdb.Custom([]string{
			"periodic_compaction_seconds=43200",
			"level_compaction_dynamic_level_bytes=true",
			"keep_log_file_num=2",
		}),
	}

	return rocksdb.CreateDB(path, opts...)
}
