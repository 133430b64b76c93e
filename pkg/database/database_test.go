package database

import (
	"testing"

	hivedb "github.com/iotaledger/hive.go/db"
	"github.com/stretchr/testify/require"
)

func TestDBInstance_Lifecycle(t *testing.T) {
	db, err := NewDBInstance(Config{
		Engine:       hivedb.EngineMapDB,
		Directory:    t.TempDir(),
		Version:      1,
		PrefixHealth: []byte{0},
	})
	require.NoError(t, err)

	store := db.KVStore()
	require.NoError(t, store.Set([]byte("key"), []byte("value")))

	value, err := store.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), value)

	require.NoError(t, db.Close())
}

func TestStoreWithDefaultSettings_UnknownEngine(t *testing.T) {
	_, err := StoreWithDefaultSettings(t.TempDir(), true, hivedb.Engine("bogus"))
	require.Error(t, err)
}
