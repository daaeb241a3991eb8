package store

import (
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "quasarr.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStoreRetrieveRoundTrip(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Store("config", "api_key", "abc123"))

	got, ok := db.Retrieve("config", "api_key")
	require.True(t, ok)
	require.Equal(t, "abc123", got)

	// Replace in place
	require.NoError(t, db.Store("config", "api_key", "def456"))
	got, ok = db.Retrieve("config", "api_key")
	require.True(t, ok)
	require.Equal(t, "def456", got)
}

func TestRetrieveMissReturnsEmpty(t *testing.T) {
	db := openTestDB(t)

	got, ok := db.Retrieve("protected", "missing")
	require.False(t, ok)
	require.Empty(t, got)
}

func TestDynamicTableCreation(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Store("xem_tt0903747", "1x3", "106"))
	got, ok := db.Retrieve("xem_tt0903747", "1x3")
	require.True(t, ok)
	require.Equal(t, "106", got)
}

func TestInvalidTableRejected(t *testing.T) {
	db := openTestDB(t)

	err := db.Store("bad table; DROP", "k", "v")
	require.ErrorIs(t, err, ErrInvalidTable)
}

func TestRetrieveAllPreservesInsertionOrder(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Store("protected", "Quasarr_movies_a", "1"))
	require.NoError(t, db.Store("protected", "Quasarr_movies_b", "2"))
	require.NoError(t, db.Store("protected", "Quasarr_movies_c", "3"))

	entries := db.RetrieveAll("protected")
	require.Len(t, entries, 3)
	require.Equal(t, "Quasarr_movies_a", entries[0].Key)
	require.Equal(t, "Quasarr_movies_c", entries[2].Key)
}

func TestDeleteIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Store("sessions", "nx", "{}"))
	require.NoError(t, db.Delete("sessions", "nx"))
	require.NoError(t, db.Delete("sessions", "nx"))

	_, ok := db.Retrieve("sessions", "nx")
	require.False(t, ok)
}

func TestMutateSerializesConcurrentWriters(t *testing.T) {
	db := openTestDB(t)

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				err := db.Mutate("statistics", "links_processed", func(current string, ok bool) string {
					n := 0
					if ok {
						n, _ = strconv.Atoi(current)
					}
					return strconv.Itoa(n + 1)
				})
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, ok := db.Retrieve("statistics", "links_processed")
	require.True(t, ok)
	require.Equal(t, strconv.Itoa(workers*perWorker), got)
}
