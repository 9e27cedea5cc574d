package nvd_test

import (
	"testing"
	"time"

	"github.com/lanaudit/lanaudit/internal/match"
	"github.com/lanaudit/lanaudit/internal/model"
	"github.com/lanaudit/lanaudit/internal/nvd"

	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := nvd.OpenStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	_, _, err = store.Load()
	require.ErrorIs(t, err, model.ErrNoLocalCache)

	stamp := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	entries := []match.Entry{
		{ID: "CVE-2016-10009", Description: "OpenSSH before 7.4", Score: 7.3},
		{ID: "CVE-2021-41773", Description: "Apache HTTP Server 2.4.49", Score: 7.5},
	}
	require.NoError(t, store.Replace(entries, stamp))

	got, gotStamp, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, stamp, gotStamp.UTC())
	require.Equal(t, entries, got)
}

func TestStoreReplaceIsWholesale(t *testing.T) {
	t.Parallel()

	store, err := nvd.OpenStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	first := []match.Entry{{ID: "CVE-1", Description: "old entry"}}
	require.NoError(t, store.Replace(first, time.Now()))

	second := []match.Entry{{ID: "CVE-2", Description: "new entry"}}
	require.NoError(t, store.Replace(second, time.Now()))

	got, _, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, second, got)
}

func TestOpenStoreReopens(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := nvd.OpenStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Replace([]match.Entry{{ID: "CVE-1", Description: "persisted"}}, time.Now()))
	require.NoError(t, store.Close())

	// the cache must be re-readable across runs
	reopened, err := nvd.OpenStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, reopened.Close())
	})
	got, _, err := reopened.Load()
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "CVE-1", got[0].ID)
}
