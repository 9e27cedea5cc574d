package nvd_test

import (
	"compress/gzip"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lanaudit/lanaudit/internal/model"
	"github.com/lanaudit/lanaudit/internal/nvd"

	"github.com/stretchr/testify/require"
)

const feedJSON = `{
	"CVE_Items": [
		{
			"cve": {
				"CVE_data_meta": {"ID": "CVE-2016-10009"},
				"description": {"description_data": [
					{"lang": "en", "value": "Untrusted search path vulnerability in ssh-agent in OpenSSH before 7.4"}
				]}
			},
			"impact": {"baseMetricV3": {"cvssV3": {"baseScore": 7.3}}}
		},
		{
			"cve": {
				"CVE_data_meta": {"ID": "CVE-2021-41773"},
				"description": {"description_data": [
					{"lang": "en", "value": "Path normalization flaw in Apache HTTP Server 2.4.49"}
				]}
			},
			"impact": {}
		},
		{
			"cve": {
				"CVE_data_meta": {"ID": ""},
				"description": {"description_data": []}
			}
		}
	]
}`

// feedServer serves body gzip compressed and counts hits.
func feedServer(t *testing.T, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		gz := gzip.NewWriter(w)
		_, err := fmt.Fprint(gz, body)
		require.NoError(t, err)
		require.NoError(t, gz.Close())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newStore(t *testing.T) *nvd.Store {
	t.Helper()
	store, err := nvd.OpenStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func TestEnsureFreshDownloadsWhenEmpty(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := feedServer(t, feedJSON, &hits)
	m := nvd.NewManager(srv.URL, newStore(t), srv.Client())

	idx, err := m.EnsureFresh(t.Context(), 24*time.Hour)
	require.NoError(t, err)
	// the malformed third item is skipped
	require.Equal(t, 2, idx.Len())
	require.EqualValues(t, 1, hits.Load())
}

func TestEnsureFreshSkipsNetworkWhenFresh(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := feedServer(t, feedJSON, &hits)
	m := nvd.NewManager(srv.URL, newStore(t), srv.Client())

	_, err := m.EnsureFresh(t.Context(), 24*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 1, hits.Load())

	// second call within the threshold must not touch the network
	idx, err := m.EnsureFresh(t.Context(), 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2, idx.Len())
	require.EqualValues(t, 1, hits.Load())
}

func TestEnsureFreshRedownloadsWhenStale(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := feedServer(t, feedJSON, &hits)
	m := nvd.NewManager(srv.URL, newStore(t), srv.Client())

	_, err := m.EnsureFresh(t.Context(), 24*time.Hour)
	require.NoError(t, err)

	// zero threshold makes the just built index immediately stale
	_, err = m.EnsureFresh(t.Context(), 0)
	require.NoError(t, err)
	require.EqualValues(t, 2, hits.Load())
}

func TestDownloadFailureKeepsLastGoodIndex(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := feedServer(t, feedJSON, &hits)
	store := newStore(t)
	m := nvd.NewManager(srv.URL, store, srv.Client())

	idx, err := m.EnsureFresh(t.Context(), 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2, idx.Len())

	srv.Close()

	got, err := m.Refresh(t.Context())
	require.ErrorIs(t, err, model.ErrDownloadFailed)
	require.Same(t, idx, got)
	require.Equal(t, 2, got.Len())
}

func TestCorruptFeedFallsBack(t *testing.T) {
	t.Parallel()

	t.Run("with last good cache", func(t *testing.T) {
		t.Parallel()
		var hits atomic.Int32
		good := feedServer(t, feedJSON, &hits)
		store := newStore(t)

		m := nvd.NewManager(good.URL, store, good.Client())
		idx, err := m.EnsureFresh(t.Context(), 24*time.Hour)
		require.NoError(t, err)

		corrupt := feedServer(t, `{"CVE_Items": [`, &hits)
		m2 := nvd.NewManager(corrupt.URL, store, corrupt.Client())
		got, err := m2.EnsureFresh(t.Context(), 0)
		require.ErrorIs(t, err, model.ErrCorruptFeed)
		require.Equal(t, idx.Len(), got.Len())
	})

	t.Run("without any cache", func(t *testing.T) {
		t.Parallel()
		var hits atomic.Int32
		corrupt := feedServer(t, "not a feed at all", &hits)
		m := nvd.NewManager(corrupt.URL, newStore(t), corrupt.Client())

		idx, err := m.EnsureFresh(t.Context(), time.Hour)
		require.ErrorIs(t, err, model.ErrNoLocalCache)
		// matching degrades to an empty index, the scan itself goes on
		require.NotNil(t, idx)
		require.Equal(t, 0, idx.Len())
	})
}

func TestManagerWarmsUpFromPersistedCache(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := feedServer(t, feedJSON, &hits)
	dir := t.TempDir()

	store, err := nvd.OpenStore(dir)
	require.NoError(t, err)
	_, err = nvd.NewManager(srv.URL, store, srv.Client()).EnsureFresh(t.Context(), time.Hour)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.EqualValues(t, 1, hits.Load())

	// a new manager over the same directory reuses the persisted entries
	reopened, err := nvd.OpenStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, reopened.Close())
	})
	idx, err := nvd.NewManager(srv.URL, reopened, srv.Client()).EnsureFresh(t.Context(), time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2, idx.Len())
	require.EqualValues(t, 1, hits.Load())
}
