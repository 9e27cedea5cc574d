package nvd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lanaudit/lanaudit/internal/match"
	"github.com/lanaudit/lanaudit/internal/model"
)

// Manager keeps the in-memory vulnerability index in sync with the local
// cache and the remote feed. The index reference is swapped atomically, a
// refresh never mutates an index matchers may be reading.
type Manager struct {
	feedURL string
	store   *Store
	client  *http.Client

	mu  sync.Mutex // serializes refreshes
	idx atomic.Pointer[match.Index]
}

// NewManager wires the manager. A nil client gets a 60 second timeout
// default, the feed download must never hang a scan indefinitely.
func NewManager(feedURL string, store *Store, client *http.Client) *Manager {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Manager{
		feedURL: feedURL,
		store:   store,
		client:  client,
	}
}

// Index returns the current index, never nil. Before the first EnsureFresh
// it is empty, which degrades matching to no candidates instead of failing
// the scan.
func (m *Manager) Index() *match.Index {
	if idx := m.idx.Load(); idx != nil {
		return idx
	}
	return match.NewIndex(time.Time{}, nil)
}

// EnsureFresh returns a usable index, refreshing from the feed when the
// cached one is older than maxAge or absent. The returned index is always
// safe to match against; a non-nil error reports why it may be stale or
// empty (download failure, corrupt feed, no local cache). Only cache
// persistence failures after a successful download are returned with an
// empty result.
func (m *Manager) EnsureFresh(ctx context.Context, maxAge time.Duration) (*match.Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// warm up from the persisted cache once
	if m.idx.Load() == nil {
		entries, stamp, err := m.store.Load()
		if err == nil {
			m.idx.Store(match.NewIndex(stamp, entries))
		} else if !errors.Is(err, model.ErrNoLocalCache) {
			return m.Index(), fmt.Errorf("loading cache: %w", err)
		}
	}

	if idx := m.idx.Load(); idx != nil && time.Since(idx.Stamp()) <= maxAge {
		slog.DebugContext(ctx, "vulnerability cache is fresh",
			"stamp", idx.Stamp(), "entries", idx.Len())
		return idx, nil
	}

	return m.refresh(ctx)
}

// Refresh downloads the feed unconditionally and rebuilds cache and index.
func (m *Manager) Refresh(ctx context.Context) (*match.Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refresh(ctx)
}

// refresh must be called with mu held. On download or parse failure the
// last good index stays reachable and is returned along the error.
func (m *Manager) refresh(ctx context.Context) (*match.Index, error) {
	slog.InfoContext(ctx, "refreshing vulnerability feed", "url", m.feedURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.feedURL, nil)
	if err != nil {
		return m.Index(), fmt.Errorf("%w: %w", model.ErrDownloadFailed, err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return m.fallback(fmt.Errorf("%w: %w", model.ErrDownloadFailed, err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return m.fallback(fmt.Errorf("%w: unexpected status %s", model.ErrDownloadFailed, resp.Status))
	}

	entries, err := DecodeFeed(resp.Body)
	if err != nil {
		return m.fallback(err)
	}

	stamp := time.Now()
	if err := m.store.Replace(entries, stamp); err != nil {
		return m.Index(), fmt.Errorf("persisting cache: %w", err)
	}

	idx := match.NewIndex(stamp, entries)
	m.idx.Store(idx)
	slog.InfoContext(ctx, "vulnerability feed refreshed", "entries", idx.Len())
	return idx, nil
}

// fallback reports the refresh failure and keeps serving the last good
// index. Without any local cache matching degrades to an empty index,
// scanning still produces host and port results.
func (m *Manager) fallback(cause error) (*match.Index, error) {
	if idx := m.idx.Load(); idx != nil {
		return idx, fmt.Errorf("using cached feed from %s: %w", idx.Stamp().Format(time.RFC3339), cause)
	}
	return m.Index(), fmt.Errorf("%w: %w", model.ErrNoLocalCache, cause)
}
