package parallel_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"testing/synctest"
	"time"

	"github.com/lanaudit/lanaudit/internal/parallel"

	"github.com/stretchr/testify/require"
)

func TestMap(t *testing.T) {
	t.Parallel()

	f := func(_ context.Context, d time.Duration) (int, error) {
		time.Sleep(d)
		return int(d), nil
	}

	input := []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second}
	expected := []int{
		int(1 * time.Second),
		int(2 * time.Second),
		int(5 * time.Second),
		int(10 * time.Second),
	}

	type given struct {
		limit int
		ctx   func(t *testing.T) context.Context
	}
	tCtx := func(t *testing.T) context.Context {
		t.Helper()
		return t.Context()
	}
	tmout1s := func(t *testing.T) context.Context {
		t.Helper()
		ctx, cancel := context.WithTimeout(t.Context(), 1*time.Second)
		t.Cleanup(cancel)
		return ctx
	}

	var testCases = []struct {
		scenario string
		given    given
		then     time.Duration
	}{
		{"limit 1", given{1, tCtx}, 18 * time.Second},
		{"limit 10", given{10, tCtx}, 10 * time.Second},
		{"limit 1, cancel 1s", given{1, tmout1s}, 1 * time.Second},
		{"limit 10, cancel 1s", given{10, tmout1s}, 1 * time.Second},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			synctest.Test(t, func(t *testing.T) {
				start := time.Now()
				ctx := tt.given.ctx(t)
				m := parallel.NewMap(ctx, tt.given.limit, f)

				var got []int
				for d, err := range m.Iter(slices.Values(input)) {
					if err != nil {
						continue
					}
					got = append(got, d)
				}
				synctest.Wait()

				elapsed := time.Since(start)
				require.Equal(t, tt.then, elapsed)
				if ctx.Err() == nil {
					slices.Sort(got)
					require.Equal(t, expected, got)
				}
			})
		})
	}
}

func TestCollectDropsFailures(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	f := func(_ context.Context, n int) (int, error) {
		if n%2 == 0 {
			return 0, errBoom
		}
		return n * 10, nil
	}

	got := parallel.Collect(t.Context(), 4, []int{1, 2, 3, 4, 5}, f)
	slices.Sort(got)
	require.Equal(t, []int{10, 30, 50}, got)
}
