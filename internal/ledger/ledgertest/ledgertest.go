// Package ledgertest holds the behaviour every ledger.Ledger implementation
// must share.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/notifyd/internal/ledger"
)

// Factory returns a fresh, empty ledger and a function that moves the
// ledger's clock forward.
type Factory func(t *testing.T) (l ledger.Ledger, advance func(time.Duration))

const lease = time.Minute

// Run exercises the ledger contract against implementations built by newLedger.
func Run(t *testing.T, newLedger Factory) {
	t.Run("GetUnknown", func(t *testing.T) {
		l, _ := newLedger(t)
		ev, err := l.Get(context.Background(), "missing")
		require.NoError(t, err)
		assert.Nil(t, ev)
	})

	t.Run("ClaimOnce", func(t *testing.T) {
		ctx := context.Background()
		l, _ := newLedger(t)

		c, first, err := l.Claim(ctx, "E1", lease)
		require.NoError(t, err)
		require.True(t, first)
		assert.Equal(t, "E1", c.EventID)
		assert.NotEmpty(t, c.ID)

		_, again, err := l.Claim(ctx, "E1", lease)
		require.NoError(t, err)
		assert.False(t, again)

		ev, err := l.Get(ctx, "E1")
		require.NoError(t, err)
		require.NotNil(t, ev)
		assert.Equal(t, ledger.StatusPending, ev.Status)
		assert.Equal(t, c.ID, ev.ClaimID)
	})

	t.Run("CompleteIsFinal", func(t *testing.T) {
		ctx := context.Background()
		l, advance := newLedger(t)

		c, first, err := l.Claim(ctx, "E2", lease)
		require.NoError(t, err)
		require.True(t, first)
		require.NoError(t, l.Complete(ctx, c))

		ev, err := l.Get(ctx, "E2")
		require.NoError(t, err)
		require.NotNil(t, ev)
		assert.Equal(t, ledger.StatusDone, ev.Status)
		assert.NotNil(t, ev.CompletedAt)

		advance(2 * lease)
		_, again, err := l.Claim(ctx, "E2", lease)
		require.NoError(t, err)
		assert.False(t, again, "done events are never re-claimed")

		assert.ErrorIs(t, l.Release(ctx, c), ledger.ErrClaimLost)
	})

	t.Run("ReleaseAllowsRetry", func(t *testing.T) {
		ctx := context.Background()
		l, _ := newLedger(t)

		c, _, err := l.Claim(ctx, "E3", lease)
		require.NoError(t, err)
		require.NoError(t, l.Release(ctx, c))

		ev, err := l.Get(ctx, "E3")
		require.NoError(t, err)
		assert.Nil(t, ev)

		_, first, err := l.Claim(ctx, "E3", lease)
		require.NoError(t, err)
		assert.True(t, first)
	})

	t.Run("ExpiredClaimIsReclaimed", func(t *testing.T) {
		ctx := context.Background()
		l, advance := newLedger(t)

		stale, _, err := l.Claim(ctx, "E4", lease)
		require.NoError(t, err)

		advance(lease + time.Second)

		fresh, first, err := l.Claim(ctx, "E4", lease)
		require.NoError(t, err)
		require.True(t, first)
		assert.NotEqual(t, stale.ID, fresh.ID)

		assert.ErrorIs(t, l.Complete(ctx, stale), ledger.ErrClaimLost)
		require.NoError(t, l.Complete(ctx, fresh))
	})

	t.Run("CreateRejectsDuplicate", func(t *testing.T) {
		ctx := context.Background()
		l, _ := newLedger(t)

		require.NoError(t, l.Create(ctx, "E5"))
		err := l.Create(ctx, "E5")
		assert.ErrorIs(t, err, ledger.ErrDuplicate)
		assert.ErrorIs(t, err, ledger.ErrPersistence)

		_, first, err := l.Claim(ctx, "E5", lease)
		require.NoError(t, err)
		assert.False(t, first)
	})

	t.Run("ConcurrentClaims", func(t *testing.T) {
		ctx := context.Background()
		l, _ := newLedger(t)

		const workers = 16
		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			firsts int
			errs   []error
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, first, err := l.Claim(ctx, "race", lease)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					return
				}
				if first {
					firsts++
				}
			}()
		}
		wg.Wait()

		require.Empty(t, errs, fmt.Sprint(errors.Join(errs...)))
		assert.Equal(t, 1, firsts)
	})
}
