package service

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/caixalink/pairing-server-go/internal/errors"
	"github.com/caixalink/pairing-server-go/internal/model"
)

const testAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func newTestRegistry(t *testing.T, ttl time.Duration) (*Registry, *Directory) {
	t.Helper()
	dir := NewDirectory()
	sched := NewExpiryScheduler()
	t.Cleanup(sched.Close)
	return NewRegistry(dir, NewCodeGenerator(testAlphabet, 6), sched, ttl), dir
}

func assertErrCode(t *testing.T, err error, code apperrors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, apperrors.GetCode(err))
}

func TestRegistryIssueCode(t *testing.T) {
	t.Run("issues a code and marks the mobile pending", func(t *testing.T) {
		reg, dir := newTestRegistry(t, time.Minute)
		mobile := dir.Create("hash-m")

		pc, err := reg.IssueCode(mobile.ID, "smartphone")
		require.NoError(t, err)

		assert.Len(t, pc.Code, 6)
		assert.Equal(t, mobile.ID, pc.MobileSessionID)
		assert.Equal(t, "smartphone", pc.DeviceType)
		assert.WithinDuration(t, time.Now().Add(time.Minute), pc.ExpiresAt, time.Second)
		assert.Equal(t, 1, reg.LiveCodes())

		got, _ := dir.Get(mobile.ID)
		assert.Equal(t, model.RoleUnpairedMobile, got.Role)
		assert.Equal(t, "smartphone", got.DeviceType)
	})

	t.Run("unknown session", func(t *testing.T) {
		reg, _ := newTestRegistry(t, time.Minute)

		_, err := reg.IssueCode("nope", "smartphone")
		assertErrCode(t, err, apperrors.ErrCodeNotFoundResource)
	})

	t.Run("paired session cannot issue", func(t *testing.T) {
		reg, dir := newTestRegistry(t, time.Minute)
		mobile := dir.Create("hash-m")
		desktop := dir.Create("hash-d")
		dir.SetPaired(mobile.ID, desktop.ID)

		_, err := reg.IssueCode(mobile.ID, "smartphone")
		assertErrCode(t, err, apperrors.ErrCodeAlreadyPaired)
	})

	t.Run("re-issuing invalidates the prior code", func(t *testing.T) {
		reg, dir := newTestRegistry(t, time.Minute)
		mobile := dir.Create("hash-m")
		desktop := dir.Create("hash-d")

		first, err := reg.IssueCode(mobile.ID, "smartphone")
		require.NoError(t, err)
		second, err := reg.IssueCode(mobile.ID, "smartphone")
		require.NoError(t, err)

		assert.Equal(t, 1, reg.LiveCodes())

		_, err = reg.Redeem(first.Code, desktop.ID)
		if first.Code != second.Code {
			assertErrCode(t, err, apperrors.ErrCodeNotFound)
		}

		_, err = reg.Redeem(second.Code, desktop.ID)
		assert.NoError(t, err)
	})
}

func TestRegistryRedeem(t *testing.T) {
	t.Run("pairs both sessions symmetrically", func(t *testing.T) {
		reg, dir := newTestRegistry(t, time.Minute)
		mobile := dir.Create("hash-m")
		desktop := dir.Create("hash-d")
		pc, err := reg.IssueCode(mobile.ID, "smartphone")
		require.NoError(t, err)

		result, err := reg.Redeem(pc.Code, desktop.ID)
		require.NoError(t, err)
		assert.Equal(t, mobile.ID, result.MobileSessionID)
		assert.Equal(t, "smartphone", result.DeviceType)

		m, _ := dir.Get(mobile.ID)
		d, _ := dir.Get(desktop.ID)
		assert.Equal(t, model.RolePairedMobile, m.Role)
		assert.Equal(t, desktop.ID, m.PairedWith)
		assert.Equal(t, model.RolePairedDesktop, d.Role)
		assert.Equal(t, mobile.ID, d.PairedWith)
		assert.Equal(t, 0, reg.LiveCodes())
	})

	t.Run("lookup is case-insensitive and trimmed", func(t *testing.T) {
		reg, dir := newTestRegistry(t, time.Minute)
		mobile := dir.Create("hash-m")
		desktop := dir.Create("hash-d")
		pc, err := reg.IssueCode(mobile.ID, "smartphone")
		require.NoError(t, err)

		_, err = reg.Redeem("  "+strings.ToLower(pc.Code)+" ", desktop.ID)
		assert.NoError(t, err)
	})

	t.Run("empty code", func(t *testing.T) {
		reg, dir := newTestRegistry(t, time.Minute)
		desktop := dir.Create("hash-d")

		_, err := reg.Redeem("   ", desktop.ID)
		assertErrCode(t, err, apperrors.ErrCodeMissingRequired)
	})

	t.Run("unknown code", func(t *testing.T) {
		reg, dir := newTestRegistry(t, time.Minute)
		desktop := dir.Create("hash-d")

		_, err := reg.Redeem("ZZZZZZ", desktop.ID)
		assertErrCode(t, err, apperrors.ErrCodeNotFound)
	})

	t.Run("consumed code reports already used", func(t *testing.T) {
		reg, dir := newTestRegistry(t, time.Minute)
		mobile := dir.Create("hash-m")
		winner := dir.Create("hash-w")
		loser := dir.Create("hash-l")
		pc, err := reg.IssueCode(mobile.ID, "smartphone")
		require.NoError(t, err)

		_, err = reg.Redeem(pc.Code, winner.ID)
		require.NoError(t, err)

		_, err = reg.Redeem(pc.Code, loser.ID)
		assertErrCode(t, err, apperrors.ErrCodeAlreadyUsed)
	})

	t.Run("paired desktop cannot redeem", func(t *testing.T) {
		reg, dir := newTestRegistry(t, time.Minute)
		mobileA := dir.Create("hash-ma")
		mobileB := dir.Create("hash-mb")
		desktop := dir.Create("hash-d")

		pcA, err := reg.IssueCode(mobileA.ID, "smartphone")
		require.NoError(t, err)
		_, err = reg.Redeem(pcA.Code, desktop.ID)
		require.NoError(t, err)

		pcB, err := reg.IssueCode(mobileB.ID, "smartphone")
		require.NoError(t, err)
		_, err = reg.Redeem(pcB.Code, desktop.ID)
		assertErrCode(t, err, apperrors.ErrCodeAlreadyPaired)
	})

	t.Run("session cannot pair with itself", func(t *testing.T) {
		reg, dir := newTestRegistry(t, time.Minute)
		mobile := dir.Create("hash-m")
		pc, err := reg.IssueCode(mobile.ID, "smartphone")
		require.NoError(t, err)

		_, err = reg.Redeem(pc.Code, mobile.ID)
		assertErrCode(t, err, apperrors.ErrCodeInvalidInput)
	})

	t.Run("code past its deadline is dead before the timer fires", func(t *testing.T) {
		reg, dir := newTestRegistry(t, time.Hour)
		mobile := dir.Create("hash-m")
		desktop := dir.Create("hash-d")
		pc, err := reg.IssueCode(mobile.ID, "smartphone")
		require.NoError(t, err)

		expired := make(chan string, 1)
		reg.OnCodeExpired(func(code, sessionID string) {
			expired <- sessionID
		})

		reg.mu.Lock()
		reg.codes[pc.Code].ExpiresAt = time.Now().Add(-time.Second)
		reg.mu.Unlock()

		_, err = reg.Redeem(pc.Code, desktop.ID)
		assertErrCode(t, err, apperrors.ErrCodeExpired)
		assert.Equal(t, 0, reg.LiveCodes())

		select {
		case sessionID := <-expired:
			assert.Equal(t, mobile.ID, sessionID)
		case <-time.After(time.Second):
			t.Fatal("expiry notification not delivered")
		}
	})
}

func TestRegistryExpiry(t *testing.T) {
	t.Run("armed timer invalidates the code and notifies", func(t *testing.T) {
		reg, dir := newTestRegistry(t, 15*time.Millisecond)
		mobile := dir.Create("hash-m")
		desktop := dir.Create("hash-d")

		expired := make(chan string, 1)
		reg.OnCodeExpired(func(code, sessionID string) {
			expired <- code
		})

		pc, err := reg.IssueCode(mobile.ID, "smartphone")
		require.NoError(t, err)

		select {
		case code := <-expired:
			assert.Equal(t, pc.Code, code)
		case <-time.After(time.Second):
			t.Fatal("expiry callback did not fire")
		}

		assert.Equal(t, 0, reg.LiveCodes())
		_, err = reg.Redeem(pc.Code, desktop.ID)
		assertErrCode(t, err, apperrors.ErrCodeNotFound)
	})

	t.Run("redeemed code never expires", func(t *testing.T) {
		reg, dir := newTestRegistry(t, 15*time.Millisecond)
		mobile := dir.Create("hash-m")
		desktop := dir.Create("hash-d")

		expired := make(chan string, 1)
		reg.OnCodeExpired(func(code, sessionID string) {
			expired <- code
		})

		pc, err := reg.IssueCode(mobile.ID, "smartphone")
		require.NoError(t, err)
		_, err = reg.Redeem(pc.Code, desktop.ID)
		require.NoError(t, err)

		select {
		case <-expired:
			t.Fatal("expiry fired for a redeemed code")
		case <-time.After(60 * time.Millisecond):
		}

		d, _ := dir.Get(desktop.ID)
		assert.Equal(t, model.RolePairedDesktop, d.Role)
	})
}

func TestRegistryConcurrentRedeem(t *testing.T) {
	t.Run("exactly one of 100 concurrent redeemers wins", func(t *testing.T) {
		reg, dir := newTestRegistry(t, time.Minute)
		mobile := dir.Create("hash-m")
		pc, err := reg.IssueCode(mobile.ID, "smartphone")
		require.NoError(t, err)

		const redeemers = 100
		desktops := make([]string, redeemers)
		for i := range desktops {
			desktops[i] = dir.Create("hash-d-" + string(rune('a'+i%26)) + string(rune('0'+i/26))).ID
		}

		var wg sync.WaitGroup
		results := make(chan error, redeemers)
		for i := 0; i < redeemers; i++ {
			wg.Add(1)
			go func(desktopID string) {
				defer wg.Done()
				_, err := reg.Redeem(pc.Code, desktopID)
				results <- err
			}(desktops[i])
		}
		wg.Wait()
		close(results)

		winners, losers := 0, 0
		for err := range results {
			if err == nil {
				winners++
			} else {
				losers++
				assert.Equal(t, apperrors.ErrCodeAlreadyUsed, apperrors.GetCode(err))
			}
		}
		assert.Equal(t, 1, winners)
		assert.Equal(t, redeemers-1, losers)
		assert.Equal(t, 1, dir.CountPaired())
	})
}

func TestRegistryTeardown(t *testing.T) {
	t.Run("Unpair clears both sides and returns the counterpart", func(t *testing.T) {
		reg, dir := newTestRegistry(t, time.Minute)
		mobile := dir.Create("hash-m")
		desktop := dir.Create("hash-d")
		pc, err := reg.IssueCode(mobile.ID, "smartphone")
		require.NoError(t, err)
		_, err = reg.Redeem(pc.Code, desktop.ID)
		require.NoError(t, err)

		counterpart := reg.Unpair(desktop.ID)
		assert.Equal(t, mobile.ID, counterpart)

		m, _ := dir.Get(mobile.ID)
		d, _ := dir.Get(desktop.ID)
		assert.Equal(t, model.RoleUnpairedMobile, m.Role)
		assert.Equal(t, model.RoleUnidentified, d.Role)

		assert.Empty(t, reg.Unpair(desktop.ID), "unpairing twice is a no-op")
	})

	t.Run("DropSession releases the outstanding code", func(t *testing.T) {
		reg, dir := newTestRegistry(t, time.Minute)
		mobile := dir.Create("hash-m")
		desktop := dir.Create("hash-d")
		pc, err := reg.IssueCode(mobile.ID, "smartphone")
		require.NoError(t, err)

		result := reg.DropSession(mobile.ID)
		assert.Equal(t, pc.Code, result.Code)
		assert.Empty(t, result.CounterpartID)

		_, ok := dir.Get(mobile.ID)
		assert.False(t, ok)
		assert.Equal(t, 0, reg.LiveCodes())

		_, err = reg.Redeem(pc.Code, desktop.ID)
		assertErrCode(t, err, apperrors.ErrCodeNotFound)
	})

	t.Run("DropSession of a paired session reports the counterpart", func(t *testing.T) {
		reg, dir := newTestRegistry(t, time.Minute)
		mobile := dir.Create("hash-m")
		desktop := dir.Create("hash-d")
		pc, err := reg.IssueCode(mobile.ID, "smartphone")
		require.NoError(t, err)
		_, err = reg.Redeem(pc.Code, desktop.ID)
		require.NoError(t, err)

		result := reg.DropSession(desktop.ID)
		assert.Equal(t, mobile.ID, result.CounterpartID)

		m, _ := dir.Get(mobile.ID)
		assert.Equal(t, model.RoleUnpairedMobile, m.Role)
		assert.Empty(t, m.PairedWith)
	})
}

func TestRegistryPruning(t *testing.T) {
	t.Run("PruneConsumed drops old tombstones", func(t *testing.T) {
		reg, dir := newTestRegistry(t, time.Minute)
		mobile := dir.Create("hash-m")
		winner := dir.Create("hash-w")
		loser := dir.Create("hash-l")
		pc, err := reg.IssueCode(mobile.ID, "smartphone")
		require.NoError(t, err)
		_, err = reg.Redeem(pc.Code, winner.ID)
		require.NoError(t, err)

		assert.Zero(t, reg.PruneConsumed(time.Now().Add(-time.Minute)))
		pruned := reg.PruneConsumed(time.Now().Add(time.Minute))
		assert.Equal(t, int64(1), pruned)

		_, err = reg.Redeem(pc.Code, loser.ID)
		assertErrCode(t, err, apperrors.ErrCodeNotFound)
	})

	t.Run("PruneStaleSessions keeps code holders", func(t *testing.T) {
		reg, dir := newTestRegistry(t, time.Minute)
		mobile := dir.Create("hash-m")
		idle := dir.Create("hash-i")
		_, err := reg.IssueCode(mobile.ID, "smartphone")
		require.NoError(t, err)

		pruned := reg.PruneStaleSessions(time.Now().Add(time.Minute))
		assert.Equal(t, int64(1), pruned)

		_, ok := dir.Get(idle.ID)
		assert.False(t, ok)
		_, ok = dir.Get(mobile.ID)
		assert.True(t, ok)
	})
}
