package service

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/caixalink/pairing-server-go/internal/errors"
	"github.com/caixalink/pairing-server-go/internal/model"
	"github.com/caixalink/pairing-server-go/internal/util"
)

const maxCodeGenAttempts = 10

// RedeemResult is what a successful redemption hands back to the router so
// it can notify both sides.
type RedeemResult struct {
	MobileSessionID string
	DeviceType      string
}

// DropResult describes what a session teardown released.
type DropResult struct {
	CounterpartID string
	Code          string
}

// Registry is the single source of truth for outstanding codes and
// established pairs. Every mutating operation runs under one mutex, which
// is what makes redemption an atomic consume-and-pair step: concurrent
// redeemers of the same code observe exactly one winner.
type Registry struct {
	dir   *Directory
	gen   *CodeGenerator
	sched *ExpiryScheduler
	ttl   time.Duration

	mu            sync.Mutex
	codes         map[string]*model.PairingCode
	codeBySession map[string]string
	consumed      map[string]time.Time
	seq           uint64
	onExpired     func(code, mobileSessionID string)
}

func NewRegistry(dir *Directory, gen *CodeGenerator, sched *ExpiryScheduler, ttl time.Duration) *Registry {
	return &Registry{
		dir:           dir,
		gen:           gen,
		sched:         sched,
		ttl:           ttl,
		codes:         make(map[string]*model.PairingCode),
		codeBySession: make(map[string]string),
		consumed:      make(map[string]time.Time),
	}
}

// OnCodeExpired registers the callback invoked when an armed timer expires
// a code. Set once during wiring, before any code is issued.
func (r *Registry) OnCodeExpired(fn func(code, mobileSessionID string)) {
	r.onExpired = fn
}

// IssueCode generates a fresh code for the mobile session, invalidating
// any prior unredeemed code it holds, and arms the expiry timer.
func (r *Registry) IssueCode(mobileSessionID, deviceType string) (*model.PairingCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.dir.Get(mobileSessionID)
	if !ok {
		return nil, apperrors.NotFound("Session")
	}
	if sess.Role.Paired() {
		return nil, apperrors.AlreadyPaired()
	}

	// A new request atomically invalidates the prior unredeemed code.
	if prev, ok := r.codeBySession[mobileSessionID]; ok {
		r.invalidateLocked(prev)
	}

	var code string
	found := false
	for attempts := 0; attempts < maxCodeGenAttempts; attempts++ {
		code = r.gen.Generate()
		if _, exists := r.codes[code]; !exists {
			found = true
			break
		}
	}
	if !found {
		return nil, apperrors.Internal("Unable to generate a unique pairing code")
	}

	r.seq++
	now := time.Now()
	pc := &model.PairingCode{
		Code:            code,
		MobileSessionID: mobileSessionID,
		DeviceType:      deviceType,
		IssuedAt:        now,
		ExpiresAt:       now.Add(r.ttl),
		Token:           r.seq,
	}
	r.codes[code] = pc
	r.codeBySession[mobileSessionID] = code
	delete(r.consumed, code)

	r.dir.SetMobilePending(mobileSessionID, deviceType)
	r.sched.Schedule(code, pc.Token, r.ttl, func() {
		r.expire(code, pc.Token)
	})

	log.Info().
		Str("sessionId", mobileSessionID).
		Str("code", util.MaskCode(code)).
		Str("deviceType", deviceType).
		Time("expiresAt", pc.ExpiresAt).
		Msg("pairing code issued")

	out := *pc
	return &out, nil
}

// Redeem consumes a code and links the desktop session to the owning
// mobile session. Lookup is case-insensitive; a code past its deadline is
// rejected even if the expiry timer has not fired yet.
func (r *Registry) Redeem(rawCode, desktopSessionID string) (*RedeemResult, error) {
	code := strings.ToUpper(strings.TrimSpace(rawCode))
	if code == "" {
		return nil, apperrors.MissingRequired("code")
	}

	var notifyExpired *model.PairingCode
	defer func() {
		if notifyExpired != nil && r.onExpired != nil {
			r.onExpired(notifyExpired.Code, notifyExpired.MobileSessionID)
		}
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	desktop, ok := r.dir.Get(desktopSessionID)
	if !ok {
		return nil, apperrors.NotFound("Session")
	}
	if desktop.Role.Paired() {
		return nil, apperrors.AlreadyPaired()
	}

	pc, ok := r.codes[code]
	if !ok {
		if _, used := r.consumed[code]; used {
			return nil, apperrors.CodeAlreadyUsed()
		}
		return nil, apperrors.CodeNotFound()
	}

	if time.Now().After(pc.ExpiresAt) {
		r.invalidateLocked(code)
		notifyExpired = pc
		return nil, apperrors.CodeExpired()
	}

	if pc.MobileSessionID == desktopSessionID {
		return nil, apperrors.InvalidInput("code", "a session cannot pair with itself")
	}

	mobile, ok := r.dir.Get(pc.MobileSessionID)
	if !ok {
		// The disconnect path purges codes, so this is a defensive branch.
		r.invalidateLocked(code)
		return nil, apperrors.CodeNotFound()
	}
	if mobile.Role.Paired() {
		return nil, apperrors.CodeAlreadyUsed()
	}

	r.invalidateLocked(code)
	r.consumed[code] = time.Now()
	r.dir.SetPaired(pc.MobileSessionID, desktopSessionID)

	log.Info().
		Str("code", util.MaskCode(code)).
		Str("mobileSessionId", pc.MobileSessionID).
		Str("desktopSessionId", desktopSessionID).
		Msg("pairing code redeemed")

	return &RedeemResult{
		MobileSessionID: pc.MobileSessionID,
		DeviceType:      pc.DeviceType,
	}, nil
}

// Unpair clears both sides of the session's pair, if any. Idempotent:
// unpairing an unpaired session is a no-op. Returns the counterpart id so
// the router can notify it.
func (r *Registry) Unpair(sessionID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unpairLocked(sessionID)
}

// DropSession tears a disconnecting session down: its outstanding code is
// invalidated, its pair (if any) is cleared, and the directory entry is
// removed.
func (r *Registry) DropSession(sessionID string) DropResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result DropResult
	if code, ok := r.codeBySession[sessionID]; ok {
		r.invalidateLocked(code)
		result.Code = code
	}
	result.CounterpartID = r.unpairLocked(sessionID)
	r.dir.Remove(sessionID)

	log.Info().
		Str("sessionId", sessionID).
		Str("counterpartId", result.CounterpartID).
		Msg("session dropped")

	return result
}

// PruneConsumed removes tombstones of codes consumed before the cutoff.
func (r *Registry) PruneConsumed(before time.Time) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pruned int64
	for code, usedAt := range r.consumed {
		if usedAt.Before(before) {
			delete(r.consumed, code)
			pruned++
		}
	}
	return pruned
}

// LiveCodes returns the number of outstanding unredeemed codes.
func (r *Registry) LiveCodes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.codes)
}

// expire is the timer callback. The token guard makes a stale timer
// harmless: a redeemed code or a re-issued identical string carries a
// different token.
func (r *Registry) expire(code string, token uint64) {
	r.mu.Lock()
	pc, ok := r.codes[code]
	if !ok || pc.Token != token {
		r.mu.Unlock()
		return
	}
	r.invalidateLocked(code)
	r.mu.Unlock()

	log.Info().
		Str("code", util.MaskCode(code)).
		Str("sessionId", pc.MobileSessionID).
		Msg("pairing code expired")

	if r.onExpired != nil {
		r.onExpired(code, pc.MobileSessionID)
	}
}

func (r *Registry) invalidateLocked(code string) {
	pc, ok := r.codes[code]
	if !ok {
		return
	}
	r.sched.Cancel(code, pc.Token)
	delete(r.codes, code)
	if r.codeBySession[pc.MobileSessionID] == code {
		delete(r.codeBySession, pc.MobileSessionID)
	}
}

func (r *Registry) unpairLocked(sessionID string) string {
	sess, ok := r.dir.Get(sessionID)
	if !ok || sess.PairedWith == "" {
		return ""
	}

	counterpart := sess.PairedWith
	switch sess.Role {
	case model.RolePairedMobile:
		r.dir.ClearPair(sessionID, counterpart)
	case model.RolePairedDesktop:
		r.dir.ClearPair(counterpart, sessionID)
	default:
		return ""
	}
	return counterpart
}

// PruneStaleSessions drops unpaired sessions created before the cutoff
// that hold no live code. Pending mobiles with an unredeemed code are left
// to the code's own expiry.
func (r *Registry) PruneStaleSessions(before time.Time) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pruned int64
	for _, id := range r.dir.StaleUnpaired(before) {
		if _, hasCode := r.codeBySession[id]; hasCode {
			continue
		}
		r.dir.Remove(id)
		pruned++
	}
	return pruned
}
