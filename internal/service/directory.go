package service

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caixalink/pairing-server-go/internal/model"
)

// Directory holds per-connection session state, keyed by session id, with
// a reverse index from the hashed bearer token (the connection handle) to
// the session id. It performs no validation; multi-record pairing
// transitions are driven by the registry under its own mutex.
type Directory struct {
	mu           sync.RWMutex
	sessions     map[string]*model.Session
	byToken      map[string]string
	totalCreated int64
}

func NewDirectory() *Directory {
	return &Directory{
		sessions: make(map[string]*model.Session),
		byToken:  make(map[string]string),
	}
}

// Create registers a fresh unidentified session and returns a snapshot.
func (d *Directory) Create(tokenHash string) model.Session {
	d.mu.Lock()
	defer d.mu.Unlock()

	sess := &model.Session{
		ID:        uuid.NewString(),
		TokenHash: tokenHash,
		Role:      model.RoleUnidentified,
		CreatedAt: time.Now(),
	}
	d.sessions[sess.ID] = sess
	d.byToken[tokenHash] = sess.ID
	d.totalCreated++

	return *sess
}

// Get returns a snapshot of the session, so callers never share mutable
// state with the directory.
func (d *Directory) Get(sessionID string) (model.Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sess, ok := d.sessions[sessionID]
	if !ok {
		return model.Session{}, false
	}
	return snapshot(sess), true
}

func (d *Directory) GetByToken(tokenHash string) (model.Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byToken[tokenHash]
	if !ok {
		return model.Session{}, false
	}
	return snapshot(d.sessions[id]), true
}

func (d *Directory) Remove(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sess, ok := d.sessions[sessionID]
	if !ok {
		return
	}
	delete(d.byToken, sess.TokenHash)
	delete(d.sessions, sessionID)
}

// SetMobilePending marks a session as an unpaired mobile with its declared
// device type.
func (d *Directory) SetMobilePending(sessionID, deviceType string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if sess, ok := d.sessions[sessionID]; ok {
		sess.Role = model.RoleUnpairedMobile
		sess.DeviceType = deviceType
	}
}

// SetPaired links both sessions symmetrically in one critical section.
func (d *Directory) SetPaired(mobileID, desktopID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	mobile, mok := d.sessions[mobileID]
	desktop, dok := d.sessions[desktopID]
	if !mok || !dok {
		return
	}
	mobile.Role = model.RolePairedMobile
	mobile.PairedWith = desktopID
	desktop.Role = model.RolePairedDesktop
	desktop.PairedWith = mobileID
}

// ClearPair unlinks both sides of a pair in one critical section. The
// mobile side keeps its device identity; the desktop returns to
// unidentified so it can redeem a new code.
func (d *Directory) ClearPair(mobileID, desktopID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if mobile, ok := d.sessions[mobileID]; ok && mobile.PairedWith == desktopID {
		mobile.Role = model.RoleUnpairedMobile
		mobile.PairedWith = ""
	}
	if desktop, ok := d.sessions[desktopID]; ok && desktop.PairedWith == mobileID {
		desktop.Role = model.RoleUnidentified
		desktop.PairedWith = ""
		desktop.Cart = nil
		desktop.DiscountPercent = 0
	}
}

// AppendCartItem adds one scanned item to the desktop's transaction
// scratch state.
func (d *Directory) AppendCartItem(sessionID string, item model.SaleItem) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if sess, ok := d.sessions[sessionID]; ok {
		sess.Cart = append(sess.Cart, item)
	}
}

// ReplaceCart replaces the desktop's transaction scratch wholesale.
func (d *Directory) ReplaceCart(sessionID string, items []model.SaleItem, discountPercent float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if sess, ok := d.sessions[sessionID]; ok {
		sess.Cart = append([]model.SaleItem(nil), items...)
		sess.DiscountPercent = discountPercent
	}
}

// TakeCart returns the accumulated cart scratch and clears it.
func (d *Directory) TakeCart(sessionID string) ([]model.SaleItem, float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sess, ok := d.sessions[sessionID]
	if !ok {
		return nil, 0
	}
	items := sess.Cart
	discount := sess.DiscountPercent
	sess.Cart = nil
	sess.DiscountPercent = 0
	return items, discount
}

func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}

// CountPaired returns the number of established pairs.
func (d *Directory) CountPaired() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	pairs := 0
	for _, sess := range d.sessions {
		if sess.Role == model.RolePairedDesktop {
			pairs++
		}
	}
	return pairs
}

// TotalCreated returns the number of sessions created since start.
func (d *Directory) TotalCreated() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.totalCreated
}

func snapshot(sess *model.Session) model.Session {
	out := *sess
	out.Cart = append([]model.SaleItem(nil), sess.Cart...)
	return out
}

// StaleUnpaired returns ids of unpaired sessions created before the
// cutoff, oldest first not guaranteed.
func (d *Directory) StaleUnpaired(before time.Time) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ids []string
	for id, sess := range d.sessions {
		if sess.PairedWith == "" && sess.CreatedAt.Before(before) {
			ids = append(ids, id)
		}
	}
	return ids
}
