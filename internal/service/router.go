package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/caixalink/pairing-server-go/internal/audit"
	apperrors "github.com/caixalink/pairing-server-go/internal/errors"
	"github.com/caixalink/pairing-server-go/internal/model"
	"github.com/caixalink/pairing-server-go/internal/repository"
	"github.com/caixalink/pairing-server-go/internal/sse"
	"github.com/caixalink/pairing-server-go/internal/util"
)

const eventPersistTimeout = 5 * time.Second

// Router dispatches inbound device events through the registry and the
// session directory, then pushes outbound events to the counterpart's
// stream. All state transitions are guarded by the sender's current role;
// an event arriving in the wrong state is rejected, never reinterpreted.
type Router struct {
	registry  *Registry
	dir       *Directory
	broker    *sse.Broker
	sales     *SaleService
	eventRepo repository.PairingEventRepository
}

func NewRouter(
	registry *Registry,
	dir *Directory,
	broker *sse.Broker,
	sales *SaleService,
	eventRepo repository.PairingEventRepository,
) *Router {
	r := &Router{
		registry:  registry,
		dir:       dir,
		broker:    broker,
		sales:     sales,
		eventRepo: eventRepo,
	}
	registry.OnCodeExpired(r.notifyCodeExpired)
	return r
}

// Dispatch handles one inbound event for the session. A non-nil reply is
// returned to the caller; counterpart-directed events go out on the
// counterpart's stream. A nil reply with nil error is a plain ack.
func (rt *Router) Dispatch(ctx context.Context, sessionID string, evt model.InboundEvent) (*sse.Event, error) {
	sess, ok := rt.dir.Get(sessionID)
	if !ok {
		return nil, apperrors.NotFound("Session")
	}

	switch evt.Type {
	case model.EventGenerateCode:
		return rt.handleGenerateCode(sess, evt)
	case model.EventConnectWithCode:
		return rt.handleConnectWithCode(sess, evt)
	case model.EventProductScanned:
		return rt.handleProductScanned(sess, evt)
	case model.EventCartUpdated:
		return rt.handleCartUpdated(sess, evt)
	case model.EventFinalizeSale:
		return rt.handleFinalizeSale(sess, evt)
	case model.EventDisconnectAll:
		return rt.handleDisconnectAll(sess)
	default:
		return nil, apperrors.InvalidInput("type", "unknown event type")
	}
}

func (rt *Router) handleGenerateCode(sess model.Session, evt model.InboundEvent) (*sse.Event, error) {
	if sess.Role != model.RoleUnidentified && sess.Role != model.RoleUnpairedMobile {
		return nil, apperrors.InvalidState(string(evt.Type), string(sess.Role))
	}
	if evt.DeviceType == "" {
		return nil, apperrors.MissingRequired("deviceType")
	}

	pc, err := rt.registry.IssueCode(sess.ID, evt.DeviceType)
	if err != nil {
		return nil, err
	}

	audit.Log(audit.Event{
		Type:      audit.EventCodeGenerate,
		SessionID: sess.ID,
		Details:   map[string]interface{}{"deviceType": evt.DeviceType},
	})
	rt.persistEvent(model.PairingEvent{
		Type:       model.PairingEventCodeIssued,
		SessionID:  sess.ID,
		Code:       strptr(util.MaskCode(pc.Code)),
		DeviceType: strptr(pc.DeviceType),
	})

	reply := sse.NewEvent(string(model.EventSyncCodeGenerated), map[string]any{
		"code":       pc.Code,
		"deviceType": pc.DeviceType,
		"expiresIn":  int(time.Until(pc.ExpiresAt).Seconds()),
		"expiresAt":  pc.ExpiresAt,
	})
	return &reply, nil
}

func (rt *Router) handleConnectWithCode(sess model.Session, evt model.InboundEvent) (*sse.Event, error) {
	switch sess.Role {
	case model.RoleUnidentified, model.RoleUnpairedDesktop:
	case model.RolePairedDesktop, model.RolePairedMobile:
		return nil, apperrors.AlreadyPaired()
	default:
		return nil, apperrors.InvalidState(string(evt.Type), string(sess.Role))
	}

	result, err := rt.registry.Redeem(evt.Code, sess.ID)
	if err != nil {
		return nil, err
	}

	rt.broker.Publish(result.MobileSessionID, sse.NewEvent(string(model.EventDeviceConnected), map[string]any{
		"connectedDevice":  "desktop",
		"desktopSessionId": sess.ID,
	}))

	audit.Log(audit.Event{
		Type:      audit.EventCodeRedeem,
		SessionID: sess.ID,
		Details:   map[string]interface{}{"mobileSessionId": result.MobileSessionID},
	})
	rt.persistEvent(model.PairingEvent{
		Type:          model.PairingEventCodeRedeemed,
		SessionID:     sess.ID,
		CounterpartID: strptr(result.MobileSessionID),
		DeviceType:    strptr(result.DeviceType),
	})

	reply := sse.NewEvent(string(model.EventConnectionSuccess), map[string]any{
		"connectedDevice": result.DeviceType,
		"mobileSessionId": result.MobileSessionID,
	})
	return &reply, nil
}

func (rt *Router) handleProductScanned(sess model.Session, evt model.InboundEvent) (*sse.Event, error) {
	if sess.Role != model.RolePairedMobile {
		return nil, apperrors.InvalidState(string(evt.Type), string(sess.Role))
	}
	if evt.Product == nil {
		return nil, apperrors.MissingRequired("product")
	}

	forward := sse.NewEvent(string(model.EventProductScanned), map[string]any{
		"product": evt.Product,
	})
	if err := rt.forward(sess, forward); err != nil {
		return nil, err
	}

	rt.dir.AppendCartItem(sess.PairedWith, *evt.Product)
	return nil, nil
}

func (rt *Router) handleCartUpdated(sess model.Session, evt model.InboundEvent) (*sse.Event, error) {
	if sess.Role != model.RolePairedMobile {
		return nil, apperrors.InvalidState(string(evt.Type), string(sess.Role))
	}

	forward := sse.NewEvent(string(model.EventCartUpdated), map[string]any{
		"items":           evt.Items,
		"discountPercent": evt.DiscountPercent,
	})
	if err := rt.forward(sess, forward); err != nil {
		return nil, err
	}

	rt.dir.ReplaceCart(sess.PairedWith, evt.Items, evt.DiscountPercent)
	return nil, nil
}

func (rt *Router) handleFinalizeSale(sess model.Session, evt model.InboundEvent) (*sse.Event, error) {
	if sess.Role != model.RolePairedDesktop {
		return nil, apperrors.InvalidState(string(evt.Type), string(sess.Role))
	}

	sale, err := rt.sales.Finalize(sess, evt.SaleData)
	if err != nil {
		return nil, err
	}

	audit.Log(audit.Event{
		Type:      audit.EventSaleFinalize,
		SessionID: sess.ID,
		Details:   map[string]interface{}{"saleId": sale.ID, "totalCents": sale.TotalCents},
	})

	// The sale is final once computed; the mobile notification is
	// best-effort, but a dead counterpart still tears the pair down.
	notification := sse.NewEvent(string(model.EventSaleFinalized), map[string]any{"sale": sale})
	if sess.PairedWith != "" && !rt.broker.Publish(sess.PairedWith, notification) {
		rt.handleUnreachable(sess)
	}

	reply := sse.NewEvent(string(model.EventSaleFinalized), map[string]any{"sale": sale})
	return &reply, nil
}

func (rt *Router) handleDisconnectAll(sess model.Session) (*sse.Event, error) {
	if sess.Role != model.RolePairedDesktop {
		return nil, apperrors.InvalidState(string(model.EventDisconnectAll), string(sess.Role))
	}

	rt.broker.Publish(sess.PairedWith, sse.NewEvent(string(model.EventDeviceDisconnected), map[string]any{
		"reason": "desktop requested disconnect",
	}))

	counterpart := rt.registry.Unpair(sess.ID)

	audit.Log(audit.Event{
		Type:      audit.EventPairTeardown,
		SessionID: sess.ID,
		Details:   map[string]interface{}{"counterpartId": counterpart},
	})
	rt.persistEvent(model.PairingEvent{
		Type:          model.PairingEventUnpaired,
		SessionID:     sess.ID,
		CounterpartID: strptr(counterpart),
	})

	return nil, nil
}

// Disconnect runs the implicit disconnect event when a session's transport
// closes. Terminal: the session, its outstanding code, and its pairing are
// all released, and a paired counterpart is notified.
func (rt *Router) Disconnect(sessionID string) {
	result := rt.registry.DropSession(sessionID)

	if result.CounterpartID != "" {
		rt.broker.Publish(result.CounterpartID, sse.NewEvent(string(model.EventDeviceDisconnected), map[string]any{
			"reason": "counterpart disconnected",
		}))
	}

	audit.Log(audit.Event{
		Type:      audit.EventSessionDestroy,
		SessionID: sessionID,
		Details:   map[string]interface{}{"counterpartId": result.CounterpartID},
	})
	rt.persistEvent(model.PairingEvent{
		Type:          model.PairingEventDisconnected,
		SessionID:     sessionID,
		CounterpartID: strptrOrNil(result.CounterpartID),
	})
}

// forward pushes an event to the sender's counterpart. A counterpart whose
// stream is gone fails the forward and implicitly unpairs both sides so
// neither keeps believing it has a live partner.
func (rt *Router) forward(sess model.Session, event sse.Event) error {
	if sess.PairedWith == "" {
		return apperrors.CounterpartUnreachable()
	}
	if _, ok := rt.dir.Get(sess.PairedWith); !ok {
		rt.handleUnreachable(sess)
		return apperrors.CounterpartUnreachable()
	}
	if !rt.broker.Publish(sess.PairedWith, event) {
		rt.handleUnreachable(sess)
		return apperrors.CounterpartUnreachable()
	}
	return nil
}

func (rt *Router) handleUnreachable(sess model.Session) {
	counterpart := rt.registry.Unpair(sess.ID)

	log.Warn().
		Str("sessionId", sess.ID).
		Str("counterpartId", counterpart).
		Msg("counterpart unreachable, pair torn down")

	audit.Log(audit.Event{
		Type:      audit.EventRoutingFailure,
		SessionID: sess.ID,
		Details:   map[string]interface{}{"counterpartId": counterpart},
	})
	rt.persistEvent(model.PairingEvent{
		Type:          model.PairingEventUnpaired,
		SessionID:     sess.ID,
		CounterpartID: strptrOrNil(counterpart),
	})
}

func (rt *Router) notifyCodeExpired(code, mobileSessionID string) {
	rt.broker.Publish(mobileSessionID, sse.NewEvent(string(model.EventCodeExpired), map[string]any{
		"code": code,
	}))

	audit.Log(audit.Event{
		Type:      audit.EventCodeExpire,
		SessionID: mobileSessionID,
	})
	rt.persistEvent(model.PairingEvent{
		Type:      model.PairingEventCodeExpired,
		SessionID: mobileSessionID,
		Code:      strptr(util.MaskCode(code)),
	})
}

func (rt *Router) persistEvent(event model.PairingEvent) {
	if rt.eventRepo == nil {
		return
	}
	event.ID = uuid.NewString()
	event.CreatedAt = time.Now()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventPersistTimeout)
		defer cancel()

		if err := rt.eventRepo.Insert(ctx, event); err != nil {
			log.Error().Err(err).Str("eventType", string(event.Type)).Msg("failed to persist pairing event")
		}
	}()
}

func strptr(s string) *string {
	return &s
}

func strptrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
