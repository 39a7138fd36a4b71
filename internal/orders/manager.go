// Package orders reconcilia los quotes deseados de la estrategia con las
// órdenes que descansan en el exchange, con el mínimo de llamadas posible.
//
// Contrato de idempotencia: con un quote deseado idéntico al que ya
// descansa (delta de precio < 0.5% y delta de tamaño < 10%) la
// reconciliación no produce NINGUNA llamada al exchange. Las
// actualizaciones son siempre cancel-then-place, nunca amend: si el cancel
// entra y el place falla, el lado queda sin orden y se reintenta al ciclo
// siguiente — peor caso, un momento sin cotizar.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alejandrodnm/mmbot/internal/domain"
	"github.com/alejandrodnm/mmbot/internal/ports"
	"github.com/google/uuid"
)

const (
	// Histéresis anti-churn: por debajo de estos deltas no se toca la orden.
	priceUpdateFrac = 0.005 // 0.5% del precio
	sizeUpdateFrac  = 0.10  // 10% del tamaño
)

// SideState es el estado de un lado (bid o ask) de un token.
type SideState struct {
	Order *domain.RestingOrder
	// NeedsRefresh marca que una llamada mutante expiró sin respuesta: no
	// se asume que no tuvo efecto. Hasta confirmar el estado real con
	// ListOpenOrders no se coloca nada nuevo en este lado, para no acabar
	// con órdenes duplicadas descansando.
	NeedsRefresh bool
}

// TokenOrders agrupa los dos lados de un token.
type TokenOrders struct {
	Bid SideState
	Ask SideState
}

// Live devuelve true si algún lado tiene orden viva.
func (t TokenOrders) Live() bool {
	return (t.Bid.Order != nil && t.Bid.Order.Status.Live()) ||
		(t.Ask.Order != nil && t.Ask.Order.Status.Live())
}

// Manager ejecuta la reconciliación contra el TradingClient. No guarda
// estado propio: el estado de órdenes vive en el record del mercado y el
// orchestrator serializa todas las llamadas de un mercado.
type Manager struct {
	client ports.TradingClient
}

// NewManager crea un Manager sobre el cliente dado.
func NewManager(client ports.TradingClient) *Manager {
	return &Manager{client: client}
}

// Reconcile lleva los dos lados de un token a los quotes deseados. Muta
// state in place y devuelve los eventos producidos. Los errores por lado se
// absorben aquí (se loguean y el lado se reintenta al ciclo siguiente);
// suben solo los que el worker tiene que tratar estructuralmente: auth
// (fatal para el engine entero) y mercado delistado (retirar el mercado).
func (m *Manager) Reconcile(ctx context.Context, mkt domain.Market, desired domain.DesiredQuotes, state *TokenOrders) ([]domain.Event, error) {
	var events []domain.Event

	evs, err := m.reconcileSide(ctx, mkt, desired.Bid, &state.Bid)
	events = append(events, evs...)
	if err != nil {
		return events, err
	}

	evs, err = m.reconcileSide(ctx, mkt, desired.Ask, &state.Ask)
	events = append(events, evs...)
	return events, err
}

// CancelAll cancela las órdenes vivas de ambos lados de un token. Se usa en
// salidas forzadas y al retirar un mercado.
func (m *Manager) CancelAll(ctx context.Context, mkt domain.Market, state *TokenOrders) ([]domain.Event, error) {
	var events []domain.Event
	for _, side := range []*SideState{&state.Bid, &state.Ask} {
		if side.Order == nil || !side.Order.Status.Live() {
			continue
		}
		ev, err := m.cancel(ctx, mkt, side)
		if ev != nil {
			events = append(events, *ev)
		}
		if err != nil && domain.Classify(err) == domain.KindAuth {
			return events, err
		}
	}
	return events, nil
}

// RefreshOpenOrders sustituye el estado local de los dos tokens del mercado
// por la lista autoritativa del exchange y limpia los flags NeedsRefresh.
func (m *Manager) RefreshOpenOrders(ctx context.Context, mkt domain.Market, yes, no *TokenOrders) error {
	open, err := m.client.ListOpenOrders(ctx, mkt.ConditionID)
	if err != nil {
		return fmt.Errorf("orders.RefreshOpenOrders: %w", err)
	}

	*yes = TokenOrders{}
	*no = TokenOrders{}
	for i := range open {
		o := open[i]
		target := yes
		if o.TokenID == mkt.NoTokenID {
			target = no
		} else if o.TokenID != mkt.YesTokenID {
			continue
		}
		if o.Side == domain.SideBuy {
			target.Bid.Order = &o
		} else {
			target.Ask.Order = &o
		}
	}
	return nil
}

func (m *Manager) reconcileSide(ctx context.Context, mkt domain.Market, want *domain.Quote, side *SideState) ([]domain.Event, error) {
	// Una llamada anterior expiró sin respuesta: no tocar el lado hasta
	// que el orchestrator confirme el estado real con RefreshOpenOrders.
	if side.NeedsRefresh {
		slog.Debug("orders: side pending refresh, skipping",
			"market", domain.TruncateQuestion(mkt.Question, mkt.ConditionID, 30))
		return nil, nil
	}

	have := side.Order
	haveLive := have != nil && have.Status.Live()

	switch {
	case want == nil && !haveLive:
		return nil, nil

	case want == nil && haveLive:
		ev, err := m.cancel(ctx, mkt, side)
		return single(ev), m.absorb(mkt, err)

	case want != nil && !haveLive:
		ev, err := m.place(ctx, mkt, *want, side)
		return single(ev), m.absorb(mkt, err)

	default:
		if !shouldUpdate(*have, *want) {
			return nil, nil
		}
		var events []domain.Event
		ev, err := m.cancel(ctx, mkt, side)
		if ev != nil {
			events = append(events, *ev)
		}
		if err != nil {
			// Cancel fallido: la orden vieja puede seguir viva. No colocar
			// encima — reintento entero al ciclo siguiente.
			return events, m.absorb(mkt, err)
		}
		ev, err = m.place(ctx, mkt, *want, side)
		if ev != nil {
			events = append(events, *ev)
		}
		return events, m.absorb(mkt, err)
	}
}

// shouldUpdate decide si el quote deseado difiere lo bastante del que
// descansa como para pagar un cancel+place.
func shouldUpdate(have domain.RestingOrder, want domain.Quote) bool {
	if math.Abs(have.Price-want.Price) >= have.Price*priceUpdateFrac {
		return true
	}
	if want.Size > 0 && math.Abs(have.Remaining()-want.Size) >= want.Size*sizeUpdateFrac {
		return true
	}
	return false
}

func (m *Manager) place(ctx context.Context, mkt domain.Market, q domain.Quote, side *SideState) (*domain.Event, error) {
	clobID, err := m.client.SubmitOrder(ctx, q, mkt.ConditionID, mkt.NegRisk)
	if err != nil {
		if timedOut(err) {
			side.NeedsRefresh = true
		}
		return nil, fmt.Errorf("orders: place %s %s: %w", q.Side, q.TokenID, err)
	}

	now := time.Now().UTC()
	side.Order = &domain.RestingOrder{
		ID:          uuid.New().String(),
		CLOBOrderID: clobID,
		ConditionID: mkt.ConditionID,
		TokenID:     q.TokenID,
		Side:        q.Side,
		Price:       q.Price,
		Size:        q.Size,
		Status:      domain.OrderOpen,
		PlacedAt:    now,
	}

	slog.Info("orders: placed",
		"market", domain.TruncateQuestion(mkt.Question, mkt.ConditionID, 35),
		"outcome", mkt.Outcome(q.TokenID),
		"side", q.Side,
		"price", fmt.Sprintf("%.4f", q.Price),
		"size", fmt.Sprintf("%.2f", q.Size),
	)
	return &domain.Event{
		ID:          uuid.New().String(),
		Type:        domain.EventQuotePlaced,
		ConditionID: mkt.ConditionID,
		TokenID:     q.TokenID,
		At:          now,
		Payload: map[string]any{
			"side": string(q.Side), "price": q.Price, "size": q.Size, "clob_id": clobID,
		},
	}, nil
}

func (m *Manager) cancel(ctx context.Context, mkt domain.Market, side *SideState) (*domain.Event, error) {
	o := side.Order
	if err := m.client.CancelOrder(ctx, o.CLOBOrderID); err != nil {
		if timedOut(err) {
			side.NeedsRefresh = true
		}
		return nil, fmt.Errorf("orders: cancel %s: %w", o.CLOBOrderID, err)
	}

	now := time.Now().UTC()
	ev := &domain.Event{
		ID:          uuid.New().String(),
		Type:        domain.EventQuoteCancelled,
		ConditionID: o.ConditionID,
		TokenID:     o.TokenID,
		At:          now,
		Payload: map[string]any{
			"side": string(o.Side), "price": o.Price, "clob_id": o.CLOBOrderID,
		},
	}
	side.Order = nil
	slog.Debug("orders: cancelled",
		"market", domain.TruncateQuestion(mkt.Question, mkt.ConditionID, 35),
		"clob_id", ev.Payload["clob_id"])
	return ev, nil
}

// absorb convierte errores de un solo lado en telemetría: el ciclo siguiente
// recalcula y reintenta. Suben los de autenticación (invalidan la identidad
// de trading del engine entero) y los de mercado delistado (reintentar cada
// ciclo no tiene sentido: el worker retira el mercado).
func (m *Manager) absorb(mkt domain.Market, err error) error {
	if err == nil {
		return nil
	}
	kind := domain.Classify(err)
	if kind == domain.KindAuth || kind == domain.KindDelisted {
		return err
	}
	slog.Warn("orders: side reconcile failed",
		"market", domain.TruncateQuestion(mkt.Question, mkt.ConditionID, 30),
		"kind", kind.String(),
		"err", err,
	)
	return nil
}

func timedOut(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func single(ev *domain.Event) []domain.Event {
	if ev == nil {
		return nil
	}
	return []domain.Event{*ev}
}
