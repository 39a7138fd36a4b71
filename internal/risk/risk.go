// Package risk decide, antes de cada pasada de la estrategia, si un mercado
// puede cotizar con normalidad, debe pausarse o debe salir forzosamente de
// su posición. Es una función pura: el estado de riesgo vive en el record
// del mercado que gestiona el orchestrator.
package risk

import (
	"fmt"
	"time"

	"github.com/alejandrodnm/mmbot/internal/domain"
)

// ReasonVolatility y compañía documentan las transiciones en el event stream.
const (
	ReasonVolatility    = "volatility above threshold"
	ReasonStopLoss      = "stop-loss exit"
	ReasonInconsistency = "inconsistent fill pending manual reconciliation"
)

// MaxStopDeferrals acota cuántos ciclos se puede posponer un stop-loss por
// spread ancho. Agotado el presupuesto la salida se ejecuta al precio que
// haya: dejar la posición abierta indefinidamente es más riesgo que
// cristalizar la pérdida en un book ilíquido.
const MaxStopDeferrals = 10

// Input es el estado de un token que el RiskManager evalúa.
type Input struct {
	Market        domain.Market
	TokenID       string
	Book          domain.BookSnapshot
	Position      domain.Position
	Profile       domain.Profile
	State         domain.RiskState
	Volatility    float64 // métrica de horizonte corto, en %
	StopDeferrals int     // ciclos consecutivos con stop-loss pospuesto
	Now           time.Time
}

// ForcedExit ordena cancelar todas las órdenes del mercado y vender ya.
type ForcedExit struct {
	TokenID string
	Price   float64 // best bid: ejecución inmediata
	Size    float64
}

// Decision es el resultado de la evaluación de riesgo de un ciclo.
type Decision struct {
	State        domain.RiskState
	Transitioned bool
	// ForcedExit != nil ⇒ stop-loss: cancelar todo y salir. El estado ya
	// viene puesto en Cooldown; el orchestrator lo revierte si la venta falla.
	ForcedExit *ForcedExit
	// DeferredExit indica stop-loss alcanzado pero pospuesto por spread
	// ancho. El orchestrator incrementa el contador de deferrals.
	DeferredExit bool
	// TakeProfit != nil ⇒ colocar (no cruzar) esta salida pasiva.
	TakeProfit *domain.Quote
}

// Evaluate aplica las reglas en orden fijo: gate de volatilidad, stop-loss,
// take-profit, expiración de cooldown. La primera acción forzosa gana; todo
// se reevalúa en cada ciclo.
func Evaluate(in Input) Decision {
	d := Decision{State: in.State}
	p := in.Profile

	// Una pausa por inconsistencia de datos solo se levanta a mano.
	if in.State.Mode == domain.RiskVolatilityPaused && in.State.Reason == ReasonInconsistency {
		return d
	}

	// Un cooldown vigente manda: ya suprime entradas y lleva deadline.
	inCooldown := in.State.Mode == domain.RiskCooldown && !in.State.Expired(in.Now)

	// 1. Gate de volatilidad. Se recupera solo cuando la métrica baja.
	if !inCooldown {
		switch {
		case in.Volatility > p.VolatilityThreshold && p.VolatilityThreshold > 0:
			if in.State.Mode != domain.RiskVolatilityPaused {
				d.State = domain.PausedState(ReasonVolatility)
				d.Transitioned = true
			}
		case in.State.Mode == domain.RiskVolatilityPaused:
			d.State = domain.ActiveState()
			d.Transitioned = true
		}
	}

	// 2. Stop-loss. Se comprueba también pausado o en cooldown: una posición
	// que sigue sangrando tiene que salir igualmente.
	if in.Position.Size > 0 && in.Position.AvgPrice > 0 {
		mid := in.Book.Midpoint()
		if mid > 0 && in.Position.PnLPct(mid) <= p.StopLossThreshold {
			spreadOK := in.Book.SpreadCents() <= p.SpreadThreshold
			if spreadOK || in.StopDeferrals >= MaxStopDeferrals {
				d.ForcedExit = &ForcedExit{
					TokenID: in.TokenID,
					Price:   in.Book.BestBid(),
					Size:    in.Position.Size,
				}
				until := in.Now.Add(p.SleepPeriod())
				d.State = domain.CooldownState(until, ReasonStopLoss)
				d.Transitioned = true
				return d
			}
			// Book demasiado ancho para cristalizar la pérdida: posponer
			// un ciclo y reintentar.
			d.DeferredExit = true
			return d
		}
	}

	// 3. Take-profit: salida pasiva al precio objetivo, sin transición.
	if in.Position.Size > 0 && in.Position.AvgPrice > 0 && p.TakeProfitThreshold > 0 {
		mid := in.Book.Midpoint()
		if mid > 0 && in.Position.PnLPct(mid) >= p.TakeProfitThreshold {
			tick := in.Market.TickSize
			if tick <= 0 {
				tick = 0.01
			}
			price := domain.RoundUpToTick(in.Position.AvgPrice*(1+p.TakeProfitThreshold/100), tick)
			if ask := in.Book.BestAsk(); ask > price {
				price = ask
			}
			d.TakeProfit = &domain.Quote{
				TokenID: in.TokenID,
				Side:    domain.SideSell,
				Price:   price,
				Size:    in.Position.Size,
			}
		}
	}

	// 4. Expiración de cooldown.
	if d.State.Expired(in.Now) {
		d.State = domain.ActiveState()
		d.Transitioned = true
	}

	return d
}

// TransitionEventPayload arma el payload del evento de transición de riesgo.
// cooldown_until viaja aparte para que el storage pueda restaurar cooldowns
// vigentes al arrancar sin parsear el String() del estado.
func TransitionEventPayload(from, to domain.RiskState, pnlPct float64) map[string]any {
	p := map[string]any{
		"from":    from.String(),
		"to":      to.String(),
		"reason":  to.Reason,
		"pnl_pct": fmt.Sprintf("%.2f", pnlPct),
	}
	if to.Mode == domain.RiskCooldown {
		p["cooldown_until"] = to.Until.UTC().Format(time.RFC3339)
	}
	return p
}
