// Package strategy calcula los quotes deseados de un token a partir del
// orderbook, la posición actual y el perfil de parámetros. Es una función
// pura sobre el estado que le pasa el orchestrator: no guarda nada y no
// habla con el exchange.
package strategy

import (
	"time"

	"github.com/alejandrodnm/mmbot/internal/domain"
)

const (
	// Banda de precios aceptable para entradas. Fuera de ella el mercado
	// está demasiado decidido para hacer market making.
	minEntryPrice = 0.10
	maxEntryPrice = 0.90

	// insideOffsetTicks es cuántos ticks dentro del spread colocamos cada
	// quote. Con 1, el bid mejora al best bid en un tick sin cruzar.
	insideOffsetTicks = 1
)

// Input agrupa todo lo que la estrategia necesita para evaluar un token.
type Input struct {
	Market   domain.Market
	TokenID  string
	Book     domain.BookSnapshot
	Position domain.Position // posición en este token
	Opposite domain.Position // posición en el token contrario
	Profile  domain.Profile
	Risk     domain.RiskState
	Now      time.Time
	StaleAge time.Duration // edad máxima del book para cotizar
}

// Quotes devuelve el par de quotes deseado para el token. Un book stale o
// con spread mayor que el máximo del perfil no produce quotes: el mercado
// está demasiado fino o poco fiable para cotizar con seguridad.
//
// El bid de entrada se coloca estrictamente dentro del spread (best bid más
// un tick, sin pasar del mid) y nunca cruza el best ask: cotizar no debe
// tomar liquidez. El ask de salida mejora al best ask en un tick, con suelo
// en el precio de take-profit cuando hay posición con beneficio objetivo.
func Quotes(in Input) domain.DesiredQuotes {
	var out domain.DesiredQuotes

	if in.Book.Stale(in.Now, in.StaleAge) {
		return out
	}
	bestBid := in.Book.BestBid()
	bestAsk := in.Book.BestAsk()
	if bestBid <= 0 || bestAsk <= 0 {
		return out
	}
	if in.Book.SpreadCents() > in.Profile.MaxSpread {
		return out
	}

	tick := in.Market.TickSize
	if tick <= 0 {
		tick = 0.01
	}

	if in.Risk.AllowsEntries() {
		out.Bid = entryBid(in, bestBid, bestAsk, tick)
	}
	out.Ask = exitAsk(in, bestBid, bestAsk, tick)
	return out
}

// entryBid calcula el quote de compra. Devuelve nil si no toca comprar.
func entryBid(in Input, bestBid, bestAsk, tick float64) *domain.Quote {
	p := in.Profile

	// Con posición opuesta relevante no acumulamos este lado: el merger
	// libera el colateral antes de volver a entrar.
	if in.Opposite.Size >= p.MinSize {
		return nil
	}

	size := p.TradeSize
	if room := p.MaxSize - in.Position.Size; room < size {
		size = room
	}
	if size < p.MinSize {
		return nil
	}

	mid := domain.RoundToTick(in.Book.Midpoint(), tick)
	price := domain.RoundToTick(bestBid+insideOffsetTicks*tick, tick)
	if price > mid {
		price = mid
	}
	// Nunca cruzar: el bid tiene que quedarse por debajo del best ask.
	if price >= bestAsk {
		price = domain.RoundDownToTick(bestAsk-tick, tick)
	}
	if price <= bestBid {
		// Sin hueco dentro del spread: unirse al best bid sigue siendo pasivo.
		price = bestBid
	}
	if price < minEntryPrice || price > maxEntryPrice {
		return nil
	}

	return &domain.Quote{
		TokenID: in.TokenID,
		Side:    domain.SideBuy,
		Price:   price,
		Size:    size,
	}
}

// exitAsk calcula el quote de venta de la posición existente. Devuelve nil
// sin posición vendible.
func exitAsk(in Input, bestBid, bestAsk, tick float64) *domain.Quote {
	p := in.Profile

	if in.Position.Size < p.MinSize || in.Position.AvgPrice <= 0 {
		return nil
	}

	// Un tick dentro del spread, sin cruzar el best bid.
	price := domain.RoundToTick(bestAsk-insideOffsetTicks*tick, tick)
	if price <= bestBid {
		price = bestAsk
	}

	// El suelo es el precio que captura el take-profit del perfil: no
	// vendemos por debajo del objetivo solo por mejorar el ask.
	if p.TakeProfitThreshold > 0 {
		floor := domain.RoundUpToTick(in.Position.AvgPrice*(1+p.TakeProfitThreshold/100), tick)
		if price < floor {
			price = floor
		}
	}
	if price >= 1 {
		price = domain.RoundDownToTick(1-tick, tick)
	}

	return &domain.Quote{
		TokenID: in.TokenID,
		Side:    domain.SideSell,
		Price:   price,
		Size:    in.Position.Size,
	}
}
