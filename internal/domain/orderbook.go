package domain

import (
	"math"
	"time"
)

// BookSnapshot es una foto inmutable del libro de órdenes de un token.
// Se reemplaza entera con cada update del feed; nunca se muta in place.
type BookSnapshot struct {
	TokenID    string
	Bids       []BookLevel // ordenados mayor a menor precio
	Asks       []BookLevel // ordenados menor a mayor precio
	ObservedAt time.Time
}

// BookLevel es un nivel de precio en el orderbook.
type BookLevel struct {
	Price float64
	Size  float64
}

// BestBid devuelve el mejor precio de compra (mayor bid).
// Devuelve 0 si el book está vacío.
func (b BookSnapshot) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk devuelve el mejor precio de venta (menor ask).
// Devuelve 0 si el book está vacío.
func (b BookSnapshot) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// BestBidSize devuelve el tamaño disponible al mejor bid.
func (b BookSnapshot) BestBidSize() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Size
}

// BestAskSize devuelve el tamaño disponible al mejor ask.
func (b BookSnapshot) BestAskSize() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Size
}

// Midpoint devuelve el punto medio entre best bid y best ask.
func (b BookSnapshot) Midpoint() float64 {
	bid := b.BestBid()
	ask := b.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Spread devuelve el spread del book (ask - bid).
func (b BookSnapshot) Spread() float64 {
	bid := b.BestBid()
	ask := b.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return ask - bid
}

// SpreadCents devuelve el spread en centavos (unidad de los umbrales de perfil).
func (b BookSnapshot) SpreadCents() float64 {
	return b.Spread() * 100
}

// Stale devuelve true si el snapshot es más viejo que maxAge. Un snapshot vacío
// (sin ObservedAt) siempre es stale.
func (b BookSnapshot) Stale(now time.Time, maxAge time.Duration) bool {
	if b.ObservedAt.IsZero() {
		return true
	}
	return now.Sub(b.ObservedAt) > maxAge
}

// RoundToTick redondea al tick más cercano (half-to-nearest).
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return truncate(math.Round(price/tick) * tick)
}

// RoundUpToTick redondea hacia arriba al siguiente múltiplo de tick.
func RoundUpToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return truncate(math.Ceil(price/tick-1e-9) * tick)
}

// RoundDownToTick redondea hacia abajo al múltiplo de tick anterior.
func RoundDownToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return truncate(math.Floor(price/tick+1e-9) * tick)
}

// truncate corta el ruido de float a 6 decimales, suficiente para el tick
// más fino soportado (0.0001).
func truncate(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
