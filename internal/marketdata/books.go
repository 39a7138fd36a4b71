// Package marketdata mantiene el último snapshot de orderbook por token y la
// historia de precios mid para la métrica de volatilidad corta.
//
// Los snapshots se publican por atomic pointer swap: los lectores (los workers
// de todos los mercados) ven siempre el snapshot viejo o el nuevo completo,
// sin locks en la ruta de lectura.
package marketdata

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/mmbot/internal/domain"
)

// Books guarda el último BookSnapshot de cada token.
type Books struct {
	mu    sync.Mutex // solo para crear la entrada; lecturas van por atomic
	books map[string]*atomic.Pointer[domain.BookSnapshot]
	vol   *VolTracker
}

// NewBooks crea el store con un VolTracker con la ventana dada.
func NewBooks(volWindow time.Duration) *Books {
	return &Books{
		books: make(map[string]*atomic.Pointer[domain.BookSnapshot]),
		vol:   NewVolTracker(volWindow),
	}
}

// Update reemplaza el snapshot de un token y alimenta la historia de mids.
// Ignora snapshots más viejos que el actual (el feed garantiza orden por
// mercado, pero un resync puede reenviar estado ya visto).
func (b *Books) Update(snap domain.BookSnapshot) {
	p := b.pointerFor(snap.TokenID)
	for {
		old := p.Load()
		if old != nil && snap.ObservedAt.Before(old.ObservedAt) {
			return
		}
		s := snap
		if p.CompareAndSwap(old, &s) {
			break
		}
	}

	if mid := snap.Midpoint(); mid > 0 {
		b.vol.Observe(snap.TokenID, snap.ObservedAt, mid)
	}
}

// Get devuelve el último snapshot del token. ok == false si nunca hubo uno.
func (b *Books) Get(tokenID string) (domain.BookSnapshot, bool) {
	b.mu.Lock()
	p, exists := b.books[tokenID]
	b.mu.Unlock()
	if !exists {
		return domain.BookSnapshot{}, false
	}
	snap := p.Load()
	if snap == nil {
		return domain.BookSnapshot{}, false
	}
	return *snap, true
}

// Volatility devuelve la métrica de volatilidad corta del token.
func (b *Books) Volatility(tokenID string, now time.Time) float64 {
	return b.vol.Volatility(tokenID, now)
}

// Drop olvida el estado de un token (mercado retirado).
func (b *Books) Drop(tokenID string) {
	b.mu.Lock()
	delete(b.books, tokenID)
	b.mu.Unlock()
	b.vol.Drop(tokenID)
}

func (b *Books) pointerFor(tokenID string) *atomic.Pointer[domain.BookSnapshot] {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.books[tokenID]
	if !ok {
		p = &atomic.Pointer[domain.BookSnapshot]{}
		b.books[tokenID] = p
	}
	return p
}
