package marketdata

import (
	"math"
	"sync"
	"time"
)

const maxSamplesPerToken = 4096

type midSample struct {
	ts    time.Time
	price float64
}

// VolTracker mantiene muestras de precio mid por token y calcula la
// volatilidad de horizonte corto: desviación estándar de los retornos
// simples dentro de la ventana, expresada en porcentaje.
type VolTracker struct {
	window time.Duration

	mu      sync.Mutex
	samples map[string][]midSample
}

// NewVolTracker crea un tracker con la ventana de observación dada.
func NewVolTracker(window time.Duration) *VolTracker {
	return &VolTracker{
		window:  window,
		samples: make(map[string][]midSample),
	}
}

// Observe registra una muestra de precio mid. Muestras fuera de orden o sin
// precio se descartan.
func (t *VolTracker) Observe(tokenID string, ts time.Time, price float64) {
	if price <= 0 || ts.IsZero() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.samples[tokenID]
	if n := len(s); n > 0 && ts.Before(s[n-1].ts) {
		return
	}
	s = append(s, midSample{ts: ts, price: price})
	s = prune(s, ts.Add(-t.window))
	if len(s) > maxSamplesPerToken {
		s = s[len(s)-maxSamplesPerToken:]
	}
	t.samples[tokenID] = s
}

// Volatility devuelve la volatilidad de la ventana en porcentaje.
// Devuelve 0 con menos de tres muestras (dos retornos).
func (t *VolTracker) Volatility(tokenID string, now time.Time) float64 {
	t.mu.Lock()
	s := prune(t.samples[tokenID], now.Add(-t.window))
	t.samples[tokenID] = s
	// copia para no calcular bajo el lock
	window := make([]midSample, len(s))
	copy(window, s)
	t.mu.Unlock()

	if len(window) < 3 {
		return 0
	}

	returns := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		prev := window[i-1].price
		if prev <= 0 {
			continue
		}
		returns = append(returns, (window[i].price-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	return math.Sqrt(variance) * 100
}

// Drop olvida la historia de un token.
func (t *VolTracker) Drop(tokenID string) {
	t.mu.Lock()
	delete(t.samples, tokenID)
	t.mu.Unlock()
}

func prune(s []midSample, cutoff time.Time) []midSample {
	i := 0
	for i < len(s) && s[i].ts.Before(cutoff) {
		i++
	}
	if i == 0 {
		return s
	}
	return append(s[:0:0], s[i:]...)
}
