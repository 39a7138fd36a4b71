// Package retrypolicy define la política de reintentos por categoría de
// error. Sustituye al clásico wrapper genérico de "reintentar todo":
// un rechazo de orden o un fallo de autenticación no se parecen en nada a
// un blip de red, y reintentarlos igual solo esconde el problema.
package retrypolicy

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/alejandrodnm/mmbot/internal/domain"
)

// Policy describe cómo tratar una categoría de error.
type Policy struct {
	MaxAttempts int           // intentos totales (1 = sin reintento)
	BaseWait    time.Duration // espera base del backoff exponencial
	Fatal       bool          // propaga inmediatamente al orchestrator
}

// table asigna una política a cada categoría de la taxonomía.
var table = map[domain.ErrKind]Policy{
	domain.KindTransient:    {MaxAttempts: 3, BaseWait: 500 * time.Millisecond},
	domain.KindRejected:     {MaxAttempts: 1}, // recalcular al ciclo siguiente, no repetir tal cual
	domain.KindAuth:         {MaxAttempts: 1, Fatal: true},
	domain.KindDelisted:     {MaxAttempts: 1},
	domain.KindInconsistent: {MaxAttempts: 1},
	domain.KindUnknown:      {MaxAttempts: 1},
}

// For devuelve la política de la categoría.
func For(kind domain.ErrKind) Policy {
	return table[kind]
}

// Do ejecuta fn aplicando la política que corresponda al error devuelto.
// El backoff es exponencial con jitter y respeta el contexto. Agotar los
// intentos devuelve el último error; el caller decide si el fallo es local
// al mercado o fatal (Policy.Fatal / domain.KindAuth).
func Do(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		kind := domain.Classify(err)
		p := table[kind]
		if p.Fatal || attempt+1 >= p.MaxAttempts {
			return err
		}

		wait := backoff(p.BaseWait, attempt)
		slog.Warn("retry: attempt failed",
			"op", op,
			"kind", kind.String(),
			"attempt", attempt+1,
			"max", p.MaxAttempts,
			"wait", wait,
			"err", err,
		)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// backoff devuelve 2^attempt * base con jitter de hasta el 25%.
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	wait := time.Duration(math.Pow(2, float64(attempt))) * base
	jitter := time.Duration(rand.Int63n(int64(wait) / 4))
	return wait + jitter
}
