// Package positions lleva la posición por token a partir de los fills
// confirmados del feed, y ejecuta los merges de posiciones opuestas que
// liberan colateral.
package positions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/mmbot/internal/domain"
	"github.com/alejandrodnm/mmbot/internal/ports"
)

// Tracker aplica fills confirmados al estado de posiciones de un mercado.
// Los fills de un mercado se aplican en el orden en que llegan del feed —
// el cálculo del precio medio de entrada es sensible al orden, así que no
// hay batching ni reordenación posible.
type Tracker struct {
	store ports.EventStore
}

// NewTracker crea un Tracker que persiste los fills en el store dado.
func NewTracker(store ports.EventStore) *Tracker {
	return &Tracker{store: store}
}

// Apply muta positions con el fill. Un fill que dejaría la posición en
// negativo es una inconsistencia externa: se devuelve domain.ErrInconsistentFill
// sin tocar el estado, para que el orchestrator pause el mercado.
func (t *Tracker) Apply(ctx context.Context, positions map[string]domain.Position, fill domain.Fill) error {
	pos := positions[fill.TokenID]
	next, err := pos.ApplyFill(fill.Side, fill.Size, fill.Price)
	if err != nil {
		return fmt.Errorf("positions.Apply %s: %w", fill.TokenID, err)
	}
	positions[fill.TokenID] = next

	slog.Info("positions: fill applied",
		"token", fill.TokenID,
		"side", fill.Side,
		"price", fmt.Sprintf("%.4f", fill.Price),
		"size", fmt.Sprintf("%.2f", fill.Size),
		"position", fmt.Sprintf("%.2f@%.4f", next.Size, next.AvgPrice),
	)

	if t.store != nil {
		if err := t.store.SaveFill(ctx, fill); err != nil {
			// La persistencia del histórico no bloquea el trading.
			slog.Warn("positions: error saving fill", "err", err)
		}
	}
	return nil
}
