package positions

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alejandrodnm/mmbot/internal/domain"
	"github.com/alejandrodnm/mmbot/internal/ports"
	"github.com/google/uuid"
)

// DefaultMinMergeSize evita quemar gas en merges diminutos.
const DefaultMinMergeSize = 1.0

// Merger detecta posiciones opuestas mergeables y ejecuta el merge.
// Corre tras cada cambio de posición, también con el mercado pausado o en
// cooldown: liberar colateral es deseable precisamente entonces.
type Merger struct {
	client  ports.TradingClient
	store   ports.EventStore
	minSize float64
}

// NewMerger crea un Merger. minSize <= 0 usa DefaultMinMergeSize.
func NewMerger(client ports.TradingClient, store ports.EventStore, minSize float64) *Merger {
	if minSize <= 0 {
		minSize = DefaultMinMergeSize
	}
	return &Merger{client: client, store: store, minSize: minSize}
}

// TryMerge ejecuta un merge si ambos tokens del mercado tienen posición por
// encima del mínimo. Sobre éxito decrementa ambas posiciones exactamente en
// min(yes, no) y devuelve el evento; sin oportunidad devuelve (nil, nil).
func (g *Merger) TryMerge(ctx context.Context, mkt domain.Market, positions map[string]domain.Position) (*domain.Event, error) {
	yes := positions[mkt.YesTokenID]
	no := positions[mkt.NoTokenID]

	amount := math.Min(yes.Size, no.Size)
	if yes.Size < g.minSize || no.Size < g.minSize {
		return nil, nil
	}
	// Redondear abajo a 2 decimales: el exchange trabaja en centésimas.
	amount = math.Floor(amount*100) / 100
	if amount < g.minSize {
		return nil, nil
	}

	if err := g.client.MergePositions(ctx, mkt.ConditionID, amount, mkt.NegRisk); err != nil {
		return nil, fmt.Errorf("positions.TryMerge %s: %w", mkt.ConditionID, err)
	}

	yesNext, err := yes.ApplyFill(domain.SideSell, amount, 0)
	if err != nil {
		return nil, fmt.Errorf("positions.TryMerge: decrement yes: %w", err)
	}
	noNext, err := no.ApplyFill(domain.SideSell, amount, 0)
	if err != nil {
		return nil, fmt.Errorf("positions.TryMerge: decrement no: %w", err)
	}
	positions[mkt.YesTokenID] = yesNext
	positions[mkt.NoTokenID] = noNext

	now := time.Now().UTC()
	if g.store != nil {
		if err := g.store.SaveMerge(ctx, mkt.ConditionID, amount, now); err != nil {
			slog.Warn("positions: error saving merge", "err", err)
		}
	}

	slog.Info("positions: MERGED",
		"market", domain.TruncateQuestion(mkt.Question, mkt.ConditionID, 30),
		"amount", fmt.Sprintf("%.2f", amount),
		"yes_left", fmt.Sprintf("%.2f", yesNext.Size),
		"no_left", fmt.Sprintf("%.2f", noNext.Size),
	)

	return &domain.Event{
		ID:          uuid.New().String(),
		Type:        domain.EventMergeExecuted,
		ConditionID: mkt.ConditionID,
		At:          now,
		Payload:     map[string]any{"amount": amount},
	}, nil
}
