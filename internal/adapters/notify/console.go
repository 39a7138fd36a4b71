package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/mmbot/internal/domain"
	"github.com/alejandrodnm/mmbot/internal/ports"
)

// Console implementa ports.Notifier escribiendo a stdout: una línea por
// evento del engine y una tabla de estado en cada summary periódico.
type Console struct {
	out io.Writer
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// Notify imprime una línea compacta por evento. Nunca bloquea: escribir a
// consola es lo más lento que se permite hacer aquí.
func (c *Console) Notify(_ context.Context, ev domain.Event) {
	now := ev.At.Format("15:04:05")
	switch ev.Type {
	case domain.EventQuotePlaced:
		fmt.Fprintf(c.out, "[%s] quote %v @ %v size %v — %s\n",
			now, ev.Payload["side"], ev.Payload["price"],
			ev.Payload["size"], shortID(ev.ConditionID))
	case domain.EventQuoteCancelled:
		fmt.Fprintf(c.out, "[%s] cancel %v %v — %s\n",
			now, ev.Payload["side"], ev.Payload["clob_id"], shortID(ev.ConditionID))
	case domain.EventRiskTransition:
		fmt.Fprintf(c.out, "[%s] risk %v → %v (%v) — %s\n",
			now, ev.Payload["from"], ev.Payload["to"], ev.Payload["reason"], shortID(ev.ConditionID))
	case domain.EventMergeExecuted:
		fmt.Fprintf(c.out, "[%s] merged $%v — %s\n",
			now, ev.Payload["amount"], shortID(ev.ConditionID))
	case domain.EventEngineError:
		fmt.Fprintf(c.out, "[%s] ERROR %v: %v — %s\n",
			now, ev.Payload["op"], ev.Payload["error"], shortID(ev.ConditionID))
	default:
		fmt.Fprintf(c.out, "[%s] %s — %s\n", now, ev.Type, shortID(ev.ConditionID))
	}
}

// Summary imprime la tabla de estado de todos los mercados.
func (c *Console) Summary(_ context.Context, rows []ports.SummaryRow) {
	fmt.Fprintf(c.out, "\n[%s] %d markets\n", time.Now().Format("15:04:05"), len(rows))

	table := tablewriter.NewWriter(c.out)
	table.Header("Market", "Risk", "YES pos", "NO pos", "Bid/Ask", "Quotes")

	for _, r := range rows {
		table.Append(
			truncate(r.Question, 40),
			r.RiskState,
			positionLabel(r.YesSize, r.YesAvg),
			positionLabel(r.NoSize, r.NoAvg),
			fmt.Sprintf("%.2f/%.2f", r.BestBid, r.BestAsk),
			quoteLabel(r.LiveBid, r.LiveAsk),
		)
	}
	table.Render()
}

func positionLabel(size, avg float64) string {
	if size <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f @ $%.2f", size, avg)
}

func quoteLabel(bid, ask bool) string {
	switch {
	case bid && ask:
		return "bid+ask"
	case bid:
		return "bid"
	case ask:
		return "ask"
	}
	return "-"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func shortID(conditionID string) string {
	if len(conditionID) > 10 {
		return conditionID[:10] + "..."
	}
	return conditionID
}
