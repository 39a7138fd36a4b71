package feed

// messages.go — Wire types del websocket del CLOB.
//
// Canal market: snapshots "book" completos y deltas "price_change".
// Canal user: eventos "order" (ciclo de vida) y "trade" (ejecuciones).

import (
	"sort"
	"strconv"
	"time"

	"github.com/alejandrodnm/mmbot/internal/domain"
)

type wsLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// wsBookMessage es el snapshot "book" del canal market.
type wsBookMessage struct {
	EventType string    `json:"event_type"`
	AssetID   string    `json:"asset_id"`
	Market    string    `json:"market"`
	Bids      []wsLevel `json:"bids"`
	Asks      []wsLevel `json:"asks"`
	Timestamp string    `json:"timestamp"`
}

// wsPriceChange es un delta de niveles dentro de un "price_change".
type wsPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Side    string `json:"side"`
}

type wsPriceChangeMessage struct {
	EventType    string          `json:"event_type"`
	Market       string          `json:"market"`
	PriceChanges []wsPriceChange `json:"price_changes"`
	Timestamp    string          `json:"timestamp"`
}

// wsMakerOrder es una ejecución de una orden maker dentro de una trade. El
// asset y el side son los de la orden maker, que en un mercado binario pueden
// diferir de los top-level (un BUY de YES casa con un BUY de NO vía minting).
type wsMakerOrder struct {
	OrderID       string `json:"order_id"`
	Owner         string `json:"owner"`
	MakerAddress  string `json:"maker_address"`
	MatchedAmount string `json:"matched_amount"`
	Price         string `json:"price"`
	AssetID       string `json:"asset_id"`
	Side          string `json:"side"`
}

// wsUserMessage cubre los eventos "order" y "trade" del canal user; los
// campos que no aplican llegan vacíos.
type wsUserMessage struct {
	EventType    string `json:"event_type"`
	ID           string `json:"id"`
	AssetID      string `json:"asset_id"`
	Market       string `json:"market"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	Size         string `json:"size"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Status       string `json:"status"`
	Type         string `json:"type"` // PLACEMENT, UPDATE, CANCELLATION
	TakerOrderID string `json:"taker_order_id"`
	// TraderSide indica nuestro papel en la trade: "TAKER" o "MAKER".
	TraderSide  string         `json:"trader_side"`
	MakerOrders []wsMakerOrder `json:"maker_orders"`
	Timestamp   string         `json:"timestamp"`
}

func (m wsBookMessage) toSnapshot(now time.Time) domain.BookSnapshot {
	snap := domain.BookSnapshot{
		TokenID:    m.AssetID,
		Bids:       toLevels(m.Bids, true),
		Asks:       toLevels(m.Asks, false),
		ObservedAt: parseWSTimestamp(m.Timestamp, now),
	}
	return snap
}

// toLevels convierte y ordena los niveles: bids descendente, asks ascendente,
// el mejor precio primero. El CLOB no garantiza el orden en el snapshot.
func toLevels(raw []wsLevel, descending bool) []domain.BookLevel {
	levels := make([]domain.BookLevel, 0, len(raw))
	for _, l := range raw {
		price := parseWSFloat(l.Price)
		size := parseWSFloat(l.Size)
		if price <= 0 || size <= 0 {
			continue
		}
		levels = append(levels, domain.BookLevel{Price: price, Size: size})
	}
	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})
	return levels
}

// applyChange aplica un delta de nivel a un snapshot: size 0 borra el nivel.
func applyChange(snap domain.BookSnapshot, ch wsPriceChange, now time.Time) domain.BookSnapshot {
	price := parseWSFloat(ch.Price)
	size := parseWSFloat(ch.Size)
	if price <= 0 {
		return snap
	}

	isBid := ch.Side == "BUY"
	levels := snap.Asks
	if isBid {
		levels = snap.Bids
	}

	out := make([]domain.BookLevel, 0, len(levels)+1)
	replaced := false
	for _, l := range levels {
		if l.Price == price {
			replaced = true
			if size > 0 {
				out = append(out, domain.BookLevel{Price: price, Size: size})
			}
			continue
		}
		out = append(out, l)
	}
	if !replaced && size > 0 {
		out = append(out, domain.BookLevel{Price: price, Size: size})
		sort.Slice(out, func(i, j int) bool {
			if isBid {
				return out[i].Price > out[j].Price
			}
			return out[i].Price < out[j].Price
		})
	}

	if isBid {
		snap.Bids = out
	} else {
		snap.Asks = out
	}
	snap.ObservedAt = now
	return snap
}

// toFills mapea una trade a nuestras ejecuciones. Los campos top-level
// (side, price, size, taker_order_id) describen al TAKER de la trade; un
// bot que solo cotiza pasivo aparece casi siempre como MAKER, y entonces
// sus ejecuciones reales vienen en maker_orders, una por orden propia
// tocada, con su order_id, side, price y matched_amount. apiKey filtra las
// entradas de otros makers casados en la misma trade.
func (m wsUserMessage) toFills(apiKey string, now time.Time) []domain.Fill {
	ts := parseWSTimestamp(m.Timestamp, now)

	if m.TraderSide == "MAKER" {
		var out []domain.Fill
		for _, mo := range m.MakerOrders {
			if apiKey != "" && mo.Owner != "" && mo.Owner != apiKey {
				continue
			}
			size := parseWSFloat(mo.MatchedAmount)
			price := parseWSFloat(mo.Price)
			if size <= 0 || price <= 0 {
				continue
			}
			tokenID := mo.AssetID
			if tokenID == "" {
				tokenID = m.AssetID
			}
			out = append(out, domain.Fill{
				CLOBOrderID: mo.OrderID,
				ConditionID: m.Market,
				TokenID:     tokenID,
				Side:        parseWSSide(mo.Side),
				Price:       price,
				Size:        size,
				Timestamp:   ts,
			})
		}
		return out
	}

	size := parseWSFloat(m.Size)
	price := parseWSFloat(m.Price)
	if size <= 0 || price <= 0 {
		return nil
	}
	return []domain.Fill{{
		CLOBOrderID: m.TakerOrderID,
		ConditionID: m.Market,
		TokenID:     m.AssetID,
		Side:        parseWSSide(m.Side),
		Price:       price,
		Size:        size,
		Timestamp:   ts,
	}}
}

func parseWSSide(s string) domain.Side {
	if s == "SELL" {
		return domain.SideSell
	}
	return domain.SideBuy
}

func (m wsUserMessage) toOrder(now time.Time) *domain.RestingOrder {
	side := parseWSSide(m.Side)
	original := parseWSFloat(m.OriginalSize)
	matched := parseWSFloat(m.SizeMatched)

	var status domain.OrderStatus
	switch m.Type {
	case "PLACEMENT":
		status = domain.OrderOpen
	case "UPDATE":
		if matched >= original && original > 0 {
			status = domain.OrderFilled
		} else {
			status = domain.OrderOpen
		}
	case "CANCELLATION":
		status = domain.OrderCancelled
	default:
		status = domain.OrderPending
	}

	return &domain.RestingOrder{
		CLOBOrderID: m.ID,
		ConditionID: m.Market,
		TokenID:     m.AssetID,
		Side:        side,
		Price:       parseWSFloat(m.Price),
		Size:        original,
		FilledSize:  matched,
		Status:      status,
		PlacedAt:    parseWSTimestamp(m.Timestamp, now),
	}
}

func parseWSFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// parseWSTimestamp interpreta el timestamp en milisegundos que manda el
// CLOB; si falta o no parsea, usa now.
func parseWSTimestamp(s string, now time.Time) time.Time {
	if s == "" {
		return now
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return now
	}
	if ms > 1e12 {
		return time.UnixMilli(ms).UTC()
	}
	return time.Unix(ms, 0).UTC()
}
