// Package sheets implementa ports.ConfigSource leyendo un Google Sheet
// publicado como CSV: la pestaña "Selected Markets" lista los mercados y
// "Hyperparameters" los perfiles de parámetros. No necesita credenciales;
// basta con que el spreadsheet esté publicado en la web.
package sheets

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/mmbot/internal/domain"
	"github.com/alejandrodnm/mmbot/internal/ports"
)

const (
	sheetMarkets = "Selected Markets"
	sheetParams  = "Hyperparameters"
)

// Source descarga y parsea las dos pestañas de configuración.
type Source struct {
	http    *http.Client
	baseURL string
}

// NewSource crea el source para un spreadsheet. baseURL es la URL del
// spreadsheet sin sufijos (https://docs.google.com/spreadsheets/d/<id>).
func NewSource(baseURL string) *Source {
	return &Source{
		http:    &http.Client{Timeout: 15 * time.Second},
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// Fetch descarga las dos pestañas y arma el snapshot. Un mercado con fila
// rota se salta con un warning; una pestaña rota aborta el fetch entero
// para no publicar un snapshot a medias.
func (s *Source) Fetch(ctx context.Context) (ports.ConfigSnapshot, error) {
	marketRows, err := s.fetchCSV(ctx, sheetMarkets)
	if err != nil {
		return ports.ConfigSnapshot{}, fmt.Errorf("sheets.Fetch: %s: %w", sheetMarkets, err)
	}
	paramRows, err := s.fetchCSV(ctx, sheetParams)
	if err != nil {
		return ports.ConfigSnapshot{}, fmt.Errorf("sheets.Fetch: %s: %w", sheetParams, err)
	}

	snap := ports.ConfigSnapshot{
		Profiles: make(map[string]domain.Profile, len(paramRows)),
	}

	for _, row := range paramRows {
		name := row.str("param_type")
		if name == "" {
			continue
		}
		snap.Profiles[name] = domain.Profile{
			Name:                name,
			TradeSize:           row.num("trade_size"),
			MaxSize:             row.num("max_size"),
			MinSize:             row.num("min_size"),
			MaxSpread:           row.num("max_spread"),
			StopLossThreshold:   row.num("stop_loss_threshold"),
			TakeProfitThreshold: row.num("take_profit_threshold"),
			VolatilityThreshold: row.num("volatility_threshold"),
			SpreadThreshold:     row.num("spread_threshold"),
			SleepPeriodHours:    row.num("sleep_period"),
		}
	}

	for _, row := range marketRows {
		conditionID := row.str("condition_id")
		if conditionID == "" {
			continue
		}
		m := domain.Market{
			ConditionID: conditionID,
			Question:    row.str("question"),
			YesTokenID:  row.str("token1"),
			NoTokenID:   row.str("token2"),
			TickSize:    row.num("tick_size"),
			NegRisk:     row.boolean("neg_risk"),
			Enabled:     row.boolean("enabled"),
			Profile:     row.str("param_type"),
		}
		if m.YesTokenID == "" || m.NoTokenID == "" {
			slog.Warn("sheets: market row without token IDs, skipped", "condition_id", conditionID)
			continue
		}
		if m.TickSize <= 0 {
			m.TickSize = 0.01
		}
		if m.Profile == "" {
			m.Profile = "default"
		}
		snap.Markets = append(snap.Markets, m)
	}

	return snap, nil
}

// fetchCSV descarga una pestaña por nombre vía el endpoint gviz y la
// devuelve como filas indexadas por cabecera.
func (s *Source) fetchCSV(ctx context.Context, sheet string) ([]row, error) {
	u := fmt.Sprintf("%s/gviz/tq?tqx=out:csv&sheet=%s", s.baseURL, url.QueryEscape(sheet))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: status %d: %s", domain.ErrTransient, resp.StatusCode, body)
		}
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}

	return parseRows(resp.Body)
}

// row es una fila CSV indexada por nombre de columna normalizado.
type row map[string]string

func parseRows(r io.Reader) ([]row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) < 1 {
		return nil, nil
	}

	headers := make([]string, len(records[0]))
	for i, h := range records[0] {
		headers[i] = normalizeHeader(h)
	}

	rows := make([]row, 0, len(records)-1)
	for _, rec := range records[1:] {
		rw := make(row, len(headers))
		empty := true
		for i, v := range rec {
			if i >= len(headers) || headers[i] == "" {
				continue
			}
			v = strings.TrimSpace(v)
			if v != "" {
				empty = false
			}
			rw[headers[i]] = v
		}
		if !empty {
			rows = append(rows, rw)
		}
	}
	return rows, nil
}

// normalizeHeader tolera variaciones de las cabeceras del sheet:
// mayúsculas, espacios en vez de guiones bajos.
func normalizeHeader(h string) string {
	h = strings.TrimSpace(strings.ToLower(h))
	return strings.ReplaceAll(h, " ", "_")
}

func (r row) str(key string) string {
	return r[key]
}

func (r row) num(key string) float64 {
	v := r[key]
	if v == "" {
		return 0
	}
	// Los sheets publicados con locale europeo usan coma decimal.
	v = strings.ReplaceAll(v, ",", ".")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func (r row) boolean(key string) bool {
	switch strings.ToLower(r[key]) {
	case "true", "1", "yes", "y", "x":
		return true
	}
	return false
}
