// Package feed implementa ports.MarketDataSource sobre el websocket del
// Polymarket CLOB: canal market para books, canal user para fills y órdenes.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/mmbot/internal/domain"
	"github.com/alejandrodnm/mmbot/internal/ports"
)

const (
	defaultMarketURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	defaultUserURL   = "wss://ws-subscriptions-clob.polymarket.com/ws/user"

	// Backoff de reconexión: 1s doblando hasta 60s.
	reconnectBase = 1 * time.Second
	reconnectMax  = 60 * time.Second

	pingInterval = 10 * time.Second
	readDeadline = 40 * time.Second

	outBuffer = 256
)

// Credentials son las credenciales L2 que exige el canal user.
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}

// Config configura el Source. URLs vacíos usan producción.
type Config struct {
	MarketURL string
	UserURL   string
	Creds     Credentials
}

// Source implementa ports.MarketDataSource. Un cambio de suscripciones
// fuerza una reconexión: el CLOB fija los assets suscritos al conectar.
// Cada reconexión emite un FeedResync antes de seguir entregando eventos.
type Source struct {
	cfg Config
	out chan ports.FeedEvent

	mu      sync.Mutex
	markets map[string]domain.Market // conditionID → market
	tokens  map[string]string        // tokenID → conditionID
	seq     map[string]uint64        // conditionID → último sequence
	books   map[string]domain.BookSnapshot

	// Cada canal tiene su propia señal de resuscripción: un cambio de
	// mercados debe reconectar las dos sesiones.
	resubMarket chan struct{}
	resubUser   chan struct{}
}

// NewSource crea el Source; arrancar con Run antes de consumir Events.
func NewSource(cfg Config) *Source {
	if cfg.MarketURL == "" {
		cfg.MarketURL = defaultMarketURL
	}
	if cfg.UserURL == "" {
		cfg.UserURL = defaultUserURL
	}
	return &Source{
		cfg:     cfg,
		out:     make(chan ports.FeedEvent, outBuffer),
		markets: make(map[string]domain.Market),
		tokens:  make(map[string]string),
		seq:     make(map[string]uint64),
		books:   make(map[string]domain.BookSnapshot),

		resubMarket: make(chan struct{}, 1),
		resubUser:   make(chan struct{}, 1),
	}
}

// Subscribe registra los tokens de un mercado y fuerza la resuscripción.
func (s *Source) Subscribe(ctx context.Context, market domain.Market) error {
	s.mu.Lock()
	s.markets[market.ConditionID] = market
	s.tokens[market.YesTokenID] = market.ConditionID
	s.tokens[market.NoTokenID] = market.ConditionID
	s.mu.Unlock()

	s.signalResub()
	return nil
}

// Unsubscribe da de baja un mercado y fuerza la resuscripción.
func (s *Source) Unsubscribe(ctx context.Context, conditionID string) error {
	s.mu.Lock()
	if m, ok := s.markets[conditionID]; ok {
		delete(s.tokens, m.YesTokenID)
		delete(s.tokens, m.NoTokenID)
		delete(s.books, m.YesTokenID)
		delete(s.books, m.NoTokenID)
		delete(s.markets, conditionID)
	}
	s.mu.Unlock()

	s.signalResub()
	return nil
}

// Events devuelve el canal compartido de eventos.
func (s *Source) Events() <-chan ports.FeedEvent {
	return s.out
}

// Run mantiene vivas las dos conexiones hasta que muera el contexto.
func (s *Source) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.connectionLoop(ctx, "market", s.resubMarket, s.runMarketConn)
	}()
	go func() {
		defer wg.Done()
		s.connectionLoop(ctx, "user", s.resubUser, s.runUserConn)
	}()
	wg.Wait()
	close(s.out)
}

func (s *Source) signalResub() {
	for _, ch := range []chan struct{}{s.resubMarket, s.resubUser} {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// connectionLoop reconecta con backoff exponencial. Una sesión que duró lo
// bastante como para considerarse sana resetea el backoff.
func (s *Source) connectionLoop(ctx context.Context, name string, resub chan struct{}, session func(context.Context, chan struct{}) error) {
	wait := reconnectBase
	for {
		if ctx.Err() != nil {
			return
		}

		// Sin mercados suscritos no hay nada que conectar.
		if s.subscribedTokens() == nil {
			select {
			case <-ctx.Done():
				return
			case <-resub:
			}
			continue
		}

		started := time.Now()
		err := session(ctx, resub)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > reconnectMax {
			wait = reconnectBase
		}

		slog.Warn("feed: connection lost, reconnecting",
			"channel", name,
			"wait", wait,
			"err", err,
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if wait *= 2; wait > reconnectMax {
			wait = reconnectMax
		}
	}
}

func (s *Source) subscribedTokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tokens) == 0 {
		return nil
	}
	out := make([]string, 0, len(s.tokens))
	for id := range s.tokens {
		out = append(out, id)
	}
	return out
}

func (s *Source) subscribedConditions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.markets))
	for id := range s.markets {
		out = append(out, id)
	}
	return out
}

// runMarketConn abre una sesión del canal market: suscribe, emite el resync
// y bombea mensajes hasta que la conexión muera o cambie la suscripción.
func (s *Source) runMarketConn(ctx context.Context, resub chan struct{}) error {
	conn, err := s.dial(ctx, s.cfg.MarketURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := map[string]any{
		"assets_ids": s.subscribedTokens(),
		"type":       "market",
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	slog.Info("feed: market channel connected", "tokens", len(s.subscribedTokens()))
	s.emitResync()

	return s.pumpConn(ctx, conn, resub, s.handleMarketMessage)
}

// runUserConn abre una sesión del canal user autenticada.
func (s *Source) runUserConn(ctx context.Context, resub chan struct{}) error {
	conn, err := s.dial(ctx, s.cfg.UserURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	auth := map[string]any{
		"auth": map[string]string{
			"apikey":     s.cfg.Creds.APIKey,
			"secret":     s.cfg.Creds.Secret,
			"passphrase": s.cfg.Creds.Passphrase,
		},
		"markets": s.subscribedConditions(),
		"type":    "user",
	}
	if err := conn.WriteJSON(auth); err != nil {
		return err
	}

	slog.Info("feed: user channel connected", "markets", len(s.subscribedConditions()))
	s.emitResync()

	return s.pumpConn(ctx, conn, resub, s.handleUserMessage)
}

func (s *Source) dial(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	return conn, err
}

// pumpConn lee mensajes hasta error, cancelación o resuscripción, con
// keepalive por ping/pong.
func (s *Source) pumpConn(ctx context.Context, conn *websocket.Conn, resub chan struct{}, handle func([]byte)) error {
	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	done := make(chan error, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				done <- err
				return
			}
			for _, raw := range splitMessages(msg) {
				handle(raw)
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			<-done
			return ctx.Err()
		case <-resub:
			conn.Close()
			<-done
			return nil
		case err := <-done:
			return err
		case <-ping.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				conn.Close()
				<-done
				return err
			}
		}
	}
}

// splitMessages separa los frames del CLOB: pueden llegar como objeto o
// como array de objetos.
func splitMessages(raw []byte) [][]byte {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		out := make([][]byte, len(arr))
		for i, m := range arr {
			out[i] = m
		}
		return out
	}
	return [][]byte{raw}
}

func (s *Source) handleMarketMessage(raw []byte) {
	var probe struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return
	}
	now := time.Now()

	switch probe.EventType {
	case "book":
		var msg wsBookMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Warn("feed: bad book message", "err", err)
			return
		}
		conditionID := s.conditionFor(msg.AssetID, msg.Market)
		if conditionID == "" {
			return
		}
		snap := msg.toSnapshot(now)
		s.storeBook(snap)
		s.emitBook(conditionID, snap)

	case "price_change":
		var msg wsPriceChangeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Warn("feed: bad price_change message", "err", err)
			return
		}
		// Aplica los deltas sobre el último snapshot y reemite el book
		// entero: aguas arriba solo existen snapshots completos.
		for _, ch := range msg.PriceChanges {
			conditionID := s.conditionFor(ch.AssetID, msg.Market)
			if conditionID == "" {
				continue
			}
			snap, ok := s.loadBook(ch.AssetID)
			if !ok {
				continue
			}
			snap = applyChange(snap, ch, now)
			s.storeBook(snap)
			s.emitBook(conditionID, snap)
		}
	}
}

func (s *Source) handleUserMessage(raw []byte) {
	var probe struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return
	}
	if probe.EventType != "order" && probe.EventType != "trade" {
		return
	}

	var msg wsUserMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Warn("feed: bad user message", "err", err)
		return
	}
	now := time.Now()

	switch probe.EventType {
	case "trade":
		// Solo MATCHED es una ejecución real; MINED/CONFIRMED son ecos
		// del settlement de la misma trade.
		if msg.Status != "MATCHED" {
			return
		}
		for _, fill := range msg.toFills(s.cfg.Creds.APIKey, now) {
			fill.Sequence = s.nextSeq(msg.Market)
			f := fill
			s.out <- ports.FeedEvent{
				Type:        ports.FeedFill,
				ConditionID: msg.Market,
				Sequence:    f.Sequence,
				Fill:        &f,
			}
		}

	case "order":
		order := msg.toOrder(now)
		s.out <- ports.FeedEvent{
			Type:        ports.FeedOrderUpdate,
			ConditionID: msg.Market,
			Sequence:    s.nextSeq(msg.Market),
			Order:       order,
		}
	}
}

func (s *Source) emitBook(conditionID string, snap domain.BookSnapshot) {
	s.out <- ports.FeedEvent{
		Type:        ports.FeedBook,
		ConditionID: conditionID,
		Sequence:    s.nextSeq(conditionID),
		Book:        &snap,
	}
}

func (s *Source) emitResync() {
	s.out <- ports.FeedEvent{Type: ports.FeedResync}
}

// conditionFor resuelve el mercado de un token; prefiere el campo market
// del mensaje y cae al índice local.
func (s *Source) conditionFor(tokenID, market string) string {
	if market != "" {
		return market
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[tokenID]
}

func (s *Source) nextSeq(conditionID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[conditionID]++
	return s.seq[conditionID]
}

func (s *Source) storeBook(snap domain.BookSnapshot) {
	s.mu.Lock()
	s.books[snap.TokenID] = snap
	s.mu.Unlock()
}

func (s *Source) loadBook(tokenID string) (domain.BookSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.books[tokenID]
	return snap, ok
}
