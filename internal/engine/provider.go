package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/mmbot/internal/ports"
	"github.com/alejandrodnm/mmbot/internal/retrypolicy"
)

// ConfigProvider refresca la configuración externa en un timer y publica
// snapshots inmutables por atomic pointer swap: un lector ve el snapshot
// viejo o el nuevo entero, jamás una mezcla de perfiles a medio refrescar.
type ConfigProvider struct {
	source   ports.ConfigSource
	interval time.Duration
	snap     atomic.Pointer[ports.ConfigSnapshot]
	changed  chan struct{}
}

// NewConfigProvider crea el provider sin snapshot inicial; llamar a Refresh
// antes de arrancar el engine.
func NewConfigProvider(source ports.ConfigSource, interval time.Duration) *ConfigProvider {
	return &ConfigProvider{
		source:   source,
		interval: interval,
		changed:  make(chan struct{}, 1),
	}
}

// Snapshot devuelve el último snapshot publicado. ok == false antes del
// primer Refresh con éxito.
func (p *ConfigProvider) Snapshot() (ports.ConfigSnapshot, bool) {
	s := p.snap.Load()
	if s == nil {
		return ports.ConfigSnapshot{}, false
	}
	return *s, true
}

// Changed notifica (con coalescing) cada snapshot nuevo publicado.
func (p *ConfigProvider) Changed() <-chan struct{} {
	return p.changed
}

// Refresh trae y publica un snapshot nuevo. Valida los perfiles antes de
// publicar: una config rota no sustituye a la última buena.
func (p *ConfigProvider) Refresh(ctx context.Context) error {
	var snap ports.ConfigSnapshot
	err := retrypolicy.Do(ctx, "config.fetch", func() error {
		var err error
		snap, err = p.source.Fetch(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("engine.ConfigProvider: fetch: %w", err)
	}

	for name, profile := range snap.Profiles {
		if err := profile.Validate(); err != nil {
			return fmt.Errorf("engine.ConfigProvider: %s: %w", name, err)
		}
	}

	p.snap.Store(&snap)
	select {
	case p.changed <- struct{}{}:
	default:
	}

	slog.Info("config: snapshot refreshed",
		"markets", len(snap.Markets),
		"profiles", len(snap.Profiles),
	)
	return nil
}

// Run refresca en bucle hasta que el contexto muera. Un refresh fallido
// mantiene el snapshot anterior: la staleness de un intervalo es aceptable.
func (p *ConfigProvider) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil {
				slog.Warn("config: refresh failed, keeping previous snapshot", "err", err)
			}
		}
	}
}
