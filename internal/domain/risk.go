package domain

import (
	"fmt"
	"time"
)

// RiskMode es el modo de riesgo de un mercado. Ningún modo es terminal:
// todos se reevalúan en cada ciclo.
type RiskMode string

const (
	// RiskActive permite cotizar con normalidad.
	RiskActive RiskMode = "ACTIVE"
	// RiskCooldown suprime entradas hasta Until (tras un stop-loss).
	RiskCooldown RiskMode = "COOLDOWN"
	// RiskVolatilityPaused suprime entradas mientras la volatilidad corta
	// supere el umbral del perfil, o tras una inconsistencia de datos
	// pendiente de reconciliación manual.
	RiskVolatilityPaused RiskMode = "VOLATILITY_PAUSED"
)

// RiskState es el estado de riesgo de un mercado.
type RiskState struct {
	Mode  RiskMode
	Until time.Time // solo con Mode == RiskCooldown
	// Reason documenta por qué el mercado no está Active (para el event stream).
	Reason string
}

// ActiveState devuelve el estado normal de cotización.
func ActiveState() RiskState {
	return RiskState{Mode: RiskActive}
}

// CooldownState devuelve un estado Cooldown hasta el instante dado.
func CooldownState(until time.Time, reason string) RiskState {
	return RiskState{Mode: RiskCooldown, Until: until, Reason: reason}
}

// PausedState devuelve un estado VolatilityPaused.
func PausedState(reason string) RiskState {
	return RiskState{Mode: RiskVolatilityPaused, Reason: reason}
}

// AllowsEntries devuelve true si el estado permite quotes de entrada.
// Un Cooldown expirado NO cuenta como activo aquí: la transición de vuelta
// a Active la hace el RiskManager en su pasada de cada ciclo.
func (s RiskState) AllowsEntries() bool {
	return s.Mode == RiskActive
}

// Expired devuelve true si el estado es un Cooldown ya vencido.
func (s RiskState) Expired(now time.Time) bool {
	return s.Mode == RiskCooldown && !now.Before(s.Until)
}

func (s RiskState) String() string {
	if s.Mode == RiskCooldown {
		return fmt.Sprintf("%s(until %s)", s.Mode, s.Until.UTC().Format(time.RFC3339))
	}
	return string(s.Mode)
}
