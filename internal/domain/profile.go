package domain

import (
	"fmt"
	"time"
)

// Profile es un perfil de parámetros de trading. Los mercados referencian un
// perfil por nombre; el perfil efectivo se reemplaza entero en cada refresh
// de configuración, nunca se muta campo a campo.
type Profile struct {
	Name                string
	TradeSize           float64 // tamaño de cada quote en shares
	MaxSize             float64 // posición máxima por token
	MinSize             float64 // órdenes por debajo se retienen, no se colocan
	MaxSpread           float64 // spread máximo (en centavos) para cotizar
	StopLossThreshold   float64 // % PnL, ≤ 0
	TakeProfitThreshold float64 // % PnL, ≥ 0
	VolatilityThreshold float64 // % de volatilidad corta que pausa el mercado
	SpreadThreshold     float64 // spread máximo (en centavos) para ejecutar un stop-loss
	SleepPeriodHours    float64 // duración del cooldown tras un stop-loss
}

// SleepPeriod devuelve la duración del cooldown como time.Duration.
func (p Profile) SleepPeriod() time.Duration {
	return time.Duration(p.SleepPeriodHours * float64(time.Hour))
}

// Validate comprueba la coherencia interna del perfil.
func (p Profile) Validate() error {
	if p.TradeSize <= 0 {
		return fmt.Errorf("profile %q: trade_size must be > 0, got %.2f", p.Name, p.TradeSize)
	}
	if p.MaxSize < p.TradeSize {
		return fmt.Errorf("profile %q: max_size %.2f < trade_size %.2f", p.Name, p.MaxSize, p.TradeSize)
	}
	if p.MinSize < 0 {
		return fmt.Errorf("profile %q: min_size must be >= 0, got %.2f", p.Name, p.MinSize)
	}
	if p.StopLossThreshold > 0 {
		return fmt.Errorf("profile %q: stop_loss_threshold must be <= 0, got %.2f", p.Name, p.StopLossThreshold)
	}
	if p.TakeProfitThreshold < 0 {
		return fmt.Errorf("profile %q: take_profit_threshold must be >= 0, got %.2f", p.Name, p.TakeProfitThreshold)
	}
	if p.SleepPeriodHours < 0 {
		return fmt.Errorf("profile %q: sleep_period must be >= 0, got %.2f", p.Name, p.SleepPeriodHours)
	}
	return nil
}
