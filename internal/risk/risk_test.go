package risk

import (
	"testing"
	"time"

	"github.com/alejandrodnm/mmbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testProfile() domain.Profile {
	return domain.Profile{
		Name:                "default",
		TradeSize:           20,
		MaxSize:             100,
		MinSize:             5,
		MaxSpread:           5,
		StopLossThreshold:   -3,
		TakeProfitThreshold: 4,
		VolatilityThreshold: 2,
		SpreadThreshold:     4,
		SleepPeriodHours:    2,
	}
}

func testInput(bid, ask float64) Input {
	return Input{
		Market: domain.Market{
			ConditionID: "0xcond",
			YesTokenID:  "yes",
			NoTokenID:   "no",
			TickSize:    0.01,
		},
		TokenID: "yes",
		Book: domain.BookSnapshot{
			TokenID:    "yes",
			Bids:       []domain.BookLevel{{Price: bid, Size: 500}},
			Asks:       []domain.BookLevel{{Price: ask, Size: 500}},
			ObservedAt: now,
		},
		Profile: testProfile(),
		State:   domain.ActiveState(),
		Now:     now,
	}
}

func TestEvaluate_StopLossFiresBelowThreshold(t *testing.T) {
	// mid = 0.485 contra avg 0.50 ⇒ PnL = -3% ≤ umbral -3%.
	in := testInput(0.47, 0.50)
	in.Position = domain.Position{Size: 30, AvgPrice: 0.50}

	d := Evaluate(in)
	require.NotNil(t, d.ForcedExit)
	assert.Equal(t, "yes", d.ForcedExit.TokenID)
	assert.Equal(t, 0.47, d.ForcedExit.Price, "salida al best bid")
	assert.Equal(t, 30.0, d.ForcedExit.Size)

	assert.True(t, d.Transitioned)
	assert.Equal(t, domain.RiskCooldown, d.State.Mode)
	assert.Equal(t, now.Add(2*time.Hour), d.State.Until)
	assert.Equal(t, ReasonStopLoss, d.State.Reason)
}

func TestEvaluate_StopLossNotFiredAboveThreshold(t *testing.T) {
	// mid = 0.49 contra avg 0.50 ⇒ PnL = -2% > umbral -3%: se aguanta.
	in := testInput(0.48, 0.50)
	in.Position = domain.Position{Size: 30, AvgPrice: 0.50}

	d := Evaluate(in)
	assert.Nil(t, d.ForcedExit)
	assert.False(t, d.DeferredExit)
	assert.Equal(t, domain.RiskActive, d.State.Mode)
}

func TestEvaluate_StopLossDeferredOnWideSpread(t *testing.T) {
	// PnL -6% pero spread de 6 centavos > SpreadThreshold 4: posponer.
	in := testInput(0.44, 0.50)
	in.Position = domain.Position{Size: 30, AvgPrice: 0.50}

	d := Evaluate(in)
	assert.Nil(t, d.ForcedExit)
	assert.True(t, d.DeferredExit)
	assert.False(t, d.Transitioned)
}

func TestEvaluate_DeferralBudgetForcesExit(t *testing.T) {
	in := testInput(0.44, 0.50)
	in.Position = domain.Position{Size: 30, AvgPrice: 0.50}
	in.StopDeferrals = MaxStopDeferrals

	d := Evaluate(in)
	require.NotNil(t, d.ForcedExit, "presupuesto agotado: salir al precio que haya")
	assert.Equal(t, domain.RiskCooldown, d.State.Mode)
}

func TestEvaluate_CooldownSuppressesVolatilityGate(t *testing.T) {
	in := testInput(0.48, 0.50)
	in.State = domain.CooldownState(now.Add(time.Hour), ReasonStopLoss)
	in.Volatility = 10 // muy por encima del umbral

	d := Evaluate(in)
	// El cooldown vigente manda: sin transición a VOLATILITY_PAUSED.
	assert.Equal(t, domain.RiskCooldown, d.State.Mode)
	assert.False(t, d.Transitioned)
}

func TestEvaluate_CooldownExpiresToActive(t *testing.T) {
	in := testInput(0.48, 0.50)
	in.State = domain.CooldownState(now.Add(-time.Second), ReasonStopLoss)

	d := Evaluate(in)
	assert.Equal(t, domain.RiskActive, d.State.Mode)
	assert.True(t, d.Transitioned)
}

func TestEvaluate_CooldownExactDeadlineExpires(t *testing.T) {
	in := testInput(0.48, 0.50)
	in.State = domain.CooldownState(now, ReasonStopLoss)

	d := Evaluate(in)
	// En el instante exacto del deadline el cooldown ya no está vigente.
	assert.Equal(t, domain.RiskActive, d.State.Mode)
	assert.True(t, d.Transitioned)
}

func TestEvaluate_VolatilityPausesAndRecovers(t *testing.T) {
	in := testInput(0.48, 0.50)
	in.Volatility = 3 // umbral 2

	d := Evaluate(in)
	assert.Equal(t, domain.RiskVolatilityPaused, d.State.Mode)
	assert.Equal(t, ReasonVolatility, d.State.Reason)
	assert.True(t, d.Transitioned)

	// La métrica baja: recuperación automática.
	in.State = d.State
	in.Volatility = 1
	d = Evaluate(in)
	assert.Equal(t, domain.RiskActive, d.State.Mode)
	assert.True(t, d.Transitioned)
}

func TestEvaluate_InconsistencyPauseIsSticky(t *testing.T) {
	in := testInput(0.48, 0.50)
	in.State = domain.PausedState(ReasonInconsistency)
	in.Volatility = 0

	d := Evaluate(in)
	// Solo se levanta a mano: ni la volatilidad baja ni nada la resetea.
	assert.Equal(t, domain.RiskVolatilityPaused, d.State.Mode)
	assert.Equal(t, ReasonInconsistency, d.State.Reason)
	assert.False(t, d.Transitioned)
}

func TestEvaluate_StopLossWinsOverVolatilityPause(t *testing.T) {
	// Pausado por volatilidad pero la posición sigue sangrando: sale igual.
	in := testInput(0.44, 0.46)
	in.State = domain.PausedState(ReasonVolatility)
	in.Volatility = 10
	in.Position = domain.Position{Size: 30, AvgPrice: 0.50}

	d := Evaluate(in)
	require.NotNil(t, d.ForcedExit)
	assert.Equal(t, domain.RiskCooldown, d.State.Mode)
}

func TestEvaluate_TakeProfitQuote(t *testing.T) {
	// mid = 0.53 contra avg 0.50 ⇒ +6% ≥ umbral 4%.
	in := testInput(0.52, 0.54)
	in.Position = domain.Position{Size: 30, AvgPrice: 0.50}

	d := Evaluate(in)
	assert.Nil(t, d.ForcedExit)
	require.NotNil(t, d.TakeProfit)
	assert.Equal(t, domain.SideSell, d.TakeProfit.Side)
	// Objetivo 0.52, pero el best ask (0.54) está mejor: no regalar precio.
	assert.Equal(t, 0.54, d.TakeProfit.Price)
	assert.Equal(t, 30.0, d.TakeProfit.Size)
	assert.False(t, d.Transitioned, "take-profit no es transición de estado")
}

func TestTransitionEventPayload_CooldownCarriesDeadline(t *testing.T) {
	until := now.Add(2 * time.Hour)
	p := TransitionEventPayload(domain.ActiveState(), domain.CooldownState(until, ReasonStopLoss), -3.5)

	assert.Equal(t, "ACTIVE", p["from"])
	assert.Equal(t, ReasonStopLoss, p["reason"])
	assert.Equal(t, until.UTC().Format(time.RFC3339), p["cooldown_until"])

	p = TransitionEventPayload(domain.ActiveState(), domain.PausedState(ReasonVolatility), 0)
	_, ok := p["cooldown_until"]
	assert.False(t, ok)
}
