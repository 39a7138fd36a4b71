package domain

import "errors"

// Sentinelas de la taxonomía de errores del engine. Cada fallo de un
// colaborador externo se clasifica en una de estas categorías; la política
// de reintentos se decide por categoría, no por un wrapper genérico.
var (
	// ErrTransient: fallo de red, rate limit, timeout. Reintentable con
	// backoff acotado.
	ErrTransient = errors.New("transient failure")

	// ErrOrderRejected: el exchange rechazó la orden (fondos insuficientes,
	// precio/tick inválido). No se reintenta tal cual; el ciclo siguiente
	// recalcula los parámetros.
	ErrOrderRejected = errors.New("order rejected")

	// ErrAuth: la identidad de trading no sirve (firma/credenciales).
	// Fatal para el engine completo.
	ErrAuth = errors.New("authentication failure")

	// ErrMarketDelisted: el mercado ya no existe en el exchange. Se
	// deshabilita y se cancelan las órdenes que queden.
	ErrMarketDelisted = errors.New("market delisted")

	// ErrInconsistentFill: un fill implicaría posición negativa u otra
	// contradicción con el estado local. Se reporta como evento de riesgo
	// y el mercado pasa al estado de pausa de seguridad.
	ErrInconsistentFill = errors.New("inconsistent fill")
)

// ErrKind clasifica un error en la taxonomía del engine.
type ErrKind int

const (
	KindUnknown ErrKind = iota
	KindTransient
	KindRejected
	KindAuth
	KindDelisted
	KindInconsistent
)

// Classify devuelve la categoría del error. Errores no clasificados se
// tratan como KindUnknown, que la política de reintentos asimila a transitorio
// de un solo intento.
func Classify(err error) ErrKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrMarketDelisted):
		return KindDelisted
	case errors.Is(err, ErrOrderRejected):
		return KindRejected
	case errors.Is(err, ErrInconsistentFill):
		return KindInconsistent
	case errors.Is(err, ErrTransient):
		return KindTransient
	}
	return KindUnknown
}

func (k ErrKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRejected:
		return "rejected"
	case KindAuth:
		return "auth"
	case KindDelisted:
		return "delisted"
	case KindInconsistent:
		return "inconsistent"
	}
	return "unknown"
}
