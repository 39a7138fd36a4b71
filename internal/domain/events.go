package domain

import "time"

// EventType identifica los eventos estructurados que emite el engine hacia
// el colaborador de observabilidad.
type EventType string

const (
	EventQuotePlaced    EventType = "quote_placed"
	EventQuoteCancelled EventType = "quote_cancelled"
	EventRiskTransition EventType = "risk_transition"
	EventMergeExecuted  EventType = "merge_executed"
	EventEngineError    EventType = "engine_error"
)

// Event es un evento del stream de observabilidad del engine. Payload lleva
// los detalles específicos del tipo (precio/tamaño de quote, estados de la
// transición de riesgo, cantidad mergeada, mensaje de error).
type Event struct {
	ID          string
	Type        EventType
	ConditionID string
	TokenID     string
	At          time.Time
	Payload     map[string]any
}
