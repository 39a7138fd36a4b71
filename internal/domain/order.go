package domain

import "time"

// Side es la dirección de una orden.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite devuelve el lado contrario.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus es el estado del ciclo de vida de una orden en el CLOB.
//
//	Pending → Open → {Filled, Cancelled, Rejected}
//
// Un fill parcial mantiene la orden en Open con FilledSize > 0.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderOpen      OrderStatus = "OPEN"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderRejected  OrderStatus = "REJECTED"
)

// Live devuelve true si la orden sigue descansando en el book (o en camino).
func (s OrderStatus) Live() bool {
	return s == OrderPending || s == OrderOpen
}

// RestingOrder es una orden nuestra descansando en el CLOB.
// Invariante del bot: como máximo UNA orden viva por (mercado, lado) —
// el OrderManager cancela antes de reemplazar, nunca apila órdenes.
type RestingOrder struct {
	ID          string // ID local (uuid)
	CLOBOrderID string // ID asignado por el exchange
	ConditionID string
	TokenID     string
	Side        Side
	Price       float64
	Size        float64
	FilledSize  float64
	Status      OrderStatus
	PlacedAt    time.Time
}

// Remaining devuelve el tamaño aún no ejecutado.
func (o RestingOrder) Remaining() float64 {
	r := o.Size - o.FilledSize
	if r < 0 {
		return 0
	}
	return r
}

// Quote es un precio y tamaño deseado para un lado del mercado.
type Quote struct {
	TokenID string
	Side    Side
	Price   float64
	Size    float64
}

// DesiredQuotes es el par de quotes que la estrategia quiere tener descansando.
// Un puntero nil significa "ninguna orden en ese lado".
type DesiredQuotes struct {
	Bid *Quote
	Ask *Quote
}

// Fill es una ejecución confirmada contra una de nuestras órdenes.
type Fill struct {
	CLOBOrderID string
	ConditionID string
	TokenID     string
	Side        Side
	Price       float64
	Size        float64
	Timestamp   time.Time
	Sequence    uint64 // número de secuencia del feed, creciente por mercado
}
