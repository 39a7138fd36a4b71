package domain

import (
	"fmt"
	"math"
)

// Position es la posición en un token: tamaño con signo positivo (no se
// modela short) y precio medio de entrada. AvgPrice no tiene significado
// cuando Size == 0.
type Position struct {
	Size     float64
	AvgPrice float64
}

// ApplyFill aplica una ejecución confirmada a la posición.
//
// Compras: el precio medio se recalcula ponderado por tamaño. Ventas: el
// tamaño baja y el precio medio queda intacto (el PnL realizado se deriva,
// no se guarda aquí). Una venta mayor que la posición es una inconsistencia
// externa y se devuelve como error — nunca se recorta en silencio.
func (p Position) ApplyFill(side Side, size, price float64) (Position, error) {
	if size <= 0 {
		return p, fmt.Errorf("position: fill size must be > 0, got %.4f", size)
	}

	switch side {
	case SideBuy:
		total := p.Size + size
		avg := (p.Size*p.AvgPrice + size*price) / total
		return Position{Size: roundSize(total), AvgPrice: roundPrice(avg)}, nil

	case SideSell:
		if size > p.Size+sizeEpsilon {
			return p, fmt.Errorf("%w: sell %.4f exceeds position %.4f",
				ErrInconsistentFill, size, p.Size)
		}
		remaining := p.Size - size
		if remaining < sizeEpsilon {
			return Position{}, nil
		}
		return Position{Size: roundSize(remaining), AvgPrice: p.AvgPrice}, nil
	}

	return p, fmt.Errorf("position: unknown side %q", side)
}

// PnLPct devuelve el PnL porcentual de la posición contra el precio mid actual.
// Devuelve 0 sin posición o sin precio medio.
func (p Position) PnLPct(mid float64) float64 {
	if p.Size <= 0 || p.AvgPrice <= 0 {
		return 0
	}
	return (mid - p.AvgPrice) / p.AvgPrice * 100
}

// Notional devuelve el valor de la posición a precio de entrada.
func (p Position) Notional() float64 {
	return p.Size * p.AvgPrice
}

// sizeEpsilon absorbe el ruido de redondeo del exchange (sizes con 2 decimales).
const sizeEpsilon = 1e-6

func roundSize(v float64) float64 {
	return math.Round(v*100) / 100
}

func roundPrice(v float64) float64 {
	return math.Round(v*10000) / 10000
}
