package valueobjects

import (
	"math"

	pkgerrors "prism-backend/pkg/errors"
)

// Position is a value object carrying node coordinates resolved by the front
// end. The core never interprets it geometrically; it is passed through so a
// caller can round-trip layout hints alongside an edit action.
type Position struct {
	x float64
	y float64
}

// NewPosition creates a position with validation
func NewPosition(x, y float64) (Position, error) {
	if !isValidCoordinate(x) || !isValidCoordinate(y) {
		return Position{}, pkgerrors.NewValidation("invalid coordinates: must be finite numbers")
	}
	return Position{x: x, y: y}, nil
}

// X returns the X coordinate
func (p Position) X() float64 {
	return p.x
}

// Y returns the Y coordinate
func (p Position) Y() float64 {
	return p.y
}

// IsZero checks if this is the zero position
func (p Position) IsZero() bool {
	return p.x == 0 && p.y == 0
}

func isValidCoordinate(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
