// File: internal/captcha/coords.go
package captcha

import "fmt"

// GridMax is the upper bound of the normalized coordinate grid the vision
// model reports on. Points are expressed on [0, GridMax] independent of the
// actual viewport resolution.
const GridMax = 999

// Point is a position on the normalized 0-999 grid.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Denormalize converts a normalized point to real pixel coordinates of the
// target viewport. It fails with ErrInvalidCoordinate when a component is
// outside [0, GridMax] or the viewport dimensions are non-positive; an
// invalid point never reaches the browser.
func Denormalize(p Point, viewportWidth, viewportHeight int) (int, int, error) {
	if p.X < 0 || p.X > GridMax || p.Y < 0 || p.Y > GridMax {
		return 0, 0, fmt.Errorf("point (%d,%d): %w", p.X, p.Y, ErrInvalidCoordinate)
	}
	if viewportWidth <= 0 || viewportHeight <= 0 {
		return 0, 0, fmt.Errorf("viewport %dx%d: %w", viewportWidth, viewportHeight, ErrInvalidCoordinate)
	}

	px := p.X * viewportWidth / GridMax
	py := p.Y * viewportHeight / GridMax
	return px, py, nil
}
