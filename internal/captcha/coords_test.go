package captcha

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDenormalize(t *testing.T) {
	t.Run("maps grid center onto the viewport", func(t *testing.T) {
		x, y, err := Denormalize(Point{X: 500, Y: 500}, 1000, 800)
		require.NoError(t, err)
		assert.Equal(t, 500, x)
		assert.Equal(t, 400, y)
	})

	t.Run("grid extremes map to viewport extremes", func(t *testing.T) {
		x, y, err := Denormalize(Point{X: 0, Y: 0}, 1440, 900)
		require.NoError(t, err)
		assert.Equal(t, 0, x)
		assert.Equal(t, 0, y)

		x, y, err = Denormalize(Point{X: GridMax, Y: GridMax}, 1440, 900)
		require.NoError(t, err)
		assert.Equal(t, 1440, x)
		assert.Equal(t, 900, y)
	})

	t.Run("result always lands inside the viewport", func(t *testing.T) {
		viewports := [][2]int{{1440, 900}, {1000, 800}, {375, 667}, {1, 1}}
		for _, vp := range viewports {
			for _, p := range []Point{{0, 0}, {1, 998}, {333, 666}, {999, 999}, {500, 1}} {
				x, y, err := Denormalize(p, vp[0], vp[1])
				require.NoError(t, err)
				assert.GreaterOrEqual(t, x, 0)
				assert.LessOrEqual(t, x, vp[0])
				assert.GreaterOrEqual(t, y, 0)
				assert.LessOrEqual(t, y, vp[1])
			}
		}
	})

	t.Run("rejects out of range components", func(t *testing.T) {
		for _, p := range []Point{{-1, 500}, {500, -1}, {1000, 500}, {500, 1000}} {
			_, _, err := Denormalize(p, 1440, 900)
			assert.ErrorIs(t, err, ErrInvalidCoordinate, "point %+v", p)
		}
	})

	t.Run("rejects non-positive viewport dimensions", func(t *testing.T) {
		_, _, err := Denormalize(Point{X: 10, Y: 10}, 0, 900)
		assert.ErrorIs(t, err, ErrInvalidCoordinate)

		_, _, err = Denormalize(Point{X: 10, Y: 10}, 1440, -1)
		assert.ErrorIs(t, err, ErrInvalidCoordinate)
	})
}
