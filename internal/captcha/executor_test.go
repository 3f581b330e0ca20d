package captcha

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestExecutorExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("each action maps to exactly one primitive", func(t *testing.T) {
		page := newFakePage(1440, 900)
		exec := NewExecutor(page, zap.NewNop())

		actions := []ResolvedAction{
			{Type: ActionClickAt, X: 10, Y: 20},
			{Type: ActionMoveMouse, X: 30, Y: 40},
			{Type: ActionTypeTextAt, X: 50, Y: 60, Text: "BOS", PressEnter: true},
			{Type: ActionDragAndDrop, X: 1, Y: 2, ToX: 3, ToY: 4},
			{Type: ActionScrollDocument, Direction: "down"},
			{Type: ActionWait},
		}
		for _, a := range actions {
			require.NoError(t, exec.Execute(ctx, a))
		}

		assert.Equal(t, []string{
			"click(10,20)",
			"move(30,40)",
			`type(50,60,"BOS",enter=true)`,
			"drag(1,2->3,4)",
			"scroll(down)",
			"sleep(5s)",
		}, page.Calls())
	})

	t.Run("wait sleeps the fixed settle period", func(t *testing.T) {
		page := newFakePage(1440, 900)
		exec := NewExecutor(page, zap.NewNop())

		require.NoError(t, exec.Execute(ctx, ResolvedAction{Type: ActionWait}))
		assert.Contains(t, page.Calls(), "sleep("+WaitDuration.String()+")")
		assert.Equal(t, 5*time.Second, WaitDuration)
	})

	t.Run("browser faults surface as ExecutionError without retry", func(t *testing.T) {
		page := newFakePage(1440, 900)
		boom := errors.New("session closed")
		page.failOn["click(10,20)"] = boom
		exec := NewExecutor(page, zap.NewNop())

		err := exec.Execute(ctx, ResolvedAction{Type: ActionClickAt, X: 10, Y: 20})
		require.Error(t, err)

		var execErr *ExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, ActionClickAt, execErr.Action)
		assert.ErrorIs(t, err, boom)
		assert.Len(t, page.Calls(), 1, "executor must not retry internally")
	})
}

func TestResolve(t *testing.T) {
	t.Run("denormalizes click coordinates", func(t *testing.T) {
		r, err := Resolve(AgentAction{Type: ActionClickAt, Point: Point{X: 500, Y: 500}}, 1000, 800)
		require.NoError(t, err)
		assert.Equal(t, 500, r.X)
		assert.Equal(t, 400, r.Y)
	})

	t.Run("denormalizes both ends of a drag", func(t *testing.T) {
		r, err := Resolve(AgentAction{
			Type:  ActionDragAndDrop,
			Point: Point{X: 0, Y: 999},
			Dest:  Point{X: 999, Y: 999},
		}, 1000, 800)
		require.NoError(t, err)
		assert.Equal(t, 0, r.X)
		assert.Equal(t, 800, r.Y)
		assert.Equal(t, 1000, r.ToX)
		assert.Equal(t, 800, r.ToY)
	})

	t.Run("rejects out-of-range points before the browser is touched", func(t *testing.T) {
		_, err := Resolve(AgentAction{Type: ActionClickAt, Point: Point{X: 1200, Y: 10}}, 1000, 800)
		assert.ErrorIs(t, err, ErrInvalidCoordinate)

		_, err = Resolve(AgentAction{
			Type:  ActionDragAndDrop,
			Point: Point{X: 10, Y: 10},
			Dest:  Point{X: -5, Y: 10},
		}, 1000, 800)
		assert.ErrorIs(t, err, ErrInvalidCoordinate)
	})

	t.Run("rejects unknown scroll directions and types", func(t *testing.T) {
		_, err := Resolve(AgentAction{Type: ActionScrollDocument, Direction: "sideways"}, 1000, 800)
		assert.ErrorIs(t, err, ErrInvalidCoordinate)

		_, err = Resolve(AgentAction{Type: ActionType("teleport")}, 1000, 800)
		assert.ErrorIs(t, err, ErrInvalidCoordinate)
	})

	t.Run("wait needs no coordinates", func(t *testing.T) {
		r, err := Resolve(AgentAction{Type: ActionWait}, 1000, 800)
		require.NoError(t, err)
		assert.Equal(t, ActionWait, r.Type)
	})
}
