// File: internal/captcha/action.go
package captcha

import (
	"fmt"
	"time"
)

// ActionType enumerates the operations the vision model can request.
type ActionType string

const (
	ActionClickAt        ActionType = "click_at"
	ActionTypeTextAt     ActionType = "type_text_at"
	ActionDragAndDrop    ActionType = "drag_and_drop"
	ActionScrollDocument ActionType = "scroll_document"
	ActionWait           ActionType = "wait"
	// ActionMoveMouse is a cursor-motion-only action the model emits to
	// simulate human mouse travel before interacting.
	ActionMoveMouse ActionType = "move_mouse"
)

// WaitDuration is the fixed settle period for the wait action. It gives the
// remote page time to render after a navigation; nothing is polled.
const WaitDuration = 5 * time.Second

// AgentAction is one decided step from the vision model, expressed on the
// normalized grid.
type AgentAction struct {
	Type ActionType `json:"type"`
	// Point is the target for click, type, move and the drag start.
	Point Point `json:"point"`
	// Dest is the drag destination; meaningful only for drag_and_drop.
	Dest Point `json:"dest,omitempty"`
	// Text is present only for type_text_at.
	Text string `json:"text,omitempty"`
	// PressEnter submits the typed text with an Enter keystroke.
	PressEnter bool `json:"press_enter,omitempty"`
	// Direction is present only for scroll_document: "up" or "down".
	Direction string `json:"direction,omitempty"`
}

// AgentTurn is one iteration of the vision-agent loop: the ordered actions
// the model decided on, whether it considers the challenge resolved, and a
// human-readable note for the logs.
type AgentTurn struct {
	Actions  []AgentAction
	Complete bool
	Message  string
}

// ResolvedAction is an AgentAction with its coordinates denormalized to real
// viewport pixels. This is the only form the executor accepts.
type ResolvedAction struct {
	Type       ActionType
	X, Y       int
	ToX, ToY   int
	Text       string
	PressEnter bool
	Direction  string
}

// Resolve denormalizes an action against the given viewport. Actions carrying
// an out-of-range point fail with ErrInvalidCoordinate and must be dropped by
// the caller without reaching the browser.
func Resolve(a AgentAction, viewportWidth, viewportHeight int) (ResolvedAction, error) {
	r := ResolvedAction{
		Type:       a.Type,
		Text:       a.Text,
		PressEnter: a.PressEnter,
		Direction:  a.Direction,
	}

	switch a.Type {
	case ActionClickAt, ActionTypeTextAt, ActionMoveMouse:
		x, y, err := Denormalize(a.Point, viewportWidth, viewportHeight)
		if err != nil {
			return ResolvedAction{}, err
		}
		r.X, r.Y = x, y

	case ActionDragAndDrop:
		x, y, err := Denormalize(a.Point, viewportWidth, viewportHeight)
		if err != nil {
			return ResolvedAction{}, err
		}
		toX, toY, err := Denormalize(a.Dest, viewportWidth, viewportHeight)
		if err != nil {
			return ResolvedAction{}, err
		}
		r.X, r.Y = x, y
		r.ToX, r.ToY = toX, toY

	case ActionScrollDocument:
		if a.Direction != "up" && a.Direction != "down" {
			return ResolvedAction{}, fmt.Errorf("scroll direction %q: %w", a.Direction, ErrInvalidCoordinate)
		}

	case ActionWait:
		// No coordinates to resolve.

	default:
		return ResolvedAction{}, fmt.Errorf("unknown action type %q: %w", a.Type, ErrInvalidCoordinate)
	}

	return r, nil
}
