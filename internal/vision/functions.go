// File: internal/vision/functions.go
package vision

import (
	"encoding/json"
	"fmt"

	"github.com/itslolan/TravelAgent-sub001/internal/captcha"
)

// functionDeclaration describes one callable tool to the model, following the
// Gemini function-calling schema format.
type functionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  *functionSchema `json:"parameters,omitempty"`
}

type functionSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]schemaProperty `json:"properties,omitempty"`
	Required   []string                  `json:"required,omitempty"`
}

type schemaProperty struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

const coordinateDescription = "coordinate on the 0-999 normalized grid"

// computerUseFunctions is the full tool surface offered to the model on every
// action turn. Coordinates are always on the normalized grid; the executor
// scales them to the live viewport.
var computerUseFunctions = []functionDeclaration{
	{
		Name:        "move_mouse",
		Description: "Move the mouse cursor to a position without clicking.",
		Parameters: &functionSchema{
			Type: "object",
			Properties: map[string]schemaProperty{
				"x": {Type: "number", Description: "x " + coordinateDescription},
				"y": {Type: "number", Description: "y " + coordinateDescription},
			},
			Required: []string{"x", "y"},
		},
	},
	{
		Name:        "click_at",
		Description: "Click the left mouse button at a position.",
		Parameters: &functionSchema{
			Type: "object",
			Properties: map[string]schemaProperty{
				"x": {Type: "number", Description: "x " + coordinateDescription},
				"y": {Type: "number", Description: "y " + coordinateDescription},
			},
			Required: []string{"x", "y"},
		},
	},
	{
		Name:        "type_text_at",
		Description: "Click a position to focus it, then type the given text.",
		Parameters: &functionSchema{
			Type: "object",
			Properties: map[string]schemaProperty{
				"x":           {Type: "number", Description: "x " + coordinateDescription},
				"y":           {Type: "number", Description: "y " + coordinateDescription},
				"text":        {Type: "string", Description: "text to type"},
				"press_enter": {Type: "boolean", Description: "press Enter after typing"},
			},
			Required: []string{"x", "y", "text"},
		},
	},
	{
		Name:        "drag_and_drop",
		Description: "Press at the start position, drag to the destination and release. For horizontal sliders, omit destination_y to keep the drag level.",
		Parameters: &functionSchema{
			Type: "object",
			Properties: map[string]schemaProperty{
				"x":             {Type: "number", Description: "start x " + coordinateDescription},
				"y":             {Type: "number", Description: "start y " + coordinateDescription},
				"destination_x": {Type: "number", Description: "destination x " + coordinateDescription},
				"destination_y": {Type: "number", Description: "destination y " + coordinateDescription},
			},
			Required: []string{"x", "y", "destination_x"},
		},
	},
	{
		Name:        "scroll_document",
		Description: "Scroll the page up or down by most of one viewport height.",
		Parameters: &functionSchema{
			Type: "object",
			Properties: map[string]schemaProperty{
				"direction": {Type: "string", Description: "scroll direction", Enum: []string{"up", "down"}},
			},
			Required: []string{"direction"},
		},
	},
	{
		Name:        "wait_5_seconds",
		Description: "Wait five seconds for the page to settle. Use after actions that trigger loading.",
	},
}

// functionArgs covers the union of every tool's parameters. Pointer fields
// distinguish absent from zero.
type functionArgs struct {
	X            *float64 `json:"x"`
	Y            *float64 `json:"y"`
	DestinationX *float64 `json:"destination_x"`
	DestinationY *float64 `json:"destination_y"`
	Text         *string  `json:"text"`
	PressEnter   *bool    `json:"press_enter"`
	Direction    *string  `json:"direction"`
}

// decodeFunctionCall maps one model function call onto an AgentAction. Unknown
// function names pass through verbatim so the loop's validator drops them
// instead of aborting the whole turn.
func decodeFunctionCall(call *geminiFunctionCall) (captcha.AgentAction, error) {
	var args functionArgs
	if len(call.Args) > 0 {
		if err := json.Unmarshal(call.Args, &args); err != nil {
			return captcha.AgentAction{}, fmt.Errorf("decoding args: %w", err)
		}
	}

	point := func(x, y *float64) (captcha.Point, error) {
		if x == nil || y == nil {
			return captcha.Point{}, fmt.Errorf("missing coordinates")
		}
		return captcha.Point{X: int(*x), Y: int(*y)}, nil
	}

	switch call.Name {
	case "move_mouse":
		p, err := point(args.X, args.Y)
		if err != nil {
			return captcha.AgentAction{}, err
		}
		return captcha.AgentAction{Type: captcha.ActionMoveMouse, Point: p}, nil

	case "click_at":
		p, err := point(args.X, args.Y)
		if err != nil {
			return captcha.AgentAction{}, err
		}
		return captcha.AgentAction{Type: captcha.ActionClickAt, Point: p}, nil

	case "type_text_at":
		p, err := point(args.X, args.Y)
		if err != nil {
			return captcha.AgentAction{}, err
		}
		if args.Text == nil {
			return captcha.AgentAction{}, fmt.Errorf("missing text")
		}
		a := captcha.AgentAction{Type: captcha.ActionTypeTextAt, Point: p, Text: *args.Text}
		if args.PressEnter != nil {
			a.PressEnter = *args.PressEnter
		}
		return a, nil

	case "drag_and_drop":
		p, err := point(args.X, args.Y)
		if err != nil {
			return captcha.AgentAction{}, err
		}
		if args.DestinationX == nil {
			return captcha.AgentAction{}, fmt.Errorf("missing destination_x")
		}
		dest := captcha.Point{X: int(*args.DestinationX)}
		if args.DestinationY != nil {
			dest.Y = int(*args.DestinationY)
		} else {
			// Horizontal slider: keep the drag level with the start point.
			dest.Y = p.Y
		}
		return captcha.AgentAction{Type: captcha.ActionDragAndDrop, Point: p, Dest: dest}, nil

	case "scroll_document":
		if args.Direction == nil {
			return captcha.AgentAction{}, fmt.Errorf("missing direction")
		}
		return captcha.AgentAction{Type: captcha.ActionScrollDocument, Direction: *args.Direction}, nil

	case "wait_5_seconds":
		return captcha.AgentAction{Type: captcha.ActionWait}, nil

	default:
		return captcha.AgentAction{Type: captcha.ActionType(call.Name)}, nil
	}
}
