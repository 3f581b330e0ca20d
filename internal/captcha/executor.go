// File: internal/captcha/executor.go
package captcha

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Page is the surface of a remote browser session the orchestrator drives.
// The production implementation lives in internal/browser; tests substitute
// fakes.
type Page interface {
	// Screenshot captures the current viewport as an encoded PNG.
	Screenshot(ctx context.Context) ([]byte, error)
	// Viewport reports the current viewport dimensions in CSS pixels.
	Viewport(ctx context.Context) (width, height int, err error)
	// CurrentURL reports the page's location, used as the page indicator in
	// the model context.
	CurrentURL(ctx context.Context) (string, error)

	ClickAt(ctx context.Context, x, y int) error
	MoveMouse(ctx context.Context, x, y int) error
	TypeAt(ctx context.Context, x, y int, text string, pressEnter bool) error
	DragAndDrop(ctx context.Context, fromX, fromY, toX, toY int) error
	Scroll(ctx context.Context, direction string) error
	// Sleep pauses without touching the page (context-aware).
	Sleep(ctx context.Context, d time.Duration) error
}

// Executor translates one resolved action into exactly one primitive
// operation against the remote session. It is idempotent per action and never
// retries: retry policy belongs to the calling loop.
type Executor struct {
	page Page
	log  *zap.Logger
}

// NewExecutor binds an executor to a page.
func NewExecutor(page Page, logger *zap.Logger) *Executor {
	return &Executor{
		page: page,
		log:  logger.Named("action_executor"),
	}
}

// Execute performs a single resolved action. Failures are wrapped in
// *ExecutionError and surfaced to the caller.
func (e *Executor) Execute(ctx context.Context, a ResolvedAction) error {
	e.log.Debug("Executing action",
		zap.String("type", string(a.Type)),
		zap.Int("x", a.X),
		zap.Int("y", a.Y))

	var err error
	switch a.Type {
	case ActionClickAt:
		err = e.page.ClickAt(ctx, a.X, a.Y)
	case ActionMoveMouse:
		err = e.page.MoveMouse(ctx, a.X, a.Y)
	case ActionTypeTextAt:
		err = e.page.TypeAt(ctx, a.X, a.Y, a.Text, a.PressEnter)
	case ActionDragAndDrop:
		err = e.page.DragAndDrop(ctx, a.X, a.Y, a.ToX, a.ToY)
	case ActionScrollDocument:
		err = e.page.Scroll(ctx, a.Direction)
	case ActionWait:
		err = e.page.Sleep(ctx, WaitDuration)
	default:
		err = fmt.Errorf("unsupported action type %q", a.Type)
	}

	if err != nil {
		return &ExecutionError{Action: a.Type, Err: err}
	}
	return nil
}
