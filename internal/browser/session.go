// File: internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/itslolan/TravelAgent-sub001/internal/captcha"
	"github.com/itslolan/TravelAgent-sub001/internal/config"
)

// Page drives one provider-hosted browser over CDP. It implements
// captcha.Page; all operations run against the session's first tab.
type Page struct {
	remote *RemoteSession
	logger *zap.Logger

	// fallback viewport when layout metrics are unavailable.
	fallbackWidth  int
	fallbackHeight int

	// navTimeout bounds page loads; zero means no bound beyond the caller's.
	navTimeout time.Duration

	ctx         context.Context
	cancelCtx   context.CancelFunc
	cancelAlloc context.CancelFunc

	closeOnce sync.Once
	onClose   func()
}

var _ captcha.Page = (*Page)(nil)

// Connect attaches to an existing remote session over its CDP websocket.
// onClose, if non-nil, runs exactly once when the page is closed.
func Connect(parentCtx context.Context, remote *RemoteSession, cfg config.BrowserConfig, logger *zap.Logger, onClose func()) (*Page, error) {
	if remote.ConnectURL == "" {
		return nil, fmt.Errorf("remote session %s has no connect URL", remote.ID)
	}

	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(parentCtx, remote.ConnectURL)
	ctx, cancelCtx := chromedp.NewContext(allocCtx)

	p := &Page{
		remote:         remote,
		logger:         logger.Named("browser.page").With(zap.String("session_id", remote.ID)),
		fallbackWidth:  cfg.ViewportWidth,
		fallbackHeight: cfg.ViewportHeight,
		navTimeout:     cfg.NavigationTimeout,
		ctx:            ctx,
		cancelCtx:      cancelCtx,
		cancelAlloc:    cancelAlloc,
		onClose:        onClose,
	}

	// Establish the CDP connection eagerly so a dead session fails here
	// instead of on the first action.
	if err := chromedp.Run(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("attaching to remote session %s: %w", remote.ID, err)
	}
	return p, nil
}

// SessionID reports the provider-side session identifier.
func (p *Page) SessionID() string { return p.remote.ID }

// LiveViewURL reports the link a human can open to see and drive the session.
func (p *Page) LiveViewURL() string { return p.remote.LiveViewURL }

// Navigate loads a URL and waits for the load event, bounded by the
// configured navigation timeout.
func (p *Page) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := p.navigationContext(ctx)
	defer cancel()

	if err := p.run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

// navigationContext derives the load deadline from the navigation timeout,
// keeping any earlier caller deadline.
func (p *Page) navigationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.navTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.navTimeout)
}

// Screenshot captures the visible viewport as a PNG.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}
	return buf, nil
}

// Viewport reports the live CSS viewport size. Falls back to the configured
// dimensions when layout metrics are not yet available (e.g. about:blank).
func (p *Page) Viewport(ctx context.Context) (int, int, error) {
	width, height := p.fallbackWidth, p.fallbackHeight

	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, _, _, cssVisualViewport, _, err := page.GetLayoutMetrics().Do(ctx)
		if err != nil {
			return err
		}
		if cssVisualViewport != nil && cssVisualViewport.ClientWidth > 0 && cssVisualViewport.ClientHeight > 0 {
			width = int(cssVisualViewport.ClientWidth)
			height = int(cssVisualViewport.ClientHeight)
		}
		return nil
	}))
	if err != nil {
		p.logger.Debug("Layout metrics unavailable, using configured viewport", zap.Error(err))
		return p.fallbackWidth, p.fallbackHeight, nil
	}
	return width, height, nil
}

// CurrentURL reports the page's location.
func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := p.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("reading location: %w", err)
	}
	return url, nil
}

// ClickAt presses and releases the left button at viewport coordinates.
func (p *Page) ClickAt(ctx context.Context, x, y int) error {
	err := p.run(ctx,
		chromedp.MouseEvent(input.MouseMoved, float64(x), float64(y)),
		chromedp.MouseEvent(input.MousePressed, float64(x), float64(y), chromedp.Button("left"), chromedp.ClickCount(1)),
		chromedp.MouseEvent(input.MouseReleased, float64(x), float64(y), chromedp.Button("left"), chromedp.ClickCount(1)),
	)
	if err != nil {
		return fmt.Errorf("clicking at (%d,%d): %w", x, y, err)
	}
	return nil
}

// MoveMouse moves the cursor without pressing a button.
func (p *Page) MoveMouse(ctx context.Context, x, y int) error {
	if err := p.run(ctx, chromedp.MouseEvent(input.MouseMoved, float64(x), float64(y))); err != nil {
		return fmt.Errorf("moving mouse to (%d,%d): %w", x, y, err)
	}
	return nil
}

// TypeAt clicks to focus the element at the coordinates, inserts the text and
// optionally submits with Enter.
func (p *Page) TypeAt(ctx context.Context, x, y int, text string, pressEnter bool) error {
	if err := p.ClickAt(ctx, x, y); err != nil {
		return err
	}

	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.InsertText(text).Do(ctx)
		}),
	}
	if pressEnter {
		actions = append(actions, chromedp.KeyEvent("\r"))
	}

	if err := p.run(ctx, actions...); err != nil {
		return fmt.Errorf("typing at (%d,%d): %w", x, y, err)
	}
	return nil
}

// DragAndDrop presses at the start point, glides to the destination in small
// steps and releases. Sliders ignore single-jump drags, so the path is
// interpolated.
func (p *Page) DragAndDrop(ctx context.Context, fromX, fromY, toX, toY int) error {
	const steps = 12

	actions := []chromedp.Action{
		chromedp.MouseEvent(input.MouseMoved, float64(fromX), float64(fromY)),
		chromedp.MouseEvent(input.MousePressed, float64(fromX), float64(fromY), chromedp.Button("left"), chromedp.ClickCount(1)),
	}
	for i := 1; i <= steps; i++ {
		x := float64(fromX) + float64(toX-fromX)*float64(i)/steps
		y := float64(fromY) + float64(toY-fromY)*float64(i)/steps
		actions = append(actions,
			chromedp.MouseEvent(input.MouseMoved, x, y, chromedp.Button("left")),
			chromedp.Sleep(15*time.Millisecond),
		)
	}
	actions = append(actions,
		chromedp.MouseEvent(input.MouseReleased, float64(toX), float64(toY), chromedp.Button("left"), chromedp.ClickCount(1)),
	)

	if err := p.run(ctx, actions...); err != nil {
		return fmt.Errorf("dragging (%d,%d) to (%d,%d): %w", fromX, fromY, toX, toY, err)
	}
	return nil
}

// Scroll moves the document by most of one viewport height in the given
// direction.
func (p *Page) Scroll(ctx context.Context, direction string) error {
	_, height, err := p.Viewport(ctx)
	if err != nil {
		return err
	}

	delta := int(float64(height) * 0.8)
	if direction == "up" {
		delta = -delta
	}

	script := fmt.Sprintf("window.scrollBy({top: %d, behavior: 'smooth'}); true", delta)
	if err := p.run(ctx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("scrolling %s: %w", direction, err)
	}
	return nil
}

// Sleep pauses without touching the page.
func (p *Page) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears down the CDP connection. Safe to call more than once.
func (p *Page) Close() {
	p.closeOnce.Do(func() {
		p.cancelCtx()
		p.cancelAlloc()
		if p.onClose != nil {
			p.onClose()
		}
		p.logger.Debug("Page closed")
	})
}

// run executes chromedp actions on the session tab, honoring the caller's
// deadline on top of the session context.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := p.ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(p.ctx, deadline)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(runCtx, actions...)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
