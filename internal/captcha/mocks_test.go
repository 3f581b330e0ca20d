package captcha

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakePage records every primitive operation issued against it and can be
// programmed to fail specific calls.
type fakePage struct {
	mu    sync.Mutex
	calls []string

	width, height int
	url           string
	screenshot    []byte

	screenshotErr error
	failOn        map[string]error
	// sleepFor, when set, makes Sleep block for real (to exercise deadlines).
	sleepFor time.Duration
}

func newFakePage(width, height int) *fakePage {
	return &fakePage{
		width:      width,
		height:     height,
		url:        "https://flights.example.com/results",
		screenshot: []byte("png-bytes"),
		failOn:     make(map[string]error),
	}
}

func (p *fakePage) record(call string) error {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	err := p.failOn[call]
	p.mu.Unlock()
	return err
}

func (p *fakePage) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	if err := p.record("screenshot"); err != nil {
		return nil, err
	}
	if p.screenshotErr != nil {
		return nil, p.screenshotErr
	}
	return p.screenshot, nil
}

func (p *fakePage) Viewport(ctx context.Context) (int, int, error) {
	return p.width, p.height, nil
}

func (p *fakePage) CurrentURL(ctx context.Context) (string, error) {
	return p.url, nil
}

func (p *fakePage) ClickAt(ctx context.Context, x, y int) error {
	return p.record(fmt.Sprintf("click(%d,%d)", x, y))
}

func (p *fakePage) MoveMouse(ctx context.Context, x, y int) error {
	return p.record(fmt.Sprintf("move(%d,%d)", x, y))
}

func (p *fakePage) TypeAt(ctx context.Context, x, y int, text string, pressEnter bool) error {
	return p.record(fmt.Sprintf("type(%d,%d,%q,enter=%t)", x, y, text, pressEnter))
}

func (p *fakePage) DragAndDrop(ctx context.Context, fromX, fromY, toX, toY int) error {
	return p.record(fmt.Sprintf("drag(%d,%d->%d,%d)", fromX, fromY, toX, toY))
}

func (p *fakePage) Scroll(ctx context.Context, direction string) error {
	return p.record("scroll(" + direction + ")")
}

func (p *fakePage) Sleep(ctx context.Context, d time.Duration) error {
	if err := p.record(fmt.Sprintf("sleep(%s)", d)); err != nil {
		return err
	}
	if p.sleepFor > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.sleepFor):
		}
	}
	return nil
}

// fakeVision scripts the model's turns. Each call to NextTurn consumes the
// next scripted response.
type fakeVision struct {
	mu       sync.Mutex
	turns    []scriptedTurn
	requests []TurnRequest
	strategy string
}

type scriptedTurn struct {
	turn *AgentTurn
	err  error
}

func (v *fakeVision) AnalyzeStrategy(ctx context.Context, req TurnRequest) (string, error) {
	return v.strategy, nil
}

func (v *fakeVision) NextTurn(ctx context.Context, req TurnRequest) (*AgentTurn, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.requests = append(v.requests, req)

	if len(v.turns) == 0 {
		// Out of script: keep the loop going without progress.
		return &AgentTurn{}, nil
	}
	next := v.turns[0]
	v.turns = v.turns[1:]
	return next.turn, next.err
}

func (v *fakeVision) Requests() []TurnRequest {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]TurnRequest, len(v.requests))
	copy(out, v.requests)
	return out
}
