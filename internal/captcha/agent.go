// File: internal/captcha/agent.go
package captcha

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TurnRequest is the perception payload submitted to the vision endpoint:
// the current screenshot plus enough context for the model to ground its
// coordinates.
type TurnRequest struct {
	Screenshot []byte
	Task       string
	Width      int
	Height     int
	CurrentURL string
}

// VisionModel is the external vision-language endpoint that decides actions.
// The production Gemini client lives in internal/vision.
type VisionModel interface {
	// AnalyzeStrategy runs a plan-only turn: the model describes the
	// challenge and its approach without emitting actions.
	AnalyzeStrategy(ctx context.Context, req TurnRequest) (string, error)
	// NextTurn submits a screenshot and task and returns the model's decided
	// actions. It must fail explicitly when the endpoint is unreachable or
	// the response cannot be parsed.
	NextTurn(ctx context.Context, req TurnRequest) (*AgentTurn, error)
}

// LoopConfig bounds one agent loop run.
type LoopConfig struct {
	MaxIterations    int
	TurnTimeout      time.Duration
	StrategyAnalysis bool
}

// AgentLoop drives the perceive-decide-act-assess cycle for a single blocked
// session until the model reports completion or the iteration budget is
// spent. It implements Strategy for AI mode.
type AgentLoop struct {
	minionID  string
	sessionID string
	page      Page
	exec      *Executor
	vision    VisionModel
	registry  *Registry
	cfg       LoopConfig
	log       *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewAgentLoop wires an agent loop for one session.
func NewAgentLoop(minionID, sessionID string, page Page, vision VisionModel, registry *Registry, cfg LoopConfig, logger *zap.Logger) *AgentLoop {
	log := logger.Named("agent_loop").With(
		zap.String("minion_id", minionID),
		zap.String("session_id", sessionID),
	)
	return &AgentLoop{
		minionID:  minionID,
		sessionID: sessionID,
		page:      page,
		exec:      NewExecutor(page, log),
		vision:    vision,
		registry:  registry,
		cfg:       cfg,
		log:       log,
	}
}

// Method implements Strategy.
func (l *AgentLoop) Method() Method { return MethodAI }

// Cancel implements Strategy: it stops the loop from issuing further actions.
// In-flight provider calls are allowed to complete; their results are
// discarded. The registry entry is removed by the canceled Start call.
func (l *AgentLoop) Cancel() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Start runs the loop to a terminal state. On return the registry always
// holds a solved or failed entry for the minion - or none at all if the run
// was abandoned.
func (l *AgentLoop) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()

	l.registry.Upsert(l.minionID, l.sessionID, StatusPending, MethodAI)

	task := solveTask
	if l.cfg.StrategyAnalysis {
		if note := l.analyzeStrategy(ctx); note != "" {
			task = fmt.Sprintf("%s\n\nStrategy from your initial analysis:\n%s", solveTask, note)
		}
	}

	for iteration := 1; iteration <= l.cfg.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return l.abandon(err)
		}

		complete, err := l.runTurn(ctx, task, iteration)
		switch {
		case err == nil && complete:
			l.registry.Upsert(l.minionID, l.sessionID, StatusSolved, MethodAI)
			l.log.Info("Agent loop complete", zap.Int("iterations", iteration))
			return nil

		case err == nil:
			// Not complete yet; the next turn observes from scratch.

		case errors.Is(err, context.Canceled) && ctx.Err() != nil:
			return l.abandon(ctx.Err())

		case errors.Is(err, ErrTimeout):
			// The turn deadline expired. The turn is abandoned and counted
			// as one failed iteration toward the budget.
			l.log.Warn("Turn deadline exceeded", zap.Int("iteration", iteration))

		case errors.Is(err, ErrModelUnavailable):
			l.registry.Fail(l.minionID, l.sessionID, MethodAI, ReasonModelUnavailable)
			l.log.Error("Vision endpoint failed; terminating loop", zap.Error(err))
			return err

		default:
			// Per-action fault already absorbed in runTurn; anything else
			// reaching here aborted the turn but not the loop.
			l.log.Warn("Turn aborted", zap.Int("iteration", iteration), zap.Error(err))
		}
	}

	l.registry.Fail(l.minionID, l.sessionID, MethodAI, ReasonExhausted)
	l.log.Warn("Agent loop exhausted", zap.Int("max_iterations", l.cfg.MaxIterations))
	return fmt.Errorf("%w after %d iterations", ErrExhausted, l.cfg.MaxIterations)
}

// abandon handles an external abandon signal: the entry is removed so the
// slot does not leak, and the cancellation is propagated.
func (l *AgentLoop) abandon(err error) error {
	l.registry.Remove(l.minionID)
	l.log.Info("Agent loop abandoned", zap.Error(err))
	return err
}

// analyzeStrategy runs the optional plan-only pre-pass. Failures are not
// fatal: the loop simply proceeds without a plan.
func (l *AgentLoop) analyzeStrategy(ctx context.Context) string {
	turnCtx, cancel := context.WithTimeout(ctx, l.cfg.TurnTimeout)
	defer cancel()

	req, err := l.observe(turnCtx)
	if err != nil {
		l.log.Warn("Strategy analysis observation failed", zap.Error(err))
		return ""
	}
	req.Task = strategyTask

	note, err := l.vision.AnalyzeStrategy(turnCtx, req)
	if err != nil {
		l.log.Warn("Strategy analysis failed", zap.Error(err))
		return ""
	}
	l.log.Debug("Strategy analysis complete", zap.String("strategy", note))
	return note
}

// runTurn executes one Observing -> Deciding -> Acting -> Assessing cycle
// under the per-turn deadline.
func (l *AgentLoop) runTurn(ctx context.Context, task string, iteration int) (bool, error) {
	turnCtx, cancel := context.WithTimeout(ctx, l.cfg.TurnTimeout)
	defer cancel()

	// Observing: the screenshot always reflects the most recent acting
	// outcome; no turn acts on stale pixels.
	req, err := l.observe(turnCtx)
	if err != nil {
		return false, l.classifyTurnErr(ctx, turnCtx, err)
	}
	req.Task = task

	// Deciding.
	turn, err := l.vision.NextTurn(turnCtx, req)
	if err != nil {
		if classified := l.classifyTurnErr(ctx, turnCtx, err); errors.Is(classified, ErrTimeout) || errors.Is(classified, context.Canceled) {
			return false, classified
		}
		return false, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	l.log.Info("Model turn decided",
		zap.Int("iteration", iteration),
		zap.Int("actions", len(turn.Actions)),
		zap.Bool("complete", turn.Complete),
		zap.String("message", turn.Message))

	// Acting: strictly in model order. A malformed action is dropped; a
	// browser fault aborts the rest of the turn but not the loop.
	for _, action := range turn.Actions {
		resolved, err := Resolve(action, req.Width, req.Height)
		if err != nil {
			l.log.Warn("Dropping malformed action",
				zap.String("type", string(action.Type)),
				zap.Error(err))
			continue
		}
		if err := l.exec.Execute(turnCtx, resolved); err != nil {
			if classified := l.classifyTurnErr(ctx, turnCtx, err); errors.Is(classified, ErrTimeout) || errors.Is(classified, context.Canceled) {
				return false, classified
			}
			l.log.Warn("Action failed; aborting remaining actions this turn", zap.Error(err))
			return turn.Complete, nil
		}
	}

	// Assessing happens in Start: completion wins, otherwise the iteration
	// counter advances.
	return turn.Complete, nil
}

// observe captures the screenshot and page context for one turn.
func (l *AgentLoop) observe(ctx context.Context) (TurnRequest, error) {
	shot, err := l.page.Screenshot(ctx)
	if err != nil {
		return TurnRequest{}, fmt.Errorf("screenshot: %w", err)
	}
	width, height, err := l.page.Viewport(ctx)
	if err != nil {
		return TurnRequest{}, fmt.Errorf("viewport: %w", err)
	}
	url, err := l.page.CurrentURL(ctx)
	if err != nil {
		return TurnRequest{}, fmt.Errorf("current url: %w", err)
	}
	return TurnRequest{
		Screenshot: shot,
		Width:      width,
		Height:     height,
		CurrentURL: url,
	}, nil
}

// classifyTurnErr distinguishes an expired turn deadline from an external
// cancellation and from ordinary faults.
func (l *AgentLoop) classifyTurnErr(ctx, turnCtx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return context.Canceled
	case turnCtx.Err() == context.DeadlineExceeded:
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return err
	}
}

const solveTask = `You are looking at a web page that is blocked by a CAPTCHA challenge.
Solve the CAPTCHA so the flight search can proceed to the results page.
Use the provided functions to interact with the page. Coordinates are on a
0-999 grid. Explore carousels and navigation arrows fully before submitting,
and only click verify/submit when you are certain the solution is correct.
Before any click, drag, or type action, make two or three mouse movements to
different areas of the screen. If the CAPTCHA is already solved, return no
actions.`

const strategyTask = `You are analyzing a CAPTCHA challenge. DO NOT take any actions yet.
Identify the type of CAPTCHA (image selection, slider, checkbox, carousel),
what it asks for, any navigation elements, and whether multiple steps are
needed. Describe a step-by-step strategy to solve it as text.`
