// File: internal/captcha/coordinator.go
package captcha

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/itslolan/TravelAgent-sub001/internal/config"
)

// Strategy is one of the two interchangeable resolution flows. Both variants
// register a pending entry on Start, drive it to a terminal state, and are
// cancelable by an external abandon signal.
type Strategy interface {
	// Start blocks until the session is resolved, fails, or is abandoned.
	Start(ctx context.Context) error
	// Cancel stops the strategy from issuing further actions; in-flight
	// provider calls complete but their results are discarded.
	Cancel()
	// Method reports which variant this is.
	Method() Method
}

// Handle is what the coordinator gives a blocked search pipeline: the bound
// strategy plus the display artifacts the caller may surface.
type Handle struct {
	Strategy    Strategy
	LiveViewURL string
}

// Resolution is the uniform answer to "is this minion's CAPTCHA resolved",
// independent of which strategy populated the registry.
type Resolution struct {
	Known   bool          `json:"known"`
	Solved  bool          `json:"solved"`
	Waiting bool          `json:"waiting"`
	Method  Method        `json:"method,omitempty"`
	Reason  FailureReason `json:"reason,omitempty"`
	// Timestamp is the time of the last status mutation.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// Coordinator selects the resolution strategy per session from configuration
// and answers resolution queries uniformly. The mode is read once at session
// creation; sessions already in flight stay pinned to their original mode
// even if configuration changes afterwards.
type Coordinator struct {
	cfg      config.CaptchaConfig
	registry *Registry
	vision   VisionModel
	log      *zap.Logger
}

// NewCoordinator wires a coordinator. vision may be nil in human mode.
func NewCoordinator(cfg config.CaptchaConfig, registry *Registry, vision VisionModel, logger *zap.Logger) (*Coordinator, error) {
	if registry == nil {
		return nil, fmt.Errorf("cannot initialize coordinator with nil registry")
	}
	if cfg.Mode == config.ModeAI && vision == nil {
		return nil, fmt.Errorf("ai mode requires a vision model")
	}
	return &Coordinator{
		cfg:      cfg,
		registry: registry,
		vision:   vision,
		log:      logger.Named("captcha_coordinator"),
	}, nil
}

// Registry exposes the shared session table for the HTTP boundary.
func (c *Coordinator) Registry() *Registry { return c.registry }

// Mode reports the currently configured strategy mode.
func (c *Coordinator) Mode() config.CaptchaMode { return c.cfg.Mode }

// Config reports the coordinator's effective configuration.
func (c *Coordinator) Config() config.CaptchaConfig { return c.cfg }

// NewStrategy binds the configured strategy variant to a blocked session.
// The choice is fixed here, once, for the session's lifetime.
func (c *Coordinator) NewStrategy(minionID, sessionID, liveViewURL string, page Page) (*Handle, error) {
	switch c.cfg.Mode {
	case config.ModeAI:
		if page == nil {
			return nil, fmt.Errorf("ai mode requires a browser page")
		}
		loop := NewAgentLoop(minionID, sessionID, page, c.vision, c.registry, LoopConfig{
			MaxIterations:    c.cfg.MaxIterations,
			TurnTimeout:      c.cfg.TurnTimeout,
			StrategyAnalysis: c.cfg.StrategyAnalysis,
		}, c.log)
		return &Handle{Strategy: loop, LiveViewURL: liveViewURL}, nil

	case config.ModeHuman:
		handoff := NewHumanHandoff(minionID, sessionID, liveViewURL, c.registry, c.cfg.HumanWaitCeiling, c.log)
		return &Handle{Strategy: handoff, LiveViewURL: liveViewURL}, nil

	default:
		return nil, fmt.Errorf("unknown captcha mode %q", c.cfg.Mode)
	}
}

// Resolve runs the configured strategy for a blocked session to completion.
// Whatever happens, the registry is left with a terminal entry (or none, if
// the run was abandoned) - callers never see a dangling pending entry after
// the strategy has given up.
func (c *Coordinator) Resolve(ctx context.Context, minionID, sessionID, liveViewURL string, page Page) error {
	handle, err := c.NewStrategy(minionID, sessionID, liveViewURL, page)
	if err != nil {
		return err
	}

	c.log.Info("Starting CAPTCHA resolution",
		zap.String("minion_id", minionID),
		zap.String("session_id", sessionID),
		zap.String("method", string(handle.Strategy.Method())))

	return handle.Strategy.Start(ctx)
}

// IsResolved answers the uniform resolution query by delegating to the
// registry regardless of which strategy populated it.
func (c *Coordinator) IsResolved(minionID string) Resolution {
	entry, ok := c.registry.Get(minionID)
	if !ok {
		return Resolution{}
	}
	return Resolution{
		Known:     true,
		Solved:    entry.Status == StatusSolved,
		Waiting:   entry.Status == StatusPending,
		Method:    entry.Method,
		Reason:    entry.Reason,
		Timestamp: entry.Timestamp.Unix(),
	}
}
