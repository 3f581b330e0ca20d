// File: internal/captcha/human.go
package captcha

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HumanHandoff is the human-in-the-loop strategy. It is a passive receiver:
// the operator watches the session's live view and acknowledges resolution
// through the HTTP boundary, which updates the registry directly. The only
// active behavior here is the wait ceiling.
type HumanHandoff struct {
	minionID    string
	sessionID   string
	liveViewURL string
	registry    *Registry
	waitCeiling time.Duration
	log         *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewHumanHandoff wires a human handoff for one session. liveViewURL is a
// display-only artifact surfaced to the operator.
func NewHumanHandoff(minionID, sessionID, liveViewURL string, registry *Registry, waitCeiling time.Duration, logger *zap.Logger) *HumanHandoff {
	return &HumanHandoff{
		minionID:    minionID,
		sessionID:   sessionID,
		liveViewURL: liveViewURL,
		registry:    registry,
		waitCeiling: waitCeiling,
		log: logger.Named("human_handoff").With(
			zap.String("minion_id", minionID),
			zap.String("session_id", sessionID),
		),
	}
}

// Method implements Strategy.
func (h *HumanHandoff) Method() Method { return MethodHuman }

// Cancel implements Strategy.
func (h *HumanHandoff) Cancel() {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Start registers the pending session and blocks until a human notification
// resolves it or the wait ceiling elapses. On ceiling expiry the session is
// finalized as failed; a notification arriving later is still accepted by
// the registry but the search path has already given up.
func (h *HumanHandoff) Start(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	h.mu.Lock()
	h.cancel = stop
	h.mu.Unlock()

	h.registry.Upsert(h.minionID, h.sessionID, StatusPending, MethodHuman)
	h.log.Info("Waiting for human CAPTCHA resolution",
		zap.String("live_view_url", h.liveViewURL),
		zap.Duration("wait_ceiling", h.waitCeiling))

	waitCtx, cancel := context.WithTimeout(ctx, h.waitCeiling)
	defer cancel()

	entry, err := h.registry.Await(waitCtx, h.minionID)
	switch {
	case err == nil:
		if entry.Status == StatusSolved {
			h.log.Info("Human resolved the challenge")
			return nil
		}
		h.log.Warn("Human reported the challenge as unsolvable")
		return fmt.Errorf("human reported failure for minion %s", h.minionID)

	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		h.registry.Fail(h.minionID, h.sessionID, MethodHuman, ReasonTimeout)
		h.log.Warn("Wait ceiling elapsed without a notification")
		return fmt.Errorf("%w: no human acknowledgment within %s", ErrTimeout, h.waitCeiling)

	default:
		// External abandon: free the slot and propagate.
		h.registry.Remove(h.minionID)
		h.log.Info("Human handoff abandoned", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}
