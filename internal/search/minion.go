// File: internal/search/minion.go

// Package search runs the flight-price minion pool. Each minion owns one
// remote browser session, drives the search site, and blocks on the CAPTCHA
// coordinator whenever the page presents a challenge.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/itslolan/TravelAgent-sub001/internal/captcha"
	"github.com/itslolan/TravelAgent-sub001/internal/config"
)

// Page is the browser surface a minion needs: the orchestrator primitives
// plus navigation and session identity.
type Page interface {
	captcha.Page
	Navigate(ctx context.Context, url string) error
	SessionID() string
	LiveViewURL() string
	Close()
}

// PageFactory provisions a fresh remote session and attaches to it. The
// returned page owns the session; Close releases it.
type PageFactory func(ctx context.Context) (Page, error)

// Resolver is the coordinator surface the pipeline blocks on.
type Resolver interface {
	Resolve(ctx context.Context, minionID, sessionID, liveViewURL string, page captcha.Page) error
	Registry() *captcha.Registry
	IsResolved(minionID string) captcha.Resolution
}

// Task is one flight-price query.
type Task struct {
	Origin      string
	Destination string
	Date        string
}

// Result is the outcome of one minion run.
type Result struct {
	MinionID        string
	SessionID       string
	FinalURL        string
	CaptchaBlocked  bool
	CaptchaResolved bool
	Err             error
}

// DetectFunc decides whether the current page is blocked by a challenge.
type DetectFunc func(ctx context.Context, p Page) (bool, error)

// DetectByURL is the default detector: challenge interstitials are served
// from recognizable paths.
func DetectByURL(ctx context.Context, p Page) (bool, error) {
	url, err := p.CurrentURL(ctx)
	if err != nil {
		return false, err
	}
	lowered := strings.ToLower(url)
	for _, marker := range []string{"captcha", "challenge", "/sorry", "verify", "interstitial"} {
		if strings.Contains(lowered, marker) {
			return true, nil
		}
	}
	return false, nil
}

// Runner fans search tasks out over a bounded minion pool.
type Runner struct {
	cfg         config.SearchConfig
	coordinator Resolver
	newPage     PageFactory
	detect      DetectFunc
	log         *zap.Logger
}

// NewRunner wires a runner. detect may be nil, which selects DetectByURL.
func NewRunner(cfg config.SearchConfig, coordinator Resolver, newPage PageFactory, detect DetectFunc, logger *zap.Logger) (*Runner, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("cannot initialize runner with nil coordinator")
	}
	if newPage == nil {
		return nil, fmt.Errorf("cannot initialize runner with nil page factory")
	}
	if detect == nil {
		detect = DetectByURL
	}
	return &Runner{
		cfg:         cfg,
		coordinator: coordinator,
		newPage:     newPage,
		detect:      detect,
		log:         logger.Named("search"),
	}, nil
}

// Run executes all tasks over at most cfg.Concurrency concurrent minions and
// returns one result per task, in task order. Individual minion failures are
// reported in their Result; Run itself fails only on context cancellation.
func (r *Runner) Run(ctx context.Context, tasks []Task) ([]Result, error) {
	results := make([]Result, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for i, task := range tasks {
		g.Go(func() error {
			results[i] = r.runMinion(gctx, task)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

// runMinion drives one search task end to end. Every exit path removes the
// minion's registry entry; a leaked entry would pin the slot for the process
// lifetime.
func (r *Runner) runMinion(ctx context.Context, task Task) Result {
	minionID := uuid.NewString()
	result := Result{MinionID: minionID}
	log := r.log.With(zap.String("minion_id", minionID))

	if r.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.TaskTimeout)
		defer cancel()
	}

	page, err := r.newPage(ctx)
	if err != nil {
		result.Err = fmt.Errorf("provisioning browser session: %w", err)
		return result
	}
	defer page.Close()
	defer r.coordinator.Registry().Remove(minionID)

	result.SessionID = page.SessionID()
	log = log.With(zap.String("session_id", result.SessionID))

	searchURL := r.buildSearchURL(task)
	log.Info("Starting flight search", zap.String("url", searchURL))

	if err := page.Navigate(ctx, searchURL); err != nil {
		result.Err = fmt.Errorf("navigating to search page: %w", err)
		return result
	}

	blocked, err := r.detect(ctx, page)
	if err != nil {
		result.Err = fmt.Errorf("checking for challenge: %w", err)
		return result
	}

	if blocked {
		result.CaptchaBlocked = true
		log.Info("Challenge detected, blocking on resolution")

		if err := r.coordinator.Resolve(ctx, minionID, result.SessionID, page.LiveViewURL(), page); err != nil {
			result.Err = fmt.Errorf("resolving challenge: %w", err)
			return result
		}
		result.CaptchaResolved = r.coordinator.IsResolved(minionID).Solved
		if !result.CaptchaResolved {
			result.Err = fmt.Errorf("challenge was not solved")
			return result
		}

		// The challenge page usually redirects once cleared; give it a beat.
		_ = page.Sleep(ctx, 2*time.Second)
	}

	finalURL, err := page.CurrentURL(ctx)
	if err != nil {
		result.Err = fmt.Errorf("reading final location: %w", err)
		return result
	}
	result.FinalURL = finalURL

	log.Info("Flight search finished",
		zap.Bool("captcha_blocked", result.CaptchaBlocked),
		zap.String("final_url", finalURL))
	return result
}

func (r *Runner) buildSearchURL(task Task) string {
	base := strings.TrimRight(r.cfg.TargetURL, "/")
	if task.Origin == "" || task.Destination == "" {
		return base
	}
	return fmt.Sprintf("%s/flights?from=%s&to=%s&date=%s", base, task.Origin, task.Destination, task.Date)
}
