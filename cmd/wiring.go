// File: cmd/wiring.go
package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/itslolan/TravelAgent-sub001/internal/browser"
	"github.com/itslolan/TravelAgent-sub001/internal/captcha"
	"github.com/itslolan/TravelAgent-sub001/internal/config"
	"github.com/itslolan/TravelAgent-sub001/internal/search"
	"github.com/itslolan/TravelAgent-sub001/internal/server"
	"github.com/itslolan/TravelAgent-sub001/internal/vision"
)

// orchestrator bundles the long-lived components both subcommands share.
type orchestrator struct {
	registry    *captcha.Registry
	coordinator *captcha.Coordinator
	httpServer  *server.Server
	visionModel string
}

// buildOrchestrator wires registry, vision client, coordinator and the HTTP
// boundary from validated configuration. The vision client is only built in
// ai mode; human mode never talks to the model endpoint.
func buildOrchestrator(cfg *config.Config, logger *zap.Logger) (*orchestrator, error) {
	registry := captcha.NewRegistry(logger)

	var visionClient captcha.VisionModel
	visionModel := ""
	if cfg.Captcha.Mode == config.ModeAI {
		client, err := vision.NewGeminiClient(cfg.Vision, logger)
		if err != nil {
			return nil, fmt.Errorf("building vision client: %w", err)
		}
		visionClient = client
		visionModel = client.Model()
	}

	coordinator, err := captcha.NewCoordinator(cfg.Captcha, registry, visionClient, logger)
	if err != nil {
		return nil, fmt.Errorf("building coordinator: %w", err)
	}

	return &orchestrator{
		registry:    registry,
		coordinator: coordinator,
		httpServer:  server.New(cfg.Server, coordinator, visionModel, logger),
		visionModel: visionModel,
	}, nil
}

// newPageFactory builds the production search.PageFactory: provision a remote
// session from the provider, attach over CDP, and release the session when
// the page closes.
func newPageFactory(cfg *config.Config, logger *zap.Logger) (search.PageFactory, error) {
	provider, err := browser.NewProvider(cfg.Browser, logger)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) (search.Page, error) {
		remote, err := provider.CreateSession(ctx)
		if err != nil {
			return nil, err
		}

		page, err := browser.Connect(ctx, remote, cfg.Browser, logger, func() {
			// Release with a fresh context; ctx may already be canceled by the
			// time the page closes.
			if err := provider.ReleaseSession(context.Background(), remote.ID); err != nil {
				logger.Warn("Failed to release remote session",
					zap.String("session_id", remote.ID), zap.Error(err))
			}
		})
		if err != nil {
			_ = provider.ReleaseSession(context.Background(), remote.ID)
			return nil, err
		}
		return page, nil
	}, nil
}
