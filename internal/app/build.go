package app

import (
	"context"
	"fmt"
	"log"

	"github.com/ent0n29/avatarkiosk/internal/catalog"
	"github.com/ent0n29/avatarkiosk/internal/config"
	"github.com/ent0n29/avatarkiosk/internal/heygen"
	"github.com/ent0n29/avatarkiosk/internal/httpapi"
	"github.com/ent0n29/avatarkiosk/internal/kiosk"
	"github.com/ent0n29/avatarkiosk/internal/ledger"
	"github.com/ent0n29/avatarkiosk/internal/observability"
	"github.com/ent0n29/avatarkiosk/internal/session"
	"github.com/ent0n29/avatarkiosk/internal/textgen"
	"github.com/ent0n29/avatarkiosk/internal/viewer"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Kiosk    *kiosk.Kiosk
	Sessions *session.Manager
	Metrics  *observability.Metrics

	// GenerationDetail describes the text producer in use, for the startup log.
	GenerationDetail string

	// Cleanup stops the live avatar session once and releases the ledger.
	Cleanup func(ctx context.Context) error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	presets, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("catalog init failed: %w", err)
	}
	tpl, err := viewer.LoadTemplate(cfg.ViewerTemplatePath)
	if err != nil {
		return nil, fmt.Errorf("viewer init failed: %w", err)
	}
	producer, detail, err := resolveProducer(cfg)
	if err != nil {
		return nil, err
	}

	store, err := ledger.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("ledger store init failed: %w", err)
	}

	provider := heygen.NewClient(heygen.Config{
		APIKey:  cfg.HeyGenAPIKey,
		BaseURL: cfg.HeyGenBaseURL,
		Timeout: cfg.ProviderTimeout,
		Metrics: metrics,
	})
	sessions := session.NewManager(provider,
		session.WithMetrics(metrics),
		session.WithStartTimeout(2*cfg.ProviderTimeout),
	)

	k := kiosk.New(kiosk.Config{
		AvatarID:       cfg.HeyGenAvatarID,
		VoiceID:        cfg.HeyGenVoiceID,
		AvatarName:     cfg.HeyGenAvatarName,
		ViewerTemplate: tpl,
		WarmupDuration: cfg.WarmupDuration,
	}, sessions,
		kiosk.WithProducer(producer),
		kiosk.WithCatalog(presets),
		kiosk.WithLedger(store),
		kiosk.WithMetrics(metrics),
	)

	api := httpapi.New(cfg, k, metrics)

	cleanup := func(ctx context.Context) error {
		k.Shutdown(ctx)
		if err := store.Close(); err != nil {
			return fmt.Errorf("close ledger: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:           cfg,
		API:              api,
		Kiosk:            k,
		Sessions:         sessions,
		Metrics:          metrics,
		GenerationDetail: detail,
		Cleanup:          cleanup,
	}, nil
}

func resolveProducer(cfg config.Config) (textgen.Producer, string, error) {
	if !cfg.GenerationEnabled() {
		log.Printf("OPENAI_API_KEY not set; text generation disabled")
		return textgen.Unavailable{}, "disabled", nil
	}
	p, err := textgen.NewOpenAIProducer(textgen.OpenAIConfig{
		APIKey:       cfg.OpenAIAPIKey,
		BaseURL:      cfg.OpenAIBaseURL,
		Model:        cfg.OpenAIModel,
		SystemPrompt: cfg.OpenAISystemPrompt,
		Temperature:  cfg.OpenAITemperature,
		MaxTokens:    cfg.OpenAIMaxTokens,
		Timeout:      cfg.ProviderTimeout,
	})
	if err != nil {
		return nil, "", fmt.Errorf("text producer init failed: %w", err)
	}
	return p, "openai " + cfg.OpenAIModel, nil
}
