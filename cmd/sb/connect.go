package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/zulandar/switchboard/internal/alert"
	"github.com/zulandar/switchboard/internal/alert/discord"
	"github.com/zulandar/switchboard/internal/alert/slack"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/pipeline"
	"github.com/zulandar/switchboard/internal/reviewer"
	"github.com/zulandar/switchboard/internal/webhook"
	"gorm.io/gorm"
)

// loadConfig reads an optional .env file into the environment, then the YAML
// config. Secrets set in .env override the YAML values.
func loadConfig(configPath string) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// newReviewer builds the AI reviewer. Tests replace it.
var newReviewer = func(cfg config.AnthropicConfig) reviewer.Reviewer {
	if cfg.APIKey == "" {
		log.Printf("sb: %s is not set, reviews will fail to authenticate", config.EnvAnthropicKey)
	}
	return reviewer.NewAnthropic(reviewer.AnthropicOpts{
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
	})
}

// buildAlerts returns a notifier for every configured chat webhook.
func buildAlerts(cfg config.AlertsConfig) (alert.Notifier, error) {
	var notifiers alert.Multi
	if cfg.SlackWebhookURL != "" {
		n, err := slack.New(cfg.SlackWebhookURL)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, n)
	}
	if cfg.DiscordWebhookURL != "" {
		n, err := discord.New(cfg.DiscordWebhookURL)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, n)
	}
	if len(notifiers) == 0 {
		return alert.Nop{}, nil
	}
	return notifiers, nil
}

// buildPipeline wires the reviewer, webhook dispatcher and alerts described
// by cfg into a Pipeline.
func buildPipeline(cfg *config.Config, gormDB *gorm.DB, h hub.Hub, pool pipeline.Submitter) (*pipeline.Pipeline, error) {
	rev := newReviewer(cfg.Anthropic)

	notifier, err := buildAlerts(cfg.Alerts)
	if err != nil {
		return nil, err
	}

	dispatcher := webhook.NewDispatcher(webhook.DispatcherOpts{
		Backoff:        time.Duration(cfg.Webhooks.BackoffMs) * time.Millisecond,
		DefaultTimeout: time.Duration(cfg.Webhooks.TimeoutSec) * time.Second,
		DefaultRetries: cfg.Webhooks.Retries,
	})

	return pipeline.New(pipeline.Opts{
		DB:              gormDB,
		Hub:             h,
		Reviewer:        rev,
		Webhooks:        dispatcher,
		Alerts:          notifier,
		Pool:            pool,
		ReviewTimeout:   cfg.ReviewTimeout(),
		StaleAfter:      cfg.StaleAfter(),
		MaxAttempts:     cfg.Review.MaxAttempts,
		BatchLimit:      cfg.Review.BatchLimit,
		RelayRetention:  time.Duration(cfg.Hub.RetentionMin) * time.Minute,
		AlertOnFailure:  cfg.Alerts.OnFailure,
		AlertOnFindings: cfg.Alerts.OnFindings,
	})
}
