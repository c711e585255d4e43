package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/gateclaw/pkg/gateclaw/channels/whatsapp"
	"github.com/jholhewres/gateclaw/pkg/gateclaw/leveling"
	"github.com/jholhewres/gateclaw/pkg/gateclaw/moderation"
	"github.com/jholhewres/gateclaw/pkg/gateclaw/pipeline"
	"github.com/jholhewres/gateclaw/pkg/gateclaw/ratelimit"
	"github.com/jholhewres/gateclaw/pkg/gateclaw/responder"
	"github.com/jholhewres/gateclaw/pkg/gateclaw/store"
)

// Bot owns the full GateClaw runtime: the gateway session, the message
// pipeline, the engines behind it, and the periodic maintenance jobs.
type Bot struct {
	cfg     *Config
	logger  *slog.Logger
	version string

	docs    *store.Store
	audit   *store.AuditLog
	gateway *whatsapp.WhatsApp

	limiter   *ratelimit.Limiter
	moderator *moderation.Moderator
	levels    *leveling.Engine
	pipeline  *pipeline.Pipeline

	cron   *cron.Cron
	cancel context.CancelFunc
}

// New builds a Bot from the given configuration. No connection is made
// until Start.
func New(cfg *Config, version string, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}

	docs, err := store.New(cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("creating document store: %w", err)
	}
	audit := store.NewAuditLog(cfg.DataDir, "audit.log", logger)

	gateway := whatsapp.New(cfg.WhatsApp, docs, version, logger)
	limiter := ratelimit.New(cfg.RateLimit, docs, audit, logger)
	moderator := moderation.New(cfg.Moderation, logger)

	levels := leveling.New(cfg.Leveling, docs, audit, logger)
	levels.SetPromoter(gateway)
	levels.SetAutoPromote(moderator.IsAutoPromoteEnabled)

	resp := responder.NewOpenAI(cfg.Responder, logger)

	dedup := pipeline.NewDedup(cfg.Pipeline.Dedup,
		gateway.SelfID, gateway.LastConnectedAt, logger)
	pipe := pipeline.New(cfg.Pipeline, gateway, dedup,
		limiter, moderator, levels, resp, logger)

	return &Bot{
		cfg:       cfg,
		logger:    logger.With("component", "bot"),
		version:   version,
		docs:      docs,
		audit:     audit,
		gateway:   gateway,
		limiter:   limiter,
		moderator: moderator,
		levels:    levels,
		pipeline:  pipe,
	}, nil
}

// Gateway exposes the underlying channel, mainly for the CLI.
func (b *Bot) Gateway() *whatsapp.WhatsApp { return b.gateway }

// Limiter exposes the rate limiter for admin operations.
func (b *Bot) Limiter() *ratelimit.Limiter { return b.limiter }

// Start connects the gateway, starts the pipeline, and arms the
// maintenance jobs. It returns once the bot is running.
func (b *Bot) Start(ctx context.Context) error {
	ctx, b.cancel = context.WithCancel(ctx)

	b.logger.Info("starting",
		"name", b.cfg.Name,
		"version", b.version,
		"data_dir", b.cfg.DataDir)

	if err := b.gateway.Connect(ctx); err != nil {
		return fmt.Errorf("connecting gateway: %w", err)
	}

	if err := b.startMaintenance(); err != nil {
		return fmt.Errorf("starting maintenance jobs: %w", err)
	}

	go b.pipeline.Run(ctx)
	return nil
}

// startMaintenance arms the periodic housekeeping jobs: rate-window and
// dedup eviction plus a running credential staleness watch.
func (b *Bot) startMaintenance() error {
	b.cron = cron.New()

	if _, err := b.cron.AddFunc(b.cfg.Maintenance.SweepSchedule, func() {
		windows := b.limiter.Sweep()
		entries := b.pipeline.Dedup().Purge()
		if windows > 0 || entries > 0 {
			b.logger.Debug("maintenance sweep",
				"rate_windows", windows, "dedup_entries", entries)
		}
	}); err != nil {
		return fmt.Errorf("adding sweep job: %w", err)
	}

	if _, err := b.cron.AddFunc(b.cfg.Maintenance.StalenessSchedule, func() {
		last := b.gateway.LastConnectedAt()
		if last.IsZero() || b.gateway.IsConnected() {
			return
		}
		if time.Since(last) > b.cfg.WhatsApp.CredentialMaxAge {
			b.logger.Warn("session has been down past the credential age limit",
				"last_connected", last)
		}
	}); err != nil {
		return fmt.Errorf("adding staleness job: %w", err)
	}

	b.cron.Start()
	return nil
}

// Stop shuts the bot down: maintenance stops, the gateway disconnects,
// and the pipeline drains via its cancelled context.
func (b *Bot) Stop() error {
	b.logger.Info("stopping")

	if b.cron != nil {
		stopCtx := b.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			b.logger.Warn("maintenance jobs did not finish in time")
		}
	}

	if b.cancel != nil {
		b.cancel()
	}
	if err := b.gateway.Disconnect(); err != nil {
		return fmt.Errorf("disconnecting gateway: %w", err)
	}
	return nil
}
