package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/novakit/nova/internal/config"
	"github.com/novakit/nova/internal/engine"
	"github.com/novakit/nova/internal/events"
	"github.com/novakit/nova/internal/language"
	"github.com/novakit/nova/internal/reengage"
	"github.com/novakit/nova/internal/session"
	"github.com/novakit/nova/internal/speech"
	"github.com/novakit/nova/internal/store"
)

// app bundles the wired components behind every subcommand that runs
// a conversation.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	bus    *events.Bus
	engine *engine.Engine
	sched  *reengage.Scheduler
}

// buildApp loads config and wires storage, the language service,
// speech, the engine, and the re-engagement scheduler together.
// logW receives structured logs (stderr for interactive commands so
// the transcript stays clean on stdout). needsLanguage requires a
// Gemini API key; export and import only touch stored state and must
// work on machines without credentials.
func buildApp(ctx context.Context, logW io.Writer, configPath string, needsLanguage bool) (*app, error) {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := newLogger(logW, level, "text")
	if cfgPath != "" {
		logger.Info("config loaded", "path", cfgPath)
	} else {
		logger.Info("no config file found, using defaults")
	}

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.DBPath(), err)
	}

	state := session.Load(ctx, logger, st)

	// svc stays nil for commands that never converse; the engine only
	// reaches it from the turn, bootstrap, and nudge paths.
	var svc language.Service
	if needsLanguage {
		apiKey := cfg.Gemini.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			st.Close()
			return nil, fmt.Errorf("no Gemini API key (set gemini.api_key or GEMINI_API_KEY)")
		}
		svc = language.NewGemini(logger, apiKey, cfg.Gemini.Model, cfg.Gemini.BaseURL)
	}

	var speaker speech.Speaker = speech.Null{}
	if cfg.Speech.Command != "" {
		speaker = speech.NewCommand(logger, cfg.Speech.Command)
	}

	bus := events.New()
	eng := engine.New(logger, state, svc, speaker, bus, engine.Config{
		HistoryWindow: cfg.Companion.HistoryWindow,
		WelcomeAfter:  time.Duration(cfg.Companion.WelcomeAfterHours) * time.Hour,
		Muted:         cfg.Companion.Muted,
	})

	sched := reengage.New(logger, eng, cfg.Companion.QuietPeriod)
	eng.SetNotifier(sched.Notify)

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  st,
		bus:    bus,
		engine: eng,
		sched:  sched,
	}, nil
}

// close shuts the app down in dependency order: stop scheduling new
// work, drain in-flight pipelines, then release storage.
func (a *app) close() {
	a.sched.Stop()
	a.engine.Wait()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close failed", "error", err)
	}
}
