// Package app is the composition root: it constructs every subsystem from
// configuration, wires them together, and owns their lifecycle.
package app

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/browser"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/secrets"
	"github.com/ternarybob/colligo/internal/services/auth"
	"github.com/ternarybob/colligo/internal/services/batch"
	"github.com/ternarybob/colligo/internal/services/extractor"
	"github.com/ternarybob/colligo/internal/services/session"
	"github.com/ternarybob/colligo/internal/services/validity"
	badgerstore "github.com/ternarybob/colligo/internal/storage/badger"
	"github.com/ternarybob/colligo/internal/worker"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	DB       *badgerstore.BadgerDB
	Store    interfaces.CredentialStore
	Sessions *session.Manager
	Pool     *worker.Pool
	Auth     *auth.Service
	Validity *validity.Service
	Batch    *batch.Orchestrator

	// Extractor is the produced surface callers consume
	Extractor *extractor.Service

	cron    *cron.Cron
	started bool
}

// New constructs the application from validated configuration. Nothing is
// running yet when New returns; call Start.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	key := config.Secrets.Key
	if key == "" {
		// An ephemeral key keeps the process working, but sealed artifacts
		// will not survive a restart
		generated, err := secrets.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate artifact key: %w", err)
		}
		key = generated
		logger.Warn().Msg("No secrets key configured, using an ephemeral key; stored artifacts will not outlive this process")
	}
	cipher, err := secrets.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("invalid secrets key: %w", err)
	}

	db, err := badgerstore.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	store := badgerstore.NewCredentialStorage(db, cipher, logger)

	factory := browser.NewFactory(config.Browser, logger)

	sessions := session.NewManager(config.Auth.SessionTTL.Duration(), config.Auth.SweepInterval.Duration(), logger)

	detector := auth.NewPatternDetector(config.Auth.ChallengeURLs, config.Auth.ChallengeMarkers)
	authService := auth.NewService(factory, sessions, detector, config.Auth, config.Browser.SettleWait.Duration(), logger)

	validityService := validity.NewService(store, config.Validity, logger)

	pool := worker.NewPool(factory, config.Browser.PoolSize, logger)

	orchestrator := batch.NewOrchestrator(config.Batch, logger)

	extractorService := extractor.NewService(authService, sessions, validityService, pool, orchestrator, store, config.Browser.SubmitTimeout.Duration(), logger)
	extractorService.RegisterHandlers()

	a := &App{
		Config:    config,
		Logger:    logger,
		DB:        db,
		Store:     store,
		Sessions:  sessions,
		Pool:      pool,
		Auth:      authService,
		Validity:  validityService,
		Batch:     orchestrator,
		Extractor: extractorService,
	}

	if config.Validity.Schedule != "" {
		if err := a.scheduleRevalidation(config.Validity.Schedule); err != nil {
			db.Close()
			return nil, err
		}
	}

	return a, nil
}

// Start launches the session sweep, the browser workers and the revalidation
// schedule
func (a *App) Start() {
	if a.started {
		return
	}
	a.started = true

	a.Sessions.Start()
	a.Pool.Start()
	if a.cron != nil {
		a.cron.Start()
	}

	a.Logger.Info().
		Int("pool_size", a.Pool.Size()).
		Str("revalidation_schedule", a.Config.Validity.Schedule).
		Msg("Application started")
}

// Close shuts everything down in reverse dependency order
func (a *App) Close() {
	if a.cron != nil {
		a.cron.Stop()
	}
	a.Pool.Terminate()
	a.Sessions.Shutdown()
	if err := a.DB.Close(); err != nil {
		a.Logger.Error().Err(err).Msg("Failed to close storage")
	}
	a.Logger.Info().Msg("Application stopped")
}

// scheduleRevalidation registers the background sweep that re-checks every
// stored artifact on the configured cron schedule
func (a *App) scheduleRevalidation(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, a.revalidateAll); err != nil {
		return fmt.Errorf("invalid revalidation schedule %q: %w", schedule, err)
	}
	a.cron = c
	return nil
}

// revalidateAll checks every stored artifact and logs the users whose
// sessions need a fresh login. It never re-authenticates on its own - the
// process holds no plaintext credentials.
func (a *App) revalidateAll() {
	ctx := context.Background()

	userIDs, err := a.Store.ListUserIDs(ctx)
	if err != nil {
		a.Logger.Error().Err(err).Msg("Revalidation sweep failed to list users")
		return
	}

	invalid := 0
	for _, userID := range userIDs {
		valid, err := a.Validity.EnsureValid(ctx, userID)
		if err != nil {
			a.Logger.Error().Err(err).Str("user_id", userID).Msg("Revalidation check failed")
			continue
		}
		if !valid {
			invalid++
		}
	}

	a.Logger.Info().
		Int("users", len(userIDs)).
		Int("needing_reauth", invalid).
		Msg("Revalidation sweep complete")
}
