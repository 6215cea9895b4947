package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-adp-assistant/internal/handler"
	"github.com/noah-isme/sma-adp-assistant/internal/prompt"
	"github.com/noah-isme/sma-adp-assistant/internal/query"
	"github.com/noah-isme/sma-adp-assistant/internal/repository"
	"github.com/noah-isme/sma-adp-assistant/internal/service"
	"github.com/noah-isme/sma-adp-assistant/pkg/cache"
	"github.com/noah-isme/sma-adp-assistant/pkg/clock"
	"github.com/noah-isme/sma-adp-assistant/pkg/config"
	"github.com/noah-isme/sma-adp-assistant/pkg/database"
	"github.com/noah-isme/sma-adp-assistant/pkg/export"
	"github.com/noah-isme/sma-adp-assistant/pkg/llm"
	"github.com/noah-isme/sma-adp-assistant/pkg/storage"
)

// App holds the wired assistant pipeline.
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	DB           *sqlx.DB
	Metrics      *service.MetricsService
	Chat         *service.ChatService
	Exports      *service.ExportService
	Certificates *service.CertificateService
	// Deps are pinged by the readiness probe.
	Deps map[string]handler.Pinger

	closers []func() error
}

// New opens the database, loads the schema and wires every collaborator.
// The chat service is returned stopped; call Start.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{Config: cfg, Logger: logger, Deps: map[string]handler.Pinger{}}

	db, err := database.NewSQLite(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	app.DB = db
	app.closers = append(app.closers, db.Close)

	schemas := service.NewSchemaService(repository.NewSchemaRepository(db), logger)
	schema, err := schemas.Load(ctx)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	clk := clock.System{}
	metrics := service.NewMetricsService()
	app.Metrics = metrics

	compiler := query.NewCompiler(query.NewFieldMapper(schema), clk, query.Options{
		DefaultLimit: cfg.Query.DefaultLimit,
		MaxLimit:     cfg.Query.MaxLimit,
	})
	actions := service.NewActionValidator(compiler, validator.New())

	completer, err := llm.NewFromConfig(ctx, cfg.LLM, logger, metrics)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("init llm: %w", err)
	}

	sessions := service.NewCacheService(nil, metrics, cfg.Sessions.CacheTTL, logger, false)
	if cfg.Sessions.CacheEnabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("session cache disabled", zap.Error(err))
		} else {
			repo := repository.NewCacheRepository(client, logger)
			sessions = service.NewCacheService(repo, metrics, cfg.Sessions.CacheTTL, logger, true)
			app.Deps["redis"] = repo
			app.closers = append(app.closers, repo.Close)
		}
	}

	store, err := storage.NewLocalStorage(cfg.Certificates.StorageDir)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("init certificate storage: %w", err)
	}
	uploads, err := storage.NewLocalStorage(cfg.Certificates.UploadDir)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("init upload storage: %w", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Certificates.SignedURLSecret, cfg.Certificates.SignedURLTTL)
	app.Certificates = service.NewCertificateService(export.NewCertificateRenderer(), store, signer, clk, service.CertificateOptions{
		SchoolName:     cfg.Certificates.SchoolName,
		SchoolCCT:      cfg.Certificates.SchoolCCT,
		DownloadPrefix: cfg.APIPrefix,
		Uploads:        uploads,
	}, logger)

	runner := repository.NewQueryRepository(db)
	app.Deps["database"] = runner
	students := repository.NewStudentRepository(db)
	prompts := prompt.NewManager()

	executor := service.NewExecutorService(actions, compiler, runner, students, app.Certificates, metrics, service.ExecutorOptions{
		Timeout: cfg.Query.Timeout,
		Guard:   query.Guard{DefaultLimit: cfg.Query.DefaultLimit, MaxLimit: cfg.Query.MaxLimit},
	}, logger)
	master := service.NewMasterService(completer, prompts, schemas, students, clk, service.MasterOptions{
		SampleRows:   cfg.Context.SampleRows,
		MaxLevels:    cfg.Context.MaxLevels,
		HistoryTurns: cfg.Context.HistoryLimit,
	}, logger)
	planner := service.NewPlannerService(completer, prompts, actions, schemas, service.PlannerOptions{
		SampleRows: cfg.Context.SampleRows,
		MaxLevels:  cfg.Context.MaxLevels,
	}, logger)
	synth := service.NewSynthesizerService(completer, prompts, service.SynthesizerOptions{SampleRows: cfg.Context.SampleRows}, logger)

	app.Chat = service.NewChatService(master, planner, executor, synth, sessions, metrics, clk, service.ChatOptions{
		MaxLevels:     cfg.Context.MaxLevels,
		HistoryLimit:  cfg.Context.HistoryLimit,
		SessionTTL:    cfg.Sessions.TTL,
		SweepInterval: cfg.Sessions.SweepInterval,
	}, logger)
	app.Exports = service.NewExportService(export.NewCSVExporter(), clk, logger)

	return app, nil
}

// CleanupPreviews purges stale certificate previews every interval until ctx ends.
func (a *App) CleanupPreviews(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := a.Certificates.Cleanup(interval)
			if err != nil {
				a.Logger.Warn("preview cleanup failed", zap.Error(err))
				continue
			}
			if len(deleted) > 0 {
				a.Logger.Info("previews purged", zap.Int("count", len(deleted)))
			}
		}
	}
}

// Close stops the chat service and releases every resource, newest first.
func (a *App) Close() error {
	if a.Chat != nil {
		a.Chat.Stop()
	}
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
