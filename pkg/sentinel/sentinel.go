package sentinel

import (
	"context"
	"database/sql"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sentinelwatch/sentinel/internal/agent"
	"github.com/sentinelwatch/sentinel/internal/agent/providers"
	"github.com/sentinelwatch/sentinel/internal/config"
	"github.com/sentinelwatch/sentinel/internal/controllers"
	"github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/internal/engine"
	"github.com/sentinelwatch/sentinel/internal/ingest"
	"github.com/sentinelwatch/sentinel/internal/migrations"
	"github.com/sentinelwatch/sentinel/internal/notify"
	"github.com/sentinelwatch/sentinel/internal/repository"
	"github.com/sentinelwatch/sentinel/internal/triage"
	"github.com/sentinelwatch/sentinel/internal/workflows"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/core"
	wfdomain "github.com/sentinelwatch/sentinel/pkg/sentinel/domain"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lmittmann/tint"

	_ "github.com/go-sql-driver/mysql"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// WorkflowRegistry holds extra workflow factories registered by the caller
// before Start. The built in triage workflows are always registered; entries
// here are merged on top, so a caller can override a built in type.
var WorkflowRegistry = map[string]func() core.Workflow{}

// Start boots the triage platform: database, workflow engine and HTTP API.
// This call blocks until the HTTP server stops.
func Start(mux *http.ServeMux) error {

	db := OpenDatabase()
	defer db.Close()

	triageConfig := loadTriageConfig()

	workflowRepo := repository.NewWorkflowRepository(db, nil)
	workflowActionRepo := repository.NewWorkflowActionRepository(db)
	executorRepo := repository.NewExecutorRepository(db, nil)
	definitionRepo := repository.NewWorkflowDefinitionRepository(db)
	userRepo := repository.NewUserRepository(db, nil)
	articleRepo := repository.NewArticleRepository(db, nil)
	commentRepo := repository.NewCommentRepository(db, nil)
	feedRepo := repository.NewFeedRepository(db, nil)
	deadLetterRepo := repository.NewDeadLetterRepository(db, nil)

	upsertConfiguredFeeds(feedRepo, triageConfig)

	rules, err := triage.NewRuleSet(triageConfig.Rules)
	if err != nil {
		slog.Error("Invalid relevance rules", "error", err)
		os.Exit(1)
	}
	guards, err := triage.NewGuardrails(triageConfig.Rules.Guardrails)
	if err != nil {
		slog.Error("Invalid guardrail rules", "error", err)
		os.Exit(1)
	}
	dedupWindow, err := time.ParseDuration(triageConfig.Dedup.Window)
	if err != nil {
		slog.Error("Invalid dedup window", "window", triageConfig.Dedup.Window, "error", err)
		os.Exit(1)
	}
	deduper := triage.NewDeduper(articleRepo, dedupWindow, nil)
	notifier := buildNotifier(triageConfig)
	model := buildModel(triageConfig)
	toolbox := agent.NewToolbox(articleRepo, feedRepo, deduper, guards)

	triageDeps := &workflows.TriageDeps{
		Articles: articleRepo,
		Feeds:    feedRepo,
		Rules:    rules,
		Guards:   guards,
		Deduper:  deduper,
		Notifier: notifier,
		Config:   triageConfig,
	}
	agentDeps := &workflows.AgentDeps{Model: model, Toolbox: toolbox}
	fetcher := ingest.NewFetcher(articleRepo, feedRepo, nil)

	registry := map[string]func() core.Workflow{
		workflows.ArticleTriageType: workflows.NewArticleTriageFactory(triageDeps, agentDeps),
		workflows.FeedPollType: func() core.Workflow {
			return workflows.NewFeedPollWorkflow(&workflows.FeedPollDeps{Fetcher: fetcher, Feeds: feedRepo})
		},
		workflows.RetentionSweepType: func() core.Workflow {
			return workflows.NewRetentionSweepWorkflow(&workflows.SweepDeps{
				Articles:    articleRepo,
				Workflows:   workflowRepo,
				DeadLetters: deadLetterRepo,
				Config:      triageConfig,
			})
		},
	}
	for name, factory := range WorkflowRegistry {
		registry[name] = factory
	}

	wfManager := engine.NewWorkflowManager(workflowRepo, workflowActionRepo, executorRepo, definitionRepo, &registry, nil)
	wfManager.SetFailureHandler(workflows.NewDeadLetterHandler(deadLetterRepo, articleRepo, notifier))

	if err := ensureSingletonWorkflow(wfManager, workflowRepo, workflows.FeedPollType, workflows.FeedPollExternalID); err != nil {
		slog.Error("Failed to bootstrap feed poll workflow", "error", err)
		os.Exit(1)
	}
	if err := ensureSingletonWorkflow(wfManager, workflowRepo, workflows.RetentionSweepType, workflows.RetentionSweepExternalID); err != nil {
		slog.Error("Failed to bootstrap retention sweep workflow", "error", err)
		os.Exit(1)
	}

	dur, _ := time.ParseDuration(config.GetSystemSettingString(config.ENGINE_CHECK_DB_INTERVAL))
	go wfManager.StartEngine(context.Background(), dur)

	if mux == nil {
		mux = http.NewServeMux()
	}
	authController := controllers.NewBaseController(userRepo)
	authController.RegisterRoutes(mux)
	workflowsController := controllers.NewWorkflowsController(workflowRepo, workflowActionRepo, wfManager, userRepo)
	workflowsController.RegisterRoutes(mux)
	actionsController := controllers.NewActionsController(workflowActionRepo, userRepo)
	actionsController.RegisterRoutes(mux)
	executorsController := controllers.NewExecutorsController(executorRepo, userRepo)
	executorsController.RegisterRoutes(mux)
	usersController := controllers.NewUsersController(userRepo)
	usersController.RegisterRoutes(mux)
	articlesController := controllers.NewArticlesController(articleRepo, workflowRepo, workflowActionRepo, wfManager, userRepo)
	articlesController.RegisterRoutes(mux)
	reviewController := controllers.NewReviewController(articleRepo, workflowRepo, workflowActionRepo, wfManager, userRepo)
	reviewController.RegisterRoutes(mux)
	commentsController := controllers.NewCommentsController(commentRepo, articleRepo, userRepo)
	commentsController.RegisterRoutes(mux)
	feedsController := controllers.NewFeedsController(feedRepo, workflowRepo, wfManager, userRepo)
	feedsController.RegisterRoutes(mux)
	deadLettersController := controllers.NewDeadLettersController(deadLetterRepo, workflowRepo, wfManager, userRepo)
	deadLettersController.RegisterRoutes(mux)
	overviewController := controllers.NewOverviewController(articleRepo, deadLetterRepo, wfManager, userRepo)
	overviewController.RegisterRoutes(mux)
	chatController := controllers.NewChatController(model, toolbox, triageConfig.Agent.MaxTurns, userRepo)
	chatController.RegisterRoutes(mux)
	healthController := controllers.NewHealthController(db, wfManager)
	healthController.RegisterRoutes(mux)

	rateLimiter := controllers.NewRateLimiter()
	handler := controllers.RequestLogger(rateLimiter.Middleware(mux))

	addr := ":" + config.GetSystemSettingString(config.SERVER_PORT)
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		addr = v
	}
	slog.Info("Starting HTTP server", "addr", addr)
	if err := http.ListenAndServe(addr, handler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		return err
	}
	return nil
}

// loadTriageConfig reads the YAML triage config. A missing file is not fatal,
// the platform runs on defaults with no feeds until some are added over the
// API. A file that exists but fails to parse or validate stops startup.
func loadTriageConfig() *config.TriageConfig {
	path := config.GetSystemSettingString(config.CONFIG_FILE)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		slog.Warn("Triage config file not found, using defaults", "path", path)
		cfg := &config.TriageConfig{}
		cfg.ApplyDefaults()
		return cfg
	}
	cfg, err := config.LoadTriageConfig(path)
	if err != nil {
		slog.Error("Failed to load triage config", "path", path, "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded triage config", "path", path, "feeds", len(cfg.Feeds))
	return cfg
}

// upsertConfiguredFeeds mirrors the config file's feed list into the feeds
// table so configured and API managed feeds live in one place.
func upsertConfiguredFeeds(feedRepo *repository.FeedRepository, cfg *config.TriageConfig) {
	for _, fc := range cfg.Feeds {
		feed := &domain.Feed{
			Name:         fc.Name,
			URL:          fc.URL,
			Enabled:      true,
			PollInterval: fc.PollInterval,
		}
		if fc.Enabled != nil {
			feed.Enabled = *fc.Enabled
		}
		if len(fc.Tags) > 0 {
			feed.Tags = sql.NullString{String: strings.Join(fc.Tags, ","), Valid: true}
		}
		if err := feedRepo.UpsertByName(feed); err != nil {
			slog.Error("Failed to upsert configured feed", "name", fc.Name, "error", err)
			os.Exit(1)
		}
	}
}

func buildNotifier(cfg *config.TriageConfig) notify.Notifier {
	var notifiers []notify.Notifier
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(cfg.Notify.WebhookURL))
	}
	if cfg.Notify.NtfyURL != "" {
		notifiers = append(notifiers, notify.NewNtfyNotifier(cfg.Notify.NtfyURL))
	}
	return notify.NewMulti(notifiers...)
}

// buildModel constructs the chat model from config. Returns nil when no
// usable provider is configured, which disables the agent triage variant
// and the chat endpoint.
func buildModel(cfg *config.TriageConfig) agent.Model {
	switch cfg.Agent.Provider {
	case "static":
		return providers.NewStatic()
	case "openai":
		keyEnv := cfg.Agent.APIKeyEnv
		if keyEnv == "" {
			keyEnv = "OPENAI_API_KEY"
		}
		apiKey := os.Getenv(keyEnv)
		if apiKey == "" {
			if cfg.Agent.Enabled {
				slog.Error("Agent mode enabled but the API key env var is empty", "env", keyEnv)
				os.Exit(1)
			}
			return nil
		}
		return providers.NewOpenAI(cfg.Agent.BaseURL, apiKey, cfg.Agent.Model)
	default:
		if cfg.Agent.Enabled {
			slog.Error("Agent mode enabled with unknown provider", "provider", cfg.Agent.Provider)
			os.Exit(1)
		}
		return nil
	}
}

// ensureSingletonWorkflow creates a long running workflow once. The external
// id acts as the singleton key, a second boot finds the row and leaves it be.
func ensureSingletonWorkflow(wfManager *engine.WorkflowManager, workflowRepo engine.WorkflowRepo,
	workflowType string, externalID string) error {
	existing, err := workflowRepo.FindByExternalId(externalID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	instance, err := engine.CreateWorkflowInstance(wfManager, workflowType)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	wf := &wfdomain.Workflow{
		Status:         "NEW",
		Created:        now,
		Modified:       now,
		NextActivation: sql.NullTime{Time: now, Valid: true},
		ExecutorGroup:  config.GetSystemSettingString(config.ENGINE_EXECUTOR_GROUP),
		WorkflowType:   workflowType,
		ExternalID:     externalID,
		BusinessKey:    externalID,
		State:          instance.InitialState(),
		StateVars:      sql.NullString{String: "{}", Valid: true},
	}
	id, err := workflowRepo.Save(wf)
	if err != nil {
		return err
	}
	slog.Info("Bootstrapped workflow", "workflowType", workflowType, "externalId", externalID, "workflowId", id)
	return nil
}

// OpenDatabase opens the configured database, running migrations first. It
// panics on missing or invalid settings, and the CLI subcommands that touch
// the database share it with Start.
func OpenDatabase() *sql.DB {
	databaseType := config.GetSystemSettingString(config.DATABASE_TYPE)
	switch databaseType {
	case config.DATABASE_TYPE_POSTGRES:
		return setupPostgresDatabase()
	case config.DATABASE_TYPE_SQLLITE:
		return setupSqlLiteDatabase()
	case config.DATABASE_TYPE_MYSQL:
		return setupMysqlDatabase()
	default:
		panic("SENTINEL_DATABASE_TYPE must be set to one of the following values: POSTGRES, MYSQL, SQLLITE")
	}
}

func setupPostgresDatabase() *sql.DB {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		panic("SENTINEL_DATABASE_URL must be set when using the POSTGRES database type")
	}
	slog.Info("Using Postgres database", "url", dbURL)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("postgres", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening Postgres database")
	dbPostgres, err := sql.Open("postgres", dbURL)
	if err != nil {
		slog.Error("DB connection failed", "error", err)
		os.Exit(1)
	}
	return dbPostgres
}

func setupSqlLiteDatabase() *sql.DB {
	fileName := config.GetSystemSettingString(config.DATABASE_SQLLITE_FILE_NAME)
	if fileName == "" {
		panic("SENTINEL_DATABASE_SQLLITE_FILE_NAME must be set")
	}
	dbURL := "sqlite3://" + fileName
	slog.Info("Using SQLite database", "file", fileName)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("sqllite3", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening SQLite database")
	dbSqlLite, err := sql.Open("sqlite3", fileName)
	if err != nil {
		log.Fatalf("Failed to open SQLite DB: %v", err)
	}
	if err := dbSqlLite.Ping(); err != nil {
		log.Fatalf("Failed to ping SQLite DB: %v", err)
	}
	return dbSqlLite
}

func setupMysqlDatabase() *sql.DB {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		panic("SENTINEL_DATABASE_URL must be set when using the MYSQL database type")
	}
	if !strings.Contains(dbURL, "parseTime=true") {
		panic("SENTINEL_DATABASE_URL must contain 'parseTime=true' for MySQL")
	}
	if !strings.HasPrefix(dbURL, "mysql://") {
		panic("SENTINEL_DATABASE_URL must start with 'mysql://' for MySQL")
	}

	slog.Info("Using MySQL database", "url", dbURL)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("mysql", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening MySQL database")
	dbMysql, err := sql.Open("mysql", strings.Replace(dbURL, "mysql://", "", 1))
	if err != nil {
		slog.Error("DB connection failed", "error", err)
		os.Exit(1)
	}
	return dbMysql
}

func runMigrationsFromEmbed(migrationsPath string, dbURL string) error {
	sub, err := fs.Sub(migrations.FS, migrationsPath)
	if err != nil {
		return err
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func SetupLogger() {
	w := os.Stderr
	slog.SetDefault(slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}
