// Package app assembles the extraction service and its adapters from configuration.
package app

import (
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"fieldscan/internal/answer"
	_ "fieldscan/internal/answer/claude"
	_ "fieldscan/internal/answer/heuristic"
	_ "fieldscan/internal/answer/httpqa"
	_ "fieldscan/internal/answer/openai"
	"fieldscan/internal/config"
	"fieldscan/internal/detector"
	"fieldscan/internal/domain"
	"fieldscan/internal/extraction"
	"fieldscan/internal/fielddef"
	"fieldscan/internal/matcher"
	"fieldscan/internal/ocr"
	"fieldscan/internal/port"
	"fieldscan/internal/repository/memory"
	"fieldscan/internal/repository/sqlstore"
	"fieldscan/internal/service"
	"fieldscan/internal/storage/local"
	s3storage "fieldscan/internal/storage/s3"
)

// App holds the wired components shared by the server and the CLI.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	DB        *sqlx.DB // nil when templates are kept in memory
	Storage   port.ObjectStorage
	Tokens    port.TokenService
	Answers   port.AnswerService
	Templates port.TemplateRepository
	Service   service.ExtractionService
	// DefaultFields is the configured field set used when a request names none.
	DefaultFields []domain.FieldRequest
}

// New builds every component named by cfg. SQL template stores are migrated on start.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	storage, err := newStorage(&cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.Storage = storage
	a.Tokens = ocr.NewClient(&cfg.OCR, storage)

	a.Answers, err = answer.NewFromConfig(&cfg.Answer, answer.Deps{Storage: storage, Tokens: a.Tokens, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize answer service: %w", err)
	}

	if path := cfg.Fields.DefinitionsPath; path != "" {
		a.DefaultFields, err = fielddef.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load field definitions: %w", err)
		}
	}

	if err := a.openTemplates(); err != nil {
		return nil, err
	}

	a.Service = service.NewExtractionService(
		a.Tokens,
		a.Templates,
		extraction.NewOrchestrator(a.Answers, ExtractionConfig(&cfg.Extraction), logger),
		matcher.New(a.Templates, MatcherConfig(&cfg.Matcher), logger),
		detector.New(a.Answers, DetectorConfig(&cfg.Detector), logger),
		cfg.Detector.RowTol*domain.CoordSpace,
		logger,
	)
	return a, nil
}

func newStorage(cfg *config.StorageConfig) (port.ObjectStorage, error) {
	switch cfg.Provider {
	case "", "local":
		return local.New(cfg.LocalDir)
	case "s3":
		return s3storage.NewS3Client(&cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

func (a *App) openTemplates() error {
	if a.Config.DB.Driver == config.DriverMemory {
		a.Logger.Warn("app: templates are kept in memory and lost on exit")
		a.Templates = memory.NewTemplateRepo()
		return nil
	}

	db, err := sqlstore.NewDB(&a.Config.DB)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := sqlstore.Migrate(db, a.Config.DB.Driver); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	a.DB = db
	a.Templates = sqlstore.NewTemplateRepo(db, a.Logger)
	return nil
}

// Close releases the database connection, if any.
func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

// ExtractionConfig maps configuration onto orchestrator settings.
func ExtractionConfig(cfg *config.ExtractionConfig) extraction.Config {
	return extraction.Config{
		BatchSize: cfg.BatchSize,
		Cooldown:  cfg.Cooldown,
		Arbiter: extraction.ArbiterConfig{
			PassThreshold: cfg.PassThreshold,
			HintCap:       cfg.HintCap,
		},
	}
}

// MatcherConfig maps configuration onto matcher settings.
func MatcherConfig(cfg *config.MatcherConfig) matcher.Config {
	return matcher.Config{AcceptanceFloor: cfg.AcceptanceFloor, VendorBonus: cfg.VendorBonus}
}

// DetectorConfig maps configuration onto detector tolerances.
func DetectorConfig(cfg *config.DetectorConfig) detector.Config {
	return detector.Config{
		HeaderMargin:         cfg.HeaderMargin,
		HeaderBand:           cfg.HeaderBand,
		RowTol:               cfg.RowTol,
		MergeGap:             cfg.MergeGap,
		XTol:                 cfg.XTol,
		ExclusionRadius:      cfg.ExclusionRadius,
		MinScore:             cfg.MinScore,
		MaxEscalations:       cfg.MaxEscalations,
		YTol:                 cfg.YTol,
		DispersionThreshold:  cfg.DispersionThreshold,
		NeighborRadius:       cfg.NeighborRadius,
		MaxTargetedQuestions: cfg.MaxTargetedQuestions,
		SemanticThreshold:    cfg.SemanticThreshold,
	}
}
