package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "FIELDSCAN"

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	DB         DBConfig
	Storage    StorageConfig
	Answer     AnswerConfig
	OCR        OCRConfig
	Extraction ExtractionConfig
	Matcher    MatcherConfig
	Detector   DetectorConfig
	Fields     FieldsConfig
	Log        LogConfig
	CORS       CORSConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"`
}

// Template store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DBConfig holds template store connection settings.
type DBConfig struct {
	Driver     string `mapstructure:"driver"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	Name       string `mapstructure:"name"`
	SSLMode    string `mapstructure:"sslmode"`
	MaxOpen    int    `mapstructure:"max_open"`
	MaxIdle    int    `mapstructure:"max_idle"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// DSN returns the connection string for the configured driver.
func (d *DBConfig) DSN() string {
	if d.Driver == DriverSQLite {
		return d.SQLitePath
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// StorageConfig selects where page images are read from.
type StorageConfig struct {
	Provider string   `mapstructure:"provider"`
	LocalDir string   `mapstructure:"local_dir"`
	S3       S3Config `mapstructure:"s3"`
}

// S3Config holds AWS S3 settings.
type S3Config struct {
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// AnswerProviderConfig holds settings for a single answer service provider.
type AnswerProviderConfig struct {
	Provider          string  `mapstructure:"provider"`
	Endpoint          string  `mapstructure:"endpoint"`
	Model             string  `mapstructure:"model"`
	APIKey            string  `mapstructure:"api_key"`
	TimeoutSecs       int     `mapstructure:"timeout_secs"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// AnswerConfig holds the answer service providers in fallback order.
type AnswerConfig struct {
	Primary   AnswerProviderConfig `mapstructure:"primary"`
	Secondary AnswerProviderConfig `mapstructure:"secondary"`
}

// PrimaryConfig returns the primary answer provider config.
func (a *AnswerConfig) PrimaryConfig() *AnswerProviderConfig {
	return &a.Primary
}

// SecondaryConfig returns the secondary answer provider config, or nil if not configured.
func (a *AnswerConfig) SecondaryConfig() *AnswerProviderConfig {
	if a.Secondary.Provider != "" && a.Secondary.Provider != "none" {
		return &a.Secondary
	}
	return nil
}

// OCRConfig holds token service settings.
type OCRConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	TimeoutSecs int    `mapstructure:"timeout_secs"`
}

// ExtractionConfig holds batch orchestration and arbitration settings.
type ExtractionConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	Cooldown      time.Duration `mapstructure:"cooldown"`
	PassThreshold float64       `mapstructure:"pass_threshold"`
	HintCap       float64       `mapstructure:"hint_cap"`
}

// MatcherConfig holds template scoring settings.
type MatcherConfig struct {
	AcceptanceFloor float64 `mapstructure:"acceptance_floor"`
	VendorBonus     float64 `mapstructure:"vendor_bonus"`
}

// DetectorConfig holds column/header detection tolerances as page fractions.
type DetectorConfig struct {
	HeaderMargin         float64 `mapstructure:"header_margin"`
	HeaderBand           float64 `mapstructure:"header_band"`
	RowTol               float64 `mapstructure:"row_tol"`
	MergeGap             float64 `mapstructure:"merge_gap"`
	XTol                 float64 `mapstructure:"x_tol"`
	ExclusionRadius      float64 `mapstructure:"exclusion_radius"`
	MinScore             float64 `mapstructure:"min_score"`
	MaxEscalations       int     `mapstructure:"max_escalations"`
	YTol                 float64 `mapstructure:"y_tol"`
	DispersionThreshold  float64 `mapstructure:"dispersion_threshold"`
	NeighborRadius       float64 `mapstructure:"neighbor_radius"`
	MaxTargetedQuestions int     `mapstructure:"max_targeted_questions"`
	SemanticThreshold    float64 `mapstructure:"semantic_threshold"`
}

// FieldsConfig points at the default field definition set.
type FieldsConfig struct {
	DefinitionsPath string `mapstructure:"definitions_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads configuration from environment variables with the FIELDSCAN_ prefix.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Bind every known key explicitly so nested keys resolve from the environment.
	for _, key := range v.AllKeys() {
		_ = v.BindEnv(key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}

	cfg := &Config{}

	// Hosting platforms set a PORT env var. Use it if FIELDSCAN_SERVER_PORT is not explicitly set.
	serverPort := v.GetString("server.port")
	if port := os.Getenv("PORT"); port != "" && os.Getenv(envPrefix+"_SERVER_PORT") == "" {
		serverPort = ":" + port
	}

	cfg.Server = ServerConfig{
		Port:         serverPort,
		ReadTimeout:  v.GetDuration("server.read_timeout"),
		WriteTimeout: v.GetDuration("server.write_timeout"),
		Environment:  v.GetString("server.environment"),
	}
	cfg.DB = DBConfig{
		Driver:     strings.ToLower(v.GetString("db.driver")),
		Host:       v.GetString("db.host"),
		Port:       v.GetInt("db.port"),
		User:       v.GetString("db.user"),
		Password:   v.GetString("db.password"),
		Name:       v.GetString("db.name"),
		SSLMode:    v.GetString("db.sslmode"),
		MaxOpen:    v.GetInt("db.max_open"),
		MaxIdle:    v.GetInt("db.max_idle"),
		SQLitePath: v.GetString("db.sqlite_path"),
	}
	switch cfg.DB.Driver {
	case DriverMemory, DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.DB.Driver)
	}

	cfg.Storage = StorageConfig{
		Provider: v.GetString("storage.provider"),
		LocalDir: v.GetString("storage.local_dir"),
		S3: S3Config{
			Region:    v.GetString("storage.s3.region"),
			Bucket:    v.GetString("storage.s3.bucket"),
			Endpoint:  v.GetString("storage.s3.endpoint"),
			AccessKey: v.GetString("storage.s3.access_key"),
			SecretKey: v.GetString("storage.s3.secret_key"),
		},
	}
	cfg.Answer = AnswerConfig{
		Primary:   answerProvider(v, "answer.primary"),
		Secondary: answerProvider(v, "answer.secondary"),
	}
	cfg.OCR = OCRConfig{
		Endpoint:    v.GetString("ocr.endpoint"),
		TimeoutSecs: v.GetInt("ocr.timeout_secs"),
	}
	cfg.Extraction = ExtractionConfig{
		BatchSize:     v.GetInt("extraction.batch_size"),
		Cooldown:      v.GetDuration("extraction.cooldown"),
		PassThreshold: v.GetFloat64("extraction.pass_threshold"),
		HintCap:       v.GetFloat64("extraction.hint_cap"),
	}
	if cfg.Extraction.BatchSize <= 0 {
		return nil, fmt.Errorf("extraction batch size must be positive, got %d", cfg.Extraction.BatchSize)
	}
	cfg.Matcher = MatcherConfig{
		AcceptanceFloor: v.GetFloat64("matcher.acceptance_floor"),
		VendorBonus:     v.GetFloat64("matcher.vendor_bonus"),
	}
	cfg.Detector = DetectorConfig{
		HeaderMargin:         v.GetFloat64("detector.header_margin"),
		HeaderBand:           v.GetFloat64("detector.header_band"),
		RowTol:               v.GetFloat64("detector.row_tol"),
		MergeGap:             v.GetFloat64("detector.merge_gap"),
		XTol:                 v.GetFloat64("detector.x_tol"),
		ExclusionRadius:      v.GetFloat64("detector.exclusion_radius"),
		MinScore:             v.GetFloat64("detector.min_score"),
		MaxEscalations:       v.GetInt("detector.max_escalations"),
		YTol:                 v.GetFloat64("detector.y_tol"),
		DispersionThreshold:  v.GetFloat64("detector.dispersion_threshold"),
		NeighborRadius:       v.GetFloat64("detector.neighbor_radius"),
		MaxTargetedQuestions: v.GetInt("detector.max_targeted_questions"),
		SemanticThreshold:    v.GetFloat64("detector.semantic_threshold"),
	}
	cfg.Fields = FieldsConfig{
		DefinitionsPath: v.GetString("fields.definitions_path"),
	}
	cfg.Log = LogConfig{
		Level:  v.GetString("log.level"),
		Format: v.GetString("log.format"),
	}
	// Parse CORS allowed origins from comma-separated string
	var corsOrigins []string
	for _, o := range strings.Split(v.GetString("cors.allowed_origins"), ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			corsOrigins = append(corsOrigins, o)
		}
	}
	cfg.CORS = CORSConfig{
		AllowedOrigins: corsOrigins,
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.environment", "development")

	// DB defaults
	v.SetDefault("db.driver", DriverMemory)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "fieldscan")
	v.SetDefault("db.password", "fieldscan_secret")
	v.SetDefault("db.name", "fieldscan_db")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_open", 25)
	v.SetDefault("db.max_idle", 10)
	v.SetDefault("db.sqlite_path", "fieldscan.db")

	// Storage defaults
	v.SetDefault("storage.provider", "local")
	v.SetDefault("storage.local_dir", "./data/pages")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.bucket", "fieldscan-pages")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")

	// Answer service defaults
	v.SetDefault("answer.primary.provider", "http")
	v.SetDefault("answer.primary.endpoint", "http://localhost:8001")
	v.SetDefault("answer.primary.model", "")
	v.SetDefault("answer.primary.api_key", "")
	v.SetDefault("answer.primary.timeout_secs", 120)
	v.SetDefault("answer.primary.requests_per_second", 2.0)
	v.SetDefault("answer.primary.burst", 1)
	v.SetDefault("answer.secondary.provider", "none")
	v.SetDefault("answer.secondary.endpoint", "")
	v.SetDefault("answer.secondary.model", "")
	v.SetDefault("answer.secondary.api_key", "")
	v.SetDefault("answer.secondary.timeout_secs", 120)
	v.SetDefault("answer.secondary.requests_per_second", 0.0)
	v.SetDefault("answer.secondary.burst", 1)

	// Token service defaults
	v.SetDefault("ocr.endpoint", "http://localhost:8002")
	v.SetDefault("ocr.timeout_secs", 60)

	// Extraction defaults
	v.SetDefault("extraction.batch_size", 5)
	v.SetDefault("extraction.cooldown", "500ms")
	v.SetDefault("extraction.pass_threshold", 0.7)
	v.SetDefault("extraction.hint_cap", 0.85)

	// Matcher defaults
	v.SetDefault("matcher.acceptance_floor", 0.2)
	v.SetDefault("matcher.vendor_bonus", 0.3)

	// Detector defaults
	v.SetDefault("detector.header_margin", 0.02)
	v.SetDefault("detector.header_band", 0.0)
	v.SetDefault("detector.row_tol", 0.01)
	v.SetDefault("detector.merge_gap", 0.03)
	v.SetDefault("detector.x_tol", 0.06)
	v.SetDefault("detector.exclusion_radius", 0.06)
	v.SetDefault("detector.min_score", 0.3)
	v.SetDefault("detector.max_escalations", 1)
	v.SetDefault("detector.y_tol", 0.06)
	v.SetDefault("detector.dispersion_threshold", 0.05)
	v.SetDefault("detector.neighbor_radius", 0.20)
	v.SetDefault("detector.max_targeted_questions", 5)
	v.SetDefault("detector.semantic_threshold", 0.6)

	v.SetDefault("fields.definitions_path", "")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// CORS defaults (localhost origins for development)
	v.SetDefault("cors.allowed_origins", "http://localhost:3000,http://127.0.0.1:3000")
}

func answerProvider(v *viper.Viper, prefix string) AnswerProviderConfig {
	return AnswerProviderConfig{
		Provider:          v.GetString(prefix + ".provider"),
		Endpoint:          v.GetString(prefix + ".endpoint"),
		Model:             v.GetString(prefix + ".model"),
		APIKey:            v.GetString(prefix + ".api_key"),
		TimeoutSecs:       v.GetInt(prefix + ".timeout_secs"),
		RequestsPerSecond: v.GetFloat64(prefix + ".requests_per_second"),
		Burst:             v.GetInt(prefix + ".burst"),
	}
}
