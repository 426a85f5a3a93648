package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del scanner.
type Config struct {
	Scanner ScannerConfig `yaml:"scanner"`
	Feeds   []FeedConfig  `yaml:"feeds"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

// ScannerConfig controla el comportamiento del scanner.
type ScannerConfig struct {
	IntervalSeconds       int     `yaml:"interval_seconds"` // default de los feeds sin intervalo propio
	StakeUSDC             float64 `yaml:"stake_usdc"`
	MinAnnualizedReturn   float64 `yaml:"min_annualized_return"`
	MinEdgeBps            float64 `yaml:"min_edge_bps"`
	MaxDaysUntilClose     int     `yaml:"max_days_until_close"`
	MinSimilarity         float64 `yaml:"min_similarity"`          // umbral de candidatos en discovery
	AutoApproveSimilarity float64 `yaml:"auto_approve_similarity"` // 0 = nunca auto-aprobar
	AnalysisWorkers       int     `yaml:"analysis_workers"`        // 0 = NumCPU*2
}

// FeedConfig describe un venue: fichero local o endpoint HTTP.
type FeedConfig struct {
	Platform        string  `yaml:"platform"`
	Source          string  `yaml:"source"` // ruta a .yaml/.json o URL http(s)
	IntervalSeconds int     `yaml:"interval_seconds"`
	RatePerSec      float64 `yaml:"rate_per_sec"`
	TimeoutSeconds  int     `yaml:"timeout_seconds"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// ScanInterval devuelve el intervalo por defecto como time.Duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Scanner.IntervalSeconds) * time.Second
}

// Interval devuelve el intervalo de polling del feed.
func (f FeedConfig) Interval() time.Duration {
	return time.Duration(f.IntervalSeconds) * time.Second
}

// Timeout devuelve el timeout HTTP del feed.
func (f FeedConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("POLYARB_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Scanner.IntervalSeconds <= 0 {
		cfg.Scanner.IntervalSeconds = 30
	}
	if cfg.Scanner.StakeUSDC <= 0 {
		cfg.Scanner.StakeUSDC = 100
	}
	if cfg.Scanner.MinSimilarity <= 0 {
		cfg.Scanner.MinSimilarity = 0.65
	}
	for i := range cfg.Feeds {
		if cfg.Feeds[i].IntervalSeconds <= 0 {
			cfg.Feeds[i].IntervalSeconds = cfg.Scanner.IntervalSeconds
		}
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "polyarb.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	if len(c.Feeds) == 0 {
		return fmt.Errorf("no feeds configured")
	}
	seen := make(map[string]bool, len(c.Feeds))
	for _, f := range c.Feeds {
		if f.Platform == "" || f.Source == "" {
			return fmt.Errorf("feed %q: platform and source are required", f.Platform)
		}
		if seen[f.Platform] {
			return fmt.Errorf("feed %q: duplicated platform", f.Platform)
		}
		seen[f.Platform] = true
	}
	if s := c.Scanner.AutoApproveSimilarity; s < 0 || s > 1 {
		return fmt.Errorf("auto_approve_similarity %.2f out of [0,1]", s)
	}
	return nil
}
