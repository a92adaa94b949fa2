// Package config loads the encore configuration: defaults, then an optional
// TOML file, then environment overrides, then validation.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Run identifies whose recommendations are computed.
type Run struct {
	// UserID owns the result set; empty resolves it from the catalog.
	UserID string `toml:"user_id"`
	// RandomSeed seeds cluster selection and retrain draws; 0 seeds from
	// the clock.
	RandomSeed uint64 `toml:"random_seed"`
}

// Database selects the feature store and result table.
type Database struct {
	Driver string `toml:"db_driver" validate:"oneof=sqlite3 mysql"`
	DSN    string `toml:"db_dsn" validate:"required"`
}

// Catalog configures the track details collaborator.
type Catalog struct {
	BaseURL               string  `toml:"catalog_base_url" validate:"required,url"`
	ClientID              string  `toml:"client_id"`
	ClientSecret          string  `toml:"client_secret"`
	RefreshToken          string  `toml:"refresh_token"`
	AccessToken           string  `toml:"access_token"`
	TokenURL              string  `toml:"token_url" validate:"omitempty,url"`
	TimeoutSeconds        int     `toml:"timeout_seconds" validate:"gte=1"`
	MaxRetries            int     `toml:"catalog_max_retries" validate:"gte=1,lte=10"`
	BackoffMs             int     `toml:"catalog_backoff_ms" validate:"gte=0"`
	RequestsPerSecond     float64 `toml:"catalog_rps" validate:"gte=0"`
	BreakerFailures       uint32  `toml:"breaker_failures"`
	BreakerTimeoutSeconds int     `toml:"breaker_timeout_seconds" validate:"gte=0"`
}

// Clustering configures the cluster engine and the re-cluster fallback.
type Clustering struct {
	NClusters            int    `toml:"n_clusters" validate:"gte=1"`
	ClusterCountRange    [2]int `toml:"cluster_count_range"`
	Linkage              string `toml:"linkage" validate:"oneof=ward complete average single"`
	MaxReclusterAttempts int    `toml:"max_recluster_attempts" validate:"gte=0,lte=20"`
	PlaylistPrecedence   string `toml:"playlist_precedence" validate:"oneof=last first"`
}

// Classifier configures the decision tree retrain loop.
type Classifier struct {
	MinAccuracy            float64 `toml:"min_accuracy" validate:"gt=0,lte=1"`
	MaxRetrainAttempts     int     `toml:"max_retrain_attempts" validate:"gte=1,lte=100"`
	InitialMinSamplesSplit int     `toml:"initial_min_samples_split" validate:"gte=2"`
	MinSamplesSplitRange   [2]int  `toml:"min_samples_split_range"`
	HoldoutFraction        float64 `toml:"holdout_fraction" validate:"gt=0,lt=1"`
	SplitSeed              uint64  `toml:"split_seed"`
	MaxDepth               int     `toml:"max_depth" validate:"gte=0"`
	BestEffort             bool    `toml:"best_effort"`
}

// Enrichment configures the per-track catalog retry.
type Enrichment struct {
	MaxAttempts int `toml:"enrich_max_attempts" validate:"gte=1,lte=10"`
	BackoffMs   int `toml:"enrich_backoff_ms" validate:"gte=0"`
}

// Output configures the flat artifact, run lock and metrics file.
type Output struct {
	ArtifactPath    string `toml:"artifact_path" validate:"required"`
	ArtifactLabel   string `toml:"artifact_label" validate:"required"`
	ArtifactMode    string `toml:"artifact_mode" validate:"oneof=overwrite append"`
	LockDir         string `toml:"lock_dir" validate:"required"`
	MetricsTextfile string `toml:"metrics_textfile"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format" validate:"oneof=auto console json"`
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
}

// Config encapsulates all configuration values for encore. The whole value
// is handed to the pipeline constructor.
type Config struct {
	Run        Run        `toml:"run"`
	Database   Database   `toml:"database"`
	Catalog    Catalog    `toml:"catalog"`
	Clustering Clustering `toml:"clustering"`
	Classifier Classifier `toml:"classifier"`
	Enrichment Enrichment `toml:"enrichment"`
	Output     Output     `toml:"output"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/encore/config.toml")
}

// Load locates, parses, and validates a configuration file. A missing file is
// not an error: defaults and environment overrides still apply. It returns the
// resolved path and whether the file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath) // #nosec G304 -- operator-supplied config path
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, "", false, fmt.Errorf("parse config: %s", strict.String())
			}
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("encore.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// CreateSample writes the annotated sample configuration to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil { // #nosec G306 -- config holds no secrets until the operator adds them
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// CatalogTimeout returns the per-request HTTP timeout.
func (c *Config) CatalogTimeout() time.Duration {
	return time.Duration(c.Catalog.TimeoutSeconds) * time.Second
}

// CatalogBackoff returns the base delay between HTTP retries.
func (c *Config) CatalogBackoff() time.Duration {
	return time.Duration(c.Catalog.BackoffMs) * time.Millisecond
}

// BreakerTimeout returns how long the catalog breaker stays open.
func (c *Config) BreakerTimeout() time.Duration {
	return time.Duration(c.Catalog.BreakerTimeoutSeconds) * time.Second
}

// EnrichBackoff returns the base delay between per-track lookups.
func (c *Config) EnrichBackoff() time.Duration {
	return time.Duration(c.Enrichment.BackoffMs) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
