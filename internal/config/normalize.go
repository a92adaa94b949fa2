package config

import (
	"fmt"
	"os"
	"strings"
)

// Environment variables that override file values.
const (
	EnvDBDSN        = "ENCORE_DB_DSN"
	EnvClientID     = "SPOTIFY_CLIENT_ID"
	EnvClientSecret = "SPOTIFY_CLIENT_SECRET"
	EnvRefreshToken = "SPOTIFY_REFRESH_TOKEN"
	EnvAccessToken  = "SPOTIFY_ACCESS_TOKEN"
)

func (c *Config) normalize() error {
	c.applyEnv()
	if err := c.normalizeDatabase(); err != nil {
		return err
	}
	if err := c.normalizeOutput(); err != nil {
		return err
	}
	c.normalizeCatalog()
	c.normalizeLogging()
	return nil
}

func (c *Config) applyEnv() {
	overrides := []struct {
		env    string
		target *string
	}{
		{EnvDBDSN, &c.Database.DSN},
		{EnvClientID, &c.Catalog.ClientID},
		{EnvClientSecret, &c.Catalog.ClientSecret},
		{EnvRefreshToken, &c.Catalog.RefreshToken},
		{EnvAccessToken, &c.Catalog.AccessToken},
	}
	for _, o := range overrides {
		if value, ok := os.LookupEnv(o.env); ok && strings.TrimSpace(value) != "" {
			*o.target = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeDatabase() error {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Database.DSN = strings.TrimSpace(c.Database.DSN)
	// Only sqlite DSNs are file paths; ":memory:" and "file:" URIs pass through.
	if c.Database.Driver != defaultDBDriver || c.Database.DSN == ":memory:" || strings.HasPrefix(c.Database.DSN, "file:") {
		return nil
	}
	var err error
	if c.Database.DSN, err = expandPath(c.Database.DSN); err != nil {
		return fmt.Errorf("database.db_dsn: %w", err)
	}
	return nil
}

func (c *Config) normalizeOutput() error {
	var err error
	if c.Output.ArtifactPath, err = expandPath(strings.TrimSpace(c.Output.ArtifactPath)); err != nil {
		return fmt.Errorf("output.artifact_path: %w", err)
	}
	if c.Output.LockDir, err = expandPath(strings.TrimSpace(c.Output.LockDir)); err != nil {
		return fmt.Errorf("output.lock_dir: %w", err)
	}
	if c.Output.MetricsTextfile, err = expandPath(strings.TrimSpace(c.Output.MetricsTextfile)); err != nil {
		return fmt.Errorf("output.metrics_textfile: %w", err)
	}
	c.Output.ArtifactMode = strings.ToLower(strings.TrimSpace(c.Output.ArtifactMode))
	return nil
}

func (c *Config) normalizeCatalog() {
	c.Catalog.BaseURL = strings.TrimRight(strings.TrimSpace(c.Catalog.BaseURL), "/")
	c.Catalog.TokenURL = strings.TrimSpace(c.Catalog.TokenURL)
	c.Clustering.Linkage = strings.ToLower(strings.TrimSpace(c.Clustering.Linkage))
	c.Clustering.PlaylistPrecedence = strings.ToLower(strings.TrimSpace(c.Clustering.PlaylistPrecedence))
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
