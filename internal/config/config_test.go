package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ewilliams-labs/encore/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		config.EnvDBDSN, config.EnvClientID, config.EnvClientSecret,
		config.EnvRefreshToken, config.EnvAccessToken,
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault_ReclusterRange(t *testing.T) {
	if got := config.Default().Clustering.ClusterCountRange; got != [2]int{6, 10} {
		t.Fatalf("default recluster range: got %v, want [6 10]", got)
	}
}

func TestLoad_FileValues(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[run]
user_id = "listener"

[database]
db_driver = "mysql"
db_dsn = "user:pass@tcp(127.0.0.1:3306)/encore"

[catalog]
catalog_base_url = "http://localhost:9000/v1/"
access_token = "token"

[clustering]
n_clusters = 7
cluster_count_range = [4, 6]
linkage = "AVERAGE"

[classifier]
min_accuracy = 0.9
max_retrain_attempts = 4

[output]
artifact_mode = "append"
`)

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("resolved %q exists=%v", resolved, exists)
	}
	if cfg.Database.Driver != "mysql" || cfg.Database.DSN != "user:pass@tcp(127.0.0.1:3306)/encore" {
		t.Errorf("database: %+v", cfg.Database)
	}
	if cfg.Catalog.BaseURL != "http://localhost:9000/v1" {
		t.Errorf("base url: got %q", cfg.Catalog.BaseURL)
	}
	if cfg.Clustering.NClusters != 7 || cfg.Clustering.ClusterCountRange != [2]int{4, 6} {
		t.Errorf("clustering: %+v", cfg.Clustering)
	}
	if cfg.Clustering.Linkage != "average" {
		t.Errorf("linkage: got %q", cfg.Clustering.Linkage)
	}
	if cfg.Classifier.MinAccuracy != 0.9 || cfg.Classifier.MaxRetrainAttempts != 4 {
		t.Errorf("classifier: %+v", cfg.Classifier)
	}
	// Untouched keys keep their defaults.
	if cfg.Classifier.SplitSeed != 84 || cfg.Classifier.InitialMinSamplesSplit != 25 {
		t.Errorf("classifier defaults lost: %+v", cfg.Classifier)
	}
	if cfg.Output.ArtifactMode != "append" || !filepath.IsAbs(cfg.Output.ArtifactPath) {
		t.Errorf("output: %+v", cfg.Output)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(config.EnvDBDSN, ":memory:")
	t.Setenv(config.EnvClientID, "id")
	t.Setenv(config.EnvClientSecret, "secret")
	t.Setenv(config.EnvRefreshToken, "refresh")

	path := writeConfig(t, `
[database]
db_dsn = "/tmp/ignored.db"
`)
	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.DSN != ":memory:" {
		t.Errorf("dsn: got %q", cfg.Database.DSN)
	}
	if cfg.Catalog.RefreshToken != "refresh" || cfg.Catalog.ClientID != "id" {
		t.Errorf("catalog credentials not applied: %+v", cfg.Catalog)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv(config.EnvAccessToken, "token")

	cfg, _, exists, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if exists {
		t.Fatal("expected exists=false")
	}
	if cfg.Classifier.MinAccuracy != 0.85 || cfg.Clustering.Linkage != "ward" {
		t.Errorf("defaults not applied: %+v %+v", cfg.Classifier, cfg.Clustering)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "accuracy above one",
			body:    "[classifier]\nmin_accuracy = 1.5\n",
			wantErr: "min_accuracy",
		},
		{
			name:    "zero holdout fraction",
			body:    "[classifier]\nholdout_fraction = 0.0\n",
			wantErr: "holdout_fraction",
		},
		{
			name:    "unknown linkage",
			body:    "[clustering]\nlinkage = \"centroid\"\n",
			wantErr: "linkage",
		},
		{
			name:    "inverted cluster range",
			body:    "[clustering]\ncluster_count_range = [6, 3]\n",
			wantErr: "cluster_count_range",
		},
		{
			name:    "unknown key",
			body:    "[clustering]\nclusters = 3\n",
			wantErr: "parse config",
		},
		{
			name:    "bad artifact mode",
			body:    "[output]\nartifact_mode = \"rotate\"\n",
			wantErr: "artifact_mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(config.EnvAccessToken, "token")
			_, _, _, err := config.Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_RequiresCredentials(t *testing.T) {
	clearEnv(t)
	_, _, _, err := config.Load(writeConfig(t, ""))
	if err == nil || !strings.Contains(err.Error(), "credentials") {
		t.Fatalf("expected credentials error, got %v", err)
	}
}

func TestCreateSample_RoundTrips(t *testing.T) {
	clearEnv(t)
	t.Setenv(config.EnvAccessToken, "token")

	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("create sample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("load sample: %v", err)
	}
	if !exists {
		t.Fatal("sample file not found")
	}
	want := config.Default()
	if cfg.Clustering.ClusterCountRange != want.Clustering.ClusterCountRange ||
		cfg.Classifier.MinSamplesSplitRange != want.Classifier.MinSamplesSplitRange ||
		cfg.Enrichment != want.Enrichment {
		t.Fatalf("sample drifted from defaults: %+v", cfg)
	}
}
