package config

const (
	defaultDBDriver        = "sqlite3"
	defaultDBDSN           = "~/.local/share/encore/encore.db"
	defaultCatalogBaseURL  = "https://api.spotify.com/v1"
	defaultTokenURL        = "https://accounts.spotify.com/api/token"
	defaultArtifactPath    = "~/.local/share/encore/recommendations.txt"
	defaultArtifactLabel   = "Recommended"
	defaultLockDir         = "~/.local/state/encore/locks"
	defaultLogFormat       = "auto"
	defaultLogLevel        = "info"
	defaultLinkage         = "ward"
	defaultArtifactMode    = "overwrite"
	defaultPrecedenceValue = "last"
)

// Default returns the configuration used when no file overrides a value.
func Default() Config {
	return Config{
		Database: Database{
			Driver: defaultDBDriver,
			DSN:    defaultDBDSN,
		},
		Catalog: Catalog{
			BaseURL:               defaultCatalogBaseURL,
			TokenURL:              defaultTokenURL,
			TimeoutSeconds:        15,
			MaxRetries:            3,
			BackoffMs:             500,
			RequestsPerSecond:     5,
			BreakerFailures:       5,
			BreakerTimeoutSeconds: 30,
		},
		Clustering: Clustering{
			NClusters:            5,
			ClusterCountRange:    [2]int{6, 10},
			Linkage:              defaultLinkage,
			MaxReclusterAttempts: 3,
			PlaylistPrecedence:   defaultPrecedenceValue,
		},
		Classifier: Classifier{
			MinAccuracy:            0.85,
			MaxRetrainAttempts:     10,
			InitialMinSamplesSplit: 25,
			MinSamplesSplitRange:   [2]int{10, 100},
			HoldoutFraction:        0.25,
			SplitSeed:              84,
			BestEffort:             true,
		},
		Enrichment: Enrichment{
			MaxAttempts: 3,
			BackoffMs:   250,
		},
		Output: Output{
			ArtifactPath:  defaultArtifactPath,
			ArtifactLabel: defaultArtifactLabel,
			ArtifactMode:  defaultArtifactMode,
			LockDir:       defaultLockDir,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
