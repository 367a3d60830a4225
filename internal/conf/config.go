// config.go: settings struct for the SonicGen fingerprinting engine and the
// functions to load and save them.
package conf

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LogConfig contains settings for a rotating log file.
type LogConfig struct {
	Enabled  bool   // true to enable this log
	Path     string // path to log file
	MaxSize  int    // maximum size of the log file in megabytes before rotation
	MaxAge   int    // maximum age of rotated log files in days
	MaxFiles int    // maximum number of rotated log files to keep
}

// MainSettings contains general application settings.
type MainSettings struct {
	Name string    // instance name, used in log records
	Log  LogConfig // main log file settings
}

// AudioSettings contains settings for audio decoding.
type AudioSettings struct {
	SampleRate int    // target sample rate, audio is resampled to this on load
	Path       string // directory the local fetcher reads audio blobs from
}

// SpectralSettings contains settings for the spectral front-end.
type SpectralSettings struct {
	NFFT int // STFT window length in samples
	Hop  int // STFT hop in samples
}

// LandmarkSettings contains settings for peak picking and pairing.
type LandmarkSettings struct {
	PeakNeighborhoodFreq int     // peak neighborhood radius in frequency bins
	PeakNeighborhoodTime int     // peak neighborhood radius in time frames
	PeakPercentile       float64 // magnitude floor as a percentile of the spectrogram
	FanDT                int     // maximum anchor to target distance in frames
	FanDF                int     // maximum anchor to target distance in bins
	FanOut               int     // maximum pairs emitted per anchor
}

// SamplerAnchor is one anchor point of the segment sampling curve.
type SamplerAnchor struct {
	Length           int // fingerprint length this anchor applies to
	Segments         int // number of segments at this length
	HashesPerSegment int // hashes per segment at this length
}

// SamplerSettings contains settings for query-path segment sampling.
type SamplerSettings struct {
	MinMatchable int             // fingerprints shorter than this are not matchable
	Anchors      []SamplerAnchor // piecewise-linear density curve
}

// MatchSettings contains settings for candidate search and the decision.
type MatchSettings struct {
	IgnoreFraction  float64 // fraction of globally most frequent hashes to ignore
	MinMatches      int     // minimum hits for a (source, delta) bucket to survive
	MaxHitsPerHash  int     // cap on index occurrences probed per query hash
	LimitCandidates int     // maximum candidates returned by the index
	DeltaTolerance  int     // frames of delta jitter merged into the best bucket
	MatchThreshold  float64 // matched count over query size required to report a match
}

// IngestSettings contains settings for the ingest manager and workers.
type IngestSettings struct {
	MinFingerprintCount int           // sources yielding fewer hashes are marked too_short
	InsertChunk         int           // occurrence rows per insert transaction
	Workers             int           // number of pipeline workers
	ClaimBatch          int           // sources claimed per dispatcher fetch
	PerSourceTimeout    time.Duration // budget for one source before it is flagged
	RetryMaxElapsed     time.Duration // total budget for index retries
}

// OutputSettings contains settings for the fingerprint index backends.
type OutputSettings struct {
	SQLite struct {
		Enabled bool   // true to enable the SQLite index
		Path    string // path to the SQLite database file
	}
	MySQL struct {
		Enabled  bool   // true to enable the MySQL index
		Username string // MySQL database username
		Password string // MySQL database user password
		Database string // MySQL database name
		Host     string // MySQL database host
		Port     string // MySQL database port
	}
}

// Settings is the root of the SonicGen configuration.
type Settings struct {
	Debug bool // true to enable debug output

	Main     MainSettings
	Audio    AudioSettings
	Spectral SpectralSettings
	Landmark LandmarkSettings
	Sampler  SamplerSettings
	Match    MatchSettings
	Ingest   IngestSettings
	Output   OutputSettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
	once             sync.Once
)

// Load reads the configuration into a new Settings instance and stores it as
// the process-wide instance.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// Defaults defined in defaults.go
	setDefaultConfig()

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, create one with defaults
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes a config file with default values to the first
// default config path.
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return fmt.Errorf("error unmarshaling defaults: %w", err)
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling default config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	log.Printf("Created default config file at %s", configPath)
	return viper.ReadInConfig()
}

// GetDefaultConfigPaths returns the paths where a config file is searched,
// in priority order.
func GetDefaultConfigPaths() ([]string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("error resolving user config directory: %w", err)
	}
	return []string{
		".",
		filepath.Join(configDir, "sonicgen"),
	}, nil
}

// GetSettings returns the current settings instance.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, initializing it if necessary.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				log.Fatalf("error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}
