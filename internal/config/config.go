package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. MOODSCANNER_SERVER_PORT
const EnvPrefix = "MOODSCANNER"

// Config holds all application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	ML      MLConfig      `mapstructure:"ml"`
	Capture CaptureConfig `mapstructure:"capture"`
	Scanner ScannerConfig `mapstructure:"scanner"`
}

type ServerConfig struct {
	Port      string `mapstructure:"port"`
	StaticDir string `mapstructure:"static_dir"`
	Debug     bool   `mapstructure:"debug"`
}

// MLConfig selects and configures the classification model
type MLConfig struct {
	Type            string `mapstructure:"type"` // "google" or "fixture"
	Model           string `mapstructure:"model"`
	ProjectID       string `mapstructure:"project_id"`
	Location        string `mapstructure:"location"`
	CredentialsFile string `mapstructure:"credentials_file"`
	APIKey          string `mapstructure:"api_key"`
	FixturePath     string `mapstructure:"fixture_path"`
}

// CaptureConfig is handed to the camera on acquisition
type CaptureConfig struct {
	FacingMode  string `mapstructure:"facing_mode"`
	IdealWidth  int    `mapstructure:"ideal_width"`
	IdealHeight int    `mapstructure:"ideal_height"`
	JPEGQuality int    `mapstructure:"jpeg_quality"`
}

type ScannerConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	MaxStep      int           `mapstructure:"max_step"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.static_dir", "./static")
	v.SetDefault("server.debug", false)

	v.SetDefault("ml.type", "google")
	v.SetDefault("ml.model", "gemini-2.5-flash")
	v.SetDefault("ml.project_id", "")
	v.SetDefault("ml.location", "us-central1")
	v.SetDefault("ml.credentials_file", "")
	v.SetDefault("ml.api_key", "")
	v.SetDefault("ml.fixture_path", "")

	v.SetDefault("capture.facing_mode", "user")
	v.SetDefault("capture.ideal_width", 1280)
	v.SetDefault("capture.ideal_height", 720)
	v.SetDefault("capture.jpeg_quality", 80)

	v.SetDefault("scanner.tick_interval", 300*time.Millisecond)
	v.SetDefault("scanner.max_step", 15)
	v.SetDefault("scanner.timeout", 30*time.Second)
}

// LoadConfig loads configuration from a JSON file, then applies environment
// overrides. A missing file is not an error; defaults are used instead.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Fall back to the variables the Google tooling already uses
	if config.ML.APIKey == "" {
		config.ML.APIKey = firstEnv("GEMINI_API_KEY", "API_KEY")
	}
	if config.ML.ProjectID == "" {
		config.ML.ProjectID = os.Getenv("GOOGLE_PROJECT_ID")
	}
	if config.ML.CredentialsFile == "" {
		config.ML.CredentialsFile = os.Getenv("GOOGLE_CREDENTIALS_FILE")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks values that would otherwise fail much later
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is not set")
	}
	if c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100 {
		return fmt.Errorf("capture jpeg_quality must be between 1 and 100, got %d", c.Capture.JPEGQuality)
	}
	if c.Scanner.TickInterval <= 0 {
		return fmt.Errorf("scanner tick_interval must be positive")
	}
	if c.Scanner.MaxStep <= 0 {
		return fmt.Errorf("scanner max_step must be positive")
	}
	if c.Scanner.Timeout < 0 {
		return fmt.Errorf("scanner timeout must not be negative")
	}
	switch c.ML.Type {
	case "google", "fixture":
	default:
		return fmt.Errorf("unsupported ml type: %s", c.ML.Type)
	}
	return nil
}

// GetConfigPath returns the path to the configuration file
func GetConfigPath() string {
	// First try environment variable
	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		return path
	}

	// Then try config directory
	configDir := "config"
	if _, err := os.Stat(configDir); err == nil {
		return filepath.Join(configDir, "config.json")
	}

	// Finally, try current directory
	return "config.json"
}

// LoadDotEnv loads .env.local and .env from the working directory. Variables
// already present in the environment are left alone. It returns the files
// that were loaded.
func LoadDotEnv() ([]string, error) {
	var loaded []string
	for _, p := range []string{".env.local", ".env"} {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return loaded, fmt.Errorf("failed to load %s: %w", p, err)
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
