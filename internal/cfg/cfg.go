package cfg

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"churn-service/internal/common"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	Port           int           `validate:"min=1024,max=65535"`
	ArtifactDir    string        `validate:"required"`
	ModelFile      string        `validate:"required"`
	ScalerFile     string        `validate:"required"`
	FeaturesFile   string        `validate:"required"`
	FrontendDir    string        // optional; static serving is skipped when the directory is absent
	DataPath       string        // optional; enables the prediction audit store
	LogLevel       string        `validate:"oneof=trace debug info warn error fatal panic disabled"`
	AllowedOrigins []string      `validate:"min=1,dive,required"`
	ReadTimeout    time.Duration `validate:"min=1s,max=5m"`
	WriteTimeout   time.Duration `validate:"min=1s,max=5m"`
	PredictTimeout time.Duration `validate:"min=1ms,max=1m"`
	MaxBodyBytes   int64         `validate:"min=64"`
	LiveFeed       bool          // stream served predictions at /ws/predictions
}

type ConfigFile struct {
	Server struct {
		Port           int      `yaml:"port"`
		AllowedOrigins []string `yaml:"allowedOrigins"`
		ReadTimeout    string   `yaml:"readTimeout"`
		WriteTimeout   string   `yaml:"writeTimeout"`
		PredictTimeout string   `yaml:"predictTimeout"`
		MaxBodyBytes   int64    `yaml:"maxBodyBytes"`
		FrontendDir    string   `yaml:"frontendDir"`
		LiveFeed       *bool    `yaml:"liveFeed"`
	} `yaml:"server"`

	Artifacts struct {
		Dir          string `yaml:"dir"`
		ModelFile    string `yaml:"modelFile"`
		ScalerFile   string `yaml:"scalerFile"`
		FeaturesFile string `yaml:"featuresFile"`
	} `yaml:"artifacts"`

	System struct {
		DataPath string `yaml:"dataPath"`
		LogLevel string `yaml:"logLevel"`
	} `yaml:"system"`
}

var validate = validator.New()

func Load() (Settings, error) {
	if err := loadDotEnv(); err != nil {
		return Settings{}, err
	}

	// Try to load from YAML file first
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	// Fallback to environment variables
	return loadFromEnv()
}

// loadDotEnv populates the environment from ENV_FILE, or from ./.env when present.
// Variables already set in the process environment win.
func loadDotEnv() error {
	if path := os.Getenv(common.EnvEnvFile); path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
		return nil
	}
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}
	}
	return nil
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	settings := Settings{
		Port:           getIntFromEnvOrConfig(common.EnvPort, config.Server.Port, common.DefaultPort),
		ArtifactDir:    getEnvOrDefault(common.EnvArtifactDir, orDefault(config.Artifacts.Dir, common.DefaultArtifactDir)),
		ModelFile:      getEnvOrDefault(common.EnvModelFile, orDefault(config.Artifacts.ModelFile, common.DefaultModelFile)),
		ScalerFile:     getEnvOrDefault(common.EnvScalerFile, orDefault(config.Artifacts.ScalerFile, common.DefaultScalerFile)),
		FeaturesFile:   getEnvOrDefault(common.EnvFeaturesFile, orDefault(config.Artifacts.FeaturesFile, common.DefaultFeaturesFile)),
		FrontendDir:    getEnvOrDefault(common.EnvFrontendDir, orDefault(config.Server.FrontendDir, common.DefaultFrontendDir)),
		DataPath:       getEnvOrDefault(common.EnvDataPath, config.System.DataPath),
		LogLevel:       strings.ToLower(getEnvOrDefault(common.EnvLogLevel, orDefault(config.System.LogLevel, common.DefaultLogLevel))),
		AllowedOrigins: getOriginsFromEnvOrConfig(config.Server.AllowedOrigins),
		ReadTimeout:    getDurationFromEnvOrConfig(common.EnvReadTimeout, config.Server.ReadTimeout, 10*time.Second),
		WriteTimeout:   getDurationFromEnvOrConfig(common.EnvWriteTimeout, config.Server.WriteTimeout, 10*time.Second),
		PredictTimeout: getDurationFromEnvOrConfig(common.EnvPredictTimeout, config.Server.PredictTimeout, 5*time.Second),
		MaxBodyBytes:   getInt64FromEnvOrConfig(common.EnvMaxBodyBytes, config.Server.MaxBodyBytes, common.DefaultMaxBodyBytes),
		LiveFeed:       getBoolFromEnvOrConfig(common.EnvLiveFeed, config.Server.LiveFeed, true),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		Port:           getIntOrDefault(common.EnvPort, common.DefaultPort),
		ArtifactDir:    getEnvOrDefault(common.EnvArtifactDir, common.DefaultArtifactDir),
		ModelFile:      getEnvOrDefault(common.EnvModelFile, common.DefaultModelFile),
		ScalerFile:     getEnvOrDefault(common.EnvScalerFile, common.DefaultScalerFile),
		FeaturesFile:   getEnvOrDefault(common.EnvFeaturesFile, common.DefaultFeaturesFile),
		FrontendDir:    getEnvOrDefault(common.EnvFrontendDir, common.DefaultFrontendDir),
		DataPath:       os.Getenv(common.EnvDataPath), // optional
		LogLevel:       strings.ToLower(getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel)),
		AllowedOrigins: splitOrDefault(os.Getenv(common.EnvAllowedOrigins), []string{common.DefaultAllowedOrigins}),
		ReadTimeout:    getDurationOrDefault(common.EnvReadTimeout, 10*time.Second),
		WriteTimeout:   getDurationOrDefault(common.EnvWriteTimeout, 10*time.Second),
		PredictTimeout: getDurationOrDefault(common.EnvPredictTimeout, 5*time.Second),
		MaxBodyBytes:   getInt64OrDefault(common.EnvMaxBodyBytes, common.DefaultMaxBodyBytes),
		LiveFeed:       getBoolFromEnvOrConfig(common.EnvLiveFeed, nil, true),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// validateSettings runs the struct-tag rules and reports the first failing field by name.
func validateSettings(settings *Settings) error {
	err := validate.Struct(settings)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%s failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value())
	}
	return err
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getInt64OrDefault(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func splitOrDefault(v string, def []string) []string {
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getOriginsFromEnvOrConfig(configOrigins []string) []string {
	if env := os.Getenv(common.EnvAllowedOrigins); env != "" {
		return splitOrDefault(env, nil)
	}
	if len(configOrigins) > 0 {
		return configOrigins
	}
	return []string{common.DefaultAllowedOrigins}
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getInt64FromEnvOrConfig(key string, configValue, defaultValue int64) int64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseInt(env, 10, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getDurationFromEnvOrConfig(key, configValue string, defaultValue time.Duration) time.Duration {
	if env := os.Getenv(key); env != "" {
		if d, err := time.ParseDuration(env); err == nil {
			return d
		}
	}
	if configValue != "" {
		if d, err := time.ParseDuration(configValue); err == nil {
			return d
		}
	}
	return defaultValue
}

func getBoolFromEnvOrConfig(key string, configValue *bool, defaultValue bool) bool {
	if env := os.Getenv(key); env != "" {
		if b, err := strconv.ParseBool(env); err == nil {
			return b
		}
	}
	if configValue != nil {
		return *configValue
	}
	return defaultValue
}
