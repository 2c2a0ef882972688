package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/subwave/pkg/logger"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Transcribe TranscribeConfig `mapstructure:"transcribe"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Apprise    AppriseConfig    `mapstructure:"apprise"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type EngineConfig struct {
	// Provider: "local" (faster-whisper helper script) or "remote"
	// (OpenAI-compatible transcription API)
	Provider string `mapstructure:"provider"`
	// Script: path to the transcription helper, used by provider "local"
	Script string `mapstructure:"script"`
	// BaseURL / APIKey: remote provider endpoint settings
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	// DefaultModel: model identifier used when a request names none
	DefaultModel string `mapstructure:"default_model"`
	// ConcurrentInference: whether a loaded model may serve several
	// transcriptions at once; off means calls are serialized per model
	ConcurrentInference bool `mapstructure:"concurrent_inference"`
	// RateLimitRPM: engine invocations per minute (0 = no limit)
	RateLimitRPM int `mapstructure:"rate_limit_rpm"`
}

type TranscribeConfig struct {
	// WordsPerLine: default subtitle cue length when the request omits it
	WordsPerLine int `mapstructure:"words_per_line"`
	// Language: default source language hint ("auto" = detect)
	Language string `mapstructure:"language"`
}

type JobsConfig struct {
	// SweepIntervalMinutes: how often the store looks for expired jobs
	SweepIntervalMinutes int `mapstructure:"sweep_interval_minutes"`
	// RetentionMinutes: age past which any job is evicted, finished or not
	RetentionMinutes int `mapstructure:"retention_minutes"`
}

type AppriseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"` // Apprise API URL
	Key     string `mapstructure:"key"`      // Apprise config key
	Tag     string `mapstructure:"tag"`      // Tag to filter services
}

// SweepInterval returns the eviction sweep period, defaulting to 10 minutes.
func (j JobsConfig) SweepInterval() time.Duration {
	if j.SweepIntervalMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(j.SweepIntervalMinutes) * time.Minute
}

// Retention returns the job retention age, defaulting to 30 minutes.
func (j JobsConfig) Retention() time.Duration {
	if j.RetentionMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(j.RetentionMinutes) * time.Minute
}

// ChangeCallback is called when config changes.
type ChangeCallback func(old, new *Config)

// Manager handles config loading and hot-reload.
type Manager struct {
	mu        sync.RWMutex
	cfg       *Config
	callbacks []ChangeCallback
	stop      chan struct{}

	path        string
	lastModTime time.Time
}

// NewManager creates a config manager with hot-reload support via polling.
func NewManager(path string) (*Manager, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("SUBWAVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	var lastMod time.Time
	if stat, err := os.Stat(path); err == nil {
		lastMod = stat.ModTime()
	}

	m := &Manager{
		cfg:         &cfg,
		stop:        make(chan struct{}),
		path:        path,
		lastModTime: lastMod,
	}

	go m.pollForChanges(10 * time.Second)

	logger.Infof("📋 Config loaded (polling every 10s for changes)")

	return m, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) OnChange(cb ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

func (m *Manager) Stop() {
	close(m.stop)
}

func (m *Manager) pollForChanges(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			stat, err := os.Stat(m.path)
			if err != nil {
				continue
			}

			m.mu.RLock()
			lastMod := m.lastModTime
			m.mu.RUnlock()

			if stat.ModTime().After(lastMod) {
				logger.Infof("🔄 Config file changed, reloading...")

				if err := viper.ReadInConfig(); err != nil {
					logger.Errorf("❌ Failed to re-read config: %v", err)
					continue
				}

				m.mu.Lock()
				m.lastModTime = stat.ModTime()
				m.mu.Unlock()

				m.reload()
			}
		}
	}
}

func (m *Manager) reload() {
	var newCfg Config
	if err := viper.Unmarshal(&newCfg); err != nil {
		logger.Errorf("❌ Failed to reload config: %v", err)
		return
	}
	applyDefaults(&newCfg)

	m.mu.Lock()
	oldCfg := m.cfg
	m.cfg = &newCfg
	callbacks := m.callbacks
	m.mu.Unlock()

	logChanges(oldCfg, &newCfg, "")

	for _, cb := range callbacks {
		cb(oldCfg, &newCfg)
	}
}

// applyDefaults fills the values a minimal config file may omit.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Engine.Provider == "" {
		cfg.Engine.Provider = "local"
	}
	if cfg.Engine.DefaultModel == "" {
		cfg.Engine.DefaultModel = "base"
	}
	if cfg.Transcribe.WordsPerLine <= 0 {
		cfg.Transcribe.WordsPerLine = 5
	}
	if cfg.Transcribe.Language == "" {
		cfg.Transcribe.Language = "auto"
	}
}

func logChanges(old, cur any, prefix string) {
	oldVal := reflect.ValueOf(old)
	newVal := reflect.ValueOf(cur)

	if oldVal.Kind() == reflect.Ptr {
		oldVal = oldVal.Elem()
	}
	if newVal.Kind() == reflect.Ptr {
		newVal = newVal.Elem()
	}

	if oldVal.Kind() != reflect.Struct {
		return
	}

	t := oldVal.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		oldField := oldVal.Field(i)
		newField := newVal.Field(i)

		fieldName := field.Name
		if prefix != "" {
			fieldName = prefix + "." + fieldName
		}

		if oldField.Kind() == reflect.Struct {
			logChanges(oldField.Interface(), newField.Interface(), fieldName)
			continue
		}

		if !reflect.DeepEqual(oldField.Interface(), newField.Interface()) {
			oldStr := formatValue(oldField)
			newStr := formatValue(newField)
			logger.Infof("  📝 %s: %s → %s", fieldName, oldStr, newStr)
		}
	}
}

func formatValue(v reflect.Value) string {
	return fmt.Sprintf("%v", v.Interface())
}

// Load is a convenience function for one-time loading.
func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("SUBWAVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	return &cfg, nil
}
