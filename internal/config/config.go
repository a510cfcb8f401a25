package config

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/reelpick/pkg/logger"
)

const envPrefix = "REELPICK"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	LLM       LLMConfig       `mapstructure:"llm"`
	TMDB      TMDBConfig      `mapstructure:"tmdb"`
	Trakt     TraktConfig     `mapstructure:"trakt"`
	Library   LibraryConfig   `mapstructure:"library"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

type ServerConfig struct {
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// LogConfig overrides the level picked from ENV. Empty keeps that default.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
}

// LLMConfig describes the OpenAI-compatible chat completion provider.
// An empty APIKey is allowed at load time; recommendation requests fail until it is set.
type LLMConfig struct {
	BaseURL           string  `mapstructure:"base_url" validate:"required,url"`
	APIKey            string  `mapstructure:"api_key"`
	Model             string  `mapstructure:"model" validate:"required"`
	Temperature       float64 `mapstructure:"temperature" validate:"gte=0,lte=2"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds" validate:"min=1"`
	RequestsPerMinute int     `mapstructure:"requests_per_minute" validate:"min=0"` // 0 = unlimited
	BreakerFailures   uint32  `mapstructure:"breaker_failures" validate:"min=1"`    // consecutive failures before opening
	BreakerCooldown   int     `mapstructure:"breaker_cooldown_seconds" validate:"min=1"`
}

func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type TMDBConfig struct {
	BaseURL  string `mapstructure:"base_url" validate:"required,url"`
	APIKey   string `mapstructure:"api_key"`
	Language string `mapstructure:"language"`
}

// TraktConfig enables importing watch history. Device authorization runs on
// first start and the tokens are kept at TokenPath.
type TraktConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	BaseURL      string `mapstructure:"base_url" validate:"omitempty,url"`
	ClientID     string `mapstructure:"client_id" validate:"required_if=Enabled true"`
	ClientSecret string `mapstructure:"client_secret" validate:"required_if=Enabled true"`
	TokenPath    string `mapstructure:"token_path"`
}

type LibraryConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type CacheConfig struct {
	TTLMinutes int `mapstructure:"ttl_minutes" validate:"min=1"`
	MaxItems   int `mapstructure:"max_items" validate:"min=1"`
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

type SchedulerConfig struct {
	Cron string `mapstructure:"cron" validate:"required"` // standard 5-field cron
}

// ChangeCallback is called when config changes. Receives old and new config.
type ChangeCallback func(old, new *Config)

// Manager handles config loading and hot-reload.
type Manager struct {
	v *viper.Viper

	mu        sync.RWMutex
	cfg       *Config
	callbacks []ChangeCallback
}

// NewManager creates a config manager with hot-reload support.
func NewManager(path string) (*Manager, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	m := &Manager{v: v, cfg: cfg}

	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Infof("🔄 Config file changed: %s", e.Name)
		m.reload()
	})
	v.WatchConfig()

	return m, nil
}

// Get returns the current config (thread-safe).
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// OnChange registers a callback for config changes.
func (m *Manager) OnChange(cb ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// reload re-reads config and notifies subscribers. An invalid file keeps the previous config.
func (m *Manager) reload() {
	newCfg, err := decode(m.v)
	if err != nil {
		logger.Errorf("❌ Failed to reload config, keeping previous: %v", err)
		return
	}

	m.mu.Lock()
	oldCfg := m.cfg
	m.cfg = newCfg
	callbacks := m.callbacks
	m.mu.Unlock()

	logChanges(oldCfg, newCfg, "")

	// Notify subscribers outside lock
	for _, cb := range callbacks {
		cb(oldCfg, newCfg)
	}
}

// Load is a convenience function for one-time loading.
func Load(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	// Environment variable override support
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return v, nil
}

// setDefaults registers every key so AutomaticEnv can override keys absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)

	v.SetDefault("log.level", "")

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.timeout_seconds", 30)
	v.SetDefault("llm.requests_per_minute", 30)
	v.SetDefault("llm.breaker_failures", 5)
	v.SetDefault("llm.breaker_cooldown_seconds", 60)

	v.SetDefault("tmdb.base_url", "https://api.themoviedb.org/3")
	v.SetDefault("tmdb.api_key", "")
	v.SetDefault("tmdb.language", "en-US")

	v.SetDefault("trakt.enabled", false)
	v.SetDefault("trakt.base_url", "https://api.trakt.tv")
	v.SetDefault("trakt.client_id", "")
	v.SetDefault("trakt.client_secret", "")
	v.SetDefault("trakt.token_path", "data/trakt_tokens.json")

	v.SetDefault("library.path", "data/library.json")

	v.SetDefault("cache.ttl_minutes", 15)
	v.SetDefault("cache.max_items", 1000)

	v.SetDefault("scheduler.cron", "*/5 * * * *")
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints declared in the validate tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var msgs []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// logChanges logs field-level differences between old and new config.
func logChanges(old, cur any, prefix string) {
	oldVal := reflect.ValueOf(old)
	newVal := reflect.ValueOf(cur)

	// Dereference pointers
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
	for i := range t.NumField() {
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
			logger.Infof("  📝 %s: %s → %s", fieldName, formatValue(field.Name, oldField), formatValue(field.Name, newField))
		}
	}
}

// formatValue formats a reflect.Value for logging, masking secrets.
func formatValue(name string, v reflect.Value) string {
	if strings.HasSuffix(name, "APIKey") || strings.HasSuffix(name, "Secret") {
		if v.String() == "" {
			return "(unset)"
		}
		return "****"
	}
	return fmt.Sprintf("%v", v.Interface())
}
