package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/dgellow/authsession/internal/log"
)

// ConfigVersion is the only config file version this build understands.
const ConfigVersion = "v1"

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if version != ConfigVersion {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	// The custom UnmarshalJSON methods resolve env vars immediately
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	applyDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateRawConfig validates the config structure before environment resolution
func validateRawConfig(rawConfig map[string]any) error {
	secrets := []struct {
		section string
		name    string
	}{
		{"provider", "clientSecret"},
		{"storage", "redisPassword"},
	}

	for _, secret := range secrets {
		section, ok := rawConfig[secret.section].(map[string]any)
		if !ok {
			continue
		}
		value, exists := section[secret.name]
		if !exists {
			continue
		}
		// Check if it's a string (bad) or a map (good - env ref)
		if _, isString := value.(string); isString {
			return fmt.Errorf("%s.%s must use environment variable reference for security", secret.section, secret.name)
		}
		if refMap, isMap := value.(map[string]any); isMap {
			if _, hasEnv := refMap["$env"]; !hasEnv {
				return fmt.Errorf("%s.%s must use {\"$env\": \"VAR_NAME\"} format", secret.section, secret.name)
			}
		}
	}
	return nil
}

func applyDefaults(config *Config) {
	if config.Provider.AccessType == "" {
		config.Provider.AccessType = AccessTypeOnline
	}
	if config.Provider.HTTPTimeout == 0 {
		config.Provider.HTTPTimeout = 30 * time.Second
	}
	if config.Storage.Backend == "" {
		config.Storage.Backend = StorageMemory
	}
	if config.Storage.Namespace == "" {
		config.Storage.Namespace = DefaultNamespace
	}
	if config.Storage.FirestoreDatabase == "" {
		config.Storage.FirestoreDatabase = "(default)"
	}
	if config.Storage.FirestoreCollection == "" {
		config.Storage.FirestoreCollection = DefaultFirestoreCollection
	}
	if config.Idle.Timeout == 0 {
		config.Idle.Timeout = 15 * time.Minute
	}
}

// ValidateConfig checks the resolved config. Per-provider required fields
// are checked again by the provider adapters when they are built.
func ValidateConfig(config *Config) error {
	if err := validateProvider(&config.Provider); err != nil {
		return fmt.Errorf("provider config: %w", err)
	}
	if err := validateStorage(&config.Storage); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}
	if err := validateIdle(&config.Idle); err != nil {
		return fmt.Errorf("idle config: %w", err)
	}

	if config.Provider.IsProduction && config.Storage.Backend != StorageMemory {
		log.LogWarnWithFields("config", "Durable storage backend is ignored in production", map[string]any{
			"backend": config.Storage.Backend,
		})
	}

	return nil
}

func validateProvider(p *ProviderConfig) error {
	if p.Provider == "" {
		return fmt.Errorf("provider is required. Options: %s", strings.Join(Providers, ", "))
	}
	if !slices.Contains(Providers, p.Provider) {
		return fmt.Errorf("unknown provider '%s' - supported providers: %s", p.Provider, strings.Join(Providers, ", "))
	}
	if p.RedirectURI == "" {
		return fmt.Errorf("redirectUri is required")
	}
	if _, err := url.Parse(p.RedirectURI); err != nil {
		return fmt.Errorf("invalid redirectUri: %w", err)
	}

	switch p.Provider {
	case ProviderIdentidadV1:
		if p.ClientID == "" || p.ClientSecret == "" || p.Realm == "" {
			return fmt.Errorf("%s requires clientId, clientSecret and realm", p.Provider)
		}
	case ProviderIdentidadV2:
		if p.ClientID == "" || p.Realm == "" {
			return fmt.Errorf("%s requires clientId and realm", p.Provider)
		}
		if p.AccessType != "" && p.AccessType != AccessTypeOnline && p.AccessType != AccessTypeOffline {
			return fmt.Errorf("accessType must be online or offline, got %q", p.AccessType)
		}
	case ProviderIAuth:
		if p.OriginatorID == "" || p.ApplicationName == "" {
			return fmt.Errorf("%s requires originatorId and applicationName", p.Provider)
		}
	}

	for name, raw := range map[string]string{"baseUrl": p.BaseURL, "apiBaseUrl": p.APIBaseURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL", name)
		}
	}

	if p.HTTPTimeout < 0 {
		return fmt.Errorf("httpTimeout cannot be negative")
	}
	return nil
}

func validateStorage(s *StorageConfig) error {
	switch s.Backend {
	case StorageMemory:
	case StorageRedis:
		if s.RedisAddr == "" {
			return fmt.Errorf("redisAddr is required for redis storage")
		}
		if s.RedisDB < 0 {
			return fmt.Errorf("redisDb cannot be negative")
		}
	case StorageFirestore:
		if s.GCPProject == "" {
			return fmt.Errorf("gcpProject is required for firestore storage")
		}
		if s.FirestoreCollection == "" {
			return fmt.Errorf("firestoreCollection is required for firestore storage")
		}
	default:
		return fmt.Errorf("unknown storage backend '%s' - supported backends: memory, redis, firestore", s.Backend)
	}
	if strings.Contains(s.Namespace, ":") {
		return fmt.Errorf("namespace cannot contain ':'")
	}
	return nil
}

func validateIdle(c *IdleConfig) error {
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	if !c.Enabled {
		return nil
	}
	if c.Timeout == 0 {
		return fmt.Errorf("timeout is required when idle sign-out is enabled")
	}
	if c.Timeout < time.Second {
		log.LogWarnWithFields("config", "Idle timeout is shorter than the countdown granularity", map[string]any{
			"timeout": c.Timeout.String(),
		})
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("redirectUrl is required when idle sign-out is enabled")
	}
	for _, name := range c.ResetOn {
		if !slices.Contains(activityChannels, strings.ToLower(strings.TrimSpace(name))) {
			return fmt.Errorf("unknown resetOn channel '%s' - supported channels: %s", name, strings.Join(activityChannels, ", "))
		}
	}
	return nil
}

var activityChannels = []string{"mousemove", "keydown", "mousedown", "scroll", "touchstart", "navigate"}
