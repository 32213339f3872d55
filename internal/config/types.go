package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// Supported provider identifiers.
const (
	ProviderIdentidadV1 = "identidadv1"
	ProviderIdentidadV2 = "identidadv2"
	ProviderIAuth       = "iauth"
)

// Providers lists every supported provider identifier.
var Providers = []string{ProviderIdentidadV1, ProviderIdentidadV2, ProviderIAuth}

// AccessType is the identidadv2 access_type authorization parameter.
type AccessType string

const (
	AccessTypeOnline  AccessType = "online"
	AccessTypeOffline AccessType = "offline"
)

// ProviderConfig configures the identity provider adapter. It is immutable
// once a controller has been built from it.
type ProviderConfig struct {
	Provider        string     `json:"provider" env:"AUTHSESSION_PROVIDER"`
	ClientID        string     `json:"clientId" env:"AUTHSESSION_CLIENT_ID"`
	ClientSecret    Secret     `json:"clientSecret" env:"AUTHSESSION_CLIENT_SECRET"`
	Realm           string     `json:"realm,omitempty" env:"AUTHSESSION_REALM"`
	OriginatorID    string     `json:"originatorId,omitempty" env:"AUTHSESSION_ORIGINATOR_ID"`
	ApplicationName string     `json:"applicationName,omitempty" env:"AUTHSESSION_APPLICATION_NAME"`
	RedirectURI     string     `json:"redirectUri" env:"AUTHSESSION_REDIRECT_URI"`
	Scopes          []string   `json:"scopes,omitempty" env:"AUTHSESSION_SCOPES" env-separator:" "`
	IsProduction    bool       `json:"isProduction" env:"AUTHSESSION_PRODUCTION" env-default:"false"`
	AccessType      AccessType `json:"accessType,omitempty" env:"AUTHSESSION_ACCESS_TYPE" env-default:"online"`

	// BaseURL and APIBaseURL override the per-provider service URLs.
	BaseURL    string `json:"baseUrl,omitempty" env:"AUTHSESSION_BASE_URL"`
	APIBaseURL string `json:"apiBaseUrl,omitempty" env:"AUTHSESSION_API_BASE_URL"`

	// HTTPTimeout bounds every provider call. Zero means no client timeout.
	HTTPTimeout time.Duration `json:"-" env:"AUTHSESSION_HTTP_TIMEOUT" env-default:"30s"`
}

// Storage backends.
const (
	StorageMemory    = "memory"
	StorageRedis     = "redis"
	StorageFirestore = "firestore"
)

const (
	DefaultNamespace           = "authsession"
	DefaultFirestoreCollection = "authsession_credentials"
)

// StorageConfig selects the durable credential store used outside
// production. Production deployments always keep credentials in memory.
type StorageConfig struct {
	Backend   string `json:"backend" env:"AUTHSESSION_STORAGE" env-default:"memory"`
	Namespace string `json:"namespace,omitempty" env:"AUTHSESSION_STORAGE_NAMESPACE" env-default:"authsession"`

	RedisAddr     string `json:"redisAddr,omitempty" env:"AUTHSESSION_REDIS_ADDR"`
	RedisPassword Secret `json:"redisPassword,omitempty" env:"AUTHSESSION_REDIS_PASSWORD"`
	RedisDB       int    `json:"redisDb,omitempty" env:"AUTHSESSION_REDIS_DB" env-default:"0"`

	GCPProject          string `json:"gcpProject,omitempty" env:"AUTHSESSION_GCP_PROJECT"`
	FirestoreDatabase   string `json:"firestoreDatabase,omitempty" env:"AUTHSESSION_FIRESTORE_DATABASE" env-default:"(default)"`
	FirestoreCollection string `json:"firestoreCollection,omitempty" env:"AUTHSESSION_FIRESTORE_COLLECTION" env-default:"authsession_credentials"`
}

// IdleConfig configures the idle sign-out policy.
type IdleConfig struct {
	Enabled     bool          `json:"enabled" env:"AUTHSESSION_IDLE_ENABLED" env-default:"false"`
	Timeout     time.Duration `json:"-" env:"AUTHSESSION_IDLE_TIMEOUT" env-default:"15m"`
	RedirectURL string        `json:"redirectUrl,omitempty" env:"AUTHSESSION_IDLE_REDIRECT_URL"`

	// ResetOn lists the activity channels that restart the countdown, by
	// DOM event name (mousemove, keydown, mousedown, scroll, touchstart,
	// navigate).
	ResetOn []string `json:"resetOn,omitempty" env:"AUTHSESSION_IDLE_RESET_ON" env-separator:","`

	// ScrollScope restricts scroll resets to one element subtree.
	ScrollScope string `json:"scrollScope,omitempty" env:"AUTHSESSION_IDLE_SCROLL_SCOPE"`

	// CriticalPaths never trigger the timeout redirect.
	CriticalPaths []string `json:"criticalPaths,omitempty" env:"AUTHSESSION_IDLE_CRITICAL_PATHS" env-separator:","`
}

// Config represents the config structure with resolved values
type Config struct {
	Version  string         `json:"version" env:"-"`
	Provider ProviderConfig `json:"provider"`
	Storage  StorageConfig  `json:"storage"`
	Idle     IdleConfig     `json:"idle"`
}

// RawConfigValue represents a value that could be a string or env ref.
// This is only used during parsing, not in the final config
type RawConfigValue struct {
	value string
	isRef bool
}

// ParseConfigValue parses a JSON value that could be a string or reference object
func ParseConfigValue(raw json.RawMessage) (*RawConfigValue, error) {
	// Try plain string first
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return &RawConfigValue{value: str}, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return nil, fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return nil, fmt.Errorf("unknown reference type in config value")
	}
	value := os.Getenv(envVar)
	if value == "" {
		return nil, fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return &RawConfigValue{value: value, isRef: true}, nil
}

// ParseConfigValueSlice parses a slice that may contain references
func ParseConfigValueSlice(raw []json.RawMessage) ([]string, error) {
	values := make([]string, len(raw))
	for i, item := range raw {
		parsed, err := ParseConfigValue(item)
		if err != nil {
			return nil, fmt.Errorf("parsing item %d: %w", i, err)
		}
		values[i] = parsed.value
	}
	return values, nil
}

// parseOptional resolves raw into dst when present.
func parseOptional(raw json.RawMessage, field string, dst *string) error {
	if len(raw) == 0 {
		return nil
	}
	parsed, err := ParseConfigValue(raw)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", field, err)
	}
	*dst = parsed.value
	return nil
}
