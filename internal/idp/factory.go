package idp

import (
	"fmt"
	"net/http"

	"github.com/dgellow/authsession/internal/config"
	"github.com/dgellow/authsession/internal/oauth"
)

// NewProvider creates a Provider based on the ProviderConfig.
func NewProvider(cfg config.ProviderConfig, deps Deps) (Provider, error) {
	kind, err := ParseKind(cfg.Provider)
	if err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if deps.Navigator == nil {
		return nil, fmt.Errorf("navigator is required")
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	switch kind {
	case KindIdentidadV1:
		return NewIdentidadV1Provider(cfg, deps)
	case KindIdentidadV2:
		return NewIdentidadV2Provider(cfg, deps)
	default:
		return NewIAuthProvider(cfg, deps)
	}
}

type requiredField struct {
	name  string
	value string
}

// requireFields fails with ErrMissingProviderParameter naming every empty
// field.
func requireFields(kind Kind, fields ...requiredField) error {
	var missing []string
	for _, f := range fields {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return oauth.MissingParameter(string(kind), missing...)
	}
	return nil
}
