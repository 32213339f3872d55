package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	result := &ValidationResult{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Message: fmt.Sprintf("invalid JSON: %v", err),
		})
		return result, nil
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.Errors = append(result.Errors, ValidationError{
			Path:    "version",
			Message: fmt.Sprintf("version field is required. Hint: Add \"version\": %q", ConfigVersion),
		})
	} else if version != ConfigVersion {
		result.Errors = append(result.Errors, ValidationError{
			Path:    "version",
			Message: fmt.Sprintf("unsupported version '%s' - use '%s'", version, ConfigVersion),
		})
	}

	provider, ok := rawConfig["provider"].(map[string]any)
	if !ok {
		result.Errors = append(result.Errors, ValidationError{
			Path:    "provider",
			Message: "provider section is required",
		})
	} else {
		validateProviderStructure(provider, result)
	}

	if storage, ok := rawConfig["storage"].(map[string]any); ok {
		validateStorageStructure(storage, result)
	}

	return result, nil
}

// validateProviderStructure checks the required fields for each provider
func validateProviderStructure(provider map[string]any, result *ValidationResult) {
	name, ok := provider["provider"].(string)
	if !ok {
		result.Errors = append(result.Errors, ValidationError{
			Path:    "provider.provider",
			Message: fmt.Sprintf("provider is required. Options: %s", strings.Join(Providers, ", ")),
		})
		return
	}

	required := map[string][]string{
		ProviderIdentidadV1: {"clientId", "clientSecret", "realm", "redirectUri"},
		ProviderIdentidadV2: {"clientId", "realm", "redirectUri"},
		ProviderIAuth:       {"originatorId", "applicationName", "redirectUri"},
	}
	fields, known := required[name]
	if !known {
		result.Errors = append(result.Errors, ValidationError{
			Path:    "provider.provider",
			Message: fmt.Sprintf("unknown provider '%s' - supported providers: %s", name, strings.Join(Providers, ", ")),
		})
		return
	}

	for _, field := range fields {
		if _, ok := provider[field]; !ok {
			result.Errors = append(result.Errors, ValidationError{
				Path:    "provider." + field,
				Message: fmt.Sprintf("%s is required for %s provider", field, name),
			})
		}
	}

	if secret, ok := provider["clientSecret"]; ok {
		if err := validateEnvVarReference(secret, "clientSecret", "provider.clientSecret"); err != nil {
			result.Errors = append(result.Errors, *err)
		}
	}
}

func validateStorageStructure(storage map[string]any, result *ValidationResult) {
	backend, _ := storage["backend"].(string)
	if backend == "" {
		return
	}
	if !slices.Contains([]string{StorageMemory, StorageRedis, StorageFirestore}, backend) {
		result.Errors = append(result.Errors, ValidationError{
			Path:    "storage.backend",
			Message: fmt.Sprintf("unknown storage backend '%s' - supported backends: memory, redis, firestore", backend),
		})
		return
	}
	if backend == StorageRedis {
		if _, ok := storage["redisAddr"]; !ok {
			result.Errors = append(result.Errors, ValidationError{
				Path:    "storage.redisAddr",
				Message: "redisAddr is required for redis storage",
			})
		}
		if password, ok := storage["redisPassword"]; ok {
			if err := validateEnvVarReference(password, "redisPassword", "storage.redisPassword"); err != nil {
				result.Errors = append(result.Errors, *err)
			}
		}
	}
	if backend == StorageFirestore {
		if _, ok := storage["gcpProject"]; !ok {
			result.Errors = append(result.Errors, ValidationError{
				Path:    "storage.gcpProject",
				Message: "gcpProject is required for firestore storage",
			})
		}
	}
}

// validateEnvVarReference validates that a field uses proper env var reference format
func validateEnvVarReference(value any, fieldName, path string) *ValidationError {
	switch v := value.(type) {
	case string:
		bashStyleRegex := regexp.MustCompile(`\$\{?([A-Z_][A-Z0-9_]*)\}?`)
		if matches := bashStyleRegex.FindStringSubmatch(v); len(matches) > 1 {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", v, matches[1]),
			}
		}
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must use environment variable reference {\"$env\": \"YOUR_ENV_VAR\"} instead of plain text. Hint: This prevents secrets from being stored in config files", fieldName),
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; !hasEnv {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("%s must use {\"$env\": \"YOUR_ENV_VAR\"} format", fieldName),
			}
		}
		return nil
	default:
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must be an environment variable reference {\"$env\": \"YOUR_ENV_VAR\"}, not %T", fieldName, value),
		}
	}
}

// checkBashStyleSyntax recursively checks for bash-style env var syntax
func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	bashStyleRegex := regexp.MustCompile(`\$\{?[A-Z_][A-Z0-9_]*\}?`)

	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.Warnings = append(result.Warnings, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", match, varName),
			})
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		for key, val := range v {
			newPath := key
			if path != "" {
				newPath = path + "." + key
			}
			checkBashStyleSyntax(val, newPath, result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
