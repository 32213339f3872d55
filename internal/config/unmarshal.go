package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// UnmarshalJSON implements custom unmarshaling for ProviderConfig
func (p *ProviderConfig) UnmarshalJSON(data []byte) error {
	// Use a raw type to avoid recursion
	type rawConfig struct {
		Provider        string            `json:"provider"`
		ClientID        json.RawMessage   `json:"clientId,omitempty"`
		ClientSecret    json.RawMessage   `json:"clientSecret,omitempty"`
		Realm           json.RawMessage   `json:"realm,omitempty"`
		OriginatorID    json.RawMessage   `json:"originatorId,omitempty"`
		ApplicationName string            `json:"applicationName,omitempty"`
		RedirectURI     json.RawMessage   `json:"redirectUri,omitempty"`
		Scopes          []json.RawMessage `json:"scopes,omitempty"`
		IsProduction    bool              `json:"isProduction"`
		AccessType      AccessType        `json:"accessType,omitempty"`
		BaseURL         json.RawMessage   `json:"baseUrl,omitempty"`
		APIBaseURL      json.RawMessage   `json:"apiBaseUrl,omitempty"`
		HTTPTimeout     string            `json:"httpTimeout,omitempty"`
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	p.Provider = raw.Provider
	p.ApplicationName = raw.ApplicationName
	p.IsProduction = raw.IsProduction
	p.AccessType = raw.AccessType

	fields := []struct {
		name string
		raw  json.RawMessage
		dst  *string
	}{
		{"clientId", raw.ClientID, &p.ClientID},
		{"realm", raw.Realm, &p.Realm},
		{"originatorId", raw.OriginatorID, &p.OriginatorID},
		{"redirectUri", raw.RedirectURI, &p.RedirectURI},
		{"baseUrl", raw.BaseURL, &p.BaseURL},
		{"apiBaseUrl", raw.APIBaseURL, &p.APIBaseURL},
	}
	for _, f := range fields {
		if err := parseOptional(f.raw, f.name, f.dst); err != nil {
			return err
		}
	}

	var secret string
	if err := parseOptional(raw.ClientSecret, "clientSecret", &secret); err != nil {
		return err
	}
	p.ClientSecret = Secret(secret)

	if len(raw.Scopes) > 0 {
		scopes, err := ParseConfigValueSlice(raw.Scopes)
		if err != nil {
			return fmt.Errorf("parsing scopes: %w", err)
		}
		p.Scopes = scopes
	}

	if raw.HTTPTimeout != "" {
		timeout, err := time.ParseDuration(raw.HTTPTimeout)
		if err != nil {
			return fmt.Errorf("parsing httpTimeout: %w", err)
		}
		p.HTTPTimeout = timeout
	}

	return nil
}

// UnmarshalJSON implements custom unmarshaling for StorageConfig
func (s *StorageConfig) UnmarshalJSON(data []byte) error {
	type rawConfig struct {
		Backend             string          `json:"backend"`
		Namespace           string          `json:"namespace,omitempty"`
		RedisAddr           json.RawMessage `json:"redisAddr,omitempty"`
		RedisPassword       json.RawMessage `json:"redisPassword,omitempty"`
		RedisDB             int             `json:"redisDb,omitempty"`
		GCPProject          json.RawMessage `json:"gcpProject,omitempty"`
		FirestoreDatabase   string          `json:"firestoreDatabase,omitempty"`
		FirestoreCollection string          `json:"firestoreCollection,omitempty"`
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Backend = raw.Backend
	s.Namespace = raw.Namespace
	s.RedisDB = raw.RedisDB
	s.FirestoreDatabase = raw.FirestoreDatabase
	s.FirestoreCollection = raw.FirestoreCollection

	if err := parseOptional(raw.RedisAddr, "redisAddr", &s.RedisAddr); err != nil {
		return err
	}
	if err := parseOptional(raw.GCPProject, "gcpProject", &s.GCPProject); err != nil {
		return err
	}
	var password string
	if err := parseOptional(raw.RedisPassword, "redisPassword", &password); err != nil {
		return err
	}
	s.RedisPassword = Secret(password)

	return nil
}

// UnmarshalJSON implements custom unmarshaling for IdleConfig
func (c *IdleConfig) UnmarshalJSON(data []byte) error {
	type rawConfig struct {
		Enabled       bool     `json:"enabled"`
		Timeout       string   `json:"timeout,omitempty"`
		RedirectURL   string   `json:"redirectUrl,omitempty"`
		ResetOn       []string `json:"resetOn,omitempty"`
		ScrollScope   string   `json:"scrollScope,omitempty"`
		CriticalPaths []string `json:"criticalPaths,omitempty"`
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.Enabled = raw.Enabled
	c.RedirectURL = raw.RedirectURL
	c.ResetOn = raw.ResetOn
	c.ScrollScope = raw.ScrollScope
	c.CriticalPaths = raw.CriticalPaths

	if raw.Timeout != "" {
		timeout, err := time.ParseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("parsing timeout: %w", err)
		}
		c.Timeout = timeout
	}

	return nil
}
