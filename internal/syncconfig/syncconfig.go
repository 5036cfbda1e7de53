// Package syncconfig manages the global client configuration under
// ~/.config/possync: server endpoints, credentials, tenant selection, and
// sync tuning.
package syncconfig

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// SyncConfig holds sync-related settings.
type SyncConfig struct {
	URL      string `json:"url"`
	Realtime string `json:"realtime_url,omitempty"` // websocket base; derived from URL when empty
	Strategy string `json:"strategy,omitempty"`     // "queued" (default) or "direct"
	Interval string `json:"interval,omitempty"`     // background sync interval, default "5m"
}

// Config is the global possync config stored at ~/.config/possync/config.json.
type Config struct {
	TenantID string     `json:"tenant_id"`
	Sync     SyncConfig `json:"sync"`
}

// AuthCredentials stores authentication state at ~/.config/possync/auth.json.
type AuthCredentials struct {
	APIKey    string `json:"api_key"`
	TenantID  string `json:"tenant_id"`
	DeviceID  string `json:"device_id"`
	ServerURL string `json:"server_url"`
	ExpiresAt string `json:"expires_at"`
}

const defaultServerURL = "http://localhost:8080"

// ConfigDir returns ~/.config/possync, creating it if necessary.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "possync")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// LoadConfig reads the global config, returning an empty config when the
// file does not exist.
func LoadConfig() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfig writes the global config.
func SaveConfig(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// LoadAuth reads credentials, or nil when not logged in.
func LoadAuth() (*AuthCredentials, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "auth.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// SaveAuth writes credentials with owner-only permissions.
func SaveAuth(creds *AuthCredentials) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "auth.json"), data, 0600)
}

// ClearAuth removes stored credentials.
func ClearAuth() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, "auth.json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// GetServerURL returns the sync server URL.
// Priority: POSSYNC_URL env > config.json > default.
func GetServerURL() string {
	if v := os.Getenv("POSSYNC_URL"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.URL != "" {
		return cfg.Sync.URL
	}
	return defaultServerURL
}

// GetRealtimeURL returns the websocket base URL for the change channel.
// Priority: POSSYNC_REALTIME_URL env > config.json > derived from server URL.
func GetRealtimeURL() string {
	if v := os.Getenv("POSSYNC_REALTIME_URL"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.Realtime != "" {
		return cfg.Sync.Realtime
	}
	url := GetServerURL()
	switch {
	case len(url) > 8 && url[:8] == "https://":
		return "wss://" + url[8:]
	case len(url) > 7 && url[:7] == "http://":
		return "ws://" + url[7:]
	}
	return url
}

// GetStrategy returns the configured synchronizer strategy.
// Priority: POSSYNC_STRATEGY env > config.json > "queued".
func GetStrategy() string {
	if v := os.Getenv("POSSYNC_STRATEGY"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.Strategy != "" {
		return cfg.Sync.Strategy
	}
	return "queued"
}

// GetSyncInterval returns the background sync interval.
func GetSyncInterval() time.Duration {
	parse := func(s string) (time.Duration, bool) {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return 0, false
		}
		return d, true
	}
	if v := os.Getenv("POSSYNC_INTERVAL"); v != "" {
		if d, ok := parse(v); ok {
			return d
		}
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.Interval != "" {
		if d, ok := parse(cfg.Sync.Interval); ok {
			return d
		}
	}
	return 5 * time.Minute
}

// GetMaxAttempts returns the push retry ceiling.
// Priority: POSSYNC_MAX_ATTEMPTS env > default (5).
func GetMaxAttempts() int {
	if v := os.Getenv("POSSYNC_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 5
}

// GetAPIKey returns the API key.
// Priority: POSSYNC_API_KEY env > auth.json.
func GetAPIKey() string {
	if v := os.Getenv("POSSYNC_API_KEY"); v != "" {
		return v
	}
	creds, err := LoadAuth()
	if err == nil && creds != nil {
		return creds.APIKey
	}
	return ""
}

// IsAuthenticated reports whether an API key is available.
func IsAuthenticated() bool {
	return GetAPIKey() != ""
}

// GetTenantID returns the active tenant.
// Priority: POSSYNC_TENANT env > config.json > auth.json.
func GetTenantID() string {
	if v := os.Getenv("POSSYNC_TENANT"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.TenantID != "" {
		return cfg.TenantID
	}
	creds, err := LoadAuth()
	if err == nil && creds != nil {
		return creds.TenantID
	}
	return ""
}

// GetDeviceID returns the stored device ID, generating and persisting one on
// first use.
func GetDeviceID() (string, error) {
	creds, err := LoadAuth()
	if err != nil {
		return "", err
	}
	if creds != nil && creds.DeviceID != "" {
		return creds.DeviceID, nil
	}
	id, err := GenerateDeviceID()
	if err != nil {
		return "", err
	}
	if creds == nil {
		creds = &AuthCredentials{}
	}
	creds.DeviceID = id
	if err := SaveAuth(creds); err != nil {
		return "", err
	}
	return id, nil
}

// GenerateDeviceID creates a new random device ID (16 bytes hex).
func GenerateDeviceID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
