// Package config loads server and client configuration from the
// environment into typed structs, following the teacher's
// config.LoadConfig pattern of env-var overrides over fixed defaults.
package config

import "os"

// ServerConfig configures the packaging/distribution server.
type ServerConfig struct {
	BaseDir   string // games/, processes/ (each job's state.json inside), users.yaml live here
	Port      string
	DatabaseDSN string // postgres DSN for the process queue (internal/queue)
	SignSecret  string // HMAC key for signed download links
}

// LoadServerConfig reads the server's configuration, defaulting the
// base directory to the working directory the way the teacher's
// config.LoadConfig does.
func LoadServerConfig() (*ServerConfig, error) {
	cfg := &ServerConfig{
		BaseDir:     "./",
		Port:        "8080",
		DatabaseDSN: "postgres://localhost:5432/gamevault?sslmode=disable",
		SignSecret:  "change-me",
	}

	if wd, err := os.Getwd(); err == nil {
		cfg.BaseDir = wd
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("GAMEVAULT_DB_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("GAMEVAULT_SIGN_SECRET"); v != "" {
		cfg.SignSecret = v
	}
	return cfg, nil
}

// ClientConfig configures the download/install client.
type ClientConfig struct {
	BaseDir   string // downloads/, games/, saves/ and fetched processes/<id>/ documents live here
	ServerURL string
	APIKey    string
}

// LoadClientConfig reads the client's configuration from the
// environment, used by cmd/client at startup.
func LoadClientConfig() (*ClientConfig, error) {
	cfg := &ClientConfig{
		BaseDir:   "./",
		ServerURL: "http://localhost:8080",
	}
	if wd, err := os.Getwd(); err == nil {
		cfg.BaseDir = wd
	}
	if v := os.Getenv("GAMEVAULT_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("GAMEVAULT_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	return cfg, nil
}
