// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string

	BridgeURL string

	OpenAIEndpoint   string
	OpenAIKey        string
	OpenAIDeployment string
}

// Load reads configuration from environment variables and returns a validated
// Config. Required: CHATWORKER_BRIDGE_URL (ws:// or wss://),
// CHATWORKER_OPENAI_ENDPOINT, CHATWORKER_OPENAI_KEY, CHATWORKER_OPENAI_DEPLOYMENT.
// Optional with defaults: CHATWORKER_LISTEN_ADDR (127.0.0.1:3000),
// CHATWORKER_DB_PATH (chatworker.db).
func Load() (*Config, error) {
	bridgeURL := os.Getenv("CHATWORKER_BRIDGE_URL")
	if bridgeURL == "" {
		return nil, fmt.Errorf("CHATWORKER_BRIDGE_URL is required")
	}
	if !strings.HasPrefix(bridgeURL, "ws://") && !strings.HasPrefix(bridgeURL, "wss://") {
		return nil, fmt.Errorf("CHATWORKER_BRIDGE_URL must be a ws:// or wss:// URL, got %q", bridgeURL)
	}

	openAIEndpoint := os.Getenv("CHATWORKER_OPENAI_ENDPOINT")
	if openAIEndpoint == "" {
		return nil, fmt.Errorf("CHATWORKER_OPENAI_ENDPOINT is required")
	}
	openAIKey := os.Getenv("CHATWORKER_OPENAI_KEY")
	if openAIKey == "" {
		return nil, fmt.Errorf("CHATWORKER_OPENAI_KEY is required")
	}
	openAIDeployment := os.Getenv("CHATWORKER_OPENAI_DEPLOYMENT")
	if openAIDeployment == "" {
		return nil, fmt.Errorf("CHATWORKER_OPENAI_DEPLOYMENT is required")
	}

	listenAddr := "127.0.0.1:3000"
	if v, ok := os.LookupEnv("CHATWORKER_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	dbPath := "chatworker.db"
	if v, ok := os.LookupEnv("CHATWORKER_DB_PATH"); ok {
		dbPath = v
	}

	return &Config{
		ListenAddr:       listenAddr,
		DBPath:           dbPath,
		BridgeURL:        strings.TrimRight(bridgeURL, "/"),
		OpenAIEndpoint:   openAIEndpoint,
		OpenAIKey:        openAIKey,
		OpenAIDeployment: openAIDeployment,
	}, nil
}
