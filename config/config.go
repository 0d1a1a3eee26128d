package config

import (
	"bitcoin-telemetry/logger"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

var log = logger.Logger

// Environment variable names used by the service.
const (
	EnvNodeURL = "BTC_RPC_URL"
	EnvRPCUser = "BTC_RPC_USER"
	EnvRPCPass = "BTC_RPC_PASSWORD"
	EnvPort    = "PORT"
)

// DefaultPort is the listen port when PORT is unset and no flag overrides it.
const DefaultPort = "3001"

// ErrMissingConfig indicates a required RPC setting is absent from the
// environment.
var ErrMissingConfig = errors.New("missing RPC configuration")

// NodeRPC holds the connection settings for the Bitcoin node.
type NodeRPC struct {
	URL  string
	User string
	Pass string
}

// Load reads a .env file into the process environment if one is present.
// Missing files are fine; real environment variables always win.
func Load() {
	if err := godotenv.Load(); err != nil {
		log.WithError(err).Debug("No .env file loaded, using process environment")
		return
	}
	log.Info("Loaded configuration from .env file")
}

// NodeRPCFromEnv reads the node connection settings from the environment.
// It is called on every dispatch, never cached, so rotated credentials take
// effect without a restart. All three values must be non-empty.
func NodeRPCFromEnv() (NodeRPC, error) {
	cfg := NodeRPC{
		URL:  os.Getenv(EnvNodeURL),
		User: os.Getenv(EnvRPCUser),
		Pass: os.Getenv(EnvRPCPass),
	}

	switch {
	case cfg.URL == "":
		return NodeRPC{}, fmt.Errorf("%w: %s is not set", ErrMissingConfig, EnvNodeURL)
	case cfg.User == "":
		return NodeRPC{}, fmt.Errorf("%w: %s is not set", ErrMissingConfig, EnvRPCUser)
	case cfg.Pass == "":
		return NodeRPC{}, fmt.Errorf("%w: %s is not set", ErrMissingConfig, EnvRPCPass)
	}

	return cfg, nil
}

// Port returns the configured listen port, falling back to DefaultPort.
func Port() string {
	if port := os.Getenv(EnvPort); port != "" {
		return port
	}
	return DefaultPort
}
