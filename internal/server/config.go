package server

import "github.com/raysh454/kansa/internal/logging"

type Config struct {
	// ListenAddr is the HTTP listen address for the API server.
	ListenAddr string

	// AllowedOrigins lists origins accepted for CORS and websocket upgrades.
	// Empty allows any origin.
	AllowedOrigins []string

	Logger logging.Logger
}
