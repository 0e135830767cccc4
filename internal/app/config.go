package app

import (
	"net/http"
	"time"
)

// Config holds runtime wiring options for building the app.
type Config struct {
	Home     string       // config directory, e.g. $HOME/.chorus
	RelayURL string       // relay base URL, e.g. http://127.0.0.1:8080
	HTTP     *http.Client // optional; defaults to http.DefaultClient

	// Pool tuning; zero values pick the service defaults.
	PoolTarget    int
	PoolWatermark int
	CredentialTTL time.Duration

	// Event loop tuning; zero values pick the runner defaults.
	PollInterval    time.Duration
	RefreshInterval time.Duration

	// Logging.
	LogLevel string // DEBUG, INFO, NOTICE, WARNING, ERROR; default INFO
}
