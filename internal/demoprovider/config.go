package demoprovider

// Config holds configuration for the demo provider.
type Config struct {
	// Addr is the listen address, e.g. ":9090".
	Addr string

	// Posture is the tenant shape served at startup.
	Posture Posture

	// PageSize splits collections into pages linked by @odata.nextLink.
	PageSize int

	// ClientID and ClientSecret are the only credentials the token
	// endpoint accepts.
	ClientID     string
	ClientSecret string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         ":9090",
		Posture:      PostureWeak,
		PageSize:     2,
		ClientID:     "demo-client",
		ClientSecret: "demo-secret",
	}
}
