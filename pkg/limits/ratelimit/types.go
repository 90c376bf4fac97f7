package ratelimit

// DefaultMaxClients bounds the number of per-client limiters kept.
const DefaultMaxClients = 1024

// Config configures admin request limits. Zero values disable a limit.
type Config struct {
	// RequestsPerSecond is the sustained rate per client address.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`

	// Burst is the number of requests a client may make at once.
	// Default: RequestsPerSecond rounded up, at least 1
	Burst int `yaml:"burst" validate:"gte=0"`

	// MaxConcurrent caps in-flight requests across all clients.
	MaxConcurrent int `yaml:"max_concurrent" validate:"gte=0"`

	// MaxClients bounds the tracked client addresses; the least recently
	// seen are forgotten first.
	// Default: 1024
	MaxClients int `yaml:"max_clients" validate:"gte=0"`
}

// Enabled reports whether any limit is set.
func (c Config) Enabled() bool {
	return c.RequestsPerSecond > 0 || c.MaxConcurrent > 0
}
