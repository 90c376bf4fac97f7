package tracing

import "time"

// Sampling strategies.
const (
	SamplerAlways = "always"
	SamplerNever  = "never"
	SamplerRatio  = "ratio"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultServiceName = "ironbee"
	DefaultSampler     = SamplerRatio
	DefaultSampleRatio = 0.1
	DefaultTimeout     = 10 * time.Second
)

// Config configures distributed tracing.
type Config struct {
	// Enabled switches span export on. A disabled tracer is a no-op.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// ServiceName is reported as the service.name resource attribute.
	// Default: "ironbee"
	ServiceName string `yaml:"service_name"`

	// Endpoint is the OTLP gRPC collector address (host:port).
	Endpoint string `yaml:"endpoint" validate:"required_if=Enabled true,omitempty,hostname_port"`

	// Insecure disables transport security to the collector.
	Insecure bool `yaml:"insecure"`

	// Timeout bounds one export.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`

	// Sampler is one of "always", "never" or "ratio".
	// Default: "ratio"
	Sampler string `yaml:"sampler" validate:"omitempty,oneof=always never ratio"`

	// SampleRatio is the sampled fraction of new traces for "ratio".
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

func (c Config) withDefaults() Config {
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.Sampler == "" {
		c.Sampler = DefaultSampler
	}
	if c.Sampler == SamplerRatio && c.SampleRatio == 0 {
		c.SampleRatio = DefaultSampleRatio
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}
