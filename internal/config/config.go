// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/SyedDaiam9101/ignition/internal/inference"
	"github.com/SyedDaiam9101/ignition/internal/plan"
	"github.com/SyedDaiam9101/ignition/internal/tensor"
)

const (
	// EnvPrefix prefixes every environment variable, e.g. IGNITION_ENGINE_MAX_BATCH.
	EnvPrefix = "IGNITION"

	BackendIgnition = "ignition"
	BackendONNX     = "onnx"
	BackendMock     = "mock"
)

// Config holds all configuration for the service
type Config struct {
	// Server configuration
	Port          int           `mapstructure:"port"`
	MetricsPort   int           `mapstructure:"metrics_port"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`

	// Plan is a local path, gs://bucket/object or http(s) URL.
	Plan         string `mapstructure:"plan"`
	PlanCacheDir string `mapstructure:"plan_cache_dir"`
	// Backend is ignition, onnx or mock.
	Backend string       `mapstructure:"backend"`
	Engine  EngineConfig `mapstructure:"engine"`
	ONNX    ONNXConfig   `mapstructure:"onnx"`

	// Redis prediction cache; empty disables it.
	Redis    string        `mapstructure:"redis"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// OpenTelemetry configuration
	OTELEnabled  bool   `mapstructure:"otel_enabled"`
	OTELEndpoint string `mapstructure:"otel_endpoint"`
}

// EngineConfig mirrors inference.Options.
type EngineConfig struct {
	MaxPoolBytes    int64         `mapstructure:"max_pool_bytes"`
	MaxWait         time.Duration `mapstructure:"max_wait"`
	Workers         int           `mapstructure:"workers"`
	ZeroInitBuffers bool          `mapstructure:"zero_init_buffers"`
	CloseMode       string        `mapstructure:"close_mode"`
	MaxBatch        int64         `mapstructure:"max_batch"`
	ShapeCacheSize  int           `mapstructure:"shape_cache_size"`
}

// ONNXConfig configures the onnxruntime backend. Specs are written
// name:dtype:dims with dims joined by "x", e.g. input:float32:-1x3x224x224.
type ONNXConfig struct {
	Model         string   `mapstructure:"model"`
	SharedLibrary string   `mapstructure:"shared_library"`
	Inputs        []string `mapstructure:"inputs"`
	Outputs       []string `mapstructure:"outputs"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 50051)
	v.SetDefault("metrics_port", 9100)
	v.SetDefault("shutdown_grace", 5*time.Second)
	v.SetDefault("plan", "model.plan")
	v.SetDefault("plan_cache_dir", "")
	v.SetDefault("backend", BackendIgnition)
	v.SetDefault("engine.max_pool_bytes", int64(0))
	v.SetDefault("engine.max_wait", time.Duration(0))
	v.SetDefault("engine.workers", 0)
	v.SetDefault("engine.zero_init_buffers", false)
	v.SetDefault("engine.close_mode", "wait")
	v.SetDefault("engine.max_batch", int64(0))
	v.SetDefault("engine.shape_cache_size", inference.DefaultShapeCacheSize)
	v.SetDefault("onnx.model", "")
	v.SetDefault("onnx.shared_library", "")
	v.SetDefault("onnx.inputs", []string{})
	v.SetDefault("onnx.outputs", []string{})
	v.SetDefault("redis", "")
	v.SetDefault("cache_ttl", 5*time.Minute)
	v.SetDefault("otel_enabled", false)
	v.SetDefault("otel_endpoint", "")
}

// Load loads configuration from defaults, environment variables, an optional
// config file and overrides (typically flags the user set).
// Priority (highest to lowest): overrides > env vars > config file > defaults.
// With configFile empty, config.yaml is searched in the usual locations and
// may be absent.
func Load(configFile string, overrides map[string]interface{}) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Also honour the standard OTEL endpoint variable
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		v.SetDefault("otel_endpoint", endpoint)
		v.SetDefault("otel_enabled", true)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ignition/")
		v.AddConfigPath("$HOME/.ignition")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	for key, value := range overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.MetricsPort)
	}
	if c.Port == c.MetricsPort {
		return fmt.Errorf("port and metrics_port must be different")
	}
	switch c.Backend {
	case BackendIgnition:
		if c.Plan == "" {
			return fmt.Errorf("plan is required for the %s backend", c.Backend)
		}
		if _, err := c.Engine.Options(); err != nil {
			return err
		}
	case BackendONNX:
		if _, err := c.ONNX.Options(c.Engine.MaxBatch); err != nil {
			return err
		}
	case BackendMock:
	default:
		return fmt.Errorf("unknown backend %q (want %s, %s or %s)", c.Backend, BackendIgnition, BackendONNX, BackendMock)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl must not be negative")
	}
	return nil
}

// Options converts the engine section to inference.Options.
func (e EngineConfig) Options() (inference.Options, error) {
	mode, err := inference.ParseCloseMode(e.CloseMode)
	if err != nil {
		return inference.Options{}, err
	}
	switch {
	case e.MaxPoolBytes < 0:
		return inference.Options{}, fmt.Errorf("engine.max_pool_bytes must not be negative")
	case e.MaxWait < 0:
		return inference.Options{}, fmt.Errorf("engine.max_wait must not be negative")
	case e.Workers < 0:
		return inference.Options{}, fmt.Errorf("engine.workers must not be negative")
	case e.MaxBatch < 0:
		return inference.Options{}, fmt.Errorf("engine.max_batch must not be negative")
	}
	return inference.Options{
		MaxPoolBytes:    e.MaxPoolBytes,
		MaxWait:         e.MaxWait,
		Workers:         e.Workers,
		ZeroInitBuffers: e.ZeroInitBuffers,
		CloseMode:       mode,
		MaxBatch:        e.MaxBatch,
		ShapeCacheSize:  e.ShapeCacheSize,
	}, nil
}

// Options converts the onnx section to inference.ONNXOptions.
func (o ONNXConfig) Options(maxBatch int64) (inference.ONNXOptions, error) {
	if o.Model == "" {
		return inference.ONNXOptions{}, fmt.Errorf("onnx.model is required for the %s backend", BackendONNX)
	}
	if len(o.Inputs) == 0 || len(o.Outputs) == 0 {
		return inference.ONNXOptions{}, fmt.Errorf("onnx.inputs and onnx.outputs are required")
	}
	inputs, err := ParseSpecs(o.Inputs)
	if err != nil {
		return inference.ONNXOptions{}, fmt.Errorf("onnx.inputs: %w", err)
	}
	outputs, err := ParseSpecs(o.Outputs)
	if err != nil {
		return inference.ONNXOptions{}, fmt.Errorf("onnx.outputs: %w", err)
	}
	return inference.ONNXOptions{
		SharedLibraryPath: o.SharedLibrary,
		Inputs:            inputs,
		Outputs:           outputs,
		MaxBatch:          maxBatch,
	}, nil
}

// ParseSpecs parses name:dtype:dims tensor specs.
func ParseSpecs(specs []string) ([]plan.TensorSpec, error) {
	out := make([]plan.TensorSpec, 0, len(specs))
	for _, s := range specs {
		parts := strings.Split(s, ":")
		if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
			return nil, fmt.Errorf("spec %q: want name:dtype:dims", s)
		}
		dtype, err := tensor.ParseDType(parts[1])
		if err != nil {
			return nil, fmt.Errorf("spec %q: %w", s, err)
		}
		var shape tensor.Shape
		for _, d := range strings.Split(parts[2], "x") {
			n, err := strconv.ParseInt(d, 10, 64)
			if err != nil || n < tensor.DynamicDim || n == 0 {
				return nil, fmt.Errorf("spec %q: bad dimension %q", s, d)
			}
			shape = append(shape, n)
		}
		out = append(out, plan.TensorSpec{Name: parts[0], DType: dtype, Shape: shape})
	}
	return out, nil
}
