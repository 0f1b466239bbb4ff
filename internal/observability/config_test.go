package observability

import (
	"testing"

	"github.com/smallbiznis/stitchery/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigFillsDefaults(t *testing.T) {
	cfg := LoadConfig(config.Config{Environment: "development", AppVersion: "1.2.3"})

	assert.Equal(t, "stitchery", cfg.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)
	assert.Equal(t, 0.1, cfg.OtelSamplingRatio)
	assert.False(t, cfg.OtelEnabled)
	assert.True(t, cfg.Debug())
}

func TestLoadConfigCopiesTelemetry(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppName:      "stitchery-api",
		Environment:  "production",
		OTLPEndpoint: " collector:4318 ",
		Telemetry: config.TelemetryConfig{
			LogLevel:      "warn",
			OTLPEnabled:   true,
			OTLPProtocol:  "http",
			SamplingRatio: 0.5,
		},
	})

	assert.Equal(t, "stitchery-api", cfg.ServiceName)
	assert.Equal(t, "collector:4318", cfg.OtelExporterEndpoint)
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.Equal(t, 0.5, cfg.OtelSamplingRatio)
	assert.True(t, cfg.OtelEnabled)
	assert.False(t, cfg.Debug())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "HTTP")
	t.Setenv("LOG_LEVEL", "Debug")

	cfg := LoadConfig(config.Load())
	assert.True(t, cfg.OtelEnabled, "production exports by default")
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.True(t, cfg.Debug())
}
