package otel

import (
	"context"
	"testing"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = abc ,broken, =skip,tenant=lendrisk,")
	if len(headers) != 2 || headers["api-key"] != "abc" || headers["tenant"] != "lendrisk" {
		t.Fatalf("unexpected headers: %v", headers)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "authorization=Bearer x")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")

	cfg := ConfigFromEnv("lendingd", "prod")
	if cfg.Endpoint != "collector:4318" || cfg.Insecure || !cfg.Traces || !cfg.Metrics {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.SampleRatio != 0.25 || cfg.Headers["authorization"] != "Bearer x" {
		t.Fatalf("unexpected sampling or headers: %+v", cfg)
	}

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if cfg := ConfigFromEnv("lendingd", ""); cfg.Traces || cfg.Metrics {
		t.Fatalf("export should be disabled without an endpoint")
	}
}

func TestInitWithoutExporters(t *testing.T) {
	if _, err := Init(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without a service name")
	}
	shutdown, err := Init(context.Background(), Config{ServiceName: "lendingd"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
