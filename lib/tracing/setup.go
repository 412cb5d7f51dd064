package tracing

import (
	"context"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel/bridge/opencensus"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.7.0"
	"go.uber.org/zap"
)

var log = logging.Logger("tracing")

const (
	// environment variable names
	envCollectorEndpoint = "SEAL_STRESS_JAEGER_COLLECTOR_ENDPOINT"
	envAgentHost         = "SEAL_STRESS_JAEGER_AGENT_HOST"
	envAgentPort         = "SEAL_STRESS_JAEGER_AGENT_PORT"
	envJaegerUser        = "SEAL_STRESS_JAEGER_USERNAME"
	envJaegerCred        = "SEAL_STRESS_JAEGER_PASSWORD"
)

// The collector endpoint is an HTTP(S) URL and wins over the agent. The
// agent speaks thrift over udp, its port defaults to 6831.
func jaegerOptsFromEnv() jaeger.EndpointOption {
	if e, ok := os.LookupEnv(envCollectorEndpoint); ok {
		options := []jaeger.CollectorEndpointOption{jaeger.WithEndpoint(e)}
		if u, ok := os.LookupEnv(envJaegerUser); ok {
			if p, ok := os.LookupEnv(envJaegerCred); ok {
				options = append(options, jaeger.WithUsername(u), jaeger.WithPassword(p))
			} else {
				log.Warn("jaeger username supplied with no password. authentication will not be used.")
			}
		}
		log.Infow("sending jaeger traces to collector", "endpoint", e)
		return jaeger.WithCollectorEndpoint(options...)
	}

	if e, ok := os.LookupEnv(envAgentHost); ok {
		options := []jaeger.AgentEndpointOption{jaeger.WithAgentHost(e), jaeger.WithLogger(zap.NewStdLog(log.Desugar()))}
		port := "6831"
		if p, ok := os.LookupEnv(envAgentPort); ok {
			options = append(options, jaeger.WithAgentPort(p))
			port = p
		}
		log.Infow("sending jaeger traces to agent", "host", e, "port", port)
		return jaeger.WithAgentEndpoint(options...)
	}

	return nil
}

// SetupJaegerTracing routes opencensus spans to jaeger when one of the
// SEAL_STRESS_JAEGER_* endpoints is set. The returned function flushes
// pending spans; it is a no-op when tracing is off.
func SetupJaegerTracing(serviceName string) func(context.Context) error {
	noop := func(context.Context) error { return nil }

	jaegerEndpoint := jaegerOptsFromEnv()
	if jaegerEndpoint == nil {
		return noop
	}
	je, err := jaeger.New(jaegerEndpoint)
	if err != nil {
		log.Errorw("failed to create the jaeger exporter", "error", err)
		return noop
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(je),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		)),
		tracesdk.WithSampler(tracesdk.AlwaysSample()),
	)
	opencensus.InstallTraceBridge(opencensus.WithTracerProvider(tp))

	return tp.Shutdown
}
