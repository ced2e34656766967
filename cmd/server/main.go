// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/multierr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"k8s.io/klog/v2"

	"github.com/SyedDaiam9101/ignition/internal/cache"
	"github.com/SyedDaiam9101/ignition/internal/config"
	"github.com/SyedDaiam9101/ignition/internal/handler"
	"github.com/SyedDaiam9101/ignition/internal/inference"
	"github.com/SyedDaiam9101/ignition/internal/metrics"
	"github.com/SyedDaiam9101/ignition/internal/middleware"
	"github.com/SyedDaiam9101/ignition/internal/planstore"
	pb "github.com/SyedDaiam9101/ignition/proto/inferencepb"
)

const (
	serviceName    = "ignition"
	serviceVersion = "1.0.0"
)

func main() {
	klog.InitFlags(nil)

	configFile := flag.String("config", "", "Path to config file (optional)")
	flag.Int("port", 0, "gRPC server port (default: 50051)")
	flag.Int("metrics", 0, "Prometheus metrics port (default: 9100)")
	flag.String("plan", "", "Plan reference: local path, gs://bucket/object or http(s) URL")
	flag.String("backend", "", "Inference backend: ignition, onnx or mock")
	flag.String("redis", "", "Redis address for the prediction cache (empty disables it)")
	flag.Bool("mock", false, "Use mock inference engine (for testing)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configFile, flagOverrides()); err != nil {
		klog.ErrorS(err, "Server failed")
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}

// flagOverrides maps the flags set on the command line to config keys.
func flagOverrides() map[string]interface{} {
	keys := map[string]string{
		"port":    "port",
		"metrics": "metrics_port",
		"plan":    "plan",
		"backend": "backend",
		"redis":   "redis",
	}
	overrides := map[string]interface{}{}
	flag.Visit(func(f *flag.Flag) {
		if key, ok := keys[f.Name]; ok {
			overrides[key] = f.Value.(flag.Getter).Get()
		}
		if f.Name == "mock" && f.Value.String() == "true" {
			overrides["backend"] = config.BackendMock
		}
	})
	return overrides
}

func run(ctx context.Context, configFile string, overrides map[string]interface{}) (err error) {
	log := klog.FromContext(ctx)

	cfg, err := config.Load(configFile, overrides)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log.Info("Starting server", "service", serviceName,
		"port", cfg.Port, "metricsPort", cfg.MetricsPort, "backend", cfg.Backend,
		"plan", cfg.Plan, "redis", cfg.Redis, "otel", cfg.OTELEnabled)

	if cfg.OTELEnabled {
		shutdown, err := initTracer(ctx, cfg.OTELEndpoint)
		if err != nil {
			log.Error(err, "Failed to initialize tracer, continuing without tracing")
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				err = multierr.Append(err, shutdown(sctx))
			}()
		}
	}

	infer, err := loadEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, infer.Close())
	}()

	// A nil *cache.Cache must not reach the handler as a non-nil interface.
	var results handler.ResultCache
	if cfg.Redis != "" {
		c, cerr := cache.New(ctx, cache.Options{Addr: cfg.Redis, TTL: cfg.CacheTTL})
		if cerr != nil {
			log.Error(cerr, "Failed to connect to Redis, continuing without cache")
		} else {
			defer c.Close()
			results = c
			log.Info("Prediction cache enabled", "redis", cfg.Redis, "ttl", cfg.CacheTTL)
		}
	}

	healthServer := health.NewServer()
	httpServer := startHTTPServer(ctx, cfg.MetricsPort, healthServer)

	opts := []grpc.ServerOption{
		pb.ServerCodec(),
		grpc.ChainUnaryInterceptor(
			middleware.UnaryRequestIDInterceptor(),
			middleware.UnaryMetricsInterceptor(),
		),
	}
	if cfg.OTELEnabled {
		opts = append(opts, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	}
	grpcServer := grpc.NewServer(opts...)
	pb.RegisterInferenceServer(grpcServer, handler.New(infer, results))
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	addr := fmt.Sprintf(":%d", cfg.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	healthServer.SetServingStatus(pb.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	metrics.SetHealthy()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("gRPC server listening", "addr", addr)
		serveErr <- grpcServer.Serve(lis)
	}()

	select {
	case err := <-serveErr:
		httpServer.Close()
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down gracefully", "grace", cfg.ShutdownGrace)
	healthServer.SetServingStatus(pb.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	metrics.SetUnhealthy()

	// Give load balancers time to observe the unhealthy status.
	time.Sleep(cfg.ShutdownGrace)
	grpcServer.GracefulStop()

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}

	log.Info("Server shutdown complete")
	return nil
}

func loadEngine(ctx context.Context, cfg *config.Config) (inference.InferenceEngine, error) {
	log := klog.FromContext(ctx)

	switch cfg.Backend {
	case config.BackendMock:
		log.Info("Using mock inference engine")
		return inference.NewMock(), nil

	case config.BackendONNX:
		opts, err := cfg.ONNX.Options(cfg.Engine.MaxBatch)
		if err != nil {
			return nil, err
		}
		log.Info("Loading ONNX model", "model", cfg.ONNX.Model)
		return inference.NewONNX(cfg.ONNX.Model, opts)
	}

	opts, err := cfg.Engine.Options()
	if err != nil {
		return nil, err
	}
	store := planstore.New(planstore.Options{CacheDir: cfg.PlanCacheDir})
	defer store.Close()

	path, err := store.Fetch(ctx, cfg.Plan)
	if err != nil {
		return nil, err
	}
	return inference.Load(ctx, path, opts)
}

func startHTTPServer(ctx context.Context, port int, healthServer *health.Server) *http.Server {
	log := klog.FromContext(ctx)
	mux := http.NewServeMux()

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	check := func(service, okBody, failBody string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			resp, err := healthServer.Check(r.Context(), &healthpb.HealthCheckRequest{Service: service})
			if err != nil || resp.Status != healthpb.HealthCheckResponse_SERVING {
				http.Error(w, failBody, http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(okBody))
		}
	}
	// Liveness tracks the process; readiness tracks the Inference service.
	mux.HandleFunc("/healthz", check("", "OK", "Service Unavailable"))
	mux.HandleFunc("/readyz", check(pb.ServiceName, "Ready", "Not Ready"))

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening (metrics, health)", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(err, "HTTP server error")
		}
	}()

	return server
}

func initTracer(ctx context.Context, endpoint string) (func(context.Context) error, error) {
	// Spans go to stdout; endpoint is recorded for operators wiring a collector.
	klog.FromContext(ctx).Info("OpenTelemetry tracing enabled", "exporter", "stdout", "endpoint", endpoint)
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
