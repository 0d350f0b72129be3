package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/alive-physics/internal/config"
	"github.com/signalsfoundry/alive-physics/internal/logging"
	"github.com/signalsfoundry/alive-physics/internal/observability"
	"github.com/signalsfoundry/alive-physics/internal/rpc"
	"github.com/signalsfoundry/alive-physics/internal/rpc/ws"
	"github.com/signalsfoundry/alive-physics/internal/snapshot"
	"github.com/signalsfoundry/alive-physics/rooms"
)

func main() {
	os.Exit(serve(context.Background(), os.Args[1:], os.LookupEnv, logging.NewFromEnv(), prometheus.DefaultRegisterer))
}

// serve runs the server until SIGINT/SIGTERM or ctx cancellation and
// returns the process exit code. Cleanup deferred here (Sentry flush,
// tracing shutdown) has finished by the time it returns.
func serve(ctx context.Context, args []string, lookup func(string) (string, bool), log logging.Logger, reg prometheus.Registerer) int {
	cfg, err := config.FromLookup(lookup)
	if err != nil {
		log.Error(ctx, "invalid configuration", logging.Err(err))
		return 1
	}
	fs := flag.NewFlagSet("physics-server", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := cfg.Validate(); err != nil {
		log.Error(ctx, "invalid configuration", logging.Err(err))
		return 1
	}

	if cfg.SentryDSN != "" {
		env, _ := lookup("PHYSICS_ENVIRONMENT")
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			ServerName:  "alive-physics",
			Environment: env,
		}); err != nil {
			log.Warn(ctx, "sentry disabled", logging.Err(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromLookup(lookup), log)
	if err != nil {
		log.Warn(ctx, "tracing disabled", logging.Err(err))
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	if cfg.StatsView != "" {
		viewer.SetConfiguration(viewer.WithTheme(viewer.ThemeWesteros), viewer.WithAddr(cfg.StatsView))
		mgr := statsview.New()
		go mgr.Start()
		defer mgr.Stop()
		log.Info(ctx, "serving runtime stats viewer", logging.String("addr", cfg.StatsView))
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.GRPCAddr), logging.Err(err))
		return 1
	}

	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(stopCtx, cfg, log, lis, reg); err != nil {
		log.Error(ctx, "physics server exited", logging.Err(err))
		return 1
	}
	return 0
}

// run serves PoseService on lis and metrics plus the websocket endpoint on
// cfg.MetricsAddr until ctx is cancelled.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener, reg prometheus.Registerer) error {
	rpcMetrics, err := observability.NewRPCCollector(reg)
	if err != nil {
		return err
	}
	physMetrics, err := observability.NewPhysicsCollector(reg)
	if err != nil {
		return err
	}

	codec := snapshot.Codec{Level: cfg.CompressionLevel}
	dir := rooms.NewDirectory(
		rooms.WithWindow(cfg.Window),
		rooms.WithMaxRooms(cfg.MaxRooms),
		rooms.WithCodec(codec),
		rooms.WithLogger(log),
		rooms.WithMetrics(physMetrics),
	)
	unsubscribe := dir.Subscribe(func(ev rooms.Event) {
		switch ev.Type {
		case rooms.EventRoomOpened, rooms.EventRoomClosed:
			rpcMetrics.SetRoomCount(dir.Len())
		}
	})
	defer unsubscribe()

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			rpc.RecoveryUnaryServerInterceptor(log),
			rpc.RequestIDUnaryServerInterceptor(log),
			rpc.TracingUnaryServerInterceptor(),
			rpcMetrics.UnaryServerInterceptor(),
		),
	)
	rpc.RegisterPoseServiceServer(server, rpc.NewPoseService(dir, codec, log, rpc.WithMaxReplaySteps(cfg.MaxReplaySteps)))

	httpSrv := serveHTTP(cfg.MetricsAddr, rpcMetrics, ws.NewHandler(dir, ws.HandlerConfig{Logger: log, AllowedOrigins: cfg.WSOrigins}), log)

	log.Info(ctx, "starting PoseService gRPC server",
		logging.String("addr", lis.Addr().String()),
		logging.Step("window", cfg.Window),
	)
	serveErr := make(chan error, 1)
	go func() {
		defer sentry.Recover()
		serveErr <- server.Serve(lis)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			runErr = err
		}
	}

	log.Info(context.Background(), "shutting down physics server")
	server.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if httpSrv != nil {
		_ = httpSrv.Shutdown(shutdownCtx)
	}
	return runErr
}

func serveHTTP(addr string, collector *observability.RPCCollector, wsHandler http.Handler, log logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.Handle("/ws", wsHandler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		defer sentry.Recover()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics and websocket", logging.String("addr", addr))
	return srv
}
