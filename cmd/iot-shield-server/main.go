package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/EternisAI/iot-shield/internal/advisory"
	internalhttp "github.com/EternisAI/iot-shield/internal/api/http"
	"github.com/EternisAI/iot-shield/internal/auth"
	"github.com/EternisAI/iot-shield/internal/cert"
	"github.com/EternisAI/iot-shield/internal/db"
	"github.com/EternisAI/iot-shield/internal/deploy"
	"github.com/EternisAI/iot-shield/internal/events"
	"github.com/EternisAI/iot-shield/internal/firmware"
	"github.com/EternisAI/iot-shield/internal/fleet"
	grpcserver "github.com/EternisAI/iot-shield/internal/grpc/server"
	grpctls "github.com/EternisAI/iot-shield/internal/grpc/tls"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
)

var AppVersion string

func main() {
	InitConfig(os.Args[1:])

	slog.Info("IoT Shield Server", "version", AppVersion)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	clock := clockwork.NewRealClock()

	store, pool, err := openStore(ctx, clock)
	if err != nil {
		slog.Error("Failed to open fleet store", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
	}

	var publisher events.Publisher = events.Nop{}
	if config.Nats.URL != "" {
		natsPublisher, err := events.Connect(config.Nats.URL, config.Nats.SubjectPrefix)
		if err != nil {
			slog.Error("Failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
	}

	authService, err := auth.NewService(config.Auth, clock)
	if err != nil {
		slog.Error("Failed to initialize auth", "error", err)
		os.Exit(1)
	}
	authService.StartCleanup(ctx, time.Minute)

	workflow := deploy.NewWorkflow(store,
		deploy.SimulatedInstaller{FailOffline: config.Deploy.FailOffline},
		publisher, clock, config.Deploy.Delay)
	if n, err := workflow.Recover(ctx); err != nil {
		slog.Warn("Failed to resume pending deployments", "error", err)
	} else if n > 0 {
		slog.Info("Resumed pending deployments", "count", n)
	}

	signer, err := firmware.LoadOrGenerateSigner(config.Firmware.Algorithm, config.Firmware.KeyPath)
	if err != nil {
		slog.Error("Failed to initialize firmware signer", "error", err)
		os.Exit(1)
	}
	firmwareService := firmware.NewService(store, signer, publisher, clock, config.Firmware.Delay)

	var advisor advisory.Advisor
	if gemini, err := advisory.NewGeminiClient(ctx, &http.Client{}, config.Advisory); err != nil {
		slog.Warn("AI advisory disabled", "reason", err)
	} else {
		advisor = gemini
	}
	advisoryService := advisory.NewService(advisor, config.Advisory.Timeout)

	ready := func(ctx context.Context) error {
		_, err := store.ListDevices(ctx)
		return err
	}
	if pool != nil {
		ready = pool.Ping
	}

	services := &internalhttp.Services{
		Auth:      authService,
		Store:     store,
		Deploy:    workflow,
		Firmware:  firmwareService,
		Advisory:  advisoryService,
		Panels:    advisory.NewPanels(),
		Publisher: publisher,
		Clock:     clock,
		Ready:     ready,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     config.Http.CORSOrigins,
		AllowMethods:     []string{"PUT", "PATCH", "GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	engine.Use(gin.Recovery())
	internalhttp.SetupRoute(engine, services)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Http.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 2)
	go func() {
		slog.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	var grpcSrv *grpcserver.Server
	if config.Grpc.Enabled {
		if tlsCfg := config.Grpc.TLS; tlsCfg.Enabled && tlsCfg.AutoGenerate {
			if err := cert.EnsureServerCertificate(cert.Paths{
				CACert:     tlsCfg.CAFile,
				ServerCert: tlsCfg.CertFile,
				ServerKey:  tlsCfg.KeyFile,
				Hosts:      tlsCfg.Hosts,
			}, clock.Now()); err != nil {
				slog.Error("Failed to prepare gRPC certificates", "error", err)
				os.Exit(1)
			}
		}
		creds, err := grpctls.LoadServerCredentials(config.Grpc.TLS)
		if err != nil {
			slog.Error("Failed to load gRPC TLS credentials", "error", err)
			os.Exit(1)
		}
		grpcSrv = grpcserver.NewServer(config.Grpc.Port, creds)
		grpcSrv.SetServing(true)
		grpcSrv.WatchReadiness(ctx, clock, 15*time.Second, ready)

		go func() {
			if err := grpcSrv.Start(); err != nil {
				errChan <- fmt.Errorf("gRPC server error: %w", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("Server error", "error", err)
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	}

	slog.Info("Shutting down servers...")
	stop()
	workflow.Shutdown()

	var wg sync.WaitGroup
	shutdownTimeout := 10 * time.Second

	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server stopped")
		}
		if err := advisoryService.Wait(ctx); err != nil {
			slog.Warn("Advisory requests still running at shutdown", "error", err)
		}
	}()

	if grpcSrv != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := grpcSrv.StopWithTimeout(shutdownTimeout); err != nil {
				slog.Error("gRPC server shutdown error", "error", err)
			}
		}()
	}

	wg.Wait()
	slog.Info("Shutdown complete")
}

// openStore picks the postgres store when a database is configured and
// the in-memory store otherwise. Both start from the built-in seed.
func openStore(ctx context.Context, clock clockwork.Clock) (fleet.Store, *pgxpool.Pool, error) {
	seed, err := fleet.DefaultSeed(clock.Now())
	if err != nil {
		return nil, nil, err
	}

	if !config.DB.Enabled() {
		slog.Info("Using in-memory fleet store")
		return fleet.NewMemoryStore(seed), nil, nil
	}

	if err := db.RunMigrations(ctx, config.DB); err != nil {
		return nil, nil, err
	}
	pool, err := db.InitDB(ctx, config.DB)
	if err != nil {
		return nil, nil, err
	}

	store := fleet.NewPostgresStore(pool)
	if err := store.SeedIfEmpty(ctx, seed); err != nil {
		pool.Close()
		return nil, nil, err
	}
	slog.Info("Using PostgreSQL fleet store", "schema", config.DB.Schema)
	return store, pool, nil
}
