package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/BullionBear/depthkeeper/docs"
	"github.com/BullionBear/depthkeeper/internal/api"
	"github.com/BullionBear/depthkeeper/internal/config"
	"github.com/BullionBear/depthkeeper/internal/notify"
	"github.com/BullionBear/depthkeeper/internal/reconstructor"
	"github.com/BullionBear/depthkeeper/internal/snapshot"
	"github.com/BullionBear/depthkeeper/internal/stream"
	"github.com/BullionBear/depthkeeper/pkg/logger"
	"github.com/BullionBear/depthkeeper/pkg/shutdown"
)

// @title Depth Reconstructor Read API
// @version 1.0
// @description Local read-only API over reconstructed perpetual futures order books.
// @BasePath /

func main() {
	var configFile string
	var isDevelopment bool
	flag.StringVar(&configFile, "config", "", "Path to the JSON config file (required)")
	flag.BoolVar(&isDevelopment, "dev", false, "Enable human-friendly console logging")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, `depthkeeper reconstructs perpetual futures order books from an exchange's snapshot + incremental depth stream.

Usage:
  depthkeeper -config <path> [-dev]`)
		flag.PrintDefaults()
	}
	flag.Parse()

	logger.InitLogger(isDevelopment)
	log := logger.Log

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	symbols := cfg.NormalizedSymbols()
	log.Info().Strs("symbols", symbols).Msg("depthkeeper starting")

	sd := shutdown.NewShutdown(log)
	ctx := sd.Context()

	snapClient := snapshot.New(cfg.Exchange.RESTBaseURL, cfg.Exchange.SnapshotDepth, cfg.Timing.SnapshotFetch.Dur())
	mgr := reconstructor.New(symbols, snapClient, cfg.Retry, log)

	var notifier *notify.Notifier
	if cfg.NATS.Enabled() {
		notifier, err = notify.New(cfg.NATS, log)
		if err != nil {
			log.Error().Err(err).Msg("failed to connect notify sink, continuing without it")
		} else {
			notifier.Attach(mgr.Bus())
			sd.HookShutdownCallback("notify", notifier.Close, 5*time.Second)
		}
	}

	streamClient := stream.New(cfg.Exchange.WSBaseURL, cfg.Exchange.DepthCadence, cfg.Timing.Reconnect.Dur(), log, mgr.DiffHandler(ctx), mgr.ReArmAll(ctx))

	var wg sync.WaitGroup
	for _, batch := range batchSymbols(symbols, cfg.Symbols.SymbolsPerConnection) {
		wg.Add(1)
		b := batch
		go func() {
			defer wg.Done()
			streamClient.Serve(ctx, b)
		}()
	}
	sd.HookShutdownCallback("stream-client", streamClient.Stop, 10*time.Second)

	log.Info().Dur("pre_roll", cfg.Timing.PreRoll.Dur()).Msg("waiting pre-roll before snapshot fetch")
	time.Sleep(cfg.Timing.PreRoll.Dur())

	mgr.BootstrapAll(ctx, cfg.Timing.Stagger.Dur())

	router := gin.Default()
	api.NewHandler(mgr).Register(router)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: router}
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting Read API")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Read API server failed")
		}
	}()
	sd.HookShutdownCallback("http-server", func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, 10*time.Second)

	stopHealth := startHealthWorker(ctx, mgr, cfg.Timing.HealthPeriod.Dur(), log)
	sd.HookShutdownCallback("health-worker", stopHealth, time.Second)

	sd.WaitForShutdown(os.Interrupt, syscall.SIGTERM)
	wg.Wait()
	log.Info().Msg("depthkeeper stopped gracefully")
}

// startHealthWorker logs a periodic summary of initialized vs pending
// symbol counts. It stops on its own once ctx is cancelled; the
// returned func only exists to satisfy the shutdown-callback shape.
func startHealthWorker(ctx context.Context, mgr *reconstructor.Manager, period time.Duration, log zerolog.Logger) func() {
	ticker := time.NewTicker(period)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				initialized, pending := 0, 0
				for _, s := range mgr.Symbols() {
					b, ok := mgr.Book(s)
					if !ok {
						continue
					}
					if b.IsInitialized() {
						initialized++
					} else {
						pending++
					}
				}
				log.Info().Int("initialized", initialized).Int("pending", pending).Msg("health summary")
			}
		}
	}()
	return func() {}
}

// batchSymbols splits symbols into groups of at most size, the unit
// each combined WebSocket connection serves.
func batchSymbols(symbols []string, size int) [][]string {
	if size <= 0 {
		size = len(symbols)
	}
	var batches [][]string
	for i := 0; i < len(symbols); i += size {
		end := i + size
		if end > len(symbols) {
			end = len(symbols)
		}
		batches = append(batches, symbols[i:end])
	}
	return batches
}
