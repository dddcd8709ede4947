package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"timelapser/pkg/camera"
	"timelapser/pkg/capture"
	"timelapser/pkg/config"
	"timelapser/pkg/monitor"
	"timelapser/pkg/server"
	"timelapser/pkg/storage"
	"timelapser/pkg/video"
)

func main() {
	// Parse Flags (override environment)
	dataDirFlag := flag.String("data-dir", "", "Path to data directory (default: DATA_DIR or the timelapse directory)")
	portFlag := flag.String("port", "", "API Server port (default: PORT or 5001)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if *dataDirFlag != "" {
		cfg.DataDir = *dataDirFlag
	}
	if *portFlag != "" {
		cfg.Port = *portFlag
	}

	log.Printf("starting timelapser (frames: %s, data: %s)", cfg.TimelapseDir, cfg.DataDir)

	// 1. Storage
	store := storage.NewStore(cfg.DataDir, cfg.TimelapseDir)
	if err := store.Initialize(); err != nil {
		log.Fatalf("failed to initialize storage: %v", err)
	}
	defer store.Close()

	// 2. Camera providers: webcams via ffmpeg plus screen pseudo-cameras.
	cameras := camera.NewMulti(
		camera.NewFFmpegProvider(cfg.FFmpegPath),
		camera.NewScreenProvider(),
	)

	// 3. Capture engine + video assembler
	engine := capture.NewEngine(store, cameras)
	assembler := video.NewAssembler(store, video.NewFFmpegEncoder(cfg.FFmpegPath))

	// 4. External status poller feeding the engine
	poller := monitor.NewPoller(monitor.Config{
		URL:              cfg.StatusURL(),
		StatusProperty:   cfg.StatusProperty,
		ActivityProperty: cfg.ActivityProperty,
		Interval:         cfg.PollInterval,
	}, func() []string {
		state, err := store.State()
		if err != nil {
			return nil
		}
		return state.IgnoredPatterns
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go poller.Run(ctx, engine.HandleSample)
	go engine.Run(ctx)

	// 5. API Server
	apiServer := server.NewServer(store, engine, assembler, poller, cameras, cfg.Port)
	httpServer := &http.Server{
		Addr:    apiServer.Addr(),
		Handler: apiServer.Handler(),
	}
	go func() {
		log.Printf("API server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	// 6. Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down...")

	// Stop the poller and tick loop, close out any active session, then let
	// in-flight video jobs finish before the process exits.
	cancel()
	if err := engine.Stop(); err != nil && !errors.Is(err, capture.ErrNotCapturing) {
		log.Printf("failed to stop capture: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	assembler.Wait()
}
