package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/kawaz/voice-agent/internal/conf"
	"github.com/kawaz/voice-agent/internal/httpserver"
	"github.com/kawaz/voice-agent/internal/logging"
	"github.com/kawaz/voice-agent/internal/metrics"
	"github.com/kawaz/voice-agent/internal/pipeline"
)

// shutdownGrace bounds how long the session driver waits for in-flight
// `final` transcriptions to land once a shutdown signal arrives, matching
// spec.md §5's drain behavior.
const shutdownGrace = 2 * time.Second

func listenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Run the voice pipeline: capture, detect, transcribe, emit",
		RunE:  runListen,
	}
}

func runListen(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logging.Init()
	logger := logging.ForService("cmd-listen")

	rootCtx := conf.NewContext(settings)
	sup, err := pipeline.Build(rootCtx)
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}
	sup.SetRecorder(metrics.New(prometheus.DefaultRegisterer))

	var wsHandler httpserver.WebsocketHandler
	if ws := sup.WebsocketEmitterOrNil(); ws != nil {
		wsHandler = ws.Handler
	}
	server := httpserver.New(wsHandler)

	httpErrCh := make(chan error, 1)
	server.Start(settings.HTTP.Addr, httpErrCh)
	logger.Info("http server listening", "addr", settings.HTTP.Addr)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- sup.Run(ctx, shutdownGrace)
	}()

	select {
	case err := <-httpErrCh:
		logger.Error("http server failed", "error", err)
		stop()
		<-runErrCh
	case err := <-runErrCh:
		if err != nil {
			logger.Error("pipeline exited", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", "error", err)
	}

	return sup.Close()
}
