package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tatianab/trainer-tales/internal/transport/ws"
	"github.com/tatianab/trainer-tales/internal/tui"
)

var playSession string

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play in the terminal",
	Long: `Starts the terminal client. Without --session a new session is created
on the first turn; type "get started" to seed it.`,
	RunE: runPlay,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve turns over WebSocket",
	Long: `Listens on TT_LISTEN_ADDR and accepts TURN messages at /ws:

  {"type":"TURN","request_id":"1","session_id":"","input":"get started"}

Each turn is answered with a RESULT or ERROR message.`,
	RunE: runServe,
}

func init() {
	playCmd.Flags().StringVarP(&playSession, "session", "s", "", "Session id to resume")
	rootCmd.Flags().StringVarP(&playSession, "session", "s", "", "Session id to resume")
}

func runPlay(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	orch, err := a.orchestrator(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("starting terminal client", zap.String("session_id", playSession))
	return tui.Run(orch, playSession)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	orch, err := a.orchestrator(ctx, cfg, logger)
	if err != nil {
		return err
	}

	wsServer := ws.NewServer(orch, cfg.GenerationTimeout*time.Duration(cfg.RetryMaxAttempts+1), logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsServer.Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	// Hijacked connections outlive Shutdown.
	wsServer.Close()
	wsServer.Wait()
	return nil
}
