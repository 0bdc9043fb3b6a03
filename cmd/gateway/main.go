package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arch7tect/sip-gateway/internal/admission"
	"github.com/arch7tect/sip-gateway/internal/backend"
	"github.com/arch7tect/sip-gateway/internal/call"
	"github.com/arch7tect/sip-gateway/internal/callhistory"
	"github.com/arch7tect/sip-gateway/internal/config"
	"github.com/arch7tect/sip-gateway/internal/logging"
	"github.com/arch7tect/sip-gateway/internal/tts"
	"github.com/arch7tect/sip-gateway/internal/vad"
)

func main() {
	logging.Init(os.Stdout, parseLevel(os.Getenv("LOG_LEVEL")))

	cfg, err := config.Load(os.Getenv("DOTENV_PATH"))
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logging.Init(os.Stdout, parseLevel(cfg.LogLevel))

	if cfg.BackendBaseURL == "" {
		slog.Error("BACKEND_BASE_URL is required")
		os.Exit(1)
	}

	backendClient := backend.NewClient(cfg.BackendBaseURL, cfg.BackendAuthToken, cfg.BackendPoolSize)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := backendClient.Capabilities(startupCtx); err != nil {
		slog.Warn("backend capabilities check failed at startup", "error", err)
	}
	startupCancel()

	var history *callhistory.Store
	if cfg.CallHistoryDSN != "" {
		openCtx, openCancel := context.WithTimeout(context.Background(), 10*time.Second)
		history, err = callhistory.Open(openCtx, cfg.CallHistoryDSN)
		openCancel()
		if err != nil {
			slog.Warn("call history store unavailable, continuing without it", "error", err)
			history = nil
		} else {
			defer history.Close()
		}
	}

	stack := newLoggingStack()
	model := vad.NewEnergyModel(cfg.VAD.SampleRate)

	controller := call.NewController(
		call.Config{
			VAD:                  cfg.VAD,
			Correction:           cfg.Threshold,
			AudioPortCapacity:    cfg.AudioPortCapacity,
			TTSMaxInflight:       cfg.TTSMaxInflight,
			InterruptionsAllowed: cfg.InterruptionsAllowed,
			Streaming:            cfg.Streaming,
			GreetingDelay:        cfg.GreetingDelay,
			SIPEarlyEOC:          cfg.SIPEarlyEOC,
			BackendBaseURL:       cfg.BackendBaseURL,
		},
		stack,
		backendClient,
		model,
		func(callID string) call.Sink { return newLoggingSink(callID) },
		func(sessionID string) tts.Synthesizer {
			return &backend.SynthesizerAdapter{Client: backendClient, SessionID: sessionID, TempDir: os.TempDir()}
		},
		history,
	)

	admissionServer := admission.New(controller, cfg.AdmissionToken)
	srv := &http.Server{Addr: cfg.AdmissionAddr, Handler: admissionServer.Mux()}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	slog.Info("gateway starting", "addr", cfg.AdmissionAddr, "backend", cfg.BackendBaseURL)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("gateway stopped")
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
