package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seclens/seclens/pkg/orchestrator"
)

// ServeCmd runs the HTTP serving mode for the chat backend.
type ServeCmd struct {
	Host string `help:"Listen host (overrides config)."`
	Port int    `help:"Listen port (overrides config)."`
}

type askRequest struct {
	Scope         string `json:"scope"`
	BackendID     string `json:"backend_id,omitempty"`
	SystemPrompt  string `json:"system_prompt,omitempty"`
	Message       string `json:"message"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

type askResponse struct {
	RunID       string         `json:"run_id"`
	Answer      string         `json:"answer"`
	ChartSpec   map[string]any `json:"chart_spec,omitempty"`
	ToolCalls   int            `json:"tool_calls"`
	Iterations  int            `json:"iterations"`
	TokensUsed  int            `json:"tokens_used"`
	Termination string         `json:"termination"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Post("/v1/ask", a.handleAsk)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func (a *app) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Message == "" {
		httpError(w, http.StatusBadRequest, "message is required")
		return
	}

	backend := req.BackendID
	if backend == "" {
		backend = a.cfg.Orchestrator.BackendID
	}

	result, err := a.orchestrator.Orchestrate(r.Context(), orchestrator.Request{
		Scope:         req.Scope,
		BackendID:     backend,
		SystemPrompt:  req.SystemPrompt,
		UserMessage:   req.Message,
		MaxIterations: req.MaxIterations,
	})
	if err != nil {
		slog.Error("run failed", "error", err)
		httpError(w, http.StatusBadGateway, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(askResponse{
		RunID:       result.RunID,
		Answer:      result.FinalText,
		ChartSpec:   result.ChartSpec,
		ToolCalls:   result.ToolCallCount,
		Iterations:  result.Iterations,
		TokensUsed:  result.TokensUsed,
		Termination: string(result.Termination),
	})
}

func httpError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
