package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/omnidoxa/newsdesk/internal/model"
	"github.com/omnidoxa/newsdesk/internal/pipeline"
	"github.com/omnidoxa/newsdesk/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for triggering and inspecting runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newAPIRouter(ctx, env),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newAPIRouter builds the HTTP API. runCtx outlives individual requests and
// bounds the background execution of triggered runs.
func newAPIRouter(runCtx context.Context, env *pipelineEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/runs", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Kind     string   `json:"kind"`
			Category string   `json:"category"`
			Keyword  string   `json:"keyword"`
			Target   int      `json:"target"`
			MaxItems int      `json:"max_items"`
			URLs     []string `json:"urls"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		kind, runCfg, err := runConfigFromRequest(body.Kind, body.Category, body.Keyword, body.Target, body.MaxItems, body.URLs)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		// Create the run synchronously so the caller gets an id to poll;
		// the stages execute in the background.
		run, err := env.Pipeline.Runs().CreateRun(req.Context(), kind, "api", runCfg)
		if errors.Is(err, pipeline.ErrLockHeld) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"status": "busy",
				"error":  err.Error(),
				"run_id": run.ID,
			})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		go func() {
			result := env.Pipeline.Execute(runCtx, run)
			zap.L().Info("api-triggered run finished",
				zap.String("run_id", result.RunID),
				zap.Bool("success", result.Success),
			)
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "accepted",
			"run_id": run.ID,
			"kind":   string(kind),
		})
	})

	r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
		runs, err := env.Store.ListRuns(req.Context(), store.RunFilter{
			Status: model.RunStatus(req.URL.Query().Get("status")),
			Kind:   model.RunKind(req.URL.Query().Get("kind")),
			Limit:  50,
		})
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, runs)
	})

	r.Get("/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
		report, err := env.Pipeline.Runs().GetRunStatus(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, report)
	})

	r.Delete("/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		if err := env.Pipeline.Runs().CancelRun(req.Context(), id); err != nil {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "run_id": id})
	})

	return r
}

func runConfigFromRequest(kind, category, keyword string, target, maxItems int, urls []string) (model.RunKind, model.RunConfig, error) {
	switch model.RunKind(kind) {
	case model.RunKindReanalyze:
		return model.RunKindReanalyze, model.RunConfig{
			Reanalyze: &model.ReanalyzeConfig{CanonicalURLs: urls},
		}, nil
	case model.RunKindKeywordSearch:
		if maxItems <= 0 {
			maxItems = cfg.Ingest.TargetPerCat
		}
		return model.RunKindKeywordSearch, model.RunConfig{
			KeywordSearch: &model.KeywordSearchConfig{Keyword: keyword, MaxItems: maxItems},
		}, nil
	case model.RunKindCategoryRefresh:
		if target <= 0 {
			target = cfg.Ingest.TargetPerCat
		}
		return model.RunKindCategoryRefresh, model.RunConfig{
			CategoryRefresh: &model.CategoryRefreshConfig{Category: category, TargetCount: target},
		}, nil
	case model.RunKindFullRefresh, "":
		return model.RunKindFullRefresh, model.RunConfig{
			FullRefresh: &model.FullRefreshConfig{
				Categories:        cfg.Ingest.Categories,
				TargetPerCategory: cfg.Ingest.TargetPerCat,
			},
		}, nil
	default:
		return "", model.RunConfig{}, eris.Errorf("unknown run kind %q", kind)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
