package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/inbox-sync/internal/meetings"
	"github.com/sells-group/inbox-sync/internal/model"
	"github.com/sells-group/inbox-sync/internal/monitoring"
	"github.com/sells-group/inbox-sync/internal/store"
	"github.com/sells-group/inbox-sync/pkg/nylas"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, webhook receiver, and worker pools",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		ws, err := buildWorkers(env)
		if err != nil {
			return err
		}
		ingestor := meetings.NewIngestor(env.Store, env.Recall, meetingsConfig())
		checker := monitoring.NewChecker(
			monitoring.NewCollector(env.Store),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env.Store, ingestor, ws.Runners),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return ws.Run(gctx)
		})
		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			zap.L().Info("http server listening", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// apiStore is the slice of the store the HTTP surface needs.
type apiStore interface {
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	GetAccountByGrant(ctx context.Context, grantID string) (*model.Account, error)
	CreateJob(ctx context.Context, accountID string, syncType model.SyncType, syncFrom *time.Time) (*model.SyncJob, error)
	GetJob(ctx context.Context, id string) (*model.SyncJob, error)
	ListStageRecords(ctx context.Context, f store.StageFilter) ([]*model.StageRecord, error)
	Ping(ctx context.Context) error
}

// eventSink folds calendar changes into meeting rows.
type eventSink interface {
	HandleEventChange(ctx context.Context, accountID string, ev *nylas.Event) error
}

// newRouter assembles the HTTP surface: job management, manual worker
// drains, the calendar webhook, and health.
func newRouter(st apiStore, sink eventSink, runners *runnerSet) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", handleHealth(st))
	r.Route("/api", func(r chi.Router) {
		r.Post("/sync-jobs", handleCreateJob(st))
		r.Get("/sync-jobs/{id}", handleGetJob(st))
		r.Get("/sync-jobs/{id}/threads", handleJobThreads(st))
		r.Post("/workers/{pool}/run", handleRunWorkers(runners))
	})
	r.Get("/webhooks/calendar", handleWebhookChallenge)
	r.Post("/webhooks/calendar", handleCalendarWebhook(st, sink))
	return r
}

// requestLogger emits one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func handleHealth(st apiStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			zap.L().Error("health check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type createJobRequest struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	SyncType  string `json:"sync_type"`
	From      string `json:"from"`
}

func handleCreateJob(st apiStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}

		var (
			account *model.Account
			err     error
		)
		switch {
		case req.AccountID != "":
			account, err = st.GetAccount(r.Context(), req.AccountID)
		case req.Email != "":
			account, err = st.GetAccountByEmail(r.Context(), req.Email)
		default:
			writeError(w, http.StatusBadRequest, "account_id or email is required")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "account lookup failed")
			return
		}
		if account == nil {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}

		syncType := model.SyncType(req.SyncType)
		switch syncType {
		case model.SyncTypeInitial, model.SyncTypeIncremental:
		case "":
			syncType = model.SyncTypeIncremental
			if account.LastSyncedAt == nil {
				syncType = model.SyncTypeInitial
			}
		default:
			writeError(w, http.StatusBadRequest, "sync_type must be initial or incremental")
			return
		}

		var from *time.Time
		if req.From != "" {
			t, err := time.Parse(time.RFC3339, req.From)
			if err != nil {
				writeError(w, http.StatusBadRequest, "from must be RFC3339")
				return
			}
			from = &t
		}

		job, err := st.CreateJob(r.Context(), account.ID, syncType, from)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "create job failed")
			return
		}
		writeJSON(w, http.StatusAccepted, job)
	}
}

func handleGetJob(st apiStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := st.GetJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "job lookup failed")
			return
		}
		if job == nil {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

// maxThreadList caps one page of the thread drill-down.
const maxThreadList = 500

// handleJobThreads lists a job's conversations. The display stage is
// recomputed from the stage flags, so a reset record reports the stage
// its completed work implies rather than the stored value.
func handleJobThreads(st apiStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := st.GetJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "job lookup failed")
			return
		}
		if job == nil {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}

		f := store.StageFilter{JobID: job.ID, Limit: maxThreadList}
		if stage := r.URL.Query().Get("stage"); stage != "" {
			if !model.Stage(stage).Valid() {
				writeError(w, http.StatusBadRequest, "unknown stage")
				return
			}
			f.Stage = model.Stage(stage)
		}

		records, err := st.ListStageRecords(r.Context(), f)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "thread listing failed")
			return
		}
		for _, rec := range records {
			rec.CurrentStage = model.DeriveStage(rec.StageFlags, rec.CurrentStage == model.StageFailed)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"threads": records,
			"count":   len(records),
		})
	}
}

func handleRunWorkers(runners *runnerSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		step, ok := runners.step(chi.URLParam(r, "pool"))
		if !ok {
			writeError(w, http.StatusNotFound, "unknown worker pool")
			return
		}
		writeJSON(w, http.StatusOK, drain(r.Context(), step, maxDrainPerRequest))
	}
}

// handleWebhookChallenge answers the provider's endpoint verification by
// echoing the challenge query parameter verbatim.
func handleWebhookChallenge(w http.ResponseWriter, r *http.Request) {
	challenge := r.URL.Query().Get("challenge")
	if challenge == "" {
		writeError(w, http.StatusBadRequest, "missing challenge")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(challenge))
}

func handleCalendarWebhook(st apiStore, sink eventSink) http.HandlerFunc {
	log := zap.L().With(zap.String("component", "webhook"))
	return func(w http.ResponseWriter, r *http.Request) {
		var payload nylas.WebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}

		ev := payload.Data.Object
		if ev.GrantID == "" {
			writeError(w, http.StatusBadRequest, "missing grant id")
			return
		}

		account, err := st.GetAccountByGrant(r.Context(), ev.GrantID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "account lookup failed")
			return
		}
		if account == nil {
			// Acknowledge unknown grants so the provider stops retrying a
			// notification we will never handle.
			log.Warn("webhook for unknown grant", zap.String("grant_id", ev.GrantID))
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}

		if payload.Type == nylas.TriggerEventDeleted {
			ev.Status = "cancelled"
		}

		if err := sink.HandleEventChange(r.Context(), account.ID, &ev); err != nil {
			log.Error("event ingest failed",
				zap.String("event_id", ev.ID),
				zap.String("trigger", payload.Type),
				zap.Error(err),
			)
			writeError(w, http.StatusInternalServerError, "event ingest failed")
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
