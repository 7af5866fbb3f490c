package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ingress webhook server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if servePort == 0 {
			servePort = cfg.Server.Port
		}

		validate := validator.New(validator.WithRequiredStructEnabled())

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		}))

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Handle("/metrics", promhttp.HandlerFor(env.Registry, promhttp.HandlerOpts{}))

		r.Post("/webhook/leads", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Email      string `json:"email" validate:"required,email"`
				CampaignID string `json:"campaign_id" validate:"required"`
				Name       string `json:"name"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
				return
			}
			if err := validate.Struct(body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}

			lead, created, err := env.Store.CreateLead(req.Context(), &model.Lead{
				IdempotencyKey: model.IdempotencyKey(body.Email, body.CampaignID),
				Email:          body.Email,
				CampaignID:     body.CampaignID,
				Name:           body.Name,
			})
			if err != nil {
				zap.L().Error("ingress: create lead failed", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage unavailable"})
				return
			}

			if created {
				if _, err := env.Queue.Enqueue(req.Context(), cfg.Queue.Name, model.JobPayload{LeadID: lead.ID}); err != nil {
					zap.L().Error("ingress: enqueue failed", zap.Int64("lead_id", lead.ID), zap.Error(err))
					writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue unavailable"})
					return
				}
			}

			// Duplicate ingests return the existing record with the same
			// success status.
			writeJSON(w, http.StatusAccepted, map[string]any{
				"id":     lead.ID,
				"status": lead.Status,
				"queued": created,
			})
		})

		addr := fmt.Sprintf(":%d", servePort)
		server := &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()

		zap.L().Info("ingress listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override the configured listen port")
	rootCmd.AddCommand(serveCmd)
}
