package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/partyhub/mention-lifecycle/internal/lifecycle"
	"github.com/partyhub/mention-lifecycle/internal/scheduler"
	"github.com/sirupsen/logrus"
)

// cronSecretHeader authenticates calls from an external scheduler.
const cronSecretHeader = "X-Cron-Secret"

type statusReporter interface {
	GetStatus() lifecycle.Status
}

func healthCheckHandler(reporter statusReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"sweeps":    reporter.GetStatus(),
		})
	}
}

// registerInternalRoutes mounts the sweep triggers under /internal. Without a
// secret nothing is mounted and it returns false.
func registerInternalRoutes(router *mux.Router, secret string, sweeps scheduler.SweepRunner, party scheduler.TimeoutSweeper, poller scheduler.HashtagPoller) bool {
	if secret == "" {
		return false
	}
	internal := router.PathPrefix("/internal").Subrouter()
	internal.Use(requireCronSecret(secret))
	internal.HandleFunc("/sweeps", sweepHandler(sweeps)).Methods(http.MethodPost)
	internal.HandleFunc("/party-selection/timeouts", partyTimeoutHandler(party)).Methods(http.MethodPost)
	internal.HandleFunc("/hashtags/poll", hashtagPollHandler(poller)).Methods(http.MethodPost)
	return true
}

// requireCronSecret rejects requests without the shared secret. An empty
// secret rejects everything.
func requireCronSecret(secret string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" || subtle.ConstantTimeCompare([]byte(r.Header.Get(cronSecretHeader)), []byte(secret)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type sweepRequest struct {
	Type string `json:"type"`
}

func sweepHandler(runner scheduler.SweepRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sweepRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
			return
		}

		sweepType, err := lifecycle.ParseSweepType(req.Type)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		result, err := runner.Run(r.Context(), sweepType)
		if err != nil {
			logrus.Errorf("Triggered %s sweep failed: %v", sweepType, err)
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error(), "result": result})
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func partyTimeoutHandler(sweeper scheduler.TimeoutSweeper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := sweeper.SweepTimeouts(r.Context())
		if err != nil {
			logrus.Errorf("Triggered party selection timeout sweep failed: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func hashtagPollHandler(poller scheduler.HashtagPoller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := poller.Poll(r.Context())
		if err != nil {
			logrus.Errorf("Triggered hashtag poll finished with errors: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error(), "result": result})
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.Errorf("Failed to write response: %v", err)
	}
}
