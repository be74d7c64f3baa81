package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/partyhub/mention-lifecycle/internal/config"
	"github.com/partyhub/mention-lifecycle/internal/directory"
	"github.com/partyhub/mention-lifecycle/internal/models"
	"github.com/sirupsen/logrus"
)

// maxBodyBytes caps the size of a webhook delivery.
const maxBodyBytes = 1 << 20

// Handler serves the provider-facing webhook endpoints
type Handler struct {
	service     *Service
	tenants     directory.TenantResolver
	appSecret   string
	verifyToken string
}

// NewHandler creates the webhook HTTP handler
func NewHandler(cfg *config.Config, service *Service, tenants directory.TenantResolver) *Handler {
	return &Handler{
		service:     service,
		tenants:     tenants,
		appSecret:   cfg.AppSecret,
		verifyToken: cfg.VerifyToken,
	}
}

// RegisterRoutes mounts the webhook endpoints, with and without an
// organization in the path.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	for _, path := range []string{"/webhooks/instagram", "/webhooks/instagram/{organization_id}"} {
		router.HandleFunc(path, h.Verify).Methods(http.MethodGet)
		router.HandleFunc(path, h.Receive).Methods(http.MethodPost)
	}
}

// Verify answers the subscription handshake.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	org, ok := h.organization(w, r)
	if !ok {
		return
	}

	token := h.verifyToken
	if org != nil && org.VerifyToken != "" {
		token = org.VerifyToken
	}

	query := r.URL.Query()
	if query.Get("hub.mode") != "subscribe" || token == "" || query.Get("hub.verify_token") != token {
		logrus.Warnf("Webhook verification rejected (mode=%q)", query.Get("hub.mode"))
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "verification_failed"})
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(query.Get("hub.challenge")))
}

// Receive authenticates a delivery, then ingests it. Once the signature is
// valid the provider always gets 200.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	org, ok := h.organization(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_payload"})
		return
	}

	secret := h.appSecret
	if org != nil && org.WebhookSecret != "" {
		secret = org.WebhookSecret
	}
	if err := VerifySignature(secret, body, r.Header.Get(SignatureHeader)); err != nil {
		logrus.Warnf("Webhook signature rejected from %s", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_signature"})
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		logrus.Warnf("Signed webhook delivery is not valid JSON: %v", err)
		h.service.RecordUnparsable(r.Context(), org, body, err)
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	created, err := h.service.Ingest(r.Context(), org, body, &payload)
	if err != nil {
		logrus.Errorf("Webhook processed with errors (%d mention(s) created): %v", created, err)
	} else {
		logrus.Infof("Webhook processed: %d mention(s) created", created)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// organization resolves the optional organization in the path. It writes
// a 404 and returns false for unknown organizations.
func (h *Handler) organization(w http.ResponseWriter, r *http.Request) (*models.Organization, bool) {
	id := mux.Vars(r)["organization_id"]
	if id == "" {
		return nil, true
	}

	org, err := h.tenants.ByID(r.Context(), id)
	if errors.Is(err, directory.ErrUnknownTenant) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown_organization"})
		return nil, false
	}
	if err != nil {
		logrus.Errorf("Failed to resolve organization %s: %v", id, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return nil, false
	}
	return org, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.Errorf("Failed to write response: %v", err)
	}
}
