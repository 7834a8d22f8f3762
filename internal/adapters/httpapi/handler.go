package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/atvirokodosprendimai/keyledger/internal/core/domain"
	"github.com/atvirokodosprendimai/keyledger/internal/core/usecase"
)

const (
	timeFormat      = "2006-01-02T15:04:05.999999999Z07:00"
	maxJSONBodySize = 1 << 20
)

type Handler struct {
	keys    *usecase.KeyService
	cards   *usecase.KeyCardService
	audit   *usecase.AuditService
	bodies  *bodyValidator
	log     logrus.FieldLogger
	metrics http.Handler
	ready   func(context.Context) error
}

type Option func(*Handler)

// WithMetrics mounts h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(handler *Handler) { handler.metrics = h }
}

// WithReadiness makes /healthz fail while check returns an error.
func WithReadiness(check func(context.Context) error) Option {
	return func(handler *Handler) { handler.ready = check }
}

func NewHandler(keys *usecase.KeyService, cards *usecase.KeyCardService, audit *usecase.AuditService, log logrus.FieldLogger, opts ...Option) (*Handler, error) {
	bodies, err := newBodyValidator()
	if err != nil {
		return nil, err
	}
	h := &Handler{keys: keys, cards: cards, audit: audit, bodies: bodies, log: log.WithField("component", "http")}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(h.recoverer)

	r.Get("/healthz", h.healthz)
	r.Get("/openapi.json", h.openapi)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/keys", h.listKeys)
		v1.Post("/keys", h.addKey)
		v1.Get("/keys/{code}", h.getKey)
		v1.Put("/keys/{code}", h.updateKey)
		v1.Delete("/keys/{code}", h.removeKey)
		v1.Post("/keys/{code}/give", h.giveKey)
		v1.Post("/keys/{code}/receive", h.receiveKey)
		v1.Post("/keys/{code}/return", h.returnKey)
		v1.Get("/keys/{code}/history", h.keyHistory)
		v1.Get("/keys/{code}/holder", h.currentHolder)

		v1.Get("/key-cards", h.getKeyCards)
		v1.Post("/key-cards", h.addKeyCard)
		v1.Put("/key-cards/{code}", h.updateKeyCard)

		v1.Get("/audit", h.listAudit)
	})

	return r
}

type addRequest struct {
	Organization string `json:"organization"`
	Code         string `json:"code"`
	Name         string `json:"name"`
}

type renameRequest struct {
	Organization string `json:"organization"`
	Name         string `json:"name"`
}

type giveRequest struct {
	Organization  string `json:"organization"`
	NewUserID     string `json:"new_user_id"`
	SignatureFile string `json:"signature_file"`
	Comment       string `json:"comment"`
}

type receiveRequest struct {
	Organization string `json:"organization"`
	UserID       string `json:"user_id"`
	Comment      string `json:"comment"`
}

type returnRequest struct {
	Organization string `json:"organization"`
	Comment      string `json:"comment"`
}

func (h *Handler) listKeys(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	keys, err := h.keys.ListKeys(r.Context(), q.Get("organization"), domain.ListFilter{
		Prefix: q.Get("prefix"),
		After:  q.Get("after"),
		Limit:  limit,
	})
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	items := make([]keyResponse, 0, len(keys))
	for _, k := range keys {
		items = append(items, toKeyResponse(k))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) getKey(w http.ResponseWriter, r *http.Request) {
	status, err := h.keys.GetKey(r.Context(), chi.URLParam(r, "code"), r.URL.Query().Get("organization"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toKeyResponse(status))
}

func (h *Handler) addKey(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if !h.decodeBody(w, r, schemaAddKey, &req) {
		return
	}

	status, err := h.keys.AddKey(r.Context(), usecase.AddKeyRequest{
		Code:         req.Code,
		Organization: req.Organization,
		Name:         req.Name,
	}, mutationMeta(r))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toKeyResponse(status))
}

func (h *Handler) updateKey(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if !h.decodeBody(w, r, schemaUpdateKey, &req) {
		return
	}

	status, err := h.keys.UpdateKey(r.Context(), usecase.UpdateKeyRequest{
		Code:         chi.URLParam(r, "code"),
		Organization: req.Organization,
		Name:         req.Name,
	}, mutationMeta(r))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toKeyResponse(status))
}

func (h *Handler) removeKey(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := h.keys.RemoveKey(r.Context(), code, r.URL.Query().Get("organization"), mutationMeta(r)); err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": true, "code": code})
}

func (h *Handler) giveKey(w http.ResponseWriter, r *http.Request) {
	var req giveRequest
	if !h.decodeBody(w, r, schemaGiveKey, &req) {
		return
	}

	event, err := h.keys.GiveKey(r.Context(), usecase.GiveKeyRequest{
		Code:         chi.URLParam(r, "code"),
		Organization: req.Organization,
		EvidenceRef:  req.SignatureFile,
		NewHolder:    req.NewUserID,
		Comment:      req.Comment,
	}, mutationMeta(r))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustodyEventResponse(event))
}

func (h *Handler) receiveKey(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if !h.decodeBody(w, r, schemaReceiveKey, &req) {
		return
	}

	event, err := h.keys.ReceiveKey(r.Context(), usecase.ReceiveKeyRequest{
		Code:         chi.URLParam(r, "code"),
		Organization: req.Organization,
		Holder:       req.UserID,
		Comment:      req.Comment,
	}, mutationMeta(r))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustodyEventResponse(event))
}

func (h *Handler) returnKey(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if !h.decodeBody(w, r, schemaReturnKey, &req) {
		return
	}

	event, err := h.keys.ReturnKey(r.Context(), usecase.ReturnKeyRequest{
		Code:         chi.URLParam(r, "code"),
		Organization: req.Organization,
		Comment:      req.Comment,
	}, mutationMeta(r))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCustodyEventResponse(event))
}

func (h *Handler) keyHistory(w http.ResponseWriter, r *http.Request) {
	events, err := h.keys.KeyHistory(r.Context(), chi.URLParam(r, "code"), r.URL.Query().Get("organization"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	items := make([]custodyEventResponse, 0, len(events))
	for _, ev := range events {
		items = append(items, toCustodyEventResponse(ev))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) currentHolder(w http.ResponseWriter, r *http.Request) {
	holder, err := h.keys.CurrentHolder(r.Context(), chi.URLParam(r, "code"), r.URL.Query().Get("organization"))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": holder})
}

// getKeyCards looks a card up when code is given. Without code it returns
// every card, or one page of them once prefix, after or limit is set.
func (h *Handler) getKeyCards(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		cards []domain.KeyCard
		err   error
	)
	if q.Get("code") == "" && (q.Has("prefix") || q.Has("after") || q.Has("limit")) {
		limit, ok := parseLimit(w, r)
		if !ok {
			return
		}
		cards, err = h.cards.ListKeyCards(r.Context(), q.Get("organization"), domain.ListFilter{
			Prefix: q.Get("prefix"),
			After:  q.Get("after"),
			Limit:  limit,
		})
	} else {
		cards, err = h.cards.GetKeyCards(r.Context(), q.Get("code"), q.Get("organization"))
	}
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	items := make([]keyCardResponse, 0, len(cards))
	for _, c := range cards {
		items = append(items, toKeyCardResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) addKeyCard(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if !h.decodeBody(w, r, schemaAddKeyCard, &req) {
		return
	}

	card, err := h.cards.AddKeyCard(r.Context(), usecase.AddKeyCardRequest{
		Code:         req.Code,
		Organization: req.Organization,
		Name:         req.Name,
	}, mutationMeta(r))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toKeyCardResponse(card))
}

func (h *Handler) updateKeyCard(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if !h.decodeBody(w, r, schemaUpdateKeyCard, &req) {
		return
	}

	card, err := h.cards.UpdateKeyCard(r.Context(), usecase.UpdateKeyCardRequest{
		Code:         chi.URLParam(r, "code"),
		Organization: req.Organization,
		Name:         req.Name,
	}, mutationMeta(r))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toKeyCardResponse(card))
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	var cursor int64
	if raw := q.Get("cursor"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "cursor must be integer")
			return
		}
		cursor = parsed
	}

	filter := domain.AuditFilter{
		Organization:  q.Get("organization"),
		AggregateType: q.Get("aggregate_type"),
		AggregateID:   q.Get("aggregate_id"),
		Action:        q.Get("action"),
		Cursor:        cursor,
		Ascending:     strings.EqualFold(q.Get("order"), "asc"),
		Limit:         limit,
	}
	events, err := h.audit.List(r.Context(), filter)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}

	body := map[string]any{"items": events}
	if len(events) > 0 {
		body["next_cursor"] = events[len(events)-1].ID
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.log.WithError(err).Warn("readiness check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ok": false})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) openapi(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, openapiDocument())
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, schema string, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}

	if err := h.bodies.decode(schema, raw, dst); err != nil {
		var be *bodyError
		if errors.As(err, &be) {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error:      "invalid json body",
				Kind:       string(domain.KindInvalidInput),
				MessageKey: "errors.body_invalid",
				Details:    be.Errors,
			})
			return false
		}
		h.log.WithError(err).Error("decode request body")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return false
	}
	return true
}

func mutationMeta(r *http.Request) domain.MutationMetadata {
	return domain.MutationMetadata{
		Actor:          strings.TrimSpace(r.Header.Get("X-Actor")),
		Source:         "http",
		RequestID:      middleware.GetReqID(r.Context()),
		CorrelationID:  r.Header.Get("X-Correlation-ID"),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be integer")
			return 0, false
		}
		limit = parsed
	}
	return limit, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		logrus.WithError(err).Error("encode json response")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message, Kind: string(domain.KindInvalidInput), MessageKey: "errors.request_invalid"})
}
