package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/atvirokodosprendimai/keyledger/internal/core/domain"
)

type errorResponse struct {
	Error      string   `json:"error"`
	Kind       string   `json:"kind"`
	MessageKey string   `json:"message_key"`
	Details    []string `json:"details,omitempty"`
}

var kindStatus = map[domain.Kind]int{
	domain.KindInvalidInput:   http.StatusBadRequest,
	domain.KindInvalidFormat:  http.StatusUnprocessableEntity,
	domain.KindNotFound:       http.StatusNotFound,
	domain.KindDuplicateCode:  http.StatusConflict,
	domain.KindHasOpenCustody: http.StatusConflict,
	domain.KindSameHolder:     http.StatusConflict,
	domain.KindNoPendingGive:  http.StatusConflict,
	domain.KindWrongRecipient: http.StatusConflict,
	domain.KindNotHeld:        http.StatusConflict,
	// another organization's entity is reported as missing
	domain.KindCrossTenant: http.StatusNotFound,
}

func statusFor(kind domain.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func (h *Handler) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	f, ok := domain.Describe(err)
	if !ok {
		h.log.WithError(err).WithField("request_id", middleware.GetReqID(r.Context())).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error:      "internal server error",
			Kind:       "internal",
			MessageKey: "errors.internal",
		})
		return
	}
	writeJSON(w, statusFor(f.Kind), errorResponse{
		Error:      err.Error(),
		Kind:       string(f.Kind),
		MessageKey: f.MessageKey,
	})
}
