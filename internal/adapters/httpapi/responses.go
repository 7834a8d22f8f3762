package httpapi

import (
	"github.com/atvirokodosprendimai/keyledger/internal/core/domain"
)

type keyResponse struct {
	ID           string `json:"id"`
	Organization string `json:"organization"`
	Code         string `json:"code"`
	Name         string `json:"name"`
	UserID       string `json:"user_id"`
	Pending      bool   `json:"pending"`
	PendingFrom  string `json:"pending_from,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type custodyEventResponse struct {
	ID            string `json:"id"`
	Sequence      int64  `json:"sequence"`
	KeyCode       string `json:"key_code"`
	Kind          string `json:"kind"`
	FromUserID    string `json:"from_user_id"`
	ToUserID      string `json:"to_user_id"`
	SignatureFile string `json:"signature_file,omitempty"`
	Comment       string `json:"comment,omitempty"`
	Actor         string `json:"actor"`
	OccurredAt    string `json:"occurred_at"`
}

type keyCardResponse struct {
	ID           string `json:"id"`
	Organization string `json:"organization"`
	Code         string `json:"code"`
	Name         string `json:"name"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func toKeyResponse(s domain.KeyStatus) keyResponse {
	return keyResponse{
		ID:           s.Key.ID,
		Organization: s.Key.Organization,
		Code:         s.Key.Code,
		Name:         s.Key.Name,
		UserID:       s.Custody.Holder,
		Pending:      s.Custody.Pending,
		PendingFrom:  s.Custody.PendingFrom,
		CreatedAt:    s.Key.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:    s.Key.UpdatedAt.UTC().Format(timeFormat),
	}
}

func toCustodyEventResponse(ev domain.CustodyEvent) custodyEventResponse {
	return custodyEventResponse{
		ID:            ev.ID,
		Sequence:      ev.Sequence,
		KeyCode:       ev.KeyCode,
		Kind:          string(ev.Kind),
		FromUserID:    ev.FromHolder,
		ToUserID:      ev.ToHolder,
		SignatureFile: ev.EvidenceRef,
		Comment:       ev.Comment,
		Actor:         ev.Actor,
		OccurredAt:    ev.OccurredAt.UTC().Format(timeFormat),
	}
}

func toKeyCardResponse(c domain.KeyCard) keyCardResponse {
	return keyCardResponse{
		ID:           c.ID,
		Organization: c.Organization,
		Code:         c.Code,
		Name:         c.Name,
		CreatedAt:    c.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:    c.UpdatedAt.UTC().Format(timeFormat),
	}
}
