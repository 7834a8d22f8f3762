package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidFormat    = errors.New("invalid code format")
	ErrDuplicateCode    = errors.New("duplicate code")
	ErrNotFound         = errors.New("not found")
	ErrHasOpenCustody   = errors.New("key has open custody")
	ErrSameHolder       = errors.New("key is already held by this holder")
	ErrNoPendingGive    = errors.New("no pending give to confirm")
	ErrWrongRecipient   = errors.New("pending give is addressed to another holder")
	ErrCrossTenant      = errors.New("entity belongs to another organization")
	ErrNotHeld          = errors.New("key is not held")
	ErrEvidenceRequired = errors.New("evidence reference is required")

	ErrInvalidOrganization = errors.New("invalid organization")
	ErrInvalidHolder       = errors.New("invalid holder")
	ErrInvalidName         = errors.New("invalid name")
	ErrInvalidComment      = errors.New("invalid comment")
	ErrInvalidEvidence     = errors.New("invalid evidence reference")
	ErrInvalidFilter       = errors.New("invalid filter")
)

var (
	ErrKeyNotFound          = fmt.Errorf("key %w", ErrNotFound)
	ErrKeyCardNotFound      = fmt.Errorf("key card %w", ErrNotFound)
	ErrDuplicateKeyCode     = fmt.Errorf("key: %w", ErrDuplicateCode)
	ErrDuplicateKeyCardCode = fmt.Errorf("key card: %w", ErrDuplicateCode)
)

// Kind is the stable, caller-visible classification of a domain failure.
type Kind string

const (
	KindInvalidInput   Kind = "invalid_input"
	KindInvalidFormat  Kind = "invalid_format"
	KindDuplicateCode  Kind = "duplicate_code"
	KindNotFound       Kind = "not_found"
	KindHasOpenCustody Kind = "has_open_custody"
	KindSameHolder     Kind = "same_holder"
	KindNoPendingGive  Kind = "no_pending_give"
	KindWrongRecipient Kind = "wrong_recipient"
	KindCrossTenant    Kind = "cross_tenant"
	KindNotHeld        Kind = "not_held"
)

// Failure describes a recognised domain error. MessageKey is what adapters
// translate; the core never renders localized text.
type Failure struct {
	Kind       Kind
	MessageKey string
}

// Order matters: specific variants are listed before the generic kind they wrap.
var failures = []struct {
	err     error
	failure Failure
}{
	{ErrKeyNotFound, Failure{KindNotFound, "errors.key_not_found"}},
	{ErrKeyCardNotFound, Failure{KindNotFound, "errors.key_card_not_found"}},
	{ErrNotFound, Failure{KindNotFound, "errors.not_found"}},
	{ErrDuplicateKeyCode, Failure{KindDuplicateCode, "errors.key_code_taken"}},
	{ErrDuplicateKeyCardCode, Failure{KindDuplicateCode, "errors.key_card_code_taken"}},
	{ErrDuplicateCode, Failure{KindDuplicateCode, "errors.code_taken"}},
	{ErrInvalidFormat, Failure{KindInvalidFormat, "errors.code_format_invalid"}},
	{ErrHasOpenCustody, Failure{KindHasOpenCustody, "errors.key_has_open_custody"}},
	{ErrSameHolder, Failure{KindSameHolder, "errors.key_same_holder"}},
	{ErrNoPendingGive, Failure{KindNoPendingGive, "errors.key_no_pending_give"}},
	{ErrWrongRecipient, Failure{KindWrongRecipient, "errors.key_wrong_recipient"}},
	{ErrCrossTenant, Failure{KindCrossTenant, "errors.cross_tenant"}},
	{ErrNotHeld, Failure{KindNotHeld, "errors.key_not_held"}},
	{ErrEvidenceRequired, Failure{KindInvalidInput, "errors.signature_required"}},
	{ErrInvalidOrganization, Failure{KindInvalidInput, "errors.organization_invalid"}},
	{ErrInvalidHolder, Failure{KindInvalidInput, "errors.holder_invalid"}},
	{ErrInvalidName, Failure{KindInvalidInput, "errors.name_invalid"}},
	{ErrInvalidComment, Failure{KindInvalidInput, "errors.comment_invalid"}},
	{ErrInvalidEvidence, Failure{KindInvalidInput, "errors.signature_path_invalid"}},
	{ErrInvalidFilter, Failure{KindInvalidInput, "errors.filter_invalid"}},
}

// Describe classifies err. ok is false for infrastructure errors, which callers
// should treat as internal failures.
func Describe(err error) (Failure, bool) {
	if err == nil {
		return Failure{}, false
	}
	for _, f := range failures {
		if errors.Is(err, f.err) {
			return f.failure, true
		}
	}
	return Failure{}, false
}
