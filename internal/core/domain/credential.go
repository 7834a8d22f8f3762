package domain

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxNameLength    = 255
	maxCommentLength = 1000
	maxEvidenceLen   = 512
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9._:@-]{1,128}$`)

// Key is a trackable physical credential. Its holder is not stored here; it
// is derived from the custody ledger.
type Key struct {
	ID           string
	Organization string
	Code         string
	Name         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// KeyCard is a static access credential without custody.
type KeyCard struct {
	ID           string
	Organization string
	Code         string
	Name         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// KeyStatus is a key together with its folded custody state.
type KeyStatus struct {
	Key     Key
	Custody CustodyState
}

func (s KeyStatus) Holder() string {
	return s.Custody.Holder
}

type ListFilter struct {
	Prefix string
	After  string
	Limit  int
}

func (f ListFilter) Validate() error {
	if len(f.Prefix) > 128 || len(f.After) > 128 || f.Limit < 0 {
		return ErrInvalidFilter
	}
	return nil
}

func ValidateOrganization(organization string) error {
	if !identifierPattern.MatchString(organization) {
		return ErrInvalidOrganization
	}
	return nil
}

func ValidateHolder(holder string) error {
	if !identifierPattern.MatchString(holder) {
		return ErrInvalidHolder
	}
	return nil
}

func ValidateName(name string, required bool) error {
	if required && strings.TrimSpace(name) == "" {
		return ErrInvalidName
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return ErrInvalidName
	}
	return nil
}

func ValidateComment(comment string) error {
	if utf8.RuneCountInString(comment) > maxCommentLength {
		return ErrInvalidComment
	}
	return nil
}

func ValidateEvidenceRef(ref string) error {
	if ref == "" {
		return nil
	}
	if strings.TrimSpace(ref) != ref || len(ref) > maxEvidenceLen || strings.Contains(ref, "..") {
		return ErrInvalidEvidence
	}
	return nil
}
