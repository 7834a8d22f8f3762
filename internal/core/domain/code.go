package domain

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	DefaultKeyCodePattern     = `[A-Z]{1,4}-[0-9]{3,8}`
	DefaultKeyCardCodePattern = `[0-9A-F]{8,20}`
)

// CodeValidator checks credential codes against one configured pattern.
// The pattern always has to match the whole code; anchors the caller wrote
// are harmless.
type CodeValidator struct {
	pattern *regexp.Regexp
}

func NewCodeValidator(pattern string) (*CodeValidator, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("empty code pattern")
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, fmt.Errorf("compile code pattern %q: %w", pattern, err)
	}
	return &CodeValidator{pattern: re}, nil
}

func MustCodeValidator(pattern string) *CodeValidator {
	v, err := NewCodeValidator(pattern)
	if err != nil {
		panic(err)
	}
	return v
}

func (v *CodeValidator) Validate(code string) error {
	if code == "" || !v.pattern.MatchString(code) {
		return ErrInvalidFormat
	}
	return nil
}

func (v *CodeValidator) String() string {
	return v.pattern.String()
}
