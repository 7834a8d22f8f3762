package httpapi

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	schemaAddKey        = "add_key"
	schemaUpdateKey     = "update_key"
	schemaGiveKey       = "give_key"
	schemaReceiveKey    = "receive_key"
	schemaReturnKey     = "return_key"
	schemaAddKeyCard    = "add_key_card"
	schemaUpdateKeyCard = "update_key_card"
)

// bodyError is a request body that is not valid JSON or breaks its schema.
type bodyError struct {
	Errors []string
}

func (e *bodyError) Error() string {
	return "invalid request body: " + strings.Join(e.Errors, "; ")
}

type bodyValidator struct {
	schemas map[string]*santhosh.Schema
}

func newBodyValidator() (*bodyValidator, error) {
	entries, err := fs.ReadDir(schemaFS, "schemas")
	if err != nil {
		return nil, fmt.Errorf("read embedded schemas: %w", err)
	}
	v := &bodyValidator{schemas: make(map[string]*santhosh.Schema, len(entries))}
	for _, e := range entries {
		raw, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, err
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		compiled, err := compileSchema(name, raw)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[name] = compiled
	}
	return v, nil
}

func compileSchema(name string, schemaJSON []byte) (*santhosh.Schema, error) {
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	url := name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// decode validates raw against the named schema and unmarshals it into dst.
func (v *bodyValidator) decode(name string, raw []byte, dst any) error {
	sch, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("unknown request schema %q", name)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &bodyError{Errors: []string{"malformed json"}}
	}
	if err := sch.Validate(doc); err != nil {
		var ve *santhosh.ValidationError
		if errors.As(err, &ve) {
			return &bodyError{Errors: collectValidationErrors(ve)}
		}
		return &bodyError{Errors: []string{err.Error()}}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &bodyError{Errors: []string{err.Error()}}
	}
	return nil
}

func collectValidationErrors(ve *santhosh.ValidationError) []string {
	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, collectValidationErrors(cause)...)
	}
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		msgs = append(msgs, loc+": "+ve.Message)
	}
	return msgs
}
