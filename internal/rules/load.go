package rules

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema/rules-schema.json
var embeddedSchema []byte

const schemaURL = "https://opdbt.dev/schemas/rules/v1/rules-schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaInitErr  error
)

// ErrInvalidRules is returned when a rule file does not match the rule schema.
var ErrInvalidRules = errors.New("invalid rule definitions")

func getCompiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(embeddedSchema))
		if err != nil {
			schemaInitErr = fmt.Errorf("parsing embedded rule schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaInitErr = fmt.Errorf("adding rule schema: %w", err)
			return
		}
		compiledSchema, schemaInitErr = c.Compile(schemaURL)
	})
	return compiledSchema, schemaInitErr
}

// Validate checks raw rule-file JSON against the embedded schema.
func Validate(data []byte) error {
	sch, err := getCompiledSchema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	return nil
}

// Parse validates and decodes rule-file JSON.
func Parse(data []byte) (RuleSet, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	var rs RuleSet
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	return rs, nil
}

// Load reads, validates and decodes a rule file.
func Load(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}
	rs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rs, nil
}
