// Package schema validates model responses against the embedded JSON schemas
// of the extraction and adjudication contracts.
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed extracted_fields.schema.json
var extractedFieldsSchemaJSON string

//go:embed adjudication.schema.json
var adjudicationSchemaJSON string

type compiledSchema struct {
	name   string
	source string

	once   sync.Once
	schema *jsonschema.Schema
	err    error
}

var (
	extractedFieldsSchema = &compiledSchema{name: "extracted_fields.schema.json", source: extractedFieldsSchemaJSON}
	adjudicationSchema    = &compiledSchema{name: "adjudication.schema.json", source: adjudicationSchemaJSON}
)

// Verdict is a validated adjudication response.
type Verdict struct {
	SameProperty *bool
	Confidence   *float64
	Reason       string
}

// ValidateExtraction decodes raw as one flat JSON object of scalar values.
// Numbers are kept as json.Number.
func ValidateExtraction(raw []byte) (map[string]any, error) {
	value, err := decodeStrictJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("decode extraction JSON: %w", err)
	}
	if err := extractedFieldsSchema.validate(value); err != nil {
		return nil, err
	}
	object, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("extraction response is not an object")
	}
	return object, nil
}

// ValidateAdjudication decodes raw as an adjudication verdict. A confidence
// outside [0,1] or not numeric is dropped, not rejected.
func ValidateAdjudication(raw []byte) (Verdict, error) {
	value, err := decodeStrictJSON(raw)
	if err != nil {
		return Verdict{}, fmt.Errorf("decode adjudication JSON: %w", err)
	}
	if err := adjudicationSchema.validate(value); err != nil {
		return Verdict{}, err
	}
	object, ok := value.(map[string]any)
	if !ok {
		return Verdict{}, fmt.Errorf("adjudication response is not an object")
	}

	var verdict Verdict
	if same, ok := object["same_property"].(bool); ok {
		verdict.SameProperty = &same
	}
	verdict.Confidence = parseConfidence(object["confidence"])
	if reason, ok := object["reason"].(string); ok {
		verdict.Reason = strings.TrimSpace(reason)
	}
	return verdict, nil
}

func parseConfidence(value any) *float64 {
	var (
		f   float64
		err error
	)
	switch v := value.(type) {
	case json.Number:
		f, err = v.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return nil
	}
	if err != nil || f < 0 || f > 1 {
		return nil
	}
	return &f
}

func (c *compiledSchema) validate(value any) error {
	schema, err := c.load()
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

func (c *compiledSchema) load() (*jsonschema.Schema, error) {
	c.once.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020

		if err := compiler.AddResource(c.name, strings.NewReader(c.source)); err != nil {
			c.err = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile(c.name)
		if err != nil {
			c.err = fmt.Errorf("compile schema: %w", err)
			return
		}
		c.schema = schema
	})

	if c.err != nil {
		return nil, c.err
	}
	if c.schema == nil {
		return nil, fmt.Errorf("schema %s not initialized", c.name)
	}
	return c.schema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}
