package artifact

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBaseURL = "https://slicecorrect.local/schemas/"

// schemaFiles maps each collection to its schema document
var schemaFiles = map[Collection]string{
	GroundTruth: "ground_truth.json",
	Predictions: "predictions.json",
	Uncertainty: "uncertainty.json",
	Impact:      "impact.json",
	Selections:  "selection.json",
	Corrected:   "corrected.json",
	Samples:     "mc_samples.json",
}

// compileSchemas compiles the embedded schema of every collection
func compileSchemas() (map[Collection]*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		data, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaBaseURL+e.Name(), bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to add schema %s: %w", e.Name(), err)
		}
	}

	schemas := make(map[Collection]*jsonschema.Schema, len(schemaFiles))
	for coll, file := range schemaFiles {
		s, err := c.Compile(schemaBaseURL + file)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", file, err)
		}
		schemas[coll] = s
	}
	return schemas, nil
}

// validateDocument checks raw JSON against a compiled schema
func validateDocument(s *jsonschema.Schema, data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", ErrSchema, err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return nil
}
