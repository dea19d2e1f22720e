package predict

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed vocabulary.schema.json
var vocabularySchemaJSON []byte

const vocabularySchemaURL = "https://blinkscan.local/schema/vocabulary-v1.schema.json"

// ErrInvalidVocabulary wraps schema violations in a vocabulary file.
var ErrInvalidVocabulary = errors.New("predict: invalid vocabulary")

// Vocabulary is the on-disk custom vocabulary format.
type Vocabulary struct {
	WordFrequencies     map[string]int      `json:"word_frequencies,omitempty"`
	NextWordPredictions map[string][]string `json:"next_word_predictions,omitempty"`
	Phrases             []string            `json:"phrases,omitempty"`
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func vocabularySchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(vocabularySchemaURL, bytes.NewReader(vocabularySchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(vocabularySchemaURL)
	})
	return schema, schemaErr
}

// ValidateVocabulary checks raw JSON against the vocabulary schema.
func ValidateVocabulary(data []byte) error {
	s, err := vocabularySchema()
	if err != nil {
		return fmt.Errorf("compile vocabulary schema: %w", err)
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidVocabulary, err)
	}
	if err := s.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidVocabulary, err)
	}
	return nil
}

// ParseVocabulary validates and decodes a vocabulary document.
func ParseVocabulary(data []byte) (*Vocabulary, error) {
	if err := ValidateVocabulary(data); err != nil {
		return nil, err
	}
	var v Vocabulary
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVocabulary, err)
	}
	return &v, nil
}

// LoadVocabulary reads and validates a vocabulary file.
func LoadVocabulary(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	v, err := ParseVocabulary(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// SaveVocabulary writes v to path atomically.
func SaveVocabulary(path string, v *Vocabulary) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode vocabulary: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
