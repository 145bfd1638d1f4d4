// Package glossary rewrites domain terms in translated text to their
// canonical target-language forms, including grammatical-case inflection for
// case-marking target languages.
//
// A glossary is a static YAML file maintained alongside the deployment; it is
// loaded once at startup and never mutated. See [Load] for the file format.
package glossary

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the top-level structure of a glossary YAML file.
//
// Example:
//
//	meta:
//	  name: "oil-and-gas"
//	  target_language: ru
//	case_triggers:
//	  для: genitive
//	  без: genitive
//	  в: prepositional
//	terms:
//	  - source: "styringsgruppe"
//	    canonical: "руководящая группа"
//	    inflections:
//	      genitive: "руководящей группы"
//	      dative: "руководящей группе"
type File struct {
	Meta         Meta              `yaml:"meta"`
	CaseTriggers map[string]string `yaml:"case_triggers"`
	Terms        []Term            `yaml:"terms"`
}

// Meta holds glossary-level metadata.
type Meta struct {
	// Name labels the glossary for logging.
	Name string `yaml:"name"`

	// TargetLanguage is the language the canonical forms are written in.
	TargetLanguage string `yaml:"target_language"`
}

// Term is a single domain term with its canonical rendering.
type Term struct {
	// Source is the source-language form that may leak through a translation.
	Source string `yaml:"source"`

	// Canonical is the preferred target-language form (nominative for
	// case-marking languages).
	Canonical string `yaml:"canonical"`

	// Inflections maps grammatical-case names to inflected forms of
	// Canonical. Optional; terms without inflections are only subject to the
	// source→canonical rewrite.
	Inflections map[string]string `yaml:"inflections"`
}

// Load reads and parses a glossary YAML file from disk.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("glossary: open %q: %w", path, err)
	}
	defer f.Close()

	gf, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("glossary: parse %q: %w", path, err)
	}
	return gf, nil
}

// LoadFromReader parses glossary YAML from r. The reader is consumed
// entirely; the caller is responsible for closing it.
func LoadFromReader(r io.Reader) (*File, error) {
	var gf File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch typos
	if err := dec.Decode(&gf); err != nil {
		return nil, fmt.Errorf("glossary: decode yaml: %w", err)
	}
	if err := validate(&gf); err != nil {
		return nil, err
	}
	return &gf, nil
}

// validate checks the parsed glossary for structural problems.
func validate(gf *File) error {
	seen := make(map[string]int, len(gf.Terms))
	for i, term := range gf.Terms {
		if strings.TrimSpace(term.Source) == "" {
			return fmt.Errorf("glossary: terms[%d].source is required", i)
		}
		if strings.TrimSpace(term.Canonical) == "" {
			return fmt.Errorf("glossary: terms[%d] (%q) has no canonical form", i, term.Source)
		}
		key := strings.ToLower(term.Source)
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("glossary: terms[%d].source %q duplicates terms[%d]", i, term.Source, prev)
		}
		seen[key] = i
	}
	return nil
}
