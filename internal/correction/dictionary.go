package correction

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var defaultWordCorrections = map[string]string{
	"teh":  "the",
	"adn":  "and",
	"fo":   "of",
	"ot":   "to",
	"taht": "that",
	"wiht": "with",
	"fro":  "for",
	"jsut": "just",
	"nto":  "not",
	"hte":  "the",
}

var defaultDomainWords = []string{
	"invoice", "receipt", "total", "subtotal", "tax", "amount",
	"date", "number", "quantity", "price", "description", "unit",
	"customer", "vendor", "address", "phone", "email", "payment",
	"due", "balance", "paid", "discount", "shipping", "handling",
}

// dictionaryFile is the YAML layout accepted by LoadDictionary
type dictionaryFile struct {
	DomainWords     []string          `yaml:"domain_words"`
	WordCorrections map[string]string `yaml:"word_corrections"`
}

// Dictionary holds the reference words used by the Corrector. It is
// read-only after construction.
type Dictionary struct {
	domain      map[string]struct{}
	sorted      []string
	corrections map[string]string
}

// DefaultDictionary returns the built-in word tables
func DefaultDictionary() *Dictionary {
	d, _ := buildDictionary(dictionaryFile{})
	return d
}

// LoadDictionary extends the defaults with a YAML file. An empty path
// returns the defaults.
func LoadDictionary(path string) (*Dictionary, error) {
	if path == "" {
		return DefaultDictionary(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dictionary %s: %w", path, err)
	}
	return ParseDictionary(data)
}

// ParseDictionary extends the defaults with YAML content
func ParseDictionary(data []byte) (*Dictionary, error) {
	var file dictionaryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse dictionary: %w", err)
	}
	return buildDictionary(file)
}

func buildDictionary(extra dictionaryFile) (*Dictionary, error) {
	d := &Dictionary{
		domain:      make(map[string]struct{}),
		corrections: make(map[string]string, len(defaultWordCorrections)+len(extra.WordCorrections)),
	}
	for k, v := range defaultWordCorrections {
		d.corrections[k] = v
	}
	for k, v := range extra.WordCorrections {
		k, v = strings.ToLower(strings.TrimSpace(k)), strings.TrimSpace(v)
		if k == "" || v == "" {
			return nil, fmt.Errorf("word correction %q -> %q: both sides must be non-empty", k, v)
		}
		d.corrections[k] = v
	}
	for _, w := range append(append([]string{}, defaultDomainWords...), extra.DomainWords...) {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if _, ok := d.domain[w]; !ok {
			d.domain[w] = struct{}{}
			d.sorted = append(d.sorted, w)
		}
	}
	sort.Strings(d.sorted)
	return d, nil
}

// IsDomainWord reports whether the lower-cased word is a known domain term
func (d *Dictionary) IsDomainWord(lower string) bool {
	_, ok := d.domain[lower]
	return ok
}

// Correction returns the fixed correction for a lower-cased word
func (d *Dictionary) Correction(lower string) (string, bool) {
	v, ok := d.corrections[lower]
	return v, ok
}

// DomainWords returns the domain terms in alphabetical order
func (d *Dictionary) DomainWords() []string {
	return append([]string(nil), d.sorted...)
}
