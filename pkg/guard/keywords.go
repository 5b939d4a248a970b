package guard

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed keywords.yaml
var defaultKeywordsYAML []byte

// KeywordSet is the on-disk shape of a forbidden phrase list. The groups only
// exist to keep the file readable; the filter treats them as one set.
type KeywordSet struct {
	Verbs       []string `yaml:"verbs"`
	Operations  []string `yaml:"operations"`
	Maintenance []string `yaml:"maintenance"`
}

// Phrases returns every phrase lowercased, trimmed and de-duplicated, in file order.
func (k KeywordSet) Phrases() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, group := range [][]string{k.Verbs, k.Operations, k.Maintenance} {
		for _, p := range group {
			p = strings.ToLower(strings.Join(strings.Fields(p), " "))
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// LoadKeywords reads a phrase list from path, or the built-in list when path is empty.
func LoadKeywords(path string) ([]string, error) {
	data := defaultKeywordsYAML
	if path != "" {
		fileData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read keywords file: %w", err)
		}
		data = fileData
	}

	var set KeywordSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse keywords file: %w", err)
	}

	phrases := set.Phrases()
	if len(phrases) == 0 {
		return nil, fmt.Errorf("keywords file %q contains no phrases", path)
	}
	return phrases, nil
}
