// Package guard rejects natural-language questions that ask for data or schema changes
// before any model call is made.
package guard

import (
	"fmt"
	"regexp"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-nlsql/pkg/logging"
)

// Match describes why a question was rejected.
type Match struct {
	Phrase      string // forbidden phrase that matched, empty for injection hits
	Fingerprint string // libinjection fingerprint, empty for phrase hits
}

func (m Match) String() string {
	if m.Fingerprint != "" {
		return "sqli:" + m.Fingerprint
	}
	return m.Phrase
}

type phrasePattern struct {
	phrase string
	re     *regexp.Regexp
}

// Filter checks free text against a fixed set of forbidden phrases.
// It is immutable after construction and safe for concurrent use.
type Filter struct {
	patterns       []phrasePattern
	injectionCheck bool
	logger         *zap.Logger
}

// NewFilter compiles one case-insensitive whole-phrase pattern per phrase.
func NewFilter(phrases []string, injectionCheck bool, logger *zap.Logger) (*Filter, error) {
	if len(phrases) == 0 {
		return nil, fmt.Errorf("forbidden phrase list is empty")
	}

	patterns := make([]phrasePattern, 0, len(phrases))
	for _, phrase := range phrases {
		re, err := compilePhrase(phrase)
		if err != nil {
			return nil, fmt.Errorf("compile phrase %q: %w", phrase, err)
		}
		patterns = append(patterns, phrasePattern{phrase: phrase, re: re})
	}

	return &Filter{
		patterns:       patterns,
		injectionCheck: injectionCheck,
		logger:         logger.Named("guard"),
	}, nil
}

// compilePhrase builds `\bword\s+word\s+(?:last|lasts)\b`.
func compilePhrase(phrase string) (*regexp.Regexp, error) {
	words := strings.Fields(phrase)
	if len(words) == 0 {
		return nil, fmt.Errorf("phrase is blank")
	}

	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = regexp.QuoteMeta(w)
	}

	last := words[len(words)-1]
	forms := pluralForms(last)
	if len(forms) > 1 {
		quoted := make([]string, len(forms))
		for i, f := range forms {
			quoted[i] = regexp.QuoteMeta(f)
		}
		parts[len(parts)-1] = "(?:" + strings.Join(quoted, "|") + ")"
	}

	return regexp.Compile(`(?i)\b` + strings.Join(parts, `\s+`) + `\b`)
}

// pluralForms returns the word followed by its plural spellings. inflection
// prefers Latin plurals ("indices"), so the regular English form is added too.
func pluralForms(word string) []string {
	forms := []string{word}
	add := func(f string) {
		for _, existing := range forms {
			if existing == f {
				return
			}
		}
		forms = append(forms, f)
	}

	add(inflection.Plural(word))
	switch {
	case strings.HasSuffix(word, "s"), strings.HasSuffix(word, "x"),
		strings.HasSuffix(word, "ch"), strings.HasSuffix(word, "sh"):
		add(word + "es")
	default:
		add(word + "s")
	}
	return forms
}

// Check reports the first forbidden phrase found in text. When the injection
// check is enabled a libinjection hit on the raw text is also reported.
func (f *Filter) Check(text string) (Match, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Match{}, false
	}

	for _, p := range f.patterns {
		if p.re.MatchString(text) {
			f.logger.Warn("Forbidden phrase detected",
				zap.String("phrase", p.phrase),
				zap.String("query", logging.SanitizeUserText(text)))
			return Match{Phrase: p.phrase}, true
		}
	}

	if f.injectionCheck {
		if isSQLi, fingerprint := libinjection.IsSQLi(text); isSQLi {
			f.logger.Warn("SQL injection pattern detected",
				zap.String("fingerprint", string(fingerprint)),
				zap.String("query", logging.SanitizeUserText(text)))
			return Match{Fingerprint: string(fingerprint)}, true
		}
	}

	f.logger.Debug("Query passed forbidden phrase check",
		zap.String("query", logging.SanitizeUserText(text)))
	return Match{}, false
}

// ContainsForbidden reports whether text matches any forbidden phrase or injection pattern.
func (f *Filter) ContainsForbidden(text string) bool {
	_, found := f.Check(text)
	return found
}

// PhraseCount returns the number of compiled phrases.
func (f *Filter) PhraseCount() int {
	return len(f.patterns)
}
