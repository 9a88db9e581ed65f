// Package glossary loads domain term glossaries and selects the entries
// relevant to a given text. The translator embeds relevant terms into its
// system instruction so the model keeps established terminology.
package glossary

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"doc-translator/internal/logger"
	"doc-translator/internal/types"
)

// DefaultMaxTerms caps the glossary excerpt embedded in a prompt.
const DefaultMaxTerms = 200

// Term is one glossary entry. Abbreviations are optional.
type Term struct {
	Source     string `json:"source"`
	Target     string `json:"target"`
	SourceAbbr string `json:"source_abbr,omitempty"`
	TargetAbbr string `json:"target_abbr,omitempty"`
}

// glossaryFile is the on-disk format: one JSON document per glossary.
type glossaryFile struct {
	Language string `json:"language,omitempty"`
	Terms    []Term `json:"terms"`
}

// Manager holds the loaded glossaries, keyed by source language. Terms with
// no declared language live under the empty key and match any language.
type Manager struct {
	byLanguage map[string][]Term
	total      int
}

// NewManager creates an empty glossary manager.
func NewManager() *Manager {
	return &Manager{byLanguage: make(map[string][]Term)}
}

// LoadDirectory reads every .json glossary in dir. A missing directory is
// not an error: translation simply runs without glossary hints.
func (m *Manager) LoadDirectory(dir string) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("glossary directory absent", logger.String("dir", dir))
			return nil
		}
		return types.NewAppErrorWithDetails(types.ErrConfig, "failed to read glossary directory", dir, err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := m.LoadFile(path); err != nil {
			// One bad glossary file does not block the rest.
			logger.Warn("skipping unreadable glossary", logger.String("file", path), logger.Err(err))
			continue
		}
		loaded++
	}

	logger.Info("glossaries loaded",
		logger.String("dir", dir),
		logger.Int("files", loaded),
		logger.Int("terms", m.total))
	return nil
}

// LoadFile reads one glossary JSON file.
func (m *Manager) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.NewAppErrorWithDetails(types.ErrConfig, "failed to read glossary file", path, err)
	}
	var gf glossaryFile
	if err := json.Unmarshal(data, &gf); err != nil {
		return types.NewAppErrorWithDetails(types.ErrConfig, "invalid glossary file", path, err)
	}

	lang := strings.ToLower(gf.Language)
	for _, term := range gf.Terms {
		if term.Source == "" || term.Target == "" {
			continue
		}
		m.byLanguage[lang] = append(m.byLanguage[lang], term)
		m.total++
	}
	return nil
}

// Add registers a term directly. Empty language means any language.
func (m *Manager) Add(lang string, term Term) {
	m.byLanguage[strings.ToLower(lang)] = append(m.byLanguage[strings.ToLower(lang)], term)
	m.total++
}

// Len returns the total number of loaded terms.
func (m *Manager) Len() int { return m.total }

// RelevantTerms returns the terms whose source form (or abbreviation)
// appears in text, capped at maxTerms. Matching is word-bounded for ASCII
// terms and substring-based otherwise, so CJK sources still match.
func (m *Manager) RelevantTerms(text, sourceLang string, maxTerms int) []Term {
	if maxTerms <= 0 {
		maxTerms = DefaultMaxTerms
	}

	candidates := m.byLanguage[strings.ToLower(sourceLang)]
	if sourceLang != "" {
		candidates = append(candidates, m.byLanguage[""]...)
	}

	var relevant []Term
	for _, term := range candidates {
		if len(relevant) >= maxTerms {
			break
		}
		if termAppears(text, term.Source) || (term.SourceAbbr != "" && termAppears(text, term.SourceAbbr)) {
			relevant = append(relevant, term)
		}
	}
	return relevant
}

// termAppears reports whether needle occurs in text, using word boundaries
// for plain ASCII words to avoid matching inside longer words.
func termAppears(text, needle string) bool {
	if needle == "" {
		return false
	}
	if isASCIIWord(needle) {
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(needle) + `\b`)
		if err != nil {
			return strings.Contains(text, needle)
		}
		return re.MatchString(text)
	}
	return strings.Contains(text, needle)
}

func isASCIIWord(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == ' ', r == '-':
		default:
			return false
		}
	}
	return true
}

// FormatPrompt renders terms as glossary lines for the translation system
// instruction, e.g. "neural network => 神经网络 (NN => 神经网络)".
func FormatPrompt(terms []Term) string {
	if len(terms) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, t := range terms {
		sb.WriteString("- ")
		sb.WriteString(t.Source)
		sb.WriteString(" => ")
		sb.WriteString(t.Target)
		if t.SourceAbbr != "" && t.TargetAbbr != "" {
			sb.WriteString(" (")
			sb.WriteString(t.SourceAbbr)
			sb.WriteString(" => ")
			sb.WriteString(t.TargetAbbr)
			sb.WriteString(")")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
