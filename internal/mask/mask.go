// Package mask implements the placeholder protocol that hides formula spans
// from the translation model and restores them afterwards.
//
// Tokens have the form <<<FORMULA_N>>> with N allocated monotonically per
// table; a token is never reused within a run. Masking replaces spans
// back-to-front so earlier offsets stay valid; unmasking restores tokens in
// descending numeric order so no token's text can be mistaken for part of
// another still-unresolved token.
package mask

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"doc-translator/internal/detector"
	"doc-translator/internal/logger"
	"doc-translator/internal/types"
)

// TokenPrefix is the formula placeholder prefix shared with the document
// writer.
const TokenPrefix = "<<<FORMULA_"

// TokenSuffix closes a placeholder token.
const TokenSuffix = ">>>"

// Token formats the placeholder for index n.
func Token(n int) string {
	return fmt.Sprintf("%s%d%s", TokenPrefix, n, TokenSuffix)
}

// PageToken formats the whole-page image marker for page n.
func PageToken(n int) string {
	return fmt.Sprintf("__IMAGE_PAGE_%d__", n)
}

var tokenRe = regexp.MustCompile(`<<<FORMULA_\d+>>>`)

// TokensIn returns the distinct formula tokens present in text, in order of
// first appearance. It needs no table, so the document writer can resolve
// tokens in translated text it did not produce itself.
func TokensIn(text string) []string {
	seen := make(map[string]bool)
	var tokens []string
	for _, tok := range tokenRe.FindAllString(text, -1) {
		if !seen[tok] {
			seen[tok] = true
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// Table maps placeholder tokens to their protected payloads for one pipeline
// run. Not safe for concurrent use; each document run owns its own table.
type Table struct {
	payloads map[string]*types.ProtectedPayload
	next     int
}

// NewTable creates an empty placeholder table.
func NewTable() *Table {
	return &Table{payloads: make(map[string]*types.ProtectedPayload)}
}

// Len returns the number of allocated placeholders.
func (t *Table) Len() int { return len(t.payloads) }

// Tokens returns all allocated tokens in ascending index order.
func (t *Table) Tokens() []string {
	tokens := make([]string, 0, len(t.payloads))
	for i := 0; i < t.next; i++ {
		tok := Token(i)
		if _, ok := t.payloads[tok]; ok {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// Payload returns the protected payload behind a token.
func (t *Table) Payload(token string) (*types.ProtectedPayload, bool) {
	p, ok := t.payloads[token]
	return p, ok
}

// SetRecognized attaches a recognition result to the payload behind token.
func (t *Table) SetRecognized(token string, r *types.RecognizedFormula) bool {
	p, ok := t.payloads[token]
	if !ok {
		return false
	}
	p.Recognized = r
	return true
}

// Mask replaces each span with a fresh placeholder token and records the
// payload. Spans must be non-overlapping and within text bounds, as produced
// by the detector; spans are processed by descending start offset so earlier
// offsets remain valid after each substitution.
func (t *Table) Mask(text string, spans []types.FormulaSpan) string {
	if len(spans) == 0 {
		return text
	}

	ordered := make([]types.FormulaSpan, len(spans))
	copy(ordered, spans)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start > ordered[j].Start })

	// Indices follow document order even though replacement runs backwards.
	base := t.next
	t.next += len(ordered)

	result := text
	for i, span := range ordered {
		idx := base + len(ordered) - 1 - i
		token := Token(idx)
		t.payloads[token] = &types.ProtectedPayload{
			OriginalText: span.RawText,
			Kind:         detector.Classify(span),
		}
		result = result[:span.Start] + token + result[span.End:]
	}

	logger.Debug("masked formula spans",
		logger.Int("spans", len(ordered)),
		logger.Int("totalPlaceholders", t.next),
		logger.Int("originalLength", len(text)),
		logger.Int("maskedLength", len(result)))

	return result
}

// UnmaskResult reports the outcome of an unmask pass.
type UnmaskResult struct {
	Text string
	// Lost holds tokens that were absent from the input text; their
	// payloads could not be restored. The pipeline continues with
	// degraded output rather than failing.
	Lost []string
}

// Restorer picks the replacement text for a payload. The default restorer
// returns the original span text.
type Restorer func(token string, payload *types.ProtectedPayload) string

// Unmask substitutes every allocated token back into text in descending
// numeric order. Tokens missing from text are reported as lost, with their
// original content logged for diagnosis.
func (t *Table) Unmask(text string, restore Restorer) UnmaskResult {
	if restore == nil {
		restore = func(_ string, p *types.ProtectedPayload) string { return p.OriginalText }
	}

	result := UnmaskResult{Text: text}
	for i := t.next - 1; i >= 0; i-- {
		token := Token(i)
		payload, ok := t.payloads[token]
		if !ok {
			continue
		}
		if !strings.Contains(result.Text, token) {
			result.Lost = append(result.Lost, token)
			logger.Warn("placeholder lost during translation",
				logger.String("token", token),
				logger.String("kind", string(payload.Kind)),
				logger.String("original", payload.OriginalText))
			continue
		}
		result.Text = strings.ReplaceAll(result.Text, token, restore(token, payload))
	}

	if len(result.Lost) > 0 {
		logger.Warn("unmask finished with losses",
			logger.Int("lost", len(result.Lost)),
			logger.Int("total", t.Len()))
	}
	return result
}

// ContainedTokens returns the subset of the table's tokens present in text,
// in ascending index order. Used by the translation orchestrator to validate
// placeholder preservation per chunk.
func (t *Table) ContainedTokens(text string) []string {
	var tokens []string
	for _, tok := range t.Tokens() {
		if strings.Contains(text, tok) {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}
