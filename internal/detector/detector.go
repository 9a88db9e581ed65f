// Package detector scans extracted document text for formula-like spans.
// Detection is a pure function: the same input always yields the same spans,
// non-overlapping and sorted by start offset.
package detector

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"doc-translator/internal/logger"
	"doc-translator/internal/types"
)

const (
	// MinSpanLength rejects single-letter false positives ("a", "x.").
	MinSpanLength = 3
	// MaxSpanLength rejects candidates that would swallow prose paragraphs.
	MaxSpanLength = 300
)

// Detect scans text and returns the accepted formula spans, sorted by start
// offset. Matchers run in priority order: explicit LaTeX delimiters first,
// heuristic operator patterns last. A span accepted by a higher-priority
// matcher masks any overlapping candidate from a lower-priority one.
func Detect(text string) []types.FormulaSpan {
	if text == "" {
		return nil
	}

	// Matchers in priority order: explicit delimiters before heuristics.
	// 匹配器按优先级排列，显式定界符优先。
	matchers := []func(string) []types.FormulaSpan{
		findEnvironmentSpans,
		findDisplayMathSpans,
		findInlineParenSpans,
		findSingleDollarSpans,
		findNumberedEquationSpans,
		findFractionSpans,
		findChemicalSpans,
		findNumericUnitSpans,
		findSubSuperscriptSpans,
		findGreekMathSpans,
		findMathLineSpans,
	}

	// Placeholder tokens already present in the text are off limits:
	// re-running detection on masked text must yield nothing new.
	reserved := findReservedRegions(text)

	// Length bounds and the likelihood gate run before overlap resolution
	// so a rejected candidate cannot shadow a valid lower-priority one.
	var candidates []candidate
	total := 0
	for prio, find := range matchers {
		for _, s := range find(text) {
			total++
			if s.Len() < MinSpanLength || s.Len() > MaxSpanLength {
				continue
			}
			if !IsLikelyFormula(s.RawText) {
				continue
			}
			if overlapsAny(reserved, s) {
				continue
			}
			candidates = append(candidates, candidate{span: s, priority: prio})
		}
	}

	spans := resolveOverlaps(candidates)
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })

	logger.Debug("formula detection finished",
		logger.Int("candidates", total),
		logger.Int("accepted", len(spans)),
		logger.Int("textLength", len(text)))

	return spans
}

type candidate struct {
	span     types.FormulaSpan
	priority int
}

// resolveOverlaps accepts candidates in pattern-priority order; within one
// priority tier candidates are processed by ascending start offset, longest
// first on ties, so a containing span wins over anything nested inside it.
// A candidate overlapping any accepted span is dropped.
func resolveOverlaps(candidates []candidate) []types.FormulaSpan {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority < candidates[j].priority
		}
		if candidates[i].span.Start != candidates[j].span.Start {
			return candidates[i].span.Start < candidates[j].span.Start
		}
		return candidates[i].span.Len() > candidates[j].span.Len()
	})

	var accepted []types.FormulaSpan
	for _, c := range candidates {
		if overlapsAny(accepted, c.span) {
			continue
		}
		accepted = append(accepted, c.span)
	}
	return accepted
}

// reservedTokenRe matches placeholder tokens from an earlier masking pass and
// the page-image markers used by the document writer.
var reservedTokenRe = regexp.MustCompile(`<<<[A-Z]+_\d+>>>|__IMAGE_PAGE_\d+__`)

func findReservedRegions(text string) []types.FormulaSpan {
	var regions []types.FormulaSpan
	for _, m := range reservedTokenRe.FindAllStringIndex(text, -1) {
		regions = append(regions, types.FormulaSpan{Start: m[0], End: m[1]})
	}
	return regions
}

func overlapsAny(accepted []types.FormulaSpan, s types.FormulaSpan) bool {
	for _, a := range accepted {
		if s.Start < a.End && a.Start < s.End {
			return true
		}
	}
	return false
}

// mathEnvironments are the LaTeX environments protected as display math.
var mathEnvironments = []string{
	"equation", "equation*",
	"align", "align*",
	"alignat", "alignat*",
	"gather", "gather*",
	"multline", "multline*",
	"eqnarray", "eqnarray*",
	"cases", "split",
	"matrix", "pmatrix", "bmatrix", "vmatrix", "Bmatrix", "Vmatrix",
	"smallmatrix",
}

// findEnvironmentSpans finds \begin{env}...\end{env} blocks, handling nesting.
func findEnvironmentSpans(text string) []types.FormulaSpan {
	var spans []types.FormulaSpan
	for _, env := range mathEnvironments {
		beginTag := fmt.Sprintf(`\begin{%s}`, env)
		searchFrom := 0
		for {
			beginPos := strings.Index(text[searchFrom:], beginTag)
			if beginPos == -1 {
				break
			}
			beginPos += searchFrom
			endPos := findEnvironmentEnd(text, beginPos, env)
			if endPos == -1 {
				searchFrom = beginPos + len(beginTag)
				continue
			}
			spans = append(spans, types.FormulaSpan{
				Start:        beginPos,
				End:          endPos,
				RawText:      text[beginPos:endPos],
				PatternClass: types.PatternLatexDisplay,
			})
			searchFrom = endPos
		}
	}
	return spans
}

// findEnvironmentEnd locates the matching \end tag for a \begin, tracking
// nesting depth for environments nested inside themselves.
func findEnvironmentEnd(text string, startPos int, env string) int {
	beginTag := fmt.Sprintf(`\begin{%s}`, env)
	endTag := fmt.Sprintf(`\end{%s}`, env)

	depth := 1
	pos := startPos + len(beginTag)
	for depth > 0 && pos < len(text) {
		nextBegin := strings.Index(text[pos:], beginTag)
		nextEnd := strings.Index(text[pos:], endTag)
		if nextEnd == -1 {
			return -1
		}
		if nextBegin != -1 && nextBegin < nextEnd {
			depth++
			pos += nextBegin + len(beginTag)
		} else {
			depth--
			if depth == 0 {
				return pos + nextEnd + len(endTag)
			}
			pos += nextEnd + len(endTag)
		}
	}
	return -1
}

var (
	doubleDollarRe = regexp.MustCompile(`\$\$[\s\S]*?\$\$`)
	bracketMathRe  = regexp.MustCompile(`\\\[[\s\S]*?\\\]`)
	parenMathRe    = regexp.MustCompile(`\\\([\s\S]*?\\\)`)
)

// findDisplayMathSpans finds $$...$$ and \[...\] display math.
func findDisplayMathSpans(text string) []types.FormulaSpan {
	var spans []types.FormulaSpan
	for _, re := range []*regexp.Regexp{doubleDollarRe, bracketMathRe} {
		for _, m := range re.FindAllStringIndex(text, -1) {
			spans = append(spans, types.FormulaSpan{
				Start:        m[0],
				End:          m[1],
				RawText:      text[m[0]:m[1]],
				PatternClass: types.PatternLatexDisplay,
			})
		}
	}
	return spans
}

// findInlineParenSpans finds \(...\) inline math.
func findInlineParenSpans(text string) []types.FormulaSpan {
	var spans []types.FormulaSpan
	for _, m := range parenMathRe.FindAllStringIndex(text, -1) {
		spans = append(spans, types.FormulaSpan{
			Start:        m[0],
			End:          m[1],
			RawText:      text[m[0]:m[1]],
			PatternClass: types.PatternLatexInline,
		})
	}
	return spans
}

// findSingleDollarSpans finds $...$ inline math with a manual scan so that
// escaped dollars (\$) and display math ($$) are skipped correctly.
func findSingleDollarSpans(text string) []types.FormulaSpan {
	var spans []types.FormulaSpan
	i := 0
	for i < len(text) {
		if text[i] == '\\' && i+1 < len(text) && text[i+1] == '$' {
			i += 2
			continue
		}
		if text[i] == '$' && i+1 < len(text) && text[i+1] == '$' {
			// Display math is claimed by a higher-priority matcher.
			end := strings.Index(text[i+2:], "$$")
			if end >= 0 {
				i = i + 2 + end + 2
			} else {
				i += 2
			}
			continue
		}
		if text[i] == '$' {
			start := i
			i++
			for i < len(text) {
				if text[i] == '\\' && i+1 < len(text) && text[i+1] == '$' {
					i += 2
					continue
				}
				if text[i] == '\n' {
					// Inline math never spans lines; an unclosed dollar is
					// prose, not a formula.
					break
				}
				if text[i] == '$' {
					if i > start+1 {
						spans = append(spans, types.FormulaSpan{
							Start:        start,
							End:          i + 1,
							RawText:      text[start : i+1],
							PatternClass: types.PatternDollar,
						})
					}
					i++
					break
				}
				i++
			}
			continue
		}
		i++
	}
	return spans
}

var numberedEqRe = regexp.MustCompile(`(?m)^[ \t]*\(?\d+(?:\.\d+)*\)?[ \t]*[:：]?[ \t]*[^\n]*[=≈≤≥≠][^\n]*$|(?m)^[^\n]*[=≈≤≥≠][^\n]*\([ \t]*\d+(?:\.\d+)*[ \t]*\)[ \t]*$`)

// findNumberedEquationSpans finds equation lines carrying a numeric label,
// either leading "(3.1) ..." or trailing "... (12)".
func findNumberedEquationSpans(text string) []types.FormulaSpan {
	var spans []types.FormulaSpan
	for _, m := range numberedEqRe.FindAllStringIndex(text, -1) {
		spans = append(spans, types.FormulaSpan{
			Start:        m[0],
			End:          m[1],
			RawText:      text[m[0]:m[1]],
			PatternClass: types.PatternNumberedEq,
		})
	}
	return spans
}

var fractionRe = regexp.MustCompile(`\\[dt]?frac\{[^{}]*\}\{[^{}]*\}|\\(?:sum|prod|int|oint|lim)(?:_\{[^{}]*\}|_\S)?(?:\^\{[^{}]*\}|\^\S)?`)

// findFractionSpans finds \frac, \sum, \prod, \int and similar big-operator
// notation appearing outside explicit math delimiters.
func findFractionSpans(text string) []types.FormulaSpan {
	var spans []types.FormulaSpan
	for _, m := range fractionRe.FindAllStringIndex(text, -1) {
		spans = append(spans, types.FormulaSpan{
			Start:        m[0],
			End:          m[1],
			RawText:      text[m[0]:m[1]],
			PatternClass: types.PatternFraction,
		})
	}
	return spans
}

// chemicalRe matches chemical notation: full reaction equations joined by a
// reaction arrow (2H2 + O2 → 2H2O), or standalone molecules built from two
// or more element symbols with optional counts (H2O, C6H12O6). Prose
// acronyms also match the molecule shape; the likelihood gate discards them
// because they carry no subscript digits.
var chemicalRe = regexp.MustCompile(`\b\d*(?:[A-Z][a-z]?\d*)+(?:\s*\+\s*\d*(?:[A-Z][a-z]?\d*)+)*\s*(?:→|->|⇌)\s*\d*(?:[A-Z][a-z]?\d*)+(?:\s*\+\s*\d*(?:[A-Z][a-z]?\d*)+)*|\b(?:[A-Z][a-z]?\d*){2,}\b`)

// findChemicalSpans finds chemical notation shapes.
func findChemicalSpans(text string) []types.FormulaSpan {
	var spans []types.FormulaSpan
	for _, m := range chemicalRe.FindAllStringIndex(text, -1) {
		spans = append(spans, types.FormulaSpan{
			Start:        m[0],
			End:          m[1],
			RawText:      text[m[0]:m[1]],
			PatternClass: types.PatternChemical,
		})
	}
	return spans
}

// numericUnitRe matches measurements whose unit carries an exponent, e.g.
// "9.81 m/s^2" or "5 kg·m²". Plain "10 kg" stays translatable prose.
var numericUnitRe = regexp.MustCompile(`\b\d+(?:\.\d+)?\s*(?:[a-zA-Zμ]+(?:[/·][a-zA-Zμ]+)*)(?:\^-?\d+|[\x{00B2}\x{00B3}\x{2070}-\x{209F}]+)`)

// findNumericUnitSpans finds numeric measurements with exponent-bearing units.
func findNumericUnitSpans(text string) []types.FormulaSpan {
	var spans []types.FormulaSpan
	for _, m := range numericUnitRe.FindAllStringIndex(text, -1) {
		spans = append(spans, types.FormulaSpan{
			Start:        m[0],
			End:          m[1],
			RawText:      text[m[0]:m[1]],
			PatternClass: types.PatternNumericUnit,
		})
	}
	return spans
}

// subSuperscriptRe matches variable^exponent and variable_index runs, in both
// ASCII (x^2, a_i, x_{ij}) and Unicode glyph form (x², aᵢ).
var subSuperscriptRe = regexp.MustCompile(`[A-Za-zα-ωΑ-Ω]\w*(?:(?:\^|_)(?:\{[^{}]+\}|[\w+-]+)|[\x{00B2}\x{00B3}\x{00B9}\x{2070}-\x{209F}]+)(?:\s*[=+\-*/]\s*[\w\x{00B2}\x{00B3}\x{00B9}\x{2070}-\x{209F}^_{}()+\-*/.]+)*`)

// findSubSuperscriptSpans finds subscript/superscript expressions.
func findSubSuperscriptSpans(text string) []types.FormulaSpan {
	var spans []types.FormulaSpan
	for _, m := range subSuperscriptRe.FindAllStringIndex(text, -1) {
		spans = append(spans, types.FormulaSpan{
			Start:        m[0],
			End:          m[1],
			RawText:      text[m[0]:m[1]],
			PatternClass: types.PatternSubSuperscript,
		})
	}
	return spans
}

// greekMathRe matches Greek letters combined with operators or operands,
// e.g. "α + β", "Δx", "σ²". A lone Greek letter inside prose is left alone.
var greekMathRe = regexp.MustCompile(`[α-ωΑ-Ω∇∂][\w\x{00B2}\x{00B3}\x{2070}-\x{209F}]*(?:\s*[=+\-*/×÷≤≥≠≈±]\s*[\wα-ωΑ-Ω\x{00B2}\x{00B3}\x{2070}-\x{209F}()^_{}.]+)+|[α-ωΑ-Ω][\x{00B2}\x{00B3}\x{2070}-\x{209F}]+`)

// findGreekMathSpans finds Greek-letter expressions.
func findGreekMathSpans(text string) []types.FormulaSpan {
	var spans []types.FormulaSpan
	for _, m := range greekMathRe.FindAllStringIndex(text, -1) {
		spans = append(spans, types.FormulaSpan{
			Start:        m[0],
			End:          m[1],
			RawText:      text[m[0]:m[1]],
			PatternClass: types.PatternGreekMath,
		})
	}
	return spans
}

// findMathLineSpans is the lowest-priority catch-all: whole lines whose
// content is dominated by mathematical symbols rather than prose.
func findMathLineSpans(text string) []types.FormulaSpan {
	var spans []types.FormulaSpan
	offset := 0
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if isMathDominatedLine(trimmed) {
			start := offset + strings.Index(line, trimmed)
			spans = append(spans, types.FormulaSpan{
				Start:        start,
				End:          start + len(trimmed),
				RawText:      trimmed,
				PatternClass: types.PatternMathLine,
			})
		}
		offset += len(line) + 1
	}
	return spans
}

// isMathDominatedLine reports whether a line reads as an equation rather than
// a sentence: it must contain a relation operator, few spaces relative to
// symbols, and no long prose words.
func isMathDominatedLine(line string) bool {
	if len(line) < MinSpanLength || len(line) > MaxSpanLength {
		return false
	}
	if !strings.ContainsAny(line, "=≈≤≥≠") {
		return false
	}
	words := strings.Fields(line)
	longWords := 0
	symbols := 0
	for _, w := range words {
		if isProseWord(w) {
			longWords++
		}
	}
	for _, r := range line {
		if strings.ContainsRune("=+-*/^_(){}[]≈≤≥≠±×÷√∑∏∫∞", r) || unicode.Is(unicode.Greek, r) {
			symbols++
		}
	}
	// More than two real words means the equals sign sits inside a sentence.
	return longWords <= 2 && symbols >= 2
}

// isProseWord reports whether a token looks like a natural-language word.
func isProseWord(w string) bool {
	if len(w) < 4 {
		return false
	}
	for _, r := range w {
		if !unicode.IsLetter(r) || unicode.Is(unicode.Greek, r) {
			return false
		}
	}
	return true
}

// latexMarkers are explicit math markers whose presence alone qualifies a
// candidate as formula-like.
const latexMarkers = `\^_`

// unicodeMathMarkers are Unicode math symbols treated the same way.
const unicodeMathMarkers = "∑∏∫√∞≤≥≠≈±×÷∂∇⇌→²³¹⁰⁴⁵⁶⁷⁸⁹₀₁₂₃₄₅₆₇₈₉"

// IsLikelyFormula is the final heuristic gate: a syntactic match is kept only
// if it carries an explicit math marker, or pairs a mathematical operator
// with a variable or digit operand. Plain prose that happened to match a
// pattern is discarded here.
func IsLikelyFormula(s string) bool {
	if strings.ContainsAny(s, latexMarkers) || strings.ContainsAny(s, unicodeMathMarkers) {
		return true
	}
	for _, r := range s {
		if unicode.Is(unicode.Greek, r) {
			return true
		}
	}
	hasOperator := strings.ContainsAny(s, "=+-*/<>")
	hasOperand := false
	prevLetter := false
	for _, r := range s {
		if unicode.IsDigit(r) || unicode.IsLetter(r) {
			hasOperand = true
		}
		// A digit directly after a letter is an implicit subscript, as in
		// chemical formulas (H2O); counts as a marker on its own.
		if prevLetter && unicode.IsDigit(r) {
			return true
		}
		prevLetter = unicode.IsLetter(r)
	}
	return hasOperator && hasOperand
}

// Classify assigns the protected-payload kind for a detected span. New
// notation classes plug in here without touching the masking round trip.
func Classify(span types.FormulaSpan) types.PayloadKind {
	switch span.PatternClass {
	case types.PatternChemical:
		return types.KindChemicalNotation
	case types.PatternNumericUnit:
		return types.KindNumericUnit
	}
	if isAbbreviation(span.RawText) {
		return types.KindAbbreviation
	}
	return types.KindFormula
}

// isAbbreviation reports whether the span is a bare all-caps acronym.
func isAbbreviation(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 2 || len(s) > 8 {
		return false
	}
	for _, r := range s {
		if !unicode.IsUpper(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
