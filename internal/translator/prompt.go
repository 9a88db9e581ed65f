package translator

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"doc-translator/internal/types"
)

// styleGuidance maps translation styles to prompt instructions.
var styleGuidance = map[types.TranslationStyle]string{
	types.StyleGeneral:     "Use clear, natural everyday language.",
	types.StyleEngineering: "Use precise engineering terminology; keep unit notations, part numbers and standards references unchanged.",
	types.StyleAcademic:    "Use formal academic register appropriate for a scholarly publication; keep citation markers unchanged.",
	types.StyleScientific:  "Use rigorous scientific terminology; keep variable names, constants and nomenclature unchanged.",
}

// languageName converts a BCP 47 tag to its English display name. Unknown
// tags pass through unchanged so the prompt still reads sensibly.
func languageName(code string) string {
	if code == "" {
		return "the source language"
	}
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}

// buildSystemPrompt assembles the system instruction: languages, style
// guidance, the explicit placeholder contract and an optional glossary
// excerpt. strict switches to the emphasized wording used after a total
// placeholder loss or under quota pressure.
func buildSystemPrompt(req Request, tokens []string, glossaryText string, strict bool) string {
	var sb strings.Builder

	style := req.Style
	if style == "" {
		style = types.StyleGeneral
	}

	fmt.Fprintf(&sb, "You are a professional technical translator. Translate the user's text from %s to %s.\n",
		languageName(req.SourceLang), languageName(req.TargetLang))
	if guidance, ok := styleGuidance[style]; ok {
		sb.WriteString(guidance)
		sb.WriteString("\n")
	}

	if len(tokens) > 0 {
		if strict {
			fmt.Fprintf(&sb, "\nCRITICAL REQUIREMENT: the text contains exactly %d placeholder tokens. "+
				"You MUST copy every single one into your output, character for character, unchanged. "+
				"Do NOT translate, reformat, renumber, merge or omit any of them. "+
				"A missing or altered token makes the output unusable.\n", len(tokens))
		} else {
			fmt.Fprintf(&sb, "\nThe text contains %d placeholder tokens of the form <<<FORMULA_N>>>. "+
				"They stand for protected formulas. Copy each token into your output exactly as it appears; "+
				"never translate or alter them.\n", len(tokens))
		}
		sb.WriteString("The tokens are:\n")
		for _, tok := range tokens {
			sb.WriteString(tok)
			sb.WriteString("\n")
		}
	}

	if glossaryText != "" {
		sb.WriteString("\nUse this glossary for the listed terms:\n")
		sb.WriteString(glossaryText)
	}

	sb.WriteString("\nReturn only the translated text, with the original paragraph structure. Do not add explanations.")
	return sb.String()
}

// buildUserPrompt wraps the chunk for the user message.
func buildUserPrompt(text string, tokenCount int) string {
	if tokenCount > 0 {
		return fmt.Sprintf("Translate the following text. It contains %d placeholder tokens to preserve verbatim:\n\n%s", tokenCount, text)
	}
	return "Translate the following text:\n\n" + text
}
