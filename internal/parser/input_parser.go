// Package parser classifies translation inputs so the CLI can decide whether
// a document must be fetched first and whether its format is supported at
// all, before any pipeline work starts.
package parser

import (
	"path/filepath"
	"strings"

	"doc-translator/internal/logger"
	"doc-translator/internal/types"
)

// InputKind identifies what kind of input the user handed us.
type InputKind string

const (
	// InputURL is a remote document to download first.
	InputURL InputKind = "url"
	// InputPDF is a local PDF file.
	InputPDF InputKind = "pdf"
	// InputDOCX is a local Word document.
	InputDOCX InputKind = "docx"
	// InputText is a local plain-text or Markdown file.
	InputText InputKind = "text"
)

// ParseInput 分析输入并识别其类型。
//
// Rules:
// - starts with http:// or https:// → URL
// - .pdf → PDF, .docx → DOCX, .txt/.md/.markdown → text
// - anything else → invalid input
func ParseInput(input string) (InputKind, error) {
	logger.Debug("parsing input", logger.String("input", input))

	input = strings.TrimSpace(input)
	if input == "" {
		return "", types.NewAppError(types.ErrInvalidInput, "input cannot be empty", nil)
	}

	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		return InputURL, nil
	}

	switch strings.ToLower(filepath.Ext(input)) {
	case ".pdf":
		return InputPDF, nil
	case ".docx":
		return InputDOCX, nil
	case ".txt", ".md", ".markdown":
		return InputText, nil
	default:
		return "", types.NewAppErrorWithDetails(types.ErrInvalidInput,
			"unsupported input", "expected a URL or a .pdf/.docx/.txt/.md file", nil)
	}
}

// IsRemote reports whether the input must be downloaded before extraction.
func IsRemote(kind InputKind) bool {
	return kind == InputURL
}
