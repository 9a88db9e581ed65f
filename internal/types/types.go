// Package types defines the core data model and error taxonomy for the
// document translation pipeline.
package types

import "time"

// PatternClass identifies which detector matcher produced a formula span.
type PatternClass string

const (
	PatternLatexDisplay   PatternClass = "latex_display"   // \[...\]
	PatternLatexInline    PatternClass = "latex_inline"    // \(...\)
	PatternDollar         PatternClass = "dollar"          // $...$ and $$...$$
	PatternSubSuperscript PatternClass = "sub_superscript" // x_1, y^2, A_{ij}
	PatternGreekMath      PatternClass = "greek_math"      // α = ...
	PatternFraction       PatternClass = "fraction"        // (x+y)/(z-w)
	PatternChemical       PatternClass = "chemical"        // H2SO4, CO₂
	PatternNumberedEq     PatternClass = "numbered_eq"     // (13.7) x = ...
	PatternNumericUnit    PatternClass = "numeric_unit"    // 9.81 m/s^2
	PatternMathLine       PatternClass = "math_line"       // operator-laden line
)

// PayloadKind classifies the protected content behind a placeholder.
type PayloadKind string

const (
	KindFormula          PayloadKind = "formula"
	KindChemicalNotation PayloadKind = "chemical_notation"
	KindAbbreviation     PayloadKind = "abbreviation"
	KindNumericUnit      PayloadKind = "numeric_unit"
)

// FormulaSpan is a detected formula-like region of the input text.
// Spans produced by a single detection pass never overlap. A span is
// immutable once created and is consumed exactly once by masking.
type FormulaSpan struct {
	Start        int          `json:"start"`
	End          int          `json:"end"`
	RawText      string       `json:"raw_text"`
	PatternClass PatternClass `json:"pattern_class"`
}

// Len returns the span length in bytes.
func (s FormulaSpan) Len() int { return s.End - s.Start }

// RecognizedFormula is the normalized result of a recognition service call.
// Never mutated after creation.
type RecognizedFormula struct {
	Latex           string  `json:"latex,omitempty"`
	LatexSimplified string  `json:"latex_simplified,omitempty"`
	MathML          string  `json:"mathml,omitempty"`
	Text            string  `json:"text,omitempty"`
	Confidence      float64 `json:"confidence,omitempty"`
	// IsGraphic marks content judged to be a diagram or picture rather
	// than a formula; downstream steps embed the original page image
	// instead of symbolic markup.
	IsGraphic bool `json:"is_graphic"`
}

// Empty reports whether recognition produced no usable content.
func (r *RecognizedFormula) Empty() bool {
	return r == nil || (r.Latex == "" && r.LatexSimplified == "" && r.MathML == "" && r.Text == "")
}

// ProtectedPayload is the content hidden behind a placeholder token during
// translation. Created by masking, optionally enriched with a recognized
// form, and consumed during unmasking.
type ProtectedPayload struct {
	OriginalText string             `json:"original_text"`
	Kind         PayloadKind        `json:"kind"`
	Recognized   *RecognizedFormula `json:"recognized,omitempty"`
}

// TranslationResult holds the outcome of translating one masked text.
type TranslationResult struct {
	OriginalText   string `json:"original_text"`
	TranslatedText string `json:"translated_text"`
	TokensUsed     int    `json:"tokens_used"`
	// PlaceholdersIn/Out track the placeholder-preservation invariant:
	// every placeholder submitted must reappear verbatim in the output.
	PlaceholdersIn   int      `json:"placeholders_in"`
	PlaceholdersOut  int      `json:"placeholders_out"`
	LostPlaceholders []string `json:"lost_placeholders,omitempty"`
	Chunks           int      `json:"chunks"`
}

// TranslationStyle selects the domain style guidance for the translation
// prompt.
type TranslationStyle string

const (
	StyleGeneral     TranslationStyle = "general"
	StyleEngineering TranslationStyle = "engineering"
	StyleAcademic    TranslationStyle = "academic"
	StyleScientific  TranslationStyle = "scientific"
)

// FormulaMode selects how formulas are embedded in the output document.
type FormulaMode string

const (
	// FormulaModePNG renders formulas to bitmap images (default).
	FormulaModePNG FormulaMode = "png"
	// FormulaModeMathML emits structured math markup, falling back to
	// bitmap when no markup form is available.
	FormulaModeMathML FormulaMode = "mathml"
)

// PipelineResult aggregates one document run. Created once per run and
// immutable after completion.
type PipelineResult struct {
	OutputPath         string    `json:"output_path"`
	DetectedFormulas   int       `json:"detected_formulas"`
	RecognizedFormulas int       `json:"recognized_formulas"`
	LostPlaceholders   int       `json:"lost_placeholders"`
	PageCount          int       `json:"page_count"`
	TokensUsed         int       `json:"tokens_used"`
	Success            bool      `json:"success"`
	Error              string    `json:"error,omitempty"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
}

// Config 应用配置
type Config struct {
	OpenAIAPIKey  string `json:"openai_api_key"`
	OpenAIBaseURL string `json:"openai_base_url"`
	OpenAIModel   string `json:"openai_model"`
	// ContextWindow caps the estimated token size of one translation
	// request; oversized inputs are chunked on paragraph boundaries.
	ContextWindow int `json:"context_window"`
	// Recognition service credentials (Mathpix-compatible API).
	RecognitionAppID   string `json:"recognition_app_id"`
	RecognitionAppKey  string `json:"recognition_app_key"`
	RecognitionBaseURL string `json:"recognition_base_url"`
	GlossaryDirectory  string `json:"glossary_directory"`
	WorkDirectory      string `json:"work_directory"`
	OutputDirectory    string `json:"output_directory"`
	// RepairRetries is the number of stricter retries after a total
	// placeholder loss. Tunable; default 1.
	RepairRetries int `json:"repair_retries"`
}

// ErrorCode 错误代码枚举
type ErrorCode string

const (
	ErrNetwork      ErrorCode = "NETWORK_ERROR"
	ErrExtract      ErrorCode = "EXTRACT_ERROR"
	ErrFileNotFound ErrorCode = "FILE_NOT_FOUND"
	ErrInvalidInput ErrorCode = "INVALID_INPUT"
	ErrAPICall      ErrorCode = "API_CALL_ERROR"
	ErrAPIRateLimit ErrorCode = "API_RATE_LIMIT"
	ErrRecognition  ErrorCode = "RECOGNITION_ERROR"
	ErrTranslation  ErrorCode = "TRANSLATION_ERROR"
	ErrRender       ErrorCode = "RENDER_ERROR"
	ErrConfig       ErrorCode = "CONFIG_ERROR"
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface for AppError
func (e *AppError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// Unwrap returns the underlying cause of the error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new AppError with the given code, message, and optional cause
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewAppErrorWithDetails creates a new AppError with details
func NewAppErrorWithDetails(code ErrorCode, message, details string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: details,
		Cause:   cause,
	}
}
