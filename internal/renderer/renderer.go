// Package renderer turns protected payloads into document-embeddable
// artifacts: bitmap images rendered through a TeX toolchain, MathML markup
// blocks, or a literal text fallback when neither works.
package renderer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"doc-translator/internal/logger"
	"doc-translator/internal/types"
)

// ArtifactKind discriminates the embeddable forms an artifact can take.
type ArtifactKind string

const (
	// ArtifactImage is a rasterized formula image on disk.
	ArtifactImage ArtifactKind = "image"
	// ArtifactMarkup is an inline MathML block.
	ArtifactMarkup ArtifactKind = "markup"
	// ArtifactText is the literal-text fallback.
	ArtifactText ArtifactKind = "text"
)

// Artifact is the embeddable result of rendering one payload.
type Artifact struct {
	Kind   ArtifactKind
	Path   string // image path for ArtifactImage
	Markup string // MathML for ArtifactMarkup
	Text   string // literal text for ArtifactText
}

const (
	// DefaultDPI matches the extraction-side rasterization density.
	DefaultDPI = 150
	// fallbackTruncateLen bounds the literal-text fallback.
	fallbackTruncateLen = 80
)

// texRunner compiles a LaTeX snippet to a PNG file. Swappable in tests.
type texRunner func(ctx context.Context, latex, outputPath string, dpi int) error

// Renderer renders payloads under a fixed output directory and mode.
type Renderer struct {
	outputDir string
	mode      types.FormulaMode
	dpi       int
	runTex    texRunner
	// texChecked caches the toolchain probe for the renderer's lifetime.
	texChecked   bool
	texAvailable bool
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithMode selects png or mathml output.
func WithMode(mode types.FormulaMode) Option {
	return func(r *Renderer) { r.mode = mode }
}

// WithDPI overrides the rasterization density.
func WithDPI(dpi int) Option {
	return func(r *Renderer) { r.dpi = dpi }
}

// withTexRunner replaces the external TeX invocation in tests.
func withTexRunner(run texRunner) Option {
	return func(r *Renderer) {
		r.runTex = run
		r.texChecked = true
		r.texAvailable = true
	}
}

// New creates a Renderer writing artifacts into outputDir.
func New(outputDir string, opts ...Option) *Renderer {
	r := &Renderer{
		outputDir: outputDir,
		mode:      types.FormulaModePNG,
		dpi:       DefaultDPI,
	}
	r.runTex = r.compileTex
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render produces an embeddable artifact for one payload. Rendering never
// fails the document: unsupported notation degrades to simplified notation,
// then to literal bracketed text.
func (r *Renderer) Render(ctx context.Context, payload *types.ProtectedPayload) Artifact {
	if payload == nil {
		return Artifact{Kind: ArtifactText, Text: ""}
	}

	// Non-formula payloads (abbreviations, numeric units) embed as-is.
	if payload.Kind == types.KindAbbreviation || payload.Kind == types.KindNumericUnit {
		return Artifact{Kind: ArtifactText, Text: payload.OriginalText}
	}

	if r.mode == types.FormulaModeMathML {
		if payload.Recognized != nil && payload.Recognized.MathML != "" {
			return Artifact{Kind: ArtifactMarkup, Markup: payload.Recognized.MathML}
		}
		// No markup form available: fall through to bitmap mode rather
		// than failing the document.
		logger.Debug("no MathML form, falling back to bitmap",
			logger.String("text", truncate(payload.OriginalText, 40)))
	}

	latex := symbolicForm(payload)
	if latex == "" {
		return textFallback(payload.OriginalText)
	}

	if art, ok := r.renderBitmap(ctx, latex); ok {
		return art
	}

	// Multi-line arrays and aligned systems often fail standalone
	// compilation. Simplify and try once more.
	simplified := SimplifyLatex(latex)
	if simplified != latex {
		if art, ok := r.renderBitmap(ctx, simplified); ok {
			return art
		}
	}

	return textFallback(payload.OriginalText)
}

// RenderAll renders every payload in the table, keyed by token.
func (r *Renderer) RenderAll(ctx context.Context, payloads map[string]*types.ProtectedPayload) map[string]Artifact {
	artifacts := make(map[string]Artifact, len(payloads))
	for token, payload := range payloads {
		artifacts[token] = r.Render(ctx, payload)
	}
	return artifacts
}

// symbolicForm picks the best available notation for a payload: simplified
// recognized LaTeX first, then full recognized LaTeX, then the raw text.
func symbolicForm(payload *types.ProtectedPayload) string {
	if rec := payload.Recognized; rec != nil {
		if rec.LatexSimplified != "" {
			return rec.LatexSimplified
		}
		if rec.Latex != "" {
			return rec.Latex
		}
	}
	return strings.TrimSpace(payload.OriginalText)
}

// renderBitmap compiles latex to a PNG under the output directory.
func (r *Renderer) renderBitmap(ctx context.Context, latex string) (Artifact, bool) {
	if !r.texToolchainAvailable() {
		return Artifact{}, false
	}

	name := fmt.Sprintf("formula_%s.png", uuid.New().String()[:8])
	outputPath := filepath.Join(r.outputDir, name)
	if err := os.MkdirAll(r.outputDir, 0755); err != nil {
		logger.Warn("cannot create artifact directory", logger.Err(err))
		return Artifact{}, false
	}

	if err := r.runTex(ctx, latex, outputPath, r.dpi); err != nil {
		logger.Debug("bitmap rendering failed",
			logger.String("latex", truncate(latex, 60)),
			logger.Err(err))
		return Artifact{}, false
	}
	return Artifact{Kind: ArtifactImage, Path: outputPath}, true
}

// compileTex writes a standalone document, compiles it with xelatex, and
// rasterizes the single-page result with pdftoppm.
func (r *Renderer) compileTex(ctx context.Context, latex, outputPath string, dpi int) error {
	dir, err := os.MkdirTemp("", "doctrans_tex_*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	texFile := filepath.Join(dir, "formula.tex")
	doc := buildTexDocument(latex)
	if err := os.WriteFile(texFile, []byte(doc), 0644); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, "xelatex", "-interaction=nonstopmode", "formula.tex")
	cmd.Dir = dir
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("xelatex failed: %w\n%s", err, tail(string(output), 400))
	}

	pdfFile := filepath.Join(dir, "formula.pdf")
	prefix := strings.TrimSuffix(outputPath, ".png")
	args := []string{
		"-png",
		"-r", fmt.Sprintf("%d", dpi),
		"-singlefile",
		pdfFile,
		prefix,
	}
	if output, err := exec.CommandContext(ctx, "pdftoppm", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("pdftoppm failed: %w\n%s", err, string(output))
	}
	return nil
}

// buildTexDocument wraps a formula in a minimal standalone document.
func buildTexDocument(latex string) string {
	body := latex
	// Display-math and environment snippets carry their own math mode.
	if !strings.HasPrefix(body, "\\begin") && !strings.HasPrefix(body, "$") &&
		!strings.HasPrefix(body, "\\[") && !strings.HasPrefix(body, "\\(") {
		body = "$" + body + "$"
	}
	var sb strings.Builder
	sb.WriteString("\\documentclass[preview,border=2pt]{standalone}\n")
	sb.WriteString("\\usepackage{amsmath}\n")
	sb.WriteString("\\usepackage{amssymb}\n")
	sb.WriteString("\\begin{document}\n")
	sb.WriteString(body)
	sb.WriteString("\n\\end{document}\n")
	return sb.String()
}

// texToolchainAvailable probes for xelatex and pdftoppm once.
func (r *Renderer) texToolchainAvailable() bool {
	if r.texChecked {
		return r.texAvailable
	}
	r.texChecked = true
	_, xelatexErr := exec.LookPath("xelatex")
	_, ppmErr := exec.LookPath("pdftoppm")
	r.texAvailable = xelatexErr == nil && ppmErr == nil
	if !r.texAvailable {
		logger.Warn("TeX toolchain not found, formulas fall back to text")
	}
	return r.texAvailable
}

var (
	beginEnvRe = regexp.MustCompile(`\\begin\{[a-zA-Z*]+\}`)
	endEnvRe   = regexp.MustCompile(`\\end\{[a-zA-Z*]+\}`)
	spaceRunRe = regexp.MustCompile(`\s+`)
)

// SimplifyLatex strips environment wrappers and converts row and column
// separators into readable punctuation so multi-line constructs survive
// outside their original environment.
func SimplifyLatex(latex string) string {
	s := latex
	s = beginEnvRe.ReplaceAllString(s, "")
	s = endEnvRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\\\\", "; ")
	s = strings.ReplaceAll(s, "&", ", ")
	s = spaceRunRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	return s
}

func textFallback(original string) Artifact {
	return Artifact{
		Kind: ArtifactText,
		Text: fmt.Sprintf("[Formula: %s]", truncate(strings.TrimSpace(original), fallbackTruncateLen)),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
