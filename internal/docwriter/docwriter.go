// Package docwriter assembles the final Markdown document from translated
// text that still contains formula and page placeholders, resolving each
// against the rendered artifact map.
package docwriter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"doc-translator/internal/logger"
	"doc-translator/internal/mask"
	"doc-translator/internal/renderer"
	"doc-translator/internal/types"
)

var pageTokenRe = regexp.MustCompile(`__IMAGE_PAGE_(\d+)__`)

// Writer emits Markdown documents with copied image assets into OutputDir.
type Writer struct {
	outputDir string
}

// New creates a Writer targeting outputDir.
func New(outputDir string) *Writer {
	return &Writer{outputDir: outputDir}
}

// Write resolves every placeholder in text and writes the Markdown document.
// sourceName is the original document name used to derive the output file
// name; artifacts maps formula tokens to rendered artifacts; pageImages maps
// page numbers to rasterized page files. Returns the output path.
func (w *Writer) Write(sourceName, text string, artifacts map[string]renderer.Artifact, pageImages map[int]string) (string, error) {
	if err := os.MkdirAll(w.outputDir, 0755); err != nil {
		return "", types.NewAppError(types.ErrRender, "failed to create output directory", err)
	}

	base := strings.TrimSuffix(filepath.Base(sourceName), filepath.Ext(sourceName))
	if base == "" || base == "." {
		base = "document"
	}
	stamp := time.Now().Format("20060102_150405")
	docName := fmt.Sprintf("%s_translated_%s_%s", base, stamp, uuid.New().String()[:8])
	assetsDir := docName + "_assets"

	body := w.resolveFormulaTokens(text, artifacts, assetsDir)
	body = w.resolvePageTokens(body, pageImages, assetsDir)

	outputPath := filepath.Join(w.outputDir, docName+".md")
	if err := os.WriteFile(outputPath, []byte(body), 0644); err != nil {
		return "", types.NewAppError(types.ErrRender, "failed to write output document", err)
	}

	logger.Info("document written",
		logger.String("path", outputPath),
		logger.Int("artifacts", len(artifacts)))
	return outputPath, nil
}

// resolveFormulaTokens replaces each <<<FORMULA_N>>> token with its
// artifact's Markdown form. Tokens with no artifact are left in place and
// logged; silently dropping them would hide a lost formula.
func (w *Writer) resolveFormulaTokens(text string, artifacts map[string]renderer.Artifact, assetsDir string) string {
	for _, token := range mask.TokensIn(text) {
		art, ok := artifacts[token]
		if !ok {
			logger.Warn("no artifact for placeholder", logger.String("token", token))
			continue
		}
		replacement, err := w.artifactMarkdown(art, assetsDir)
		if err != nil {
			logger.Warn("artifact unusable, keeping placeholder",
				logger.String("token", token), logger.Err(err))
			continue
		}
		text = strings.ReplaceAll(text, token, replacement)
	}
	return text
}

// artifactMarkdown converts one artifact to its Markdown representation,
// copying image files into the assets directory.
func (w *Writer) artifactMarkdown(art renderer.Artifact, assetsDir string) (string, error) {
	switch art.Kind {
	case renderer.ArtifactImage:
		rel, err := w.copyAsset(art.Path, assetsDir)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("![formula](%s)", rel), nil
	case renderer.ArtifactMarkup:
		return art.Markup, nil
	case renderer.ArtifactText:
		return art.Text, nil
	default:
		return "", fmt.Errorf("unexpected artifact kind %q", art.Kind)
	}
}

// resolvePageTokens replaces __IMAGE_PAGE_N__ tokens with the copied page
// image, or a bracketed note when the page was never rasterized.
func (w *Writer) resolvePageTokens(text string, pageImages map[int]string, assetsDir string) string {
	return pageTokenRe.ReplaceAllStringFunc(text, func(token string) string {
		page, err := strconv.Atoi(pageTokenRe.FindStringSubmatch(token)[1])
		if err != nil {
			return token
		}
		src, ok := pageImages[page]
		if !ok {
			logger.Warn("no rasterized image for page", logger.Int("page", page))
			return fmt.Sprintf("[Page %d image unavailable]", page)
		}
		rel, err := w.copyAsset(src, assetsDir)
		if err != nil {
			logger.Warn("failed to copy page image", logger.Int("page", page), logger.Err(err))
			return fmt.Sprintf("[Page %d image unavailable]", page)
		}
		return fmt.Sprintf("![page %d](%s)", page, rel)
	})
}

// copyAsset copies src into the document's assets directory and returns the
// path relative to the output document.
func (w *Writer) copyAsset(src, assetsDir string) (string, error) {
	dir := filepath.Join(w.outputDir, assetsDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	dst := filepath.Join(dir, filepath.Base(src))
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return "", err
	}
	return filepath.ToSlash(filepath.Join(assetsDir, filepath.Base(src))), nil
}
