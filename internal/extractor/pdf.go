package extractor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"doc-translator/internal/logger"
	"doc-translator/internal/types"
)

// extractPDF reads the plain text, counts pages, and rasterizes each page to
// PNG for the recognition stage.
func (e *Extractor) extractPDF(ctx context.Context, path string) (*Document, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, types.NewAppErrorWithDetails(types.ErrExtract, "failed to open PDF", path, err)
	}
	defer f.Close()

	textReader, err := reader.GetPlainText()
	if err != nil {
		return nil, types.NewAppError(types.ErrExtract, "failed to extract PDF text", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(textReader); err != nil {
		return nil, types.NewAppError(types.ErrExtract, "failed to read PDF text", err)
	}

	pageCount, err := api.PageCountFile(path)
	if err != nil {
		logger.Warn("page count unavailable, falling back to reader", logger.Err(err))
		pageCount = reader.NumPage()
	}

	doc := &Document{
		Text:       buf.String(),
		PageImages: map[int]string{},
		PageCount:  pageCount,
	}

	if e.RasterizePages {
		images, err := e.rasterize(ctx, path, pageCount)
		if err != nil {
			// Text-only extraction still lets translation proceed; only
			// formula recognition degrades.
			logger.Warn("page rasterization unavailable", logger.Err(err))
		} else {
			doc.PageImages = images
		}
	}

	logger.Info("PDF extracted",
		logger.Int("pages", pageCount),
		logger.Int("textLength", len(doc.Text)),
		logger.Int("pageImages", len(doc.PageImages)))
	return doc, nil
}

// rasterize renders every page to a PNG file via pdftoppm and returns the
// page-number-to-path map.
func (e *Extractor) rasterize(ctx context.Context, path string, pageCount int) (map[int]string, error) {
	if !popplerAvailable() {
		return nil, types.NewAppError(types.ErrExtract, "poppler-utils (pdftoppm) not installed", nil)
	}

	dir := e.WorkDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "doctrans_pages_*")
		if err != nil {
			return nil, types.NewAppError(types.ErrExtract, "failed to create temp dir", err)
		}
		dir = tmp
	}

	dpi := e.DPI
	if dpi <= 0 {
		dpi = 150
	}

	images := make(map[int]string, pageCount)
	for page := 1; page <= pageCount; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prefix := filepath.Join(dir, fmt.Sprintf("page_%d", page))
		args := []string{
			"-f", fmt.Sprintf("%d", page),
			"-l", fmt.Sprintf("%d", page),
			"-png",
			"-r", fmt.Sprintf("%d", dpi),
			"-singlefile",
			path,
			prefix,
		}
		cmd := exec.CommandContext(ctx, "pdftoppm", args...)
		if output, err := cmd.CombinedOutput(); err != nil {
			return nil, types.NewAppErrorWithDetails(types.ErrExtract,
				"pdftoppm failed", string(output), err)
		}
		images[page] = prefix + ".png"
	}
	return images, nil
}

// popplerAvailable reports whether pdftoppm is on PATH.
func popplerAvailable() bool {
	_, err := exec.LookPath("pdftoppm")
	return err == nil
}
