// Package extractor pulls raw text and page images out of input documents.
// The pipeline treats the extracted document as opaque input: text plus a
// page-number-to-image map.
package extractor

import (
	"context"
	"path/filepath"
	"strings"

	"doc-translator/internal/logger"
	"doc-translator/internal/types"
)

// Document is the extraction result consumed by the pipeline.
type Document struct {
	// Text is the full extracted text in reading order.
	Text string
	// PageImages maps 1-based page numbers to rasterized PNG paths.
	// Empty for formats without page geometry (DOCX, TXT).
	PageImages map[int]string
	// PageCount is the number of pages, or 1 when the format has none.
	PageCount int
	// Metadata carries incidental facts about the source, such as the
	// detected text encoding or the original format.
	Metadata map[string]string
}

// Extractor turns an input file into a Document.
type Extractor struct {
	// WorkDir receives temporary page images. Empty means a fresh
	// os.MkdirTemp directory per document.
	WorkDir string
	// RasterizePages controls whether PDF pages are rendered to PNG for
	// the recognition stage. Without poppler-utils installed this
	// degrades to text-only extraction.
	RasterizePages bool
	// DPI used for page rasterization.
	DPI int
}

// New creates an extractor with rasterization enabled at 150 DPI.
func New(workDir string) *Extractor {
	return &Extractor{WorkDir: workDir, RasterizePages: true, DPI: 150}
}

// Extract dispatches on the file extension.
func (e *Extractor) Extract(ctx context.Context, path string) (*Document, error) {
	ext := strings.ToLower(filepath.Ext(path))
	logger.Info("extracting document", logger.String("path", path), logger.String("format", ext))

	var (
		doc *Document
		err error
	)
	switch ext {
	case ".pdf":
		doc, err = e.extractPDF(ctx, path)
	case ".docx":
		doc, err = e.extractDOCX(path)
	case ".txt", ".md", ".markdown", "":
		doc, err = e.extractText(path)
	default:
		return nil, types.NewAppErrorWithDetails(types.ErrInvalidInput,
			"unsupported document format", ext, nil)
	}
	if err != nil {
		return nil, err
	}

	if doc.PageCount == 0 {
		doc.PageCount = 1
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]string{}
	}
	doc.Metadata["format"] = strings.TrimPrefix(ext, ".")
	return doc, nil
}
