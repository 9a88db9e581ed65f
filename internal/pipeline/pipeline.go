// Package pipeline runs the full translation of one document: extraction,
// formula detection and masking, recognition, protected translation,
// rendering, and final assembly. Stages execute sequentially; each stage's
// output is the next stage's input. Recoverable stage failures degrade the
// output instead of aborting the run.
package pipeline

import (
	"context"
	"sort"
	"strings"
	"time"

	"doc-translator/internal/detector"
	"doc-translator/internal/docwriter"
	"doc-translator/internal/extractor"
	"doc-translator/internal/logger"
	"doc-translator/internal/mask"
	"doc-translator/internal/recognizer"
	"doc-translator/internal/renderer"
	"doc-translator/internal/translator"
	"doc-translator/internal/types"
)

// Request describes one document translation run.
type Request struct {
	InputPath  string
	SourceLang string
	TargetLang string
	Style      types.TranslationStyle
	// EnableRecognition turns on the external formula recognition stage.
	// It is skipped automatically when the client has no credentials.
	EnableRecognition bool
	// PlainText skips bitmap rendering: placeholders are unmasked back to
	// recognized or original notation as literal text. Useful when no TeX
	// toolchain is installed.
	PlainText bool
}

// Pipeline wires the stage collaborators for sequential execution. Each run
// owns its own placeholder table; a Pipeline itself holds no per-run state
// and may be reused across documents.
type Pipeline struct {
	extractor  *extractor.Extractor
	recognizer *recognizer.Client
	translator *translator.Orchestrator
	renderer   *renderer.Renderer
	writer     *docwriter.Writer
}

// New assembles a Pipeline. The recognizer may be nil when recognition is
// not configured.
func New(ext *extractor.Extractor, rec *recognizer.Client, tr *translator.Orchestrator, rend *renderer.Renderer, w *docwriter.Writer) *Pipeline {
	return &Pipeline{
		extractor:  ext,
		recognizer: rec,
		translator: tr,
		renderer:   rend,
		writer:     w,
	}
}

// Run executes the pipeline for one document. Failures are returned as a
// structured result with Success=false; Run itself never panics across
// stage boundaries.
func (p *Pipeline) Run(ctx context.Context, req Request) *types.PipelineResult {
	result := &types.PipelineResult{StartedAt: time.Now()}
	defer func() { result.FinishedAt = time.Now() }()

	doc, err := p.extractor.Extract(ctx, req.InputPath)
	if err != nil {
		return fail(result, err)
	}
	result.PageCount = doc.PageCount

	spans := detector.Detect(doc.Text)
	result.DetectedFormulas = len(spans)
	logger.Info("formula spans detected", logger.Int("count", len(spans)))

	table := mask.NewTable()
	maskedText := table.Mask(doc.Text, spans)

	var graphicPages []int
	if req.EnableRecognition {
		graphicPages = p.recognize(ctx, doc, table, result)
	}
	if err := ctx.Err(); err != nil {
		return fail(result, err)
	}

	translation, err := p.translator.Translate(ctx, maskedText, table, translator.Request{
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
		Style:      req.Style,
	})
	if err != nil {
		return fail(result, err)
	}
	result.TokensUsed = translation.TokensUsed
	result.LostPlaceholders = len(translation.LostPlaceholders)

	body := translation.TranslatedText
	for _, page := range graphicPages {
		body += "\n\n" + mask.PageToken(page)
	}

	var artifacts map[string]renderer.Artifact
	if req.PlainText {
		body = table.Unmask(body, textRestorer).Text
	} else {
		artifacts = p.renderer.RenderAll(ctx, tablePayloads(table))
	}

	outputPath, err := p.writer.Write(req.InputPath, body, artifacts, doc.PageImages)
	if err != nil {
		return fail(result, err)
	}

	result.OutputPath = outputPath
	result.Success = true
	logger.Info("pipeline run complete",
		logger.String("output", outputPath),
		logger.Int("formulas", result.DetectedFormulas),
		logger.Int("lost", result.LostPlaceholders),
		logger.Duration("elapsed", time.Since(result.StartedAt)))
	return result
}

// recognize runs the recognition client over the rasterized pages, attaches
// recognized notation to matching payloads, and returns the pages classified
// as graphics. Recognition failures degrade to raw formula text.
func (p *Pipeline) recognize(ctx context.Context, doc *extractor.Document, table *mask.Table, result *types.PipelineResult) []int {
	if p.recognizer == nil || !p.recognizer.Available() {
		logger.Info("recognition skipped: no credentials configured")
		return nil
	}
	if len(doc.PageImages) == 0 {
		logger.Info("recognition skipped: no page images")
		return nil
	}

	pages := make([]int, 0, len(doc.PageImages))
	for page := range doc.PageImages {
		pages = append(pages, page)
	}
	sort.Ints(pages)

	paths := make([]string, len(pages))
	for i, page := range pages {
		paths[i] = doc.PageImages[page]
	}

	var graphicPages []int
	for i, item := range p.recognizer.RecognizeBatch(ctx, paths) {
		page := pages[i]
		if item.Err != nil {
			logger.Warn("page recognition failed",
				logger.Int("page", page), logger.Err(item.Err))
			continue
		}
		if item.Result.Empty() {
			continue
		}
		if item.Result.IsGraphic {
			graphicPages = append(graphicPages, page)
			continue
		}
		matched := attachRecognition(table, item.Result)
		result.RecognizedFormulas += matched
		logger.Debug("page recognized",
			logger.Int("page", page),
			logger.Int("matchedPayloads", matched),
			logger.Float64("confidence", item.Result.Confidence))
	}
	return graphicPages
}

// attachRecognition links a page-level recognition result to the payloads
// whose original notation appears in it. Matching compares text with
// whitespace and math punctuation stripped; a page recognition may cover
// several formulas.
func attachRecognition(table *mask.Table, rec *types.RecognizedFormula) int {
	haystack := normalizeNotation(rec.Latex + " " + rec.LatexSimplified + " " + rec.Text)
	if haystack == "" {
		return 0
	}

	matched := 0
	for _, token := range table.Tokens() {
		payload, ok := table.Payload(token)
		if !ok || payload.Recognized != nil {
			continue
		}
		needle := normalizeNotation(payload.OriginalText)
		if needle == "" {
			continue
		}
		if strings.Contains(haystack, needle) {
			table.SetRecognized(token, rec)
			matched++
		}
	}
	return matched
}

// normalizeNotation strips whitespace and delimiter noise so that e.g.
// "\[E = mc^2\]" matches a recognized "E=mc^{2}".
func normalizeNotation(s string) string {
	replacer := strings.NewReplacer(
		" ", "", "\t", "", "\n", "",
		"$", "", "{", "", "}", "",
		"\\[", "", "\\]", "", "\\(", "", "\\)", "",
	)
	return replacer.Replace(s)
}

// textRestorer substitutes the best literal notation for a payload in
// plain-text mode: simplified recognized LaTeX, then full LaTeX, then the
// original span.
func textRestorer(_ string, payload *types.ProtectedPayload) string {
	if rec := payload.Recognized; rec != nil {
		if rec.LatexSimplified != "" {
			return rec.LatexSimplified
		}
		if rec.Latex != "" {
			return rec.Latex
		}
	}
	return payload.OriginalText
}

func tablePayloads(table *mask.Table) map[string]*types.ProtectedPayload {
	payloads := make(map[string]*types.ProtectedPayload, table.Len())
	for _, token := range table.Tokens() {
		if payload, ok := table.Payload(token); ok {
			payloads[token] = payload
		}
	}
	return payloads
}

func fail(result *types.PipelineResult, err error) *types.PipelineResult {
	result.Success = false
	result.Error = err.Error()
	logger.Error("pipeline run failed", err)
	return result
}
