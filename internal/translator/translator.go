// Package translator orchestrates protected translation: it sends masked
// text to the language model, validates that every placeholder token
// survived the round trip, retries with a stricter instruction on total
// loss, and chunks oversized inputs on paragraph boundaries.
package translator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"doc-translator/internal/glossary"
	"doc-translator/internal/logger"
	"doc-translator/internal/mask"
	"doc-translator/internal/types"
)

const (
	// MaxRetries is the maximum number of attempts for a transient API error.
	MaxRetries = 2
	// BaseRetryDelay is the base delay between retries; attempt n waits n*base.
	BaseRetryDelay = 2 * time.Second

	// DefaultTemperature keeps translations stable across runs.
	DefaultTemperature float32 = 0.3
	// strictTemperature is used on the escalated retry after total
	// placeholder loss.
	strictTemperature float32 = 0.1

	// approxCharsPerToken converts text length to a rough token estimate.
	approxCharsPerToken = 4
	// promptOverheadTokens accounts for the system instruction and message
	// framing when estimating request size.
	promptOverheadTokens = 600
)

// ChatModel is the slice of the eino chat model the orchestrator needs.
// *openai.ChatModel satisfies it; tests substitute a stub.
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Request describes one translation job.
type Request struct {
	// SourceLang and TargetLang are BCP 47 tags ("en", "zh", "de").
	SourceLang string
	TargetLang string
	Style      types.TranslationStyle
}

// Orchestrator drives protected translation for one or more documents.
type Orchestrator struct {
	chatModel     ChatModel
	glossary      *glossary.Manager
	contextWindow int
	repairRetries int
	maxRetries    int
	baseDelay     time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithGlossary attaches a glossary manager used to enrich prompts.
func WithGlossary(m *glossary.Manager) Option {
	return func(o *Orchestrator) { o.glossary = m }
}

// WithContextWindow sets the token budget for a single request.
func WithContextWindow(tokens int) Option {
	return func(o *Orchestrator) { o.contextWindow = tokens }
}

// WithRepairRetries sets how many escalated retries run after total
// placeholder loss.
func WithRepairRetries(n int) Option {
	return func(o *Orchestrator) { o.repairRetries = n }
}

// WithRetryPolicy sets the transient-error retry count and base delay.
func WithRetryPolicy(maxRetries int, baseDelay time.Duration) Option {
	return func(o *Orchestrator) {
		o.maxRetries = maxRetries
		o.baseDelay = baseDelay
	}
}

// New creates an orchestrator around an existing chat model.
func New(cm ChatModel, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		chatModel:     cm,
		glossary:      glossary.NewManager(),
		contextWindow: 8192,
		repairRetries: 1,
		maxRetries:    MaxRetries,
		baseDelay:     BaseRetryDelay,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewOpenAI creates an orchestrator backed by an OpenAI-compatible endpoint.
func NewOpenAI(ctx context.Context, apiKey, baseURL, modelName string, opts ...Option) (*Orchestrator, error) {
	if apiKey == "" {
		return nil, types.NewAppError(types.ErrConfig, "OpenAI API key is not configured", nil)
	}
	cfg := &openai.ChatModelConfig{
		Model:  modelName,
		APIKey: apiKey,
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cm, err := openai.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, types.NewAppError(types.ErrConfig, "failed to create chat model", err)
	}
	return New(cm, opts...), nil
}

// Translate sends maskedText through the model and guarantees either full
// placeholder preservation or a clearly reported degradation. The table must
// be the one that produced the masked text.
func (o *Orchestrator) Translate(ctx context.Context, maskedText string, table *mask.Table, req Request) (*types.TranslationResult, error) {
	if strings.TrimSpace(maskedText) == "" {
		return &types.TranslationResult{OriginalText: maskedText, TranslatedText: maskedText}, nil
	}

	allTokens := table.ContainedTokens(maskedText)
	glossaryText := o.glossaryExcerpt(maskedText, req.SourceLang, glossary.DefaultMaxTerms)

	// Shrink glossary context before considering a split.
	budget := o.contextWindow
	maxTerms := glossary.DefaultMaxTerms
	for estimateTokens(maskedText)+estimateTokens(glossaryText)+promptOverheadTokens > budget && glossaryText != "" {
		maxTerms /= 2
		if maxTerms == 0 {
			glossaryText = ""
			break
		}
		glossaryText = o.glossaryExcerpt(maskedText, req.SourceLang, maxTerms)
	}

	result := &types.TranslationResult{
		OriginalText:   maskedText,
		PlaceholdersIn: len(allTokens),
	}

	var chunks []string
	if estimateTokens(maskedText)+estimateTokens(glossaryText)+promptOverheadTokens <= budget {
		chunks = []string{maskedText}
	} else {
		maxChunkChars := (budget - promptOverheadTokens - estimateTokens(glossaryText)) * approxCharsPerToken / 2
		chunks = splitIntoChunks(maskedText, maxChunkChars)
		logger.Info("masked text exceeds context window, chunking",
			logger.Int("chunks", len(chunks)),
			logger.Int("textLength", len(maskedText)),
			logger.Int("contextWindow", budget))
	}
	result.Chunks = len(chunks)

	var out strings.Builder
	for i, chunk := range chunks {
		chunkTokens := table.ContainedTokens(chunk)
		translated, used, lost, err := o.translateUnit(ctx, chunk, chunkTokens, glossaryText, req)
		if err != nil {
			return nil, err
		}
		result.TokensUsed += used
		result.LostPlaceholders = append(result.LostPlaceholders, lost...)
		if i > 0 {
			out.WriteString("\n\n")
		}
		out.WriteString(translated)
	}

	result.TranslatedText = out.String()
	result.PlaceholdersOut = result.PlaceholdersIn - len(result.LostPlaceholders)

	logger.Info("translation finished",
		logger.Int("chunks", result.Chunks),
		logger.Int("placeholdersIn", result.PlaceholdersIn),
		logger.Int("placeholdersOut", result.PlaceholdersOut),
		logger.Int("tokensUsed", result.TokensUsed))
	return result, nil
}

// translateUnit translates one chunk and enforces the placeholder invariant:
// all tokens present is success; total loss triggers escalated strict
// retries; partial loss is logged and accepted.
func (o *Orchestrator) translateUnit(ctx context.Context, text string, tokens []string, glossaryText string, req Request) (string, int, []string, error) {
	sysPrompt := buildSystemPrompt(req, tokens, glossaryText, false)
	userPrompt := buildUserPrompt(text, len(tokens))

	translated, used, err := o.callWithRetry(ctx, sysPrompt, userPrompt, DefaultTemperature)
	if err != nil {
		if !isQuotaError(err) {
			return "", 0, nil, err
		}
		// Quota or rate-limit pressure: shrink context and try once more
		// before surfacing a translation-stage error.
		logger.Warn("quota pressure, retrying with reduced context", logger.Err(err))
		slim := buildSystemPrompt(req, tokens, "", true)
		translated, used, err = o.callWithRetry(ctx, slim, userPrompt, DefaultTemperature)
		if err != nil {
			return "", 0, nil, types.NewAppError(types.ErrTranslation, "translation failed after context shrink", err)
		}
	}

	missing := missingTokens(translated, tokens)
	totalUsed := used

	if len(tokens) > 0 && len(missing) == len(tokens) {
		// Total loss: the model rewrote or dropped every placeholder.
		logger.Warn("all placeholders lost, escalating with strict instruction",
			logger.Int("placeholders", len(tokens)))
		strictSys := buildSystemPrompt(req, tokens, glossaryText, true)
		for attempt := 0; attempt < o.repairRetries; attempt++ {
			retry, retryUsed, retryErr := o.callWithRetry(ctx, strictSys, userPrompt, strictTemperature)
			if retryErr != nil {
				logger.Warn("strict retry failed", logger.Err(retryErr), logger.Int("attempt", attempt+1))
				break
			}
			totalUsed += retryUsed
			retryMissing := missingTokens(retry, tokens)
			if len(retryMissing) < len(missing) {
				translated, missing = retry, retryMissing
			}
			if len(missing) == 0 {
				break
			}
		}
	}

	if len(missing) > 0 {
		// Partial degradation is recoverable; a page is not blocked by a
		// handful of dropped formulas.
		logger.Warn("placeholders missing from translation",
			logger.Int("missing", len(missing)),
			logger.Int("total", len(tokens)),
			logger.String("tokens", strings.Join(missing, ", ")))
	}

	return translated, totalUsed, missing, nil
}

// callWithRetry performs one model call with transient-error retries.
func (o *Orchestrator) callWithRetry(ctx context.Context, sysPrompt, userPrompt string, temperature float32) (string, int, error) {
	var lastErr error
	for attempt := 1; attempt <= o.maxRetries; attempt++ {
		logger.Debug("translation attempt", logger.Int("attempt", attempt))
		translated, used, err := o.doCall(ctx, sysPrompt, userPrompt, temperature)
		if err == nil {
			return translated, used, nil
		}
		lastErr = err
		logger.Warn("translation attempt failed", logger.Int("attempt", attempt), logger.Err(err))

		if !isRetryableModelError(err) {
			return "", 0, err
		}
		if attempt < o.maxRetries {
			delay := o.baseDelay * time.Duration(attempt)
			if sleepErr := sleepCtx(ctx, delay); sleepErr != nil {
				return "", 0, types.NewAppError(types.ErrTranslation, "translation cancelled", sleepErr)
			}
		}
	}

	logger.Error("translation failed after all retries", lastErr, logger.Int("maxRetries", o.maxRetries))
	return "", 0, types.NewAppErrorWithDetails(
		types.ErrAPICall,
		"translation failed after multiple retries",
		fmt.Sprintf("attempted %d times", o.maxRetries),
		lastErr,
	)
}

// doCall performs the actual model invocation.
func (o *Orchestrator) doCall(ctx context.Context, sysPrompt, userPrompt string, temperature float32) (string, int, error) {
	resp, err := o.chatModel.Generate(ctx, []*schema.Message{
		schema.SystemMessage(sysPrompt),
		schema.UserMessage(userPrompt),
	}, model.WithTemperature(temperature))
	if err != nil {
		return "", 0, classifyModelError(err)
	}
	if resp == nil || resp.Content == "" {
		return "", 0, types.NewAppError(types.ErrAPICall, "model returned empty response", nil)
	}

	used := 0
	if resp.ResponseMeta != nil && resp.ResponseMeta.Usage != nil {
		used = resp.ResponseMeta.Usage.TotalTokens
	}
	return cleanModelOutput(resp.Content), used, nil
}

// glossaryExcerpt renders the glossary lines relevant to text.
func (o *Orchestrator) glossaryExcerpt(text, sourceLang string, maxTerms int) string {
	if o.glossary == nil || o.glossary.Len() == 0 {
		return ""
	}
	return glossary.FormatPrompt(o.glossary.RelevantTerms(text, sourceLang, maxTerms))
}

// estimateTokens gives a rough token count for request sizing.
func estimateTokens(s string) int {
	if s == "" {
		return 0
	}
	return len(s)/approxCharsPerToken + 1
}

// missingTokens returns the subset of tokens absent from text.
func missingTokens(text string, tokens []string) []string {
	var missing []string
	for _, tok := range tokens {
		if !strings.Contains(text, tok) {
			missing = append(missing, tok)
		}
	}
	return missing
}

// splitIntoChunks splits masked text on paragraph boundaries so that each
// chunk stays under maxChars. Placeholder tokens never contain blank lines,
// so a paragraph split can never cut through one. A single oversized
// paragraph falls back to line boundaries.
func splitIntoChunks(text string, maxChars int) []string {
	if maxChars <= 0 || len(text) <= maxChars {
		return []string{text}
	}

	paragraphs := strings.Split(text, "\n\n")
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, para := range paragraphs {
		if len(para) > maxChars {
			flush()
			chunks = append(chunks, splitByLines(para, maxChars)...)
			continue
		}
		if current.Len() > 0 && current.Len()+len(para)+2 > maxChars {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	if len(chunks) == 0 {
		return []string{text}
	}
	return chunks
}

// splitByLines splits an oversized paragraph on line boundaries. A single
// line longer than maxChars is kept whole rather than cut mid-token.
func splitByLines(para string, maxChars int) []string {
	lines := strings.Split(para, "\n")
	var chunks []string
	var current strings.Builder

	for _, line := range lines {
		if current.Len() > 0 && current.Len()+len(line)+1 > maxChars {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	if len(chunks) == 0 {
		return []string{para}
	}
	return chunks
}

// cleanModelOutput strips markdown code fences some models wrap around the
// translation.
func cleanModelOutput(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "```") {
		if idx := strings.Index(trimmed, "\n"); idx != -1 {
			trimmed = trimmed[idx+1:]
		}
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		return strings.TrimSpace(trimmed)
	}
	return s
}

// classifyModelError maps raw model errors onto the application taxonomy so
// retry decisions are uniform.
func classifyModelError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota"):
		return types.NewAppError(types.ErrAPIRateLimit, "translation model rate limited", err)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "connection") ||
		strings.Contains(msg, "eof") || strings.Contains(msg, "temporarily unavailable"):
		return types.NewAppError(types.ErrNetwork, "translation model unreachable", err)
	case strings.Contains(msg, "status 5") || strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") || strings.Contains(msg, "503"):
		return types.NewAppErrorWithDetails(types.ErrAPICall, "translation model server error", "status 5xx", err)
	default:
		return types.NewAppError(types.ErrAPICall, "translation model call failed", err)
	}
}

// isRetryableModelError reports whether a retry can help.
func isRetryableModelError(err error) bool {
	appErr, ok := err.(*types.AppError)
	if !ok {
		return false
	}
	switch appErr.Code {
	case types.ErrNetwork, types.ErrAPIRateLimit:
		return true
	case types.ErrAPICall:
		return strings.Contains(appErr.Details, "status 5")
	}
	return false
}

// isQuotaError reports rate-limit or quota pressure that context shrinking
// might relieve.
func isQuotaError(err error) bool {
	for e := err; e != nil; {
		appErr, ok := e.(*types.AppError)
		if !ok {
			return false
		}
		if appErr.Code == types.ErrAPIRateLimit {
			return true
		}
		e = appErr.Cause
	}
	return false
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
