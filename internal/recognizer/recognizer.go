// Package recognizer is the client for the external formula recognition
// service. It sends a rendered formula or page image and receives symbolic
// notation (LaTeX, simplified LaTeX, MathML, plain text) back.
package recognizer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"doc-translator/internal/logger"
	"doc-translator/internal/types"
)

const (
	// DefaultMaxRetries bounds attempts for one image.
	DefaultMaxRetries = 3
	// DefaultBaseDelay is the exponential backoff base: base * 2^attempt.
	DefaultBaseDelay = 1 * time.Second
	// DefaultBatchDelay is inserted between successive batch requests to
	// respect service rate limits.
	DefaultBatchDelay = 500 * time.Millisecond
	// DefaultRequestTimeout covers a single HTTP round trip.
	DefaultRequestTimeout = 30 * time.Second
	// DefaultBaseURL is the public recognition service endpoint.
	DefaultBaseURL = "https://api.mathpix.com/v3"

	// graphicTextThreshold and graphicSpaceThreshold implement the
	// diagram heuristic: long, word-heavy transcriptions mean the image
	// was a picture, not a formula.
	graphicTextThreshold  = 100
	graphicSpaceThreshold = 10
)

// requestFormats lists the output formats requested from the service.
var requestFormats = []string{"latex_simplified", "latex", "mathml", "text"}

// Client talks to the recognition service. A zero-credential client reports
// itself unavailable and the pipeline skips recognition.
type Client struct {
	appID      string
	appKey     string
	baseURL    string
	httpClient *http.Client

	maxRetries int
	baseDelay  time.Duration
	batchDelay time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy sets the retry count and backoff base.
func WithRetryPolicy(maxRetries int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
	}
}

// WithBatchDelay sets the inter-request delay for batch recognition.
func WithBatchDelay(d time.Duration) Option {
	return func(c *Client) { c.batchDelay = d }
}

// NewClient creates a recognition client. baseURL defaults to the public
// service endpoint when empty.
func NewClient(appID, appKey, baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		appID:      appID,
		appKey:     appKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultRequestTimeout},
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		batchDelay: DefaultBatchDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Available reports whether the client has credentials to call the service.
func (c *Client) Available() bool {
	return c.appID != "" && c.appKey != ""
}

// recognitionRequest is the service request body.
type recognitionRequest struct {
	Src     string   `json:"src"`
	Formats []string `json:"formats"`
	OCR     []string `json:"ocr"`
}

// recognitionResponse covers the reply shapes the service produces. The
// confidence field arrives either as a scalar or as a nested object.
type recognitionResponse struct {
	Latex           string          `json:"latex"`
	LatexSimplified string          `json:"latex_simplified"`
	MathML          string          `json:"mathml"`
	Text            string          `json:"text"`
	Confidence      json.RawMessage `json:"confidence"`
	Error           string          `json:"error"`
}

// RecognizeFile reads an image from disk and recognizes it.
func (c *Client) RecognizeFile(ctx context.Context, imagePath string) (*types.RecognizedFormula, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, types.NewAppErrorWithDetails(types.ErrFileNotFound, "failed to read image", imagePath, err)
	}
	return c.Recognize(ctx, data)
}

// Recognize sends one PNG image to the service and returns the normalized
// result. Transient failures (timeouts, 5xx) are retried with exponential
// backoff; HTTP 429 honors a Retry-After header when present. A malformed or
// empty reply yields an empty result, not an error.
func (c *Client) Recognize(ctx context.Context, imageData []byte) (*types.RecognizedFormula, error) {
	if !c.Available() {
		return nil, types.NewAppError(types.ErrConfig, "recognition credentials not configured", nil)
	}

	body, err := json.Marshal(recognitionRequest{
		Src:     "data:image/png;base64," + base64.StdEncoding.EncodeToString(imageData),
		Formats: requestFormats,
		OCR:     []string{"math"},
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrInternal, "failed to encode recognition request", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			logger.Debug("retrying recognition request",
				logger.Int("attempt", attempt),
				logger.Int("maxRetries", c.maxRetries))
		}

		result, retryAfter, err := c.doRequest(ctx, body)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		if attempt == c.maxRetries-1 {
			break
		}

		delay := c.baseDelay * time.Duration(1<<attempt)
		if retryAfter > 0 {
			delay = retryAfter
		}
		logger.Warn("recognition request failed, backing off",
			logger.Err(err),
			logger.Duration("delay", delay))
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, types.NewAppError(types.ErrRecognition, "recognition cancelled", err)
		}
	}

	logger.Error("recognition failed after retries", lastErr, logger.Int("attempts", c.maxRetries))
	return nil, types.NewAppError(types.ErrRecognition, "recognition failed after retries", lastErr)
}

// doRequest performs one HTTP round trip. The returned duration is the
// server-provided retry delay for 429 replies, zero otherwise.
func (c *Client) doRequest(ctx context.Context, body []byte) (*types.RecognizedFormula, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/text", bytes.NewReader(body))
	if err != nil {
		return nil, 0, types.NewAppError(types.ErrInternal, "failed to build recognition request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("app_id", c.appID)
	req.Header.Set("app_key", c.appKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, types.NewAppError(types.ErrNetwork, "recognition request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, retryAfter, types.NewAppError(types.ErrAPIRateLimit, "recognition service rate limited", nil)
	case resp.StatusCode >= 500:
		return nil, 0, types.NewAppErrorWithDetails(types.ErrAPICall, "recognition service error",
			fmt.Sprintf("status %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, 0, types.NewAppErrorWithDetails(types.ErrRecognition, "recognition request rejected",
			fmt.Sprintf("status %d", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, types.NewAppError(types.ErrNetwork, "failed to read recognition response", err)
	}

	var parsed recognitionResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		// Malformed reply means no symbolic form is available; the
		// formula stays as raw text downstream.
		logger.Warn("malformed recognition response", logger.Err(err), logger.Int("bytes", len(data)))
		return &types.RecognizedFormula{}, 0, nil
	}
	if parsed.Error != "" {
		logger.Warn("recognition service reported error", logger.String("serviceError", parsed.Error))
		return &types.RecognizedFormula{}, 0, nil
	}

	return normalize(parsed), 0, nil
}

// normalize converts a raw service reply into a RecognizedFormula.
func normalize(r recognitionResponse) *types.RecognizedFormula {
	result := &types.RecognizedFormula{
		Latex:           r.Latex,
		LatexSimplified: r.LatexSimplified,
		MathML:          r.MathML,
		Text:            r.Text,
		Confidence:      normalizeConfidence(r.Confidence),
	}
	result.IsGraphic = looksLikeGraphic(r.Text)
	return result
}

// normalizeConfidence accepts either a scalar confidence or a nested object
// with an "overall" field and returns a scalar.
func normalizeConfidence(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var scalar float64
	if err := json.Unmarshal(raw, &scalar); err == nil {
		return scalar
	}
	var nested struct {
		Overall float64 `json:"overall"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil {
		return nested.Overall
	}
	return 0
}

// looksLikeGraphic flags transcriptions that read as prose: the image was a
// diagram or picture, and the page image should be embedded instead of
// symbolic markup.
func looksLikeGraphic(text string) bool {
	return len(text) > graphicTextThreshold &&
		strings.Count(text, " ") > graphicSpaceThreshold
}

// BatchItem is the per-image outcome of a batch run.
type BatchItem struct {
	ImagePath string
	Result    *types.RecognizedFormula
	Err       error
}

// RecognizeBatch processes images sequentially with an inter-request delay.
// A failed item does not abort the remaining ones.
func (c *Client) RecognizeBatch(ctx context.Context, imagePaths []string) []BatchItem {
	items := make([]BatchItem, 0, len(imagePaths))
	for i, path := range imagePaths {
		if i > 0 && c.batchDelay > 0 {
			if err := sleepCtx(ctx, c.batchDelay); err != nil {
				// Cancelled mid-batch: report the rest as cancelled.
				for _, rest := range imagePaths[i:] {
					items = append(items, BatchItem{ImagePath: rest, Err: err})
				}
				return items
			}
		}
		result, err := c.RecognizeFile(ctx, path)
		if err != nil {
			logger.Warn("batch recognition item failed",
				logger.String("image", path),
				logger.Err(err))
		}
		items = append(items, BatchItem{ImagePath: path, Result: result, Err: err})
	}
	return items
}

// isRetryable reports whether the failure is transient.
func isRetryable(err error) bool {
	appErr, ok := err.(*types.AppError)
	if !ok {
		return false
	}
	switch appErr.Code {
	case types.ErrNetwork, types.ErrAPIRateLimit, types.ErrAPICall:
		return true
	}
	return false
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
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
