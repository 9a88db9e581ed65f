// Package fetch downloads remote source documents into the work directory so
// the pipeline can treat URL inputs the same as local files.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"doc-translator/internal/logger"
	"doc-translator/internal/types"
)

const (
	// DefaultTimeout bounds one download attempt. Large scanned PDFs can
	// take a while on slow links.
	DefaultTimeout = 300 * time.Second
	// MaxRetries is the retry budget for network errors.
	MaxRetries = 3
	// BaseRetryDelay is multiplied by the attempt number between retries.
	BaseRetryDelay = 2 * time.Second
)

// Fetcher downloads documents over HTTP into a work directory.
type Fetcher struct {
	httpClient *http.Client
	workDir    string
	retryDelay time.Duration
}

// New creates a Fetcher saving downloads under workDir.
func New(workDir string) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return types.NewAppError(types.ErrNetwork, "too many redirects", nil)
				}
				return nil
			},
		},
		workDir:    workDir,
		retryDelay: BaseRetryDelay,
	}
}

// WithHTTPClient 替换 HTTP 客户端，测试用。
func (f *Fetcher) WithHTTPClient(client *http.Client) *Fetcher {
	f.httpClient = client
	return f
}

// Fetch downloads the document at url and returns the local path it was
// saved to.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	logger.Info("fetching document", logger.String("url", url))

	if url == "" {
		return "", types.NewAppError(types.ErrInvalidInput, "URL cannot be empty", nil)
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", types.NewAppError(types.ErrInvalidInput, "invalid URL: must start with http:// or https://", nil)
	}

	if err := os.MkdirAll(f.workDir, 0755); err != nil {
		return "", types.NewAppError(types.ErrInternal, "failed to create work directory", err)
	}

	destPath := filepath.Join(f.workDir, filenameFromURL(url))
	if err := f.fetchWithRetry(ctx, url, destPath); err != nil {
		return "", err
	}

	logger.Info("document fetched", logger.String("path", destPath))
	return destPath, nil
}

// fetchWithRetry retries network failures with a growing delay.
func (f *Fetcher) fetchWithRetry(ctx context.Context, url, destPath string) error {
	var lastErr error

	for attempt := 1; attempt <= MaxRetries; attempt++ {
		err := f.download(ctx, url, destPath)
		if err == nil {
			return nil
		}
		lastErr = err
		logger.Warn("download attempt failed", logger.Int("attempt", attempt), logger.Err(err))

		if !isRetryable(err) {
			return err
		}
		if attempt < MaxRetries {
			select {
			case <-time.After(f.retryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return types.NewAppErrorWithDetails(
		types.ErrNetwork,
		"download failed after multiple retries",
		fmt.Sprintf("attempted %d times", MaxRetries),
		lastErr,
	)
}

func (f *Fetcher) download(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.NewAppError(types.ErrInternal, "failed to create HTTP request", err)
	}
	req.Header.Set("User-Agent", "doc-translator/1.0")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return types.NewAppError(types.ErrNetwork, "network request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, url)
	}

	file, err := os.Create(destPath)
	if err != nil {
		return types.NewAppError(types.ErrInternal, "failed to create destination file", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		os.Remove(destPath)
		return types.NewAppError(types.ErrNetwork, "failed to save downloaded content", err)
	}
	return nil
}

// filenameFromURL derives a local file name from the URL's last path
// segment, stripping any query string.
func filenameFromURL(url string) string {
	trimmed := url
	if idx := strings.IndexByte(trimmed, '?'); idx != -1 {
		trimmed = trimmed[:idx]
	}
	parts := strings.Split(strings.TrimRight(trimmed, "/"), "/")
	name := parts[len(parts)-1]
	if name == "" || !strings.Contains(name, ".") {
		return "download.pdf"
	}
	return name
}

func statusError(statusCode int, url string) error {
	switch statusCode {
	case http.StatusNotFound:
		return types.NewAppErrorWithDetails(types.ErrFileNotFound,
			"remote document not found", fmt.Sprintf("URL: %s returned 404", url), nil)
	case http.StatusTooManyRequests:
		return types.NewAppErrorWithDetails(types.ErrAPIRateLimit,
			"rate limit exceeded", "too many requests, please try again later", nil)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return types.NewAppErrorWithDetails(types.ErrNetwork,
			"server error", fmt.Sprintf("URL: %s returned %d", url, statusCode), nil)
	default:
		return types.NewAppErrorWithDetails(types.ErrInvalidInput,
			"download failed", fmt.Sprintf("URL: %s returned status %d", url, statusCode), nil)
	}
}

// isRetryable reports whether a failed attempt is worth repeating. Network
// and rate-limit errors are; everything else is deterministic.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if appErr, ok := err.(*types.AppError); ok {
		switch appErr.Code {
		case types.ErrNetwork, types.ErrAPIRateLimit:
			return true
		default:
			return false
		}
	}
	return true
}
