package recognizer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"doc-translator/internal/types"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-id", "test-key", srv.URL,
		WithRetryPolicy(3, time.Millisecond),
		WithBatchDelay(0))
}

func TestAvailable(t *testing.T) {
	if NewClient("", "", "").Available() {
		t.Error("client without credentials reports available")
	}
	if !NewClient("id", "key", "").Available() {
		t.Error("client with credentials reports unavailable")
	}
}

func TestRecognizeWithoutCredentials(t *testing.T) {
	_, err := NewClient("", "", "").Recognize(context.Background(), []byte("png"))
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrConfig {
		t.Errorf("err = %v, want CONFIG_ERROR", err)
	}
}

func TestRecognizeSuccess(t *testing.T) {
	var gotReq recognitionRequest
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("app_id") != "test-id" || r.Header.Get("app_key") != "test-key" {
			t.Errorf("credentials headers missing")
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"latex":            `E = mc^{2}`,
			"latex_simplified": `E = mc^2`,
			"text":             `E = mc^2`,
			"confidence":       0.97,
		})
	})

	result, err := c.Recognize(context.Background(), []byte("fake-png"))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if result.Latex != `E = mc^{2}` || result.LatexSimplified != `E = mc^2` {
		t.Errorf("result = %+v", result)
	}
	if result.Confidence != 0.97 {
		t.Errorf("Confidence = %v, want 0.97", result.Confidence)
	}
	if result.IsGraphic {
		t.Error("short formula flagged as graphic")
	}

	if !strings.HasPrefix(gotReq.Src, "data:image/png;base64,") {
		t.Errorf("Src = %q, want base64 data URI", gotReq.Src)
	}
	if len(gotReq.Formats) != 4 || gotReq.Formats[0] != "latex_simplified" {
		t.Errorf("Formats = %v", gotReq.Formats)
	}
	if len(gotReq.OCR) != 1 || gotReq.OCR[0] != "math" {
		t.Errorf("OCR = %v", gotReq.OCR)
	}
}

func TestRecognizeRetriesTransientFailures(t *testing.T) {
	// Two 500s, then success, within the retry budget of 3.
	var calls int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"latex": "x+1"})
	})

	result, err := c.Recognize(context.Background(), []byte("png"))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if result.Latex != "x+1" {
		t.Errorf("Latex = %q", result.Latex)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestRecognizeExhaustsRetryBudget(t *testing.T) {
	var calls int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.Recognize(context.Background(), []byte("png"))
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrRecognition {
		t.Fatalf("err = %v, want RECOGNITION_ERROR", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestRecognizeRateLimitHonorsRetryAfter(t *testing.T) {
	var calls int32
	start := time.Now()
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"latex": "ok"})
	})

	result, err := c.Recognize(context.Background(), []byte("png"))
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if result.Latex != "ok" {
		t.Errorf("Latex = %q", result.Latex)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Errorf("retry did not wait for Retry-After: elapsed %v", elapsed)
	}
}

func TestRecognizeNonRetryableStatus(t *testing.T) {
	var calls int32
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Recognize(context.Background(), []byte("png"))
	if err == nil {
		t.Fatal("expected error for 401")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("calls = %d, want 1 (no retry on auth failure)", n)
	}
}

func TestRecognizeMalformedResponse(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	})

	result, err := c.Recognize(context.Background(), []byte("png"))
	if err != nil {
		t.Fatalf("malformed response must not error, got %v", err)
	}
	if !result.Empty() {
		t.Errorf("result = %+v, want empty", result)
	}
}

func TestRecognizeServiceErrorField(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"error": "image not parseable"})
	})

	result, err := c.Recognize(context.Background(), []byte("png"))
	if err != nil {
		t.Fatalf("service-level error must not fail the call, got %v", err)
	}
	if !result.Empty() {
		t.Errorf("result = %+v, want empty", result)
	}
}

func TestNormalizeConfidence(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want float64
	}{
		{"scalar", `0.85`, 0.85},
		{"nested", `{"overall": 0.72}`, 0.72},
		{"missing", ``, 0},
		{"garbage", `"high"`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeConfidence(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("normalizeConfidence(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestLooksLikeGraphic(t *testing.T) {
	prose := strings.Repeat("this figure shows the general trend of ", 5)
	if !looksLikeGraphic(prose) {
		t.Error("long prose not flagged as graphic")
	}
	if looksLikeGraphic("E = mc^2") {
		t.Error("short formula flagged as graphic")
	}
}

func TestRecognizeBatchPartialFailure(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.png")
	bad := filepath.Join(dir, "missing.png")
	if err := os.WriteFile(good, []byte("png-bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"latex": "a+b"})
	})

	items := c.RecognizeBatch(context.Background(), []string{good, bad, good})
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}
	if items[0].Err != nil || items[0].Result.Latex != "a+b" {
		t.Errorf("item 0 = %+v", items[0])
	}
	if items[1].Err == nil {
		t.Error("missing file did not produce an item error")
	}
	if items[2].Err != nil || items[2].Result.Latex != "a+b" {
		t.Errorf("item 2 = %+v: failure aborted remaining items", items[2])
	}
}
