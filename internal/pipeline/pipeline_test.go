package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-translator/internal/detector"
	"doc-translator/internal/docwriter"
	"doc-translator/internal/extractor"
	"doc-translator/internal/mask"
	"doc-translator/internal/recognizer"
	"doc-translator/internal/renderer"
	"doc-translator/internal/translator"
	"doc-translator/internal/types"
)

var placeholderRe = regexp.MustCompile(`<<<FORMULA_\d+>>>`)

// echoModel translates by returning fixed prose plus every placeholder it
// finds in the user prompt, optionally dropping some.
type echoModel struct {
	drop  map[string]bool
	err   error
	calls int
}

func (m *echoModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}

	user := input[len(input)-1].Content
	var kept []string
	for _, tok := range placeholderRe.FindAllString(user, -1) {
		if !m.drop[tok] {
			kept = append(kept, tok)
		}
	}
	return &schema.Message{
		Role:    schema.Assistant,
		Content: "译文 " + strings.Join(kept, " "),
		ResponseMeta: &schema.ResponseMeta{
			Usage: &schema.TokenUsage{TotalTokens: 7},
		},
	}, nil
}

func writeInput(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newTestPipeline(t *testing.T, cm translator.ChatModel) (*Pipeline, string) {
	t.Helper()
	outDir := t.TempDir()
	tr := translator.New(cm, translator.WithRetryPolicy(1, time.Millisecond))
	return New(
		extractor.New(t.TempDir()),
		nil,
		tr,
		renderer.New(outDir),
		docwriter.New(outDir),
	), outDir
}

func TestRunPlainTextEndToEnd(t *testing.T) {
	p, _ := newTestPipeline(t, &echoModel{})
	input := writeInput(t, "Energy equals \\[E = mc^2\\] in physics.")

	result := p.Run(context.Background(), Request{
		InputPath:  input,
		SourceLang: "en",
		TargetLang: "zh",
		Style:      types.StyleScientific,
		PlainText:  true,
	})

	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, 1, result.DetectedFormulas)
	assert.Zero(t, result.LostPlaceholders)
	assert.Equal(t, 7, result.TokensUsed)

	body, err := os.ReadFile(result.OutputPath)
	require.NoError(t, err)
	assert.Contains(t, string(body), "译文")
	assert.Contains(t, string(body), "\\[E = mc^2\\]")
	assert.NotContains(t, string(body), "<<<FORMULA_")
}

func TestRunArtifactModeResolvesAllTokens(t *testing.T) {
	p, _ := newTestPipeline(t, &echoModel{})
	input := writeInput(t, "First \\(x=1\\) then \\(y=2\\) done.")

	result := p.Run(context.Background(), Request{
		InputPath:  input,
		TargetLang: "zh",
	})

	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, 2, result.DetectedFormulas)

	body, err := os.ReadFile(result.OutputPath)
	require.NoError(t, err)
	// Every placeholder resolves to an artifact: an image link when a TeX
	// toolchain is installed, the bracketed text fallback otherwise.
	assert.NotContains(t, string(body), "<<<FORMULA_")
}

func TestRunReportsPartialLoss(t *testing.T) {
	p, _ := newTestPipeline(t, &echoModel{drop: map[string]bool{mask.Token(0): true}})
	input := writeInput(t, "One \\(a=1\\) two \\(b=2\\) end.")

	result := p.Run(context.Background(), Request{
		InputPath:  input,
		TargetLang: "zh",
		PlainText:  true,
	})

	require.True(t, result.Success)
	assert.Equal(t, 1, result.LostPlaceholders)

	body, err := os.ReadFile(result.OutputPath)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "\\(a=1\\)")
	assert.Contains(t, string(body), "\\(b=2\\)")
}

func TestRunTranslationFailureSurfaces(t *testing.T) {
	p, _ := newTestPipeline(t, &echoModel{err: errors.New("model not found")})
	input := writeInput(t, "Formula \\(a=1\\) here.")

	result := p.Run(context.Background(), Request{InputPath: input, TargetLang: "zh"})

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.Empty(t, result.OutputPath)
	assert.False(t, result.FinishedAt.IsZero())
}

func TestRunMissingInput(t *testing.T) {
	p, _ := newTestPipeline(t, &echoModel{})

	result := p.Run(context.Background(), Request{
		InputPath:  filepath.Join(t.TempDir(), "absent.txt"),
		TargetLang: "zh",
	})

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

func TestRunCancelledContext(t *testing.T) {
	cm := &echoModel{}
	p, _ := newTestPipeline(t, cm)
	input := writeInput(t, "Formula \\(a=1\\) here.")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := p.Run(ctx, Request{InputPath: input, TargetLang: "zh"})
	assert.False(t, result.Success)
	assert.Zero(t, cm.calls)
}

func TestRunRecognitionSkippedWithoutCredentials(t *testing.T) {
	outDir := t.TempDir()
	tr := translator.New(&echoModel{}, translator.WithRetryPolicy(1, time.Millisecond))
	p := New(
		extractor.New(t.TempDir()),
		recognizer.NewClient("", "", ""),
		tr,
		renderer.New(outDir),
		docwriter.New(outDir),
	)
	input := writeInput(t, "Formula \\(a=1\\) here.")

	result := p.Run(context.Background(), Request{
		InputPath:         input,
		TargetLang:        "zh",
		EnableRecognition: true,
		PlainText:         true,
	})

	require.True(t, result.Success, "error: %s", result.Error)
	assert.Zero(t, result.RecognizedFormulas)
}

func TestAttachRecognitionMatchesPayloads(t *testing.T) {
	text := "Energy equals \\[E = mc^2\\] and also \\(F = m a\\)."
	table := mask.NewTable()
	table.Mask(text, detector.Detect(text))

	rec := &types.RecognizedFormula{Latex: "E=mc^{2}", Confidence: 0.9}
	matched := attachRecognition(table, rec)

	assert.Equal(t, 1, matched)
	payload, ok := table.Payload(mask.Token(0))
	require.True(t, ok)
	assert.Equal(t, rec, payload.Recognized)

	other, ok := table.Payload(mask.Token(1))
	require.True(t, ok)
	assert.Nil(t, other.Recognized)
}

func TestAttachRecognitionIgnoresEmptyResult(t *testing.T) {
	text := "Formula \\(a=1\\)."
	table := mask.NewTable()
	table.Mask(text, detector.Detect(text))

	assert.Zero(t, attachRecognition(table, &types.RecognizedFormula{}))
}

func TestNormalizeNotation(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"\\[E = mc^2\\]", "E=mc^2"},
		{"E=mc^{2}", "E=mc^2"},
		{"$x_i$", "x_i"},
		{"  \\( a+b \\) ", "a+b"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizeNotation(tc.input), tc.input)
	}
}
