package docwriter

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-translator/internal/mask"
	"doc-translator/internal/renderer"
)

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("png-bytes"), 0644))
	return path
}

func TestWriteResolvesArtifacts(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	img := writePNG(t, srcDir, "formula_ab12.png")

	text := "能量等于 " + mask.Token(0) + "，其中 " + mask.Token(1) + " 是缩写。"
	artifacts := map[string]renderer.Artifact{
		mask.Token(0): {Kind: renderer.ArtifactImage, Path: img},
		mask.Token(1): {Kind: renderer.ArtifactText, Text: "DNA"},
	}

	path, err := New(outDir).Write("paper.pdf", text, artifacts, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".md"))
	assert.Contains(t, filepath.Base(path), "paper_translated_")

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "![formula](")
	assert.Contains(t, string(body), "formula_ab12.png)")
	assert.Contains(t, string(body), "DNA")
	assert.NotContains(t, string(body), "<<<FORMULA_")

	// The image is copied into the per-document assets directory.
	docName := strings.TrimSuffix(filepath.Base(path), ".md")
	copied := filepath.Join(outDir, docName+"_assets", "formula_ab12.png")
	data, err := os.ReadFile(copied)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
}

func TestWriteKeepsUnresolvedTokens(t *testing.T) {
	outDir := t.TempDir()
	text := "before " + mask.Token(5) + " after"

	path, err := New(outDir).Write("doc.txt", text, nil, nil)
	require.NoError(t, err)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), mask.Token(5))
}

func TestWriteMarkupArtifact(t *testing.T) {
	outDir := t.TempDir()
	text := "inline " + mask.Token(0) + " math"
	artifacts := map[string]renderer.Artifact{
		mask.Token(0): {Kind: renderer.ArtifactMarkup, Markup: "<math><mi>x</mi></math>"},
	}

	path, err := New(outDir).Write("doc.txt", text, artifacts, nil)
	require.NoError(t, err)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "inline <math><mi>x</mi></math> math")
}

func TestWriteResolvesPageTokens(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	page2 := writePNG(t, srcDir, "page_2.png")

	text := "intro\n\n" + mask.PageToken(2) + "\n\n" + mask.PageToken(7) + "\n\noutro"
	path, err := New(outDir).Write("doc.pdf", text, nil, map[int]string{2: page2})
	require.NoError(t, err)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "![page 2](")
	assert.Contains(t, string(body), "[Page 7 image unavailable]")
	assert.NotContains(t, string(body), "__IMAGE_PAGE_")
}

func TestWriteEmptySourceNameDefaults(t *testing.T) {
	outDir := t.TempDir()
	path, err := New(outDir).Write("", "plain text", nil, nil)
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(path), "document_translated_")
}

func TestWriteRepeatedTokenReplacedEverywhere(t *testing.T) {
	outDir := t.TempDir()
	text := mask.Token(0) + " and again " + mask.Token(0)
	artifacts := map[string]renderer.Artifact{
		mask.Token(0): {Kind: renderer.ArtifactText, Text: "[Formula: a=b]"},
	}

	path, err := New(outDir).Write("doc.txt", text, artifacts, nil)
	require.NoError(t, err)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(body), "[Formula: a=b]"))
}
