package results

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-translator/internal/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	return m
}

func sourceFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "paper.pdf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewRecordAndLoad(t *testing.T) {
	m := newTestManager(t)
	src := sourceFile(t, "pdf content")

	record, err := m.NewRecord(src, "en", "zh", "academic")
	require.NoError(t, err)
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, StatusPending, record.Status)
	assert.NotEmpty(t, record.SourceMD5)

	loaded, err := m.Load(record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, loaded.ID)
	assert.Equal(t, "zh", loaded.TargetLang)
	assert.Equal(t, "academic", loaded.Style)
}

func TestUpdateStatus(t *testing.T) {
	m := newTestManager(t)
	record, err := m.NewRecord(sourceFile(t, "x"), "en", "zh", "general")
	require.NoError(t, err)

	require.NoError(t, m.UpdateStatus(record.ID, StatusTranslating, ""))
	loaded, err := m.Load(record.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusTranslating, loaded.Status)

	require.NoError(t, m.UpdateStatus(record.ID, StatusError, "model unreachable"))
	loaded, err = m.Load(record.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, loaded.Status)
	assert.Equal(t, "model unreachable", loaded.ErrorMessage)
}

func TestCompleteAttachesResult(t *testing.T) {
	m := newTestManager(t)
	record, err := m.NewRecord(sourceFile(t, "x"), "en", "zh", "general")
	require.NoError(t, err)

	result := &types.PipelineResult{
		OutputPath:       "/out/doc.md",
		DetectedFormulas: 4,
		Success:          true,
	}
	require.NoError(t, m.Complete(record.ID, result))

	loaded, err := m.Load(record.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, loaded.Status)
	require.NotNil(t, loaded.Result)
	assert.Equal(t, 4, loaded.Result.DetectedFormulas)
}

func TestCompleteWithFailureResult(t *testing.T) {
	m := newTestManager(t)
	record, err := m.NewRecord(sourceFile(t, "x"), "en", "zh", "general")
	require.NoError(t, err)

	require.NoError(t, m.Complete(record.ID, &types.PipelineResult{
		Success: false,
		Error:   "translation service unreachable",
	}))

	loaded, err := m.Load(record.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, loaded.Status)
	assert.Equal(t, "translation service unreachable", loaded.ErrorMessage)
}

func TestListNewestFirst(t *testing.T) {
	m := newTestManager(t)

	older := &RunRecord{ID: "run-a", Status: StatusComplete, StartedAt: time.Now().Add(-time.Hour)}
	newer := &RunRecord{ID: "run-b", Status: StatusPending, StartedAt: time.Now()}
	require.NoError(t, m.Save(older))
	require.NoError(t, m.Save(newer))

	records, err := m.List()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "run-b", records[0].ID)
	assert.Equal(t, "run-a", records[1].ID)
}

func TestListSkipsBrokenEntries(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Save(&RunRecord{ID: "good", StartedAt: time.Now()}))

	broken := filepath.Join(m.BaseDir(), "broken")
	require.NoError(t, os.MkdirAll(broken, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(broken, "metadata.json"), []byte("{not json"), 0644))

	records, err := m.List()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "good", records[0].ID)
}

func TestIncomplete(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Save(&RunRecord{ID: "done", Status: StatusComplete, StartedAt: time.Now()}))
	require.NoError(t, m.Save(&RunRecord{ID: "failed", Status: StatusError, StartedAt: time.Now()}))
	require.NoError(t, m.Save(&RunRecord{ID: "midway", Status: StatusTranslating, StartedAt: time.Now()}))

	incomplete, err := m.Incomplete()
	require.NoError(t, err)
	assert.Len(t, incomplete, 2)
}

func TestCheckDuplicate(t *testing.T) {
	m := newTestManager(t)
	src := sourceFile(t, "identical bytes")

	_, err := m.NewRecord(src, "en", "zh", "general")
	require.NoError(t, err)

	dup, err := m.CheckDuplicate(src)
	require.NoError(t, err)
	require.NotNil(t, dup)
	assert.Equal(t, src, dup.SourceFile)

	other := sourceFile(t, "different bytes")
	dup, err = m.CheckDuplicate(other)
	require.NoError(t, err)
	assert.Nil(t, dup)
}

func TestDeleteAndExists(t *testing.T) {
	m := newTestManager(t)
	record, err := m.NewRecord(sourceFile(t, "x"), "en", "zh", "general")
	require.NoError(t, err)

	assert.True(t, m.Exists(record.ID))
	require.NoError(t, m.Delete(record.ID))
	assert.False(t, m.Exists(record.ID))
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t, "a_b_c_d", sanitizeID("a/b:c\\d"))
}
