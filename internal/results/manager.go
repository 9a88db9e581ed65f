// Package results stores the run history of translated documents. Each run
// gets its own directory under the base directory with a metadata.json
// describing status, source identity, and the pipeline outcome.
package results

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"doc-translator/internal/types"
)

// RunStatus tracks how far a translation run has progressed.
type RunStatus string

const (
	// StatusPending indicates the run has been registered but not started.
	StatusPending RunStatus = "pending"
	// StatusExtracting indicates the source document is being extracted.
	StatusExtracting RunStatus = "extracting"
	// StatusRecognizing indicates formula recognition is in progress.
	StatusRecognizing RunStatus = "recognizing"
	// StatusTranslating indicates the document is being translated.
	StatusTranslating RunStatus = "translating"
	// StatusRendering indicates formulas are being rendered and the
	// output document assembled.
	StatusRendering RunStatus = "rendering"
	// StatusComplete indicates the run finished successfully.
	StatusComplete RunStatus = "complete"
	// StatusError indicates the run failed.
	StatusError RunStatus = "error"
)

// RunRecord is the persisted metadata for one translation run.
type RunRecord struct {
	ID           string                `json:"id"`
	SourceFile   string                `json:"source_file"`
	SourceMD5    string                `json:"source_md5,omitempty"`
	SourceLang   string                `json:"source_lang,omitempty"`
	TargetLang   string                `json:"target_lang"`
	Style        string                `json:"style,omitempty"`
	Status       RunStatus             `json:"status"`
	ErrorMessage string                `json:"error_message,omitempty"`
	StartedAt    time.Time             `json:"started_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
	Result       *types.PipelineResult `json:"result,omitempty"`
}

// Manager manages run records stored under a base directory.
type Manager struct {
	baseDir string
}

// NewManager creates a Manager rooted at baseDir. An empty baseDir defaults
// to ~/doc-translator-results.
func NewManager(baseDir string) (*Manager, error) {
	if baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		baseDir = filepath.Join(homeDir, "doc-translator-results")
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	return &Manager{baseDir: baseDir}, nil
}

// BaseDir returns the base directory for run records.
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// RunDir returns the directory holding one run's metadata and artifacts.
func (m *Manager) RunDir(id string) string {
	return filepath.Join(m.baseDir, sanitizeID(id))
}

// NewRecord registers a new pending run for the given source file.
func (m *Manager) NewRecord(sourceFile, sourceLang, targetLang, style string) (*RunRecord, error) {
	record := &RunRecord{
		ID:         uuid.New().String(),
		SourceFile: sourceFile,
		SourceLang: sourceLang,
		TargetLang: targetLang,
		Style:      style,
		Status:     StatusPending,
		StartedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if hash, err := FileMD5(sourceFile); err == nil {
		record.SourceMD5 = hash
	}
	if err := m.Save(record); err != nil {
		return nil, err
	}
	return record, nil
}

// Save writes the record's metadata.json, creating the run directory.
func (m *Manager) Save(record *RunRecord) error {
	runDir := m.RunDir(record.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(runDir, "metadata.json"), data, 0644)
}

// Load reads one run's metadata by ID.
func (m *Manager) Load(id string) (*RunRecord, error) {
	data, err := os.ReadFile(filepath.Join(m.RunDir(id), "metadata.json"))
	if err != nil {
		return nil, err
	}

	var record RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// List returns all run records, newest first. Directories without readable
// metadata are skipped.
func (m *Manager) List() ([]*RunRecord, error) {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*RunRecord{}, nil
		}
		return nil, err
	}

	var records []*RunRecord
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.baseDir, entry.Name(), "metadata.json"))
		if err != nil {
			continue
		}
		var record RunRecord
		if err := json.Unmarshal(data, &record); err != nil {
			continue
		}
		records = append(records, &record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	return records, nil
}

// Delete removes a run and all its files.
func (m *Manager) Delete(id string) error {
	return os.RemoveAll(m.RunDir(id))
}

// Exists reports whether a run with the given ID has saved metadata.
func (m *Manager) Exists(id string) bool {
	_, err := os.Stat(filepath.Join(m.RunDir(id), "metadata.json"))
	return err == nil
}

// UpdateStatus records a run's progression through the pipeline stages.
func (m *Manager) UpdateStatus(id string, status RunStatus, errorMsg string) error {
	record, err := m.Load(id)
	if err != nil {
		return err
	}

	record.Status = status
	record.ErrorMessage = errorMsg
	record.UpdatedAt = time.Now()
	return m.Save(record)
}

// Complete marks a run finished and attaches the pipeline result.
func (m *Manager) Complete(id string, result *types.PipelineResult) error {
	record, err := m.Load(id)
	if err != nil {
		return err
	}

	record.Result = result
	record.UpdatedAt = time.Now()
	if result != nil && result.Success {
		record.Status = StatusComplete
		record.ErrorMessage = ""
	} else {
		record.Status = StatusError
		if result != nil {
			record.ErrorMessage = result.Error
		}
	}
	return m.Save(record)
}

// Incomplete returns runs that never reached StatusComplete, useful for
// resuming interrupted work.
func (m *Manager) Incomplete() ([]*RunRecord, error) {
	records, err := m.List()
	if err != nil {
		return nil, err
	}

	var incomplete []*RunRecord
	for _, record := range records {
		if record.Status != StatusComplete {
			incomplete = append(incomplete, record)
		}
	}
	return incomplete, nil
}

// FindBySourceMD5 returns the most recent run for a source file hash, or nil
// when the document has never been translated.
func (m *Manager) FindBySourceMD5(hash string) (*RunRecord, error) {
	records, err := m.List()
	if err != nil {
		return nil, err
	}

	for _, record := range records {
		if record.SourceMD5 == hash {
			return record, nil
		}
	}
	return nil, nil
}

// CheckDuplicate looks up an earlier run of the same source file by content
// hash. Returns nil when the file was never translated before.
func (m *Manager) CheckDuplicate(sourceFile string) (*RunRecord, error) {
	hash, err := FileMD5(sourceFile)
	if err != nil {
		return nil, err
	}
	return m.FindBySourceMD5(hash)
}

// FileMD5 calculates the MD5 hash of a file's content.
func FileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// sanitizeID strips path separators so an ID is always a safe directory
// name.
func sanitizeID(id string) string {
	safe := strings.ReplaceAll(id, "/", "_")
	safe = strings.ReplaceAll(safe, ":", "_")
	safe = strings.ReplaceAll(safe, "\\", "_")
	return safe
}
