package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/interactionlab/tandem/internal/domain/model"
)

// Writer owns the on-disk layout under data/<experiment_id>/:
//
//	match_log.jsonl           one line per started session
//	audit/<session_id>.json   finalized exports + parity report
//	audit/events.jsonl        append-only exclusion/termination records
//
// Audit documents are written whole via tmp+rename so a crash never
// leaves a half-written file behind; the jsonl logs are plain O_APPEND.
type Writer struct {
	root string

	mu sync.Mutex // serializes jsonl appends
}

func NewWriter(dataDir, experimentID string) *Writer {
	return &Writer{root: filepath.Join(dataDir, experimentID)}
}

// Root is the experiment's data directory.
func (w *Writer) Root() string { return w.root }

func (w *Writer) auditDir() string { return filepath.Join(w.root, "audit") }

// AuditPath is where the session's finalized document lives.
func (w *Writer) AuditPath(id model.SessionID) string {
	return filepath.Join(w.auditDir(), string(id)+".json")
}

// WriteAudit persists the finalized session document atomically.
func (w *Writer) WriteAudit(id model.SessionID, doc any) error {
	if err := os.MkdirAll(w.auditDir(), 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal audit %s: %w", id, err)
	}

	path := w.AuditPath(id)
	tmp, err := os.CreateTemp(w.auditDir(), string(id)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create audit tmp: %w", err)
	}
	if _, err := tmp.Write(append(body, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write audit tmp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close audit tmp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publish audit %s: %w", id, err)
	}
	return nil
}

// ReadAudit loads a finalized session document for replay.
func (w *Writer) ReadAudit(id model.SessionID, doc any) error {
	body, err := os.ReadFile(w.AuditPath(id))
	if err != nil {
		return fmt.Errorf("read audit %s: %w", id, err)
	}
	if err := json.Unmarshal(body, doc); err != nil {
		return fmt.Errorf("decode audit %s: %w", id, err)
	}
	return nil
}

// AppendMatchLog adds one line to match_log.jsonl.
func (w *Writer) AppendMatchLog(rec any) error {
	return w.appendLine(filepath.Join(w.root, "match_log.jsonl"), rec)
}

// AppendEvent adds one line to audit/events.jsonl.
func (w *Writer) AppendEvent(rec any) error {
	return w.appendLine(filepath.Join(w.auditDir(), "events.jsonl"), rec)
}

func (w *Writer) appendLine(path string, rec any) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record for %s: %w", filepath.Base(path), err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", filepath.Base(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	if _, err := f.Write(append(body, '\n')); err != nil {
		return fmt.Errorf("append to %s: %w", filepath.Base(path), err)
	}
	return nil
}
