// Package storage keeps an on-disk trail of executed runs: a rotated JSONL
// journal and the plot/CSV artifacts a run produced.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ErrJournalClosed is returned by Record after Close.
var ErrJournalClosed = errors.New("journal closed")

// ErrJournalFull is returned when the write buffer is full; the record is dropped.
var ErrJournalFull = errors.New("journal buffer full")

// RunRecord is one RUN_PYTHON outcome.
type RunRecord struct {
	ID         string        `json:"id"`
	TabID      string        `json:"tab_id,omitempty"`
	TableID    string        `json:"table_id,omitempty"`
	Rows       int           `json:"rows"`
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
	HasPlot    bool          `json:"has_plot,omitempty"`
	HasCSV     bool          `json:"has_csv,omitempty"`
	Artifacts  []string      `json:"artifacts,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Journal appends records to <dir>/<date>/runs.jsonl from a background
// goroutine. Files rotate by size through lumberjack and by UTC date.
type Journal struct {
	baseDir   string
	maxSizeMB int
	now       func() time.Time

	writeCh chan RunRecord
	done    chan struct{}
	wg      sync.WaitGroup

	mu     sync.Mutex
	date   string
	logger *lumberjack.Logger
	closed bool
}

func NewJournal(baseDir string, bufferSize, maxSizeMB int) *Journal {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	j := &Journal{
		baseDir:   baseDir,
		maxSizeMB: maxSizeMB,
		now:       time.Now,
		writeCh:   make(chan RunRecord, bufferSize),
		done:      make(chan struct{}),
	}
	j.wg.Add(1)
	go j.writeLoop()
	return j
}

// Record queues rec without blocking.
func (j *Journal) Record(rec RunRecord) error {
	select {
	case <-j.done:
		return ErrJournalClosed
	default:
	}
	select {
	case j.writeCh <- rec:
		return nil
	case <-j.done:
		return ErrJournalClosed
	default:
		slog.Warn("run journal buffer full, dropping record", "run_id", rec.ID)
		return ErrJournalFull
	}
}

// Close flushes queued records and closes the current file.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	close(j.done)
	j.wg.Wait()

	for {
		select {
		case rec := <-j.writeCh:
			j.write(rec)
			continue
		default:
		}
		break
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.logger != nil {
		return j.logger.Close()
	}
	return nil
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()
	for {
		select {
		case rec := <-j.writeCh:
			j.write(rec)
		case <-j.done:
			return
		}
	}
}

func (j *Journal) write(rec RunRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Error("run journal marshal failed", "run_id", rec.ID, "error", err)
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	date := j.now().UTC().Format("2006-01-02")
	if date != j.date || j.logger == nil {
		if err := j.openLocked(date); err != nil {
			slog.Error("run journal open failed", "dir", j.baseDir, "error", err)
			return
		}
	}
	if _, err := j.logger.Write(append(data, '\n')); err != nil {
		slog.Error("run journal write failed", "run_id", rec.ID, "error", err)
	}
}

func (j *Journal) openLocked(date string) error {
	if j.logger != nil {
		_ = j.logger.Close()
		j.logger = nil
	}
	dir := filepath.Join(j.baseDir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}
	j.logger = &lumberjack.Logger{
		Filename:   filepath.Join(dir, "runs.jsonl"),
		MaxSize:    j.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
	}
	j.date = date
	slog.Info("run journal opened", "file", j.logger.Filename)
	return nil
}
