// Package transcript records every AT exchange to CSV files with automatic
// rotation.
package transcript

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/shaunagostinho/bleat/internal/at"
	"github.com/sirupsen/logrus"
)

// Recorder writes exchanges to CSV. It implements at.Recorder.
type Recorder struct {
	mu      sync.Mutex
	dir     string
	enabled bool
	maxRows int
	log     logrus.FieldLogger

	file   *os.File
	writer *csv.Writer
	rows   int
	path   string
}

// Config holds recorder configuration.
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	MaxRows int    `yaml:"max_rows" json:"maxRows"`
}

const defaultMaxRows = 50_000

var csvHeader = []string{"timestamp", "command", "status", "duration_ms", "payload", "error"}

// New creates a recorder. Files are created lazily on the first record.
func New(cfg Config, log logrus.FieldLogger) *Recorder {
	if cfg.Path == "" {
		cfg.Path = "/var/log/bleat"
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultMaxRows
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Recorder{
		dir:     cfg.Path,
		enabled: cfg.Enabled,
		maxRows: cfg.MaxRows,
		log:     log.WithField("component", "transcript"),
	}
}

// SetEnabled toggles recording at runtime.
func (r *Recorder) SetEnabled(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = on
	if !on {
		r.closeFile()
	}
}

// IsEnabled returns whether recording is active.
func (r *Recorder) IsEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// CurrentFile returns the path of the open transcript file, if any.
func (r *Recorder) CurrentFile() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Record appends one exchange. Failures are logged, never returned: a
// broken transcript must not fail the request it describes.
func (r *Recorder) Record(x at.Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return
	}
	if r.writer == nil || r.rows >= r.maxRows {
		if err := r.rotateFile(x.Started); err != nil {
			r.log.WithError(err).Warn("rotate failed")
			return
		}
	}

	errText := ""
	if x.Err != nil {
		errText = x.Err.Error()
	}
	row := []string{
		x.Started.Format(time.RFC3339Nano),
		x.Command,
		x.Status.String(),
		strconv.FormatInt(x.Duration.Milliseconds(), 10),
		x.Payload,
		errText,
	}
	if err := r.writer.Write(row); err != nil {
		r.log.WithError(err).Warn("write failed")
		return
	}
	r.writer.Flush()
	r.rows++
}

// Close flushes and closes the current file.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeFile()
}

func (r *Recorder) rotateFile(now time.Time) error {
	r.closeFile()

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", r.dir, err)
	}

	name := fmt.Sprintf("bleat_%s.csv", now.Format("2006-01-02_150405.000"))
	path := filepath.Join(r.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	r.file = f
	r.writer = csv.NewWriter(f)
	r.rows = 0
	r.path = path

	if err := r.writer.Write(csvHeader); err != nil {
		return err
	}
	r.writer.Flush()

	r.log.WithField("path", path).Info("transcript opened")
	return nil
}

func (r *Recorder) closeFile() {
	if r.writer != nil {
		r.writer.Flush()
		r.writer = nil
	}
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
	r.path = ""
}
