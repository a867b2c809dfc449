package logger

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/shaunagostinho/caramat/internal/controller"
)

// CSV records readings to CSV files with automatic rotation.
type CSV struct {
	mu  sync.Mutex
	dir string

	file    *os.File
	writer  *csv.Writer
	path    string
	rows    int
	maxRows int
}

const (
	maxRowsPerFile = 100_000 // Rotate after 100k rows (~28 hrs at 1 Hz)
)

var csvHeader = []string{"timestamp", "sensor_d", "sensor_a"}

// NewCSV creates a CSV sink writing into dir.
func NewCSV(dir string) *CSV {
	if dir == "" {
		dir = "/var/log/caramat"
	}
	return &CSV{dir: dir, maxRows: maxRowsPerFile}
}

// Append writes one row and returns "<file>:<row>".
func (l *CSV) Append(r controller.SensorReading) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer == nil || l.rows >= l.maxRows {
		if err := l.rotateFile(r.Timestamp); err != nil {
			return "", err
		}
	}

	row := []string{
		r.Timestamp.Format(timestampLayout),
		fmt.Sprintf("%.2f", r.SensorD),
		fmt.Sprintf("%.2f", r.SensorA),
	}
	if err := l.writer.Write(row); err != nil {
		return "", fmt.Errorf("logger: csv write: %w", err)
	}
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		return "", fmt.Errorf("logger: csv flush: %w", err)
	}
	l.rows++
	return fmt.Sprintf("%s:%d", filepath.Base(l.path), l.rows), nil
}

// Close flushes and closes the current log file.
func (l *CSV) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeFile()
}

func (l *CSV) rotateFile(now time.Time) error {
	l.closeFile()

	if now.IsZero() {
		now = time.Now()
	}
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("logger: mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("caramat_%s_%s.csv", now.Format("2006-01-02_150405"), xid.New().String())
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("logger: create %s: %w", path, err)
	}

	l.file = f
	l.path = path
	l.writer = csv.NewWriter(f)
	l.rows = 0

	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *CSV) closeFile() error {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}
