package logger

import (
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"sync"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"

	"github.com/shaunagostinho/caramat/internal/controller"
)

// SQLite stores readings in a local database file.
type SQLite struct {
	mu   sync.Mutex
	db   *sql.DB
	stmt *sql.Stmt
}

const createReadings = `CREATE TABLE IF NOT EXISTS readings (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	sensor_d  REAL NOT NULL,
	sensor_a  REAL NOT NULL
)`

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		path = "caramat.sqlite3"
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("logger: open %s: %w", path, err)
	}
	if _, err := db.Exec(createReadings); err != nil {
		db.Close()
		return nil, fmt.Errorf("logger: create table: %w", err)
	}
	stmt, err := db.Prepare(`INSERT INTO readings (timestamp, sensor_d, sensor_a) VALUES (?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("logger: prepare insert: %w", err)
	}
	log.Printf("[logger] writing readings to %s", path)
	return &SQLite{db: db, stmt: stmt}, nil
}

// Append inserts r and returns the row id.
func (s *SQLite) Append(r controller.SensorReading) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.stmt.Exec(r.Timestamp.Format(timestampLayout), r.SensorD, r.SensorA)
	if err != nil {
		return "", fmt.Errorf("logger: insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("logger: insert id: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stmt.Close()
	return s.db.Close()
}
