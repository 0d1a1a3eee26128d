package logger

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields is an alias so callers don't need to import logrus directly
type Fields = logrus.Fields

// Logger is the shared logger instance used by every package
var Logger = logrus.New()

var store *LogStore

// Formatter renders entries as
// "2006-01-02 15:04:05.000 [LEVEL] function(file:line) - message {k=v, ...}"
type Formatter struct{}

func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	var fileName, funcName string
	var lineNum int

	if entry.HasCaller() {
		fileName = path.Base(entry.Caller.File)
		funcName = entry.Caller.Function
		lineNum = entry.Caller.Line

		if idx := strings.LastIndex(funcName, "."); idx >= 0 {
			funcName = funcName[idx+1:]
		}
	}

	line := fmt.Sprintf("%s [%s] %s(%s:%d) - %s",
		entry.Time.Format("2006-01-02 15:04:05.000"),
		strings.ToUpper(entry.Level.String()),
		funcName,
		fileName,
		lineNum,
		entry.Message,
	)

	if len(entry.Data) > 0 {
		var parts []string
		for k, v := range entry.Data {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
		line += " {" + strings.Join(parts, ", ") + "}"
	}

	return []byte(line + "\n"), nil
}

func init() {
	Logger.SetReportCaller(true)
	Logger.SetFormatter(&Formatter{})
	Logger.SetOutput(os.Stdout)
	Logger.SetLevel(logrus.InfoLevel)
}

// Setup configures log rotation and, if dbPath is non-empty, the SQLite log
// store backing the /api/logs endpoint. Called once from main; tests run with
// the plain stdout logger from init.
func Setup(logDir string, dbPath string) error {
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}

		fileWriter := &lumberjack.Logger{
			Filename:   path.Join(logDir, "telemetry.log"),
			MaxSize:    50, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}
		Logger.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
	}

	if dbPath != "" {
		s, err := NewLogStore(dbPath)
		if err != nil {
			return err
		}
		store = s
		Logger.AddHook(s)
	}

	return nil
}

// LogStore persists log entries to SQLite so operators can query recent
// activity without shell access to the log files.
type LogStore struct {
	db *sql.DB
}

// Entry is one stored log record.
type Entry struct {
	ID        int       `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Fields    string    `json:"fields"`
}

// NewLogStore opens (or creates) the log database at dbPath.
func NewLogStore(dbPath string) (*LogStore, error) {
	if dir := path.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open log database: %w", err)
	}

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		fields TEXT
	)`

	if _, err = db.Exec(createTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create entries table: %w", err)
	}

	return &LogStore{db: db}, nil
}

// Fire implements logrus.Hook.
func (s *LogStore) Fire(entry *logrus.Entry) error {
	fields := ""
	if len(entry.Data) > 0 {
		var parts []string
		for k, v := range entry.Data {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
		fields = strings.Join(parts, ", ")
	}

	_, err := s.db.Exec(
		`INSERT INTO entries (timestamp, level, message, fields) VALUES (?, ?, ?, ?)`,
		entry.Time, entry.Level.String(), entry.Message, fields,
	)
	return err
}

// Levels implements logrus.Hook.
func (s *LogStore) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Recent returns up to limit stored entries, newest first, optionally
// filtered by level.
func Recent(level string, limit int) ([]Entry, error) {
	if store == nil {
		return nil, fmt.Errorf("log store not initialized")
	}
	return store.Recent(level, limit)
}

// Recent returns up to limit entries, newest first.
func (s *LogStore) Recent(level string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := "SELECT id, timestamp, level, message, fields FROM entries"
	args := []interface{}{}
	if level != "" {
		query += " WHERE level = ?"
		args = append(args, level)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query log entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Level, &e.Message, &e.Fields); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Close closes the underlying database.
func (s *LogStore) Close() error {
	return s.db.Close()
}
