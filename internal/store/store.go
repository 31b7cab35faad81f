// Package store keeps uploaded reports and finished jitter sessions in a
// SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NodePath81/latprobe/internal/util"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("report not found")

const resultPrefix = "result:"

const schema = `
CREATE TABLE IF NOT EXISTS reports (
	id         TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	device     TEXT NOT NULL,
	result     TEXT NOT NULL,
	country    TEXT NOT NULL DEFAULT '',
	created_ns INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS reports_created ON reports (created_ns DESC);
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	sink         TEXT NOT NULL,
	sample_rate  INTEGER NOT NULL,
	buffer_size  INTEGER NOT NULL,
	length       INTEGER NOT NULL,
	cb_delay     INTEGER NOT NULL,
	render_delay INTEGER NOT NULL,
	pulse        INTEGER NOT NULL,
	jitter_ms    REAL NOT NULL,
	underruns    INTEGER NOT NULL,
	created_ns   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_created ON sessions (created_ns DESC);
`

// Report is one uploaded run log.
type Report struct {
	ID      string
	Content string
	// Device is the first line of Content.
	Device string
	// Result is the text after the last "result:" line, if any.
	Result  string
	Country string
	Created time.Time
}

// SessionRecord summarises a finished jitter session.
type SessionRecord struct {
	ID          string
	Sink        string
	SampleRate  int
	BufferSize  int
	Length      int
	CbDelay     int
	RenderDelay int
	Pulse       bool
	JitterMs    float64
	Underruns   int
	Created     time.Time
}

type Store struct {
	db     *sql.DB
	logger util.Logger
}

// Open opens or creates the database at path.
func Open(path string, logger util.Logger) (*Store, error) {
	if logger == nil {
		logger = util.DiscardLogger()
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	logger.Debug("store open", "path", path)
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ParseContent extracts the device line and the result value from a report
// log.
func ParseContent(content string) (device, result string) {
	lines := strings.Split(content, "\n")
	device = strings.TrimRight(lines[0], "\r")
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, resultPrefix) {
			result = strings.TrimSpace(line[len(resultPrefix):])
		}
	}
	return device, result
}

// Put stores a report and returns it with its assigned id.
func (s *Store) Put(ctx context.Context, content, country string) (Report, error) {
	device, result := ParseContent(content)
	r := Report{
		ID:      uuid.NewString(),
		Content: content,
		Device:  device,
		Result:  result,
		Country: country,
		Created: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (id, content, device, result, country, created_ns) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Content, r.Device, r.Result, r.Country, r.Created.UnixNano())
	if err != nil {
		return Report{}, fmt.Errorf("insert report: %w", err)
	}
	return r, nil
}

func (s *Store) Get(ctx context.Context, id string) (Report, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content, device, result, country, created_ns FROM reports WHERE id = ?`, id)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Report{}, ErrNotFound
	}
	return r, err
}

// List returns up to limit reports, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Report, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, device, result, country, created_ns FROM reports ORDER BY created_ns DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()
	var out []Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CountReports(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(sc scanner) (Report, error) {
	var r Report
	var created int64
	if err := sc.Scan(&r.ID, &r.Content, &r.Device, &r.Result, &r.Country, &created); err != nil {
		return Report{}, err
	}
	r.Created = time.Unix(0, created).UTC()
	return r, nil
}

func (s *Store) SaveSession(ctx context.Context, rec SessionRecord) error {
	if rec.Created.IsZero() {
		rec.Created = time.Now().UTC()
	}
	pulse := 0
	if rec.Pulse {
		pulse = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, sink, sample_rate, buffer_size, length, cb_delay, render_delay, pulse, jitter_ms, underruns, created_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Sink, rec.SampleRate, rec.BufferSize, rec.Length, rec.CbDelay, rec.RenderDelay,
		pulse, rec.JitterMs, rec.Underruns, rec.Created.UnixNano())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// RecentSessions returns up to limit sessions, newest first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sink, sample_rate, buffer_size, length, cb_delay, render_delay, pulse, jitter_ms, underruns, created_ns
		 FROM sessions ORDER BY created_ns DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var pulse int
		var created int64
		if err := rows.Scan(&rec.ID, &rec.Sink, &rec.SampleRate, &rec.BufferSize, &rec.Length,
			&rec.CbDelay, &rec.RenderDelay, &pulse, &rec.JitterMs, &rec.Underruns, &created); err != nil {
			return nil, err
		}
		rec.Pulse = pulse != 0
		rec.Created = time.Unix(0, created).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
