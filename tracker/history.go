package tracker

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kwv/rigidreg/geom"
	"github.com/kwv/rigidreg/registration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// History is the sqlite store of past registrations
type History struct {
	db *sql.DB
}

// OpenHistory opens (or creates) the history database at path and brings
// its schema up to date.
func OpenHistory(path string) (*History, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening history %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening history %s: %w", path, err)
	}

	h := &History{db: db}
	if err := h.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

func (h *History) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(h.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	// m is not closed: that would close the shared *sql.DB

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// migrateLogger implements migrate.Logger
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[HISTORY] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// Close closes the database
func (h *History) Close() error {
	return h.db.Close()
}

// Record stores reg. A missing RunID is generated and a zero Timestamp is
// replaced by the current time; the stored values are returned.
func (h *History) Record(ctx context.Context, reg Registration) (Registration, error) {
	if reg.ToolID == "" {
		return reg, fmt.Errorf("recording registration: missing tool ID")
	}
	if reg.RunID == "" {
		reg.RunID = uuid.NewString()
	}
	if reg.Timestamp.IsZero() {
		reg.Timestamp = time.Now()
	}

	matrix, err := json.Marshal(reg.Transform.M)
	if err != nil {
		return reg, fmt.Errorf("encoding matrix: %w", err)
	}

	tr := reg.Transform
	_, err = h.db.ExecContext(ctx, `
		INSERT INTO registrations
			(run_id, tool_id, recorded_at, date, time, rms, std_dev,
			 first_rms, last_rms, iterations, converged, quality, matrix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reg.RunID, reg.ToolID, reg.Timestamp.UnixNano(), tr.Date, tr.Time, tr.RMS, tr.StdDev,
		reg.FirstRMS, reg.LastRMS, reg.Iterations, reg.Converged, string(reg.Quality), string(matrix))
	if err != nil {
		return reg, fmt.Errorf("recording registration %s: %w", reg.RunID, err)
	}
	return reg, nil
}

// Recent returns up to n registrations of toolID, newest first
func (h *History) Recent(ctx context.Context, toolID string, n int) ([]Registration, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT run_id, tool_id, recorded_at, date, time, rms, std_dev,
		       first_rms, last_rms, iterations, converged, quality, matrix
		FROM registrations
		WHERE tool_id = ?
		ORDER BY recorded_at DESC, rowid DESC
		LIMIT ?`, toolID, n)
	if err != nil {
		return nil, fmt.Errorf("querying history of %s: %w", toolID, err)
	}
	defer rows.Close()

	var out []Registration
	for rows.Next() {
		var (
			reg        Registration
			recordedAt int64
			quality    string
			matrix     string
		)
		tr := &reg.Transform
		if err := rows.Scan(&reg.RunID, &reg.ToolID, &recordedAt, &tr.Date, &tr.Time, &tr.RMS, &tr.StdDev,
			&reg.FirstRMS, &reg.LastRMS, &reg.Iterations, &reg.Converged, &quality, &matrix); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		var m geom.Mat4
		if err := json.Unmarshal([]byte(matrix), &m); err != nil {
			return nil, fmt.Errorf("decoding matrix of %s: %w", reg.RunID, err)
		}
		tr.M = m
		tr.OK = tr.IsValid()
		reg.Quality = registration.Quality(quality)
		reg.Timestamp = time.Unix(0, recordedAt)
		out = append(out, reg)
	}
	return out, rows.Err()
}

// Average filters the transforms of the last n converged registrations of
// toolID with policy.
func (h *History) Average(ctx context.Context, toolID string, n int, policy registration.FilterPolicy) (registration.RigidTransform, error) {
	recent, err := h.Recent(ctx, toolID, n)
	if err != nil {
		return registration.RigidTransform{}, err
	}

	// Average wants oldest first
	list := make([]registration.RigidTransform, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i].Converged && recent[i].Transform.OK {
			list = append(list, recent[i].Transform)
		}
	}
	avg, err := registration.Average(list, policy)
	if err != nil {
		return registration.RigidTransform{}, fmt.Errorf("averaging history of %s: %w", toolID, err)
	}
	return avg, nil
}

// Count returns the number of stored registrations of toolID
func (h *History) Count(ctx context.Context, toolID string) (int, error) {
	var n int
	err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM registrations WHERE tool_id = ?`, toolID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting history of %s: %w", toolID, err)
	}
	return n, nil
}
