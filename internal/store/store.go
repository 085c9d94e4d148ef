// Package store persists zones, guardians and the monitored person's profile
// in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/signalsfoundry/safespaces/internal/logging"
	"github.com/signalsfoundry/safespaces/model"
)

// ErrNotFound is returned for unknown zone names.
var ErrNotFound = model.ErrNotFound

const timeFormat = time.RFC3339Nano

// Config selects the database file.
type Config struct {
	// Path is the SQLite file. Its directory is created if missing.
	Path string
}

// Store is a SQLite-backed zone store. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	log logging.Logger
	now func() time.Time
}

// Open opens (creating if needed) the database at cfg.Path with foreign keys
// on and applies pending migrations.
func Open(ctx context.Context, cfg Config, log logging.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("store: path is required")
	}
	if log == nil {
		log = logging.Noop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	version, err := migrate(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	log.Info(ctx, "zone store opened",
		logging.String("path", cfg.Path),
		logging.Int("schema_version", version),
	)
	return &Store{db: db, log: log, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutZone inserts or replaces a zone together with its guardian.
func (s *Store) PutZone(ctx context.Context, z model.Zone) error {
	if err := z.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ref := nullable(z.Guardian.Ref())
	if ref.Valid {
		// An empty endpoint never clears a previously resolved one.
		if _, err := tx.ExecContext(ctx, `INSERT INTO guardians(ref,name,phone,endpoint) VALUES (?,?,?,?)
			ON CONFLICT(ref) DO UPDATE SET
				name=excluded.name,
				phone=excluded.phone,
				endpoint=CASE WHEN excluded.endpoint <> '' THEN excluded.endpoint ELSE guardians.endpoint END`,
			ref.String, z.Guardian.Name, z.Guardian.Phone, z.Guardian.Endpoint); err != nil {
			return fmt.Errorf("upsert guardian: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO zones(name,latitude,longitude,radius_m,window_start,window_end,guardian_ref,updated_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET
			latitude=excluded.latitude,
			longitude=excluded.longitude,
			radius_m=excluded.radius_m,
			window_start=excluded.window_start,
			window_end=excluded.window_end,
			guardian_ref=excluded.guardian_ref,
			updated_at=excluded.updated_at`,
		z.Name, z.Center.Latitude, z.Center.Longitude, z.Radius,
		formatTime(z.Window.Start), formatTime(z.Window.End), ref, formatTime(s.now())); err != nil {
		return fmt.Errorf("upsert zone: %w", err)
	}
	return tx.Commit()
}

const zoneColumns = `z.name, z.latitude, z.longitude, z.radius_m, z.window_start, z.window_end,
	COALESCE(g.name,''), COALESCE(g.phone,''), COALESCE(g.endpoint,'')`

const zoneFrom = ` FROM zones z LEFT JOIN guardians g ON g.ref = z.guardian_ref`

type scanner interface {
	Scan(dest ...any) error
}

func scanZone(row scanner) (model.Zone, error) {
	var (
		z          model.Zone
		start, end string
	)
	err := row.Scan(&z.Name, &z.Center.Latitude, &z.Center.Longitude, &z.Radius, &start, &end,
		&z.Guardian.Name, &z.Guardian.Phone, &z.Guardian.Endpoint)
	if errors.Is(err, sql.ErrNoRows) {
		return z, ErrNotFound
	}
	if err != nil {
		return z, err
	}
	if z.Window.Start, err = parseTime(start); err != nil {
		return z, fmt.Errorf("zone %q window start: %w", z.Name, err)
	}
	if z.Window.End, err = parseTime(end); err != nil {
		return z, fmt.Errorf("zone %q window end: %w", z.Name, err)
	}
	return z, nil
}

// GetZone returns the named zone or ErrNotFound.
func (s *Store) GetZone(ctx context.Context, name string) (model.Zone, error) {
	z, err := scanZone(s.db.QueryRowContext(ctx, `SELECT `+zoneColumns+zoneFrom+` WHERE z.name=?`, name))
	if errors.Is(err, ErrNotFound) {
		return z, fmt.Errorf("zone %q: %w", name, ErrNotFound)
	}
	return z, err
}

// ListZones returns every stored zone ordered by name.
func (s *Store) ListZones(ctx context.Context) ([]model.Zone, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+zoneColumns+zoneFrom+` ORDER BY z.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []model.Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, z)
	}
	return res, rows.Err()
}

// DeleteZone removes the named zone or returns ErrNotFound.
func (s *Store) DeleteZone(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM zones WHERE name=?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("zone %q: %w", name, ErrNotFound)
	}
	return nil
}

// SetGuardianEndpoint records a resolved push endpoint for the guardian
// identified by ref. Unknown refs are ignored.
func (s *Store) SetGuardianEndpoint(ctx context.Context, ref, endpoint string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE guardians SET endpoint=? WHERE ref=?`, endpoint, ref)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.log.Debug(ctx, "endpoint for unknown guardian not stored", logging.String("guardian_ref", ref))
	}
	return nil
}

// GetProfile returns the monitored person, or the zero value if none was
// stored yet.
func (s *Store) GetProfile(ctx context.Context) (model.MonitoredPerson, error) {
	var p model.MonitoredPerson
	err := s.db.QueryRowContext(ctx, `SELECT name, phone FROM profile WHERE id=1`).Scan(&p.Name, &p.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MonitoredPerson{}, nil
	}
	return p, err
}

// PutProfile stores the monitored person.
func (s *Store) PutProfile(ctx context.Context, p model.MonitoredPerson) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO profile(id,name,phone) VALUES (1,?,?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, phone=excluded.phone`, p.Name, p.Phone)
	return err
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}
