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

	"github.com/banshee-data/btsniff/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var ErrUnknownSession = errors.New("unknown session")

// Store persists capture sessions and the devices seen in them.
type Store struct {
	*sql.DB
	path  string
	clock timeutil.Clock
}

// Session is one capture run.
type Session struct {
	ID      string          `json:"id"`
	Source  string          `json:"source"`
	Started time.Time       `json:"started"`
	Ended   *time.Time      `json:"ended,omitempty"`
	Stats   json.RawMessage `json:"stats,omitempty"`
}

// OpenStore opens (creating if needed) the database at path and applies
// pending migrations.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	s := &Store{DB: db, path: path, clock: timeutil.RealClock{}}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// SetClock replaces the clock used to stamp sessions.
func (s *Store) SetClock(c timeutil.Clock) { s.clock = c }

// MigrateUp runs all pending migrations.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// Closing m would close the shared connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the applied schema version, 0 when none.
func (s *Store) MigrateVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// StartSession records the start of a capture and returns its id.
func (s *Store) StartSession(ctx context.Context, source string) (Session, error) {
	sess := Session{ID: uuid.NewString(), Source: source, Started: s.clock.Now()}
	_, err := s.ExecContext(ctx,
		`INSERT INTO sessions (session_id, source, started_unix_nanos) VALUES (?, ?, ?)`,
		sess.ID, sess.Source, sess.Started.UnixNano())
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// EndSession stamps the end time and stores stats as JSON.
func (s *Store) EndSession(ctx context.Context, id string, stats any) error {
	blob, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode session stats: %w", err)
	}
	res, err := s.ExecContext(ctx,
		`UPDATE sessions SET ended_unix_nanos = ?, stats_json = ? WHERE session_id = ?`,
		s.clock.Now().UnixNano(), string(blob), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("end session %s: %w", id, ErrUnknownSession)
	}
	return nil
}

// Sessions lists sessions, newest first.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := s.QueryContext(ctx, `SELECT session_id, source, started_unix_nanos, ended_unix_nanos, stats_json
		FROM sessions ORDER BY started_unix_nanos DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			sess    Session
			started int64
			ended   sql.NullInt64
			stats   string
		)
		if err := rows.Scan(&sess.ID, &sess.Source, &started, &ended, &stats); err != nil {
			return nil, err
		}
		sess.Started = time.Unix(0, started).UTC()
		if ended.Valid {
			t := time.Unix(0, ended.Int64).UTC()
			sess.Ended = &t
		}
		sess.Stats = json.RawMessage(stats)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// UpsertDevices writes devices for session in one transaction.
func (s *Store) UpsertDevices(ctx context.Context, session string, devices []Device) error {
	if session == "" {
		return ErrUnknownSession
	}
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO devices (
			session_id, device_key, kind, lap, uap, nap, address, name,
			first_seen_unix_nanos, last_seen_unix_nanos, packets
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, device_key) DO UPDATE SET
			uap = COALESCE(excluded.uap, uap),
			nap = COALESCE(excluded.nap, nap),
			address = excluded.address,
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE name END,
			last_seen_unix_nanos = excluded.last_seen_unix_nanos,
			packets = excluded.packets`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range devices {
		var uap, nap sql.NullInt64
		if d.UAP != nil {
			uap = sql.NullInt64{Int64: int64(*d.UAP), Valid: true}
		}
		if d.NAP != nil {
			nap = sql.NullInt64{Int64: int64(*d.NAP), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, session, d.Key, string(d.Kind), int64(d.LAP), uap, nap,
			d.Address, d.Name, d.FirstSeen.UnixNano(), d.LastSeen.UnixNano(), int64(d.Packets)); err != nil {
			return fmt.Errorf("upsert device %s: %w", d.Key, err)
		}
	}
	return tx.Commit()
}

// Devices returns the devices recorded for session sorted by key.
func (s *Store) Devices(ctx context.Context, session string) ([]Device, error) {
	rows, err := s.QueryContext(ctx, `SELECT device_key, kind, lap, uap, nap, address, name,
			first_seen_unix_nanos, last_seen_unix_nanos, packets
		FROM devices WHERE session_id = ? ORDER BY device_key`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var (
			d           Device
			kind        string
			lap         int64
			uap, nap    sql.NullInt64
			first, last int64
			packets     int64
		)
		if err := rows.Scan(&d.Key, &kind, &lap, &uap, &nap, &d.Address, &d.Name, &first, &last, &packets); err != nil {
			return nil, err
		}
		d.Kind = Kind(kind)
		d.LAP = uint32(lap)
		if uap.Valid {
			v := uint8(uap.Int64)
			d.UAP = &v
		}
		if nap.Valid {
			v := uint16(nap.Int64)
			d.NAP = &v
		}
		d.FirstSeen = time.Unix(0, first).UTC()
		d.LastSeen = time.Unix(0, last).UTC()
		d.Packets = uint64(packets)
		devices = append(devices, d)
	}
	return devices, rows.Err()
}
