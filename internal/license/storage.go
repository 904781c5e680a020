package license

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Store is the shared, atomically-updatable state behind the pipeline. All
// coordination (dedup ledger, device-quota increments) goes through it;
// nothing is held in per-process memory.
type Store interface {
	// CreateLicense persists the license and its dedup ledger entry in one
	// atomic unit. Returns ErrEventProcessed if the event was already
	// ledgered and ErrDuplicatePayment if the payment already produced a
	// license.
	CreateLicense(ctx context.Context, l *License, eventID string) error
	// SeenEvent reports whether the event is already in the dedup ledger.
	SeenEvent(ctx context.Context, eventID string) (bool, error)
	GetLicense(ctx context.Context, key string) (*License, error)
	GetLicenseByPayment(ctx context.Context, sourcePaymentID string) (*License, error)
	GetLicensesByEmail(ctx context.Context, email string) ([]*License, error)
	// Revoke permanently deactivates a license. There is no un-revoke.
	Revoke(ctx context.Context, key string) error
	// RegisterDevice binds deviceID to the license, consuming a slot unless
	// the device is already known. The quota check and the increment are one
	// atomic step; when the quota is exhausted it returns ErrDeviceLimit.
	// The returned bool is true when the device was already registered.
	RegisterDevice(ctx context.Context, key, deviceID string) (bool, error)
}

// Storage is the Postgres-backed Store.
type Storage struct {
	db *sql.DB
}

func NewStorage(db *sql.DB) *Storage { return &Storage{db: db} }

// Migrate creates the schema when absent. Idempotent.
func (s *Storage) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS licenses (
			key                 TEXT PRIMARY KEY,
			tier                TEXT NOT NULL,
			customer_name       TEXT NOT NULL,
			customer_email      TEXT NOT NULL,
			customer_company    TEXT NOT NULL DEFAULT '',
			customer_phone      TEXT NOT NULL DEFAULT '',
			issued_at           TIMESTAMPTZ NOT NULL,
			expires_at          TIMESTAMPTZ NOT NULL,
			max_devices         INT NOT NULL,
			used_devices        INT NOT NULL DEFAULT 0,
			is_active           BOOLEAN NOT NULL DEFAULT TRUE,
			integrity_signature TEXT NOT NULL,
			source_payment_id   TEXT NOT NULL UNIQUE
		);
		CREATE INDEX IF NOT EXISTS licenses_email_idx ON licenses (customer_email);
		CREATE TABLE IF NOT EXISTS license_devices (
			license_key   TEXT NOT NULL REFERENCES licenses(key),
			device_id     TEXT NOT NULL,
			registered_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (license_key, device_id)
		);
		CREATE TABLE IF NOT EXISTS processed_events (
			event_id     TEXT PRIMARY KEY,
			processed_at TIMESTAMPTZ NOT NULL
		);`)
	if err != nil {
		return PersistenceError{Err: fmt.Errorf("migrate: %w", err)}
	}
	return nil
}

func (s *Storage) CreateLicense(ctx context.Context, l *License, eventID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PersistenceError{Err: fmt.Errorf("begin: %w", err)}
	}
	defer tx.Rollback()

	// Insert-if-absent on the ledger is the exactly-once guard; a redelivered
	// event loses the race here and nothing else happens.
	res, err := tx.ExecContext(ctx,
		`INSERT INTO processed_events (event_id, processed_at) VALUES ($1, now())
		 ON CONFLICT (event_id) DO NOTHING`, eventID)
	if err != nil {
		return PersistenceError{Err: fmt.Errorf("insert processed_event: %w", err)}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEventProcessed
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO licenses (
			key, tier, customer_name, customer_email, customer_company, customer_phone,
			issued_at, expires_at, max_devices, used_devices, is_active,
			integrity_signature, source_payment_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		l.Key, l.Tier, l.Customer.Name, l.Customer.Email, l.Customer.Company, l.Customer.Phone,
		l.IssuedAt, l.ExpiresAt, l.MaxDevices, l.UsedDevices, l.IsActive,
		l.IntegritySignature, l.SourcePaymentID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePayment
		}
		return PersistenceError{Err: fmt.Errorf("insert license: %w", err)}
	}

	if err := tx.Commit(); err != nil {
		return PersistenceError{Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

func (s *Storage) SeenEvent(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_events WHERE event_id = $1`, eventID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, PersistenceError{Err: fmt.Errorf("query processed_events: %w", err)}
	}
	return true, nil
}

const licenseColumns = `key, tier, customer_name, customer_email, customer_company, customer_phone,
	issued_at, expires_at, max_devices, used_devices, is_active, integrity_signature, source_payment_id`

func (s *Storage) GetLicense(ctx context.Context, key string) (*License, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE key = $1`, key)
	return scanLicense(row)
}

func (s *Storage) GetLicenseByPayment(ctx context.Context, sourcePaymentID string) (*License, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE source_payment_id = $1`, sourcePaymentID)
	return scanLicense(row)
}

func (s *Storage) GetLicensesByEmail(ctx context.Context, email string) ([]*License, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+licenseColumns+` FROM licenses WHERE customer_email = $1 ORDER BY issued_at`, email)
	if err != nil {
		return nil, PersistenceError{Err: fmt.Errorf("query licenses by email: %w", err)}
	}
	defer rows.Close()

	var out []*License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, PersistenceError{Err: err}
	}
	return out, nil
}

func (s *Storage) Revoke(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE licenses SET is_active = FALSE WHERE key = $1`, key)
	if err != nil {
		return PersistenceError{Err: fmt.Errorf("revoke: %w", err)}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Storage) RegisterDevice(ctx context.Context, key, deviceID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, PersistenceError{Err: fmt.Errorf("begin: %w", err)}
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO license_devices (license_key, device_id, registered_at)
		 VALUES ($1, $2, $3) ON CONFLICT (license_key, device_id) DO NOTHING`,
		key, deviceID, time.Now().UTC())
	if err != nil {
		return false, PersistenceError{Err: fmt.Errorf("insert device: %w", err)}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Known device; re-activation never consumes another slot.
		return true, tx.Commit()
	}

	// Guarded increment: two simultaneous activations on the last free slot
	// cannot both pass the WHERE clause.
	res, err = tx.ExecContext(ctx,
		`UPDATE licenses SET used_devices = used_devices + 1
		 WHERE key = $1 AND used_devices < max_devices`, key)
	if err != nil {
		return false, PersistenceError{Err: fmt.Errorf("consume device slot: %w", err)}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, ErrDeviceLimit
	}

	if err := tx.Commit(); err != nil {
		return false, PersistenceError{Err: fmt.Errorf("commit: %w", err)}
	}
	return false, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicense(row rowScanner) (*License, error) {
	var l License
	err := row.Scan(&l.Key, &l.Tier, &l.Customer.Name, &l.Customer.Email,
		&l.Customer.Company, &l.Customer.Phone, &l.IssuedAt, &l.ExpiresAt,
		&l.MaxDevices, &l.UsedDevices, &l.IsActive, &l.IntegritySignature,
		&l.SourcePaymentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, PersistenceError{Err: fmt.Errorf("scan license: %w", err)}
	}
	return &l, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
