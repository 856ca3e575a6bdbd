package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its internal UUID.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// GetByDeviceID retrieves a device by its BACnet instance number.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByDeviceID(ctx context.Context, deviceID int) (*Device, error)

	// List retrieves all devices ordered by instance number.
	List(ctx context.Context) ([]Device, error)

	// ListOnline retrieves all devices currently marked online.
	ListOnline(ctx context.Context) ([]Device, error)

	// Upsert inserts a newly discovered device, or refreshes the
	// address, vendor metadata, last-seen timestamp and online flag of
	// an existing one. On return dev.ID holds the stored UUID.
	// Reports whether a new row was created.
	Upsert(ctx context.Context, dev *Device) (created bool, err error)

	// SetOnline transitions a device's online flag. A status history
	// record is appended only when the flag actually changes.
	SetOnline(ctx context.Context, id string, online bool, reason string) error

	// SetPointsCataloged marks whether the device's point catalog has
	// been built.
	SetPointsCataloged(ctx context.Context, id string, cataloged bool) error

	// TouchLastSeen records a successful communication with the device.
	TouchLastSeen(ctx context.Context, id string, at time.Time) error

	// MarkStaleOffline demotes online devices whose last successful
	// communication is older than the cutoff. Returns the demoted devices.
	MarkStaleOffline(ctx context.Context, cutoff time.Time, reason string) ([]Device, error)

	// StatusHistory returns a device's online/offline transitions,
	// most recent first, up to limit rows.
	StatusHistory(ctx context.Context, id string, limit int) ([]DeviceStatusRecord, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, device_id, address, vendor_id, vendor_name, model_name,
		online, points_cataloged, first_seen, last_seen, created_at, updated_at`

// GetByID retrieves a device by its internal UUID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`

	dev, err := scanDevice(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return dev, nil
}

// GetByDeviceID retrieves a device by its BACnet instance number.
func (r *SQLiteRepository) GetByDeviceID(ctx context.Context, deviceID int) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE device_id = ?`

	dev, err := scanDevice(r.db.QueryRowContext(ctx, query, deviceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by instance: %w", err)
	}
	return dev, nil
}

// List retrieves all devices ordered by instance number.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY device_id`
	return r.queryDevices(ctx, query)
}

// ListOnline retrieves all devices currently marked online.
func (r *SQLiteRepository) ListOnline(ctx context.Context) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE online = 1 ORDER BY device_id`
	return r.queryDevices(ctx, query)
}

// Upsert inserts a newly discovered device or refreshes an existing one.
func (r *SQLiteRepository) Upsert(ctx context.Context, dev *Device) (bool, error) {
	// Second precision matches the RFC3339 storage format, so the
	// in-memory struct round-trips identically through the database.
	now := time.Now().UTC().Truncate(time.Second)

	existing, err := r.GetByDeviceID(ctx, dev.DeviceID)
	switch {
	case errors.Is(err, ErrDeviceNotFound):
		// New device
		if dev.ID == "" {
			dev.ID = GenerateID()
		}
		dev.Online = true
		dev.FirstSeen = now
		dev.LastSeen = now
		dev.CreatedAt = now
		dev.UpdatedAt = now

		query := `
			INSERT INTO devices (
				id, device_id, address, vendor_id, vendor_name, model_name,
				online, points_cataloged, first_seen, last_seen, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

		_, err := r.db.ExecContext(ctx, query,
			dev.ID,
			dev.DeviceID,
			dev.Address,
			nullableInt(dev.VendorID),
			nullableString(dev.VendorName),
			nullableString(dev.ModelName),
			boolToInt(dev.Online),
			boolToInt(dev.PointsCataloged),
			dev.FirstSeen.Format(time.RFC3339),
			dev.LastSeen.Format(time.RFC3339),
			dev.CreatedAt.Format(time.RFC3339),
			dev.UpdatedAt.Format(time.RFC3339),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return false, ErrDeviceExists
			}
			return false, fmt.Errorf("inserting device: %w", err)
		}
		return true, nil

	case err != nil:
		return false, err

	default:
		// Known device: refresh address, vendor metadata and liveness.
		// Vendor fields only overwrite when the new announcement carries them.
		if dev.VendorID == nil {
			dev.VendorID = existing.VendorID
		}
		if dev.VendorName == nil {
			dev.VendorName = existing.VendorName
		}
		if dev.ModelName == nil {
			dev.ModelName = existing.ModelName
		}

		query := `
			UPDATE devices
			SET address = ?, vendor_id = ?, vendor_name = ?, model_name = ?,
			    online = 1, last_seen = ?, updated_at = ?
			WHERE id = ?`

		_, err := r.db.ExecContext(ctx, query,
			dev.Address,
			nullableInt(dev.VendorID),
			nullableString(dev.VendorName),
			nullableString(dev.ModelName),
			now.Format(time.RFC3339),
			now.Format(time.RFC3339),
			existing.ID,
		)
		if err != nil {
			return false, fmt.Errorf("updating device: %w", err)
		}

		dev.ID = existing.ID
		dev.Online = true
		dev.PointsCataloged = existing.PointsCataloged
		dev.FirstSeen = existing.FirstSeen
		dev.LastSeen = now
		dev.CreatedAt = existing.CreatedAt
		dev.UpdatedAt = now
		return false, nil
	}
}

// SetOnline transitions a device's online flag, recording the change
// in the status history when the flag actually flips.
func (r *SQLiteRepository) SetOnline(ctx context.Context, id string, online bool, reason string) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	_, err = tx.ExecContext(ctx,
		"UPDATE devices SET online = ?, updated_at = ? WHERE id = ?",
		boolToInt(online), now.Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating device online flag: %w", err)
	}

	if current.Online != online {
		if err := insertStatusRecord(ctx, tx, id, online, reason, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing online transition: %w", err)
	}
	return nil
}

// SetPointsCataloged marks whether the device's point catalog has been built.
func (r *SQLiteRepository) SetPointsCataloged(ctx context.Context, id string, cataloged bool) error {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET points_cataloged = ?, updated_at = ? WHERE id = ?",
		boolToInt(cataloged), now.Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating points_cataloged: %w", err)
	}
	return ensureRowAffected(result, ErrDeviceNotFound)
}

// TouchLastSeen records a successful communication with the device.
func (r *SQLiteRepository) TouchLastSeen(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET last_seen = ?, updated_at = ? WHERE id = ?",
		at.UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating last_seen: %w", err)
	}
	return ensureRowAffected(result, ErrDeviceNotFound)
}

// MarkStaleOffline demotes online devices whose last successful
// communication is older than the cutoff.
func (r *SQLiteRepository) MarkStaleOffline(ctx context.Context, cutoff time.Time, reason string) ([]Device, error) {
	query := `SELECT ` + deviceColumns + `
		FROM devices
		WHERE online = 1 AND last_seen < ?
		ORDER BY device_id`

	stale, err := r.queryDevices(ctx, query, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	if len(stale) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	for i := range stale {
		_, err = tx.ExecContext(ctx,
			"UPDATE devices SET online = 0, updated_at = ? WHERE id = ?",
			now.Format(time.RFC3339), stale[i].ID,
		)
		if err != nil {
			return nil, fmt.Errorf("demoting device %d: %w", stale[i].DeviceID, err)
		}
		if err := insertStatusRecord(ctx, tx, stale[i].ID, false, reason, now); err != nil {
			return nil, err
		}
		stale[i].Online = false
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing stale demotion: %w", err)
	}
	return stale, nil
}

// StatusHistory returns a device's online/offline transitions, most recent first.
func (r *SQLiteRepository) StatusHistory(ctx context.Context, id string, limit int) ([]DeviceStatusRecord, error) {
	query := `
		SELECT id, device_id, online, reason, recorded_at
		FROM device_status_history
		WHERE device_id = ?
		ORDER BY recorded_at DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, id, limit)
	if err != nil {
		return nil, fmt.Errorf("querying status history: %w", err)
	}
	defer rows.Close()

	var records []DeviceStatusRecord
	for rows.Next() {
		var rec DeviceStatusRecord
		var online int
		var reason sql.NullString
		var recordedAt string

		if err := rows.Scan(&rec.ID, &rec.DeviceID, &online, &reason, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning status record: %w", err)
		}
		rec.Online = online != 0
		if reason.Valid {
			rec.Reason = &reason.String
		}
		rec.RecordedAt, err = time.Parse(time.RFC3339, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating status history: %w", err)
	}
	return records, nil
}

// insertStatusRecord appends one status history row within a transaction.
func insertStatusRecord(ctx context.Context, tx *sql.Tx, deviceID string, online bool, reason string, at time.Time) error {
	var reasonVal sql.NullString
	if reason != "" {
		reasonVal = sql.NullString{String: reason, Valid: true}
	}

	_, err := tx.ExecContext(ctx,
		"INSERT INTO device_status_history (id, device_id, online, reason, recorded_at) VALUES (?, ?, ?, ?, ?)",
		GenerateID(), deviceID, boolToInt(online), reasonVal, at.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting status record: %w", err)
	}
	return nil
}

// queryDevices executes a query and returns a slice of devices.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *dev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDevice scans a row or rows result into a Device.
func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var vendorID sql.NullInt64
	var vendorName, modelName sql.NullString
	var online, pointsCataloged int
	var firstSeen, lastSeen, createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.DeviceID,
		&d.Address,
		&vendorID,
		&vendorName,
		&modelName,
		&online,
		&pointsCataloged,
		&firstSeen,
		&lastSeen,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Online = online != 0
	d.PointsCataloged = pointsCataloged != 0

	if vendorID.Valid {
		v := int(vendorID.Int64)
		d.VendorID = &v
	}
	if vendorName.Valid {
		d.VendorName = &vendorName.String
	}
	if modelName.Valid {
		d.ModelName = &modelName.String
	}

	var parseErr error
	if d.FirstSeen, parseErr = time.Parse(time.RFC3339, firstSeen); parseErr != nil {
		return nil, fmt.Errorf("parsing first_seen: %w", parseErr)
	}
	if d.LastSeen, parseErr = time.Parse(time.RFC3339, lastSeen); parseErr != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", parseErr)
	}
	if d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt); parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	if d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt); parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &d, nil
}

// ensureRowAffected returns notFound if the statement touched no rows.
func ensureRowAffected(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// nullableInt returns a sql.NullInt64 for optional int pointers.
func nullableInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

// nullableFloat returns a sql.NullFloat64 for optional float pointers.
func nullableFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
