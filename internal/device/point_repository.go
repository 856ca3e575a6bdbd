package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PointRepository defines persistence operations for the point catalog.
type PointRepository interface {
	// GetByID retrieves a point by its internal UUID.
	// Returns ErrPointNotFound if the point does not exist.
	GetByID(ctx context.Context, id string) (*Point, error)

	// ListByDevice retrieves all points for a device, ordered by
	// category then instance number.
	ListByDevice(ctx context.Context, deviceID string) ([]Point, error)

	// CountByDevice returns the number of cataloged points for a device.
	CountByDevice(ctx context.Context, deviceID string) (int, error)

	// Upsert inserts a point or refreshes the name and units of an
	// existing one. Identity is (device, object type, instance number),
	// so repeated catalog builds are idempotent. On return p.ID holds
	// the stored UUID. Reports whether a new row was created.
	Upsert(ctx context.Context, p *Point) (created bool, err error)
}

// SQLitePointRepository implements PointRepository using SQLite.
type SQLitePointRepository struct {
	db *sql.DB
}

// NewSQLitePointRepository creates a new SQLite-backed point repository.
func NewSQLitePointRepository(db *sql.DB) *SQLitePointRepository {
	return &SQLitePointRepository{db: db}
}

const pointColumns = `id, device_id, object_type, instance_number, name, units, category,
		created_at, updated_at`

// GetByID retrieves a point by its internal UUID.
func (r *SQLitePointRepository) GetByID(ctx context.Context, id string) (*Point, error) {
	query := `SELECT ` + pointColumns + ` FROM points WHERE id = ?`

	p, err := scanPoint(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPointNotFound
		}
		return nil, fmt.Errorf("querying point by id: %w", err)
	}
	return p, nil
}

// ListByDevice retrieves all points for a device, ordered by category
// then instance number. The ordering keeps collection batches stable
// across cycles.
func (r *SQLitePointRepository) ListByDevice(ctx context.Context, deviceID string) ([]Point, error) {
	query := `SELECT ` + pointColumns + `
		FROM points
		WHERE device_id = ?
		ORDER BY category, object_type, instance_number`

	rows, err := r.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying points: %w", err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning point: %w", err)
		}
		points = append(points, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating points: %w", err)
	}
	return points, nil
}

// CountByDevice returns the number of cataloged points for a device.
func (r *SQLitePointRepository) CountByDevice(ctx context.Context, deviceID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM points WHERE device_id = ?", deviceID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting points: %w", err)
	}
	return count, nil
}

// Upsert inserts a point or refreshes an existing one.
func (r *SQLitePointRepository) Upsert(ctx context.Context, p *Point) (bool, error) {
	now := time.Now().UTC()

	var existingID string
	err := r.db.QueryRowContext(ctx,
		"SELECT id FROM points WHERE device_id = ? AND object_type = ? AND instance_number = ?",
		p.DeviceID, string(p.ObjectType), p.InstanceNumber,
	).Scan(&existingID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if p.ID == "" {
			p.ID = GenerateID()
		}
		if p.Category == "" {
			p.Category = Classify(p.ObjectType)
		}
		p.CreatedAt = now
		p.UpdatedAt = now

		query := `
			INSERT INTO points (
				id, device_id, object_type, instance_number, name, units, category,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

		_, err := r.db.ExecContext(ctx, query,
			p.ID,
			p.DeviceID,
			string(p.ObjectType),
			p.InstanceNumber,
			nullableString(p.Name),
			nullableString(p.Units),
			string(p.Category),
			p.CreatedAt.Format(time.RFC3339),
			p.UpdatedAt.Format(time.RFC3339),
		)
		if err != nil {
			return false, fmt.Errorf("inserting point: %w", err)
		}
		return true, nil

	case err != nil:
		return false, fmt.Errorf("querying point identity: %w", err)

	default:
		p.ID = existingID
		if p.Category == "" {
			p.Category = Classify(p.ObjectType)
		}
		p.UpdatedAt = now

		query := `
			UPDATE points
			SET name = ?, units = ?, category = ?, updated_at = ?
			WHERE id = ?`

		_, err := r.db.ExecContext(ctx, query,
			nullableString(p.Name),
			nullableString(p.Units),
			string(p.Category),
			p.UpdatedAt.Format(time.RFC3339),
			p.ID,
		)
		if err != nil {
			return false, fmt.Errorf("updating point: %w", err)
		}
		return false, nil
	}
}

// scanPoint scans a row or rows result into a Point.
func scanPoint(scanner rowScanner) (*Point, error) {
	var p Point
	var name, units sql.NullString
	var objectType, category string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&p.ID,
		&p.DeviceID,
		&objectType,
		&p.InstanceNumber,
		&name,
		&units,
		&category,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.ObjectType = ObjectType(objectType)
	p.Category = Category(category)

	if name.Valid {
		p.Name = &name.String
	}
	if units.Valid {
		p.Units = &units.String
	}

	var parseErr error
	if p.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt); parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	if p.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt); parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &p, nil
}
