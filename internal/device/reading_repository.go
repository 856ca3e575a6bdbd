package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarkHash/bacmon-core/internal/anomaly"
)

// ReadingRepository defines persistence operations for collected
// readings and their anomaly assessments.
type ReadingRepository interface {
	// Save stores a reading and, when present, its assessment in one
	// transaction. Either both rows land or neither does.
	Save(ctx context.Context, reading *Reading, assessment *anomaly.Assessment) error

	// Latest returns the most recent reading for a point.
	// Returns ErrReadingNotFound if the point has no readings.
	Latest(ctx context.Context, pointID string) (*Reading, error)

	// ListByPoint returns readings for a point, most recent first,
	// up to limit rows.
	ListByPoint(ctx context.Context, pointID string, limit int) ([]Reading, error)

	// NumericHistory returns the numeric samples for a point collected
	// at or after since, oldest first. Non-numeric readings are skipped.
	NumericHistory(ctx context.Context, pointID string, since time.Time) ([]anomaly.Sample, error)

	// Assessment returns the stored assessment for a reading, or nil
	// when the reading was never assessed.
	Assessment(ctx context.Context, readingID string) (*anomaly.Assessment, error)
}

// SQLiteReadingRepository implements ReadingRepository using SQLite.
type SQLiteReadingRepository struct {
	db *sql.DB
}

// NewSQLiteReadingRepository creates a new SQLite-backed reading repository.
func NewSQLiteReadingRepository(db *sql.DB) *SQLiteReadingRepository {
	return &SQLiteReadingRepository{db: db}
}

// Save stores a reading and its optional assessment atomically.
func (r *SQLiteReadingRepository) Save(ctx context.Context, reading *Reading, assessment *anomaly.Assessment) error {
	if reading.ID == "" {
		reading.ID = GenerateID()
	}
	if reading.Quality == "" {
		reading.Quality = QualityGood
	}
	if reading.CollectedAt.IsZero() {
		reading.CollectedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	_, err = tx.ExecContext(ctx,
		`INSERT INTO readings (id, point_id, value, numeric_value, quality, collected_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		reading.ID,
		reading.PointID,
		reading.Value,
		nullableFloat(reading.Numeric),
		string(reading.Quality),
		reading.CollectedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}

	if assessment != nil {
		if err := insertAssessment(ctx, tx, reading, assessment); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing reading: %w", err)
	}
	return nil
}

// insertAssessment stores one assessment row within a transaction.
func insertAssessment(ctx context.Context, tx *sql.Tx, reading *Reading, a *anomaly.Assessment) error {
	var methodsJSON sql.NullString
	if len(a.Methods) > 0 {
		data, err := json.Marshal(a.Methods)
		if err != nil {
			return fmt.Errorf("marshalling method contributions: %w", err)
		}
		methodsJSON = sql.NullString{String: string(data), Valid: true}
	}

	var anomalous sql.NullInt64
	if a.Anomalous != nil {
		anomalous = sql.NullInt64{Int64: int64(boolToInt(*a.Anomalous)), Valid: true}
	}

	assessedAt := a.AssessedAt
	if assessedAt.IsZero() {
		assessedAt = reading.CollectedAt
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO anomaly_assessments (
			id, reading_id, point_id, status, anomalous, ensemble_score,
			sample_count, fallback, methods, assessed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		GenerateID(),
		reading.ID,
		reading.PointID,
		string(a.Status),
		anomalous,
		nullableFloat(a.EnsembleScore),
		a.SampleCount,
		boolToInt(a.Fallback),
		methodsJSON,
		assessedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting assessment: %w", err)
	}
	return nil
}

// Latest returns the most recent reading for a point.
func (r *SQLiteReadingRepository) Latest(ctx context.Context, pointID string) (*Reading, error) {
	query := `
		SELECT id, point_id, value, numeric_value, quality, collected_at
		FROM readings
		WHERE point_id = ?
		ORDER BY collected_at DESC
		LIMIT 1`

	reading, err := scanReading(r.db.QueryRowContext(ctx, query, pointID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReadingNotFound
		}
		return nil, fmt.Errorf("querying latest reading: %w", err)
	}
	return reading, nil
}

// ListByPoint returns readings for a point, most recent first.
func (r *SQLiteReadingRepository) ListByPoint(ctx context.Context, pointID string, limit int) ([]Reading, error) {
	query := `
		SELECT id, point_id, value, numeric_value, quality, collected_at
		FROM readings
		WHERE point_id = ?
		ORDER BY collected_at DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, pointID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		readings = append(readings, *reading)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating readings: %w", err)
	}
	return readings, nil
}

// NumericHistory returns a point's numeric samples since a cutoff, oldest first.
func (r *SQLiteReadingRepository) NumericHistory(ctx context.Context, pointID string, since time.Time) ([]anomaly.Sample, error) {
	query := `
		SELECT numeric_value, collected_at
		FROM readings
		WHERE point_id = ? AND numeric_value IS NOT NULL AND collected_at >= ?
		ORDER BY collected_at ASC`

	rows, err := r.db.QueryContext(ctx, query, pointID, since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("querying numeric history: %w", err)
	}
	defer rows.Close()

	var samples []anomaly.Sample
	for rows.Next() {
		var value float64
		var collectedAt string
		if err := rows.Scan(&value, &collectedAt); err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		at, err := time.Parse(time.RFC3339, collectedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing collected_at: %w", err)
		}
		samples = append(samples, anomaly.Sample{Value: value, At: at})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating samples: %w", err)
	}
	return samples, nil
}

// Assessment returns the stored assessment for a reading, or nil when absent.
func (r *SQLiteReadingRepository) Assessment(ctx context.Context, readingID string) (*anomaly.Assessment, error) {
	query := `
		SELECT status, anomalous, ensemble_score, sample_count, fallback, methods, assessed_at
		FROM anomaly_assessments
		WHERE reading_id = ?`

	var a anomaly.Assessment
	var status string
	var anomalous sql.NullInt64
	var score sql.NullFloat64
	var fallback int
	var methodsJSON sql.NullString
	var assessedAt string

	err := r.db.QueryRowContext(ctx, query, readingID).Scan(
		&status, &anomalous, &score, &a.SampleCount, &fallback, &methodsJSON, &assessedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying assessment: %w", err)
	}

	a.Status = anomaly.Status(status)
	a.Fallback = fallback != 0
	if anomalous.Valid {
		v := anomalous.Int64 != 0
		a.Anomalous = &v
	}
	if score.Valid {
		a.EnsembleScore = &score.Float64
	}
	if methodsJSON.Valid && methodsJSON.String != "" {
		if err := json.Unmarshal([]byte(methodsJSON.String), &a.Methods); err != nil {
			return nil, fmt.Errorf("unmarshalling method contributions: %w", err)
		}
	}
	a.AssessedAt, err = time.Parse(time.RFC3339, assessedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing assessed_at: %w", err)
	}

	return &a, nil
}

// scanReading scans a row or rows result into a Reading.
func scanReading(scanner rowScanner) (*Reading, error) {
	var reading Reading
	var numeric sql.NullFloat64
	var quality, collectedAt string

	err := scanner.Scan(
		&reading.ID,
		&reading.PointID,
		&reading.Value,
		&numeric,
		&quality,
		&collectedAt,
	)
	if err != nil {
		return nil, err
	}

	reading.Quality = Quality(quality)
	if numeric.Valid {
		reading.Numeric = &numeric.Float64
	}
	reading.CollectedAt, err = time.Parse(time.RFC3339, collectedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing collected_at: %w", err)
	}

	return &reading, nil
}
