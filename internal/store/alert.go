package store

import (
	"database/sql"
	"errors"
	"time"
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 100

// Alert is a persisted service request and its delivery outcome.
type Alert struct {
	ID         string    `json:"id"`
	TrackID    int       `json:"track_id"`
	TableID    int       `json:"table_id"`
	Type       string    `json:"type"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
	Delivered  bool      `json:"delivered"`
	Error      string    `json:"error,omitempty"`
}

// AlertRepository provides access to the alert history.
type AlertRepository struct {
	db *sql.DB
}

// Alerts returns the alert repository for this store.
func (s *Store) Alerts() *AlertRepository {
	return &AlertRepository{db: s.db}
}

const alertColumns = `id, track_id, table_id, type, confidence, created_at, delivered, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*Alert, error) {
	a := &Alert{}
	var createdAt int64
	var delivered int

	if err := row.Scan(&a.ID, &a.TrackID, &a.TableID, &a.Type, &a.Confidence, &createdAt, &delivered, &a.Error); err != nil {
		return nil, err
	}

	a.CreatedAt = time.Unix(0, createdAt).UTC()
	a.Delivered = delivered != 0
	return a, nil
}

// Create inserts a new alert. A zero CreatedAt is set to now.
func (r *AlertRepository) Create(a *Alert) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(
		`INSERT INTO alerts (`+alertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TrackID, a.TableID, a.Type, a.Confidence, a.CreatedAt.UnixNano(), boolToInt(a.Delivered), a.Error,
	)
	return err
}

// GetByID retrieves an alert by its ID.
func (r *AlertRepository) GetByID(id string) (*Alert, error) {
	a, err := scanAlert(r.db.QueryRow(`SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// List returns the most recent alerts, newest first. A non-positive limit
// selects DefaultListLimit.
func (r *AlertRepository) List(limit int) ([]*Alert, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := r.db.Query(
		`SELECT `+alertColumns+` FROM alerts ORDER BY created_at DESC, id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return alerts, nil
}

// MarkDelivered records the outcome of a delivery attempt. A nil sendErr
// marks the alert delivered and clears any previous error.
func (r *AlertRepository) MarkDelivered(id string, sendErr error) error {
	delivered, msg := 1, ""
	if sendErr != nil {
		delivered, msg = 0, sendErr.Error()
	}

	result, err := r.db.Exec(
		`UPDATE alerts SET delivered = ?, error = ? WHERE id = ?`,
		delivered, msg, id,
	)
	if err != nil {
		return err
	}
	return affectedOne(result)
}

// DeleteBefore removes alerts created before t and returns how many were
// removed.
func (r *AlertRepository) DeleteBefore(t time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM alerts WHERE created_at < ?`, t.UnixNano())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
