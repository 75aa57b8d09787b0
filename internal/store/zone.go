package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Zone is a persisted table zone. Polygon holds [x, y] pixel pairs.
type Zone struct {
	TableID int      `json:"table_id"`
	Name    string   `json:"name"`
	Polygon [][2]int `json:"polygon"`
}

// ZoneRepository provides CRUD operations for table zones.
type ZoneRepository struct {
	db *sql.DB
}

// Zones returns the zone repository for this store.
func (s *Store) Zones() *ZoneRepository {
	return &ZoneRepository{db: s.db}
}

// Upsert inserts the zone or replaces the one with the same table id.
func (r *ZoneRepository) Upsert(z *Zone) error {
	polygon, err := json.Marshal(z.Polygon)
	if err != nil {
		return fmt.Errorf("failed to encode polygon: %w", err)
	}

	_, err = r.db.Exec(
		`INSERT INTO zones (table_id, name, polygon) VALUES (?, ?, ?)
		 ON CONFLICT(table_id) DO UPDATE SET name = excluded.name, polygon = excluded.polygon`,
		z.TableID, z.Name, string(polygon),
	)
	return err
}

func scanZone(row rowScanner) (*Zone, error) {
	z := &Zone{}
	var polygon string

	if err := row.Scan(&z.TableID, &z.Name, &polygon); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(polygon), &z.Polygon); err != nil {
		return nil, fmt.Errorf("zone %d: failed to decode polygon: %w", z.TableID, err)
	}
	return z, nil
}

// Get retrieves the zone of a table.
func (r *ZoneRepository) Get(tableID int) (*Zone, error) {
	z, err := scanZone(r.db.QueryRow(
		`SELECT table_id, name, polygon FROM zones WHERE table_id = ?`, tableID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return z, nil
}

// List retrieves all zones ordered by table id.
func (r *ZoneRepository) List() ([]*Zone, error) {
	rows, err := r.db.Query(`SELECT table_id, name, polygon FROM zones ORDER BY table_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var zones []*Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return zones, nil
}

// Delete removes the zone of a table.
func (r *ZoneRepository) Delete(tableID int) error {
	result, err := r.db.Exec(`DELETE FROM zones WHERE table_id = ?`, tableID)
	if err != nil {
		return err
	}
	return affectedOne(result)
}
