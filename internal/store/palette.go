package store

import "fmt"

// LoadPalette returns the persisted project color assignments.
func (db *DB) LoadPalette() (map[string]int, error) {
	rows, err := db.Query("SELECT project_no, slot FROM palette")
	if err != nil {
		return nil, fmt.Errorf("querying palette: %w", err)
	}
	defer rows.Close()

	assignments := make(map[string]int)
	for rows.Next() {
		var projectNo string
		var slot int
		if err := rows.Scan(&projectNo, &slot); err != nil {
			return nil, fmt.Errorf("scanning palette row: %w", err)
		}
		assignments[projectNo] = slot
	}
	return assignments, rows.Err()
}

// SavePalette upserts the current assignments. Existing rows keep their
// slot so a project's color survives restarts.
func (db *DB) SavePalette(assignments map[string]int) error {
	for projectNo, slot := range assignments {
		_, err := db.Exec(
			"INSERT INTO palette (project_no, slot) VALUES (?, ?) ON CONFLICT(project_no) DO NOTHING",
			projectNo, slot,
		)
		if err != nil {
			return fmt.Errorf("saving palette entry: %w", err)
		}
	}
	return nil
}
