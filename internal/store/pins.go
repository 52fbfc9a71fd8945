package store

import (
	"fmt"
	"time"
)

// Pin records a room as pinned. Idempotent.
func (db *DB) Pin(roomID string) error {
	_, err := db.Exec(`
		INSERT INTO pins (room_id, pinned_at) VALUES (?, ?)
		ON CONFLICT(room_id) DO NOTHING`,
		roomID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("pin room: %w", err)
	}
	return nil
}

// Unpin removes a room's pin. Idempotent.
func (db *DB) Unpin(roomID string) error {
	if _, err := db.Exec(`DELETE FROM pins WHERE room_id = ?`, roomID); err != nil {
		return fmt.Errorf("unpin room: %w", err)
	}
	return nil
}

// PinnedRooms returns the set of pinned room ids.
func (db *DB) PinnedRooms() (map[string]bool, error) {
	rows, err := db.Query(`SELECT room_id FROM pins`)
	if err != nil {
		return nil, fmt.Errorf("list pins: %w", err)
	}
	defer func() { _ = rows.Close() }()

	pins := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pin: %w", err)
		}
		pins[id] = true
	}
	return pins, rows.Err()
}
