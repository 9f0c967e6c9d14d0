package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"auction-sync/internal/domain"

	_ "github.com/go-sql-driver/mysql"
)

const createJournalTable = `
    CREATE TABLE IF NOT EXISTS push_events (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        session_id VARCHAR(64) NOT NULL,
        channel VARCHAR(16) NOT NULL,
        event_kind VARCHAR(64) NOT NULL,
        auction_car_id VARCHAR(64) NOT NULL DEFAULT '',
        amount DECIMAL(14,2) NOT NULL DEFAULT 0,
        payload JSON NOT NULL,
        received_at DATETIME(3) NOT NULL,
        created_at DATETIME(3) NOT NULL,
        INDEX idx_push_events_car (auction_car_id, received_at)
    )
`

// MySQLEventJournal records the push events a client session observed.
type MySQLEventJournal struct {
	db *sql.DB
}

func NewMySQLEventJournal(db *sql.DB) *MySQLEventJournal {
	return &MySQLEventJournal{db: db}
}

func (r *MySQLEventJournal) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createJournalTable); err != nil {
		return fmt.Errorf("create push_events table: %w", err)
	}
	return nil
}

func (r *MySQLEventJournal) Record(ctx context.Context, entry *domain.JournalEntry) error {
	query := `
        INSERT INTO push_events (session_id, channel, event_kind, auction_car_id, amount, payload, received_at, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `
	payload := entry.Payload
	if len(payload) == 0 {
		payload = []byte("null")
	}
	_, err := r.db.ExecContext(ctx, query,
		entry.SessionID, entry.Channel.String(), string(entry.Kind), entry.AuctionCarID,
		entry.Amount, payload, entry.ReceivedAt, time.Now().UTC())
	return err
}

// History returns the journaled events of one auction car, oldest first.
func (r *MySQLEventJournal) History(ctx context.Context, auctionCarID string, limit int) ([]*domain.JournalEntry, error) {
	query := `
        SELECT session_id, channel, event_kind, auction_car_id, amount, payload, received_at
        FROM push_events
        WHERE auction_car_id = ?
        ORDER BY received_at ASC, id ASC
        LIMIT ?
    `

	rows, err := r.db.QueryContext(ctx, query, auctionCarID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.JournalEntry
	for rows.Next() {
		var entry domain.JournalEntry
		var channel, kind string

		err := rows.Scan(&entry.SessionID, &channel, &kind, &entry.AuctionCarID,
			&entry.Amount, &entry.Payload, &entry.ReceivedAt)
		if err != nil {
			return nil, err
		}

		if err := entry.Channel.UnmarshalText([]byte(channel)); err != nil {
			return nil, err
		}
		entry.Kind = domain.EventKind(kind)
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
