package trader

import (
	"database/sql"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/MadeByDiesel/ProjectX-Trading-Bot/internal/model"
)

// Journal persists trade events to SQLite for analysis and audit.
// Journal failures are logged by the caller, never surfaced to the
// trading path.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// NewJournal opens (or creates) a SQLite journal database.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS trade_events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id    TEXT,
		contract    TEXT NOT NULL,
		action      TEXT NOT NULL,
		qty         INTEGER NOT NULL,
		price       REAL NOT NULL,
		reason      TEXT,
		detail      TEXT,
		event_at    DATETIME NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trade_events_contract ON trade_events(contract);
	CREATE INDEX IF NOT EXISTS idx_trade_events_event_at ON trade_events(event_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[journal] opened trade journal at %s", dbPath)
	return &Journal{db: db}, nil
}

// DB exposes the handle for health probes.
func (j *Journal) DB() *sql.DB { return j.db }

// Record persists a trade event.
func (j *Journal) Record(ev model.TradeEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO trade_events (order_id, contract, action, qty, price, reason, detail, event_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.OrderID,
		ev.ContractID,
		string(ev.Action),
		ev.Qty,
		ev.Price,
		ev.Reason,
		ev.Detail,
		ev.TS.Format(time.RFC3339),
	)
	return err
}

// EventRecord is a row from the trade_events table.
type EventRecord struct {
	ID       int64   `json:"id"`
	OrderID  string  `json:"order_id"`
	Contract string  `json:"contract"`
	Action   string  `json:"action"`
	Qty      int64   `json:"qty"`
	Price    float64 `json:"price"`
	Reason   string  `json:"reason"`
	Detail   string  `json:"detail"`
	EventAt  string  `json:"event_at"`
}

// Recent returns the last N trade events, newest first.
func (j *Journal) Recent(limit int) ([]EventRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, order_id, contract, action, qty, price, reason, detail, event_at
		 FROM trade_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRecord
	for rows.Next() {
		var e EventRecord
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Contract, &e.Action, &e.Qty,
			&e.Price, &e.Reason, &e.Detail, &e.EventAt); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
