package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/kickhook/internal/points"
)

// Ledger is a SQLite implementation of points.Ledger
type Ledger struct {
	db *sqlx.DB
}

// awardRow is the point_awards row shape.
type awardRow struct {
	EventID   string         `db:"event_id"`
	Username  string         `db:"username"`
	UserID    sql.NullString `db:"user_id"`
	Points    int            `db:"points"`
	Reason    string         `db:"reason"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r awardRow) award() points.Award {
	return points.Award{
		EventID:   r.EventID,
		Username:  r.Username,
		UserID:    r.UserID.String,
		Points:    r.Points,
		Reason:    points.Reason(r.Reason),
		CreatedAt: r.CreatedAt,
	}
}

var _ points.Ledger = (*Ledger)(nil)

// New opens (or creates) the ledger database at dbPath
func New(dbPath string) (*Ledger, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Awards are recorded from concurrent request goroutines. One connection
	// serializes them inside the process; busy_timeout covers other writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	l := &Ledger{db: db}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return l, nil
}

func (l *Ledger) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS point_awards (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL,
			username TEXT NOT NULL COLLATE NOCASE,
			user_id TEXT,
			points INTEGER NOT NULL,
			reason TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_point_awards_username ON point_awards(username)`,
		`CREATE INDEX IF NOT EXISTS idx_point_awards_event ON point_awards(event_id)`,
	}

	for _, stmt := range statements {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (l *Ledger) Record(ctx context.Context, award points.Award) error {
	if strings.TrimSpace(award.Username) == "" {
		return fmt.Errorf("award for event %s has no username", award.EventID)
	}
	if award.CreatedAt.IsZero() {
		award.CreatedAt = time.Now()
	}

	row := awardRow{
		EventID:   award.EventID,
		Username:  award.Username,
		UserID:    sql.NullString{String: award.UserID, Valid: award.UserID != ""},
		Points:    award.Points,
		Reason:    string(award.Reason),
		CreatedAt: award.CreatedAt,
	}

	query := `INSERT INTO point_awards (event_id, username, user_id, points, reason, created_at)
	          VALUES (:event_id, :username, :user_id, :points, :reason, :created_at)`

	if _, err := l.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to record award: %w", err)
	}

	return nil
}

func (l *Ledger) Total(ctx context.Context, username string) (int, error) {
	var total int
	err := l.db.GetContext(ctx, &total,
		`SELECT COALESCE(SUM(points), 0) FROM point_awards WHERE username = ?`, username)
	if err != nil {
		return 0, fmt.Errorf("failed to sum awards: %w", err)
	}
	return total, nil
}

// ListByEvent returns the awards recorded for one event in insertion order.
func (l *Ledger) ListByEvent(ctx context.Context, eventID string) ([]points.Award, error) {
	var rows []awardRow
	err := l.db.SelectContext(ctx, &rows,
		`SELECT event_id, username, user_id, points, reason, created_at
		 FROM point_awards WHERE event_id = ? ORDER BY id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list awards: %w", err)
	}

	awards := make([]points.Award, 0, len(rows))
	for _, r := range rows {
		awards = append(awards, r.award())
	}
	return awards, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}
