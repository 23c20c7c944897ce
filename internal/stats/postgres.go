package stats

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/park285/tictactoe-live/internal/obslog"
)

const schema = `
CREATE TABLE IF NOT EXISTS game_results (
	session_id  TEXT PRIMARY KEY,
	first_id    TEXT NOT NULL,
	second_id   TEXT NOT NULL,
	winner_id   TEXT,
	board       TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS user_statistics (
	user_id     TEXT PRIMARY KEY,
	games_total INTEGER NOT NULL DEFAULT 0,
	games_win   INTEGER NOT NULL DEFAULT 0,
	games_loose INTEGER NOT NULL DEFAULT 0,
	games_draw  INTEGER NOT NULL DEFAULT 0,
	updated_at  TIMESTAMPTZ NOT NULL
);`

const insertResult = `INSERT INTO game_results (
	session_id, first_id, second_id, winner_id, board, started_at, finished_at
) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (session_id) DO NOTHING`

const upsertStats = `INSERT INTO user_statistics (
	user_id, games_total, games_win, games_loose, games_draw, updated_at
) VALUES ($1, 1, $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE SET
	games_total = user_statistics.games_total + 1,
	games_win   = user_statistics.games_win + EXCLUDED.games_win,
	games_loose = user_statistics.games_loose + EXCLUDED.games_loose,
	games_draw  = user_statistics.games_draw + EXCLUDED.games_draw,
	updated_at  = EXCLUDED.updated_at`

const selectStats = `SELECT games_total, games_win, games_loose, games_draw, updated_at
FROM user_statistics WHERE user_id = $1`

type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// Open connects to databaseURL and verifies the connection.
func Open(databaseURL string) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// RecordResult stores r and bumps both participants' counters in one
// transaction. Recording the same session twice counts it once.
func (p *Postgres) RecordResult(ctx context.Context, r Result) (err error) {
	if strings.TrimSpace(r.SessionID) == "" || r.First == "" || r.Second == "" {
		return errors.New("incomplete result")
	}
	board, err := json.Marshal(r.Board)
	if err != nil {
		return fmt.Errorf("marshal board: %w", err)
	}
	var winner any
	if r.Winner != "" {
		winner = r.Winner
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, insertResult, r.SessionID, r.First, r.Second, winner, string(board), r.StartedAt, r.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		obslog.L().Info("stats_result_duplicate", zap.String("session_id", r.SessionID))
		return tx.Commit()
	}
	for _, uid := range []string{r.First, r.Second} {
		win, loose, draw := 0, 0, 0
		switch r.Winner {
		case "":
			draw = 1
		case uid:
			win = 1
		default:
			loose = 1
		}
		if _, err = tx.ExecContext(ctx, upsertStats, uid, win, loose, draw, r.FinishedAt); err != nil {
			return fmt.Errorf("upsert stats %s: %w", uid, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Get returns zero counters for users without a row.
func (p *Postgres) Get(ctx context.Context, userID string) (Stats, error) {
	st := Stats{UserID: userID}
	err := p.db.QueryRowContext(ctx, selectStats, userID).Scan(&st.GamesTotal, &st.GamesWin, &st.GamesLoose, &st.GamesDraw, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return Stats{}, fmt.Errorf("select stats: %w", err)
	}
	return st, nil
}
