// Package storage provides SQL-backed persistence for the learning state
// and the prediction log, plus a Redis key-value alternative.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/matchoracle/internal/config"
	"github.com/rewired-gh/matchoracle/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Storage wraps a SQL database for the key-value port and the prediction
// repository.
type Storage struct {
	db             *sql.DB
	driver         string
	maxPredictions int
}

// Open picks the driver named in cfg.
func Open(cfg config.StorageConfig) (*Storage, error) {
	switch cfg.Driver {
	case DriverPostgres:
		return NewPostgres(cfg.MaxPredictions, cfg.DSN)
	case DriverSQLite, "":
		return New(cfg.MaxPredictions, cfg.DBPath)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/matchoracle/data.db.
func New(maxPredictions int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "matchoracle", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	return newStorage(db, DriverSQLite, maxPredictions)
}

// NewPostgres connects to the Postgres database at dsn.
func NewPostgres(maxPredictions int, dsn string) (*Storage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return newStorage(db, DriverPostgres, maxPredictions)
}

func newStorage(db *sql.DB, driver string, maxPredictions int) (*Storage, error) {
	s := &Storage{db: db, driver: driver, maxPredictions: maxPredictions}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Storage) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			name        TEXT PRIMARY KEY,
			value       TEXT NOT NULL,
			updated_at  BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS predictions (
			id              TEXT PRIMARY KEY,
			match_id        TEXT NOT NULL,
			match_key       TEXT NOT NULL DEFAULT '',
			market          TEXT NOT NULL,
			outcome         TEXT NOT NULL,
			confidence      DOUBLE PRECISION NOT NULL,
			expected_value  DOUBLE PRECISION NOT NULL,
			odds            DOUBLE PRECISION NOT NULL,
			stake           DOUBLE PRECISION NOT NULL,
			consensus       DOUBLE PRECISION NOT NULL,
			risk            TEXT NOT NULL,
			recommendation  TEXT NOT NULL,
			home            TEXT,
			away            TEXT,
			league          TEXT,
			reasoning       TEXT NOT NULL DEFAULT '[]',
			created_at      BIGINT NOT NULL,
			settled         INTEGER NOT NULL DEFAULT 0,
			actual          TEXT,
			correct         INTEGER NOT NULL DEFAULT 0,
			settled_at      BIGINT NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}

	// Databases created before match_key existed lack the column.
	if _, err := s.db.Exec(`SELECT match_key FROM predictions LIMIT 0`); err != nil {
		if _, err := s.db.Exec(`ALTER TABLE predictions ADD COLUMN match_key TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("failed to add match_key column: %w", err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_predictions_match ON predictions(match_id)`,
		`CREATE INDEX IF NOT EXISTS idx_predictions_match_key ON predictions(match_key)`,
		`CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at)`,
	}
	for _, stmt := range indexes {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the value stored under key, or models.ErrNotFound.
func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM kv WHERE name = ?`), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return []byte(value), nil
}

// Set stores value under key, replacing any previous value.
func (s *Storage) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO kv (name, value, updated_at) VALUES (?,?,?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
		key, string(value), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// SavePrediction appends rec, assigning an ID when empty, and trims the
// log to the newest maxPredictions records.
func (s *Storage) SavePrediction(ctx context.Context, rec *models.PredictionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	reasoning, err := json.Marshal(rec.Reasoning)
	if err != nil {
		return fmt.Errorf("failed to marshal reasoning: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO predictions
			(id, match_id, match_key, market, outcome, confidence, expected_value, odds, stake,
			 consensus, risk, recommendation, home, away, league, reasoning,
			 created_at, settled, actual, correct, settled_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		rec.ID, rec.MatchID, rec.MatchKey, string(rec.Market), rec.Outcome, rec.Confidence, rec.ExpectedValue,
		rec.Odds, rec.Stake, rec.Consensus, string(rec.Risk), string(rec.Recommendation),
		rec.Home, rec.Away, rec.League, string(reasoning),
		rec.CreatedAt.UnixNano(), boolToInt(rec.Settled), rec.Actual, boolToInt(rec.Correct),
		unixNano(rec.SettledAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}

	if s.maxPredictions > 0 {
		if _, err = tx.ExecContext(ctx, s.rebind(`
			DELETE FROM predictions WHERE id NOT IN (
				SELECT id FROM predictions ORDER BY created_at DESC, id DESC LIMIT ?
			)`), s.maxPredictions); err != nil {
			return fmt.Errorf("failed to enforce prediction cap: %w", err)
		}
	}

	return tx.Commit()
}

// QueryPredictions returns every stored record for matchID, oldest first.
func (s *Storage) QueryPredictions(ctx context.Context, matchID string) ([]models.PredictionRecord, error) {
	return s.queryPredictions(ctx, `WHERE match_id = ? ORDER BY created_at, id`, matchID)
}

// PendingPredictions returns the unsettled records for matchID.
func (s *Storage) PendingPredictions(ctx context.Context, matchID string) ([]models.PredictionRecord, error) {
	return s.queryPredictions(ctx, `WHERE match_id = ? AND settled = 0 ORDER BY created_at, id`, matchID)
}

// PendingForFixture returns the unsettled records for the fixture
// identified by matchKey, whichever source's match id they were saved
// under. Records saved without a key are matched by matchID.
func (s *Storage) PendingForFixture(ctx context.Context, matchKey, matchID string) ([]models.PredictionRecord, error) {
	return s.queryPredictions(ctx, `WHERE settled = 0 AND (match_key = ? OR (match_key = '' AND match_id = ?))
		ORDER BY created_at, id`, matchKey, matchID)
}

// RecentPredictions returns up to limit records, newest first.
func (s *Storage) RecentPredictions(ctx context.Context, limit int) ([]models.PredictionRecord, error) {
	return s.queryPredictions(ctx, `ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
}

func (s *Storage) queryPredictions(ctx context.Context, clause string, args ...any) ([]models.PredictionRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+predictionCols+` FROM predictions `+clause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	records := []models.PredictionRecord{}
	for rows.Next() {
		rec, err := scanPrediction(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// MarkSettled records the actual outcome of a stored prediction.
func (s *Storage) MarkSettled(ctx context.Context, id, actual string, correct bool, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE predictions SET settled = 1, actual = ?, correct = ?, settled_at = ?
		WHERE id = ? AND settled = 0`),
		actual, boolToInt(correct), at.UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to settle prediction: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("pending prediction %s: %w", id, models.ErrNotFound)
	}
	return nil
}

const predictionCols = `id, match_id, match_key, market, outcome, confidence, expected_value, odds, stake,
	consensus, risk, recommendation, home, away, league, reasoning,
	created_at, settled, actual, correct, settled_at`

func scanPrediction(scan func(...any) error) (*models.PredictionRecord, error) {
	var rec models.PredictionRecord
	var market, risk, recommendation, reasoning string
	var home, away, league, actual sql.NullString
	var createdAtNano, settledAtNano int64
	var settled, correct int

	err := scan(
		&rec.ID, &rec.MatchID, &rec.MatchKey, &market, &rec.Outcome, &rec.Confidence, &rec.ExpectedValue,
		&rec.Odds, &rec.Stake, &rec.Consensus, &risk, &recommendation,
		&home, &away, &league, &reasoning,
		&createdAtNano, &settled, &actual, &correct, &settledAtNano,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(reasoning), &rec.Reasoning); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reasoning: %w", err)
	}

	rec.Market = models.Market(market)
	rec.Risk = models.Risk(risk)
	rec.Recommendation = models.Recommendation(recommendation)
	rec.Home, rec.Away, rec.League, rec.Actual = home.String, away.String, league.String, actual.String
	rec.CreatedAt = time.Unix(0, createdAtNano)
	rec.Settled = settled != 0
	rec.Correct = correct != 0
	if settledAtNano != 0 {
		rec.SettledAt = time.Unix(0, settledAtNano)
	}
	return &rec, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
