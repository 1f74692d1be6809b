// Package sqlx stores accounts, stats and leaderboards in a SQL database.
// PostgreSQL (lib/pq or pgx) and MySQL are supported.
package sqlx

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"steamkit/core"
)

// Driver names a database/sql driver.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverPgx      Driver = "pgx"
	DriverMySQL    Driver = "mysql"
)

var tracer = otel.Tracer("steamkit/adapters/sqlx")

// Config holds SQL connection configuration
type Config struct {
	Driver          Driver
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns sensible defaults for a local PostgreSQL.
func DefaultConfig() Config {
	return Config{
		Driver:          DriverPostgres,
		DSN:             "postgres://localhost:5432/steamkit?sslmode=disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Store implements engine.Storage on top of sqlx.
type Store struct {
	db     *sqlx.DB
	driver Driver
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger that reports skipped corrupt rows.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New opens and pings the database described by config.
func New(ctx context.Context, config Config, opts ...Option) (*Store, error) {
	switch config.Driver {
	case DriverPostgres, DriverPgx, DriverMySQL:
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", config.Driver)
	}
	db, err := sqlx.ConnectContext(ctx, string(config.Driver), config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Driver, err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	return NewWithDB(db, config.Driver, opts...), nil
}

// NewWithDB wraps an existing handle (useful for testing).
func NewWithDB(db *sqlx.DB, driver Driver, opts ...Option) *Store {
	s := &Store{db: db, driver: driver, logger: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) postgres() bool {
	return s.driver != DriverMySQL
}

func (s *Store) system() string {
	if s.postgres() {
		return "postgresql"
	}
	return "mysql"
}

// span starts a client span for one statement.
func (s *Store) span(ctx context.Context, op, table string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "sql."+table+"."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", s.system()),
			attribute.String("db.operation", op),
			attribute.String("db.sql.table", table),
		))
}

func finish(span trace.Span, err error) {
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Migrate creates the tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) (err error) {
	ctx, span := s.span(ctx, "CREATE", "schema")
	defer func() { finish(span, err) }()

	stmts := postgresSchema
	if !s.postgres() {
		stmts = mysqlSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS account_registry (
		steam_id BIGINT NOT NULL,
		subtree INTEGER NOT NULL,
		name VARCHAR(255) NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (steam_id, subtree, name))`,
	`CREATE TABLE IF NOT EXISTS account_bans (
		steam_id BIGINT NOT NULL,
		app_id BIGINT NOT NULL,
		PRIMARY KEY (steam_id, app_id))`,
	`CREATE TABLE IF NOT EXISTS account_friends (
		steam_id BIGINT NOT NULL,
		position INTEGER NOT NULL,
		friend_id BIGINT NOT NULL,
		PRIMARY KEY (steam_id, position))`,
	`CREATE TABLE IF NOT EXISTS user_stats (
		steam_id BIGINT NOT NULL,
		game_id BIGINT NOT NULL,
		data TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (steam_id, game_id))`,
	`CREATE TABLE IF NOT EXISTS leaderboards (
		handle BIGSERIAL PRIMARY KEY,
		game_id BIGINT NOT NULL,
		name VARCHAR(128) NOT NULL,
		sort_method INTEGER NOT NULL,
		display_type INTEGER NOT NULL,
		UNIQUE (game_id, name))`,
	`CREATE TABLE IF NOT EXISTS leaderboard_scores (
		handle BIGINT NOT NULL REFERENCES leaderboards(handle),
		steam_id BIGINT NOT NULL,
		score INTEGER NOT NULL,
		details TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (handle, steam_id))`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS account_registry (
		steam_id BIGINT NOT NULL,
		subtree INT NOT NULL,
		name VARCHAR(255) NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (steam_id, subtree, name))`,
	`CREATE TABLE IF NOT EXISTS account_bans (
		steam_id BIGINT NOT NULL,
		app_id BIGINT NOT NULL,
		PRIMARY KEY (steam_id, app_id))`,
	`CREATE TABLE IF NOT EXISTS account_friends (
		steam_id BIGINT NOT NULL,
		position INT NOT NULL,
		friend_id BIGINT NOT NULL,
		PRIMARY KEY (steam_id, position))`,
	`CREATE TABLE IF NOT EXISTS user_stats (
		steam_id BIGINT NOT NULL,
		game_id BIGINT NOT NULL,
		data MEDIUMTEXT NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		PRIMARY KEY (steam_id, game_id))`,
	`CREATE TABLE IF NOT EXISTS leaderboards (
		handle BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		game_id BIGINT NOT NULL,
		name VARCHAR(128) NOT NULL,
		sort_method INT NOT NULL,
		display_type INT NOT NULL,
		UNIQUE KEY game_name (game_id, name))`,
	`CREATE TABLE IF NOT EXISTS leaderboard_scores (
		handle BIGINT NOT NULL,
		steam_id BIGINT NOT NULL,
		score INT NOT NULL,
		details TEXT NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		PRIMARY KEY (handle, steam_id))`,
}

type boardRow struct {
	Handle  int64  `db:"handle"`
	GameID  int64  `db:"game_id"`
	Name    string `db:"name"`
	Sort    int32  `db:"sort_method"`
	Display int32  `db:"display_type"`
}

func (r boardRow) info() core.LeaderboardInfo {
	return core.LeaderboardInfo{
		Handle:  core.LeaderboardHandle(r.Handle),
		Game:    core.GameID(r.GameID),
		Name:    r.Name,
		Sort:    core.LeaderboardSortMethod(r.Sort),
		Display: core.LeaderboardDisplayType(r.Display),
	}
}

type scoreRow struct {
	SteamID   int64     `db:"steam_id"`
	Score     int32     `db:"score"`
	Details   string    `db:"details"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (s *Store) GetRegistry(ctx context.Context, user core.SteamID, tree core.ConfigSubTree, key string) (value string, err error) {
	ctx, span := s.span(ctx, "SELECT", "account_registry")
	defer func() { finish(span, err) }()

	q := s.db.Rebind(`SELECT value FROM account_registry WHERE steam_id = ? AND subtree = ? AND name = ?`)
	err = s.db.GetContext(ctx, &value, q, int64(user), int32(tree), key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("registry %s/%s: %w", tree, key, core.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read registry: %w", err)
	}
	return value, nil
}

func (s *Store) SetRegistry(ctx context.Context, user core.SteamID, tree core.ConfigSubTree, key, value string) (err error) {
	ctx, span := s.span(ctx, "UPSERT", "account_registry")
	defer func() { finish(span, err) }()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	q := tx.Rebind(`SELECT EXISTS(SELECT 1 FROM account_registry WHERE steam_id = ? AND subtree = ? AND name = ?)`)
	if err = tx.GetContext(ctx, &exists, q, int64(user), int32(tree), key); err != nil {
		return fmt.Errorf("failed to read registry: %w", err)
	}
	if exists {
		q = tx.Rebind(`UPDATE account_registry SET value = ? WHERE steam_id = ? AND subtree = ? AND name = ?`)
		_, err = tx.ExecContext(ctx, q, value, int64(user), int32(tree), key)
	} else {
		q = tx.Rebind(`INSERT INTO account_registry (steam_id, subtree, name, value) VALUES (?, ?, ?, ?)`)
		_, err = tx.ExecContext(ctx, q, int64(user), int32(tree), key, value)
	}
	if err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	return tx.Commit()
}

func (s *Store) GetBans(ctx context.Context, user core.SteamID) (bans []core.AppID, err error) {
	ctx, span := s.span(ctx, "SELECT", "account_bans")
	defer func() { finish(span, err) }()

	var ids []int64
	q := s.db.Rebind(`SELECT app_id FROM account_bans WHERE steam_id = ? ORDER BY app_id`)
	if err = s.db.SelectContext(ctx, &ids, q, int64(user)); err != nil {
		return nil, fmt.Errorf("failed to read bans: %w", err)
	}
	bans = make([]core.AppID, len(ids))
	for i, id := range ids {
		bans[i] = core.AppID(id)
	}
	return bans, nil
}

func (s *Store) PutBan(ctx context.Context, user core.SteamID, app core.AppID) (err error) {
	ctx, span := s.span(ctx, "INSERT", "account_bans")
	defer func() { finish(span, err) }()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	q := tx.Rebind(`SELECT EXISTS(SELECT 1 FROM account_bans WHERE steam_id = ? AND app_id = ?)`)
	if err = tx.GetContext(ctx, &exists, q, int64(user), int64(app)); err != nil {
		return fmt.Errorf("failed to read bans: %w", err)
	}
	if !exists {
		q = tx.Rebind(`INSERT INTO account_bans (steam_id, app_id) VALUES (?, ?)`)
		if _, err = tx.ExecContext(ctx, q, int64(user), int64(app)); err != nil {
			return fmt.Errorf("failed to record ban: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetFriends(ctx context.Context, user core.SteamID) (friends []core.SteamID, err error) {
	ctx, span := s.span(ctx, "SELECT", "account_friends")
	defer func() { finish(span, err) }()

	var ids []int64
	q := s.db.Rebind(`SELECT friend_id FROM account_friends WHERE steam_id = ? ORDER BY position`)
	if err = s.db.SelectContext(ctx, &ids, q, int64(user)); err != nil {
		return nil, fmt.Errorf("failed to read friends: %w", err)
	}
	friends = make([]core.SteamID, len(ids))
	for i, id := range ids {
		friends[i] = core.SteamID(id)
	}
	return friends, nil
}

func (s *Store) SetFriends(ctx context.Context, user core.SteamID, friends []core.SteamID) (err error) {
	ctx, span := s.span(ctx, "REPLACE", "account_friends")
	defer func() { finish(span, err) }()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err = tx.ExecContext(ctx, tx.Rebind(`DELETE FROM account_friends WHERE steam_id = ?`), int64(user)); err != nil {
		return fmt.Errorf("failed to clear friends: %w", err)
	}
	q := tx.Rebind(`INSERT INTO account_friends (steam_id, position, friend_id) VALUES (?, ?, ?)`)
	for i, f := range friends {
		if _, err = tx.ExecContext(ctx, q, int64(user), i, int64(f)); err != nil {
			return fmt.Errorf("failed to write friends: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) LoadStats(ctx context.Context, user core.SteamID, game core.GameID) (snap core.StatsSnapshot, err error) {
	ctx, span := s.span(ctx, "SELECT", "user_stats")
	defer func() { finish(span, err) }()

	var data string
	q := s.db.Rebind(`SELECT data FROM user_stats WHERE steam_id = ? AND game_id = ?`)
	err = s.db.GetContext(ctx, &data, q, int64(user), int64(game))
	if errors.Is(err, sql.ErrNoRows) {
		return core.StatsSnapshot{}, fmt.Errorf("stats of %s in %s: %w", user, game, core.ErrNotFound)
	}
	if err != nil {
		return core.StatsSnapshot{}, fmt.Errorf("failed to read stats: %w", err)
	}
	snap = core.NewStatsSnapshot(user, game)
	if err = json.Unmarshal([]byte(data), &snap); err != nil {
		return core.StatsSnapshot{}, fmt.Errorf("decode stats: %w", err)
	}
	return snap, nil
}

func (s *Store) SaveStats(ctx context.Context, snap core.StatsSnapshot) (err error) {
	ctx, span := s.span(ctx, "UPSERT", "user_stats")
	defer func() { finish(span, err) }()

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	q := tx.Rebind(`SELECT EXISTS(SELECT 1 FROM user_stats WHERE steam_id = ? AND game_id = ?)`)
	if err = tx.GetContext(ctx, &exists, q, int64(snap.SteamID), int64(snap.Game)); err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}
	now := time.Now().UTC()
	if exists {
		q = tx.Rebind(`UPDATE user_stats SET data = ?, updated_at = ? WHERE steam_id = ? AND game_id = ?`)
		_, err = tx.ExecContext(ctx, q, string(data), now, int64(snap.SteamID), int64(snap.Game))
	} else {
		q = tx.Rebind(`INSERT INTO user_stats (steam_id, game_id, data, updated_at) VALUES (?, ?, ?, ?)`)
		_, err = tx.ExecContext(ctx, q, int64(snap.SteamID), int64(snap.Game), string(data), now)
	}
	if err != nil {
		return fmt.Errorf("failed to write stats: %w", err)
	}
	return tx.Commit()
}

const boardColumns = `handle, game_id, name, sort_method, display_type`

func (s *Store) FindLeaderboard(ctx context.Context, game core.GameID, name string) (info core.LeaderboardInfo, err error) {
	ctx, span := s.span(ctx, "SELECT", "leaderboards")
	defer func() { finish(span, err) }()

	var row boardRow
	q := s.db.Rebind(`SELECT ` + boardColumns + ` FROM leaderboards WHERE game_id = ? AND name = ?`)
	err = s.db.GetContext(ctx, &row, q, int64(game), name)
	if errors.Is(err, sql.ErrNoRows) {
		return core.LeaderboardInfo{}, fmt.Errorf("leaderboard %q: %w", name, core.ErrLeaderboardNotFound)
	}
	if err != nil {
		return core.LeaderboardInfo{}, fmt.Errorf("failed to find leaderboard: %w", err)
	}
	return row.info(), nil
}

func (s *Store) CreateLeaderboard(ctx context.Context, info core.LeaderboardInfo) (_ core.LeaderboardInfo, err error) {
	ctx, span := s.span(ctx, "INSERT", "leaderboards")
	defer func() { finish(span, err) }()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return core.LeaderboardInfo{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var row boardRow
	q := tx.Rebind(`SELECT ` + boardColumns + ` FROM leaderboards WHERE game_id = ? AND name = ?`)
	err = tx.GetContext(ctx, &row, q, int64(info.Game), info.Name)
	switch {
	case err == nil:
		return row.info(), tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return core.LeaderboardInfo{}, fmt.Errorf("failed to find leaderboard: %w", err)
	}

	args := []any{int64(info.Game), info.Name, int32(info.Sort), int32(info.Display)}
	insert := `INSERT INTO leaderboards (game_id, name, sort_method, display_type) VALUES (?, ?, ?, ?)`
	var handle int64
	if s.postgres() {
		err = tx.GetContext(ctx, &handle, tx.Rebind(insert+` RETURNING handle`), args...)
	} else {
		var res sql.Result
		if res, err = tx.ExecContext(ctx, insert, args...); err == nil {
			handle, err = res.LastInsertId()
		}
	}
	if err != nil {
		return core.LeaderboardInfo{}, fmt.Errorf("failed to create leaderboard: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return core.LeaderboardInfo{}, err
	}
	info.Handle = core.LeaderboardHandle(handle)
	return info, nil
}

func (s *Store) GetLeaderboard(ctx context.Context, h core.LeaderboardHandle) (info core.LeaderboardInfo, err error) {
	ctx, span := s.span(ctx, "SELECT", "leaderboards")
	defer func() { finish(span, err) }()

	var row boardRow
	q := s.db.Rebind(`SELECT ` + boardColumns + ` FROM leaderboards WHERE handle = ?`)
	err = s.db.GetContext(ctx, &row, q, int64(h))
	if errors.Is(err, sql.ErrNoRows) {
		return core.LeaderboardInfo{}, fmt.Errorf("leaderboard %d: %w", h, core.ErrLeaderboardNotFound)
	}
	if err != nil {
		return core.LeaderboardInfo{}, fmt.Errorf("failed to read leaderboard: %w", err)
	}
	return row.info(), nil
}

func (s *Store) boardExists(ctx context.Context, q sqlx.QueryerContext, h core.LeaderboardHandle) error {
	var exists bool
	err := sqlx.GetContext(ctx, q, &exists, s.db.Rebind(`SELECT EXISTS(SELECT 1 FROM leaderboards WHERE handle = ?)`), int64(h))
	if err != nil {
		return fmt.Errorf("failed to read leaderboard: %w", err)
	}
	if !exists {
		return fmt.Errorf("leaderboard %d: %w", h, core.ErrLeaderboardNotFound)
	}
	return nil
}

func (s *Store) PutScore(ctx context.Context, h core.LeaderboardHandle, rec core.ScoreRecord) (err error) {
	ctx, span := s.span(ctx, "UPSERT", "leaderboard_scores")
	defer func() { finish(span, err) }()
	span.SetAttributes(attribute.Int64("leaderboard.handle", int64(h)))

	details, err := json.Marshal(rec.Details)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err = s.boardExists(ctx, tx, h); err != nil {
		return err
	}
	var exists bool
	q := tx.Rebind(`SELECT EXISTS(SELECT 1 FROM leaderboard_scores WHERE handle = ? AND steam_id = ?)`)
	if err = tx.GetContext(ctx, &exists, q, int64(h), int64(rec.SteamID)); err != nil {
		return fmt.Errorf("failed to read score: %w", err)
	}
	at := rec.UpdatedAt.UTC()
	if exists {
		q = tx.Rebind(`UPDATE leaderboard_scores SET score = ?, details = ?, updated_at = ? WHERE handle = ? AND steam_id = ?`)
		_, err = tx.ExecContext(ctx, q, rec.Score, string(details), at, int64(h), int64(rec.SteamID))
	} else {
		q = tx.Rebind(`INSERT INTO leaderboard_scores (handle, steam_id, score, details, updated_at) VALUES (?, ?, ?, ?, ?)`)
		_, err = tx.ExecContext(ctx, q, int64(h), int64(rec.SteamID), rec.Score, string(details), at)
	}
	if err != nil {
		return fmt.Errorf("failed to write score: %w", err)
	}
	return tx.Commit()
}

func (s *Store) ListScores(ctx context.Context, h core.LeaderboardHandle) (out []core.ScoreRecord, err error) {
	ctx, span := s.span(ctx, "SELECT", "leaderboard_scores")
	defer func() { finish(span, err) }()
	span.SetAttributes(attribute.Int64("leaderboard.handle", int64(h)))

	if err = s.boardExists(ctx, s.db, h); err != nil {
		return nil, err
	}
	var rows []scoreRow
	q := s.db.Rebind(`SELECT steam_id, score, details, updated_at FROM leaderboard_scores WHERE handle = ?`)
	if err = s.db.SelectContext(ctx, &rows, q, int64(h)); err != nil {
		return nil, fmt.Errorf("failed to read scores: %w", err)
	}
	out = make([]core.ScoreRecord, 0, len(rows))
	for _, r := range rows {
		rec := core.ScoreRecord{SteamID: core.SteamID(r.SteamID), Score: r.Score, UpdatedAt: r.UpdatedAt.UTC()}
		if err := json.Unmarshal([]byte(r.Details), &rec.Details); err != nil {
			s.logger.Warn("skipping corrupt score",
				zap.Uint64("leaderboard", uint64(h)),
				zap.Stringer("steam_id", rec.SteamID),
				zap.Error(err),
			)
			continue
		}
		out = append(out, rec)
	}
	span.SetAttributes(attribute.Int("db.rows", len(out)))
	return out, nil
}
