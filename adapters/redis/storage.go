package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"steamkit/core"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Store implements the engine.Storage interface using Redis as the backend.
// Data structure:
// - account:{steam_id}:registry:{subtree} -> hash of key/value
// - account:{steam_id}:bans -> set of app ids
// - account:{steam_id}:friends -> list of steam ids
// - stats:{steam_id}:{game_id} -> JSON blob of StatsSnapshot
// - leaderboards:next -> handle counter
// - leaderboards:names:{game_id} -> hash of name to handle
// - leaderboard:{handle} -> hash of game, name, sort, display
// - leaderboard:{handle}:scores -> hash of steam id to JSON ScoreRecord
type Store struct {
	client *redis.Client
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger that reports skipped corrupt entries.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func newStore(client *redis.Client, opts []Option) *Store {
	s := &Store{client: client, logger: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// New creates a new Redis-backed storage with the provided configuration
func New(config Config, opts ...Option) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newStore(client, opts), nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client, opts ...Option) *Store {
	return newStore(client, opts)
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping reports whether the server answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func registryKey(user core.SteamID, tree core.ConfigSubTree) string {
	return fmt.Sprintf("account:%s:registry:%s", user, tree)
}

func bansKey(user core.SteamID) string {
	return fmt.Sprintf("account:%s:bans", user)
}

func friendsKey(user core.SteamID) string {
	return fmt.Sprintf("account:%s:friends", user)
}

func statsKey(user core.SteamID, game core.GameID) string {
	return fmt.Sprintf("stats:%s:%s", user, game)
}

func boardNamesKey(game core.GameID) string {
	return fmt.Sprintf("leaderboards:names:%s", game)
}

func boardKey(h core.LeaderboardHandle) string {
	return fmt.Sprintf("leaderboard:%d", h)
}

func scoresKey(h core.LeaderboardHandle) string {
	return fmt.Sprintf("leaderboard:%d:scores", h)
}

const boardCounterKey = "leaderboards:next"

// Lua script for atomic find-or-create of a leaderboard by name. The caller
// reserves the handle up front so the board key can be declared in KEYS; a
// reserved handle is left unused when the name already exists.
// Returns the handle of the existing or newly created board.
var createBoardScript = redis.NewScript(`
	local names = KEYS[1]
	local board = KEYS[2]
	local name = ARGV[1]

	local existing = redis.call('HGET', names, name)
	if existing then
		return tonumber(existing)
	end

	redis.call('HSET', names, name, ARGV[5])
	redis.call('HSET', board,
		'game', ARGV[2], 'name', name, 'sort', ARGV[3], 'display', ARGV[4])
	return tonumber(ARGV[5])
`)

func (s *Store) GetRegistry(ctx context.Context, user core.SteamID, tree core.ConfigSubTree, key string) (string, error) {
	v, err := s.client.HGet(ctx, registryKey(user, tree), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("registry %s/%s: %w", tree, key, core.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read registry: %w", err)
	}
	return v, nil
}

func (s *Store) SetRegistry(ctx context.Context, user core.SteamID, tree core.ConfigSubTree, key, value string) error {
	if err := s.client.HSet(ctx, registryKey(user, tree), key, value).Err(); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	return nil
}

func (s *Store) GetBans(ctx context.Context, user core.SteamID) ([]core.AppID, error) {
	members, err := s.client.SMembers(ctx, bansKey(user)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read bans: %w", err)
	}
	out := make([]core.AppID, 0, len(members))
	for _, m := range members {
		v, err := strconv.ParseUint(m, 10, 32)
		if err != nil {
			continue // skip invalid entries
		}
		out = append(out, core.AppID(v))
	}
	return out, nil
}

func (s *Store) PutBan(ctx context.Context, user core.SteamID, app core.AppID) error {
	if err := s.client.SAdd(ctx, bansKey(user), uint32(app)).Err(); err != nil {
		return fmt.Errorf("failed to record ban: %w", err)
	}
	return nil
}

func (s *Store) GetFriends(ctx context.Context, user core.SteamID) ([]core.SteamID, error) {
	members, err := s.client.LRange(ctx, friendsKey(user), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read friends: %w", err)
	}
	out := make([]core.SteamID, 0, len(members))
	for _, m := range members {
		id, err := core.ParseSteamID(m)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (s *Store) SetFriends(ctx context.Context, user core.SteamID, friends []core.SteamID) error {
	key := friendsKey(user)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(friends) == 0 {
			return nil
		}
		vals := make([]any, len(friends))
		for i, f := range friends {
			vals[i] = f.String()
		}
		pipe.RPush(ctx, key, vals...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write friends: %w", err)
	}
	return nil
}

func (s *Store) LoadStats(ctx context.Context, user core.SteamID, game core.GameID) (core.StatsSnapshot, error) {
	data, err := s.client.Get(ctx, statsKey(user, game)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.StatsSnapshot{}, fmt.Errorf("stats of %s in %s: %w", user, game, core.ErrNotFound)
	}
	if err != nil {
		return core.StatsSnapshot{}, fmt.Errorf("failed to read stats: %w", err)
	}
	snap := core.NewStatsSnapshot(user, game)
	if err := json.Unmarshal(data, &snap); err != nil {
		return core.StatsSnapshot{}, fmt.Errorf("decode stats: %w", err)
	}
	return snap, nil
}

func (s *Store) SaveStats(ctx context.Context, snap core.StatsSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, statsKey(snap.SteamID, snap.Game), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write stats: %w", err)
	}
	return nil
}

func (s *Store) FindLeaderboard(ctx context.Context, game core.GameID, name string) (core.LeaderboardInfo, error) {
	h, err := s.client.HGet(ctx, boardNamesKey(game), name).Uint64()
	if errors.Is(err, redis.Nil) {
		return core.LeaderboardInfo{}, fmt.Errorf("leaderboard %q: %w", name, core.ErrLeaderboardNotFound)
	}
	if err != nil {
		return core.LeaderboardInfo{}, fmt.Errorf("failed to find leaderboard: %w", err)
	}
	return s.GetLeaderboard(ctx, core.LeaderboardHandle(h))
}

func (s *Store) CreateLeaderboard(ctx context.Context, info core.LeaderboardInfo) (core.LeaderboardInfo, error) {
	if h, err := s.client.HGet(ctx, boardNamesKey(info.Game), info.Name).Uint64(); err == nil {
		return s.GetLeaderboard(ctx, core.LeaderboardHandle(h))
	}
	reserved, err := s.client.Incr(ctx, boardCounterKey).Result()
	if err != nil {
		return core.LeaderboardInfo{}, fmt.Errorf("failed to allocate leaderboard handle: %w", err)
	}
	keys := []string{boardNamesKey(info.Game), boardKey(core.LeaderboardHandle(reserved))}
	h, err := createBoardScript.Run(ctx, s.client, keys,
		info.Name, info.Game.String(), int32(info.Sort), int32(info.Display), reserved).Int64()
	if err != nil {
		return core.LeaderboardInfo{}, fmt.Errorf("failed to create leaderboard: %w", err)
	}
	return s.GetLeaderboard(ctx, core.LeaderboardHandle(h))
}

func (s *Store) GetLeaderboard(ctx context.Context, h core.LeaderboardHandle) (core.LeaderboardInfo, error) {
	fields, err := s.client.HGetAll(ctx, boardKey(h)).Result()
	if err != nil {
		return core.LeaderboardInfo{}, fmt.Errorf("failed to read leaderboard: %w", err)
	}
	if len(fields) == 0 {
		return core.LeaderboardInfo{}, fmt.Errorf("leaderboard %d: %w", h, core.ErrLeaderboardNotFound)
	}
	return parseBoard(h, fields)
}

func parseBoard(h core.LeaderboardHandle, fields map[string]string) (core.LeaderboardInfo, error) {
	game, err := core.ParseGameID(fields["game"])
	if err != nil {
		return core.LeaderboardInfo{}, fmt.Errorf("leaderboard %d: %w", h, err)
	}
	sort, err := strconv.ParseInt(fields["sort"], 10, 32)
	if err != nil {
		return core.LeaderboardInfo{}, fmt.Errorf("leaderboard %d sort: %w", h, err)
	}
	display, err := strconv.ParseInt(fields["display"], 10, 32)
	if err != nil {
		return core.LeaderboardInfo{}, fmt.Errorf("leaderboard %d display: %w", h, err)
	}
	return core.LeaderboardInfo{
		Handle:  h,
		Game:    game,
		Name:    fields["name"],
		Sort:    core.LeaderboardSortMethod(sort),
		Display: core.LeaderboardDisplayType(display),
	}, nil
}

func (s *Store) PutScore(ctx context.Context, h core.LeaderboardHandle, rec core.ScoreRecord) error {
	exists, err := s.client.Exists(ctx, boardKey(h)).Result()
	if err != nil {
		return fmt.Errorf("failed to read leaderboard: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("leaderboard %d: %w", h, core.ErrLeaderboardNotFound)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, scoresKey(h), rec.SteamID.String(), data).Err(); err != nil {
		return fmt.Errorf("failed to write score: %w", err)
	}
	return nil
}

func (s *Store) ListScores(ctx context.Context, h core.LeaderboardHandle) ([]core.ScoreRecord, error) {
	exists, err := s.client.Exists(ctx, boardKey(h)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("leaderboard %d: %w", h, core.ErrLeaderboardNotFound)
	}
	rows, err := s.client.HGetAll(ctx, scoresKey(h)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read scores: %w", err)
	}
	out := make([]core.ScoreRecord, 0, len(rows))
	for field, raw := range rows {
		var rec core.ScoreRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.logger.Warn("skipping corrupt score",
				zap.Uint64("leaderboard", uint64(h)),
				zap.String("steam_id", field),
				zap.Error(err),
			)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
