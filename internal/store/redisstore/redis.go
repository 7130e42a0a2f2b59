// Package redisstore keeps view rows and per-episode counters in Redis.
//
// Layout, with the default "podcast:" prefix:
//
//	podcast:view:<id>        hash  id, episode_id, user_id, viewed_at (unix ms), minutes_played
//	podcast:views:<episode>  zset  view ids scored by viewed_at
//	podcast:agg:<episode>    hash  views, minutes
//	podcast:episode:<id>     hash  title, published_at (unix ms)
//	podcast:viewed           set   episodes with at least one view
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/models"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/store"
)

// Config holds Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Store is a Redis-backed store.Backend.
type Store struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to redis view store")
	return New(client, cfg.Prefix, logger), nil
}

// New wraps an existing client.
func New(client *redis.Client, prefix string, logger zerolog.Logger) *Store {
	if prefix == "" {
		prefix = "podcast:"
	}
	return &Store{client: client, prefix: prefix, logger: logger}
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) viewKey(id string) string         { return s.prefix + "view:" + id }
func (s *Store) indexKey(contentID string) string { return s.prefix + "views:" + contentID }
func (s *Store) aggKey(contentID string) string   { return s.prefix + "agg:" + contentID }
func (s *Store) episodeKey(id string) string      { return s.prefix + "episode:" + id }
func (s *Store) viewedKey() string                { return s.prefix + "viewed" }

func (s *Store) InsertView(ctx context.Context, rec models.ViewRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	at := rec.ViewedAt.UnixMilli()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.viewKey(rec.ID),
			"id", rec.ID,
			"episode_id", rec.ContentID,
			"user_id", rec.ActorID,
			"viewed_at", at,
			"minutes_played", formatFloat(rec.MinutesPlayed))
		pipe.ZAdd(ctx, s.indexKey(rec.ContentID), redis.Z{Score: float64(at), Member: rec.ID})
		pipe.HIncrBy(ctx, s.aggKey(rec.ContentID), "views", 1)
		if rec.MinutesPlayed > 0 {
			pipe.HIncrByFloat(ctx, s.aggKey(rec.ContentID), "minutes", rec.MinutesPlayed)
		}
		pipe.SAdd(ctx, s.viewedKey(), rec.ContentID)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("insert view: %w", err)
	}
	return rec.ID, nil
}

// UpdateViewMinutes overwrites a row's minutes and moves the episode total by
// the difference inside an optimistic WATCH transaction.
func (s *Store) UpdateViewMinutes(ctx context.Context, id string, minutes float64) error {
	key := s.viewKey(id)

	txf := func(tx *redis.Tx) error {
		fields, err := tx.HMGet(ctx, key, "episode_id", "minutes_played").Result()
		if err != nil {
			return err
		}
		contentID, ok := fields[0].(string)
		if !ok || contentID == "" {
			return store.ErrNotFound
		}
		previous, _ := strconv.ParseFloat(stringOf(fields[1]), 64)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "minutes_played", formatFloat(minutes))
			if delta := minutes - previous; delta != 0 {
				pipe.HIncrByFloat(ctx, s.aggKey(contentID), "minutes", delta)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 5; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("update view minutes: %w", err)
		}
		return err
	}
	return fmt.Errorf("update view minutes: %w", redis.TxFailedErr)
}

func (s *Store) FindLatestView(ctx context.Context, q store.ViewQuery) (models.ViewRecord, error) {
	ids, err := s.client.ZRevRangeByScore(ctx, s.indexKey(q.ContentID), &redis.ZRangeBy{
		Max:   "(" + strconv.FormatInt(q.To.UnixMilli(), 10),
		Min:   strconv.FormatInt(q.From.UnixMilli(), 10),
		Count: 1,
	}).Result()
	if err != nil {
		return models.ViewRecord{}, fmt.Errorf("find latest view: %w", err)
	}
	if len(ids) == 0 {
		return models.ViewRecord{}, store.ErrNotFound
	}

	fields, err := s.client.HGetAll(ctx, s.viewKey(ids[0])).Result()
	if err != nil {
		return models.ViewRecord{}, fmt.Errorf("load view %s: %w", ids[0], err)
	}
	if len(fields) == 0 {
		return models.ViewRecord{}, store.ErrNotFound
	}
	return recordFromHash(fields), nil
}

// addDailyScript finds the newest view of the day and increments it, or
// creates the day's first row. Running as one script makes it atomic.
//
// KEYS: index, agg, viewed. ARGV: day start ms, day end ms, new id, at ms,
// minutes, actor, episode id, view key prefix.
var addDailyScript = redis.NewScript(`
local ids = redis.call('ZREVRANGEBYSCORE', KEYS[1], '(' .. ARGV[2], ARGV[1], 'LIMIT', 0, 1)
if #ids > 0 then
  redis.call('HINCRBYFLOAT', ARGV[8] .. ids[1], 'minutes_played', ARGV[5])
  redis.call('HINCRBYFLOAT', KEYS[2], 'minutes', ARGV[5])
  return {ids[1], 0}
end
redis.call('HSET', ARGV[8] .. ARGV[3], 'id', ARGV[3], 'episode_id', ARGV[7], 'user_id', ARGV[6], 'viewed_at', ARGV[4], 'minutes_played', ARGV[5])
redis.call('ZADD', KEYS[1], ARGV[4], ARGV[3])
redis.call('HINCRBY', KEYS[2], 'views', 1)
redis.call('HINCRBYFLOAT', KEYS[2], 'minutes', ARGV[5])
redis.call('SADD', KEYS[3], ARGV[7])
return {ARGV[3], 1}
`)

func (s *Store) AddDailyMinutes(ctx context.Context, inc store.DailyIncrement) (string, bool, error) {
	keys := []string{s.indexKey(inc.ContentID), s.aggKey(inc.ContentID), s.viewedKey()}
	args := []any{
		inc.DayStart.UnixMilli(),
		inc.DayEnd.UnixMilli(),
		uuid.NewString(),
		inc.At.UnixMilli(),
		formatFloat(inc.Minutes),
		inc.ActorID,
		inc.ContentID,
		s.prefix + "view:",
	}

	res, err := addDailyScript.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return "", false, fmt.Errorf("add daily minutes: %w", err)
	}
	if len(res) != 2 {
		return "", false, fmt.Errorf("add daily minutes: unexpected reply %v", res)
	}
	id, _ := res[0].(string)
	created, _ := res[1].(int64)
	return id, created == 1, nil
}

func (s *Store) AggregateByContent(ctx context.Context) ([]models.ContentAggregate, error) {
	ids, err := s.client.SMembers(ctx, s.viewedKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("aggregate views: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	aggCmds := make([]*redis.MapStringStringCmd, len(ids))
	epCmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			aggCmds[i] = pipe.HGetAll(ctx, s.aggKey(id))
			epCmds[i] = pipe.HGetAll(ctx, s.episodeKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate views: %w", err)
	}

	out := make([]models.ContentAggregate, 0, len(ids))
	for i, id := range ids {
		agg := aggCmds[i].Val()
		ep := epCmds[i].Val()

		row := models.ContentAggregate{ContentID: id, Title: ep["title"]}
		row.TotalViews, _ = strconv.ParseInt(agg["views"], 10, 64)
		row.TotalMinutesPlayed, _ = strconv.ParseFloat(agg["minutes"], 64)
		if ms, _ := strconv.ParseInt(ep["published_at"], 10, 64); ms != 0 {
			row.PublishedAt = time.UnixMilli(ms).UTC()
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *Store) SyncEpisodes(ctx context.Context, episodes []models.Episode) error {
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, ep := range episodes {
			var published int64
			if !ep.PublishedAt.IsZero() {
				published = ep.PublishedAt.UnixMilli()
			}
			pipe.HSet(ctx, s.episodeKey(ep.ID), "title", ep.Title, "published_at", published)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sync episodes: %w", err)
	}
	s.logger.Debug().Int("episodes", len(episodes)).Msg("synced episode titles")
	return nil
}

func recordFromHash(fields map[string]string) models.ViewRecord {
	rec := models.ViewRecord{
		ID:        fields["id"],
		ContentID: fields["episode_id"],
		ActorID:   fields["user_id"],
	}
	if ms, err := strconv.ParseInt(fields["viewed_at"], 10, 64); err == nil {
		rec.ViewedAt = time.UnixMilli(ms)
	}
	rec.MinutesPlayed, _ = strconv.ParseFloat(fields["minutes_played"], 64)
	return rec
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func stringOf(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

var (
	_ store.Backend           = (*Store)(nil)
	_ store.DailyMinutesAdder = (*Store)(nil)
)
