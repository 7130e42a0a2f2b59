// Package sqlite is the SQL-backed durable store for view rows and the
// per-episode aggregate.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure Go driver

	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/models"
	"github.com/sapiens-psi/audio-verse-podcast-hub/internal/store"
)

// Config defines SQLite operational parameters.
type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultConfig returns the settings used by the daemon.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 8,
	}
}

// Store persists episode_views rows and the episode titles used by the
// aggregate query.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) the database at path and runs migrations.
func Open(path string, cfg Config) (*Store, error) {
	// Pragmas go in the DSN so they apply to every pooled connection.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS episodes (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		published_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS episode_views (
		id TEXT PRIMARY KEY,
		episode_id TEXT NOT NULL,
		user_id TEXT,
		viewed_at INTEGER NOT NULL,
		minutes_played REAL NOT NULL DEFAULT 0 CHECK(minutes_played >= 0)
	);

	CREATE INDEX IF NOT EXISTS idx_episode_views_episode_time ON episode_views(episode_id, viewed_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) InsertView(ctx context.Context, rec models.ViewRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO episode_views (id, episode_id, user_id, viewed_at, minutes_played) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.ContentID, nullString(rec.ActorID), rec.ViewedAt.UnixNano(), rec.MinutesPlayed)
	if err != nil {
		return "", fmt.Errorf("insert view: %w", err)
	}
	return rec.ID, nil
}

func (s *Store) UpdateViewMinutes(ctx context.Context, id string, minutes float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE episode_views SET minutes_played = ? WHERE id = ?`, minutes, id)
	if err != nil {
		return fmt.Errorf("update view minutes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update view minutes: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) FindLatestView(ctx context.Context, q store.ViewQuery) (models.ViewRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, episode_id, user_id, viewed_at, minutes_played
		FROM episode_views
		WHERE episode_id = ? AND viewed_at >= ? AND viewed_at < ?
		ORDER BY viewed_at DESC, rowid DESC
		LIMIT 1`,
		q.ContentID, q.From.UnixNano(), q.To.UnixNano())

	var (
		rec      models.ViewRecord
		actor    sql.NullString
		viewedAt int64
	)
	if err := row.Scan(&rec.ID, &rec.ContentID, &actor, &viewedAt, &rec.MinutesPlayed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ViewRecord{}, store.ErrNotFound
		}
		return models.ViewRecord{}, fmt.Errorf("find latest view: %w", err)
	}
	rec.ActorID = actor.String
	rec.ViewedAt = time.Unix(0, viewedAt)
	return rec, nil
}

const addToLatestSQL = `
	UPDATE episode_views SET minutes_played = minutes_played + ?
	WHERE id = (
		SELECT id FROM episode_views
		WHERE episode_id = ? AND viewed_at >= ? AND viewed_at < ?
		ORDER BY viewed_at DESC, rowid DESC
		LIMIT 1
	)
	RETURNING id`

const insertIfAbsentSQL = `
	INSERT INTO episode_views (id, episode_id, user_id, viewed_at, minutes_played)
	SELECT ?, ?, ?, ?, ?
	WHERE NOT EXISTS (
		SELECT 1 FROM episode_views
		WHERE episode_id = ? AND viewed_at >= ? AND viewed_at < ?
	)`

// AddDailyMinutes increments the day's latest row in a single statement, or
// inserts the first row of the day when none exists. Each statement is atomic,
// so a concurrent writer can only make the insert a no-op, in which case the
// increment is retried against the row it created.
func (s *Store) AddDailyMinutes(ctx context.Context, inc store.DailyIncrement) (string, bool, error) {
	from, to := inc.DayStart.UnixNano(), inc.DayEnd.UnixNano()

	for attempt := 0; attempt < 3; attempt++ {
		var id string
		err := s.db.QueryRowContext(ctx, addToLatestSQL, inc.Minutes, inc.ContentID, from, to).Scan(&id)
		if err == nil {
			return id, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", false, fmt.Errorf("add daily minutes: %w", err)
		}

		id = uuid.NewString()
		res, err := s.db.ExecContext(ctx, insertIfAbsentSQL,
			id, inc.ContentID, nullString(inc.ActorID), inc.At.UnixNano(), inc.Minutes,
			inc.ContentID, from, to)
		if err != nil {
			return "", false, fmt.Errorf("insert daily row: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			return id, true, nil
		}
	}
	return "", false, errors.New("add daily minutes: row kept changing under contention")
}

func (s *Store) AggregateByContent(ctx context.Context) ([]models.ContentAggregate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.episode_id,
		       COALESCE(MAX(e.title), ''),
		       COUNT(v.id),
		       COALESCE(SUM(v.minutes_played), 0),
		       COALESCE(MAX(e.published_at), 0)
		FROM episode_views v
		LEFT JOIN episodes e ON e.id = v.episode_id
		GROUP BY v.episode_id`)
	if err != nil {
		return nil, fmt.Errorf("aggregate views: %w", err)
	}
	defer rows.Close()

	var out []models.ContentAggregate
	for rows.Next() {
		var (
			agg       models.ContentAggregate
			published int64
		)
		if err := rows.Scan(&agg.ContentID, &agg.Title, &agg.TotalViews, &agg.TotalMinutesPlayed, &published); err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		if published != 0 {
			agg.PublishedAt = time.Unix(0, published).UTC()
		}
		out = append(out, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregate views: %w", err)
	}
	return out, nil
}

func (s *Store) SyncEpisodes(ctx context.Context, episodes []models.Episode) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sync episodes: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO episodes (id, title, published_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, published_at = excluded.published_at`)
	if err != nil {
		return fmt.Errorf("sync episodes: %w", err)
	}
	defer stmt.Close()

	for _, ep := range episodes {
		var published int64
		if !ep.PublishedAt.IsZero() {
			published = ep.PublishedAt.UnixNano()
		}
		if _, err := stmt.ExecContext(ctx, ep.ID, ep.Title, published); err != nil {
			return fmt.Errorf("sync episode %s: %w", ep.ID, err)
		}
	}
	return tx.Commit()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

var (
	_ store.Backend           = (*Store)(nil)
	_ store.DailyMinutesAdder = (*Store)(nil)
)
