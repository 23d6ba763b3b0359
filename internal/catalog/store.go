// Package catalog persists manuscripts in SQLite, one row per identifier.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/manuscript"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const timeLayout = time.RFC3339Nano

// Store is a SQLite-backed manuscript catalog.
type Store struct {
	db      *sql.DB
	cfg     config.CatalogConfig
	log     *slog.Logger
	clock   func() time.Time
	backoff time.Duration
}

// Open creates the database file and schema when needed.
func Open(ctx context.Context, cfg config.CatalogConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(2000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{
		db:      db,
		cfg:     cfg,
		log:     log.With(slog.String("component", "catalog")),
		clock:   time.Now,
		backoff: 50 * time.Millisecond,
	}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS manuscripts (
    id TEXT PRIMARY KEY,
    state TEXT NOT NULL,
    title TEXT NOT NULL,
    url TEXT,
    forced_voice TEXT,
    image TEXT,
    progress REAL,
    sections TEXT NOT NULL,
    outro TEXT NOT NULL,
    complete_audio_path TEXT,
    complete_audio_url TEXT,
    lastmod TEXT,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_manuscripts_state ON manuscripts(state);
`
	_, err := s.db.ExecContext(ctx, ddl)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type row struct {
	state, title, sections, outro      string
	url, voice, image, audio, audioURL sql.NullString
	lastmod                            sql.NullString
	progress                           sql.NullFloat64
}

func (s *Store) encode(m manuscript.Manuscript) ([]any, error) {
	sections, err := json.Marshal(m.Sections)
	if err != nil {
		return nil, fmt.Errorf("encode sections: %w", err)
	}
	outro, err := json.Marshal(m.Outro)
	if err != nil {
		return nil, fmt.Errorf("encode outro: %w", err)
	}
	var progress sql.NullFloat64
	if m.Progress != nil {
		progress = sql.NullFloat64{Float64: *m.Progress, Valid: true}
	}
	var lastmod sql.NullString
	if !m.LastModified.IsZero() {
		lastmod = sql.NullString{String: m.LastModified.UTC().Format(timeLayout), Valid: true}
	}
	return []any{
		m.ID, string(m.State), m.Title, nullString(m.URL), nullString(m.ForcedVoice), nullString(m.Image),
		progress, string(sections), string(outro), nullString(m.CompleteAudioPath), nullString(m.CompleteAudioURL),
		lastmod, s.clock().UTC().Format(timeLayout),
	}, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

const columns = `id, state, title, url, forced_voice, image, progress, sections, outro,
complete_audio_path, complete_audio_url, lastmod, updated_at`

func scan(sc interface{ Scan(...any) error }) (manuscript.Manuscript, error) {
	var (
		m       manuscript.Manuscript
		r       row
		updated string
	)
	if err := sc.Scan(&m.ID, &r.state, &r.title, &r.url, &r.voice, &r.image, &r.progress,
		&r.sections, &r.outro, &r.audio, &r.audioURL, &r.lastmod, &updated); err != nil {
		return m, err
	}
	m.State = manuscript.State(r.state)
	m.Title = r.title
	m.URL = r.url.String
	m.ForcedVoice = r.voice.String
	m.Image = r.image.String
	m.CompleteAudioPath = r.audio.String
	m.CompleteAudioURL = r.audioURL.String
	if r.progress.Valid {
		p := r.progress.Float64
		m.Progress = &p
	}
	if r.lastmod.Valid {
		if ts, err := time.Parse(timeLayout, r.lastmod.String); err == nil {
			m.LastModified = ts
		}
	}
	if err := json.Unmarshal([]byte(r.sections), &m.Sections); err != nil {
		return m, fmt.Errorf("decode sections of %q: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(r.outro), &m.Outro); err != nil {
		return m, fmt.Errorf("decode outro of %q: %w", m.ID, err)
	}
	return m, nil
}

// Get returns the manuscript stored under id.
func (s *Store) Get(ctx context.Context, id string) (manuscript.Manuscript, bool, error) {
	var (
		m   manuscript.Manuscript
		err error
	)
	err = s.retryOnBusy(ctx, func() error {
		m, err = scan(s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM manuscripts WHERE id = ?`, id))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return manuscript.Manuscript{}, false, nil
	}
	if err != nil {
		return manuscript.Manuscript{}, false, fmt.Errorf("get manuscript: %w", err)
	}
	return m, true, nil
}

// Upsert inserts m or replaces the stored record with the same id.
func (s *Store) Upsert(ctx context.Context, m manuscript.Manuscript) error {
	args, err := s.encode(m)
	if err != nil {
		return err
	}
	err = s.retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO manuscripts(`+columns+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
			   state=excluded.state, title=excluded.title, url=excluded.url,
			   forced_voice=excluded.forced_voice, image=excluded.image, progress=excluded.progress,
			   sections=excluded.sections, outro=excluded.outro,
			   complete_audio_path=excluded.complete_audio_path, complete_audio_url=excluded.complete_audio_url,
			   lastmod=excluded.lastmod, updated_at=excluded.updated_at`, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert manuscript: %w", err)
	}
	return nil
}

// InsertIfAbsent stores m unless a record with its id exists. It reports
// whether m was inserted.
func (s *Store) InsertIfAbsent(ctx context.Context, m manuscript.Manuscript) (bool, error) {
	args, err := s.encode(m)
	if err != nil {
		return false, err
	}
	var inserted bool
	err = s.retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO manuscripts(`+columns+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		inserted = n == 1
		return err
	})
	if err != nil {
		return false, fmt.Errorf("insert manuscript: %w", err)
	}
	return inserted, nil
}

// MarkGenerating flags a manuscript as being generated with zero progress.
// A missing record is inserted from m; an existing one keeps its content so
// readers see the previous version until generation completes.
func (s *Store) MarkGenerating(ctx context.Context, m manuscript.Manuscript) error {
	zero := 0.0
	m.State = manuscript.StateGenerating
	m.Progress = &zero
	args, err := s.encode(m)
	if err != nil {
		return err
	}
	err = s.retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO manuscripts(`+columns+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET state=excluded.state, progress=excluded.progress, updated_at=excluded.updated_at`,
			args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("mark generating: %w", err)
	}
	return nil
}

// SetProgress records generation progress in [0, 1].
func (s *Store) SetProgress(ctx context.Context, id string, progress float64) error {
	return s.update(ctx, "set progress",
		`UPDATE manuscripts SET progress = ?, updated_at = ? WHERE id = ?`,
		progress, s.clock().UTC().Format(timeLayout), id)
}

// SetCompleteAudio records where the concatenated narration lives.
func (s *Store) SetCompleteAudio(ctx context.Context, id, path, url string) error {
	return s.update(ctx, "set complete audio",
		`UPDATE manuscripts SET complete_audio_path = ?, complete_audio_url = ?, updated_at = ? WHERE id = ?`,
		nullString(path), nullString(url), s.clock().UTC().Format(timeLayout), id)
}

func (s *Store) update(ctx context.Context, op, query string, args ...any) error {
	err := s.retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// List returns manuscripts ordered by id, optionally filtered by state.
func (s *Store) List(ctx context.Context, state manuscript.State) ([]manuscript.Manuscript, error) {
	var out []manuscript.Manuscript
	err := s.retryOnBusy(ctx, func() error {
		out = out[:0]
		query := `SELECT ` + columns + ` FROM manuscripts`
		var args []any
		if state != "" {
			query += ` WHERE state = ?`
			args = append(args, string(state))
		}
		rows, err := s.db.QueryContext(ctx, query+` ORDER BY id ASC`, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			m, err := scan(rows)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list manuscripts: %w", err)
	}
	return out, nil
}

// Stats counts manuscripts per state.
func (s *Store) Stats(ctx context.Context) (map[manuscript.State]int, error) {
	stats := map[manuscript.State]int{}
	err := s.retryOnBusy(ctx, func() error {
		clear(stats)
		rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM manuscripts GROUP BY state`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				state string
				n     int
			)
			if err := rows.Scan(&state, &n); err != nil {
				return err
			}
			stats[manuscript.State(state)] = n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("catalog stats: %w", err)
	}
	return stats, nil
}

func (s *Store) retryOnBusy(ctx context.Context, fn func() error) error {
	delay := s.backoff
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !isBusy(err) || attempt >= s.cfg.BusyRetries {
			return err
		}
		s.log.Debug("sqlite busy, retrying", slog.Int("attempt", attempt+1), slog.Duration("delay", delay))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code() & 0xff
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}
