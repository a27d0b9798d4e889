package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/watchdog/internal/domain"
	"github.com/hamed0406/watchdog/internal/repo"
)

var _ repo.Store = (*Store)(nil)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS owners (
  id               TEXT PRIMARY KEY,
  username         TEXT NOT NULL,
  telegram_chat_id BIGINT NULL UNIQUE,
  created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS targets (
  id                TEXT PRIMARY KEY,
  owner_id          TEXT NOT NULL REFERENCES owners(id) ON DELETE CASCADE,
  name              TEXT NOT NULL DEFAULT '',
  url               TEXT NOT NULL,
  method            TEXT NOT NULL DEFAULT 'GET',
  headers           JSONB NULL,
  body              TEXT NULL,
  interval          INTEGER NOT NULL DEFAULT 60,
  is_active         BOOLEAN NOT NULL DEFAULT true,
  next_check_at     TIMESTAMPTZ NOT NULL,
  last_check_status BOOLEAN NULL,
  created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS scheduler_index ON targets (is_active, next_check_at);

CREATE TABLE IF NOT EXISTS outcomes (
  target_id     TEXT NOT NULL REFERENCES targets(id) ON DELETE CASCADE,
  start_time    TIMESTAMPTZ NOT NULL,
  duration_ms   BIGINT NOT NULL,
  status_code   INTEGER NULL,
  is_success    BOOLEAN NOT NULL,
  error_message TEXT NULL,
  PRIMARY KEY (target_id, start_time)
);
`

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

// Migrate creates the tables if they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.log.Info("postgres schema ready")
	return nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// ---- OwnerStore ----

func (s *Store) AddOwner(ctx context.Context, o *domain.Owner) error {
	if o.ID == "" {
		o.ID = domain.OwnerID(uuid.NewString())
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO owners (id, username, telegram_chat_id, created_at) VALUES ($1, $2, $3, $4)`,
		string(o.ID), o.Username, o.TelegramChatID, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert owner: %w", err)
	}
	return nil
}

func (s *Store) OwnerOfTarget(ctx context.Context, id domain.TargetID) (*domain.Target, *domain.Owner, error) {
	t, err := s.Get(ctx, id)
	if err != nil || t == nil {
		return nil, nil, err
	}
	var (
		o       domain.Owner
		ownerID string
	)
	err = s.pool.QueryRow(ctx,
		`SELECT id, username, telegram_chat_id, created_at FROM owners WHERE id = $1`,
		string(t.OwnerID),
	).Scan(&ownerID, &o.Username, &o.TelegramChatID, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return t, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load owner: %w", err)
	}
	o.ID = domain.OwnerID(ownerID)
	return t, &o, nil
}

// ---- TargetStore ----

const targetColumns = `id, owner_id, name, url, method, headers, body, interval,
	is_active, next_check_at, last_check_status, created_at`

func (s *Store) Add(ctx context.Context, t *domain.Target) error {
	if t.ID == "" {
		t.ID = domain.TargetID(uuid.NewString())
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	headers, err := repo.EncodeHeaders(t.Headers)
	if err != nil {
		return err
	}
	var body *string
	if t.Body != "" {
		body = &t.Body
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO targets (`+targetColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10, $11, $12)`,
		string(t.ID), string(t.OwnerID), t.Name, t.URL, t.Method, headers, body,
		t.Interval, t.Active, t.NextDueAt, t.LastCheckStatus.Nullable(), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert target: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id domain.TargetID) (*domain.Target, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+targetColumns+` FROM targets WHERE id = $1`, string(id))
	t, err := scanTarget(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get target: %w", err)
	}
	return t, nil
}

func (s *Store) List(ctx context.Context) ([]domain.Target, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+targetColumns+`
		   FROM targets
		  ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var out []domain.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) SetActive(ctx context.Context, id domain.TargetID, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE targets SET is_active = $1 WHERE id = $2`, active, string(id))
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set active %q: %w", id, repo.ErrNotFound)
	}
	return nil
}

func (s *Store) Dispatch(ctx context.Context, now time.Time, limit int, fn repo.DispatchFunc) ([]domain.Target, error) {
	var out []domain.Target
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		q := `SELECT ` + targetColumns + `
		        FROM targets
		       WHERE is_active AND next_check_at <= $1
		       ORDER BY next_check_at ASC`
		args := []any{now}
		if limit > 0 {
			q += ` LIMIT $2`
			args = append(args, limit)
		}
		// a second scheduler replica skips rows this one holds
		q += ` FOR UPDATE SKIP LOCKED`

		rows, err := tx.Query(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("select due: %w", err)
		}
		var due []domain.Target
		for rows.Next() {
			t, err := scanTarget(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan due: %w", err)
			}
			due = append(due, *t)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i := range due {
			next, err := fn(due[i])
			if err != nil {
				return err
			}
			due[i].NextDueAt = next.UTC()
			batch.Queue(`UPDATE targets SET next_check_at = $1 WHERE id = $2`, next, string(due[i].ID))
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("advance due: %w", err)
			}
		}
		out = due
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ---- ResultStore ----

func (s *Store) RecordOutcome(ctx context.Context, o *domain.Outcome) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM targets WHERE id = $1)`, string(o.TargetID)).Scan(&exists); err != nil {
			return fmt.Errorf("check target: %w", err)
		}
		if !exists {
			return fmt.Errorf("insert outcome %q: %w", o.TargetID, repo.ErrNotFound)
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO outcomes (target_id, start_time, duration_ms, status_code, is_success, error_message)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (target_id, start_time) DO NOTHING`,
			string(o.TargetID), o.StartTime, o.DurationMS, o.StatusCode, o.Success, o.ErrorMessage,
		)
		if err != nil {
			return fmt.Errorf("insert outcome: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return repo.ErrDuplicate
		}
		// single column so a concurrent dispatch is not overwritten
		if _, err := tx.Exec(ctx,
			`UPDATE targets SET last_check_status = $1 WHERE id = $2`,
			o.Success, string(o.TargetID)); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return nil
	})
}

func (s *Store) LatestOutcome(ctx context.Context, id domain.TargetID) (*domain.Outcome, error) {
	rows, err := s.ListOutcomes(ctx, id, 1)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

func (s *Store) ListOutcomes(ctx context.Context, id domain.TargetID, limit int) ([]domain.Outcome, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
SELECT target_id, start_time, duration_ms, status_code, is_success, error_message
  FROM outcomes
 WHERE target_id = $1
 ORDER BY start_time DESC
 LIMIT $2`, string(id), limit)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var out []domain.Outcome
	for rows.Next() {
		var (
			o   domain.Outcome
			tid string
		)
		if err := rows.Scan(&tid, &o.StartTime, &o.DurationMS, &o.StatusCode, &o.Success, &o.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.TargetID = domain.TargetID(tid)
		o.StartTime = o.StartTime.UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanTarget(r pgx.Row) (*domain.Target, error) {
	var (
		t               domain.Target
		id, owner       string
		headers         []byte
		body            *string
		lastCheckStatus *bool
	)
	if err := r.Scan(&id, &owner, &t.Name, &t.URL, &t.Method, &headers, &body, &t.Interval,
		&t.Active, &t.NextDueAt, &lastCheckStatus, &t.CreatedAt); err != nil {
		return nil, err
	}
	h, err := repo.DecodeHeaders(headers)
	if err != nil {
		return nil, err
	}
	t.ID = domain.TargetID(id)
	t.OwnerID = domain.OwnerID(owner)
	t.Headers = h
	if body != nil {
		t.Body = *body
	}
	t.NextDueAt = t.NextDueAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.LastCheckStatus = domain.StatusFromNullable(lastCheckStatus)
	return &t, nil
}
