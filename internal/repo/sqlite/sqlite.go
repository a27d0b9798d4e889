package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // pure-Go driver

	"github.com/hamed0406/watchdog/internal/domain"
	"github.com/hamed0406/watchdog/internal/repo"
)

//go:embed schema.sql
var schemaSQL string

var _ repo.Store = (*Store)(nil)

// Store keeps times as INTEGER unix nanoseconds so ordering and equality
// on start_time are exact.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

func New(ctx context.Context, path string, log *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// one writer; WAL lets readers proceed
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	log.Info("sqlite store ready", zap.String("path", path))
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// tx runs fn in a transaction, committing when it returns nil.
func (s *Store) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}
	return tx.Commit()
}

// ---- OwnerStore ----

func (s *Store) AddOwner(ctx context.Context, o *domain.Owner) error {
	if o.ID == "" {
		o.ID = domain.OwnerID(uuid.NewString())
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO owners (id, username, telegram_chat_id, created_at) VALUES (?, ?, ?, ?)`,
		string(o.ID), o.Username, o.TelegramChatID, o.CreatedAt.UnixNano(),
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
		chat    sql.NullInt64
		created int64
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT id, username, telegram_chat_id, created_at FROM owners WHERE id = ?`,
		string(t.OwnerID),
	).Scan(&ownerID, &o.Username, &chat, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return t, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load owner: %w", err)
	}
	o.ID = domain.OwnerID(ownerID)
	o.CreatedAt = fromNanos(created)
	if chat.Valid {
		v := chat.Int64
		o.TelegramChatID = &v
	}
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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO targets (`+targetColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(t.ID), string(t.OwnerID), t.Name, t.URL, t.Method, headers, nullString(t.Body),
		t.Interval, t.Active, t.NextDueAt.UnixNano(), t.LastCheckStatus.Nullable(), t.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert target: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id domain.TargetID) (*domain.Target, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+targetColumns+` FROM targets WHERE id = ?`, string(id))
	t, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get target: %w", err)
	}
	return t, nil
}

func (s *Store) List(ctx context.Context) ([]domain.Target, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+targetColumns+` FROM targets ORDER BY created_at DESC, id DESC`)
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
	res, err := s.db.ExecContext(ctx, `UPDATE targets SET is_active = ? WHERE id = ?`, active, string(id))
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set active %q: %w", id, repo.ErrNotFound)
	}
	return nil
}

func (s *Store) Dispatch(ctx context.Context, now time.Time, limit int, fn repo.DispatchFunc) ([]domain.Target, error) {
	if limit <= 0 {
		limit = -1
	}
	var out []domain.Target
	err := s.tx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+targetColumns+` FROM targets
			  WHERE is_active = 1 AND next_check_at <= ?
			  ORDER BY next_check_at ASC
			  LIMIT ?`,
			now.UnixNano(), limit)
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

		for i := range due {
			next, err := fn(due[i])
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE targets SET next_check_at = ? WHERE id = ?`,
				next.UnixNano(), string(due[i].ID)); err != nil {
				return fmt.Errorf("advance %s: %w", due[i].ID, err)
			}
			due[i].NextDueAt = next.UTC()
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
	return s.tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO outcomes (target_id, start_time, duration_ms, status_code, is_success, error_message)
			 SELECT ?, ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM targets WHERE id = ?)
			 ON CONFLICT (target_id, start_time) DO NOTHING`,
			string(o.TargetID), o.StartTime.UnixNano(), o.DurationMS, o.StatusCode, o.Success, o.ErrorMessage,
			string(o.TargetID),
		)
		if err != nil {
			return fmt.Errorf("insert outcome: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM targets WHERE id = ?)`, string(o.TargetID)).Scan(&exists); err != nil {
				return fmt.Errorf("check target: %w", err)
			}
			if !exists {
				return fmt.Errorf("insert outcome %q: %w", o.TargetID, repo.ErrNotFound)
			}
			return repo.ErrDuplicate
		}
		// only this column; a concurrent dispatch may be moving next_check_at
		if _, err := tx.ExecContext(ctx,
			`UPDATE targets SET last_check_status = ? WHERE id = ?`,
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT target_id, start_time, duration_ms, status_code, is_success, error_message
		   FROM outcomes WHERE target_id = ?
		  ORDER BY start_time DESC LIMIT ?`,
		string(id), limit)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var out []domain.Outcome
	for rows.Next() {
		var (
			o      domain.Outcome
			tid    string
			start  int64
			status sql.NullInt64
			errMsg sql.NullString
		)
		if err := rows.Scan(&tid, &start, &o.DurationMS, &status, &o.Success, &errMsg); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.TargetID = domain.TargetID(tid)
		o.StartTime = fromNanos(start)
		if status.Valid {
			v := int(status.Int64)
			o.StatusCode = &v
		}
		if errMsg.Valid {
			v := errMsg.String
			o.ErrorMessage = &v
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTarget(r scanner) (*domain.Target, error) {
	var (
		t               domain.Target
		id, owner       string
		headers, body   sql.NullString
		next, created   int64
		lastCheckStatus sql.NullBool
	)
	if err := r.Scan(&id, &owner, &t.Name, &t.URL, &t.Method, &headers, &body, &t.Interval,
		&t.Active, &next, &lastCheckStatus, &created); err != nil {
		return nil, err
	}
	h, err := repo.DecodeHeaders([]byte(headers.String))
	if err != nil {
		return nil, err
	}
	t.ID = domain.TargetID(id)
	t.OwnerID = domain.OwnerID(owner)
	t.Headers = h
	t.Body = body.String
	t.NextDueAt = fromNanos(next)
	t.CreatedAt = fromNanos(created)
	if lastCheckStatus.Valid {
		t.LastCheckStatus = domain.StatusFromBool(lastCheckStatus.Bool)
	}
	return &t, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
