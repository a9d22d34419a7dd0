package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/quintans/dig-scheduler/scheduler"
)

const (
	driverName        = "postgres"
	pgUniqueViolation = "23505"
)

const defaultLockDuration = 5 * time.Minute

const columns = "slug, job_key, kind, payload, run_at, version, retry, result, state"

type Entry struct {
	Slug    string    `db:"slug"`
	JobKey  string    `db:"job_key"`
	Kind    string    `db:"kind"`
	Payload []byte    `db:"payload"`
	When    time.Time `db:"run_at"`
	Version int64     `db:"version"`
	Retry   int       `db:"retry"`
	Result  string    `db:"result"`
	State   string    `db:"state"`
}

func toEntry(t *scheduler.StoreTask) *Entry {
	state := t.State
	if state == "" {
		state = scheduler.StateNormal
	}
	return &Entry{
		Slug:    t.Slug,
		JobKey:  t.JobKey,
		Kind:    t.Kind,
		Payload: t.Payload,
		When:    t.When.UTC(),
		Version: t.Version,
		Retry:   t.Retry,
		Result:  t.Result,
		State:   string(state),
	}
}

func fromEntry(e *Entry) *scheduler.StoreTask {
	if e == nil {
		return nil
	}
	return &scheduler.StoreTask{
		Slug:    e.Slug,
		JobKey:  e.JobKey,
		Kind:    e.Kind,
		Payload: e.Payload,
		When:    e.When.UTC(),
		Version: e.Version,
		Retry:   e.Retry,
		Result:  e.Result,
		State:   scheduler.TriggerState(e.State),
	}
}

// Schema returns the DDL of the table used by the store.
func Schema(tableName string) string {
	return fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s(
		slug VARCHAR (100) PRIMARY KEY,
		job_key VARCHAR (100) NOT NULL,
		kind VARCHAR (100) NOT NULL,
		payload bytea,
		run_at TIMESTAMP NOT NULL,
		version INTEGER NOT NULL,
		retry INTEGER NOT NULL,
		result TEXT NOT NULL DEFAULT '',
		state VARCHAR (20) NOT NULL DEFAULT 'NORMAL',
		locked_until TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS %[1]s_run_at_lock_idx ON %[1]s (state, run_at, locked_until);
	`, tableName)
}

type StoreOption func(*Store)

func TableOption(tableName string) StoreOption {
	return func(ps *Store) {
		ps.tableName = tableName
	}
}

func LockDurationOption(d time.Duration) StoreOption {
	return func(ps *Store) {
		ps.lockDuration = d
	}
}

// Store is a PostgreSQL task store.
type Store struct {
	db           *sqlx.DB
	lockDuration time.Duration
	tableName    string
}

var _ scheduler.JobStore = (*Store)(nil)

func New(db *sql.DB, options ...StoreOption) *Store {
	ps := &Store{
		db:           sqlx.NewDb(db, driverName),
		lockDuration: defaultLockDuration,
		tableName:    "schedules",
	}

	for _, o := range options {
		o(ps)
	}

	return ps
}

// Migrate creates the table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema(s.tableName))
	if err != nil {
		return fmt.Errorf("failed to create table '%s': %w", s.tableName, err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, task *scheduler.StoreTask) error {
	entry := toEntry(task)
	_, err := s.db.NamedExecContext(
		ctx,
		fmt.Sprintf(`INSERT INTO %s (slug, job_key, kind, payload, run_at, version, retry, result, state, locked_until)
		VALUES (:slug, :job_key, :kind, :payload, :run_at, :version, :retry, :result, :state, NULL)`, s.tableName),
		entry,
	)
	if err == nil {
		return nil
	}

	if isDup(err) {
		return scheduler.ErrJobAlreadyExists
	}

	return fmt.Errorf("failed to schedule task: %w", err)
}

// NextRun returns the next available run
func (s *Store) NextRun(ctx context.Context) (*scheduler.StoreTask, error) {
	now := time.Now().UTC()
	entry := &Entry{}
	err := s.db.GetContext(ctx, entry, fmt.Sprintf(`SELECT %s FROM %s
	WHERE state = $1 AND (locked_until IS NULL OR locked_until < $2)
	ORDER BY run_at
	ASC LIMIT 1`,
		columns, s.tableName), string(scheduler.StateNormal), now)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, scheduler.ErrJobNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed selecting next run: %w", err)
	}

	return fromEntry(entry), nil
}

func (s *Store) Lock(ctx context.Context, task *scheduler.StoreTask) (*scheduler.StoreTask, error) {
	var entry *scheduler.StoreTask
	err := s.withTx(ctx, func(c context.Context, t *sqlx.Tx) error {
		var err error
		entry, err = s.lock(c, t, task)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Store) lock(ctx context.Context, t *sqlx.Tx, task *scheduler.StoreTask) (*scheduler.StoreTask, error) {
	now := time.Now().UTC()
	lockUntil := now.Add(s.lockDuration)
	res, err := t.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET locked_until = $1, version = version + 1
		WHERE slug = $2 AND version = $3 AND state = $4`, s.tableName),
		lockUntil, task.Slug, task.Version, string(scheduler.StateNormal))
	if err != nil {
		return nil, fmt.Errorf("failed to lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get affected rows when locking '%s': %w", task.Slug, err)
	}
	if affected == 0 {
		return nil, scheduler.ErrJobNotLocked
	}

	entry := *task // copy
	entry.Version++

	return &entry, nil
}

func (s *Store) Release(ctx context.Context, task *scheduler.StoreTask) error {
	entry := toEntry(task)
	res, err := s.db.NamedExecContext(ctx,
		fmt.Sprintf(`UPDATE %s
		SET payload = :payload, run_at = :run_at, version = version + 1, retry = :retry, result = :result, state = :state, locked_until = NULL
		WHERE slug = :slug AND version = :version`, s.tableName),
		entry)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("failed to release lock of '%s': no update: %w", entry.Slug, scheduler.ErrJobNotFound)
	}

	return nil
}

func (s *Store) Resume(ctx context.Context, slug string, when time.Time) error {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s
		SET state = $1, run_at = $2, retry = 0, version = version + 1, locked_until = NULL
		WHERE slug = $3 AND state = $4`, s.tableName),
		string(scheduler.StateNormal), when.UTC(), slug, string(scheduler.StateError))
	if err != nil {
		return fmt.Errorf("failed to resume '%s': %w", slug, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows when resuming '%s': %w", slug, err)
	}
	if affected == 0 {
		// nothing to resume, as long as it exists
		_, err := s.Get(ctx, slug)
		return err
	}
	return nil
}

func (s *Store) GetSlugs(ctx context.Context) ([]string, error) {
	slugs := []string{}
	err := s.db.SelectContext(ctx, &slugs, fmt.Sprintf("SELECT slug FROM %s", s.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to get slugs: %w", err)
	}
	return slugs, nil
}

func (s *Store) Get(ctx context.Context, slug string) (*scheduler.StoreTask, error) {
	entry := &Entry{}
	err := s.db.GetContext(ctx, entry, fmt.Sprintf("SELECT %s FROM %s WHERE slug = $1", columns, s.tableName), slug)
	if err == nil {
		return fromEntry(entry), nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get task '%s': %w", slug, scheduler.ErrJobNotFound)
	}

	return nil, fmt.Errorf("get task '%s': %w", slug, err)
}

func (s *Store) Delete(ctx context.Context, slug string) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE slug = $1", s.tableName), slug)
	if err != nil {
		return fmt.Errorf("failed to delete '%s': %w", slug, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows when deleting '%s': %w", slug, err)
	}
	if affected == 0 {
		return fmt.Errorf("delete task '%s': %w", slug, scheduler.ErrJobNotFound)
	}

	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", s.tableName))
	if err != nil {
		return fmt.Errorf("failed to clear: %w", err)
	}
	return nil
}

func isDup(err error) bool {
	var pgerr *pq.Error
	return errors.As(err, &pgerr) && pgerr.Code == pgUniqueViolation
}

func (s *Store) withTx(ctx context.Context, fn func(context.Context, *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	err = fn(ctx, tx)
	if err != nil {
		return err
	}
	return tx.Commit()
}
