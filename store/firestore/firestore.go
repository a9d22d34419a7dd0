package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	gfs "cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/quintans/dig-scheduler/scheduler"
)

const deleteBatchSize = 100

var errNotResumable = errors.New("task is not in error state")

type Entry struct {
	Slug        string    `firestore:"slug"`
	JobKey      string    `firestore:"job_key"`
	Kind        string    `firestore:"kind"`
	Payload     []byte    `firestore:"payload,omitempty"`
	When        time.Time `firestore:"run_at"`
	Version     int64     `firestore:"version"`
	Retry       int       `firestore:"retry,omitempty"`
	Result      string    `firestore:"result,omitempty"`
	State       string    `firestore:"state"`
	LockedUntil time.Time `firestore:"locked_until"`
}

func (e *Entry) Lock(d time.Duration) {
	e.LockedUntil = time.Now().UTC().Add(d)
}

func (e *Entry) Unlock() {
	e.LockedUntil = time.Time{}
}

func (e *Entry) IsUnlocked(t time.Time) bool {
	return e.LockedUntil.Before(t)
}

func (e *Entry) IsErrored() bool {
	return e.State == string(scheduler.StateError)
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

type StoreOption func(*Store)

func CollectionPathOption(collectionPath string) StoreOption {
	return func(s *Store) {
		s.collectionPath = collectionPath
	}
}

func LockDurationOption(d time.Duration) StoreOption {
	return func(s *Store) {
		s.lockDuration = d
	}
}

// Store is a firestore task store.
type Store struct {
	client         *gfs.Client
	lockDuration   time.Duration
	collectionPath string
}

var _ scheduler.JobStore = (*Store)(nil)

func New(firestoreClient *gfs.Client, options ...StoreOption) *Store {
	ps := &Store{
		client:         firestoreClient,
		lockDuration:   5 * time.Minute,
		collectionPath: "schedules",
	}

	for _, o := range options {
		o(ps)
	}

	return ps
}

func (s *Store) collectionRef() *gfs.CollectionRef {
	return s.client.Collection(s.collectionPath)
}

func (s *Store) docRef(slug string) *gfs.DocumentRef {
	return s.collectionRef().Doc(slug)
}

func (s *Store) Create(ctx context.Context, task *scheduler.StoreTask) error {
	entry := toEntry(task)
	_, err := s.docRef(task.Slug).Create(ctx, entry)
	if status.Code(err) == codes.AlreadyExists {
		return scheduler.ErrJobAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to schedule '%s': %w", task.Slug, err)
	}

	return nil
}

func (s *Store) NextRun(ctx context.Context) (*scheduler.StoreTask, error) {
	now := time.Now().UTC()

	// firestore requires the first order field to be the one used in an inequality,
	// so we scan by "run_at" and skip locked and errored documents.
	// The number of locked or errored records is expected to be low.
	iter := s.collectionRef().
		OrderBy("run_at", gfs.Asc).
		Documents(ctx)
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil, scheduler.ErrJobNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed selecting next run: %w", err)
		}
		entry := &Entry{}
		err = doc.DataTo(entry)
		if err != nil {
			return nil, fmt.Errorf("failed to convert doc to entry on next run: %w", err)
		}
		if entry.IsUnlocked(now) && !entry.IsErrored() {
			return fromEntry(entry), nil
		}
	}
}

func (s *Store) Lock(ctx context.Context, task *scheduler.StoreTask) (*scheduler.StoreTask, error) {
	e, err := s.update(ctx, task.Slug, func(old *Entry) (*Entry, error) {
		if old.Version != task.Version || old.IsErrored() || !old.IsUnlocked(time.Now().UTC()) {
			return nil, scheduler.ErrJobNotLocked
		}
		e := toEntry(task)
		e.Lock(s.lockDuration)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to lock '%s': %w", task.Slug, err)
	}
	return fromEntry(e), nil
}

func (s *Store) Release(ctx context.Context, task *scheduler.StoreTask) error {
	_, err := s.update(ctx, task.Slug, func(old *Entry) (*Entry, error) {
		if old.Version != task.Version {
			return nil, scheduler.ErrJobNotLocked
		}
		e := toEntry(task)
		e.Unlock()
		return e, nil
	})
	if err != nil {
		return fmt.Errorf("failed to release lock '%s': %w", task.Slug, err)
	}
	return nil
}

func (s *Store) Resume(ctx context.Context, slug string, when time.Time) error {
	_, err := s.update(ctx, slug, func(old *Entry) (*Entry, error) {
		if !old.IsErrored() {
			return nil, errNotResumable
		}
		old.State = string(scheduler.StateNormal)
		old.When = when.UTC()
		old.Retry = 0
		old.Unlock()
		return old, nil
	})
	if errors.Is(err, errNotResumable) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resume '%s': %w", slug, err)
	}
	return nil
}

func (s *Store) GetSlugs(ctx context.Context) ([]string, error) {
	var slugs []string
	iter := s.collectionRef().Documents(ctx)
	defer iter.Stop()
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get slugs: %w", err)
		}
		slugs = append(slugs, doc.Ref.ID)
	}
	return slugs, nil
}

func (s *Store) Get(ctx context.Context, slug string) (*scheduler.StoreTask, error) {
	doc, err := s.docRef(slug).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("get task '%s': %w", slug, scheduler.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get '%s': %w", slug, err)
	}
	entry := &Entry{}
	err = doc.DataTo(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to convert doc to entry on get: %w", err)
	}

	return fromEntry(entry), nil
}

func (s *Store) Delete(ctx context.Context, slug string) error {
	_, err := s.docRef(slug).Delete(ctx, gfs.Exists)
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("delete task '%s': %w", slug, scheduler.ErrJobNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to delete '%s': %w", slug, err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	for {
		iter := s.collectionRef().Limit(deleteBatchSize).Documents(ctx)
		numDeleted := 0

		batch := s.client.Batch()
		for {
			doc, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				iter.Stop()
				return fmt.Errorf("failed to iterate on batch delete: %w", err)
			}

			batch.Delete(doc.Ref)
			numDeleted++
		}
		iter.Stop()

		if numDeleted == 0 {
			return nil
		}

		_, err := batch.Commit(ctx)
		if err != nil {
			return fmt.Errorf("failed to batch delete: %w", err)
		}
	}
}

// update applies updateFn to the stored entry inside a transaction, bumping its version.
func (s *Store) update(ctx context.Context, slug string, updateFn func(*Entry) (*Entry, error)) (*Entry, error) {
	ref := s.docRef(slug)
	var newEntry *Entry
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *gfs.Transaction) error {
		doc, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return scheduler.ErrJobNotFound
		}
		if err != nil {
			return err
		}
		oldEntry := &Entry{}
		if err := doc.DataTo(oldEntry); err != nil {
			return err
		}
		e, err := updateFn(oldEntry)
		if err != nil {
			return err
		}
		e.Version = oldEntry.Version + 1
		newEntry = e
		return tx.Set(ref, e)
	})
	if err != nil {
		return nil, err
	}
	return newEntry, nil
}
