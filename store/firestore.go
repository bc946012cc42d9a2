package store

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"

	"betterish/model"
)

const (
	tasksCollection = "Tasks"
	usersCollection = "Users"
)

// FirestoreStore backs the engine with Cloud Firestore. Tasks live in the
// Tasks collection keyed by uuid; the streak record lives on the owner's
// Users document.
type FirestoreStore struct {
	client *firestore.Client
	log    zerolog.Logger
}

func NewFirestoreStore(client *firestore.Client, log zerolog.Logger) *FirestoreStore {
	return &FirestoreStore{
		client: client,
		log:    log.With().Str("component", "store").Logger(),
	}
}

func (s *FirestoreStore) GetTask(ctx context.Context, taskID string) (model.Task, error) {
	doc, err := s.client.Collection(tasksCollection).Doc(taskID).Get(ctx)
	if err != nil {
		return model.Task{}, wrapFirestore("get task", err)
	}
	var t model.Task
	if err := doc.DataTo(&t); err != nil {
		return model.Task{}, newError(KindInternal, "decode task", err)
	}
	t.TaskID = doc.Ref.ID
	return t, nil
}

func (s *FirestoreStore) CreateTask(ctx context.Context, t model.Task) (string, error) {
	if t.TaskID == "" {
		t.TaskID = uuid.New().String()
	}
	_, err := s.client.Collection(tasksCollection).Doc(t.TaskID).Set(ctx, t)
	if err != nil {
		return "", wrapFirestore("create task", err)
	}
	return t.TaskID, nil
}

func (s *FirestoreStore) UpdateTask(ctx context.Context, taskID string, set map[string]any) error {
	updates := make([]firestore.Update, 0, len(set))
	for path, value := range set {
		updates = append(updates, firestore.Update{Path: path, Value: value})
	}
	_, err := s.client.Collection(tasksCollection).Doc(taskID).Update(ctx, updates)
	if err != nil {
		return wrapFirestore("update task", err)
	}
	return nil
}

func (s *FirestoreStore) buildQuery(q TaskQuery) firestore.Query {
	fq := s.client.Collection(tasksCollection).Query.Where("ownerid", "==", q.OwnerID)
	if q.Source != "" {
		fq = fq.Where("source", "==", string(q.Source))
	}
	if !q.CreatedAfter.IsZero() {
		fq = fq.Where("createdat", ">=", q.CreatedAfter)
	}
	switch q.Order {
	case OrderCreatedAsc:
		fq = fq.OrderBy("createdat", firestore.Asc)
	case OrderCreatedDesc:
		fq = fq.OrderBy("createdat", firestore.Desc)
	}
	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}
	return fq
}

func (s *FirestoreStore) QueryTasks(ctx context.Context, q TaskQuery) ([]model.Task, error) {
	iter := s.buildQuery(q).Documents(ctx)
	defer iter.Stop()

	var tasks []model.Task
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, wrapFirestore("query tasks", err)
		}
		var t model.Task
		if err := doc.DataTo(&t); err != nil {
			s.log.Warn().Str("taskid", doc.Ref.ID).Err(err).Msg("skipping undecodable task")
			continue
		}
		t.TaskID = doc.Ref.ID
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (s *FirestoreStore) Subscribe(ctx context.Context, q TaskQuery) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	snaps := make(chan Snapshot, 1)
	errs := make(chan error, 1)

	it := s.buildQuery(q).Snapshots(subCtx)
	go func() {
		defer close(snaps)
		defer close(errs)
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if subCtx.Err() == nil {
					errs <- wrapFirestore("subscribe", err)
				}
				return
			}
			tasks, err := collectSnapshot(snap)
			if err != nil {
				errs <- err
				return
			}
			out := Snapshot{
				Tasks: tasks,
				Token: snap.ReadTime.UnixNano(),
				At:    snap.ReadTime,
			}
			select {
			case snaps <- out:
			case <-subCtx.Done():
				return
			}
		}
	}()

	return &Subscription{Snapshots: snaps, Errs: errs, stop: cancel}, nil
}

func collectSnapshot(snap *firestore.QuerySnapshot) ([]model.Task, error) {
	var tasks []model.Task
	for {
		doc, err := snap.Documents.Next()
		if err == iterator.Done {
			return tasks, nil
		}
		if err != nil {
			return nil, wrapFirestore("read snapshot", err)
		}
		var t model.Task
		if err := doc.DataTo(&t); err != nil {
			continue
		}
		t.TaskID = doc.Ref.ID
		tasks = append(tasks, t)
	}
}

func (s *FirestoreStore) ListRawTasks(ctx context.Context, ownerID string) ([]RawTask, error) {
	iter := s.client.Collection(tasksCollection).Where("ownerid", "==", ownerID).Documents(ctx)
	defer iter.Stop()

	var raws []RawTask
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, wrapFirestore("list raw tasks", err)
		}
		raws = append(raws, RawTask{TaskID: doc.Ref.ID, Fields: doc.Data()})
	}
	return raws, nil
}

func (s *FirestoreStore) BatchUpdate(ctx context.Context, ops []BatchOp) error {
	if len(ops) == 0 {
		return nil
	}
	batch := s.client.Batch()
	for _, op := range ops {
		updates := make([]firestore.Update, 0, len(op.Set))
		for path, value := range op.Set {
			updates = append(updates, firestore.Update{Path: path, Value: value})
		}
		batch.Update(s.client.Collection(tasksCollection).Doc(op.TaskID), updates)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return wrapFirestore("batch update", err)
	}
	return nil
}

func (s *FirestoreStore) GetStreak(ctx context.Context, ownerID string) (model.Streak, error) {
	doc, err := s.client.Collection(usersCollection).Doc(ownerID).Get(ctx)
	if err != nil {
		return model.Streak{}, wrapFirestore("get streak", err)
	}
	var st model.Streak
	if err := doc.DataTo(&st); err != nil {
		return model.Streak{}, newError(KindInternal, "decode streak", err)
	}
	st.OwnerID = ownerID
	return st, nil
}

func (s *FirestoreStore) SetStreak(ctx context.Context, st model.Streak) error {
	// Merge so the engine never clobbers profile fields on the user doc.
	var last any
	if st.LastCompletionDate != nil {
		last = *st.LastCompletionDate
	}
	_, err := s.client.Collection(usersCollection).Doc(st.OwnerID).Set(ctx, map[string]any{
		"streakcount":        st.Count,
		"lastcompletiondate": last,
	}, firestore.MergeAll)
	if err != nil {
		return wrapFirestore("set streak", err)
	}
	return nil
}

func (s *FirestoreStore) GetUser(ctx context.Context, ownerID string) (model.User, error) {
	doc, err := s.client.Collection(usersCollection).Doc(ownerID).Get(ctx)
	if err != nil {
		return model.User{}, wrapFirestore("get user", err)
	}
	var u model.User
	if err := doc.DataTo(&u); err != nil {
		return model.User{}, newError(KindInternal, "decode user", err)
	}
	u.UserID = ownerID
	return u, nil
}

var _ TaskStore = (*FirestoreStore)(nil)
