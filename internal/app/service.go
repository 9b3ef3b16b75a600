package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"remember/api/internal/auth"
	"remember/api/internal/cascade"
	"remember/api/internal/codec"
	"remember/api/internal/config"
	"remember/api/internal/docstore"
	"remember/api/internal/envelope"
	"remember/api/internal/fanout"
	"remember/api/internal/imaging"
	"remember/api/internal/model"
	"remember/api/internal/txwrite"
	"remember/api/internal/validate"
)

// Caller is the authenticated identity behind a request.
type Caller struct {
	UID           string
	EmailVerified bool
	Anonymous     bool
	SecretKey     string
}

func CallerFromClaims(c auth.Claims) Caller {
	return Caller{
		UID:           c.Sub,
		EmailVerified: c.EmailVerified,
		Anonymous:     c.IsAnonymous(),
		SecretKey:     c.SecretKey,
	}
}

// Result is the success payload of a handler. It always carries "details".
type Result map[string]any

type objectStore interface {
	PutProfileImage(ctx context.Context, uid string, jpeg []byte) (string, error)
	DeleteProfileImage(ctx context.Context, uid string) error
}

type imageTranscoder interface {
	Transcode(data []byte) ([]byte, error)
}

type accountDeleter interface {
	DeleteUser(ctx context.Context, event cascade.Event) (cascade.Result, error)
}

// Dependencies are the collaborators of a Service. Objects and Accounts may
// be nil, which disables profile images and account deletion.
type Dependencies struct {
	Store      docstore.Store
	Objects    objectStore
	Transcoder imageTranscoder
	Accounts   accountDeleter
	Logger     zerolog.Logger
}

type Service struct {
	cfg      config.Config
	store    docstore.Store
	objects  objectStore
	images   imageTranscoder
	accounts accountDeleter
	log      zerolog.Logger
	now      func() time.Time
}

func New(cfg config.Config, deps Dependencies) *Service {
	images := deps.Transcoder
	if images == nil {
		images = imaging.NewTranscoder()
	}
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		objects:  deps.Objects,
		images:   images,
		accounts: deps.Accounts,
		log:      deps.Logger,
		now:      time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SyncToken() string {
	return s.cfg.SyncToken
}

func (s *Service) CallerFromToken(token string) (Caller, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.AuthSecret), token)
	if err != nil {
		return Caller{}, err
	}
	return CallerFromClaims(claims), nil
}

// codecFor checks the caller's claims and picks how their documents are
// stored.
func (s *Service) codecFor(caller Caller) (codec.Codec, error) {
	if caller.UID == "" {
		return nil, permissionDenied("Sign in to use this functionality.")
	}
	if !caller.EmailVerified && !caller.Anonymous {
		return nil, permissionDenied("Verify your email address first.")
	}
	if !s.cfg.EncryptionEnabled {
		return codec.Plain{}, nil
	}
	if caller.SecretKey == "" {
		return nil, permissionDenied("Your session has no secret key.")
	}
	key, err := envelope.ImportKey(caller.SecretKey)
	if err != nil {
		return nil, permissionDenied("Your session has an unusable secret key.")
	}
	return codec.Encrypted{Key: key}, nil
}

// begin authorizes the caller, then decodes and validates data into req.
// Nothing touches the store before both pass.
func (s *Service) begin(caller Caller, data json.RawMessage, req validate.Payload) (codec.Codec, error) {
	c, err := s.codecFor(caller)
	if err != nil {
		return nil, err
	}
	if err := validate.Decode(data, req); err != nil {
		return nil, invalidArgument("", err.Error())
	}
	return c, nil
}

// txn is the state of one attempt of a handler transaction. Reads go
// straight to tx; writes queue in writes until the body returns.
type txn struct {
	ctx    context.Context
	tx     docstore.Tx
	codec  codec.Codec
	uid    string
	writes *txwrite.Buffer

	user    model.User
	userErr error
}

// transact runs fn in one store transaction after loading the caller's user
// document and rejecting disabled accounts. fn may run more than once.
func (s *Service) transact(ctx context.Context, caller Caller, c codec.Codec, fn func(t *txn) error) error {
	return s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		t := &txn{ctx: ctx, tx: tx, codec: c, uid: caller.UID, writes: txwrite.New(tx)}
		if err := t.loadUser(); err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
		return t.writes.Execute(ctx)
	})
}

func (t *txn) loadUser() error {
	user, err := read(t, model.UserRef(t.uid), t.codec.DecodeUser)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		user = model.User{ID: t.uid}
	case errors.Is(err, codec.ErrUnreadable):
		t.userErr = err
	case err != nil:
		return err
	}
	t.user = user
	if user.Disabled {
		return permissionDenied("Your account is disabled.")
	}
	return nil
}

// editableUser is the caller's user for handlers that write it back. A user
// document that could not be read is never overwritten.
func (t *txn) editableUser() (model.User, error) {
	if t.userErr != nil {
		return model.User{}, invalidArgument("", "Your profile could not be read.")
	}
	user := t.user
	user.RoundsIDs = slices.Clone(user.RoundsIDs)
	return user, nil
}

func read[T any](t *txn, ref docstore.Ref, decode func(docstore.Snapshot) (T, error)) (T, error) {
	snap, err := t.tx.Get(t.ctx, ref)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("read %s: %w", ref, err)
	}
	return decode(snap)
}

// notUsable turns a missing or unreadable document into invalid-argument.
func notUsable(err error, what string) error {
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return invalidArgument("", what+" does not exist.")
	case errors.Is(err, codec.ErrUnreadable):
		return invalidArgument("", what+" could not be read.")
	}
	return err
}

func (t *txn) round(roundID string) (model.Round, error) {
	round, err := read(t, model.RoundRef(t.uid, roundID), t.codec.DecodeRound)
	if err != nil {
		return model.Round{}, notUsable(err, "Round")
	}
	return round, nil
}

func (t *txn) task(roundID, taskID string) (model.Task, error) {
	task, err := read(t, model.TaskRef(t.uid, roundID, taskID), t.codec.DecodeTask)
	if err != nil {
		return model.Task{}, notUsable(err, "Task")
	}
	return task, nil
}

func (t *txn) todayTask(roundID string, day model.Weekday, taskID string) (model.TodayTask, error) {
	todayTask, err := read(t, model.TodayTaskRef(t.uid, roundID, day, taskID), t.codec.DecodeTodayTask)
	if err != nil {
		return model.TodayTask{}, notUsable(err, "Today task")
	}
	return todayTask, nil
}

// dayState reads the Today of each day and, with withTodayTask, the task's
// TodayTask under it.
func (t *txn) dayState(roundID string, days []model.Weekday, taskID string, withTodayTask bool) (fanout.State, error) {
	state := make(fanout.State, len(days))
	for _, day := range days {
		today, err := read(t, model.TodayRef(t.uid, roundID, day), t.codec.DecodeToday)
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, notUsable(err, "Today")
		}
		ds := fanout.DayState{Today: today, Exists: true}
		if withTodayTask {
			todayTask, err := read(t, model.TodayTaskRef(t.uid, roundID, day, taskID), t.codec.DecodeTodayTask)
			switch {
			case err == nil:
				ds.TodayTask, ds.HasTodayTask = todayTask, true
			case !errors.Is(err, docstore.ErrNotFound):
				return nil, notUsable(err, "Today task")
			}
		}
		state[day] = ds
	}
	return state, nil
}

// apply queues the writes of a fan-out plan.
func (t *txn) apply(roundID string, plan fanout.Plan) {
	for _, w := range plan.Todays {
		ref := model.TodayRef(t.uid, roundID, w.Today.ID)
		switch w.Op {
		case fanout.OpSet:
			t.writes.Set(ref, t.codec.EncodeToday(w.Today))
		case fanout.OpCreate:
			t.writes.Create(ref, t.codec.EncodeToday(w.Today))
		case fanout.OpDelete:
			t.writes.Delete(ref)
		}
	}
	for _, w := range plan.TodayTasks {
		ref := model.TodayTaskRef(t.uid, roundID, w.Day, w.TodayTask.ID)
		switch w.Op {
		case fanout.OpSet:
			t.writes.Set(ref, t.codec.EncodeTodayTask(w.TodayTask))
		case fanout.OpCreate:
			t.writes.Create(ref, t.codec.EncodeTodayTask(w.TodayTask))
		case fanout.OpDelete:
			t.writes.Delete(ref)
		}
	}
}

// planErr maps a fan-out planning failure caused by missing documents.
func planErr(err error) error {
	if errors.Is(err, fanout.ErrMissingToday) || errors.Is(err, fanout.ErrMissingTodayTask) {
		return invalidArgument("", "The task's days are out of sync: "+err.Error())
	}
	return err
}
