package messenger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gig-messenger/model"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	artist1 = model.EntityRef{ID: 1, Type: model.EntityArtistProfile}
	artist2 = model.EntityRef{ID: 2, Type: model.EntityArtistProfile}
	event1  = model.EntityRef{ID: 1, Type: model.EntityEventPosting}
	event2  = model.EntityRef{ID: 2, Type: model.EntityEventPosting}
)

const (
	user1 = "u1"
	user2 = "u2"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection keeps every session on the same in-memory database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&model.Conversation{}, &model.Message{}, &model.Notification{}))
	return db
}

type fakeOracle struct {
	mu     sync.Mutex
	owners map[model.EntityRef]string
	names  map[model.EntityRef]string
	err    error
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		owners: map[model.EntityRef]string{
			artist1: user1,
			event1:  user2,
			artist2: user2,
			event2:  user1,
		},
		names: map[model.EntityRef]string{
			artist1: "The Midnight Owls",
			event1:  "Summer Jazz Night",
			artist2: "DJ Nova",
			event2:  "Rooftop Sessions",
		},
	}
}

func (o *fakeOracle) OwnerOf(_ context.Context, ref model.EntityRef) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return "", o.err
	}
	owner, ok := o.owners[ref]
	if !ok {
		return "", ErrEntityNotFound
	}
	return owner, nil
}

func (o *fakeOracle) Describe(_ context.Context, ref model.EntityRef) (model.EntitySummary, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	name, ok := o.names[ref]
	if !ok {
		return model.EntitySummary{}, ErrEntityNotFound
	}
	return model.EntitySummary{ID: ref.ID, Type: ref.Type, Name: name}, nil
}

func (o *fakeOracle) ListOwned(_ context.Context, userID string) ([]model.EntitySummary, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var entities []model.EntitySummary
	for _, ref := range []model.EntityRef{artist1, artist2, event1, event2} {
		if o.owners[ref] == userID {
			entities = append(entities, model.EntitySummary{ID: ref.ID, Type: ref.Type, Name: o.names[ref]})
		}
	}
	return entities, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []model.NotificationInput
	err   error
}

func (n *fakeNotifier) CreateNotification(_ context.Context, in model.NotificationInput) (model.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return model.Notification{}, n.err
	}
	n.calls = append(n.calls, in)
	id := in.RelatedConversationID
	return model.Notification{
		ID:                    uint(len(n.calls)),
		RecipientUserID:       in.RecipientUserID,
		Type:                  in.Type,
		Title:                 in.Title,
		Message:               in.Message,
		RelatedConversationID: &id,
	}, nil
}

func (n *fakeNotifier) inputs() []model.NotificationInput {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.NotificationInput(nil), n.calls...)
}

type published struct {
	Channel string
	Event   string
	Payload any
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (b *fakeBroadcaster) Publish(_ context.Context, channel, event string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.events = append(b.events, published{Channel: channel, Event: event, Payload: payload})
	return nil
}

func (b *fakeBroadcaster) named(event string) []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []published
	for _, e := range b.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (l *fakeLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.err
}

// clock hands out strictly increasing instants.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	db          *gorm.DB
	svc         *Service
	oracle      *fakeOracle
	notifier    *fakeNotifier
	broadcaster *fakeBroadcaster
}

func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()

	f := &fixture{
		db:          newTestDB(t),
		oracle:      newFakeOracle(),
		notifier:    &fakeNotifier{},
		broadcaster: &fakeBroadcaster{},
	}
	options := Options{Logger: zerolog.Nop(), Now: newClock().Now}
	for _, o := range opts {
		o(&options)
	}
	f.svc = New(f.db, f.oracle, f.notifier, f.broadcaster, options)
	t.Cleanup(f.svc.Close)
	return f
}

func (f *fixture) send(t *testing.T, userID string, from, to model.EntityRef, content string) SendResult {
	t.Helper()
	result, err := f.svc.Send(context.Background(), userID, SendInput{
		SenderEntity:   from,
		ReceiverEntity: to,
		Content:        content,
	})
	require.NoError(t, err)
	return result
}

var errBroken = errors.New("broken")
