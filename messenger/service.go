// Package messenger implements entity-to-entity messaging: conversations between
// artist profiles and event postings, the message status pipeline, reactions,
// unread aggregation, history paging and realtime fan-out.
package messenger

import (
	"context"
	"sync"
	"time"

	"gig-messenger/model"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Oracle answers who controls an entity. It is backed by the profile and posting stores.
type Oracle interface {
	OwnerOf(ctx context.Context, ref model.EntityRef) (string, error)
	Describe(ctx context.Context, ref model.EntityRef) (model.EntitySummary, error)
	ListOwned(ctx context.Context, userID string) ([]model.EntitySummary, error)
}

// Notifier records a durable notification for a user and triggers push delivery.
type Notifier interface {
	CreateNotification(ctx context.Context, in model.NotificationInput) (model.Notification, error)
}

// Broadcaster publishes a named event onto a channel. Delivery is at-least-once
// and best-effort; subscribers reconcile by id.
type Broadcaster interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

// Limiter decides whether key may perform one more action in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type Options struct {
	StoreTimeout   time.Duration
	PublishTimeout time.Duration
	NotifyTimeout  time.Duration
	Limiter        Limiter
	Logger         zerolog.Logger
	Now            func() time.Time
}

const (
	defaultStoreTimeout   = 5 * time.Second
	defaultPublishTimeout = 2 * time.Second
	defaultNotifyTimeout  = 3 * time.Second
)

type Service struct {
	db          *gorm.DB
	oracle      Oracle
	notifier    Notifier
	broadcaster Broadcaster
	limiter     Limiter
	log         zerolog.Logger
	opts        Options

	// tracks in-flight notification goroutines
	pending sync.WaitGroup
}

func New(db *gorm.DB, oracle Oracle, notifier Notifier, broadcaster Broadcaster, opts Options) *Service {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaultPublishTimeout
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = defaultNotifyTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		db:          db,
		oracle:      oracle,
		notifier:    notifier,
		broadcaster: broadcaster,
		limiter:     opts.Limiter,
		log:         opts.Logger,
		opts:        opts,
	}
}

// Close waits for in-flight notifications to finish.
func (s *Service) Close() {
	s.pending.Wait()
}

func (s *Service) now() time.Time {
	return s.opts.Now().UTC()
}

// store returns a gorm session bound to a context carrying the store timeout.
func (s *Service) store(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	return s.db.WithContext(ctx), cancel
}

// MyEntities lists the artist profiles and event postings the user controls.
func (s *Service) MyEntities(ctx context.Context, userID string) ([]model.EntitySummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	entities, err := s.oracle.ListOwned(ctx, userID)
	if err != nil {
		return nil, storeError(err, nil)
	}
	if entities == nil {
		entities = []model.EntitySummary{}
	}
	return entities, nil
}
