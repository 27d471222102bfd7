package catalog

import (
	"context"
	"log"
	"strconv"

	"github.com/imrishuroy/go-attribute-store/internal/aws"
)

// Notifier receives ItemCreated events after the insert succeeds.
type Notifier interface {
	ItemCreated(ctx context.Context, ev ItemCreated) error
}

// Service is the administrator-guarded catalog.
type Service struct {
	repo     Repository
	admin    string
	notifier Notifier
}

type ServiceOption func(*Service)

// WithNotifier sets where ItemCreated events are sent.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// NewService returns a catalog whose only writer is admin.
func NewService(repo Repository, admin string, opts ...ServiceOption) *Service {
	s := &Service{repo: repo, admin: admin}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Admin returns the administrator identity.
func (s *Service) Admin() string { return s.admin }

// CreateItem inserts item on behalf of caller.
func (s *Service) CreateItem(ctx context.Context, caller string, item Item) (ItemCreated, error) {
	if caller != s.admin {
		return ItemCreated{}, ErrUnauthorized
	}
	if err := s.repo.Insert(ctx, item); err != nil {
		return ItemCreated{}, err
	}

	ev := ItemCreated{Event: EventItemCreated, ItemID: item.ID}
	if s.notifier != nil {
		// the item is already stored; a lost notification is not rolled back
		if err := s.notifier.ItemCreated(ctx, ev); err != nil {
			log.Printf("[catalog] notify item_created item=%d: %v", item.ID, err)
		}
	}
	log.Printf("[catalog] created item=%d price=%d", item.ID, item.Price)
	return ev, nil
}

// Get returns (nil, nil) for an unknown id.
func (s *Service) Get(ctx context.Context, id ItemID) (*Item, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Item, error) {
	return s.repo.List(ctx)
}

// SQSNotifier publishes ItemCreated events to an SQS queue.
type SQSNotifier struct {
	publisher *aws.Publisher
}

func NewSQSNotifier(p *aws.Publisher) *SQSNotifier {
	return &SQSNotifier{publisher: p}
}

func (n *SQSNotifier) ItemCreated(ctx context.Context, ev ItemCreated) error {
	return n.publisher.SendJSON(ctx, ev, map[string]string{
		"event":   ev.Event,
		"item_id": strconv.FormatUint(uint64(ev.ItemID), 10),
	})
}
