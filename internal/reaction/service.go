package reaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/OburuO/ville-messenger-app/internal/metrics"
)

// Toggle outcomes.
const (
	ActionAdded   = "added"
	ActionRemoved = "removed"
	ActionUpdated = "updated"
)

var (
	ErrUnsupportedEntity = errors.New("unsupported entity type")
	ErrEntityNotFound    = errors.New("entity not found")
)

// Store is the persistence the engine needs; *Repository satisfies it.
type Store interface {
	Get(ctx context.Context, entityType string, entityID, userID int64) (*Reaction, error)
	Insert(ctx context.Context, re *Reaction) error
	UpdateEmoji(ctx context.Context, id int64, emoji string) error
	Delete(ctx context.Context, id int64) error
	ListByEntity(ctx context.Context, entityType string, entityID int64) ([]Resolved, error)
}

// Resolver answers whether a reactable entity of one kind exists. Each
// supported kind registers one; the set is closed at wiring time.
type Resolver interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

type Service struct {
	store     Store
	resolvers map[string]Resolver
	log       *slog.Logger
}

func NewService(store Store, log *slog.Logger) *Service {
	return &Service{
		store:     store,
		resolvers: make(map[string]Resolver),
		log:       log,
	}
}

// RegisterEntity adds a reactable kind to the closed set.
func (s *Service) RegisterEntity(entityType string, r Resolver) {
	s.resolvers[entityType] = r
}

// React applies the three-way toggle for (userID, entity): no existing
// reaction creates one, the same emoji removes it, a different emoji
// updates the row in place. Returns the action taken and the entity's
// full reaction list.
func (s *Service) React(ctx context.Context, entityType string, entityID, userID int64, rawEmoji string) (string, []Resolved, error) {
	emoji, err := NormalizeEmoji(rawEmoji)
	if err != nil {
		return "", nil, err
	}

	if err := s.resolve(ctx, entityType, entityID); err != nil {
		return "", nil, err
	}

	action, err := s.toggle(ctx, entityType, entityID, userID, emoji, true)
	if err != nil {
		return "", nil, err
	}

	list, err := s.list(ctx, entityType, entityID)
	if err != nil {
		return "", nil, err
	}
	metrics.ReactionsToggled.WithLabelValues(action).Inc()
	return action, list, nil
}

func (s *Service) toggle(ctx context.Context, entityType string, entityID, userID int64, emoji string, retryOnDuplicate bool) (string, error) {
	existing, err := s.store.Get(ctx, entityType, entityID, userID)
	if err != nil {
		return "", err
	}

	switch {
	case existing == nil:
		re := &Reaction{
			UserID:        userID,
			Emoji:         emoji,
			ReactableType: entityType,
			ReactableID:   entityID,
		}
		err := s.store.Insert(ctx, re)
		if errors.Is(err, ErrDuplicate) && retryOnDuplicate {
			// Lost a race with another toggle by the same user; the
			// uniqueness constraint is the real guard. Re-read and
			// fall through to one of the legal outcomes.
			return s.toggle(ctx, entityType, entityID, userID, emoji, false)
		}
		if err != nil {
			return "", err
		}
		return ActionAdded, nil

	case existing.Emoji == emoji:
		if err := s.store.Delete(ctx, existing.ID); err != nil {
			return "", err
		}
		return ActionRemoved, nil

	default:
		if err := s.store.UpdateEmoji(ctx, existing.ID, emoji); err != nil {
			return "", err
		}
		return ActionUpdated, nil
	}
}

// List returns the entity's current reactions; read-only.
func (s *Service) List(ctx context.Context, entityType string, entityID int64) ([]Resolved, error) {
	if err := s.resolve(ctx, entityType, entityID); err != nil {
		return nil, err
	}
	return s.list(ctx, entityType, entityID)
}

// list never returns nil: an entity without reactions serializes as an
// empty array, not null.
func (s *Service) list(ctx context.Context, entityType string, entityID int64) ([]Resolved, error) {
	out, err := s.store.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Resolved{}
	}
	return out, nil
}

func (s *Service) resolve(ctx context.Context, entityType string, entityID int64) error {
	resolver, ok := s.resolvers[entityType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEntity, entityType)
	}
	exists, err := resolver.Exists(ctx, entityID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s/%d", ErrEntityNotFound, entityType, entityID)
	}
	return nil
}
