package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	platformfs "github.com/veyra-commerce/api/internal/platform/firestore"
)

const countersCollection = "counters"

type counterDoc struct {
	Value int64 `firestore:"value"`
}

// CounterRepository allocates monotonically increasing sequence numbers, used
// for operator-facing RMA numbers.
type CounterRepository struct {
	base *platformfs.BaseRepository[counterDoc]
}

// NewCounterRepository constructs the repository bound to the counters collection.
func NewCounterRepository(provider *platformfs.Provider) *CounterRepository {
	return &CounterRepository{
		base: platformfs.NewBaseRepository[counterDoc](provider, countersCollection, nil),
	}
}

// Next increments and returns the named counter, creating it at 1 on first use.
func (r *CounterRepository) Next(ctx context.Context, name string) (int64, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return 0, errors.New("counter repository: name is required")
	}
	ref, err := r.base.DocumentRef(ctx, trimmed)
	if err != nil {
		return 0, err
	}

	var next int64
	err = r.base.Provider().RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			doc, err := r.base.Decode(ctx, snap)
			if err != nil {
				return err
			}
			next = doc.Data.Value + 1
		case status.Code(err) == codes.NotFound:
			next = 1
		default:
			return err
		}
		return tx.Set(ref, counterDoc{Value: next})
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}
