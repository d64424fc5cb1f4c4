package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/veyra-commerce/api/internal/domain"
	platformfs "github.com/veyra-commerce/api/internal/platform/firestore"
)

const promosCollection = "promoCodes"

// PromoRepository is the Firestore implementation of repositories.PromoRepository.
// The normalized code doubles as the document ID, giving uniqueness for free.
type PromoRepository struct {
	base *platformfs.BaseRepository[domain.PromoCode]
}

// NewPromoRepository constructs the repository bound to the promoCodes collection.
func NewPromoRepository(provider *platformfs.Provider) *PromoRepository {
	return &PromoRepository{
		base: platformfs.NewBaseRepository[domain.PromoCode](provider, promosCollection, nil),
	}
}

// FindByCode loads the promo document, case-insensitively.
func (r *PromoRepository) FindByCode(ctx context.Context, code string) (domain.PromoCode, error) {
	normalized := domain.NormalizePromoCode(code)
	if normalized == "" {
		return domain.PromoCode{}, errors.New("promo repository: code is required")
	}
	doc, err := r.base.Get(ctx, normalized)
	if err != nil {
		return domain.PromoCode{}, err
	}
	promo := doc.Data
	promo.Code = doc.ID
	return promo, nil
}

// Insert creates the promo document, failing on duplicate codes.
func (r *PromoRepository) Insert(ctx context.Context, promo domain.PromoCode) error {
	normalized := domain.NormalizePromoCode(promo.Code)
	if normalized == "" {
		return errors.New("promo repository: code is required")
	}
	promo.Code = normalized
	_, err := r.base.Create(ctx, normalized, promo)
	return err
}

// Update overwrites the promo document.
func (r *PromoRepository) Update(ctx context.Context, promo domain.PromoCode) error {
	normalized := domain.NormalizePromoCode(promo.Code)
	if normalized == "" {
		return errors.New("promo repository: code is required")
	}
	promo.Code = normalized
	_, err := r.base.Set(ctx, normalized, promo)
	return err
}

// AdjustUsage atomically adds delta to currentUses inside a transaction,
// clamping the counter at zero. Decrements against a deleted code surface a
// not-found error for the caller to treat as best effort.
func (r *PromoRepository) AdjustUsage(ctx context.Context, code string, delta int64, now time.Time) error {
	normalized := domain.NormalizePromoCode(code)
	if normalized == "" {
		return errors.New("promo repository: code is required")
	}
	ref, err := r.base.DocumentRef(ctx, normalized)
	if err != nil {
		return err
	}

	return r.base.Provider().RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := r.base.Decode(ctx, snap)
		if err != nil {
			return err
		}
		next := doc.Data.CurrentUses + delta
		if next < 0 {
			next = 0
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "currentUses", Value: next},
			{Path: "updatedAt", Value: now},
		})
	})
}
