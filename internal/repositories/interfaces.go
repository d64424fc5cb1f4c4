package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/veyra-commerce/api/internal/domain"
)

// RepositoryError lets callers branch on persistence failure categories
// without depending on the backing store.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// IsNotFound reports whether err represents a missing entity.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

// IsConflict reports whether err represents a conflicting write.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}

// IsUnavailable reports whether err represents a transient backend outage.
func IsUnavailable(err error) bool {
	var repoErr RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsUnavailable()
	}
	return false
}

// OrderListFilter narrows order queries.
type OrderListFilter struct {
	UserID      string
	OrderStatus domain.OrderStatus
	HasReturn   bool
	HasExchange bool
	Limit       int
}

// MarkPaidRequest carries the fields persisted when payment verification
// flips an order to Paid.
type MarkPaidRequest struct {
	OrderID          string
	GatewayPaymentID string
	GatewaySignature string
	PaidAt           time.Time
}

// MarkPaidResult reports whether this call performed the Pending to Paid flip.
// Flipped is false when a concurrent or earlier verification already won.
type MarkPaidResult struct {
	Order   domain.Order
	Flipped bool
}

// OrderRepository persists the order aggregate.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, id string) (domain.Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error)
	// MarkPaid performs a transactional compare-and-set on paymentStatus,
	// guaranteeing the Pending to Paid transition happens exactly once.
	MarkPaid(ctx context.Context, req MarkPaidRequest) (MarkPaidResult, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
	StatusCounts(ctx context.Context, userID string) (map[domain.OrderStatus]int64, error)
}

// PromoRepository persists promo codes and their usage counters.
type PromoRepository interface {
	FindByCode(ctx context.Context, code string) (domain.PromoCode, error)
	Insert(ctx context.Context, promo domain.PromoCode) error
	Update(ctx context.Context, promo domain.PromoCode) error
	// AdjustUsage atomically adds delta to currentUses, clamping at zero.
	AdjustUsage(ctx context.Context, code string, delta int64, now time.Time) error
}

// StockCommitRequest asks for an all-or-nothing decrement across every line.
type StockCommitRequest struct {
	Lines []domain.OrderLine
}

// StockCommitResult reports per-item aggregate decrements applied.
type StockCommitResult struct {
	ItemDecrements map[string]int64
}

// InsufficientStockError names the first SKU whose stock cannot cover the
// requested quantity. Nothing is persisted when it is returned.
type InsufficientStockError struct {
	SKU       string
	Requested int64
	Available int64
}

// Error implements the error interface.
func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for sku %s: requested %d, available %d", e.SKU, e.Requested, e.Available)
}

// IsInsufficientStock reports whether err wraps an InsufficientStockError.
func IsInsufficientStock(err error) bool {
	var target *InsufficientStockError
	return errors.As(err, &target)
}

// CatalogRepository reads catalog projections and commits stock decrements.
type CatalogRepository interface {
	GetItem(ctx context.Context, itemID string) (domain.Item, error)
	GetItemDetails(ctx context.Context, itemID string) (domain.ItemDetails, error)
	// CommitStock decrements per-SKU and aggregate item stock in one
	// transaction. All lines are checked before any write.
	CommitStock(ctx context.Context, req StockCommitRequest) (StockCommitResult, error)
}

// CounterRepository allocates monotonically increasing sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, name string) (int64, error)
}
