package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	"github.com/veyra-commerce/api/internal/domain"
	platformfs "github.com/veyra-commerce/api/internal/platform/firestore"
	"github.com/veyra-commerce/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository is the Firestore implementation of repositories.OrderRepository.
type OrderRepository struct {
	base *platformfs.BaseRepository[domain.Order]
}

// NewOrderRepository constructs the repository bound to the orders collection.
func NewOrderRepository(provider *platformfs.Provider) *OrderRepository {
	return &OrderRepository{
		base: platformfs.NewBaseRepository[domain.Order](provider, ordersCollection, nil),
	}
}

// Insert creates the order document, failing if the ID already exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: id is required")
	}
	_, err := r.base.Create(ctx, order.ID, order)
	return err
}

// Update overwrites the full order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: id is required")
	}
	_, err := r.base.Set(ctx, order.ID, order)
	return err
}

// FindByID loads the order by its internal identifier.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	order := doc.Data
	order.ID = doc.ID
	return order, nil
}

// FindByGatewayOrderID locates the order carrying the given gateway order id.
func (r *OrderRepository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
	if strings.TrimSpace(gatewayOrderID) == "" {
		return domain.Order{}, errors.New("order repository: gateway order id is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("gatewayOrderId", "==", gatewayOrderID).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, &notFoundError{op: "orders.findbygatewayorderid", id: gatewayOrderID}
	}
	order := docs[0].Data
	order.ID = docs[0].ID
	return order, nil
}

// MarkPaid flips paymentStatus from Pending to Paid inside a transaction.
// When the order is already Paid the call reports Flipped=false and mutates
// nothing, making verification retries and duplicated webhooks safe.
func (r *OrderRepository) MarkPaid(ctx context.Context, req repositories.MarkPaidRequest) (repositories.MarkPaidResult, error) {
	ref, err := r.base.DocumentRef(ctx, req.OrderID)
	if err != nil {
		return repositories.MarkPaidResult{}, err
	}

	var result repositories.MarkPaidResult
	err = r.base.Provider().RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := r.base.Decode(ctx, snap)
		if err != nil {
			return fmt.Errorf("order repository: decode %s: %w", req.OrderID, err)
		}
		order := doc.Data
		order.ID = doc.ID

		if order.PaymentStatus == domain.PaymentPaid {
			result = repositories.MarkPaidResult{Order: order, Flipped: false}
			return nil
		}

		order.PaymentStatus = domain.PaymentPaid
		order.OrderStatus = domain.OrderProcessing
		order.GatewayPaymentID = req.GatewayPaymentID
		order.GatewaySignature = req.GatewaySignature
		order.PaidAt = req.PaidAt
		order.UpdatedAt = req.PaidAt

		if err := tx.Update(ref, []firestore.Update{
			{Path: "paymentStatus", Value: order.PaymentStatus},
			{Path: "orderStatus", Value: order.OrderStatus},
			{Path: "gatewayPaymentId", Value: order.GatewayPaymentID},
			{Path: "gatewaySignature", Value: order.GatewaySignature},
			{Path: "paidAt", Value: order.PaidAt},
			{Path: "updatedAt", Value: order.UpdatedAt},
		}); err != nil {
			return err
		}
		result = repositories.MarkPaidResult{Order: order, Flipped: true}
		return nil
	})
	if err != nil {
		return repositories.MarkPaidResult{}, err
	}
	return result, nil
}

// List returns the user's orders, newest first. Return and exchange filters
// are applied in memory since Firestore cannot query on sub-document presence.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.UserID != "" {
			q = q.Where("userId", "==", filter.UserID)
		}
		if filter.OrderStatus != "" {
			q = q.Where("orderStatus", "==", string(filter.OrderStatus))
		}
		q = q.OrderBy("createdAt", firestore.Desc)
		if filter.Limit > 0 && !filter.HasReturn && !filter.HasExchange {
			q = q.Limit(filter.Limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order := doc.Data
		order.ID = doc.ID
		if filter.HasReturn && order.Refund == nil {
			continue
		}
		if filter.HasExchange && order.Exchange == nil {
			continue
		}
		orders = append(orders, order)
		if filter.Limit > 0 && len(orders) >= filter.Limit {
			break
		}
	}
	return orders, nil
}

// StatusCounts aggregates the user's orders per fulfilment status.
func (r *OrderRepository) StatusCounts(ctx context.Context, userID string) (map[domain.OrderStatus]int64, error) {
	statuses := []domain.OrderStatus{
		domain.OrderPending,
		domain.OrderProcessing,
		domain.OrderShipped,
		domain.OrderDelivered,
		domain.OrderCancelled,
	}
	counts := make(map[domain.OrderStatus]int64, len(statuses))
	for _, status := range statuses {
		status := status
		n, err := r.base.Count(ctx, func(q firestore.Query) firestore.Query {
			if userID != "" {
				q = q.Where("userId", "==", userID)
			}
			return q.Where("orderStatus", "==", string(status))
		})
		if err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, nil
}

// notFoundError satisfies repositories.RepositoryError for query misses that
// never reach the Firestore error mapper.
type notFoundError struct {
	op string
	id string
}

func (e *notFoundError) Error() string {
	return fmt.Sprintf("%s: %s not found", e.op, e.id)
}

func (e *notFoundError) IsNotFound() bool    { return true }
func (e *notFoundError) IsConflict() bool    { return false }
func (e *notFoundError) IsUnavailable() bool { return false }
