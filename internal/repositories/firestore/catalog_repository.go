package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"cloud.google.com/go/firestore"

	"github.com/veyra-commerce/api/internal/domain"
	platformfs "github.com/veyra-commerce/api/internal/platform/firestore"
	"github.com/veyra-commerce/api/internal/repositories"
)

const (
	itemsCollection       = "items"
	itemDetailsCollection = "itemDetails"
)

// CatalogRepository reads catalog projections and owns the stock ledger.
type CatalogRepository struct {
	items   *platformfs.BaseRepository[domain.Item]
	details *platformfs.BaseRepository[domain.ItemDetails]
}

// NewCatalogRepository constructs the repository over the items and
// itemDetails collections.
func NewCatalogRepository(provider *platformfs.Provider) *CatalogRepository {
	return &CatalogRepository{
		items:   platformfs.NewBaseRepository[domain.Item](provider, itemsCollection, nil),
		details: platformfs.NewBaseRepository[domain.ItemDetails](provider, itemDetailsCollection, nil),
	}
}

// GetItem loads the aggregate catalog item.
func (r *CatalogRepository) GetItem(ctx context.Context, itemID string) (domain.Item, error) {
	doc, err := r.items.Get(ctx, itemID)
	if err != nil {
		return domain.Item{}, err
	}
	item := doc.Data
	item.ID = doc.ID
	return item, nil
}

// GetItemDetails loads the variant-level document holding per-SKU stock.
func (r *CatalogRepository) GetItemDetails(ctx context.Context, itemID string) (domain.ItemDetails, error) {
	doc, err := r.details.Get(ctx, itemID)
	if err != nil {
		return domain.ItemDetails{}, err
	}
	details := doc.Data
	details.ItemID = doc.ID
	return details, nil
}

// CommitStock decrements per-SKU and aggregate item stock for every order
// line inside one Firestore transaction. Requested quantities are folded per
// SKU and per item before any check, so repeated SKUs across lines (promo
// duplication, client carts) count once at their summed quantity. Every folded
// demand is checked against available stock before any write, so an
// insufficient-stock failure leaves the ledger untouched.
func (r *CatalogRepository) CommitStock(ctx context.Context, req repositories.StockCommitRequest) (repositories.StockCommitResult, error) {
	if len(req.Lines) == 0 {
		return repositories.StockCommitResult{}, errors.New("catalog repository: no lines to commit")
	}

	// Fold requested quantities per item and per SKU. Order lines may share
	// a SKU, so the availability check must see the summed demand.
	type skuDemand struct {
		itemID   string
		sku      string
		quantity int64
	}
	perItem := make(map[string]int64)
	perSKU := make(map[string]*skuDemand)
	demands := make([]*skuDemand, 0, len(req.Lines))
	for _, line := range req.Lines {
		if line.Quantity <= 0 {
			return repositories.StockCommitResult{}, fmt.Errorf("catalog repository: non-positive quantity for sku %s", line.SKU)
		}
		perItem[line.ItemID] += line.Quantity
		key := line.ItemID + "/" + line.SKU
		if demand, ok := perSKU[key]; ok {
			demand.quantity += line.Quantity
			continue
		}
		demand := &skuDemand{itemID: line.ItemID, sku: line.SKU, quantity: line.Quantity}
		perSKU[key] = demand
		demands = append(demands, demand)
	}
	itemIDs := make([]string, 0, len(perItem))
	for id := range perItem {
		itemIDs = append(itemIDs, id)
	}
	sort.Strings(itemIDs)

	var result repositories.StockCommitResult
	err := r.items.Provider().RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		type itemState struct {
			itemRef    *firestore.DocumentRef
			detailsRef *firestore.DocumentRef
			item       domain.Item
			details    domain.ItemDetails
		}

		// Firestore requires all reads before the first write.
		states := make(map[string]*itemState, len(itemIDs))
		for _, itemID := range itemIDs {
			itemRef, err := r.items.DocumentRef(ctx, itemID)
			if err != nil {
				return err
			}
			detailsRef, err := r.details.DocumentRef(ctx, itemID)
			if err != nil {
				return err
			}

			itemSnap, err := tx.Get(itemRef)
			if err != nil {
				return err
			}
			itemDoc, err := r.items.Decode(ctx, itemSnap)
			if err != nil {
				return fmt.Errorf("catalog repository: decode item %s: %w", itemID, err)
			}
			detailsSnap, err := tx.Get(detailsRef)
			if err != nil {
				return err
			}
			detailsDoc, err := r.details.Decode(ctx, detailsSnap)
			if err != nil {
				return fmt.Errorf("catalog repository: decode item details %s: %w", itemID, err)
			}

			item := itemDoc.Data
			item.ID = itemDoc.ID
			details := detailsDoc.Data
			details.ItemID = detailsDoc.ID
			states[itemID] = &itemState{
				itemRef:    itemRef,
				detailsRef: detailsRef,
				item:       item,
				details:    details,
			}
		}

		// Check every folded demand before decrementing anything.
		for _, demand := range demands {
			state, ok := states[demand.itemID]
			if !ok {
				return fmt.Errorf("catalog repository: item %s not loaded", demand.itemID)
			}
			ci, si, found := state.details.FindSKU(demand.sku)
			if !found {
				return fmt.Errorf("catalog repository: sku %s not found under item %s", demand.sku, demand.itemID)
			}
			available := state.details.Colors[ci].Sizes[si].Stock
			if available < demand.quantity {
				return &repositories.InsufficientStockError{
					SKU:       demand.sku,
					Requested: demand.quantity,
					Available: available,
				}
			}
		}
		for itemID, quantity := range perItem {
			if states[itemID].item.Stock < quantity {
				return &repositories.InsufficientStockError{
					SKU:       itemID,
					Requested: quantity,
					Available: states[itemID].item.Stock,
				}
			}
		}

		// All demands fit; apply the decrements.
		for _, demand := range demands {
			state := states[demand.itemID]
			ci, si, _ := state.details.FindSKU(demand.sku)
			state.details.Colors[ci].Sizes[si].Stock -= demand.quantity
		}
		decrements := make(map[string]int64, len(perItem))
		for _, itemID := range itemIDs {
			state := states[itemID]
			quantity := perItem[itemID]
			state.item.Stock -= quantity
			decrements[itemID] = quantity

			if err := tx.Update(state.detailsRef, []firestore.Update{
				{Path: "colors", Value: state.details.Colors},
			}); err != nil {
				return err
			}
			if err := tx.Update(state.itemRef, []firestore.Update{
				{Path: "stock", Value: state.item.Stock},
			}); err != nil {
				return err
			}
		}
		result = repositories.StockCommitResult{ItemDecrements: decrements}
		return nil
	})
	if err != nil {
		return repositories.StockCommitResult{}, err
	}
	return result, nil
}
