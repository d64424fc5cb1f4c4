package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/veyra-commerce/api/internal/domain"
	"github.com/veyra-commerce/api/internal/repositories"
)

var (
	// ErrPromoNotFound indicates the code does not exist.
	ErrPromoNotFound = errors.New("pricing: promo code not found")
	// ErrPromoInactive indicates the code exists but is switched off.
	ErrPromoInactive = errors.New("pricing: promo code inactive")
	// ErrPromoOutsideWindow indicates the current time is outside the validity window.
	ErrPromoOutsideWindow = errors.New("pricing: promo code outside validity window")
	// ErrPromoExhausted indicates the usage cap has been reached.
	ErrPromoExhausted = errors.New("pricing: promo code usage exhausted")
	// ErrPromoMinOrder indicates the cart total is below the code's minimum.
	ErrPromoMinOrder = errors.New("pricing: cart below promo minimum order value")
	// ErrAmountMismatch indicates the client-claimed amount disagrees with the
	// server-side recomputation beyond tolerance.
	ErrAmountMismatch = errors.New("pricing: amount mismatch")
)

// amountTolerance is the permitted difference, in minor units, between the
// client-claimed amount and the recomputed total.
const amountTolerance = 1

var itemIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// CartLine is one client-submitted cart entry.
type CartLine struct {
	ItemID   string
	SKU      string
	Quantity int64
}

// PricingConfig sets the shipping fee schedule. All values are minor units.
type PricingConfig struct {
	FlatShippingFee       int64
	FreeShippingThreshold int64
}

// PricingResult is the authoritative server-side computation for a cart.
type PricingResult struct {
	Lines         []domain.OrderLine
	CartTotal     int64
	ShippingFee   int64
	PromoCode     string
	PromoDiscount int64
	Total         int64
}

// PricingEngineDeps collects the inputs required to construct a PricingEngine.
type PricingEngineDeps struct {
	Catalog repositories.CatalogRepository
	Promos  repositories.PromoRepository
	Config  PricingConfig
	Clock   func() time.Time
	Logger  Logger
}

// PricingEngine recomputes cart totals server-side and validates promo codes.
// It never trusts a client-supplied total.
type PricingEngine struct {
	catalog repositories.CatalogRepository
	promos  repositories.PromoRepository
	cfg     PricingConfig
	now     func() time.Time
	logf    Logger
}

// NewPricingEngine constructs the engine, validating its dependencies.
func NewPricingEngine(deps PricingEngineDeps) (*PricingEngine, error) {
	if deps.Catalog == nil {
		return nil, errors.New("pricing engine: catalog repository is required")
	}
	if deps.Promos == nil {
		return nil, errors.New("pricing engine: promo repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logf := deps.Logger
	if logf == nil {
		logf = NopLogger
	}
	return &PricingEngine{
		catalog: deps.Catalog,
		promos:  deps.Promos,
		cfg:     deps.Config,
		now:     clock,
		logf:    logf,
	}, nil
}

// Price validates every cart line against the catalog and computes the
// authoritative total: item prices plus shipping minus promo discount.
func (e *PricingEngine) Price(ctx context.Context, cart []CartLine, promoCode string) (PricingResult, error) {
	if len(cart) == 0 {
		return PricingResult{}, fmt.Errorf("%w: cart is empty", ErrInvalidInput)
	}

	lines := make([]domain.OrderLine, 0, len(cart))
	detailsByItem := make(map[string]domain.ItemDetails)
	var cartTotal int64

	for _, entry := range cart {
		if !itemIDPattern.MatchString(entry.ItemID) {
			return PricingResult{}, fmt.Errorf("%w: malformed item id %q", ErrInvalidInput, entry.ItemID)
		}
		if strings.TrimSpace(entry.SKU) == "" {
			return PricingResult{}, fmt.Errorf("%w: missing sku for item %s", ErrInvalidInput, entry.ItemID)
		}
		if entry.Quantity <= 0 {
			return PricingResult{}, fmt.Errorf("%w: non-positive quantity for sku %s", ErrInvalidInput, entry.SKU)
		}

		item, err := e.catalog.GetItem(ctx, entry.ItemID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return PricingResult{}, fmt.Errorf("%w: item %s", ErrNotFound, entry.ItemID)
			}
			return PricingResult{}, err
		}

		details, ok := detailsByItem[entry.ItemID]
		if !ok {
			details, err = e.catalog.GetItemDetails(ctx, entry.ItemID)
			if err != nil {
				if repositories.IsNotFound(err) {
					return PricingResult{}, fmt.Errorf("%w: item details %s", ErrNotFound, entry.ItemID)
				}
				return PricingResult{}, err
			}
			detailsByItem[entry.ItemID] = details
		}
		ci, si, found := details.FindSKU(entry.SKU)
		if !found {
			return PricingResult{}, fmt.Errorf("%w: sku %s not found under item %s", ErrInvalidInput, entry.SKU, entry.ItemID)
		}

		lines = append(lines, domain.OrderLine{
			ItemID:      entry.ItemID,
			SKU:         entry.SKU,
			Quantity:    entry.Quantity,
			DesiredSize: details.Colors[ci].Sizes[si].Size,
			UnitPrice:   item.Price,
			Name:        item.Name,
		})
		cartTotal += item.Price * entry.Quantity
	}

	shipping := e.cfg.FlatShippingFee
	if e.cfg.FreeShippingThreshold > 0 && cartTotal >= e.cfg.FreeShippingThreshold {
		shipping = 0
	}

	result := PricingResult{
		Lines:       lines,
		CartTotal:   cartTotal,
		ShippingFee: shipping,
	}

	if code := domain.NormalizePromoCode(promoCode); code != "" {
		promo, err := e.validatePromo(ctx, code, cartTotal)
		if err != nil {
			return PricingResult{}, err
		}
		discount, extraLine := e.computeDiscount(promo, &result)
		result.PromoCode = promo.Code
		result.PromoDiscount = discount
		if extraLine != nil {
			result.Lines = append(result.Lines, *extraLine)
			result.CartTotal += extraLine.UnitPrice * extraLine.Quantity
		}
	}

	result.Total = result.CartTotal + result.ShippingFee - result.PromoDiscount
	if result.Total < 0 {
		result.Total = 0
	}
	return result, nil
}

// CheckAmount rejects any client-claimed amount differing from the computed
// total by more than one minor unit.
func (e *PricingEngine) CheckAmount(result PricingResult, claimed int64) error {
	diff := result.Total - claimed
	if diff < 0 {
		diff = -diff
	}
	if diff > amountTolerance {
		return fmt.Errorf("%w: computed %d, claimed %d", ErrAmountMismatch, result.Total, claimed)
	}
	return nil
}

// validatePromo runs the promo checks in their fixed order, short-circuiting
// with a specific reason on the first failure.
func (e *PricingEngine) validatePromo(ctx context.Context, code string, cartTotal int64) (domain.PromoCode, error) {
	promo, err := e.promos.FindByCode(ctx, code)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.PromoCode{}, fmt.Errorf("%w: %s", ErrPromoNotFound, code)
		}
		return domain.PromoCode{}, err
	}
	if !promo.IsActive {
		return domain.PromoCode{}, fmt.Errorf("%w: %s", ErrPromoInactive, code)
	}
	now := e.now().UTC()
	if now.Before(promo.StartsAt) || now.After(promo.EndsAt) {
		return domain.PromoCode{}, fmt.Errorf("%w: %s", ErrPromoOutsideWindow, code)
	}
	if promo.MaxUses > 0 && promo.CurrentUses >= promo.MaxUses {
		return domain.PromoCode{}, fmt.Errorf("%w: %s", ErrPromoExhausted, code)
	}
	if cartTotal < promo.MinOrderValue {
		return domain.PromoCode{}, fmt.Errorf("%w: %s requires %d", ErrPromoMinOrder, code, promo.MinOrderValue)
	}
	return promo, nil
}

// computeDiscount returns the monetary discount and, for bogo, the duplicated
// zero-incremental-charge line.
func (e *PricingEngine) computeDiscount(promo domain.PromoCode, result *PricingResult) (int64, *domain.OrderLine) {
	switch promo.DiscountType {
	case domain.DiscountPercentage:
		return result.CartTotal * promo.DiscountValue / 100, nil
	case domain.DiscountFixed:
		// Capped at the cart total so a large fixed discount cannot drive
		// the computed total negative.
		if promo.DiscountValue > result.CartTotal {
			return result.CartTotal, nil
		}
		return promo.DiscountValue, nil
	case domain.DiscountFreeShip:
		return result.ShippingFee, nil
	case domain.DiscountBuyOneGetOne:
		cheapest := cheapestLine(result.Lines)
		if cheapest == nil {
			return 0, nil
		}
		dup := domain.OrderLine{
			ItemID:      cheapest.ItemID,
			SKU:         cheapest.SKU,
			Quantity:    1,
			DesiredSize: cheapest.DesiredSize,
			UnitPrice:   cheapest.UnitPrice,
			Name:        cheapest.Name,
		}
		return dup.UnitPrice, &dup
	default:
		return 0, nil
	}
}

func cheapestLine(lines []domain.OrderLine) *domain.OrderLine {
	var cheapest *domain.OrderLine
	for i := range lines {
		if cheapest == nil || lines[i].UnitPrice < cheapest.UnitPrice {
			cheapest = &lines[i]
		}
	}
	return cheapest
}
