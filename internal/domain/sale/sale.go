package sale

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/pos-settlement/internal/domain/cart"
	"github.com/xenking/pos-settlement/internal/domain/drawer"
	"github.com/xenking/pos-settlement/internal/domain/money"
	"github.com/xenking/pos-settlement/internal/domain/promotion"
	"github.com/xenking/pos-settlement/internal/domain/tender"
)

var (
	ErrNotFound         = errors.New("sale not found")
	ErrNotSettled       = errors.New("payment does not cover the sale total")
	ErrDrawerRequired   = errors.New("cash tender requires an open drawer session")
	ErrCustomerRequired = errors.New("store credit tender requires a customer")
)

// NotSettledError reports a payment set that does not reach the total.
type NotSettledError struct {
	Total     money.Money
	Remaining money.Money
}

func (e *NotSettledError) Error() string {
	return fmt.Sprintf("payment short by %s of total %s", e.Remaining, e.Total)
}

func (e *NotSettledError) Is(target error) bool { return target == ErrNotSettled }

// Sale is a committed, settled sale.
type Sale struct {
	ID         string
	CustomerID string
	Lines      []cart.Line

	GrossTotal              money.Money
	LineDiscountsTotal      money.Money
	Subtotal                money.Money
	GlobalDiscountAmount    money.Money
	PromotionDiscountAmount money.Money
	CouponCode              string
	CouponDiscountAmount    money.Money
	Total                   money.Money

	AppliedPromotions []promotion.Application
	Tenders           []tender.Entry
	ChangeGiven       money.Money

	DrawerSessionID string
	CreatedAt       time.Time
}

// CreditUsed returns the store credit spent on the sale.
func (s *Sale) CreditUsed() money.Money {
	var used money.Money
	for _, t := range s.Tenders {
		if t.Method == tender.MethodStoreCredit {
			used += t.Amount
		}
	}
	return used
}

// Repository persists sales.
type Repository interface {
	// Create stores s. When session is not nil its updated state is stored
	// in the same transaction under the drawer's version check, and any
	// store credit spent is debited from the customer.
	Create(ctx context.Context, s *Sale, session *drawer.Session) error
	// Get returns ErrNotFound for an unknown id.
	Get(ctx context.Context, id string) (*Sale, error)
}

// CreditDirectory supplies the store credit a customer may spend.
type CreditDirectory interface {
	AvailableCredit(ctx context.Context, customerID string) (money.Money, error)
}
