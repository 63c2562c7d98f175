package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-settlement/internal/domain/money"
	"github.com/xenking/pos-settlement/internal/domain/sale"
)

const (
	getCreditSQL = `SELECT balance FROM customer_credit WHERE customer_id = $1`

	setCreditSQL = `INSERT INTO customer_credit (customer_id, balance) VALUES ($1, $2)
		ON CONFLICT (customer_id) DO UPDATE SET balance = EXCLUDED.balance, updated_at = now()`

	debitCreditSQL = `UPDATE customer_credit SET balance = balance - $2, updated_at = now()
		WHERE customer_id = $1 AND balance >= $2`
)

var _ sale.CreditDirectory = (*CreditRepository)(nil)

// CreditRepository stores customer store-credit balances.
type CreditRepository struct {
	pool *pgxpool.Pool
}

// NewCreditRepository returns a CreditRepository that uses the given pool.
func NewCreditRepository(pool *pgxpool.Pool) *CreditRepository {
	return &CreditRepository{pool: pool}
}

// AvailableCredit returns the customer's balance. Unknown customers have none.
func (r *CreditRepository) AvailableCredit(ctx context.Context, customerID string) (money.Money, error) {
	var balance decimal.Decimal
	err := r.pool.QueryRow(ctx, getCreditSQL, customerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, errors.Wrapf(err, "get credit of customer %s", customerID)
	}
	return money.FromDecimal(balance)
}

// SetBalance replaces the customer's balance.
func (r *CreditRepository) SetBalance(ctx context.Context, customerID string, balance money.Money) error {
	if err := money.RequireNonNegative("credit balance", balance); err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, setCreditSQL, customerID, balance.Decimal()); err != nil {
		return errors.Wrapf(err, "set credit of customer %s", customerID)
	}
	return nil
}
