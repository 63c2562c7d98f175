package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-settlement/internal/codec"
	"github.com/xenking/pos-settlement/internal/domain/drawer"
	"github.com/xenking/pos-settlement/internal/domain/sale"
	"github.com/xenking/pos-settlement/internal/domain/tender"
)

const (
	insertSaleSQL = `INSERT INTO sales (id, customer_id, lines, gross_total, line_discounts_total,
			subtotal, global_discount_amount, promotion_discount_amount, coupon_code,
			coupon_discount_amount, total, applied_promotions, tenders, change_given,
			drawer_session_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	getSaleSQL = `SELECT id, customer_id, lines, gross_total, line_discounts_total,
			subtotal, global_discount_amount, promotion_discount_amount, coupon_code,
			coupon_discount_amount, total, applied_promotions, tenders, change_given,
			drawer_session_id, created_at
		FROM sales WHERE id = $1`
)

var _ sale.Repository = (*SaleRepository)(nil)

// SaleRepository implements sale.Repository backed by PostgreSQL.
type SaleRepository struct {
	pool *pgxpool.Pool
}

// NewSaleRepository returns a SaleRepository that uses the given pool.
func NewSaleRepository(pool *pgxpool.Pool) *SaleRepository {
	return &SaleRepository{pool: pool}
}

// Create inserts the sale in a transaction that also stores the drawer
// session (under its version check) and debits spent store credit.
func (r *SaleRepository) Create(ctx context.Context, s *sale.Sale, session *drawer.Session) (err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if session != nil {
		if err := updateDrawer(ctx, tx, session); err != nil {
			return err
		}
	}

	var drawerID *string
	if s.DrawerSessionID != "" {
		drawerID = &s.DrawerSessionID
	}
	lines := codec.Marshal(func(e *jx.Encoder) { codec.Lines(e, s.Lines) })
	applied := codec.Marshal(func(e *jx.Encoder) { codec.Applications(e, s.AppliedPromotions) })
	tenders := codec.Marshal(func(e *jx.Encoder) { codec.Tenders(e, s.Tenders) })

	if _, err := tx.Exec(ctx, insertSaleSQL,
		s.ID, s.CustomerID, lines,
		s.GrossTotal.Decimal(), s.LineDiscountsTotal.Decimal(), s.Subtotal.Decimal(),
		s.GlobalDiscountAmount.Decimal(), s.PromotionDiscountAmount.Decimal(), s.CouponCode,
		s.CouponDiscountAmount.Decimal(), s.Total.Decimal(), applied, tenders,
		s.ChangeGiven.Decimal(), drawerID, s.CreatedAt,
	); err != nil {
		return errors.Wrapf(err, "insert sale %s", s.ID)
	}

	if used := s.CreditUsed(); used > 0 {
		tag, err := tx.Exec(ctx, debitCreditSQL, s.CustomerID, used.Decimal())
		if err != nil {
			return errors.Wrapf(err, "debit credit of customer %s", s.CustomerID)
		}
		if tag.RowsAffected() == 0 {
			return errors.Wrapf(tender.ErrCreditLimitExceeded, "debit %s from customer %s", used, s.CustomerID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit sale")
	}
	return nil
}

// Get returns the sale with the given id or sale.ErrNotFound.
func (r *SaleRepository) Get(ctx context.Context, id string) (*sale.Sale, error) {
	rows, err := r.pool.Query(ctx, getSaleSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "query sale %s", id)
	}
	s, err := pgx.CollectExactlyOneRow(rows, scanSale)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sale.ErrNotFound
		}
		return nil, errors.Wrapf(err, "scan sale %s", id)
	}
	return &s, nil
}

func scanSale(row pgx.CollectableRow) (sale.Sale, error) {
	var (
		s                         sale.Sale
		lines, applied, tenders   []byte
		gross, lineDisc, subtotal decimal.Decimal
		global, promo, couponDisc decimal.Decimal
		total, change             decimal.Decimal
		drawerID                  *string
	)
	if err := row.Scan(
		&s.ID, &s.CustomerID, &lines, &gross, &lineDisc,
		&subtotal, &global, &promo, &s.CouponCode,
		&couponDisc, &total, &applied, &tenders, &change,
		&drawerID, &s.CreatedAt,
	); err != nil {
		return s, err
	}

	var (
		a   amounts
		err error
	)
	s.GrossTotal = a.of(gross)
	s.LineDiscountsTotal = a.of(lineDisc)
	s.Subtotal = a.of(subtotal)
	s.GlobalDiscountAmount = a.of(global)
	s.PromotionDiscountAmount = a.of(promo)
	s.CouponDiscountAmount = a.of(couponDisc)
	s.Total = a.of(total)
	s.ChangeGiven = a.of(change)
	s.CreatedAt = s.CreatedAt.UTC()
	if drawerID != nil {
		s.DrawerSessionID = *drawerID
	}

	if s.Lines, err = codec.DecodeLines(jx.DecodeBytes(lines)); err != nil {
		return s, errors.Wrap(err, "decode lines")
	}
	if s.AppliedPromotions, err = codec.DecodeApplications(jx.DecodeBytes(applied)); err != nil {
		return s, errors.Wrap(err, "decode applied promotions")
	}
	if s.Tenders, err = codec.DecodeTenders(jx.DecodeBytes(tenders)); err != nil {
		return s, errors.Wrap(err, "decode tenders")
	}
	return s, a.err
}
