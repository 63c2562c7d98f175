package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/pos-settlement/internal/codec"
	"github.com/xenking/pos-settlement/internal/domain/promotion"
)

const (
	activePromotionsSQL = `SELECT id, name, kind, rules, exclusive, priority, stackable_with_coupons,
		valid_from, valid_until
		FROM promotions
		WHERE active = TRUE
			AND (valid_from IS NULL OR valid_from <= $1)
			AND (valid_until IS NULL OR valid_until >= $1)
		ORDER BY priority DESC, id`

	upsertPromotionSQL = `INSERT INTO promotions (id, name, kind, rules, exclusive, priority,
			stackable_with_coupons, valid_from, valid_until, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, kind = EXCLUDED.kind,
			rules = EXCLUDED.rules, exclusive = EXCLUDED.exclusive, priority = EXCLUDED.priority,
			stackable_with_coupons = EXCLUDED.stackable_with_coupons,
			valid_from = EXCLUDED.valid_from, valid_until = EXCLUDED.valid_until, active = TRUE`
)

var _ promotion.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// Active returns active promotions valid at the given instant, highest
// priority first.
func (r *PromotionRepository) Active(ctx context.Context, at time.Time) ([]promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, activePromotionsSQL, at)
	if err != nil {
		return nil, errors.Wrap(err, "query active promotions")
	}
	catalog, err := pgx.CollectRows(rows, scanPromotion)
	if err != nil {
		return nil, errors.Wrap(err, "scan promotions")
	}
	return catalog, nil
}

// Upsert stores or replaces a promotion.
func (r *PromotionRepository) Upsert(ctx context.Context, p promotion.Promotion) error {
	rules := codec.Marshal(func(e *jx.Encoder) { codec.Rules(e, p.Rules) })
	if _, err := r.pool.Exec(ctx, upsertPromotionSQL,
		p.ID, p.Name, string(p.Kind), rules, p.Exclusive, p.Priority,
		p.StackableWithCoupons, p.ValidFrom, p.ValidUntil,
	); err != nil {
		return errors.Wrapf(err, "upsert promotion %s", p.ID)
	}
	return nil
}

func scanPromotion(row pgx.CollectableRow) (promotion.Promotion, error) {
	var (
		p        promotion.Promotion
		kind     string
		rules    []byte
		priority int32
	)
	if err := row.Scan(
		&p.ID, &p.Name, &kind, &rules, &p.Exclusive, &priority,
		&p.StackableWithCoupons, &p.ValidFrom, &p.ValidUntil,
	); err != nil {
		return p, err
	}
	p.Kind = promotion.Kind(kind)
	p.Priority = int(priority)

	var err error
	if p.Rules, err = codec.DecodeRules(jx.DecodeBytes(rules)); err != nil {
		return p, errors.Wrapf(err, "decode rules of promotion %s", p.ID)
	}
	return p, nil
}
