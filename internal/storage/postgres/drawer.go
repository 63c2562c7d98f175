package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/pos-settlement/internal/codec"
	"github.com/xenking/pos-settlement/internal/domain/drawer"
)

const (
	insertDrawerSQL = `INSERT INTO drawer_sessions (id, opened_at, initial_float, state, movements, version)
		VALUES ($1, $2, $3, $4, $5, 0)`

	getDrawerSQL = `SELECT id, opened_at, initial_float, state, movements,
			closed_at, counted_amount, expected_balance, variance, variance_class,
			variance_percent, breakdown, breakdown_total, version
		FROM drawer_sessions WHERE id = $1`

	updateDrawerSQL = `UPDATE drawer_sessions SET state = $3, movements = $4,
			closed_at = $5, counted_amount = $6, expected_balance = $7, variance = $8,
			variance_class = $9, variance_percent = $10, breakdown = $11, breakdown_total = $12,
			version = version + 1
		WHERE id = $1 AND version = $2`

	drawerExistsSQL = `SELECT EXISTS (SELECT 1 FROM drawer_sessions WHERE id = $1)`
)

var _ drawer.Repository = (*DrawerRepository)(nil)

// DrawerRepository implements drawer.Repository backed by PostgreSQL.
// Updates are guarded by the session version.
type DrawerRepository struct {
	pool *pgxpool.Pool
}

// NewDrawerRepository returns a DrawerRepository that uses the given pool.
func NewDrawerRepository(pool *pgxpool.Pool) *DrawerRepository {
	return &DrawerRepository{pool: pool}
}

// Create inserts a freshly opened session.
func (r *DrawerRepository) Create(ctx context.Context, s *drawer.Session) error {
	movements := codec.Marshal(func(e *jx.Encoder) { codec.Movements(e, s.Movements) })
	if _, err := r.pool.Exec(ctx, insertDrawerSQL,
		s.ID, s.OpenedAt, s.InitialFloat.Decimal(), string(s.State), movements,
	); err != nil {
		return errors.Wrapf(err, "insert drawer session %s", s.ID)
	}
	s.Version = 0
	return nil
}

// Get returns the session with the given id or drawer.ErrNotFound.
func (r *DrawerRepository) Get(ctx context.Context, id string) (*drawer.Session, error) {
	rows, err := r.pool.Query(ctx, getDrawerSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "query drawer session %s", id)
	}
	s, err := pgx.CollectExactlyOneRow(rows, scanDrawer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, drawer.ErrNotFound
		}
		return nil, errors.Wrapf(err, "scan drawer session %s", id)
	}
	return &s, nil
}

// Update stores s when its version is current and bumps s.Version.
func (r *DrawerRepository) Update(ctx context.Context, s *drawer.Session) error {
	return updateDrawer(ctx, r.pool, s)
}

func updateDrawer(ctx context.Context, q dbtx, s *drawer.Session) error {
	movements := codec.Marshal(func(e *jx.Encoder) { codec.Movements(e, s.Movements) })

	var (
		closedAt        *time.Time
		counted         decimal.NullDecimal
		expected        decimal.NullDecimal
		variance        decimal.NullDecimal
		varianceClass   *string
		variancePercent decimal.NullDecimal
		breakdown       []byte
		breakdownTotal  decimal.NullDecimal
	)
	if c := s.Closure; c != nil {
		closedAt = &c.ClosedAt
		counted = nullMoney(&c.CountedAmount)
		expected = nullMoney(&c.ExpectedBalance)
		variance = nullMoney(&c.Variance)
		class := string(c.VarianceClass)
		varianceClass = &class
		variancePercent = decimal.NullDecimal{Decimal: c.VariancePercent, Valid: true}
		if c.Breakdown != nil {
			breakdown = codec.Marshal(func(e *jx.Encoder) { codec.Breakdown(e, c.Breakdown) })
		}
		breakdownTotal = nullMoney(c.BreakdownTotal)
	}

	tag, err := q.Exec(ctx, updateDrawerSQL,
		s.ID, s.Version, string(s.State), movements,
		closedAt, counted, expected, variance, varianceClass, variancePercent, breakdown, breakdownTotal,
	)
	if err != nil {
		return errors.Wrapf(err, "update drawer session %s", s.ID)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, drawerExistsSQL, s.ID).Scan(&exists); err != nil {
			return errors.Wrapf(err, "check drawer session %s", s.ID)
		}
		if !exists {
			return drawer.ErrNotFound
		}
		return errors.Wrapf(drawer.ErrVersionConflict, "drawer session %s at version %d", s.ID, s.Version)
	}
	s.Version++
	return nil
}

func scanDrawer(row pgx.CollectableRow) (drawer.Session, error) {
	var (
		s               drawer.Session
		initialFloat    decimal.Decimal
		state           string
		movements       []byte
		closedAt        *time.Time
		counted         decimal.NullDecimal
		expected        decimal.NullDecimal
		variance        decimal.NullDecimal
		varianceClass   *string
		variancePercent decimal.NullDecimal
		breakdown       []byte
		breakdownTotal  decimal.NullDecimal
	)
	if err := row.Scan(
		&s.ID, &s.OpenedAt, &initialFloat, &state, &movements,
		&closedAt, &counted, &expected, &variance, &varianceClass,
		&variancePercent, &breakdown, &breakdownTotal, &s.Version,
	); err != nil {
		return s, err
	}

	var (
		a   amounts
		err error
	)
	s.InitialFloat = a.of(initialFloat)
	s.State = drawer.State(state)
	s.OpenedAt = s.OpenedAt.UTC()
	if s.Movements, err = codec.DecodeMovements(jx.DecodeBytes(movements)); err != nil {
		return s, errors.Wrap(err, "decode movements")
	}

	if closedAt != nil {
		c := &drawer.Closure{
			ClosedAt:        closedAt.UTC(),
			CountedAmount:   a.ofNull(counted),
			ExpectedBalance: a.ofNull(expected),
			Variance:        a.ofNull(variance),
			VariancePercent: variancePercent.Decimal,
		}
		if varianceClass != nil {
			c.VarianceClass = drawer.VarianceClass(*varianceClass)
		}
		if len(breakdown) > 0 {
			if c.Breakdown, err = codec.DecodeBreakdown(jx.DecodeBytes(breakdown)); err != nil {
				return s, errors.Wrap(err, "decode breakdown")
			}
		}
		if breakdownTotal.Valid {
			total := a.of(breakdownTotal.Decimal)
			c.BreakdownTotal = &total
		}
		s.Closure = c
	}
	return s, a.err
}
