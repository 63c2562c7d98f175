package drawer

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/pos-settlement/internal/domain/money"
)

// Repository persists drawer sessions.
type Repository interface {
	Create(ctx context.Context, s *Session) error
	// Get returns ErrNotFound for an unknown id.
	Get(ctx context.Context, id string) (*Session, error)
	// Update stores s if the persisted version equals s.Version and then
	// increments s.Version. A stale version yields ErrVersionConflict.
	Update(ctx context.Context, s *Session) error
}

// Service applies drawer transitions to persisted sessions.
type Service struct {
	repo   Repository
	lg     *zap.Logger
	now    func() time.Time
	closes metric.Int64Counter
}

// NewService creates a drawer Service.
func NewService(repo Repository, lg *zap.Logger, meter metric.Meter) (*Service, error) {
	closes, err := meter.Int64Counter("pos.drawer.closes",
		metric.WithDescription("Closed drawer sessions by variance class"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "drawer closes counter")
	}
	return &Service{
		repo:   repo,
		lg:     lg,
		now:    time.Now,
		closes: closes,
	}, nil
}

// Open starts a new session with the given float.
func (s *Service) Open(ctx context.Context, initialFloat money.Money) (*Session, error) {
	sess, err := Open(uuid.New().String(), initialFloat, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, &sess); err != nil {
		return nil, errors.Wrap(err, "create drawer session")
	}
	s.lg.Info("Drawer opened",
		zap.String("session_id", sess.ID),
		zap.Stringer("initial_float", sess.InitialFloat),
	)
	return &sess, nil
}

// Get loads a session.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get drawer session")
	}
	return sess, nil
}

// RecordMovement records a manual cash in or cash out.
func (s *Service) RecordMovement(ctx context.Context, id string, typ MovementType, amount money.Money, reason string) (*Session, error) {
	return s.apply(ctx, id, func(sess Session) (Session, error) {
		return RecordMovement(sess, typ, amount, reason, s.now().UTC())
	})
}

// Close reconciles and closes the session.
func (s *Service) Close(ctx context.Context, id string, counted money.Money, breakdown []DenominationCount) (*Session, error) {
	sess, err := s.apply(ctx, id, func(sess Session) (Session, error) {
		return Close(sess, counted, breakdown, s.now().UTC())
	})
	if err != nil {
		return nil, err
	}

	c := sess.Closure
	s.closes.Add(ctx, 1, metric.WithAttributes(attribute.String("variance_class", string(c.VarianceClass))))

	fields := []zap.Field{
		zap.String("session_id", sess.ID),
		zap.Stringer("expected", c.ExpectedBalance),
		zap.Stringer("counted", c.CountedAmount),
		zap.Stringer("variance", c.Variance),
		zap.String("class", string(c.VarianceClass)),
	}
	if c.BreakdownTotal != nil && *c.BreakdownTotal != c.CountedAmount {
		fields = append(fields, zap.Stringer("breakdown_total", *c.BreakdownTotal))
		s.lg.Warn("Denomination breakdown differs from counted amount", fields...)
	}
	if c.VarianceClass == Balanced {
		s.lg.Info("Drawer closed", fields...)
	} else {
		s.lg.Warn("Drawer closed with variance", fields...)
	}
	return sess, nil
}

func (s *Service) apply(ctx context.Context, id string, fn func(Session) (Session, error)) (*Session, error) {
	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get drawer session")
	}
	next, err := fn(*cur)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, &next); err != nil {
		return nil, errors.Wrap(err, "update drawer session")
	}
	return &next, nil
}
