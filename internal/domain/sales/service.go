package sales

import (
	"context"
	"fmt"
	"reflect"

	"coreapp/internal/core/clock"
	appctx "coreapp/internal/core/context"
	"coreapp/internal/core/id"
	"coreapp/internal/core/numerator"
	"coreapp/internal/core/uow"
	"coreapp/internal/domain"
	"coreapp/internal/mediator"
	"coreapp/pkg/logger"
)

// Service owns the sales handlers and their collaborators. Command
// handlers run inside the mediator's unit of work; query handlers open
// their own short-lived read sessions.
type Service struct {
	store   domain.Store
	numbers numerator.Generator
	log     *logger.Logger
	clk     clock.Clock
}

// NewService creates the sales service.
func NewService(store domain.Store, numbers numerator.Generator, log *logger.Logger, clk clock.Clock) *Service {
	if log == nil {
		log = logger.Default()
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		store:   store,
		numbers: numbers,
		log:     log.WithComponent("sales"),
		clk:     clk,
	}
}

// Register wires the sales command set into the mediator.
func (s *Service) Register(m *mediator.Mediator) error {
	if err := mediator.RegisterCommand(m, s.recordSale); err != nil {
		return err
	}
	if err := mediator.RegisterCommand(m, s.cancelSale); err != nil {
		return err
	}
	if err := mediator.RegisterQuery(m, s.getSale); err != nil {
		return err
	}
	return mediator.RegisterQuery(m, s.listSales)
}

func (s *Service) recordSale(ctx context.Context, u *uow.UnitOfWork, cmd RecordSale) (*Sale, error) {
	date := cmd.Date
	if date.IsZero() {
		date = s.clk.Now().UTC()
	}

	sale := NewSale(cmd.CustomerID, cmd.CurrencyID, date)
	sale.Comment = cmd.Comment
	sale.CreatedBy = appctx.GetUserID(ctx)
	for _, line := range cmd.Lines {
		sale.AddLine(line.ProductID, line.Quantity, line.UnitPrice)
	}
	if err := sale.Validate(ctx); err != nil {
		return nil, err
	}

	// The number comes from outside the transaction; a rollback after
	// this point burns it.
	number, err := s.numbers.Next(ctx, numerator.DefaultConfig(NumberPrefix), sale.Date)
	if err != nil {
		return nil, fmt.Errorf("assign sale number: %w", err)
	}
	sale.Number = number

	repo, err := uow.RepositoryFor[*Sale](u)
	if err != nil {
		return nil, err
	}
	if err := repo.Add(ctx, sale); err != nil {
		return nil, err
	}

	if err := u.ScheduleCacheInvalidation(saleInvalidationPattern(ctx)); err != nil {
		return nil, err
	}
	if err := u.PublishDomainEvent(ctx, EventRecorded, AggregateType, sale.ID, map[string]any{
		"number":      sale.Number,
		"customerId":  sale.CustomerID.String(),
		"totalAmount": sale.TotalAmount.String(),
	}); err != nil {
		return nil, err
	}

	s.log.WithContext(ctx).Infow("sale recorded",
		"sale_id", sale.ID.String(),
		"number", sale.Number,
		"total", sale.TotalAmount.String(),
	)
	return sale, nil
}

func (s *Service) cancelSale(ctx context.Context, u *uow.UnitOfWork, cmd CancelSale) (id.ID, error) {
	repo, err := uow.RepositoryFor[*Sale](u)
	if err != nil {
		return id.Nil(), err
	}

	sale, err := repo.FindByID(ctx, cmd.SaleID)
	if err != nil {
		return id.Nil(), err
	}

	actor := appctx.GetUserID(ctx)
	if actor == "" {
		actor = "system"
	}
	if err := repo.Remove(ctx, cmd.SaleID, actor, cmd.Reason); err != nil {
		return id.Nil(), err
	}

	if err := u.ScheduleCacheInvalidation(saleInvalidationPattern(ctx)); err != nil {
		return id.Nil(), err
	}
	if err := u.PublishDomainEvent(ctx, EventCancelled, AggregateType, sale.ID, map[string]any{
		"number": sale.Number,
		"reason": cmd.Reason,
	}); err != nil {
		return id.Nil(), err
	}

	s.log.WithContext(ctx).Infow("sale cancelled",
		"sale_id", sale.ID.String(),
		"number", sale.Number,
		"reason", cmd.Reason,
	)
	return sale.ID, nil
}

func (s *Service) getSale(ctx context.Context, q GetSale) (*Sale, error) {
	var out *Sale
	err := s.read(ctx, func(repo domain.Repository[*Sale]) error {
		sale, err := repo.FindByID(ctx, q.SaleID)
		if err != nil {
			return err
		}
		out = sale
		return nil
	})
	return out, err
}

func (s *Service) listSales(ctx context.Context, q ListSales) (domain.ListResult[*Sale], error) {
	filter := domain.DefaultListFilter()
	filter.Search = q.Search
	filter.IncludeDeleted = q.IncludeDeleted
	if q.Limit > 0 {
		filter.Limit = q.Limit
	}
	filter.Offset = q.Offset

	var out domain.ListResult[*Sale]
	err := s.read(ctx, func(repo domain.Repository[*Sale]) error {
		res, err := repo.List(ctx, filter)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

// read opens a short-lived session for one query. Sessions are
// transactional handles, so even reads open and close one.
func (s *Service) read(ctx context.Context, fn func(repo domain.Repository[*Sale]) error) error {
	sess, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Rollback(context.Background()) }()

	raw, err := sess.Repository(reflect.TypeOf((*Sale)(nil)))
	if err != nil {
		return err
	}
	repo, ok := raw.(domain.Repository[*Sale])
	if !ok {
		return fmt.Errorf("sales: session returned %T, want Repository[*Sale]", raw)
	}
	return fn(repo)
}
