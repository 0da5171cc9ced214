package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cloudcoffee/roastery/internal/shared"
)

// weightEpsilon absorbs float noise when comparing stocktake weights.
const weightEpsilon = 1e-9

// recentLimit bounds the activity feed on the dashboard.
const recentLimit = 10

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBean(ctx context.Context, name string) (Bean, error)
	ListBeans(ctx context.Context) ([]Bean, error)
	ListTransactions(ctx context.Context, limit int) ([]Transaction, error)
	Summary(ctx context.Context) (StockSummary, error)
}

// Service is the only component that mutates bean or transaction state. Every
// mutation runs its read-modify-write-append sequence inside one storage
// transaction, so the stock weight always equals the sum of the ledger.
type Service struct {
	repo        RepositoryPort
	idempotency *shared.IdempotencyStore
	cache       *Cache
	logger      *slog.Logger
}

// NewService builds Service. Idempotency and cache may be nil.
func NewService(repo RepositoryPort, idem *shared.IdempotencyStore, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, idempotency: idem, cache: cache, logger: logger}
}

// Receive books an inbound receipt, creating the bean on first sight. A zero
// weight is a valid no-op receipt and is still logged. Origin and process on
// an existing bean are overwritten with whatever was supplied, blanks
// included; last write wins.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (ReceiveResult, error) {
	if strings.TrimSpace(input.Name) == "" {
		return ReceiveResult{}, ErrNameRequired
	}
	if input.Weight < 0 {
		return ReceiveResult{}, ErrInvalidWeight
	}
	claimed, err := s.claimRef(ctx, input.Ref)
	if err != nil {
		return ReceiveResult{}, err
	}

	var result ReceiveResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bean, err := tx.GetBeanForUpdate(ctx, input.Name)
		switch {
		case errors.Is(err, ErrBeanNotFound):
			created, err := tx.InsertBean(ctx, Bean{
				Name:        input.Name,
				Origin:      input.Origin,
				Process:     input.Process,
				StockWeight: input.Weight,
			})
			if err != nil {
				return err
			}
			if _, err := tx.InsertTransaction(ctx, Transaction{
				BeanID:       created.ID,
				Action:       ActionInbound,
				AmountChange: input.Weight,
				Note:         "new bean created",
			}); err != nil {
				return err
			}
			result = ReceiveResult{Bean: created, Created: true}
		case err != nil:
			return err
		default:
			bean.StockWeight += input.Weight
			bean.Origin = input.Origin
			bean.Process = input.Process
			updated, err := tx.UpdateBean(ctx, bean)
			if err != nil {
				return err
			}
			if _, err := tx.InsertTransaction(ctx, Transaction{
				BeanID:       updated.ID,
				Action:       ActionInbound,
				AmountChange: input.Weight,
				Note:         "inbound receipt",
			}); err != nil {
				return err
			}
			result = ReceiveResult{Bean: updated}
		}
		return nil
	})
	if err != nil {
		s.releaseRef(ctx, input.Ref, claimed)
		return ReceiveResult{}, err
	}
	s.invalidateSummary(ctx)
	s.logger.Info("inbound receipt booked",
		slog.String("bean", result.Bean.Name),
		slog.Float64("weight", input.Weight),
		slog.Bool("created", result.Created))
	return result, nil
}

// Consume books a roast against the named bean. Going negative is permitted
// so a physical roast is never blocked; the result carries an underflow flag
// instead.
func (s *Service) Consume(ctx context.Context, input ConsumeInput) (ConsumeResult, error) {
	if strings.TrimSpace(input.Name) == "" {
		return ConsumeResult{}, ErrNameRequired
	}
	if input.Weight < 0 {
		return ConsumeResult{}, ErrInvalidWeight
	}
	claimed, err := s.claimRef(ctx, input.Ref)
	if err != nil {
		return ConsumeResult{}, err
	}

	var result ConsumeResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bean, err := tx.GetBeanForUpdate(ctx, input.Name)
		if err != nil {
			return err
		}
		bean.StockWeight -= input.Weight
		updated, err := tx.UpdateBean(ctx, bean)
		if err != nil {
			return err
		}
		if _, err := tx.InsertTransaction(ctx, Transaction{
			BeanID:       updated.ID,
			Action:       ActionRoast,
			AmountChange: -input.Weight,
			Note:         "roast consumption",
		}); err != nil {
			return err
		}
		result = ConsumeResult{Bean: updated, Underflow: updated.StockWeight < -weightEpsilon}
		return nil
	})
	if err != nil {
		s.releaseRef(ctx, input.Ref, claimed)
		return ConsumeResult{}, err
	}
	s.invalidateSummary(ctx)
	if result.Underflow {
		s.logger.Warn("stock underflow",
			slog.String("bean", result.Bean.Name),
			slog.Float64("stock_weight", result.Bean.StockWeight))
	}
	return result, nil
}

// Correct reconciles recorded stock with an operator-observed weight. A
// stocktake with no discrepancy is not a ledger event: nothing is written and
// the bean keeps its updated_at.
func (s *Service) Correct(ctx context.Context, input CorrectInput) (CorrectResult, error) {
	if strings.TrimSpace(input.Name) == "" {
		return CorrectResult{}, ErrNameRequired
	}
	if input.ActualWeight < 0 {
		return CorrectResult{}, ErrInvalidWeight
	}
	claimed, err := s.claimRef(ctx, input.Ref)
	if err != nil {
		return CorrectResult{}, err
	}

	var result CorrectResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bean, err := tx.GetBeanForUpdate(ctx, input.Name)
		if err != nil {
			return err
		}
		diff := input.ActualWeight - bean.StockWeight
		if math.Abs(diff) < weightEpsilon {
			result = CorrectResult{Bean: bean, Diff: 0}
			return nil
		}
		note := fmt.Sprintf("stocktake correction (%g -> %g)", bean.StockWeight, input.ActualWeight)
		bean.StockWeight = input.ActualWeight
		updated, err := tx.UpdateBean(ctx, bean)
		if err != nil {
			return err
		}
		if _, err := tx.InsertTransaction(ctx, Transaction{
			BeanID:       updated.ID,
			Action:       ActionStocktake,
			AmountChange: diff,
			Note:         note,
		}); err != nil {
			return err
		}
		result = CorrectResult{Bean: updated, Diff: diff}
		return nil
	})
	if err != nil {
		s.releaseRef(ctx, input.Ref, claimed)
		return CorrectResult{}, err
	}
	if result.Diff != 0 {
		s.invalidateSummary(ctx)
		s.logger.Info("stocktake applied",
			slog.String("bean", result.Bean.Name),
			slog.Float64("diff", result.Diff))
	}
	return result, nil
}

// GetStock returns the named bean with its current stock weight.
func (s *Service) GetStock(ctx context.Context, name string) (Bean, error) {
	if strings.TrimSpace(name) == "" {
		return Bean{}, ErrNameRequired
	}
	return s.repo.GetBean(ctx, name)
}

// ListBeans returns all beans ordered by name.
func (s *Service) ListBeans(ctx context.Context) ([]Bean, error) {
	return s.repo.ListBeans(ctx)
}

// ListTransactions returns the ledger newest-first, capped at limit
// (default 100).
func (s *Service) ListTransactions(ctx context.Context, limit int) ([]Transaction, error) {
	return s.repo.ListTransactions(ctx, limit)
}

// Summary returns the aggregate totals, served from cache when possible. The
// cache fixes its key before the repository is consulted, so a summary loaded
// concurrently with a mutation cannot outlive that mutation's invalidation.
func (s *Service) Summary(ctx context.Context) (StockSummary, error) {
	return s.cache.FetchSummary(ctx, s.repo.Summary)
}

// GetOverview loads the dashboard view: summary, all beans and the most
// recent ledger entries, fetched concurrently.
func (s *Service) GetOverview(ctx context.Context) (Overview, error) {
	var ov Overview
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sum, err := s.Summary(ctx)
		if err != nil {
			return err
		}
		ov.Summary = sum
		return nil
	})
	g.Go(func() error {
		beans, err := s.repo.ListBeans(ctx)
		if err != nil {
			return err
		}
		ov.Beans = beans
		return nil
	})
	g.Go(func() error {
		recent, err := s.repo.ListTransactions(ctx, recentLimit)
		if err != nil {
			return err
		}
		ov.Recent = recent
		return nil
	})
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}
	return ov, nil
}

// claimRef validates and claims the optional client reference before any
// write happens. Returns whether a key was inserted so a failed mutation can
// release it again.
func (s *Service) claimRef(ctx context.Context, ref string) (bool, error) {
	if ref == "" {
		return false, nil
	}
	if _, err := uuid.Parse(ref); err != nil {
		return false, fmt.Errorf("%w: %s", ErrInvalidRef, ref)
	}
	if s.idempotency == nil {
		return false, nil
	}
	if err := s.idempotency.CheckAndInsert(ctx, ref, "ledger"); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) releaseRef(ctx context.Context, ref string, claimed bool) {
	if !claimed {
		return
	}
	if err := s.idempotency.Delete(ctx, ref); err != nil {
		s.logger.Warn("release idempotency ref", slog.String("ref", ref), slog.Any("error", err))
	}
}

func (s *Service) invalidateSummary(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("invalidate summary cache", slog.Any("error", err))
	}
}
