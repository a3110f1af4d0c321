package service

import (
	"context"
	"errors"
	"fmt"

	"payorder/internal/domain/payment/model"
	"payorder/internal/domain/payment/repository"
	"payorder/pkg/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BulkResult 批量状态操作的统计
type BulkResult struct {
	Applied   int `json:"applied"`
	Unchanged int `json:"unchanged"`
	Conflicts int `json:"conflicts"`
	Missing   int `json:"missing"`
}

// OrderService 订单管理
type OrderService interface {
	CreateOrder(ctx context.Context, productName string, amount decimal.Decimal) (*model.Order, error)
	GetOrder(ctx context.Context, id uint64) (*model.Order, error)
	ListOrders(ctx context.Context, filter repository.OrderFilter, page, limit int) ([]model.Order, int64, error)
	RenameOrder(ctx context.Context, id uint64, productName string) (*model.Order, error)
	DeleteOrder(ctx context.Context, id uint64) error
	// MarkPaid / MarkCancelled 管理端批量操作，同样经由 Transition
	MarkPaid(ctx context.Context, ids []uint64) (*BulkResult, error)
	MarkCancelled(ctx context.Context, ids []uint64) (*BulkResult, error)
}

type orderService struct {
	repo    repository.OrderRepository
	metrics *metrics.MetricsCollector
	logger  *zap.Logger
}

func NewOrderService(repo repository.OrderRepository, m *metrics.MetricsCollector, logger *zap.Logger) OrderService {
	return &orderService{repo: repo, metrics: m, logger: logger}
}

func (s *orderService) CreateOrder(ctx context.Context, productName string, amount decimal.Decimal) (*model.Order, error) {
	return s.repo.Create(ctx, productName, amount)
}

func (s *orderService) GetOrder(ctx context.Context, id uint64) (*model.Order, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *orderService) ListOrders(ctx context.Context, filter repository.OrderFilter, page, limit int) ([]model.Order, int64, error) {
	if page < 1 {
		page = 1
	}
	return s.repo.List(ctx, filter, (page-1)*limit, limit)
}

func (s *orderService) RenameOrder(ctx context.Context, id uint64, productName string) (*model.Order, error) {
	return s.repo.UpdateProductName(ctx, id, productName)
}

func (s *orderService) DeleteOrder(ctx context.Context, id uint64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("order deleted", zap.Uint64("order_id", id))
	return nil
}

func (s *orderService) MarkPaid(ctx context.Context, ids []uint64) (*BulkResult, error) {
	return s.bulkTransition(ctx, ids, model.OrderStatusPaid)
}

func (s *orderService) MarkCancelled(ctx context.Context, ids []uint64) (*BulkResult, error) {
	return s.bulkTransition(ctx, ids, model.OrderStatusCancelled)
}

// bulkTransition 逐个调用 Transition，冲突和缺失计数后继续，其它错误中止
func (s *orderService) bulkTransition(ctx context.Context, ids []uint64, target model.OrderStatus) (*BulkResult, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: ids is required", model.ErrValidation)
	}

	res := &BulkResult{}
	seen := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		_, result, err := s.repo.Transition(ctx, id, target)
		s.metrics.RecordTransition(string(target), transitionLabel(result, err))
		switch {
		case err == nil && result == model.TransitionApplied:
			res.Applied++
		case err == nil:
			res.Unchanged++
		case errors.Is(err, model.ErrConflict):
			res.Conflicts++
			s.logger.Warn("admin transition conflict", zap.Uint64("order_id", id), zap.String("target", string(target)))
		case errors.Is(err, model.ErrNotFound):
			res.Missing++
		default:
			return nil, err
		}
	}

	s.logger.Info("admin bulk transition",
		zap.String("target", string(target)),
		zap.Int("applied", res.Applied),
		zap.Int("unchanged", res.Unchanged),
		zap.Int("conflicts", res.Conflicts),
		zap.Int("missing", res.Missing),
	)
	return res, nil
}
