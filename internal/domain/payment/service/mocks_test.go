package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"payorder/internal/domain/payment/model"
	"payorder/internal/domain/payment/repository"
	"payorder/internal/domain/payment/strategy"
	"payorder/pkg/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

func newTestMetrics() *metrics.MetricsCollector {
	return metrics.NewMetricsCollector(prometheus.NewRegistry())
}

// MockOrderRepository is a mock of OrderRepository
type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) Create(ctx context.Context, productName string, amount decimal.Decimal) (*model.Order, error) {
	args := m.Called(productName, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderRepository) GetByID(ctx context.Context, id uint64) (*model.Order, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderRepository) List(ctx context.Context, filter repository.OrderFilter, offset, limit int) ([]model.Order, int64, error) {
	args := m.Called(filter, offset, limit)
	return args.Get(0).([]model.Order), args.Get(1).(int64), args.Error(2)
}

func (m *MockOrderRepository) Transition(ctx context.Context, id uint64, target model.OrderStatus) (*model.Order, model.TransitionResult, error) {
	args := m.Called(id, target)
	var result model.TransitionResult
	if r, ok := args.Get(1).(model.TransitionResult); ok {
		result = r
	}
	if args.Get(0) == nil {
		return nil, result, args.Error(2)
	}
	return args.Get(0).(*model.Order), result, args.Error(2)
}

func (m *MockOrderRepository) UpdateProductName(ctx context.Context, id uint64, productName string) (*model.Order, error) {
	args := m.Called(id, productName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}

func (m *MockOrderRepository) Delete(ctx context.Context, id uint64) error {
	args := m.Called(id)
	return args.Error(0)
}

// MockPaymentStrategy is a mock of PaymentStrategy
type MockPaymentStrategy struct {
	mock.Mock
	name string
}

func (m *MockPaymentStrategy) Name() string {
	return m.name
}

func (m *MockPaymentStrategy) CreateLink(ctx context.Context, p strategy.LinkParams) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

func (m *MockPaymentStrategy) ServeNotify(c *gin.Context, reconcile strategy.ReconcileFunc) {
	m.Called(c, reconcile)
}

// casRepository 内存实现，按 pending -> 终态 的条件更新语义迁移
type casRepository struct {
	mu      sync.Mutex
	orders  map[uint64]model.Order
	nextID  uint64
	applied int
}

func newCASRepository() *casRepository {
	return &casRepository{orders: make(map[uint64]model.Order), nextID: 1}
}

func (r *casRepository) put(o model.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[o.ID] = o
}

func (r *casRepository) Create(ctx context.Context, productName string, amount decimal.Decimal) (*model.Order, error) {
	if err := model.ValidateNewOrder(productName, amount); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o := model.Order{ProductName: productName, Amount: amount, Status: model.OrderStatusPending}
	o.ID = r.nextID
	o.CreatedAt = time.Now()
	r.nextID++
	r.orders[o.ID] = o
	return &o, nil
}

func (r *casRepository) GetByID(ctx context.Context, id uint64) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", model.ErrNotFound, id)
	}
	return &o, nil
}

func (r *casRepository) List(ctx context.Context, filter repository.OrderFilter, offset, limit int) ([]model.Order, int64, error) {
	return nil, 0, nil
}

func (r *casRepository) Transition(ctx context.Context, id uint64, target model.OrderStatus) (*model.Order, model.TransitionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, "", fmt.Errorf("%w: id %d", model.ErrNotFound, id)
	}
	switch o.Status {
	case model.OrderStatusPending:
		o.Status = target
		r.orders[id] = o
		r.applied++
		return &o, model.TransitionApplied, nil
	case target:
		return &o, model.TransitionUnchanged, nil
	}
	return &o, "", fmt.Errorf("%w: order %d is %s", model.ErrConflict, id, o.Status)
}

func (r *casRepository) UpdateProductName(ctx context.Context, id uint64, productName string) (*model.Order, error) {
	return nil, nil
}

func (r *casRepository) Delete(ctx context.Context, id uint64) error {
	return nil
}

// blockingRepository Transition 阻塞到 release 关闭，返回时检查自身 ctx
type blockingRepository struct {
	*casRepository
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingRepository(base *casRepository) *blockingRepository {
	return &blockingRepository{casRepository: base, entered: make(chan struct{}), release: make(chan struct{})}
}

func (r *blockingRepository) Transition(ctx context.Context, id uint64, target model.OrderStatus) (*model.Order, model.TransitionResult, error) {
	r.once.Do(func() { close(r.entered) })
	<-r.release
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	return r.casRepository.Transition(ctx, id, target)
}

func testOrder(id uint64, amount string, status model.OrderStatus) *model.Order {
	o := &model.Order{ProductName: "Widget", Amount: decimal.RequireFromString(amount), Status: status}
	o.ID = id
	return o
}
