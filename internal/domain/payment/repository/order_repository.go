package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"payorder/internal/domain/payment/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// transitionAttempts CAS 失败且读到 pending 时的重试上限
const transitionAttempts = 3

// OrderFilter 列表过滤条件
type OrderFilter struct {
	Status model.OrderStatus
	Search string
	// CreatedFrom / CreatedTo 创建时间区间 [from, to)，零值表示不限
	CreatedFrom time.Time
	CreatedTo   time.Time
}

// OrderRepository 订单存储，唯一允许修改 status 的组件
type OrderRepository interface {
	Create(ctx context.Context, productName string, amount decimal.Decimal) (*model.Order, error)
	GetByID(ctx context.Context, id uint64) (*model.Order, error)
	List(ctx context.Context, filter OrderFilter, offset, limit int) ([]model.Order, int64, error)
	// Transition 将 pending 订单迁移到终态；重复迁移到同一终态为幂等，迁移到另一终态返回 ErrConflict
	Transition(ctx context.Context, id uint64, target model.OrderStatus) (*model.Order, model.TransitionResult, error)
	UpdateProductName(ctx context.Context, id uint64, productName string) (*model.Order, error)
	Delete(ctx context.Context, id uint64) error
}

type orderRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db, now: time.Now}
}

func (r *orderRepository) Create(ctx context.Context, productName string, amount decimal.Decimal) (*model.Order, error) {
	if err := model.ValidateNewOrder(productName, amount); err != nil {
		return nil, err
	}

	order := &model.Order{
		ProductName: productName,
		Amount:      amount,
		Status:      model.OrderStatusPending,
	}
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return order, nil
}

func (r *orderRepository) GetByID(ctx context.Context, id uint64) (*model.Order, error) {
	var order model.Order
	if err := r.db.WithContext(ctx).First(&order, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id %d", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	return &order, nil
}

func (r *orderRepository) List(ctx context.Context, filter OrderFilter, offset, limit int) ([]model.Order, int64, error) {
	scope := filterScope(filter)

	var total int64
	if err := r.db.WithContext(ctx).Model(&model.Order{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	var orders []model.Order
	if err := r.db.WithContext(ctx).Scopes(scope).Order("id DESC").Offset(offset).Limit(limit).Find(&orders).Error; err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	return orders, total, nil
}

func filterScope(filter OrderFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if filter.Status != "" {
			db = db.Where("status = ?", filter.Status)
		}
		if filter.Search != "" {
			pattern := "%" + filter.Search + "%"
			if id, err := strconv.ParseUint(filter.Search, 10, 64); err == nil {
				db = db.Where("product_name ILIKE ? OR id = ?", pattern, id)
			} else {
				db = db.Where("product_name ILIKE ?", pattern)
			}
		}
		if !filter.CreatedFrom.IsZero() {
			db = db.Where("created_at >= ?", filter.CreatedFrom)
		}
		if !filter.CreatedTo.IsZero() {
			db = db.Where("created_at < ?", filter.CreatedTo)
		}
		return db
	}
}

// Transition 使用条件更新实现 compare-and-set：
// 只有 status 仍为 pending 的那一次 UPDATE 会影响一行，其余并发调用读取已提交的终态
func (r *orderRepository) Transition(ctx context.Context, id uint64, target model.OrderStatus) (*model.Order, model.TransitionResult, error) {
	if !target.IsTransitionTarget() {
		return nil, "", fmt.Errorf("%w: cannot transition to %q", model.ErrValidation, target)
	}

	for attempt := 0; attempt < transitionAttempts; attempt++ {
		res := r.db.WithContext(ctx).Exec(
			`UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			target, r.now(), id, model.OrderStatusPending,
		)
		if res.Error != nil {
			return nil, "", fmt.Errorf("transition order %d: %w", id, res.Error)
		}

		order, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, "", err
		}

		if res.RowsAffected == 1 {
			return order, model.TransitionApplied, nil
		}
		switch order.Status {
		case target:
			return order, model.TransitionUnchanged, nil
		case model.OrderStatusPending:
			// 行在 UPDATE 之后才可见，重新执行 CAS
			continue
		default:
			return order, "", fmt.Errorf("%w: order %d is already %s, refusing %s", model.ErrConflict, id, order.Status, target)
		}
	}
	return nil, "", fmt.Errorf("transition order %d: status did not settle after %d attempts", id, transitionAttempts)
}

func (r *orderRepository) UpdateProductName(ctx context.Context, id uint64, productName string) (*model.Order, error) {
	if err := model.ValidateNewOrder(productName, decimal.NewFromInt(1)); err != nil {
		return nil, err
	}

	res := r.db.WithContext(ctx).Model(&model.Order{}).Where("id = ?", id).Update("product_name", productName)
	if res.Error != nil {
		return nil, fmt.Errorf("update order %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: id %d", model.ErrNotFound, id)
	}
	return r.GetByID(ctx, id)
}

func (r *orderRepository) Delete(ctx context.Context, id uint64) error {
	res := r.db.WithContext(ctx).Delete(&model.Order{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete order %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: id %d", model.ErrNotFound, id)
	}
	return nil
}
