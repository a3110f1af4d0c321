package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"payorder/internal/domain/payment/model"
	"payorder/internal/domain/payment/repository"
	"payorder/pkg/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// reconcileTimeout 合并后的共享调用不继承单个请求的取消，使用独立超时
const reconcileTimeout = 10 * time.Second

// Reconciler 将渠道回调事件应用到订单状态
type Reconciler interface {
	Reconcile(ctx context.Context, n model.Notification) (*model.Order, error)
}

type reconciler struct {
	repo    repository.OrderRepository
	group   singleflight.Group
	metrics *metrics.MetricsCollector
	logger  *zap.Logger
}

func NewReconciler(repo repository.OrderRepository, m *metrics.MetricsCollector, logger *zap.Logger) Reconciler {
	return &reconciler{repo: repo, metrics: m, logger: logger}
}

func (r *reconciler) Reconcile(ctx context.Context, n model.Notification) (*model.Order, error) {
	if n.OrderID == 0 {
		r.metrics.RecordReconcile(n.Channel, string(n.Event), "invalid")
		return nil, fmt.Errorf("%w: order id is required", model.ErrValidation)
	}

	// 同一订单同一事件的并发投递合并为一次存储调用
	key := strconv.FormatUint(n.OrderID, 10) + ":" + string(n.Event) + ":" + strconv.FormatInt(n.AmountMinor, 10)
	ch := r.group.DoChan(key, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), reconcileTimeout)
		defer cancel()
		return r.apply(shared, n)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		r.metrics.RecordReconcile(n.Channel, string(n.Event), "cancelled")
		return nil, ctx.Err()
	}
	v, err := res.Val, res.Err

	outcome := r.outcome(n, v, err)
	r.metrics.RecordReconcile(n.Channel, string(n.Event), outcome)
	if err != nil {
		return nil, err
	}
	return v.(*reconcileResult).order, nil
}

type reconcileResult struct {
	order  *model.Order
	result model.TransitionResult
}

func (r *reconciler) apply(ctx context.Context, n model.Notification) (*reconcileResult, error) {
	target, ok := n.Event.TargetStatus()
	if !ok {
		if n.Event != model.EventCheck {
			return nil, fmt.Errorf("%w: unknown event %q", model.ErrValidation, n.Event)
		}
		order, err := r.check(ctx, n)
		if err != nil {
			return nil, err
		}
		return &reconcileResult{order: order}, nil
	}

	// 渠道上报了实付金额时先校验，金额不符不改变状态
	if target == model.OrderStatusPaid && n.AmountMinor > 0 {
		if _, err := r.check(ctx, n); err != nil {
			return nil, err
		}
	}

	order, result, err := r.repo.Transition(ctx, n.OrderID, target)
	r.metrics.RecordTransition(string(target), transitionLabel(result, err))
	if err != nil {
		if errors.Is(err, model.ErrConflict) {
			r.logger.Warn("terminal status conflict",
				zap.Uint64("order_id", n.OrderID),
				zap.String("channel", n.Channel),
				zap.String("transaction_id", n.TransactionID),
				zap.String("target", string(target)),
			)
		}
		return nil, err
	}

	if result == model.TransitionApplied {
		r.logger.Info("order status changed",
			zap.Uint64("order_id", n.OrderID),
			zap.String("channel", n.Channel),
			zap.String("transaction_id", n.TransactionID),
			zap.String("status", string(order.Status)),
		)
	}
	return &reconcileResult{order: order, result: result}, nil
}

// check 订单必须存在，渠道上报金额时必须与订单金额一致
func (r *reconciler) check(ctx context.Context, n model.Notification) (*model.Order, error) {
	order, err := r.repo.GetByID(ctx, n.OrderID)
	if err != nil {
		return nil, err
	}
	if n.AmountMinor == 0 {
		return order, nil
	}

	minor, err := order.MinorUnits()
	if err != nil {
		return nil, err
	}
	if minor != n.AmountMinor {
		return nil, fmt.Errorf("%w: order %d expects %d, got %d", model.ErrAmountMismatch, n.OrderID, minor, n.AmountMinor)
	}
	return order, nil
}

func (r *reconciler) outcome(n model.Notification, v interface{}, err error) string {
	switch {
	case err == nil:
		if res, ok := v.(*reconcileResult); ok && res.result != "" {
			return string(res.result)
		}
		return "ok"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrConflict):
		return "conflict"
	case errors.Is(err, model.ErrValidation):
		return "invalid"
	}
	r.logger.Error("reconcile failed", zap.Uint64("order_id", n.OrderID), zap.String("event", string(n.Event)), zap.Error(err))
	return "error"
}

func transitionLabel(result model.TransitionResult, err error) string {
	switch {
	case err == nil:
		return string(result)
	case errors.Is(err, model.ErrConflict):
		return "conflict"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	}
	return "error"
}
