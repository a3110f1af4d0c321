package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payorder/internal/domain/payment/model"
	"payorder/internal/domain/payment/repository"
	"payorder/internal/domain/payment/strategy"
	"payorder/pkg/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LinkRequest 签发支付链接的请求，只有 ByOrderID 和 NewOrder 两种形态
type LinkRequest interface {
	linkRequest()
}

// ByOrderID 为已有订单签发链接
type ByOrderID struct {
	OrderID   uint64
	ReturnURL string
	Channel   string
}

// NewOrder 先创建 pending 订单再签发链接
type NewOrder struct {
	ProductName string
	Amount      decimal.Decimal
	ReturnURL   string
	Channel     string
}

func (ByOrderID) linkRequest() {}
func (NewOrder) linkRequest()  {}

// LinkResult 签发结果
type LinkResult struct {
	PaymentURL string       `json:"payment_url"`
	Order      *model.Order `json:"order"`
}

type LinkIssuer interface {
	IssueLink(ctx context.Context, req LinkRequest) (*LinkResult, error)
}

type linkIssuer struct {
	repo     repository.OrderRepository
	gateways *strategy.Registry
	timeout  time.Duration
	metrics  *metrics.MetricsCollector
	logger   *zap.Logger
}

func NewLinkIssuer(repo repository.OrderRepository, gateways *strategy.Registry, timeout time.Duration, m *metrics.MetricsCollector, logger *zap.Logger) LinkIssuer {
	return &linkIssuer{
		repo:     repo,
		gateways: gateways,
		timeout:  timeout,
		metrics:  m,
		logger:   logger,
	}
}

func (s *linkIssuer) IssueLink(ctx context.Context, req LinkRequest) (*LinkResult, error) {
	var (
		channel, returnURL string
		order              *model.Order
	)

	// 渠道先解析，避免未知渠道也落一条订单
	switch r := req.(type) {
	case ByOrderID:
		channel, returnURL = r.Channel, r.ReturnURL
	case NewOrder:
		channel, returnURL = r.Channel, r.ReturnURL
	default:
		return nil, fmt.Errorf("%w: order_id or product_name and amount is required", model.ErrValidation)
	}
	gateway, err := s.gateways.Get(channel)
	if err != nil {
		return nil, err
	}

	switch r := req.(type) {
	case ByOrderID:
		if r.OrderID == 0 {
			return nil, fmt.Errorf("%w: order_id is required", model.ErrValidation)
		}
		// 不校验状态：已支付/已取消的订单同样可以重新签发
		if order, err = s.repo.GetByID(ctx, r.OrderID); err != nil {
			return nil, err
		}
	case NewOrder:
		if err := model.ValidateNewOrder(r.ProductName, r.Amount); err != nil {
			return nil, err
		}
		if order, err = s.repo.Create(ctx, r.ProductName, r.Amount); err != nil {
			return nil, err
		}
		s.logger.Info("order created", zap.Uint64("order_id", order.ID), zap.String("amount", order.Amount.StringFixed(model.AmountScale)))
	}

	minor, err := order.MinorUnits()
	if err != nil {
		return nil, err
	}

	url, err := s.createLink(ctx, gateway, strategy.LinkParams{
		OrderID:     order.ID,
		AmountMinor: minor,
		ReturnURL:   returnURL,
		Subject:     order.ProductName,
	})
	if err != nil {
		return nil, err
	}
	return &LinkResult{PaymentURL: url, Order: order}, nil
}

func (s *linkIssuer) createLink(ctx context.Context, gateway strategy.PaymentStrategy, p strategy.LinkParams) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	url, err := gateway.CreateLink(ctx, p)
	if err != nil {
		s.metrics.RecordLinkIssued(gateway.Name(), "error", time.Since(start))
		s.logger.Error("create payment link failed",
			zap.String("channel", gateway.Name()),
			zap.Uint64("order_id", p.OrderID),
			zap.Bool("timeout", errors.Is(err, context.DeadlineExceeded)),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w: %s: %v", model.ErrUpstream, gateway.Name(), err)
	}
	s.metrics.RecordLinkIssued(gateway.Name(), "ok", time.Since(start))
	return url, nil
}
