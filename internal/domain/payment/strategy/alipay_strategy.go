package strategy

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"payorder/internal/domain/payment/model"
	"payorder/internal/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smartwalle/alipay/v3"
	"go.uber.org/zap"
)

type AlipayStrategy struct {
	client *alipay.Client
	config config.AlipayConfig
	logger *zap.Logger
}

func NewAlipayStrategy(cfg config.AlipayConfig, logger *zap.Logger) (*AlipayStrategy, error) {
	if cfg.AppID == "" {
		return nil, errors.New("alipay config missing")
	}

	client, err := alipay.New(cfg.AppID, cfg.PrivateKey, cfg.IsProduction)
	if err != nil {
		return nil, err
	}

	// 加载支付宝公钥 (用于验证签名)
	if err = client.LoadAliPayPublicKey(cfg.PublicKey); err != nil {
		return nil, err
	}

	return &AlipayStrategy{
		client: client,
		config: cfg,
		logger: logger,
	}, nil
}

func (s *AlipayStrategy) Name() string {
	return config.ChannelAlipay
}

// CreateLink 电脑网站支付，返回签名后的收银台 URL
func (s *AlipayStrategy) CreateLink(ctx context.Context, p LinkParams) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	trade := alipay.TradePagePay{}
	trade.NotifyURL = s.config.NotifyURL
	trade.ReturnURL = p.ReturnURL
	if trade.ReturnURL == "" {
		trade.ReturnURL = s.config.ReturnURL
	}
	trade.Subject = p.Subject
	trade.OutTradeNo = strconv.FormatUint(p.OrderID, 10)
	trade.TotalAmount = decimal.New(p.AmountMinor, -model.AmountScale).StringFixed(model.AmountScale)
	trade.ProductCode = "FAST_INSTANT_TRADE_PAY"

	result, err := s.client.TradePagePay(trade)
	if err != nil {
		return "", err
	}
	return result.String(), nil
}

// ServeNotify 支付宝回调是 POST Form 格式，处理成功返回 "success"，否则返回 "fail" 触发重试
func (s *AlipayStrategy) ServeNotify(c *gin.Context, reconcile ReconcileFunc) {
	if err := c.Request.ParseForm(); err != nil {
		c.String(http.StatusOK, "fail")
		return
	}

	// 1. 验证签名
	noti, err := s.client.DecodeNotification(c.Request.Form)
	if err != nil {
		s.logger.Warn("alipay notification rejected", zap.Error(err))
		c.String(http.StatusOK, "fail")
		return
	}

	orderID, err := strconv.ParseUint(noti.OutTradeNo, 10, 64)
	if err != nil {
		s.logger.Warn("alipay notification with foreign out_trade_no", zap.String("out_trade_no", noti.OutTradeNo))
		c.String(http.StatusOK, "fail")
		return
	}

	// 2. 检查交易状态
	event := model.EventCheck
	switch noti.TradeStatus {
	case alipay.TradeStatusSuccess, alipay.TradeStatusFinished:
		event = model.EventSucceeded
	case alipay.TradeStatusClosed:
		event = model.EventCancelled
	}

	// 3. 解析金额
	var amountMinor int64
	if amount, err := decimal.NewFromString(noti.TotalAmount); err == nil {
		amountMinor, _ = model.ToMinorUnits(amount)
	}

	_, err = reconcile(c.Request.Context(), model.Notification{
		Channel:       s.Name(),
		TransactionID: noti.TradeNo,
		OrderID:       orderID,
		Event:         event,
		AmountMinor:   amountMinor,
	})
	if err != nil {
		c.String(http.StatusOK, "fail") // 告诉支付宝处理失败，它会重试
		return
	}
	c.String(http.StatusOK, "success")
}

// 确保实现了接口
var _ PaymentStrategy = (*AlipayStrategy)(nil)
