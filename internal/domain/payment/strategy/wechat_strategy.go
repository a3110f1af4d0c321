package strategy

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"payorder/internal/domain/payment/model"
	"payorder/internal/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/wechatpay-apiv3/wechatpay-go/core"
	"github.com/wechatpay-apiv3/wechatpay-go/core/auth/verifiers"
	"github.com/wechatpay-apiv3/wechatpay-go/core/downloader"
	"github.com/wechatpay-apiv3/wechatpay-go/core/notify"
	"github.com/wechatpay-apiv3/wechatpay-go/core/option"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments/native"
	"github.com/wechatpay-apiv3/wechatpay-go/utils"
	"go.uber.org/zap"
)

type WechatStrategy struct {
	client  *core.Client
	config  config.WechatPayConfig
	handler *notify.Handler
	logger  *zap.Logger
}

func NewWechatStrategy(ctx context.Context, cfg config.WechatPayConfig, logger *zap.Logger) (*WechatStrategy, error) {
	if cfg.MchID == "" {
		return nil, errors.New("wechat pay config missing")
	}

	// 1. 加载商户私钥
	mchPrivateKey, err := utils.LoadPrivateKey(cfg.MchPrivateKey)
	if err != nil {
		return nil, err
	}

	// 2. 初始化 Client，自动下载平台证书
	opts := []core.ClientOption{
		option.WithWechatPayAutoAuthCipher(cfg.MchID, cfg.MchCertificateSerial, mchPrivateKey, cfg.APIv3Key),
	}
	client, err := core.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	// 3. 初始化 Notify Handler (用于验签和解密)
	certVisitor := downloader.MgrInstance().GetCertificateVisitor(cfg.MchID)
	handler := notify.NewNotifyHandler(cfg.APIv3Key, verifiers.NewSHA256WithRSAVerifier(certVisitor))

	return &WechatStrategy{
		client:  client,
		config:  cfg,
		handler: handler,
		logger:  logger,
	}, nil
}

func (s *WechatStrategy) Name() string {
	return config.ChannelWechat
}

// CreateLink Native 支付，返回二维码内容 code_url
func (s *WechatStrategy) CreateLink(ctx context.Context, p LinkParams) (string, error) {
	req := native.PrepayRequest{
		Appid:       core.String(s.config.AppID),
		Mchid:       core.String(s.config.MchID),
		Description: core.String(p.Subject),
		OutTradeNo:  core.String(strconv.FormatUint(p.OrderID, 10)),
		NotifyUrl:   core.String(s.config.NotifyURL),
		Amount: &native.Amount{
			Total: core.Int64(p.AmountMinor),
		},
	}

	svc := native.NativeApiService{Client: s.client}
	resp, _, err := svc.Prepay(ctx, req)
	if err != nil {
		return "", err
	}
	if resp.CodeUrl == nil {
		return "", errors.New("wechat prepay returned empty code_url")
	}
	return *resp.CodeUrl, nil
}

// ServeNotify 微信支付回调：返回 2xx 表示成功，4xx/5xx 表示失败并触发重试
func (s *WechatStrategy) ServeNotify(c *gin.Context, reconcile ReconcileFunc) {
	transaction := new(payments.Transaction)
	if _, err := s.handler.ParseNotifyRequest(c.Request.Context(), c.Request, transaction); err != nil {
		s.logger.Warn("wechat notification rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"code": "FAIL", "message": "invalid signature"})
		return
	}
	if transaction.OutTradeNo == nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "FAIL", "message": "missing out_trade_no"})
		return
	}

	orderID, err := strconv.ParseUint(*transaction.OutTradeNo, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "FAIL", "message": "invalid out_trade_no"})
		return
	}

	event := model.EventCheck
	if transaction.TradeState != nil {
		switch *transaction.TradeState {
		case "SUCCESS":
			event = model.EventSucceeded
		case "CLOSED", "REVOKED", "PAYERROR":
			event = model.EventCancelled
		}
	}

	n := model.Notification{
		Channel: s.Name(),
		OrderID: orderID,
		Event:   event,
	}
	if transaction.TransactionId != nil {
		n.TransactionID = *transaction.TransactionId
	}
	if transaction.Amount != nil && transaction.Amount.Total != nil {
		n.AmountMinor = *transaction.Amount.Total
	}

	if _, err := reconcile(c.Request.Context(), n); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "FAIL", "message": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

var _ PaymentStrategy = (*WechatStrategy)(nil)
