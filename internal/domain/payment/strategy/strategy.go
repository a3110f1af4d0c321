package strategy

import (
	"context"

	"payorder/internal/domain/payment/model"

	"github.com/gin-gonic/gin"
)

// LinkParams 生成支付链接所需参数
type LinkParams struct {
	OrderID     uint64
	AmountMinor int64 // 最小货币单位
	ReturnURL   string
	Subject     string
}

// ReconcileFunc 回调验签解码后交给对账器处理
type ReconcileFunc func(ctx context.Context, n model.Notification) (*model.Order, error)

type PaymentStrategy interface {
	// Name 渠道名称
	Name() string

	// CreateLink 生成托管支付链接，失败时返回的错误由调用方归类为上游错误
	CreateLink(ctx context.Context, p LinkParams) (string, error)

	// ServeNotify 验证并解码渠道回调，调用 reconcile，并按渠道协议写回应答
	ServeNotify(c *gin.Context, reconcile ReconcileFunc)
}
