package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"payorder/internal/domain/payment/model"
	"payorder/internal/domain/payment/service"
	"payorder/internal/domain/payment/strategy"
	"payorder/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type PaymentHandler struct {
	issuer     service.LinkIssuer
	reconciler service.Reconciler
	gateways   *strategy.Registry
}

func NewPaymentHandler(issuer service.LinkIssuer, reconciler service.Reconciler, gateways *strategy.Registry) *PaymentHandler {
	return &PaymentHandler{issuer: issuer, reconciler: reconciler, gateways: gateways}
}

// linkRequestBody order_id 与 (product_name, amount) 二选一
type linkRequestBody struct {
	OrderID     *uint64          `json:"order_id"`
	ProductName *string          `json:"product_name"`
	Amount      *decimal.Decimal `json:"amount"`
	ReturnURL   string           `json:"return_url"`
	Channel     string           `json:"channel"`
}

func (b linkRequestBody) toLinkRequest() (service.LinkRequest, error) {
	hasOrder := b.OrderID != nil
	hasProduct := b.ProductName != nil || b.Amount != nil

	switch {
	case hasOrder && hasProduct:
		return nil, fmt.Errorf("%w: provide either order_id or product_name and amount, not both", model.ErrValidation)
	case hasOrder:
		return service.ByOrderID{OrderID: *b.OrderID, ReturnURL: b.ReturnURL, Channel: b.Channel}, nil
	case b.ProductName != nil && b.Amount != nil:
		return service.NewOrder{ProductName: *b.ProductName, Amount: *b.Amount, ReturnURL: b.ReturnURL, Channel: b.Channel}, nil
	case hasProduct:
		return nil, fmt.Errorf("%w: product_name and amount are both required", model.ErrValidation)
	}
	return nil, fmt.Errorf("%w: order_id or product_name and amount is required", model.ErrValidation)
}

// linkOptionsBody 已有订单签发链接时的可选参数
type linkOptionsBody struct {
	ReturnURL string `json:"return_url"`
	Channel   string `json:"channel"`
}

// CreateLink 签发支付链接
// @Summary 签发支付链接
// @Tags Payment
// @Accept json
// @Produce json
// @Router /payments/links [post]
func (h *PaymentHandler) CreateLink(c *gin.Context) {
	var body linkRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		bindError(c, err)
		return
	}

	req, err := body.toLinkRequest()
	if err != nil {
		writeError(c, err)
		return
	}
	h.issue(c, req)
}

// CreateLinkForOrder 为路径中的订单签发支付链接
// @Summary 为已有订单签发支付链接
// @Tags Payment
// @Param order_id path int true "Order ID"
// @Router /payments/links/{order_id} [post]
func (h *PaymentHandler) CreateLinkForOrder(c *gin.Context) {
	orderID, err := strconv.ParseUint(c.Param("order_id"), 10, 64)
	if err != nil || orderID == 0 {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "invalid order_id")
		return
	}

	// 请求体可以为空
	var body linkOptionsBody
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		bindError(c, err)
		return
	}

	h.issue(c, service.ByOrderID{OrderID: orderID, ReturnURL: body.ReturnURL, Channel: body.Channel})
}

func (h *PaymentHandler) issue(c *gin.Context, req service.LinkRequest) {
	res, err := h.issuer.IssueLink(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, res)
}

// Notify 支付渠道回调，应答格式由渠道策略决定
// @Summary 支付渠道回调
// @Tags Payment
// @Router /webhooks/payment [post]
// @Router /webhooks/payment/{channel} [post]
func (h *PaymentHandler) Notify(c *gin.Context) {
	gateway, err := h.gateways.Get(c.Param("channel"))
	if err != nil {
		response.Error(c, http.StatusNotFound, response.ErrInvalidParam, err.Error())
		return
	}
	gateway.ServeNotify(c, h.reconciler.Reconcile)
}
