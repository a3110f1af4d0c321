package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"payorder/internal/domain/payment/model"
	"payorder/internal/domain/payment/repository"
	"payorder/internal/domain/payment/service"
	"payorder/pkg/response"
	"payorder/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type OrderHandler struct {
	service service.OrderService
}

func NewOrderHandler(s service.OrderService) *OrderHandler {
	return &OrderHandler{service: s}
}

type CreateOrderInput struct {
	ProductName string           `json:"product_name" binding:"required,max=255"`
	Amount      *decimal.Decimal `json:"amount"`
}

// UpdateOrderInput status 和 amount 只读，只接受 product_name
type UpdateOrderInput struct {
	ProductName string `json:"product_name" binding:"required,max=255"`
}

type listOrdersQuery struct {
	utils.Pagination
	Status      string `form:"status"`
	Search      string `form:"search"`
	CreatedFrom string `form:"created_from"`
	CreatedTo   string `form:"created_to"`
}

// filter 日期形式的 created_to 包含当天
func (q listOrdersQuery) filter() (repository.OrderFilter, error) {
	filter := repository.OrderFilter{Search: q.Search}
	if q.Status != "" {
		status, err := model.ParseOrderStatus(q.Status)
		if err != nil {
			return filter, err
		}
		filter.Status = status
	}

	var err error
	if filter.CreatedFrom, _, err = parseCreatedBound("created_from", q.CreatedFrom); err != nil {
		return filter, err
	}
	to, dateOnly, err := parseCreatedBound("created_to", q.CreatedTo)
	if err != nil {
		return filter, err
	}
	if dateOnly {
		to = to.AddDate(0, 0, 1)
	}
	filter.CreatedTo = to

	if !filter.CreatedFrom.IsZero() && !filter.CreatedTo.IsZero() && !filter.CreatedFrom.Before(filter.CreatedTo) {
		return filter, fmt.Errorf("%w: created_from must be before created_to", model.ErrValidation)
	}
	return filter, nil
}

func parseCreatedBound(name, value string) (time.Time, bool, error) {
	if value == "" {
		return time.Time{}, false, nil
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %s must be YYYY-MM-DD or RFC3339", model.ErrValidation, name)
	}
	return t, false, nil
}

// GetOrders 获取订单列表
// @Summary 获取订单列表
// @Tags Orders
// @Param status query string false "pending / paid / cancelled"
// @Param search query string false "product name or id"
// @Param created_from query string false "YYYY-MM-DD or RFC3339"
// @Param created_to query string false "YYYY-MM-DD (inclusive) or RFC3339 (exclusive)"
// @Param page query int false "Page"
// @Param limit query int false "Limit"
// @Router /orders [get]
func (h *OrderHandler) GetOrders(c *gin.Context) {
	var q listOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindError(c, err)
		return
	}

	filter, err := q.filter()
	if err != nil {
		writeError(c, err)
		return
	}

	_, limit := q.GetPageOffset()
	orders, total, err := h.service.ListOrders(c.Request.Context(), filter, q.Page, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, utils.PageResult{
		List:  orders,
		Total: total,
		Page:  q.Page,
		Limit: limit,
	})
}

// GetOrder 获取单个订单
// @Router /orders/{id} [get]
func (h *OrderHandler) GetOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	order, err := h.service.GetOrder(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, order)
}

// CreateOrder 创建 pending 订单
// @Router /orders [post]
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var input CreateOrderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}
	if input.Amount == nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "amount is required")
		return
	}

	order, err := h.service.CreateOrder(c.Request.Context(), input.ProductName, *input.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, order)
}

// UpdateOrder 修改商品名称
// @Router /orders/{id} [put]
// @Router /orders/{id} [patch]
func (h *OrderHandler) UpdateOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	var input UpdateOrderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}

	order, err := h.service.RenameOrder(c.Request.Context(), id, input.ProductName)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, order)
}

// DeleteOrder 删除订单
// @Router /orders/{id} [delete]
func (h *OrderHandler) DeleteOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	if err := h.service.DeleteOrder(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, nil)
}

func orderID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "invalid order id")
		return 0, false
	}
	return id, true
}
