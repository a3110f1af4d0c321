package handler

import (
	"payorder/internal/domain/payment/service"
	"payorder/pkg/response"

	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	service service.OrderService
}

func NewAdminHandler(s service.OrderService) *AdminHandler {
	return &AdminHandler{service: s}
}

type BulkIDsInput struct {
	IDs []uint64 `json:"ids" binding:"required,min=1,max=500,dive,gt=0"`
}

// MarkPaid 批量标记为已支付
// @Summary 批量标记为已支付
// @Tags Admin
// @Security BearerAuth
// @Router /admin/orders/mark-paid [post]
func (h *AdminHandler) MarkPaid(c *gin.Context) {
	var input BulkIDsInput
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}
	res, err := h.service.MarkPaid(c.Request.Context(), input.IDs)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, res)
}

// MarkCancelled 批量标记为已取消
// @Summary 批量标记为已取消
// @Tags Admin
// @Security BearerAuth
// @Router /admin/orders/mark-cancelled [post]
func (h *AdminHandler) MarkCancelled(c *gin.Context) {
	var input BulkIDsInput
	if err := c.ShouldBindJSON(&input); err != nil {
		bindError(c, err)
		return
	}
	res, err := h.service.MarkCancelled(c.Request.Context(), input.IDs)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, res)
}
