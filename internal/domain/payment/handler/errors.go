package handler

import (
	"errors"
	"net/http"

	"payorder/internal/domain/payment/model"
	"payorder/pkg/response"

	"github.com/gin-gonic/gin"
)

// writeError 按错误分类映射 HTTP 状态码和业务码
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrValidation):
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
	case errors.Is(err, model.ErrNotFound):
		response.Error(c, http.StatusNotFound, response.ErrOrderNotFound, err.Error())
	case errors.Is(err, model.ErrConflict):
		response.Error(c, http.StatusConflict, response.ErrOrderConflict, err.Error())
	case errors.Is(err, model.ErrUpstream):
		response.Error(c, http.StatusBadGateway, response.ErrGatewayFailure, "payment gateway unavailable")
	default:
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, "internal server error")
	}
}

func bindError(c *gin.Context, err error) {
	response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
}
