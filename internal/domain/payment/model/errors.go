package model

import (
	"errors"
	"fmt"
)

// 错误分类，调用方通过 errors.Is 判断
var (
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("order not found")
	ErrConflict       = errors.New("order status conflict")
	ErrUpstream       = errors.New("payment gateway error")
	ErrAmountMismatch = fmt.Errorf("%w: amount mismatch", ErrValidation)
)
