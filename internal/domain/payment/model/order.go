package model

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	baseModel "payorder/pkg/model"

	"github.com/shopspring/decimal"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"

	ProductNameMaxLen = 255
	AmountScale       = 2
)

// MaxAmount numeric(12,2) 可表示的最大金额
var MaxAmount = decimal.RequireFromString("9999999999.99")

// IsTerminal paid 和 cancelled 为终态，一旦到达不可再变化
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPaid || s == OrderStatusCancelled
}

// IsTransitionTarget 只有终态可以作为 Transition 的目标
func (s OrderStatus) IsTransitionTarget() bool {
	return s.IsTerminal()
}

// ParseOrderStatus 解析状态字符串
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch OrderStatus(s) {
	case OrderStatusPending, OrderStatusPaid, OrderStatusCancelled:
		return OrderStatus(s), nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
}

// Order 订单模型
// status 只能通过 OrderRepository.Transition 修改，amount 创建后不可修改
type Order struct {
	baseModel.BaseModel
	ProductName string          `gorm:"type:varchar(255);not null" json:"product_name"`
	Amount      decimal.Decimal `gorm:"type:numeric(12,2);not null;<-:create" json:"amount"`
	Status      OrderStatus     `gorm:"type:varchar(16);not null;default:'pending';index;<-:create" json:"status"`
}

func (Order) TableName() string {
	return "orders"
}

// MarshalJSON 金额固定输出两位小数
func (o Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID          uint64      `json:"id"`
		ProductName string      `json:"product_name"`
		Amount      string      `json:"amount"`
		Status      OrderStatus `json:"status"`
		CreatedAt   string      `json:"created_at"`
	}{
		ID:          o.ID,
		ProductName: o.ProductName,
		Amount:      o.Amount.StringFixed(AmountScale),
		Status:      o.Status,
		CreatedAt:   o.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// MinorUnits 将主币种金额换算为最小货币单位（乘以 100），全程使用十进制运算
func (o *Order) MinorUnits() (int64, error) {
	return ToMinorUnits(o.Amount)
}

// ToMinorUnits amount × 100，结果必须为整数
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	minor := amount.Shift(AmountScale)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: amount %s has more than %d decimal places", ErrValidation, amount.String(), AmountScale)
	}
	if !minor.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: amount %s is out of range", ErrValidation, amount.String())
	}
	return minor.IntPart(), nil
}

// ValidateNewOrder 校验创建订单的输入
func ValidateNewOrder(productName string, amount decimal.Decimal) error {
	if productName == "" {
		return fmt.Errorf("%w: product_name is required", ErrValidation)
	}
	if utf8.RuneCountInString(productName) > ProductNameMaxLen {
		return fmt.Errorf("%w: product_name must be at most %d characters", ErrValidation, ProductNameMaxLen)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than 0", ErrValidation)
	}
	if amount.GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: amount must be at most %s", ErrValidation, MaxAmount.StringFixed(AmountScale))
	}
	if _, err := ToMinorUnits(amount); err != nil {
		return err
	}
	return nil
}
