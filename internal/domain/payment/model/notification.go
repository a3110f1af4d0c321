package model

// PaymentEvent 支付渠道回调事件
type PaymentEvent string

const (
	// EventCheck 仅校验订单（存在性、金额），不改变状态
	EventCheck     PaymentEvent = "check"
	EventSucceeded PaymentEvent = "succeeded"
	EventCancelled PaymentEvent = "cancelled"
)

// TargetStatus 事件对应的目标状态，EventCheck 返回 false
func (e PaymentEvent) TargetStatus() (OrderStatus, bool) {
	switch e {
	case EventSucceeded:
		return OrderStatusPaid, true
	case EventCancelled:
		return OrderStatusCancelled, true
	}
	return "", false
}

// Notification 已经过渠道验签和解码的回调
type Notification struct {
	Channel       string
	TransactionID string
	OrderID       uint64
	Event         PaymentEvent
	// AmountMinor 渠道上报的金额（最小货币单位），0 表示未上报
	AmountMinor int64
}

// TransitionResult 状态迁移结果
type TransitionResult string

const (
	TransitionApplied   TransitionResult = "applied"
	TransitionUnchanged TransitionResult = "unchanged"
)
