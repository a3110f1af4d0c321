package strategy

import (
	"fmt"
	"sort"

	"payorder/internal/domain/payment/model"
)

// Registry 已注册的支付渠道，启动阶段注册完成后只读
type Registry struct {
	strategies     map[string]PaymentStrategy
	defaultChannel string
}

func NewRegistry(defaultChannel string) *Registry {
	return &Registry{
		strategies:     make(map[string]PaymentStrategy),
		defaultChannel: defaultChannel,
	}
}

// Register 注册支付策略
func (r *Registry) Register(s PaymentStrategy) {
	r.strategies[s.Name()] = s
}

// Get 空渠道名返回默认渠道
func (r *Registry) Get(channel string) (PaymentStrategy, error) {
	if channel == "" {
		channel = r.defaultChannel
	}
	s, ok := r.strategies[channel]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported payment channel %q", model.ErrValidation, channel)
	}
	return s, nil
}

// Channels 已注册渠道名（排序）
func (r *Registry) Channels() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
