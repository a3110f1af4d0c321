package payment

import (
	"context"
	"fmt"

	"payorder/internal/domain/payment/handler"
	"payorder/internal/domain/payment/repository"
	"payorder/internal/domain/payment/service"
	"payorder/internal/domain/payment/strategy"
	"payorder/internal/pkg/config"
	"payorder/internal/pkg/middleware"
	"payorder/internal/pkg/registry"
	"payorder/pkg/cache"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PaymentModule 订单与支付链接模块
type PaymentModule struct{}

func init() {
	registry.Register(&PaymentModule{})
}

func (m *PaymentModule) Name() string {
	return "payment"
}

func (m *PaymentModule) Priority() int {
	return 20
}

func (m *PaymentModule) Init(ctx *registry.ModuleContext) error {
	cfg := ctx.Config
	log := ctx.Logger.Named("payment")

	// 1. 依赖注入
	orderRepo := repository.NewOrderRepository(ctx.DB)

	journal := strategy.NewCachedJournal(
		strategy.NewGormJournal(ctx.DB),
		cache.NewRedisCache(ctx.Redis, ""),
		cfg.Payment.Payme.TransactionTTL,
	)
	gateways, err := buildGateways(cfg.Payment, journal, log)
	if err != nil {
		return err
	}

	issuer := service.NewLinkIssuer(orderRepo, gateways, cfg.Payment.LinkTimeout, ctx.Metrics, log)
	reconciler := service.NewReconciler(orderRepo, ctx.Metrics, log)
	orderService := service.NewOrderService(orderRepo, ctx.Metrics, log)

	// 2. 路由注册
	setupRoutes(ctx.Router, routes{
		payment:     handler.NewPaymentHandler(issuer, reconciler, gateways),
		orders:      handler.NewOrderHandler(orderService),
		admin:       handler.NewAdminHandler(orderService),
		limiter:     middleware.NewIPRateLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.RateBurst),
		adminSecret: cfg.JWT.Secret,
	})

	if cfg.JWT.Secret == "" {
		log.Warn("jwt.secret is empty, admin endpoints are disabled")
	}
	log.Info("payment channels ready",
		zap.Strings("channels", gateways.Channels()),
		zap.String("default", cfg.Payment.DefaultChannel),
	)
	return nil
}

// buildGateways 默认渠道初始化失败直接返回错误，其它渠道仅在配置后启用
func buildGateways(cfg config.PaymentConfig, journal strategy.TransactionJournal, log *zap.Logger) (*strategy.Registry, error) {
	gateways := strategy.NewRegistry(cfg.DefaultChannel)

	register := func(channel string, build func() (strategy.PaymentStrategy, error)) error {
		s, err := build()
		if err != nil {
			if channel == cfg.DefaultChannel {
				return fmt.Errorf("init %s strategy: %w", channel, err)
			}
			log.Error("Failed to init payment strategy", zap.String("channel", channel), zap.Error(err))
			return nil
		}
		gateways.Register(s)
		return nil
	}

	if cfg.Payme.MerchantID != "" || cfg.DefaultChannel == config.ChannelPayme {
		if err := register(config.ChannelPayme, func() (strategy.PaymentStrategy, error) {
			return strategy.NewPaymeStrategy(cfg.Payme, journal, log.Named("payme"))
		}); err != nil {
			return nil, err
		}
	}

	// 支付宝
	if cfg.Alipay.AppID != "" {
		if err := register(config.ChannelAlipay, func() (strategy.PaymentStrategy, error) {
			return strategy.NewAlipayStrategy(cfg.Alipay, log.Named("alipay"))
		}); err != nil {
			return nil, err
		}
	}

	// 微信支付
	if cfg.Wechat.MchID != "" {
		if err := register(config.ChannelWechat, func() (strategy.PaymentStrategy, error) {
			return strategy.NewWechatStrategy(context.Background(), cfg.Wechat, log.Named("wechat"))
		}); err != nil {
			return nil, err
		}
	}

	if _, err := gateways.Get(""); err != nil {
		return nil, fmt.Errorf("default payment channel %q is not configured", cfg.DefaultChannel)
	}
	return gateways, nil
}

type routes struct {
	payment     *handler.PaymentHandler
	orders      *handler.OrderHandler
	admin       *handler.AdminHandler
	limiter     *middleware.IPRateLimiter
	adminSecret string
}

func setupRoutes(r *gin.Engine, rt routes) {
	// 支付渠道回调 (无需鉴权和限流，由渠道策略验签)
	webhooks := r.Group("/webhooks/payment")
	{
		webhooks.POST("", rt.payment.Notify)
		webhooks.POST("/:channel", rt.payment.Notify)
	}

	public := r.Group("")
	public.Use(middleware.RateLimitMiddleware(rt.limiter))
	{
		public.POST("/payments/links", rt.payment.CreateLink)
		public.POST("/payments/links/:order_id", rt.payment.CreateLinkForOrder)

		orders := public.Group("/orders")
		orders.GET("", rt.orders.GetOrders)
		orders.POST("", rt.orders.CreateOrder)
		orders.GET("/:id", rt.orders.GetOrder)
		orders.PUT("/:id", rt.orders.UpdateOrder)
		orders.PATCH("/:id", rt.orders.UpdateOrder)
		orders.DELETE("/:id", rt.orders.DeleteOrder)
	}

	if rt.adminSecret == "" {
		return
	}
	admin := r.Group("/admin/orders")
	admin.Use(middleware.AdminAuthMiddleware(rt.adminSecret))
	{
		admin.POST("/mark-paid", rt.admin.MarkPaid)
		admin.POST("/mark-cancelled", rt.admin.MarkCancelled)
	}
}
