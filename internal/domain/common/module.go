package common

import (
	"context"
	"net/http"
	"time"

	"payorder/internal/pkg/registry"
	"payorder/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// CommonModule 健康检查与指标
type CommonModule struct{}

func init() {
	registry.Register(&CommonModule{})
}

func (m *CommonModule) Name() string {
	return "common"
}

func (m *CommonModule) Priority() int {
	return 100 // 最后初始化
}

func (m *CommonModule) Init(ctx *registry.ModuleContext) error {
	gatherer := ctx.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	setupRoutes(ctx.Router, healthCheck(ctx.DB, ctx.Redis), gatherer)
	return nil
}

func setupRoutes(r *gin.Engine, health gin.HandlerFunc, gatherer prometheus.Gatherer) {
	r.GET("/healthz", health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// healthCheck 检查数据库和 Redis 连通性
func healthCheck(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		checks := gin.H{}
		healthy := true

		if db != nil {
			checks["database"] = "ok"
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(ctx)
			}
			if err != nil {
				checks["database"] = err.Error()
				healthy = false
			}
		}
		if rdb != nil {
			checks["redis"] = "ok"
			if err := rdb.Ping(ctx).Err(); err != nil {
				checks["redis"] = err.Error()
				healthy = false
			}
		}

		if !healthy {
			c.JSON(http.StatusServiceUnavailable, response.Response{Code: response.CodeError, Message: "unhealthy", Data: checks})
			return
		}
		response.Success(c, checks)
	}
}
