package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构体，启动时构建一次后按引用传递
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	App      AppConfig      `mapstructure:"app"`
	Payment  PaymentConfig  `mapstructure:"payment"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"` // 每个 IP 每秒请求数
	RateBurst    int           `mapstructure:"rate_burst"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"sslmode"`
	TimeZone string `mapstructure:"timezone"`
}

// DSN golang-migrate 使用的 URL 形式
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"` // 为空时关闭管理接口
}

type AppConfig struct {
	Env   string `mapstructure:"env"`
	Debug bool   `mapstructure:"debug"`
}

type PaymentConfig struct {
	DefaultChannel string          `mapstructure:"default_channel"`
	LinkTimeout    time.Duration   `mapstructure:"link_timeout"`
	Payme          PaymeConfig     `mapstructure:"payme"`
	Alipay         AlipayConfig    `mapstructure:"alipay"`
	Wechat         WechatPayConfig `mapstructure:"wechat"`
}

type PaymeConfig struct {
	MerchantID     string        `mapstructure:"merchant_id"`
	Key            string        `mapstructure:"key"`
	TestKey        string        `mapstructure:"test_key"`
	IsTestMode     bool          `mapstructure:"is_test_mode"`
	ReturnURL      string        `mapstructure:"return_url"`
	// TransactionTTL 交易流水在 Redis 中的缓存时间，数据库为准
	TransactionTTL time.Duration `mapstructure:"transaction_ttl"`
}

// ActiveKey 测试模式下使用测试密钥
func (c PaymeConfig) ActiveKey() string {
	if c.IsTestMode && c.TestKey != "" {
		return c.TestKey
	}
	return c.Key
}

type AlipayConfig struct {
	AppID        string `mapstructure:"app_id"`
	PrivateKey   string `mapstructure:"private_key"`   // 应用私钥
	PublicKey    string `mapstructure:"public_key"`    // 支付宝公钥 (不是应用公钥)
	NotifyURL    string `mapstructure:"notify_url"`    // 异步通知地址
	ReturnURL    string `mapstructure:"return_url"`    // 同步跳转地址
	IsProduction bool   `mapstructure:"is_production"` // 是否生产环境
}

type WechatPayConfig struct {
	AppID                string `mapstructure:"app_id"`
	MchID                string `mapstructure:"mch_id"`
	MchCertificateSerial string `mapstructure:"mch_cert_serial"`
	MchPrivateKey        string `mapstructure:"mch_private_key"`
	APIv3Key             string `mapstructure:"apiv3_key"`
	NotifyURL            string `mapstructure:"notify_url"`
}

const (
	ChannelPayme  = "payme"
	ChannelAlipay = "alipay"
	ChannelWechat = "wechat"
)

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return errors.New("database configuration is incomplete")
	}
	if c.Redis.Addr == "" {
		return errors.New("redis address is required")
	}
	if c.JWT.Secret != "" && len(c.JWT.Secret) < 32 {
		return errors.New("JWT secret should be at least 32 characters")
	}
	if c.Payment.LinkTimeout <= 0 {
		return errors.New("payment.link_timeout must be positive")
	}

	switch c.Payment.DefaultChannel {
	case ChannelPayme:
		if c.Payment.Payme.MerchantID == "" || c.Payment.Payme.ActiveKey() == "" {
			return errors.New("payme merchant_id and key are required")
		}
	case ChannelAlipay:
		if c.Payment.Alipay.AppID == "" {
			return errors.New("alipay app_id is required")
		}
	case ChannelWechat:
		if c.Payment.Wechat.MchID == "" {
			return errors.New("wechat mch_id is required")
		}
	default:
		return fmt.Errorf("unsupported default payment channel %q", c.Payment.DefaultChannel)
	}
	return nil
}

// Load 加载配置
// APP_ENV 选择 configs/config.<env>.yaml，环境变量 PAYORDER_<SECTION>_<KEY> 覆盖文件中的值
func Load() (*Config, error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	configName := "config"
	if env != "dev" {
		configName = "config." + env
	}

	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	setDefaults(v)
	v.Set("app.env", env)

	v.SetEnvPrefix("PAYORDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.rate_limit", 50)
	v.SetDefault("server.rate_burst", 100)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "payorder")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.timezone", "UTC")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("app.debug", true)

	v.SetDefault("payment.default_channel", ChannelPayme)
	v.SetDefault("payment.link_timeout", 5*time.Second)
	v.SetDefault("payment.payme.merchant_id", "")
	v.SetDefault("payment.payme.key", "")
	v.SetDefault("payment.payme.test_key", "")
	v.SetDefault("payment.payme.is_test_mode", true)
	v.SetDefault("payment.payme.return_url", "")
	v.SetDefault("payment.payme.transaction_ttl", 24*time.Hour)
	v.SetDefault("payment.alipay.app_id", "")
	v.SetDefault("payment.wechat.mch_id", "")
}
