// Package config содержит логику чтения конфигурации сервиса бронирования туров.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// VNPayConfig содержит параметры подключения к VNPay.
type VNPayConfig struct {
	TmnCode    string `env:"VNP_TMN_CODE"`
	HashSecret string `env:"VNP_HASH_SECRET"`
	PayURL     string `env:"VNP_URL" envDefault:"https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"`
	ReturnURL  string `env:"VNP_RETURN_URL"`
}

// Enabled сообщает, что для VNPay заданы учётные данные.
func (c VNPayConfig) Enabled() bool {
	return c.TmnCode != "" && c.HashSecret != ""
}

// MoMoConfig содержит параметры подключения к MoMo.
type MoMoConfig struct {
	PartnerCode string `env:"MOMO_PARTNER_CODE"`
	AccessKey   string `env:"MOMO_ACCESS_KEY"`
	SecretKey   string `env:"MOMO_SECRET_KEY"`
	API         string `env:"MOMO_API" envDefault:"https://test-payment.momo.vn/v2/gateway/api/create"`
	RedirectURL string `env:"MOMO_REDIRECT_URL"`
	IPNURL      string `env:"MOMO_IPN_URL"`
}

// Enabled сообщает, что для MoMo заданы учётные данные.
func (c MoMoConfig) Enabled() bool {
	return c.PartnerCode != "" && c.AccessKey != "" && c.SecretKey != ""
}

// MailConfig содержит параметры SMTP и очереди уведомлений.
type MailConfig struct {
	SMTPHost     string  `env:"SMTP_HOST"`
	SMTPPort     int     `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string  `env:"SMTP_USER"`
	SMTPPassword string  `env:"SMTP_PASSWORD"`
	From         string  `env:"MAIL_FROM" envDefault:"no-reply@tourbooking.local"`
	RatePerSec   float64 `env:"MAIL_RATE_PER_SEC" envDefault:"5"`
	QueueSize    int     `env:"NOTIFY_QUEUE_SIZE" envDefault:"256"`
}

// Config содержит параметры конфигурации сервиса бронирования туров.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	BaseURL     string `env:"BASE_URL"`
	FrontendURL string `env:"FRONTEND_URL"`
	JWTSecret   string `env:"JWT_SECRET"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	DepositRate float64 `env:"BOOKING_DEPOSIT_RATE" envDefault:"0.2"`

	CallbackRatePerSec float64 `env:"CALLBACK_RATE_PER_SEC" envDefault:"20"`
	CallbackBurst      int     `env:"CALLBACK_BURST" envDefault:"40"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	VNPay VNPayConfig
	MoMo  MoMoConfig
	Mail  MailConfig
}

const (
	defaultRunAddress  = "localhost:8080"
	defaultBaseURL     = "http://localhost:8080"
	defaultFrontendURL = "http://localhost:5173"
)

// Parse считывает конфигурацию из файла .env, переменных окружения и флагов командной строки.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envBaseURL := cfg.BaseURL
	envFrontendURL := cfg.FrontendURL
	envJWTSecret := cfg.JWTSecret

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.BaseURL, "b", defaultBaseURL, "public base URL of this service")
	flag.StringVar(&cfg.FrontendURL, "f", defaultFrontendURL, "front-end URL for payment redirects")
	flag.StringVar(&cfg.JWTSecret, "j", "", "JWT signing secret")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envBaseURL != "" {
		cfg.BaseURL = envBaseURL
	}
	if envFrontendURL != "" {
		cfg.FrontendURL = envFrontendURL
	}
	if envJWTSecret != "" {
		cfg.JWTSecret = envJWTSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	cfg.applyDerivedDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDerivedDefaults() {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	c.FrontendURL = strings.TrimRight(c.FrontendURL, "/")

	if c.VNPay.ReturnURL == "" {
		c.VNPay.ReturnURL = c.BaseURL + "/api/payment/vnpay/return"
	}
	if c.MoMo.RedirectURL == "" {
		c.MoMo.RedirectURL = c.BaseURL + "/api/payment/momo/return"
	}
	if c.MoMo.IPNURL == "" {
		c.MoMo.IPNURL = c.BaseURL + "/api/payment/momo/ipn"
	}
}

// Validate проверяет значения, которые нельзя исправить значениями по умолчанию.
func (c *Config) Validate() error {
	if c.DepositRate <= 0 || c.DepositRate > 1 {
		return fmt.Errorf("BOOKING_DEPOSIT_RATE must be in (0, 1], got %v", c.DepositRate)
	}
	if c.CallbackRatePerSec <= 0 || c.CallbackBurst <= 0 {
		return errors.New("callback rate limit must be positive")
	}
	if c.Mail.QueueSize <= 0 {
		return errors.New("NOTIFY_QUEUE_SIZE must be positive")
	}
	return nil
}
