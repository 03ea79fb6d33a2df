// Package config предоставляет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env"`
	StorageConnectionString string `yaml:"storage_connection_string"`
	RedisConnection         `yaml:"redis_connection"`
	RabbitConnection        `yaml:"rabbit_connection"`
	HTTPServer              `yaml:"http_server"`
	JWTToken                `yaml:"jwttoken"`
	Entitlement             `yaml:"entitlement"`
	PaymentGateway          `yaml:"payment_gateway"`
	AccessWindow            `yaml:"access_window"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
}

// RabbitConnection структура для настройки подключения к rabbitmq
type RabbitConnection struct {
	AddressRabbit string `yaml:"addressrabbit"`
}

// JWTToken структура для проверки jwt-токена, выданного провайдером идентификации
type JWTToken struct {
	JWTSecretKey string        `yaml:"jwt_secret_key"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

// Entitlement структура с настройками жизненного цикла доступа.
// ClockUnit задаёт интерпретацию номинальной длительности: days, minutes или seconds.
// В боевом окружении всегда days, minutes/seconds используются для сжатия времени в тестовых стендах.
type Entitlement struct {
	ClockUnit     string        `yaml:"clock_unit" env-default:"days"`
	TrialDuration int           `yaml:"trial_duration" env-default:"7"`
	WebhookSecret string        `yaml:"webhook_secret"`
	SweepInterval time.Duration `yaml:"sweep_interval" env-default:"1m"`
}

// PaymentGateway структура для настройки клиента платёжного шлюза
type PaymentGateway struct {
	ShopID         string        `yaml:"shop_id"`
	SecretKey      string        `yaml:"secret_key"`
	APIURL         string        `yaml:"api_url"`
	GatewayTimeout time.Duration `yaml:"gateway_timeout" env-default:"10s"`
}

// AccessWindow необязательное окно доступа организации: время суток и таймзона.
// Если Enabled = false, окно не проверяется.
type AccessWindow struct {
	Enabled  bool   `yaml:"enabled"`
	StartDay string `yaml:"start_day"` // формат 15:04
	EndDay   string `yaml:"end_day"`   // формат 15:04
	Timezone string `yaml:"timezone"`  // IANA, например Europe/Moscow
}

// MustLoad функция для загрузки конфига, путь берётся из переменной окружения CONFIG_PATH
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return &cfg
}
