// Package config предоставляет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string `yaml:"migrations_path" env-default:"./migrations"`
	RedisConnection         `yaml:"redis_connection"`
	RabbitMQ                `yaml:"rabbitmq"`
	Telegram                `yaml:"telegram"`
	Lifecycle               `yaml:"lifecycle"`
	Triggers                `yaml:"triggers"`
	AdminServer             `yaml:"admin_server"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"3s"`
}

// RabbitMQ структура для настройки подключения к брокеру событий аудита
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"url" env:"RABBITMQ_URL"`
	RabbitMQMaxRetries int           `yaml:"max_retries" env-default:"10"`
	RabbitMQRetryDelay time.Duration `yaml:"retry_delay" env-default:"3s"`
}

// Telegram структура для настройки бота и управляемой группы
type Telegram struct {
	BotToken         string `yaml:"bot_token" env:"TELEGRAM_BOT_TOKEN"`
	GroupChatID      int64  `yaml:"group_chat_id"`
	LogChannelChatID int64  `yaml:"log_channel_chat_id"`
}

// Lifecycle структура с параметрами жизненного цикла подписок
type Lifecycle struct {
	GracePeriodDays   int           `yaml:"grace_period_days" env-default:"3"`
	ReferralBonusDays int           `yaml:"referral_bonus_days" env-default:"3"`
	InviteTTL         time.Duration `yaml:"invite_ttl" env-default:"1h"`
	BroadcastInterval time.Duration `yaml:"broadcast_interval" env-default:"200ms"`
	InactivityDays    int           `yaml:"inactivity_days" env-default:"30"`
}

// Triggers времена суточного запуска джобов в формате HH:MM
type Triggers struct {
	RemindersAt  string `yaml:"reminders_at" env-default:"10:00"`
	GraceAt      string `yaml:"grace_at" env-default:"11:00"`
	ReconcileAt  string `yaml:"reconcile_at" env-default:"12:00"`
	InactivityAt string `yaml:"inactivity_at" env-default:"13:00"`
	SummaryAt    string `yaml:"summary_at" env-default:"23:00"`
	OfferSweepAt string `yaml:"offer_sweep_at" env-default:"00:30"`
}

// AdminServer структура для настройки административного HTTP-сервера
type AdminServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:"0.0.0.0:8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
	APIToken    string        `yaml:"api_token" env:"ADMIN_API_TOKEN"`
}

// MustLoad функция для загрузки конфига, путь к файлу берётся из CONFIG_PATH
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

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"StorageConnectionString: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"RabbitMQ:\n"+
			"  URL: %s\n"+
			"Telegram:\n"+
			"  GroupChatID: %d\n"+
			"  LogChannelChatID: %d\n"+
			"Lifecycle:\n"+
			"  GracePeriodDays: %d\n"+
			"  ReferralBonusDays: %d\n"+
			"  InviteTTL: %s\n"+
			"AdminServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n",
		c.Env,
		c.StorageConnectionString,
		c.AddressRedis,
		c.DB,
		c.RabbitMQURL,
		c.GroupChatID,
		c.LogChannelChatID,
		c.GracePeriodDays,
		c.ReferralBonusDays,
		c.InviteTTL,
		c.AddressHTTP,
		c.TimeoutHTTP,
	)
}
