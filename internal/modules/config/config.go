package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	databaseDSN       = "DATABASE_DSN"
)

// Config ...
type Config struct {
	Telegram struct {
		Token string `yaml:"token"`
	} `yaml:"telegram"`
	DB     string `yaml:"db_dsn"`
	Broker struct {
		BaseURL string `yaml:"base_url"`
		WSURL   string `yaml:"ws_url"`
	} `yaml:"broker"`
	Service struct {
		HealthAddr string `yaml:"health_addr"`
	} `yaml:"service"`
	Jaeger struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"jaeger"`

	// Файл с аккаунтами (если DATABASE_DSN не задан)
	StorePath string `yaml:"store_path"`

	// Таймзона торговли — в ней сверяем свежесть свечей
	Timezone string `yaml:"timezone"`

	// Параметры цикла
	IntervalSec int `yaml:"interval_sec"` // длительность свечи
	CandleCount int `yaml:"candle_count"` // сколько свечей тянем за раз
	ExpirySec   int `yaml:"expiry_sec"`   // экспирация опциона
	MinCandles  int `yaml:"min_candles"`  // меньше — «мало данных», ждём

	RetryBackoff time.Duration // DEGRADED_RETRY пауза
	CycleSleep   time.Duration // пауза между циклами без сделки
	SettleGrace  time.Duration // запас после экспирации до проверки итога

	// Дефолты стратегии
	RSIPeriod     int
	RSIOverbought float64
	RSIOversold   float64

	// Дефолты аккаунта (создаём юзеру при первом обращении)
	DefaultAmount  float64
	DefaultPercent float64
	DefaultAssets  []string `yaml:"default_assets"`

	// Политика ставок
	StakeMin          float64 `yaml:"stake_min"`           // брокер режет ставки ниже минимума
	MartingaleFactor  float64 `yaml:"martingale_factor"`   // прогрессия: base * factor^step
	MartingaleMaxStep int     `yaml:"martingale_max_step"` // дальше шаг не растёт
}

func NewConfig() (*Config, error) {

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	file, err := os.Open("configs/" + configFileName)
	if err != nil {
		log.Fatalf("Failed to open config file: %v", err)
	}

	defer func() {
		_ = file.Close()
	}()

	decoder := yaml.NewDecoder(file)
	config := Config{
		StorePath: getenvDefault("BOT_STORE_PATH", "data/users.json"),
		Timezone:  getenvDefault("TRADING_TZ", "UTC"),

		IntervalSec: intFromEnv("CANDLE_INTERVAL_SEC", 60),
		CandleCount: intFromEnv("CANDLE_COUNT", 100),
		ExpirySec:   intFromEnv("EXPIRY_SEC", 60),
		MinCandles:  intFromEnv("MIN_CANDLES", 20),

		RetryBackoff: durationFromEnv("RETRY_BACKOFF", "10s"),
		CycleSleep:   durationFromEnv("CYCLE_SLEEP", "5s"),
		SettleGrace:  durationFromEnv("SETTLE_GRACE", "5s"),

		RSIPeriod:     intFromEnv("RSI_PERIOD", 14),
		RSIOverbought: floatFromEnv("RSI_OVERBOUGHT", 70),
		RSIOversold:   floatFromEnv("RSI_OVERSOLD", 30),

		DefaultAmount:  floatFromEnv("DEFAULT_AMOUNT", 5),
		DefaultPercent: floatFromEnv("DEFAULT_PERCENT", 1.0),
		DefaultAssets:  []string{"AUDUSD", "BTCUSD", "ETHUSD", "EURUSD", "GBPUSD", "USDJPY"},

		StakeMin:          floatFromEnv("STAKE_MIN", 1.0),
		MartingaleFactor:  floatFromEnv("MARTINGALE_FACTOR", 2.0),
		MartingaleMaxStep: intFromEnv("MARTINGALE_MAX_STEP", 10),
	}
	err = decoder.Decode(&config)
	if err != nil {
		log.Fatalf("Failed to decode config file: %v", err)
	}

	token := os.Getenv(tokenTelegramENV)
	if token != "" {
		config.Telegram.Token = token
	}

	dsn := os.Getenv(databaseDSN)
	if dsn != "" {
		config.DB = dsn
	}

	if config.Service.HealthAddr == "" {
		config.Service.HealthAddr = ":8080"
	}

	return &config, nil
}

// Interval — длительность одной свечи.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

// Location — таймзона торговли; кривое значение в конфиге = UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationFromEnv(key, def string) time.Duration {
	val := getenvDefault(key, def)
	d, err := time.ParseDuration(val)
	if err != nil {
		d, _ = time.ParseDuration(def)
	}
	return d
}
