package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type StoreConfig struct {
	Backend     string
	Path        string
	DatabaseURL string
	Table       string
}

type MarketConfig struct {
	TickEvery  time.Duration
	Volatility string
}

type GameConfig struct {
	PasswordScheme string
	StartingCash   float64
}

type APIConfig struct {
	Addr          string
	Store         StoreConfig
	Market        MarketConfig
	Game          GameConfig
	JWTSecret     string
	JWTTTL        time.Duration
	AdminPassword string
	AllowedOrigin string
}

type WorkerConfig struct {
	Store  StoreConfig
	Market MarketConfig
	Game   GameConfig
}

type CLIConfig struct {
	Store         StoreConfig
	Market        MarketConfig
	Game          GameConfig
	APIBaseURL    string
	AdminPassword string
	LoginDelay    time.Duration
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("YIN_API_ADDR", ":8080")
	}

	store, err := loadStore(StorePostgres)
	if err != nil {
		return APIConfig{}, err
	}
	cfg := APIConfig{
		Addr:          addr,
		Store:         store,
		Market:        loadMarket(),
		Game:          loadGame(),
		JWTSecret:     strings.TrimSpace(os.Getenv("YIN_JWT_SECRET")),
		JWTTTL:        envDurationDefault("YIN_JWT_TTL", 24*time.Hour),
		AdminPassword: os.Getenv("YIN_ADMIN_PASSWORD"),
		AllowedOrigin: envDefault("YIN_ALLOWED_ORIGIN", "*"),
	}
	if cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("YIN_JWT_SECRET is required")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	store, err := loadStore(StorePostgres)
	if err != nil {
		return WorkerConfig{}, err
	}
	if store.Backend == StoreMemory {
		return WorkerConfig{}, fmt.Errorf("YIN_STORE=memory is not shared with anything; use file or postgres")
	}
	return WorkerConfig{Store: store, Market: loadMarket(), Game: loadGame()}, nil
}

func LoadCLIFromEnv() (CLIConfig, error) {
	store, err := loadStore(StoreFile)
	if err != nil {
		return CLIConfig{}, err
	}
	return CLIConfig{
		Store:         store,
		Market:        loadMarket(),
		Game:          loadGame(),
		APIBaseURL:    strings.TrimRight(envDefault("YIN_API_BASE_URL", "http://localhost:8080"), "/"),
		AdminPassword: os.Getenv("YIN_ADMIN_PASSWORD"),
		LoginDelay:    envDurationDefault("YIN_LOGIN_DELAY", 500*time.Millisecond),
	}, nil
}

func loadStore(fallback string) (StoreConfig, error) {
	cfg := StoreConfig{
		Backend:     strings.ToLower(envDefault("YIN_STORE", fallback)),
		Path:        strings.TrimSpace(os.Getenv("YIN_STORE_PATH")),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		Table:       envDefault("YIN_STORE_TABLE", "yin_trade_kv"),
	}
	switch cfg.Backend {
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required when YIN_STORE=postgres")
		}
	case StoreFile, StoreMemory:
	default:
		return cfg, fmt.Errorf("unknown YIN_STORE %q (want file, postgres or memory)", cfg.Backend)
	}
	return cfg, nil
}

func loadMarket() MarketConfig {
	return MarketConfig{
		TickEvery:  envDurationDefault("YIN_MARKET_TICK_EVERY", 3*time.Second),
		Volatility: envVolatilityDefault(),
	}
}

func loadGame() GameConfig {
	return GameConfig{
		PasswordScheme: strings.ToLower(envDefault("YIN_PASSWORD_SCHEME", "base64")),
		StartingCash:   envFloatDefault("YIN_STARTING_CASH", 100_000),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envVolatilityDefault() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("VOLATILITY")))
	if v == "" {
		v = strings.ToLower(strings.TrimSpace(os.Getenv("YIN_MARKET_VOLATILITY")))
	}
	switch v {
	case "calm", "mor", "wild":
		return v
	default:
		return "mor"
	}
}
