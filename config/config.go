package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Quest    QuestConfig    `mapstructure:"quest"`
	Security SecurityConfig `mapstructure:"security"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Debug    bool   `mapstructure:"debug"`
	AdminKey string `mapstructure:"admin_key"`
	// AdminIPs restricts the admin routes to these client addresses.
	// Empty allows any address holding the admin key.
	AdminIPs []string `mapstructure:"admin_ips"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // memory | sqlite | mysql | postgres
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
	PostgresDSN  string        `mapstructure:"postgres_dsn"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

// QuestConfig tunes the lifecycle engine.
type QuestConfig struct {
	// CacheTTL is the idle eviction window shared by the quest catalog,
	// the progress cache and the assignment registry.
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	StoreScanInterval time.Duration `mapstructure:"store_scan_interval"`
	StoreWorkers      int           `mapstructure:"store_workers"`
	MaxNameLength     int           `mapstructure:"max_name_length"`
	RewardReceiptTTL  time.Duration `mapstructure:"reward_receipt_ttl"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTL         time.Duration `mapstructure:"jwt_ttl"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// DefaultQuestConfig returns the quest settings used when no file overrides them.
func DefaultQuestConfig() QuestConfig {
	return QuestConfig{
		CacheTTL:          15 * time.Minute,
		SweepInterval:     time.Second,
		StoreScanInterval: time.Minute,
		StoreWorkers:      8,
		MaxNameLength:     40,
		RewardReceiptTTL:  24 * time.Hour,
	}
}

func setDefaults(v *viper.Viper) {
	q := DefaultQuestConfig()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/quests.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("quest.cache_ttl", q.CacheTTL)
	v.SetDefault("quest.sweep_interval", q.SweepInterval)
	v.SetDefault("quest.store_scan_interval", q.StoreScanInterval)
	v.SetDefault("quest.store_workers", q.StoreWorkers)
	v.SetDefault("quest.max_name_length", q.MaxNameLength)
	v.SetDefault("quest.reward_receipt_ttl", q.RewardReceiptTTL)
	v.SetDefault("security.jwt_ttl", "24h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
}

// Load reads config from the given YAML file path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
