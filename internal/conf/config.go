package conf

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/micro-chain/netdisk/internal/pkg/database"
	"github.com/micro-chain/netdisk/internal/pkg/logger"
	"github.com/micro-chain/netdisk/internal/pkg/minio"
	"github.com/micro-chain/netdisk/internal/pkg/redis"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    database.Config   `mapstructure:"database"`
	Redis       redis.Config      `mapstructure:"redis"`
	MinIO       minio.Config      `mapstructure:"minio"`
	Log         logger.Config     `mapstructure:"log"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Upload      UploadConfig      `mapstructure:"upload"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
}

type UploadConfig struct {
	SessionTTL          time.Duration `mapstructure:"session_ttl"`
	MaxChunkSize        int64         `mapstructure:"max_chunk_size"`
	MaxAssembleAttempts int           `mapstructure:"max_assemble_attempts"`
	AssemblyWorkers     int           `mapstructure:"assembly_workers"`
}

type IdempotencyConfig struct {
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

func LoadConfig(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
