package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Registry RegistryConfig
	Services ServicesConfig
	Redis    RedisConfig
	SQLite   SQLiteConfig
	Worker   WorkerConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

// RegistryConfig controls outbound HTTP against the substance registry.
type RegistryConfig struct {
	TimeoutSec      int
	MaxConnsPerHost int
	MaxRetries      int
}

// ServicesConfig names the external compute endpoints and the base under
// which locally minted feature URIs live.
type ServicesConfig struct {
	ImageBasePath      string
	AlgorithmsBasePath string
	ServerBasePath     string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type SQLiteConfig struct {
	Path string
}

type WorkerConfig struct {
	SubstanceParallelism int
	TaskDeadlineMin      int
	PollIntervalMS       int
	QueueDelayMS         int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/conjoiner")

	viper.SetEnvPrefix("CONJOINER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("registry.timeoutSec", 60)
	viper.SetDefault("registry.maxConnsPerHost", 16)
	viper.SetDefault("registry.maxRetries", 3)

	viper.SetDefault("services.imageBasePath", "http://localhost:8090/")
	viper.SetDefault("services.algorithmsBasePath", "http://localhost:8091/algorithm/")
	viper.SetDefault("services.serverBasePath", "http://localhost:8080/")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("sqlite.path", "./data/conjoiner.db")

	viper.SetDefault("worker.substanceParallelism", 8)
	viper.SetDefault("worker.taskDeadlineMin", 30)
	viper.SetDefault("worker.pollIntervalMS", 250)
	viper.SetDefault("worker.queueDelayMS", 1000)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
