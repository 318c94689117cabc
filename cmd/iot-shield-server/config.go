package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EternisAI/iot-shield/internal/advisory"
	"github.com/EternisAI/iot-shield/internal/api/http"
	"github.com/EternisAI/iot-shield/internal/auth"
	"github.com/EternisAI/iot-shield/internal/db"
	"github.com/EternisAI/iot-shield/internal/deploy"
	"github.com/EternisAI/iot-shield/internal/firmware"
	"github.com/EternisAI/iot-shield/internal/fleet"
	grpctls "github.com/EternisAI/iot-shield/internal/grpc/tls"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Log      LogConfig
	Http     http.Config
	Grpc     GrpcConfig
	Auth     auth.Config
	DB       db.Config `mapstructure:"db"`
	Nats     NatsConfig
	Deploy   deploy.Config
	Firmware firmware.Config
	Advisory advisory.Config
}

type GrpcConfig struct {
	Enabled bool           `mapstructure:"enabled"`
	Port    int            `mapstructure:"port"`
	TLS     grpctls.Config `mapstructure:"tls"`
}

type NatsConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

var config Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", LOG_LEVEL_INFO)
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.cors_origins", []string{"*"})
	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.port", 9090)
	v.SetDefault("grpc.tls.client_auth", "none")
	v.SetDefault("auth.token_ttl", 12*time.Hour)
	v.SetDefault("db.schema", "iot_shield")
	v.SetDefault("nats.subject_prefix", "iotshield")
	v.SetDefault("deploy.delay", deploy.DefaultDelay)
	v.SetDefault("deploy.fail_offline", false)
	v.SetDefault("firmware.delay", firmware.DefaultDelay)
	v.SetDefault("firmware.algorithm", string(fleet.SignatureRSA4096))
	v.SetDefault("firmware.key_path", "")
	v.SetDefault("advisory.base_url", advisory.DefaultBaseURL)
	v.SetDefault("advisory.model", advisory.DefaultModel)
	v.SetDefault("advisory.timeout", advisory.DefaultTimeout)
}

// loadConfig layers defaults, application.yml, environment and flags.
func loadConfig(v *viper.Viper, args []string) (Config, error) {
	flags := pflag.NewFlagSet("iot-shield-server", pflag.ContinueOnError)
	configFile := flags.String("config", "", "path to application.yml")
	flags.Uint("http-port", 8080, "HTTP listen port")
	flags.String("log-level", LOG_LEVEL_INFO, "log level (ERROR, WARNING, INFO, DEBUG)")
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	setDefaults(v)

	if *configFile != "" {
		v.SetConfigFile(*configFile)
	} else {
		v.SetConfigName("application")
		v.AddConfigPath(".")
		v.AddConfigPath("./cmd/iot-shield-server")
		v.SetConfigType("yaml")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("advisory.api_key", "API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("db.url", "DATABASE_URL")
	_ = v.BindEnv("nats.url", "NATS_URL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if f := flags.Lookup("http-port"); f.Changed {
		_ = v.BindPFlag("http.port", f)
	}
	if f := flags.Lookup("log-level"); f.Changed {
		_ = v.BindPFlag("log.level", f)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return Config{}, errors.New("auth.jwt_secret (JWT_SECRET) is required")
	}
	return cfg, nil
}

// redacted returns a copy safe to print.
func (c Config) redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "******"
	}
	c.Auth.JWTSecret = mask(c.Auth.JWTSecret)
	c.Advisory.APIKey = mask(c.Advisory.APIKey)
	c.DB.Url = mask(c.DB.Url)
	return c
}

func InitConfig(args []string) {
	_ = godotenv.Load()

	cfg, err := loadConfig(viper.New(), args)
	if err != nil {
		panic(err)
	}
	config = cfg

	initLogger(config.Log.Level)

	// Pretty print config as JSON (only at DEBUG level)
	if strings.ToUpper(config.Log.Level) == LOG_LEVEL_DEBUG {
		configJSON, err := json.MarshalIndent(config.redacted(), "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}
