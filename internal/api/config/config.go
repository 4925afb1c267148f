package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Cfg 全局可访问的配置实例
var Cfg *Config

// LoadConfig 从文件加载配置并填充到 Cfg
func LoadConfig() error {
	return LoadConfigFrom("./configs")
}

// LoadConfigFrom 从指定目录加载配置，文件缺失时使用默认值与环境变量
func LoadConfigFrom(path string) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(path)

	v.SetEnvPrefix("COURIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	Cfg = &cfg

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8088)
	v.SetDefault("backend.base_url", "http://localhost:8001")
	v.SetDefault("backend.ws_url", "ws://localhost:8001/ws")
	v.SetDefault("backend.timeout", 10)
	v.SetDefault("client.audience", "student")
	v.SetDefault("client.token", "")
	v.SetDefault("client.token_file", "./configs/.token")
	v.SetDefault("reconnect.initial_interval", 500)
	v.SetDefault("reconnect.max_interval", 30000)
	v.SetDefault("reconnect.multiplier", 2.0)
	v.SetDefault("reconnect.open_timeout", 5000)
	v.SetDefault("log.level", "info")
	v.SetDefault("logstash.address", "")
	v.SetDefault("logstash.index", "logstash-courier")
	v.SetDefault("logstash.token", "")
}
