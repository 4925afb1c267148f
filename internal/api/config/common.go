package config

// Config 配置主体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Client    ClientConfig    `mapstructure:"client"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Log       LogConfig       `mapstructure:"log"`
	Logstash  LogstashConfig  `mapstructure:"logstash"`
}

// ServerConfig 本地视图网关配置
type ServerConfig struct {
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// BackendConfig 后端服务地址
type BackendConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
	WsURL   string `mapstructure:"ws_url" validate:"required,url"`
	Timeout int    `mapstructure:"timeout" validate:"min=1"` // 秒
}

// ClientConfig 客户端身份配置
type ClientConfig struct {
	Audience  string `mapstructure:"audience" validate:"oneof=student professor"`
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"token_file"`
}

// ReconnectConfig 推送通道重连策略，单位毫秒
type ReconnectConfig struct {
	InitialInterval int     `mapstructure:"initial_interval" validate:"min=1"`
	MaxInterval     int     `mapstructure:"max_interval" validate:"gtefield=InitialInterval"`
	Multiplier      float64 `mapstructure:"multiplier" validate:"gte=1"`
	OpenTimeout     int     `mapstructure:"open_timeout" validate:"min=1"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

type LogstashConfig struct {
	Address string `mapstructure:"address"`
	Index   string `mapstructure:"index"`
	Token   string `mapstructure:"token"`
}
