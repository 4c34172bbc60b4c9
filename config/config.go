package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	ClientName      = "pusher-go"
	ClientVersion   = "0.3.0"
	ProtocolVersion = 7
)

// Config mirrors the YAML configuration file.
type Config struct {
	App struct {
		Key     string `mapstructure:"key"`
		Cluster string `mapstructure:"cluster"`
		Host    string `mapstructure:"host"`
	} `mapstructure:"app"`

	Connection struct {
		UseTLS           bool          `mapstructure:"use_tls"`
		Protocol         int           `mapstructure:"protocol"`
		HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
		Backoff          struct {
			Initial time.Duration `mapstructure:"initial"`
			Max     time.Duration `mapstructure:"max"`
		} `mapstructure:"backoff"`
	} `mapstructure:"connection"`

	Logging struct {
		Level   string   `mapstructure:"level"`
		Format  string   `mapstructure:"format"`
		Outputs []string `mapstructure:"outputs"`
	} `mapstructure:"logging"`

	Metrics struct {
		Enabled   bool   `mapstructure:"enabled"`
		Namespace string `mapstructure:"namespace"`
		Addr      string `mapstructure:"addr"`
	} `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.key", "")
	v.SetDefault("app.cluster", "mt1")
	v.SetDefault("app.host", "")
	v.SetDefault("connection.use_tls", true)
	v.SetDefault("connection.protocol", ProtocolVersion)
	v.SetDefault("connection.handshake_timeout", "10s")
	v.SetDefault("connection.backoff.initial", "1s")
	v.SetDefault("connection.backoff.max", "30s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputs", []string{"stdout"})
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.namespace", "pusher")
	v.SetDefault("metrics.addr", ":9090")
}

// LoadOption adjusts the viper instance before the config is read.
type LoadOption func(v *viper.Viper) error

// BindFlag lets a command line flag override key when the flag is set.
func BindFlag(key string, flag *pflag.Flag) LoadOption {
	return func(v *viper.Viper) error {
		if flag == nil {
			return nil
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag.Name, err)
		}
		return nil
	}
}

// Load reads configPath, or searches the default locations when it is
// empty. A missing file is only an error when configPath is given.
// Flags bound with BindFlag take precedence over PUSHER_* environment
// variables, which override file values.
func Load(configPath string, opts ...LoadOption) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix("PUSHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/pusher")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.App.Key == "" {
		return errors.New("app.key is required")
	}
	if c.App.Cluster == "" && c.App.Host == "" {
		return errors.New("app.cluster or app.host is required")
	}
	return nil
}

// URL builds the WebSocket endpoint for the app. secure selects wss on
// port 443 instead of ws on port 80; a host with an explicit port keeps it.
func (c Config) URL(secure bool) string {
	host := c.App.Host
	if host == "" {
		host = fmt.Sprintf("ws-%s.pusher.com", c.App.Cluster)
	}

	scheme, port := "ws", "80"
	if secure {
		scheme, port = "wss", "443"
	}
	if !strings.Contains(host, ":") {
		host = host + ":" + port
	}

	protocol := c.Connection.Protocol
	if protocol == 0 {
		protocol = ProtocolVersion
	}

	query := url.Values{}
	query.Set("protocol", fmt.Sprint(protocol))
	query.Set("client", ClientName)
	query.Set("version", ClientVersion)

	u := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     "/app/" + c.App.Key,
		RawQuery: query.Encode(),
	}
	return u.String()
}
