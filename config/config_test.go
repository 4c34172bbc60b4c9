package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
app:
  key: abc123
  cluster: eu
connection:
  use_tls: false
  handshake_timeout: 3s
  backoff:
    initial: 500ms
    max: 10s
logging:
  level: debug
  format: json
  outputs: [stdout, /tmp/pusher.log]
metrics:
  enabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.App.Key != "abc123" || cfg.App.Cluster != "eu" {
		t.Errorf("App = %+v", cfg.App)
	}
	if cfg.Connection.UseTLS {
		t.Error("UseTLS = true, want false")
	}
	if cfg.Connection.HandshakeTimeout != 3*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 3s", cfg.Connection.HandshakeTimeout)
	}
	if cfg.Connection.Backoff.Initial != 500*time.Millisecond || cfg.Connection.Backoff.Max != 10*time.Second {
		t.Errorf("Backoff = %+v", cfg.Connection.Backoff)
	}
	if cfg.Connection.Protocol != ProtocolVersion {
		t.Errorf("Protocol = %d, want %d", cfg.Connection.Protocol, ProtocolVersion)
	}
	if want := []string{"stdout", "/tmp/pusher.log"}; !reflect.DeepEqual(cfg.Logging.Outputs, want) {
		t.Errorf("Outputs = %v, want %v", cfg.Logging.Outputs, want)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Namespace != "pusher" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "app:\n  key: from-file\n")
	t.Setenv("PUSHER_APP_KEY", "from-env")
	t.Setenv("PUSHER_APP_CLUSTER", "ap1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.App.Key != "from-env" {
		t.Errorf("App.Key = %q, want %q", cfg.App.Key, "from-env")
	}
	if cfg.App.Cluster != "ap1" {
		t.Errorf("App.Cluster = %q, want %q", cfg.App.Cluster, "ap1")
	}
}

func TestLoadFlagOverride(t *testing.T) {
	path := writeConfig(t, "app:\n  cluster: eu\n")
	t.Setenv("PUSHER_APP_CLUSTER", "ap1")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("key", "", "")
	flags.String("cluster", "", "")
	if err := flags.Parse([]string{"--key", "from-flag", "--cluster", "us2"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	cfg, err := Load(path,
		BindFlag("app.key", flags.Lookup("key")),
		BindFlag("app.cluster", flags.Lookup("cluster")),
		BindFlag("app.host", flags.Lookup("missing")),
	)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.App.Key != "from-flag" || cfg.App.Cluster != "us2" {
		t.Errorf("App = %+v, want flag values", cfg.App)
	}
}

func TestLoadMissingKey(t *testing.T) {
	path := writeConfig(t, "app:\n  cluster: eu\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() error = nil, want missing key error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() error = nil, want error for missing explicit file")
	}
}

func TestURL(t *testing.T) {
	var cfg Config
	cfg.App.Key = "key"
	cfg.App.Cluster = "eu"

	tests := []struct {
		name   string
		host   string
		secure bool
		want   string
	}{
		{"secure_cluster", "", true, "wss://ws-eu.pusher.com:443/app/key?client=pusher-go&protocol=7&version=" + ClientVersion},
		{"plain_cluster", "", false, "ws://ws-eu.pusher.com:80/app/key?client=pusher-go&protocol=7&version=" + ClientVersion},
		{"custom_host_port", "localhost:6001", false, "ws://localhost:6001/app/key?client=pusher-go&protocol=7&version=" + ClientVersion},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := cfg
			c.App.Host = tc.host
			if got := c.URL(tc.secure); got != tc.want {
				t.Errorf("URL() = %s, want %s", got, tc.want)
			}
		})
	}
}
