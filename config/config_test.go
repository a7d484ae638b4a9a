package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func noEnv(string) (string, bool) { return "", false }

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.ClientAddr() != "localhost:8765" {
		t.Fatalf("unexpected default addr %s", cfg.ClientAddr())
	}
	if cfg.Client.ClientID != "1234" {
		t.Fatalf("unexpected default client id %q", cfg.Client.ClientID)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "framechan.toml", `
[channel]
codec = "binary"
read_timeout = "2s"

[client]
host = "10.0.0.5"
port = 9000
client_id = "abc"
balancer = "consistent_hash"
retries = 3
retry_backoff = "250ms"

[server]
listen = "0.0.0.0:9000"
rate_limit = 100.0
rate_burst = 20

[registry]
endpoints = ["127.0.0.1:2379", "127.0.0.1:22379"]
ttl = 15

[log]
level = "debug"
json = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Channel.Codec != "binary" || cfg.Channel.ReadTimeout != 2*time.Second {
		t.Fatalf("channel section not loaded: %+v", cfg.Channel)
	}
	if cfg.ClientAddr() != "10.0.0.5:9000" || cfg.Client.ClientID != "abc" {
		t.Fatalf("client section not loaded: %+v", cfg.Client)
	}
	if cfg.Client.Retries != 3 || cfg.Client.RetryBackoff != 250*time.Millisecond {
		t.Fatalf("retry settings not loaded: %+v", cfg.Client)
	}
	if cfg.Server.RateLimit != 100 || cfg.Server.RateBurst != 20 {
		t.Fatalf("server section not loaded: %+v", cfg.Server)
	}
	if len(cfg.Registry.Endpoints) != 2 || cfg.Registry.TTL != 15 {
		t.Fatalf("registry section not loaded: %+v", cfg.Registry)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.JSON {
		t.Fatalf("log section not loaded: %+v", cfg.Log)
	}
	// Keys absent from the file keep their defaults
	if cfg.Client.Service != "framechan" || cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Fatalf("defaults lost: %+v %+v", cfg.Client, cfg.Server)
	}
}

func TestLoadINI(t *testing.T) {
	path := writeFile(t, "framechan.ini", `
[client]
host = example.org
port = 7000
dial_timeout = 1s

[server]
listen = :7000
handler_timeout = 3s

[registry]
endpoints = 127.0.0.1:2379, 127.0.0.1:22379
`)

	cfg := Default()
	if err := loadFile(path, &cfg); err != nil {
		t.Fatal(err)
	}
	if err := ApplyEnv(&cfg, noEnv); err != nil {
		t.Fatal(err)
	}

	if cfg.ClientAddr() != "example.org:7000" || cfg.Client.DialTimeout != time.Second {
		t.Fatalf("client section not loaded: %+v", cfg.Client)
	}
	if cfg.Server.Listen != ":7000" || cfg.Server.HandlerTimeout != 3*time.Second {
		t.Fatalf("server section not loaded: %+v", cfg.Server)
	}
	if len(cfg.Registry.Endpoints) != 2 || strings.TrimSpace(cfg.Registry.Endpoints[1]) != "127.0.0.1:22379" {
		t.Fatalf("endpoints not split: %q", cfg.Registry.Endpoints)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := writeFile(t, "framechan.yaml", "client: {}")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unsupported extension") {
		t.Fatalf("expect unsupported extension error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expect error for missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvHost:          "envhost",
		EnvPort:          "8800",
		EnvClientID:      "",
		EnvListen:        ":8800",
		EnvCodec:         "binary",
		EnvEtcdEndpoints: "a:2379, b:2379,",
		EnvLogLevel:      "warn",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := ApplyEnv(&cfg, lookup); err != nil {
		t.Fatal(err)
	}

	if cfg.ClientAddr() != "envhost:8800" {
		t.Fatalf("host/port not applied: %s", cfg.ClientAddr())
	}
	if cfg.Client.ClientID != "" {
		t.Fatalf("explicitly empty client id should clear it, got %q", cfg.Client.ClientID)
	}
	if cfg.Server.Listen != ":8800" || cfg.Channel.Codec != "binary" || cfg.Log.Level != "warn" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.Registry.Endpoints) != 2 || cfg.Registry.Endpoints[0] != "a:2379" || cfg.Registry.Endpoints[1] != "b:2379" {
		t.Fatalf("endpoints not split: %q", cfg.Registry.Endpoints)
	}
}

func TestApplyEnvBadPort(t *testing.T) {
	cfg := Default()
	lookup := func(k string) (string, bool) {
		if k == EnvPort {
			return "eighty", true
		}
		return "", false
	}
	if err := ApplyEnv(&cfg, lookup); err == nil {
		t.Fatal("expect parse error for non-numeric port")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "framechan.toml", "[client]\nhost = \"filehost\"\nport = 9100\n")
	t.Setenv(EnvHost, "envhost")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ClientAddr() != "envhost:9100" {
		t.Fatalf("expect env host with file port, got %s", cfg.ClientAddr())
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Channel.Codec = "xml"
	cfg.Client.Port = 70000
	cfg.Client.Host = " "
	cfg.Client.Retries = -1
	cfg.Client.Balancer = "random"
	cfg.Server.Listen = "nope"
	cfg.Registry.Endpoints = []string{"127.0.0.1:2379"}
	cfg.Registry.TTL = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expect validation errors")
	}
	for _, want := range []string{"client.port", "client.host", "client.retries", "server.listen", "registry.ttl"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expect %q in %v", want, err)
		}
	}
}
