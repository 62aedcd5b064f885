package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"regwatch/internal/logging"
	"regwatch/internal/regkey"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:7341" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.Log.Level != logging.LevelInfo {
		t.Fatalf("unexpected level %q", cfg.Log.Level)
	}
	if cfg.Watch.WaitTimeout != time.Second || cfg.Watch.RetryDelay != 100*time.Millisecond || cfg.Watch.JoinTimeout != time.Second {
		t.Fatalf("unexpected watch timings %+v", cfg.Watch)
	}
	if cfg.Watch.ReportFailures || len(cfg.Watch.Keys) != 0 {
		t.Fatalf("unexpected watch defaults %+v", cfg.Watch)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr == "" {
		t.Fatal("expected default addr")
	}
}

func TestLoadTOMLFile(t *testing.T) {
	path := writeConfig(t, "regwatch.toml", `[watch]
keys = ['HKCU\Software\TestApp', 'HKEY_LOCAL_MACHINE\Software\Policies', 'hkcu/Software/TestApp']
report_failures = true
wait-timeout-ms = 250
`)
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []regkey.Target{
		{Hive: regkey.CurrentUser, Path: `Software\TestApp`},
		{Hive: regkey.LocalMachine, Path: `Software\Policies`},
	}
	if len(cfg.Watch.Keys) != len(want) {
		t.Fatalf("expected duplicate keys collapsed, got %v", cfg.Watch.Keys)
	}
	for i := range want {
		if cfg.Watch.Keys[i] != want[i] {
			t.Fatalf("key %d: expected %s, got %s", i, want[i], cfg.Watch.Keys[i])
		}
	}
	if !cfg.Watch.ReportFailures || cfg.Watch.WaitTimeout != 250*time.Millisecond {
		t.Fatalf("unexpected watch config %+v", cfg.Watch)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeConfig(t, "regwatch.yaml", `server:
  addr: ":9000"
  auth_token: secret
log:
  level: debug
events:
  rate-per-second: 2.5
`)
	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9000" || cfg.Server.AuthToken != "secret" {
		t.Fatalf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Log.Level != logging.LevelDebug {
		t.Fatalf("unexpected level %q", cfg.Log.Level)
	}
	if cfg.Events.RatePerSecond != 2.5 || cfg.Events.Burst != 100 {
		t.Fatalf("unexpected events config %+v", cfg.Events)
	}
}

func TestLoadOverridesWin(t *testing.T) {
	path := writeConfig(t, "regwatch.toml", "[server]\naddr = \":8000\"\n")
	cfg, err := Load(path, map[string]any{"server.addr": ":8001", "Watch.Report_Failures": "true"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8001" {
		t.Fatalf("expected override to win, got %q", cfg.Server.Addr)
	}
	if !cfg.Watch.ReportFailures {
		t.Fatal("expected string bool override to apply")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, "regwatch.toml", `[log]
level = "loud"
[watch]
keys = ['HKCC\Software']
retry-delay-ms = 0
`)
	_, err := Load(path, nil)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	for _, fragment := range []string{"log.level", "watch.keys", "watch.retry-delay-ms"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Fatalf("expected %q in %v", fragment, err)
		}
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := writeConfig(t, "regwatch.json", "{}")
	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		EnvAddr:     " :7000 ",
		EnvToken:    "token",
		EnvLogLevel: "warn",
		EnvKeys:     `HKCU\Software\A; HKLM\Software\B;`,
	}
	overrides := EnvOverridesFrom(func(key string) string { return env[key] })

	cfg, err := Load("", overrides)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7000" || cfg.Server.AuthToken != "token" || cfg.Log.Level != logging.LevelWarning {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.Watch.Keys) != 2 || cfg.Watch.Keys[1].Hive != regkey.LocalMachine {
		t.Fatalf("unexpected keys %v", cfg.Watch.Keys)
	}
}

func TestMergeAppliesLayersInOrder(t *testing.T) {
	merged := Merge(map[string]any{"a": 1, "b": 1}, map[string]any{"b": 2}, map[string]any{"b": 3, "c": 3})
	if merged["a"] != 1 || merged["b"] != 3 || merged["c"] != 3 {
		t.Fatalf("unexpected merge %v", merged)
	}
}
