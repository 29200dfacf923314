package webmention_test

import (
	"testing"

	webmention "github.com/cvanloo/gowebmention"
)

func TestConfigDurationHelpers(t *testing.T) {
	cfg := webmention.Config{HTTPTimeoutSecs: 5, ShutdownSecs: 30}
	if got := cfg.HTTPTimeout().Seconds(); got != 5 {
		t.Errorf("got %v, want 5s", got)
	}
	if got := cfg.ShutdownTimeout().Seconds(); got != 30 {
		t.Errorf("got %v, want 30s", got)
	}
}

func TestLoadConfigAppliesDefaultsAndEnv(t *testing.T) {
	t.Setenv("BASE_URL", "https://example.com")
	t.Setenv("LISTEN_ADDR", ":9090")

	cfg, err := webmention.LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.BaseURL != "https://example.com" {
		t.Errorf("got BaseURL %q", cfg.BaseURL)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("got ListenAddr %q, want override from env", cfg.ListenAddr)
	}
	if cfg.EndpointPath != "/api/webmention" {
		t.Errorf("got EndpointPath %q, want default", cfg.EndpointPath)
	}
	if cfg.HTTPTimeoutSecs != 10 {
		t.Errorf("got HTTPTimeoutSecs %d, want default 10", cfg.HTTPTimeoutSecs)
	}
}

func TestLoadConfigMissingRequiredFieldErrors(t *testing.T) {
	t.Setenv("BASE_URL", "")
	if _, err := webmention.LoadConfig(""); err == nil {
		t.Fatal("expected an error when BASE_URL is unset")
	}
}
