package config

import "testing"

func validConfig() Config {
	return Config{
		Store: StoreConfig{InternalDir: "/tmp/internal", ExternalDir: "/tmp/external"},
		HTTP:  HTTPConfig{IP: "127.0.0.1", Port: "8080"},
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsMissingStoreDirs(t *testing.T) {
	cfg := validConfig()
	cfg.Store.InternalDir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a missing internal_dir")
	}

	cfg = validConfig()
	cfg.Store.ExternalDir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a missing external_dir")
	}
}

func TestValidateRejectsIncompleteHTTP(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a missing http.port")
	}
}

func TestHTTPConfigListenAddress(t *testing.T) {
	h := HTTPConfig{IP: "0.0.0.0", Port: "9000"}
	if got, want := h.ListenAddress(), "0.0.0.0:9000"; got != want {
		t.Fatalf("ListenAddress() = %q, want %q", got, want)
	}
}
