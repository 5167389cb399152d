package tlsconfig

import (
	"testing"

	"github.com/ankaios/ankaios/internal/common/config"
)

func TestInsecureSkipsTLS(t *testing.T) {
	cfg := config.TLSConfig{Insecure: true}

	srv, err := Server(cfg)
	if err != nil || srv != nil {
		t.Fatalf("Server() = %v, %v; want nil, nil", srv, err)
	}

	cli, err := Client(cfg)
	if err != nil || cli != nil {
		t.Fatalf("Client() = %v, %v; want nil, nil", cli, err)
	}
}

func TestServerMissingCAFileErrors(t *testing.T) {
	cfg := config.TLSConfig{CAFile: "/does/not/exist.pem", CertFile: "/does/not/exist.crt", KeyFile: "/does/not/exist.key"}
	if _, err := Server(cfg); err == nil {
		t.Fatal("expected error for missing CA file")
	}
}

func TestClientMissingCAFileErrors(t *testing.T) {
	cfg := config.TLSConfig{CAFile: "/does/not/exist.pem", CertFile: "/does/not/exist.crt", KeyFile: "/does/not/exist.key"}
	if _, err := Client(cfg); err == nil {
		t.Fatal("expected error for missing CA file")
	}
}
