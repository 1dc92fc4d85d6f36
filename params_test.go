package mssqlmcp

import (
	"net/url"
	"strings"
	"testing"
)

func TestConnectionParamsValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*ConnectionParams)
		wantErr string
	}{
		{"valid minimal", func(p *ConnectionParams) {}, ""},
		{"valid full", func(p *ConnectionParams) {
			p.Port = ptr(1500)
			p.Database = ptr("sales")
			p.Encrypt = ptr(false)
			p.TrustServerCertificate = ptr(true)
		}, ""},
		{"empty server", func(p *ConnectionParams) { p.Server = "" }, "server must be non-empty"},
		{"blank server", func(p *ConnectionParams) { p.Server = "   " }, "server must be non-empty"},
		{"empty user", func(p *ConnectionParams) { p.User = "" }, "user must be non-empty"},
		{"empty password", func(p *ConnectionParams) { p.Password = "" }, "password must be non-empty"},
		{"port zero", func(p *ConnectionParams) { p.Port = ptr(0) }, "port must be between 1 and 65535, got 0"},
		{"port too large", func(p *ConnectionParams) { p.Port = ptr(70000) }, "port must be between 1 and 65535, got 70000"},
		{"port lower bound", func(p *ConnectionParams) { p.Port = ptr(1) }, ""},
		{"port upper bound", func(p *ConnectionParams) { p.Port = ptr(65535) }, ""},
		{"empty database", func(p *ConnectionParams) { p.Database = ptr("") }, "database must be non-empty when given"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := validParams()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
			if KindOf(err) != KindValidation {
				t.Fatalf("expected validation kind, got %s", KindOf(err))
			}
		})
	}
}

func TestConnectionParamsEffective_Defaults(t *testing.T) {
	t.Parallel()
	cfg := ConnectionParams{Server: " db1 ", User: "u", Password: "p"}.Effective()
	want := EffectiveConfig{
		Server:   "db1",
		Port:     1433,
		User:     "u",
		Password: "p",
		Database: "master",
		Encrypt:  true,
	}
	if cfg != want {
		t.Fatalf("expected %+v, got %+v", want, cfg)
	}
}

func TestConnectionParamsEffective_ExplicitValues(t *testing.T) {
	t.Parallel()
	p := validParams()
	p.Port = ptr(1500)
	p.Database = ptr("sales")
	p.Encrypt = ptr(false)
	cfg := p.Effective()
	if cfg.Port != 1500 || cfg.Database != "sales" || cfg.Encrypt {
		t.Fatalf("explicit values not applied: %+v", cfg)
	}
	// encrypt=false never implies trusting the certificate
	if cfg.TrustServerCertificate {
		t.Fatal("expected trust_server_certificate to stay false")
	}
}

func TestConnString_HostAndPort(t *testing.T) {
	t.Parallel()
	p := validParams()
	p.Password = "p@ss:w/rd"
	u, err := url.Parse(p.Effective().connString("gomssqlmcp", 15))
	if err != nil {
		t.Fatalf("connection string does not parse: %v", err)
	}
	if u.Scheme != "sqlserver" {
		t.Fatalf("expected sqlserver scheme, got %q", u.Scheme)
	}
	if u.Host != "db1:1433" {
		t.Fatalf("expected host db1:1433, got %q", u.Host)
	}
	if u.User.Username() != "u" {
		t.Fatalf("expected user u, got %q", u.User.Username())
	}
	if pw, _ := u.User.Password(); pw != "p@ss:w/rd" {
		t.Fatalf("password did not round-trip, got %q", pw)
	}
	q := u.Query()
	if q.Get("database") != "master" {
		t.Fatalf("expected database master, got %q", q.Get("database"))
	}
	if q.Get("encrypt") != "true" {
		t.Fatalf("expected encrypt=true, got %q", q.Get("encrypt"))
	}
	if q.Has("TrustServerCertificate") {
		t.Fatal("expected no TrustServerCertificate by default")
	}
	if q.Get("app name") != "gomssqlmcp" {
		t.Fatalf("expected app name gomssqlmcp, got %q", q.Get("app name"))
	}
	if q.Get("connection timeout") != "15" {
		t.Fatalf("expected connection timeout 15, got %q", q.Get("connection timeout"))
	}
}

func TestConnString_NamedInstanceOmitsPort(t *testing.T) {
	t.Parallel()
	p := validParams()
	p.Server = `db1\SQLEXPRESS`
	p.Port = ptr(1500)
	u, err := url.Parse(p.Effective().connString("", 0))
	if err != nil {
		t.Fatalf("connection string does not parse: %v", err)
	}
	if u.Host != "db1" {
		t.Fatalf("expected host db1 without port, got %q", u.Host)
	}
	if u.Path != "/SQLEXPRESS" {
		t.Fatalf("expected instance path /SQLEXPRESS, got %q", u.Path)
	}
	q := u.Query()
	if q.Has("app name") || q.Has("connection timeout") {
		t.Fatalf("expected no app name or timeout, got %v", q)
	}
}

func TestConnString_EncryptAndTrust(t *testing.T) {
	t.Parallel()
	p := validParams()
	p.Encrypt = ptr(false)
	p.TrustServerCertificate = ptr(true)
	u, err := url.Parse(p.Effective().connString("app", 5))
	if err != nil {
		t.Fatalf("connection string does not parse: %v", err)
	}
	q := u.Query()
	if q.Get("encrypt") != "false" {
		t.Fatalf("expected encrypt=false, got %q", q.Get("encrypt"))
	}
	if q.Get("TrustServerCertificate") != "true" {
		t.Fatalf("expected TrustServerCertificate=true, got %q", q.Get("TrustServerCertificate"))
	}
}

func TestEffectiveConfigRedacted(t *testing.T) {
	t.Parallel()
	cfg := validParams().Effective()
	redacted := cfg.redacted()
	if redacted.Password != "" {
		t.Fatal("expected password removed")
	}
	if cfg.Password != "p" {
		t.Fatal("redacted must not modify the original")
	}
	if redacted.Server != "db1" || redacted.User != "u" {
		t.Fatalf("expected other fields kept, got %+v", redacted)
	}
}
