package mssqlmcp

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPort     = 1433
	DefaultDatabase = "master"
)

// ConnectionParams is the input to Connect. Optional fields are pointers so
// that "omitted" and "explicitly set" can be told apart; Effective applies
// the defaults.
type ConnectionParams struct {
	Server   string  `json:"server"`
	Port     *int    `json:"port,omitempty"`
	User     string  `json:"user"`
	Password string  `json:"password"`
	Database *string `json:"database,omitempty"`
	Encrypt  *bool   `json:"encrypt,omitempty"`

	// TrustServerCertificate skips server certificate verification. It is
	// never implied by Encrypt=false.
	TrustServerCertificate *bool `json:"trust_server_certificate,omitempty"`
}

// EffectiveConfig is ConnectionParams with every default applied.
type EffectiveConfig struct {
	Server                 string `json:"server"`
	Port                   int    `json:"port"`
	User                   string `json:"user"`
	Password               string `json:"-"`
	Database               string `json:"database"`
	Encrypt                bool   `json:"encrypt"`
	TrustServerCertificate bool   `json:"trust_server_certificate"`
}

// Validate checks required fields and ranges. It performs no I/O.
func (p ConnectionParams) Validate() error {
	if strings.TrimSpace(p.Server) == "" {
		return validationError("connect", "server must be non-empty")
	}
	if p.User == "" {
		return validationError("connect", "user must be non-empty")
	}
	if p.Password == "" {
		return validationError("connect", "password must be non-empty")
	}
	if p.Port != nil && (*p.Port < 1 || *p.Port > 65535) {
		return validationError("connect", "port must be between 1 and 65535, got %d", *p.Port)
	}
	if p.Database != nil && strings.TrimSpace(*p.Database) == "" {
		return validationError("connect", "database must be non-empty when given")
	}
	return nil
}

// Effective applies defaults: port 1433, database "master", encrypt true,
// trust_server_certificate false.
func (p ConnectionParams) Effective() EffectiveConfig {
	cfg := EffectiveConfig{
		Server:   strings.TrimSpace(p.Server),
		Port:     DefaultPort,
		User:     p.User,
		Password: p.Password,
		Database: DefaultDatabase,
		Encrypt:  true,
	}
	if p.Port != nil {
		cfg.Port = *p.Port
	}
	if p.Database != nil {
		cfg.Database = *p.Database
	}
	if p.Encrypt != nil {
		cfg.Encrypt = *p.Encrypt
	}
	if p.TrustServerCertificate != nil {
		cfg.TrustServerCertificate = *p.TrustServerCertificate
	}
	return cfg
}

// connString builds a sqlserver:// URL for go-mssqldb.
//
// A server of the form host\instance is resolved through the SQL Browser;
// the port is only used for plain hosts.
func (c EffectiveConfig) connString(appName string, connectTimeoutSeconds int) string {
	host, instance, _ := strings.Cut(c.Server, `\`)

	u := &url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(c.User, c.Password),
		Host:   host,
	}
	if instance == "" {
		u.Host = net.JoinHostPort(host, strconv.Itoa(c.Port))
	} else {
		u.Path = "/" + instance
	}

	q := url.Values{}
	q.Set("database", c.Database)
	q.Set("encrypt", strconv.FormatBool(c.Encrypt))
	if c.TrustServerCertificate {
		q.Set("TrustServerCertificate", "true")
	}
	if appName != "" {
		q.Set("app name", appName)
	}
	if connectTimeoutSeconds > 0 {
		q.Set("connection timeout", strconv.Itoa(connectTimeoutSeconds))
		q.Set("dial timeout", strconv.Itoa(connectTimeoutSeconds))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// redacted returns a copy safe for logs and diagnostics.
func (c EffectiveConfig) redacted() EffectiveConfig {
	c.Password = ""
	return c
}
