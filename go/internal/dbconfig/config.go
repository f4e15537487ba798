// Package dbconfig resolves the Postgres settings shared by the postgres
// room backend and the seed tool.
package dbconfig

import (
	"net"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Lookup order for every setting; SPOKER_DB_HOST wins over DB_HOST.
var envPrefixes = []string{"SPOKER_DB_", "DB_"}

// Config holds Postgres connection settings.
type Config struct {
	// URL, when set, is used verbatim and the fields below are ignored.
	URL string

	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// ApplicationName shows up in pg_stat_activity, so sessions from the
	// server and the seed tool can be told apart.
	ApplicationName string
	ConnectTimeout  time.Duration
}

// NewConfigFromEnv reads SPOKER_DB_* (then DB_*) variables for the named
// component. SPOKER_DATABASE_URL overrides everything.
func NewConfigFromEnv(component string) Config {
	port, err := strconv.Atoi(lookup("PORT", "5432"))
	if err != nil || port <= 0 {
		port = 5432
	}
	timeout, err := time.ParseDuration(lookup("CONNECT_TIMEOUT", "5s"))
	if err != nil {
		timeout = 5 * time.Second
	}

	return Config{
		URL:             os.Getenv("SPOKER_DATABASE_URL"),
		Host:            lookup("HOST", "localhost"),
		Port:            port,
		User:            lookup("USER", "spoker"),
		Password:        lookup("PASSWORD", "spoker"),
		Database:        lookup("NAME", "spoker"),
		SSLMode:         lookup("SSLMODE", "disable"),
		ApplicationName: component,
		ConnectTimeout:  timeout,
	}
}

// DSN returns the connection URL understood by both lib/pq and pgx.
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}

	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	if c.ApplicationName != "" {
		q.Set("application_name", c.ApplicationName)
	}
	if c.ConnectTimeout > 0 {
		// connect_timeout is whole seconds; round up so 500ms does not become 0 (wait forever).
		secs := int((c.ConnectTimeout + time.Second - 1) / time.Second)
		q.Set("connect_timeout", strconv.Itoa(secs))
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func lookup(key, fallback string) string {
	for _, prefix := range envPrefixes {
		if v := os.Getenv(prefix + key); v != "" {
			return v
		}
	}
	return fallback
}
