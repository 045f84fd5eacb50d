package pool

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

// Config holds the immutable settings for one connection pool. Build a new
// Config and a new Pool if settings need to change; a constructed Pool never
// re-reads its Config.
type Config struct {
	Host     string
	Port     uint16
	Database string
	User     string
	Password string

	MinConns int32
	MaxConns int32

	// IdleTimeout is how long a connection may sit idle before the pool
	// closes it. ConnectTimeout bounds both dialing a new connection and
	// waiting for a free slot when the pool is at MaxConns.
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration

	// StatementTimeout is applied as a session-level setting on every new
	// connection. QueryTimeout bounds individual calls client-side.
	StatementTimeout time.Duration
	QueryTimeout     time.Duration

	SSL            bool
	KeepAlive      bool
	KeepAliveDelay time.Duration
}

// Validate checks the invariants every Config must hold before a Pool is
// constructed from it.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("pool config: host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("pool config: database is required")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("pool config: max connections must be positive, got %d", c.MaxConns)
	}
	if c.MinConns < 0 || c.MinConns > c.MaxConns {
		return fmt.Errorf("pool config: min connections %d must be between 0 and max %d", c.MinConns, c.MaxConns)
	}
	for _, t := range []struct {
		name string
		d    time.Duration
	}{
		{"idle timeout", c.IdleTimeout},
		{"connect timeout", c.ConnectTimeout},
		{"statement timeout", c.StatementTimeout},
		{"query timeout", c.QueryTimeout},
	} {
		if t.d <= 0 {
			return fmt.Errorf("pool config: %s must be positive, got %s", t.name, t.d)
		}
	}
	return nil
}

// ConnString builds a postgres:// URL for pgx from the config.
func (c Config) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port))),
		Path:   "/" + c.Database,
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}
	q := url.Values{}
	if c.SSL {
		q.Set("sslmode", "require")
	} else {
		q.Set("sslmode", "disable")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Endpoint returns host:port for log messages, with no credentials.
func (c Config) Endpoint() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}
