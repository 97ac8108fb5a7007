// Package config parses connection configuration documents and turns them
// into go-mssqldb connectors.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bridgeerrors "github.com/ha1tch/sqlbridge/pkg/errors"
)

// Defaults applied when the document omits a value.
const (
	DefaultPort           = 1433
	DefaultConnectTimeout = 15 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultPoolMin        = 1
	DefaultPoolMax        = 10
	DefaultPoolIdle       = 5 * time.Minute
)

// Config is a connection configuration document.
type Config struct {
	Server                 string      `json:"server"`
	Port                   int         `json:"port"`
	Database               string      `json:"database"`
	Auth                   *Auth       `json:"auth"`
	Encrypt                bool        `json:"encrypt"`
	TrustServerCertificate bool        `json:"trust_server_certificate"`
	ConnectTimeoutMS       uint64      `json:"connect_timeout_ms"`
	RequestTimeoutMS       uint64      `json:"request_timeout_ms"`
	AppName                string      `json:"app_name"`
	InstanceName           *string     `json:"instance_name"`
	PacketSize             uint16      `json:"packet_size"`
	Pool                   *PoolConfig `json:"pool"`
}

// PoolConfig holds pool tuning. Nil fields take the defaults.
type PoolConfig struct {
	Min           *int    `json:"min"`
	Max           *int    `json:"max"`
	IdleTimeoutMS *uint64 `json:"idle_timeout_ms"`
}

// PoolSettings are the resolved pool tuning values.
type PoolSettings struct {
	Min         int
	Max         int
	IdleTimeout time.Duration
}

// FromJSON parses and validates a configuration document.
func FromJSON(data []byte) (*Config, error) {
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&cfg); err != nil {
		return nil, bridgeerrors.Wrap(err, bridgeerrors.ErrCodeConfigParse, "Invalid config JSON").Err()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server) == "" {
		return bridgeerrors.Config("missing field `server`").Err()
	}
	if c.Auth == nil {
		return bridgeerrors.Config("missing field `auth`").Err()
	}
	if err := c.Auth.validate(); err != nil {
		return err
	}
	if c.Port < 0 || c.Port > 65535 {
		return bridgeerrors.Config("port out of range: %d", c.Port).Err()
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Pool != nil {
		s := c.PoolSettings()
		if s.Max < 1 {
			return bridgeerrors.Config("pool max must be at least 1, got %d", s.Max).Err()
		}
		if s.Min < 0 || s.Min > s.Max {
			return bridgeerrors.Config("pool min %d outside [0, %d]", s.Min, s.Max).Err()
		}
	}
	return nil
}

// Instance returns the instance name or "".
func (c *Config) Instance() string {
	if c.InstanceName == nil {
		return ""
	}
	return *c.InstanceName
}

// ConnectTimeout is the time allowed to establish a session.
func (c *Config) ConnectTimeout() time.Duration {
	if c.ConnectTimeoutMS == 0 {
		return DefaultConnectTimeout
	}
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

// RequestTimeout is the default per-command timeout.
func (c *Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutMS == 0 {
		return DefaultRequestTimeout
	}
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// PoolSettings resolves pool tuning against the defaults.
func (c *Config) PoolSettings() PoolSettings {
	s := PoolSettings{Min: DefaultPoolMin, Max: DefaultPoolMax, IdleTimeout: DefaultPoolIdle}
	if c.Pool == nil {
		return s
	}
	if c.Pool.Min != nil {
		s.Min = *c.Pool.Min
	}
	if c.Pool.Max != nil {
		s.Max = *c.Pool.Max
	}
	if c.Pool.IdleTimeoutMS != nil {
		s.IdleTimeout = time.Duration(*c.Pool.IdleTimeoutMS) * time.Millisecond
	}
	return s
}

// DedupKey is the canonical identity of the target session. Two configs with
// equal keys share one pool. Pool tuning and timeouts are not part of it.
func (c *Config) DedupKey() string {
	return fmt.Sprintf("%s|%d|%s|%s|%t|%t|%s|%s|%d",
		strings.ToLower(c.Server),
		c.Port,
		strings.ToLower(c.Database),
		c.Auth.key(),
		c.Encrypt,
		c.TrustServerCertificate,
		strings.ToLower(c.Instance()),
		c.AppName,
		c.PacketSize,
	)
}
