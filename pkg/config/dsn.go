package config

import (
	"database/sql/driver"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"

	mssql "github.com/microsoft/go-mssqldb"

	bridgeerrors "github.com/ha1tch/sqlbridge/pkg/errors"
)

// DSN renders the go-mssqldb connection URL. Token authentication carries
// no credentials in the URL.
func (c *Config) DSN() (string, error) {
	user, password, withUser, err := c.Auth.login()
	if err != nil {
		return "", err
	}

	u := &url.URL{
		Scheme: "sqlserver",
		Host:   fmt.Sprintf("%s:%d", c.Server, c.Port),
	}
	if withUser {
		u.User = url.UserPassword(user, password)
	}
	if inst := c.Instance(); inst != "" {
		u.Path = "/" + inst
	}

	q := url.Values{}
	if c.Database != "" {
		q.Set("database", c.Database)
	}
	if c.Encrypt {
		q.Set("encrypt", "true")
	} else {
		q.Set("encrypt", "disable")
	}
	q.Set("trustservercertificate", strconv.FormatBool(c.TrustServerCertificate))
	if c.AppName != "" {
		q.Set("app name", c.AppName)
	}
	if c.PacketSize > 0 {
		q.Set("packet size", strconv.Itoa(int(c.PacketSize)))
	}
	secs := seconds(c.ConnectTimeout())
	q.Set("connection timeout", secs)
	q.Set("dial timeout", secs)

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connector builds the driver connector for this configuration.
func (c *Config) Connector() (driver.Connector, error) {
	dsn, err := c.DSN()
	if err != nil {
		return nil, err
	}

	if c.Auth.Type == AuthAzureADToken {
		if err := checkToken(c.Auth.Token, time.Now()); err != nil {
			return nil, err
		}
		token := c.Auth.Token
		conn, err := mssql.NewAccessTokenConnector(dsn, func() (string, error) { return token, nil })
		if err != nil {
			return nil, bridgeerrors.Wrap(err, bridgeerrors.ErrCodeConfigInvalid, "Invalid connection settings").Err()
		}
		return conn, nil
	}

	conn, err := mssql.NewConnector(dsn)
	if err != nil {
		return nil, bridgeerrors.Wrap(err, bridgeerrors.ErrCodeConfigInvalid, "Invalid connection settings").Err()
	}
	return conn, nil
}

// seconds rounds up so sub-second timeouts do not become "no timeout".
func seconds(d time.Duration) string {
	return strconv.Itoa(int(math.Ceil(d.Seconds())))
}
