package config

import (
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/golang-jwt/jwt/v5"

	bridgeerrors "github.com/ha1tch/sqlbridge/pkg/errors"
)

// AuthType discriminates the authentication variants.
type AuthType string

const (
	AuthSQL          AuthType = "sql"
	AuthNTLM         AuthType = "ntlm"
	AuthWindows      AuthType = "windows"
	AuthAzureAD      AuthType = "azure_ad"
	AuthAzureADToken AuthType = "azure_ad_token"
)

// Auth is the tagged authentication union. Which fields are meaningful
// depends on Type.
type Auth struct {
	Type     AuthType `json:"type"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
	Domain   string   `json:"domain,omitempty"`
	Token    string   `json:"token,omitempty"`

	present map[string]bool
}

// UnmarshalJSON records which fields were present so validate can reject
// variants with missing members.
func (a *Auth) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	type plain Auth
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = Auth(p)
	a.present = make(map[string]bool, len(raw))
	for k := range raw {
		a.present[k] = true
	}
	return nil
}

func (a *Auth) requires() []string {
	switch a.Type {
	case AuthSQL, AuthAzureAD:
		return []string{"username", "password"}
	case AuthNTLM:
		return []string{"username", "password", "domain"}
	case AuthAzureADToken:
		return []string{"token"}
	default:
		return nil
	}
}

func (a *Auth) validate() error {
	switch a.Type {
	case AuthSQL, AuthNTLM, AuthWindows, AuthAzureAD, AuthAzureADToken:
	case "":
		return bridgeerrors.New(bridgeerrors.ErrCodeConfigAuth, "missing field `type` in auth").Err()
	default:
		return bridgeerrors.Newf(bridgeerrors.ErrCodeConfigAuth, "unknown auth type `%s`", a.Type).Err()
	}
	for _, field := range a.requires() {
		// Documents built in Go rather than decoded have no presence map.
		if a.present != nil && !a.present[field] {
			return bridgeerrors.Newf(bridgeerrors.ErrCodeConfigAuth, "missing field `%s` for %s auth", field, a.Type).Err()
		}
	}
	return nil
}

// key is the auth component of the dedup key. Secrets are never part of it.
func (a *Auth) key() string {
	switch a.Type {
	case AuthSQL:
		return "sql|" + a.Username
	case AuthNTLM:
		return fmt.Sprintf("ntlm|%s|%s", a.Domain, a.Username)
	case AuthWindows:
		return "windows"
	case AuthAzureAD:
		return "azure_ad|" + a.Username
	case AuthAzureADToken:
		return "azure_ad_token"
	default:
		return string(a.Type)
	}
}

// login returns the user name and password to put in the connection URL.
// The second result is false when the URL carries no credentials.
func (a *Auth) login() (user, password string, ok bool, err error) {
	switch a.Type {
	case AuthSQL, AuthAzureAD:
		return a.Username, a.Password, true, nil
	case AuthNTLM:
		return a.Domain + `\` + a.Username, a.Password, true, nil
	case AuthWindows:
		if runtime.GOOS != "windows" {
			return "", "", false, bridgeerrors.New(bridgeerrors.ErrCodeConfigUnsupported,
				"Windows authentication is only available on Windows").Err()
		}
		return "", "", false, nil
	case AuthAzureADToken:
		return "", "", false, nil
	}
	return "", "", false, bridgeerrors.Newf(bridgeerrors.ErrCodeConfigAuth, "unknown auth type `%s`", a.Type).Err()
}

// checkToken rejects an access token that is a JWT whose exp claim has
// passed. Opaque tokens are passed through to the server.
func checkToken(token string, now time.Time) error {
	if token == "" {
		return bridgeerrors.New(bridgeerrors.ErrCodeConfigAuth, "access token is empty").Err()
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if !exp.Time.After(now) {
		return bridgeerrors.Newf(bridgeerrors.ErrCodeConfigAuth, "access token expired at %s",
			exp.Time.UTC().Format(time.RFC3339)).Err()
	}
	return nil
}
