// Package command defines the JSON command document submitted against a
// connection handle.
package command

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	bridgeerrors "github.com/ha1tch/sqlbridge/pkg/errors"
)

// Kind selects how the SQL text is interpreted.
type Kind string

const (
	KindQuery           Kind = "query"
	KindExecute         Kind = "execute"
	KindStoredProcedure Kind = "stored_procedure"
)

// Param is one named parameter. Value holds the decoded JSON value with
// numbers kept as json.Number.
type Param struct {
	Name   string      `json:"name"`
	Value  interface{} `json:"value"`
	Type   string      `json:"type,omitempty"`
	Output bool        `json:"output"`
}

// Command is a parsed command document.
type Command struct {
	SQL              string  `json:"sql"`
	Params           []Param `json:"params"`
	Kind             Kind    `json:"command_type"`
	TransactionID    *string `json:"transaction_id,omitempty"`
	CommandTimeoutMS *uint64 `json:"command_timeout_ms,omitempty"`

	// Accepted for compatibility with older hosts; ignored.
	StreamMode *string `json:"stream_mode,omitempty"`
	FetchSize  *uint32 `json:"fetch_size,omitempty"`
}

// Parse decodes a command document. Any malformation is a Query error.
func Parse(data []byte) (*Command, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, malformed(err)
	}
	for _, field := range []string{"sql", "command_type"} {
		if _, ok := raw[field]; !ok {
			return nil, bridgeerrors.Newf(bridgeerrors.ErrCodeQueryMalformed, "missing field `%s`", field).Err()
		}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var cmd Command
	if err := dec.Decode(&cmd); err != nil {
		return nil, malformed(err)
	}
	for i, p := range cmd.Params {
		if CleanName(p.Name) == "" {
			return nil, bridgeerrors.Newf(bridgeerrors.ErrCodeQueryMalformed, "parameter %d has no name", i).Err()
		}
	}
	return &cmd, nil
}

func malformed(err error) error {
	return bridgeerrors.Wrap(err, bridgeerrors.ErrCodeQueryMalformed, "Invalid command JSON").Err()
}

// CleanName strips leading '@' characters.
func CleanName(name string) string {
	return strings.TrimLeft(name, "@")
}

// MatchKey is the case-folded name used to match references in SQL text.
func MatchKey(name string) string {
	return strings.ToLower(CleanName(name))
}

// IsProcedure reports whether SQL is a procedure name to EXEC.
func (c *Command) IsProcedure() bool {
	return c.Kind == KindStoredProcedure
}

// HasOutputs reports whether any parameter is flagged as output.
func (c *Command) HasOutputs() bool {
	for _, p := range c.Params {
		if p.Output {
			return true
		}
	}
	return false
}

// Timeout returns the command's own timeout, or fallback when unset.
func (c *Command) Timeout(fallback time.Duration) time.Duration {
	if c.CommandTimeoutMS != nil && *c.CommandTimeoutMS > 0 {
		return time.Duration(*c.CommandTimeoutMS) * time.Millisecond
	}
	return fallback
}

// Hint returns the lower-cased type hint.
func (p Param) Hint() string {
	return strings.ToLower(strings.TrimSpace(p.Type))
}
