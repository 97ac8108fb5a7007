// Package codec converts between JSON values and driver values in both
// directions, renders values as T-SQL literals, and maps type hints to
// declaration keywords.
//
// JSON values arrive as produced by encoding/json with UseNumber: nil, bool,
// json.Number, string, []interface{} and map[string]interface{}.
package codec

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/shopspring/decimal"

	bridgeerrors "github.com/ha1tch/sqlbridge/pkg/errors"
)

// Layouts accepted for datetime and datetime2 hints, tried in order before
// falling back to RFC 3339.
var datetimeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

var timeLayouts = []string{
	"15:04:05.999999999",
	"15:04",
}

// Encode converts a JSON value into the value bound for a parameter,
// honouring the optional type hint.
func Encode(value interface{}, hint string) (interface{}, error) {
	hint = strings.ToLower(strings.TrimSpace(hint))

	switch v := value.(type) {
	case nil:
		return nil, nil
	case bool:
		return v, nil
	case json.Number:
		return encodeNumber(v, hint)
	case float64:
		return encodeNumber(json.Number(strconv.FormatFloat(v, 'f', -1, 64)), hint)
	case int:
		return encodeNumber(json.Number(strconv.Itoa(v)), hint)
	case int64:
		return encodeNumber(json.Number(strconv.FormatInt(v, 10)), hint)
	case string:
		return encodeString(v, hint)
	case []interface{}, map[string]interface{}:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, bridgeerrors.Wrap(err, bridgeerrors.ErrCodeTypeConversion, "cannot serialise parameter").Err()
		}
		return string(data), nil
	default:
		return nil, bridgeerrors.Conversion("unsupported parameter value of type %T", value).Err()
	}
}

func isIntegral(n json.Number) bool {
	return !strings.ContainsAny(string(n), ".eE")
}

func isDecimalHint(hint string) bool {
	switch hint {
	case "decimal", "numeric", "money", "smallmoney":
		return true
	}
	return false
}

func encodeNumber(n json.Number, hint string) (interface{}, error) {
	if isDecimalHint(hint) {
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return nil, bridgeerrors.Conversion("Invalid decimal: %s", n).Err()
		}
		return d, nil
	}

	if !isIntegral(n) {
		f, err := strconv.ParseFloat(n.String(), 64)
		if err != nil || math.IsInf(f, 0) {
			return nil, bridgeerrors.Conversion("Unsupported number: %s", n).Err()
		}
		return f, nil
	}

	i, err := strconv.ParseInt(n.String(), 10, 64)
	if errors.Is(err, strconv.ErrRange) {
		return wideInteger(n, hint)
	}
	if err != nil {
		return nil, bridgeerrors.Conversion("Unsupported number: %s", n).Err()
	}

	switch hint {
	case "tinyint":
		if i < 0 || i > math.MaxUint8 {
			return nil, outOfRange(i, hint)
		}
		return uint8(i), nil
	case "smallint":
		if i < math.MinInt16 || i > math.MaxInt16 {
			return nil, outOfRange(i, hint)
		}
		return int16(i), nil
	case "int":
		if i < math.MinInt32 || i > math.MaxInt32 {
			return nil, outOfRange(i, hint)
		}
		return int32(i), nil
	case "bigint":
		return i, nil
	case "float", "real":
		return float64(i), nil
	}

	if i >= math.MinInt32 && i <= math.MaxInt32 {
		return int32(i), nil
	}
	return i, nil
}

// wideInteger handles an integral number beyond int64. Integer hints reject
// it; otherwise it binds as a double.
func wideInteger(n json.Number, hint string) (interface{}, error) {
	switch hint {
	case "tinyint", "smallint", "int", "bigint":
		return nil, bridgeerrors.Conversion("Value %s out of range for %s", n, hint).Err()
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil || math.IsInf(f, 0) {
		return nil, bridgeerrors.Conversion("Unsupported number: %s", n).Err()
	}
	return f, nil
}

func outOfRange(i int64, hint string) error {
	return bridgeerrors.Conversion("Value %d out of range for %s", i, hint).Err()
}

func encodeString(s, hint string) (interface{}, error) {
	switch hint {
	case "uniqueidentifier":
		u, err := ParseUUID(s)
		if err != nil {
			return nil, err
		}
		return mssql.UniqueIdentifier(u), nil
	case "date":
		d, err := civil.ParseDate(s)
		if err != nil {
			return nil, bridgeerrors.Conversion("Invalid date: %s", s).Err()
		}
		return d, nil
	case "time":
		t, err := ParseTime(s)
		if err != nil {
			return nil, err
		}
		return t, nil
	case "datetime", "datetime2", "smalldatetime":
		return ParseDateTime(s)
	case "datetimeoffset":
		return ParseDateTimeOffset(s)
	case "varbinary", "binary", "image":
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, bridgeerrors.Wrap(err, bridgeerrors.ErrCodeTypeConversion, "Invalid base64").Err()
		}
		return b, nil
	case "decimal", "numeric", "money", "smallmoney":
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, bridgeerrors.Conversion("Invalid decimal: %s", s).Err()
		}
		return d, nil
	}
	return s, nil
}

// ParseUUID accepts the hyphenated, braced, urn and 32-digit forms.
func ParseUUID(s string) (uuid.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, bridgeerrors.Wrap(err, bridgeerrors.ErrCodeTypeConversion, "Invalid UUID").Err()
	}
	return u, nil
}

// ParseTime parses hh:mm:ss[.fffffffff] or hh:mm.
func ParseTime(s string) (civil.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.TimeOf(t), nil
		}
	}
	return civil.Time{}, bridgeerrors.Conversion("Invalid time: %s", s).Err()
}

// ParseDateTime parses a zone-less timestamp. RFC 3339 input is accepted
// and converted to UTC with the offset dropped.
func ParseDateTime(s string) (civil.DateTime, error) {
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateTimeOf(t), nil
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return civil.DateTimeOf(t.UTC()), nil
	}
	return civil.DateTime{}, bridgeerrors.Conversion("Invalid datetime: %s", s).Err()
}

// ParseDateTimeOffset parses an RFC 3339 timestamp, also accepting a space
// in place of the 'T'.
func ParseDateTimeOffset(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, bridgeerrors.Conversion("Invalid datetimeoffset: %s", s).Err()
}

// DeclareType maps a type hint to the keyword used in a DECLARE statement.
func DeclareType(hint string) (string, error) {
	switch strings.ToLower(hint) {
	case "int":
		return "INT", nil
	case "bigint":
		return "BIGINT", nil
	case "smallint":
		return "SMALLINT", nil
	case "tinyint":
		return "TINYINT", nil
	case "float":
		return "FLOAT", nil
	case "real":
		return "REAL", nil
	case "decimal", "numeric":
		return "DECIMAL(38, 18)", nil
	case "money":
		return "MONEY", nil
	case "smallmoney":
		return "SMALLMONEY", nil
	case "bit":
		return "BIT", nil
	case "varchar":
		return "VARCHAR(MAX)", nil
	case "nvarchar":
		return "NVARCHAR(MAX)", nil
	case "text":
		return "TEXT", nil
	case "ntext":
		return "NTEXT", nil
	case "char":
		return "CHAR(1)", nil
	case "nchar":
		return "NCHAR(1)", nil
	case "date":
		return "DATE", nil
	case "datetime":
		return "DATETIME", nil
	case "datetime2":
		return "DATETIME2", nil
	case "smalldatetime":
		return "SMALLDATETIME", nil
	case "datetimeoffset":
		return "DATETIMEOFFSET", nil
	case "time":
		return "TIME", nil
	case "uniqueidentifier":
		return "UNIQUEIDENTIFIER", nil
	case "varbinary", "binary", "image":
		return "VARBINARY(MAX)", nil
	case "xml":
		return "XML", nil
	case "json":
		return "NVARCHAR(MAX)", nil
	}
	return "", bridgeerrors.Newf(bridgeerrors.ErrCodeUnknownType, "Unknown SQL type: %s", strings.ToLower(hint)).Err()
}

// InferDeclareType picks a declaration for an input value that has no hint.
func InferDeclareType(v interface{}) string {
	switch v.(type) {
	case bool:
		return "BIT"
	case uint8:
		return "TINYINT"
	case int16:
		return "SMALLINT"
	case int32:
		return "INT"
	case int64:
		return "BIGINT"
	case float64:
		return "FLOAT"
	case decimal.Decimal:
		return "DECIMAL(38, 18)"
	case []byte:
		return "VARBINARY(MAX)"
	case mssql.UniqueIdentifier:
		return "UNIQUEIDENTIFIER"
	case civil.Date:
		return "DATE"
	case civil.Time:
		return "TIME"
	case civil.DateTime:
		return "DATETIME2"
	case time.Time:
		return "DATETIMEOFFSET"
	default:
		return "NVARCHAR(MAX)"
	}
}

func formatClock(hour, minute, second, nanos int) string {
	return time.Date(0, 1, 1, hour, minute, second, nanos, time.UTC).Format("15:04:05.9999999")
}

func formatCivilTime(t civil.Time) string {
	return formatClock(t.Hour, t.Minute, t.Second, t.Nanosecond)
}

func formatCivilDateTime(dt civil.DateTime) string {
	return dt.Date.String() + " " + formatCivilTime(dt.Time)
}
