package codec

import (
	"encoding/base64"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/shopspring/decimal"
)

// MaxSafeInteger bounds integers that survive a round trip through an IEEE
// double. Larger magnitudes decode to decimal strings.
const MaxSafeInteger = 1 << 53

// Column describes a result column as reported by the driver.
type Column struct {
	Name string
	// DatabaseType is the driver's upper-case type name, e.g. "DECIMAL".
	DatabaseType string
}

// Decode converts a scanned driver value into a JSON-ready value. The
// column type disambiguates byte slices and timestamps.
func Decode(v interface{}, dbType string) interface{} {
	dbType = strings.ToUpper(dbType)

	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		return x
	case int64:
		return safeInt(x)
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	case int8:
		return int64(x)
	case uint8:
		return int64(x)
	case int:
		return safeInt(int64(x))
	case uint64:
		if x > MaxSafeInteger {
			return fmt.Sprintf("%d", x)
		}
		return int64(x)
	case float64:
		return safeFloat(x)
	case float32:
		return safeFloat(float64(x))
	case string:
		return x
	case []byte:
		return decodeBytes(x, dbType)
	case time.Time:
		return decodeTime(x, dbType)
	case decimal.Decimal:
		return x.String()
	case mssql.UniqueIdentifier:
		return uuid.UUID(x).String()
	case uuid.UUID:
		return x.String()
	}
	return fmt.Sprintf("%v", v)
}

func safeInt(i int64) interface{} {
	if i > MaxSafeInteger || i < -MaxSafeInteger {
		return fmt.Sprintf("%d", i)
	}
	return i
}

func safeFloat(f float64) interface{} {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func decodeBytes(b []byte, dbType string) interface{} {
	switch dbType {
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		if d, err := decimal.NewFromString(string(b)); err == nil {
			return d.String()
		}
		return string(b)
	case "UNIQUEIDENTIFIER":
		var u mssql.UniqueIdentifier
		if err := u.Scan(b); err == nil {
			return uuid.UUID(u).String()
		}
	case "CHAR", "VARCHAR", "TEXT", "NCHAR", "NVARCHAR", "NTEXT", "XML", "SQL_VARIANT":
		return string(b)
	}
	return base64.StdEncoding.EncodeToString(b)
}

func decodeTime(t time.Time, dbType string) string {
	switch dbType {
	case "DATE":
		return t.Format("2006-01-02")
	case "TIME":
		return t.Format("15:04:05.9999999")
	case "DATETIME", "DATETIME2", "SMALLDATETIME":
		return t.Format("2006-01-02 15:04:05.9999999")
	}
	return t.Format(time.RFC3339Nano)
}

// DecodeRow decodes one scanned row into an ordered Row.
func DecodeRow(cols []Column, values []interface{}) Row {
	row := make(Row, 0, len(cols))
	for i, col := range cols {
		var v interface{}
		if i < len(values) {
			v = values[i]
		}
		row = row.Set(col.Name, Decode(v, col.DatabaseType))
	}
	return row
}
