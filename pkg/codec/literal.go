package codec

import (
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/shopspring/decimal"
)

// Literal renders an encoded value as T-SQL literal text for batches that
// cannot use bound parameters.
func Literal(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if x {
			return "1"
		}
		return "0"
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "NULL"
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case decimal.Decimal:
		return x.String()
	case string:
		return QuoteN(x)
	case []byte:
		return HexLiteral(x)
	case mssql.UniqueIdentifier:
		return "'" + uuid.UUID(x).String() + "'"
	case civil.Date:
		return "'" + x.String() + "'"
	case civil.Time:
		return "'" + formatCivilTime(x) + "'"
	case civil.DateTime:
		return "'" + formatCivilDateTime(x) + "'"
	case time.Time:
		return "'" + x.Format("2006-01-02 15:04:05.9999999 -07:00") + "'"
	}
	return "NULL"
}

// QuoteN renders s as a Unicode string literal.
func QuoteN(s string) string {
	return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// HexLiteral renders b as 0x followed by upper-case hex digits.
func HexLiteral(b []byte) string {
	return "0x" + strings.ToUpper(hex.EncodeToString(b))
}

// BracketEscape quotes an identifier: surrounding brackets are stripped, the
// name is re-wrapped, and embedded ']' is doubled.
func BracketEscape(name string) string {
	clean := strings.TrimRight(strings.TrimLeft(name, "["), "]")
	return "[" + strings.ReplaceAll(clean, "]", "]]") + "]"
}
