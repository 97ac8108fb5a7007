package codec

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bridgeerrors "github.com/ha1tch/sqlbridge/pkg/errors"
)

func TestEncodeNumbers(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		hint  string
		want  interface{}
	}{
		{"small int defaults to int32", json.Number("42"), "", int32(42)},
		{"int32 boundary", json.Number("2147483647"), "", int32(math.MaxInt32)},
		{"beyond int32 widens", json.Number("2147483648"), "", int64(2147483648)},
		{"negative beyond int32", json.Number("-2147483649"), "", int64(-2147483649)},
		{"tinyint", json.Number("255"), "tinyint", uint8(255)},
		{"smallint", json.Number("-300"), "SMALLINT", int16(-300)},
		{"int", json.Number("7"), "int", int32(7)},
		{"bigint keeps width", json.Number("7"), "bigint", int64(7)},
		{"float hint on integer", json.Number("3"), "float", float64(3)},
		{"real hint on integer", json.Number("3"), "real", float64(3)},
		{"fraction", json.Number("1.5"), "", 1.5},
		{"exponent", json.Number("1e3"), "", 1000.0},
		{"fraction with int hint stays float", json.Number("2.5"), "int", 2.5},
		{"decimal hint", json.Number("12.345"), "decimal", decimal.RequireFromString("12.345")},
		{"beyond int64 binds as double", json.Number("9223372036854775808"), "", 9223372036854775808.0},
		{"uint64 max binds as double", json.Number("18446744073709551615"), "", 1.8446744073709552e19},
		{"beyond int64 with float hint", json.Number("-9223372036854775809"), "float", -9223372036854775809.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.value, tt.hint)
			require.NoError(t, err)
			if d, ok := tt.want.(decimal.Decimal); ok {
				assert.True(t, d.Equal(got.(decimal.Decimal)))
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeNumberErrors(t *testing.T) {
	tests := []struct {
		value json.Number
		hint  string
		want  string
	}{
		{"18446744073709551615", "bigint", "Value 18446744073709551615 out of range for bigint"},
		{"-9223372036854775809", "int", "Value -9223372036854775809 out of range for int"},
		{"1e400", "", "Unsupported number: 1e400"},
		{"256", "tinyint", "Value 256 out of range for tinyint"},
		{"-1", "tinyint", "Value -1 out of range for tinyint"},
		{"40000", "smallint", "Value 40000 out of range for smallint"},
		{"3000000000", "int", "Value 3000000000 out of range for int"},
	}
	for _, tt := range tests {
		_, err := Encode(tt.value, tt.hint)
		require.Error(t, err, "value %s", tt.value)
		assert.True(t, bridgeerrors.IsCode(err, bridgeerrors.ErrCodeTypeConversion))
		assert.Equal(t, "Query error: "+tt.want, err.Error())
	}
}

func TestEncodeStrings(t *testing.T) {
	id := uuid.MustParse("6f9619ff-8b86-d011-b42d-00c04fc964ff")

	tests := []struct {
		name  string
		value string
		hint  string
		want  interface{}
	}{
		{"plain", "hello", "", "hello"},
		{"unknown hint passes through", "hello", "nvarchar", "hello"},
		{"uuid", "6F9619FF-8B86-D011-B42D-00C04FC964FF", "uniqueidentifier", mssql.UniqueIdentifier(id)},
		{"braced uuid", "{6f9619ff-8b86-d011-b42d-00c04fc964ff}", "uniqueidentifier", mssql.UniqueIdentifier(id)},
		{"date", "2024-02-29", "date", civil.Date{Year: 2024, Month: time.February, Day: 29}},
		{"time", "13:45:10.25", "time", civil.Time{Hour: 13, Minute: 45, Second: 10, Nanosecond: 250000000}},
		{"time without seconds", "08:30", "time", civil.Time{Hour: 8, Minute: 30}},
		{"datetime iso fraction", "2024-01-02T03:04:05.5", "datetime", civil.DateTime{
			Date: civil.Date{Year: 2024, Month: 1, Day: 2}, Time: civil.Time{Hour: 3, Minute: 4, Second: 5, Nanosecond: 500000000}}},
		{"datetime iso", "2024-01-02T03:04:05", "datetime2", civil.DateTime{
			Date: civil.Date{Year: 2024, Month: 1, Day: 2}, Time: civil.Time{Hour: 3, Minute: 4, Second: 5}}},
		{"datetime space", "2024-01-02 03:04:05", "datetime", civil.DateTime{
			Date: civil.Date{Year: 2024, Month: 1, Day: 2}, Time: civil.Time{Hour: 3, Minute: 4, Second: 5}}},
		{"datetime rfc3339 normalised to utc", "2024-01-02T03:04:05+02:00", "datetime", civil.DateTime{
			Date: civil.Date{Year: 2024, Month: 1, Day: 2}, Time: civil.Time{Hour: 1, Minute: 4, Second: 5}}},
		{"base64", "AQID/w==", "varbinary", []byte{1, 2, 3, 255}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.value, tt.hint)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	dto, err := Encode("2024-01-02T03:04:05.123+05:30", "datetimeoffset")
	require.NoError(t, err)
	ts := dto.(time.Time)
	_, offset := ts.Zone()
	assert.Equal(t, 5*3600+30*60, offset)
	assert.Equal(t, 123000000, ts.Nanosecond())
}

func TestEncodeStringErrors(t *testing.T) {
	tests := []struct {
		value string
		hint  string
		want  string
	}{
		{"not-a-uuid", "uniqueidentifier", "Invalid UUID"},
		{"2024-13-01", "date", "Invalid date: 2024-13-01"},
		{"25:00:00", "time", "Invalid time: 25:00:00"},
		{"yesterday", "datetime", "Invalid datetime: yesterday"},
		{"2024-01-02", "datetimeoffset", "Invalid datetimeoffset: 2024-01-02"},
		{"%%%", "varbinary", "Invalid base64"},
	}
	for _, tt := range tests {
		_, err := Encode(tt.value, tt.hint)
		require.Error(t, err, tt.value)
		assert.True(t, bridgeerrors.IsCode(err, bridgeerrors.ErrCodeTypeConversion))
		assert.Contains(t, err.Error(), tt.want)
	}
}

func TestEncodeStructured(t *testing.T) {
	got, err := Encode(nil, "int")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = Encode(true, "bit")
	require.NoError(t, err)
	assert.Equal(t, true, got)

	got, err = Encode([]interface{}{json.Number("1"), "a", nil}, "")
	require.NoError(t, err)
	assert.Equal(t, `[1,"a",null]`, got)

	got, err = Encode(map[string]interface{}{"b": json.Number("2"), "a": true}, "json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":true,"b":2}`, got)
}

func TestDecode(t *testing.T) {
	guid := []byte{0xFF, 0x19, 0x96, 0x6F, 0x86, 0x8B, 0x11, 0xD0, 0xB4, 0x2D, 0x00, 0xC0, 0x4F, 0xC9, 0x64, 0xFF}
	ts := time.Date(2024, 1, 2, 3, 4, 5, 120000000, time.FixedZone("", 2*3600))

	tests := []struct {
		name   string
		value  interface{}
		dbType string
		want   interface{}
	}{
		{"null", nil, "INT", nil},
		{"bool", true, "BIT", true},
		{"int", int64(42), "INT", int64(42)},
		{"safe upper bound", int64(1 << 53), "BIGINT", int64(1 << 53)},
		{"safe lower bound", int64(-(1 << 53)), "BIGINT", int64(-(1 << 53))},
		{"beyond safe", int64(1<<53 + 1), "BIGINT", "9007199254740993"},
		{"below safe", int64(-(1<<53 + 1)), "BIGINT", "-9007199254740993"},
		{"float", 1.25, "FLOAT", 1.25},
		{"nan", math.NaN(), "FLOAT", nil},
		{"string", "x", "NVARCHAR", "x"},
		{"decimal bytes", []byte("123.4500"), "DECIMAL", "123.45"},
		{"money bytes", []byte("10.0000"), "money", "10"},
		{"guid bytes", guid, "UNIQUEIDENTIFIER", "6f9619ff-8b86-d011-b42d-00c04fc964ff"},
		{"binary", []byte{1, 2, 3}, "VARBINARY", "AQID"},
		{"text bytes", []byte("hi"), "VARCHAR", "hi"},
		{"date", ts, "DATE", "2024-01-02"},
		{"time", ts, "TIME", "03:04:05.12"},
		{"datetime2", ts, "DATETIME2", "2024-01-02 03:04:05.12"},
		{"datetimeoffset", ts, "DATETIMEOFFSET", "2024-01-02T03:04:05.12+02:00"},
		{"unknown", struct{ A int }{1}, "UDT", "{1}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decode(tt.value, tt.dbType))
		})
	}
}

func TestEncodeDecodeUUIDRoundTrip(t *testing.T) {
	enc, err := Encode("6f9619ff-8b86-d011-b42d-00c04fc964ff", "uniqueidentifier")
	require.NoError(t, err)
	wire, err := enc.(mssql.UniqueIdentifier).Value()
	require.NoError(t, err)
	assert.Equal(t, "6f9619ff-8b86-d011-b42d-00c04fc964ff", Decode(wire, "UNIQUEIDENTIFIER"))
}

func TestLiteral(t *testing.T) {
	id := uuid.MustParse("6f9619ff-8b86-d011-b42d-00c04fc964ff")
	tests := []struct {
		value interface{}
		want  string
	}{
		{nil, "NULL"},
		{true, "1"},
		{false, "0"},
		{uint8(7), "7"},
		{int16(-7), "-7"},
		{int32(123), "123"},
		{int64(-9007199254740993), "-9007199254740993"},
		{1.5, "1.5"},
		{1e21, "1000000000000000000000"},
		{math.Inf(1), "NULL"},
		{math.NaN(), "NULL"},
		{decimal.RequireFromString("3.14"), "3.14"},
		{"it's", "N'it''s'"},
		{[]byte{0x0a, 0xff}, "0x0AFF"},
		{[]byte{}, "0x"},
		{mssql.UniqueIdentifier(id), "'6f9619ff-8b86-d011-b42d-00c04fc964ff'"},
		{civil.Date{Year: 2024, Month: 3, Day: 1}, "'2024-03-01'"},
		{civil.Time{Hour: 9, Minute: 5, Second: 0, Nanosecond: 100000000}, "'09:05:00.1'"},
		{civil.DateTime{Date: civil.Date{Year: 2024, Month: 3, Day: 1}, Time: civil.Time{Hour: 9}}, "'2024-03-01 09:00:00'"},
		{time.Date(2024, 3, 1, 9, 0, 0, 0, time.FixedZone("", -5*3600)), "'2024-03-01 09:00:00 -05:00'"},
		{struct{}{}, "NULL"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Literal(tt.value), "%#v", tt.value)
	}
}

func TestBracketEscape(t *testing.T) {
	assert.Equal(t, "[TableName]", BracketEscape("TableName"))
	assert.Equal(t, "[Already]", BracketEscape("[Already]"))
	assert.Equal(t, "[has]]bracket]", BracketEscape("has]bracket"))
	assert.Equal(t, "[x]", BracketEscape("[[x]]"))
}

func TestDeclareType(t *testing.T) {
	tests := map[string]string{
		"int":              "INT",
		"BIGINT":           "BIGINT",
		"decimal":          "DECIMAL(38, 18)",
		"numeric":          "DECIMAL(38, 18)",
		"money":            "MONEY",
		"SmallMoney":       "SMALLMONEY",
		"binary":           "VARBINARY(MAX)",
		"image":            "VARBINARY(MAX)",
		"smalldatetime":    "SMALLDATETIME",
		"nvarchar":         "NVARCHAR(MAX)",
		"char":             "CHAR(1)",
		"uniqueidentifier": "UNIQUEIDENTIFIER",
		"json":             "NVARCHAR(MAX)",
		"varbinary":        "VARBINARY(MAX)",
	}
	for hint, want := range tests {
		got, err := DeclareType(hint)
		require.NoError(t, err, "hint %s", hint)
		assert.Equal(t, want, got)
	}

	_, err := DeclareType("BadType")
	require.Error(t, err)
	assert.Equal(t, "Query error: Unknown SQL type: badtype", err.Error())
}

func TestRowMarshalKeepsColumnOrder(t *testing.T) {
	cols := []Column{{"z", "INT"}, {"a", "NVARCHAR"}, {"m", "BIGINT"}, {"a", "NVARCHAR"}}
	row := DecodeRow(cols, []interface{}{int64(1), "first", int64(1 << 60), "second"})

	data, err := json.Marshal(row)
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":"second","m":"1152921504606846976"}`, string(data))

	assert.True(t, row.Has("z", "m"))
	assert.False(t, row.Has("z", "q"))

	empty, err := json.Marshal(Row(nil))
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(empty))
}
