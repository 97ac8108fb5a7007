// Package errors provides structured error handling for sqlbridge.
//
// Every failure that crosses the bridge boundary is an *Error carrying a
// numeric code. The code's range selects the boundary category, and the
// category prefixes the rendered message:
//   - 1xxx: Config errors
//   - 2xxx: Connection errors
//   - 3xxx: Query errors
//   - 4xxx: Transaction errors
//   - 5xxx: Pool errors
//   - 6xxx: Cancellation
//   - 9xxx: Internal errors
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Code is a numeric error code for programmatic handling.
type Code int

// Error codes by category
const (
	// Configuration errors (1xxx)
	ErrCodeConfigInvalid     Code = 1001
	ErrCodeConfigParse       Code = 1002
	ErrCodeConfigAuth        Code = 1003
	ErrCodeConfigUnsupported Code = 1004

	// Connection errors (2xxx)
	ErrCodeConnectionFailed   Code = 2001
	ErrCodeConnectionClosed   Code = 2002
	ErrCodeConnectionNotFound Code = 2003
	ErrCodeConnectionBusy     Code = 2004

	// Query errors (3xxx)
	ErrCodeQueryFailed     Code = 3001
	ErrCodeQueryMalformed  Code = 3002
	ErrCodeQueryServer     Code = 3003
	ErrCodeTypeConversion  Code = 3004
	ErrCodeQueryTimeout    Code = 3005
	ErrCodeUnknownType     Code = 3006
	ErrCodeBulkBatch       Code = 3007
	ErrCodeCursorNotFound  Code = 3008
	ErrCodeStreamNotFound  Code = 3009

	// Transaction errors (4xxx)
	ErrCodeTxnFailed    Code = 4001
	ErrCodeTxnIsolation Code = 4002
	ErrCodeTxnActive    Code = 4003

	// Pool errors (5xxx)
	ErrCodePoolNotFound  Code = 5001
	ErrCodePoolExhausted Code = 5002
	ErrCodePoolClosed    Code = 5003
	ErrCodePoolCreate    Code = 5004

	// Cancellation (6xxx)
	ErrCodeCancelled Code = 6001

	// Internal errors (9xxx)
	ErrCodeInternal       Code = 9001
	ErrCodeNotImplemented Code = 9002
	ErrCodePanic          Code = 9003
)

// Category names returned by Code.Category.
const (
	CategoryConfig      = "config"
	CategoryConnection  = "connection"
	CategoryQuery       = "query"
	CategoryTransaction = "transaction"
	CategoryPool        = "pool"
	CategoryCancelled   = "cancelled"
	CategoryInternal    = "internal"
)

// String returns the error code as a string.
func (c Code) String() string {
	return fmt.Sprintf("E%04d", c)
}

// Category returns the category for this code.
func (c Code) Category() string {
	switch {
	case c >= 1000 && c < 2000:
		return CategoryConfig
	case c >= 2000 && c < 3000:
		return CategoryConnection
	case c >= 3000 && c < 4000:
		return CategoryQuery
	case c >= 4000 && c < 5000:
		return CategoryTransaction
	case c >= 5000 && c < 6000:
		return CategoryPool
	case c >= 6000 && c < 7000:
		return CategoryCancelled
	case c >= 9000:
		return CategoryInternal
	default:
		return "unknown"
	}
}

// prefix is the human label used when rendering an error of this code.
func (c Code) prefix() string {
	switch c.Category() {
	case CategoryConfig:
		return "Config error"
	case CategoryConnection:
		return "Connection error"
	case CategoryQuery:
		return "Query error"
	case CategoryTransaction:
		return "Transaction error"
	case CategoryPool:
		return "Pool error"
	default:
		return "Internal error"
	}
}

// Severity indicates error severity.
type Severity int

const (
	SeverityWarning  Severity = iota // Recoverable, operation may continue
	SeverityError                    // Operation failed, bridge is healthy
	SeverityCritical                 // Bridge state may be inconsistent
	SeverityFatal                    // Bridge cannot continue
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a structured error with code, context, and optional cause.
type Error struct {
	Code     Code
	Message  string
	Severity Severity

	Fields map[string]interface{}

	Cause error

	Stack  []Frame
	Time   time.Time
	OpName string // Operation that failed (e.g., "Bridge.Query", "Registry.CreatePool")
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error renders "<Category> error: message[: cause]". Cancellation renders
// as a fixed phrase.
func (e *Error) Error() string {
	if e.Code.Category() == CategoryCancelled {
		return "Operation cancelled"
	}

	return e.Code.prefix() + ": " + e.text()
}

// text is the message and cause chain without the category prefix. A cause
// that is itself an *Error contributes its text only, so the prefix appears
// once.
func (e *Error) text() string {
	if e.Cause == nil {
		return e.Message
	}

	var cause string
	if inner, ok := e.Cause.(*Error); ok {
		cause = inner.text()
	} else {
		cause = e.Cause.Error()
	}
	if cause == e.Message {
		return e.Message
	}
	return e.Message + ": " + cause
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Format implements fmt.Formatter for detailed output.
func (e *Error) Format(f fmt.State, verb rune) {
	switch verb {
	case 'v':
		if f.Flag('+') {
			fmt.Fprintf(f, "%s [%s] %s: %s\n",
				e.Time.Format(time.RFC3339),
				e.Severity,
				e.Code.String(),
				e.Message)

			if e.OpName != "" {
				fmt.Fprintf(f, "  Operation: %s\n", e.OpName)
			}

			if len(e.Fields) > 0 {
				fmt.Fprintf(f, "  Context:\n")
				for k, v := range e.Fields {
					fmt.Fprintf(f, "    %s: %v\n", k, v)
				}
			}

			if e.Cause != nil {
				fmt.Fprintf(f, "  Caused by: %v\n", e.Cause)
			}

			if len(e.Stack) > 0 {
				fmt.Fprintf(f, "  Stack:\n")
				for _, frame := range e.Stack {
					fmt.Fprintf(f, "    %s\n      %s:%d\n",
						frame.Function, frame.File, frame.Line)
				}
			}
			return
		}
		fallthrough
	case 's':
		fmt.Fprint(f, e.Error())
	case 'q':
		fmt.Fprintf(f, "%q", e.Error())
	}
}

// WithField adds a context field to the error.
func (e *Error) WithField(key string, value interface{}) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// WithOp sets the operation name.
func (e *Error) WithOp(op string) *Error {
	e.OpName = op
	return e
}

// Builder helps construct errors fluently.
type Builder struct {
	code     Code
	message  string
	severity Severity
	cause    error
	fields   map[string]interface{}
	op       string
	stack    bool
}

// New starts building a new error with the given code.
func New(code Code, message string) *Builder {
	return &Builder{
		code:     code,
		message:  message,
		severity: SeverityError,
	}
}

// Newf starts building a new error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Builder {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with a code and message.
func Wrap(cause error, code Code, message string) *Builder {
	b := New(code, message)
	b.cause = cause
	return b
}

// Wrapf wraps an existing error with a formatted message.
func Wrapf(cause error, code Code, format string, args ...interface{}) *Builder {
	return Wrap(cause, code, fmt.Sprintf(format, args...))
}

// Warning sets severity to warning.
func (b *Builder) Warning() *Builder {
	b.severity = SeverityWarning
	return b
}

// Critical sets severity to critical.
func (b *Builder) Critical() *Builder {
	b.severity = SeverityCritical
	return b
}

// WithField adds a context field.
func (b *Builder) WithField(key string, value interface{}) *Builder {
	if b.fields == nil {
		b.fields = make(map[string]interface{})
	}
	b.fields[key] = value
	return b
}

// WithOp sets the operation name.
func (b *Builder) WithOp(op string) *Builder {
	b.op = op
	return b
}

// WithStack captures a stack trace.
func (b *Builder) WithStack() *Builder {
	b.stack = true
	return b
}

// Build creates the Error.
func (b *Builder) Build() *Error {
	e := &Error{
		Code:     b.code,
		Message:  b.message,
		Severity: b.severity,
		Cause:    b.cause,
		Fields:   b.fields,
		OpName:   b.op,
		Time:     time.Now(),
	}

	if b.stack {
		e.Stack = captureStack(2)
	}

	return e
}

// Err is a shorthand for Build() that returns error interface.
func (b *Builder) Err() error {
	return b.Build()
}

func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)

	callersFrames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := callersFrames.Next()
		if !strings.Contains(frame.Function, "runtime.") {
			frames = append(frames, Frame{
				Function: frame.Function,
				File:     frame.File,
				Line:     frame.Line,
			})
		}
		if !more || len(frames) >= 10 {
			break
		}
	}

	return frames
}

// Constructors for the boundary taxonomy

// Config creates a configuration error.
func Config(format string, args ...interface{}) *Builder {
	return Newf(ErrCodeConfigInvalid, format, args...)
}

// Connection creates a connection error.
func Connection(format string, args ...interface{}) *Builder {
	return Newf(ErrCodeConnectionFailed, format, args...)
}

// Query creates a query error.
func Query(format string, args ...interface{}) *Builder {
	return Newf(ErrCodeQueryFailed, format, args...)
}

// Conversion creates a type conversion error.
func Conversion(format string, args ...interface{}) *Builder {
	return Newf(ErrCodeTypeConversion, format, args...)
}

// Transaction creates a transaction error.
func Transaction(format string, args ...interface{}) *Builder {
	return Newf(ErrCodeTxnFailed, format, args...)
}

// Pool creates a pool error.
func Pool(format string, args ...interface{}) *Builder {
	return Newf(ErrCodePoolCreate, format, args...)
}

// Cancelled creates a cancellation error.
func Cancelled() *Builder {
	return New(ErrCodeCancelled, "operation cancelled")
}

// Server creates the query error for an error reported by SQL Server.
func Server(number int32, class uint8, message string) *Builder {
	return Newf(ErrCodeQueryServer, "SQL Server error %d (severity %d): %s", number, class, message).
		WithField("number", number).
		WithField("class", class)
}

// From wraps a driver error whose own text becomes the message.
func From(cause error, code Code) *Builder {
	return Wrap(cause, code, cause.Error())
}

// Internal creates an internal error (for unexpected conditions).
func Internal(msg string) *Builder {
	return New(ErrCodeInternal, msg).Critical().WithStack()
}

// Extraction helpers

// GetCode extracts the error code from an error, or returns ErrCodeInternal.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// GetFields extracts context fields from an error.
func GetFields(err error) map[string]interface{} {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, category string) bool {
	return GetCode(err).Category() == category
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
