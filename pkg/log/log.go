// Package log provides categorised, levelled logging for sqlbridge.
//
// Categories:
//   - System: bridge lifecycle, settings reloads, transports
//   - Pool: pool creation, deduplication, acquisition and eviction
//   - Connection: bare connections, checkout, transactions
//   - Execution: command execution, bulk inserts, cursors
//   - Performance: per-command timing
//
// Each category has its own level and output. A debug override forces every
// category to DEBUG without losing the configured levels.
package log

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DebugEnv is the environment variable that enables debug logging at startup.
const DebugEnv = "SQLBRIDGE_DEBUG"

// Level represents a logging severity level.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
	LevelOff // Disable logging entirely
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	case LevelOff:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON renders the level by name.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// ParseLevel parses a level string.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO", "":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR", "ERR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	case "OFF", "NONE":
		return LevelOff, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

// DebugFromEnv reports whether SQLBRIDGE_DEBUG is set to "1" or "true".
func DebugFromEnv() bool {
	v := strings.TrimSpace(os.Getenv(DebugEnv))
	return v == "1" || strings.EqualFold(v, "true")
}

// Category identifies the logging category.
type Category string

const (
	CategorySystem      Category = "system"
	CategoryPool        Category = "pool"
	CategoryConnection  Category = "connection"
	CategoryExecution   Category = "execution"
	CategoryPerformance Category = "performance"
)

var allCategories = []Category{
	CategorySystem,
	CategoryPool,
	CategoryConnection,
	CategoryExecution,
	CategoryPerformance,
}

// Format specifies the output format.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// ParseFormat parses "text" or "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format: %s", s)
	}
}

// Entry represents a single log entry.
type Entry struct {
	Time     time.Time              `json:"time"`
	Level    Level                  `json:"level"`
	Category Category               `json:"category"`
	Message  string                 `json:"message"`
	Fields   map[string]interface{} `json:"fields,omitempty"`
	ErrorStr string                 `json:"error,omitempty"`
	Caller   string                 `json:"caller,omitempty"`
}

// Logger writes entries per category.
type Logger struct {
	mu sync.RWMutex

	levels  map[Category]Level
	outputs map[Category]io.Writer

	format        Format
	includeCaller bool
	debug         bool

	asyncEnabled bool
	entryChan    chan *Entry
	wg           sync.WaitGroup
	closed       int32

	entriesLogged  int64
	entriesDropped int64
}

// Config holds logger configuration.
type Config struct {
	DefaultLevel   Level
	CategoryLevels map[Category]Level

	Output io.Writer // os.Stderr if nil
	Format Format

	IncludeCaller bool
	AsyncBuffer   int  // 0 = synchronous
	Debug         bool // force DEBUG on every category
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		DefaultLevel: LevelInfo,
		Output:       os.Stderr,
		Format:       FormatText,
		Debug:        DebugFromEnv(),
	}
}

// Discard returns a logger that writes nothing.
func Discard() *Logger {
	return New(Config{DefaultLevel: LevelOff, Output: io.Discard})
}

// New creates a new logger with the given configuration.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	l := &Logger{
		levels:        make(map[Category]Level),
		outputs:       make(map[Category]io.Writer),
		format:        cfg.Format,
		includeCaller: cfg.IncludeCaller,
		debug:         cfg.Debug,
	}

	for _, cat := range allCategories {
		l.levels[cat] = cfg.DefaultLevel
		l.outputs[cat] = cfg.Output
	}
	for cat, level := range cfg.CategoryLevels {
		l.levels[cat] = level
	}

	if cfg.AsyncBuffer > 0 {
		l.asyncEnabled = true
		l.entryChan = make(chan *Entry, cfg.AsyncBuffer)
		l.wg.Add(1)
		go l.asyncWriter()
	}

	return l
}

// SetAllLevels sets the same level on every category.
func (l *Logger) SetAllLevels(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, cat := range allCategories {
		l.levels[cat] = level
	}
}

// SetFormat sets the output format.
func (l *Logger) SetFormat(f Format) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.format = f
}

// SetDebug toggles the debug override. Turning it off restores the
// configured per-category levels.
func (l *Logger) SetDebug(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debug = enabled
}

// DebugEnabled reports whether the debug override is on.
func (l *Logger) DebugEnabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.debug
}

// Close shuts down the logger, flushing any buffered entries.
func (l *Logger) Close() error {
	if !l.asyncEnabled {
		return nil
	}
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}
	close(l.entryChan)
	l.wg.Wait()
	return nil
}

// Stats returns logging statistics.
func (l *Logger) Stats() (logged, dropped int64) {
	return atomic.LoadInt64(&l.entriesLogged), atomic.LoadInt64(&l.entriesDropped)
}

func (l *Logger) System() *CategoryLogger {
	return &CategoryLogger{logger: l, category: CategorySystem}
}

func (l *Logger) Pool() *CategoryLogger {
	return &CategoryLogger{logger: l, category: CategoryPool}
}

func (l *Logger) Connection() *CategoryLogger {
	return &CategoryLogger{logger: l, category: CategoryConnection}
}

func (l *Logger) Execution() *CategoryLogger {
	return &CategoryLogger{logger: l, category: CategoryExecution}
}

func (l *Logger) Performance() *CategoryLogger {
	return &CategoryLogger{logger: l, category: CategoryPerformance}
}

func (l *Logger) log(level Level, cat Category, msg string, err error, fields ...interface{}) {
	l.mu.RLock()
	catLevel, known := l.levels[cat]
	output := l.outputs[cat]
	format := l.format
	includeCaller := l.includeCaller
	if l.debug {
		catLevel = LevelDebug
	}
	l.mu.RUnlock()

	if !known || level < catLevel || output == nil {
		return
	}

	entry := &Entry{
		Time:     time.Now(),
		Level:    level,
		Category: cat,
		Message:  msg,
	}
	if err != nil {
		entry.ErrorStr = err.Error()
	}

	if len(fields) > 0 {
		entry.Fields = make(map[string]interface{}, len(fields)/2)
		for i := 0; i < len(fields)-1; i += 2 {
			if key, ok := fields[i].(string); ok {
				entry.Fields[key] = fields[i+1]
			}
		}
	}

	if includeCaller {
		if _, file, line, ok := runtime.Caller(3); ok {
			if idx := strings.LastIndex(file, "/"); idx >= 0 {
				file = file[idx+1:]
			}
			entry.Caller = fmt.Sprintf("%s:%d", file, line)
		}
	}

	if l.asyncEnabled && atomic.LoadInt32(&l.closed) == 0 {
		select {
		case l.entryChan <- entry:
			atomic.AddInt64(&l.entriesLogged, 1)
		default:
			atomic.AddInt64(&l.entriesDropped, 1)
		}
		return
	}
	l.writeEntry(output, format, entry)
	atomic.AddInt64(&l.entriesLogged, 1)
}

func (l *Logger) writeEntry(w io.Writer, format Format, entry *Entry) {
	var line string
	switch format {
	case FormatJSON:
		data, err := json.Marshal(entry)
		if err != nil {
			return
		}
		line = string(data) + "\n"
	default:
		line = formatText(entry)
	}
	w.Write([]byte(line))
}

func formatText(entry *Entry) string {
	var buf strings.Builder

	buf.WriteString(entry.Time.Format("2006-01-02 15:04:05.000"))
	buf.WriteString(" ")
	buf.WriteString(fmt.Sprintf("%-5s", entry.Level.String()))
	buf.WriteString(" [")
	buf.WriteString(string(entry.Category))
	buf.WriteString("] ")

	if entry.Caller != "" {
		buf.WriteString(entry.Caller)
		buf.WriteString(" ")
	}

	buf.WriteString(entry.Message)

	if entry.ErrorStr != "" {
		buf.WriteString(" error=\"")
		buf.WriteString(entry.ErrorStr)
		buf.WriteString("\"")
	}

	// Stable field order so lines diff cleanly.
	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf.WriteString(" ")
		buf.WriteString(k)
		buf.WriteString("=")
		buf.WriteString(fmt.Sprintf("%v", entry.Fields[k]))
	}

	buf.WriteString("\n")
	return buf.String()
}

func (l *Logger) asyncWriter() {
	defer l.wg.Done()

	for entry := range l.entryChan {
		l.mu.RLock()
		output := l.outputs[entry.Category]
		format := l.format
		l.mu.RUnlock()

		l.writeEntry(output, format, entry)
	}
}

// CategoryLogger is a logger bound to a specific category.
type CategoryLogger struct {
	logger   *Logger
	category Category
}

func (cl *CategoryLogger) Debug(msg string, fields ...interface{}) {
	cl.logger.log(LevelDebug, cl.category, msg, nil, fields...)
}

func (cl *CategoryLogger) Info(msg string, fields ...interface{}) {
	cl.logger.log(LevelInfo, cl.category, msg, nil, fields...)
}

func (cl *CategoryLogger) Warn(msg string, fields ...interface{}) {
	cl.logger.log(LevelWarn, cl.category, msg, nil, fields...)
}

func (cl *CategoryLogger) Error(msg string, err error, fields ...interface{}) {
	cl.logger.log(LevelError, cl.category, msg, err, fields...)
}

// WithFields returns a FieldLogger with preset fields.
func (cl *CategoryLogger) WithFields(fields ...interface{}) *FieldLogger {
	return &FieldLogger{categoryLogger: cl, fields: fields}
}

// FieldLogger is a category logger with preset fields.
type FieldLogger struct {
	categoryLogger *CategoryLogger
	fields         []interface{}
}

func (fl *FieldLogger) with(extra []interface{}) []interface{} {
	out := make([]interface{}, 0, len(fl.fields)+len(extra))
	out = append(out, fl.fields...)
	return append(out, extra...)
}

func (fl *FieldLogger) Debug(msg string, extraFields ...interface{}) {
	fl.categoryLogger.logger.log(LevelDebug, fl.categoryLogger.category, msg, nil, fl.with(extraFields)...)
}

func (fl *FieldLogger) Info(msg string, extraFields ...interface{}) {
	fl.categoryLogger.logger.log(LevelInfo, fl.categoryLogger.category, msg, nil, fl.with(extraFields)...)
}

func (fl *FieldLogger) Warn(msg string, extraFields ...interface{}) {
	fl.categoryLogger.logger.log(LevelWarn, fl.categoryLogger.category, msg, nil, fl.with(extraFields)...)
}

func (fl *FieldLogger) Error(msg string, err error, extraFields ...interface{}) {
	fl.categoryLogger.logger.log(LevelError, fl.categoryLogger.category, msg, err, fl.with(extraFields)...)
}

var (
	defaultMu     sync.Mutex
	defaultLogger *Logger
)

// Default returns the process-wide logger, creating it on first use.
func Default() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(DefaultConfig())
	}
	return defaultLogger
}

// SetDefault replaces the process-wide logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}
