package build

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	btclogv1 "github.com/btcsuite/btclog"
	"github.com/btcsuite/btclog/v2"
)

// NewSubLogger constructs a new subsystem log. If no generator function is
// provided, the returned logger is disabled until a caller replaces it with
// UseLogger.
func NewSubLogger(subsystem string,
	genSubLogger func(string) btclog.Logger) btclog.Logger {

	if genSubLogger == nil {
		return btclog.Disabled
	}

	return genSubLogger(subsystem)
}

// LeveledSubLogger provides the ability to retrieve the subsystem loggers of
// a logger and set their log levels individually or all at once.
type LeveledSubLogger interface {
	// SubLoggers returns the map of all registered subsystem loggers.
	SubLoggers() map[string]btclog.Logger

	// SupportedSubsystems returns a slice of strings containing the names
	// of the supported subsystems.
	SupportedSubsystems() []string

	// SetLogLevel assigns an individual subsystem logger a new log level.
	SetLogLevel(subsystemID string, logLevel string)

	// SetLogLevels assigns all subsystem loggers the same new log level.
	SetLogLevels(logLevel string)
}

// SubLoggerManager hands out subsystem loggers that all write through the
// same handler and keeps track of them so their levels can be changed at
// runtime.
type SubLoggerManager struct {
	handler btclog.Handler

	loggers map[string]btclog.Logger
	mu      sync.Mutex
}

// A compile time check to ensure SubLoggerManager implements the
// LeveledSubLogger interface.
var _ LeveledSubLogger = (*SubLoggerManager)(nil)

// NewSubLoggerManager constructs a new SubLoggerManager that fans each log
// line out to all of the given handlers.
func NewSubLoggerManager(handlers ...btclog.Handler) *SubLoggerManager {
	return &SubLoggerManager{
		handler: newHandlerSet(btclog.LevelInfo, handlers...),
		loggers: make(map[string]btclog.Logger),
	}
}

// GenSubLogger creates a new logger tagged with the given subsystem.
func (r *SubLoggerManager) GenSubLogger(subsystem string) btclog.Logger {
	return btclog.NewSLogger(r.handler.SubSystem(subsystem))
}

// RegisterSubLogger records the logger for the given subsystem so its level
// can be managed.
func (r *SubLoggerManager) RegisterSubLogger(subsystem string,
	logger btclog.Logger) {

	r.mu.Lock()
	defer r.mu.Unlock()

	r.loggers[subsystem] = logger
}

// SubLoggers returns a copy of the registered subsystem loggers.
func (r *SubLoggerManager) SubLoggers() map[string]btclog.Logger {
	r.mu.Lock()
	defer r.mu.Unlock()

	loggers := make(map[string]btclog.Logger, len(r.loggers))
	for k, v := range r.loggers {
		loggers[k] = v
	}

	return loggers
}

// SupportedSubsystems returns a sorted slice of the registered subsystems.
func (r *SubLoggerManager) SupportedSubsystems() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	subsystems := make([]string, 0, len(r.loggers))
	for subsysID := range r.loggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)

	return subsystems
}

// SetLogLevel sets the logging level for the provided subsystem. Invalid
// subsystems are ignored.
func (r *SubLoggerManager) SetLogLevel(subsystemID string, logLevel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	logger, ok := r.loggers[subsystemID]
	if !ok {
		return
	}

	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels sets the log level for all registered subsystem loggers.
func (r *SubLoggerManager) SetLogLevels(logLevel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	level, _ := btclog.LevelFromString(logLevel)
	r.handler.SetLevel(level)
	for _, logger := range r.loggers {
		logger.SetLevel(level)
	}
}

// ParseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly on the given logger. An appropriate error is
// returned if anything is invalid.
//
// The level is either a single level applied to every subsystem, or a comma
// separated list of <subsystem>=<level> pairs.
func ParseAndSetDebugLevels(level string, logger LeveledSubLogger) error {
	// When the specified string doesn't have any delimiters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(level, ",") && !strings.Contains(level, "=") {
		if !validLogLevel(level) {
			return fmt.Errorf("the specified debug level [%v] is "+
				"invalid", level)
		}

		logger.SetLogLevels(level)

		return nil
	}

	// Split the specified string into subsystem/level pairs while
	// detecting issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(level, ",") {
		if !strings.Contains(logLevelPair, "=") {
			return fmt.Errorf("the specified debug level contains "+
				"an invalid subsystem/level pair [%v]",
				logLevelPair)
		}

		fields := strings.Split(logLevelPair, "=")
		if len(fields) != 2 {
			return fmt.Errorf("the specified debug level has an "+
				"invalid format [%v] -- use format "+
				"subsystem1=level1,subsystem2=level2",
				logLevelPair)
		}
		subsysID, logLevel := fields[0], fields[1]

		if _, exists := logger.SubLoggers()[subsysID]; !exists {
			return fmt.Errorf("the specified subsystem [%v] is "+
				"invalid -- supported subsystems are %v",
				subsysID, logger.SupportedSubsystems())
		}

		if !validLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%v] is "+
				"invalid", logLevel)
		}

		logger.SetLogLevel(subsysID, logLevel)
	}

	return nil
}

// validLogLevel returns whether or not logLevel is a valid debug level.
func validLogLevel(logLevel string) bool {
	_, ok := btclog.LevelFromString(logLevel)

	return ok
}

// handlerSet is a btclog.Handler that forwards every record to a set of
// underlying handlers.
type handlerSet struct {
	level btclogv1.Level
	set   []btclog.Handler
}

// newHandlerSet constructs a handlerSet at the given level.
func newHandlerSet(level btclogv1.Level, set ...btclog.Handler) *handlerSet {
	h := &handlerSet{
		set:   set,
		level: level,
	}
	h.SetLevel(level)

	return h
}

// Enabled reports whether the handler handles records at the given level.
//
// NOTE: this is part of the slog.Handler interface.
func (h *handlerSet) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.set {
		if !handler.Enabled(ctx, level) {
			return false
		}
	}

	return true
}

// Handle handles the Record.
//
// NOTE: this is part of the slog.Handler interface.
func (h *handlerSet) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range h.set {
		if err := handler.Handle(ctx, record); err != nil {
			return err
		}
	}

	return nil
}

// WithAttrs returns a new Handler whose attributes consist of both the
// receiver's attributes and the arguments.
//
// NOTE: this is part of the slog.Handler interface.
func (h *handlerSet) WithAttrs(attrs []slog.Attr) slog.Handler {
	newSet := &reducedSet{set: make([]slog.Handler, len(h.set))}
	for i, handler := range h.set {
		newSet.set[i] = handler.WithAttrs(attrs)
	}

	return newSet
}

// WithGroup returns a new Handler with the given group appended to the
// receiver's existing groups.
//
// NOTE: this is part of the slog.Handler interface.
func (h *handlerSet) WithGroup(name string) slog.Handler {
	newSet := &reducedSet{set: make([]slog.Handler, len(h.set))}
	for i, handler := range h.set {
		newSet.set[i] = handler.WithGroup(name)
	}

	return newSet
}

// SubSystem creates a new Handler with the given sub-system tag.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *handlerSet) SubSystem(tag string) btclog.Handler {
	newSet := &handlerSet{set: make([]btclog.Handler, len(h.set))}
	for i, handler := range h.set {
		newSet.set[i] = handler.SubSystem(tag)
	}
	newSet.SetLevel(h.level)

	return newSet
}

// SetLevel changes the logging level of the Handler to the passed level.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *handlerSet) SetLevel(level btclogv1.Level) {
	for _, handler := range h.set {
		handler.SetLevel(level)
	}
	h.level = level
}

// Level returns the current logging level of the Handler.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *handlerSet) Level() btclogv1.Level {
	return h.level
}

// WithPrefix returns a copy of the Handler but with the given string prefixed
// to each log message.
//
// NOTE: this is part of the btclog.Handler interface.
func (h *handlerSet) WithPrefix(prefix string) btclog.Handler {
	newSet := &handlerSet{set: make([]btclog.Handler, len(h.set))}
	for i, handler := range h.set {
		newSet.set[i] = handler.WithPrefix(prefix)
	}
	newSet.SetLevel(h.level)

	return newSet
}

// A compile-time check to ensure that handlerSet implements btclog.Handler.
var _ btclog.Handler = (*handlerSet)(nil)

// reducedSet is a slog.Handler that forwards records to a set of plain slog
// handlers. It is produced once attributes or groups are attached.
type reducedSet struct {
	set []slog.Handler
}

// Enabled reports whether the handler handles records at the given level.
//
// NOTE: this is part of the slog.Handler interface.
func (r *reducedSet) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range r.set {
		if !handler.Enabled(ctx, level) {
			return false
		}
	}

	return true
}

// Handle handles the Record.
//
// NOTE: this is part of the slog.Handler interface.
func (r *reducedSet) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range r.set {
		if err := handler.Handle(ctx, record); err != nil {
			return err
		}
	}

	return nil
}

// WithAttrs returns a new Handler with the given attributes added.
//
// NOTE: this is part of the slog.Handler interface.
func (r *reducedSet) WithAttrs(attrs []slog.Attr) slog.Handler {
	newSet := &reducedSet{set: make([]slog.Handler, len(r.set))}
	for i, handler := range r.set {
		newSet.set[i] = handler.WithAttrs(attrs)
	}

	return newSet
}

// WithGroup returns a new Handler with the given group added.
//
// NOTE: this is part of the slog.Handler interface.
func (r *reducedSet) WithGroup(name string) slog.Handler {
	newSet := &reducedSet{set: make([]slog.Handler, len(r.set))}
	for i, handler := range r.set {
		newSet.set[i] = handler.WithGroup(name)
	}

	return newSet
}
