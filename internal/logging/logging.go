// Package logging is the process-wide zap logger. Every line is tagged with
// the audio session it belongs to and a monotonically increasing sequence
// number, so interleaved output from the render callback, the scheduler and
// the voice link can be put back in order.
package logging

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const noSession = "session-none"

type Config struct {
	Level  string // debug, info, warn, error; default info
	Format string // console or json; default console
}

// sink is the installed logger plus a sugared view already bound to the
// current session id.
type sink struct {
	base    *zap.Logger
	session string
	sugar   *zap.SugaredLogger
}

var (
	mu      sync.Mutex
	current atomic.Pointer[sink]
	seq     atomic.Uint64
)

func init() {
	install(zap.NewNop(), noSession)
}

func install(base *zap.Logger, session string) {
	current.Store(&sink{
		base:    base,
		session: session,
		sugar:   base.Sugar().With("session_id", session),
	})
}

// Init builds a logger writing to stderr and installs it.
func Init(cfg Config) error {
	levelName := strings.ToLower(strings.TrimSpace(cfg.Level))
	if levelName == "" {
		levelName = "info"
	}
	level, err := zapcore.ParseLevel(levelName)
	if err != nil {
		return fmt.Errorf("invalid log level %q", cfg.Level)
	}

	var enc zapcore.Encoder
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "console":
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		enc = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		return fmt.Errorf("invalid log format %q", cfg.Format)
	}

	out := zapcore.Lock(os.Stderr)
	SetLogger(zap.New(zapcore.NewCore(enc, out, level),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.ErrorOutput(out),
	))
	return nil
}

// SetLogger replaces the process logger and keeps the current session id.
// Tests use it with zaptest/observer. nil installs a no-op logger.
func SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	mu.Lock()
	defer mu.Unlock()
	install(logger, current.Load().session)
}

func Sync() {
	_ = current.Load().base.Sync()
}

// SetSessionID tags subsequent log lines with the audio session they belong to.
// Blank ids are ignored.
func SetSessionID(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	install(current.Load().base, id)
}

// SessionID returns the id lines are currently tagged with.
func SessionID() string {
	return current.Load().session
}

func NewSessionID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "session-unknown"
	}
	return hex.EncodeToString(buf)
}

func Debugf(format string, args ...interface{}) { entry().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { entry().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { entry().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { entry().Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { entry().Fatalf(format, args...) }

func entry() *zap.SugaredLogger {
	return current.Load().sugar.With("seq", seq.Add(1))
}
