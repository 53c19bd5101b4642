package applog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	maxFileSize = 5 << 20 // 5 MB
	maxValueLen = 200
	truncSuffix = "…"
	fileName    = "titlesentinel.log"
)

var (
	mu     sync.Mutex
	file   *os.File
	logger *zap.SugaredLogger
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Init opens the log file for appending. Call once at startup.
// If the file exceeds 5 MB, it is rotated (renamed to .log.1) before opening.
// Safe to skip: all log calls become no-ops if not initialized.
func Init(dir string) error {
	path := filepath.Join(dir, fileName)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// Rotate if too large.
	if info, err := os.Stat(path); err == nil && info.Size() > maxFileSize {
		os.Rename(path, path+".1")
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.CallerKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(f), level)

	mu.Lock()
	file = f
	logger = zap.New(core).Sugar()
	mu.Unlock()
	return nil
}

// SetVerbose enables debug events.
func SetVerbose(v bool) {
	if v {
		level.SetLevel(zapcore.DebugLevel)
	} else {
		level.SetLevel(zapcore.InfoLevel)
	}
}

// Close flushes and closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logger != nil {
		logger.Sync()
		logger = nil
	}
	if file != nil {
		file.Close()
		file = nil
	}
}

// Debug logs a structured event line that is only written in verbose mode.
func Debug(event string, kv ...any) {
	if l := current(); l != nil {
		l.Debugw(event, clip(kv)...)
	}
}

// Info logs a structured event line.
//
//	applog.Info("ws.connected", "remote", addr)
//	applog.Info("title.enforced", "title", t, "host", host)
func Info(event string, kv ...any) {
	if l := current(); l != nil {
		l.Infow(event, clip(kv)...)
	}
}

// Error logs an event with an error.
//
//	applog.Error("ws.send", err, "action", "set-title")
func Error(event string, err error, kv ...any) {
	if l := current(); l != nil {
		if err != nil {
			kv = append([]any{"err", err.Error()}, kv...)
		}
		l.Errorw(event, clip(kv)...)
	}
}

func current() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// clip shortens long values so a single page snapshot cannot flood the log.
func clip(kv []any) []any {
	out := make([]any, len(kv))
	for i, v := range kv {
		if i%2 == 0 {
			out[i] = v
			continue
		}
		out[i] = truncate(fmt.Sprint(v))
	}
	return out
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxValueLen {
		return s
	}
	r := []rune(s)
	return string(r[:maxValueLen]) + truncSuffix
}
