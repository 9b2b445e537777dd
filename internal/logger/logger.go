package logger

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const timeLayout = "2006/01/02 15:04:05"

var (
	mu    sync.RWMutex
	base  *zap.Logger
	sugar *zap.SugaredLogger
	file  *dailyFile
)

func init() {
	setLocked(zap.New(consoleCore()))
}

// Init adds a JSON file sink under logDir with one file per day. An empty
// logDir keeps console-only logging.
func Init(logDir string) error {
	if logDir == "" {
		return nil
	}
	// If caller passes /trydo_data, write logs to /trydo_data/logs.
	resolved := logDir
	if path.Base(filepath.ToSlash(logDir)) != "logs" {
		resolved = filepath.Join(logDir, "logs")
	}
	if err := os.MkdirAll(resolved, 0o755); err != nil {
		return err
	}

	df := &dailyFile{dir: resolved}
	if err := df.rotate(time.Now()); err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		_ = file.Close()
	}
	file = df
	setLocked(zap.New(zapcore.NewTee(consoleCore(), fileCore(df))))
	return nil
}

// Close flushes and closes the file sink.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	_ = base.Sync()
	if file != nil {
		_ = file.Close()
		file = nil
	}
	setLocked(zap.New(consoleCore()))
}

// L returns the underlying structured logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// SetForTest swaps the logger (typically zap.NewNop or an observer) and
// returns a restore func.
func SetForTest(l *zap.Logger) (restore func()) {
	mu.Lock()
	prev := base
	setLocked(l)
	mu.Unlock()
	return func() {
		mu.Lock()
		setLocked(prev)
		mu.Unlock()
	}
}

func Info(format string, args ...interface{}) {
	current().Infof(format, args...)
}

func Warn(format string, args ...interface{}) {
	current().Warnf(format, args...)
}

func Error(format string, args ...interface{}) {
	current().Errorf(format, args...)
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

func setLocked(l *zap.Logger) {
	base = l
	sugar = l.Sugar()
}

func consoleCore() zapcore.Core {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.CallerKey = ""
	return zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(os.Stdout), zapcore.InfoLevel)
}

func fileCore(w zapcore.WriteSyncer) zapcore.Core {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(cfg), w, zapcore.InfoLevel)
}

// dailyFile is a WriteSyncer that rolls over to <dir>/YYYY-MM-DD.log.
type dailyFile struct {
	mu  sync.Mutex
	dir string
	day string
	f   *os.File
	now func() time.Time
}

func (d *dailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now
	if d.now != nil {
		now = d.now
	}
	if err := d.rotateLocked(now()); err != nil {
		return 0, err
	}
	return d.f.Write(p)
}

func (d *dailyFile) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	return d.f.Sync()
}

func (d *dailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}

func (d *dailyFile) rotate(t time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rotateLocked(t)
}

func (d *dailyFile) rotateLocked(t time.Time) error {
	day := t.Format("2006-01-02")
	if d.f != nil && d.day == day {
		return nil
	}
	if d.f != nil {
		_ = d.f.Close()
		d.f = nil
	}
	p := filepath.Join(d.dir, day+".log")
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	d.f = f
	d.day = day
	return nil
}
