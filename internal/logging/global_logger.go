package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CivitaiGallery/internal/config"
	"github.com/router-for-me/CivitaiGallery/internal/util"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileName is the active log file inside the log directory. Rotated siblings share its prefix.
const LogFileName = "gallery.log"

// logFileMaxSizeMB is the size at which the active log file is rotated.
const logFileMaxSizeMB = 10

var (
	setupOnce sync.Once

	outputMu      sync.Mutex
	fileOutput    *lumberjack.Logger
	consoleOutput io.Writer = os.Stdout
	ginPipes      []*io.PipeWriter
)

// LogFormatter renders one line per entry:
//
//	[2025-12-23 20:14:04] [a1b2c3d4] [debug] [loader.go:88] downloaded model file version=128713 type=Checkpoint
//
// Well known fields come first in a fixed order, any others follow sorted by key.
type LogFormatter struct{}

var logFieldOrder = []string{"gallery", "version", "model", "type", "path", "status", "bytes", "error"}

// Format implements logrus.Formatter.
func (m *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	buffer := entry.Buffer
	if buffer == nil {
		buffer = &bytes.Buffer{}
	}

	reqID, _ := entry.Data["request_id"].(string)
	if reqID == "" {
		reqID = "--------"
	}
	level := entry.Level.String()
	if entry.Level == log.WarnLevel {
		level = "warn"
	}

	fmt.Fprintf(buffer, "[%s] [%s] [%-5s] ", entry.Time.Format("2006-01-02 15:04:05"), reqID, level)
	if entry.Caller != nil {
		fmt.Fprintf(buffer, "[%s:%d] ", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	buffer.WriteString(strings.TrimRight(entry.Message, "\r\n"))
	writeFields(buffer, entry.Data)
	buffer.WriteByte('\n')

	return buffer.Bytes(), nil
}

func writeFields(buffer *bytes.Buffer, data log.Fields) {
	if len(data) == 0 {
		return
	}
	for _, k := range logFieldOrder {
		if v, ok := data[k]; ok {
			fmt.Fprintf(buffer, " %s=%v", k, v)
		}
	}
	var rest []string
	for k := range data {
		if k == "request_id" || slices.Contains(logFieldOrder, k) {
			continue
		}
		rest = append(rest, k)
	}
	slices.Sort(rest)
	for _, k := range rest {
		fmt.Fprintf(buffer, " %s=%v", k, data[k])
	}
}

// SetupBaseLogger installs the formatter and routes Gin's writers through logrus.
// Only the first call has an effect.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(true)
		log.SetFormatter(&LogFormatter{})

		infoPipe := log.StandardLogger().Writer()
		errorPipe := log.StandardLogger().WriterLevel(log.ErrorLevel)
		ginPipes = []*io.PipeWriter{infoPipe, errorPipe}
		gin.DefaultWriter = infoPipe
		gin.DefaultErrorWriter = errorPipe
		gin.DebugPrintFunc = func(format string, values ...interface{}) {
			log.StandardLogger().Infof(strings.TrimRight(format, "\r\n"), values...)
		}

		log.RegisterExitHandler(closeLogOutputs)
	})
}

// SetConsoleOutput replaces the writer used when file logging is off and applies it at once
// unless a log file is active. The terminal gallery passes io.Discard so that later config
// reloads keep the screen clean.
func SetConsoleOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	outputMu.Lock()
	defer outputMu.Unlock()
	consoleOutput = w
	if fileOutput == nil {
		log.SetOutput(w)
	}
}

// ResolveLogDirectory picks the log directory: WRITABLE_PATH/logs, then <cache-dir>/logs,
// then ./logs.
func ResolveLogDirectory(cfg *config.Config) string {
	if base := util.WritablePath(); base != "" {
		return filepath.Join(base, "logs")
	}
	if cfg == nil {
		return "logs"
	}
	cacheDir, err := util.ResolvePath(cfg.CacheDir)
	if err != nil {
		log.Warnf("logging: cannot resolve cache-dir %q: %v", cfg.CacheDir, err)
	}
	if cacheDir == "" {
		return "logs"
	}
	return filepath.Join(cacheDir, "logs")
}

// ConfigureLogOutput applies the logging-to-file and logs-max-total-size-mb settings.
// It is called at startup and again after every config reload.
func ConfigureLogOutput(cfg *config.Config) error {
	SetupBaseLogger()

	outputMu.Lock()
	defer outputMu.Unlock()

	logDir := ResolveLogDirectory(cfg)
	closeFileOutputLocked()

	active := ""
	if cfg.LoggingToFile {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return fmt.Errorf("logging: create log directory: %w", err)
		}
		active = filepath.Join(logDir, LogFileName)
		fileOutput = &lumberjack.Logger{Filename: active, MaxSize: logFileMaxSizeMB}
		log.SetOutput(fileOutput)
	} else {
		log.SetOutput(consoleOutput)
	}

	configureLogDirCleanerLocked(logDir, cfg.LogsMaxTotalSizeMB, active)
	return nil
}

func closeFileOutputLocked() {
	if fileOutput == nil {
		return
	}
	_ = fileOutput.Close()
	fileOutput = nil
}

func closeLogOutputs() {
	outputMu.Lock()
	defer outputMu.Unlock()

	stopLogDirCleanerLocked()
	closeFileOutputLocked()
	for _, pipe := range ginPipes {
		_ = pipe.Close()
	}
	ginPipes = nil
}
