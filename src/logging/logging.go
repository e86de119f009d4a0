package logging

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	color "git.handmade.network/hmn/tutorials/src/ansicolor"
	"git.handmade.network/hmn/tutorials/src/config"
	"git.handmade.network/hmn/tutorials/src/oops"
	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func init() {
	zerolog.ErrorStackMarshaler = oops.ZerologStackMarshaler
	log.Logger = log.Output(outputFor(config.Config))
	zerolog.SetGlobalLevel(config.Config.LogLevel)
}

// Console output is always pretty-printed. When a log file is configured, the
// same events are also written there as JSON lines, rotated by size.
func outputFor(cfg config.TutorialsConfig) io.Writer {
	pretty := NewPrettyZerologWriter()
	if cfg.LogFile == "" {
		return pretty
	}
	return zerolog.MultiLevelWriter(pretty, &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	})
}

func GlobalLogger() *zerolog.Logger {
	return &log.Logger
}

type loggerContextKey struct{}

func AttachLoggerToContext(logger *zerolog.Logger, ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// Returns the logger attached to the context, or the global logger if there is
// none.
func ExtractLogger(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerContextKey{}).(*zerolog.Logger); ok {
			return logger
		}
	}
	return GlobalLogger()
}

func Trace() *zerolog.Event {
	return log.Trace().Timestamp().Stack()
}

func Debug() *zerolog.Event {
	return log.Debug().Timestamp().Stack()
}

func Info() *zerolog.Event {
	return log.Info().Timestamp().Stack()
}

func Warn() *zerolog.Event {
	return log.Warn().Timestamp().Stack()
}

func Error() *zerolog.Event {
	return log.Error().Timestamp().Stack()
}

func Panic() *zerolog.Event {
	return log.Panic().Timestamp().Stack()
}

func Fatal() *zerolog.Event {
	return log.Fatal().Timestamp().Stack()
}

func With() zerolog.Context {
	return log.With().Stack()
}

// PrettyZerologWriter turns zerolog's JSON lines into something readable in a
// terminal. Events with an error, stack, or extra fields are printed as a
// block separated by rules.
type PrettyZerologWriter struct {
	out       io.Writer
	wd        string
	lastBlock bool
}

var levelColors = map[string]string{
	"trace": color.Gray,
	"debug": color.Gray,
	"info":  color.BgBlue,
	"warn":  color.BgYellow,
	"error": color.BgRed,
	"fatal": color.BgRed,
	"panic": color.BgRed,
}

func NewPrettyZerologWriter() *PrettyZerologWriter {
	wd, _ := os.Getwd()
	return &PrettyZerologWriter{out: os.Stderr, wd: wd}
}

func (w *PrettyZerologWriter) Write(p []byte) (int, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(p, &fields); err != nil {
		return w.out.Write(p)
	}

	str := func(name string) string {
		s, _ := fields[name].(string)
		delete(fields, name)
		return s
	}
	ts := str(zerolog.TimestampFieldName)
	level := str(zerolog.LevelFieldName)
	msg := str(zerolog.MessageFieldName)
	errStr := str(zerolog.ErrorFieldName)
	frames, _ := fields[zerolog.ErrorStackFieldName].([]interface{})
	delete(fields, zerolog.ErrorStackFieldName)

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	block := errStr != "" || frames != nil || len(names) > 0

	var b strings.Builder
	if block || w.lastBlock {
		b.WriteString("---------------------------------------\n")
	}
	b.WriteString(ts)
	b.WriteString(" ")
	if level != "" {
		b.WriteString(levelColors[level] + color.Bold + strings.ToUpper(level) + color.Reset + ": ")
	}
	b.WriteString(msg)
	b.WriteString("\n")

	if errStr != "" {
		b.WriteString("  " + color.Bold + color.Red + "ERROR:" + color.Reset + " " + errStr + "\n")
	}
	if len(names) > 0 {
		b.WriteString("  " + color.Bold + color.Blue + "Fields:" + color.Reset + "\n")
		for _, name := range names {
			val, _ := json.MarshalIndent(fields[name], "    ", "  ")
			b.WriteString("    " + name + ": " + string(val) + "\n")
		}
	}
	if frames != nil {
		b.WriteString("  " + color.Bold + color.Blue + "Stack trace:" + color.Reset + "\n")
		for _, f := range frames {
			b.WriteString("    " + w.formatFrame(f) + "\n")
		}
	}
	w.lastBlock = block

	if _, err := io.WriteString(w.out, b.String()); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *PrettyZerologWriter) formatFrame(f interface{}) string {
	frame, ok := f.(map[string]interface{})
	if !ok {
		return "?"
	}
	fn, _ := frame["function"].(string)
	file, _ := frame["file"].(string)
	line, _ := frame["line"].(float64)
	if w.wd != "" {
		file = strings.Replace(file, w.wd, ".", 1)
	}
	return fn + " (" + file + ":" + strconv.Itoa(int(line)) + ")"
}

func LogPanics(logger *zerolog.Logger) {
	if r := recover(); r != nil {
		LogPanicValue(logger, r, "recovered from panic")
	}
}

func LogPanicValue(logger *zerolog.Logger, val interface{}, msg string) {
	if logger == nil {
		logger = GlobalLogger()
	}

	if err, ok := val.(error); ok {
		l := logger.Error().Err(err)
		if _, ok := err.(*oops.Error); !ok {
			l = l.Interface(zerolog.ErrorStackFieldName, oops.Trace())
		}
		l.Msg(msg)
	} else {
		logger.Error().
			Interface("recovered", val).
			Interface(zerolog.ErrorStackFieldName, oops.Trace()).
			Msg(msg)
	}
}
