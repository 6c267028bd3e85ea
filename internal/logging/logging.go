package logging

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/driftsync/driftsync/internal/utils"
)

// Setup wires a colorized stdout handler (tint) alongside a plain
// timestamp-prefixed file handler, combined through MultiLogHandler so
// every record goes to both. logPath's parent directory is created if
// missing. The returned close func flushes and closes the log file; call it
// before process exit.
func Setup(logPath string, level slog.Level) (close func(), err error) {
	if err := utils.EnsureParent(logPath); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	stdoutHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})

	logInterceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{} // timestamp is added by the log interceptor itself
			}
			return a
		},
	})

	multi := utils.NewMultiLogHandler(stdoutHandler, fileHandler)
	slog.SetDefault(slog.New(multi))

	return func() { file.Close() }, nil
}
