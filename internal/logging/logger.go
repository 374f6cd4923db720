package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init initializes the global logger with configuration from environment variables.
// PIPELINE_LOG_LEVEL controls the log level: debug, info, warn, error (default: info).
//
// Inside Lambda the output is plain JSON on stdout so CloudWatch Logs Insights
// can query the fields. Everywhere else a console writer is used. Any extra
// writers (e.g. a CloudWatchWriter) receive the same JSON events.
func Init(extra ...io.Writer) {
	zerolog.SetGlobalLevel(ParseLevel(os.Getenv("PIPELINE_LOG_LEVEL")))

	var primary io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		primary = os.Stdout
	}

	if len(extra) == 0 {
		log.Logger = zerolog.New(primary).With().Timestamp().Logger()
		return
	}
	writers := append([]io.Writer{primary}, extra...)
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level. Unknown names map to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
