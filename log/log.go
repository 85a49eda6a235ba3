package log

import (
	"io"
	"os"
	"path/filepath"

	"github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jkaberg/torrentxiv/config"
)

const FileName = "xiv.log"

// Load configures the global zerolog logger: human readable output on the
// console and JSON lines in a rotated file under config.Path.
func Load(config *config.Log) {
	writers := []io.Writer{
		zerolog.ConsoleWriter{Out: colorable.NewColorableStdout()},
	}
	if f := newRollingFile(config); f != nil {
		writers = append(writers, f)
	}

	log.Logger = log.Output(zerolog.MultiLevelWriter(writers...))

	l := zerolog.InfoLevel
	if config.Debug {
		l = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(l)
}

func newRollingFile(config *config.Log) io.Writer {
	if config.Path == "" {
		return nil
	}

	if err := os.MkdirAll(config.Path, 0744); err != nil {
		log.Error().Err(err).Str("path", config.Path).Msg("can't create log directory")
		return nil
	}

	return &lumberjack.Logger{
		Filename:   filepath.Join(config.Path, FileName),
		MaxBackups: config.MaxBackups, // files
		MaxSize:    config.MaxSize,    // megabytes
		MaxAge:     config.MaxAge,     // days
	}
}
