package tracker

import (
	"io"
	"log"

	"gopkg.in/natefinch/lumberjack.v2"
)

// SetupLogging points the standard logger at console, plus a rolling file
// when cfg.File is set. The returned logger is nil without a file; the
// caller closes it on shutdown.
func SetupLogging(cfg LogConfig, console io.Writer) *lumberjack.Logger {
	if cfg.File == "" {
		log.SetOutput(console)
		return nil
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}
	log.SetOutput(io.MultiWriter(console, lj))
	log.Printf("[LOG] Writing to %s", cfg.File)
	return lj
}
