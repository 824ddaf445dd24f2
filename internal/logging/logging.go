package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup points the standard logger at stderr and, when path is set, also
// at a size-rotated file. Lines are prefixed with the service name. The
// returned closer releases the file.
func Setup(service, path string, maxSizeMB, maxAgeDays int) io.Closer {
	log.SetPrefix("[" + service + "] ")
	log.SetFlags(log.LstdFlags | log.LUTC)

	if path == "" {
		log.SetOutput(os.Stderr)
		return nopCloser{}
	}

	w := &lumberjack.Logger{
		Filename: path,
		MaxSize:  maxSizeMB, // MB
		MaxAge:   maxAgeDays,
		Compress: true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, w))
	return w
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
