package ndkports

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// runLog is the structured log of one invocation. Terminal output stays on
// the color helpers; the structured records go to <work>/ndkports.log.
type runLog struct {
	*logrus.Entry
	file *os.File
}

// openRunLog creates the run logger. format is "text" or "json".
func openRunLog(workDir, format string) (*runLog, error) {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir %s: %w", workDir, err)
	}
	f, err := os.OpenFile(filepath.Join(workDir, "ndkports.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}
	logger := newLogger(f, format)
	return &runLog{Entry: logger.WithField("run", uuid.NewString()), file: f}, nil
}

func newLogger(w io.Writer, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	}
	logger.SetLevel(logrus.InfoLevel)
	if Debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

func (l *runLog) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// discardLog is used when no run log is configured, e.g. in tests.
func discardLog() *logrus.Entry {
	return logrus.NewEntry(newLogger(io.Discard, "text"))
}
