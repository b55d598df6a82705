package cmd

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/AdguardTeam/golibs/log"
)

// logFile is the log output file that can be reopened after it has been
// rotated.
type logFile struct {
	// mu protects f.
	mu   *sync.Mutex
	f    *os.File
	path string
}

// type check
var _ io.WriteCloser = (*logFile)(nil)

// openLogFile opens or creates the file at path for appending.
func openLogFile(path string) (lf *logFile, err error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}

	return &logFile{
		mu:   &sync.Mutex{},
		f:    f,
		path: path,
	}, nil
}

// openAppend opens the file at path for appending, creating it if needed.
func openAppend(path string) (f *os.File, err error) {
	f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	return f, nil
}

// Write implements the io.Writer interface for *logFile.
func (lf *logFile) Write(p []byte) (n int, err error) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	return lf.f.Write(p)
}

// reopen opens the file at the same path again, so that the writes go to the
// new file after the old one was moved away by logrotate or alike.
func (lf *logFile) reopen() (err error) {
	f, err := openAppend(lf.path)
	if err != nil {
		return err
	}

	lf.mu.Lock()
	defer lf.mu.Unlock()

	old := lf.f
	lf.f = f

	return old.Close()
}

// Close implements the io.Closer interface for *logFile.
func (lf *logFile) Close() (err error) {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	return lf.f.Close()
}

// setUpLogging applies the logging settings from envs.  lf is nil if the
// logs are written to stderr.
func setUpLogging(envs *environments) (lf *logFile, err error) {
	if envs.LogVerbose {
		log.SetLevel(log.DEBUG)
	}

	if envs.LogFile == "" {
		return nil, nil
	}

	lf, err = openLogFile(envs.LogFile)
	if err != nil {
		return nil, err
	}

	log.SetOutput(lf)

	return lf, nil
}
