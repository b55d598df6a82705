package cmd

import (
	"io"
	"os"
	"os/signal"

	"github.com/AdguardTeam/golibs/log"
	"golang.org/x/sys/unix"
)

// Exit status constants.
const (
	statusSuccess = 0
	statusError   = 1
)

// signalHandler waits for OS signals.  SIGHUP reopens the log file, the
// termination signals close the relay and the other services.
type signalHandler struct {
	signal chan os.Signal

	// logFile is reopened on SIGHUP.  It is nil if the logs go to stderr.
	logFile *logFile

	// services are closed in order when a termination signal is received.
	services []io.Closer
}

// newSignalHandler returns a new signalHandler subscribed to the signals it
// handles.  lf may be nil.
func newSignalHandler(lf *logFile, svcs ...io.Closer) (h *signalHandler) {
	h = &signalHandler{
		signal:   make(chan os.Signal, 1),
		logFile:  lf,
		services: svcs,
	}

	signal.Notify(h.signal, unix.SIGHUP, unix.SIGINT, unix.SIGQUIT, unix.SIGTERM)

	return h
}

// handle blocks until a termination signal is received and the services are
// closed.  status is [statusSuccess] if all of them were closed successfully.
func (h *signalHandler) handle() (status int) {
	defer log.OnPanic("cmd: signal handler")

	for sig := range h.signal {
		log.Info("cmd: received signal %q", sig)

		if sig == unix.SIGHUP {
			h.reopenLog()

			continue
		}

		return h.shutdown()
	}

	// h.signal is never closed.
	return statusError
}

// reopenLog reopens the log file after rotation.  Failures are reported but
// do not stop the relay.
func (h *signalHandler) reopenLog() {
	if h.logFile == nil {
		return
	}

	if err := h.logFile.reopen(); err != nil {
		log.Error("cmd: reopening log file: %s", err)
		reportError(err)

		return
	}

	log.Info("cmd: log file reopened")
}

// shutdown closes the services.
func (h *signalHandler) shutdown() (status int) {
	log.Info("cmd: closing %d services", len(h.services))

	status = statusSuccess
	for i, svc := range h.services {
		if err := svc.Close(); err != nil {
			log.Error("cmd: closing service %d: %s", i, err)
			reportError(err)

			status = statusError
		}
	}

	log.Info("cmd: stopped")

	return status
}
