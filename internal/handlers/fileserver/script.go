package fileserver

import (
	"bytes"
	"errors"
	"net/http"
	"os/exec"

	"example.com/gciserve/internal/logger"
	"example.com/gciserve/internal/server"
)

// startCommand starts cmd. Tests swap it to simulate spawn failures.
var startCommand = func(cmd *exec.Cmd) error { return cmd.Start() }

// executeScript runs the script with the connection as its stdout and waits
// for it to exit. Nothing is written before the script's own output: the
// script is expected to produce the status line and headers itself.
func (d *Dispatcher) executeScript(w *responseRecorder, fsPath, rel string) {
	stderr := &scriptLogWriter{log: d.log, script: rel}
	cmd := d.scriptCommand(fsPath, w, stderr)

	err := startCommand(cmd)
	if err != nil && isExecFormatError(err) {
		// No interpreter line and not a binary; hand it to the shell like
		// execlp does.
		d.log.Debug("Script is not a binary image; retrying with /bin/sh", logger.LogFields{"path": fsPath})
		cmd = d.scriptCommand("/bin/sh", w, stderr, fsPath)
		err = startCommand(cmd)
	}
	if err != nil {
		if isProcessCreationError(err) {
			d.log.Error("Failed to create script process", logger.LogFields{"path": fsPath, "error": err.Error()})
			d.writeError(w, http.StatusInternalServerError, server.MessageProcessCreateFailed)
			return
		}
		d.log.Error("Failed to start script", logger.LogFields{"path": fsPath, "error": err.Error()})
		d.writeError(w, http.StatusInternalServerError, server.MessageInternalServerError)
		return
	}

	err = cmd.Wait()
	stderr.flush()
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		d.log.Warn("Script exited with non-zero status", logger.LogFields{"path": fsPath, "exit_code": exitErr.ExitCode()})
	case err != nil:
		d.log.Debug("Script output copy failed", logger.LogFields{"path": fsPath, "error": err.Error()})
	default:
		d.log.Debug("Script finished", logger.LogFields{"path": fsPath, "bytes": w.bytes})
	}
}

func (d *Dispatcher) scriptCommand(name string, stdout *responseRecorder, stderr *scriptLogWriter, args ...string) *exec.Cmd {
	cmd := exec.Command(name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd
}

// scriptLogWriter forwards a script's stderr to the error log, one entry per line.
type scriptLogWriter struct {
	log     *logger.Logger
	script  string
	pending []byte
}

func (s *scriptLogWriter) Write(p []byte) (int, error) {
	s.pending = append(s.pending, p...)
	for {
		i := bytes.IndexByte(s.pending, '\n')
		if i < 0 {
			break
		}
		s.emit(s.pending[:i])
		s.pending = s.pending[i+1:]
	}
	return len(p), nil
}

func (s *scriptLogWriter) flush() {
	if len(s.pending) > 0 {
		s.emit(s.pending)
		s.pending = nil
	}
}

func (s *scriptLogWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 {
		return
	}
	s.log.Warn("Script stderr", logger.LogFields{"script": s.script, "line": string(line)})
}
