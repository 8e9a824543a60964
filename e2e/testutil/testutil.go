//go:build unix

package testutil

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/sys/unix"
)

// BinaryEnv names an environment variable holding a prebuilt server binary.
// When unset, BuildServerBinary compiles ./cmd/server.
const BinaryEnv = "GCISERVE_BINARY"

// BodyMatcher defines a way to match the response body.
type BodyMatcher interface {
	Match(body []byte) (bool, string) // Returns match status and a description of mismatch
}

// ExactBodyMatcher matches the body exactly.
type ExactBodyMatcher struct {
	ExpectedBody []byte
}

// Match implements BodyMatcher for ExactBodyMatcher.
func (m *ExactBodyMatcher) Match(body []byte) (bool, string) {
	if bytes.Equal(m.ExpectedBody, body) {
		return true, ""
	}
	return false, fmt.Sprintf("bodies do not match exactly. Expected: %q, Got: %q", string(m.ExpectedBody), string(body))
}

// StringContainsBodyMatcher checks if the body contains a specific substring.
type StringContainsBodyMatcher struct {
	Substring string
}

// Match implements BodyMatcher for StringContainsBodyMatcher.
func (m *StringContainsBodyMatcher) Match(body []byte) (bool, string) {
	if bytes.Contains(body, []byte(m.Substring)) {
		return true, ""
	}
	return false, fmt.Sprintf("body does not contain substring: %q. Body: %q", m.Substring, string(body))
}

// ExpectedResponse models the expected outcome of one raw request.
type ExpectedResponse struct {
	StatusCode  int
	Headers     map[string]string // exact match on the first value
	BodyMatcher BodyMatcher
}

// ActualResponse is a response read off the wire up to the server's close.
type ActualResponse struct {
	StatusCode int
	StatusText string
	Headers    http.Header
	Body       []byte
	Raw        []byte
}

// Check compares r against exp and returns a description of every mismatch.
func (r ActualResponse) Check(exp ExpectedResponse) []string {
	var problems []string
	if exp.StatusCode != 0 && r.StatusCode != exp.StatusCode {
		problems = append(problems, fmt.Sprintf("status: expected %d, got %d", exp.StatusCode, r.StatusCode))
	}
	for name, want := range exp.Headers {
		if got := r.Headers.Get(name); got != want {
			problems = append(problems, fmt.Sprintf("header %s: expected %q, got %q", name, want, got))
		}
	}
	if exp.BodyMatcher != nil {
		if ok, desc := exp.BodyMatcher.Match(r.Body); !ok {
			problems = append(problems, desc)
		}
	}
	return problems
}

// ServerInstance encapsulates details of a running test server.
type ServerInstance struct {
	Cmd        *exec.Cmd
	Address    string
	ConfigPath string
	WorkDir    string

	logs      *syncBuffer
	cancelCtx context.CancelFunc
	waitOnce  sync.Once
	waitErr   error
	exited    chan struct{}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// GetFreePort asks the kernel for a free open port that is ready to use.
func GetFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// ProjectRoot returns the module root, two levels above this file.
func ProjectRoot() (string, error) {
	_, currentFile, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("failed to get current file path")
	}
	return filepath.Join(filepath.Dir(currentFile), "..", ".."), nil
}

// BuildServerBinary compiles the server into dir and returns the binary path.
// A binary named by BinaryEnv is used as-is instead.
func BuildServerBinary(dir string) (string, error) {
	if prebuilt := os.Getenv(BinaryEnv); prebuilt != "" {
		return prebuilt, nil
	}
	goTool, err := exec.LookPath("go")
	if err != nil {
		return "", fmt.Errorf("go toolchain not found and %s not set: %w", BinaryEnv, err)
	}
	root, err := ProjectRoot()
	if err != nil {
		return "", err
	}
	out := filepath.Join(dir, "gciserve")
	cmd := exec.Command(goTool, "build", "-o", out, "./cmd/server")
	cmd.Dir = root
	if combined, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("failed to build server: %w\n%s", err, combined)
	}
	return out, nil
}

// WriteTempConfig writes configData into dir as JSON or TOML and returns the
// file path.
func WriteTempConfig(dir string, configData interface{}, format string) (string, error) {
	var data []byte
	var ext string
	var err error

	switch strings.ToLower(format) {
	case "json":
		data, err = json.MarshalIndent(configData, "", "  ")
		ext = ".json"
	case "toml":
		buf := new(bytes.Buffer)
		if err = toml.NewEncoder(buf).Encode(configData); err == nil {
			data = buf.Bytes()
		}
		ext = ".toml"
	default:
		err = fmt.Errorf("unsupported config format: %s", format)
	}
	if err != nil {
		return "", fmt.Errorf("failed to marshal config data to %s: %w", format, err)
	}

	tmpFile, err := os.CreateTemp(dir, "testconfig-*"+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create temp config file: %w", err)
	}
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return "", fmt.Errorf("failed to write to temp config file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp config file: %w", err)
	}
	return tmpFile.Name(), nil
}

// StartTestServer launches binary with -config configFile from workDir and
// waits until address accepts connections. workDir matters: a relative
// document root resolves against it.
func StartTestServer(binary, configFile, address, workDir string) (*ServerInstance, error) {
	if binary == "" {
		return nil, fmt.Errorf("binary cannot be empty")
	}
	if configFile == "" {
		return nil, fmt.Errorf("configFile cannot be empty")
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		return nil, fmt.Errorf("invalid listen address %q: %w", address, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, binary, "-config", configFile)
	cmd.Dir = workDir
	logs := &syncBuffer{}
	cmd.Stdout = logs
	cmd.Stderr = logs

	s := &ServerInstance{
		Cmd:        cmd,
		Address:    address,
		ConfigPath: configFile,
		WorkDir:    workDir,
		logs:       logs,
		cancelCtx:  cancel,
		exited:     make(chan struct{}),
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start server process %q: %w", binary, err)
	}
	go s.wait()

	readyTimeout := 10 * time.Second
	pollInterval := 100 * time.Millisecond
	deadline := time.Now().Add(readyTimeout)
	var lastDialErr error
	for time.Now().Before(deadline) {
		select {
		case <-s.exited:
			cancel()
			return nil, fmt.Errorf("server exited before becoming ready: %v. Logs captured:\n%s", s.waitErr, s.Logs())
		default:
		}
		conn, err := net.DialTimeout("tcp", address, pollInterval)
		if err == nil {
			conn.Close()
			return s, nil
		}
		lastDialErr = err
		time.Sleep(pollInterval)
	}
	s.Stop()
	return nil, fmt.Errorf("server not ready at %s after %v. Last dial error: %v. Logs captured:\n%s", address, readyTimeout, lastDialErr, s.Logs())
}

func (s *ServerInstance) wait() {
	s.waitOnce.Do(func() {
		s.waitErr = s.Cmd.Wait()
		close(s.exited)
	})
}

// Logs returns everything the server has written to stdout and stderr so far.
func (s *ServerInstance) Logs() string {
	return s.logs.String()
}

// Stop sends SIGINT and waits for a graceful exit, killing the process if it
// does not exit within a few seconds. It returns the process's exit error.
func (s *ServerInstance) Stop() error {
	defer s.cancelCtx()
	select {
	case <-s.exited:
		return s.waitErr
	default:
	}
	if err := s.Cmd.Process.Signal(unix.SIGINT); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to signal server: %w", err)
	}
	select {
	case <-s.exited:
		return s.waitErr
	case <-time.After(5 * time.Second):
	}
	s.Cmd.Process.Kill()
	<-s.exited
	return fmt.Errorf("server did not exit after SIGINT; killed")
}

// SendRaw writes raw to the server and reads until the server closes the
// connection.
func SendRaw(address, raw string, timeout time.Duration) (ActualResponse, error) {
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return ActualResponse{}, fmt.Errorf("dial %s: %w", address, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	if _, err := io.WriteString(conn, raw); err != nil {
		return ActualResponse{}, fmt.Errorf("write request: %w", err)
	}
	data, err := io.ReadAll(conn)
	if err != nil {
		return ActualResponse{Raw: data}, fmt.Errorf("read response: %w", err)
	}
	return ParseResponse(data)
}

// Get sends a GET request line for path.
func Get(address, path string) (ActualResponse, error) {
	return SendRaw(address, "GET "+path+" HTTP/1.1\r\n\r\n", 5*time.Second)
}

// ParseResponse splits a complete HTTP/1.1 response into status, headers and
// body. The body is everything after the blank line.
func ParseResponse(data []byte) (ActualResponse, error) {
	res := ActualResponse{Raw: data}
	r := bufio.NewReader(bytes.NewReader(data))
	statusLine, err := r.ReadString('\n')
	if err != nil {
		return res, fmt.Errorf("failed to read status line from %q: %w", data, err)
	}
	parts := strings.SplitN(strings.TrimRight(statusLine, "\r\n"), " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return res, fmt.Errorf("malformed status line %q", statusLine)
	}
	res.StatusCode, err = strconv.Atoi(parts[1])
	if err != nil {
		return res, fmt.Errorf("malformed status code in %q: %w", statusLine, err)
	}
	if len(parts) == 3 {
		res.StatusText = parts[2]
	}

	mimeHeader, err := textproto.NewReader(r).ReadMIMEHeader()
	if err != nil && !errors.Is(err, io.EOF) {
		return res, fmt.Errorf("failed to parse headers: %w", err)
	}
	res.Headers = http.Header(mimeHeader)
	res.Body, err = io.ReadAll(r)
	if err != nil {
		return res, fmt.Errorf("failed to read body: %w", err)
	}
	return res, nil
}
