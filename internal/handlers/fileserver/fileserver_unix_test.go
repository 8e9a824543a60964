//go:build unix

package fileserver

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestDispatch_SpecialFileIsForbidden(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, unix.Mkfifo(filepath.Join(root, "pipe"), 0644))
	d := newTestDispatcher(t, root, nil)

	resp, kind, rec := serve(t, d, "GET /pipe HTTP/1.1\r\n\r\n")
	assert.Equal(t, KindOther, kind)
	assert.Equal(t, 403, rec.status)
	assert.Equal(t, "HTTP/1.1 403 Forbidden\r\nContent-Type: text/html\r\n\r\n"+
		"<html><body><h1>403 Forbidden</h1><p>Forbidden</p></body></html>", resp)
}

func TestDispatch_UnreadableDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can open any directory")
	}
	root := t.TempDir()
	locked := filepath.Join(root, "locked")
	require.NoError(t, os.Mkdir(locked, 0755))
	require.NoError(t, os.Chmod(locked, 0))
	t.Cleanup(func() { os.Chmod(locked, 0755) })
	d := newTestDispatcher(t, root, nil)

	resp, kind, rec := serve(t, d, "GET /locked HTTP/1.1\r\n\r\n")
	assert.Equal(t, KindDirectory, kind)
	assert.Equal(t, 500, rec.status)
	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 500 Failed to open directory\r\n"), resp)
}

func TestDispatch_UnreadableFile(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can open any file")
	}
	root := t.TempDir()
	writeFile(t, root, "secret.txt", "s", 0)
	d := newTestDispatcher(t, root, nil)

	resp, kind, rec := serve(t, d, "GET /secret.txt HTTP/1.1\r\n\r\n")
	assert.Equal(t, KindRegularAsset, kind)
	assert.Equal(t, 404, rec.status)
	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 404 Not Found\r\n"), resp)
}

func TestClassify(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "page.html", "", 0644)
	writeFile(t, root, "run.gci", "", 0755)
	writeFile(t, root, "run.gcix", "", 0755)
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir.gci"), 0755))
	require.NoError(t, unix.Mkfifo(filepath.Join(root, "fifo"), 0644))
	require.NoError(t, os.Symlink("page.html", filepath.Join(root, "link")))
	require.NoError(t, os.Symlink("gone", filepath.Join(root, "dangling")))

	tests := []struct {
		rel  string
		want Kind
	}{
		{"page.html", KindRegularAsset},
		{"run.gci", KindRegularScript},
		{"run.gcix", KindRegularScript},
		{"dir.gci", KindDirectory},
		{"fifo", KindOther},
		{"link", KindRegularAsset},
		{"dangling", KindMissing},
		{"absent", KindMissing},
		{"page.html/child", KindMissing},
	}
	for _, tc := range tests {
		t.Run(tc.rel, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(filepath.Join(root, tc.rel), tc.rel, ".gci"))
		})
	}

	assert.Equal(t, KindRegularAsset, Classify(filepath.Join(root, "run.gci"), "run.gci", ""),
		"an empty suffix disables script detection")
}

func TestDispatch_ScriptOwnsTheStream(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "hello.gci", "#!/bin/sh\nprintf 'HTTP/1.1 200 OK\\r\\n\\r\\nhello from script'\n", 0755)
	d := newTestDispatcher(t, root, nil)

	resp, kind, rec := serve(t, d, "GET /hello.gci HTTP/1.1\r\n\r\n")
	assert.Equal(t, KindRegularScript, kind)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n\r\nhello from script", resp)
	assert.Equal(t, 0, rec.status, "no status line is written for scripts")
	assert.EqualValues(t, len(resp), rec.bytes)
}

func TestDispatch_ScriptWithoutInterpreterLine(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "plain.gci", "echo fallback\n", 0755)
	d := newTestDispatcher(t, root, nil)

	resp, _, _ := serve(t, d, "GET /plain.gci HTTP/1.1\r\n\r\n")
	assert.Equal(t, "fallback\n", resp)
}

func TestDispatch_ScriptStderrAndExitStatus(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "fail.gci", "#!/bin/sh\necho partial\necho first problem >&2\nprintf 'no newline' >&2\nexit 3\n", 0755)
	logs := &syncBuffer{}
	d := newTestDispatcher(t, root, logs)

	resp, _, _ := serve(t, d, "GET /fail.gci HTTP/1.1\r\n\r\n")
	assert.Equal(t, "partial\n", resp, "nothing is appended after a failing script")

	out := logs.String()
	assert.Contains(t, out, `"line":"first problem"`)
	assert.Contains(t, out, `"line":"no newline"`)
	assert.Contains(t, out, `"exit_code":3`)
	assert.Contains(t, out, "Script exited with non-zero status")
}

func TestDispatch_ScriptNotExecutable(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "noexec.gci", "#!/bin/sh\necho should not run\n", 0644)
	d := newTestDispatcher(t, root, nil)

	resp, _, rec := serve(t, d, "GET /noexec.gci HTTP/1.1\r\n\r\n")
	assert.Equal(t, 500, rec.status)
	// Start failures are reported before the child writes anything, so the
	// error page is the whole response.
	assert.Equal(t, "HTTP/1.1 500 Internal Server Error\r\nContent-Type: text/html\r\n\r\n"+
		"<html><body><h1>500 Internal Server Error</h1><p>Internal Server Error</p></body></html>", resp)
}

func TestDispatch_ProcessCreationFailure(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "busy.gci", "#!/bin/sh\necho unreachable\n", 0755)
	d := newTestDispatcher(t, root, nil)

	for _, errno := range []unix.Errno{unix.EAGAIN, unix.ENOMEM} {
		t.Run(errno.Error(), func(t *testing.T) {
			orig := startCommand
			startCommand = func(cmd *exec.Cmd) error {
				return &os.PathError{Op: "fork/exec", Path: cmd.Path, Err: errno}
			}
			t.Cleanup(func() { startCommand = orig })

			resp, _, rec := serve(t, d, "GET /busy.gci HTTP/1.1\r\n\r\n")
			assert.Equal(t, 500, rec.status)
			assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 500 Internal Server Error: cannot create script process\r\n"), resp)
		})
	}
}

func TestSpawnErrorClassification(t *testing.T) {
	wrap := func(err error) error { return &os.PathError{Op: "fork/exec", Path: "x", Err: err} }

	assert.True(t, isProcessCreationError(wrap(unix.EAGAIN)))
	assert.True(t, isProcessCreationError(wrap(unix.ENOMEM)))
	assert.False(t, isProcessCreationError(wrap(unix.EACCES)))
	assert.False(t, isProcessCreationError(errors.New("other")))
	assert.True(t, isExecFormatError(wrap(unix.ENOEXEC)))
	assert.False(t, isExecFormatError(wrap(unix.ENOENT)))
}
