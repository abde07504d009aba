package localcontent

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/billy"
	"github.com/stretchr/testify/require"
)

func memoryServer(t *testing.T) *Server {
	t.Helper()
	fsys := billy.NewMemory()
	require.NoError(t, fsys.WriteFile("index.html", []byte("<html>home</html>"), 0o644))
	require.NoError(t, fsys.MkdirAll("img", 0o755))
	require.NoError(t, fsys.WriteFile("img/logo.gif", []byte("GIF89a"), 0o644))
	require.NoError(t, fsys.WriteFile("notes.txt", []byte("plain"), 0o644))
	require.NoError(t, fsys.WriteFile("secret.html", []byte("no"), 0o200))
	return NewWithFS(fsys, "")
}

func TestServeStatic(t *testing.T) {
	s := memoryServer(t)
	var out bytes.Buffer
	require.NoError(t, s.Serve(context.Background(), &out, "/index.html"))

	want := "HTTP/1.0 200 OK\r\n" +
		"Server: Forward-Cache Web Server\r\n" +
		"Content-length: 17\r\n" +
		"Content-type: text/html\r\n\r\n" +
		"<html>home</html>"
	require.Equal(t, want, out.String())
}

func TestServeStaticContentTypes(t *testing.T) {
	s := memoryServer(t)

	var out bytes.Buffer
	require.NoError(t, s.Serve(context.Background(), &out, "/img/logo.gif"))
	require.Contains(t, out.String(), "Content-type: image/gif\r\n")

	out.Reset()
	require.NoError(t, s.Serve(context.Background(), &out, "/notes.txt?ignored=1"))
	require.Contains(t, out.String(), "Content-type: text/plain\r\n")
	require.Contains(t, out.String(), "\r\n\r\nplain")
}

func TestServeMissing(t *testing.T) {
	s := memoryServer(t)
	var out bytes.Buffer
	err := s.Serve(context.Background(), &out, "/nope.html")
	require.Error(t, err)
	require.Equal(t, errors.CodeNotFound, errors.GetCode(err))
	require.Zero(t, out.Len())
}

func TestServeForbidden(t *testing.T) {
	s := memoryServer(t)
	for _, p := range []string{"/secret.html", "/img"} {
		var out bytes.Buffer
		err := s.Serve(context.Background(), &out, p)
		require.Error(t, err, p)
		require.Equal(t, errors.CodeForbidden, errors.GetCode(err), p)
		require.Zero(t, out.Len())
	}
}

func TestServeStaysInsideRoot(t *testing.T) {
	s := memoryServer(t)
	var out bytes.Buffer
	require.NoError(t, s.Serve(context.Background(), &out, "/../../index.html"))
	require.Contains(t, out.String(), "<html>home</html>")
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		in      string
		name    string
		args    string
		dynamic bool
	}{
		{"/index.html", "index.html", "", false},
		{"/", ".", "", false},
		{"/cgi-bin/adder?1&2", "cgi-bin/adder", "1&2", true},
		{"/cgi-bin/adder", "cgi-bin/adder", "", true},
		{"/a/../b.txt", "b.txt", "", false},
	}
	for _, tt := range tests {
		name, args, dynamic := splitPath(tt.in)
		require.Equal(t, tt.name, name, tt.in)
		require.Equal(t, tt.args, args, tt.in)
		require.Equal(t, tt.dynamic, dynamic, tt.in)
	}
}

func TestContentType(t *testing.T) {
	require.Equal(t, "text/html", ContentType("a.html"))
	require.Equal(t, "image/jpeg", ContentType("a.JPG"))
	require.Equal(t, "image/jpeg", ContentType("a.jpeg"))
	require.Equal(t, "image/png", ContentType("a.png"))
	require.Equal(t, "text/plain", ContentType("Makefile"))
}

func cgiServer(t *testing.T) *Server {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("CGI test needs a POSIX shell")
	}
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "cgi-bin"), 0o755))
	script := "#!/bin/sh\n" +
		"printf 'Content-type: text/plain\\r\\n\\r\\n'\n" +
		"printf 'args=%s' \"$QUERY_STRING\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "cgi-bin", "echo"), []byte(script), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "cgi-bin", "fail"), []byte("#!/bin/sh\nexit 3\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "cgi-bin", "noexec"), []byte("#!/bin/sh\n"), 0o644))

	s, err := NewLocal(root)
	require.NoError(t, err)
	require.Equal(t, root, s.Root())
	return s
}

func TestServeDynamic(t *testing.T) {
	s := cgiServer(t)
	var out bytes.Buffer
	require.NoError(t, s.Serve(context.Background(), &out, "/cgi-bin/echo?15&213"))

	want := "HTTP/1.0 200 OK\r\n" +
		"Server: Forward-Cache Web Server\r\n" +
		"Content-type: text/plain\r\n\r\n" +
		"args=15&213"
	require.Equal(t, want, out.String())
}

func TestServeDynamicErrors(t *testing.T) {
	s := cgiServer(t)

	var out bytes.Buffer
	err := s.Serve(context.Background(), &out, "/cgi-bin/fail")
	require.Equal(t, errors.CodeExecutionFailed, errors.GetCode(err))

	err = s.Serve(context.Background(), &out, "/cgi-bin/noexec")
	require.Equal(t, errors.CodeForbidden, errors.GetCode(err))

	err = s.Serve(context.Background(), &out, "/cgi-bin/missing?x")
	require.Equal(t, errors.CodeNotFound, errors.GetCode(err))

	require.Zero(t, out.Len())
}
