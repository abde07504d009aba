// Package localcontent answers requests that are addressed to the proxy itself.
// Files below the document root are served as-is, programs below a cgi-bin directory are run
// and their output is returned.
package localcontent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/exec"
	"github.com/jmgilman/go/fs/billy"
	"github.com/jmgilman/go/fs/core"
	"github.com/rs/zerolog"
)

// ServerName is sent in the Server header of every local response.
const ServerName = "Forward-Cache Web Server"

const cgiMarker = "cgi-bin"

// Server serves the content of a document root.
type Server struct {
	fs core.FS
	// root is the document root on disk, used as the working directory of CGI programs
	root string
	log  zerolog.Logger
}

// NewLocal returns a server for the directory root on the local disk.
func NewLocal(root string) (*Server, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidConfig, "invalid document root %s", root)
	}
	fsys, err := billy.NewLocal().Chroot(abs)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidConfig, "could not open document root %s", abs)
	}
	return NewWithFS(fsys, abs), nil
}

// NewWithFS returns a server reading files from fsys.
// CGI programs are executed from root, which should be where fsys lives on disk.
func NewWithFS(fsys core.FS, root string) *Server {
	return &Server{fs: fsys, root: root, log: zerolog.Nop()}
}

// WithLogger sets the logger of the server.
func (s *Server) WithLogger(l zerolog.Logger) *Server {
	s.log = l.With().Str("component", "localcontent").Logger()
	return s
}

// Root returns the document root on disk.
func (s *Server) Root() string {
	return s.root
}

// Serve writes the complete HTTP/1.0 response for the request path to w.
// Nothing is written if an error is returned, except when writing to w itself failed.
// Errors carry the codes CodeNotFound, CodeForbidden or CodeExecutionFailed.
func (s *Server) Serve(ctx context.Context, w io.Writer, requestPath string) error {
	name, args, dynamic := splitPath(requestPath)
	info, err := s.fs.Stat(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errors.Wrapf(err, errors.CodeNotFound, "cannot find %s", name)
		}
		return errors.Wrapf(err, errors.CodeForbidden, "cannot stat %s", name)
	}

	if dynamic {
		if !info.Mode().IsRegular() || info.Mode().Perm()&0o100 == 0 {
			return errors.Newf(errors.CodeForbidden, "cannot run %s", name)
		}
		return s.serveDynamic(ctx, w, name, args)
	}
	if !info.Mode().IsRegular() || info.Mode().Perm()&0o400 == 0 {
		return errors.Newf(errors.CodeForbidden, "cannot read %s", name)
	}
	return s.serveStatic(w, name, info.Size())
}

// splitPath turns a request path into a file name relative to the document root.
// For CGI paths, everything after the first '?' are the program arguments.
func splitPath(requestPath string) (name, args string, dynamic bool) {
	p, query, _ := strings.Cut(requestPath, "?")
	dynamic = strings.Contains(requestPath, cgiMarker)
	if dynamic {
		args = query
	}
	// cleaning a rooted path drops every leading ".."
	name = strings.TrimPrefix(path.Clean("/"+p), "/")
	if name == "" {
		name = "."
	}
	return name, args, dynamic
}

func (s *Server) serveStatic(w io.Writer, name string, size int64) error {
	f, err := s.fs.Open(name)
	if err != nil {
		return errors.Wrapf(err, errors.CodeForbidden, "cannot read %s", name)
	}
	defer f.Close()

	var head bytes.Buffer
	head.WriteString("HTTP/1.0 200 OK\r\n")
	head.WriteString("Server: " + ServerName + "\r\n")
	fmt.Fprintf(&head, "Content-length: %d\r\n", size)
	fmt.Fprintf(&head, "Content-type: %s\r\n\r\n", ContentType(name))
	if _, err := w.Write(head.Bytes()); err != nil {
		return errors.Wrap(err, errors.CodeNetwork, "could not write response head")
	}
	n, err := io.Copy(w, f)
	if err != nil {
		return errors.Wrapf(err, errors.CodeNetwork, "could not send %s", name)
	}
	s.log.Trace().Str("file", name).Int64("bytes", n).Msg("Served static content")
	return nil
}

func (s *Server) serveDynamic(ctx context.Context, w io.Writer, name, args string) error {
	program := filepath.Join(s.root, filepath.FromSlash(name))
	cmd := exec.New(
		exec.WithContext(ctx),
		exec.WithDir(s.root),
		exec.WithInheritEnv(),
		exec.WithEnv(map[string]string{"QUERY_STRING": args}),
	)
	res, err := cmd.Run(program)
	if err != nil {
		s.log.Debug().Err(err).Str("program", name).Msg("CGI program failed")
		return errors.Wrapf(err, errors.CodeExecutionFailed, "could not run %s", name)
	}

	head := "HTTP/1.0 200 OK\r\nServer: " + ServerName + "\r\n"
	if _, err := io.WriteString(w, head+res.Stdout); err != nil {
		return errors.Wrap(err, errors.CodeNetwork, "could not write CGI output")
	}
	s.log.Trace().Str("program", name).Int("bytes", len(res.Stdout)).Msg("Served dynamic content")
	return nil
}

// ContentType derives the content type from the file extension.
func ContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".html", ".htm":
		return "text/html"
	case ".gif":
		return "image/gif"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	default:
		return "text/plain"
	}
}
