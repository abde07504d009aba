// Package translator turns a client request head into the request that is sent to the origin.
package translator

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/jmgilman/go/errors"
)

const (
	// LocalHost is the pseudo host of requests that are answered by the proxy itself.
	LocalHost   = "localhost"
	DefaultPort = "80"
	DefaultPath = "/index.html"
	// MethodGet is the only method the proxy forwards.
	MethodGet = "GET"
	// MaxLineLength bounds every line of the request head, including the line terminator.
	MaxLineLength = 8192
	// MaxHeaderLines bounds the number of header lines of the request head.
	MaxHeaderLines = 100
)

const (
	UserAgent      = "Mozilla/5.0 (X11; Linux x86_64; rv:10.0.3) Gecko/20120305 Firefox/10.0.3"
	Accept         = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	AcceptEncoding = "gzip, deflate"
)

const schemePrefix = "http://"

// Target is the origin a request is addressed to.
type Target struct {
	Host string
	Port string
	Path string
	// Local is set when the request carried no host and has to be served by the proxy itself.
	Local bool
}

// ParseTarget splits a request URI into host, port and path.
// The scheme, port and path are all optional:
//
//	http://example.com:8080/a  -> example.com 8080 /a
//	example.com                -> example.com 80   /index.html
//	/a                         -> localhost   80   /a (Local)
func ParseTarget(uri string) (Target, error) {
	rest := uri
	if len(rest) >= len(schemePrefix) && strings.EqualFold(rest[:len(schemePrefix)], schemePrefix) {
		rest = rest[len(schemePrefix):]
	}

	t := Target{Port: DefaultPort, Path: DefaultPath}
	i := strings.IndexAny(rest, ":/")
	if i < 0 {
		t.Host, rest = rest, ""
	} else {
		t.Host, rest = rest[:i], rest[i:]
	}
	if t.Host == "" {
		t.Host = LocalHost
		t.Local = true
	}

	if strings.HasPrefix(rest, ":") {
		port := rest[1:]
		if j := strings.IndexByte(port, '/'); j >= 0 {
			port, rest = port[:j], port[j:]
		} else {
			rest = ""
		}
		if port != "" {
			if !isDigits(port) {
				return Target{}, errors.Newf(errors.CodeInvalidInput, "invalid port %q in %q", port, uri)
			}
			t.Port = port
		}
	}
	if rest != "" {
		t.Path = rest
	}
	return t, nil
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}

// RequestLine is the first line of a client request.
type RequestLine struct {
	Method  string
	URI     string
	Version string
}

// IsGet reports whether the method is GET, ignoring case.
func (rl RequestLine) IsGet() bool {
	return strings.EqualFold(rl.Method, MethodGet)
}

// ParseRequestLine splits "METHOD URI [VERSION]".
func ParseRequestLine(line string) (RequestLine, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return RequestLine{}, errors.Newf(errors.CodeInvalidInput, "malformed request line %q", line)
	}
	rl := RequestLine{Method: fields[0], URI: fields[1]}
	if len(fields) > 2 {
		rl.Version = fields[2]
	}
	return rl, nil
}

// ReadRequestHead reads the request line and the header lines up to the terminating blank line.
// Line terminators are stripped. A head cut short by EOF is accepted as long as the request line is complete.
func ReadRequestHead(r *bufio.Reader) (string, []string, error) {
	line, err := readLine(r)
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			return "", nil, errors.Wrap(err, errors.CodeInvalidInput, "connection closed before request line")
		}
		return "", nil, err
	}
	if err == io.EOF {
		return line, nil, nil
	}

	var headers []string
	for {
		h, err := readLine(r)
		if err == io.EOF {
			if h != "" {
				headers = append(headers, h)
			}
			return line, headers, nil
		}
		if err != nil {
			return "", nil, err
		}
		if h == "" {
			return line, headers, nil
		}
		if len(headers) == MaxHeaderLines {
			return "", nil, errors.Newf(errors.CodeInvalidInput, "request head has more than %d header lines", MaxHeaderLines)
		}
		headers = append(headers, h)
	}
}

// readLine returns one line without its terminator.
func readLine(r *bufio.Reader) (string, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > MaxLineLength {
			return "", errors.Newf(errors.CodeInvalidInput, "request head line longer than %d bytes", MaxLineLength)
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		s := strings.TrimRight(string(line), "\r\n")
		if err != nil {
			if err == io.EOF {
				return s, io.EOF
			}
			return "", errors.Wrap(err, errors.CodeNetwork, "could not read request")
		}
		return s, nil
	}
}

// replaced headers get a fixed value, dropped headers are always re-added as "close"
var (
	replaced = []struct{ name, value string }{
		{"User-Agent", UserAgent},
		{"Accept", Accept},
		{"Accept-Encoding", AcceptEncoding},
	}
	dropped = []string{"Connection", "Proxy-Connection"}
)

// BuildForwardRequest creates the HTTP/1.0 request sent to the origin.
//
// Client headers pass through unchanged, except that User-Agent, Accept and Accept-Encoding
// get fixed values and Connection and Proxy-Connection are dropped. Header names are matched
// ignoring case. Missing fixed headers are appended, Connection and Proxy-Connection are always
// appended as "close", and a Host header for host:port is added if the client sent none.
func BuildForwardRequest(method, path string, headerLines []string, host, port string) []byte {
	var b bytes.Buffer
	b.WriteString(method + " " + path + " HTTP/1.0\r\n")

	present := make(map[string]bool)
	hasHost := false
lines:
	for _, line := range headerLines {
		name := headerName(line)
		if strings.EqualFold(name, "Host") {
			hasHost = true
		}
		for _, d := range dropped {
			if strings.EqualFold(name, d) {
				continue lines
			}
		}
		for _, r := range replaced {
			if strings.EqualFold(name, r.name) {
				if !present[r.name] {
					b.WriteString(r.name + ": " + r.value + "\r\n")
					present[r.name] = true
				}
				continue lines
			}
		}
		b.WriteString(line + "\r\n")
	}

	for _, r := range replaced {
		if !present[r.name] {
			b.WriteString(r.name + ": " + r.value + "\r\n")
		}
	}
	for _, d := range dropped {
		b.WriteString(d + ": close\r\n")
	}
	if !hasHost {
		b.WriteString("Host: " + host)
		if port != "" && port != DefaultPort {
			b.WriteString(":" + port)
		}
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

func headerName(line string) string {
	name, _, _ := strings.Cut(line, ":")
	return strings.TrimSpace(name)
}
