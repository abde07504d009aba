package forwardcache

import (
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"

	"github.com/jmgilman/go/errors"
)

// explanations are the long messages of the error pages
var explanations = map[int]string{
	http.StatusBadRequest:          "The request cannot be fulfilled due to bad syntax",
	http.StatusForbidden:           "The proxy is not allowed to read this file",
	http.StatusNotFound:            "The proxy cannot find this file",
	http.StatusInternalServerError: "The proxy could not fetch the requested resource",
	http.StatusNotImplemented:      "The proxy does not implement this method",
}

// statusForError maps an error code to the status of the error page sent to the client.
func statusForError(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeInvalidInput:
		return http.StatusBadRequest
	case errors.CodeForbidden:
		return http.StatusForbidden
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// errorPage renders a complete HTTP/1.0 error response.
// cause is what the error is about, e.g. the method or the host name.
func errorPage(status int, cause string) []byte {
	text := http.StatusText(status)
	var body strings.Builder
	body.WriteString("<html><title>Forward-Cache Error</title>")
	body.WriteString("<body bgcolor=\"ffffff\">\r\n")
	fmt.Fprintf(&body, "%d: %s\r\n", status, text)
	fmt.Fprintf(&body, "<p>%s: %s\r\n", explanations[status], html.EscapeString(cause))
	body.WriteString("<hr><em>Forward-Cache</em>\r\n")
	body.WriteString("</body></html>\r\n")

	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.0 %d %s\r\n", status, text)
	b.WriteString("Content-type: text/html\r\n")
	fmt.Fprintf(&b, "Content-length: %d\r\n\r\n", body.Len())
	b.WriteString(body.String())
	return []byte(b.String())
}

// writeError sends the error page for err to w and returns its status.
func writeError(w io.Writer, err error, cause string) (int, error) {
	status := statusForError(err)
	_, werr := w.Write(errorPage(status, cause))
	return status, werr
}
