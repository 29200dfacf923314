package webmention

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors. Of these, only ErrNoEndpointFound is returned by this
// package, by Discoverer.Discover when no usable Webmention endpoint can be
// found; the others are not returned anywhere in the package.
var (
	ErrNotImplemented       = errors.New("not implemented")
	ErrNoEndpointFound      = errors.New("no webmention endpoint found")
	ErrNoRelWebmention      = errors.New("no webmention relationship found")
	ErrInvalidRelWebmention = errors.New("target has invalid webmention url")
)

// ErrorResponder lets an error write its own HTTP response. The HTTP glue
// checks for this interface before falling back to a generic 500, the way
// receiver.ServeHTTP already does for the teacher's MethodNotAllowed and
// TooManyRequests errors.
type ErrorResponder interface {
	error
	// RespondError writes a response for this error and reports whether it
	// did so. A false return means the caller should fall back to a
	// generic error response.
	RespondError(w http.ResponseWriter, r *http.Request) bool
}

// WebmentionError is the base of the error kinds spec.md §7 requires:
// ValidationError, GoneError, UpstreamError, StorageError. GoneError and
// UpstreamError carry the offending source/target so logs and HTTP bodies
// can identify the mention involved; ValidationError and StorageError leave
// them empty.
type WebmentionError struct {
	Kind    string
	Source  string
	Target  string
	Message string
	Err     error
}

func (e *WebmentionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s -> %s: %s", e.Kind, e.Source, e.Target, e.Err)
	}
	return fmt.Sprintf("%s: %s -> %s", e.Kind, e.Source, e.Target)
}

func (e *WebmentionError) Unwrap() error { return e.Err }

// RespondError writes a 400 with a JSON {"error": "..."} body, per spec.md
// §6's "On WebmentionException ... 400 with JSON {"error":"<message>"}".
func (e *WebmentionError) RespondError(w http.ResponseWriter, _ *http.Request) bool {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": e.Error()})
	return true
}

const (
	kindValidation = "validation"
	kindGone       = "gone"
	kindUpstream   = "upstream"
	kindStorage    = "storage"
)

// ValidationError reports malformed inputs: missing URLs, a target whose
// host doesn't match the configured base URL.
func ValidationError(message string) error {
	return &WebmentionError{Kind: kindValidation, Message: message}
}

// GoneError is raised when the source is unreachable (404/410) or no longer
// contains the target — the incoming processor treats this as a tombstone:
// delete the mention and fire on_mention_deleted.
func GoneError(source, target, message string) error {
	return &WebmentionError{Kind: kindGone, Source: source, Target: target, Message: message}
}

// UpstreamError wraps a transient fetch failure or non-2xx response from a
// source or an endpoint.
func UpstreamError(source, target string, err error) error {
	return &WebmentionError{Kind: kindUpstream, Source: source, Target: target, Err: err}
}

// StorageError wraps an error raised by the storage contract.
func StorageError(err error) error {
	return &WebmentionError{Kind: kindStorage, Err: err}
}

// IsGone reports whether err is (or wraps) a GoneError.
func IsGone(err error) bool {
	var we *WebmentionError
	return errors.As(err, &we) && we.Kind == kindGone
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var we *WebmentionError
	return errors.As(err, &we) && we.Kind == kindValidation
}

// IsUpstream reports whether err is (or wraps) an UpstreamError.
func IsUpstream(err error) bool {
	var we *WebmentionError
	return errors.As(err, &we) && we.Kind == kindUpstream
}

// IsStorage reports whether err is (or wraps) a StorageError.
func IsStorage(err error) bool {
	var we *WebmentionError
	return errors.As(err, &we) && we.Kind == kindStorage
}
