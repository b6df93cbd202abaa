package etlsrv

import (
	"net/http"

	"github.com/pkg/errors"
)

// Kind is the error taxonomy — a classification, not a concrete type
// hierarchy, modeled as a Result<Bytes, ErrorKind> outcome.
type Kind string

const (
	ArgsMissing        Kind = "ARGS_MISSING"
	ArgsInvalid        Kind = "ARGS_INVALID"
	PayloadUnavailable Kind = "PAYLOAD_UNAVAILABLE"
	TransformFailed    Kind = "TRANSFORM_FAILED"
	DirectPutFailed    Kind = "DIRECT_PUT_FAILED"
	UnsafePayload      Kind = "UNSAFE_PAYLOAD"

	// domain extensions used by transforms/audiosplit — both map to a
	// 422/500-class response the same way TransformFailed does, but
	// keep a distinct Kind for logging and /metrics.
	MediaInvalid    Kind = "MEDIA_INVALID"
	MediaTrimFailed Kind = "MEDIA_TRIM_FAILED"
)

// maxErrBody is the cap on an error response body: its message is
// truncated to 1 KiB.
const maxErrBody = 1024

// Error wraps a classified failure with its HTTP status and the
// underlying cause, using the same error-wrap/cause idiom as
// github.com/pkg/errors throughout this codebase (grounded in
// ais/s3/err.go's cmn.ErrHTTP use).
type Error struct {
	Kind   Kind
	Status int
	cause  error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error { return e.cause }

func newErr(kind Kind, status int, cause error) *Error {
	return &Error{Kind: kind, Status: status, cause: errors.WithStack(cause)}
}

func errArgsMissing(field string) *Error {
	return newErr(ArgsMissing, http.StatusBadRequest, errors.Errorf("missing required arg %q", field))
}

func errArgsInvalid(cause error) *Error {
	return newErr(ArgsInvalid, http.StatusBadRequest, errors.Wrap(cause, "failed to decode etl_args"))
}

func errPayloadUnavailable(status int, cause error) *Error {
	return newErr(PayloadUnavailable, status, cause)
}

func errTransformFailed(cause error) *Error {
	return newErr(TransformFailed, http.StatusInternalServerError, cause)
}

func errDirectPutFailed(status int, cause error) *Error {
	return newErr(DirectPutFailed, status, cause)
}

// Exported constructors: a registered Transform classifies its own
// failures using these instead of returning an opaque error that would
// otherwise collapse to TRANSFORM_FAILED.

func NewArgsMissing(field string) error {
	return errArgsMissing(field)
}

func NewArgsInvalid(cause error) error {
	return errArgsInvalid(cause)
}

func NewMediaInvalid(cause error) error {
	return newErr(MediaInvalid, http.StatusUnprocessableEntity, cause)
}

func NewMediaTrimFailed(cause error) error {
	return newErr(MediaTrimFailed, http.StatusInternalServerError, cause)
}

// body returns the (possibly truncated) HTTP response body for err.
func (e *Error) body() []byte {
	msg := e.Error()
	if len(msg) > maxErrBody {
		msg = msg[:maxErrBody]
	}
	return []byte(msg)
}

// writeErr classifies and writes err to w: map Kind to status, cap the
// body, never touch /health.
func writeErr(w http.ResponseWriter, err error) {
	e, ok := err.(*Error)
	if !ok {
		e = errTransformFailed(err)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(e.Status)
	w.Write(e.body())
}

func errMethodf(method string) error   { return errors.Errorf("unsupported method %q", method) }
func errOutsidePrefix(p string) error  { return errors.Errorf("fqn %q outside allowed prefix", p) }
func errNoTargetURL() error            { return errors.New("AIS_TARGET_URL not configured") }
func errStatusf(status int) error      { return errors.Errorf("unexpected status %d", status) }
