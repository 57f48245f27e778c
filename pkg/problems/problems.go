package problems

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// Error taxonomy shared by every component. Callers wrap these with fmt.Errorf("...: %w")
// and the HTTP layer classifies them with errors.Is.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotAMember         = errors.New("not a member of tenant")
	ErrInvalidOrExpired   = errors.New("invitation invalid or expired")
	ErrAlreadyMember      = errors.New("already a member")
	ErrConflict           = errors.New("conflict")
	ErrNotFound           = errors.New("not found")
	ErrBadRequest         = errors.New("bad request")
	ErrMethodNotAllowed   = errors.New("method not allowed")
	ErrServiceUnavailable = errors.New("service unavailable")
)

type kind struct {
	err    error
	status int
	slug   string
	title  string
}

// Ordered: the first match wins for errors that wrap several sentinels.
var kinds = []kind{
	{ErrUnauthorized, http.StatusUnauthorized, "unauthorized", "Unauthorized"},
	{ErrNotAMember, http.StatusForbidden, "not-a-member", "Not a member of this tenant"},
	{ErrForbidden, http.StatusForbidden, "forbidden", "Forbidden"},
	{ErrInvalidOrExpired, http.StatusNotFound, "invalid-or-expired", "Invitation is invalid or expired"},
	{ErrAlreadyMember, http.StatusConflict, "already-member", "Already a member"},
	{ErrConflict, http.StatusConflict, "conflict", "Conflict"},
	{ErrNotFound, http.StatusNotFound, "not-found", "Not found"},
	{ErrBadRequest, http.StatusBadRequest, "bad-request", "Bad request"},
	{ErrMethodNotAllowed, http.StatusMethodNotAllowed, "method-not-allowed", "Method not allowed"},
	{ErrServiceUnavailable, http.StatusServiceUnavailable, "service-unavailable", "Service unavailable"},
}

// Problem is an RFC 7807 body.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Writer renders errors as application/problem+json under a fixed base URL.
type Writer struct {
	base string
}

func NewWriter(base string) Writer {
	base = strings.TrimRight(base, "/")
	if base == "" {
		base = "https://example.com/problems"
	}
	return Writer{base: base}
}

// Type builds a full problem type URL for the given slug.
func (pw Writer) Type(slug string) string { return pw.base + "/" + slug }

// Status maps err onto an HTTP status; unknown errors are 500.
func Status(err error) int {
	if k, ok := classify(err); ok {
		return k.status
	}
	return http.StatusInternalServerError
}

func classify(err error) (kind, bool) {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k, true
		}
	}
	return kind{}, false
}

// For builds the problem body for err. Detail is only echoed for client errors
// whose text carries no authorization hints (bad request, conflict).
func (pw Writer) For(err error) Problem {
	k, ok := classify(err)
	if !ok {
		return Problem{Type: pw.Type("internal"), Title: "Internal error", Status: http.StatusInternalServerError}
	}
	p := Problem{Type: pw.Type(k.slug), Title: k.title, Status: k.status}
	if errors.Is(err, ErrBadRequest) || errors.Is(err, ErrConflict) {
		p.Detail = err.Error()
	}
	return p
}

func (pw Writer) Write(w http.ResponseWriter, err error) {
	p := pw.For(err)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}
