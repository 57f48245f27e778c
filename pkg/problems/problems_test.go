package problems

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrUnauthorized, http.StatusUnauthorized},
		{fmt.Errorf("select tenant: %w", ErrNotAMember), http.StatusForbidden},
		{ErrForbidden, http.StatusForbidden},
		{ErrInvalidOrExpired, http.StatusNotFound},
		{ErrAlreadyMember, http.StatusConflict},
		{ErrServiceUnavailable, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, Status(tt.err))
		})
	}
}

func TestWriterWrite(t *testing.T) {
	pw := NewWriter("https://auth.example.com/problems/")
	rec := httptest.NewRecorder()
	pw.Write(rec, fmt.Errorf("%w: slug taken", ErrConflict))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "https://auth.example.com/problems/conflict", p.Type)
	assert.Equal(t, "conflict: slug taken", p.Detail)
}

func TestWriterHidesAuthDetail(t *testing.T) {
	pw := NewWriter("")
	p := pw.For(fmt.Errorf("user strategy: token expired: %w", ErrUnauthorized))
	assert.Equal(t, http.StatusUnauthorized, p.Status)
	assert.Empty(t, p.Detail)
	assert.Equal(t, "https://example.com/problems/unauthorized", p.Type)
}
