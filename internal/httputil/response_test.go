package httputil

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/zkgate/internal/errors"
	"github.com/R3E-Network/zkgate/internal/logging"
)

func TestWriteServiceError(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/execute/nope", nil)
	r = r.WithContext(logging.WithTraceID(r.Context(), "trace-42"))
	w := httptest.NewRecorder()

	WriteServiceError(w, r, errors.NotFound("program", "nope").WithDetails("program_id", "nope"))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.Equal(t, "trace-42", body.TraceID)
	assert.Equal(t, "nope", body.Error.Details["program_id"])
}

func TestWriteServiceErrorHidesUnknownErrors(t *testing.T) {
	w := httptest.NewRecorder()
	WriteServiceError(w, httptest.NewRequest(http.MethodGet, "/", nil), stderrors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "password")
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		ProgramID string `json:"program_id"`
	}

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"program_id":"sp1"}`))
	require.NoError(t, DecodeJSON(httptest.NewRecorder(), r, 1024, &v))
	assert.Equal(t, "sp1", v.ProgramID)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"program_id":`))
	err := DecodeJSON(httptest.NewRecorder(), r, 1024, &v)
	assert.True(t, errors.HasCode(err, errors.CodeMalformedInput))

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	err = DecodeJSON(httptest.NewRecorder(), r, 1024, &v)
	require.True(t, errors.HasCode(err, errors.CodeMalformedInput))
	assert.Contains(t, err.Error(), "empty request body")

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"program_id":"`+strings.Repeat("a", 64)+`"}`))
	err = DecodeJSON(httptest.NewRecorder(), r, 16, &v)
	require.True(t, errors.HasCode(err, errors.CodeMalformedInput))
	assert.Contains(t, err.Error(), "exceeds 16 bytes")
}

func TestReadAllLimits(t *testing.T) {
	data, truncated, err := ReadAllWithLimit(strings.NewReader("abcdef"), 4)
	require.NoError(t, err)
	assert.True(t, truncated)
	assert.Equal(t, "abcd", string(data))

	data, err = ReadAllStrict(strings.NewReader("abcd"), 4)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(data))

	_, err = ReadAllStrict(strings.NewReader("abcde"), 4)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}
