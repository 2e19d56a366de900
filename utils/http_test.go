package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	t.Run("successful write", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteJSON(w, http.StatusOK, map[string]string{"message": "test"})
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "test", response["message"])
	})

	t.Run("nil data", func(t *testing.T) {
		w := httptest.NewRecorder()

		require.NoError(t, WriteJSON(w, http.StatusNoContent, nil))

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, WriteCreated(w, map[string]string{"eventId": "evt_1"}))

	assert.Equal(t, http.StatusCreated, w.Code)
	var response SuccessResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "evt_1", response.Data.(map[string]interface{})["eventId"])
}

func TestWriteError_Codes(t *testing.T) {
	tests := []struct {
		status int
		code   string
	}{
		{http.StatusBadRequest, "bad_request"},
		{http.StatusUnauthorized, "unauthorized"},
		{http.StatusForbidden, "forbidden"},
		{http.StatusNotFound, "not_found"},
		{http.StatusConflict, "conflict"},
		{http.StatusUnprocessableEntity, "unprocessable_entity"},
		{http.StatusTooManyRequests, "rate_limit_exceeded"},
		{http.StatusServiceUnavailable, "unavailable"},
		{http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			w := httptest.NewRecorder()
			require.NoError(t, WriteError(w, tt.status, "boom", map[string]interface{}{"k": "v"}))

			assert.Equal(t, tt.status, w.Code)
			var response ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.code, response.Error)
			assert.Equal(t, "boom", response.Message)
			assert.Equal(t, "v", response.Details["k"])
		})
	}
}

func TestWriteDefaultMessages(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteUnauthorized(w, ""))
	assert.Contains(t, w.Body.String(), "Authentication required")

	w = httptest.NewRecorder()
	require.NoError(t, WriteTooManyRequests(w, "", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "Rate limit exceeded")
}

func TestWriteErrorCode(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteErrorCode(w, http.StatusConflict, "chain_race", "retry", nil))

	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "chain_race", response.Error)
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name    string
		body    string
		ctype   string
		wantErr string
	}{
		{name: "valid", body: `{"name":"acme"}`, ctype: "application/json"},
		{name: "no content type", body: `{"name":"acme"}`},
		{name: "empty", body: ``, wantErr: "request body is empty"},
		{name: "syntax", body: `{"name":`, wantErr: "malformed JSON"},
		{name: "type", body: `{"name":5}`, wantErr: "field name has the wrong type"},
		{name: "unknown field", body: `{"name":"a","extra":1}`, wantErr: `unknown field "extra"`},
		{name: "trailing", body: `{"name":"a"}{"name":"b"}`, wantErr: "single JSON object"},
		{name: "wrong content type", body: `{}`, ctype: "text/plain", wantErr: "content type"},
		{name: "too large", body: `{"name":"` + strings.Repeat("a", MaxBodyBytes) + `"}`, wantErr: "exceeds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			if tt.ctype != "" {
				r.Header.Set("Content-Type", tt.ctype)
			}
			var dst payload
			err := DecodeJSON(httptest.NewRecorder(), r, &dst)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "acme", dst.Name)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
