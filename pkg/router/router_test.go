package router

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

var errNotFound = errors.New("not found")

func Test_ErrorMapper(t *testing.T) {
	router := New()
	router.RegisterErrorMapper(errNotFound, func(err error) Error {
		return NewJsonError(http.StatusNotFound, errNotFound.Error())
	})

	tcs := []struct {
		name string
		err  error
		exp  Error
	}{
		{
			name: "registered error",
			err:  errNotFound,
			exp:  JsonError{Code: 404, Err: "not found"},
		},
		{
			name: "wrapped registered error",
			err:  fmt.Errorf("load room: %w", errNotFound),
			exp:  JsonError{Code: 404, Err: "not found"},
		},
		{
			name: "unknown error",
			err:  errors.New("random error"),
			exp:  router.defaultError,
		},
		{
			name: "api error",
			err:  JsonError{Code: 400, Err: "API Error"},
			exp:  JsonError{Code: 400, Err: "API Error"},
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.exp, router.mapError(tc.err))
		})
	}
}

func Test_HandlerError(t *testing.T) {
	router := New()
	router.RegisterErrorMapper(errNotFound, func(err error) Error {
		return NewJsonError(http.StatusNotFound, errNotFound.Error())
	})
	router.Route("/rooms", func(r *Router) {
		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) error {
			return fmt.Errorf("room %s: %w", r.PathValue("id"), errNotFound)
		})
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/r1", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body JsonError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, JsonError{Code: 404, Err: "not found"}, body)
}

func Test_WrapJsonError(t *testing.T) {
	errExpired := errors.New("token expired")
	err := fmt.Errorf("verify: %w", WrapJsonError(http.StatusUnauthorized, errExpired))

	assert.ErrorIs(t, err, errExpired)
	mapped := New().mapError(err)
	assert.Equal(t, http.StatusUnauthorized, mapped.StatusCode())
	assert.ErrorIs(t, mapped, errExpired)

	rec := httptest.NewRecorder()
	require.NoError(t, mapped.Encode(rec))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"code":401,"error":"token expired"}`, rec.Body.String())
}
