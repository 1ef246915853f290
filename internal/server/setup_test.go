package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mobiletoly/go-ledgersync/ledgersync"
	"github.com/stretchr/testify/require"
)

func TestSetupServer_InMemory(t *testing.T) {
	var logs bytes.Buffer
	comps, err := SetupServer(context.Background(), &ServerConfig{
		JWTSecret:   "test-secret",
		Logger:      slog.New(slog.NewTextHandler(&logs, nil)),
		DevSignin:   true,
		LogRequests: true,
	})
	require.NoError(t, err)
	defer comps.Close()
	require.Nil(t, comps.Pool)

	srv := httptest.NewServer(comps.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, logs.String(), "path=/health")

	resp, err = http.Post(srv.URL+"/dev/signin", "application/json", strings.NewReader(`{"user":"shop-1","device":"till"}`))
	require.NoError(t, err)
	var signin SigninResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&signin))
	resp.Body.Close()
	require.Equal(t, "shop-1", signin.User)
	require.NotEmpty(t, signin.Token)

	// The issued token works against the document API
	client := ledgersync.NewHTTPClient(srv.URL, ledgersync.StaticToken(signin.Token))
	require.NoError(t, client.Ping(context.Background()))
	id, err := client.Create(context.Background(), ledgersync.CollectionCustomers, "local-1", json.RawMessage(`{
		"name": "ana", "display_name": "Ana", "phone_number": null, "balance": "0",
		"created_at": "2025-03-01T09:00:00Z", "updated_at": "2025-03-01T09:00:00Z"}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)
}

func TestSignin_Validation(t *testing.T) {
	comps, err := SetupServer(context.Background(), &ServerConfig{
		JWTSecret: "test-secret",
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		DevSignin: true,
	})
	require.NoError(t, err)
	defer comps.Close()

	for _, body := range []string{`not json`, `{"device":"x"}`} {
		rec := httptest.NewRecorder()
		comps.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/dev/signin", strings.NewReader(body)))
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	withoutSignin, err := SetupServer(context.Background(), &ServerConfig{
		JWTSecret: "test-secret",
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	defer withoutSignin.Close()
	rec := httptest.NewRecorder()
	withoutSignin.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/dev/signin", strings.NewReader(`{"user":"a"}`)))
	require.NotEqual(t, http.StatusOK, rec.Code)
}
