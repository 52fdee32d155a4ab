package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ariavoice/aria/internal/config"
	"github.com/ariavoice/aria/internal/gateway"
	"github.com/ariavoice/aria/internal/store"
)

func newTestAPI(t *testing.T) (http.Handler, pgxmock.PgxPoolIface, *config.Config) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	cfg := &config.Config{}
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.AccessTokenExpire = time.Hour

	api := newAPIHandler(cfg, store.New(mock))
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/login", api.login)
	mux.Handle("GET /api/v1/faces", api.auth(http.HandlerFunc(api.listFaces)))
	mux.Handle("POST /api/v1/faces", api.auth(http.HandlerFunc(api.createFace)))
	return mux, mock, cfg
}

func userRow(passwordHash string) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "name", "password_hash", "system_prompt", "preferred_name",
		"default_model_url", "summary_model", "created_at",
	}).AddRow("usr_1", "sam", passwordHash, "", "", "qwen3", nil, time.Now())
}

func TestLoginIssuesToken(t *testing.T) {
	mux, mock, cfg := newTestAPI(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	mock.ExpectQuery("FROM users").WithArgs("sam").WillReturnRows(userRow(string(hash)))

	body, _ := json.Marshal(loginRequest{Username: "sam", Password: "hunter2"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/login", bytes.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "usr_1", resp.UserID)

	userID, err := gateway.VerifyToken(cfg.Auth.JWTSecret, resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "usr_1", userID)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	mux, mock, _ := newTestAPI(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	mock.ExpectQuery("FROM users").WithArgs("sam").WillReturnRows(userRow(string(hash)))

	body, _ := json.Marshal(loginRequest{Username: "sam", Password: "wrong"})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/login", bytes.NewReader(body)))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFacesRequireAuth(t *testing.T) {
	mux, _, _ := newTestAPI(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/faces", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateFace(t *testing.T) {
	mux, mock, cfg := newTestAPI(t)
	mock.ExpectExec("INSERT INTO face_identities").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	token, err := gateway.IssueToken(cfg.Auth.JWTSecret, "usr_1", time.Hour)
	require.NoError(t, err)

	body, _ := json.Marshal(createFaceRequest{Name: "Sam"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/faces", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
