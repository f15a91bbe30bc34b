package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setAuthConfig(t *testing.T) {
	t.Helper()
	viper.Set("jwt.secret_key", "test-secret")
	viper.Set("jwt.expiry_hours", 24)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 64*1024)
	viper.Set("argon2.threads", 4)
	viper.Set("argon2.key_length", 32)
	viper.Set("argon2.salt_length", 16)
}

func TestPasswordHashRoundTrip(t *testing.T) {
	setAuthConfig(t)

	hashed, err := hashPassword("correct horse battery")
	require.NoError(t, err)
	assert.Contains(t, hashed, "$")

	assert.True(t, verifyPassword("correct horse battery", hashed))
	assert.False(t, verifyPassword("wrong password", hashed))
	assert.False(t, verifyPassword("correct horse battery", "not-a-hash"))
}

func TestRegister(t *testing.T) {
	setAuthConfig(t)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuthService(db, nil, zap.NewNop())

	now := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO users").
		WithArgs("alice@example.com", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "created_at", "updated_at"}).
			AddRow(int64(1), "alice@example.com", now, now))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register",
		strings.NewReader(`{"email":"Alice@Example.com","password":"supersecret1"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	service.Register(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, int64(1), resp.User.ID)
	assert.Equal(t, "alice@example.com", resp.User.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterDuplicateEmail(t *testing.T) {
	setAuthConfig(t)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuthService(db, nil, zap.NewNop())

	mock.ExpectQuery("INSERT INTO users").
		WillReturnError(&pq.Error{Code: "23505"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register",
		strings.NewReader(`{"email":"alice@example.com","password":"supersecret1"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	service.Register(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	setAuthConfig(t)

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuthService(db, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register",
		strings.NewReader(`{"email":"alice@example.com","password":"short"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	service.Register(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Validation failed")
}

func TestLogin(t *testing.T) {
	setAuthConfig(t)

	hashed, err := hashPassword("supersecret1")
	require.NoError(t, err)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuthService(db, nil, zap.NewNop())

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, email, password_hash, last_login, created_at, updated_at").
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "last_login", "created_at", "updated_at"}).
			AddRow(int64(1), "alice@example.com", hashed, nil, now, now))
	mock.ExpectExec("UPDATE users SET last_login").
		WithArgs(int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email":"alice@example.com","password":"supersecret1"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	service.Login(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoginWrongPassword(t *testing.T) {
	setAuthConfig(t)

	hashed, err := hashPassword("supersecret1")
	require.NoError(t, err)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAuthService(db, nil, zap.NewNop())

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, email, password_hash, last_login, created_at, updated_at").
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "last_login", "created_at", "updated_at"}).
			AddRow(int64(1), "alice@example.com", hashed, nil, now, now))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email":"alice@example.com","password":"notthepassword"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	service.Login(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
