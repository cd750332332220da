package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"afriverse/core/internal/api/handlers"
	"afriverse/core/internal/auth"
	"afriverse/core/internal/config"
	"afriverse/core/internal/models"
	"afriverse/core/internal/services"
	"afriverse/core/internal/tasks"
	"afriverse/core/internal/utils"
)

func setupAuthRouter(userSvc services.IUserService, taskClient handlers.IAsynqClient) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{AppName: "Afriverse", JwtSecret: "test-secret", JwtTTL: time.Hour}
	r := gin.New()
	h := handlers.NewRestAuthHandler(cfg, userSvc, taskClient)
	r.POST("/v1/auth/register", h.Register)
	r.POST("/v1/auth/login", h.Login)
	return r
}

func TestRegister(t *testing.T) {
	userID := utils.NewShortID()
	mockUserSvc := new(MockUserService)
	mockUserSvc.On("Register", mock.Anything, "ada@example.com", "s3cret", "Ada").
		Return(&models.User{Base: models.Base{ID: userID}, Email: "ada@example.com", DisplayName: "Ada"}, nil)

	// Registration enqueues a welcome email.
	mockClient := new(MockAsynqClient)
	mockClient.On("EnqueueContext", mock.Anything, mock.MatchedBy(func(task *asynq.Task) bool {
		return task.Type() == tasks.TypeEmailDelivery
	}), mock.Anything).Return(nil, nil)

	router := setupAuthRouter(mockUserSvc, mockClient)

	w := httptest.NewRecorder()
	body := `{"email":"ada@example.com","password":"s3cret","display_name":"Ada"}`
	req, _ := http.NewRequest("POST", "/v1/auth/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	assert.Equal(t, userID, resp.User.ID)

	// The issued token is valid for the new user.
	claims, err := auth.ValidateJWT(resp.Token, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)

	mockUserSvc.AssertExpectations(t)
	mockClient.AssertExpectations(t)
}

func TestRegister_BadInput(t *testing.T) {
	mockUserSvc := new(MockUserService)
	router := setupAuthRouter(mockUserSvc, nil)

	// Missing password fails binding before the service is consulted.
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/auth/register", strings.NewReader(`{"email":"a@b.c"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockUserSvc.AssertNotCalled(t, "Register", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	// Service-level rejection (duplicate email) also maps to 400.
	mockUserSvc.On("Register", mock.Anything, "taken@example.com", "pw", "").
		Return(nil, assert.AnError)
	w2 := httptest.NewRecorder()
	req2, _ := http.NewRequest("POST", "/v1/auth/register", strings.NewReader(`{"email":"taken@example.com","password":"pw"}`))
	req2.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusBadRequest, w2.Code)
}

func TestLogin(t *testing.T) {
	userID := utils.NewShortID()
	mockUserSvc := new(MockUserService)
	mockUserSvc.On("Authenticate", mock.Anything, "ada@example.com", "s3cret").
		Return(&models.User{Base: models.Base{ID: userID}, Email: "ada@example.com"}, nil)
	router := setupAuthRouter(mockUserSvc, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/auth/login", strings.NewReader(`{"email":"ada@example.com","password":"s3cret"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["token"])
}

func TestLogin_InvalidCredentials(t *testing.T) {
	mockUserSvc := new(MockUserService)
	mockUserSvc.On("Authenticate", mock.Anything, "ada@example.com", "wrong").
		Return(nil, services.ErrInvalidCredentials)
	router := setupAuthRouter(mockUserSvc, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/auth/login", strings.NewReader(`{"email":"ada@example.com","password":"wrong"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	// The error never says which of email/password was wrong.
	assert.Equal(t, "Invalid email or password", resp["error"])
}
