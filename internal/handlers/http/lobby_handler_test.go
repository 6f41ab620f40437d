package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"voxlobby/internal/core/domain"
	"voxlobby/internal/core/services"
	"voxlobby/internal/infrastructure/middleware"
	"voxlobby/internal/infrastructure/store/memory"
)

const testSecret = "s3cret"

func newTestRouter(t *testing.T) (*gin.Engine, *memory.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := memory.NewStore()
	logger := zaptest.NewLogger(t).Sugar()
	registry := services.NewRoomRegistry(st, domain.DefaultPermanentRoomIDs(), 0, nil, logger)
	handler := NewLobbyHandler(
		registry,
		domain.DefaultPermanentRoomIDs(),
		testSecret,
		rate.NewLimiter(rate.Inf, 1),
		logger,
	)

	router := gin.New()
	handler.SetupRoutes(router)
	return router, st
}

func doJSON(router *gin.Engine, method, path, body string, auth bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+testSecret)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doJSON(router, http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogin(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/api/v1/login", `{"password":"s3cret"}`, false)
	require.Equal(t, http.StatusOK, w.Code)

	var sessionCookie *http.Cookie
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == middleware.SessionCookie {
			sessionCookie = cookie
		}
	}
	require.NotNil(t, sessionCookie, "login must set the session cookie")
	assert.True(t, sessionCookie.HttpOnly)

	// The cookie now opens the gate.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms", nil)
	req.AddCookie(sessionCookie)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogin_WrongPassword(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doJSON(router, http.MethodPost, "/api/v1/login", `{"password":"wrong"}`, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRooms_RequireAuth(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(router, http.MethodGet, "/api/v1/rooms", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(router, http.MethodPost, "/api/v1/rooms", `{"name":"Chill"}`, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateAndListRooms(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/api/v1/rooms", `{"name":"  Chill  "}`, true)
	require.Equal(t, http.StatusCreated, w.Code)

	var created roomResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "Chill", created.Name)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 0, created.Participants)
	assert.False(t, created.Permanent)

	w = doJSON(router, http.MethodGet, "/api/v1/rooms", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var listed struct {
		Rooms []roomResponse `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.Rooms, 1)
	assert.Equal(t, created.ID, listed.Rooms[0].ID)
}

func TestCreateRoom_BlankName(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/api/v1/rooms", `{"name":"   "}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodPost, "/api/v1/rooms", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListRooms_FlagsPermanent(t *testing.T) {
	router, st := newTestRouter(t)

	err := st.Set(context.Background(), "rooms/"+string(domain.RoomOYOPermanent), domain.Room{
		Name: "OYO Room",
	})
	require.NoError(t, err)

	w := doJSON(router, http.MethodGet, "/api/v1/rooms", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var listed struct {
		Rooms []roomResponse `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.Rooms, 1)
	assert.True(t, listed.Rooms[0].Permanent)
}

func TestCreateRoom_RateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)

	st := memory.NewStore()
	logger := zaptest.NewLogger(t).Sugar()
	registry := services.NewRoomRegistry(st, domain.DefaultPermanentRoomIDs(), 0, nil, logger)
	handler := NewLobbyHandler(
		registry,
		domain.DefaultPermanentRoomIDs(),
		testSecret,
		rate.NewLimiter(rate.Limit(0.001), 1),
		logger,
	)
	router := gin.New()
	handler.SetupRoutes(router)

	w := doJSON(router, http.MethodPost, "/api/v1/rooms", `{"name":"First"}`, true)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(router, http.MethodPost, "/api/v1/rooms", `{"name":"Second"}`, true)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
