package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// newAcceptRouter wires the player route the way main.go does: Auth first so
// the limiter keys on the player, then the limiter. /sse is limited by IP.
func newAcceptRouter(r rate.Limit, b int) *gin.Engine {
	limit := RateLimit(r, b)
	eng := gin.New()
	eng.POST("/api/quests/:name/accept", Auth(testSec), limit, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"result": "success"})
	})
	eng.GET("/sse", limit, func(c *gin.Context) { c.Status(http.StatusOK) })
	return eng
}

func accept(t *testing.T, eng *gin.Engine, playerID, ip string) *httptest.ResponseRecorder {
	t.Helper()
	tok, err := GenerateToken(playerID, nil, testSec.JWTSecret, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/quests/Miner/accept", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("X-Real-IP", ip)
	w := httptest.NewRecorder()
	eng.ServeHTTP(w, req)
	return w
}

func TestRateLimit_AcceptBurstPerPlayer(t *testing.T) {
	eng := newAcceptRouter(0.001, 3)
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, accept(t, eng, "p1", "10.0.0.1").Code, "request %d", i+1)
	}
	w := accept(t, eng, "p1", "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestRateLimit_PlayersBehindOneIPAreIndependent(t *testing.T) {
	eng := newAcceptRouter(0.001, 1)

	assert.Equal(t, http.StatusOK, accept(t, eng, "p1", "10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, accept(t, eng, "p2", "10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, accept(t, eng, "p1", "10.0.0.1").Code)

	// The bucket follows the player across addresses.
	assert.Equal(t, http.StatusTooManyRequests, accept(t, eng, "p1", "10.0.0.2").Code)
}

func TestRateLimit_AnonymousKeyedByIP(t *testing.T) {
	eng := newAcceptRouter(0.001, 1)
	sse := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/sse", nil)
		req.Header.Set("X-Real-IP", ip)
		w := httptest.NewRecorder()
		eng.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, sse("10.1.1.1"))
	assert.Equal(t, http.StatusOK, sse("10.1.1.2"))
	assert.Equal(t, http.StatusTooManyRequests, sse("10.1.1.1"))
}

func TestRateLimit_UnauthenticatedNeverReachesLimiter(t *testing.T) {
	eng := newAcceptRouter(0.001, 1)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/quests/Miner/accept", nil)
		w := httptest.NewRecorder()
		eng.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
	assert.Equal(t, http.StatusOK, accept(t, eng, "p1", "192.0.2.1").Code)
}
