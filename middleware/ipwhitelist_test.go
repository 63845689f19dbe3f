package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newAdminRouter guards the admin API and the game-server stream the way
// main.go does.
func newAdminRouter(t *testing.T, entries []string) *gin.Engine {
	t.Helper()
	allow, err := IPWhitelist(entries)
	require.NoError(t, err)
	r := gin.New()
	r.POST("/api/admin/quests/:name", allow, func(c *gin.Context) { c.Status(http.StatusCreated) })
	r.GET("/ws/events", allow, func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func fromIP(r *gin.Engine, method, path, ip string) int {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("X-Real-IP", ip)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestIPWhitelist_Empty_AdmitsAll(t *testing.T) {
	r := newAdminRouter(t, nil)
	assert.Equal(t, http.StatusCreated, fromIP(r, http.MethodPost, "/api/admin/quests/Q", "203.0.113.9"))
	assert.Equal(t, http.StatusOK, fromIP(r, http.MethodGet, "/ws/events", "203.0.113.9"))
}

func TestIPWhitelist_GameServerSubnet(t *testing.T) {
	r := newAdminRouter(t, []string{"10.20.0.0/16", " 192.168.1.7 "})

	assert.Equal(t, http.StatusOK, fromIP(r, http.MethodGet, "/ws/events", "10.20.3.4"))
	assert.Equal(t, http.StatusCreated, fromIP(r, http.MethodPost, "/api/admin/quests/Q", "192.168.1.7"))

	assert.Equal(t, http.StatusForbidden, fromIP(r, http.MethodGet, "/ws/events", "10.21.0.1"))
	assert.Equal(t, http.StatusForbidden, fromIP(r, http.MethodPost, "/api/admin/quests/Q", "192.168.1.8"))
}

func TestIPWhitelist_IPv6(t *testing.T) {
	r := newAdminRouter(t, []string{"2001:db8::/32"})
	assert.Equal(t, http.StatusOK, fromIP(r, http.MethodGet, "/ws/events", "2001:db8::1"))
	assert.Equal(t, http.StatusForbidden, fromIP(r, http.MethodGet, "/ws/events", "2001:db9::1"))
}

func TestIPWhitelist_Malformed(t *testing.T) {
	for _, bad := range []string{"10.0.0.300", "10.0.0.0/40", "gameserver"} {
		_, err := IPWhitelist([]string{"10.0.0.1", bad})
		assert.Error(t, err, bad)
	}
}
