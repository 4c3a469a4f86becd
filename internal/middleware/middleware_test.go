package middleware

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	"offcut-ledger-backend/internal/testutil"
)

func protectedRouter() *gin.Engine {
	r := testutil.SetupRouter()
	r.Use(RequestID())
	r.GET("/open", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	w := r.Group("/", JWTAuth(testutil.JWTSecret, "offcut-ledger"), RequirePermission(PermWrite))
	w.POST("/write", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"actor": c.GetString(KeyActor)})
	})
	return r
}

func TestRequestIDEchoed(t *testing.T) {
	r := protectedRouter()
	w := testutil.DoRequest(r, http.MethodGet, "/open", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestJWTAuthRequiresToken(t *testing.T) {
	r := protectedRouter()
	w := testutil.DoRequest(r, http.MethodPost, "/write", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = testutil.DoRequest(r, http.MethodPost, "/write", nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuthRejectsForeignSignature(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "mallory",
		"perms": []string{PermWrite},
		"iss":   "offcut-ledger",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, _ := token.SignedString([]byte("some-other-secret"))

	w := testutil.DoRequest(protectedRouter(), http.MethodPost, "/write", nil, signed)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequirePermission(t *testing.T) {
	r := protectedRouter()

	w := testutil.DoRequest(r, http.MethodPost, "/write", nil, testutil.GenerateTestToken("viewer@test", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = testutil.DoRequest(r, http.MethodPost, "/write", nil, testutil.WriterToken())
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "planner@test", testutil.ParseResponse(w)["actor"])
}
