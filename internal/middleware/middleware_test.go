package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/combat-table/internal/errors"
	"github.com/wfunc/combat-table/internal/utils"
)

func newTestEngine(validator TokenValidator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Recovery(), RequestLogger())

	auth := NewAuthMiddleware(validator)
	r.GET("/me", auth.RequireAuth(), func(c *gin.Context) {
		party, ok := GetPartyID(c)
		c.JSON(http.StatusOK, gin.H{"party": party, "ok": ok, "authed": IsAuthenticated(c)})
	})
	r.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})
	return r
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *errors.ErrorResponse {
	t.Helper()
	var resp errors.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	return &resp
}

func TestRequireAuth(t *testing.T) {
	jwt := utils.NewJWTManager("secret", "combat-table", time.Hour)
	expired := utils.NewJWTManager("secret", "combat-table", -time.Minute)
	r := newTestEngine(jwt)

	valid, err := jwt.GenerateAccessToken(42, "tester")
	require.NoError(t, err)
	old, err := expired.GenerateAccessToken(42, "tester")
	require.NoError(t, err)
	foreign, err := utils.NewJWTManager("other", "combat-table", time.Hour).GenerateAccessToken(42, "tester")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header map[string]string
		query  string
		status int
		code   errors.ErrorCode
	}{
		{"Bearer令牌", map[string]string{"Authorization": "Bearer " + valid}, "", http.StatusOK, 0},
		{"X-Access-Token", map[string]string{"X-Access-Token": valid}, "", http.StatusOK, 0},
		{"query令牌", nil, "?token=" + valid, http.StatusOK, 0},
		{"缺少令牌", nil, "", http.StatusUnauthorized, errors.ErrAuthentication},
		{"格式错误", map[string]string{"Authorization": "Bearer abc"}, "", http.StatusUnauthorized, errors.ErrTokenMalformed},
		{"已过期", map[string]string{"Authorization": "Bearer " + old}, "", http.StatusUnauthorized, errors.ErrTokenExpired},
		{"签名不符", map[string]string{"Authorization": "Bearer " + foreign}, "", http.StatusUnauthorized, errors.ErrTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me"+tt.query, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				var body map[string]interface{}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.EqualValues(t, 42, body["party"])
				assert.Equal(t, true, body["authed"])
				return
			}
			resp := decodeError(t, w)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestRecovery(t *testing.T) {
	r := newTestEngine(utils.NewJWTManager("secret", "combat-table", time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set("X-Request-ID", "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))
	resp := decodeError(t, w)
	assert.Equal(t, errors.ErrUnknown, resp.Error.Code)
	assert.Equal(t, "req-1", resp.RequestID)
}

func TestGetPartyIDWithoutAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	id, ok := GetPartyID(c)
	assert.False(t, ok)
	assert.Zero(t, id)
	assert.False(t, IsAuthenticated(c))
}
