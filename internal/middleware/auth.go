package middleware

import (
	stderrors "errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/combat-table/internal/errors"
	"github.com/wfunc/combat-table/internal/utils"
)

const partyIDKey = "partyID"

// TokenValidator 把令牌解析为玩家ID
type TokenValidator interface {
	ResolveIdentity(token string) (uint, error)
}

// AuthMiddleware JWT认证中间件
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware 创建认证中间件
func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// RequireAuth 需要认证的中间件
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			abort(c, errors.New(errors.ErrAuthentication, "缺少认证令牌"))
			return
		}

		party, err := m.validator.ResolveIdentity(token)
		if err != nil {
			abort(c, authError(err))
			return
		}

		c.Set(partyIDKey, party)
		c.Next()
	}
}

// authError 令牌错误映射为应用错误
func authError(err error) *errors.AppError {
	switch {
	case stderrors.Is(err, utils.ErrExpiredToken):
		return errors.Wrap(err, errors.ErrTokenExpired)
	case stderrors.Is(err, utils.ErrMalformedToken):
		return errors.Wrap(err, errors.ErrTokenMalformed)
	}
	return errors.Wrap(err, errors.ErrTokenInvalid)
}

func abort(c *gin.Context, err *errors.AppError) {
	c.AbortWithStatusJSON(err.HTTPStatus(), errors.NewErrorResponse(err, c.GetHeader("X-Request-ID")))
}

// extractToken 从请求中提取令牌
func extractToken(c *gin.Context) string {
	// 1. 从Authorization Header获取 (Bearer Token)
	bearerToken := c.GetHeader("Authorization")
	if bearerToken != "" {
		parts := strings.Split(bearerToken, " ")
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
	}

	// 2. 从X-Access-Token Header获取
	if token := c.GetHeader("X-Access-Token"); token != "" {
		return token
	}

	// 3. 从Query参数获取，浏览器发起WebSocket握手时无法设置Header
	if token := c.Query("token"); token != "" {
		return token
	}

	return ""
}

// GetPartyID 从上下文获取玩家ID
func GetPartyID(c *gin.Context) (uint, bool) {
	if v, exists := c.Get(partyIDKey); exists {
		if id, ok := v.(uint); ok {
			return id, true
		}
	}
	return 0, false
}

// IsAuthenticated 检查是否已认证
func IsAuthenticated(c *gin.Context) bool {
	_, exists := c.Get(partyIDKey)
	return exists
}
