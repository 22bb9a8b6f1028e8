package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/combat-table/internal/errors"
	"github.com/wfunc/combat-table/internal/middleware"
)

// SuccessResponse 成功响应
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// respond 输出成功响应
func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, SuccessResponse{Success: true, Data: data})
}

// respondError 按应用错误码输出错误响应
func respondError(c *gin.Context, err error) {
	appErr := errors.From(err)
	c.JSON(appErr.HTTPStatus(), errors.NewErrorResponse(appErr, c.GetHeader("X-Request-ID")))
}

// bindJSON 解析请求体，失败时直接输出 400
func bindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		respondError(c, errors.Wrap(err, errors.ErrInvalidParam, "请求参数错误"))
		return false
	}
	return true
}

// caller 当前玩家ID，认证中间件保证存在
func caller(c *gin.Context) uint {
	id, _ := middleware.GetPartyID(c)
	return id
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}

func noRoute(c *gin.Context) {
	respondError(c, errors.New(errors.ErrNotFound, "接口不存在: "+c.Request.URL.Path))
}

func noMethod(c *gin.Context) {
	c.JSON(http.StatusMethodNotAllowed, errors.NewErrorResponse(
		errors.New(errors.ErrInvalidParam, "不支持的请求方法: "+c.Request.Method),
		c.GetHeader("X-Request-ID")))
}
