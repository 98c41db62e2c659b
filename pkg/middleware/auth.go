package middleware

import (
	"strings"

	"EchoCast/pkg/errors"
	"EchoCast/pkg/response"

	"github.com/gin-gonic/gin"
)

const identityHeader = "X-User-ID"

// AuthRequired 从请求头解析调用方身份并写入上下文。
// 身份校验由上游网关完成，这里只要求身份存在
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(identityHeader))
		if userID == "" {
			response.FailWithStatus(c, errors.HTTPStatus(errors.CodeUnauthenticated),
				errors.CodeUnauthenticated, "user identity required", "missing "+identityHeader+" header", nil)
			c.Abort()
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}

// CurrentUserID 读取上下文中的调用方身份
func CurrentUserID(c *gin.Context) string {
	v, ok := c.Get("user_id")
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
