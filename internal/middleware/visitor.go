package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"contactrelay/backend/internal/auth/jwt"
	"contactrelay/backend/internal/service"
)

// visitorKey 上下文中的访客身份键
const visitorKey = "visitor"

// OptionalVisitor 尝试识别访客身份，失败时按匿名访客继续。
// 令牌来自 Authorization 头或 visitor_token Cookie。
func OptionalVisitor(manager *jwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if manager == nil {
			c.Next()
			return
		}

		token := bearerToken(c)
		if token == "" {
			if cookie, err := c.Cookie("visitor_token"); err == nil {
				token = cookie
			}
		}
		if token == "" {
			c.Next()
			return
		}

		claims, err := manager.ValidateToken(token)
		if err != nil {
			// 令牌无效不阻断：表单对匿名访客同样开放
			c.Next()
			return
		}

		c.Set(visitorKey, &service.Visitor{
			Name:  claims.Name,
			Email: claims.Email,
		})
		c.Next()
	}
}

// VisitorFrom 从请求上下文取出已识别的访客，匿名时返回 nil
func VisitorFrom(c *gin.Context) *service.Visitor {
	value, exists := c.Get(visitorKey)
	if !exists {
		return nil
	}
	visitor, ok := value.(*service.Visitor)
	if !ok {
		return nil
	}
	return visitor
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
