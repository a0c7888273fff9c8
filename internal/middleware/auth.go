package middleware

import (
	"context"
	"strings"
	"time"

	"chemquest_backend/internal/model"
	"chemquest_backend/internal/util"
	"chemquest_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthMiddleware 校验认证服务签发的 Bearer Token
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ""
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		}

		if tokenString == "" {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			util.Unauthorized(c)
			c.Abort()
			return
		}

		claims, err := util.ParseJWT(tokenString, secret)
		if err != nil {
			logger.Log.Debug("JWT解析错误", zap.Error(err))
			util.Unauthorized(c)
			c.Abort()
			return
		}

		c.Set("user", claims)
		c.Next()
	}
}

func RoleMiddleware(roles ...util.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := util.GetUserFromContext(c)
		if user == nil {
			util.Unauthorized(c)
			c.Abort()
			return
		}

		hasRole := false
		for _, role := range roles {
			// 管理员直接放行
			if user.Role == util.RoleAdmin || user.Role == role {
				hasRole = true
				break
			}
		}

		if !hasRole {
			util.Forbidden(c)
			c.Abort()
			return
		}
		c.Next()
	}
}

// LoginRecorder is the streak side of an authenticated request.
type LoginRecorder interface {
	RecordLogin(ctx context.Context, userID string, at time.Time) (model.StreakState, error)
}

// ActivityMiddleware counts every authenticated request as a login for the
// streak engine. Same-day repeats are no-ops there.
func ActivityMiddleware(recorder LoginRecorder, clock util.Clock) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := util.GetUserFromContext(c)
		if claims != nil {
			userID := claims.Subject()
			at := clock.Now()
			// 异步更新，不阻塞主流程
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if _, err := recorder.RecordLogin(ctx, userID, at); err != nil {
					logger.Log.Warn("记录登录失败", zap.String("userId", userID), zap.Error(err))
				}
			}()
		}
		c.Next()
	}
}
