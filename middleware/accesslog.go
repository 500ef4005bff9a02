package middleware

import (
	"net/http"
	"time"

	"PBoard/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AccessLog writes one line per request.
func AccessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if uid := c.GetInt64("user_id"); uid > 0 {
			fields = append(fields, zap.Int64("user_id", uid))
		}
		switch {
		case c.Writer.Status() >= 500:
			log.Error("request", fields...)
		case c.Writer.Status() >= 400:
			log.Info("request", fields...)
		default:
			log.Debug("request", fields...)
		}
	}
}

// Recovery turns handler panics into a 500 JSON body.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("handler panic", zap.String("path", c.FullPath()), zap.Error(errs.ErrPanic(r)))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "Internal error",
					"code":  errs.ServerInternalError,
				})
			}
		}()
		c.Next()
	}
}
