package api

import (
	"errors"
	"net/http"
	"strconv"

	"PBoard/tools/errs"

	"github.com/gin-gonic/gin"
)

// statusOf maps a code error onto an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errs.ErrArgs), errors.Is(err, errs.ErrRecordExist):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, errs.ErrAuth), errors.Is(err, errs.ErrTokenMissing):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// fail writes {"error": msg, "code": n}. msg is shown to clients; internal
// errors are logged and replaced by a generic message.
func (h *Handler) fail(c *gin.Context, err error, msg string) {
	status := statusOf(err)
	code := errs.ServerInternalError
	if ce, ok := errs.As(err); ok {
		code = ce.Code
	}
	if status == http.StatusInternalServerError {
		h.log.Sugar().Errorw("request failed", "path", c.FullPath(), "error", err)
		msg = "Internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": code})
}

func (h *Handler) badRequest(c *gin.Context, msg string) {
	h.fail(c, errs.ErrArgs.WrapMsg(msg), msg)
}

// paramID reads a positive integer path parameter.
func paramID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errs.ErrArgs.WrapMsg("invalid id", name, c.Param(name))
	}
	return id, nil
}
