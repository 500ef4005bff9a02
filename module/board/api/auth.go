package api

import (
	"errors"
	"net/http"
	"strings"

	"PBoard/tools/errs"
	tokens "PBoard/tools/security"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Username) == "" || req.Password == "" {
		h.badRequest(c, "Missing fields")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		// bcrypt rejects passwords over 72 bytes
		h.badRequest(c, "Invalid password")
		return
	}
	u, err := h.store.CreateUser(c.Request.Context(), strings.TrimSpace(req.Username), string(hash))
	if err != nil {
		if errors.Is(err, errs.ErrRecordExist) {
			h.fail(c, err, "User exists")
			return
		}
		h.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "user": gin.H{"id": u.ID, "username": u.Username}})
}

func (h *Handler) login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		h.badRequest(c, "Missing fields")
		return
	}

	u, err := h.store.GetUserByUsername(c.Request.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		if errors.Is(err, errs.ErrRecordNotFound) {
			h.invalidCredentials(c)
			return
		}
		h.fail(c, err, "")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		h.invalidCredentials(c)
		return
	}

	token, exp, err := tokens.Generate(h.tokens, u.ID, u.Username)
	if err != nil {
		h.fail(c, errs.ErrInternalServer.WrapMsg(err.Error()), "")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": exp,
		"user":       gin.H{"id": u.ID, "username": u.Username},
	})
}

func (h *Handler) invalidCredentials(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials", "code": errs.AuthError})
}
