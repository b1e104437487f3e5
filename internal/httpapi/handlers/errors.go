package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/carelink-support/internal/chat"
	"github.com/suPer8Hu/carelink-support/internal/common"
	"github.com/suPer8Hu/carelink-support/internal/identity"
)

// fail maps service errors onto the envelope. Auth failures never say which check failed.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		common.Fail(c, http.StatusBadRequest, 40002, err.Error())
	case errors.Is(err, identity.ErrInvalidInput):
		common.Fail(c, http.StatusBadRequest, 40003, err.Error())
	case errors.Is(err, chat.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "session not found")
	case errors.Is(err, identity.ErrVisitorNotFound):
		common.Fail(c, http.StatusNotFound, 40402, "visitor not found")
	case errors.Is(err, identity.ErrUnauthorized):
		common.Fail(c, http.StatusUnauthorized, 40101, "not authorized")
	case errors.Is(err, identity.ErrInvalidCredentials):
		common.Fail(c, http.StatusUnauthorized, 40102, "invalid email or password")
	case errors.Is(err, identity.ErrSignupDisabled):
		common.Fail(c, http.StatusForbidden, 40301, "admin signup disabled")
	case errors.Is(err, identity.ErrConflict):
		common.Fail(c, http.StatusConflict, 40901, "account already exists")
	case errors.Is(err, chat.ErrTransient), errors.Is(err, identity.ErrUnavailable):
		h.Log.Warn().Err(err).Str("path", c.FullPath()).Msg("store unavailable")
		common.Fail(c, http.StatusServiceUnavailable, 50301, "service temporarily unavailable")
	default:
		h.Log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

func badJSON(c *gin.Context) {
	common.Fail(c, http.StatusBadRequest, 40001, "invalid json")
}
