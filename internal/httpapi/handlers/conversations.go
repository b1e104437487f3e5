package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/carelink-support/internal/auth"
	"github.com/suPer8Hu/carelink-support/internal/chat"
	"github.com/suPer8Hu/carelink-support/internal/common"
	"github.com/suPer8Hu/carelink-support/internal/httpapi/middleware"
)

type postMessageReq struct {
	Text         string  `json:"text"`
	SessionID    string  `json:"session_id"`
	VisitorEmail string  `json:"visitor_email"`
	VisitorID    *uint64 `json:"visitor_id"`
}

// PostMessage is the public widget entry point.
func (h *Handler) PostMessage(c *gin.Context) {
	var req postMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}

	in := chat.VisitorMessage{
		SessionID:    req.SessionID,
		Text:         req.Text,
		VisitorEmail: req.VisitorEmail,
	}
	// a visitor id is only trusted when it comes from the visitor's own token
	if p, ok := middleware.PrincipalFrom(c); ok && p.Role == auth.RoleVisitor {
		if req.VisitorID != nil && *req.VisitorID != p.ID {
			common.Fail(c, http.StatusForbidden, 40302, "visitor id does not match token")
			return
		}
		id := p.ID
		in.VisitorID = &id
		if in.VisitorEmail == "" {
			in.VisitorEmail = p.Email
		}
	}

	out, err := h.Chat.PostVisitorMessage(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, out)
}

func (h *Handler) ListMessages(c *gin.Context) {
	sid := c.Param("session_id")
	msgs, err := h.Chat.Messages(c.Request.Context(), sid)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"session_id": sid, "messages": msgs})
}

func (h *Handler) SessionVersion(c *gin.Context) {
	sid := c.Param("session_id")
	v, err := h.Chat.Version(c.Request.Context(), sid)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"session_id": sid, "version": v})
}
