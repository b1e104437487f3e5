package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/carelink-support/internal/common"
	"github.com/suPer8Hu/carelink-support/internal/httpapi/middleware"
)

func (h *Handler) VisitorMe(c *gin.Context) {
	p, _ := middleware.PrincipalFrom(c)
	v, err := h.Identity.GetVisitor(c.Request.Context(), p.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, v)
}

// VisitorMarkRead clears the visitor's unread-replies badge.
func (h *Handler) VisitorMarkRead(c *gin.Context) {
	p, _ := middleware.PrincipalFrom(c)
	if err := h.Identity.MarkRead(c.Request.Context(), p.ID); err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"unread_message_count": 0})
}
