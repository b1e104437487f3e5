package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/carelink-support/internal/chat"
	"github.com/suPer8Hu/carelink-support/internal/common"
	"github.com/suPer8Hu/carelink-support/internal/httpapi/middleware"
)

func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return n
}

func (h *Handler) ListConversations(c *gin.Context) {
	page, err := h.Chat.ListSessions(c.Request.Context(), chat.ListQuery{
		Status:   c.Query("status"),
		Priority: c.Query("priority"),
		Search:   c.Query("search"),
		Sort:     c.Query("sort"),
		Page:     queryInt(c, "page"),
		Limit:    queryInt(c, "limit"),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, page)
}

func (h *Handler) ConversationStats(c *gin.Context) {
	st, err := h.Chat.ComputeStats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, st)
}

// ConversationSync is the dashboard's poll target; it is cheaper than listing.
func (h *Handler) ConversationSync(c *gin.Context) {
	fp, err := h.Chat.Fingerprint(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, fp)
}

// GetConversation opens a session: unread is reset and new becomes in_progress.
func (h *Handler) GetConversation(c *gin.Context) {
	sess, msgs, err := h.Chat.ViewSession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"session": sess, "messages": msgs})
}

type replyReq struct {
	Text string `json:"text"`
}

func (h *Handler) ReplyConversation(c *gin.Context) {
	var req replyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	p, _ := middleware.PrincipalFrom(c)

	sess, err := h.Chat.PostAdminReply(c.Request.Context(), c.Param("session_id"), req.Text, p.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, sess)
}

type patchReq struct {
	Status        *string   `json:"status"`
	Priority      *string   `json:"priority"`
	AssignedAdmin *uint64   `json:"assigned_admin"`
	Tags          *[]string `json:"tags"`
}

func (h *Handler) PatchConversation(c *gin.Context) {
	var req patchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}

	u := chat.StatusUpdate{
		Status:        req.Status,
		Priority:      req.Priority,
		AssignedAdmin: req.AssignedAdmin,
	}
	if req.Tags != nil {
		u.Tags, u.SetTags = *req.Tags, true
	}

	sess, err := h.Chat.SetStatus(c.Request.Context(), c.Param("session_id"), u)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, sess)
}

type deleteReq struct {
	Mode string `json:"mode"`
}

func (h *Handler) DeleteConversation(c *gin.Context) {
	var req deleteReq
	// the body is optional, but a body that is present must decode
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badJSON(c)
		return
	}
	if req.Mode == "" {
		req.Mode = c.Query("mode")
	}

	if err := h.Chat.ArchiveOrDelete(c.Request.Context(), c.Param("session_id"), req.Mode); err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"session_id": c.Param("session_id")})
}

func (h *Handler) ListVisitors(c *gin.Context) {
	page, limit := queryInt(c, "page"), queryInt(c, "limit")
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	items, total, err := h.Identity.ListVisitors(c.Request.Context(), c.Query("search"), page, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{
		"items": items,
		"pagination": chat.Pagination{
			CurrentPage: page,
			TotalPages:  int((total + int64(limit) - 1) / int64(limit)),
			TotalCount:  total,
			PageSize:    limit,
		},
	})
}

func (h *Handler) AdminProfile(c *gin.Context) {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "not authorized")
		return
	}
	admin, err := h.Identity.GetAdmin(c.Request.Context(), p.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, admin)
}
