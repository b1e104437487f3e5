package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/carelink-support/internal/common"
)

type registerAdminReq struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	SignupKey string `json:"signup_key"`
}

func (h *Handler) RegisterAdmin(c *gin.Context) {
	var req registerAdminReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	admin, token, err := h.Identity.RegisterAdmin(c.Request.Context(), req.Username, req.Email, req.Password, req.SignupKey)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"token": token, "admin": admin})
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) LoginAdmin(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	admin, token, err := h.Identity.LoginAdmin(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"token": token, "admin": admin})
}

type registerVisitorReq struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

func (h *Handler) RegisterVisitor(c *gin.Context) {
	var req registerVisitorReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	v, token, err := h.Identity.RegisterVisitor(c.Request.Context(), req.Name, req.Email, req.Phone, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"token": token, "visitor": v})
}

func (h *Handler) LoginVisitor(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c)
		return
	}
	v, token, err := h.Identity.LoginVisitor(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, gin.H{"token": token, "visitor": v})
}
