package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/carelink-support/internal/chat"
	"github.com/suPer8Hu/carelink-support/internal/common"
	"github.com/suPer8Hu/carelink-support/internal/identity"
)

type Handler struct {
	Chat     *chat.Service
	Identity *identity.Service
	Log      zerolog.Logger
}

func NewHandler(chatSvc *chat.Service, ids *identity.Service, log zerolog.Logger) *Handler {
	return &Handler{Chat: chatSvc, Identity: ids, Log: log}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}
