package handler

import (
	"Meetstreet/internal/api/dto"
	"Meetstreet/internal/pkg/response"
	"Meetstreet/internal/service"
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
)

type ChatHandler struct {
	chatService service.ChatService
}

func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// SendMessage 发送消息接口
func (s *ChatHandler) SendMessage(c *gin.Context) {
	var req dto.SendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, err)
		return
	}

	// 从 Context 中获取中间件解析出的当前用户 ID
	senderID := c.GetUint64("user_id")

	res, err := s.chatService.SendMessage(c, senderID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// GetChatHistory 获取历史消息，倒序游标分页
func (s *ChatHandler) GetChatHistory(c *gin.Context) {
	convID, err := strconv.ParseUint(c.Param("conversation_id"), 10, 64)
	if err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	lastSeq, _ := strconv.ParseUint(c.Query("last_seq"), 10, 64)
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	userID := c.GetUint64("user_id")

	res, err := s.chatService.GetChatHistory(c, userID, convID, lastSeq, pageSize)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// MarkAsRead 标记已读接口
func (s *ChatHandler) MarkAsRead(c *gin.Context) {
	var req dto.MarkAsReadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, err)
		return
	}

	userID := c.GetUint64("user_id")

	if err := s.chatService.MarkAsRead(c, userID, req.ConversationID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// DeleteMessage 删除消息，仅对当前用户隐藏
func (s *ChatHandler) DeleteMessage(c *gin.Context) {
	messageID := c.Param("message_id")
	userID := c.GetUint64("user_id")

	if err := s.chatService.DeleteMessage(c, userID, messageID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// GetConversationList 获取会话列表
func (s *ChatHandler) GetConversationList(c *gin.Context) {
	userID := c.GetUint64("user_id")
	res, err := s.chatService.GetConversationList(c, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// SetArchived 归档/取消归档会话
func (s *ChatHandler) SetArchived(c *gin.Context) {
	s.setFlag(c, s.chatService.SetArchived)
}

// SetMuted 静音/取消静音会话
func (s *ChatHandler) SetMuted(c *gin.Context) {
	s.setFlag(c, s.chatService.SetMuted)
}

func (s *ChatHandler) setFlag(c *gin.Context, apply func(ctx context.Context, userID, convID uint64, enabled bool) error) {
	convID, err := strconv.ParseUint(c.Param("conversation_id"), 10, 64)
	if err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	var req dto.ConversationFlagReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, err)
		return
	}

	userID := c.GetUint64("user_id")

	if err := apply(c, userID, convID, req.Enabled); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}
