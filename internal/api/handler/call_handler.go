package handler

import (
	"Meetstreet/internal/api/dto"
	"Meetstreet/internal/pkg/response"
	"Meetstreet/internal/service"

	"github.com/gin-gonic/gin"
)

type CallHandler struct {
	callService service.CallService
}

func NewCallHandler(callService service.CallService) *CallHandler {
	return &CallHandler{callService: callService}
}

// Initiate 发起通话
func (s *CallHandler) Initiate(c *gin.Context) {
	var req dto.InitiateCallReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, err)
		return
	}

	callerID := c.GetUint64("user_id")

	res, err := s.callService.Initiate(c, callerID, req.CalleeID, req.Kind)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// Accept 被叫接听
func (s *CallHandler) Accept(c *gin.Context) {
	s.transition(c, s.callService.Accept)
}

// Reject 被叫拒接
func (s *CallHandler) Reject(c *gin.Context) {
	s.transition(c, s.callService.Reject)
}

// Cancel 主叫在接听前取消
func (s *CallHandler) Cancel(c *gin.Context) {
	s.transition(c, s.callService.Cancel)
}

// Terminate 任一方挂断，重复挂断返回成功
func (s *CallHandler) Terminate(c *gin.Context) {
	s.transition(c, s.callService.Terminate)
}

func (s *CallHandler) transition(c *gin.Context, apply func(userID uint64, callID string) error) {
	callID := c.Param("call_id")
	if callID == "" {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetUint64("user_id")

	if err := apply(userID, callID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}
