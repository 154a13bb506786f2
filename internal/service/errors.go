package service

import (
	"errors"
)

const (
	BadRequest          = 400
	Unauthorized        = 401
	Forbidden           = 403
	NotFound            = 404
	Conflict            = 409
	InternalServerError = 500
)

var (
	ErrParamInvalid         = errors.New("参数错误")
	ErrEmptyContent         = errors.New("文本消息内容不能为空")
	ErrMissingMedia         = errors.New("多媒体消息缺少资源地址")
	ErrSelfMessage          = errors.New("不能给自己发消息")
	ErrTargetUserInvalid    = errors.New("目标用户无效")
	ErrNotParticipant       = errors.New("不是会话成员")
	ErrConversationNotFound = errors.New("会话不存在")
	ErrMessageNotFound      = errors.New("消息不存在")
	ErrSendInFlight         = errors.New("消息正在发送中，请勿重复提交")
	ErrCallNotFound         = errors.New("通话不存在")
	ErrCallAlreadyActive    = errors.New("双方已有进行中的通话")
	ErrCallStateConflict    = errors.New("通话状态不允许该操作")
	ErrCallNotParticipant   = errors.New("不是通话参与者")
	UnauthorizedError       = errors.New("权限不足")
	UnExpectedError         = errors.New("系统异常，请稍后重试")
)

var ErrorMap = map[error]int{
	ErrParamInvalid:         BadRequest,
	ErrEmptyContent:         BadRequest,
	ErrMissingMedia:         BadRequest,
	ErrSelfMessage:          BadRequest,
	ErrTargetUserInvalid:    BadRequest,
	ErrNotParticipant:       Forbidden,
	ErrConversationNotFound: NotFound,
	ErrMessageNotFound:      NotFound,
	ErrSendInFlight:         Conflict,
	ErrCallNotFound:         NotFound,
	ErrCallAlreadyActive:    Conflict,
	ErrCallStateConflict:    Conflict,
	ErrCallNotParticipant:   Forbidden,
	UnauthorizedError:       Unauthorized,
	UnExpectedError:         InternalServerError,
}
