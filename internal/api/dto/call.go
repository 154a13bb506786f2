package dto

// InitiateCallReq 发起通话请求体
type InitiateCallReq struct {
	CalleeID uint64 `json:"callee_id" binding:"required"`
	Kind     string `json:"kind" binding:"required,oneof=voice video"`
}

// CallDTO 通话会话响应
type CallDTO struct {
	CallID string `json:"call_id"`
	Caller uint64 `json:"caller"`
	Callee uint64 `json:"callee"`
	Kind   string `json:"kind"`
	State  string `json:"state"`
}
