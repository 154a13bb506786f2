package consts

const (
	// MsgIdempotencyKey 消息发送幂等键前缀，后接客户端幂等串
	MsgIdempotencyKey = "msg:idempotency:"
	// TokenRevokedKey 已注销 Token 签名黑名单前缀
	TokenRevokedKey = "token:revoked:"
)

const (
	// ConversationInitLock 并发首次私聊建会话的兜底锁前缀
	ConversationInitLock = "lock:conversation:init:"
)
