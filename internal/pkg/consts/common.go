package consts

// 实时投递房间前缀。每个用户固定拥有 user_<id> 直达房间，
// presence_<id> 为该用户的在线状态订阅房间，conv_<id> 用于会话内输入提示。
const (
	RoomUserPrefix     = "user_"
	RoomPresencePrefix = "presence_"
	RoomConvPrefix     = "conv_"
)

// 消息类型。text 必须携带 content，其余类型必须携带 media_url。
const (
	MsgTypeText  = "text"
	MsgTypeImage = "image"
	MsgTypeVideo = "video"
	MsgTypeAudio = "audio"
	MsgTypeFile  = "file"
)

// 通话类型
const (
	CallKindVoice = "voice"
	CallKindVideo = "video"
)
