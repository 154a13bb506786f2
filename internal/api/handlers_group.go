package api

import "Meetstreet/internal/api/handler"

// HandlersGroup 封装了所有已初始化的 Handler 实例
type HandlersGroup struct {
	ChatHandler *handler.ChatHandler
	CallHandler *handler.CallHandler
	WSHandler   *handler.WsHandler
}
