// Package dto 定义客户端与服务端之间的 WebSocket 消息结构。
package dto

// IncomingMessage 表示从客户端 WebSocket 接收的聊天消息。
// message 和 image 至少要有一个非空；image 是 base64 编码的图片数据。
type IncomingMessage struct {
	Username string `json:"username"`
	Message  string `json:"message"`
	Image    string `json:"image"`
}

// OutgoingMessage 表示广播给房间内所有客户端的聊天消息。
// 三个字段始终存在，未使用的字段为空字符串。
type OutgoingMessage struct {
	Username string `json:"username"`
	Message  string `json:"message"`
	Image    string `json:"image"`
}
