package domain

import "time"

// Message 表示房间内的一条聊天消息。消息一旦创建即不可变，
// 只能随房间删除而级联删除。Content 和 Image 至少要有一个非空，
// 该约束在 Service 层校验 (ErrInvalidMessage)。
type Message struct {
	ID      uint   `gorm:"primaryKey"` // 消息唯一标识符 (主键)
	RoomID  uint   `gorm:"index;not null"` // 消息所属房间 ID (外键关联 Room.ID)
	UserID  uint   `gorm:"index;not null"` // 消息作者的用户 ID (外键关联 User.ID)
	Content string `gorm:"type:text"`      // 消息文本内容，可以为空 (纯图片消息)
	Image   []byte `gorm:"type:longblob"`  // 可选的图片附件 (原始二进制，不做校验/变换)

	// 时间戳由存储层在持久化时分配，同一房间内按此升序检索，
	// 并发写入时的并列由插入顺序 (自增主键) 决定
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}
