package repository

import "context"

// PresenceRepository 定义了房间在线状态的记录操作，通常由 Redis 实现。
// 在线集合只是 "谁正在监听" 的缓存，进程重启后由 Hub 重新注册时重建，
// 不作为任何业务决策的数据源。
type PresenceRepository interface {
	// MarkOnline 将用户加入房间的在线集合。
	MarkOnline(ctx context.Context, roomID uint, userID uint) error

	// MarkOffline 将用户从房间的在线集合移除，幂等。
	MarkOffline(ctx context.Context, roomID uint, userID uint) error

	// ListOnline 返回房间当前在线的用户 ID 集合。
	ListOnline(ctx context.Context, roomID uint) ([]uint, error)
}
