package core

import "context"

// Store 是存储的领域接口。
//
// 设计原则：
//   - 定义在领域层（core），由基础设施层（store）实现
//   - 领域层不依赖基础设施层
//
// 使用场景：
//   - 已保存帖子 ID（排除重复推荐）
//   - 外部协作方写入的只读数据
//
// 实现：
//   - store.MemoryStore
//   - store.RedisStore
type Store interface {
	// Name 返回存储后端名称（用于日志/监控）
	Name() string

	Get(ctx context.Context, key string) ([]byte, error)

	// Set 写入单个 key-value，ttl 单位为秒
	Set(ctx context.Context, key string, value []byte, ttl ...int) error

	Delete(ctx context.Context, key string) error

	Close() error
}

// SetStore 是 Store 的扩展接口，支持集合操作。
// 已保存帖子按 user 维度存成集合，过滤时批量判断成员关系。
type SetStore interface {
	Store

	// SAdd 向集合添加成员
	SAdd(ctx context.Context, key string, members ...string) error

	// SMembers 读取集合全部成员
	SMembers(ctx context.Context, key string) ([]string, error)

	// SMIsMember 批量判断成员关系，返回值与 members 一一对应
	SMIsMember(ctx context.Context, key string, members ...string) ([]bool, error)
}

var (
	// ErrStoreNotFound 表示 key 不存在
	ErrStoreNotFound = NewDomainError(ModuleStore, ErrorCodeNotFound, "store: key not found")

	// ErrStoreNotSupported 表示操作不支持
	ErrStoreNotSupported = NewDomainError(ModuleStore, ErrorCodeNotSupported, "store: operation not supported")
)
