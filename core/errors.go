package core

import "errors"

// DomainError 是领域层的统一错误类型。
//
// 使用场景：
//   - Store 错误：NOT_FOUND, NOT_SUPPORTED
//   - 外部模型错误：UNAVAILABLE, NOT_CONFIGURED
//   - 排序阶段：EMPTY（过滤后候选为空，触发路径降级）
type DomainError struct {
	Code    string // 错误代码（如 "NOT_FOUND", "EMPTY"）
	Message string // 错误消息
	Module  string // 模块名称（如 "store", "llm", "discovery"）
}

func (e *DomainError) Error() string {
	return e.Message
}

// Is 按 Module + Code 比较，便于 errors.Is 命中包装过的哨兵错误。
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Module == t.Module && e.Code == t.Code
}

// GetDomainError 获取 DomainError（支持 %w 包装），如果不是则返回 nil
func GetDomainError(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// 错误代码常量
const (
	ErrorCodeNotFound      = "NOT_FOUND"      // 资源不存在
	ErrorCodeNotSupported  = "NOT_SUPPORTED"  // 操作不支持
	ErrorCodeUnavailable   = "UNAVAILABLE"    // 服务不可用
	ErrorCodeInvalidInput  = "INVALID_INPUT"  // 输入无效
	ErrorCodeNotConfigured = "NOT_CONFIGURED" // 未配置（缺 API key / endpoint）
	ErrorCodeEmpty         = "EMPTY"          // 过滤后为空
)

// 模块名称常量
const (
	ModuleStore     = "store"
	ModuleLLM       = "llm"
	ModuleEmbedding = "embedding"
	ModuleImage     = "image"
	ModuleDiscovery = "discovery"
)

var (
	// ErrEmptyCandidates 过滤阶段移除了所有候选，调用方应降级到更早的阶段
	ErrEmptyCandidates = NewDomainError(ModuleDiscovery, ErrorCodeEmpty, "discovery: no candidates left after filtering")

	// ErrNotConfigured 外部依赖未配置，对应阶段直接跳过
	ErrNotConfigured = NewDomainError(ModuleDiscovery, ErrorCodeNotConfigured, "discovery: stage not configured")
)

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool {
	if d := GetDomainError(err); d != nil {
		return d.Code == ErrorCodeNotFound
	}
	return false
}

// IsEmpty 检查错误是否为 EMPTY
func IsEmpty(err error) bool {
	if d := GetDomainError(err); d != nil {
		return d.Code == ErrorCodeEmpty
	}
	return false
}

// IsNotConfigured 检查错误是否为 NOT_CONFIGURED
func IsNotConfigured(err error) bool {
	if d := GetDomainError(err); d != nil {
		return d.Code == ErrorCodeNotConfigured
	}
	return false
}
