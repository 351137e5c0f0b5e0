package core

import (
	"context"
	"image"
)

// Outcome 是一次外部模型调用（prompt + JSON 解析）的结果标记。
// 把 LLM 调用当成一个无类型的 RPC：调用方必须显式处理全部四种情况。
type Outcome int

const (
	OutcomeOK           Outcome = iota // 成功，Value 可用
	OutcomeParseError                  // 返回内容不是合法 JSON / 结构不符
	OutcomeNetworkError                // 网络错误、非 2xx、熔断打开、限流
	OutcomeTimeout                     // 超时（包括 ctx deadline）
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeParseError:
		return "parse_error"
	case OutcomeNetworkError:
		return "network_error"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Result 是带标记的调用结果。Outcome != OutcomeOK 时 Value 为零值，Err 描述原因。
type Result[T any] struct {
	Outcome Outcome
	Value   T
	Err     error
}

// OK 构造成功结果。
func OK[T any](v T) Result[T] {
	return Result[T]{Outcome: OutcomeOK, Value: v}
}

// Failed 构造失败结果。
func Failed[T any](outcome Outcome, err error) Result[T] {
	return Result[T]{Outcome: outcome, Err: err}
}

// VisionVerdict 是单图打分的解析结果。
type VisionVerdict struct {
	Score       *float64 // 0..1，模型没给时为 nil
	Tags        []string
	Description string
	AISignals   bool
}

// GroupEntry 是分组比较中单张图的元信息，Index 为组内下标。
type GroupEntry struct {
	Index       int
	Vibe        *float64
	Tags        []string
	Description string
	AIGenerated bool
}

// GroupVerdict 是一次分组比较的结果：Order 为组内下标的排名（可能不完整），Entries 为逐图元信息。
type GroupVerdict struct {
	Order   []int
	Entries []GroupEntry
}

// VisionModel 是支持图像输入的语言模型。
//
// 实现：
//   - service.ChatClient（OpenAI 兼容的 /chat/completions）
type VisionModel interface {
	// ScorePost 对单个帖子图片按用户口味打分
	ScorePost(ctx context.Context, post *Post, prefs Preferences, fb Feedback) Result[VisionVerdict]

	// JudgeGroup 一次调用比较一组图片，返回完整排名 + 逐图 vibe 分
	JudgeGroup(ctx context.Context, group []*Post, prefs Preferences, fb Feedback) Result[GroupVerdict]
}

// TextEmbedder 是文本向量模型，输出与输入一一对应。
type TextEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float64, error)
}

// ImageEmbedder 是图像特征模型（如 CLIP ViT-B/32），返回固定维度向量。
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, imageURL string) ([]float64, error)
}

// ImageFetcher 下载并解码图片，供技术质量评估使用。
type ImageFetcher interface {
	FetchImage(ctx context.Context, imageURL string) (image.Image, error)
}

// AccountSource 是采集层暴露给 seed-and-expand 的最小接口。
// 具体实现（托管抓取 API 等）不在本模块内。
type AccountSource interface {
	// RelatedAccounts 根据公开主页的“相关账号”信号扩展种子账号，不保证完整
	RelatedAccounts(ctx context.Context, seeds []string, limit int) ([]string, error)

	// PostsForAccounts 批量抓取账号的帖子，perAccount 为每个账号的上限
	PostsForAccounts(ctx context.Context, handles []string, perAccount int) ([]*Post, error)
}
