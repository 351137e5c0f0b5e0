package recall

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/pipeline"
	"github.com/rushteam/tastekit/pkg/logging"
	"github.com/rushteam/tastekit/pkg/utils"
)

// 合并策略
const (
	MergeFirst    = "first"    // 按 ID 去重，保留最先出现的（按 Sources 顺序）
	MergeUnion    = "union"    // 不去重
	MergePriority = "priority" // 相同 ID 保留优先级更高的来源（索引更小）
)

// Fanout 是一个 Recall Node：并发执行多个候选源，并合并结果。
// 支持超时、并发上限、合并策略。IncludeInput 为 true 时，
// 输入的帖子作为优先级最高的来源参与合并（seed-and-expand 只扩展，不替换原始候选）。
type Fanout struct {
	Sources       []Source
	IncludeInput  bool
	Dedup         bool
	Timeout       time.Duration // 每个候选源的超时时间
	MaxConcurrent int           // 最大并发数（<= 0 表示每个来源一个 goroutine）
	MergeStrategy string
}

func (n *Fanout) Name() string        { return "recall.fanout" }
func (n *Fanout) Kind() pipeline.Kind { return pipeline.KindRecall }

func (n *Fanout) Process(
	ctx context.Context,
	rctx *core.RecommendContext,
	input []*core.Post,
) ([]*core.Post, error) {
	offset := 0
	if n.IncludeInput {
		offset = 1
	}
	results := make([][]*core.Post, len(n.Sources)+offset)
	if n.IncludeInput {
		for _, p := range input {
			if p != nil {
				p.PutLabel("recall_source", utils.Label{Value: "input", Source: utils.SourceRecall})
			}
		}
		results[0] = input
	}

	var (
		mu sync.Mutex
		eg errgroup.Group
	)
	if n.MaxConcurrent > 0 {
		eg.SetLimit(n.MaxConcurrent)
	}

	for i, src := range n.Sources {
		priority := i + offset
		eg.Go(func() error {
			recallCtx := ctx
			if n.Timeout > 0 {
				var cancel context.CancelFunc
				recallCtx, cancel = context.WithTimeout(ctx, n.Timeout)
				defer cancel()
			}

			posts, err := src.Recall(recallCtx, rctx)
			if err != nil {
				// 超时或错误时返回空结果，不中断其他来源
				logging.Warn().Err(err).Str("source", src.Name()).Msg("recall source failed")
				return nil
			}

			// 记录召回来源 label，方便 explain / 观测
			for _, p := range posts {
				if p == nil {
					continue
				}
				p.PutLabel("recall_source", utils.Label{Value: src.Name(), Source: utils.SourceRecall})
				p.PutLabel("recall_priority", utils.Label{Value: strconv.Itoa(priority), Source: utils.SourceRecall})
			}

			mu.Lock()
			results[priority] = posts
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	var all []*core.Post
	for _, r := range results {
		all = append(all, r...)
	}

	switch n.MergeStrategy {
	case MergeUnion:
		return compact(all), nil
	case MergePriority:
		return n.mergeByPriority(all), nil
	default:
		return n.mergeFirst(all), nil
	}
}

// mergeFirst 按 ID 去重，保留第一个出现的（默认策略），后出现的 label 合并到保留者上。
func (n *Fanout) mergeFirst(all []*core.Post) []*core.Post {
	if !n.Dedup {
		return compact(all)
	}
	seen := make(map[string]*core.Post, len(all))
	out := make([]*core.Post, 0, len(all))
	for _, p := range all {
		if p == nil {
			continue
		}
		if old, ok := seen[p.ID]; ok {
			for k, v := range p.Labels {
				old.PutLabel(k, v)
			}
			continue
		}
		seen[p.ID] = p
		out = append(out, p)
	}
	return out
}

// mergeByPriority 相同 ID 时保留优先级更高的来源，输出顺序为各 ID 首次出现的位置。
// 结果按来源顺序拼接，先出现者优先级必然不低于后出现者，因此等价于 mergeFirst，
// 区别在于被替换的帖子会继承后来者的 Source 标记。
func (n *Fanout) mergeByPriority(all []*core.Post) []*core.Post {
	if !n.Dedup {
		return compact(all)
	}
	index := make(map[string]int, len(all))
	out := make([]*core.Post, 0, len(all))
	for _, p := range all {
		if p == nil {
			continue
		}
		i, ok := index[p.ID]
		if !ok {
			index[p.ID] = len(out)
			out = append(out, p)
			continue
		}
		old := out[i]
		for k, v := range p.Labels {
			old.PutLabel(k, v)
		}
		if p.Source != "" && p.Source != old.Source {
			if old.Source == "" {
				old.Source = p.Source
			} else {
				old.Source = old.Source + "+" + p.Source
			}
		}
		if old.EngagementScore == nil && p.EngagementScore != nil {
			v := *p.EngagementScore
			old.EngagementScore = &v
		}
	}
	return out
}

func compact(all []*core.Post) []*core.Post {
	out := make([]*core.Post, 0, len(all))
	for _, p := range all {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}
