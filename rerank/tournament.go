package rerank

import (
	"context"
	"errors"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/pkg/workpool"
)

// 锦标赛默认参数
const (
	DefaultGroupSize    = 5
	DefaultKeepPerGroup = 2
	DefaultTournamentK  = 24
)

var errMissingVerdict = errors.New("tournament: missing group verdict")

// TournamentConfig 是锦标赛参数。
type TournamentConfig struct {
	GroupSize    int // 每组图片数，默认 5
	KeepPerGroup int // 每组晋级数，默认 2，必须小于 GroupSize
	Concurrency  int // 同一轮内并发的分组调用数，默认 2
}

func (c TournamentConfig) withDefaults() TournamentConfig {
	if c.GroupSize < 2 {
		c.GroupSize = DefaultGroupSize
	}
	if c.KeepPerGroup <= 0 {
		c.KeepPerGroup = DefaultKeepPerGroup
	}
	if c.KeepPerGroup >= c.GroupSize {
		c.KeepPerGroup = c.GroupSize - 1
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	return c
}

// GroupJudge 对一组候选（以输入下标表示）做一次比较。
type GroupJudge func(ctx context.Context, group []int) core.Result[core.GroupVerdict]

// Judgement 是某个候选在最近一次成功的分组比较中得到的元信息。
type Judgement struct {
	Round int
	Vibe  float64
	Entry core.GroupEntry
}

// TournamentResult 是锦标赛结果。
//   - Order 是输入下标的全排列：决赛组的排名在前，之后是被淘汰者（越晚淘汰越靠前）
//   - Finalists 是进入决赛组的候选数，即 Order 的前 Finalists 个
//   - FinalRound 是决赛的轮次编号（从 0 开始）
//   - Judgements 记录每个候选最近一次成功比较的元信息；调用失败的分组不产生元信息
type TournamentResult struct {
	Order      []int
	Finalists  int
	FinalRound int
	Judgements map[int]Judgement
}

// Partition 把候选按输入顺序切成大小为 size 的分组（最后一组可能更小）。
func Partition(pool []int, size int) [][]int {
	if len(pool) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(pool)
	}
	out := make([][]int, 0, (len(pool)+size-1)/size)
	for i := 0; i < len(pool); i += size {
		out = append(out, pool[i:min(i+size, len(pool))])
	}
	return out
}

// ResolveOrder 把模型返回的组内排名补成 [0, size) 的全排列：
// 丢弃越界和重复的下标，遗漏的下标按原顺序追加在后面。
func ResolveOrder(size int, order []int) []int {
	out := make([]int, 0, size)
	seen := make([]bool, size)
	for _, i := range order {
		if i < 0 || i >= size || seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
	}
	for i := 0; i < size; i++ {
		if !seen[i] {
			out = append(out, i)
		}
	}
	return out
}

// RoundResult 是一轮比较的结果。
type RoundResult struct {
	Winners    []int
	Losers     []int
	Judgements map[int]Judgement
}

// PlayRound 是纯函数：给定显式的分组与每组的调用结果，计算晋级者、淘汰者与元信息。
//   - 成功的分组按补全后的排名取前 keep 个晋级；缺 vibe 时按名次补 1 - pos/size
//   - 失败的分组保持组内输入顺序，不产生元信息
func PlayRound(round int, groups [][]int, verdicts []core.Result[core.GroupVerdict], keep int) RoundResult {
	res := RoundResult{Judgements: make(map[int]Judgement)}
	for gi, group := range groups {
		var v core.Result[core.GroupVerdict]
		if gi < len(verdicts) {
			v = verdicts[gi]
		} else {
			v = core.Failed[core.GroupVerdict](core.OutcomeNetworkError, errMissingVerdict)
		}

		var ranked []int
		switch v.Outcome {
		case core.OutcomeOK:
			perm := ResolveOrder(len(group), v.Value.Order)
			entries := make(map[int]core.GroupEntry, len(v.Value.Entries))
			for _, e := range v.Value.Entries {
				if e.Index >= 0 && e.Index < len(group) {
					entries[e.Index] = e
				}
			}
			ranked = make([]int, len(perm))
			for pos, local := range perm {
				ranked[pos] = group[local]
				e := entries[local]
				e.Index = local
				vibe := 1 - float64(pos)/float64(len(group))
				if e.Vibe != nil {
					vibe = *e.Vibe
				}
				res.Judgements[group[local]] = Judgement{Round: round, Vibe: vibe, Entry: e}
			}
		case core.OutcomeParseError, core.OutcomeNetworkError, core.OutcomeTimeout:
			ranked = group
		}

		n := min(keep, len(ranked))
		res.Winners = append(res.Winners, ranked[:n]...)
		res.Losers = append(res.Losers, ranked[n:]...)
	}
	return res
}

// Tournament 对 n 个候选做分组淘汰：每轮分组比较、每组晋级 keep 个，
// 直到候选数不超过一组，再做一次决赛比较。无论调用成功与否，输出都是输入下标的全排列。
func Tournament(ctx context.Context, n int, cfg TournamentConfig, judge GroupJudge) TournamentResult {
	cfg = cfg.withDefaults()
	res := TournamentResult{Judgements: make(map[int]Judgement)}
	if n == 0 {
		return res
	}

	pool := make([]int, n)
	for i := range pool {
		pool[i] = i
	}

	var eliminated [][]int
	round := 0
	for len(pool) > cfg.GroupSize {
		groups := Partition(pool, cfg.GroupSize)
		played := workpool.Map(ctx, groups, cfg.Concurrency, func(ctx context.Context, _ int, g []int) *core.Result[core.GroupVerdict] {
			v := judge(ctx, g)
			return &v
		})
		verdicts := make([]core.Result[core.GroupVerdict], len(groups))
		for i, v := range played {
			if v == nil {
				// ctx 取消后未执行的分组
				verdicts[i] = core.Failed[core.GroupVerdict](core.OutcomeTimeout, ctx.Err())
				continue
			}
			verdicts[i] = *v
		}
		rr := PlayRound(round, groups, verdicts, cfg.KeepPerGroup)
		for i, j := range rr.Judgements {
			res.Judgements[i] = j
		}
		eliminated = append(eliminated, rr.Losers)
		pool = rr.Winners
		round++
	}

	final := PlayRound(round, [][]int{pool}, []core.Result[core.GroupVerdict]{judge(ctx, pool)}, len(pool))
	for i, j := range final.Judgements {
		res.Judgements[i] = j
	}

	res.Order = make([]int, 0, n)
	res.Order = append(res.Order, final.Winners...)
	res.Finalists = len(final.Winners)
	res.FinalRound = round
	for r := len(eliminated) - 1; r >= 0; r-- {
		res.Order = append(res.Order, eliminated[r]...)
	}
	return res
}
