package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/tastekit/core"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

// initCELEnv 初始化 CEL 环境，定义变量
func initCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("post", cel.DynType),
		cel.Variable("label", cel.DynType),
		cel.Variable("rctx", cel.DynType),
	)
}

// getCELEnv 获取或创建 CEL 环境
func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = initCELEnv()
	})
	return celEnv, celEnvErr
}

// Expr 是编译好的帖子表达式，使用 CEL (Common Expression Language)。
// 编译一次，可在多个 goroutine 中并发 Match。
//
// 表达式语法（CEL 标准语法）：
//   - 数值：post.score >= 0.9 / post.aesthetic_score > 6.5
//   - 布尔：!post.ai_signals
//   - 字符串：post.source.contains("seed_expand") / post.author == "alice"
//   - 列表："film" in post.vision_tags / post.hashtags.exists(h, h == "analog")
//   - Label：label.tournament != null
//   - 上下文："ai art" in rctx.topics
//
// 可选分数（vision/aesthetic/technical/vibe/engagement）缺失时为 null，
// 使用前可以先判断 post.vibe_score != null。
type Expr struct {
	src string
	prg cel.Program
}

// Compile 编译表达式；表达式为空时返回 nil, nil（Match 恒为 true）。
func Compile(expr string) (*Expr, error) {
	if expr == "" {
		return nil, nil
	}
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error: %w", err)
	}
	return &Expr{src: expr, prg: prg}, nil
}

// MustCompile 同 Compile，失败时 panic，用于包级变量。
func MustCompile(expr string) *Expr {
	e, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return e
}

// String 返回原始表达式。
func (e *Expr) String() string {
	if e == nil {
		return ""
	}
	return e.src
}

// Match 对单个帖子求值，表达式必须返回布尔值。nil Expr 恒为 true。
func (e *Expr) Match(post *core.Post, rctx *core.RecommendContext) (bool, error) {
	if e == nil {
		return true, nil
	}
	out, _, err := e.prg.Eval(buildInput(post, rctx))
	if err != nil {
		// 访问不存在的 key 会报错，用 label.key != null 检查存在性
		return false, fmt.Errorf("eval error: %w", err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression must return boolean, got %T", out.Value())
	}
	return result, nil
}

// Eval 是一次性求值的便捷封装：每次 Evaluate 都会编译表达式。
// 需要对大量帖子求值时使用 Compile + Match。
type Eval struct {
	post *core.Post
	rctx *core.RecommendContext
}

// NewEval 创建一个新的 DSL 解释器。
func NewEval(post *core.Post, rctx *core.RecommendContext) *Eval {
	return &Eval{post: post, rctx: rctx}
}

// Evaluate 解析并执行 DSL 表达式，空表达式返回 true。
func (e *Eval) Evaluate(expr string) (bool, error) {
	compiled, err := Compile(expr)
	if err != nil {
		return false, err
	}
	return compiled.Match(e.post, e.rctx)
}

// buildInput 构建 CEL 表达式的输入数据
func buildInput(p *core.Post, rctx *core.RecommendContext) map[string]any {
	if p == nil {
		p = &core.Post{}
	}

	labels := make(map[string]any, len(p.Labels))
	labelAccessor := make(map[string]any, len(p.Labels))
	for k, v := range p.Labels {
		labels[k] = map[string]any{
			"value":  v.Value,
			"source": v.Source,
		}
		labelAccessor[k] = v.Value
	}

	post := map[string]any{
		"id":               p.ID,
		"url":              p.URL,
		"image_url":        p.ImageURL,
		"caption":          p.Caption,
		"hashtags":         nonNil(p.Hashtags),
		"author":           p.Author,
		"source":           p.Source,
		"text_score":       p.TextScore,
		"vision_score":     optional(p.VisionScore),
		"vision_tags":      nonNil(p.VisionTags),
		"ai_signals":       p.AISignals,
		"embedding_sim":    p.EmbeddingSim,
		"aesthetic_score":  optional(p.AestheticScore),
		"technical_score":  optional(p.TechnicalScore),
		"taste_score":      p.TasteScore,
		"vibe_score":       optional(p.VibeScore),
		"base_beauty":      p.BaseBeauty,
		"engagement_score": optional(p.EngagementScore),
		"engagement":       p.EngagementComposite(),
		"final_score":      p.FinalScore,
		"score":            p.Score,
		"labels":           labels,
	}

	ctx := map[string]any{
		"user_id":  "",
		"topics":   []string{},
		"keywords": []string{},
		"style":    "",
		"params":   map[string]any{},
	}
	if rctx != nil {
		prefs := rctx.Prefs()
		ctx["user_id"] = rctx.UserID
		ctx["topics"] = prefs.Topics
		ctx["keywords"] = prefs.Keywords
		ctx["style"] = prefs.Style
		if rctx.Params != nil {
			ctx["params"] = rctx.Params
		}
	}

	return map[string]any{
		"post":  post,
		"label": labelAccessor,
		"rctx":  ctx,
	}
}

func optional(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
