package dsl

import (
	"testing"

	"github.com/rushteam/tastekit/core"
	"github.com/rushteam/tastekit/pkg/utils"
)

func TestExpr_Match(t *testing.T) {
	post := &core.Post{
		ID:         "p1",
		Score:      0.93,
		AISignals:  false,
		Source:     "hashtag+seed_expand",
		VisionTags: []string{"film", "portrait"},
		VibeScore:  core.Float(0.8),
	}
	post.PutLabel("tournament", utils.Label{Value: "winner", Source: utils.SourceReRank})
	rctx := core.NewRecommendContext("u1", core.Preferences{Topics: []string{"ai art"}}, core.Feedback{})

	tests := []struct {
		expr string
		want bool
	}{
		{`post.score >= 0.9 && !post.ai_signals`, true},
		{`post.score >= 0.95`, false},
		{`post.source.contains("seed_expand")`, true},
		{`"film" in post.vision_tags`, true},
		{`post.vibe_score != null && post.vibe_score > 0.5`, true},
		{`post.aesthetic_score == null`, true},
		{`label.tournament == "winner"`, true},
		{`"ai art" in rctx.topics`, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			e, err := Compile(tt.expr)
			if err != nil {
				t.Fatalf("编译失败: %v", err)
			}
			got, err := e.Match(post, rctx)
			if err != nil {
				t.Fatalf("求值失败: %v", err)
			}
			if got != tt.want {
				t.Errorf("Match(%q) = %v, 期望 %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	if _, err := Compile(`post.score >=`); err == nil {
		t.Errorf("语法错误应返回错误")
	}

	e, err := Compile(`post.score`)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Match(&core.Post{Score: 1}, nil); err == nil {
		t.Errorf("非布尔结果应返回错误")
	}
}

func TestEmptyExpr(t *testing.T) {
	e, err := Compile("")
	if err != nil || e != nil {
		t.Fatalf("空表达式应返回 nil, nil")
	}
	ok, err := e.Match(&core.Post{}, nil)
	if !ok || err != nil {
		t.Errorf("nil Expr 应恒为 true")
	}
	ok, _ = NewEval(&core.Post{Score: 0.95}, nil).Evaluate(`post.score > 0.9`)
	if !ok {
		t.Errorf("Evaluate 结果不正确")
	}
}
