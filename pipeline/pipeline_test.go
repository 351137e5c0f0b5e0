package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rushteam/tastekit/core"
)

type funcNode struct {
	name string
	fn   func([]*core.Post) ([]*core.Post, error)
}

func (n *funcNode) Name() string { return n.name }
func (n *funcNode) Kind() Kind   { return KindRank }
func (n *funcNode) Process(_ context.Context, _ *core.RecommendContext, posts []*core.Post) ([]*core.Post, error) {
	return n.fn(posts)
}

func TestPipeline_Run(t *testing.T) {
	appendNode := func(id string) Node {
		return &funcNode{name: "append." + id, fn: func(in []*core.Post) ([]*core.Post, error) {
			return append(in, &core.Post{ID: id}), nil
		}}
	}
	p := &Pipeline{Name: "test", Nodes: []Node{appendNode("a"), appendNode("b")}}
	out, err := p.Run(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(out) != 2 || out[0].ID != "a" || out[1].ID != "b" {
		t.Errorf("Node 应按顺序执行，got %d posts", len(out))
	}
}

func TestPipeline_StopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	called := false
	p := &Pipeline{Nodes: []Node{
		&funcNode{name: "fail", fn: func([]*core.Post) ([]*core.Post, error) { return nil, boom }},
		&funcNode{name: "after", fn: func(in []*core.Post) ([]*core.Post, error) { called = true; return in, nil }},
	}}
	_, err := p.Run(context.Background(), nil, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want wrapping boom", err)
	}
	if !strings.Contains(err.Error(), "fail") {
		t.Errorf("错误信息应包含 Node 名称: %v", err)
	}
	if called {
		t.Errorf("出错后不应继续执行后续 Node")
	}
}

func TestPipeline_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &Pipeline{Nodes: []Node{&funcNode{name: "noop", fn: func(in []*core.Post) ([]*core.Post, error) { return in, nil }}}}
	if _, err := p.Run(ctx, nil, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestNodeFactory(t *testing.T) {
	f := NewNodeFactory()
	f.Register("test.noop", func(map[string]any) (Node, error) {
		return &funcNode{name: "noop", fn: func(in []*core.Post) ([]*core.Post, error) { return in, nil }}, nil
	})

	cfg, err := ParseYAML([]byte("pipeline:\n  name: demo\n  nodes:\n    - type: test.noop\n"))
	if err != nil {
		t.Fatalf("ParseYAML() error = %v", err)
	}
	p, err := cfg.BuildPipeline(f)
	if err != nil {
		t.Fatalf("BuildPipeline() error = %v", err)
	}
	if p.Name != "demo" || len(p.Nodes) != 1 {
		t.Errorf("pipeline = %s with %d nodes, want demo with 1", p.Name, len(p.Nodes))
	}

	cfg.Pipeline.Nodes = append(cfg.Pipeline.Nodes, NodeConfig{Type: "test.unknown"})
	if _, err := cfg.BuildPipeline(f); err == nil {
		t.Errorf("未注册类型应返回错误")
	}
	if got := f.Types(); len(got) != 1 || got[0] != "test.noop" {
		t.Errorf("Types() = %v", got)
	}
}
