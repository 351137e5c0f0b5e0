package config

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rushteam/tastekit/pipeline"
)

// NodeBuilder 根据 config 构建 Node。
type NodeBuilder = func(map[string]any) (pipeline.Node, error)

var (
	customBuilders   = make(map[string]NodeBuilder)
	customBuildersMu sync.RWMutex
)

// Register 注册自定义 Node，之后创建的 NewFactory 都会包含它。
// 与内置类型同名时覆盖内置实现。
func Register(typeName string, builder NodeBuilder) {
	if typeName == "" || builder == nil {
		return
	}
	customBuildersMu.Lock()
	defer customBuildersMu.Unlock()
	customBuilders[typeName] = builder
}

func registerCustom(f *pipeline.NodeFactory) {
	customBuildersMu.RLock()
	defer customBuildersMu.RUnlock()
	for typeName, builder := range customBuilders {
		f.Register(typeName, builder)
	}
}

// SupportedTypes 返回内置与自定义 Node 类型（排序），用于错误提示与校验。
func SupportedTypes() []string {
	return NewFactory(Components{}).Types()
}

// ValidatePipelineConfig 校验 pipeline 配置中所有 node 类型均已注册；若有未支持类型则返回包含已支持列表的错误。
func ValidatePipelineConfig(cfg *pipeline.Config) error {
	if cfg == nil {
		return nil
	}
	supported := SupportedTypes()
	for _, nc := range cfg.Pipeline.Nodes {
		if nc.Type == "" {
			continue
		}
		if i := sort.SearchStrings(supported, nc.Type); i == len(supported) || supported[i] != nc.Type {
			return fmt.Errorf("unsupported node type %q (supported: %v)", nc.Type, supported)
		}
	}
	return nil
}
