// Package tastekit 是一个内容发现排序工具包：给定用户的口味偏好与采集层抓回的候选帖子，
// 产出按审美与口味匹配度排好序的列表。
//
// 设计要点：
// - Pipeline-first: 排序逻辑通过 Node 串联（候选扩展 → 过滤 → 打分 → 重排）
// - 永不失败: 外部模型调用失败只会让对应阶段降级，最坏情况返回启发式排序
// - Labels-first: 每个阶段写入 labels，便于 explain 与观测
//
// 入口见 discovery.Engine；按配置装配见 config.Build。
package tastekit

import "github.com/rushteam/tastekit/pipeline"

// 轻量 facade：便于用户直接 import "tastekit" 使用核心抽象。
type Pipeline = pipeline.Pipeline
type Node = pipeline.Node
type Kind = pipeline.Kind

const (
	KindRecall      = pipeline.KindRecall
	KindFilter      = pipeline.KindFilter
	KindRank        = pipeline.KindRank
	KindReRank      = pipeline.KindReRank
	KindPostProcess = pipeline.KindPostProcess
)
