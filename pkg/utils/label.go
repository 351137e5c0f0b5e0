package utils

import "strconv"

// Label 是排序链路中的一等公民：可解释、可追踪、可透传。
// Value 与 Source 的语义由各 Node 自定义；这里只提供标准化的合并规则。
type Label struct {
	Value  string `json:"value"`
	Source string `json:"source"` // recall / filter / rank / rerank / discovery ...
}

// Label 来源常量，对应 pipeline.Kind
const (
	SourceRecall    = "recall"
	SourceFilter    = "filter"
	SourceRank      = "rank"
	SourceReRank    = "rerank"
	SourceDiscovery = "discovery"
)

// NumberLabel 以 4 位小数格式化分数型 Label。
func NumberLabel(v float64, source string) Label {
	return Label{Value: strconv.FormatFloat(v, 'f', 4, 64), Source: source}
}

// MergeLabel 用于合并同名 Label，遵循“保留历史、可追踪”的默认策略。
// - Value: 以 '|' 累积
// - Source: 以 ',' 累积（相同来源不重复）
func MergeLabel(existing Label, incoming Label) Label {
	if existing.Value == "" {
		return incoming
	}
	if incoming.Value == "" {
		return existing
	}

	merged := existing
	merged.Value = existing.Value + "|" + incoming.Value
	switch {
	case existing.Source == "":
		merged.Source = incoming.Source
	case incoming.Source == "", incoming.Source == existing.Source:
		merged.Source = existing.Source
	default:
		merged.Source = existing.Source + "," + incoming.Source
	}
	return merged
}
