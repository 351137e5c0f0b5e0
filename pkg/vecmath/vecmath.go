// Package vecmath 提供向量与分数的基础运算：余弦相似度、L2 归一化、均值、截断等。
package vecmath

import "math"

// Clamp01 把 x 截断到 [0,1]；NaN 视为 0。
func Clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(0, math.Min(1, x))
}

// Dot 计算两个向量前 min(len(a), len(b)) 维的内积。
func Dot(a, b []float64) float64 {
	n := min(len(a), len(b))
	var s float64
	for i := 0; i < n; i++ {
		s += a[i] * b[i]
	}
	return s
}

// Cosine 计算余弦相似度，任一向量为空或零向量时返回 0。
func Cosine(a, b []float64) float64 {
	n := min(len(a), len(b))
	if n == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SimilarityScore 把 [-1,1] 的余弦相似度映射到 [0,1]。
func SimilarityScore(sim float64) float64 {
	return Clamp01((sim + 1) / 2)
}

// Normalize 返回 L2 归一化后的新向量；零向量或空向量原样返回（拷贝）。
func Normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	var s float64
	for _, x := range v {
		s += x * x
	}
	n := math.Sqrt(s)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return out
	}
	for i := range out {
		out[i] /= n
	}
	return out
}

// Mean 计算一组向量的逐维均值。维度以第一个非空向量为准，维度不一致的向量被忽略。
// 没有可用向量时返回 nil。
func Mean(vectors [][]float64) []float64 {
	var (
		out   []float64
		count int
	)
	for _, v := range vectors {
		if len(v) == 0 {
			continue
		}
		if out == nil {
			out = make([]float64, len(v))
		}
		if len(v) != len(out) {
			continue
		}
		for i, x := range v {
			out[i] += x
		}
		count++
	}
	if count == 0 {
		return nil
	}
	for i := range out {
		out[i] /= float64(count)
	}
	return out
}
