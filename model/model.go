package model

// EmbeddingModel 是作用在图像向量上的最小打分抽象：输入一个向量，输出一个可比较的分数。
// 具体实现可以是本地线性头（AestheticHead）或远程模型服务。
type EmbeddingModel interface {
	Name() string
	Predict(embedding []float64) (float64, error)
}
