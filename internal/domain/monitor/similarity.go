package monitor

import (
	"math"

	"github.com/viterin/vek/vek32"
)

// Norm 向量的 L2 范数
func Norm(v []float32) float64 {
	if len(v) == 0 {
		return 0
	}
	return math.Sqrt(float64(vek32.Dot(v, v)))
}

// Cosine 余弦相似度，任一向量为零向量或维度不一致时返回 0
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return float64(vek32.Dot(a, b)) / (na * nb)
}

// CentroidAccumulator 增量计算质心
type CentroidAccumulator struct {
	sum   []float32
	count int
}

// Add 累加一个向量，维度不一致的向量被忽略
func (c *CentroidAccumulator) Add(v []float32) bool {
	if c.sum == nil {
		c.sum = make([]float32, len(v))
	}
	if len(v) != len(c.sum) || len(v) == 0 {
		return false
	}
	vek32.Add_Inplace(c.sum, v)
	c.count++
	return true
}

// Count 已累加的向量数
func (c *CentroidAccumulator) Count() int {
	return c.count
}

// Centroid 返回均值向量，未累加任何向量时返回 nil
func (c *CentroidAccumulator) Centroid() []float32 {
	if c.count == 0 {
		return nil
	}
	out := make([]float32, len(c.sum))
	copy(out, c.sum)
	vek32.MulNumber_Inplace(out, 1/float32(c.count))
	return out
}
