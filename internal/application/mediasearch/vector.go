package mediasearch

import (
	"fmt"
	"math"
)

// normTolerance 范数与 1 的差小于该值即视为已归一化
const normTolerance = 1e-6

// Normalize 返回 v 的 L2 归一化副本。
// 零向量、空向量或含 NaN/Inf 的向量返回 ErrDegenerateVector；已是单位向量时原样复制，
// 因此 Normalize(Normalize(v)) 与 Normalize(v) 逐位相等。
func Normalize(v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrDegenerateVector)
	}

	var sum float64
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: non-finite component at %d", ErrDegenerateVector, i)
		}
		sum += f * f
	}

	norm := math.Sqrt(sum)
	if norm == 0 || math.IsInf(norm, 0) || math.IsNaN(norm) {
		return nil, fmt.Errorf("%w: norm=%v", ErrDegenerateVector, norm)
	}

	out := make([]float32, len(v))
	if math.Abs(norm-1) <= normTolerance {
		copy(out, v)
		return out, nil
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

// L2Norm 计算欧氏范数
func L2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Dot 点积；两个单位向量的点积即余弦相似度。维度不一致时返回 0。
func Dot(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// MeanPool 逐元素求算术平均，再做一次归一化。
// 输入为 Embedder 的原始输出（逐帧不归一化），所有向量维度必须一致。
func MeanPool(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: no vectors to aggregate", ErrDegenerateVector)
	}

	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrDegenerateVector)
	}

	acc := make([]float64, dim)
	for i, vec := range vectors {
		if len(vec) != dim {
			return nil, fmt.Errorf("%w: vector %d has %d dims, want %d", ErrDimensionMismatch, i, len(vec), dim)
		}
		for j, x := range vec {
			acc[j] += float64(x)
		}
	}

	n := float64(len(vectors))
	mean := make([]float32, dim)
	for j := range acc {
		mean[j] = float32(acc[j] / n)
	}
	return Normalize(mean)
}
