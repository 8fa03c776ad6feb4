package onnx

import "gonum.org/v1/gonum/mat"

func toInt64(ids []int) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

func toFloat64(data []float32) []float64 {
	out := make([]float64, len(data))
	for i, x := range data {
		out[i] = float64(x)
	}
	return out
}

// toVec copies data, since tensor memory is released with the tensor.
func toVec(data []float32) *mat.VecDense {
	return mat.NewVecDense(len(data), toFloat64(data))
}

func fromVec(v mat.Vector) []float32 {
	out := make([]float32, v.Len())
	for i := range out {
		out[i] = float32(v.AtVec(i))
	}
	return out
}
