package storage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/chatwatch/backend/internal/domain/monitor"
)

// encodeEmbedding 把向量编码为小端 float32 字节序列
func encodeEmbedding(vec []float32) []byte {
	if vec == nil {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding 解码小端 float32 字节序列
func decodeEmbedding(buf []byte) ([]float32, error) {
	if buf == nil {
		return nil, nil
	}
	if len(buf) != 4*monitor.EmbeddingDim {
		return nil, fmt.Errorf("embedding blob has %d bytes, want %d", len(buf), 4*monitor.EmbeddingDim)
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}
