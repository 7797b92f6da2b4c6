package vectorindex

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
)

const snapshotVersion = 1

// snapshotFile 快照格式：zstd 压缩的 JSON。
// Vectors 按 IDs 的顺序平铺，长度为 Count*Dims。
type snapshotFile struct {
	Version       int       `json:"version"`
	Count         int       `json:"count"`
	Dims          int       `json:"dims"`
	Model         string    `json:"embedding_model"`
	BuiltAt       time.Time `json:"built_at"`
	SyncedThrough time.Time `json:"synced_through"`
	IDs           []string  `json:"ids"`
	Vectors       []float32 `json:"vectors"`
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

func encodeSnapshot(f *flatIndex) ([]byte, error) {
	raw, err := json.Marshal(snapshotFile{
		Version:       snapshotVersion,
		Count:         f.len(),
		Dims:          f.dims,
		Model:         f.model,
		BuiltAt:       f.builtAt,
		SyncedThrough: f.watermark,
		IDs:           f.ids,
		Vectors:       f.vectors,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return zstdEncoder.EncodeAll(raw, nil), nil
}

// decodeSnapshot 任何结构性问题都返回 ErrIndexCorrupted。
func decodeSnapshot(data []byte) (*flatIndex, error) {
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrIndexCorrupted, err)
	}
	var s snapshotFile
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrIndexCorrupted, err)
	}
	if s.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrIndexCorrupted, s.Version)
	}
	if s.Dims <= 0 || s.Count != len(s.IDs) || len(s.Vectors) != s.Count*s.Dims {
		return nil, fmt.Errorf("%w: count=%d ids=%d vectors=%d dims=%d",
			ErrIndexCorrupted, s.Count, len(s.IDs), len(s.Vectors), s.Dims)
	}

	f := &flatIndex{
		dims:      s.Dims,
		model:     s.Model,
		vectors:   s.Vectors,
		ids:       s.IDs,
		pos:       make(map[string]int, s.Count),
		builtAt:   s.BuiltAt,
		watermark: s.SyncedThrough,
	}
	for i, id := range s.IDs {
		if _, dup := f.pos[id]; dup || id == "" {
			return nil, fmt.Errorf("%w: invalid doc id %q at position %d", ErrIndexCorrupted, id, i)
		}
		f.pos[id] = i
	}
	return f, nil
}
