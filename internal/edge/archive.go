package edge

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Bmar04/ADSBtool/pkg/models"
)

// ---------------------------------------------------------------------------
// Record Archiver
// ---------------------------------------------------------------------------

// Shared zstd coders; both are safe for concurrent use with EncodeAll /
// DecodeAll.
var (
	zstdEncoder, _ = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// ArchiveStats describes one archive operation.
type ArchiveStats struct {
	Records         int
	RawBytes        int64
	CompressedBytes int64
}

// Ratio returns compressed/raw size, or 0 when nothing was archived.
func (s ArchiveStats) Ratio() float64 {
	if s.RawBytes == 0 {
		return 0
	}
	return float64(s.CompressedBytes) / float64(s.RawBytes)
}

// Savings returns the bytes saved by compression.
func (s ArchiveStats) Savings() int64 {
	return s.RawBytes - s.CompressedBytes
}

// SavingsPercent returns the savings as a percentage of the raw size.
func (s ArchiveStats) SavingsPercent() float64 {
	if s.RawBytes == 0 {
		return 0
	}
	return float64(s.Savings()) / float64(s.RawBytes) * 100
}

// Archive serializes records and compresses them for cold storage.
func Archive(recs []models.TelemetryRecord) ([]byte, ArchiveStats, error) {
	if len(recs) == 0 {
		return nil, ArchiveStats{}, nil
	}

	raw, err := msgpack.Marshal(recs)
	if err != nil {
		return nil, ArchiveStats{}, fmt.Errorf("edge: encode archive: %w", err)
	}

	compressed := zstdEncoder.EncodeAll(raw, nil)
	stats := ArchiveStats{
		Records:         len(recs),
		RawBytes:        int64(len(raw)),
		CompressedBytes: int64(len(compressed)),
	}
	return compressed, stats, nil
}

// Restore decompresses and deserializes an archive produced by Archive.
func Restore(data []byte) ([]models.TelemetryRecord, error) {
	if len(data) == 0 {
		return nil, nil
	}

	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("edge: decompress archive: %w", err)
	}

	var recs []models.TelemetryRecord
	if err := msgpack.Unmarshal(raw, &recs); err != nil {
		return nil, fmt.Errorf("edge: decode archive: %w", err)
	}
	return recs, nil
}

// CompressBytes compresses an arbitrary payload with the shared encoder.
func CompressBytes(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	return zstdEncoder.EncodeAll(data, nil)
}

// DecompressBytes reverses CompressBytes.
func DecompressBytes(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("edge: decompress: %w", err)
	}
	return out, nil
}
