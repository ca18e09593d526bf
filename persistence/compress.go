package persistence

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// compressionThreshold is the payload size, in bytes, at or above which a
// retained message's payload is zstd-compressed before it crosses the
// persistence boundary. Small payloads aren't worth the frame overhead.
const compressionThreshold = 256

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder

	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

func getEncoder() *zstd.Encoder {
	encoderOnce.Do(func() {
		encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return encoder
}

func getDecoder() *zstd.Decoder {
	decoderOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil)
	})
	return decoder
}

// compressPayload compresses b if it's at least compressionThreshold bytes,
// reporting whether compression was applied so the caller can store that
// bit alongside the data.
func compressPayload(b []byte) ([]byte, bool) {
	if len(b) < compressionThreshold {
		return b, false
	}
	return getEncoder().EncodeAll(b, nil), true
}

// decompressPayload reverses compressPayload.
func decompressPayload(b []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return b, nil
	}
	return getDecoder().DecodeAll(b, nil)
}
