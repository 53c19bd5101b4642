package server

import (
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// Binary websocket frames carry an lz4-compressed JSON message:
// 8-byte magic "tsnLz40\x00" + 4-byte LE uint32 uncompressed size + lz4 block data.
var frameMagic = []byte("tsnLz40\x00")

const (
	frameHeaderSize = 12
	maxFrameSize    = 64 << 20
	// Messages below this size are sent as plain text frames.
	compressThreshold = 32 << 10
)

// EncodeFrame compresses msg into a binary frame. ok is false when msg does
// not compress, in which case it should be sent as text.
func EncodeFrame(msg []byte) (frame []byte, ok bool, err error) {
	buf := make([]byte, frameHeaderSize+lz4.CompressBlockBound(len(msg)))
	n, err := lz4.CompressBlock(msg, buf[frameHeaderSize:], nil)
	if err != nil {
		return nil, false, fmt.Errorf("frame: compress failed: %w", err)
	}
	if n == 0 || n >= len(msg) {
		return nil, false, nil
	}
	copy(buf, frameMagic)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(msg)))
	return buf[:frameHeaderSize+n], true, nil
}

// DecodeFrame decompresses a binary frame produced by EncodeFrame or by the
// page agent.
func DecodeFrame(data []byte) ([]byte, error) {
	if len(data) < frameHeaderSize {
		return nil, fmt.Errorf("frame: data too short (%d bytes)", len(data))
	}
	for i := range frameMagic {
		if data[i] != frameMagic[i] {
			return nil, fmt.Errorf("frame: invalid header magic")
		}
	}

	size := binary.LittleEndian.Uint32(data[8:12])
	if size > maxFrameSize {
		return nil, fmt.Errorf("frame: declared size %d exceeds limit", size)
	}
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(data[frameHeaderSize:], dst)
	if err != nil {
		return nil, fmt.Errorf("frame: decompress failed: %w", err)
	}
	return dst[:n], nil
}
