// Package snapshot - PNG chunk plumbing.
package snapshot

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// Decode errors. ErrNotPNG means the bytes are not a PNG at all;
// payload errors mean a matching chunk existed but its content is bad.
var (
	ErrNotPNG         = errors.New("not a png image")
	ErrCorruptChunk   = errors.New("corrupt png chunk structure")
	ErrCorruptPayload = errors.New("corrupt embedded payload")
	ErrPayloadTooBig  = errors.New("embedded payload exceeds decompression limit")
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// Encode renders the summary card for the bundle and embeds the bundle
// in a tEXt chunk. The returned bytes are a valid PNG with or without a
// reader that understands the payload.
func Encode(bundle *Bundle) ([]byte, error) {
	carrier, err := renderCard(bundle)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("marshaling bundle: %w", err)
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("compressing bundle: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing bundle: %w", err)
	}
	value := base64.StdEncoding.EncodeToString(compressed.Bytes())

	return insertTextChunk(carrier, ChunkKeyPrimary, value)
}

// Decode recovers the bundle from image bytes.
//
// Returns (nil, false, nil) when the image carries no recognizable
// payload: neither chunk key present, or the envelope tag does not
// match. Returns an error when the bytes are not a PNG, or when a
// matching chunk exists but its payload is corrupt.
func Decode(data []byte) (*Bundle, bool, error) {
	primary, legacy, err := extractTextChunks(data)
	if err != nil {
		return nil, false, err
	}

	var raw []byte
	switch {
	case primary != "":
		compressed, err := base64.StdEncoding.DecodeString(primary)
		if err != nil {
			return nil, false, fmt.Errorf("%w: bad base64: %v", ErrCorruptPayload, err)
		}
		raw, err = inflate(compressed)
		if err != nil {
			return nil, false, err
		}
	case legacy != "":
		raw = []byte(legacy)
	default:
		return nil, false, nil
	}

	var bundle Bundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, false, fmt.Errorf("%w: bad json: %v", ErrCorruptPayload, err)
	}
	if bundle.Format != FormatTag {
		return nil, false, nil
	}
	return &bundle, true, nil
}

func inflate(compressed []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("%w: bad zlib stream: %v", ErrCorruptPayload, err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(io.LimitReader(zr, MaxDecompressedBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	if len(raw) > MaxDecompressedBytes {
		return nil, ErrPayloadTooBig
	}
	return raw, nil
}

// insertTextChunk adds a tEXt chunk right before IEND.
func insertTextChunk(img []byte, key, value string) ([]byte, error) {
	if !bytes.HasPrefix(img, pngSignature) {
		return nil, ErrNotPNG
	}

	chunkData := make([]byte, 0, len(key)+1+len(value))
	chunkData = append(chunkData, key...)
	chunkData = append(chunkData, 0)
	chunkData = append(chunkData, value...)

	chunk := make([]byte, 0, len(chunkData)+12)
	chunk = binary.BigEndian.AppendUint32(chunk, uint32(len(chunkData)))
	chunk = append(chunk, "tEXt"...)
	chunk = append(chunk, chunkData...)
	crc := crc32.NewIEEE()
	crc.Write([]byte("tEXt"))
	crc.Write(chunkData)
	chunk = binary.BigEndian.AppendUint32(chunk, crc.Sum32())

	// IEND is the last 12 bytes of a well-formed PNG, but walk the chunks
	// anyway so a trailing-garbage image fails loudly instead of breaking.
	offset, err := findChunk(img, "IEND")
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(img)+len(chunk))
	out = append(out, img[:offset]...)
	out = append(out, chunk...)
	out = append(out, img[offset:]...)
	return out, nil
}

// findChunk returns the byte offset where the named chunk starts.
func findChunk(img []byte, name string) (int, error) {
	pos := len(pngSignature)
	for pos+8 <= len(img) {
		length := int(binary.BigEndian.Uint32(img[pos : pos+4]))
		chunkType := string(img[pos+4 : pos+8])
		if chunkType == name {
			return pos, nil
		}
		pos += 8 + length + 4
	}
	return 0, fmt.Errorf("%w: missing %s chunk", ErrCorruptChunk, name)
}

// extractTextChunks walks the chunk list and collects the primary and
// legacy tEXt values, stopping at IEND.
func extractTextChunks(img []byte) (primary, legacy string, err error) {
	if !bytes.HasPrefix(img, pngSignature) {
		return "", "", ErrNotPNG
	}
	pos := len(pngSignature)
	for pos+8 <= len(img) {
		length := int(binary.BigEndian.Uint32(img[pos : pos+4]))
		chunkType := string(img[pos+4 : pos+8])
		if pos+8+length+4 > len(img) {
			return "", "", ErrCorruptChunk
		}
		if chunkType == "IEND" {
			return primary, legacy, nil
		}
		if chunkType == "tEXt" {
			data := img[pos+8 : pos+8+length]
			if sep := bytes.IndexByte(data, 0); sep >= 0 {
				key := string(data[:sep])
				value := string(data[sep+1:])
				switch key {
				case ChunkKeyPrimary:
					primary = value
				case ChunkKeyLegacy:
					legacy = value
				}
			}
		}
		pos += 8 + length + 4
	}
	return "", "", fmt.Errorf("%w: truncated before IEND", ErrCorruptChunk)
}
