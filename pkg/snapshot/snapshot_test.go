package snapshot

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speaknode/speaknode/pkg/graph"
	"github.com/speaknode/speaknode/pkg/schema"
)

func sampleDump() *graph.Dump {
	dump := &graph.Dump{Version: graph.DumpVersion}
	dump.Nodes.Meetings = []schema.Meeting{{ID: "m_1", Title: "Weekly sync", Date: "2026-08-31"}}
	dump.Nodes.People = []schema.Person{{Name: "Alice", Role: "Lead"}}
	dump.Nodes.Topics = []graph.TopicRecord{{Title: "m_1::Budget", Summary: "numbers"}}
	dump.Nodes.Tasks = []graph.TaskRecord{
		{Description: "m_1::Draft doc", Status: schema.StatusBlocked},
	}
	dump.Nodes.Utterances = []graph.UtteranceRecord{
		{ID: "u1", Text: "hello", Embedding: []float32{0.1, 0.2}},
	}
	dump.Edges.Discussed = []graph.EdgeRecord{{Start: "m_1", End: "m_1::Budget"}}
	return dump
}

func blankPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	summary := &schema.AnalysisResult{
		Topics: []schema.Topic{{Title: "Budget", Summary: "numbers"}},
	}
	bundle := NewBundle(sampleDump(), summary, true)

	data, err := Encode(bundle)
	require.NoError(t, err)

	// The carrier must remain a decodable image.
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, cardWidth, img.Bounds().Dx())
	assert.Equal(t, cardHeight, img.Bounds().Dy())

	decoded, ok, err := Decode(data)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, FormatTag, decoded.Format)
	assert.True(t, decoded.EmbeddingsIncluded)
	assert.Equal(t, bundle.GraphDump, decoded.GraphDump)
	require.NotNil(t, decoded.AnalysisResult)
	assert.Equal(t, "Budget", decoded.AnalysisResult.Topics[0].Title)
}

func TestDecodeNoEmbeddedData(t *testing.T) {
	bundle, ok, err := Decode(blankPNG(t))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, bundle)
}

func TestDecodeNotPNG(t *testing.T) {
	_, _, err := Decode([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrNotPNG)
}

func TestDecodeWrongFormatTag(t *testing.T) {
	payload, err := json.Marshal(map[string]string{"format": "something_else_v9"})
	require.NoError(t, err)

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	_, err = zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	data, err := insertTextChunk(blankPNG(t),
		ChunkKeyPrimary, base64.StdEncoding.EncodeToString(compressed.Bytes()))
	require.NoError(t, err)

	bundle, ok, err := Decode(data)
	require.NoError(t, err, "unknown tag is no-data, not an error")
	assert.False(t, ok)
	assert.Nil(t, bundle)
}

func TestDecodeCorruptPayload(t *testing.T) {
	t.Run("bad base64", func(t *testing.T) {
		data, err := insertTextChunk(blankPNG(t), ChunkKeyPrimary, "%%%not base64%%%")
		require.NoError(t, err)
		_, _, err = Decode(data)
		assert.ErrorIs(t, err, ErrCorruptPayload)
	})

	t.Run("bad zlib stream", func(t *testing.T) {
		value := base64.StdEncoding.EncodeToString([]byte("not a zlib stream"))
		data, err := insertTextChunk(blankPNG(t), ChunkKeyPrimary, value)
		require.NoError(t, err)
		_, _, err = Decode(data)
		assert.ErrorIs(t, err, ErrCorruptPayload)
	})

	t.Run("bad json under legacy key", func(t *testing.T) {
		data, err := insertTextChunk(blankPNG(t), ChunkKeyLegacy, "{truncated")
		require.NoError(t, err)
		_, _, err = Decode(data)
		assert.ErrorIs(t, err, ErrCorruptPayload)
	})
}

func TestDecodeLegacyKey(t *testing.T) {
	bundle := NewBundle(sampleDump(), nil, false)
	payload, err := json.Marshal(bundle)
	require.NoError(t, err)

	data, err := insertTextChunk(blankPNG(t), ChunkKeyLegacy, string(payload))
	require.NoError(t, err)

	decoded, ok, err := Decode(data)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, bundle.GraphDump, decoded.GraphDump)
}

func TestDecodePrefersPrimaryKey(t *testing.T) {
	primaryBundle := NewBundle(sampleDump(), nil, true)
	payload, err := json.Marshal(primaryBundle)
	require.NoError(t, err)
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	_, err = zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	data, err := insertTextChunk(blankPNG(t),
		ChunkKeyPrimary, base64.StdEncoding.EncodeToString(compressed.Bytes()))
	require.NoError(t, err)
	data, err = insertTextChunk(data, ChunkKeyLegacy, `{"format":"speaknode_graph_bundle_v1","graph_dump":{"version":1}}`)
	require.NoError(t, err)

	decoded, ok, err := Decode(data)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, decoded.EmbeddingsIncluded, "primary chunk wins over legacy")
}

func TestDecompressionGuard(t *testing.T) {
	// A tiny zlib stream inflating past the ceiling must be rejected.
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	zeros := make([]byte, 1<<20)
	for written := 0; written <= MaxDecompressedBytes; written += len(zeros) {
		_, err := zw.Write(zeros)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	data, err := insertTextChunk(blankPNG(t),
		ChunkKeyPrimary, base64.StdEncoding.EncodeToString(compressed.Bytes()))
	require.NoError(t, err)

	_, _, err = Decode(data)
	assert.ErrorIs(t, err, ErrPayloadTooBig)
}

func TestCarrierStillValidWithoutReader(t *testing.T) {
	bundle := NewBundle(sampleDump(), nil, false)
	data, err := Encode(bundle)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)

	// Sanity: the card has non-background pixels (something was drawn).
	bounds := img.Bounds()
	background := color.RGBA{0x1e, 0x1e, 0x2e, 0xff}
	found := false
	for y := bounds.Min.Y; y < bounds.Max.Y && !found; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			if uint8(r>>8) != background.R || uint8(g>>8) != background.G || uint8(b>>8) != background.B {
				found = true
				break
			}
		}
	}
	assert.True(t, found)
}
