// Package snapshot embeds a complete graph dump inside a valid PNG file
// and recovers it losslessly.
//
// The carrier image is a rendered summary card; its pixels are cosmetic.
// The payload travels in a tEXt chunk: base64(zlib(json)) under the
// primary key, with a raw-JSON legacy key still readable for old images.
// The decoder walks the chunk structure directly and never needs a full
// image decode.
package snapshot

import (
	"github.com/speaknode/speaknode/pkg/graph"
	"github.com/speaknode/speaknode/pkg/schema"
)

// Container constants. These are wire format; changing any of them
// breaks compatibility with images already in circulation.
const (
	// FormatTag identifies the bundle envelope inside the chunk payload.
	FormatTag = "speaknode_graph_bundle_v1"
	// ChunkKeyPrimary carries base64-encoded compressed JSON.
	ChunkKeyPrimary = "speaknode_data_zlib_b64"
	// ChunkKeyLegacy carries raw uncompressed JSON (older writers).
	ChunkKeyLegacy = "speaknode_data"
)

// MaxDecompressedBytes bounds the inflated payload size. A crafted chunk
// cannot balloon past this during decode.
const MaxDecompressedBytes = 32 << 20

// Bundle is the envelope serialized into the image. GraphDump is
// mandatory; the analysis result is an optional companion summary.
type Bundle struct {
	Format             string                 `json:"format"`
	GraphDump          *graph.Dump            `json:"graph_dump"`
	AnalysisResult     *schema.AnalysisResult `json:"analysis_result,omitempty"`
	EmbeddingsIncluded bool                   `json:"embeddings_included,omitempty"`
}

// NewBundle wraps a dump in a tagged envelope.
func NewBundle(dump *graph.Dump, summary *schema.AnalysisResult, embeddingsIncluded bool) *Bundle {
	return &Bundle{
		Format:             FormatTag,
		GraphDump:          dump,
		AnalysisResult:     summary,
		EmbeddingsIncluded: embeddingsIncluded,
	}
}
