// Package snapshot - carrier card rendering.
package snapshot

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/speaknode/speaknode/pkg/schema"
)

const (
	cardWidth  = 800
	cardHeight = 480
)

var (
	cardBackground = color.RGBA{0x1e, 0x1e, 0x2e, 0xff}
	cardPanel      = color.RGBA{0x28, 0x28, 0x3c, 0xff}
	cardAccent     = color.RGBA{0x89, 0xb4, 0xfa, 0xff}
	cardText       = color.RGBA{0xcd, 0xd6, 0xf4, 0xff}
	cardMuted      = color.RGBA{0x6c, 0x70, 0x86, 0xff}

	statusColors = map[string]color.RGBA{
		schema.StatusPending:    {0xf9, 0xe2, 0xaf, 0xff},
		schema.StatusInProgress: {0x89, 0xb4, 0xfa, 0xff},
		schema.StatusDone:       {0xa6, 0xe3, 0xa1, 0xff},
		schema.StatusBlocked:    {0xf3, 0x8b, 0xa8, 0xff},
	}
)

// renderCard draws the visual summary for a bundle and returns encoded
// PNG bytes. The card is informational only; decode never looks at it.
func renderCard(bundle *Bundle) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, cardWidth, cardHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(cardBackground), image.Point{}, draw.Src)

	// Header band
	draw.Draw(img, image.Rect(0, 0, cardWidth, 56), image.NewUniform(cardPanel), image.Point{}, draw.Src)
	drawText(img, 24, 34, "SpeakNode graph snapshot", cardAccent)

	dump := bundle.GraphDump
	title := "meeting graph"
	if dump != nil && len(dump.Nodes.Meetings) > 0 && dump.Nodes.Meetings[0].Title != "" {
		title = dump.Nodes.Meetings[0].Title
	}
	drawText(img, 24, 50, truncate(title, 90), cardMuted)

	if dump == nil {
		drawText(img, 24, 90, "empty bundle", cardMuted)
		return encodePNG(img)
	}

	counts := fmt.Sprintf("meetings %d   topics %d   tasks %d   decisions %d   people %d   utterances %d",
		len(dump.Nodes.Meetings), len(dump.Nodes.Topics), len(dump.Nodes.Tasks),
		len(dump.Nodes.Decisions), len(dump.Nodes.People), len(dump.Nodes.Utterances))
	drawText(img, 24, 84, counts, cardText)
	if bundle.EmbeddingsIncluded {
		drawText(img, 24, 100, "embeddings included", cardMuted)
	}

	y := 132
	drawText(img, 24, y, "Topics", cardAccent)
	y += 20
	for i, topic := range dump.Nodes.Topics {
		if i >= 6 {
			drawText(img, 36, y, fmt.Sprintf("… and %d more", len(dump.Nodes.Topics)-i), cardMuted)
			y += 16
			break
		}
		drawText(img, 36, y, truncate("• "+schema.DecodeScopedValue(topic.Title), 100), cardText)
		y += 16
	}

	y += 16
	drawText(img, 24, y, "Tasks", cardAccent)
	y += 20
	for i, task := range dump.Nodes.Tasks {
		if i >= 8 {
			drawText(img, 36, y, fmt.Sprintf("… and %d more", len(dump.Nodes.Tasks)-i), cardMuted)
			y += 16
			break
		}
		badge, ok := statusColors[task.Status]
		if !ok {
			badge = cardMuted
		}
		draw.Draw(img, image.Rect(36, y-8, 44, y), image.NewUniform(badge), image.Point{}, draw.Src)
		drawText(img, 52, y, truncate(schema.DecodeScopedValue(task.Description), 90), cardText)
		y += 16
	}

	// Footer rule
	draw.Draw(img, image.Rect(0, cardHeight-28, cardWidth, cardHeight-27),
		image.NewUniform(cardPanel), image.Point{}, draw.Src)
	drawText(img, 24, cardHeight-10,
		fmt.Sprintf("dump v%d  •  %d elements", dump.Version, dump.ElementCount()), cardMuted)

	return encodePNG(img)
}

func drawText(img *image.RGBA, x, y int, text string, col color.RGBA) {
	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	drawer.DrawString(text)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding card: %w", err)
	}
	return buf.Bytes(), nil
}
