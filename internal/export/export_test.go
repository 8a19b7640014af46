package export

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanehaakhtar/localboard/internal/state"
)

func TestParseColor(t *testing.T) {
	tests := []struct {
		in   string
		want color.NRGBA
		ok   bool
	}{
		{"red", color.NRGBA{R: 255, A: 255}, true},
		{" Blue ", color.NRGBA{B: 255, A: 255}, true},
		{"#00ff00", color.NRGBA{G: 255, A: 255}, true},
		{"#fff", color.NRGBA{R: 255, G: 255, B: 255, A: 255}, true},
		{"#12345", color.NRGBA{A: 255}, false},
		{"magenta", color.NRGBA{A: 255}, false},
		{"", color.NRGBA{A: 255}, false},
	}
	for _, tt := range tests {
		got, ok := ParseColor(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestForPath(t *testing.T) {
	r, err := ForPath("board.PNG")
	require.NoError(t, err)
	assert.IsType(t, PNG{}, r)

	r, err = ForPath("out/board.pdf")
	require.NoError(t, err)
	assert.IsType(t, PDF{}, r)

	_, err = ForPath("board.svg")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func horizontal(c string) state.Stroke {
	return state.Stroke{
		ID:     "s1",
		Color:  c,
		Width:  10,
		Points: []state.NormalizedPoint{{NX: 0.1, NY: 0.5}, {NX: 0.9, NY: 0.5}},
	}
}

func TestPNGRender(t *testing.T) {
	var buf bytes.Buffer
	strokes := []state.Stroke{
		horizontal("red"),
		{ID: "dot", Color: "blue", Width: 10, Points: []state.NormalizedPoint{{NX: 0.5, NY: 0.2}}},
		{ID: "empty", Color: "green"},
	}
	require.NoError(t, PNG{}.Render(&buf, strokes, 100, 100))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())

	r, g, b, _ := img.At(50, 50).RGBA()
	assert.Greater(t, r>>8, uint32(200), "stroke pixel is red")
	assert.Less(t, g>>8, uint32(60))
	assert.Less(t, b>>8, uint32(60))

	r, g, b, _ = img.At(50, 20).RGBA()
	assert.Less(t, r>>8, uint32(60), "single-point stroke renders as a dot")
	assert.Greater(t, b>>8, uint32(200))

	r, g, b, _ = img.At(5, 95).RGBA()
	assert.Equal(t, []uint32{255, 255, 255}, []uint32{r >> 8, g >> 8, b >> 8}, "background is white")
}

func TestPDFRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PDF{Title: "R1"}.Render(&buf, []state.Stroke{horizontal("#336699")}, 400, 300))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
	assert.Contains(t, buf.String(), "%%EOF")
}

func TestRenderRejectsEmptyCanvas(t *testing.T) {
	var buf bytes.Buffer
	require.ErrorIs(t, PNG{}.Render(&buf, nil, 0, 10), ErrCanvasSize)
	require.ErrorIs(t, PDF{}.Render(&buf, nil, 10, -1), ErrCanvasSize)
	assert.Zero(t, buf.Len())
}
