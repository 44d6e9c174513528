package imaging

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestHSV(t *testing.T) {
	tests := []struct {
		name    string
		in      color.RGBA
		h, s, v uint8
	}{
		{"red", color.RGBA{R: 255, A: 255}, 0, 255, 255},
		{"green", color.RGBA{G: 255, A: 255}, 60, 255, 255},
		{"blue", color.RGBA{B: 255, A: 255}, 120, 255, 255},
		{"gray", color.RGBA{R: 128, G: 128, B: 128, A: 255}, 0, 0, 128},
		{"black", color.RGBA{A: 255}, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, s, v := HSV(tt.in)
			assert.Equal(t, tt.h, h)
			assert.Equal(t, tt.s, s)
			assert.Equal(t, tt.v, v)
		})
	}
}

func TestGray(t *testing.T) {
	assert.Equal(t, uint8(255), Gray(color.RGBA{R: 255, G: 255, B: 255, A: 255}))
	assert.Equal(t, uint8(0), Gray(color.RGBA{A: 255}))
}

func TestEncodeJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	Fill(img, img.Bounds(), color.RGBA{R: 200, A: 255})

	encoded, err := EncodeJPEG(img, 0)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	decoded, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())
}

func TestWarpIdentity(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 20, 10))
	Marker(src, image.Pt(5, 5), color.RGBA{G: 255, A: 255}, 1)

	identity := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	out, err := Warp(src, identity, 20, 10)
	require.NoError(t, err)
	assert.Equal(t, src.Pix, out.Pix)
}

func TestWarpTranslation(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 20, 20))
	src.SetRGBA(4, 4, color.RGBA{B: 255, A: 255})

	shift := mat.NewDense(3, 3, []float64{1, 0, 3, 0, 1, 2, 0, 0, 1})
	out, err := Warp(src, shift, 20, 20)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{B: 255, A: 255}, out.RGBAAt(7, 6))
}

func TestWarpSingular(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	_, err := Warp(src, mat.NewDense(3, 3, nil), 4, 4)
	assert.Error(t, err)
}
