package twain_test

import (
	"encoding/binary"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mzyy94/twainscan/internal/twain"
	"github.com/mzyy94/twainscan/internal/twain/twaintest"
)

func TestPpmToDpi(t *testing.T) {
	tests := []struct {
		ppm  int32
		want float64
	}{
		{3937, 100.00},
		{0, 0.00},
		{11811, 300.00},
		{2835, 72.01},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, twain.PpmToDpi(tt.ppm), "ppm=%d", tt.ppm)
	}
}

func render(t *testing.T, dib []byte) (*twain.Bitmap, *twaintest.Memory) {
	t.Helper()
	mem := twaintest.NewMemory()
	r, err := twain.NewBitmapRenderer(mem, mem.Put(dib))
	require.NoError(t, err)
	defer r.Close()
	bmp, err := r.Render()
	require.NoError(t, err)
	return bmp, mem
}

func TestBitmapRenderer_24BitBottomUp(t *testing.T) {
	hdr := twain.BitmapInfoHeader{Width: 2, Height: 2, BitCount: 24, XPelsPerMeter: 3937, YPelsPerMeter: 11811}
	pix := make([]byte, 16) // stride 8
	// first stored row is the bottom one
	copy(pix[0:3], []byte{0, 0, 0xFF})  // (0,1) red
	copy(pix[8:11], []byte{0xFF, 0, 0}) // (0,0) blue

	bmp, mem := render(t, twaintest.DIB(hdr, nil, pix))

	img, ok := bmp.Image.(*image.RGBA)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 2, 2), img.Bounds())
	assert.Equal(t, color.RGBA{R: 0xFF, A: 0xFF}, img.RGBAAt(0, 1))
	assert.Equal(t, color.RGBA{B: 0xFF, A: 0xFF}, img.RGBAAt(0, 0))
	assert.Equal(t, 100.0, bmp.DpiX)
	assert.Equal(t, 300.0, bmp.DpiY)
	assert.Zero(t, mem.Live())
}

func TestBitmapRenderer_1BitTopDown(t *testing.T) {
	hdr := twain.BitmapInfoHeader{Width: 3, Height: -2, BitCount: 1}
	pal := []color.RGBA{{A: 0xFF}, {R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}}
	pix := []byte{
		0b10100000, 0, 0, 0,
		0b01000000, 0, 0, 0,
	}

	bmp, _ := render(t, twaintest.DIB(hdr, pal, pix))

	img, ok := bmp.Image.(*image.Paletted)
	require.True(t, ok)
	assert.Equal(t, uint8(1), img.ColorIndexAt(0, 0))
	assert.Equal(t, uint8(0), img.ColorIndexAt(1, 0))
	assert.Equal(t, uint8(1), img.ColorIndexAt(2, 0))
	assert.Equal(t, uint8(0), img.ColorIndexAt(0, 1))
	assert.Equal(t, uint8(1), img.ColorIndexAt(1, 1))
	assert.Equal(t, color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}, img.Palette[1])
}

func TestBitmapRenderer_8BitClrUsed(t *testing.T) {
	hdr := twain.BitmapInfoHeader{Width: 2, Height: 1, BitCount: 8, ClrUsed: 3}
	pal := []color.RGBA{{A: 0xFF}, {R: 0x80, G: 0x80, B: 0x80, A: 0xFF}, {R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}}
	pix := []byte{2, 1, 0, 0}

	bmp, _ := render(t, twaintest.DIB(hdr, pal, pix))

	img := bmp.Image.(*image.Paletted)
	assert.Len(t, img.Palette, 3)
	assert.Equal(t, uint8(2), img.ColorIndexAt(0, 0))
	assert.Equal(t, uint8(1), img.ColorIndexAt(1, 0))
}

func TestBitmapRenderer_32BitBitfields(t *testing.T) {
	hdr := twain.BitmapInfoHeader{Size: twain.BitmapInfoHeaderSize, Planes: 1, Width: 1, Height: -1, BitCount: 32, Compression: 3}
	dib := twain.MarshalBitmapInfoHeader(hdr)
	masks := make([]byte, 12)
	binary.LittleEndian.PutUint32(masks[0:4], 0x000000FF) // red in the low byte
	binary.LittleEndian.PutUint32(masks[4:8], 0x0000FF00)
	binary.LittleEndian.PutUint32(masks[8:12], 0x00FF0000)
	dib = append(dib, masks...)
	dib = append(dib, 0x11, 0x22, 0x33, 0x00)

	bmp, _ := render(t, dib)

	img := bmp.Image.(*image.RGBA)
	assert.Equal(t, color.RGBA{R: 0x11, G: 0x22, B: 0x33, A: 0xFF}, img.RGBAAt(0, 0))
}

func TestBitmapRenderer_16Bit555(t *testing.T) {
	hdr := twain.BitmapInfoHeader{Width: 1, Height: 1, BitCount: 16}
	pix := make([]byte, 4)
	binary.LittleEndian.PutUint16(pix, 0x7C00) // full red

	bmp, _ := render(t, twaintest.DIB(hdr, nil, pix))

	img := bmp.Image.(*image.RGBA)
	assert.Equal(t, color.RGBA{R: 0xFF, A: 0xFF}, img.RGBAAt(0, 0))
}

func TestBitmapRenderer_CloseFreesOnce(t *testing.T) {
	mem := twaintest.NewMemory()
	r, err := twain.NewBitmapRenderer(mem, mem.Put(twaintest.SolidDIB(1, 1, 0, color.RGBA{})))
	require.NoError(t, err)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.Equal(t, 1, mem.Frees)
	assert.Zero(t, mem.Live())

	_, err = r.Render()
	assert.Error(t, err)
}

func TestBitmapRenderer_BadHeaderReleasesHandle(t *testing.T) {
	mem := twaintest.NewMemory()
	h := mem.Put(make([]byte, 12))

	_, err := twain.NewBitmapRenderer(mem, h)
	require.Error(t, err)
	assert.Zero(t, mem.Live())
}

func TestBitmapRenderer_TruncatedPixels(t *testing.T) {
	dib := twaintest.SolidDIB(4, 4, 0, color.RGBA{})
	mem := twaintest.NewMemory()
	r, err := twain.NewBitmapRenderer(mem, mem.Put(dib[:len(dib)-1]))
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Render()
	assert.ErrorContains(t, err, "pixel data")
}

func TestBitmapRenderer_OversizedHeader(t *testing.T) {
	tests := []struct {
		name string
		hdr  twain.BitmapInfoHeader
	}{
		{"offset past data", twain.BitmapInfoHeader{Width: 1, Height: 1, BitCount: 8, ClrUsed: 1000}},
		{"offset and size wrap", twain.BitmapInfoHeader{Width: math.MaxInt32, Height: math.MaxInt32, BitCount: 32, ClrUsed: math.MaxUint32}},
		{"size exceeds data", twain.BitmapInfoHeader{Width: math.MaxInt32, Height: -math.MaxInt32, BitCount: 32}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := twaintest.NewMemory()
			r, err := twain.NewBitmapRenderer(mem, mem.Put(twaintest.DIB(tt.hdr, nil, make([]byte, 16))))
			require.NoError(t, err)
			defer r.Close()

			require.NotPanics(t, func() {
				_, err = r.Render()
			})
			assert.ErrorContains(t, err, "pixel data")
		})
	}
}

func TestBitmapInfoHeader_Offsets(t *testing.T) {
	tests := []struct {
		name string
		hdr  twain.BitmapInfoHeader
		want uint64
	}{
		{"24 bit no table", twain.BitmapInfoHeader{Size: 40, BitCount: 24}, 40},
		{"8 bit implicit table", twain.BitmapInfoHeader{Size: 40, BitCount: 8}, 40 + 256*4},
		{"4 bit ClrUsed", twain.BitmapInfoHeader{Size: 40, BitCount: 4, ClrUsed: 5}, 40 + 5*4},
		{"1 bit implicit table", twain.BitmapInfoHeader{Size: 40, BitCount: 1}, 48},
		{"bitfields masks", twain.BitmapInfoHeader{Size: 40, BitCount: 32, Compression: 3}, 52},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.hdr.PixelOffset())
		})
	}

	assert.Equal(t, uint64(4), twain.BitmapInfoHeader{Width: 3, BitCount: 1}.RowStride())
	assert.Equal(t, uint64(12), twain.BitmapInfoHeader{Width: 3, BitCount: 24}.RowStride())
}
