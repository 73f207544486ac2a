package twain

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"math/bits"
)

// DIB compression values handled by the renderer.
const (
	biRGB       = 0
	biBitfields = 3
)

// BitmapInfoHeader is BITMAPINFOHEADER, the head of a packed DIB.
type BitmapInfoHeader struct {
	Size          uint32
	Width         int32
	Height        int32 // negative for top-down rows
	Planes        uint16
	BitCount      uint16
	Compression   uint32
	SizeImage     uint32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ClrUsed       uint32
	ClrImportant  uint32
}

// MarshalBitmapInfoHeader encodes a BITMAPINFOHEADER.
func MarshalBitmapInfoHeader(h BitmapInfoHeader) []byte {
	buf := make([]byte, BitmapInfoHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Size)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.Width))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Height))
	binary.LittleEndian.PutUint16(buf[12:14], h.Planes)
	binary.LittleEndian.PutUint16(buf[14:16], h.BitCount)
	binary.LittleEndian.PutUint32(buf[16:20], h.Compression)
	binary.LittleEndian.PutUint32(buf[20:24], h.SizeImage)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(h.XPelsPerMeter))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(h.YPelsPerMeter))
	binary.LittleEndian.PutUint32(buf[32:36], h.ClrUsed)
	binary.LittleEndian.PutUint32(buf[36:40], h.ClrImportant)
	return buf
}

// ParseBitmapInfoHeader decodes a BITMAPINFOHEADER.
func ParseBitmapInfoHeader(data []byte) (BitmapInfoHeader, error) {
	if len(data) < BitmapInfoHeaderSize {
		return BitmapInfoHeader{}, fmt.Errorf("bitmap header: %w", errShortRecord)
	}
	h := BitmapInfoHeader{
		Size:          binary.LittleEndian.Uint32(data[0:4]),
		Width:         int32(binary.LittleEndian.Uint32(data[4:8])),
		Height:        int32(binary.LittleEndian.Uint32(data[8:12])),
		Planes:        binary.LittleEndian.Uint16(data[12:14]),
		BitCount:      binary.LittleEndian.Uint16(data[14:16]),
		Compression:   binary.LittleEndian.Uint32(data[16:20]),
		SizeImage:     binary.LittleEndian.Uint32(data[20:24]),
		XPelsPerMeter: int32(binary.LittleEndian.Uint32(data[24:28])),
		YPelsPerMeter: int32(binary.LittleEndian.Uint32(data[28:32])),
		ClrUsed:       binary.LittleEndian.Uint32(data[32:36]),
		ClrImportant:  binary.LittleEndian.Uint32(data[36:40]),
	}
	if h.Size < BitmapInfoHeaderSize {
		return h, fmt.Errorf("bitmap header: unsupported header size %d", h.Size)
	}
	return h, nil
}

// RowStride is the byte length of one DIB row, padded to 32 bits.
func (h BitmapInfoHeader) RowStride() uint64 {
	return ((uint64(h.Width)*uint64(h.BitCount) + 31) &^ 31) >> 3
}

// Rows is the absolute number of rows.
func (h BitmapInfoHeader) Rows() int {
	if h.Height < 0 {
		return int(-int64(h.Height))
	}
	return int(h.Height)
}

// colorTableEntries is the number of RGBQUADs between header and pixels.
func (h BitmapInfoHeader) colorTableEntries() uint64 {
	n := uint64(h.ClrUsed)
	if n == 0 && h.BitCount <= 8 {
		n = 1 << h.BitCount
	}
	return n
}

// PixelOffset is the offset of the pixel block from the start of the DIB.
func (h BitmapInfoHeader) PixelOffset() uint64 {
	off := uint64(h.Size) + h.colorTableEntries()*4
	if h.Compression == biBitfields && h.Size == BitmapInfoHeaderSize {
		off += 3 * 4
	}
	return off
}

// PpmToDpi converts pixels per meter to dots per inch, rounded to two
// decimal places.
func PpmToDpi(pixelsPerMeter int32) float64 {
	dpi := float64(pixelsPerMeter) / 1000.0 * 25.4
	return math.Round(dpi*100) / 100
}

// Bitmap is a decoded native image.
type Bitmap struct {
	Image  image.Image
	DpiX   float64
	DpiY   float64
	Header BitmapInfoHeader
}

// BitmapRenderer decodes a packed DIB held in global memory. It owns the
// handle from construction on and releases it in Close.
type BitmapRenderer struct {
	mem    GlobalMemory
	handle Handle
	data   []byte
	header BitmapInfoHeader
	closed bool
}

// NewBitmapRenderer locks dib and parses its header. The handle is released
// even when an error is returned.
func NewBitmapRenderer(mem GlobalMemory, dib Handle) (*BitmapRenderer, error) {
	data, err := mem.Lock(dib)
	if err != nil {
		mem.Free(dib)
		return nil, fmt.Errorf("lock DIB: %w", err)
	}
	r := &BitmapRenderer{mem: mem, handle: dib, data: data}

	h, err := ParseBitmapInfoHeader(data)
	if err != nil {
		r.Close()
		return nil, err
	}
	if h.SizeImage == 0 {
		h.SizeImage = uint32(h.RowStride() * uint64(h.Rows()))
	}
	r.header = h
	return r, nil
}

// Header returns the parsed BITMAPINFOHEADER.
func (r *BitmapRenderer) Header() BitmapInfoHeader { return r.header }

// Render copies the pixel block into a newly allocated image of the
// header's width and height. Images of 8 bits or less become *image.Paletted,
// deeper ones *image.RGBA.
func (r *BitmapRenderer) Render() (*Bitmap, error) {
	if r.closed {
		return nil, errors.New("render DIB: renderer closed")
	}
	h := r.header
	if h.Width <= 0 || h.Height == 0 {
		return nil, fmt.Errorf("render DIB: invalid dimensions %dx%d", h.Width, h.Height)
	}
	if h.Compression != biRGB && h.Compression != biBitfields {
		return nil, fmt.Errorf("render DIB: unsupported compression %d", h.Compression)
	}

	width, rows := int(h.Width), h.Rows()
	stride := h.RowStride()
	start := h.PixelOffset()
	avail := uint64(len(r.data))
	if start > avail {
		return nil, fmt.Errorf("render DIB: pixel data starts at %d, have %d bytes", start, avail)
	}
	avail -= start
	if stride == 0 || uint64(rows) > avail/stride {
		return nil, fmt.Errorf("render DIB: pixel data needs %d rows of %d bytes, have %d", rows, stride, avail)
	}
	pix := r.data[start : start+stride*uint64(rows)]
	topDown := h.Height < 0
	row := func(y int) []byte {
		sy := y
		if !topDown {
			sy = rows - 1 - y
		}
		off := uint64(sy) * stride
		return pix[off : off+stride]
	}

	bounds := image.Rect(0, 0, width, rows)
	var img image.Image
	switch h.BitCount {
	case 1, 4, 8:
		img = r.renderIndexed(bounds, row)
	case 16, 24, 32:
		rgba, err := r.renderDirect(bounds, row)
		if err != nil {
			return nil, err
		}
		img = rgba
	default:
		return nil, fmt.Errorf("render DIB: unsupported bit count %d", h.BitCount)
	}

	return &Bitmap{
		Image:  img,
		DpiX:   PpmToDpi(h.XPelsPerMeter),
		DpiY:   PpmToDpi(h.YPelsPerMeter),
		Header: h,
	}, nil
}

func (r *BitmapRenderer) palette() color.Palette {
	h := r.header
	n := h.colorTableEntries()
	if max := uint64(1) << h.BitCount; n > max {
		n = max
	}
	table := r.data[h.Size:]
	pal := make(color.Palette, 0, n)
	for i := uint64(0); i < n && i*4+4 <= uint64(len(table)); i++ {
		q := table[i*4 : i*4+4]
		pal = append(pal, color.RGBA{R: q[2], G: q[1], B: q[0], A: 0xFF})
	}
	if len(pal) == 0 {
		pal = append(pal, color.Black)
	}
	return pal
}

func (r *BitmapRenderer) renderIndexed(bounds image.Rectangle, row func(int) []byte) *image.Paletted {
	bitCount := int(r.header.BitCount)
	pal := r.palette()
	img := image.NewPaletted(bounds, pal)
	perByte := 8 / bitCount
	mask := byte(1<<bitCount - 1)
	last := uint8(len(pal) - 1)

	for y := 0; y < bounds.Dy(); y++ {
		src := row(y)
		dst := img.Pix[y*img.Stride : y*img.Stride+bounds.Dx()]
		for x := range dst {
			b := src[x/perByte]
			shift := uint(8 - bitCount*(x%perByte+1))
			idx := (b >> shift) & mask
			if idx > last {
				idx = last
			}
			dst[x] = idx
		}
	}
	return img
}

func (r *BitmapRenderer) masks() (red, green, blue uint32) {
	h := r.header
	if h.Compression == biBitfields {
		off := h.Size
		if h.Size > BitmapInfoHeaderSize {
			// BITMAPV4/V5 headers carry the masks right after the V1 fields.
			off = BitmapInfoHeaderSize
		}
		if uint64(off)+12 <= uint64(len(r.data)) {
			m := r.data[off : off+12]
			return binary.LittleEndian.Uint32(m[0:4]), binary.LittleEndian.Uint32(m[4:8]), binary.LittleEndian.Uint32(m[8:12])
		}
	}
	if h.BitCount == 16 {
		return 0x7C00, 0x03E0, 0x001F
	}
	return 0x00FF0000, 0x0000FF00, 0x000000FF
}

func maskedChannel(v, mask uint32) uint8 {
	if mask == 0 {
		return 0
	}
	shift := bits.TrailingZeros32(mask)
	width := bits.OnesCount32(mask)
	c := (v & mask) >> shift
	if width >= 8 {
		return uint8(c >> (width - 8))
	}
	return uint8(c * 255 / (1<<width - 1))
}

func (r *BitmapRenderer) renderDirect(bounds image.Rectangle, row func(int) []byte) (*image.RGBA, error) {
	bitCount := int(r.header.BitCount)
	img := image.NewRGBA(bounds)
	rm, gm, bm := r.masks()
	bpp := bitCount / 8

	for y := 0; y < bounds.Dy(); y++ {
		src := row(y)
		dst := img.Pix[y*img.Stride : y*img.Stride+4*bounds.Dx()]
		for x := 0; x < bounds.Dx(); x++ {
			p := src[x*bpp : x*bpp+bpp]
			d := dst[x*4 : x*4+4]
			switch bitCount {
			case 24:
				d[0], d[1], d[2] = p[2], p[1], p[0]
			case 16:
				v := uint32(binary.LittleEndian.Uint16(p))
				d[0], d[1], d[2] = maskedChannel(v, rm), maskedChannel(v, gm), maskedChannel(v, bm)
			case 32:
				v := binary.LittleEndian.Uint32(p)
				d[0], d[1], d[2] = maskedChannel(v, rm), maskedChannel(v, gm), maskedChannel(v, bm)
			}
			d[3] = 0xFF
		}
	}
	return img, nil
}

// Close unlocks and frees the DIB handle. It is safe to call more than once.
func (r *BitmapRenderer) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.data = nil
	r.mem.Unlock(r.handle)
	r.mem.Free(r.handle)
	return nil
}
