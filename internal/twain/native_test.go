package twain

import (
	"encoding/binary"
	"testing"
)

func TestIdentityLayout(t *testing.T) {
	id := Identity{
		ID:              0x01020304,
		Version:         Version{MajorNum: 1, MinorNum: 2, Language: LanguageUSA, Country: CountryUSA, Info: "info"},
		ProtocolMajor:   2,
		ProtocolMinor:   4,
		SupportedGroups: DGControl | DGImage,
		Manufacturer:    "maker",
		ProductFamily:   "family",
		ProductName:     "a product name that is much longer than thirty-three bytes",
	}

	b := MarshalIdentity(id)
	if len(b) != IdentitySize {
		t.Fatalf("len = %d, want %d", len(b), IdentitySize)
	}
	if got := binary.LittleEndian.Uint32(b[0:4]); got != id.ID {
		t.Errorf("id = %#x", got)
	}
	if got := binary.LittleEndian.Uint16(b[8:10]); got != LanguageUSA {
		t.Errorf("language = %d", got)
	}
	if got := binary.LittleEndian.Uint16(b[46:48]); got != 2 {
		t.Errorf("protocol major = %d", got)
	}
	if got := binary.LittleEndian.Uint32(b[50:54]); got != 3 {
		t.Errorf("groups = %d", got)
	}
	if b[54] != 'm' || b[88] != 'f' || b[122] != 'a' {
		t.Errorf("strings at wrong offsets: %q %q %q", b[54], b[88], b[122])
	}
	if b[155] != 0 {
		t.Errorf("product name not terminated")
	}

	back, err := ParseIdentity(b)
	if err != nil {
		t.Fatal(err)
	}
	if back.ProductName != id.ProductName[:33] {
		t.Errorf("product name = %q", back.ProductName)
	}
	if back.Version != id.Version || back.Manufacturer != "maker" {
		t.Errorf("parsed = %+v", back)
	}
}

func TestFix32(t *testing.T) {
	tests := []struct {
		in    float32
		whole int16
		frac  uint16
		raw   uint32
	}{
		{300, 300, 0, 300},
		{0.5, 0, 0x8000, 0x80000000},
		{-1, -1, 0, 0xFFFF},
		{5.7, 5, 45875, 5 | 45875<<16},
	}
	for _, tt := range tests {
		f := Fix32FromFloat(tt.in)
		if f.Whole != tt.whole || f.Frac != tt.frac {
			t.Errorf("Fix32FromFloat(%v) = %+v", tt.in, f)
		}
		if f.Raw() != tt.raw {
			t.Errorf("Fix32FromFloat(%v).Raw() = %#x, want %#x", tt.in, f.Raw(), tt.raw)
		}
	}
}

func TestRawItemWidening(t *testing.T) {
	tests := []struct {
		name string
		typ  ItemType
		item uint32
		want int32
	}{
		{"int16 negative", TypeInt16, 0xFFFF, -1},
		{"uint16 stays positive", TypeUInt16, 0xFFFF, 0xFFFF},
		{"bool ignores high word", TypeBool, 0xABCD0001, 1},
		{"int8", TypeInt8, 0xFF, -1},
		{"fix32 passes through", TypeFix32, 300, 300},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rawItem(tt.typ, tt.item); got != tt.want {
				t.Errorf("rawItem = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWindowsMessageLayout(t *testing.T) {
	buf := make([]byte, WindowsMessageSize)
	for i := range buf {
		buf[i] = 0xAA
	}
	m := WindowsMessage{Hwnd: 0x1234, Message: 0x8001, WParam: 7, LParam: 9, Time: 1000, X: -3, Y: 40}

	if err := PutWindowsMessage(buf, m); err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint32(buf[PtrSize:]); got != 0x8001 {
		t.Errorf("message at %d = %#x", PtrSize, got)
	}
	if got := binary.LittleEndian.Uint32(buf[4*PtrSize:]); got != 1000 {
		t.Errorf("time = %d", got)
	}
	if buf[WindowsMessageSize-1] != 0 {
		t.Errorf("reused buffer not cleared")
	}

	back, err := ParseWindowsMessage(buf)
	if err != nil {
		t.Fatal(err)
	}
	if back != m {
		t.Errorf("parsed = %+v, want %+v", back, m)
	}

	if err := PutWindowsMessage(buf[:WindowsMessageSize-1], m); err == nil {
		t.Error("short buffer accepted")
	}
}

func TestRecordSizes(t *testing.T) {
	if n := len(MarshalImageInfo(ImageInfo{})); n != ImageInfoSize {
		t.Errorf("image info = %d", n)
	}
	if n := len(MarshalImageLayout(ImageLayout{})); n != ImageLayoutSize {
		t.Errorf("image layout = %d", n)
	}
	if n := len(MarshalPendingTransfers(PendingTransfers{})); n != PendingXfersSize {
		t.Errorf("pending = %d", n)
	}
	p, err := ParsePendingTransfers(MarshalPendingTransfers(PendingTransfers{Count: -1, EOJ: 3}))
	if err != nil || p.Count != -1 || p.EOJ != 3 {
		t.Errorf("pending round trip = %+v, %v", p, err)
	}
	if _, err := ParseStatus([]byte{1}); err == nil {
		t.Error("short status accepted")
	}
}
