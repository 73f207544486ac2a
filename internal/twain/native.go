package twain

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Native records are laid out explicitly, little-endian, with the 2-byte
// packing TWAIN headers declare. Nothing here depends on Go struct layout.

// Handle is an opaque native handle or pointer (HWND, HGLOBAL, TW_MEMREF).
type Handle uintptr

// PtrSize is the width of a native pointer on this platform.
const PtrSize = strconv.IntSize / 8

// Record sizes in bytes.
const (
	Str32Size            = 34
	IdentitySize         = 156
	StatusSize           = 4
	PendingXfersSize     = 6
	OneValueSize         = 6
	Fix32Size            = 4
	FrameSize            = 16
	ImageLayoutSize      = 28
	ImageInfoSize        = 42
	UserInterfaceSize    = 4 + PtrSize
	EventSize            = PtrSize + 2
	CapabilitySize       = 4 + PtrSize
	BitmapInfoHeaderSize = 40
)

var errShortRecord = errors.New("twain: record too short")

func putStr32(b []byte, s string) {
	clear(b[:Str32Size])
	n := copy(b[:Str32Size-1], s)
	b[n] = 0
}

func nullTerminated(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func putHandle(b []byte, h Handle) {
	if PtrSize == 8 {
		binary.LittleEndian.PutUint64(b, uint64(h))
		return
	}
	binary.LittleEndian.PutUint32(b, uint32(h))
}

func readHandle(b []byte) Handle {
	if PtrSize == 8 {
		return Handle(binary.LittleEndian.Uint64(b))
	}
	return Handle(binary.LittleEndian.Uint32(b))
}

// --------------------------------------------------------------------------
// TW_IDENTITY
// --------------------------------------------------------------------------

// Version is TW_VERSION.
type Version struct {
	MajorNum uint16
	MinorNum uint16
	Language uint16
	Country  uint16
	Info     string
}

// MarshalIdentity encodes a TW_IDENTITY.
//
//	[0:4]     Id
//	[4:12]    Version.MajorNum, MinorNum, Language, Country
//	[12:46]   Version.Info
//	[46:50]   ProtocolMajor, ProtocolMinor
//	[50:54]   SupportedGroups
//	[54:88]   Manufacturer
//	[88:122]  ProductFamily
//	[122:156] ProductName
func MarshalIdentity(id Identity) []byte {
	buf := make([]byte, IdentitySize)
	binary.LittleEndian.PutUint32(buf[0:4], id.ID)
	binary.LittleEndian.PutUint16(buf[4:6], id.Version.MajorNum)
	binary.LittleEndian.PutUint16(buf[6:8], id.Version.MinorNum)
	binary.LittleEndian.PutUint16(buf[8:10], id.Version.Language)
	binary.LittleEndian.PutUint16(buf[10:12], id.Version.Country)
	putStr32(buf[12:46], id.Version.Info)
	binary.LittleEndian.PutUint16(buf[46:48], id.ProtocolMajor)
	binary.LittleEndian.PutUint16(buf[48:50], id.ProtocolMinor)
	binary.LittleEndian.PutUint32(buf[50:54], uint32(id.SupportedGroups))
	putStr32(buf[54:88], id.Manufacturer)
	putStr32(buf[88:122], id.ProductFamily)
	putStr32(buf[122:156], id.ProductName)
	return buf
}

// ParseIdentity decodes a TW_IDENTITY.
func ParseIdentity(data []byte) (Identity, error) {
	if len(data) < IdentitySize {
		return Identity{}, fmt.Errorf("identity: %w", errShortRecord)
	}
	return Identity{
		ID: binary.LittleEndian.Uint32(data[0:4]),
		Version: Version{
			MajorNum: binary.LittleEndian.Uint16(data[4:6]),
			MinorNum: binary.LittleEndian.Uint16(data[6:8]),
			Language: binary.LittleEndian.Uint16(data[8:10]),
			Country:  binary.LittleEndian.Uint16(data[10:12]),
			Info:     nullTerminated(data[12:46]),
		},
		ProtocolMajor:   binary.LittleEndian.Uint16(data[46:48]),
		ProtocolMinor:   binary.LittleEndian.Uint16(data[48:50]),
		SupportedGroups: DataGroup(binary.LittleEndian.Uint32(data[50:54])),
		Manufacturer:    nullTerminated(data[54:88]),
		ProductFamily:   nullTerminated(data[88:122]),
		ProductName:     nullTerminated(data[122:156]),
	}, nil
}

// --------------------------------------------------------------------------
// Small control records
// --------------------------------------------------------------------------

// Status is TW_STATUS.
type Status struct {
	ConditionCode ConditionCode
	Data          uint16
}

func MarshalStatus(s Status) []byte {
	buf := make([]byte, StatusSize)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(s.ConditionCode))
	binary.LittleEndian.PutUint16(buf[2:4], s.Data)
	return buf
}

func ParseStatus(data []byte) (Status, error) {
	if len(data) < StatusSize {
		return Status{}, fmt.Errorf("status: %w", errShortRecord)
	}
	return Status{
		ConditionCode: ConditionCode(binary.LittleEndian.Uint16(data[0:2])),
		Data:          binary.LittleEndian.Uint16(data[2:4]),
	}, nil
}

// PendingTransfers is TW_PENDINGXFERS. Count is -1 when the source does not
// know how many images remain.
type PendingTransfers struct {
	Count int16
	EOJ   uint32
}

func MarshalPendingTransfers(p PendingTransfers) []byte {
	buf := make([]byte, PendingXfersSize)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(p.Count))
	binary.LittleEndian.PutUint32(buf[2:6], p.EOJ)
	return buf
}

func ParsePendingTransfers(data []byte) (PendingTransfers, error) {
	if len(data) < PendingXfersSize {
		return PendingTransfers{}, fmt.Errorf("pending transfers: %w", errShortRecord)
	}
	return PendingTransfers{
		Count: int16(binary.LittleEndian.Uint16(data[0:2])),
		EOJ:   binary.LittleEndian.Uint32(data[2:6]),
	}, nil
}

// UserInterface is TW_USERINTERFACE.
type UserInterface struct {
	ShowUI  bool
	ModalUI bool
	Parent  Handle
}

func MarshalUserInterface(ui UserInterface) []byte {
	buf := make([]byte, UserInterfaceSize)
	binary.LittleEndian.PutUint16(buf[0:2], boolWord(ui.ShowUI))
	binary.LittleEndian.PutUint16(buf[2:4], boolWord(ui.ModalUI))
	putHandle(buf[4:], ui.Parent)
	return buf
}

func boolWord(b bool) uint16 {
	if b {
		return 1
	}
	return 0
}

// Event is TW_EVENT: a pointer to the platform message plus the message the
// source posts back.
type Event struct {
	EventPtr Handle
	Message  Message
}

func MarshalEvent(e Event) []byte {
	buf := make([]byte, EventSize)
	putHandle(buf[0:PtrSize], e.EventPtr)
	binary.LittleEndian.PutUint16(buf[PtrSize:PtrSize+2], uint16(e.Message))
	return buf
}

func ParseEvent(data []byte) (Event, error) {
	if len(data) < EventSize {
		return Event{}, fmt.Errorf("event: %w", errShortRecord)
	}
	return Event{
		EventPtr: readHandle(data[0:PtrSize]),
		Message:  Message(binary.LittleEndian.Uint16(data[PtrSize : PtrSize+2])),
	}, nil
}

// --------------------------------------------------------------------------
// Capability containers
// --------------------------------------------------------------------------

// OneValue is a TW_CAPABILITY carrying a TWON_ONEVALUE container. The native
// layer owns the container handle; the core only sees the item.
type OneValue struct {
	Cap      CapabilityID
	ItemType ItemType
	Item     uint32
}

// MarshalOneValueItem encodes the TW_ONEVALUE container body.
func MarshalOneValueItem(v OneValue) []byte {
	buf := make([]byte, OneValueSize)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(v.ItemType))
	binary.LittleEndian.PutUint32(buf[2:6], v.Item)
	return buf
}

// ParseOneValueItem decodes a TW_ONEVALUE container body into v.
func ParseOneValueItem(data []byte, v *OneValue) error {
	if len(data) < OneValueSize {
		return fmt.Errorf("one value: %w", errShortRecord)
	}
	v.ItemType = ItemType(binary.LittleEndian.Uint16(data[0:2]))
	v.Item = binary.LittleEndian.Uint32(data[2:6])
	return nil
}

// MarshalCapability encodes the TW_CAPABILITY header pointing at container.
func MarshalCapability(cap CapabilityID, con ContainerType, container Handle) []byte {
	buf := make([]byte, CapabilitySize)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(cap))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(con))
	putHandle(buf[4:], container)
	return buf
}

// ParseCapability decodes a TW_CAPABILITY header.
func ParseCapability(data []byte) (CapabilityID, ContainerType, Handle, error) {
	if len(data) < CapabilitySize {
		return 0, 0, 0, fmt.Errorf("capability: %w", errShortRecord)
	}
	return CapabilityID(binary.LittleEndian.Uint16(data[0:2])),
		ContainerType(binary.LittleEndian.Uint16(data[2:4])),
		readHandle(data[4:]), nil
}

// rawItem widens an item to the signed raw value the negotiator compares.
func rawItem(t ItemType, item uint32) int32 {
	switch t {
	case TypeInt8:
		return int32(int8(item))
	case TypeUInt8:
		return int32(uint8(item))
	case TypeInt16:
		return int32(int16(item))
	case TypeUInt16, TypeBool:
		return int32(uint16(item))
	default:
		return int32(item)
	}
}

// --------------------------------------------------------------------------
// Image records
// --------------------------------------------------------------------------

// Fix32 is TW_FIX32, a 16.16 fixed point number.
type Fix32 struct {
	Whole int16
	Frac  uint16
}

// Fix32FromFloat converts f, rounding to the nearest 1/65536.
func Fix32FromFloat(f float32) Fix32 {
	v := int32(math.Round(float64(f) * 65536))
	return Fix32{Whole: int16(v >> 16), Frac: uint16(v & 0xFFFF)}
}

// Float returns the value of the fixed point number.
func (f Fix32) Float() float32 {
	return float32(f.Whole) + float32(f.Frac)/65536
}

// Raw returns the fixed point number packed as a capability item.
func (f Fix32) Raw() uint32 {
	return uint32(uint16(f.Whole)) | uint32(f.Frac)<<16
}

func putFix32(b []byte, f Fix32) {
	binary.LittleEndian.PutUint16(b[0:2], uint16(f.Whole))
	binary.LittleEndian.PutUint16(b[2:4], f.Frac)
}

func readFix32(b []byte) Fix32 {
	return Fix32{
		Whole: int16(binary.LittleEndian.Uint16(b[0:2])),
		Frac:  binary.LittleEndian.Uint16(b[2:4]),
	}
}

// Frame is TW_FRAME.
type Frame struct {
	Left, Top, Right, Bottom Fix32
}

// ImageLayout is TW_IMAGELAYOUT.
type ImageLayout struct {
	Frame          Frame
	DocumentNumber uint32
	PageNumber     uint32
	FrameNumber    uint32
}

func MarshalImageLayout(l ImageLayout) []byte {
	buf := make([]byte, ImageLayoutSize)
	putFix32(buf[0:4], l.Frame.Left)
	putFix32(buf[4:8], l.Frame.Top)
	putFix32(buf[8:12], l.Frame.Right)
	putFix32(buf[12:16], l.Frame.Bottom)
	binary.LittleEndian.PutUint32(buf[16:20], l.DocumentNumber)
	binary.LittleEndian.PutUint32(buf[20:24], l.PageNumber)
	binary.LittleEndian.PutUint32(buf[24:28], l.FrameNumber)
	return buf
}

func ParseImageLayout(data []byte) (ImageLayout, error) {
	if len(data) < ImageLayoutSize {
		return ImageLayout{}, fmt.Errorf("image layout: %w", errShortRecord)
	}
	return ImageLayout{
		Frame: Frame{
			Left:   readFix32(data[0:4]),
			Top:    readFix32(data[4:8]),
			Right:  readFix32(data[8:12]),
			Bottom: readFix32(data[12:16]),
		},
		DocumentNumber: binary.LittleEndian.Uint32(data[16:20]),
		PageNumber:     binary.LittleEndian.Uint32(data[20:24]),
		FrameNumber:    binary.LittleEndian.Uint32(data[24:28]),
	}, nil
}

// ImageInfo is TW_IMAGEINFO.
type ImageInfo struct {
	XResolution     Fix32
	YResolution     Fix32
	ImageWidth      int32
	ImageLength     int32
	SamplesPerPixel int16
	BitsPerSample   [8]int16
	BitsPerPixel    int16
	Planar          bool
	PixelType       PixelType
	Compression     uint16
}

func MarshalImageInfo(info ImageInfo) []byte {
	buf := make([]byte, ImageInfoSize)
	putFix32(buf[0:4], info.XResolution)
	putFix32(buf[4:8], info.YResolution)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(info.ImageWidth))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(info.ImageLength))
	binary.LittleEndian.PutUint16(buf[16:18], uint16(info.SamplesPerPixel))
	for i, b := range info.BitsPerSample {
		binary.LittleEndian.PutUint16(buf[18+2*i:20+2*i], uint16(b))
	}
	binary.LittleEndian.PutUint16(buf[34:36], uint16(info.BitsPerPixel))
	binary.LittleEndian.PutUint16(buf[36:38], boolWord(info.Planar))
	binary.LittleEndian.PutUint16(buf[38:40], uint16(info.PixelType))
	binary.LittleEndian.PutUint16(buf[40:42], info.Compression)
	return buf
}

func ParseImageInfo(data []byte) (ImageInfo, error) {
	if len(data) < ImageInfoSize {
		return ImageInfo{}, fmt.Errorf("image info: %w", errShortRecord)
	}
	info := ImageInfo{
		XResolution:     readFix32(data[0:4]),
		YResolution:     readFix32(data[4:8]),
		ImageWidth:      int32(binary.LittleEndian.Uint32(data[8:12])),
		ImageLength:     int32(binary.LittleEndian.Uint32(data[12:16])),
		SamplesPerPixel: int16(binary.LittleEndian.Uint16(data[16:18])),
		BitsPerPixel:    int16(binary.LittleEndian.Uint16(data[34:36])),
		Planar:          binary.LittleEndian.Uint16(data[36:38]) != 0,
		PixelType:       PixelType(binary.LittleEndian.Uint16(data[38:40])),
		Compression:     binary.LittleEndian.Uint16(data[40:42]),
	}
	for i := range info.BitsPerSample {
		info.BitsPerSample[i] = int16(binary.LittleEndian.Uint16(data[18+2*i : 20+2*i]))
	}
	return info, nil
}

// --------------------------------------------------------------------------
// Win32 MSG
// --------------------------------------------------------------------------

// WindowsMessage is the Win32 MSG structure delivered by the host pump.
type WindowsMessage struct {
	Hwnd    Handle
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	X, Y    int32
}

// WindowsMessageSize is the size of MSG with natural alignment: four
// pointer-sized slots (hwnd, message padded, wParam, lParam) followed by
// time, pt.x, pt.y and lPrivate as 32-bit fields.
const WindowsMessageSize = 4*PtrSize + 16

func msgOffsets() (message, wParam, lParam, tail int) {
	return PtrSize, 2 * PtrSize, 3 * PtrSize, 4 * PtrSize
}

// PutWindowsMessage writes m into buf, which must hold WindowsMessageSize
// bytes. The buffer is reused across events, so every field is rewritten.
func PutWindowsMessage(buf []byte, m WindowsMessage) error {
	if len(buf) < WindowsMessageSize {
		return fmt.Errorf("windows message: %w", errShortRecord)
	}
	clear(buf[:WindowsMessageSize])
	message, wParam, lParam, tail := msgOffsets()
	putHandle(buf[0:], m.Hwnd)
	binary.LittleEndian.PutUint32(buf[message:], m.Message)
	putHandle(buf[wParam:], Handle(m.WParam))
	putHandle(buf[lParam:], Handle(m.LParam))
	binary.LittleEndian.PutUint32(buf[tail:], m.Time)
	binary.LittleEndian.PutUint32(buf[tail+4:], uint32(m.X))
	binary.LittleEndian.PutUint32(buf[tail+8:], uint32(m.Y))
	return nil
}

// ParseWindowsMessage reads a MSG written by PutWindowsMessage.
func ParseWindowsMessage(buf []byte) (WindowsMessage, error) {
	if len(buf) < WindowsMessageSize {
		return WindowsMessage{}, fmt.Errorf("windows message: %w", errShortRecord)
	}
	message, wParam, lParam, tail := msgOffsets()
	return WindowsMessage{
		Hwnd:    readHandle(buf[0:]),
		Message: binary.LittleEndian.Uint32(buf[message:]),
		WParam:  uintptr(readHandle(buf[wParam:])),
		LParam:  uintptr(readHandle(buf[lParam:])),
		Time:    binary.LittleEndian.Uint32(buf[tail:]),
		X:       int32(binary.LittleEndian.Uint32(buf[tail+4:])),
		Y:       int32(binary.LittleEndian.Uint32(buf[tail+8:])),
	}, nil
}
