package dsm

import (
	"encoding/binary"
	"fmt"

	"github.com/mzyy94/twainscan/internal/twain"
)

// conDontCare asks the source to pick the container on MSG_GET.
const conDontCare twain.ContainerType = 0xFFFF

func itemSize(t twain.ItemType) (int, error) {
	switch t {
	case twain.TypeInt8, twain.TypeUInt8:
		return 1, nil
	case twain.TypeInt16, twain.TypeUInt16, twain.TypeBool:
		return 2, nil
	case twain.TypeInt32, twain.TypeUInt32, twain.TypeFix32:
		return 4, nil
	}
	return 0, fmt.Errorf("dsm: unsupported item type %d", t)
}

func readItem(b []byte, size int) uint32 {
	switch size {
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(binary.LittleEndian.Uint16(b))
	}
	return binary.LittleEndian.Uint32(b)
}

// CurrentItem extracts the current value from a capability container the
// source returned on MSG_GET.
//
//	TWON_ONEVALUE    ItemType[0:2] Item[2:6]
//	TWON_ENUMERATION ItemType[0:2] NumItems[2:6] CurrentIndex[6:10] DefaultIndex[10:14] ItemList[14:]
//	TWON_RANGE       ItemType[0:2] Min[2:6] Max[6:10] Step[10:14] Default[14:18] Current[18:22]
//	TWON_ARRAY       ItemType[0:2] NumItems[2:6] ItemList[6:]
func CurrentItem(con twain.ContainerType, data []byte) (twain.ItemType, uint32, error) {
	if len(data) < 2 {
		return 0, 0, fmt.Errorf("dsm: container too short")
	}
	t := twain.ItemType(binary.LittleEndian.Uint16(data[0:2]))

	switch con {
	case twain.ConOneValue:
		if len(data) < 6 {
			return t, 0, fmt.Errorf("dsm: one value too short")
		}
		return t, binary.LittleEndian.Uint32(data[2:6]), nil

	case twain.ConRange:
		if len(data) < 22 {
			return t, 0, fmt.Errorf("dsm: range too short")
		}
		return t, binary.LittleEndian.Uint32(data[18:22]), nil

	case twain.ConEnum, twain.ConArray:
		size, err := itemSize(t)
		if err != nil {
			return t, 0, err
		}
		head, index := 14, uint64(0)
		if con == twain.ConArray {
			head = 6
		}
		if len(data) < head {
			return t, 0, fmt.Errorf("dsm: container too short")
		}
		n := uint64(binary.LittleEndian.Uint32(data[2:6]))
		if con == twain.ConEnum {
			index = uint64(binary.LittleEndian.Uint32(data[6:10]))
		}
		if index >= n {
			return t, 0, fmt.Errorf("dsm: current index %d out of %d items", index, n)
		}
		off := uint64(head) + index*uint64(size)
		if off+uint64(size) > uint64(len(data)) {
			return t, 0, fmt.Errorf("dsm: item list truncated")
		}
		return t, readItem(data[off:], size), nil
	}
	return t, 0, fmt.Errorf("dsm: unsupported container %d", con)
}
