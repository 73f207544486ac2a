package twain

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Identity is TW_IDENTITY. It identifies the application to the DSM, and a
// data source to the application. ID 0 means "no open session" for the
// application and "no usable source" for a data source.
type Identity struct {
	ID              uint32
	Version         Version
	ProtocolMajor   uint16
	ProtocolMinor   uint16
	SupportedGroups DataGroup
	Manufacturer    string
	ProductFamily   string
	ProductName     string
}

// IDSource yields process-unique application ids.
type IDSource func() uint32

// UUIDSource draws the id from the first four bytes of a random UUID.
func UUIDSource() uint32 {
	u := uuid.New()
	return binary.LittleEndian.Uint32(u[:4])
}

// NewApplicationIdentity builds the identity this program presents to the
// DSM. ids must not be nil; zero ids are redrawn since 0 is the closed-session
// sentinel.
func NewApplicationIdentity(ids IDSource) Identity {
	id := ids()
	for id == 0 {
		id = ids()
	}
	return Identity{
		ID: id,
		Version: Version{
			MajorNum: 1,
			MinorNum: 0,
			Language: LanguageUSA,
			Country:  CountryUSA,
			Info:     "twainscan",
		},
		ProtocolMajor:   ProtocolMajor,
		ProtocolMinor:   ProtocolMinor,
		SupportedGroups: DGImage | DGControl,
		Manufacturer:    "twainscan",
		ProductFamily:   "twainscan",
		ProductName:     "twainscan",
	}
}
