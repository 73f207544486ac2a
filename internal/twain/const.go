package twain

import "fmt"

// Protocol version this application speaks.
const (
	ProtocolMajor = 2
	ProtocolMinor = 4
)

// DataGroup selects the family of a DSM_Entry call (DG_xxxx).
type DataGroup uint32

const (
	DGControl DataGroup = 0x0001
	DGImage   DataGroup = 0x0002
	DGAudio   DataGroup = 0x0004

	// Flags reported in Identity.SupportedGroups for TWAIN 2.x.
	DGDSM2 DataGroup = 0x10000000
	DGApp2 DataGroup = 0x20000000
	DGDS2  DataGroup = 0x40000000
)

// DataArgumentType identifies the record passed to DSM_Entry (DAT_xxxx).
type DataArgumentType uint16

const (
	DATNull            DataArgumentType = 0x0000
	DATCapability      DataArgumentType = 0x0001
	DATEvent           DataArgumentType = 0x0002
	DATIdentity        DataArgumentType = 0x0003
	DATParent          DataArgumentType = 0x0004
	DATPendingXfers    DataArgumentType = 0x0005
	DATStatus          DataArgumentType = 0x0008
	DATUserInterface   DataArgumentType = 0x0009
	DATImageInfo       DataArgumentType = 0x0101
	DATImageLayout     DataArgumentType = 0x0102
	DATImageNativeXfer DataArgumentType = 0x0104
)

// Message is the operation of a DSM_Entry call, and also the code a source
// posts back through DAT_EVENT (MSG_xxxx).
type Message uint16

const (
	MsgNull         Message = 0x0000
	MsgGet          Message = 0x0001
	MsgGetCurrent   Message = 0x0002
	MsgGetDefault   Message = 0x0003
	MsgGetFirst     Message = 0x0004
	MsgGetNext      Message = 0x0005
	MsgSet          Message = 0x0006
	MsgReset        Message = 0x0007
	MsgQuerySupport Message = 0x0008

	MsgXferReady   Message = 0x0101
	MsgCloseDSReq  Message = 0x0102
	MsgCloseDSOK   Message = 0x0103
	MsgDeviceEvent Message = 0x0104

	MsgOpenDSM  Message = 0x0301
	MsgCloseDSM Message = 0x0302

	MsgOpenDS     Message = 0x0401
	MsgCloseDS    Message = 0x0402
	MsgUserSelect Message = 0x0403

	MsgDisableDS      Message = 0x0501
	MsgEnableDS       Message = 0x0502
	MsgEnableDSUIOnly Message = 0x0503

	MsgProcessEvent Message = 0x0601

	MsgEndXfer    Message = 0x0701
	MsgStopFeeder Message = 0x0702
)

var messageNames = map[Message]string{
	MsgNull:           "MSG_NULL",
	MsgGet:            "MSG_GET",
	MsgGetCurrent:     "MSG_GETCURRENT",
	MsgGetDefault:     "MSG_GETDEFAULT",
	MsgGetFirst:       "MSG_GETFIRST",
	MsgGetNext:        "MSG_GETNEXT",
	MsgSet:            "MSG_SET",
	MsgReset:          "MSG_RESET",
	MsgQuerySupport:   "MSG_QUERYSUPPORT",
	MsgXferReady:      "MSG_XFERREADY",
	MsgCloseDSReq:     "MSG_CLOSEDSREQ",
	MsgCloseDSOK:      "MSG_CLOSEDSOK",
	MsgDeviceEvent:    "MSG_DEVICEEVENT",
	MsgOpenDSM:        "MSG_OPENDSM",
	MsgCloseDSM:       "MSG_CLOSEDSM",
	MsgOpenDS:         "MSG_OPENDS",
	MsgCloseDS:        "MSG_CLOSEDS",
	MsgUserSelect:     "MSG_USERSELECT",
	MsgDisableDS:      "MSG_DISABLEDS",
	MsgEnableDS:       "MSG_ENABLEDS",
	MsgEnableDSUIOnly: "MSG_ENABLEDSUIONLY",
	MsgProcessEvent:   "MSG_PROCESSEVENT",
	MsgEndXfer:        "MSG_ENDXFER",
	MsgStopFeeder:     "MSG_STOPFEEDER",
}

func (m Message) String() string {
	if n, ok := messageNames[m]; ok {
		return n
	}
	return fmt.Sprintf("MSG(0x%04X)", uint16(m))
}

// ReturnCode is the immediate result of a DSM_Entry call (TWRC_xxxx).
type ReturnCode uint16

const (
	Success          ReturnCode = 0
	Failure          ReturnCode = 1
	CheckStatus      ReturnCode = 2
	Cancel           ReturnCode = 3
	DSEvent          ReturnCode = 4
	NotDSEvent       ReturnCode = 5
	XferDone         ReturnCode = 6
	EndOfList        ReturnCode = 7
	InfoNotSupported ReturnCode = 8
	DataNotAvailable ReturnCode = 9
)

var returnCodeNames = [...]string{
	Success:          "TWRC_SUCCESS",
	Failure:          "TWRC_FAILURE",
	CheckStatus:      "TWRC_CHECKSTATUS",
	Cancel:           "TWRC_CANCEL",
	DSEvent:          "TWRC_DSEVENT",
	NotDSEvent:       "TWRC_NOTDSEVENT",
	XferDone:         "TWRC_XFERDONE",
	EndOfList:        "TWRC_ENDOFLIST",
	InfoNotSupported: "TWRC_INFONOTSUPPORTED",
	DataNotAvailable: "TWRC_DATANOTAVAILABLE",
}

func (r ReturnCode) String() string {
	if int(r) < len(returnCodeNames) {
		return returnCodeNames[r]
	}
	return fmt.Sprintf("TWRC(%d)", uint16(r))
}

// ConditionCode is the secondary status queried through DAT_STATUS after a
// failure (TWCC_xxxx).
type ConditionCode uint16

const (
	CCSuccess           ConditionCode = 0
	CCBummer            ConditionCode = 1
	CCLowMemory         ConditionCode = 2
	CCNoDS              ConditionCode = 3
	CCMaxConnections    ConditionCode = 4
	CCOperationError    ConditionCode = 5
	CCBadCap            ConditionCode = 6
	CCBadProtocol       ConditionCode = 9
	CCBadValue          ConditionCode = 10
	CCSeqError          ConditionCode = 11
	CCBadDest           ConditionCode = 12
	CCCapUnsupported    ConditionCode = 13
	CCCapBadOperation   ConditionCode = 14
	CCCapSeqError       ConditionCode = 15
	CCDenied            ConditionCode = 16
	CCFileExists        ConditionCode = 17
	CCFileNotFound      ConditionCode = 18
	CCNotEmpty          ConditionCode = 19
	CCPaperJam          ConditionCode = 20
	CCPaperDoubleFeed   ConditionCode = 21
	CCFileWriteError    ConditionCode = 22
	CCCheckDeviceOnline ConditionCode = 23
)

var conditionCodeNames = map[ConditionCode]string{
	CCSuccess:           "TWCC_SUCCESS",
	CCBummer:            "TWCC_BUMMER",
	CCLowMemory:         "TWCC_LOWMEMORY",
	CCNoDS:              "TWCC_NODS",
	CCMaxConnections:    "TWCC_MAXCONNECTIONS",
	CCOperationError:    "TWCC_OPERATIONERROR",
	CCBadCap:            "TWCC_BADCAP",
	CCBadProtocol:       "TWCC_BADPROTOCOL",
	CCBadValue:          "TWCC_BADVALUE",
	CCSeqError:          "TWCC_SEQERROR",
	CCBadDest:           "TWCC_BADDEST",
	CCCapUnsupported:    "TWCC_CAPUNSUPPORTED",
	CCCapBadOperation:   "TWCC_CAPBADOPERATION",
	CCCapSeqError:       "TWCC_CAPSEQERROR",
	CCDenied:            "TWCC_DENIED",
	CCFileExists:        "TWCC_FILEEXISTS",
	CCFileNotFound:      "TWCC_FILENOTFOUND",
	CCNotEmpty:          "TWCC_NOTEMPTY",
	CCPaperJam:          "TWCC_PAPERJAM",
	CCPaperDoubleFeed:   "TWCC_PAPERDOUBLEFEED",
	CCFileWriteError:    "TWCC_FILEWRITEERROR",
	CCCheckDeviceOnline: "TWCC_CHECKDEVICEONLINE",
}

func (c ConditionCode) String() string {
	if n, ok := conditionCodeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("TWCC(%d)", uint16(c))
}

// CapabilityID names a negotiable device setting (CAP_xxxx / ICAP_xxxx).
type CapabilityID uint16

const (
	CapXferCount      CapabilityID = 0x0001
	CapFeederEnabled  CapabilityID = 0x1002
	CapFeederLoaded   CapabilityID = 0x1003
	CapAutoFeed       CapabilityID = 0x1007
	CapIndicators     CapabilityID = 0x100B
	CapUIControllable CapabilityID = 0x100E
	CapDuplex         CapabilityID = 0x1012
	CapDuplexEnabled  CapabilityID = 0x1013

	ICapPixelType                CapabilityID = 0x0101
	ICapUnits                    CapabilityID = 0x0102
	ICapXferMech                 CapabilityID = 0x0103
	ICapXResolution              CapabilityID = 0x1118
	ICapYResolution              CapabilityID = 0x1119
	ICapBitDepth                 CapabilityID = 0x112B
	ICapUndefinedImageSize       CapabilityID = 0x112D
	ICapAutomaticBorderDetection CapabilityID = 0x1150
	ICapAutomaticRotate          CapabilityID = 0x1162
)

var capabilityNames = map[CapabilityID]string{
	CapXferCount:                 "CAP_XFERCOUNT",
	CapFeederEnabled:             "CAP_FEEDERENABLED",
	CapFeederLoaded:              "CAP_FEEDERLOADED",
	CapAutoFeed:                  "CAP_AUTOFEED",
	CapIndicators:                "CAP_INDICATORS",
	CapUIControllable:            "CAP_UICONTROLLABLE",
	CapDuplex:                    "CAP_DUPLEX",
	CapDuplexEnabled:             "CAP_DUPLEXENABLED",
	ICapPixelType:                "ICAP_PIXELTYPE",
	ICapUnits:                    "ICAP_UNITS",
	ICapXferMech:                 "ICAP_XFERMECH",
	ICapXResolution:              "ICAP_XRESOLUTION",
	ICapYResolution:              "ICAP_YRESOLUTION",
	ICapBitDepth:                 "ICAP_BITDEPTH",
	ICapUndefinedImageSize:       "ICAP_UNDEFINEDIMAGESIZE",
	ICapAutomaticBorderDetection: "ICAP_AUTOMATICBORDERDETECTION",
	ICapAutomaticRotate:          "ICAP_AUTOMATICROTATE",
}

func (c CapabilityID) String() string {
	if n, ok := capabilityNames[c]; ok {
		return n
	}
	return fmt.Sprintf("CAP(0x%04X)", uint16(c))
}

// ItemType is the value type tag of a capability item (TWTY_xxxx).
type ItemType uint16

const (
	TypeInt8   ItemType = 0x0000
	TypeInt16  ItemType = 0x0001
	TypeInt32  ItemType = 0x0002
	TypeUInt8  ItemType = 0x0003
	TypeUInt16 ItemType = 0x0004
	TypeUInt32 ItemType = 0x0005
	TypeBool   ItemType = 0x0006
	TypeFix32  ItemType = 0x0007
)

// ContainerType is the shape of a capability container (TWON_xxxx).
type ContainerType uint16

const (
	ConArray    ContainerType = 3
	ConEnum     ContainerType = 4
	ConOneValue ContainerType = 5
	ConRange    ContainerType = 6
)

// PixelType values for ICAP_PIXELTYPE (TWPT_xxxx).
type PixelType int16

const (
	PixelBW   PixelType = 0
	PixelGray PixelType = 1
	PixelRGB  PixelType = 2
)

// Units values for ICAP_UNITS (TWUN_xxxx).
type Units int16

const (
	UnitsInches      Units = 0
	UnitsCentimeters Units = 1
	UnitsPicas       Units = 2
	UnitsPoints      Units = 3
	UnitsTwips       Units = 4
	UnitsPixels      Units = 5
)

// Language and country codes used in Identity.Version.
const (
	LanguageUSA uint16 = 13
	CountryUSA  uint16 = 1
)
