package exmebus

import "fmt"

// ViewType is the exmebus signal view type: the tag that selects how a
// signal's current value is encoded in a record's data field.
type ViewType uint8

// View types defined by the exmebus protocol. Only ViewBit through
// ViewString have an encoding in this gateway; see Encoding.
const (
	ViewVoid             ViewType = 0  // void, no conversion defined
	ViewBit              ViewType = 1  // bit, carried as one unsigned byte
	ViewSignedChar       ViewType = 2  // int8
	ViewSignedShort      ViewType = 3  // int16
	ViewSignedLong       ViewType = 4  // int32
	ViewUnsignedChar     ViewType = 5  // uint8
	ViewUnsignedShort    ViewType = 6  // uint16
	ViewUnsignedLong     ViewType = 7  // uint32
	ViewFloat            ViewType = 8  // IEEE-754 binary32
	ViewString           ViewType = 9  // UTF-8 bytes
	ViewHex              ViewType = 10 // hex
	ViewBinary           ViewType = 11 // binary
	ViewBESignedShort    ViewType = 12 // big-endian int16
	ViewBESignedLong     ViewType = 13 // big-endian int32
	ViewBEUnsignedShort  ViewType = 14 // big-endian uint16
	ViewBEUnsignedLong   ViewType = 15 // big-endian uint32
	ViewUnixTime         ViewType = 16 // unix time
	ViewTwoBit           ViewType = 17 // J1939 two-bit discrete parameter
	ViewSignedLongLong   ViewType = 18 // int64
	ViewUnsignedLongLong ViewType = 19 // uint64
	ViewDouble           ViewType = 20 // IEEE-754 binary64
	ViewIPAddressNetwork ViewType = 21 // IPv4, network order
	ViewIPAddressHost    ViewType = 22 // IPv4, host order
	ViewStruct           ViewType = 101
)

var viewTypeNames = map[ViewType]string{
	ViewVoid:             "V_VOID",
	ViewBit:              "V_BIT",
	ViewSignedChar:       "V_SIGNED_CHAR",
	ViewSignedShort:      "V_SIGNED_SHORT",
	ViewSignedLong:       "V_SIGNED_LONG",
	ViewUnsignedChar:     "V_UNSIGNED_CHAR",
	ViewUnsignedShort:    "V_UNSIGNED_SHORT",
	ViewUnsignedLong:     "V_UNSIGNED_LONG",
	ViewFloat:            "V_FLOAT",
	ViewString:           "V_STRING",
	ViewHex:              "V_HEX",
	ViewBinary:           "V_BINARY",
	ViewBESignedShort:    "V_BE_SIGNED_SHORT",
	ViewBESignedLong:     "V_BE_SIGNED_LONG",
	ViewBEUnsignedShort:  "V_BE_UNSIGNED_SHORT",
	ViewBEUnsignedLong:   "V_BE_UNSIGNED_LONG",
	ViewUnixTime:         "V_UNIX_TIME",
	ViewTwoBit:           "V_TWO_BIT",
	ViewSignedLongLong:   "V_SIGNED_LONG_LONG",
	ViewUnsignedLongLong: "V_UNSIGNED_LONG_LONG",
	ViewDouble:           "V_DOUBLE",
	ViewIPAddressNetwork: "V_IP_ADDRESS_NETWORK",
	ViewIPAddressHost:    "V_IP_ADDRESS_HOST",
	ViewStruct:           "V_STRUCT",
}

// String returns the protocol name of the view type, or its number when
// the tag is not part of the protocol table.
func (v ViewType) String() string {
	if name, ok := viewTypeNames[v]; ok {
		return name
	}
	return fmt.Sprintf("ViewType(%d)", uint8(v))
}

// Encoding is the closed set of fixed-width value encodings. Every view
// type maps to exactly one Encoding; EncodingUnsupported covers ViewVoid and
// every tag the gateway cannot convert.
type Encoding uint8

// Value encodings.
const (
	EncodingUnsupported Encoding = iota
	EncodingU8
	EncodingI8
	EncodingI16
	EncodingI32
	EncodingU16
	EncodingU32
	EncodingF32
	EncodingBytes
)

// String returns a short name for the encoding.
func (e Encoding) String() string {
	switch e {
	case EncodingU8:
		return "u8"
	case EncodingI8:
		return "i8"
	case EncodingI16:
		return "i16"
	case EncodingI32:
		return "i32"
	case EncodingU16:
		return "u16"
	case EncodingU32:
		return "u32"
	case EncodingF32:
		return "f32"
	case EncodingBytes:
		return "bytes"
	case EncodingUnsupported:
		return "unsupported"
	}
	return fmt.Sprintf("Encoding(%d)", uint8(e))
}

// Width returns the encoded size in bytes, or 0 for variable-length and
// unsupported encodings.
func (e Encoding) Width() int {
	switch e {
	case EncodingU8, EncodingI8:
		return 1
	case EncodingI16, EncodingU16:
		return 2
	case EncodingI32, EncodingU32, EncodingF32:
		return 4
	case EncodingBytes, EncodingUnsupported:
		return 0
	}
	return 0
}

// Encoding returns the value encoding selected by the view type.
func (v ViewType) Encoding() Encoding {
	switch v {
	case ViewBit, ViewUnsignedChar:
		return EncodingU8
	case ViewSignedChar:
		return EncodingI8
	case ViewSignedShort:
		return EncodingI16
	case ViewSignedLong:
		return EncodingI32
	case ViewUnsignedShort:
		return EncodingU16
	case ViewUnsignedLong:
		return EncodingU32
	case ViewFloat:
		return EncodingF32
	case ViewString:
		return EncodingBytes
	default:
		return EncodingUnsupported
	}
}

// Supported reports whether values of this view type can be encoded.
func (v ViewType) Supported() bool {
	return v.Encoding() != EncodingUnsupported
}

// SampleType classifies what a signal value represents over a time window.
type SampleType uint8

// Sample types. The gateway only emits SampleCurrentValue.
const (
	SampleCurrentValue     SampleType = iota // latest value of the signal
	SampleAverage                            // average over the current window
	SampleMinimum                            // smallest value in the window
	SampleMaximum                            // biggest value in the window
	SampleChangeCount                        // value changes during the window
	SampleEnableCount                        // zero to nonzero transitions
	SampleDisableCount                       // nonzero to zero transitions
	SampleValidSampleCount                   // valid samples received
)

var sampleTypeNames = [...]string{
	"SST_CURRENTVALUE",
	"SST_AVERAGE",
	"SST_MINIMUM",
	"SST_MAXIMUM",
	"SST_CHANGE_COUNT",
	"SST_ENABLE_COUNT",
	"SST_DISABLE_COUNT",
	"SST_VALID_SAMPLE_COUNT",
}

func (s SampleType) String() string {
	if int(s) < len(sampleTypeNames) {
		return sampleTypeNames[s]
	}
	return fmt.Sprintf("SampleType(%d)", uint8(s))
}

// SignalGroup names the group a data signal belongs to.
type SignalGroup uint16

// Signal groups.
const (
	GroupInfo               SignalGroup = 0   // signal metadata sent by the redi server
	GroupCommon             SignalGroup = 1   // common signals from the model database
	GroupSPN                SignalGroup = 2   // J1939 SPNs
	GroupSystemInfo         SignalGroup = 3   // global metadata from modules
	GroupApplicationVersion SignalGroup = 4   // company-specific signals
	GroupUser               SignalGroup = 100 // product-specific signals
)

func (g SignalGroup) String() string {
	switch g {
	case GroupInfo:
		return "DSG_INFO"
	case GroupCommon:
		return "DSG_COMMON"
	case GroupSPN:
		return "DSG_SPN"
	case GroupSystemInfo:
		return "DSG_SYSTEM_INFO"
	case GroupApplicationVersion:
		return "DSG_APPLICATION_VERSION"
	case GroupUser:
		return "DSG_USER"
	}
	return fmt.Sprintf("SignalGroup(%d)", uint16(g))
}

// MessageType is the exmebus packet id.
type MessageType uint16

// Message types in protocol order. Numbering starts at 1.
const (
	MsgCAN MessageType = iota + 1
	MsgControlPacket
	MsgLog
	MsgAlarm
	MsgSystemCommand
	MsgResource // 6
	MsgAuthentication
	MsgHeartbeat
	MsgIO
	MsgSync
	MsgRemoteControl
	MsgGUIStatus
	MsgLogicalIOSignalProperty
	MsgIOMuxIdentification
	MsgFilter
	MsgModuleInfo
	MsgFileTransfer
	MsgDataSignal // 18
	MsgDataCollectionTable
	MsgDataSignalDefinition
	MsgOwnDataSignal // 21
	MsgTimestamp
	MsgSigned
	MsgTotal
)

var messageTypeNames = [...]string{
	"EMT_CAN_MESSAGE",
	"EMT_CONTROL_PACKET",
	"EMT_LOG_MESSAGE",
	"EMT_ALARM_MESSAGE",
	"EMT_SYSTEM_COMMAND",
	"EMT_RESOURCE_MESSAGE",
	"EMT_AUTHENTICATION",
	"EMT_HEARTBEAT",
	"EMT_IO_MESSAGE",
	"EMT_SYNC_MESSAGE",
	"EMT_REMOTE_CONTROL",
	"EMT_GUI_STATUS",
	"EMT_LOGICAL_IO_SIGNAL_PROPERTY",
	"EMT_IOMUX_IDENTIFICATION",
	"EMT_FILTER_MESSAGE",
	"EMT_MODULE_INFO_MESSAGE",
	"EMT_FILE_TRANSFER_MESSAGE",
	"EMT_DATA_SIGNAL_MESSAGE",
	"EMT_DATA_COLLECTION_TABLE_MESSAGE",
	"EMT_DATA_SIGNAL_DEFINITION_MESSAGE",
	"EMT_OWN_DATA_SIGNAL_MESSAGE",
	"EMT_TIMESTAMP",
	"EMT_SIGNED_MESSAGE",
	"EMT_TOTAL",
}

func (m MessageType) String() string {
	if m >= MsgCAN && int(m) <= len(messageTypeNames) {
		return messageTypeNames[m-1]
	}
	return fmt.Sprintf("MessageType(%d)", uint16(m))
}
