package wire

import (
	"fmt"

	"github.com/jonturner53/forestctl/internal/forest"
	"github.com/jonturner53/forestctl/internal/ratespec"
)

// CpType is a ConfigurationProtocol request type.
type CpType int

const (
	Undefined_CP CpType = iota
	AddIface
	DropIface
	ModIface
	AddLink
	DropLink
	ModLink
	AddComtree
	DropComtree
	ModComtree
	AddComtreeLink
	DropComtreeLink
	ModComtreeLink
	BootRouter
	BootLeaf
	BootComplete
	BootAbort
	ClientConnect
	ClientDisconnect
	NewSession
	CancelSession
	ConfigLeaf
	SetLeafRange

	// Client-facing comtree lifecycle requests.
	// These are distinct from the router-facing ADD_COMTREE/DROP_COMTREE
	// above: a client asks the controller to create/join/leave/destroy a
	// comtree, which the controller then drives with its own
	// ADD_COMTREE/etc. transactions against the affected routers.
	ClientAddComtree
	ClientDropComtree
	ClientJoinComtree
	ClientLeaveComtree
)

var cpTypeNames = map[CpType]string{
	AddIface:           "ADD_IFACE",
	DropIface:          "DROP_IFACE",
	ModIface:           "MOD_IFACE",
	AddLink:            "ADD_LINK",
	DropLink:           "DROP_LINK",
	ModLink:            "MOD_LINK",
	AddComtree:         "ADD_COMTREE",
	DropComtree:        "DROP_COMTREE",
	ModComtree:         "MOD_COMTREE",
	AddComtreeLink:     "ADD_COMTREE_LINK",
	DropComtreeLink:    "DROP_COMTREE_LINK",
	ModComtreeLink:     "MOD_COMTREE_LINK",
	BootRouter:         "BOOT_ROUTER",
	BootLeaf:           "BOOT_LEAF",
	BootComplete:       "BOOT_COMPLETE",
	BootAbort:          "BOOT_ABORT",
	ClientConnect:      "CLIENT_CONNECT",
	ClientDisconnect:   "CLIENT_DISCONNECT",
	NewSession:         "NEW_SESSION",
	CancelSession:      "CANCEL_SESSION",
	ConfigLeaf:         "CONFIG_LEAF",
	SetLeafRange:       "SET_LEAF_RANGE",
	ClientAddComtree:   "CLIENT_ADD_COMTREE",
	ClientDropComtree:  "CLIENT_DROP_COMTREE",
	ClientJoinComtree:  "CLIENT_JOIN_COMTREE",
	ClientLeaveComtree: "CLIENT_LEAVE_COMTREE",
}

func (t CpType) String() string {
	if s, ok := cpTypeNames[t]; ok {
		return s
	}
	return "UNDEFINED"
}

// Mode is a CtlPkt's request/reply discriminator.
type Mode int

const (
	Request Mode = iota
	PosReply
	NegReply
)

func (m Mode) String() string {
	switch m {
	case Request:
		return "REQUEST"
	case PosReply:
		return "POS_REPLY"
	case NegReply:
		return "NEG_REPLY"
	default:
		return "UNKNOWN_MODE"
	}
}

// Retry sentinel values for an outgoing REQUEST's SeqNum field: 0
// asks the substrate to assign the next sequence number, 1 marks
// this send as a retry of a number already assigned. Any other value is
// only meaningful on a reply, where it echoes the request it answers.
const (
	SeqAssign uint64 = 0
	SeqRetry  uint64 = 1
)

// CtlPkt is the typed payload of a NET_SIG/CLIENT_SIG packet: one
// ConfigurationProtocol request or reply. Not every field is
// meaningful for every CpType; Attrs carries the
// request-specific parameters the external codec would otherwise
// serialize into distinct wire fields.
type CtlPkt struct {
	Type   CpType
	Mode   Mode
	SeqNum uint64

	// Retry marks a REQUEST as a retransmission of a seqNum already
	// assigned by the substrate, letting the router apply whatever
	// idempotency it needs without substrate having to fake the
	// sentinel SeqAssign/SeqRetry values onto the wire.
	Retry bool

	// ErrMsg is set on a NEG_REPLY; always non-empty in that case.
	ErrMsg string

	Attrs Attrs
}

// Attrs holds the typed parameters of one ConfigurationProtocol
// request or reply. Only the fields relevant to CtlPkt.Type are set;
// the rest are zero. This stands in for the wire codec's per-type
// field layout.
type Attrs struct {
	Iface     int
	IfaceIP   string
	LinkLo    int
	LinkHi    int

	Link      int
	PeerIP    string
	PeerPort  int
	PeerAdr   forest.Addr
	Nonce     forest.Nonce
	Rates     ratespec.RateSpec

	Comtree    int
	CoreFlag   bool
	ParentLink int

	LeafAddr  forest.Addr
	LeafIP    string
	LeafPort  int
	RtrAddr   forest.Addr
	RtrIP     string
	RtrPort   int

	LeafRangeLo forest.Addr
	LeafRangeHi forest.Addr

	// Client-facing comtree lifecycle parameters.
	RootZip          uint16
	ClientIP         string
	ClientPort       int
	DefaultBbRates   ratespec.RateSpec
	DefaultLeafRates ratespec.RateSpec

	// SessionID names a dynamic leaf's NEW_SESSION/CANCEL_SESSION pair
	// unambiguously even if the leaf address it was assigned is later
	// reused by a different session.
	SessionID string
}

// NegReplyPkt builds a NEG_REPLY CtlPkt carrying msg, echoing seqNum
// and typ so the original requester can match it to its request.
func NegReplyPkt(typ CpType, seqNum uint64, msg string) CtlPkt {
	return CtlPkt{Type: typ, Mode: NegReply, SeqNum: seqNum, ErrMsg: msg}
}

// PosReplyPkt builds a POS_REPLY CtlPkt, optionally carrying attrs.
func PosReplyPkt(typ CpType, seqNum uint64, attrs Attrs) CtlPkt {
	return CtlPkt{Type: typ, Mode: PosReply, SeqNum: seqNum, Attrs: attrs}
}

// RequestPkt builds a REQUEST CtlPkt with seqNum left at SeqAssign;
// the substrate fills it in when the request is first sent.
func RequestPkt(typ CpType, attrs Attrs) CtlPkt {
	return CtlPkt{Type: typ, Mode: Request, SeqNum: SeqAssign, Attrs: attrs}
}

func (p CtlPkt) String() string {
	if p.Mode == NegReply {
		return fmt.Sprintf("%s %s seq=%d err=%q", p.Type, p.Mode, p.SeqNum, p.ErrMsg)
	}
	return fmt.Sprintf("%s %s seq=%d", p.Type, p.Mode, p.SeqNum)
}
