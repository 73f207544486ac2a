package twain

import (
	"fmt"
	"strings"
)

// ErrorKind distinguishes the failures the protocol engine reports.
type ErrorKind int

const (
	// KindProtocol: a native call returned a non-success code.
	KindProtocol ErrorKind = iota
	// KindFeederEmpty: the document feeder was requested but holds no paper.
	KindFeederEmpty
	// KindUnsupportedCapability: the source rejected a capability query.
	KindUnsupportedCapability
	// KindVerificationFailed: a set was not reflected by the re-read value.
	KindVerificationFailed
	// KindSourceNotFound: no source matched the requested product name.
	KindSourceNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindProtocol:
		return "protocol failure"
	case KindFeederEmpty:
		return "feeder empty"
	case KindUnsupportedCapability:
		return "unsupported capability"
	case KindVerificationFailed:
		return "verification failed"
	case KindSourceNotFound:
		return "source not found"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error carries the native codes of a failed protocol step.
type Error struct {
	Kind ErrorKind
	Op   string // step that failed, e.g. "open DSM"

	Result       ReturnCode
	Condition    ConditionCode
	HasCondition bool

	Capability CapabilityID // set for capability errors
	Source     string       // set for KindSourceNotFound
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("twain: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	switch e.Kind {
	case KindUnsupportedCapability, KindVerificationFailed:
		fmt.Fprintf(&b, " %s", e.Capability)
	case KindSourceNotFound:
		fmt.Fprintf(&b, " %q", e.Source)
	}
	if e.Kind != KindFeederEmpty && e.Kind != KindSourceNotFound {
		fmt.Fprintf(&b, " (%s", e.Result)
		if e.HasCondition {
			fmt.Fprintf(&b, ", %s", e.Condition)
		}
		b.WriteString(")")
	}
	return b.String()
}

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrProtocol              = &Error{Kind: KindProtocol}
	ErrFeederEmpty           = &Error{Kind: KindFeederEmpty}
	ErrUnsupportedCapability = &Error{Kind: KindUnsupportedCapability}
	ErrVerificationFailed    = &Error{Kind: KindVerificationFailed}
	ErrSourceNotFound        = &Error{Kind: KindSourceNotFound}
)

func protocolError(op string, rc ReturnCode) *Error {
	return &Error{Kind: KindProtocol, Op: op, Result: rc}
}

func protocolErrorCC(op string, rc ReturnCode, cc ConditionCode) *Error {
	return &Error{Kind: KindProtocol, Op: op, Result: rc, Condition: cc, HasCondition: true}
}
