package twain

import "log/slog"

// CapabilityResult is the outcome of a capability query. On failure Raw is 0
// and Result/Condition carry the native codes.
type CapabilityResult struct {
	Raw       int32
	Result    ReturnCode
	Condition ConditionCode
}

// Supported reports whether the source answered the query.
func (r CapabilityResult) Supported() bool {
	return r.Result == Success && r.Condition == CCSuccess
}

func (r CapabilityResult) Bool() bool   { return r.Raw == 1 }
func (r CapabilityResult) Int16() int16 { return int16(r.Raw) }
func (r CapabilityResult) Int32() int32 { return r.Raw }

// Capability negotiates a single one-value capability with an open source.
type Capability struct {
	gw       Gateway
	app      *Identity
	src      *Identity
	cap      CapabilityID
	itemType ItemType
}

// NewCapability binds cap of the given item type to a source.
func NewCapability(gw Gateway, cap CapabilityID, itemType ItemType, app, src *Identity) *Capability {
	return &Capability{gw: gw, app: app, src: src, cap: cap, itemType: itemType}
}

// GetBasicValue reads the current value. Query failures are reported in the
// result, never as an error.
func (c *Capability) GetBasicValue() CapabilityResult {
	v := OneValue{Cap: c.cap, ItemType: c.itemType}
	rc := c.gw.Capability(c.app, c.src, MsgGet, &v)
	if rc != Success {
		cc := conditionCode(c.gw, c.app, c.src)
		slog.Debug("capability get failed", "cap", c.cap, "rc", rc, "cc", cc)
		return CapabilityResult{Result: rc, Condition: cc}
	}
	return CapabilityResult{Raw: rawItem(c.itemType, v.Item)}
}

// SetValue writes raw. TWRC_CHECKSTATUS (value substituted by the source) is
// accepted.
func (c *Capability) SetValue(raw int32) error {
	v := OneValue{Cap: c.cap, ItemType: c.itemType, Item: uint32(raw)}
	rc := c.gw.Capability(c.app, c.src, MsgSet, &v)
	switch rc {
	case Success, CheckStatus:
		slog.Debug("capability set", "cap", c.cap, "value", raw, "rc", rc)
		return nil
	case Failure:
		e := protocolErrorCC("set capability", rc, conditionCode(c.gw, c.app, c.src))
		e.Capability = c.cap
		return e
	default:
		e := protocolError("set capability", rc)
		e.Capability = c.cap
		return e
	}
}

func capabilityError(kind ErrorKind, cap CapabilityID, r CapabilityResult) *Error {
	return &Error{
		Kind:         kind,
		Op:           "negotiate capability",
		Capability:   cap,
		Result:       r.Result,
		Condition:    r.Condition,
		HasCondition: true,
	}
}

// SetBasicCapability negotiates raw: read, skip the write if it already
// holds, otherwise set and verify by re-reading.
func SetBasicCapability(gw Gateway, cap CapabilityID, raw int32, itemType ItemType, app, src *Identity) (int32, error) {
	c := NewCapability(gw, cap, itemType, app, src)
	current := c.GetBasicValue()
	if !current.Supported() {
		return 0, capabilityError(KindUnsupportedCapability, cap, current)
	}
	if current.Raw == raw {
		return raw, nil
	}

	if err := c.SetValue(raw); err != nil {
		return 0, err
	}

	after := c.GetBasicValue()
	if !after.Supported() || after.Raw != raw {
		return after.Raw, capabilityError(KindVerificationFailed, cap, after)
	}
	return after.Raw, nil
}

// SetInt16Capability negotiates a TWTY_INT16 capability.
func SetInt16Capability(gw Gateway, cap CapabilityID, value int16, app, src *Identity) (int16, error) {
	v, err := SetBasicCapability(gw, cap, int32(value), TypeInt16, app, src)
	return int16(v), err
}

// SetBoolCapability negotiates a TWTY_BOOL capability.
func SetBoolCapability(gw Gateway, cap CapabilityID, value bool, app, src *Identity) error {
	raw := int32(0)
	if value {
		raw = 1
	}
	_, err := SetBasicCapability(gw, cap, raw, TypeBool, app, src)
	return err
}

// GetBoolCapability reads a boolean capability.
func GetBoolCapability(gw Gateway, cap CapabilityID, app, src *Identity) (bool, error) {
	r := NewCapability(gw, cap, TypeBool, app, src).GetBasicValue()
	if !r.Supported() {
		return false, capabilityError(KindUnsupportedCapability, cap, r)
	}
	return r.Bool(), nil
}
