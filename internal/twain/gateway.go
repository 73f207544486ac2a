package twain

// Gateway is the native DSM entry point, one method per DG/DAT pair the
// engine uses. Each call is synchronous and returns the raw TWRC code;
// records passed by pointer are updated in place the way DSM_Entry updates
// its data argument. src is nil for calls addressed to the DSM itself.
type Gateway interface {
	GlobalMemory

	// Parent issues DG_CONTROL/DAT_PARENT (MSG_OPENDSM, MSG_CLOSEDSM).
	// On MSG_OPENDSM the DSM assigns app.ID.
	Parent(app *Identity, msg Message, parent Handle) ReturnCode

	// Identity issues DG_CONTROL/DAT_IDENTITY (MSG_GETDEFAULT, MSG_GETFIRST,
	// MSG_GETNEXT, MSG_USERSELECT, MSG_OPENDS, MSG_CLOSEDS).
	Identity(app *Identity, msg Message, src *Identity) ReturnCode

	// Status issues DG_CONTROL/DAT_STATUS/MSG_GET.
	Status(app, src *Identity, status *Status) ReturnCode

	// UserInterface issues DG_CONTROL/DAT_USERINTERFACE (MSG_ENABLEDS,
	// MSG_DISABLEDS).
	UserInterface(app, src *Identity, msg Message, ui *UserInterface) ReturnCode

	// Capability issues DG_CONTROL/DAT_CAPABILITY with a TWON_ONEVALUE
	// container. The gateway allocates and frees the container.
	Capability(app, src *Identity, msg Message, v *OneValue) ReturnCode

	// ImageLayout issues DG_IMAGE/DAT_IMAGELAYOUT.
	ImageLayout(app, src *Identity, msg Message, layout *ImageLayout) ReturnCode

	// ProcessEvent issues DG_CONTROL/DAT_EVENT/MSG_PROCESSEVENT.
	ProcessEvent(app, src *Identity, ev *Event) ReturnCode

	// ImageInfo issues DG_IMAGE/DAT_IMAGEINFO/MSG_GET.
	ImageInfo(app, src *Identity, info *ImageInfo) ReturnCode

	// ImageNativeTransfer issues DG_IMAGE/DAT_IMAGENATIVEXFER/MSG_GET. On
	// TWRC_XFERDONE dib holds a global handle to a packed DIB that the caller
	// now owns.
	ImageNativeTransfer(app, src *Identity, dib *Handle) ReturnCode

	// PendingTransfers issues DG_CONTROL/DAT_PENDINGXFERS (MSG_ENDXFER,
	// MSG_RESET).
	PendingTransfers(app, src *Identity, msg Message, p *PendingTransfers) ReturnCode
}

// GlobalMemory is the native global heap: DIB handles returned by a native
// transfer, and the event buffer handed to MSG_PROCESSEVENT, live here.
type GlobalMemory interface {
	// Alloc returns a fixed block of size bytes; its handle is also its
	// address.
	Alloc(size int) (Handle, error)
	// Lock pins the block and returns a view of its bytes.
	Lock(h Handle) ([]byte, error)
	Unlock(h Handle)
	Free(h Handle)
}

// FilterFunc is the shape of a message-pump hook.
type FilterFunc func(hwnd Handle, msg uint32, wParam, lParam uintptr, handled *bool) uintptr

// MessageHook is the host side of the message pump. The engine installs its
// filter once and toggles UseFilter while a scan is armed.
type MessageHook interface {
	WindowHandle() Handle
	UseFilter() bool
	SetUseFilter(bool)
	SetFilter(FilterFunc)
	// MessageTime and MessagePos describe the message currently being
	// filtered (GetMessageTime, GetMessagePos).
	MessageTime() uint32
	MessagePos() (x, y int16)
}

// conditionCode queries DAT_STATUS; src nil asks the DSM.
func conditionCode(gw Gateway, app, src *Identity) ConditionCode {
	var st Status
	gw.Status(app, src, &st)
	return st.ConditionCode
}
