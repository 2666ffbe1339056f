package state

import "fmt"

// CallMode distinguishes the transport of the current call.
type CallMode int

const (
	CallModeNone CallMode = iota
	CallModeCarrier
	CallModeVoIP
)

func (m CallMode) String() string {
	switch m {
	case CallModeNone:
		return "none"
	case CallModeCarrier:
		return "carrier"
	case CallModeVoIP:
		return "voip"
	}
	return fmt.Sprintf("callMode(%d)", int(m))
}

// CallStatus is the per-mode call status.
type CallStatus int

const (
	CallDisconnected CallStatus = iota
	CallIncoming
	CallDialing
	CallActive
)

func (s CallStatus) String() string {
	switch s {
	case CallDisconnected:
		return "disconnected"
	case CallIncoming:
		return "incoming"
	case CallDialing:
		return "dialing"
	case CallActive:
		return "active"
	}
	return fmt.Sprintf("callStatus(%d)", int(s))
}

// CallStatusFromName maps an externally supplied status name to its enum
// value. Unknown names default to disconnected.
func CallStatusFromName(name string) CallStatus {
	switch name {
	case "incoming":
		return CallIncoming
	case "dialing":
		return CallDialing
	case "active", "connected":
		return CallActive
	}
	return CallDisconnected
}

// CallModeFromName maps an externally supplied mode name to its enum
// value. Unknown names default to none.
func CallModeFromName(name string) CallMode {
	switch name {
	case "carrier":
		return CallModeCarrier
	case "voip":
		return CallModeVoIP
	}
	return CallModeNone
}

// HeadsetState is the physical headset/mic connection state.
type HeadsetState int

const (
	HeadsetNone HeadsetState = iota
	Headset
	HeadsetMic
	UsbMicConnected
	UsbMicDisconnected
	UsbHeadsetConnected
	UsbHeadsetDisconnected
)

func (s HeadsetState) String() string {
	switch s {
	case HeadsetNone:
		return "none"
	case Headset:
		return "headset"
	case HeadsetMic:
		return "headset_mic"
	case UsbMicConnected:
		return "usb_mic_connected"
	case UsbMicDisconnected:
		return "usb_mic_disconnected"
	case UsbHeadsetConnected:
		return "usb_headset_connected"
	case UsbHeadsetDisconnected:
		return "usb_headset_disconnected"
	}
	return fmt.Sprintf("headsetState(%d)", int(s))
}

// HeadsetStateFromName maps an externally supplied name to its enum
// value. Unknown names default to the safest state, none.
func HeadsetStateFromName(name string) HeadsetState {
	for s := Headset; s <= UsbHeadsetDisconnected; s++ {
		if s.String() == name {
			return s
		}
	}
	return HeadsetNone
}

// TTYMode is the teletypewriter accessibility mode.
type TTYMode int

const (
	TTYOff TTYMode = iota
	TTYFull
	TTYHCO
	TTYVCO
)

func (m TTYMode) String() string {
	switch m {
	case TTYOff:
		return "off"
	case TTYFull:
		return "full"
	case TTYHCO:
		return "hco"
	case TTYVCO:
		return "vco"
	}
	return fmt.Sprintf("ttyMode(%d)", int(m))
}

// TTYModeFromName maps an externally supplied name to its enum value.
// Unknown names default to off.
func TTYModeFromName(name string) TTYMode {
	switch name {
	case "full":
		return TTYFull
	case "hco":
		return TTYHCO
	case "vco":
		return TTYVCO
	}
	return TTYOff
}

// SliderState is the hardware keyboard slider position.
type SliderState int

const (
	SliderClosed SliderState = iota
	SliderOpening
	SliderOpen
)

func (s SliderState) String() string {
	switch s {
	case SliderClosed:
		return "closed"
	case SliderOpening:
		return "opening"
	case SliderOpen:
		return "open"
	}
	return fmt.Sprintf("sliderState(%d)", int(s))
}

// SoundProfile is the user-facing ringer/vibrate profile snapshotted and
// restored around do-not-disturb.
type SoundProfile struct {
	RingerOn             bool `json:"ringerOn"`
	VibrateWhenRingerOn  bool `json:"vibrateWhenRingerOn"`
	VibrateWhenRingerOff bool `json:"vibrateWhenRingerOff"`
	DndOn                bool `json:"dndOn"`
}
