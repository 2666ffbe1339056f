package policy

import "sync"

// Following are the notification types. Add new types at the bottom of the
// list, then add a notifyX() and a RegisterX() to NotificationManager.

// OnVolumeChangedNtfn is the handler for successful stream volume changes.
type OnVolumeChangedNtfn func(streamType string, volume int, ramp bool)

// OnMuteChangedNtfn is the handler for successful mute state changes.
type OnMuteChangedNtfn func(streamType string, muted bool)

// OnStreamStatusNtfn is the handler for per-stream policy state
// transitions (activation, ramping, muting, deactivation).
type OnStreamStatusNtfn func(streamType string, sinkStream bool, state StreamState)

// OnAppVolumeChangedNtfn is the handler for per-app volume changes.
type OnAppVolumeChangedNtfn func(mediaID string, volume int)

// Following is the generic notification code.

// NotificationRegistration tracks a registered handler and allows
// unregistering it.
type NotificationRegistration struct {
	unreg func() bool
}

// Unregister removes the handler. Returns false if it was already removed.
func (reg NotificationRegistration) Unregister() bool {
	return reg.unreg()
}

type handlersFor[T any] struct {
	mtx      sync.Mutex
	next     uint
	handlers map[uint]T
}

func (hn *handlersFor[T]) register(h T) NotificationRegistration {
	hn.mtx.Lock()
	id := hn.next
	hn.next++
	if hn.handlers == nil {
		hn.handlers = make(map[uint]T)
	}
	hn.handlers[id] = h
	registered := true
	hn.mtx.Unlock()

	return NotificationRegistration{
		unreg: func() bool {
			hn.mtx.Lock()
			res := registered
			if registered {
				delete(hn.handlers, id)
				registered = false
			}
			hn.mtx.Unlock()
			return res
		},
	}
}

func (hn *handlersFor[T]) visit(f func(T)) {
	hn.mtx.Lock()
	for _, h := range hn.handlers {
		f(h)
	}
	hn.mtx.Unlock()
}

// NotificationManager fans successful policy changes out to subscribers
// (the IPC subscription layer, tests).
type NotificationManager struct {
	volumeChanged    handlersFor[OnVolumeChangedNtfn]
	muteChanged      handlersFor[OnMuteChangedNtfn]
	streamStatus     handlersFor[OnStreamStatusNtfn]
	appVolumeChanged handlersFor[OnAppVolumeChangedNtfn]
}

func NewNotificationManager() *NotificationManager {
	return &NotificationManager{}
}

func (nmgr *NotificationManager) RegisterVolumeChanged(h OnVolumeChangedNtfn) NotificationRegistration {
	return nmgr.volumeChanged.register(h)
}

func (nmgr *NotificationManager) RegisterMuteChanged(h OnMuteChangedNtfn) NotificationRegistration {
	return nmgr.muteChanged.register(h)
}

func (nmgr *NotificationManager) RegisterStreamStatus(h OnStreamStatusNtfn) NotificationRegistration {
	return nmgr.streamStatus.register(h)
}

func (nmgr *NotificationManager) RegisterAppVolumeChanged(h OnAppVolumeChangedNtfn) NotificationRegistration {
	return nmgr.appVolumeChanged.register(h)
}

func (nmgr *NotificationManager) notifyVolumeChanged(streamType string, volume int, ramp bool) {
	nmgr.volumeChanged.visit(func(h OnVolumeChangedNtfn) {
		h(streamType, volume, ramp)
	})
}

func (nmgr *NotificationManager) notifyMuteChanged(streamType string, muted bool) {
	nmgr.muteChanged.visit(func(h OnMuteChangedNtfn) {
		h(streamType, muted)
	})
}

func (nmgr *NotificationManager) notifyStreamStatus(streamType string, sinkStream bool, state StreamState) {
	nmgr.streamStatus.visit(func(h OnStreamStatusNtfn) {
		h(streamType, sinkStream, state)
	})
}

func (nmgr *NotificationManager) notifyAppVolumeChanged(mediaID string, volume int) {
	nmgr.appVolumeChanged.visit(func(h OnAppVolumeChangedNtfn) {
		h(mediaID, volume)
	})
}
