package policy

import (
	"crypto/rand"
	"fmt"

	"github.com/chirpaudio/audiod/mixer"
)

// appKey identifies one app's volume override on one sink.
type appKey struct {
	mediaID string
	sink    mixer.VirtualSink
}

// AppVolumeRecord is an independent per-app volume on top of the
// stream-type policy. It is applied as a track-level command scoped to the
// app's sink-input index, so it never overrides another app's volume on a
// shared sink.
type AppVolumeRecord struct {
	AppVolume int
	SinkIndex int
	Active    bool
}

const trackIDLength = 10

// GenerateTrackID returns a fresh opaque track identifier. The leading
// underscore keeps generated ids out of the app-name namespace.
func GenerateTrackID() string {
	const charset = "0123456789ABCDEFGIJKLMNOPQRSTUVWXYZabcdefgijklmnopqrstuvwxyz"
	var buf [trackIDLength - 1]byte
	rand.Read(buf[:])
	id := make([]byte, trackIDLength)
	id[0] = '_'
	for i, b := range buf {
		id[i+1] = charset[int(b)%len(charset)]
	}
	return string(id)
}

// RegisterTrack allocates a track id for a multi-instance stream type and
// pre-creates its app volume record. The returned id is what the app later
// presents as its media id when opening a stream.
func (m *Manager) RegisterTrack(streamType string) (string, error) {
	rec, ok := m.sinkRecords[streamType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrStreamNotFound, streamType)
	}
	trackID := GenerateTrackID()
	m.appVolumes[appKey{mediaID: trackID, sink: rec.sink}] = &AppVolumeRecord{
		AppVolume: 100,
		SinkIndex: -1,
	}
	m.log.Debugf("registered track %s for stream %s", trackID, streamType)
	return trackID, nil
}

// SetAppVolume sets an app's volume on a sink, independent of the sink's
// stream-type policy.
func (m *Manager) SetAppVolume(mediaID string, volume int, sink mixer.VirtualSink, ramp bool) error {
	if volume < 0 || volume > 100 {
		return fmt.Errorf("%w: %d", ErrVolumeOutOfRange, volume)
	}
	if _, ok := m.sinkToStream[sink]; !ok {
		return fmt.Errorf("%w: sink %s", ErrStreamNotFound, sink)
	}

	key := appKey{mediaID: mediaID, sink: sink}
	rec, ok := m.appVolumes[key]
	if !ok {
		rec = &AppVolumeRecord{SinkIndex: -1}
		m.appVolumes[key] = rec
	}

	// Apply to the app's open sink-input, if any. An app with no open
	// stream only has the value stored for when its stream opens.
	idx, found := m.findSinkInput(mediaID, sink)
	if found {
		if !m.mix.ProgramTrackVolume(sink, idx, volume, ramp) {
			return ErrMixerNotReady
		}
		rec.SinkIndex = idx
		rec.Active = true
	}
	rec.AppVolume = volume
	m.ntfns.notifyAppVolumeChanged(mediaID, volume)
	m.log.Debugf("app %s volume on %s set to %d", mediaID, sink, volume)
	return nil
}

// AppVolume returns the stored volume of an app on a sink.
func (m *Manager) AppVolume(mediaID string, sink mixer.VirtualSink) (int, error) {
	rec, ok := m.appVolumes[appKey{mediaID: mediaID, sink: sink}]
	if !ok {
		return 0, fmt.Errorf("%w: app %q on %s", ErrStreamNotFound,
			mediaID, sink)
	}
	return rec.AppVolume, nil
}

// findSinkInput locates the open sink-input belonging to an app, matching
// by track id first, then by app name.
func (m *Manager) findSinkInput(mediaID string, sink mixer.VirtualSink) (int, bool) {
	for idx, in := range m.mix.SinkInputs(sink) {
		if in.TrackID == mediaID || in.AppName == mediaID {
			return idx, true
		}
	}
	return 0, false
}

// sinkInputOpened applies a stored app volume when the app's stream
// opens, creating the record on first sight of the app.
func (m *Manager) sinkInputOpened(appName string, sink mixer.VirtualSink, sinkIndex int) {
	key := appKey{mediaID: appName, sink: sink}
	rec, ok := m.appVolumes[key]
	if !ok {
		m.appVolumes[key] = &AppVolumeRecord{
			AppVolume: 100,
			SinkIndex: sinkIndex,
			Active:    true,
		}
		return
	}
	rec.SinkIndex = sinkIndex
	rec.Active = true
	if rec.AppVolume != 100 {
		if !m.mix.ProgramTrackVolume(sink, sinkIndex, rec.AppVolume, false) {
			m.log.Warnf("unable to apply app %s volume on %s", appName, sink)
		}
	}
}

// sinkInputClosed drops the app volume record bound to a closed
// sink-input.
func (m *Manager) sinkInputClosed(appName string, sink mixer.VirtualSink, sinkIndex int) {
	for key, rec := range m.appVolumes {
		if key.sink != sink {
			continue
		}
		if key.mediaID == appName || rec.SinkIndex == sinkIndex {
			delete(m.appVolumes, key)
		}
	}
}
