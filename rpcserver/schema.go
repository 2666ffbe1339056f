package rpcserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chirpaudio/audiod/policy"
)

// Error codes returned in the errorCode field of failed replies.
const (
	ErrCodeUnknownMethod    = 1
	ErrCodeMalformedRequest = 2
	ErrCodeInvalidParams    = 3
	ErrCodeStreamNotFound   = 4
	ErrCodeVolumeOutOfRange = 5
	ErrCodeMixerNotReady    = 6
	ErrCodeInternal         = 7
)

// request is the wire format of one client request.
type request struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// response is the wire format of one reply. Extra carries method-specific
// result fields and is flattened client-side by reading the documented
// field names.
type response struct {
	ID          uint64         `json:"id"`
	ReturnValue bool           `json:"returnValue"`
	ErrorCode   int            `json:"errorCode,omitempty"`
	ErrorText   string         `json:"errorText,omitempty"`
	Extra       map[string]any `json:"result,omitempty"`
	Signal      string         `json:"signal,omitempty"`
}

func okResp(id uint64, extra map[string]any) response {
	return response{ID: id, ReturnValue: true, Extra: extra}
}

func errResp(id uint64, code int, text string) response {
	return response{ID: id, ErrorCode: code, ErrorText: text}
}

// errRespFor maps a domain error onto the wire error codes.
func errRespFor(id uint64, err error) response {
	switch {
	case errors.Is(err, policy.ErrStreamNotFound):
		return errResp(id, ErrCodeStreamNotFound, err.Error())
	case errors.Is(err, policy.ErrVolumeOutOfRange):
		return errResp(id, ErrCodeVolumeOutOfRange, err.Error())
	case errors.Is(err, policy.ErrMixerNotReady):
		return errResp(id, ErrCodeMixerNotReady, err.Error())
	}
	return errResp(id, ErrCodeInternal, err.Error())
}

// decodeParams strictly decodes params into dst, rejecting unknown fields.
func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("malformed params: %w", err)
	}
	return nil
}

// Per-method parameter schemas. Required fields are pointers so a missing
// field is distinguishable from a zero value.

type setVolumeParams struct {
	StreamType string `json:"streamType"`
	Volume     *int   `json:"volume"`
	Ramp       bool   `json:"ramp"`
}

func (p *setVolumeParams) validate() error {
	if p.StreamType == "" {
		return errors.New("streamType is required")
	}
	if p.Volume == nil {
		return errors.New("volume is required")
	}
	return nil
}

type streamTypeParams struct {
	StreamType string `json:"streamType"`
}

func (p *streamTypeParams) validate() error {
	if p.StreamType == "" {
		return errors.New("streamType is required")
	}
	return nil
}

type muteParams struct {
	StreamType string `json:"streamType"`
	Mute       *bool  `json:"mute"`
}

func (p *muteParams) validate() error {
	if p.StreamType == "" {
		return errors.New("streamType is required")
	}
	if p.Mute == nil {
		return errors.New("mute is required")
	}
	return nil
}

type setAppVolumeParams struct {
	MediaID string `json:"mediaId"`
	Volume  *int   `json:"volume"`
	Sink    string `json:"sink"`
	Ramp    bool   `json:"ramp"`
}

func (p *setAppVolumeParams) validate() error {
	if p.MediaID == "" {
		return errors.New("mediaId is required")
	}
	if p.Volume == nil {
		return errors.New("volume is required")
	}
	if p.Sink == "" {
		return errors.New("sink is required")
	}
	return nil
}

type registerTrackParams struct {
	StreamType string `json:"streamType"`
}

func (p *registerTrackParams) validate() error {
	if p.StreamType == "" {
		return errors.New("streamType is required")
	}
	return nil
}

type ringerSwitchParams struct {
	On *bool `json:"on"`
}

func (p *ringerSwitchParams) validate() error {
	if p.On == nil {
		return errors.New("on is required")
	}
	return nil
}

type sliderStateParams struct {
	State string `json:"state"`
}

func (p *sliderStateParams) validate() error {
	if p.State == "" {
		return errors.New("state is required")
	}
	return nil
}

type ttyModeParams struct {
	Mode string `json:"mode"`
}

func (p *ttyModeParams) validate() error {
	if p.Mode == "" {
		return errors.New("mode is required")
	}
	return nil
}

type dndParams struct {
	Enable *bool `json:"enable"`
}

func (p *dndParams) validate() error {
	if p.Enable == nil {
		return errors.New("enable is required")
	}
	return nil
}

type callStatusParams struct {
	Mode   string `json:"mode"`
	Status string `json:"status"`
}

func (p *callStatusParams) validate() error {
	if p.Mode == "" {
		return errors.New("mode is required")
	}
	if p.Status == "" {
		return errors.New("status is required")
	}
	return nil
}

type headsetStateParams struct {
	State string `json:"state"`
}

func (p *headsetStateParams) validate() error {
	if p.State == "" {
		return errors.New("state is required")
	}
	return nil
}

type soundProfileParams struct {
	Subscribe bool `json:"subscribe"`
}

func (p *soundProfileParams) validate() error { return nil }
