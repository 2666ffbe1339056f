// Package rpcserver exposes the daemon's control surface as a
// websocket-based JSON service. Requests are validated against per-method
// schemas, executed on the control loop, and answered with a
// returnValue/errorCode/errorText envelope.
package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	stdlog "log"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chirpaudio/audiod/internal/strescape"
	"github.com/chirpaudio/audiod/mixer"
	"github.com/chirpaudio/audiod/policy"
	"github.com/chirpaudio/audiod/state"
	"github.com/decred/slog"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
)

// handler executes one validated request. Handlers run on the control
// loop.
type handler func(s *Server, req request) response

// Server is the websocket JSON service.
type Server struct {
	listeners []net.Listener
	log       slog.Logger

	post func(func())
	mix  *mixer.Mixer
	pol  *policy.Manager
	sm   *state.Machine

	nextPeerID  atomic.Uint64
	subscribers *xsync.MapOf[uint64, *wsPeer]
}

type serverConfig struct {
	listeners []net.Listener
	log       slog.Logger
	post      func(func())
	mix       *mixer.Mixer
	pol       *policy.Manager
	sm        *state.Machine
}

// ServerOption defines an option when configuring the service.
type ServerOption func(*serverConfig)

// WithListeners defines which listeners to bind the server to.
func WithListeners(listeners []net.Listener) ServerOption {
	return func(cfg *serverConfig) {
		cfg.listeners = listeners
	}
}

// WithServerLog defines the logger to use to log server debug messages.
func WithServerLog(log slog.Logger) ServerOption {
	return func(cfg *serverConfig) {
		cfg.log = log
	}
}

// WithDispatcher defines the function that posts work onto the control
// loop. All domain calls go through it.
func WithDispatcher(post func(func())) ServerOption {
	return func(cfg *serverConfig) {
		cfg.post = post
	}
}

// WithDomain binds the server to the mixer, policy manager and state
// machine it fronts.
func WithDomain(mix *mixer.Mixer, pol *policy.Manager, sm *state.Machine) ServerOption {
	return func(cfg *serverConfig) {
		cfg.mix = mix
		cfg.pol = pol
		cfg.sm = sm
	}
}

// NewServer returns a new control service.
func NewServer(options ...ServerOption) *Server {
	cfg := &serverConfig{
		log:  slog.Disabled,
		post: func(f func()) { f() },
	}
	for _, opt := range options {
		opt(cfg)
	}
	return &Server{
		listeners:   cfg.listeners,
		log:         cfg.log,
		post:        cfg.post,
		mix:         cfg.mix,
		pol:         cfg.pol,
		sm:          cfg.sm,
		subscribers: xsync.NewMapOf[uint64, *wsPeer](),
	}
}

// Run the server, responding to requests until the context is closed.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	serveMux := &http.ServeMux{}
	upgrader := websocket.Upgrader{
		// The service binds to loopback; browser clients are not a
		// target.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	serveMux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			var herr websocket.HandshakeError
			if !errors.As(err, &herr) {
				s.log.Errorf("Unexpected websocket error: %v", err)
			}
			return
		}
		s.servePeer(r.Context(), ws)
	})

	httpServer := &http.Server{
		Handler:     serveMux,
		BaseContext: func(_ net.Listener) context.Context { return gctx },
		ErrorLog:    stdlog.New(slogWriter{f: s.log.Warn}, "", 0),
	}

	for _, l := range s.listeners {
		l := l
		g.Go(func() error {
			s.log.Infof("Listening for control requests on %s", l.Addr())
			return httpServer.Serve(l)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// slogWriter adapts a slog printf function into an io.Writer.
type slogWriter struct {
	f func(...interface{})
}

func (w slogWriter) Write(p []byte) (int, error) {
	w.f(string(p))
	return len(p), nil
}

// wsPeer is one connected control client. Writes are serialized because
// profile pushes race with request replies.
type wsPeer struct {
	id   uint64
	conn *websocket.Conn

	writeMtx sync.Mutex
}

func (p *wsPeer) send(resp response) error {
	p.writeMtx.Lock()
	defer p.writeMtx.Unlock()
	return p.conn.WriteJSON(resp)
}

// servePeer runs the request loop of one connection.
func (s *Server) servePeer(ctx context.Context, conn *websocket.Conn) {
	peer := &wsPeer{id: s.nextPeerID.Add(1), conn: conn}
	defer func() {
		s.subscribers.Delete(peer.id)
		conn.Close()
	}()

	s.log.Debugf("Peer %d connected from %s", peer.id, conn.RemoteAddr())
	for {
		if ctx.Err() != nil {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway) {
				s.log.Debugf("Peer %d read error: %v", peer.id, err)
			}
			return
		}

		var req request
		if err := json.Unmarshal(raw, &req); err != nil {
			peer.send(errResp(0, ErrCodeMalformedRequest,
				"malformed request"))
			continue
		}

		resp := s.dispatchRequest(peer, req)
		if err := peer.send(resp); err != nil {
			s.log.Debugf("Peer %d write error: %v", peer.id, err)
			return
		}
	}
}

// dispatchRequest validates and runs one request on the control loop,
// blocking the peer's read loop until the reply is ready.
func (s *Server) dispatchRequest(peer *wsPeer, req request) response {
	s.log.Tracef("Peer %d request %d %s", peer.id, req.ID,
		strescape.Printable(req.Method))
	h, ok := handlers[req.Method]
	if !ok {
		// The method name is peer controlled, sanitize before echoing.
		return errResp(req.ID, ErrCodeUnknownMethod,
			"unknown method "+strescape.Printable(req.Method))
	}
	if req.Method == "getSoundProfile" {
		// Subscription bookkeeping happens outside the control loop.
		var params soundProfileParams
		if err := decodeParams(req.Params, &params); err == nil &&
			params.Subscribe {
			s.subscribers.Store(peer.id, peer)
		}
	}

	ch := make(chan response, 1)
	s.post(func() {
		ch <- h(s, req)
	})
	return <-ch
}

// NotifyProfileChanged pushes the new sound profile to every subscribed
// peer. Wired as the state machine's profile callback.
func (s *Server) NotifyProfileChanged(p state.SoundProfile) {
	s.subscribers.Range(func(id uint64, peer *wsPeer) bool {
		resp := response{
			ReturnValue: true,
			Signal:      "soundProfileChanged",
			Extra: map[string]any{
				"ringerOn":             p.RingerOn,
				"vibrateWhenRingerOn":  p.VibrateWhenRingerOn,
				"vibrateWhenRingerOff": p.VibrateWhenRingerOff,
				"dndOn":                p.DndOn,
			},
		}
		if err := peer.send(resp); err != nil {
			s.log.Debugf("Dropping subscriber %d: %v", id, err)
			s.subscribers.Delete(id)
		}
		return true
	})
}

var handlers = map[string]handler{
	"setInputVolume":  handleSetInputVolume,
	"getInputVolume":  handleGetInputVolume,
	"muteSink":        handleMuteSink,
	"muteSource":      handleMuteSource,
	"setAppVolume":    handleSetAppVolume,
	"registerTrack":   handleRegisterTrack,
	"getStreamStatus": handleGetStreamStatus,
	"getSourceStatus": handleGetSourceStatus,
	"setRingerSwitch": handleSetRingerSwitch,
	"setSliderState":  handleSetSliderState,
	"setTTYMode":      handleSetTTYMode,
	"setDND":          handleSetDND,
	"setCallStatus":   handleSetCallStatus,
	"setHeadsetState": handleSetHeadsetState,
	"getSoundProfile": handleGetSoundProfile,
}

func handleSetInputVolume(s *Server, req request) response {
	var params setVolumeParams
	if err := decodeParams(req.Params, &params); err != nil {
		return errResp(req.ID, ErrCodeMalformedRequest, err.Error())
	}
	if err := params.validate(); err != nil {
		return errResp(req.ID, ErrCodeInvalidParams, err.Error())
	}
	sink, err := s.pol.SinkOf(params.StreamType)
	if err == nil {
		err = s.pol.SetVolume(sink, *params.Volume, params.Ramp)
	} else {
		var source mixer.VirtualSource
		source, err = s.pol.SourceOf(params.StreamType)
		if err == nil {
			err = s.pol.SetSourceVolume(source, *params.Volume,
				params.Ramp)
		}
	}
	if err != nil {
		return errRespFor(req.ID, err)
	}
	return okResp(req.ID, nil)
}

func handleGetInputVolume(s *Server, req request) response {
	var params streamTypeParams
	if err := decodeParams(req.Params, &params); err != nil {
		return errResp(req.ID, ErrCodeMalformedRequest, err.Error())
	}
	if err := params.validate(); err != nil {
		return errResp(req.ID, ErrCodeInvalidParams, err.Error())
	}
	volume, err := s.pol.CurrentVolume(params.StreamType)
	if err != nil {
		return errRespFor(req.ID, err)
	}
	policyVolume, _ := s.pol.PolicyVolume(params.StreamType)
	muted, _ := s.pol.MuteStatus(params.StreamType)
	return okResp(req.ID, map[string]any{
		"streamType":   params.StreamType,
		"volume":       volume,
		"policyVolume": policyVolume,
		"muted":        muted,
	})
}

func handleMuteSink(s *Server, req request) response {
	var params muteParams
	if err := decodeParams(req.Params, &params); err != nil {
		return errResp(req.ID, ErrCodeMalformedRequest, err.Error())
	}
	if err := params.validate(); err != nil {
		return errResp(req.ID, ErrCodeInvalidParams, err.Error())
	}
	sink, err := s.pol.SinkOf(params.StreamType)
	if err != nil {
		return errRespFor(req.ID, err)
	}
	if err := s.pol.MuteSink(sink, *params.Mute); err != nil {
		return errRespFor(req.ID, err)
	}
	return okResp(req.ID, nil)
}

func handleMuteSource(s *Server, req request) response {
	var params muteParams
	if err := decodeParams(req.Params, &params); err != nil {
		return errResp(req.ID, ErrCodeMalformedRequest, err.Error())
	}
	if err := params.validate(); err != nil {
		return errResp(req.ID, ErrCodeInvalidParams, err.Error())
	}
	source, err := s.pol.SourceOf(params.StreamType)
	if err != nil {
		return errRespFor(req.ID, err)
	}
	if err := s.pol.MuteSource(source, *params.Mute); err != nil {
		return errRespFor(req.ID, err)
	}
	return okResp(req.ID, nil)
}

func handleSetAppVolume(s *Server, req request) response {
	var params setAppVolumeParams
	if err := decodeParams(req.Params, &params); err != nil {
		return errResp(req.ID, ErrCodeMalformedRequest, err.Error())
	}
	if err := params.validate(); err != nil {
		return errResp(req.ID, ErrCodeInvalidParams, err.Error())
	}
	sink := mixer.SinkFromName(params.Sink)
	if sink == mixer.SinkNone {
		return errResp(req.ID, ErrCodeInvalidParams,
			"unknown sink "+params.Sink)
	}
	err := s.pol.SetAppVolume(params.MediaID, *params.Volume, sink,
		params.Ramp)
	if err != nil {
		return errRespFor(req.ID, err)
	}
	return okResp(req.ID, nil)
}

func handleRegisterTrack(s *Server, req request) response {
	var params registerTrackParams
	if err := decodeParams(req.Params, &params); err != nil {
		return errResp(req.ID, ErrCodeMalformedRequest, err.Error())
	}
	if err := params.validate(); err != nil {
		return errResp(req.ID, ErrCodeInvalidParams, err.Error())
	}
	trackID, err := s.pol.RegisterTrack(params.StreamType)
	if err != nil {
		return errRespFor(req.ID, err)
	}
	return okResp(req.ID, map[string]any{"trackId": trackID})
}

func handleGetStreamStatus(s *Server, req request) response {
	streams := []map[string]any{}
	for _, sink := range s.mix.ActiveStreams() {
		entry := map[string]any{"sink": sink.String()}
		if streamType, err := s.pol.StreamTypeForSink(sink); err == nil {
			entry["streamType"] = streamType
			if st, err := s.pol.StreamStateOf(streamType); err == nil {
				entry["state"] = st.String()
			}
		}
		streams = append(streams, entry)
	}
	return okResp(req.ID, map[string]any{"streams": streams})
}

func handleGetSourceStatus(s *Server, req request) response {
	sources := []map[string]any{}
	for _, source := range s.mix.ActiveSources() {
		entry := map[string]any{"source": source.String()}
		if streamType, err := s.pol.StreamTypeForSource(source); err == nil {
			entry["streamType"] = streamType
			if st, err := s.pol.StreamStateOf(streamType); err == nil {
				entry["state"] = st.String()
			}
		}
		sources = append(sources, entry)
	}
	return okResp(req.ID, map[string]any{"sources": sources})
}

func handleSetRingerSwitch(s *Server, req request) response {
	var params ringerSwitchParams
	if err := decodeParams(req.Params, &params); err != nil {
		return errResp(req.ID, ErrCodeMalformedRequest, err.Error())
	}
	if err := params.validate(); err != nil {
		return errResp(req.ID, ErrCodeInvalidParams, err.Error())
	}
	s.sm.SetRingerOn(*params.On)
	return okResp(req.ID, nil)
}

func handleSetSliderState(s *Server, req request) response {
	var params sliderStateParams
	if err := decodeParams(req.Params, &params); err != nil {
		return errResp(req.ID, ErrCodeMalformedRequest, err.Error())
	}
	if err := params.validate(); err != nil {
		return errResp(req.ID, ErrCodeInvalidParams, err.Error())
	}
	st, ok := sliderStateFromName(params.State)
	if !ok {
		return errResp(req.ID, ErrCodeInvalidParams,
			"unknown slider state "+params.State)
	}
	s.sm.SetSliderState(st)
	return okResp(req.ID, nil)
}

func sliderStateFromName(name string) (state.SliderState, bool) {
	switch name {
	case "closed":
		return state.SliderClosed, true
	case "opening":
		return state.SliderOpening, true
	case "open":
		return state.SliderOpen, true
	}
	return state.SliderClosed, false
}

func handleSetTTYMode(s *Server, req request) response {
	var params ttyModeParams
	if err := decodeParams(req.Params, &params); err != nil {
		return errResp(req.ID, ErrCodeMalformedRequest, err.Error())
	}
	if err := params.validate(); err != nil {
		return errResp(req.ID, ErrCodeInvalidParams, err.Error())
	}
	s.sm.SetTTYMode(state.TTYModeFromName(params.Mode))
	return okResp(req.ID, nil)
}

func handleSetDND(s *Server, req request) response {
	var params dndParams
	if err := decodeParams(req.Params, &params); err != nil {
		return errResp(req.ID, ErrCodeMalformedRequest, err.Error())
	}
	if err := params.validate(); err != nil {
		return errResp(req.ID, ErrCodeInvalidParams, err.Error())
	}
	s.sm.SetDND(*params.Enable)
	return okResp(req.ID, nil)
}

func handleSetCallStatus(s *Server, req request) response {
	var params callStatusParams
	if err := decodeParams(req.Params, &params); err != nil {
		return errResp(req.ID, ErrCodeMalformedRequest, err.Error())
	}
	if err := params.validate(); err != nil {
		return errResp(req.ID, ErrCodeInvalidParams, err.Error())
	}
	s.sm.SetCallState(state.CallModeFromName(params.Mode),
		state.CallStatusFromName(params.Status))
	return okResp(req.ID, nil)
}

func handleSetHeadsetState(s *Server, req request) response {
	var params headsetStateParams
	if err := decodeParams(req.Params, &params); err != nil {
		return errResp(req.ID, ErrCodeMalformedRequest, err.Error())
	}
	if err := params.validate(); err != nil {
		return errResp(req.ID, ErrCodeInvalidParams, err.Error())
	}
	s.sm.SetHeadsetState(state.HeadsetStateFromName(params.State))
	return okResp(req.ID, nil)
}

func handleGetSoundProfile(s *Server, req request) response {
	p := s.sm.Profile()
	return okResp(req.ID, map[string]any{
		"ringerOn":             p.RingerOn,
		"vibrateWhenRingerOn":  p.VibrateWhenRingerOn,
		"vibrateWhenRingerOff": p.VibrateWhenRingerOff,
		"dndOn":                p.DndOn,
	})
}
