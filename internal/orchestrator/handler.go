package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"tvplayer-orchestrator/internal/events"
	"tvplayer-orchestrator/internal/executor"
	"tvplayer-orchestrator/internal/platform/metrics"
	"tvplayer-orchestrator/internal/state"
	"tvplayer-orchestrator/internal/streams"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// Names of the notifications pushed to the UI.
const (
	EventBufferingProgress = "onUpdateBufferingProgress"
	EventEndOfStream       = "onEndOfStream"
	EventPlaybackError     = "onPlaybackError"
	EventStateChanged      = "onPlayerStateChanged"
)

// Notification is one message on the /events stream.
type Notification struct {
	Name string
	Data map[string]any
}

// Handler exposes the UI bridge over HTTP using go-chi. Every StartPlayback
// gets a fresh Service; the previous one is disposed first.
type Handler struct {
	newSession     func() *Service
	log            *slog.Logger
	metrics        *metrics.Metrics
	disposeTimeout time.Duration

	hub *events.Broadcaster[Notification]

	mu      sync.Mutex
	current *Service
	relays  sync.WaitGroup
}

// NewHandler returns a Handler that creates sessions with newSession.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(newSession func() *Service, log *slog.Logger, m *metrics.Metrics, disposeTimeout time.Duration) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if disposeTimeout <= 0 {
		disposeTimeout = 5 * time.Second
	}
	hub := events.NewBroadcaster[Notification](events.DefaultBuffer)
	hub.OnDrop(m.IncDroppedEvents)
	return &Handler{
		newSession:     newSession,
		log:            log.With(slog.String("component", "bridge")),
		metrics:        m,
		disposeTimeout: disposeTimeout,
		hub:            hub,
	}
}

// Register mounts the bridge routes on r. Control routes are limited to
// controlLimit requests per minute per client IP; 0 disables the limit.
func (h *Handler) Register(r chi.Router, controlLimit int) {
	r.Get("/playback/info", h.PlaybackInfo)
	r.Get("/streams/{streamTypeIndex}", h.GetStreamsDescription)
	r.Get("/events", h.Events)

	r.Group(func(r chi.Router) {
		if controlLimit > 0 {
			r.Use(httprate.Limit(controlLimit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
					w.Header().Set("Retry-After", "60")
					writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate_limit_exceeded"})
				})))
		}
		r.Post("/playback/start", h.StartPlayback)
		r.Post("/playback/stop", h.StopPlayback)
		r.Post("/playback/toggle", h.PauseResumePlayback)
		r.Post("/streams/{groupIndex}/{formatIndex}", h.SetStream)
		r.Post("/lifecycle/suspend", h.Suspend)
		r.Post("/lifecycle/resume", h.Resume)
	})
}

type startRequest struct {
	URL      string          `json:"url"`
	DRM      json.RawMessage `json:"drm"`
	Protocol string          `json:"protocol"`
}

// StartPlayback handles POST /playback/start.
// Body: { "url": "...", "drm": "[...]", "protocol": "dash" }; drm may also be
// a plain JSON array.
func (h *Handler) StartPlayback(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid start body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "uri not specified")
		return
	}
	if strings.TrimSpace(req.Protocol) == "" {
		writeError(w, http.StatusBadRequest, "protocol not specified")
		return
	}
	drm, err := decodeDRM(req.DRM)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	clip := ClipDefinition{Protocol: req.Protocol, URL: req.URL, DRM: drm}
	if !clip.Supported() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported protocol: %s", req.Protocol))
		return
	}

	s := h.replaceSession()
	if err := s.SetSource(r.Context(), clip); err != nil {
		h.fail(w, "start playback failed", err)
		return
	}
	if err := s.Start(r.Context()); err != nil {
		h.fail(w, "start playback failed", err)
		return
	}

	h.log.Info("playback started", slog.String("session", s.SessionID()), slog.String("url", req.URL))
	writeState(w, s.State())
}

// StopPlayback handles POST /playback/stop. It always succeeds.
func (h *Handler) StopPlayback(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	s := h.current
	h.current = nil
	h.mu.Unlock()

	h.dispose(s)
	writeState(w, state.None)
}

// PauseResumePlayback handles POST /playback/toggle.
func (h *Handler) PauseResumePlayback(w http.ResponseWriter, r *http.Request) {
	s := h.session()
	if s == nil {
		writeState(w, state.None)
		return
	}

	var err error
	switch s.State() {
	case state.Playing:
		err = s.Pause(r.Context())
	case state.Paused:
		err = s.Start(r.Context())
	}
	if err != nil {
		h.fail(w, "toggle playback failed", err)
		return
	}
	writeState(w, s.State())
}

// PlaybackInfo handles GET /playback/info. Times are in seconds.
func (h *Handler) PlaybackInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{"position": 0.0, "duration": 0.0, "isPlaying": false, "session": ""}
	if s := h.session(); s != nil {
		if pos, err := s.Position(r.Context()); err == nil {
			info["position"] = pos.Seconds()
		}
		if d, err := s.Duration(r.Context()); err == nil {
			info["duration"] = d.Seconds()
		}
		info["isPlaying"] = s.State() == state.Playing
		info["session"] = s.SessionID()
	}
	writeJSON(w, http.StatusOK, info)
}

// GetStreamsDescription handles GET /streams/{streamTypeIndex}.
func (h *Handler) GetStreamsDescription(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "streamTypeIndex"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid stream type")
		return
	}
	t, err := streams.ParseStreamType(index)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	descs := []streams.Description{}
	if s := h.session(); s != nil {
		if descs, err = s.GetStreamsDescription(r.Context(), t); err != nil {
			h.fail(w, "get streams failed", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"description": descs, "streamTypeIndex": index})
}

// SetStream handles POST /streams/{groupIndex}/{formatIndex}. A format index
// of -1 selects adaptive switching.
func (h *Handler) SetStream(w http.ResponseWriter, r *http.Request) {
	group, gerr := strconv.Atoi(chi.URLParam(r, "groupIndex"))
	format, ferr := strconv.Atoi(chi.URLParam(r, "formatIndex"))
	if gerr != nil || ferr != nil {
		writeError(w, http.StatusBadRequest, "invalid stream index")
		return
	}

	s := h.session()
	if s == nil {
		writeError(w, http.StatusConflict, ErrNoSource.Error())
		return
	}
	if err := s.ChangeActiveStream(r.Context(), group, format); err != nil {
		h.fail(w, "set stream failed", err)
		return
	}
	writeState(w, s.State())
}

// Suspend handles POST /lifecycle/suspend. Failures are only pushed on
// /events.
func (h *Handler) Suspend(w http.ResponseWriter, _ *http.Request) {
	if s := h.session(); s != nil {
		s.Suspend()
	}
	w.WriteHeader(http.StatusAccepted)
}

// Resume handles POST /lifecycle/resume.
func (h *Handler) Resume(w http.ResponseWriter, _ *http.Request) {
	if s := h.session(); s != nil {
		s.Resume()
	}
	w.WriteHeader(http.StatusAccepted)
}

// Events handles GET /events as a server-sent event stream.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	ch, cancel := h.hub.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(n.Data)
			if err != nil {
				h.log.Error("encode notification failed", slog.String("error", err.Error()))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", n.Name, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Close disposes the live session and ends every /events stream.
func (h *Handler) Close() {
	h.mu.Lock()
	s := h.current
	h.current = nil
	h.mu.Unlock()

	h.dispose(s)
	h.relays.Wait()
	h.hub.Close()
}

// ActiveState reports the live session's state, None without one.
func (h *Handler) ActiveState() state.State {
	if s := h.session(); s != nil {
		return s.State()
	}
	return state.None
}

func (h *Handler) session() *Service {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

func (h *Handler) replaceSession() *Service {
	s := h.newSession()
	h.relay(s)

	h.mu.Lock()
	old := h.current
	h.current = s
	h.mu.Unlock()

	h.dispose(old)
	return s
}

func (h *Handler) dispose(s *Service) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.disposeTimeout)
	defer cancel()
	if err := s.Dispose(ctx); err != nil {
		h.log.Warn("dispose session failed", slog.String("error", err.Error()))
	}
}

// relay forwards a session's channels to the hub until the session is
// disposed.
func (h *Handler) relay(s *Service) {
	errs, cancelErrs := s.PlaybackErrors()
	buffering, cancelBuffering := s.BufferingProgress()
	eos, cancelEOS := s.EndOfStream()
	states, cancelStates := s.StateChanged()

	h.relays.Add(1)
	go func() {
		defer h.relays.Done()
		defer cancelErrs()
		defer cancelBuffering()
		defer cancelEOS()
		defer cancelStates()

		for errs != nil || buffering != nil || eos != nil || states != nil {
			select {
			case e, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				h.hub.Publish(Notification{Name: EventPlaybackError, Data: map[string]any{"Message": e.Message}})
			case p, ok := <-buffering:
				if !ok {
					buffering = nil
					continue
				}
				h.hub.Publish(Notification{Name: EventBufferingProgress, Data: map[string]any{"Percent": p}})
			case _, ok := <-eos:
				if !ok {
					eos = nil
					continue
				}
				h.hub.Publish(Notification{Name: EventEndOfStream, Data: map[string]any{}})
			case st, ok := <-states:
				if !ok {
					states = nil
					continue
				}
				h.hub.Publish(Notification{Name: EventStateChanged, Data: map[string]any{"State": st.String()}})
			}
		}
	}()
}

// fail maps err to a status code and writes it.
func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(msg, slog.String("error", err.Error()))
	} else {
		h.log.Info(msg, slog.String("error", err.Error()))
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var pe *events.PlaybackError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrNoSource), errors.Is(err, executor.ErrClosed):
		return http.StatusConflict
	case errors.As(err, &pe) && pe.Kind == events.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func decodeDRM(raw json.RawMessage) ([]DRMDescription, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return nil, nil
	}
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode drm list: %w", err)
		}
		return ParseDRM(s)
	}
	return ParseDRM(text)
}

func writeState(w http.ResponseWriter, st state.State) {
	writeJSON(w, http.StatusOK, map[string]string{"state": st.String()})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
