package scanner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"qrattend/internal/attendance"
	"qrattend/internal/framesource"
)

// ErrClosed is returned by a session after Close.
var ErrClosed = errors.New("scanner session closed")

// State of a scanner session.
type State string

const (
	StateIdle              State = "idle"
	StatePermissionPending State = "permission_pending"
	StateScanning          State = "scanning"
	StateDecoding          State = "decoding"
	StateSubmitting        State = "submitting"
	StateResult            State = "result"
)

// Mode is the capture mode of the current cycle.
type Mode string

const (
	ModeCamera Mode = "camera"
	ModeUpload Mode = "upload"
)

// Decoder reads a QR payload from a pixel buffer.
type Decoder interface {
	Decode(attempt attendance.ScanAttempt) (string, bool)
}

// Marker submits an identifier to the attendance API.
type Marker interface {
	Mark(ctx context.Context, id attendance.Identifier) attendance.Outcome
}

// SuccessHook is notified after every successful mark.
type SuccessHook interface {
	OnSuccess(ctx context.Context, s attendance.Success) error
}

// Recorder receives pipeline measurements.
type Recorder interface {
	Frame(source string, decoded bool)
	Outcome(outcome string)
	Submission(d time.Duration)
}

// Callbacks are the host-facing results of a scan.
type Callbacks struct {
	OnScanSuccess func(attendance.Success)
	OnScanError   func(error)
}

// Config holds the session timings and upload policy.
type Config struct {
	SampleInterval   time.Duration
	ResultDelay      time.Duration
	NoCodeResetDelay time.Duration
	Upload           framesource.UploadLimits
}

// DefaultConfig samples every 500ms and clears results after 2s, or 3s when
// no usable code was found.
func DefaultConfig() Config {
	return Config{
		SampleInterval:   framesource.DefaultInterval,
		ResultDelay:      2 * time.Second,
		NoCodeResetDelay: 3 * time.Second,
		Upload:           framesource.DefaultUploadLimits(),
	}
}

// Status is a snapshot of the session for the station UI.
type Status struct {
	SessionID      string    `json:"sessionId"`
	State          State     `json:"state"`
	Mode           Mode      `json:"mode,omitempty"`
	LastOutcome    string    `json:"lastOutcome,omitempty"`
	LastIdentifier string    `json:"lastIdentifier,omitempty"`
	LastMessage    string    `json:"lastMessage,omitempty"`
	Scans          int       `json:"scans"`
	Sampling       bool      `json:"sampling"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Session drives one scanner: camera sampling or single image uploads,
// classification, submission and the result display cycle. At most one
// submission is in flight per session.
type Session struct {
	id      string
	cfg     Config
	base    context.Context
	camera  framesource.Camera
	decoder Decoder
	marker  Marker
	hooks   []SuccessHook
	cb      Callbacks
	rec     Recorder
	sampler *framesource.Sampler

	// ctl serialises sampler start/stop; tick never takes it.
	ctl sync.Mutex

	mu       sync.Mutex
	state    State
	mode     Mode
	acquired bool
	closed   bool
	inflight bool
	gen      uint64
	reset    *time.Timer
	status   Status
}

// Option configures a Session.
type Option func(*Session)

// WithCamera enables camera scanning.
func WithCamera(c framesource.Camera) Option { return func(s *Session) { s.camera = c } }

// WithHook adds a post-success hook.
func WithHook(h SuccessHook) Option { return func(s *Session) { s.hooks = append(s.hooks, h) } }

// WithCallbacks sets the host callbacks.
func WithCallbacks(cb Callbacks) Option { return func(s *Session) { s.cb = cb } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option { return func(s *Session) { s.rec = r } }

// New creates an idle session. ctx bounds the sampling loop.
func New(ctx context.Context, decoder Decoder, marker Marker, cfg Config, opts ...Option) *Session {
	def := DefaultConfig()
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = def.SampleInterval
	}
	if cfg.ResultDelay <= 0 {
		cfg.ResultDelay = def.ResultDelay
	}
	if cfg.NoCodeResetDelay <= 0 {
		cfg.NoCodeResetDelay = def.NoCodeResetDelay
	}
	s := &Session{
		id:      uuid.NewString(),
		cfg:     cfg,
		base:    ctx,
		decoder: decoder,
		marker:  marker,
		rec:     nopRecorder{},
		sampler: framesource.NewSampler(cfg.SampleInterval),
		state:   StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.status = Status{SessionID: s.id, State: StateIdle, UpdatedAt: time.Now().UTC()}
	return s
}

// Start begins camera scanning, requesting the device first if needed. A
// pending result display is cut short. Denial leaves the session idle until
// Start is called again.
func (s *Session) Start(ctx context.Context) error {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.camera == nil {
		s.mu.Unlock()
		err := fmt.Errorf("no camera configured: %w", attendance.ErrDeviceUnavailable)
		s.emitError(err)
		return err
	}
	if s.activeLocked() {
		mode := s.mode
		s.mu.Unlock()
		if mode == ModeCamera {
			return nil
		}
		return attendance.ErrBusy
	}
	s.cancelResetLocked()
	s.gen++
	gen := s.gen
	s.mode = ModeCamera

	if !s.acquired {
		s.setStateLocked(StatePermissionPending, "")
		s.mu.Unlock()

		err := s.camera.RequestPermission(ctx)

		s.mu.Lock()
		if s.closed || gen != s.gen {
			s.mu.Unlock()
			if err == nil {
				_ = s.camera.Release()
			}
			return ErrClosed
		}
		if err != nil {
			s.setStateLocked(StateIdle, err.Error())
			s.mu.Unlock()
			s.emitError(err)
			return err
		}
		s.acquired = true
	}
	s.setStateLocked(StateScanning, "")
	s.mu.Unlock()

	s.sampler.Start(s.base, s.tick)
	return nil
}

// Stop ends scanning and releases the camera. A submission in flight is not
// cancelled, but its result is discarded. Sampling after a later Start waits
// until that submission has returned.
func (s *Session) Stop() {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.stopLocked()
}

// Close stops the session for good.
func (s *Session) Close() {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stopLocked()
}

func (s *Session) stopLocked() {
	s.mu.Lock()
	s.gen++
	s.cancelResetLocked()
	release := s.acquired
	s.acquired = false
	s.setStateLocked(StateIdle, "")
	s.mu.Unlock()

	s.sampler.Stop()
	if release {
		s.releaseCamera()
	}
}

// ScanImage runs one upload through the pipeline and returns the outcome.
// Invalid uploads are rejected before any decode is attempted.
func (s *Session) ScanImage(ctx context.Context, u framesource.Upload) (attendance.Outcome, error) {
	s.ctl.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.ctl.Unlock()
		return nil, ErrClosed
	}
	if s.activeLocked() || s.inflight {
		s.mu.Unlock()
		s.ctl.Unlock()
		return nil, attendance.ErrBusy
	}
	s.cancelResetLocked()
	s.gen++
	gen := s.gen
	release := s.acquired
	s.acquired = false
	s.mode = ModeUpload
	s.setStateLocked(StateDecoding, "")
	s.mu.Unlock()
	if release {
		s.sampler.Stop()
		s.releaseCamera()
	}
	s.ctl.Unlock()

	attempt, err := s.cfg.Upload.Attempt(u)
	if err != nil {
		s.mu.Lock()
		if gen == s.gen {
			s.setStateLocked(StateIdle, err.Error())
		}
		s.mu.Unlock()
		s.rec.Outcome("rejected")
		s.emitError(err)
		return nil, err
	}

	text, ok := s.decoder.Decode(attempt)
	s.rec.Frame(attendance.SourceUpload, ok)
	if !ok {
		err := fmt.Errorf("%s: %w", u.Filename, attendance.ErrNoQRCode)
		s.holdResult(gen, err, StateIdle)
		return nil, err
	}

	id, err := attendance.Classify(text)
	if err != nil {
		s.holdResult(gen, err, StateIdle)
		return nil, err
	}

	if !s.beginSubmit(gen) {
		return nil, ErrClosed
	}
	out := s.submit(context.WithoutCancel(ctx), gen, id, ModeUpload)
	return out, attendance.Err(out)
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	st := s.status
	s.mu.Unlock()
	st.Sampling = s.sampler.Running()
	return st
}

// tick runs on the sampler goroutine for each camera frame.
func (s *Session) tick(ctx context.Context) {
	s.mu.Lock()
	// a submission from before the last Stop is still out
	if s.state != StateScanning || s.mode != ModeCamera || s.inflight {
		s.mu.Unlock()
		return
	}
	gen := s.gen
	s.setStateLocked(StateDecoding, "")
	s.mu.Unlock()

	attempt, err := s.camera.Capture(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, attendance.ErrDeviceUnavailable) || errors.Is(err, attendance.ErrPermissionDenied) {
			s.sampler.Pause()
			s.halt(gen, err)
			return
		}
		log.Printf("WARNING: frame capture failed: %v", err)
		s.transition(gen, StateScanning)
		return
	}

	text, ok := s.decoder.Decode(attempt)
	s.rec.Frame(attendance.SourceCamera, ok)
	if !ok {
		s.transition(gen, StateScanning)
		return
	}

	id, err := attendance.Classify(text)
	if err != nil {
		s.sampler.Pause()
		s.holdResult(gen, err, StateScanning)
		return
	}

	// sampling stays paused until the result display is over
	s.sampler.Pause()
	if !s.beginSubmit(gen) {
		return
	}
	go s.submit(context.WithoutCancel(s.base), gen, id, ModeCamera)
}

func (s *Session) submit(ctx context.Context, gen uint64, id attendance.Identifier, mode Mode) attendance.Outcome {
	started := time.Now()
	out := s.marker.Mark(ctx, id)
	s.rec.Submission(time.Since(started))

	next := StateIdle
	if mode == ModeCamera && out.Kind() != attendance.OutcomeSuccess {
		next = StateScanning
	}
	outErr := attendance.Err(out)
	msg := "attendance marked for " + id.Label()
	if outErr != nil {
		msg = outErr.Error()
	}

	s.mu.Lock()
	s.inflight = false
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		log.Printf("scan result for %s discarded: session stopped", id.Label())
		return out
	}
	s.status.Scans++
	s.status.LastOutcome = string(out.Kind())
	s.status.LastIdentifier = id.Label()
	s.setStateLocked(StateResult, msg)
	s.scheduleResetLocked(gen, s.cfg.ResultDelay, next)
	s.mu.Unlock()

	s.rec.Outcome(string(out.Kind()))

	if success, ok := out.(attendance.Success); ok {
		if s.cb.OnScanSuccess != nil {
			s.cb.OnScanSuccess(success)
		}
		for _, h := range s.hooks {
			if err := h.OnSuccess(ctx, success); err != nil {
				log.Printf("WARNING: post-success hook failed for %s: %v", id.Label(), err)
			}
		}
		return out
	}
	s.emitError(outErr)
	return out
}

// holdResult shows a scan problem, then moves to next after the no-code delay.
func (s *Session) holdResult(gen uint64, err error, next State) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.status.LastOutcome = "invalid"
	s.setStateLocked(StateResult, err.Error())
	s.scheduleResetLocked(gen, s.cfg.NoCodeResetDelay, next)
	s.mu.Unlock()

	s.rec.Outcome("invalid")
	s.emitError(err)
}

// halt stops camera scanning after a device failure. The sampler stays
// paused until the next Start or Stop replaces it.
func (s *Session) halt(gen uint64, err error) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	release := s.acquired
	s.acquired = false
	s.setStateLocked(StateIdle, err.Error())
	s.mu.Unlock()

	if release {
		s.releaseCamera()
	}
	s.emitError(err)
}

func (s *Session) scheduleResetLocked(gen uint64, delay time.Duration, next State) {
	s.cancelResetLocked()
	s.reset = time.AfterFunc(delay, func() { s.resetTo(gen, next) })
}

func (s *Session) resetTo(gen uint64, next State) {
	s.ctl.Lock()
	defer s.ctl.Unlock()

	s.mu.Lock()
	if s.closed || gen != s.gen || s.state != StateResult {
		s.mu.Unlock()
		return
	}
	s.reset = nil
	if next == StateScanning && s.acquired {
		s.setStateLocked(StateScanning, "")
		s.mu.Unlock()
		s.sampler.Resume()
		return
	}
	release := s.acquired
	s.acquired = false
	s.setStateLocked(StateIdle, "")
	s.mu.Unlock()

	if release {
		s.sampler.Stop()
		s.releaseCamera()
	}
}

func (s *Session) transition(gen uint64, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen {
		return false
	}
	s.setStateLocked(to, "")
	return true
}

// beginSubmit moves to submitting and claims the single submission slot.
func (s *Session) beginSubmit(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen || s.inflight {
		return false
	}
	s.inflight = true
	s.setStateLocked(StateSubmitting, "")
	return true
}

func (s *Session) activeLocked() bool {
	switch s.state {
	case StatePermissionPending, StateScanning, StateDecoding, StateSubmitting:
		return true
	}
	return false
}

func (s *Session) cancelResetLocked() {
	if s.reset != nil {
		s.reset.Stop()
		s.reset = nil
	}
}

func (s *Session) setStateLocked(st State, msg string) {
	s.state = st
	s.status.State = st
	s.status.Mode = s.mode
	if msg != "" {
		s.status.LastMessage = msg
	}
	s.status.UpdatedAt = time.Now().UTC()
}

func (s *Session) releaseCamera() {
	if err := s.camera.Release(); err != nil {
		log.Printf("WARNING: camera release failed: %v", err)
	}
}

func (s *Session) emitError(err error) {
	if s.cb.OnScanError != nil {
		s.cb.OnScanError(err)
	}
}

type nopRecorder struct{}

func (nopRecorder) Frame(string, bool)       {}
func (nopRecorder) Outcome(string)           {}
func (nopRecorder) Submission(time.Duration) {}
