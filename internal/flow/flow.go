// Package flow drives a guided conversation: question, capture, confirm,
// follow-up, checkpoint, review, save. All state lives behind a single
// event loop; user commands and capture callbacks are serialized onto it so
// no field needs per-access locking beyond the read-side snapshot.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"github.com/davidkral/storybooth/internal/capture"
	"github.com/davidkral/storybooth/internal/eventlog"
	"github.com/davidkral/storybooth/internal/followup"
	"github.com/davidkral/storybooth/internal/ledger"
	"github.com/davidkral/storybooth/internal/speech"
	"github.com/davidkral/storybooth/internal/store"
	"github.com/davidkral/storybooth/internal/stt"
)

// State is the conversation flow state. Exactly one is active at a time and
// the event loop is the only writer.
type State string

const (
	StateRecording          State = "recording"
	StateConfirming         State = "confirming"
	StateGeneratingFollowUp State = "generating_follow_up"
	StateCheckpoint         State = "checkpoint"
	StateReview             State = "review"
	StateSaving             State = "saving"
	StateComplete           State = "complete"
	StateClosed             State = "closed"
)

// transitions lists the legal moves out of each state. Anything else is a
// programming error and is dropped with a report rather than applied.
var transitions = map[State][]State{
	StateRecording:          {StateConfirming, StateReview, StateClosed},
	StateConfirming:         {StateRecording, StateGeneratingFollowUp, StateCheckpoint, StateReview, StateClosed},
	StateGeneratingFollowUp: {StateRecording, StateReview, StateClosed},
	StateCheckpoint:         {StateGeneratingFollowUp, StateReview, StateClosed},
	StateReview:             {StateSaving, StateClosed},
	StateSaving:             {StateComplete, StateReview},
	StateComplete:           {},
	StateClosed:             {},
}

var (
	// ErrBusy indicates the command queue is full. The caller should retry
	// after the in-flight operation settles.
	ErrBusy = errors.New("conversation is busy")

	// ErrConversationOver indicates the conversation reached a terminal
	// state and accepts no further commands.
	ErrConversationOver = errors.New("conversation is over")
)

// Recorder is the capture controller surface the flow drives. Implemented by
// *capture.Controller.
type Recorder interface {
	Begin(ctx context.Context, req capture.BeginRequest) (*capture.Session, error)
	Stop(ctx context.Context, s *capture.Session) (capture.Result, error)
	Close() error
}

// Prober reports whether live transcription is available. Implemented by
// *stt.Probe.
type Prober interface {
	Check(ctx context.Context) (stt.Capability, error)
}

// Transcriber is the batch transcription surface. Implemented by
// *stt.BatchClient.
type Transcriber interface {
	Transcribe(ctx context.Context, recording []byte, kind string) (stt.BatchResult, error)
}

// SinkDialer opens a live streaming sink for a capture session.
type SinkDialer func(ctx context.Context, cap stt.Capability) (capture.FrameSink, error)

// Deps are the collaborators a conversation needs. Recorder, Batch, FollowUp
// and Saver are required; the rest degrade gracefully when nil.
type Deps struct {
	Recorder Recorder
	Probe    Prober     // nil selects batch for the whole conversation
	DialSink SinkDialer // nil selects batch even when the probe allows live
	Batch    Transcriber
	FollowUp followup.Generator
	Speaker  speech.Speaker   // nil disables question playback
	Saver    store.Saver
	Events   *eventlog.Logger // nil-safe
}

// Config tunes one conversation. Zero values select the defaults.
type Config struct {
	OriginalQuestion   string
	QuestionType       string
	CheckpointInterval int           // confirmed exchanges between checkpoints (default 5)
	BatchTimeout       time.Duration // batch transcription round trip (default 20s)
	FollowUpTimeout    time.Duration // follow-up generation round trip (default 20s)
	SaveTimeout        time.Duration // save round trip (default 30s)
	CompleteDelay      time.Duration // pause before the completion callback (default 1.5s)
	OnComplete         func(Outcome) // invoked after CompleteDelay on success
}

func (c Config) withDefaults() Config {
	if c.CheckpointInterval == 0 {
		c.CheckpointInterval = 5
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = 20 * time.Second
	}
	if c.FollowUpTimeout == 0 {
		c.FollowUpTimeout = 20 * time.Second
	}
	if c.SaveTimeout == 0 {
		c.SaveTimeout = 30 * time.Second
	}
	if c.CompleteDelay == 0 {
		c.CompleteDelay = 1500 * time.Millisecond
	}
	return c
}

// Outcome summarizes how the conversation ended.
type Outcome struct {
	Saved         bool
	SavedID       string
	AwardedCredit int
	Exchanges     int
}

type cmdKind int

const (
	cmdStartCapture cmdKind = iota
	cmdStopCapture
	cmdSubmitText
	cmdEdit
	cmdConfirm
	cmdReRecord
	cmdSkip
	cmdCancel
	cmdKeepGoing
	cmdFinish
	cmdSetSummary
	cmdSave
	cmdDiscard

	evCaptureStarted
	evCaptureEnded
)

type event struct {
	kind        cmdKind
	text        string
	mode        capture.Mode
	audience    string
	attachments []string

	seq   int
	begin chan beginOutcome
}

// beginOutcome is what the async capture begin resolves to. It travels on a
// buffered per-turn channel so whoever owns the turn at resolution time (the
// event loop, or the reaper spawned by teardown) can release it.
type beginOutcome struct {
	session *capture.Session
	sink    capture.FrameSink
	err     error
}

// Conversation is one guided conversation from first question to save or
// close. Create with New, drive with Run, and post user commands through the
// exported methods from any goroutine.
type Conversation struct {
	ID string

	cfg    Config
	deps   Deps
	logger *log.Logger
	led    *ledger.Ledger

	events   chan event
	done     chan struct{}
	doneOnce sync.Once

	// read-side snapshot, guarded by mu; the event loop is the only writer
	mu        sync.Mutex
	state     State
	question  string
	pending   string
	notice    string
	capturing bool
	sessRef   *capture.Session

	// loop-private fields below, touched only by Run
	runCtx       context.Context
	saveRef      string
	summaryEdit  string
	spoken       bool
	turnMode     capture.Mode
	turnAudioRef string

	turnSeq       int
	starting      bool
	startAborted  bool
	session       *capture.Session
	pendingBegin  chan beginOutcome
	captureCancel context.CancelFunc

	probeOnce sync.Once
	liveCap   stt.Capability

	outcome Outcome
}

// New creates a conversation around the first question.
func New(cfg Config, deps Deps, logger *log.Logger) (*Conversation, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.OriginalQuestion) == "" {
		return nil, errors.New("flow: original question is required")
	}
	if cfg.CheckpointInterval < 0 {
		return nil, fmt.Errorf("flow: checkpoint interval must be positive, got %d", cfg.CheckpointInterval)
	}
	if deps.Recorder == nil || deps.Batch == nil || deps.FollowUp == nil || deps.Saver == nil {
		return nil, errors.New("flow: recorder, batch, follow-up and saver are required")
	}
	return &Conversation{
		ID:       uuid.NewString(),
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		led:      ledger.New(),
		events:   make(chan event, 16),
		done:     make(chan struct{}),
		state:    StateRecording,
		question: cfg.OriginalQuestion,
		saveRef:  uuid.NewString(),
	}, nil
}

// State returns the current flow state.
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentQuestion returns the question the open turn is answering.
func (c *Conversation) CurrentQuestion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.question
}

// PendingTranscript returns the unconfirmed transcript of the open turn.
func (c *Conversation) PendingTranscript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Capturing reports whether a capture session is currently recording.
func (c *Conversation) Capturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capturing
}

// LiveTranscript returns the partial transcript of the turn being recorded,
// or "" when nothing is capturing or the session runs in batch mode.
func (c *Conversation) LiveTranscript() string {
	c.mu.Lock()
	sess := c.sessRef
	c.mu.Unlock()
	if sess == nil {
		return ""
	}
	return sess.LiveTranscript()
}

// Notice returns the latest validation or error message for display, or "".
func (c *Conversation) Notice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notice
}

// Exchanges returns a snapshot of the confirmed exchanges so far.
func (c *Conversation) Exchanges() []ledger.Exchange {
	return c.led.Snapshot()
}

// Summary returns the review summary: the user's edit if they made one,
// otherwise the ledger responses joined in order.
func (c *Conversation) Summary() string {
	c.mu.Lock()
	edit := c.summaryEdit
	c.mu.Unlock()
	if edit != "" {
		return edit
	}
	return c.led.Summary()
}

// StartCapture begins a recorded turn in the given media mode.
func (c *Conversation) StartCapture(mode capture.Mode) error {
	return c.post(event{kind: cmdStartCapture, mode: mode})
}

// StopCapture ends the open recording; during the countdown it cancels the
// turn before any hardware is touched.
func (c *Conversation) StopCapture() error {
	return c.post(event{kind: cmdStopCapture})
}

// SubmitText answers the current question by typing instead of recording.
func (c *Conversation) SubmitText(text string) error {
	return c.post(event{kind: cmdSubmitText, text: text})
}

// Edit replaces the pending transcript while confirming.
func (c *Conversation) Edit(text string) error {
	return c.post(event{kind: cmdEdit, text: text})
}

// Confirm accepts the pending transcript and appends it to the ledger.
func (c *Conversation) Confirm() error {
	return c.post(event{kind: cmdConfirm})
}

// ReRecord discards the pending turn and records the same question again.
func (c *Conversation) ReRecord() error {
	return c.post(event{kind: cmdReRecord})
}

// Skip abandons the current question without answering it.
func (c *Conversation) Skip() error {
	return c.post(event{kind: cmdSkip})
}

// Cancel is the escape key: while confirming it discards the pending turn;
// elsewhere it closes an empty conversation or routes a non-empty one to
// review so captured work is never lost.
func (c *Conversation) Cancel() error {
	return c.post(event{kind: cmdCancel})
}

// KeepGoing continues past a checkpoint into follow-up generation.
func (c *Conversation) KeepGoing() error {
	return c.post(event{kind: cmdKeepGoing})
}

// Finish leaves a checkpoint for review.
func (c *Conversation) Finish() error {
	return c.post(event{kind: cmdFinish})
}

// SetSummary overrides the generated summary on the review screen.
func (c *Conversation) SetSummary(text string) error {
	return c.post(event{kind: cmdSetSummary, text: text})
}

// Save persists the conversation with the chosen audience and attachments.
func (c *Conversation) Save(audience string, attachments []string) error {
	return c.post(event{kind: cmdSave, audience: audience, attachments: attachments})
}

// Discard abandons the conversation from the review screen.
func (c *Conversation) Discard() error {
	return c.post(event{kind: cmdDiscard})
}

func (c *Conversation) post(ev event) error {
	select {
	case <-c.done:
		return ErrConversationOver
	default:
	}
	select {
	case c.events <- ev:
		return nil
	default:
		return ErrBusy
	}
}

// Run drives the conversation to a terminal state and returns the outcome.
// It must be called exactly once.
func (c *Conversation) Run(ctx context.Context) Outcome {
	c.runCtx = ctx
	c.deps.Events.LogAsync(c.ID, eventlog.EventConversationStarted, map[string]any{
		"question": c.cfg.OriginalQuestion,
	})
	c.speakQuestion()

	defer c.doneOnce.Do(func() { close(c.done) })

	for {
		select {
		case <-ctx.Done():
			c.teardownCapture()
			c.setState(StateClosed)
			c.outcome.Exchanges = c.led.Len()
			return c.outcome
		case ev := <-c.events:
			if c.handle(ev) {
				c.outcome.Exchanges = c.led.Len()
				return c.outcome
			}
		}
	}
}

// handle processes one event to completion. Returns true when the
// conversation reached a terminal state.
func (c *Conversation) handle(ev event) bool {
	switch ev.kind {
	case cmdStartCapture:
		c.handleStartCapture(ev.mode)
	case evCaptureStarted:
		c.handleCaptureStarted(ev)
	case cmdStopCapture:
		return c.handleStopCapture()
	case evCaptureEnded:
		if ev.seq != c.turnSeq || c.session == nil {
			return false
		}
		res, _ := c.deps.Recorder.Stop(c.runCtx, c.session)
		c.clearCaptureState()
		return c.handleCaptureResult(res)
	case cmdSubmitText:
		c.handleSubmitText(ev.text)
	case cmdEdit:
		if c.State() == StateConfirming {
			c.setPending(ev.text)
		}
	case cmdConfirm:
		return c.handleConfirm()
	case cmdReRecord:
		if c.State() == StateConfirming {
			c.deps.Events.LogAsync(c.ID, eventlog.EventTurnDiscarded, nil)
			c.discardTurn()
			c.transition(StateRecording)
		}
	case cmdSkip:
		return c.handleSkip()
	case cmdCancel:
		return c.handleCancel()
	case cmdKeepGoing:
		if c.State() == StateCheckpoint {
			return c.generateFollowUp()
		}
	case cmdFinish:
		if c.State() == StateCheckpoint {
			return c.enterReview()
		}
	case cmdSetSummary:
		if c.State() == StateReview {
			c.mu.Lock()
			c.summaryEdit = strings.TrimSpace(ev.text)
			c.mu.Unlock()
		}
	case cmdSave:
		return c.handleSave(ev.audience, ev.attachments)
	case cmdDiscard:
		if c.State() == StateReview {
			return c.close()
		}
	}
	return false
}

func (c *Conversation) handleStartCapture(mode capture.Mode) {
	if c.State() != StateRecording {
		return
	}
	if c.starting || c.session != nil {
		// Guard condition; the capture controller would reject the second
		// session anyway.
		c.logger.Printf("flow: start ignored, capture already active (conversation %s)", c.ID)
		return
	}

	c.setNotice("")
	c.turnMode = mode
	c.turnSeq++
	c.starting = true
	c.startAborted = false

	capCtx, cancel := context.WithCancel(c.runCtx)
	c.captureCancel = cancel

	seq := c.turnSeq
	resCh := make(chan beginOutcome, 1)
	c.pendingBegin = resCh

	go func() {
		var sink capture.FrameSink
		transcription := capture.TranscriptionBatch
		// The probe and dial both carry network round trips, so they run
		// here rather than on the event loop.
		if liveCap, live := c.liveCapability(capCtx); live {
			s, err := c.deps.DialSink(capCtx, liveCap)
			if err != nil {
				c.logger.Printf("flow: live dial failed, using batch: %v", err)
			} else {
				sink = s
				transcription = capture.TranscriptionLive
			}
		}
		sess, err := c.deps.Recorder.Begin(capCtx, capture.BeginRequest{
			Mode:          mode,
			Transcription: transcription,
			Sink:          sink,
		})
		resCh <- beginOutcome{session: sess, sink: sink, err: err}
		select {
		case c.events <- event{kind: evCaptureStarted, seq: seq, begin: resCh}:
		case <-c.done:
		}
	}()
}

func (c *Conversation) handleCaptureStarted(ev event) {
	if ev.seq != c.turnSeq {
		// A torn-down turn's begin finally resolved; its reaper owns the
		// outcome, nothing to do here.
		return
	}

	var out beginOutcome
	select {
	case out = <-ev.begin:
	default:
		return
	}

	c.starting = false
	c.pendingBegin = nil

	if out.err != nil {
		if out.sink != nil {
			_ = out.sink.Close()
		}
		switch {
		case errors.Is(out.err, context.Canceled):
			// Countdown cancelled before hardware activation.
		case errors.Is(out.err, capture.ErrHardwareUnavailable):
			c.setNotice("Microphone unavailable. You can type your answer instead.")
			c.logger.Printf("flow: capture hardware unavailable (conversation %s)", c.ID)
		default:
			c.setNotice("Recording could not start. You can type your answer instead.")
			sentry.CaptureException(out.err)
			c.logger.Printf("flow: capture begin failed: %v", out.err)
		}
		return
	}

	if c.startAborted {
		_, _ = c.deps.Recorder.Stop(context.Background(), out.session)
		return
	}

	c.session = out.session
	c.mu.Lock()
	c.capturing = true
	c.sessRef = out.session
	c.mu.Unlock()
	c.deps.Events.LogAsync(c.ID, eventlog.EventCaptureStarted, map[string]any{
		"mode":          string(c.turnMode),
		"transcription": string(out.session.Transcription),
	})

	// The ceiling stops the session on its own; watch for it so the turn
	// still reaches confirmation without a user stop.
	seq := ev.seq
	sess := out.session
	go func() {
		select {
		case <-sess.Done():
			select {
			case c.events <- event{kind: evCaptureEnded, seq: seq}:
			case <-c.done:
			}
		case <-c.done:
		}
	}()
}

func (c *Conversation) handleStopCapture() bool {
	if c.State() != StateRecording {
		return false
	}
	if c.starting {
		// Still counting down: cancel before the hardware is touched.
		c.startAborted = true
		if c.captureCancel != nil {
			c.captureCancel()
		}
		return false
	}
	if c.session == nil {
		return false
	}
	res, _ := c.deps.Recorder.Stop(c.runCtx, c.session)
	c.clearCaptureState()
	return c.handleCaptureResult(res)
}

// handleCaptureResult turns a stopped session into a pending transcript. The
// turn always reaches confirmation unless the transcript was genuinely empty.
func (c *Conversation) handleCaptureResult(res capture.Result) bool {
	c.deps.Events.LogAsync(c.ID, eventlog.EventCaptureStopped, map[string]any{
		"duration_seconds": res.DurationSeconds,
		"downgraded":       res.Downgraded,
	})
	if res.Downgraded {
		c.deps.Events.LogAsync(c.ID, eventlog.EventStreamDowngraded, nil)
	}

	var text string
	if res.Transcript != nil && !res.Downgraded {
		text = *res.Transcript
	} else {
		bctx, cancel := context.WithTimeout(c.runCtx, c.cfg.BatchTimeout)
		br, err := c.deps.Batch.Transcribe(bctx, res.Raw, string(c.turnMode))
		cancel()
		if err != nil {
			c.logger.Printf("flow: batch transcription failed: %v", err)
			c.deps.Events.LogAsync(c.ID, eventlog.EventTranscriptFailed, nil)
			c.setNotice("We couldn't transcribe that. Type your answer instead.")
			c.setPending("")
			c.transition(StateConfirming)
			return false
		}
		text = br.Transcription
		c.turnAudioRef = br.AudioURL
	}

	if strings.TrimSpace(text) == "" {
		c.setNotice("We didn't catch anything. Record again or type your answer.")
		return false
	}

	c.setNotice("")
	c.setPending(text)
	c.deps.Events.LogAsync(c.ID, eventlog.EventTranscriptPending, map[string]any{
		"length": len(text),
	})
	c.transition(StateConfirming)
	return false
}

func (c *Conversation) handleSubmitText(text string) {
	if c.State() != StateRecording || c.starting || c.session != nil {
		return
	}
	if strings.TrimSpace(text) == "" {
		c.setNotice("Please enter an answer first.")
		return
	}
	c.setNotice("")
	c.setPending(text)
	c.transition(StateConfirming)
}

func (c *Conversation) handleConfirm() bool {
	if c.State() != StateConfirming {
		return false
	}
	c.mu.Lock()
	text := strings.TrimSpace(c.pending)
	c.mu.Unlock()
	if text == "" {
		c.setNotice("Your answer is empty. Type something or re-record.")
		return false
	}

	c.led.Append(ledger.Exchange{
		Question:    c.CurrentQuestion(),
		Response:    text,
		AudioRef:    c.turnAudioRef,
		ConfirmedAt: time.Now().UTC(),
	})
	c.deps.Events.LogAsync(c.ID, eventlog.EventExchangeConfirmed, map[string]any{
		"position": c.led.Len(),
	})
	c.discardTurn()

	if c.led.Len()%c.cfg.CheckpointInterval == 0 {
		c.deps.Events.LogAsync(c.ID, eventlog.EventCheckpointOffered, map[string]any{
			"exchanges": c.led.Len(),
		})
		c.transition(StateCheckpoint)
		return false
	}
	return c.generateFollowUp()
}

// generateFollowUp asks the collaborator for the next question. Any failure
// or an explicit should-end routes to review; the user is never blocked on
// follow-up generation.
func (c *Conversation) generateFollowUp() bool {
	c.transition(StateGeneratingFollowUp)

	snapshot := c.led.Snapshot()
	pairs := make([]followup.ExchangePair, len(snapshot))
	for i, e := range snapshot {
		pairs[i] = followup.ExchangePair{Question: e.Question, Response: e.Response}
	}

	fctx, cancel := context.WithTimeout(c.runCtx, c.cfg.FollowUpTimeout)
	decision, err := c.deps.FollowUp.NextQuestion(fctx, followup.Request{
		OriginalQuestion: c.cfg.OriginalQuestion,
		QuestionType:     c.cfg.QuestionType,
		Exchanges:        pairs,
	})
	cancel()

	if err != nil {
		c.logger.Printf("flow: follow-up generation failed, moving to review: %v", err)
		sentry.CaptureException(err)
		c.deps.Events.LogAsync(c.ID, eventlog.EventFollowUpExhausted, map[string]any{"reason": "error"})
		return c.enterReview()
	}
	if decision.ShouldEnd {
		c.deps.Events.LogAsync(c.ID, eventlog.EventFollowUpExhausted, map[string]any{"reason": "should_end"})
		return c.enterReview()
	}

	c.mu.Lock()
	c.question = decision.Question
	c.mu.Unlock()
	c.spoken = false
	c.deps.Events.LogAsync(c.ID, eventlog.EventFollowUpGenerated, map[string]any{
		"question": decision.Question,
	})
	c.transition(StateRecording)
	c.speakQuestion()
	return false
}

func (c *Conversation) handleSkip() bool {
	if c.State() != StateRecording {
		return false
	}
	c.teardownCapture()
	if c.led.Len() == 0 {
		return c.close()
	}
	return c.enterReview()
}

func (c *Conversation) handleCancel() bool {
	switch c.State() {
	case StateConfirming:
		// Discards the pending turn only; the ledger and the current
		// question survive.
		c.deps.Events.LogAsync(c.ID, eventlog.EventTurnDiscarded, nil)
		c.discardTurn()
		c.transition(StateRecording)
		return false
	case StateComplete, StateClosed, StateSaving:
		return false
	default:
		c.teardownCapture()
		if c.led.Len() == 0 {
			return c.close()
		}
		return c.enterReview()
	}
}

func (c *Conversation) handleSave(audience string, attachments []string) bool {
	if c.State() != StateReview {
		return false
	}
	c.transition(StateSaving)

	sctx, cancel := context.WithTimeout(c.runCtx, c.cfg.SaveTimeout)
	res, err := c.deps.Saver.SaveConversation(sctx, store.SaveRequest{
		ClientRef:        c.saveRef,
		OriginalQuestion: c.cfg.OriginalQuestion,
		Summary:          c.Summary(),
		Audience:         audience,
		Attachments:      attachments,
		Exchanges:        c.led.Snapshot(),
	})
	cancel()

	if err != nil {
		c.logger.Printf("flow: save failed: %v", err)
		sentry.CaptureException(err)
		c.deps.Events.LogAsync(c.ID, eventlog.EventSaveFailed, nil)
		c.setNotice("Saving failed. Your story is still here, try again.")
		c.transition(StateReview)
		return false
	}

	c.outcome = Outcome{
		Saved:         true,
		SavedID:       res.SavedID,
		AwardedCredit: res.AwardedCredit,
	}
	c.deps.Events.LogAsync(c.ID, eventlog.EventConversationSaved, map[string]any{
		"saved_id": res.SavedID,
		"credit":   res.AwardedCredit,
	})
	c.transition(StateComplete)

	if c.cfg.OnComplete != nil {
		outcome := c.outcome
		outcome.Exchanges = c.led.Len()
		delay := c.cfg.CompleteDelay
		cb := c.cfg.OnComplete
		go func() {
			time.Sleep(delay)
			cb(outcome)
		}()
	}
	return true
}

func (c *Conversation) enterReview() bool {
	c.deps.Events.LogAsync(c.ID, eventlog.EventReviewEntered, map[string]any{
		"exchanges": c.led.Len(),
	})
	c.setNotice("")
	c.transition(StateReview)
	return false
}

func (c *Conversation) close() bool {
	c.deps.Events.LogAsync(c.ID, eventlog.EventConversationClosed, map[string]any{
		"exchanges": c.led.Len(),
	})
	c.transition(StateClosed)
	return true
}

// liveCapability probes once per conversation. A failed or negative probe
// permanently selects batch. Safe to call from concurrent begin goroutines.
func (c *Conversation) liveCapability(ctx context.Context) (stt.Capability, bool) {
	if c.deps.Probe == nil || c.deps.DialSink == nil {
		return stt.Capability{}, false
	}
	c.probeOnce.Do(func() {
		cap, err := c.deps.Probe.Check(ctx)
		if err != nil {
			c.logger.Printf("flow: live capability probe failed, using batch: %v", err)
			return
		}
		c.liveCap = cap
	})
	return c.liveCap, c.liveCap.Available
}

// speakQuestion plays the current question at most once.
func (c *Conversation) speakQuestion() {
	if c.deps.Speaker == nil || c.spoken {
		return
	}
	c.spoken = true
	c.deps.Speaker.Speak(c.runCtx, c.CurrentQuestion())
}

// teardownCapture cancels a starting turn and stops an open session. Safe to
// call redundantly. An in-flight begin is handed to a reaper goroutine that
// releases whatever it resolves to, so the hardware slot is freed even when
// the conversation terminates (and Run returns) before the begin settles.
func (c *Conversation) teardownCapture() {
	if c.captureCancel != nil {
		c.captureCancel()
	}
	if c.starting && c.pendingBegin != nil {
		resCh := c.pendingBegin
		rec := c.deps.Recorder
		logger := c.logger
		go func() {
			out := <-resCh
			if out.session != nil {
				logger.Printf("flow: releasing capture session from a torn-down turn")
				_, _ = rec.Stop(context.Background(), out.session)
			} else if out.sink != nil {
				_ = out.sink.Close()
			}
		}()
	}
	if c.session != nil {
		_, _ = c.deps.Recorder.Stop(context.Background(), c.session)
	}
	c.clearCaptureState()
}

func (c *Conversation) clearCaptureState() {
	if c.captureCancel != nil {
		c.captureCancel()
	}
	c.session = nil
	c.pendingBegin = nil
	c.captureCancel = nil
	c.starting = false
	c.turnSeq++
	c.mu.Lock()
	c.capturing = false
	c.sessRef = nil
	c.mu.Unlock()
}

func (c *Conversation) discardTurn() {
	c.turnAudioRef = ""
	c.setPending("")
}

func (c *Conversation) setPending(text string) {
	c.mu.Lock()
	c.pending = text
	c.mu.Unlock()
}

func (c *Conversation) setNotice(msg string) {
	c.mu.Lock()
	c.notice = msg
	c.mu.Unlock()
}

func (c *Conversation) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// transition applies a state change after validating it against the
// transition table. An illegal move is dropped and reported.
func (c *Conversation) transition(to State) {
	from := c.State()
	if from == to {
		return
	}
	legal := false
	for _, t := range transitions[from] {
		if t == to {
			legal = true
			break
		}
	}
	if !legal {
		err := fmt.Errorf("flow: illegal transition %s -> %s", from, to)
		c.logger.Print(err)
		sentry.CaptureException(err)
		return
	}
	c.setState(to)
}
