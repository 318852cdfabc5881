// Package playback reads a text aloud through a tts.Engine while keeping an
// absolute character offset in sync with the engine's word boundaries, so
// the current word can be highlighted and reading can resume where it left
// off after a pause the engine did not survive.
package playback

import (
	"errors"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"quizquest/internal/speech/tts"
)

// State is the lifecycle state of a reading session.
type State int

const (
	Idle State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

const (
	// DefaultSpeakDelay lets a cancel settle before the next speak.
	DefaultSpeakDelay = 50 * time.Millisecond
	// DefaultResumeCheckDelay is how long a native resume gets before it is
	// considered to have failed.
	DefaultResumeCheckDelay = 100 * time.Millisecond
	// DefaultPauseBudget is how long engines are known to keep a paused
	// utterance alive.
	DefaultPauseBudget = 10 * time.Second
)

// Highlight is the word currently being spoken.
type Highlight struct {
	Offset int    `json:"offset"`
	Word   string `json:"word"`
}

// Observer receives notifications in order on a dedicated goroutine. Any
// field may be nil. Observers may call back into the Controller.
type Observer struct {
	OnPlay            func()
	OnPause           func()
	OnStop            func()
	OnHighlightChange func(Highlight)
	// OnEnd fires when the engine finishes the text.
	OnEnd func()
	// OnHalt fires when a fatal engine error stops playback. offset is the
	// position reached before the session was reset.
	OnHalt func(offset int, err error)
}

type Options struct {
	Voice tts.Voice
	Rate  float64
	// InitialOffset is a saved reading position honoured by the first Play
	// only, and only when it lies strictly inside the text.
	InitialOffset    int
	SpeakDelay       time.Duration
	ResumeCheckDelay time.Duration
	PauseBudget      time.Duration
	Observer         Observer
	Logger           *logrus.Entry
}

// Controller owns one reading session. All state changes happen on a single
// event loop goroutine; public methods post to it and wait.
type Controller struct {
	engine   tts.Engine
	text     string
	observer Observer
	log      *logrus.Entry

	speakDelay       time.Duration
	resumeCheckDelay time.Duration
	pauseBudget      time.Duration

	inbox     *mailbox
	notes     *mailbox
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// owned by the event loop
	voice         tts.Voice
	rate          float64
	state         State
	offset        int
	initialOffset int
	hasEverPlayed bool
	word          string
	current       *utterance
	resumeToken   int
	pauseToken    int
	pausedAt      time.Time
	overBudget    bool
	speakTimer    *time.Timer
	resumeTimer   *time.Timer
	pauseTimer    *time.Timer

	mu   sync.RWMutex
	snap snapshot
}

type snapshot struct {
	state      State
	offset     int
	word       string
	voice      tts.Voice
	rate       float64
	pausedAt   time.Time
	overBudget bool
}

// utterance tags engine callbacks with the request that produced them.
type utterance struct {
	req   *tts.Utterance
	start int
}

type command struct {
	fn   func()
	done chan struct{}
}

type speakDue struct{ u *utterance }

type startEvent struct{ u *utterance }

type endEvent struct{ u *utterance }

type errorEvent struct {
	u   *utterance
	err error
}

type boundaryEvent struct {
	u     *utterance
	name  string
	index int
}

type resumeCheck struct{ token int }

type pauseBudgetDue struct{ token int }

// New starts a session over text. Close must be called to release it.
func New(engine tts.Engine, text string, opts Options) *Controller {
	c := &Controller{
		engine:           engine,
		text:             text,
		observer:         opts.Observer,
		log:              opts.Logger,
		speakDelay:       opts.SpeakDelay,
		resumeCheckDelay: opts.ResumeCheckDelay,
		pauseBudget:      opts.PauseBudget,
		inbox:            newMailbox(),
		notes:            newMailbox(),
		quit:             make(chan struct{}),
		done:             make(chan struct{}),
		voice:            opts.Voice,
		rate:             opts.Rate,
	}
	if c.log == nil {
		c.log = logrus.WithField("component", "playback")
	}
	if c.speakDelay <= 0 {
		c.speakDelay = DefaultSpeakDelay
	}
	if c.resumeCheckDelay <= 0 {
		c.resumeCheckDelay = DefaultResumeCheckDelay
	}
	if c.pauseBudget <= 0 {
		c.pauseBudget = DefaultPauseBudget
	}
	if !tts.ValidRate(c.rate) {
		c.rate = 1
	}

	c.initialOffset = snapToRune(text, opts.InitialOffset)
	if c.initialOffset >= 1 && c.initialOffset <= len(text)-1 {
		c.offset = c.initialOffset
	}
	c.publish()

	go c.loop()
	go c.notifyLoop()
	return c
}

// Play starts reading, or resumes a paused session. A no-op on blank text.
func (c *Controller) Play() { c.do(c.play) }

// Pause pauses a playing session. The offset is kept for the next Play.
func (c *Controller) Pause() { c.do(c.pause) }

// Stop cancels speech and rewinds to the beginning. Safe in any state.
func (c *Controller) Stop() { c.do(c.stop) }

// SetVoice selects the voice for the next utterance.
func (c *Controller) SetVoice(v tts.Voice) {
	c.do(func() { c.voice = v })
}

// SetRate selects the speed for the next utterance.
func (c *Controller) SetRate(rate float64) error {
	if !tts.ValidRate(rate) {
		return tts.ErrUnsupportedRate
	}
	c.do(func() { c.rate = rate })
	return nil
}

// Close cancels the engine, clears timers and stops the event loop.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		close(c.quit)
		<-c.done
	})
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.state
}

// Offset is the absolute byte offset of the word being spoken.
func (c *Controller) Offset() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.offset
}

func (c *Controller) CurrentWord() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.word
}

func (c *Controller) Highlight() Highlight {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Highlight{Offset: c.snap.offset, Word: c.snap.word}
}

func (c *Controller) Voice() tts.Voice {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.voice
}

func (c *Controller) Rate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.rate
}

func (c *Controller) Text() string {
	return c.text
}

// PausedFor reports how long the session has been paused.
func (c *Controller) PausedFor() (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap.state != Paused {
		return 0, false
	}
	return time.Since(c.snap.pausedAt), true
}

// PauseBudgetExceeded reports whether the current pause outlasted the
// window engines are known to keep an utterance alive.
func (c *Controller) PauseBudgetExceeded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.overBudget
}

// HighlightAt returns the word starting at offset: everything up to the next
// whitespace, or the rest of the text.
func HighlightAt(text string, offset int) string {
	if offset < 0 || offset >= len(text) {
		return ""
	}
	rest := text[offset:]
	if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
		return rest[:i]
	}
	return rest
}

func (c *Controller) do(fn func()) {
	cmd := command{fn: fn, done: make(chan struct{})}
	c.inbox.post(cmd)
	select {
	case <-cmd.done:
	case <-c.done:
	}
}

func (c *Controller) loop() {
	defer close(c.done)
	for {
		select {
		case <-c.quit:
			c.shutdown()
			return
		case <-c.inbox.signal:
			for _, ev := range c.inbox.drain() {
				c.handle(ev)
			}
			c.publish()
		}
	}
}

// handle is the single state transition function.
func (c *Controller) handle(ev any) {
	switch ev := ev.(type) {
	case command:
		ev.fn()
		c.publish()
		close(ev.done)

	case speakDue:
		if ev.u != c.current || c.state != Playing {
			return
		}
		if err := c.engine.Speak(ev.u.req); err != nil {
			c.log.WithError(err).Warn("Speech engine refused utterance")
			c.halt(err)
		}

	case startEvent:
		if ev.u != c.current {
			return
		}
		c.log.WithField("offset", ev.u.start).Debug("Utterance started")

	case boundaryEvent:
		if ev.u != c.current {
			return
		}
		c.boundary(ev.u, ev.name, ev.index)

	case endEvent:
		if ev.u != c.current {
			return
		}
		c.log.Debug("Reached end of text")
		c.current = nil
		c.reset()
		c.notify(c.observer.OnEnd)

	case errorEvent:
		if ev.u != c.current {
			return
		}
		if errors.Is(ev.err, tts.ErrInterrupted) {
			return
		}
		c.log.WithError(ev.err).Warn("Speech engine error, playback halted")
		c.halt(ev.err)

	case resumeCheck:
		if ev.token != c.resumeToken || c.state != Paused {
			return
		}
		c.verifyResume()

	case pauseBudgetDue:
		if ev.token != c.pauseToken || c.state != Paused {
			return
		}
		c.overBudget = true
		c.log.WithField("budget", c.pauseBudget).Info("Pause outlasted the engine's safe window")
	}
}

func (c *Controller) play() {
	if strings.TrimSpace(c.text) == "" {
		return
	}

	if c.state == Paused {
		c.resume()
		return
	}

	start := 0
	if !c.hasEverPlayed && c.initialOffset >= 1 && c.initialOffset <= len(c.text)-1 {
		start = c.initialOffset
	}
	c.hasEverPlayed = true

	c.speakFrom(start)
	c.notify(c.observer.OnPlay)
}

func (c *Controller) pause() {
	if c.state != Playing {
		return
	}

	if err := c.engine.Pause(); err != nil {
		c.log.WithError(err).Debug("Engine pause failed")
	}
	c.state = Paused
	c.pausedAt = time.Now()
	c.overBudget = false

	c.pauseToken++
	token := c.pauseToken
	stopTimer(&c.pauseTimer)
	c.pauseTimer = time.AfterFunc(c.pauseBudget, func() {
		c.inbox.post(pauseBudgetDue{token: token})
	})

	c.notify(c.observer.OnPause)
}

func (c *Controller) stop() {
	c.current = nil
	if err := c.engine.Cancel(); err != nil {
		c.log.WithError(err).Debug("Engine cancel failed")
	}
	c.reset()
	c.notify(c.observer.OnStop)
}

// resume tries the engine's own resume and schedules a check that it
// actually started speaking again.
func (c *Controller) resume() {
	if err := c.engine.Resume(); err != nil {
		c.log.WithError(err).Debug("Engine resume failed")
	}

	c.resumeToken++
	token := c.resumeToken
	stopTimer(&c.resumeTimer)
	c.resumeTimer = time.AfterFunc(c.resumeCheckDelay, func() {
		c.inbox.post(resumeCheck{token: token})
	})
}

func (c *Controller) verifyResume() {
	stopTimer(&c.pauseTimer)
	c.overBudget = false

	if c.engine.IsSpeaking() {
		c.state = Playing
	} else {
		c.log.WithField("offset", c.offset).Info("Resume did not take, restarting from offset")
		c.speakFrom(c.offset)
	}
	c.notify(c.observer.OnPlay)
}

// speakFrom cancels whatever is active and schedules a fresh utterance over
// text[start:].
func (c *Controller) speakFrom(start int) {
	c.current = nil
	if err := c.engine.Cancel(); err != nil {
		c.log.WithError(err).Debug("Engine cancel failed")
	}
	stopTimer(&c.pauseTimer)
	stopTimer(&c.resumeTimer)

	start = snapToRune(c.text, start)
	u := &utterance{start: start}
	u.req = &tts.Utterance{
		Text:  c.text[start:],
		Voice: c.voice,
		Rate:  c.rate,
		OnStart: func() {
			c.inbox.post(startEvent{u: u})
		},
		OnEnd: func() {
			c.inbox.post(endEvent{u: u})
		},
		OnError: func(err error) {
			c.inbox.post(errorEvent{u: u, err: err})
		},
		OnBoundary: func(name string, index int) {
			c.inbox.post(boundaryEvent{u: u, name: name, index: index})
		},
	}

	c.current = u
	c.offset = start
	c.state = Playing

	stopTimer(&c.speakTimer)
	c.speakTimer = time.AfterFunc(c.speakDelay, func() {
		c.inbox.post(speakDue{u: u})
	})
}

func (c *Controller) boundary(u *utterance, name string, index int) {
	if name != "" && name != tts.BoundaryWord {
		return
	}

	abs := u.start + index
	if abs > len(c.text) {
		abs = len(c.text)
	}
	if abs < c.offset {
		return
	}

	c.offset = abs
	c.word = HighlightAt(c.text, abs)
	c.notifyHighlight()
}

// halt ends playback after a fatal engine error. No retry is attempted.
func (c *Controller) halt(err error) {
	offset := c.offset
	c.current = nil
	c.reset()
	if c.observer.OnHalt != nil {
		c.notes.post(func() { c.observer.OnHalt(offset, err) })
	}
}

// reset returns the session to Idle at offset 0.
func (c *Controller) reset() {
	stopTimer(&c.speakTimer)
	stopTimer(&c.resumeTimer)
	stopTimer(&c.pauseTimer)
	c.resumeToken++
	c.pauseToken++
	c.overBudget = false

	c.state = Idle
	c.offset = 0
	hadWord := c.word != ""
	c.word = ""
	if hadWord {
		c.notifyHighlight()
	}
}

func (c *Controller) shutdown() {
	c.current = nil
	if err := c.engine.Cancel(); err != nil {
		c.log.WithError(err).Debug("Engine cancel failed")
	}
	stopTimer(&c.speakTimer)
	stopTimer(&c.resumeTimer)
	stopTimer(&c.pauseTimer)
	c.state = Idle
	c.publish()
}

func (c *Controller) publish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = snapshot{
		state:      c.state,
		offset:     c.offset,
		word:       c.word,
		voice:      c.voice,
		rate:       c.rate,
		pausedAt:   c.pausedAt,
		overBudget: c.overBudget,
	}
}

func (c *Controller) notify(fn func()) {
	if fn != nil {
		c.notes.post(fn)
	}
}

func (c *Controller) notifyHighlight() {
	if c.observer.OnHighlightChange == nil {
		return
	}
	h := Highlight{Offset: c.offset, Word: c.word}
	c.notes.post(func() { c.observer.OnHighlightChange(h) })
}

func (c *Controller) notifyLoop() {
	for {
		select {
		case <-c.notes.signal:
			for _, fn := range c.notes.drain() {
				fn.(func())()
			}
		case <-c.done:
			for _, fn := range c.notes.drain() {
				fn.(func())()
			}
			return
		}
	}
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// snapToRune clamps offset into text and moves it back to a rune start.
func snapToRune(text string, offset int) int {
	if offset <= 0 {
		return 0
	}
	if offset >= len(text) {
		return len(text)
	}
	for offset > 0 && !utf8.RuneStart(text[offset]) {
		offset--
	}
	return offset
}
