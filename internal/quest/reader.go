package quest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"quizquest/internal/cli/scheme/colours"
	"quizquest/internal/domain/creation"
	"quizquest/internal/speech/playback"
	"quizquest/internal/speech/tts"
	"quizquest/internal/store"
)

type outcome int

const (
	outcomeStopped outcome = iota
	outcomeQuit
	outcomeFinished
	outcomeHalted
)

// sessionEnd is how a reading session ended. offset is only set when the
// engine halted, since the controller has already rewound by then.
type sessionEnd struct {
	outcome outcome
	offset  int
}

const captionContext = 5

type readOptions struct {
	voice     string
	rate      float64
	fromStart bool
	// observer receives the session's notifications alongside the caption
	observer playback.Observer
}

// session is one creation being read aloud.
type session struct {
	creation *creation.Creation
	hash     string
	ctrl     *playback.Controller
}

func (qq *QuizQuest) controller() *playback.Controller {
	qq.mu.Lock()
	defer qq.mu.Unlock()
	if qq.session == nil {
		return nil
	}
	return qq.session.ctrl
}

// readAloud reads c from its saved position and drives playback from the
// keyboard until the reader stops, quits or reaches the end.
func (qq *QuizQuest) readAloud(c *creation.Creation, opts readOptions) {
	text := c.ReadingText()
	s := &session{creation: c, hash: store.ContentHash(text)}
	ends := make(chan sessionEnd, 1)

	initial := 0
	if qq.store != nil && !opts.fromStart {
		offset, ok, err := qq.store.GetPosition(qq.ctx, qq.cfg.UserID, c.ID, s.hash)
		if err != nil {
			logrus.WithError(err).Warn("Failed to load reading position")
		} else if ok && offset > 0 {
			initial = offset
			colours.Info.Fprintf(qq.out, "🔖 Picking up where you left off: \"%s\"\n", playback.HighlightAt(text, offset))
		}
	}

	rate := opts.rate
	if rate == 0 {
		rate = qq.cfg.TTS.Rate
	}

	s.ctrl = playback.New(qq.Tts, text, playback.Options{
		Voice:            qq.pickVoice(opts.voice),
		Rate:             rate,
		InitialOffset:    initial,
		SpeakDelay:       qq.cfg.SpeakDelay,
		ResumeCheckDelay: qq.cfg.ResumeCheckDelay,
		PauseBudget:      qq.cfg.PauseBudget,
		Observer:         combine(qq.captionObserver(text), endObserver(ends), opts.observer),
		Logger:           logrus.WithFields(logrus.Fields{"component": "playback", "creation": c.ID}),
	})

	qq.mu.Lock()
	qq.session = s
	qq.mu.Unlock()

	colours.Success.Fprintln(qq.out, "🎵 Starting to read... 🎵")
	fmt.Fprintln(qq.out, "💡 'p' pause/resume, 's' stop, 'q' quit and keep your place, '+'/'-' speed, 'v' voice, Enter to play")
	s.ctrl.Play()

	qq.endSession(qq.runControls(s.ctrl, readLines(qq.in), ends))
}

// endObserver reports the first natural end or engine halt on ends.
func endObserver(ends chan<- sessionEnd) playback.Observer {
	report := func(e sessionEnd) {
		select {
		case ends <- e:
		default:
		}
	}
	return playback.Observer{
		OnEnd: func() { report(sessionEnd{outcome: outcomeFinished}) },
		OnHalt: func(offset int, err error) {
			logrus.WithError(err).WithField("offset", offset).Debug("Reading halted")
			report(sessionEnd{outcome: outcomeHalted, offset: offset})
		},
	}
}

// endSession saves or clears the reading position and closes the controller.
// Quitting and engine failures keep the reader's place; stopping and
// finishing clear it.
func (qq *QuizQuest) endSession(end sessionEnd) {
	// a signal and the keyboard loop can end the same session
	qq.closing.Lock()
	defer qq.closing.Unlock()

	qq.mu.Lock()
	s := qq.session
	qq.session = nil
	qq.mu.Unlock()
	if s == nil {
		return
	}

	offset := s.ctrl.Offset()
	if end.outcome == outcomeHalted {
		offset = end.offset
	}
	s.ctrl.Close()
	fmt.Fprintln(qq.out)

	if end.outcome == outcomeHalted {
		colours.Error.Fprintln(qq.out, "❌ The speech engine stopped unexpectedly")
	}
	if qq.store == nil {
		return
	}
	// the session may be ending because qq.ctx was cancelled
	ctx := context.WithoutCancel(qq.ctx)
	userID, id := qq.cfg.UserID, s.creation.ID

	switch end.outcome {
	case outcomeQuit, outcomeHalted:
		if offset <= 0 {
			return
		}
		if err := qq.store.SavePosition(ctx, userID, id, s.hash, offset); err != nil {
			logrus.WithError(err).Warn("Failed to save reading position")
			return
		}
		colours.Info.Fprintln(qq.out, "🔖 Saved your place")
	default:
		if err := qq.store.ClearPosition(ctx, userID, id); err != nil {
			logrus.WithError(err).Warn("Failed to clear reading position")
		}
	}
	if end.outcome == outcomeFinished {
		colours.Success.Fprintln(qq.out, "✅ Finished! 🌟")
	}
}

func (qq *QuizQuest) runControls(ctrl *playback.Controller, lines <-chan string, ends <-chan sessionEnd) sessionEnd {
	for {
		select {
		case <-qq.ctx.Done():
			return sessionEnd{outcome: outcomeQuit}

		case end := <-ends:
			return end

		case line, ok := <-lines:
			if !ok {
				return sessionEnd{outcome: outcomeQuit}
			}
			switch strings.TrimSpace(strings.ToLower(line)) {
			case "p", "pause":
				if ctrl.State() == playback.Playing {
					ctrl.Pause()
				} else {
					qq.noteLongPause(ctrl)
					ctrl.Play()
				}
			case "s", "stop":
				ctrl.Stop()
				return sessionEnd{outcome: outcomeStopped}
			case "q", "quit":
				return sessionEnd{outcome: outcomeQuit}
			case "+":
				qq.stepRate(ctrl, 1)
			case "-":
				qq.stepRate(ctrl, -1)
			case "v", "voice":
				qq.nextVoice(ctrl)
			case "":
				if ctrl.State() != playback.Playing {
					qq.noteLongPause(ctrl)
					ctrl.Play()
				}
			default:
				colours.Info.Fprintln(qq.out, "ℹ️  Use 'p' for pause/resume, 's' to stop, 'q' to quit, '+'/'-' for speed, 'v' for voice")
			}
		}
	}
}

// noteLongPause warns that a long pause may make the engine start over from
// the current word instead of resuming mid-word.
func (qq *QuizQuest) noteLongPause(ctrl *playback.Controller) {
	waited, paused := ctrl.PausedFor()
	if !paused || !ctrl.PauseBudgetExceeded() {
		return
	}
	colours.Info.Fprintf(qq.out, "\n⏳ Paused for %s, picking up from the current word\n", waited.Round(time.Second))
}

// stepRate moves one step along the supported speeds. The new speed applies
// from the next utterance.
func (qq *QuizQuest) stepRate(ctrl *playback.Controller, step int) {
	i := slices.Index(tts.Rates, ctrl.Rate())
	if i < 0 {
		i = slices.Index(tts.Rates, 1.0)
	}
	i = max(0, min(len(tts.Rates)-1, i+step))
	if err := ctrl.SetRate(tts.Rates[i]); err != nil {
		logrus.WithError(err).Debug("Rate change rejected")
		return
	}
	colours.Info.Fprintf(qq.out, "\n🏃 Speed %gx (applies when reading restarts)\n", tts.Rates[i])
}

// nextVoice switches to the next voice for the reading language. Like speed,
// it applies from the next utterance.
func (qq *QuizQuest) nextVoice(ctrl *playback.Controller) {
	voices, err := qq.Tts.GetAvailableVoices()
	if err != nil || len(voices) == 0 {
		logrus.WithError(err).Debug("No voices to switch to")
		return
	}

	var candidates []tts.Voice
	for _, v := range voices {
		if tts.MatchesLanguage(v.Language, qq.cfg.Language) {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		candidates = voices
	}

	current := ctrl.Voice().ID
	i := slices.IndexFunc(candidates, func(v tts.Voice) bool { return v.ID == current })
	next := candidates[(i+1)%len(candidates)]
	ctrl.SetVoice(next)
	colours.Info.Fprintf(qq.out, "\n🎤 Voice %s (applies when reading restarts)\n", next.Name)
}

// readLines feeds lines from r until EOF.
func readLines(r *bufio.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := r.ReadString('\n')
			if line != "" || err == nil {
				lines <- line
			}
			if err != nil {
				if err != io.EOF {
					logrus.WithError(err).Debug("Input closed")
				}
				return
			}
		}
	}()
	return lines
}

func (qq *QuizQuest) captionObserver(text string) playback.Observer {
	return playback.Observer{
		OnPause: func() { colours.Warning.Fprintln(qq.out, "\n⏸️  Paused") },
		OnStop:  func() { colours.Warning.Fprintln(qq.out, "\n⏹️  Stopped") },
		OnHighlightChange: func(h playback.Highlight) {
			if h.Word == "" {
				return
			}
			fmt.Fprint(qq.out, "\r\033[K"+captionLine(text, h))
		},
	}
}

// captionLine shows the current word with a few words of context either side.
func captionLine(text string, h playback.Highlight) string {
	end := h.Offset + len(h.Word)
	if h.Offset < 0 || end > len(text) {
		return ""
	}
	before := strings.Fields(text[:h.Offset])
	if len(before) > captionContext {
		before = before[len(before)-captionContext:]
	}
	after := strings.Fields(text[end:])
	if len(after) > captionContext {
		after = after[:captionContext]
	}

	var b strings.Builder
	if len(before) > 0 {
		b.WriteString(colours.Spoken.Sprint(strings.Join(before, " ")))
		b.WriteString(" ")
	}
	b.WriteString(colours.Current.Sprint(h.Word))
	if len(after) > 0 {
		b.WriteString(" ")
		b.WriteString(strings.Join(after, " "))
	}
	return b.String()
}

// pickVoice resolves a voice by ID or name, falling back to the configured
// language default.
func (qq *QuizQuest) pickVoice(name string) tts.Voice {
	voices, err := qq.Tts.GetAvailableVoices()
	if err != nil {
		logrus.WithError(err).Debug("Voices unavailable, using engine default")
		return tts.Voice{}
	}

	if name == "" {
		name = qq.cfg.TTS.Voice
	}
	if name != "" && name != "default" {
		for _, v := range voices {
			if strings.EqualFold(v.ID, name) || strings.EqualFold(v.Name, name) {
				return v
			}
		}
		colours.Warning.Fprintf(qq.out, "⚠️ Voice '%s' not found, using default\n", name)
	}

	v, _ := tts.SelectVoice(voices, qq.cfg.Language, qq.cfg.Gender)
	return v
}

// combine fans notifications out to every observer in order.
func combine(observers ...playback.Observer) playback.Observer {
	return playback.Observer{
		OnPlay: func() {
			for _, o := range observers {
				if o.OnPlay != nil {
					o.OnPlay()
				}
			}
		},
		OnPause: func() {
			for _, o := range observers {
				if o.OnPause != nil {
					o.OnPause()
				}
			}
		},
		OnStop: func() {
			for _, o := range observers {
				if o.OnStop != nil {
					o.OnStop()
				}
			}
		},
		OnHighlightChange: func(h playback.Highlight) {
			for _, o := range observers {
				if o.OnHighlightChange != nil {
					o.OnHighlightChange(h)
				}
			}
		},
		OnEnd: func() {
			for _, o := range observers {
				if o.OnEnd != nil {
					o.OnEnd()
				}
			}
		},
		OnHalt: func(offset int, err error) {
			for _, o := range observers {
				if o.OnHalt != nil {
					o.OnHalt(offset, err)
				}
			}
		},
	}
}
