package playback

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizquest/internal/speech/tts"
)

const (
	waitFor = time.Second
	tick    = time.Millisecond
)

type counts struct {
	play, pause, stop, highlight atomic.Int32
	end, halt, haltedAt          atomic.Int32
}

func newTestController(t *testing.T, text string, opts Options) (*Controller, *tts.MockTTSEngine, *counts) {
	t.Helper()

	engine := tts.NewMockTTSEngine(tts.Config{})
	n := &counts{}
	if opts.SpeakDelay == 0 {
		opts.SpeakDelay = time.Millisecond
	}
	if opts.ResumeCheckDelay == 0 {
		opts.ResumeCheckDelay = 5 * time.Millisecond
	}
	opts.Observer = Observer{
		OnPlay:            func() { n.play.Add(1) },
		OnPause:           func() { n.pause.Add(1) },
		OnStop:            func() { n.stop.Add(1) },
		OnHighlightChange: func(Highlight) { n.highlight.Add(1) },
		OnEnd:             func() { n.end.Add(1) },
		OnHalt: func(offset int, _ error) {
			n.haltedAt.Store(int32(offset))
			n.halt.Add(1)
		},
	}

	c := New(engine, text, opts)
	t.Cleanup(c.Close)
	return c, engine, n
}

// flush waits until every event posted so far has been handled.
func flush(c *Controller) {
	c.do(func() {})
}

func waitSpoken(t *testing.T, engine *tts.MockTTSEngine, n int) []*tts.Utterance {
	t.Helper()
	require.Eventually(t, func() bool { return len(engine.Spoken()) == n }, waitFor, tick)
	return engine.Spoken()
}

func TestPlayFirstBoundary(t *testing.T) {
	c, engine, n := newTestController(t, "The quick brown fox", Options{})

	c.Play()
	assert.Equal(t, Playing, c.State())

	spoken := waitSpoken(t, engine, 1)
	assert.Equal(t, "The quick brown fox", spoken[0].Text)

	engine.EmitBoundary(4)
	flush(c)

	assert.Equal(t, 4, c.Offset())
	assert.Equal(t, "quick", c.CurrentWord())
	assert.Equal(t, Highlight{Offset: 4, Word: "quick"}, c.Highlight())
	assert.Eventually(t, func() bool { return n.highlight.Load() == 1 }, waitFor, tick)
	assert.Eventually(t, func() bool { return n.play.Load() == 1 }, waitFor, tick)
}

func TestFailedResumeRestartsFromOffset(t *testing.T) {
	text := "Reading is a journey through many words"
	c, engine, _ := newTestController(t, text, Options{})

	c.Play()
	waitSpoken(t, engine, 1)
	engine.EmitBoundary(11)
	flush(c)
	require.Equal(t, 11, c.Offset())

	c.Pause()
	require.Equal(t, Paused, c.State())

	engine.SetResumeFails(true)
	c.Play()

	spoken := waitSpoken(t, engine, 2)
	assert.Equal(t, text[11:], spoken[1].Text)
	assert.Eventually(t, func() bool { return c.State() == Playing }, waitFor, tick)

	engine.EmitBoundary(10)
	flush(c)
	assert.Equal(t, 21, c.Offset())
	assert.Equal(t, "through", c.CurrentWord())
}

func TestResumeScenarioPausedAtTen(t *testing.T) {
	text := "Stories are maps of the heart"
	c, engine, _ := newTestController(t, text, Options{})

	c.Play()
	waitSpoken(t, engine, 1)
	engine.EmitBoundary(10)
	flush(c)
	c.Pause()

	engine.SetResumeFails(true)
	c.Play()

	spoken := waitSpoken(t, engine, 2)
	assert.Equal(t, text[10:], spoken[1].Text)
	assert.Eventually(t, func() bool { return c.State() == Playing }, waitFor, tick)
	assert.Equal(t, 10, c.Offset())
}

func TestSuccessfulResumeKeepsUtterance(t *testing.T) {
	c, engine, n := newTestController(t, "one two three four", Options{ResumeCheckDelay: 20 * time.Millisecond})

	c.Play()
	waitSpoken(t, engine, 1)
	engine.EmitBoundary(4)
	flush(c)

	c.Pause()
	assert.True(t, engine.IsPaused())
	assert.Eventually(t, func() bool { return n.pause.Load() == 1 }, waitFor, tick)

	c.Play()
	// still paused until the engine is verified to be speaking
	assert.Equal(t, Paused, c.State())
	assert.Eventually(t, func() bool { return c.State() == Playing }, waitFor, tick)

	assert.Len(t, engine.Spoken(), 1)
	assert.Equal(t, 4, c.Offset())
	assert.Eventually(t, func() bool { return n.play.Load() == 2 }, waitFor, tick)
}

func TestBlankTextIsNoop(t *testing.T) {
	c, engine, n := newTestController(t, "   ", Options{})

	c.Play()
	flush(c)

	assert.Equal(t, Idle, c.State())
	assert.Empty(t, engine.Spoken())
	assert.Zero(t, engine.Cancels())
	assert.Never(t, func() bool { return len(engine.Spoken()) > 0 }, 20*time.Millisecond, tick)
	assert.Zero(t, n.play.Load())
}

func TestNaturalEndDoesNotNotifyStop(t *testing.T) {
	c, engine, n := newTestController(t, "The quick brown fox", Options{})

	c.Play()
	waitSpoken(t, engine, 1)
	engine.EmitBoundary(10)
	flush(c)

	engine.Finish()
	flush(c)

	assert.Equal(t, Idle, c.State())
	assert.Equal(t, 0, c.Offset())
	assert.Empty(t, c.CurrentWord())
	assert.Never(t, func() bool { return n.stop.Load() > 0 }, 20*time.Millisecond, tick)
	assert.Eventually(t, func() bool { return n.end.Load() == 1 }, waitFor, tick)
	assert.Zero(t, n.halt.Load())
}

func TestStopFromAnyState(t *testing.T) {
	text := "alpha beta gamma delta"

	t.Run("idle", func(t *testing.T) {
		c, _, n := newTestController(t, text, Options{})
		c.Stop()
		c.Stop()
		assert.Equal(t, Idle, c.State())
		assert.Equal(t, 0, c.Offset())
		assert.Eventually(t, func() bool { return n.stop.Load() == 2 }, waitFor, tick)
	})

	t.Run("playing", func(t *testing.T) {
		c, engine, _ := newTestController(t, text, Options{})
		c.Play()
		waitSpoken(t, engine, 1)
		engine.EmitBoundary(6)
		flush(c)

		c.Stop()
		assert.Equal(t, Idle, c.State())
		assert.Equal(t, 0, c.Offset())
		assert.Empty(t, c.CurrentWord())
		assert.Nil(t, engine.Current())
	})

	t.Run("paused", func(t *testing.T) {
		c, engine, _ := newTestController(t, text, Options{})
		c.Play()
		waitSpoken(t, engine, 1)
		engine.EmitBoundary(11)
		flush(c)
		c.Pause()

		c.Stop()
		assert.Equal(t, Idle, c.State())
		assert.Equal(t, 0, c.Offset())
	})

	t.Run("before the first speak", func(t *testing.T) {
		c, engine, _ := newTestController(t, text, Options{})
		c.Play()
		c.Stop()
		assert.Equal(t, Idle, c.State())
		assert.Never(t, func() bool { return len(engine.Spoken()) > 0 }, 20*time.Millisecond, tick)
	})
}

func TestDoublePlayLeavesOneUtterance(t *testing.T) {
	c, engine, _ := newTestController(t, "one two three", Options{SpeakDelay: 20 * time.Millisecond})

	c.Play()
	c.Play()

	waitSpoken(t, engine, 1)
	assert.Never(t, func() bool { return len(engine.Spoken()) > 1 }, 30*time.Millisecond, tick)
	assert.Equal(t, Playing, c.State())
	assert.Equal(t, 2, engine.Cancels())
}

func TestRestartWhilePlayingCancelsPrevious(t *testing.T) {
	c, engine, _ := newTestController(t, "one two three", Options{})

	c.Play()
	first := waitSpoken(t, engine, 1)[0]

	c.Play()
	spoken := waitSpoken(t, engine, 2)
	assert.Same(t, spoken[1], engine.Current())
	assert.NotSame(t, first, engine.Current())
	assert.Equal(t, Playing, c.State())
}

func TestStaleBoundaryIgnored(t *testing.T) {
	c, engine, _ := newTestController(t, "one two three four five", Options{})

	c.Play()
	first := waitSpoken(t, engine, 1)[0]
	c.Play()
	waitSpoken(t, engine, 2)

	first.OnBoundary(tts.BoundaryWord, 14)
	first.OnEnd()
	flush(c)

	assert.Equal(t, 0, c.Offset())
	assert.Equal(t, Playing, c.State())
}

func TestBoundaryOffsetsAreMonotonic(t *testing.T) {
	text := "one two three four"
	c, engine, _ := newTestController(t, text, Options{})

	c.Play()
	waitSpoken(t, engine, 1)

	engine.EmitBoundary(8)
	engine.EmitBoundary(4)
	flush(c)
	assert.Equal(t, 8, c.Offset())

	engine.EmitBoundary(500)
	flush(c)
	assert.Equal(t, len(text), c.Offset())
	assert.Empty(t, c.CurrentWord())
}

func TestSentenceBoundariesIgnored(t *testing.T) {
	c, engine, _ := newTestController(t, "One. Two.", Options{})

	c.Play()
	u := waitSpoken(t, engine, 1)[0]
	u.OnBoundary("sentence", 5)
	flush(c)

	assert.Equal(t, 0, c.Offset())
}

func TestInterruptedErrorSwallowed(t *testing.T) {
	c, engine, _ := newTestController(t, "one two three", Options{})

	c.Play()
	u := waitSpoken(t, engine, 1)[0]
	u.OnError(tts.ErrInterrupted)
	flush(c)

	assert.Equal(t, Playing, c.State())
}

func TestFatalErrorHaltsWithoutRetry(t *testing.T) {
	c, engine, n := newTestController(t, "one two three", Options{})

	c.Play()
	waitSpoken(t, engine, 1)
	engine.EmitBoundary(4)
	flush(c)

	engine.Fail(errors.New("voice-unavailable"))
	flush(c)

	assert.Equal(t, Idle, c.State())
	assert.Equal(t, 0, c.Offset())
	assert.Never(t, func() bool { return len(engine.Spoken()) > 1 }, 20*time.Millisecond, tick)
	assert.Zero(t, n.stop.Load())
	assert.Zero(t, n.end.Load())
	require.Eventually(t, func() bool { return n.halt.Load() == 1 }, waitFor, tick)
	assert.Equal(t, int32(4), n.haltedAt.Load())

	c.Play()
	waitSpoken(t, engine, 2)
}

func TestStopDoesNotReportEnd(t *testing.T) {
	c, engine, n := newTestController(t, "one two three", Options{})

	c.Play()
	waitSpoken(t, engine, 1)
	c.Stop()
	engine.Finish()
	flush(c)

	assert.Never(t, func() bool { return n.end.Load()+n.halt.Load() > 0 }, 20*time.Millisecond, tick)
}

func TestInitialOffsetHonouredOnce(t *testing.T) {
	text := "Chapter one begins here"
	c, engine, _ := newTestController(t, text, Options{InitialOffset: 8})

	assert.Equal(t, 8, c.Offset())

	c.Play()
	spoken := waitSpoken(t, engine, 1)
	assert.Equal(t, text[8:], spoken[0].Text)

	engine.EmitBoundary(4)
	flush(c)
	assert.Equal(t, 12, c.Offset())

	c.Stop()
	c.Play()
	spoken = waitSpoken(t, engine, 2)
	assert.Equal(t, text, spoken[1].Text)
}

func TestInitialOffsetOutOfRange(t *testing.T) {
	text := "short text"
	for _, offset := range []int{0, -3, len(text), len(text) + 5} {
		c, engine, _ := newTestController(t, text, Options{InitialOffset: offset})
		assert.Equal(t, 0, c.Offset())

		c.Play()
		spoken := waitSpoken(t, engine, 1)
		assert.Equal(t, text, spoken[0].Text, "offset %d", offset)
	}
}

func TestInitialOffsetSnapsToRuneStart(t *testing.T) {
	text := "ça va très bien"
	// 1 is inside the two-byte "ç"
	c, engine, _ := newTestController(t, text, Options{InitialOffset: 1})
	c.Play()
	spoken := waitSpoken(t, engine, 1)
	assert.Equal(t, text, spoken[0].Text)
}

func TestRateAndVoiceApplyToNextUtterance(t *testing.T) {
	c, engine, _ := newTestController(t, "one two three", Options{Rate: 1})
	voice := tts.Voice{ID: "fr", Language: "fr-FR"}

	c.Play()
	waitSpoken(t, engine, 1)

	require.NoError(t, c.SetRate(1.5))
	c.SetVoice(voice)
	assert.Equal(t, 1.0, engine.Spoken()[0].Rate)
	assert.Empty(t, engine.Spoken()[0].Voice.ID)

	c.Stop()
	c.Play()
	spoken := waitSpoken(t, engine, 2)
	assert.Equal(t, 1.5, spoken[1].Rate)
	assert.Equal(t, voice, spoken[1].Voice)
	assert.Equal(t, 1.5, c.Rate())
}

func TestSetRateRejectsUnsupported(t *testing.T) {
	c, _, _ := newTestController(t, "text", Options{})
	assert.ErrorIs(t, c.SetRate(3), tts.ErrUnsupportedRate)
	assert.Equal(t, 1.0, c.Rate())
}

func TestPauseBudgetIsInformational(t *testing.T) {
	c, engine, _ := newTestController(t, "one two three", Options{PauseBudget: 5 * time.Millisecond})

	c.Play()
	waitSpoken(t, engine, 1)
	c.Pause()

	d, paused := c.PausedFor()
	assert.True(t, paused)
	assert.GreaterOrEqual(t, d, time.Duration(0))

	assert.Eventually(t, c.PauseBudgetExceeded, waitFor, tick)
	assert.Equal(t, Paused, c.State())
}

func TestPauseOnlyWhilePlaying(t *testing.T) {
	c, engine, n := newTestController(t, "one two three", Options{})

	c.Pause()
	assert.Equal(t, Idle, c.State())

	c.Play()
	waitSpoken(t, engine, 1)
	c.Pause()
	c.Pause()
	assert.Equal(t, Paused, c.State())
	assert.Eventually(t, func() bool { return n.pause.Load() == 1 }, waitFor, tick)
}

func TestPauseBeforeSpeakThenResumeRestarts(t *testing.T) {
	engine := tts.NewMockTTSEngine(tts.Config{})
	c := New(engine, "one two three", Options{
		SpeakDelay:       20 * time.Millisecond,
		ResumeCheckDelay: time.Millisecond,
	})
	t.Cleanup(c.Close)

	c.Play()
	c.Pause()
	assert.Never(t, func() bool { return len(engine.Spoken()) > 0 }, 40*time.Millisecond, tick)

	c.Play()
	waitSpoken(t, engine, 1)
	assert.Equal(t, Playing, c.State())
}

func TestObserverMayCallBack(t *testing.T) {
	engine := tts.NewMockTTSEngine(tts.Config{})
	var c *Controller
	stopped := make(chan State, 1)
	c = New(engine, "one two", Options{
		SpeakDelay: time.Millisecond,
		Observer: Observer{
			OnPause: func() {
				c.Stop()
				stopped <- c.State()
			},
		},
	})
	t.Cleanup(c.Close)

	c.Play()
	waitSpoken(t, engine, 1)
	c.Pause()

	select {
	case s := <-stopped:
		assert.Equal(t, Idle, s)
	case <-time.After(waitFor):
		t.Fatal("observer did not run")
	}
}

func TestCloseCancelsEngine(t *testing.T) {
	engine := tts.NewMockTTSEngine(tts.Config{})
	c := New(engine, "one two", Options{SpeakDelay: time.Millisecond})

	c.Play()
	waitSpoken(t, engine, 1)
	c.Close()
	c.Close()

	assert.Nil(t, engine.Current())
	assert.Equal(t, Idle, c.State())

	c.Play()
	assert.Len(t, engine.Spoken(), 1)
}

func TestHighlightAt(t *testing.T) {
	text := "The quick\nbrown\tfox"
	tests := []struct {
		offset int
		want   string
	}{
		{0, "The"},
		{4, "quick"},
		{10, "brown"},
		{16, "fox"},
		{5, "uick"},
		{3, ""},
		{-1, ""},
		{len(text), ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HighlightAt(text, tt.offset), "offset %d", tt.offset)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "playing", Playing.String())
	assert.Equal(t, "paused", Paused.String())
	assert.Equal(t, "unknown", State(9).String())
}
