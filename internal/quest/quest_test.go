package quest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quizquest/internal/config"
	"quizquest/internal/domain/creation"
	"quizquest/internal/speech/playback"
	"quizquest/internal/speech/tts"
	"quizquest/internal/store"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig() config.Config {
	return config.Config{
		TTS:              tts.Config{Rate: 1},
		Language:         "en",
		UserID:           "tester",
		SpeakDelay:       time.Millisecond,
		ResumeCheckDelay: 5 * time.Millisecond,
		PauseBudget:      time.Second,
	}
}

func newTestQuest(t *testing.T, in io.Reader) (*QuizQuest, *tts.MockTTSEngine, *store.Store, *lockedBuffer) {
	t.Helper()
	color.NoColor = true

	st, err := store.Open(filepath.Join(t.TempDir(), "quest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	engine := tts.NewMockTTSEngine(tts.Config{})
	out := &lockedBuffer{}
	qq := newQuizQuest(testConfig(), engine, st, in, out)
	t.Cleanup(qq.Cancel)
	return qq, engine, st, out
}

var lesson = &creation.Creation{
	ID:      "lesson",
	Title:   "Bees",
	Type:    creation.TypeQuiz,
	Content: "Bees make honey from nectar.",
}

func startReading(t *testing.T, qq *QuizQuest, engine *tts.MockTTSEngine, opts readOptions) <-chan struct{} {
	t.Helper()
	done := make(chan struct{})
	go func() {
		qq.readAloud(lesson, opts)
		close(done)
	}()
	require.Eventually(t, func() bool { return engine.Current() != nil }, time.Second, time.Millisecond)
	return done
}

func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reading did not end")
	}
}

func TestQuitSavesPosition(t *testing.T) {
	in, w := io.Pipe()
	qq, engine, st, out := newTestQuest(t, in)

	done := startReading(t, qq, engine, readOptions{})
	// "Bees\n\nBees make honey...": "make" starts at 11
	engine.EmitBoundary(11)
	require.Eventually(t, func() bool {
		c := qq.controller()
		return c != nil && c.Offset() == 11
	}, time.Second, time.Millisecond)

	_, err := w.Write([]byte("q\n"))
	require.NoError(t, err)
	wait(t, done)

	offset, ok, err := st.GetPosition(context.Background(), "tester", "lesson", store.ContentHash(lesson.ReadingText()))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 11, offset)
	assert.Contains(t, out.String(), "Saved your place")
	assert.Nil(t, qq.controller())
}

func TestResumesFromSavedPosition(t *testing.T) {
	in, w := io.Pipe()
	qq, engine, st, out := newTestQuest(t, in)
	text := lesson.ReadingText()
	require.NoError(t, st.SavePosition(context.Background(), "tester", "lesson", store.ContentHash(text), 11))

	done := startReading(t, qq, engine, readOptions{})
	assert.Equal(t, text[11:], engine.Current().Text)
	assert.Contains(t, out.String(), `"make"`)

	w.Write([]byte("s\n"))
	wait(t, done)

	_, ok, err := st.GetPosition(context.Background(), "tester", "lesson", store.ContentHash(text))
	require.NoError(t, err)
	assert.False(t, ok, "stop rewinds to the beginning")
}

func TestStopClearsPosition(t *testing.T) {
	in, w := io.Pipe()
	qq, engine, st, _ := newTestQuest(t, in)
	hash := store.ContentHash(lesson.ReadingText())
	require.NoError(t, st.SavePosition(context.Background(), "tester", "lesson", hash, 6))

	done := startReading(t, qq, engine, readOptions{})
	// the utterance starts at the saved offset, so "make" is 5 bytes in
	engine.EmitBoundary(5)
	require.Eventually(t, func() bool { return qq.controller().Offset() == 11 }, time.Second, time.Millisecond)

	_, err := w.Write([]byte("s\n"))
	require.NoError(t, err)
	wait(t, done)

	_, ok, err := st.GetPosition(context.Background(), "tester", "lesson", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngineFailureKeepsPosition(t *testing.T) {
	in, _ := io.Pipe()
	qq, engine, st, out := newTestQuest(t, in)
	hash := store.ContentHash(lesson.ReadingText())

	done := startReading(t, qq, engine, readOptions{})
	engine.EmitBoundary(11)
	require.Eventually(t, func() bool { return qq.controller().Offset() == 11 }, time.Second, time.Millisecond)

	engine.Fail(errors.New("boom"))
	wait(t, done)

	offset, ok, err := st.GetPosition(context.Background(), "tester", "lesson", hash)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 11, offset)
	assert.Contains(t, out.String(), "speech engine stopped unexpectedly")
}

func TestEngineFailureBeforeFirstWordKeepsSavedPosition(t *testing.T) {
	in, _ := io.Pipe()
	qq, engine, st, _ := newTestQuest(t, in)
	hash := store.ContentHash(lesson.ReadingText())
	require.NoError(t, st.SavePosition(context.Background(), "tester", "lesson", hash, 11))

	done := startReading(t, qq, engine, readOptions{})
	engine.Fail(errors.New("network down"))
	wait(t, done)

	offset, ok, err := st.GetPosition(context.Background(), "tester", "lesson", hash)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 11, offset)
}

func TestFromStartIgnoresSavedPosition(t *testing.T) {
	in, w := io.Pipe()
	qq, engine, st, _ := newTestQuest(t, in)
	text := lesson.ReadingText()
	require.NoError(t, st.SavePosition(context.Background(), "tester", "lesson", store.ContentHash(text), 11))

	done := startReading(t, qq, engine, readOptions{fromStart: true})
	assert.Equal(t, text, engine.Current().Text)
	w.Close()
	wait(t, done)
}

func TestFinishClearsPosition(t *testing.T) {
	in, _ := io.Pipe()
	qq, engine, st, out := newTestQuest(t, in)
	text := lesson.ReadingText()
	require.NoError(t, st.SavePosition(context.Background(), "tester", "lesson", store.ContentHash(text), 6))

	done := startReading(t, qq, engine, readOptions{})
	engine.Finish()
	wait(t, done)

	_, ok, err := st.GetPosition(context.Background(), "tester", "lesson", store.ContentHash(text))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, out.String(), "Finished")
}

func TestShutdownSavesPosition(t *testing.T) {
	in, _ := io.Pipe()
	qq, engine, st, _ := newTestQuest(t, in)
	hash := store.ContentHash(lesson.ReadingText())

	done := startReading(t, qq, engine, readOptions{})
	engine.EmitBoundary(6)
	require.Eventually(t, func() bool { return qq.controller().Offset() == 6 }, time.Second, time.Millisecond)

	qq.Cancel()
	qq.endSession(sessionEnd{outcome: outcomeQuit})
	wait(t, done)

	offset, ok, err := st.GetPosition(context.Background(), "tester", "lesson", hash)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 6, offset)
}

func TestControlsPauseAndResume(t *testing.T) {
	qq, engine, _, _ := newTestQuest(t, strings.NewReader(""))
	ctrl := playback.New(engine, "one two three", playback.Options{
		SpeakDelay:       time.Millisecond,
		ResumeCheckDelay: time.Millisecond,
	})
	t.Cleanup(ctrl.Close)
	ctrl.Play()
	require.Eventually(t, func() bool { return engine.Current() != nil }, time.Second, time.Millisecond)

	lines := make(chan string)
	result := make(chan sessionEnd, 1)
	go func() { result <- qq.runControls(ctrl, lines, nil) }()

	lines <- "p"
	require.Eventually(t, func() bool { return ctrl.State() == playback.Paused }, time.Second, time.Millisecond)

	lines <- "P"
	require.Eventually(t, func() bool { return ctrl.State() == playback.Playing }, time.Second, time.Millisecond)

	lines <- "what"
	lines <- "stop"
	assert.Equal(t, outcomeStopped, (<-result).outcome)
	assert.Equal(t, playback.Idle, ctrl.State())
}

func TestControlsEOFQuits(t *testing.T) {
	qq, engine, _, _ := newTestQuest(t, strings.NewReader(""))
	ctrl := playback.New(engine, "one", playback.Options{})
	t.Cleanup(ctrl.Close)
	ctrl.Play()

	lines := make(chan string)
	close(lines)
	assert.Equal(t, outcomeQuit, qq.runControls(ctrl, lines, nil).outcome)
}

func TestStepRate(t *testing.T) {
	qq, engine, _, out := newTestQuest(t, strings.NewReader(""))
	ctrl := playback.New(engine, "one two", playback.Options{Rate: 1.75})
	t.Cleanup(ctrl.Close)

	qq.stepRate(ctrl, 1)
	assert.Equal(t, 2.0, ctrl.Rate())
	qq.stepRate(ctrl, 1)
	assert.Equal(t, 2.0, ctrl.Rate())
	qq.stepRate(ctrl, -1)
	assert.Equal(t, 1.75, ctrl.Rate())
	assert.Contains(t, out.String(), "Speed 1.75x")
}

func TestLongPauseNote(t *testing.T) {
	qq, engine, _, out := newTestQuest(t, strings.NewReader(""))
	ctrl := playback.New(engine, "one two three", playback.Options{
		SpeakDelay:  time.Millisecond,
		PauseBudget: time.Millisecond,
	})
	t.Cleanup(ctrl.Close)

	qq.noteLongPause(ctrl)
	assert.NotContains(t, out.String(), "Paused for")

	ctrl.Play()
	require.Eventually(t, func() bool { return engine.Current() != nil }, time.Second, time.Millisecond)
	ctrl.Pause()
	require.Eventually(t, ctrl.PauseBudgetExceeded, time.Second, time.Millisecond)

	qq.noteLongPause(ctrl)
	assert.Contains(t, out.String(), "Paused for")
}

func TestCaptionLine(t *testing.T) {
	color.NoColor = true
	text := "one two three four five six seven eight nine ten eleven twelve"

	assert.Equal(t, "one two", captionLine(text, playback.Highlight{Offset: 0, Word: "one"})[:7])
	assert.Equal(t,
		"two three four five six seven eight nine ten eleven twelve",
		captionLine(text, playback.Highlight{Offset: 28, Word: "seven"}),
	)
	assert.Empty(t, captionLine(text, playback.Highlight{Offset: len(text), Word: "x"}))
}

func TestReadLines(t *testing.T) {
	in := strings.NewReader("p\n\nlast")
	qq, _, _, _ := newTestQuest(t, in)

	var got []string
	for line := range readLines(qq.in) {
		got = append(got, line)
	}
	assert.Equal(t, []string{"p\n", "\n", "last"}, got)
}

func TestPickVoice(t *testing.T) {
	qq, _, _, out := newTestQuest(t, strings.NewReader(""))

	assert.Equal(t, "mock-en-male", qq.pickVoice("Mock Theo").ID)
	assert.Equal(t, "mock-fr-female", qq.pickVoice("MOCK-FR-FEMALE").ID)
	assert.Equal(t, "mock-en-female", qq.pickVoice("").ID)

	assert.Equal(t, "mock-en-female", qq.pickVoice("nobody").ID)
	assert.Contains(t, out.String(), "Voice 'nobody' not found")
}

func TestCombine(t *testing.T) {
	var calls []string
	o := combine(
		playback.Observer{OnPlay: func() { calls = append(calls, "a") }},
		playback.Observer{},
		playback.Observer{
			OnPlay:            func() { calls = append(calls, "b") },
			OnHighlightChange: func(h playback.Highlight) { calls = append(calls, h.Word) },
		},
	)
	o.OnPlay()
	o.OnPause()
	o.OnStop()
	o.OnHighlightChange(playback.Highlight{Word: "w"})
	o.OnEnd()
	o.OnHalt(3, errors.New("x"))
	assert.Equal(t, []string{"a", "b", "w"}, calls)
}

func TestFindCreation(t *testing.T) {
	qq, _, st, _ := newTestQuest(t, strings.NewReader(""))

	assert.NotNil(t, qq.findCreation("water-cycle"))
	assert.Nil(t, qq.findCreation("nope"))

	c := *lesson
	c.ID = ""
	require.NoError(t, st.SaveCreation(context.Background(), &c))
	assert.Equal(t, "Bees", qq.findCreation(c.ID).Title)
	assert.Len(t, qq.creations(), 4)
}

func TestListCreations(t *testing.T) {
	qq, _, _, out := newTestQuest(t, strings.NewReader(""))

	cmd := &cobra.Command{}
	cmd.Flags().String("type", "", "")
	cmd.Flags().String("tag", "", "")
	require.NoError(t, cmd.Flags().Set("type", "quest"))

	qq.ListCreations(cmd, nil)
	assert.Contains(t, out.String(), "ID: water-cycle")
	assert.NotContains(t, out.String(), "ID: fractions")
	assert.Contains(t, out.String(), "Found 1!")
}

func TestGenerateSavesCreation(t *testing.T) {
	qq, _, st, out := newTestQuest(t, strings.NewReader("Photosynthesis turns sunlight into sugar. Leaves contain chlorophyll."))
	qq.cfg.Generator = config.Generator{Provider: "mock", CacheDir: t.TempDir(), CacheMaxAge: time.Hour}

	qq.Generate(&cobra.Command{}, []string{"-"})
	require.Contains(t, out.String(), "Saved! Read it with: quizquest read ")

	saved, err := st.ListCreations(context.Background())
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.NotEmpty(t, saved[0].Questions())
}

func TestSettingsClearsGenerationCache(t *testing.T) {
	qq, _, _, out := newTestQuest(t, strings.NewReader("Volcanoes form where magma reaches the surface. Lava cools into basalt rock."))
	dir := t.TempDir()
	qq.cfg.Generator = config.Generator{Provider: "mock", CacheDir: dir, CacheMaxAge: time.Hour}

	qq.Generate(&cobra.Command{}, []string{"-"})
	cached, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	require.Len(t, cached, 1)

	cmd := &cobra.Command{}
	cmd.Flags().Bool("clear-cache", false, "")
	qq.ConfigureSettings(cmd, nil)
	assert.Contains(t, out.String(), "Generated: 1 creations")

	require.NoError(t, cmd.Flags().Set("clear-cache", "true"))
	qq.ConfigureSettings(cmd, nil)
	assert.Contains(t, out.String(), "Generation cache cleared")
	assert.Contains(t, out.String(), "Generated: 0 creations")

	cached, err = filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	assert.Empty(t, cached)
}

var arithmetic = &creation.Creation{
	ID:    "sums",
	Title: "Sums",
	Type:  creation.TypeQuiz,
	Quizzes: []creation.Question{
		{Question: "2+2?", Options: []string{"3", "4"}, CorrectIndex: 1, Explanation: "Count on your fingers."},
		{Question: "3+3?", Options: []string{"6", "7"}, CorrectIndex: 0},
	},
}

func TestTakeQuiz(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"all correct", "2\n1\n", "2/2 (100%) Passed!"},
		{"one wrong", "2\n2\n", "1/2 (50%). You need 70% to pass"},
		{"not a number", "four\n1\n", "1/2 (50%)"},
		{"input runs out", "2\n", "1/2 (50%)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qq, _, st, out := newTestQuest(t, strings.NewReader(tt.input))
			require.NoError(t, st.SaveCreation(context.Background(), arithmetic))

			qq.TakeQuiz(&cobra.Command{}, []string{"sums"})
			assert.Contains(t, out.String(), tt.want)
		})
	}
}

func TestTakeQuizExplains(t *testing.T) {
	qq, _, st, out := newTestQuest(t, strings.NewReader("1\n1\n"))
	require.NoError(t, st.SaveCreation(context.Background(), arithmetic))

	qq.TakeQuiz(&cobra.Command{}, []string{"sums"})
	assert.Contains(t, out.String(), "The answer was: 4")
	assert.Contains(t, out.String(), "Count on your fingers.")

	qq.TakeQuiz(&cobra.Command{}, []string{"missing"})
	assert.Contains(t, out.String(), "Nothing with ID 'missing' found")
}

func TestNextVoice(t *testing.T) {
	qq, engine, _, out := newTestQuest(t, strings.NewReader(""))
	ctrl := playback.New(engine, "one two", playback.Options{
		Voice: tts.Voice{ID: "mock-en-female", Language: "en-US"},
	})
	t.Cleanup(ctrl.Close)

	qq.nextVoice(ctrl)
	assert.Equal(t, "mock-en-male", ctrl.Voice().ID)
	qq.nextVoice(ctrl)
	assert.Equal(t, "mock-en-female", ctrl.Voice().ID)
	assert.Contains(t, out.String(), "Voice Mock Theo")
}
