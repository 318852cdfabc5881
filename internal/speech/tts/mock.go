package tts

import (
	"sync"
	"time"

	"github.com/fatih/color"
)

// Compile-time interface check.
var _ Engine = (*MockTTSEngine)(nil)

// MockTTSEngine is an in-memory engine. In manual mode (the default) nothing
// happens until the caller drives events with EmitBoundary, Finish or Fail;
// with Simulate it reads along on a word clock without producing audio.
type MockTTSEngine struct {
	mu          sync.Mutex
	voices      []Voice
	current     *Utterance
	clock       *wordClock
	spoken      []*Utterance
	paused      bool
	resumeFails bool
	cancels     int
	simulate    bool
}

func NewMockTTSEngine(c Config) *MockTTSEngine {
	return &MockTTSEngine{
		voices: []Voice{
			{ID: "mock-en-female", Name: "Mock Ava", Language: "en-US", Gender: "female"},
			{ID: "mock-en-male", Name: "Mock Theo", Language: "en-GB", Gender: "male"},
			{ID: "mock-fr-female", Name: "Mock Amélie", Language: "fr-FR", Gender: "female"},
		},
	}
}

// Simulate makes the engine advance through words by itself at the
// utterance rate and finish at the end of the text.
func (m *MockTTSEngine) Simulate() *MockTTSEngine {
	m.simulate = true
	return m
}

// SetVoices replaces the voice list returned by GetAvailableVoices.
func (m *MockTTSEngine) SetVoices(voices []Voice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voices = voices
}

// SetResumeFails makes Resume silently drop the paused utterance, the way
// some browsers do after a long pause.
func (m *MockTTSEngine) SetResumeFails(fails bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumeFails = fails
}

func (m *MockTTSEngine) GetAvailableVoices() ([]Voice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Voice(nil), m.voices...), nil
}

func (m *MockTTSEngine) Speak(u *Utterance) error {
	m.mu.Lock()
	prev := m.detach()
	m.current = u
	m.spoken = append(m.spoken, u)
	m.paused = false
	var clock *wordClock
	if m.simulate {
		clock = newWordClock()
		m.clock = clock
	}
	m.mu.Unlock()

	if prev != nil {
		prev.failed(ErrInterrupted)
	}
	u.started()

	if clock != nil {
		color.Yellow("🔊 Reading aloud... (simulated for %v)", simulatedDuration(u.Text, u.Rate).Round(time.Second))
		go clock.run(u, wordInterval(u.Rate), func() { m.finish(u) })
	}
	return nil
}

func (m *MockTTSEngine) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.paused = true
		if m.clock != nil {
			m.clock.paused.Store(true)
		}
	}
	return nil
}

func (m *MockTTSEngine) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.paused {
		return nil
	}
	m.paused = false
	if m.resumeFails {
		// dropped without any callback
		if m.clock != nil {
			m.clock.stop()
			m.clock = nil
		}
		m.current = nil
		return nil
	}
	if m.clock != nil {
		m.clock.paused.Store(false)
	}
	return nil
}

func (m *MockTTSEngine) Cancel() error {
	m.mu.Lock()
	m.cancels++
	prev := m.detach()
	m.mu.Unlock()

	if prev != nil {
		prev.failed(ErrInterrupted)
	}
	return nil
}

func (m *MockTTSEngine) IsSpeaking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && !m.paused
}

func (m *MockTTSEngine) IsPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// detach clears the active utterance; callers hold m.mu.
func (m *MockTTSEngine) detach() *Utterance {
	prev := m.current
	m.current = nil
	m.paused = false
	if m.clock != nil {
		m.clock.stop()
		m.clock = nil
	}
	return prev
}

func (m *MockTTSEngine) finish(u *Utterance) {
	m.mu.Lock()
	if m.current != u {
		m.mu.Unlock()
		return
	}
	m.detach()
	m.mu.Unlock()
	u.ended()
}

// Current returns the active utterance, if any.
func (m *MockTTSEngine) Current() *Utterance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Spoken returns every utterance passed to Speak, oldest first.
func (m *MockTTSEngine) Spoken() []*Utterance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Utterance(nil), m.spoken...)
}

// Cancels counts Cancel calls.
func (m *MockTTSEngine) Cancels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancels
}

// EmitBoundary reports a word boundary on the active utterance.
func (m *MockTTSEngine) EmitBoundary(charIndex int) {
	if u := m.Current(); u != nil {
		u.boundary(charIndex)
	}
}

// Finish ends the active utterance naturally.
func (m *MockTTSEngine) Finish() {
	if u := m.Current(); u != nil {
		m.finish(u)
	}
}

// Fail aborts the active utterance with err.
func (m *MockTTSEngine) Fail(err error) {
	m.mu.Lock()
	u := m.detach()
	m.mu.Unlock()
	if u != nil {
		u.failed(err)
	}
}

// simulatedDuration estimates how long text takes to read at rate.
func simulatedDuration(text string, rate float64) time.Duration {
	return time.Duration(len(WordBoundaries(text))) * wordInterval(rate)
}
