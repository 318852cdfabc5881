// internal/speech/tts/tts.go
package tts

import "errors"

// ErrInterrupted is reported through Utterance.OnError when an utterance was
// cut short by Cancel (or by a newer Speak).
var ErrInterrupted = errors.New("tts: utterance interrupted")

// BoundaryWord is the boundary name engines report at the start of a word.
const BoundaryWord = "word"

type Config struct {
	Type      string
	Rate      float64
	Volume    float64
	Voice     string
	Language  string
	CachePath string
}

// Voice describes a synthesis voice offered by an engine.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Gender   string `json:"gender"`
}

// Utterance is one speech request. Callbacks are optional and may be invoked
// from any goroutine, including from inside Speak.
type Utterance struct {
	Text  string
	Voice Voice
	Rate  float64

	OnStart    func()
	OnEnd      func()
	OnError    func(err error)
	OnBoundary func(name string, charIndex int)
}

func (u *Utterance) started() {
	if u.OnStart != nil {
		u.OnStart()
	}
}

func (u *Utterance) ended() {
	if u.OnEnd != nil {
		u.OnEnd()
	}
}

func (u *Utterance) failed(err error) {
	if u.OnError != nil {
		u.OnError(err)
	}
}

func (u *Utterance) boundary(charIndex int) {
	if u.OnBoundary != nil {
		u.OnBoundary(BoundaryWord, charIndex)
	}
}

// Engine is the platform speech capability. Only one utterance is active at a
// time; Speak replaces whatever was playing.
type Engine interface {
	Speak(u *Utterance) error
	Pause() error
	Resume() error
	Cancel() error
	// IsSpeaking reports whether an utterance is audibly in progress
	// (active and not paused).
	IsSpeaking() bool
	IsPaused() bool
	GetAvailableVoices() ([]Voice, error)
}

// CacheableEngine extends Engine with cache management capabilities
type CacheableEngine interface {
	Engine
	GetCacheStats() (map[string]interface{}, error)
	ClearCache() error
}
