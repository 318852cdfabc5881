package tts

import (
	"sync"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"
)

// baseWordsPerMinute is the speaking speed at rate 1.0 (espeak's default).
const baseWordsPerMinute = 175

// WordBoundaries returns the byte index of the first character of every word
// in text.
func WordBoundaries(text string) []int {
	var starts []int
	inWord := false
	for i, r := range text {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			starts = append(starts, i)
			inWord = true
		}
	}
	return starts
}

// wordInterval is the estimated time spent on one word at the given rate.
func wordInterval(rate float64) time.Duration {
	if rate <= 0 {
		rate = 1
	}
	return time.Duration(float64(time.Minute) / (baseWordsPerMinute * rate))
}

// wordClock estimates boundary events for engines that cannot report them,
// advancing one word per interval while not paused.
type wordClock struct {
	paused atomic.Bool
	done   chan struct{}
	once   sync.Once
}

func newWordClock() *wordClock {
	return &wordClock{done: make(chan struct{})}
}

func (w *wordClock) stop() {
	w.once.Do(func() { close(w.done) })
}

// run emits boundaries for u. When finished is non-nil it is called one
// interval after the last word unless the clock was stopped first.
func (w *wordClock) run(u *Utterance, interval time.Duration, finished func()) {
	starts := WordBoundaries(u.Text)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	next := 0
	for {
		if next < len(starts) && !w.paused.Load() {
			u.boundary(starts[next])
			next++
		}
		select {
		case <-w.done:
			return
		case <-ticker.C:
		}
		if next >= len(starts) && !w.paused.Load() {
			if finished != nil {
				finished()
			}
			return
		}
	}
}

// positionBoundary maps a played fraction of the audio onto the word that
// should be sounding, returning the index into starts.
func positionBoundary(text string, starts []int, fraction float64) int {
	if len(starts) == 0 {
		return -1
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	runes := utf8.RuneCountInString(text)
	target := int(fraction * float64(runes))

	idx, seen, prev := 0, 0, 0
	for i, pos := range starts {
		seen += utf8.RuneCountInString(text[prev:pos])
		prev = pos
		if seen > target {
			break
		}
		idx = i
	}
	return idx
}
