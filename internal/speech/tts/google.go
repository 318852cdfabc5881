package tts

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/sirupsen/logrus"
	texttospeechpb "google.golang.org/genproto/googleapis/cloud/texttospeech/v1"
	"lukechampine.com/blake3"
)

const (
	defaultGoogleVoice = "en-GB-Chirp3-HD-Umbriel"
	// a little under the 5000 byte request limit
	googleChunkLimit = 4800
)

var (
	speakerOnce sync.Once
	speakerRate beep.SampleRate
	speakerErr  error
)

type GoogleClassicTTSEngine struct {
	client       *texttospeech.Client
	ctx          context.Context
	voice        string
	volume       float64
	cacheRootDir string
	playback     *googlePlayback
	mu           sync.Mutex

	// synth produces the MP3 chunk files for an utterance
	synth func(text, voice, language string, rate float64) ([]string, error)
}

// googlePlayback is one utterance decoded from cached MP3 chunks.
type googlePlayback struct {
	u           *Utterance
	ctrl        *beep.Ctrl
	files       []beep.StreamSeekCloser
	played      atomic.Int64
	total       int64
	interrupted atomic.Bool
	done        chan struct{}
	once        sync.Once
}

func newGoogleClassicTTSEngine(config Config) (*GoogleClassicTTSEngine, error) {
	ctx := context.Background()
	client, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create TTS client: %w", err)
	}

	cacheDir := config.CachePath
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "quizquest", "tts")
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	voice := config.Voice
	if voice == "" || voice == "default" {
		voice = defaultGoogleVoice
	}

	g := &GoogleClassicTTSEngine{
		client:       client,
		ctx:          ctx,
		voice:        voice,
		volume:       config.Volume,
		cacheRootDir: cacheDir,
	}
	g.synth = g.synthesize
	return g, nil
}

// Speak returns as soon as the utterance is queued. Synthesis runs in the
// background and failures arrive through OnError.
func (g *GoogleClassicTTSEngine) Speak(u *Utterance) error {
	voice := u.Voice.ID
	if voice == "" || voice == "default" {
		voice = g.voice
	}

	g.mu.Lock()
	g.detach()
	pb := &googlePlayback{u: u, ctrl: &beep.Ctrl{}, done: make(chan struct{})}
	g.playback = pb
	g.mu.Unlock()

	go g.play(pb, voice, languageOf(u.Voice, voice))
	return nil
}

func (g *GoogleClassicTTSEngine) play(pb *googlePlayback, voice, language string) {
	u := pb.u
	paths, err := g.synth(u.Text, voice, language, u.Rate)
	var streamers []beep.Streamer
	if err == nil {
		streamers, err = pb.open(paths)
	}

	g.mu.Lock()
	current := g.playback == pb && !pb.interrupted.Load()
	if !current || err != nil {
		if g.playback == pb {
			g.playback = nil
		}
		g.mu.Unlock()
		pb.close()

		if !current {
			u.failed(ErrInterrupted)
			return
		}
		u.failed(err)
		return
	}

	pb.ctrl.Streamer = beep.Seq(streamers...)
	speaker.Play(beep.Seq(pb.ctrl, beep.Callback(func() {
		// runs on the speaker goroutine with the speaker locked
		go g.finished(pb)
	})))
	g.mu.Unlock()

	u.started()
	go pb.trackBoundaries()
}

// open decodes the chunk files into one stream at the speaker's rate.
func (pb *googlePlayback) open(paths []string) ([]beep.Streamer, error) {
	streamers := make([]beep.Streamer, 0, len(paths))
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open cached MP3 %s: %w", path, err)
		}
		streamer, format, err := mp3.Decode(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to decode MP3 %s: %w", path, err)
		}
		pb.files = append(pb.files, streamer)
		if err := initSpeaker(format.SampleRate); err != nil {
			return nil, err
		}
		pb.total += int64(streamer.Len())

		var s beep.Streamer = &countingStreamer{s: streamer, n: &pb.played}
		if format.SampleRate != speakerRate {
			s = beep.Resample(4, format.SampleRate, speakerRate, s)
		}
		streamers = append(streamers, s)
	}
	return streamers, nil
}

// synthesize returns the MP3 chunk files for text, generating the missing ones.
func (g *GoogleClassicTTSEngine) synthesize(text, voice, language string, rate float64) ([]string, error) {
	cacheDir := filepath.Join(g.cacheRootDir, voice)
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", cacheDir, err)
	}

	audioCfg := &texttospeechpb.AudioConfig{
		AudioEncoding: texttospeechpb.AudioEncoding_MP3,
	}
	// Chirp voices don't support speakingRate/volume
	if !strings.Contains(strings.ToLower(voice), "chirp") {
		if rate > 0 {
			audioCfg.SpeakingRate = rate
		}
		audioCfg.VolumeGainDb = g.volume
	}

	key := cacheKey(text, voice, rate)
	chunks := splitIntoChunks(text, googleChunkLimit)
	paths := make([]string, len(chunks))

	for i, chunk := range chunks {
		paths[i] = filepath.Join(cacheDir, fmt.Sprintf("%s_%d.mp3", key, i))
		if _, err := os.Stat(paths[i]); err == nil {
			continue
		}

		req := &texttospeechpb.SynthesizeSpeechRequest{
			Input: &texttospeechpb.SynthesisInput{
				InputSource: &texttospeechpb.SynthesisInput_Text{Text: chunk},
			},
			Voice: &texttospeechpb.VoiceSelectionParams{
				LanguageCode: language,
				Name:         voice,
			},
			AudioConfig: audioCfg,
		}
		resp, err := g.client.SynthesizeSpeech(g.ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to synthesize chunk %d: %w", i, err)
		}

		if err := os.WriteFile(paths[i], resp.AudioContent, 0644); err != nil {
			return nil, fmt.Errorf("failed to write MP3 chunk %d to %s: %w", i, paths[i], err)
		}

		logrus.WithFields(logrus.Fields{
			"chunk": i + 1,
			"total": len(chunks),
			"path":  paths[i],
		}).Debug("Cached audio chunk")
	}

	return paths, nil
}

func (g *GoogleClassicTTSEngine) finished(pb *googlePlayback) {
	pb.close()

	g.mu.Lock()
	if g.playback == pb {
		g.playback = nil
	}
	g.mu.Unlock()

	if pb.interrupted.Load() {
		pb.u.failed(ErrInterrupted)
		return
	}
	pb.u.ended()
}

// detach drains the active playback; callers hold g.mu. A playback still
// being synthesized notices the interruption when synthesis returns.
func (g *GoogleClassicTTSEngine) detach() {
	pb := g.playback
	if pb == nil {
		return
	}
	g.playback = nil
	pb.interrupted.Store(true)
	if pb.ctrl.Streamer == nil {
		return
	}

	speaker.Lock()
	// a nil streamer makes Ctrl report itself drained, which runs the callback
	pb.ctrl.Streamer = nil
	speaker.Unlock()
}

func (g *GoogleClassicTTSEngine) Cancel() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.detach()
	return nil
}

func (g *GoogleClassicTTSEngine) Pause() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.playback != nil {
		speaker.Lock()
		g.playback.ctrl.Paused = true
		speaker.Unlock()
	}
	return nil
}

func (g *GoogleClassicTTSEngine) Resume() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.playback != nil {
		speaker.Lock()
		g.playback.ctrl.Paused = false
		speaker.Unlock()
	}
	return nil
}

func (g *GoogleClassicTTSEngine) IsSpeaking() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.playback != nil && !g.paused()
}

func (g *GoogleClassicTTSEngine) IsPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.playback != nil && g.paused()
}

func (g *GoogleClassicTTSEngine) paused() bool {
	speaker.Lock()
	defer speaker.Unlock()
	return g.playback.ctrl.Paused
}

func (g *GoogleClassicTTSEngine) GetAvailableVoices() ([]Voice, error) {
	resp, err := g.client.ListVoices(g.ctx, &texttospeechpb.ListVoicesRequest{})
	if err != nil {
		return nil, err
	}
	voices := make([]Voice, 0, len(resp.Voices))
	for _, v := range resp.Voices {
		lang := ""
		if len(v.LanguageCodes) > 0 {
			lang = v.LanguageCodes[0]
		}
		voices = append(voices, Voice{
			ID:       v.Name,
			Name:     v.Name,
			Language: lang,
			Gender:   strings.ToLower(v.SsmlGender.String()),
		})
	}
	return voices, nil
}

// GetCacheStats returns cache statistics for the current engine
func (g *GoogleClassicTTSEngine) GetCacheStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var totalFiles int64
	var totalSize int64

	err := filepath.Walk(g.cacheRootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Continue walking despite errors
		}

		if !info.IsDir() && strings.HasSuffix(strings.ToLower(info.Name()), ".mp3") {
			totalFiles++
			totalSize += info.Size()
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	stats["cache_directory"] = g.cacheRootDir
	stats["cached_files"] = totalFiles
	stats["total_size_mb"] = float64(totalSize) / (1024 * 1024)

	return stats, nil
}

// ClearCache removes all cached files
func (g *GoogleClassicTTSEngine) ClearCache() error {
	return os.RemoveAll(g.cacheRootDir)
}

// trackBoundaries estimates word boundaries from how much audio has played.
func (pb *googlePlayback) trackBoundaries() {
	starts := WordBoundaries(pb.u.Text)
	if len(starts) == 0 || pb.total == 0 {
		return
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	last := -1
	for {
		select {
		case <-pb.done:
			return
		case <-ticker.C:
		}
		fraction := float64(pb.played.Load()) / float64(pb.total)
		idx := positionBoundary(pb.u.Text, starts, fraction)
		for last < idx {
			last++
			pb.u.boundary(starts[last])
		}
	}
}

func (pb *googlePlayback) close() {
	pb.once.Do(func() {
		close(pb.done)
		for _, f := range pb.files {
			f.Close()
		}
	})
}

type countingStreamer struct {
	s beep.Streamer
	n *atomic.Int64
}

func (c *countingStreamer) Stream(samples [][2]float64) (int, bool) {
	n, ok := c.s.Stream(samples)
	c.n.Add(int64(n))
	return n, ok
}

func (c *countingStreamer) Err() error {
	return c.s.Err()
}

func initSpeaker(rate beep.SampleRate) error {
	speakerOnce.Do(func() {
		speakerRate = rate
		speakerErr = speaker.Init(rate, rate.N(time.Second/10))
	})
	return speakerErr
}

// languageOf prefers the voice's language, then the "en-GB" prefix of
// Google voice names.
func languageOf(v Voice, name string) string {
	if v.Language != "" {
		return v.Language
	}
	parts := strings.SplitN(name, "-", 3)
	if len(parts) >= 2 {
		return parts[0] + "-" + parts[1]
	}
	return "en-US"
}

func cacheKey(text, voice string, rate float64) string {
	sum := blake3.Sum256([]byte(fmt.Sprintf("%s|%.2f|%s", voice, rate, text)))
	return hex.EncodeToString(sum[:8])
}

// splitIntoChunks cuts text into pieces of at most limit bytes, preferring
// to break after whitespace and never inside a UTF-8 sequence.
func splitIntoChunks(text string, limit int) []string {
	var chunks []string
	for len(text) > 0 {
		end := len(text)
		if end > limit {
			end = limit
			for end > 0 && !utf8.RuneStart(text[end]) {
				end--
			}
			if i := strings.LastIndexFunc(text[:end], unicode.IsSpace); i > 0 {
				_, size := utf8.DecodeRuneInString(text[i:])
				end = i + size
			}
			if end == 0 {
				_, end = utf8.DecodeRuneInString(text)
			}
		}
		chunks = append(chunks, text[:end])
		text = text[end:]
	}
	return chunks
}
