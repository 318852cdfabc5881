// Cross-platform eSpeak implementation
package tts

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ESpeakEngine implements TTS using eSpeak/eSpeak-NG
type ESpeakEngine struct {
	processEngine
	config Config
}

// newESpeakEngine creates a new eSpeak TTS engine
func newESpeakEngine(config Config) (*ESpeakEngine, error) {
	espeakPath, err := findESpeakExecutable()
	if err != nil {
		return nil, fmt.Errorf("eSpeak not found: %w", err)
	}

	if err := exec.Command(espeakPath, "--version").Run(); err != nil {
		return nil, fmt.Errorf("eSpeak test failed: %w", err)
	}

	engine := &ESpeakEngine{config: config}
	engine.processEngine = processEngine{
		name: "espeak",
		path: espeakPath,
		argv: engine.args,
	}
	return engine, nil
}

func findESpeakExecutable() (string, error) {
	candidates := []string{"espeak-ng", "espeak"}

	for _, candidate := range candidates {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("eSpeak executable not found in PATH")
}

func (e *ESpeakEngine) args(u *Utterance) []string {
	args := []string{}

	if u.Voice.ID != "" && u.Voice.ID != "default" {
		args = append(args, "-v", u.Voice.ID)
	}

	// words per minute, default is 175
	rate := u.Rate
	if rate <= 0 {
		rate = 1
	}
	args = append(args, "-s", strconv.Itoa(int(baseWordsPerMinute*rate)))

	// amplitude 0-200, default is 100
	volume := e.config.Volume
	if volume <= 0 {
		volume = 1
	}
	args = append(args, "-a", strconv.Itoa(int(100*volume)))

	return append(args, u.Text)
}

func (e *ESpeakEngine) GetAvailableVoices() ([]Voice, error) {
	output, err := exec.Command(e.path, "--voices").Output()
	if err != nil {
		return nil, err
	}

	return parseESpeakVoices(string(output)), nil
}

// parseESpeakVoices reads the table printed by `espeak --voices`:
// Pty Language Age/Gender VoiceName File Other Languages
func parseESpeakVoices(output string) []Voice {
	lines := strings.Split(output, "\n")
	voices := make([]Voice, 0)

	for i, line := range lines {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}

		voices = append(voices, Voice{
			ID:       fields[1],
			Name:     strings.ReplaceAll(fields[3], "_", " "),
			Language: fields[1],
			Gender:   espeakGender(fields[2]),
		})
	}

	return voices
}

func espeakGender(ageGender string) string {
	switch {
	case strings.HasSuffix(ageGender, "/M"):
		return "male"
	case strings.HasSuffix(ageGender, "/F"):
		return "female"
	default:
		return ""
	}
}
