package tts

import (
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// SayEngine speaks through the macOS `say` command.
type SayEngine struct {
	processEngine
}

func newSayEngine(config Config) (*SayEngine, error) {
	if runtime.GOOS != "darwin" {
		return nil, fmt.Errorf("say engine only supports macOS")
	}
	path, err := exec.LookPath("say")
	if err != nil {
		return nil, fmt.Errorf("say not found: %w", err)
	}

	engine := &SayEngine{}
	engine.processEngine = processEngine{
		name: "say",
		path: path,
		argv: sayArgs,
	}
	return engine, nil
}

func sayArgs(u *Utterance) []string {
	args := []string{}

	if u.Voice.ID != "" && u.Voice.ID != "default" {
		args = append(args, "-v", u.Voice.ID)
	}

	// words per minute, ~175 by default
	rate := u.Rate
	if rate <= 0 {
		rate = 1
	}
	args = append(args, "-r", strconv.Itoa(int(baseWordsPerMinute*rate)))

	return append(args, u.Text)
}

func (s *SayEngine) GetAvailableVoices() ([]Voice, error) {
	output, err := exec.Command(s.path, "-v", "?").Output()
	if err != nil {
		return nil, err
	}
	return parseSayVoices(string(output)), nil
}

// parseSayVoices reads lines of the form
// "Samantha            en_US    # Hello! My name is Samantha."
func parseSayVoices(output string) []Voice {
	voices := make([]Voice, 0)

	for _, line := range strings.Split(output, "\n") {
		head, _, _ := strings.Cut(line, "#")
		fields := strings.Fields(head)
		if len(fields) < 2 {
			continue
		}

		lang := fields[len(fields)-1]
		name := strings.Join(fields[:len(fields)-1], " ")
		voices = append(voices, Voice{
			ID:       name,
			Name:     name,
			Language: strings.ReplaceAll(lang, "_", "-"),
		})
	}

	return voices
}
