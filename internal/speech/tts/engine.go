package tts

import (
	"fmt"
	"os"
	"runtime"

	"github.com/sirupsen/logrus"
)

type EngineType string

const (
	EngineTypeMock          EngineType = "mock"
	EngineTypeESpeak        EngineType = "espeak"
	EngineTypeSay           EngineType = "say" // macOS only
	EngineTypeGoogleClassic EngineType = "googleclassic"
	EngineTypeAuto          EngineType = "auto" // Automatically choose best for platform
)

func (e EngineType) String() string {
	return string(e)
}

// NewEngine creates a new TTS engine based on the provided config
func NewEngine(config Config) (Engine, error) {
	if config.Type == "" || config.Type == EngineTypeAuto.String() {
		return newBestEngine(config), nil
	}

	switch config.Type {
	case EngineTypeMock.String():
		return NewMockTTSEngine(config).Simulate(), nil

	case EngineTypeGoogleClassic.String():
		return newGoogleClassicTTSEngine(config)

	case EngineTypeESpeak.String():
		return newESpeakEngine(config)

	case EngineTypeSay.String():
		return newSayEngine(config)

	default:
		return nil, fmt.Errorf("unsupported TTS engine type: %s", config.Type)
	}
}

// newBestEngine walks the platform preference list and falls back to the
// simulated mock engine when nothing can be created.
func newBestEngine(config Config) Engine {
	for _, t := range preferredEngines() {
		c := config
		c.Type = t.String()
		engine, err := NewEngine(c)
		if err == nil {
			logrus.WithField("engine", t).Debug("Selected TTS engine")
			return engine
		}
		logrus.WithError(err).WithField("engine", t).Debug("TTS engine unavailable")
	}

	logrus.Warn("No speech engine available, falling back to simulated reading")
	return NewMockTTSEngine(config).Simulate()
}

// preferredEngines returns the recommended engines for the current platform, best first
func preferredEngines() []EngineType {
	var engines []EngineType
	if hasGoogleCredentials() {
		engines = append(engines, EngineTypeGoogleClassic)
	}

	if runtime.GOOS == "darwin" {
		engines = append(engines, EngineTypeSay)
	}

	return append(engines, EngineTypeESpeak)
}

// GetAvailableEngines returns engines available on the current platform
func GetAvailableEngines() []EngineType {
	return append(preferredEngines(), EngineTypeMock)
}

// hasGoogleCredentials checks if Google Cloud credentials are available
func hasGoogleCredentials() bool {
	_, ok := os.LookupEnv("GOOGLE_APPLICATION_CREDENTIALS")
	return ok
}
