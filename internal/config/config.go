package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"quizquest/internal/speech/tts"
)

type Config struct {
	TTS      tts.Config
	Language string
	Gender   string

	SpeakDelay       time.Duration
	ResumeCheckDelay time.Duration
	PauseBudget      time.Duration

	StorePath  string
	ServerAddr string
	UserID     string

	Generator Generator

	LogLevel string
	// Tokens maps bearer tokens to the user they act as.
	Tokens map[string]string
}

type Generator struct {
	Provider    string
	Model       string
	APIKey      string
	CacheDir    string
	CacheMaxAge time.Duration
}

func SetDefaults() {
	viper.SetDefault("tts.type", "auto") // Auto-select best engine
	viper.SetDefault("tts.voice", "default")
	viper.SetDefault("tts.language", tts.DefaultLanguage)
	viper.SetDefault("tts.gender", "")
	viper.SetDefault("tts.rate", 1.0)
	viper.SetDefault("tts.volume", 1.0)
	viper.SetDefault("tts.cache_path", "")

	viper.SetDefault("playback.speak_delay", "50ms")
	viper.SetDefault("playback.resume_check_delay", "100ms")
	viper.SetDefault("playback.pause_budget", "10s")

	viper.SetDefault("store.path", "quizquest.db")
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("user.id", "local")

	viper.SetDefault("generator.provider", "mock")
	viper.SetDefault("generator.model", "gemini-2.0-flash")
	viper.SetDefault("generator.api_key", "")
	viper.SetDefault("generator.cache_dir", "")
	viper.SetDefault("generator.cache_max_age", "168h")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("auth.tokens", []any{})
}

// Init reads .env, the quizquest.yaml config file and QUIZQUEST_* environment
// overrides. A missing config file is not an error.
func Init(configFile string) error {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, relying on environment variables")
	}

	SetDefaults()

	viper.SetEnvPrefix("quizquest")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("quizquest")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME/.quizquest")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	logrus.WithField("file", viper.ConfigFileUsed()).Debug("Loaded config")
	return nil
}

// Load snapshots the current viper settings.
func Load() Config {
	return Config{
		TTS: tts.Config{
			Type:      viper.GetString("tts.type"),
			Rate:      viper.GetFloat64("tts.rate"),
			Volume:    viper.GetFloat64("tts.volume"),
			Voice:     viper.GetString("tts.voice"),
			Language:  viper.GetString("tts.language"),
			CachePath: viper.GetString("tts.cache_path"),
		},
		Language: viper.GetString("tts.language"),
		Gender:   viper.GetString("tts.gender"),

		SpeakDelay:       viper.GetDuration("playback.speak_delay"),
		ResumeCheckDelay: viper.GetDuration("playback.resume_check_delay"),
		PauseBudget:      viper.GetDuration("playback.pause_budget"),

		StorePath:  viper.GetString("store.path"),
		ServerAddr: viper.GetString("server.addr"),
		UserID:     viper.GetString("user.id"),

		Generator: Generator{
			Provider:    viper.GetString("generator.provider"),
			Model:       viper.GetString("generator.model"),
			APIKey:      apiKey(),
			CacheDir:    viper.GetString("generator.cache_dir"),
			CacheMaxAge: viper.GetDuration("generator.cache_max_age"),
		},

		LogLevel: viper.GetString("log.level"),
		Tokens:   tokens(),
	}
}

// Token grants a bearer token the identity of one user. Tokens are read as a
// list because viper lowercases map keys.
type Token struct {
	Token string `mapstructure:"token"`
	User  string `mapstructure:"user"`
}

func tokens() map[string]string {
	var list []Token
	if err := viper.UnmarshalKey("auth.tokens", &list); err != nil {
		logrus.WithError(err).Warn("Ignoring malformed auth.tokens")
		return map[string]string{}
	}

	m := make(map[string]string, len(list))
	for _, t := range list {
		if t.Token == "" || t.User == "" {
			logrus.WithField("user", t.User).Warn("Skipping incomplete auth token")
			continue
		}
		m[t.Token] = t.User
	}
	return m
}

// apiKey falls back to the GEMINI_API_KEY variable most setups already have.
func apiKey() string {
	if key := viper.GetString("generator.api_key"); key != "" {
		return key
	}
	_ = viper.BindEnv("gemini_api_key", "GEMINI_API_KEY")
	return viper.GetString("gemini_api_key")
}

// ConfigureLogging applies log.level to the global logrus logger.
func ConfigureLogging(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.WithError(err).WithField("level", level).Warn("Unknown log level, using info")
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}
