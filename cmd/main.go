package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"quizquest/internal/cli/scheme/colours"
	"quizquest/internal/config"
	"quizquest/internal/quest"
)

func main() {
	var (
		app        *quest.QuizQuest
		configFile string
	)

	// run defers building the app until flags (and so --config) are parsed
	run := func(handler func(*quest.QuizQuest, *cobra.Command, []string)) func(*cobra.Command, []string) {
		return func(cmd *cobra.Command, args []string) {
			handler(app, cmd, args)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "quizquest",
		Short: "🧭 Learn by listening, one quest at a time",
		Long: `
┌─────────────────────────────────────┐
│  🧭 Welcome to QuizQuest! 📚        │
│  Lessons read aloud, word by word   │
│  Quizzes and quests from your notes │
└─────────────────────────────────────┘

QuizQuest reads lessons aloud with live word highlighting, remembers where
you stopped, and turns your own notes into quizzes.
		`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Init(configFile); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg := config.Load()
			config.ConfigureLogging(cfg.LogLevel)

			var err error
			if app, err = quest.NewQuizQuest(cfg); err != nil {
				return err
			}

			// Setup signal handling for graceful shutdown
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigChan
				app.Shutdown()
				fmt.Println("\n" + colours.Warning.Sprint("👋 Goodbye! Keep questing! 🧭"))
				os.Exit(0)
			}()
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app != nil {
				app.Shutdown()
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			app.ShowWelcome()
		},
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ./quizquest.yaml or $HOME/.quizquest/quizquest.yaml)")

	// List command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "📋 List quizzes and quests",
		Long:  "Display the built-in samples and everything you have generated",
		Run:   run((*quest.QuizQuest).ListCreations),
	}

	// Read command
	readCmd := &cobra.Command{
		Use:   "read [id]",
		Short: "📖 Read a lesson aloud",
		Long:  "Read a quiz or quest aloud with live highlighting, resuming where you left off",
		Args:  cobra.MaximumNArgs(1),
		Run:   run((*quest.QuizQuest).ReadCreation),
	}

	quizCmd := &cobra.Command{
		Use:   "quiz [id]",
		Short: "🧩 Answer a quiz",
		Long:  "Ask every question of a quiz or quest and score the answers",
		Args:  cobra.MaximumNArgs(1),
		Run:   run((*quest.QuizQuest).TakeQuiz),
	}

	voicesCmd := &cobra.Command{
		Use:   "voices",
		Short: "🎤 List reading voices",
		Run:   run((*quest.QuizQuest).ListVoices),
	}

	generateCmd := &cobra.Command{
		Use:   "generate [file|-]",
		Short: "🪄 Turn notes into a quiz",
		Long:  "Generate a quiz or quest from a text file, or from stdin with '-'",
		Args:  cobra.MaximumNArgs(1),
		Run:   run((*quest.QuizQuest).Generate),
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "🌐 Start the API and live captions",
		Long:  "Serve creations, reading positions and a caption websocket over HTTP",
		Run:   run((*quest.QuizQuest).Serve),
	}

	// Settings command
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "⚙️ Show TTS settings",
		Long:  "Show voice, speed and playback settings",
		Run:   run((*quest.QuizQuest).ConfigureSettings),
	}

	// Add flags
	listCmd.Flags().StringP("type", "t", "", "Filter by type (quiz or quest)")
	listCmd.Flags().String("tag", "", "Filter by tag")
	readCmd.Flags().StringP("voice", "v", "", "Optional voice to use for reading. See 'voices' for options")
	readCmd.Flags().StringP("rate", "r", "", "Reading speed: 0.5x, 0.75x, 1x, 1.25x, 1.5x, 1.75x or 2x")
	readCmd.Flags().BoolP("interactive", "i", false, "Interactive selection")
	readCmd.Flags().Bool("from-start", false, "Ignore the saved position")
	voicesCmd.Flags().String("lang", "", "Language to pick the default voice for")
	serveCmd.Flags().String("addr", "", "Listen address (default server.addr)")
	serveCmd.Flags().String("read", "", "Read this creation aloud while serving captions")
	settingsCmd.Flags().Bool("clear-cache", false, "Clear the audio cache")

	rootCmd.AddCommand(listCmd, readCmd, quizCmd, voicesCmd, generateCmd, serveCmd, settingsCmd)

	if err := rootCmd.Execute(); err != nil {
		logrus.WithError(err).Debug("Command failed")
		colours.Error.Printf("❌ Error: %v\n", err)
		os.Exit(1)
	}
}
