package quest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"quizquest/internal/cli/scheme/colours"
	"quizquest/internal/config"
	"quizquest/internal/domain/creation"
	"quizquest/internal/domain/library"
	"quizquest/internal/domain/library/generator"
	"quizquest/internal/server"
	"quizquest/internal/speech/tts"
	"quizquest/internal/store"
)

// QuizQuest main application structure
type QuizQuest struct {
	cfg         config.Config
	collections []library.Collection
	store       *store.Store

	Tts    tts.Engine
	ctx    context.Context
	Cancel context.CancelFunc

	in  *bufio.Reader
	out io.Writer

	mu      sync.Mutex
	session *session
	closing sync.Mutex
}

func NewQuizQuest(cfg config.Config) (*QuizQuest, error) {
	engine, err := tts.NewEngine(cfg.TTS)
	if err != nil {
		return nil, fmt.Errorf("failed to create tts engine: %w", err)
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		logrus.WithError(err).Warn("Reading positions will not be saved")
		st = nil
	}

	return newQuizQuest(cfg, engine, st, os.Stdin, os.Stdout), nil
}

func newQuizQuest(cfg config.Config, engine tts.Engine, st *store.Store, in io.Reader, out io.Writer) *QuizQuest {
	ctx, cancel := context.WithCancel(context.Background())
	return &QuizQuest{
		cfg:         cfg,
		collections: library.Samples(),
		store:       st,
		Tts:         engine,
		ctx:         ctx,
		Cancel:      cancel,
		in:          bufio.NewReader(in),
		out:         out,
	}
}

// Shutdown saves the active reading position and releases resources.
func (qq *QuizQuest) Shutdown() {
	qq.Cancel()
	qq.endSession(sessionEnd{outcome: outcomeQuit})
	if qq.store != nil {
		qq.store.Close()
	}
}

func (qq *QuizQuest) ShowWelcome() {
	fmt.Fprintln(qq.out)
	colours.Title.Fprintln(qq.out, "🌟 Welcome to QuizQuest! 🌟")
	fmt.Fprintln(qq.out)
	colours.Info.Fprintln(qq.out, "📚 Available commands:")
	fmt.Fprintln(qq.out, "  • quizquest list            - Browse quizzes and quests")
	fmt.Fprintln(qq.out, "  • quizquest read [id]       - Read a lesson aloud")
	fmt.Fprintln(qq.out, "  • quizquest quiz [id]       - Answer the questions")
	fmt.Fprintln(qq.out, "  • quizquest generate <file> - Turn your notes into a quiz")
	fmt.Fprintln(qq.out, "  • quizquest voices          - List reading voices")
	fmt.Fprintln(qq.out, "  • quizquest serve           - Start the API and live captions")
	fmt.Fprintln(qq.out, "  • quizquest settings        - Show voice settings")
	fmt.Fprintln(qq.out)
	colours.Prompt.Fprintln(qq.out, "✨ Ready for a learning adventure? ✨")
}

// creations lists stored creations first, then the built-in samples.
func (qq *QuizQuest) creations() []creation.Creation {
	var all []creation.Creation
	if qq.store != nil {
		stored, err := qq.store.ListCreations(qq.ctx)
		if err != nil {
			logrus.WithError(err).Warn("Failed to list saved creations")
		}
		all = append(all, stored...)
	}
	return append(all, library.All(qq.collections)...)
}

func (qq *QuizQuest) findCreation(id string) *creation.Creation {
	if qq.store != nil {
		if c, err := qq.store.GetCreation(qq.ctx, id); err == nil {
			return c
		}
	}
	if c, ok := library.Find(qq.collections, id); ok {
		return c
	}
	return nil
}

func (qq *QuizQuest) ListCreations(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	tag, _ := cmd.Flags().GetString("tag")

	fmt.Fprintln(qq.out)
	colours.Title.Fprintln(qq.out, "📚 Quizzes & Quests 📚")
	fmt.Fprintln(qq.out)

	found := library.Filter(qq.creations(), creation.Type(typ), tag)
	for i, c := range found {
		fmt.Fprintf(qq.out, "  %d. ", i+1)
		colours.Title.Fprintf(qq.out, "%s", c.Title)
		fmt.Fprintf(qq.out, " (%s, %d questions)\n", c.Type, len(c.Questions()))
		if c.Description != "" {
			fmt.Fprintf(qq.out, "     💡 %s\n", c.Description)
		}
		if len(c.Tags) > 0 {
			colours.Tag.Fprintf(qq.out, "     🏷️  %s\n", strings.Join(c.Tags, ", "))
		}
		colours.Info.Fprintf(qq.out, "     ID: %s\n", c.ID)
		fmt.Fprintln(qq.out)
	}

	if len(found) == 0 {
		colours.Warning.Fprintln(qq.out, "🔍 Nothing found matching your criteria.")
	} else {
		colours.Success.Fprintf(qq.out, "✨ Found %d! ✨\n", len(found))
	}
}

func (qq *QuizQuest) ReadCreation(cmd *cobra.Command, args []string) {
	interactive, _ := cmd.Flags().GetBool("interactive")
	opts := readOptions{}
	opts.voice, _ = cmd.Flags().GetString("voice")
	opts.fromStart, _ = cmd.Flags().GetBool("from-start")
	if rate, _ := cmd.Flags().GetString("rate"); rate != "" {
		r, err := tts.ParseRate(rate)
		if err != nil {
			colours.Error.Fprintf(qq.out, "❌ %v (choose one of %v)\n", err, tts.Rates)
			return
		}
		opts.rate = r
	}

	var c *creation.Creation
	if len(args) == 0 || interactive {
		c = qq.interactiveSelection()
	} else if c = qq.findCreation(args[0]); c == nil {
		colours.Error.Fprintf(qq.out, "❌ Nothing with ID '%s' found!\n", args[0])
	}
	if c == nil {
		return
	}

	qq.display(c)
	qq.readAloud(c, opts)
}

// TakeQuiz asks every question of a creation and scores the answers.
func (qq *QuizQuest) TakeQuiz(cmd *cobra.Command, args []string) {
	var c *creation.Creation
	if len(args) == 0 {
		c = qq.interactiveSelection()
	} else if c = qq.findCreation(args[0]); c == nil {
		colours.Error.Fprintf(qq.out, "❌ Nothing with ID '%s' found!\n", args[0])
	}
	if c == nil {
		return
	}

	questions := c.Questions()
	if len(questions) == 0 {
		colours.Warning.Fprintln(qq.out, "🔍 No questions here, just reading!")
		return
	}

	fmt.Fprintln(qq.out)
	colours.Title.Fprintf(qq.out, "🧩 %s\n", c.Title)

	answers := make([]int, len(questions))
	for i := range answers {
		answers[i] = -1
	}
	for i, q := range questions {
		fmt.Fprintf(qq.out, "\n%d/%d. %s\n", i+1, len(questions), q.Question)
		for j, o := range q.Options {
			fmt.Fprintf(qq.out, "   %d) %s\n", j+1, o)
		}
		colours.Prompt.Fprint(qq.out, "🌟 Your answer: ")

		line, err := qq.in.ReadString('\n')
		if n, convErr := strconv.Atoi(strings.TrimSpace(line)); convErr == nil && n >= 1 && n <= len(q.Options) {
			answers[i] = n - 1
		}
		if answers[i] == q.CorrectIndex {
			colours.Success.Fprintln(qq.out, "✅ Correct!")
		} else {
			colours.Error.Fprintf(qq.out, "❌ The answer was: %s\n", q.Options[q.CorrectIndex])
		}
		if q.Explanation != "" {
			colours.Info.Fprintf(qq.out, "💡 %s\n", q.Explanation)
		}
		if err != nil {
			// out of input, the rest stay unanswered
			fmt.Fprintln(qq.out)
			break
		}
	}

	r := creation.Score(questions, answers)
	fmt.Fprintln(qq.out)
	if r.Passed {
		colours.Success.Fprintf(qq.out, "🏆 %d/%d (%d%%) Passed!\n", r.Correct, r.Total, r.Percent)
	} else {
		colours.Warning.Fprintf(qq.out, "📚 %d/%d (%d%%). You need %d%% to pass, read it again and retry!\n",
			r.Correct, r.Total, r.Percent, creation.PassMark)
	}
}

func (qq *QuizQuest) interactiveSelection() *creation.Creation {
	all := qq.creations()
	if len(all) == 0 {
		colours.Error.Fprintln(qq.out, "❌ Nothing available!")
		return nil
	}

	fmt.Fprintln(qq.out)
	colours.Title.Fprintln(qq.out, "📚 Choose Your Adventure! 📚")
	fmt.Fprintln(qq.out)
	for i, c := range all {
		fmt.Fprintf(qq.out, "%d. ", i+1)
		colours.Title.Fprintf(qq.out, "%s", c.Title)
		fmt.Fprintf(qq.out, " (%s)\n", c.Type)
	}

	fmt.Fprintln(qq.out)
	colours.Prompt.Fprint(qq.out, "🌟 Enter a number (or 'q' to quit): ")

	input, _ := qq.in.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "q" || input == "quit" {
		colours.Warning.Fprintln(qq.out, "👋 Maybe next time!")
		return nil
	}

	choice, err := strconv.Atoi(input)
	if err != nil || choice < 1 || choice > len(all) {
		colours.Error.Fprintln(qq.out, "❌ Invalid selection! Please try again.")
		return nil
	}
	return &all[choice-1]
}

func (qq *QuizQuest) display(c *creation.Creation) {
	fmt.Fprintln(qq.out)
	colours.Title.Fprintf(qq.out, "📖 %s\n", c.Title)
	if c.Description != "" {
		fmt.Fprintf(qq.out, "💡 %s\n", c.Description)
	}
	fmt.Fprintf(qq.out, "🎯 %s | %d stages | %d questions\n", c.Type, len(c.Stages), len(c.Questions()))
	fmt.Fprintln(qq.out)
}

func (qq *QuizQuest) ListVoices(cmd *cobra.Command, args []string) {
	lang, _ := cmd.Flags().GetString("lang")
	if lang == "" {
		lang = qq.cfg.Language
	}

	voices, err := qq.Tts.GetAvailableVoices()
	if err != nil {
		colours.Error.Fprintf(qq.out, "❌ Failed to list voices: %v\n", err)
		return
	}
	def, hasDefault := tts.SelectVoice(voices, lang, qq.cfg.Gender)

	fmt.Fprintln(qq.out)
	colours.Title.Fprintln(qq.out, "🎤 Voices 🎤")
	for _, v := range voices {
		marker := "  "
		if hasDefault && v.ID == def.ID {
			marker = "➜ "
		}
		fmt.Fprintf(qq.out, "%s%-28s %-8s %s\n", marker, v.ID, v.Language, v.Gender)
	}
	if hasDefault {
		colours.Success.Fprintf(qq.out, "\n✨ Default for '%s': %s\n", lang, def.ID)
	} else {
		colours.Warning.Fprintf(qq.out, "\n🔍 No voice found for '%s'\n", lang)
	}
}

func (qq *QuizQuest) Generate(cmd *cobra.Command, args []string) {
	var (
		content []byte
		err     error
	)
	if len(args) == 0 || args[0] == "-" {
		content, err = io.ReadAll(qq.in)
	} else {
		content, err = os.ReadFile(args[0])
	}
	if err != nil {
		colours.Error.Fprintf(qq.out, "❌ Failed to read content: %v\n", err)
		return
	}

	gen, err := generator.New(qq.ctx, qq.generatorConfig())
	if err != nil {
		colours.Error.Fprintf(qq.out, "❌ %v\n", err)
		return
	}
	defer closeGenerator(gen)

	colours.Info.Fprintln(qq.out, "🪄 Generating...")
	c, err := gen.Generate(qq.ctx, generator.Request{Content: string(content), ContentType: generator.ContentTypeText})
	if err != nil {
		logrus.WithError(err).Debug("Generation failed")
		colours.Error.Fprintf(qq.out, "❌ %v\n", generator.ErrGenerationFailed)
		return
	}

	if qq.store != nil {
		if err := qq.store.SaveCreation(qq.ctx, c); err != nil {
			colours.Error.Fprintf(qq.out, "❌ Failed to save: %v\n", err)
			return
		}
	}

	qq.display(c)
	colours.Success.Fprintf(qq.out, "✅ Saved! Read it with: quizquest read %s\n", c.ID)
}

func (qq *QuizQuest) Serve(cmd *cobra.Command, args []string) {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = qq.cfg.ServerAddr
	}
	readID, _ := cmd.Flags().GetString("read")

	gen, err := generator.New(qq.ctx, qq.generatorConfig())
	if err != nil {
		colours.Error.Fprintf(qq.out, "❌ %v\n", err)
		return
	}
	defer closeGenerator(gen)

	srv := server.New(server.Options{
		Store:     qq.store,
		Generator: gen,
		Engine:    qq.Tts,
		Library:   qq.collections,
		Tokens:    qq.cfg.Tokens,
	})

	errc := make(chan error, 1)
	go func() { errc <- srv.Run(qq.ctx, addr) }()
	colours.Success.Fprintf(qq.out, "🌐 Serving on %s (captions at /ws/captions)\n", addr)

	if readID != "" {
		c := qq.findCreation(readID)
		if c == nil {
			colours.Error.Fprintf(qq.out, "❌ Nothing with ID '%s' found!\n", readID)
		} else {
			qq.display(c)
			qq.readAloud(c, readOptions{observer: srv.Captions().Observer(c.ID, qq.controller)})
		}
	}

	if err := <-errc; err != nil {
		colours.Error.Fprintf(qq.out, "❌ Server error: %v\n", err)
	}
}

func (qq *QuizQuest) ConfigureSettings(cmd *cobra.Command, args []string) {
	clearCache, _ := cmd.Flags().GetBool("clear-cache")

	fmt.Fprintln(qq.out)
	colours.Title.Fprintln(qq.out, "⚙️ Reading Settings ⚙️")
	fmt.Fprintln(qq.out)

	colours.Prompt.Fprintln(qq.out, "🎤 Voice Settings:")
	fmt.Fprintf(qq.out, "  • Engine: %s (available: %v)\n", qq.cfg.TTS.Type, tts.GetAvailableEngines())
	fmt.Fprintf(qq.out, "  • Voice: %s\n", qq.cfg.TTS.Voice)
	fmt.Fprintf(qq.out, "  • Language: %s\n", qq.cfg.Language)
	fmt.Fprintf(qq.out, "  • Speed: %gx (choose from %v)\n", qq.cfg.TTS.Rate, tts.Rates)
	fmt.Fprintf(qq.out, "  • Volume: %.0f%%\n", qq.cfg.TTS.Volume*100)
	fmt.Fprintln(qq.out)

	colours.Prompt.Fprintln(qq.out, "⏱️ Playback:")
	fmt.Fprintf(qq.out, "  • Resume check: %v\n", qq.cfg.ResumeCheckDelay)
	fmt.Fprintf(qq.out, "  • Pause budget: %v\n", qq.cfg.PauseBudget)
	fmt.Fprintln(qq.out)

	colours.Prompt.Fprintln(qq.out, "💾 Caches:")

	// only maintenance is needed, so no provider is built
	gcfg := qq.generatorConfig()
	genCache := generator.NewCache(gcfg.CacheDir, gcfg.CacheMaxAge, nil)
	if clearCache {
		if err := genCache.ClearCache(); err != nil {
			colours.Error.Fprintf(qq.out, "❌ Failed to clear generation cache: %v\n", err)
		} else {
			colours.Success.Fprintln(qq.out, "🧹 Generation cache cleared")
		}
	}
	if info, err := genCache.GetCacheInfo(); err == nil {
		fmt.Fprintf(qq.out, "  • Generated: %v creations, %v bytes in %v (max age %vh)\n",
			info["cached_creations"], info["size"], info["cache_directory"], info["max_age_hours"])
	} else {
		logrus.WithError(err).Debug("Generation cache unavailable")
	}

	cacheable, ok := qq.Tts.(tts.CacheableEngine)
	if !ok {
		return
	}
	if clearCache {
		if err := cacheable.ClearCache(); err != nil {
			colours.Error.Fprintf(qq.out, "❌ Failed to clear audio cache: %v\n", err)
			return
		}
		colours.Success.Fprintln(qq.out, "🧹 Audio cache cleared")
	}
	if stats, err := cacheable.GetCacheStats(); err == nil {
		fmt.Fprintf(qq.out, "  • Audio: %v files, %.1f MB\n", stats["cached_files"], stats["total_size_mb"])
	}
}

// generatorConfig places the generation cache under the user cache directory
// unless one is configured.
func (qq *QuizQuest) generatorConfig() config.Generator {
	gcfg := qq.cfg.Generator
	if gcfg.CacheDir == "" {
		gcfg.CacheDir = filepath.Join(getCacheDirectory(), "generated")
	}
	return gcfg
}

func closeGenerator(gen generator.Generator) {
	if err := generator.Close(gen); err != nil {
		logrus.WithError(err).Debug("Failed to close generator")
	}
}

// getCacheDirectory returns the appropriate cache directory
func getCacheDirectory() string {
	if cacheDir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(cacheDir, "quizquest")
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".quizquest", "cache")
	}

	if cwd, err := os.Getwd(); err == nil {
		return filepath.Join(cwd, "cache")
	}

	return "cache"
}
