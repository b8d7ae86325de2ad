// Command sleepscript turns a topic into a long-form sleep-narration
// script and, optionally, synthesized audio.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/calmhollow/sleepscript/internal/artifacts"
	"github.com/calmhollow/sleepscript/internal/config"
	"github.com/calmhollow/sleepscript/internal/input"
	"github.com/calmhollow/sleepscript/internal/llm"
	"github.com/calmhollow/sleepscript/internal/pipeline"
	"github.com/calmhollow/sleepscript/internal/runlog"
	"github.com/calmhollow/sleepscript/internal/script"
	"github.com/calmhollow/sleepscript/internal/tts"
	geminibackend "github.com/calmhollow/sleepscript/providers/llm/gemini"
	openaibackend "github.com/calmhollow/sleepscript/providers/llm/openai"
	googletts "github.com/calmhollow/sleepscript/providers/tts/google"
	pollytts "github.com/calmhollow/sleepscript/providers/tts/polly"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type flags struct {
	inputFile  string
	configFile string
	outputDir  string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "sleepscript",
		Short: "Generate long-form sleep-narration scripts",
		Long: `sleepscript researches a topic, plans its sections with your feedback,
writes each section to a target length, stitches the result into one
script, and can synthesize it to audio.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVarP(&f.inputFile, "input-file", "i", "", "input file (topic, direction, minutes, influence, optional tts yes/no)")
	cmd.Flags().StringVar(&f.configFile, "config", "", "config file (YAML)")
	cmd.Flags().StringVarP(&f.outputDir, "output-dir", "o", "", "base output directory (default from config)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "debug logging on the console")
	return cmd
}

func run(ctx context.Context, f flags) error {
	settings, err := config.Load(f.configFile)
	if err != nil {
		return err
	}
	if f.outputDir != "" {
		settings.BaseOutputDir = f.outputDir
	}

	interactive := f.inputFile == ""
	var params input.Params
	if interactive {
		params, err = input.Prompt(os.Stdin, os.Stdout)
	} else {
		params, err = input.ReadFile(f.inputFile)
	}
	if err != nil {
		return err
	}

	store, err := artifacts.NewStore(settings.BaseOutputDir, params.Topic, time.Now())
	if err != nil {
		return err
	}
	logger, err := runlog.New(store.Path(settings.LogFileName), f.verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger.Info("run starting",
		zap.String("topic", params.Topic),
		zap.Int("total_minutes", params.TotalMinutes),
		zap.String("run_dir", store.Dir()))

	backend, err := buildBackend(settings)
	if err != nil {
		return err
	}
	usage := &llm.UsageAccumulator{}
	client := llm.NewClient(backend, usage, logger,
		llm.WithRetries(settings.MaxRetries, settings.InitialRetryDelay))

	var reviewer pipeline.Reviewer = pipeline.AutoConfirm{}
	if interactive {
		reviewer = input.NewConsoleReviewer(os.Stdin, os.Stdout)
	}

	driver := pipeline.NewDriver(client, settings, store, usage, reviewer, backend, logger)
	state, report, err := driver.Run(ctx, pipeline.Inputs{
		Topic:             params.Topic,
		Direction:         params.Direction,
		TotalMinutes:      params.TotalMinutes,
		ResearchInfluence: params.ResearchInfluence,
	})
	if err != nil {
		return err
	}

	printReport(report, store.Dir())

	runTTS := false
	switch {
	case params.RunTTS != nil:
		runTTS = *params.RunTTS
	case interactive:
		runTTS, err = input.PromptYesNo(os.Stdin, os.Stdout, "Synthesize the script to audio?")
		if err != nil {
			return err
		}
	}
	if runTTS {
		if err := synthesize(ctx, settings, state.FinalScript, store, logger); err != nil {
			return err
		}
	}
	return nil
}

func buildBackend(settings *config.Settings) (llm.Backend, error) {
	switch settings.LLMProvider {
	case "gemini":
		return geminibackend.New(geminibackend.ConfigFromEnv(),
			script.NarratorInstruction, script.StructurerInstruction)
	case "openai":
		return openaibackend.New(openaibackend.ConfigFromEnv(),
			script.NarratorInstruction, script.StructurerInstruction)
	default:
		return nil, fmt.Errorf("unknown llm provider %q (want gemini or openai)", settings.LLMProvider)
	}
}

func buildSynthesizer(settings *config.Settings) (tts.Synthesizer, error) {
	switch settings.TTS.Provider {
	case "google":
		return googletts.New(googletts.ConfigFromEnv(), settings.TTS)
	case "polly":
		return pollytts.New(pollytts.ConfigFromEnv())
	default:
		return nil, fmt.Errorf("unknown tts provider %q (want google or polly)", settings.TTS.Provider)
	}
}

func synthesize(ctx context.Context, settings *config.Settings, finalScript string, store *artifacts.Store, logger *zap.Logger) error {
	synth, err := buildSynthesizer(settings)
	if err != nil {
		return err
	}
	manager := tts.NewManager(synth, settings.TTS, logger)
	audio, err := manager.ConvertToAudio(ctx, finalScript)
	if err != nil {
		return err
	}
	name := "final_script_audio.mp3"
	if err := store.SaveBytes(name, audio); err != nil {
		return err
	}
	fmt.Printf("Audio written to %s\n", store.Path(name))
	return nil
}

func printReport(report *pipeline.Report, runDir string) {
	fmt.Println()
	fmt.Println("Run complete.")
	fmt.Printf("  Estimated narration length: %.1f minutes\n", report.FinalMinutes)
	if report.FinalTokensKnown {
		fmt.Printf("  Final script tokens:        %d\n", report.FinalTokens)
	}
	fmt.Printf("  Tokens used (prompt/output/total): %d / %d / %d\n",
		report.Usage.PromptTokens, report.Usage.CandidateTokens, report.Usage.TotalTokens)
	fmt.Printf("  Elapsed:                    %s\n", report.Elapsed.Round(time.Second))
	fmt.Printf("  Artifacts:                  %s\n", runDir)
}
