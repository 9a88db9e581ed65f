// doctrans translates documents while preserving their formulas: spans that
// look like math are masked before translation and restored as rendered
// images, MathML, or literal notation afterwards.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"doc-translator/internal/config"
	"doc-translator/internal/docwriter"
	"doc-translator/internal/extractor"
	"doc-translator/internal/fetch"
	"doc-translator/internal/glossary"
	"doc-translator/internal/logger"
	"doc-translator/internal/parser"
	"doc-translator/internal/pipeline"
	"doc-translator/internal/recognizer"
	"doc-translator/internal/renderer"
	"doc-translator/internal/results"
	"doc-translator/internal/translator"
	"doc-translator/internal/types"
)

func main() {
	var (
		sourceLang  = flag.String("from", "", "source language tag (empty = auto)")
		targetLang  = flag.String("to", "zh", "target language tag")
		style       = flag.String("style", "general", "translation style: general, engineering, academic, scientific")
		mode        = flag.String("mode", "png", "formula embedding mode: png or mathml")
		recognize   = flag.Bool("recognize", false, "run formula recognition on rasterized pages")
		plainText   = flag.Bool("plain", false, "skip bitmap rendering, restore formulas as literal notation")
		outputDir   = flag.String("output", "", "output directory (default from config, else ./output)")
		workDir     = flag.String("work", "", "work directory for temporary files")
		glossaryDir = flag.String("glossary", "", "directory of per-language glossary JSON files")
		configPath  = flag.String("config", "", "config file path")
		listRuns    = flag.Bool("list", false, "list run history and exit")
		verbose     = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Usage = usage
	flag.Parse()

	level := logger.LevelInfo
	if *verbose {
		level = logger.LevelDebug
	}
	if err := logger.Init(&logger.Config{
		LogFilePath:   "doc-translator.log",
		Level:         level,
		EnableConsole: *verbose,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
	}
	defer logger.Close()

	if err := run(*sourceLang, *targetLang, *style, *mode, *outputDir, *workDir,
		*glossaryDir, *configPath, *recognize, *plainText, *listRuns, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "doctrans: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: doctrans [flags] <document|url>...\n\n")
	fmt.Fprintf(os.Stderr, "Translates PDF, DOCX, TXT, or Markdown documents, preserving formulas.\n\n")
	fmt.Fprintf(os.Stderr, "Flags:\n")
	flag.PrintDefaults()
}

func run(sourceLang, targetLang, style, mode, outputDir, workDir, glossaryDir,
	configPath string, recognize, plainText, listRuns bool, inputs []string) error {

	cm, err := config.NewConfigManager(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cm.Load(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	history, err := results.NewManager("")
	if err != nil {
		return fmt.Errorf("run history: %w", err)
	}
	if listRuns {
		return printHistory(history)
	}

	if len(inputs) == 0 {
		usage()
		return fmt.Errorf("no input documents given")
	}

	if outputDir == "" {
		outputDir = cm.GetOutputDirectory()
	}
	if outputDir == "" {
		outputDir = "output"
	}
	if workDir == "" {
		workDir = cm.GetWorkDirectory()
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	if glossaryDir == "" {
		glossaryDir = cm.GetGlossaryDirectory()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gloss := glossary.NewManager()
	if glossaryDir != "" {
		if err := gloss.LoadDirectory(glossaryDir); err != nil {
			logger.Warn("glossary unavailable", logger.Err(err))
		}
	}

	orch, err := translator.NewOpenAI(ctx, cm.GetAPIKey(), cm.GetBaseURL(), cm.GetModel(),
		translator.WithGlossary(gloss),
		translator.WithContextWindow(cm.GetContextWindow()),
		translator.WithRepairRetries(cm.GetRepairRetries()),
	)
	if err != nil {
		return fmt.Errorf("translation model: %w", err)
	}

	rec := recognizer.NewClient(cm.GetRecognitionAppID(), cm.GetRecognitionAppKey(), cm.GetRecognitionBaseURL())
	if recognize && !rec.Available() {
		logger.Warn("recognition requested but MATHPIX_APP_ID/MATHPIX_APP_KEY are not set")
	}

	p := pipeline.New(
		extractor.New(workDir),
		rec,
		orch,
		renderer.New(outputDir, renderer.WithMode(types.FormulaMode(mode))),
		docwriter.New(outputDir),
	)
	fetcher := fetch.New(workDir)

	failures := 0
	for _, input := range inputs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := translateOne(ctx, p, fetcher, history, input, pipeline.Request{
			SourceLang:        sourceLang,
			TargetLang:        targetLang,
			Style:             types.TranslationStyle(style),
			EnableRecognition: recognize,
			PlainText:         plainText,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "doctrans: %s: %v\n", input, err)
			failures++
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d documents failed", failures, len(inputs))
	}
	return nil
}

// translateOne runs the pipeline for a single input, fetching it first when
// it is a URL, and records the run in history.
func translateOne(ctx context.Context, p *pipeline.Pipeline, fetcher *fetch.Fetcher,
	history *results.Manager, input string, req pipeline.Request) error {

	kind, err := parser.ParseInput(input)
	if err != nil {
		return err
	}

	localPath := input
	if parser.IsRemote(kind) {
		fetched, err := fetcher.Fetch(ctx, input)
		if err != nil {
			return err
		}
		localPath = fetched
	}

	record, err := history.NewRecord(localPath, req.SourceLang, req.TargetLang, string(req.Style))
	if err != nil {
		logger.Warn("cannot record run history", logger.Err(err))
	}

	req.InputPath = localPath
	result := p.Run(ctx, req)

	if record != nil {
		if err := history.Complete(record.ID, result); err != nil {
			logger.Warn("cannot update run history", logger.Err(err))
		}
	}

	if !result.Success {
		return fmt.Errorf("%s", result.Error)
	}
	fmt.Printf("%s -> %s (formulas: %d, lost: %d, tokens: %d)\n",
		input, result.OutputPath, result.DetectedFormulas,
		result.LostPlaceholders, result.TokensUsed)
	return nil
}

func printHistory(history *results.Manager) error {
	records, err := history.List()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}
	for _, r := range records {
		line := fmt.Sprintf("%s  %-11s  %s -> %s",
			r.StartedAt.Format("2006-01-02 15:04"), r.Status, r.SourceFile, r.TargetLang)
		if r.Result != nil && r.Result.OutputPath != "" {
			line += "  " + r.Result.OutputPath
		}
		if r.ErrorMessage != "" {
			line += "  (" + r.ErrorMessage + ")"
		}
		fmt.Println(line)
	}
	return nil
}
