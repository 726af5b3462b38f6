// booktrans — structured e-book translator with AI provider fallback.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kvgharbigit/booktranslator/batch"
	"github.com/kvgharbigit/booktranslator/cache"
	"github.com/kvgharbigit/booktranslator/config"
	"github.com/kvgharbigit/booktranslator/container"
	"github.com/kvgharbigit/booktranslator/document"
	"github.com/kvgharbigit/booktranslator/fragment"
	"github.com/kvgharbigit/booktranslator/i18n"
	"github.com/kvgharbigit/booktranslator/langmeta"
	"github.com/kvgharbigit/booktranslator/pipeline"
	"github.com/kvgharbigit/booktranslator/provider"
	"github.com/kvgharbigit/booktranslator/settings"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ANSI colors
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorBlue   = "\033[0;34m"
)

func logInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorBlue+"[INFO]"+colorReset+" "+format+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorGreen+"[OK]"+colorReset+" "+format+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorYellow+"[WARN]"+colorReset+" "+format+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorRed+"[ERROR]"+colorReset+" "+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "booktrans",
		Short: "Structured e-book translator with AI provider fallback",
		Long: `booktrans — translate EPUB books while preserving their structure.

Extracts block-level text fragments from each chapter, protects inline
markup and entities behind placeholders, translates in token-bounded
batches over a fallback-ordered AI provider chain, and reassembles the
book. Optionally composes a bilingual edition with the original text
under each translated block.

Outputs:
  packaged     translated EPUB (default, required)
  paginated    print-quality PDF (CSS converter with pure-Go fallback)
  linearized   plain text flow

AI Providers:
  openai         OpenAI API — API key
  anthropic      Anthropic API — API key
  google         Google AI (Gemini) — API key
  ollama         Ollama local server — no auth
  custom-openai  Custom OpenAI-compatible endpoint`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newTranslateCmd(),
		newInspectCmd(),
		newAuthCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	i18n.Init("")
	if err := newRootCmd().Execute(); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// version
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display version, commit hash, and build date.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("booktrans version %s\n", version)
			fmt.Printf("  commit:    %s\n", commit)
			fmt.Printf("  built:     %s\n", date)
		},
	}
}

// ---------------------------------------------------------------------------
// translate
// ---------------------------------------------------------------------------

type translateArgs struct {
	book        string
	sourceLang  string
	targetLang  string
	bilingual   bool
	outputs     []string
	outDir      string
	providerID  string
	model       string
	apiKey      string
	prompt      string
	converter   string
	concurrency int
	batchTokens int
	jobTokens   int
	maxRetries  int
	noCache     bool
	verbose     bool
}

func newTranslateCmd() *cobra.Command {
	var a translateArgs

	cmd := &cobra.Command{
		Use:   "translate BOOK.epub",
		Short: "Translate a book using AI",
		Long: `Translate an EPUB book into the target language.

Provider chain, budgets and defaults come from .booktrans.yaml in the
working directory; flags override individual fields. A per-book
translation cache (<book>.btcache) makes re-runs incremental: only new
or changed fragments are sent to the provider.

Examples:
  booktrans translate book.epub --to es
  booktrans translate book.epub --to ru --bilingual -o packaged -o linearized
  booktrans translate book.epub --to de --provider ollama --model llama3`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a.book = args[0]
			runTranslate(a)
		},
	}

	cmd.Flags().StringVar(&a.sourceLang, "from", "", "Source language code (default from config or en)")
	cmd.Flags().StringVarP(&a.targetLang, "to", "t", "", "Target language code")
	cmd.Flags().BoolVar(&a.bilingual, "bilingual", false, "Compose a dual-language edition")
	cmd.Flags().StringArrayVarP(&a.outputs, "output", "o", nil, "Output to produce: packaged, paginated, linearized (repeatable)")
	cmd.Flags().StringVar(&a.outDir, "out-dir", ".", "Directory for produced artifacts")
	cmd.Flags().StringVar(&a.providerID, "provider", "", "Use a single provider instead of the configured chain")
	cmd.Flags().StringVar(&a.model, "model", "", "Model override for --provider")
	cmd.Flags().StringVar(&a.apiKey, "api-key", "", "API key override for --provider")
	cmd.Flags().StringVar(&a.prompt, "prompt", "", "System prompt profile (default, literary, or custom key)")
	cmd.Flags().StringVar(&a.converter, "converter", "", "External HTML-to-PDF converter binary")
	cmd.Flags().IntVar(&a.concurrency, "concurrency", 0, "Parallel batch dispatch width")
	cmd.Flags().IntVar(&a.batchTokens, "max-batch-tokens", 0, "Token budget per batch")
	cmd.Flags().IntVar(&a.jobTokens, "max-job-tokens", 0, "Reject jobs above this total token estimate")
	cmd.Flags().IntVar(&a.maxRetries, "max-retries", 0, "Attempts per provider per batch")
	cmd.Flags().BoolVar(&a.noCache, "no-cache", false, "Disable the per-book translation cache")
	cmd.Flags().BoolVarP(&a.verbose, "verbose", "v", false, "Verbose output")

	return cmd
}

func runTranslate(a translateArgs) {
	cfg, err := config.Load(".")
	if err != nil {
		logError("%v", err)
		os.Exit(1)
	}
	if cfg == nil {
		cfg = &config.File{SourceLang: "en"}
	}

	if a.sourceLang == "" {
		a.sourceLang = cfg.SourceLang
	}
	if a.targetLang == "" {
		a.targetLang = cfg.TargetLang
	}
	if a.targetLang == "" {
		logError("No target language. Use --to LANG or set target_lang in %s", config.FileName)
		os.Exit(1)
	}
	if a.converter == "" {
		a.converter = cfg.Converter
	}
	if a.prompt == "" {
		a.prompt = cfg.Prompt
	}
	if len(a.outputs) == 0 {
		a.outputs = cfg.Outputs
	}
	if !a.bilingual {
		a.bilingual = cfg.Bilingual
	}

	providers := buildProviderChain(cfg, a)
	if len(providers) == 0 {
		logError("No providers configured. Declare a chain in %s or use --provider.", config.FileName)
		os.Exit(1)
	}

	loadCustomPrompts(cfg)
	for i := range providers {
		if providers[i].SystemPrompt == "" && a.prompt != "" {
			providers[i].SystemPrompt = provider.PromptByName(a.prompt)
		}
	}

	opts := pipeline.Options{
		SourceLang: a.sourceLang,
		TargetLang: a.targetLang,
		Bilingual:  a.bilingual,
		Providers:  providers,
		Outputs:    a.outputs,
		Required:   cfg.RequiredSet(),
		Batch: batch.Options{
			MaxBatchTokens: firstNonZero(a.batchTokens, cfg.Budgets.MaxBatchTokens),
			MaxJobTokens:   firstNonZero(a.jobTokens, cfg.Budgets.MaxJobTokens),
			MaxRetries:     firstNonZero(a.maxRetries, cfg.Budgets.MaxRetries),
			Concurrency:    firstNonZero(a.concurrency, cfg.Budgets.Concurrency),
		},
		ConverterBinary: a.converter,
		Verbose:         a.verbose,
		OnLog: func(format string, args ...any) {
			logInfo(format, args...)
		},
		OnProgress: progressPrinter(),
	}
	if cfg.Selector.MinTextLen > 0 || len(cfg.Selector.SkipTags) > 0 {
		sel := fragment.DefaultSelector()
		if cfg.Selector.MinTextLen > 0 {
			sel.MinTextLen = cfg.Selector.MinTextLen
		}
		for _, tag := range cfg.Selector.SkipTags {
			sel.SkipTags[strings.ToLower(tag)] = true
		}
		opts.Selector = &sel
	}

	if !a.noCache && cfg.CacheEnabled() {
		mem, err := cache.Load(a.book)
		if err != nil {
			logWarning("Translation cache unavailable: %v", err)
		} else {
			opts.Cache = mem
		}
	}

	// Graceful cancellation: first interrupt cancels the job between
	// stages, partial cache state is already saved.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		logWarning("Interrupted, cancelling...")
		cancel()
	}()

	logInfo("%s %s -> %s", i18n.T("Translating book..."),
		langmeta.Name(a.sourceLang), langmeta.Name(a.targetLang))

	res, err := pipeline.Translate(ctx, a.book, opts)
	if res != nil {
		for _, w := range res.Warnings {
			logWarning("%s", w)
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			logWarning("Translation interrupted")
			os.Exit(0)
		}
		// A failed required output may still leave usable siblings.
		if res != nil && len(res.Artifacts) > 0 {
			writeArtifacts(res, a.outDir)
		}
		logError("Translation failed: %v", err)
		os.Exit(1)
	}

	writeArtifacts(res, a.outDir)

	if res.Cached > 0 {
		logInfo("Reused %d cached translations", res.Cached)
	}
	if res.Fallbacks > 0 {
		logWarning("%d of %d fragments kept their original text", res.Fallbacks, res.Fragments)
	}
	if a.verbose {
		printAudits(res.Audits)
	}
	logSuccess("%s (job %s)", i18n.T("Done"), res.JobID)
}

func writeArtifacts(res *pipeline.Result, outDir string) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		logError("Creating %s: %v", outDir, err)
		os.Exit(1)
	}
	for _, art := range res.Artifacts {
		path := filepath.Join(outDir, art.Name)
		if err := os.WriteFile(path, art.Data, 0644); err != nil {
			logError("Writing %s: %v", path, err)
			os.Exit(1)
		}
		logSuccess("Wrote %s (%s, %d bytes)", path, art.MIME, len(art.Data))
	}
}

func printAudits(audits []batch.Audit) {
	for _, audit := range audits {
		logInfo("  batch %d: %d fragments, ~%d tokens, %s (%d attempts)",
			audit.Batch, audit.Size, audit.Tokens, audit.Provider, audit.Attempts)
	}
}

// buildProviderChain resolves the provider chain: a single --provider
// override, or the configured chain with keys from env and the credential
// store.
func buildProviderChain(cfg *config.File, a translateArgs) []provider.Config {
	if a.providerID != "" {
		key := a.apiKey
		if key == "" {
			key = settings.ResolveAPIKey(a.providerID)
		}
		return []provider.Config{{
			ID:      a.providerID,
			Model:   a.model,
			APIKey:  key,
			BaseURL: settings.GetBaseURL(a.providerID),
		}}
	}
	chain := cfg.ProviderConfigs(settings.ResolveAPIKey)
	for i := range chain {
		if chain[i].BaseURL == "" {
			chain[i].BaseURL = settings.GetBaseURL(chain[i].ID)
		}
	}
	return chain
}

func loadCustomPrompts(cfg *config.File) {
	path := cfg.PromptsFile
	if path == "" {
		if p, err := settings.PromptsFilePath(); err == nil {
			path = p
		}
	}
	if path == "" {
		return
	}
	if err := provider.LoadPromptsFromFile(path); err != nil && !os.IsNotExist(err) {
		logWarning("Loading prompts from %s: %v", path, err)
	}
}

// progressPrinter renders per-step progress lines, overwriting in place
// for the translate step.
func progressPrinter() func(pipeline.Progress) {
	var lastStep pipeline.Step
	return func(p pipeline.Progress) {
		switch p.Step {
		case pipeline.StepTranslate:
			fmt.Fprintf(os.Stderr, "\r%s[INFO]%s Translating: %s", colorBlue, colorReset, progressBar(p.Current, p.Total))
			if p.Current == p.Total {
				fmt.Fprintln(os.Stderr)
			}
		case pipeline.StepExtract:
			logInfo("Extracted "+i18n.N("%d fragment", "%d fragments", p.Total), p.Total)
		case pipeline.StepRender:
			if p.Current == 0 && lastStep != pipeline.StepRender {
				logInfo("%s", i18n.T("Rendering outputs..."))
			}
		}
		lastStep = p.Step
	}
}

// progressBar renders "[=====>    ] 12/50".
func progressBar(done, total int) string {
	const width = 30
	if total <= 0 {
		return ""
	}
	filled := done * width / total
	if filled > width {
		filled = width
	}
	bar := strings.Repeat("=", filled)
	if filled < width {
		bar += ">" + strings.Repeat(" ", width-filled-1)
	}
	return fmt.Sprintf("[%s] %d/%d", bar, done, total)
}

func firstNonZero(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

// ---------------------------------------------------------------------------
// inspect (read-only: container info + job cost estimate)
// ---------------------------------------------------------------------------

func newInspectCmd() *cobra.Command {
	var batchTokens int

	cmd := &cobra.Command{
		Use:   "inspect BOOK.epub",
		Short: "Show book structure and translation cost estimate",
		Long: `Show container metadata, chapter list, extractable fragment count
and the token/batch estimate for a translation job. Does not modify any
files and calls no providers.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runInspect(args[0], batchTokens)
		},
	}

	cmd.Flags().IntVar(&batchTokens, "max-batch-tokens", 0, "Token budget per batch for the estimate")

	return cmd
}

func runInspect(path string, batchTokens int) {
	book, err := container.Read(path)
	if err != nil {
		logError("Reading %s: %v", path, err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "\n%sBook%s\n", colorBlue, colorReset)
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
	fmt.Fprintf(os.Stderr, "  Title:      %s\n", book.Metadata.Title)
	fmt.Fprintf(os.Stderr, "  Author:     %s\n", book.Metadata.Author)
	fmt.Fprintf(os.Stderr, "  Language:   %s (%s)\n", book.Metadata.Language, langmeta.Name(book.Metadata.Language))
	fmt.Fprintf(os.Stderr, "  Chapters:   %d\n", len(book.Chapters))
	fmt.Fprintf(os.Stderr, "  Assets:     %d\n", len(book.Assets))

	trees := make([]*document.Tree, 0, len(book.Chapters))
	for _, ch := range book.Chapters {
		tree, err := document.ParseBytes(ch.Path, ch.Data)
		if err != nil {
			logError("Parsing %s: %v", ch.Path, err)
			os.Exit(1)
		}
		trees = append(trees, tree)
	}

	frags := fragment.Extract(trees, fragment.DefaultSelector())
	total := 0
	byKind := map[fragment.Kind]int{}
	for _, frag := range frags {
		total += batch.EstimateTokens(frag.OriginalText)
		byKind[frag.Kind]++
	}
	if batchTokens <= 0 {
		batchTokens = 1500
	}
	// Partition over unprotected text: close enough for an estimate,
	// placeholders only shorten fragments.
	for _, frag := range frags {
		frag.ProtectedText = frag.OriginalText
	}
	batches := batch.Partition(frags, batchTokens)

	fmt.Fprintf(os.Stderr, "\n%sTranslation estimate%s\n", colorBlue, colorReset)
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
	fmt.Fprintf(os.Stderr, "  Fragments:  %d\n", len(frags))

	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(os.Stderr, "    %-10s %d\n", k+":", byKind[fragment.Kind(k)])
	}
	fmt.Fprintf(os.Stderr, "  Tokens:     ~%d\n", total)
	fmt.Fprintf(os.Stderr, "  Batches:    %d (budget %d tokens each)\n\n", len(batches), batchTokens)
}

// ---------------------------------------------------------------------------
// auth (manage provider credentials)
// ---------------------------------------------------------------------------

// authProviders is the ordered list for the interactive menu.
var authProviders = []struct {
	id   string
	name string
	desc string
	auth string // "api-key" or "none"
}{
	{provider.IDOpenAI, "OpenAI", "GPT models", "api-key"},
	{provider.IDAnthropic, "Anthropic", "Claude models", "api-key"},
	{provider.IDGoogle, "Google AI Studio", "Gemini API key, free tier available", "api-key"},
	{provider.IDCustomOpenAI, "Custom OpenAI", "any OpenAI-compatible endpoint", "api-key"},
	{provider.IDOllama, "Ollama", "local server, no auth needed", "none"},
}

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage provider authentication",
		Long:  `Store, list and remove API keys for translation providers.`,
	}
	cmd.AddCommand(newAuthLoginCmd(), newAuthListCmd(), newAuthLogoutCmd())
	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var providerID string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an API key for a provider",
		Long: `Store an API key for an AI provider.

If --provider is not specified, you will be prompted to choose.
Keys are stored in ` + settings.FilePath() + ` with 0600 permissions.`,
		Run: func(cmd *cobra.Command, args []string) {
			if providerID == "" {
				providerID = promptProviderChoice()
			}
			switch providerID {
			case provider.IDOpenAI, provider.IDAnthropic, provider.IDGoogle:
				authLoginAPIKey(providerID)
			case provider.IDCustomOpenAI:
				authLoginCustomOpenAI()
			case provider.IDOllama:
				logInfo("Ollama needs no authentication")
			default:
				logError("Unknown provider '%s'. Run 'booktrans auth login' for options.", providerID)
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVar(&providerID, "provider", "", "Provider to authenticate")
	_ = cmd.RegisterFlagCompletionFunc("provider", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		completions := make([]string, 0, len(authProviders))
		for _, p := range authProviders {
			if p.auth == "none" {
				continue
			}
			completions = append(completions, fmt.Sprintf("%s\t%s", p.id, p.name))
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func promptProviderChoice() string {
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintf(os.Stderr, "%sSelect provider to authenticate:%s\n\n", colorBlue, colorReset)
	displayIdx := 0
	for _, p := range authProviders {
		if p.auth == "none" {
			continue
		}
		displayIdx++
		fmt.Fprintf(os.Stderr, "  %d. %s%-14s%s %s\n", displayIdx, colorYellow, p.id, colorReset, p.desc)
	}
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "Enter choice (number or name): ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		logError("No input received")
		os.Exit(1)
	}
	choice := strings.TrimSpace(scanner.Text())

	displayIdx = 0
	for _, p := range authProviders {
		if p.auth == "none" {
			continue
		}
		displayIdx++
		if choice == fmt.Sprintf("%d", displayIdx) || choice == p.id {
			return p.id
		}
	}
	logError("Invalid choice. Use: booktrans auth login --provider PROVIDER")
	os.Exit(1)
	return ""
}

func authLoginAPIKey(providerID string) {
	fmt.Fprintf(os.Stderr, "Enter API key for %s: ", providerID)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		logError("No input received")
		os.Exit(1)
	}
	key := strings.TrimSpace(scanner.Text())
	if key == "" {
		logError("Empty API key")
		os.Exit(1)
	}
	if err := settings.SetAPIKey(providerID, key); err != nil {
		logError("Saving key: %v", err)
		os.Exit(1)
	}
	logSuccess(i18n.T("API key saved for %s"), providerID)
}

func authLoginCustomOpenAI() {
	scanner := bufio.NewScanner(os.Stdin)

	fmt.Fprintf(os.Stderr, "Enter endpoint base URL (e.g. https://llm.example.com/v1): ")
	if !scanner.Scan() {
		logError("No input received")
		os.Exit(1)
	}
	baseURL := strings.TrimSpace(scanner.Text())
	if baseURL == "" {
		logError("Empty base URL")
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "Enter API key (empty if none): ")
	if !scanner.Scan() {
		logError("No input received")
		os.Exit(1)
	}
	key := strings.TrimSpace(scanner.Text())

	if err := settings.SetAPIKeyWithBaseURL(provider.IDCustomOpenAI, key, baseURL); err != nil {
		logError("Saving credentials: %v", err)
		os.Exit(1)
	}
	logSuccess(i18n.T("API key saved for %s"), provider.IDCustomOpenAI)
}

func newAuthListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored credentials",
		Run: func(cmd *cobra.Command, args []string) {
			store := settings.Load()
			if len(store) == 0 {
				logInfo("%s", i18n.T("No credentials stored"))
				return
			}
			ids := make([]string, 0, len(store))
			for id := range store {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			fmt.Fprintf(os.Stderr, "\n%sStored credentials%s (%s)\n", colorBlue, colorReset, settings.FilePath())
			fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
			for _, id := range ids {
				info := store[id]
				line := fmt.Sprintf("  %-14s %s", id, settings.MaskKey(info.Key))
				if info.BaseURL != "" {
					line += "  " + info.BaseURL
				}
				fmt.Fprintln(os.Stderr, line)
			}
			fmt.Fprintln(os.Stderr)
		},
	}
}

func newAuthLogoutCmd() *cobra.Command {
	var providerID string
	var all bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		Run: func(cmd *cobra.Command, args []string) {
			switch {
			case all:
				if err := settings.RemoveAll(); err != nil {
					logError("%v", err)
					os.Exit(1)
				}
				logSuccess("Removed all credentials")
			case providerID != "":
				if err := settings.Remove(providerID); err != nil {
					logError("%v", err)
					os.Exit(1)
				}
				logSuccess("Removed credentials for %s", providerID)
			default:
				logError("Specify --provider PROVIDER or --all")
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVar(&providerID, "provider", "", "Provider to log out")
	cmd.Flags().BoolVar(&all, "all", false, "Remove all stored credentials")

	return cmd
}
