package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"studio/internal/batchfile"
	"studio/internal/domain"
	"studio/internal/events"
	"studio/internal/frames"
	"studio/internal/infra"
	"studio/internal/infra/credentials"
	"studio/internal/orchestrator"
	"studio/internal/providers/genai"
	"studio/internal/storage"
	"studio/internal/submit"
	"studio/internal/workspace"
)

var (
	runAPIKey      string
	runOutputDir   string
	runChainPolicy string
	runRetries     int
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Generate every segment in a batch file",
		Args:  cobra.ExactArgs(1),
		RunE:  runBatch,
	}
	runCmd.Flags().StringVar(&runAPIKey, "api-key", "", "Gemini API key (defaults to GEMINI_API_KEY)")
	runCmd.Flags().StringVar(&runOutputDir, "output", "", "directory for generated results (overrides output_dir)")
	runCmd.Flags().StringVar(&runChainPolicy, "chain-policy", "", "strict or lenient (overrides chain_policy)")
	runCmd.Flags().IntVar(&runRetries, "retry", 0, "retry failed segments this many times")
	rootCmd.AddCommand(runCmd)

	validateCmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a batch file without generating anything",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	file, err := batchfile.Load(args[0])
	if err != nil {
		return err
	}
	inputs, err := file.Inputs()
	if err != nil {
		return err
	}
	segs := make([]domain.Segment, 0, len(inputs))
	for i, in := range inputs {
		seg := domain.NewSegment(fmt.Sprintf("%d", i+1), in)
		seg.Position = i
		segs = append(segs, seg)
	}
	ready := orchestrator.CountEligible(domain.RunModeAll, segs)
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d segments, %d ready to generate\n", args[0], len(segs), ready)
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := infra.LoadLocalConfig()
	if err != nil {
		return err
	}
	logger := infra.NewLogger(cfg.AppEnv, "segrun")

	file, err := batchfile.Load(args[0])
	if err != nil {
		return err
	}
	inputs, err := file.Inputs()
	if err != nil {
		return err
	}

	outDir := outputDir(file, cfg)
	store, err := storage.NewFileStore(outDir)
	if err != nil {
		return err
	}

	key, err := credentials.Chain{credentials.Static(runAPIKey), credentials.Static(cfg.GeminiAPIKey)}.APIKey(cmd.Context())
	if err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("%w: pass --api-key or set GEMINI_API_KEY", domain.ErrMissingCredential)
	}

	sub, err := submit.NewGemini(genai.OptionsFromConfig(cfg, key, &logger), store, frames.NewFFmpeg(cfg.FFmpegPath), &logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ws := workspace.New(workspace.Options{Releaser: store, Logger: &logger})
	if _, err := ws.Import(ctx, inputs); err != nil {
		return err
	}

	policy := firstNonEmpty(runChainPolicy, file.ChainPolicy, cfg.ChainPolicy)
	orch, err := orchestrator.New(orchestrator.Options{
		Store:       ws,
		Submit:      sub.Submit,
		Publisher:   events.LogPublisher{Logger: &logger},
		Credentials: credentials.Static(key),
		ChainPolicy: orchestrator.ParseChainPolicy(policy),
		Logger:      &logger,
	})
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	outcome, err := orch.RunBatch(ctx, runID)
	for attempt := 0; err == nil && attempt < runRetries && !outcome.Success(); attempt++ {
		logger.Info().Int("attempt", attempt+1).Int("failed", len(outcome.Failed)).Msg("segrun: retrying failed segments")
		outcome, err = orch.RetryFailed(ctx, runID)
	}

	segs, _ := ws.Segments(context.WithoutCancel(ctx))
	printSegments(cmd.OutOrStdout(), store.BasePath(), segs)
	if outcome != nil {
		fmt.Fprintln(cmd.OutOrStdout(), outcome.Summary())
	}
	if err != nil {
		return err
	}
	if !outcome.Success() {
		return fmt.Errorf("%d of %d segments failed", len(outcome.Failed), outcome.Total)
	}
	return nil
}

// outputDir picks --output, then the file's output_dir relative to the file,
// then STORAGE_PATH.
func outputDir(file *batchfile.File, cfg *infra.Config) string {
	dir := runOutputDir
	if dir == "" && file.OutputDir != "" {
		dir = file.OutputDir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(file.Dir(), dir)
		}
	}
	if dir == "" {
		dir = cfg.StoragePath
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return dir
}

func printSegments(out io.Writer, base string, segs []domain.Segment) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tMODALITY\tSTATUS\tRESULT")
	for i, seg := range segs {
		detail := seg.Error
		if seg.Result != nil {
			detail = filepath.Join(base, seg.Result.Key)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, seg.Modality, seg.Status, detail)
	}
	tw.Flush()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
