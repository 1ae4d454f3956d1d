package main

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/sheetpipe/sheetpipe/internal/progress"
)

var (
	runReview      bool
	runConcurrency int
)

var runCmd = &cobra.Command{
	Use:   "run PROJECT_ID",
	Short: "Execute an extraction run for a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Store.CreateRun(ctx, args[0], runConfigFromFlags(runReview, runConcurrency))
		if err != nil {
			return err
		}
		fmt.Printf("run %s created\n", run.ID)

		sink := progress.NewChannelSink(cfg.Pipeline.EventBuffer)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range sink.Events() {
				printEvent(ev)
			}
		}()

		runErr := env.Pipeline.Run(ctx, run.ID, sink)
		sink.Close()
		wg.Wait()
		return runErr
	},
}

func printEvent(ev progress.Event) {
	switch ev.Type {
	case progress.EventPhaseStart:
		fmt.Printf("==> %s\n", ev.Phase)
	case progress.EventProgress:
		fmt.Printf("    %s %d/%d %s\n", ev.Phase, ev.CompletedItems, ev.TotalItems, ev.Message)
	case progress.EventTableComplete:
		fmt.Printf("    table %s done\n", ev.Table)
	case progress.EventTableError:
		fmt.Printf("    table %s failed: %s\n", ev.Table, ev.Error)
	case progress.EventValidationResult:
		if ev.Report != nil && !ev.Report.Passed {
			fmt.Printf("    validation failed: %s\n", ev.Report.Diagnosis)
		}
	case progress.EventReviewReady:
		fmt.Printf("plan ready for review; approve with: sheetpipe resume %s\n", ev.RunID)
	case progress.EventTokenUpdate:
		if ev.Usage != nil {
			fmt.Printf("    tokens: %d\n", ev.Usage.TotalTokens)
		}
	case progress.EventRunComplete:
		fmt.Println("run complete")
	case progress.EventRunError:
		fmt.Printf("run failed: %s\n", ev.Error)
	}
}

func init() {
	runCmd.Flags().BoolVar(&runReview, "review", false, "pause for plan review before extraction")
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "max concurrent items per phase (default from config)")
	rootCmd.AddCommand(runCmd)
}
