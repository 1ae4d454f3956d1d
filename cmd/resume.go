package main

import (
	"os"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sheetpipe/sheetpipe/internal/model"
	"github.com/sheetpipe/sheetpipe/internal/progress"
)

var resumeModsFile string

var resumeCmd = &cobra.Command{
	Use:   "resume RUN_ID",
	Short: "Approve a reviewed plan and resume the run",
	Long:  "Resumes a run paused for plan review, optionally applying a YAML file of plan modifications (skip, include, rename, retype) first.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		runID := args[0]

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Store.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status != model.RunStatusReview {
			return eris.Errorf("run %s is %s, not awaiting review", runID, run.Status)
		}

		if resumeModsFile != "" {
			mods, err := loadModifications(resumeModsFile)
			if err != nil {
				return err
			}
			if err := env.Store.SaveModifications(ctx, runID, mods); err != nil {
				return err
			}
		}

		sink := progress.NewChannelSink(cfg.Pipeline.EventBuffer)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range sink.Events() {
				printEvent(ev)
			}
		}()

		runErr := env.Pipeline.Run(ctx, runID, sink)
		sink.Close()
		wg.Wait()
		return runErr
	},
}

// loadModifications parses a reviewer's YAML edits file:
//
//	modifications:
//	  - table_name: raw_dump
//	    action: skip
//	  - table_name: orders
//	    action: include
//	    rename: sales_orders
//	    columns:
//	      - source_name: Total
//	        retype: float
func loadModifications(path string) ([]model.PlanModification, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read modifications file %s", path)
	}

	var doc struct {
		Modifications []struct {
			TableName string `yaml:"table_name"`
			Action    string `yaml:"action"`
			Rename    string `yaml:"rename"`
			Columns   []struct {
				SourceName string `yaml:"source_name"`
				Rename     string `yaml:"rename"`
				Retype     string `yaml:"retype"`
			} `yaml:"columns"`
		} `yaml:"modifications"`
	}
	if err := yaml.Unmarshal(blob, &doc); err != nil {
		return nil, eris.Wrap(err, "parse modifications file")
	}
	if len(doc.Modifications) == 0 {
		return nil, eris.New("modifications file is empty")
	}

	mods := make([]model.PlanModification, 0, len(doc.Modifications))
	for _, m := range doc.Modifications {
		mod := model.PlanModification{
			TableName: m.TableName,
			Action:    model.ModAction(m.Action),
			Rename:    m.Rename,
		}
		for _, c := range m.Columns {
			mod.Columns = append(mod.Columns, model.ColumnOverride{
				SourceName: c.SourceName,
				Rename:     c.Rename,
				Retype:     c.Retype,
			})
		}
		mods = append(mods, mod)
	}
	return mods, nil
}

func init() {
	resumeCmd.Flags().StringVar(&resumeModsFile, "mods", "", "YAML file of plan modifications to apply before resuming")
	rootCmd.AddCommand(resumeCmd)
}
