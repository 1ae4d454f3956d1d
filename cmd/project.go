package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sheetpipe/sheetpipe/internal/model"
)

var projectFiles []string

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage extraction projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a project and upload its spreadsheet files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		project, err := env.Store.CreateProject(ctx, args[0])
		if err != nil {
			return err
		}

		for _, path := range projectFiles {
			if err := uploadProjectFile(cmd, env, project.ID, path); err != nil {
				return err
			}
		}

		fmt.Printf("project %s created with %d files\n", project.ID, len(projectFiles))
		return nil
	},
}

func uploadProjectFile(cmd *cobra.Command, env *env, projectID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return eris.Wrapf(err, "stat %s", path)
	}

	name := filepath.Base(path)
	key := fmt.Sprintf("uploads/%s/%s", projectID, name)
	loc, err := env.Objects.Upload(cmd.Context(), key, f, info.Size(),
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", nil)
	if err != nil {
		return err
	}

	file := model.ProjectFile{
		ID:         uuid.New().String(),
		ProjectID:  projectID,
		Name:       name,
		StorageKey: loc.Key,
		SizeBytes:  loc.Size,
	}
	if err := env.Store.AddProjectFile(cmd.Context(), file); err != nil {
		return err
	}
	zap.L().Info("file uploaded", zap.String("name", name), zap.Int64("bytes", loc.Size))
	return nil
}

func init() {
	projectCreateCmd.Flags().StringArrayVar(&projectFiles, "file", nil, "spreadsheet file to upload (repeatable)")
	projectCmd.AddCommand(projectCreateCmd)
	rootCmd.AddCommand(projectCmd)
}
