package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	dockerpkg "github.com/dyluth/ampli/internal/docker"
	"github.com/dyluth/ampli/internal/printer"
	"github.com/spf13/cobra"
)

var cleanRun string

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove stage containers left behind by killed runs",
	Long: `Force-remove every container ampli started (or only those of --run).

Running containers are stopped first, so do not clean while a run that
uses the docker runner is in progress.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		cli, err := dockerpkg.NewClient(ctx)
		if err != nil {
			return fail("Docker not available", err.Error(), nil)
		}
		defer cli.Close()

		containers, err := cli.ContainerList(ctx, container.ListOptions{
			All:     true,
			Filters: dockerpkg.ProjectFilter(cleanRun),
		})
		if err != nil {
			return fmt.Errorf("failed to list containers: %w", err)
		}
		if len(containers) == 0 {
			printer.Info("No ampli containers found\n")
			return nil
		}

		var failed []string
		for _, c := range containers {
			if err := cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil {
				failed = append(failed, fmt.Sprintf("%s: %v", shortRunID(c.ID), err))
				continue
			}
			printer.Success("Removed %s\n", strings.TrimPrefix(firstName(c.Names, c.ID), "/"))
		}
		if len(failed) > 0 {
			return fail("some containers could not be removed", strings.Join(failed, "\n"), nil)
		}
		return nil
	},
}

func init() {
	cleanCmd.Flags().StringVar(&cleanRun, "run", "", "Only remove containers of this run")
	rootCmd.AddCommand(cleanCmd)
}

func firstName(names []string, id string) string {
	if len(names) > 0 {
		return names[0]
	}
	return shortRunID(id)
}
