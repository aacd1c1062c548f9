package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	dockerpkg "github.com/dyluth/ampli/internal/docker"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var psRun string

var psCmd = &cobra.Command{
	Use:   "ps",
	Short: "List stage containers started by the docker runner",
	Long: `List the containers ampli started with runner.mode: docker, running or
left behind by a killed run. Remove leftovers with 'ampli clean'.`,
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
			Filters: dockerpkg.ProjectFilter(psRun),
		})
		if err != nil {
			return fmt.Errorf("failed to list containers: %w", err)
		}
		return formatContainers(cmd.OutOrStdout(), containers)
	},
}

func init() {
	psCmd.Flags().StringVar(&psRun, "run", "", "Only list containers of this run")
	rootCmd.AddCommand(psCmd)
}

func formatContainers(w io.Writer, containers []types.Container) error {
	if len(containers) == 0 {
		fmt.Fprintln(w, "No ampli containers found")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("Container", "Run", "Stage", "State", "Status", "Work dir")
	for _, c := range containers {
		name := strings.TrimPrefix(firstName(c.Names, c.ID), "/")
		if err := table.Append([]string{
			name,
			shortRunID(c.Labels[dockerpkg.LabelRunID]),
			c.Labels[dockerpkg.LabelStage],
			c.State,
			c.Status,
			c.Labels[dockerpkg.LabelWorkDir],
		}); err != nil {
			return fmt.Errorf("failed to format container %s: %w", c.ID, err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	return nil
}
