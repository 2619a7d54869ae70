package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/melody-hunter/internal/registry"
)

func newPlatformsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "platforms",
		Short: "Manage the platform catalog",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Create or refresh the built-in platforms",
			RunE:  runPlatformsInit,
		},
		&cobra.Command{
			Use:   "list",
			Short: "List platforms and whether a crawler is bound to them",
			RunE:  runPlatformsList,
		},
	)
	return cmd
}

func runPlatformsInit(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	res, err := registry.Seed(cmd.Context(), a.Store, a.Clock.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "platforms initialized: %d created, %d updated\n", res.Created, res.Updated)
	return nil
}

func runPlatformsList(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	platforms, err := a.Store.ListPlatforms(cmd.Context())
	if err != nil {
		return fmt.Errorf("list platforms: %w", err)
	}
	bound := make(map[string]bool)
	for _, name := range a.Registry.Names() {
		bound[name] = true
	}

	out := cmd.OutOrStdout()
	if len(platforms) == 0 {
		fmt.Fprintln(out, "no platforms; run `melodyhunter platforms init`")
		return nil
	}
	fmt.Fprintf(out, "%-10s %-8s %-8s %s\n", "NAME", "ACTIVE", "CRAWLER", "BASE URL")
	for _, p := range platforms {
		fmt.Fprintf(out, "%-10s %-8t %-8t %s\n", p.Name, p.Active, bound[p.Name], strings.TrimSuffix(p.BaseURL, "/"))
	}
	return nil
}
