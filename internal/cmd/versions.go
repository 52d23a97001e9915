package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List installed game versions",
	Args:  cobra.NoArgs,
	RunE:  runVersions,
}

func init() {
	rootCmd.AddCommand(versionsCmd)
}

func runVersions(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	versions, err := a.Engine.ListInstalledVersions(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(versions) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("No versions installed."))
		return nil
	}

	// Count the instances bound to each version.
	users := make(map[string]int)
	for _, inst := range a.Store.List() {
		users[inst.Version]++
	}

	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Installed versions (%d)", len(versions))))
	for _, v := range versions {
		line := "  " + nameStyle.Render(v)
		if n := users[v]; n > 0 {
			line += mutedStyle.Render(fmt.Sprintf("  used by %d instance(s)", n))
		}
		fmt.Fprintln(out, line)
	}

	var missing []string
	for version := range users {
		if !slices.Contains(versions, version) {
			missing = append(missing, version)
		}
	}
	slices.Sort(missing)
	for _, v := range missing {
		fmt.Fprintln(out, warningStyle.Render("  "+v+"  not installed, downloads on next start"))
	}
	return nil
}
