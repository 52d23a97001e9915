package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gobwas/glob"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/cubic/internal/errors"
	"github.com/Iron-Ham/cubic/internal/instance"
)

var instanceCmd = &cobra.Command{
	Use:     "instance",
	Aliases: []string{"instances", "i"},
	Short:   "Manage game instances",
}

var instanceCreateCmd = &cobra.Command{
	Use:   "create <name> <version>",
	Short: "Create an instance",
	Long: `Create an instance bound to a game version. The version does not need to be
installed yet; it is downloaded on the first start.`,
	Args: cobra.ExactArgs(2),
	RunE: runInstanceCreate,
}

var instanceListCmd = &cobra.Command{
	Use:     "list [pattern]",
	Aliases: []string{"ls"},
	Short:   "List instances",
	Long: `List instances in creation order. An optional glob pattern filters by
name, e.g. 'cubic instance list "Survival*"'. Matching ignores case.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInstanceList,
}

var instanceDeleteCmd = &cobra.Command{
	Use:     "delete <name>",
	Aliases: []string{"rm"},
	Short:   "Delete an instance and everything in its directory",
	Args:    cobra.ExactArgs(1),
	RunE:    runInstanceDelete,
}

var instanceRenameCmd = &cobra.Command{
	Use:   "rename <old> <new>",
	Short: "Rename an instance",
	Args:  cobra.ExactArgs(2),
	RunE:  runInstanceRename,
}

var instanceTouchCmd = &cobra.Command{
	Use:   "touch <name>",
	Short: "Mark an instance as played now",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstanceTouch,
}

func init() {
	rootCmd.AddCommand(instanceCmd)
	instanceCmd.AddCommand(instanceCreateCmd)
	instanceCmd.AddCommand(instanceListCmd)
	instanceCmd.AddCommand(instanceDeleteCmd)
	instanceCmd.AddCommand(instanceRenameCmd)
	instanceCmd.AddCommand(instanceTouchCmd)
}

func runInstanceCreate(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	inst, err := a.Store.Create(args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created instance %s (%s)\n", nameStyle.Render(inst.Name), inst.Version)
	fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render(a.Store.Dir(inst.Name)))
	return nil
}

func runInstanceList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	instances := a.Store.List()
	if len(instances) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("No instances. Create one with 'cubic instance create <name> <version>'."))
		return nil
	}

	if len(args) == 1 {
		g, err := glob.Compile(strings.ToLower(args[0]))
		if err != nil {
			return errors.NewValidationError("invalid pattern").
				WithField("pattern").
				WithValue(args[0]).
				WithCause(err)
		}
		instances = slices.DeleteFunc(instances, func(inst instance.Instance) bool {
			return !g.Match(strings.ToLower(inst.Name))
		})
		if len(instances) == 0 {
			fmt.Fprintln(out, mutedStyle.Render("No instances match "+args[0]+"."))
			return nil
		}
	}

	nameWidth := len("NAME")
	for _, inst := range instances {
		nameWidth = max(nameWidth, lipgloss.Width(inst.Name))
	}
	nameCol := lipgloss.NewStyle().Width(nameWidth + 2)
	versionCol := lipgloss.NewStyle().Width(14)

	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Instances (%d)", len(instances))))
	fmt.Fprintln(out, headerStyle.Render(nameCol.Render("NAME")+versionCol.Render("VERSION")+"LAST PLAYED"))
	for _, inst := range instances {
		fmt.Fprintln(out,
			nameCol.Render(nameStyle.Render(inst.Name))+
				versionCol.Render(inst.Version)+
				mutedStyle.Render(lastPlayed(inst.LastPlayed)))
	}
	return nil
}

func runInstanceDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	name := args[0]
	if _, ok := a.Store.Get(name); !ok {
		return errors.NewNotFoundError("instance", name)
	}
	if !a.Store.Delete(name) {
		return fmt.Errorf("failed to delete instance %s, see the log for details", name)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted instance %s\n", nameStyle.Render(name))
	return nil
}

func runInstanceRename(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	oldName, newName := args[0], args[1]
	if _, ok := a.Store.Get(oldName); !ok {
		return errors.NewNotFoundError("instance", oldName)
	}
	if other, taken := a.Store.Get(newName); taken && !strings.EqualFold(other.Name, oldName) {
		return errors.NewAlreadyExistsError("instance", other.Name)
	}
	ok, err := a.Store.Rename(oldName, newName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("failed to rename %s to %s, see the log for details", oldName, newName)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %s\n", oldName, nameStyle.Render(newName))
	return nil
}

func runInstanceTouch(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	name := args[0]
	if _, ok := a.Store.Get(name); !ok {
		return errors.NewNotFoundError("instance", name)
	}
	if !a.Store.TouchLastPlayed(name) {
		return fmt.Errorf("failed to update %s, see the log for details", name)
	}
	inst, _ := a.Store.Get(name)
	fmt.Fprintf(cmd.OutOrStdout(), "%s last played %s\n", nameStyle.Render(name), lastPlayed(inst.LastPlayed))
	return nil
}
