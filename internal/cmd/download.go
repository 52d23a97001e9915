package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/cubic/internal/download"
	"github.com/Iron-Ham/cubic/internal/errors"
)

var downloadCmd = &cobra.Command{
	Use:   "download <url> <destination>",
	Short: "Download a file through the download queue",
	Long: `Download a file with the same queue, bandwidth cap and progress tracking
used for game versions. Missing parent directories are created.`,
	Args: cobra.ExactArgs(2),
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	dest, err := filepath.Abs(args[1])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	// Snapshots arrive per chunk on a queue worker; print one line per
	// whole percent from the front.
	lastPercent := -1
	onProgress := func(p download.Progress) {
		a.Front.Post(func() {
			pct := int(p.Fraction() * 100)
			if pct == lastPercent && !p.State.IsTerminal() {
				return
			}
			lastPercent = pct
			fmt.Fprintln(out, progressLine(p))
		})
	}

	handle := a.Downloads.Submit(args[0], dest, download.WithProgress(onProgress))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	final, err := handle.Wait(ctx)
	if err != nil {
		handle.Cancel()
		return errors.Wrapf(err, "download of %s", args[0])
	}
	a.Front.Post(func() {
		fmt.Fprintf(out, "%s %s (%s)\n", successStyle.Render("Saved"), final.Destination, formatBytes(final.Transferred))
	})
	return nil
}
