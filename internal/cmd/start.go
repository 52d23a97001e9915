package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/cubic/internal/app"
	"github.com/Iron-Ham/cubic/internal/errors"
	"github.com/Iron-Ham/cubic/internal/event"
	"github.com/Iron-Ham/cubic/internal/orchestrator"
)

var startCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Start an instance",
	Long: `Start an instance, downloading its game version first if it is not
installed. Progress is printed as it happens.`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

var (
	startTimeout time.Duration
	startWait    bool
	startVerbose bool
)

func init() {
	startCmd.Flags().DurationVar(&startTimeout, "timeout", 0, "give up waiting for the launch after this long (0 waits forever)")
	startCmd.Flags().BoolVarP(&startWait, "wait", "w", false, "keep running until the game exits")
	startCmd.Flags().BoolVarP(&startVerbose, "verbose", "v", false, "print every state change of the start")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	name := args[0]
	out := cmd.OutOrStdout()

	// Transitions only happen after Start, so a is set by then.
	var a *app.App
	onState := func(instance string, _, to orchestrator.State) {
		if !startVerbose || instance != name {
			return
		}
		a.Front.Post(func() {
			fmt.Fprintf(out, "%s %s\n", mutedStyle.Render(instance+":"), stateStyle(to).Render(to.String()))
		})
	}

	a, err := openApp(app.WithStateCallback(onState))
	if err != nil {
		return err
	}
	defer a.Close()

	// Handlers run on worker goroutines; printing goes through the front
	// so lines come out whole and in order.
	sub := a.Bus.SubscribeAll(func(e event.Event) {
		if e.Instance() != name {
			return
		}
		a.Front.Post(func() { printLifecycleEvent(out, e) })
	})
	defer a.Bus.Unsubscribe(sub)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	if startTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, startTimeout)
		defer cancel()
	}

	launch, err := a.Orchestrator.Start(name).Await(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errors.NewTimeoutError("waiting for "+name+" to launch", startTimeout).WithCause(err)
		}
		return err
	}

	if !startWait {
		return nil
	}
	select {
	case <-launch.Exited():
	case <-ctx.Done():
	}
	return nil
}

func printLifecycleEvent(out io.Writer, e event.Event) {
	switch e.Kind() {
	case event.InstanceVersionMissing:
		fmt.Fprintln(out, warningStyle.Render(
			fmt.Sprintf("Version %s is not installed, downloading", e.String(event.KeyVersion))))
	case event.DownloadProgress:
		current, total := e.Int64(event.KeyCurrent), e.Int64(event.KeyTotal)
		fraction := 0.0
		if total > 0 {
			fraction = float64(current) / float64(total)
		}
		fmt.Fprintf(out, "  %s %3.0f%% %s\n",
			progressBar(fraction, 30), fraction*100, mutedStyle.Render(truncate(e.String(event.KeyFileName), 40)))
	case event.DownloadCompleted:
		fmt.Fprintln(out, successStyle.Render("Installed version "+e.String(event.KeyVersion)))
	case event.DownloadFailed:
		fmt.Fprintln(out, errorStyle.Render("Download failed: "+e.String(event.KeyMessage)))
	case event.GameStarted:
		fmt.Fprintf(out, "%s %s (%s, pid %d)\n",
			successStyle.Render("Started"), nameStyle.Render(e.Instance()),
			e.String(event.KeyVersion), e.Int64(event.KeyPID))
	case event.GameStopped:
		fmt.Fprintf(out, "%s exited with code %d\n", nameStyle.Render(e.Instance()), e.Int64(event.KeyExitCode))
	case event.GameCrashed:
		fmt.Fprintln(out, errorStyle.Render("Crashed: "+e.String(event.KeyMessage)))
	}
}
