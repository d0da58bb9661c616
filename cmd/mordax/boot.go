package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/orizon-lang/mordax/internal/runtime/drivers"
	"github.com/orizon-lang/mordax/internal/runtime/kernel"
)

var (
	bootImage   string
	bootTicks   uint64
	bootWatch   bool
	bootConsole string
)

var (
	errBoardChanged = errors.New("board changed")
	errTicksDone    = errors.New("tick limit reached")
)

const consoleDialTimeout = 5 * time.Second

func init() {
	cmd := newBootCmd()
	cmd.Flags().StringVar(&bootImage, "image", "", "Initial process image loaded at linux,initrd-start")
	cmd.Flags().Uint64Var(&bootTicks, "ticks", 100, "Scheduler ticks to run (0 runs until interrupted)")
	cmd.Flags().BoolVar(&bootWatch, "watch", false, "Reboot when the board file changes")
	cmd.Flags().StringVar(&bootConsole, "console", "", "Send the debug UART to a QUIC console at this address")
	rootCmd.AddCommand(cmd)
}

func newBootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boot",
		Short: "Boot the kernel and run the scheduler",
		Long: `The boot command boots the kernel on the board, runs the scheduler
for a number of timer ticks and prints the kernel status.

Example:
  mordax boot --board boards/sim.yaml --image init.bin
  mordax boot --ticks 0 --watch
  mordax boot --console 127.0.0.1:4433`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBoot(ctx, cmd)
		},
	}
}

func runBoot(ctx context.Context, cmd *cobra.Command) error {
	var image []byte
	if bootImage != "" {
		var err error
		if image, err = os.ReadFile(bootImage); err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		printVerbose(cmd, "Loaded %d byte image from %s\n", len(image), bootImage)
	}
	for {
		err := bootOnce(ctx, cmd, image)
		if !errors.Is(err, errBoardChanged) {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s changed, rebooting\n", boardPath)
	}
}

// bootOnce boots a fresh kernel and drives it until the tick limit, an
// interrupt, a kernel panic or a board change.
func bootOnce(ctx context.Context, cmd *cobra.Command, image []byte) error {
	tree, err := loadBoard()
	if err != nil {
		return err
	}
	lvl, err := level()
	if err != nil {
		return err
	}

	reg := drivers.Default()
	if bootConsole != "" {
		reg.Register(drivers.KindDebugOutput, "mordax,sim-uart", func(env drivers.Env) (any, error) {
			dctx, cancel := context.WithTimeout(ctx, consoleDialTimeout)
			defer cancel()
			return drivers.DialQUICConsole(dctx, bootConsole)
		})
	}

	k, err := kernel.Boot(ctx, tree, kernel.Options{
		Registry: reg,
		Output:   cmd.OutOrStdout(),
		LogLevel: lvl,
		Image:    image,
	})
	if err != nil {
		return fmt.Errorf("boot failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return drive(gctx, k) })
	if bootWatch {
		g.Go(func() error { return watchBoard(gctx, boardPath) })
	}
	err = g.Wait()

	k.Status().Print(cmd.OutOrStdout())
	if serr := k.Shutdown(); serr != nil && err == nil {
		err = serr
	}
	if errors.Is(err, errTicksDone) {
		return nil
	}
	return err
}

// drive advances a simulated scheduler timer in real time. Host timers
// tick on their own and are only watched.
func drive(ctx context.Context, k *kernel.Kernel) error {
	us := k.Config().TickInterval
	ticker := time.NewTicker(time.Duration(us) * time.Microsecond)
	defer ticker.Stop()
	sim, _ := k.Timer().(*drivers.SimTimer)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if sim != nil {
			sim.Advance(uint64(us))
		}
		if err := k.Halted(); err != nil {
			return err
		}
		if bootTicks > 0 && k.Status().Ticks >= bootTicks {
			return errTicksDone
		}
	}
}

// watchBoard returns errBoardChanged once path is written or replaced.
// The directory is watched so editors that save by renaming are seen.
func watchBoard(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	path = filepath.Clean(path)
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) == path && (ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				return errBoardChanged
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
