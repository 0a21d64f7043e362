// Command pthtrace is a headless runner for recorded tap-hold traces: it
// replays a JSON trace (internal/trace) against internal/pth.Engine and
// either dumps the resulting HID log or checks it against the trace's
// expected log, reporting the first divergent op on failure.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/maatthc/jgandert-qmk-modules/internal/keymap"
	"github.com/maatthc/jgandert-qmk-modules/internal/pth"
	"github.com/maatthc/jgandert-qmk-modules/internal/trace"
)

func main() {
	root := &cobra.Command{
		Use:   "pthtrace",
		Short: "Replay and inspect predictive tap-hold traces",
	}
	root.AddCommand(newRunCmd(), newCheckCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRunCmd() *cobra.Command {
	var tracePath string
	var verbose bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay a trace and print the resulting HID log",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(verbose)
			defer logger.Sync()

			tr, err := loadTrace(tracePath)
			if err != nil {
				return err
			}

			_, rec, err := replay(tr, logger)
			if err != nil {
				return err
			}
			for _, op := range rec.Ops {
				fmt.Printf("%-10s %#04x\n", op.Kind, op.Code)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tracePath, "trace", "", "path to trace JSON file (required)")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "log decision diagnostics")
	cmd.MarkFlagRequired("trace")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var tracePath string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Replay a trace and compare against its expected HID log",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(false)
			defer logger.Sync()

			tr, err := loadTrace(tracePath)
			if err != nil {
				return err
			}

			done := make(chan struct{})
			var rec trace.Recorder
			go func() {
				_, r, runErr := replay(tr, logger)
				if runErr == nil {
					rec = r
				}
				close(done)
			}()
			if timeout > 0 {
				select {
				case <-done:
				case <-time.After(timeout):
					return fmt.Errorf("check: timed out after %s", timeout)
				}
			} else {
				<-done
			}

			idx := trace.Diff(tr.Expected, rec.Ops)
			if idx < 0 {
				fmt.Println("PASS")
				return nil
			}
			fmt.Printf("FAIL at op %d\n", idx)
			printContext(tr.Expected, rec.Ops, idx)
			os.Exit(1)
			return nil
		},
	}
	cmd.Flags().StringVar(&tracePath, "trace", "", "path to trace JSON file (required)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "optional wall-clock timeout")
	cmd.MarkFlagRequired("trace")
	return cmd
}

func printContext(want, got []trace.Op, idx int) {
	lo := idx - 3
	if lo < 0 {
		lo = 0
	}
	fmt.Println("--- expected ---")
	for i := lo; i < len(want) && i < idx+3; i++ {
		fmt.Printf("%d: %+v\n", i, want[i])
	}
	fmt.Println("--- got ---")
	for i := lo; i < len(got) && i < idx+3; i++ {
		fmt.Printf("%d: %+v\n", i, got[i])
	}
}

func loadTrace(path string) (trace.Trace, error) {
	if path == "" {
		return trace.Trace{}, fmt.Errorf("a --trace path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return trace.Trace{}, fmt.Errorf("open trace: %w", err)
	}
	defer f.Close()
	return trace.Load(f)
}

// replay drives one trace through a freshly constructed engine, returning
// the engine (for callers that want post-run state) and the recorded HID
// log.
func replay(tr trace.Trace, logger *zap.Logger) (*pth.Engine, trace.Recorder, error) {
	km := keymap.New()
	var rec trace.Recorder

	eng := pth.NewEngine(pth.DefaultConfig(), pth.DefaultPolicies(), &rec, km, km, km, km, km.SideTable(8, 8))
	eng.Log = logger

	var lastTick uint16
	for _, in := range tr.Inputs {
		ev := in.ToEvent()
		if tr.TickEveryMS > 0 {
			for t := lastTick + tr.TickEveryMS; int32(t)-int32(ev.TimeMS) <= 0; t += tr.TickEveryMS {
				eng.Tick(t)
				lastTick = t
			}
		}
		logger.Debug("input", zap.Uint8("row", in.Row), zap.Uint8("col", in.Col), zap.Bool("pressed", in.Pressed), zap.Uint16("time_ms", in.TimeMS))
		eng.HandleEvent(ev, km.CapsWordOn())
	}
	return eng, rec, nil
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
