package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/voide-engine/pkg/flowgraph/telemetry"
)

func newTelemetryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "telemetry",
		Short: "Read telemetry frames written by running flows",
	}
	cmd.PersistentFlags().String("ring", "", "ring file (default: the configured ring path)")
	a.bind("telemetry.ring_path", cmd.PersistentFlags().Lookup("ring"))

	cmd.AddCommand(newTailCmd(a), newWatchCmd(a), newDecodeCmd(a))
	return cmd
}

type pollFlags struct {
	interval time.Duration
	once     bool
}

func (f *pollFlags) register(cmd *cobra.Command, interval time.Duration) {
	cmd.Flags().DurationVar(&f.interval, "interval", interval, "poll interval")
	cmd.Flags().BoolVar(&f.once, "once", false, "poll once and exit")
}

func newTailCmd(a *app) *cobra.Command {
	var f pollFlags
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print frames from a telemetry ring as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reader, err := telemetry.OpenRingReader(a.engine.Telemetry.RingPath)
			if err != nil {
				return err
			}
			defer reader.Close()

			out := cmd.OutOrStdout()
			return pollLoop(cmd.Context(), f, func() error {
				p, err := reader.Poll()
				if err != nil {
					return err
				}
				for _, ev := range p.Events {
					if err := printEvent(out, ev); err != nil {
						return err
					}
				}
				if p.DroppedDelta > 0 {
					fmt.Fprintf(out, "# %d frames dropped by the writer\n", p.DroppedDelta)
				}
				if p.Invalid > 0 {
					a.logger.Warn("skipped undecodable frames", slog.Int("count", p.Invalid))
				}
				return nil
			})
		},
	}
	f.register(cmd, 100*time.Millisecond)
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	var f pollFlags
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show live node and wire status",
		Long: `Watch reads the telemetry ring, or listens on the datagram fallback when
the ring cannot be opened, and redraws node and wire lights on every tick.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			monitor := telemetry.NewMonitor(a.engine.Telemetry.StallTimeout)
			source, err := openSource(cmd.Context(), a, monitor)
			if err != nil {
				return err
			}
			defer source.close()

			out := cmd.OutOrStdout()
			return pollLoop(cmd.Context(), f, func() error {
				if err := source.poll(); err != nil {
					return err
				}
				if err := monitor.Snapshot().Render(out, source.kind); err != nil {
					return err
				}
				_, err := fmt.Fprintln(out)
				return err
			})
		},
	}
	f.register(cmd, 500*time.Millisecond)
	return cmd
}

// watchSource feeds a Monitor from a ring or a datagram socket.
type watchSource struct {
	kind  string
	poll  func() error
	close func() error
}

func openSource(ctx context.Context, a *app, monitor *telemetry.Monitor) (*watchSource, error) {
	reader, ringErr := telemetry.OpenRingReader(a.engine.Telemetry.RingPath)
	if ringErr == nil {
		return &watchSource{
			kind: "ring",
			poll: func() error {
				p, err := reader.Poll()
				if err != nil {
					return err
				}
				for _, ev := range p.Events {
					monitor.Apply(ev)
				}
				monitor.SetRingStats(p.HeartbeatNs, p.Dropped, p.DroppedDelta)
				return nil
			},
			close: reader.Close,
		}, nil
	}
	a.logger.Debug("telemetry ring unavailable", slog.String("error", ringErr.Error()))

	if a.engine.Telemetry.Fallback.Type == "none" {
		return nil, ringErr
	}
	recv, err := telemetry.ListenDatagram(a.engine.Telemetry.Fallback)
	if err != nil {
		return nil, errors.Join(ringErr, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ctx.Err() == nil {
			ev, err := recv.Receive(time.Now().Add(200 * time.Millisecond))
			switch {
			case err == nil:
				monitor.Apply(ev)
			case telemetry.IsTimeout(err):
			case errors.Is(err, net.ErrClosed):
				return
			default:
				a.logger.Debug("bad datagram", slog.String("error", err.Error()))
			}
		}
	}()
	return &watchSource{
		kind:  recv.Kind(),
		poll:  func() error { return nil },
		close: func() error {
			err := recv.Close()
			<-done
			return err
		},
	}, nil
}

func newDecodeCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <file>",
		Short: "Decode a file of concatenated telemetry frames",
		Long:  `Decode reads back-to-back frames from a file, or stdin when the file is "-".`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for offset := 0; offset < len(data); {
				n, err := telemetry.FrameLen(data[offset:])
				if err != nil {
					return fmt.Errorf("frame at byte %d: %w", offset, err)
				}
				if offset+n > len(data) {
					return fmt.Errorf("frame at byte %d: %w", offset, telemetry.ErrPayloadBounds)
				}
				ev, err := telemetry.Decode(data[offset : offset+n])
				if err != nil {
					return fmt.Errorf("frame at byte %d: %w", offset, err)
				}
				if err := printEvent(out, ev); err != nil {
					return err
				}
				offset += n
			}
			return nil
		},
	}
}

// pollLoop calls fn now and then on every tick until ctx ends, or once.
func pollLoop(ctx context.Context, f pollFlags, fn func() error) error {
	if err := fn(); err != nil || f.once {
		return err
	}
	ctx, stop := ossignal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fn(); err != nil {
				return err
			}
		}
	}
}

// printEvent writes one event as "<timestamp> <type> <payload json>".
func printEvent(w io.Writer, ev telemetry.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%d %s %s\n", ev.Timestamp, ev.Type, payload)
	return err
}
