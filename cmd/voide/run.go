package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/voide-engine/pkg/flowgraph"
	"github.com/randalmurphal/voide-engine/pkg/flowgraph/observability"
	"github.com/randalmurphal/voide-engine/pkg/flowgraph/porttype"
	"github.com/randalmurphal/voide-engine/pkg/flowgraph/runstore"
	"github.com/randalmurphal/voide-engine/pkg/flowgraph/signal"
	"github.com/randalmurphal/voide-engine/pkg/flowgraph/telemetry"
)

type runFlags struct {
	inputs    []string
	runID     string
	step      bool
	transcode bool
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run <canvas>",
		Short: "Dry-run a canvas with pass-through executors",
		Long: `Run executes the canvas with executors that forward every input value to
every out-port of the node. Roots without inputs emit their "value" param.
Telemetry goes to the configured transport and the run is recorded in the
configured store.

With --step the run starts paused. Each line read from stdin is a command:
an empty line or "s" runs one node, "c" resumes, "p" pauses and "q" cancels.`,
		Example: `  voide run flow.json --input in.text='"hello"'
  VOIDE_STORE_DRIVER=sqlite VOIDE_STORE_PATH=runs.db voide run flow.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, args[0], f)
		},
	}

	fl := cmd.Flags()
	fl.StringArrayVar(&f.inputs, "input", nil, "seed value as node.port=value; value is JSON or a plain string")
	fl.StringVar(&f.runID, "run-id", "", "run id (default: random UUID)")
	fl.BoolVar(&f.step, "step", false, "start paused and step from stdin")
	fl.BoolVar(&f.transcode, "transcode", false, "re-encode values crossing port type boundaries")
	fl.Int("max-concurrency", 0, "nodes executing at once")
	fl.String("failure-policy", "", "abort or isolate")
	fl.String("store", "", "run store driver: memory, sqlite or none")
	fl.String("store-path", "", "sqlite database path")
	fl.Bool("no-telemetry", false, "disable telemetry frames")
	a.bind("run.max_concurrency", fl.Lookup("max-concurrency"))
	a.bind("run.failure_policy", fl.Lookup("failure-policy"))
	a.bind("store.driver", fl.Lookup("store"))
	a.bind("store.path", fl.Lookup("store-path"))
	a.bind("telemetry.disabled", fl.Lookup("no-telemetry"))
	return cmd
}

func (a *app) run(cmd *cobra.Command, path string, f runFlags) error {
	c, err := flowgraph.LoadCanvas(path)
	if err != nil {
		return err
	}
	var buildOpts []flowgraph.ValidateOption
	types := porttype.NewRegistry()
	if f.transcode {
		buildOpts = append(buildOpts, flowgraph.WithTypeRegistry(types))
	}
	dag, err := flowgraph.Build(*c, buildOpts...)
	if err != nil {
		return err
	}

	seeds, err := parseInputs(f.inputs)
	if err != nil {
		return err
	}

	store, err := runstore.Open(a.engine.Store)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	metrics := observability.NewMetricsRecorder()
	publisher := telemetry.NewPublisherFromConfig(a.engine.Telemetry, a.logger, telemetry.WithMetrics(metrics))
	defer publisher.Close()

	runID := f.runID
	if runID == "" {
		runID = uuid.New().String()
	}
	ctrl := flowgraph.NewRunController()
	router := signal.NewRouter(signal.WithLogger(a.logger))
	if err := router.Attach(runID, ctrl); err != nil {
		return err
	}
	defer router.Detach(runID)

	ctx, stop := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = router.SendName(context.WithoutCancel(ctx), runID, signal.Cancel)
	}()
	if f.step {
		if err := router.SendName(ctx, runID, signal.Pause); err != nil {
			return err
		}
		go stepFromInput(ctx, cmd.InOrStdin(), router, runID, a.logger)
	}

	opts := []flowgraph.RunOption{
		flowgraph.WithRunID(runID),
		flowgraph.WithController(ctrl),
		flowgraph.WithLogger(a.logger),
		flowgraph.WithConfig(a.engine.Run),
		flowgraph.WithMetrics(metrics),
		flowgraph.WithTelemetry(publisher),
		flowgraph.WithRecorder(store),
	}
	if f.transcode {
		opts = append(opts, flowgraph.WithTranscoder(types))
	}
	for _, s := range seeds {
		opts = append(opts, flowgraph.WithInputs(s.node, s.port, s.value))
	}

	result, runErr := dag.Run(ctx, dryRunExecutors(dag), opts...)
	if result != nil {
		if err := printResult(cmd.OutOrStdout(), dag, result); err != nil {
			return err
		}
	}

	stats := publisher.Stats()
	a.logger.Debug("telemetry summary",
		slog.String("transport", stats.Transport),
		slog.Uint64("sent", stats.Sent),
		slog.Uint64("dropped", stats.Dropped),
		slog.Uint64("deduplicated", stats.Deduplicated),
	)
	return runErr
}

// seed is one --input value.
type seed struct {
	node, port string
	value      any
}

// parseInputs parses node.port=value flags. The port is the text after the
// last dot so node ids may contain dots.
func parseInputs(raw []string) ([]seed, error) {
	seeds := make([]seed, 0, len(raw))
	for _, in := range raw {
		target, value, ok := strings.Cut(in, "=")
		if !ok {
			return nil, fmt.Errorf("input %q: want node.port=value", in)
		}
		dot := strings.LastIndex(target, ".")
		if dot <= 0 || dot == len(target)-1 {
			return nil, fmt.Errorf("input %q: want node.port=value", in)
		}
		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		seeds = append(seeds, seed{node: target[:dot], port: target[dot+1:], value: v})
	}
	return seeds, nil
}

// dryRunExecutors registers one forwarding executor under every node type
// in dag.
func dryRunExecutors(dag *flowgraph.DAG) *flowgraph.Executors {
	outPorts := make(map[string][]string, dag.Len())
	execs := flowgraph.NewExecutors()

	forward := flowgraph.ExecutorFunc(func(ctx flowgraph.NodeContext) ([]flowgraph.Output, error) {
		var values []any
		for _, port := range ctx.InputPorts() {
			values = append(values, ctx.Inputs(port)...)
		}
		if len(values) == 0 && ctx.Params().Has("value") {
			values = append(values, ctx.Params().Any("value", nil))
		}
		var out []flowgraph.Output
		for _, port := range outPorts[ctx.NodeID()] {
			for _, v := range values {
				out = append(out, flowgraph.Output{Port: port, Value: v})
			}
		}
		return out, nil
	})

	for _, id := range dag.NodeIDs() {
		n, _ := dag.Node(id)
		for _, p := range n.Out {
			outPorts[id] = append(outPorts[id], p.Port)
		}
		if !execs.Has(n.Type) {
			_ = execs.Register(n.Type, forward)
		}
	}
	return execs
}

// stepFromInput turns stdin lines into control signals. At end of input
// the run is resumed so it can finish.
func stepFromInput(ctx context.Context, in io.Reader, router *signal.Router, runID string, logger *slog.Logger) {
	commands := map[string]string{
		"":  signal.Step,
		"s": signal.Step,
		"c": signal.Resume,
		"p": signal.Pause,
		"q": signal.Cancel,
	}
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		name, ok := commands[strings.TrimSpace(scanner.Text())]
		if !ok {
			logger.Warn("unknown step command", slog.String("input", scanner.Text()))
			continue
		}
		if err := router.SendName(ctx, runID, name); err != nil {
			logger.Debug("control signal not delivered", slog.String("signal", name), slog.String("error", err.Error()))
			return
		}
	}
	_ = router.SendName(ctx, runID, signal.Resume)
}

func printResult(w io.Writer, dag *flowgraph.DAG, result *flowgraph.RunResult) error {
	fmt.Fprintf(w, "run %s %s in %s\n", result.RunID, result.Status, result.Duration.Round(time.Microsecond))
	for _, id := range dag.TopoOrder() {
		fmt.Fprintf(w, "  %-9s %s\n", result.States[id], id)
	}
	if len(result.Outputs) == 0 {
		return nil
	}

	outputs := make(map[string]map[string][]any, len(result.Outputs))
	for id, outs := range result.Outputs {
		ports := make(map[string][]any)
		for _, o := range outs {
			ports[o.Port] = append(ports[o.Port], o.Value)
		}
		outputs[id] = ports
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(outputs)
}
