// Command gpusort sorts integers with the GPU bitonic sorter.
//
// Numbers come from the arguments, from -input (a file, or - for stdin) or,
// when neither is given, are generated at random. -input may be repeated;
// every file is sorted independently and concurrently:
//
//	gpusort 5 3 9 1
//	seq 1000 | shuf | gpusort -input - -verify
//	gpusort -input a.txt -input b.txt -q -stats
//	gpusort -backend wgpu -n 4096 -plan
//
// Settings are read from -config, or from gpusort.toml in the working
// directory if it exists. Flags override file settings.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"

	"github.com/gogpu/gpusort"
	"github.com/gogpu/gpusort/gpucore"
	"github.com/gogpu/gpusort/internal/config"
	"github.com/gogpu/gpusort/internal/memory"

	// Register the GPU backends.
	_ "github.com/gogpu/gpusort/gl"
	_ "github.com/gogpu/gpusort/gpu"
)

// inputFlags collects repeated -input flags.
type inputFlags []string

func (f *inputFlags) String() string { return strings.Join(*f, ",") }

func (f *inputFlags) Set(v string) error {
	*f = append(*f, v)
	return nil
}

// runOptions selects what run prints.
type runOptions struct {
	plan   bool
	verify bool
	quiet  bool
	stats  bool
}

func main() {
	var inputs inputFlags
	flag.Var(&inputs, "input", "read numbers from file, - for stdin (repeatable)")
	var (
		configPath  = flag.String("config", "", "TOML settings file (default gpusort.toml if present)")
		backend     = flag.String("backend", "", "device backend: "+strings.Join(gpusort.Backends(), ", "))
		groupSize   = flag.Int("group-size", 0, "workgroup width, a power of two in [2, 256]")
		count       = flag.Int("n", 0, "number of random values when no input is given")
		seed        = flag.Uint64("seed", 0, "random seed (0 picks one)")
		showPlan    = flag.Bool("plan", false, "print the dispatch schedule")
		verify      = flag.Bool("verify", false, "check the result against a CPU sort")
		quiet       = flag.Bool("q", false, "do not print the numbers")
		stats       = flag.Bool("stats", false, "print device command and memory statistics")
		logLevel    = flag.String("log", "", "log level: debug, info, warn, error")
		concurrency = flag.Int("concurrency", 0, "sorts run at once with several inputs (0 is GOMAXPROCS)")
		printConfig = flag.Bool("print-config", false, "print the effective settings as TOML and exit")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = *backend
		case "group-size":
			cfg.GroupSize = *groupSize
		case "n":
			cfg.Random.Count = *count
		case "seed":
			cfg.Random.Seed = *seed
		case "log":
			cfg.LogLevel = *logLevel
		case "concurrency":
			cfg.Concurrency = *concurrency
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid settings: %v", err)
	}
	if *printConfig {
		if err := cfg.Encode(os.Stdout); err != nil {
			log.Fatal(err)
		}
		return
	}

	if cfg.LogLevel != "" {
		level, _ := cfg.Level()
		gpusort.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	}

	sets, err := readInputs(flag.Args(), inputs, cfg.Random)
	if err != nil {
		log.Fatalf("Failed to read input: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := runOptions{plan: *showPlan, verify: *verify, quiet: *quiet, stats: *stats}
	if err := run(ctx, os.Stdout, cfg, sets, opts); err != nil {
		if gpusort.IsCanceled(err) {
			log.Fatal("Interrupted")
		}
		log.Fatalf("Sort failed: %v", err)
	}
}

// loadConfig reads path, or DefaultFile if path is empty and it exists.
func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	c, err := config.Load(config.DefaultFile)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return c, err
}

// readInputs returns the sets of numbers to sort: the arguments, else one
// set per input file, else one set generated from r.
func readInputs(args, inputs []string, r config.Random) ([][]int32, error) {
	switch {
	case len(args) > 0:
		values, err := parseValues(strings.NewReader(strings.Join(args, " ")))
		if err != nil {
			return nil, err
		}
		return [][]int32{values}, nil
	case len(inputs) > 0:
		sets := make([][]int32, len(inputs))
		for i, name := range inputs {
			values, err := readFile(name)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			sets[i] = values
		}
		return sets, nil
	default:
		return [][]int32{randomValues(r)}, nil
	}
}

// readFile parses the numbers in name, or in stdin for "-".
func readFile(name string) ([]int32, error) {
	if name == "-" {
		return parseValues(os.Stdin)
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseValues(f)
}

// run sorts every set on the configured backend with Sorter.SortMany.
func run(ctx context.Context, w io.Writer, cfg config.Config, sets [][]int32, opts runOptions) error {
	dev, err := gpusort.OpenBackend(cfg.Backend, cfg.BackendConfig())
	if err != nil {
		return err
	}
	s, err := gpusort.New(gpusort.WithDevice(dev), gpusort.WithConcurrency(cfg.Concurrency))
	if err != nil {
		return err
	}
	defer s.Close()

	// Sets are only numbered when there is more than one.
	label := func(i int) string {
		if len(sets) == 1 {
			return ""
		}
		return fmt.Sprintf("[%d]", i)
	}

	if opts.plan {
		for _, values := range sets {
			p, err := s.Plan(len(values))
			if err != nil {
				return err
			}
			fmt.Fprint(w, p)
		}
	}

	if !opts.quiet {
		for i, values := range sets {
			fmt.Fprintf(w, "before%s: %v\n", label(i), values)
		}
	}
	sorted, err := s.SortMany(ctx, sets)
	if err != nil {
		return err
	}
	if !opts.quiet {
		for i, values := range sorted {
			fmt.Fprintf(w, "after%s: %v\n", label(i), values)
		}
	}

	if opts.verify {
		total := 0
		for i, values := range sets {
			want := slices.Clone(values)
			slices.Sort(want)
			if !slices.Equal(want, sorted[i]) {
				return fmt.Errorf("verify%s: %s result differs from CPU sort", label(i), dev.Name())
			}
			total += len(values)
		}
		fmt.Fprintf(w, "verified %d values on %s\n", total, dev.Name())
	}

	if opts.stats {
		printStats(w, dev)
	}
	return nil
}

// printStats writes what dev reports about itself.
func printStats(w io.Writer, dev gpucore.Device) {
	name := dev.Name()
	switch d := dev.(type) {
	case interface{ Adapter() string }:
		name += " (" + d.Adapter() + ")"
	case interface{ Renderer() string }:
		name += " (" + d.Renderer() + ")"
	}
	fmt.Fprintf(w, "device: %s, group size %d\n", name, dev.GroupSize())

	if r, ok := dev.(gpucore.StatsReporter); ok {
		st := r.Stats()
		fmt.Fprintf(w, "commands: %d buffers, %d uploads, %d dispatches, %d barriers, %d downloads\n",
			st.Buffers, st.Uploads, st.Dispatches, st.Barriers, st.Downloads)
	}
	if m, ok := dev.(interface{ MemoryStats() memory.Stats }); ok {
		st := m.MemoryStats()
		fmt.Fprintf(w, "memory: peak %d KB, %s\n", st.PeakBytes/1024, st)
	}
}
