package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/spatial/r3"

	"memsim/internal/config"
	"memsim/internal/integrate"
	"memsim/internal/membrane"
	"memsim/internal/mesh"
	"memsim/internal/storage"
	"memsim/internal/tui"
)

var (
	dataDir    string
	configFile string
	preset     string
	live       bool

	dt           float64
	totalTime    float64
	tol          float64
	integrator   string
	seed         uint64
	radius       float64
	subdivisions int
	perturb      float64
	kb           float64
	ksg          float64
	kv           float64
	vt           float64
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "memsim",
		Short: "deformable membrane simulation",
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".memsim", "data directory")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run a membrane simulation",
		RunE:  runSimulation,
	}
	runCmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	runCmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
	runCmd.Flags().BoolVar(&live, "live", false, "live status dashboard")
	runCmd.Flags().Float64Var(&dt, "dt", 0, "time step")
	runCmd.Flags().Float64Var(&totalTime, "time", 0, "simulated-time horizon")
	runCmd.Flags().Float64Var(&tol, "tol", 0, "residual tolerance")
	runCmd.Flags().StringVar(&integrator, "integrator", "", "integrator (velocity_verlet, gradient_descent, conjugate_gradient)")
	runCmd.Flags().Uint64Var(&seed, "seed", 0, "random seed")
	runCmd.Flags().Float64Var(&radius, "radius", 0, "sphere radius")
	runCmd.Flags().IntVar(&subdivisions, "subdivisions", -1, "icosphere subdivision level")
	runCmd.Flags().Float64Var(&perturb, "perturb", -1, "radial perturbation fraction")
	runCmd.Flags().Float64Var(&kb, "kb", -1, "bending modulus")
	runCmd.Flags().Float64Var(&ksg, "ksg", -1, "global stretching modulus")
	runCmd.Flags().Float64Var(&kv, "kv", -1, "osmotic modulus")
	runCmd.Flags().Float64Var(&vt, "vt", -1, "reduced volume target")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		RunE:  listRuns,
	}

	var plotField string
	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a trace column of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return plotRun(args[0], plotField)
		},
	}
	plotCmd.Flags().StringVar(&plotField, "field", "total_e", "trace column to plot")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list preset configurations",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range config.PresetNames() {
				fmt.Println(name)
			}
			return nil
		},
	}

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "write a default config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if preset != "" {
				var err error
				cfg, err = config.Preset(preset)
				if err != nil {
					return err
				}
			}
			return config.Save(args[0], cfg)
		},
	}
	initCmd.Flags().StringVar(&preset, "preset", "", "seed the file from a preset")

	rootCmd.AddCommand(runCmd, listCmd, plotCmd, presetsCmd, initCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		var err error
		cfg, err = config.Preset(preset)
		if err != nil {
			return nil, err
		}
	}
	if configFile != "" {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	// CLI flags override preset and file values
	if cmd.Flags().Changed("dt") {
		cfg.Run.Dt = dt
	}
	if cmd.Flags().Changed("time") {
		cfg.Run.TotalTime = totalTime
	}
	if cmd.Flags().Changed("tol") {
		cfg.Run.Tol = tol
	}
	if cmd.Flags().Changed("integrator") {
		cfg.Run.Integrator = integrator
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = seed
	}
	if cmd.Flags().Changed("radius") {
		cfg.Mesh.Radius = radius
	}
	if cmd.Flags().Changed("subdivisions") {
		cfg.Mesh.Subdivisions = subdivisions
	}
	if cmd.Flags().Changed("perturb") {
		cfg.Mesh.Perturb = perturb
	}
	if cmd.Flags().Changed("kb") {
		cfg.Parameters.Kb = kb
	}
	if cmd.Flags().Changed("ksg") {
		cfg.Parameters.Ksg = ksg
	}
	if cmd.Flags().Changed("kv") {
		cfg.Parameters.Kv = kv
	}
	if cmd.Flags().Changed("vt") {
		cfg.Parameters.Vt = vt
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildSurfaces makes the reference icosphere and a radially perturbed
// copy as the initial shape. The perturbation stream is seeded so a run
// is reproducible from its config alone.
func buildSurfaces(cfg *config.Config) (current, reference *mesh.Surface, err error) {
	reference = mesh.Icosphere(cfg.Mesh.Radius, cfg.Mesh.Subdivisions)

	faces := make([][3]int, reference.NumFaces())
	for f := range faces {
		faces[f] = reference.Face(f)
	}
	positions := reference.Positions()
	if cfg.Mesh.Perturb != 0 {
		rng := rand.New(rand.NewSource(cfg.Seed))
		for v := range positions {
			scale := 1 + cfg.Mesh.Perturb*(2*rng.Float64()-1)
			positions[v] = r3.Scale(scale, positions[v])
		}
	}
	current, err = mesh.New(positions, faces)
	if err != nil {
		return nil, nil, err
	}
	return current, reference, nil
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	current, reference, err := buildSurfaces(cfg)
	if err != nil {
		return err
	}
	sys, err := membrane.NewSystem(current, reference, cfg.Parameters, cfg.Options, cfg.Seed)
	if err != nil {
		return err
	}

	stepper, err := cfg.NewStepper()
	if err != nil {
		return err
	}
	runner, err := integrate.NewRunner(sys, stepper, cfg.IntegratorOptions())
	if err != nil {
		return err
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	run, err := st.Begin(storage.RunMetadata{
		Integrator: cfg.Run.Integrator,
		Seed:       cfg.Seed,
		Dt:         cfg.Run.Dt,
		TotalTime:  cfg.Run.TotalTime,
	})
	if err != nil {
		return err
	}
	runner.SetSaver(run)

	var monitor *tui.LiveMonitor
	if live {
		monitor = tui.NewLiveMonitor(cfg.Run.Integrator)
		runner.AddObserver(monitor)
	} else {
		fmt.Printf("running %s on %d vertices...\n", cfg.Run.Integrator, current.NumVertices())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	res, runErr := runner.Run(ctx)
	elapsed := time.Since(start)

	if monitor != nil {
		if err := monitor.Finish(res.Status); err != nil {
			return err
		}
	}

	fmt.Printf("status: %s\n", res.Status)
	fmt.Printf("iterations: %d  simulated time: %.6g  wall: %v\n", res.Iterations, res.Time, elapsed)
	fmt.Printf("energy: %.6e  residual: %.3e\n", res.Energy.Total, res.Residual)
	fmt.Printf("saved to: %s\n", run.Dir())

	if !live && len(res.Trace) > 2 {
		data := make([]float64, len(res.Trace))
		for i, s := range res.Trace {
			data[i] = s.Energy.Total
		}
		fmt.Println()
		fmt.Println(asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption("total energy")))
	}
	return runErr
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tINTEG\tSTATUS\tFRAMES\tT_FINAL\tENERGY\tRESIDUAL")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.4g\t%.4e\t%.2e\n",
			run.ID,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Integrator,
			run.Status,
			run.Frames,
			run.FinalTime,
			run.FinalE,
			run.Residual,
		)
	}
	return w.Flush()
}

func plotRun(runID, field string) error {
	st := storage.New(dataDir)
	data, err := st.Trace(runID, field)
	if err != nil {
		return err
	}
	if len(data) < 2 {
		return fmt.Errorf("not enough samples to plot")
	}
	fmt.Println(asciigraph.Plot(data,
		asciigraph.Height(15),
		asciigraph.Width(80),
		asciigraph.Caption(fmt.Sprintf("%s (%s)", field, runID))))
	return nil
}
