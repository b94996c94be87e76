package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"dicengine/internal/config"
	"dicengine/internal/engine"
	"dicengine/internal/imageio"
	"dicengine/internal/monitor"
	"dicengine/internal/objective"
	"dicengine/internal/sequence"
	"dicengine/internal/storage"
)

func newRunCmd(root *Root) *cobra.Command {
	var (
		images     string
		refPath    string
		watchDir   string
		paramsFile string
		runDefFile string
		outputDir  string
		dbPath     string
		workers    int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Correlate an image sequence",
		Long: `Correlate a reference image against a sequence of deformed images.

Examples:
  # Full-field run over a glob of images (first match is the reference)
  dicengine run --images 'frames/*.tif' --rundef points.yaml --params params.yaml

  # Track subsets in frames arriving live during acquisition
  dicengine run --ref ref.tif --watch /data/acquisition --rundef points.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runDefFile == "" {
				return fmt.Errorf("--rundef is required")
			}
			if images == "" && (refPath == "" || watchDir == "") {
				return fmt.Errorf("either --images or both --ref and --watch are required")
			}
			if workers == 0 {
				workers = root.cfg.Processing.Workers
			}
			if dbPath == "" {
				dbPath = root.cfg.Paths.DatabasePath
			}
			if outputDir == "" {
				outputDir = root.cfg.Paths.DefaultOutput
			}
			return root.runCorrelation(cmd.Context(), runOptions{
				images:     images,
				refPath:    refPath,
				watchDir:   watchDir,
				paramsFile: paramsFile,
				runDefFile: runDefFile,
				outputDir:  outputDir,
				dbPath:     dbPath,
				workers:    workers,
			})
		},
	}

	cmd.Flags().StringVar(&images, "images", "", "glob of sequence images; first match is the reference")
	cmd.Flags().StringVar(&refPath, "ref", "", "reference image (live runs)")
	cmd.Flags().StringVar(&watchDir, "watch", "", "directory to watch for arriving frames (live runs)")
	cmd.Flags().StringVar(&paramsFile, "params", "", "correlation parameter file (YAML)")
	cmd.Flags().StringVar(&runDefFile, "rundef", "", "run definition file: subsets, seeds, obstructions (YAML)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory for the results report")
	cmd.Flags().StringVar(&dbPath, "db", "", "results database path")
	cmd.Flags().IntVar(&workers, "workers", 0, "worker count (0 uses the configured default)")

	return cmd
}

type runOptions struct {
	images     string
	refPath    string
	watchDir   string
	paramsFile string
	runDefFile string
	outputDir  string
	dbPath     string
	workers    int
}

func (r *Root) runCorrelation(ctx context.Context, opts runOptions) error {
	params := config.DefaultParams()
	if opts.paramsFile != "" {
		var err error
		if params, err = config.LoadParams(opts.paramsFile); err != nil {
			return err
		}
	}
	runDef, err := config.LoadRunDef(opts.runDefFile)
	if err != nil {
		return err
	}

	imageio.Initialize()
	defer imageio.Terminate()

	live := opts.watchDir != ""
	var seq *sequence.Static
	refPath := opts.refPath
	if !live {
		if seq, err = sequence.NewStatic(opts.images); err != nil {
			return err
		}
		refPath = seq.Reference()
	}

	refOpts := imageio.LoadOptions{
		GaussFilter:      params.GaussFilterImages,
		ComputeGradients: params.ComputeRefGradients,
		Rotation:         params.RotateRefImage,
	}
	defOpts := imageio.LoadOptions{
		GaussFilter:      params.GaussFilterImages,
		ComputeGradients: params.ComputeDefGradients,
		Rotation:         params.RotateDefImage,
	}
	ref, err := imageio.Load(refPath, refOpts)
	if err != nil {
		return err
	}

	pointDefs, err := runDef.GridPoints(ref.Width(), ref.Height())
	if err != nil {
		return err
	}
	points := make([]engine.Point, len(pointDefs))
	for i, pd := range pointDefs {
		points[i] = engine.Point{X: pd.X, Y: pd.Y}
	}
	skipSolve := make(map[int]bool, len(runDef.SkipSolve))
	for _, id := range runDef.SkipSolve {
		skipSolve[id] = true
	}

	var watcher *sequence.Watcher
	firstDefPath := ""
	if live {
		if watcher, err = sequence.NewWatcher(r.log, opts.watchDir); err != nil {
			return err
		}
		defer watcher.Close()
		go watcher.Run(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case path, ok := <-watcher.Frames():
			if !ok {
				return fmt.Errorf("frame watcher closed before the first frame arrived")
			}
			firstDefPath = path
		}
	} else {
		firstDefPath = seq.Deformed()[0]
	}
	def, err := imageio.Load(firstDefPath, defOpts)
	if err != nil {
		return err
	}

	numFrames := -1
	if !live {
		numFrames = seq.NumFrames()
	}
	eng, err := engine.New(params, engine.Options{
		Log:            r.log,
		Workers:        opts.workers,
		Points:         points,
		SubsetSize:     runDef.SubsetSize,
		NeighborIDs:    runDef.NeighborIDs,
		Obstructions:   runDef.Obstructions,
		MotionWindows:  runDef.MotionWindows,
		PathFiles:      runDef.PathFiles,
		SkipSolve:      skipSolve,
		NumFrames:      numFrames,
		NewObjective:   objective.Factory,
		PhaseCorrelate: imageio.PhaseCorrelate,
		Ref:            ref,
		Def:            def,
	})
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	r.log.Info("correlation run starting",
		"run_id", runID,
		"points", len(points),
		"frames", numFrames,
		"workers", opts.workers,
		"routine", params.CorrelationRoutine.String(),
	)

	var store *storage.Store
	if opts.dbPath != "" {
		if store, err = storage.New(opts.dbPath); err != nil {
			return err
		}
		defer store.Close()
		if err := store.RecordRunStart(storage.RunRecord{
			ID:        runID,
			RefImage:  refPath,
			NumPoints: len(points),
			NumFrames: numFrames,
		}); err != nil {
			return err
		}
	}

	report, err := storage.NewReport(params, eng.PostProcessors())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(opts.outputDir, 0o755); err != nil {
		return err
	}
	out, err := os.Create(filepath.Join(opts.outputDir, "results.txt"))
	if err != nil {
		return err
	}
	defer out.Close()
	if err := report.WriteHeader(out, runID, refPath); err != nil {
		return err
	}

	if r.cfg.Monitor.Enabled {
		mon := monitor.NewServer(r.log, r.cfg.Monitor.Port, runID)
		eng.AddFrameListener(mon)
		go func() {
			if err := mon.Start(ctx); err != nil {
				r.log.Error("monitor stopped", "error", err)
			}
		}()
	}

	runFrame := func() error {
		frame := eng.Frame()
		if err := eng.ExecuteFrame(ctx); err != nil {
			return err
		}
		if err := report.WriteFrame(out, frame, eng.Store()); err != nil {
			return err
		}
		if store != nil {
			if err := store.RecordFrame(runID, frame, eng.Store()); err != nil {
				return err
			}
		}
		return nil
	}

	finish := func(runErr error) error {
		if store != nil {
			status, msg := "completed", ""
			if runErr != nil {
				status, msg = "failed", runErr.Error()
			}
			if err := store.RecordRunResult(runID, status, msg); err != nil {
				r.log.Error("failed to finalize run record", "error", err)
			}
		}
		if runErr != nil {
			return runErr
		}
		r.log.Info("correlation run complete", "run_id", runID, "frames", eng.Frame())
		return nil
	}

	if err := runFrame(); err != nil {
		return finish(err)
	}
	if live {
		for {
			select {
			case <-ctx.Done():
				return finish(nil)
			case path, ok := <-watcher.Frames():
				if !ok {
					return finish(nil)
				}
				img, err := imageio.Load(path, defOpts)
				if err != nil {
					return finish(err)
				}
				if err := eng.SetDefImage(img); err != nil {
					return finish(err)
				}
				if err := runFrame(); err != nil {
					return finish(err)
				}
			}
		}
	}
	for _, path := range seq.Deformed()[1:] {
		img, err := imageio.Load(path, defOpts)
		if err != nil {
			return finish(err)
		}
		if err := eng.SetDefImage(img); err != nil {
			return finish(err)
		}
		if err := runFrame(); err != nil {
			return finish(err)
		}
	}
	return finish(nil)
}
