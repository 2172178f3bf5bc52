package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ogulcanaydogan/medcert/internal/config"
	"github.com/ogulcanaydogan/medcert/internal/errs"
	"github.com/ogulcanaydogan/medcert/internal/loader"
	"github.com/ogulcanaydogan/medcert/internal/logging"
	"github.com/ogulcanaydogan/medcert/internal/metrics"
	"github.com/ogulcanaydogan/medcert/internal/pipeline"
	"github.com/ogulcanaydogan/medcert/internal/report"
	"github.com/ogulcanaydogan/medcert/internal/runner"
	"github.com/ogulcanaydogan/medcert/internal/safety"
	"github.com/ogulcanaydogan/medcert/internal/store"
	"github.com/ogulcanaydogan/medcert/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type runFlags struct {
	cfgPath         string
	endpoint        string
	endpointType    string
	benchmark       string
	format          string
	maxCases        int
	task            string
	domain          string
	model           string
	evaluationID    string
	outputDir       string
	thresholdsPath  string
	uploadURI       string
	metricsTextfile string
	workers         int
	timeout         time.Duration
	sequential      bool
	logLevel        string
}

func newRunCommand() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate a model endpoint against a benchmark and issue a certificate",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f.cfgPath)
			if err != nil {
				return exitError(err)
			}
			applyRunFlags(cmd, &cfg, f)
			if err := cfg.ValidateForRun(); err != nil {
				return exitError(err)
			}

			log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return exitError(errs.Configuration("run", "%v", err))
			}
			defer func() { _ = log.Sync() }()

			reg := prometheus.NewRegistry()
			orch, err := buildPipeline(cfg, log, reg)
			if err != nil {
				return exitError(err)
			}
			rec, runErr := orch.Run(cmd.Context(), pipeline.Request{
				EvaluationID:  f.evaluationID,
				ModelName:     f.model,
				BenchmarkPath: cfg.Benchmark.Path,
				Format:        cfg.Benchmark.Format,
				MaxCases:      cfg.Benchmark.MaxCases,
				TaskType:      cfg.Benchmark.TaskType,
				Domain:        cfg.Benchmark.Domain,
				EndpointURL:   cfg.Endpoint.URL,
				EndpointType:  cfg.Endpoint.Type,
			})
			if f.metricsTextfile != "" {
				if err := prometheus.WriteToTextfile(f.metricsTextfile, reg); err != nil {
					log.Warn("write metrics textfile", zap.String("path", f.metricsTextfile), zap.Error(err))
				}
			}
			if runErr != nil {
				return exitError(runErr)
			}
			printRecord(cmd, rec)
			if rec.EvaluationStatus != types.VerdictPass {
				return cliError{code: errs.ExitVerdictFail, err: fmt.Errorf("certification failed for %s", rec.EvaluationID)}
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.cfgPath, "config", "", "config YAML path")
	fl.StringVar(&f.endpoint, "endpoint", "", "model endpoint url")
	fl.StringVar(&f.endpointType, "endpoint-type", "", "endpoint call shape (generic|batch|custom)")
	fl.StringVar(&f.benchmark, "benchmark", "", "benchmark file or s3:// uri")
	fl.StringVar(&f.format, "format", "", "benchmark format (jsonl|json)")
	fl.IntVar(&f.maxCases, "max-cases", 0, "stop after this many records (0 reads all)")
	fl.StringVar(&f.task, "task", "", "task type (classification|generation|general)")
	fl.StringVar(&f.domain, "domain", "", "medical domain for threshold overrides")
	fl.StringVar(&f.model, "model", "", "model name recorded on the certificate")
	fl.StringVar(&f.evaluationID, "evaluation-id", "", "evaluation id (default eval_<uuid>)")
	fl.StringVar(&f.outputDir, "output-dir", "", "report output directory")
	fl.StringVar(&f.thresholdsPath, "thresholds", "", "thresholds YAML path")
	fl.StringVar(&f.uploadURI, "upload", "", "s3:// prefix to upload reports to")
	fl.StringVar(&f.metricsTextfile, "metrics-textfile", "", "write runner metrics in Prometheus text format")
	fl.IntVar(&f.workers, "workers", 0, "concurrent endpoint calls")
	fl.DurationVar(&f.timeout, "timeout", 0, "per-call timeout")
	fl.BoolVar(&f.sequential, "sequential", false, "call the endpoint one case at a time")
	fl.StringVar(&f.logLevel, "log-level", "", "log level (debug|info|warn|error)")
	return cmd
}

// applyRunFlags overlays only the flags the user set.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config, f runFlags) {
	set := cmd.Flags().Changed
	if set("endpoint") {
		cfg.Endpoint.URL = f.endpoint
	}
	if set("endpoint-type") {
		cfg.Endpoint.Type = f.endpointType
	}
	if set("benchmark") {
		cfg.Benchmark.Path = f.benchmark
	} else {
		cfg.Benchmark.Path = resolveBenchmark(f.cfgPath, cfg.Benchmark.Path)
	}
	if set("format") {
		cfg.Benchmark.Format = f.format
	}
	if set("max-cases") {
		cfg.Benchmark.MaxCases = f.maxCases
	}
	if set("task") {
		cfg.Benchmark.TaskType = f.task
	}
	if set("domain") {
		cfg.Benchmark.Domain = f.domain
	}
	if set("output-dir") {
		cfg.Report.OutputDir = f.outputDir
	}
	if set("thresholds") {
		cfg.ThresholdsPath = f.thresholdsPath
	} else {
		cfg.ThresholdsPath = resolvePath(f.cfgPath, cfg.ThresholdsPath)
	}
	if set("upload") {
		cfg.Report.UploadURI = f.uploadURI
	}
	if set("workers") {
		cfg.Endpoint.MaxWorkers = f.workers
	}
	if set("timeout") {
		cfg.Endpoint.Timeout = f.timeout
	}
	if set("sequential") {
		cfg.Endpoint.Parallel = !f.sequential
	}
	if set("log-level") {
		cfg.Log.Level = f.logLevel
	}
}

func buildPipeline(cfg config.Config, log *zap.Logger, reg prometheus.Registerer) (*pipeline.Orchestrator, error) {
	th, err := cfg.ResolveThresholds()
	if err != nil {
		return nil, err
	}
	objects, err := store.NewObjectStore(cfg.ObjectStore)
	if err != nil {
		return nil, err
	}
	run, err := runner.New(runner.Options{
		URL:      cfg.Endpoint.URL,
		Shape:    cfg.Endpoint.Type,
		APIKey:   cfg.Endpoint.ResolveAPIKey(nil),
		Timeout:  cfg.Endpoint.Timeout,
		Workers:  cfg.Endpoint.MaxWorkers,
		Parallel: cfg.Endpoint.Parallel,
		Delay:    cfg.Endpoint.RequestDelay,
		Metrics:  runner.NewMetrics(reg),
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	checker, err := safety.New(safety.Options{
		Keywords:            cfg.Safety.Keywords,
		Patterns:            cfg.Safety.Patterns,
		EnableSafety:        cfg.Safety.EnableSafetyCheck,
		EnableHallucination: cfg.Safety.EnableHallucinationCheck,
		Logger:              log,
	})
	if err != nil {
		return nil, err
	}
	emitter := &report.Emitter{
		OutputDir: cfg.Report.OutputDir,
		Formats:   cfg.Report.Formats,
		UploadURI: cfg.Report.UploadURI,
		Generator: cfg.Report.Generator,
		Logger:    log,
	}
	if objects != nil {
		emitter.Uploader = objects
	}
	return pipeline.New(pipeline.Deps{
		Loader:     loader.New(store.Sources{Objects: objects}, log),
		Predictor:  run,
		Scorer:     metrics.New(log),
		Safety:     checker,
		Thresholds: th,
		Emitter:    emitter,
		Logger:     log,
	})
}

func printRecord(cmd *cobra.Command, rec types.EvaluationRecord) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "evaluation_id: %s\n", rec.EvaluationID)
	fmt.Fprintf(out, "cases: %d loaded, %d successful, %d failed\n", rec.LoadedCases, rec.SuccessfulPredictions, rec.FailedPredictions)
	if rec.Verdict != nil {
		printVerdict(out, *rec.Verdict)
	}
	for _, p := range []string{rec.Artifacts.ReportPath, rec.Artifacts.SummaryPath, rec.Artifacts.CertificatePath} {
		if p != "" {
			fmt.Fprintln(out, p)
		}
	}
	for _, u := range rec.Artifacts.Uploaded {
		fmt.Fprintln(out, u)
	}
}

// resolvePath interprets a relative path from the config file against the
// config file's directory when it does not exist relative to the cwd.
func resolvePath(configPath, candidate string) string {
	if candidate == "" || configPath == "" || filepath.IsAbs(candidate) {
		return candidate
	}
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	joined := filepath.Clean(filepath.Join(filepath.Dir(configPath), candidate))
	if _, err := os.Stat(joined); err == nil {
		return joined
	}
	return candidate
}

// resolveBenchmark applies resolvePath to local benchmark paths.
func resolveBenchmark(configPath, candidate string) string {
	if store.IsObjectURI(candidate) {
		return candidate
	}
	return resolvePath(configPath, candidate)
}
