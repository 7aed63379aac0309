// Package config loads the run configuration spec.md §6 lists, from CLI
// flags with env-var fallback — the same os.Getenv-driven style the
// teacher's own main.go uses for its runtime tunables, extended with the
// stdlib flag package since this driver is a standalone CLI rather than an
// always-on service. No pack repo reaches for a config library (viper or
// similar), so flag+os.Getenv matches the corpus rather than diverging
// from it.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// TierSpec is one team-tier entry parsed from -tier or TEAM_TIERS.
type TierSpec struct {
	Name             string
	TeamCount        int
	ConcurrencyLimit int
	JobsPerSecond    float64
}

// Config is the full set of run tunables from spec.md §6.
type Config struct {
	ServiceURL            string
	DurationSeconds       int
	WorkerConcurrency     int
	MetricsBufferSize     int
	ReportIntervalSeconds int
	CorrectnessChecking   bool
	JobProcessingDelayMs  int
	TeamTiers             []TierSpec
	Verbose               bool
	ReportDatabaseURL     string
}

// Default returns the reference values from spec.md §6/§4.1, used to seed
// flag defaults before CLI/env overrides are applied.
func Default() Config {
	return Config{
		ServiceURL:            "http://localhost:8081",
		DurationSeconds:       30,
		WorkerConcurrency:     50,
		MetricsBufferSize:     1000,
		ReportIntervalSeconds: 5,
		CorrectnessChecking:   true,
		JobProcessingDelayMs:  200,
		TeamTiers: []TierSpec{
			{Name: "default", TeamCount: 10, ConcurrencyLimit: 5, JobsPerSecond: 5},
		},
		Verbose: false,
	}
}

// tierFlags implements flag.Value to accept -tier repeatably.
type tierFlags struct {
	specs *[]TierSpec
	set   bool
}

func (f *tierFlags) String() string {
	if f.specs == nil {
		return ""
	}
	return formatTiers(*f.specs)
}

func (f *tierFlags) Set(s string) error {
	spec, err := parseTierShorthand(s)
	if err != nil {
		return err
	}
	if !f.set {
		*f.specs = nil
		f.set = true
	}
	*f.specs = append(*f.specs, spec)
	return nil
}

// parseTierShorthand parses "name=count:limit:jps", e.g. "large=10:10:20".
func parseTierShorthand(s string) (TierSpec, error) {
	eq := strings.IndexByte(s, '=')
	if eq < 0 {
		return TierSpec{}, fmt.Errorf("config: tier %q missing '=' (expected name=count:limit:jps)", s)
	}
	name := s[:eq]
	rest := s[eq+1:]
	parts := strings.Split(rest, ":")
	if len(parts) != 3 {
		return TierSpec{}, fmt.Errorf("config: tier %q must have count:limit:jps after '='", s)
	}
	count, err := strconv.Atoi(parts[0])
	if err != nil {
		return TierSpec{}, fmt.Errorf("config: tier %q bad teamCount: %w", s, err)
	}
	limit, err := strconv.Atoi(parts[1])
	if err != nil {
		return TierSpec{}, fmt.Errorf("config: tier %q bad concurrencyLimit: %w", s, err)
	}
	jps, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return TierSpec{}, fmt.Errorf("config: tier %q bad jobsPerSecond: %w", s, err)
	}
	if name == "" {
		return TierSpec{}, fmt.Errorf("config: tier %q has an empty name", s)
	}
	return TierSpec{Name: name, TeamCount: count, ConcurrencyLimit: limit, JobsPerSecond: jps}, nil
}

func formatTiers(specs []TierSpec) string {
	parts := make([]string, len(specs))
	for i, s := range specs {
		parts[i] = fmt.Sprintf("%s=%d:%d:%g", s.Name, s.TeamCount, s.ConcurrencyLimit, s.JobsPerSecond)
	}
	return strings.Join(parts, ",")
}

func parseTeamTiersEnv(val string) ([]TierSpec, error) {
	var specs []TierSpec
	for _, piece := range strings.Split(val, ",") {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		spec, err := parseTierShorthand(piece)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Parse builds a Config from CLI args, falling back to environment
// variables for anything not passed on the command line, and finally to
// Default()'s reference values. Per spec.md §7: exit 0 if -h/--help was
// requested, exit 1 on any other parse failure — Parse reports this via
// the returned exitCode/ok so main can os.Exit without config importing
// os.Exit itself.
func Parse(args []string, env func(string) string, stderr *os.File) (cfg Config, exitCode int, ok bool) {
	if env == nil {
		env = os.Getenv
	}
	cfg = Default()

	fs := flag.NewFlagSet("crawlforge", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&cfg.ServiceURL, "serviceUrl", cfg.ServiceURL, "base URL of the remote concurrency-queue service")
	fs.IntVar(&cfg.DurationSeconds, "durationSeconds", cfg.DurationSeconds, "length of the simulated run in seconds")
	fs.IntVar(&cfg.WorkerConcurrency, "workerConcurrency", cfg.WorkerConcurrency, "max simultaneous in-flight worker tasks")
	fs.IntVar(&cfg.MetricsBufferSize, "metricsBufferSize", cfg.MetricsBufferSize, "ring buffer size per operation for latency sampling")
	fs.IntVar(&cfg.ReportIntervalSeconds, "reportIntervalSeconds", cfg.ReportIntervalSeconds, "interval between live progress prints")
	fs.BoolVar(&cfg.CorrectnessChecking, "correctnessChecking", cfg.CorrectnessChecking, "enable the correctness oracle")
	fs.IntVar(&cfg.JobProcessingDelayMs, "jobProcessingDelayMs", cfg.JobProcessingDelayMs, "simulated per-job processing delay")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "enable verbose diagnostic logging")
	fs.StringVar(&cfg.ReportDatabaseURL, "reportDatabaseUrl", cfg.ReportDatabaseURL, "if set, persist the final report as a row in run_reports via this Postgres connection string")

	tiers := &cfg.TeamTiers
	tf := &tierFlags{specs: tiers}
	fs.Var(tf, "tier", "team tier as name=teamCount:concurrencyLimit:jobsPerSecond (repeatable)")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return cfg, 0, false
		}
		return cfg, 1, false
	}

	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	if !tf.set {
		applyEnvOverrides(&cfg, env, explicit)
		if v := env("TEAM_TIERS"); v != "" {
			specs, err := parseTeamTiersEnv(v)
			if err != nil {
				fmt.Fprintln(stderr, err)
				return cfg, 1, false
			}
			if len(specs) > 0 {
				cfg.TeamTiers = specs
			}
		}
	} else {
		applyEnvOverrides(&cfg, env, explicit)
	}

	if len(cfg.TeamTiers) == 0 {
		fmt.Fprintln(stderr, "config: at least one team tier is required")
		return cfg, 1, false
	}
	for _, t := range cfg.TeamTiers {
		if t.ConcurrencyLimit <= 0 {
			fmt.Fprintf(stderr, "config: tier %q has non-positive concurrencyLimit\n", t.Name)
			return cfg, 1, false
		}
	}

	return cfg, 0, true
}

// applyEnvOverrides fills in env-var values for flags the caller didn't set
// explicitly on the command line. flag.Visit only reports flags actually
// set, so anything left at its zero/default is still eligible for an env
// override — mirroring the teacher's own "os.Getenv wins only if the
// operator didn't already configure it some other way" precedence.
func applyEnvOverrides(cfg *Config, env func(string) string, explicit map[string]bool) {
	if v := env("SERVICE_URL"); v != "" && !explicit["serviceUrl"] {
		cfg.ServiceURL = v
	}
	if v := env("DURATION_SECONDS"); v != "" && !explicit["durationSeconds"] {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DurationSeconds = n
		}
	}
	if v := env("WORKER_CONCURRENCY"); v != "" && !explicit["workerConcurrency"] {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerConcurrency = n
		}
	}
	if v := env("METRICS_BUFFER_SIZE"); v != "" && !explicit["metricsBufferSize"] {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MetricsBufferSize = n
		}
	}
	if v := env("REPORT_INTERVAL_SECONDS"); v != "" && !explicit["reportIntervalSeconds"] {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReportIntervalSeconds = n
		}
	}
	if v := env("CORRECTNESS_CHECKING"); v != "" && !explicit["correctnessChecking"] {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.CorrectnessChecking = b
		}
	}
	if v := env("JOB_PROCESSING_DELAY_MS"); v != "" && !explicit["jobProcessingDelayMs"] {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.JobProcessingDelayMs = n
		}
	}
	if v := env("VERBOSE"); v != "" && !explicit["verbose"] {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Verbose = b
		}
	}
	if v := env("REPORT_DATABASE_URL"); v != "" && !explicit["reportDatabaseUrl"] {
		cfg.ReportDatabaseURL = v
	}
}
