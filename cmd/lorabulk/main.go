package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/stadtnetz/lorabulk/internal/bulk"
	"github.com/stadtnetz/lorabulk/internal/dataset"
	"github.com/stadtnetz/lorabulk/internal/keymap"
	"github.com/stadtnetz/lorabulk/internal/registry/chirpstack"
	"github.com/stadtnetz/lorabulk/internal/settings"
)

var AppVersion string

type options struct {
	file         string
	table        string
	version      string
	policy       string
	concurrency  int
	settingsPath string
	server       string
	apiToken     string
	appID        string
	profileID    string
	jsonOut      bool
	dryRun       bool
	logLevel     string

	colDevEUI string
	colName   string
	colAppKey string
	colNwkKey string
}

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.file, "file", "", "device list file (.csv, .txt or .xlsx)")
	flag.StringVar(&opts.table, "table", "", "sheet name for xlsx files (default: first sheet)")
	flag.StringVar(&opts.version, "mac-version", "1.0.3", "LoRaWAN MAC version of the devices")
	flag.StringVar(&opts.policy, "duplicates", "skip", "duplicate policy: fail, skip or replace")
	flag.IntVar(&opts.concurrency, "concurrency", 0, "worker count (default: 10)")
	flag.StringVar(&opts.settingsPath, "settings", "lorabulk-settings.yaml", "settings file with the registry connection")
	flag.StringVar(&opts.server, "server", os.Getenv("CHIRPSTACK_SERVER"), "registry server host:port (overrides settings)")
	flag.StringVar(&opts.apiToken, "api-token", os.Getenv("CHIRPSTACK_API_TOKEN"), "registry API token (overrides settings)")
	flag.StringVar(&opts.appID, "application-id", "", "application UUID for devices without a mapped column")
	flag.StringVar(&opts.profileID, "device-profile-id", "", "device profile UUID for devices without a mapped column")
	flag.BoolVar(&opts.jsonOut, "json", false, "print the final report as JSON")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "parse and map the file, then stop before any registry call")
	flag.StringVar(&opts.logLevel, "log-level", "WARNING", "log level: ERROR, WARNING, INFO or DEBUG")

	flag.StringVar(&opts.colDevEUI, "col-deveui", "", "override the detected DevEUI column")
	flag.StringVar(&opts.colName, "col-name", "", "override the detected device name column")
	flag.StringVar(&opts.colAppKey, "col-appkey", "", "override the detected application key column")
	flag.StringVar(&opts.colNwkKey, "col-nwkkey", "", "override the detected network key column")
	flag.Parse()

	initLogger(opts.logLevel)

	if opts.file == "" {
		fmt.Fprintln(os.Stderr, "lorabulk: -file is required")
		flag.Usage()
		return 2
	}

	version, err := keymap.ParseVersion(opts.version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lorabulk: %v\n", err)
		return 2
	}

	f, err := os.Open(opts.file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lorabulk: %v\n", err)
		return 2
	}
	data, err := dataset.ParseFile(opts.file, f)
	f.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "lorabulk: %v\n", err)
		return 2
	}

	tbl := pickTable(data, opts.table)
	if tbl == nil {
		fmt.Fprintf(os.Stderr, "lorabulk: table %q not found in %s\n", opts.table, opts.file)
		return 2
	}

	mapping := dataset.SuggestMapping(tbl.Columns)
	applyOverrides(&mapping, opts)
	for _, warning := range mapping.Validate(tbl.Columns) {
		fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
	}

	cfg, err := connectionSettings(opts)
	if err != nil {
		// A dry run never touches the registry, so it works unconfigured.
		if !(opts.dryRun && errors.Is(err, settings.ErrNotConfigured)) {
			fmt.Fprintf(os.Stderr, "lorabulk: %v\n", err)
			return 2
		}
	}

	defaults := dataset.Defaults{ApplicationID: opts.appID, DeviceProfileID: opts.profileID}
	if defaults.ApplicationID == "" {
		defaults.ApplicationID = cfg.DefaultApplicationID
	}
	if defaults.DeviceProfileID == "" {
		defaults.DeviceProfileID = cfg.DefaultDeviceProfileID
	}

	records, rowErrs := dataset.BuildRecords(*tbl, mapping, defaults)
	for _, rowErr := range rowErrs {
		fmt.Fprintf(os.Stderr, "warning: %s\n", rowErr.String())
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stderr, "lorabulk: no usable rows in input")
		return 2
	}

	if opts.dryRun {
		fmt.Printf("%d devices ready (table %q, MAC %s); dry run, stopping here\n",
			len(records), tbl.Name, version)
		return 0
	}

	client, err := chirpstack.NewClient(chirpstack.Config{Server: cfg.Server, APIToken: cfg.APIToken})
	if err != nil {
		fmt.Fprintf(os.Stderr, "lorabulk: %v\n", err)
		return 2
	}
	defer client.Close()

	job := bulk.Job{
		Records:     records,
		Policy:      bulk.DuplicatePolicy(opts.policy),
		Version:     version,
		Concurrency: opts.concurrency,
	}

	runner := bulk.NewRunner(client, slog.Default())
	exec, err := runner.Run(context.Background(), job)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lorabulk: %v\n", err)
		return 2
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "cancelling, letting in-flight devices finish...")
		exec.Cancel()
	}()

	for oc := range exec.Outcomes() {
		line := fmt.Sprintf("[%d/%d] %s %s", oc.Position+1, len(records), oc.DevEUI, oc.Status)
		if oc.Detail != "" {
			line += ": " + oc.Detail
		}
		fmt.Println(line)
	}

	report := exec.Wait()
	if opts.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "lorabulk: %v\n", err)
		}
	} else {
		fmt.Printf("done: %d succeeded, %d skipped, %d failed, %d not attempted\n",
			report.Final.Succeeded, report.Final.Skipped, report.Final.Failed, report.Final.Pending)
	}

	if report.Final.Failed > 0 || report.Final.Pending > 0 {
		return 1
	}
	return 0
}

// connectionSettings merges the settings file with flag/env overrides.
func connectionSettings(opts options) (settings.Settings, error) {
	store, err := settings.NewStore(opts.settingsPath)
	if err != nil {
		return settings.Settings{}, err
	}
	cfg := store.Get()
	if opts.server != "" {
		cfg.Server = opts.server
	}
	if opts.apiToken != "" {
		cfg.APIToken = opts.apiToken
	}
	if cfg.Server == "" || cfg.APIToken == "" {
		return settings.Settings{}, settings.ErrNotConfigured
	}
	return cfg, nil
}

func applyOverrides(m *dataset.Mapping, opts options) {
	if opts.colDevEUI != "" {
		m.DevEUI = opts.colDevEUI
	}
	if opts.colName != "" {
		m.Name = opts.colName
	}
	if opts.colAppKey != "" {
		m.AppKey = opts.colAppKey
	}
	if opts.colNwkKey != "" {
		m.NwkKey = opts.colNwkKey
	}
}

func pickTable(data *dataset.Dataset, name string) *dataset.Table {
	if name == "" {
		if len(data.Tables) == 0 {
			return nil
		}
		return &data.Tables[0]
	}
	return data.Table(name)
}
