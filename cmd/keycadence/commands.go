package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"keycadence/internal/calibration"
	"keycadence/internal/detector"
	"keycadence/internal/observer"
	"keycadence/internal/scheduler"
	"keycadence/internal/synth"
	"keycadence/internal/trace"
)

func cmdScore(args []string) error {
	fs := flag.NewFlagSet("score", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "print the result as JSON")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return errors.New("usage: keycadence score [-json] <trace>")
	}
	path := fs.Arg(0)

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	doc, err := trace.Load(path)
	if err != nil {
		return err
	}

	dcfg, err := detector.ConfigFrom(cfg)
	if err != nil {
		return err
	}
	dcfg.Schedule = scheduler.ModeImmediate

	src := observer.NewSimulatedSource()
	d, err := detector.New(src, dcfg)
	if err != nil {
		return err
	}
	defer d.Destroy()
	if err := d.Start(); err != nil {
		return err
	}

	doc.Replay(src)
	res := d.Analyze()

	if *asJSON {
		return printJSON(struct {
			Trace       string `json:"trace"`
			Fingerprint string `json:"fingerprint"`
			detector.Result
		}{path, trace.Fingerprint(doc), res})
	}

	snap := d.Snapshot()
	fmt.Printf("Trace:            %s\n", path)
	fmt.Printf("Fingerprint:      %s\n", trace.Fingerprint(doc)[:16])
	fmt.Printf("Keystrokes:       %d (%d dwell samples, confident: %s)\n", snap.Total, res.SampleCount, yesNo(res.Confident))
	fmt.Printf("Score:            %.3f\n", res.Score)
	if res.Classification != "" {
		fmt.Printf("Classification:   %s\n", res.Classification)
	}
	fmt.Println()
	fmt.Println("Metrics:")
	m := res.Metrics
	fmt.Printf("  dwell variance    %.3f\n", m.DwellVariance)
	fmt.Printf("  flight fit        %.3f\n", m.FlightFit)
	fmt.Printf("  timing entropy    %.3f\n", m.TimingEntropy)
	fmt.Printf("  correction ratio  %.3f\n", m.CorrectionRatio)
	fmt.Printf("  burst regularity  %.3f\n", m.BurstRegularity)
	fmt.Printf("  rollover rate     %.3f\n", m.RolloverRate)
	fmt.Println()
	fmt.Println("Anti-spoof:")
	fmt.Printf("  genuine           %.3f\n", res.Spoof.GenuineScore)
	fmt.Printf("  log-normality     %.3f\n", res.Spoof.LogNormality)
	fmt.Printf("  uniformity        %.3f\n", res.Spoof.Uniformity)
	fmt.Printf("  serial corr.      %.3f\n", res.Spoof.SerialCorrelation)

	sig := res.Signals
	if sig.PasteDetected || sig.SyntheticEvents > 0 || sig.InputWithoutKeystrokes {
		fmt.Println()
		fmt.Println("Signals:")
		if sig.PasteDetected {
			fmt.Println("  paste detected")
		}
		if sig.SyntheticEvents > 0 {
			fmt.Printf("  %d untrusted events\n", sig.SyntheticEvents)
		}
		if sig.InputWithoutKeystrokes {
			fmt.Printf("  %d input changes without keystrokes\n", sig.InputWithoutKeystrokesCount)
		}
	}
	return nil
}

func cmdGen(args []string) error {
	fs := flag.NewFlagSet("gen", flag.ExitOnError)
	profile := fs.String("profile", "human", "typist profile (see 'keycadence profiles')")
	count := fs.Int("count", 120, "number of keystrokes")
	seed := fs.Int64("seed", 1, "random seed")
	output := fs.String("o", "", "output file; the extension selects JSON or YAML (default: JSON on stdout)")
	fs.Parse(args)

	p, err := synth.Lookup(*profile)
	if err != nil {
		return err
	}
	if *count < 1 {
		return errors.New("count must be positive")
	}

	source := fmt.Sprintf("synth:%s seed=%d", p.Name, *seed)
	doc := trace.FromEvents(source, synth.Generate(p, *count, *seed))

	if *output == "" {
		return trace.Write(os.Stdout, doc, trace.FormatJSON)
	}
	if err := trace.Save(*output, doc); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Wrote %d events to %s\n", len(doc.Events), *output)
	return nil
}

func cmdValidate(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: keycadence validate <trace>")
	}
	path := args[0]

	doc, err := trace.Load(path)
	if err != nil {
		return err
	}

	counts := map[observer.EventType]int{}
	for _, ev := range doc.Events {
		counts[ev.Type]++
	}
	fmt.Printf("%s: valid (version %d)\n", path, doc.Version)
	if doc.Source != "" {
		fmt.Printf("  source:      %s\n", doc.Source)
	}
	fmt.Printf("  events:      %d (keydown %d, keyup %d, paste %d, input %d)\n",
		len(doc.Events), counts[observer.EventKeyDown], counts[observer.EventKeyUp],
		counts[observer.EventPaste], counts[observer.EventInput])
	fmt.Printf("  fingerprint: %s\n", trace.Fingerprint(doc))
	return nil
}

func cmdProfiles() error {
	for _, name := range synth.Names() {
		p, _ := synth.Lookup(name)
		kind := "bot"
		if p.Human {
			kind = "human"
		}
		fmt.Printf("%-12s %-6s %s\n", p.Name, kind, p.Description)
	}
	return nil
}

func cmdCalibrate(args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("calibrate", flag.ExitOnError)
	dbPath := fs.String("db", cfg.Calibration.DBPath, "calibration database")
	trials := fs.Int("trials", cfg.Calibration.Trials, "seeded trials per profile")
	keystrokes := fs.Int("keystrokes", cfg.Calibration.Keystrokes, "keystrokes per trial")
	seed := fs.Int64("seed", 1, "base seed")
	profiles := fs.String("profiles", strings.Join(cfg.Calibration.Profiles, ","), "comma-separated profiles")
	noStore := fs.Bool("no-store", false, "do not record the run")
	asJSON := fs.Bool("json", false, "print the report as JSON")
	fs.Parse(args)

	scoring, err := cfg.Scoring()
	if err != nil {
		return err
	}
	ccfg := calibration.Config{
		Profiles:     splitList(*profiles),
		Coefficients: cfg.Calibration.Coefficients,
		Trials:       *trials,
		Keystrokes:   *keystrokes,
		Seed:         *seed,
		Scoring:      scoring,
	}

	ctx, stop := signalContext()
	defer stop()

	report, err := calibration.Run(ctx, ccfg)
	if err != nil {
		return err
	}

	if !*noStore {
		store, err := calibration.Open(*dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Save(ctx, report); err != nil {
			return err
		}
	}

	if *asJSON {
		return printJSON(report)
	}

	fmt.Printf("Run %s (fingerprint %s)\n", report.RunID, report.Fingerprint[:16])
	fmt.Printf("%d trials x %d keystrokes per profile\n\n", ccfg.Trials, ccfg.Keystrokes)
	for _, cr := range report.Results {
		fmt.Printf("KS coefficient %.2f", cr.Coefficient)
		if cr.Comparable {
			fmt.Printf("  margin %+.3f  separated: %s", cr.Margin, yesNo(cr.Separated()))
		}
		fmt.Println()
		for _, p := range cr.Profiles {
			fmt.Printf("  %-12s mean %.3f  sd %.3f  range [%.3f, %.3f]  genuine %.3f\n",
				p.Profile, p.MeanScore, p.StdDev, p.MinScore, p.MaxScore, p.MeanGenuine)
		}
	}
	if best, width, ok := report.Best(); ok {
		fmt.Printf("\nBest coefficient: %.2f (margin %.3f)\n", best, width)
	}
	if !*noStore {
		fmt.Printf("Recorded in %s\n", *dbPath)
	}
	return nil
}

func cmdRuns(args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	dbPath := fs.String("db", cfg.Calibration.DBPath, "calibration database")
	limit := fs.Int("limit", 20, "maximum runs to list (0 for all)")
	show := fs.String("show", "", "print the full report of one run as JSON")
	fs.Parse(args)

	if _, err := os.Stat(*dbPath); os.IsNotExist(err) {
		fmt.Println("No calibration runs recorded")
		return nil
	}
	store, err := calibration.Open(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	if *show != "" {
		report, err := store.Load(ctx, *show)
		if err != nil {
			return err
		}
		return printJSON(report)
	}

	runs, err := store.ListRuns(ctx, *limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No calibration runs recorded")
		return nil
	}
	for _, r := range runs {
		best := "-"
		if r.HasBest {
			best = fmt.Sprintf("%.2f (margin %.3f)", r.BestCoefficient, r.BestMargin)
		}
		fmt.Printf("%s  %s  %s  best %s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.RunID, r.Fingerprint[:12], best)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
