// Command fatigue-replay runs a recorded frame log through the fatigue engine
// on a virtual clock and reports level transitions, alerts and a trip summary.
//
// Frames without timestamps are spaced at -fps. Output is deterministic for a
// given input and configuration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/banshee-data/drowsiness.report/internal/config"
	"github.com/banshee-data/drowsiness.report/internal/fatigue"
	"github.com/banshee-data/drowsiness.report/internal/framesource"
	"github.com/banshee-data/drowsiness.report/internal/monitoring"
	"github.com/banshee-data/drowsiness.report/internal/report"
	"github.com/banshee-data/drowsiness.report/internal/timeutil"
	"github.com/banshee-data/drowsiness.report/internal/tripstore"
	"github.com/banshee-data/drowsiness.report/internal/version"
)

var (
	inPath      = flag.String("in", "", "frame log to replay (- for stdin)")
	format      = flag.String("format", "auto", "frame format: json, csv or auto")
	configPath  = flag.String("config", "", "tuning config JSON (defaults when empty)")
	pngPath     = flag.String("png", "", "write the trip timeline as PNG to this path")
	htmlPath    = flag.String("html", "", "write the trip timeline as HTML to this path")
	autoAck     = flag.Bool("auto-ack", false, "acknowledge every due alert, as the alert player would")
	fps         = flag.Float64("fps", 30, "frame rate assumed for untimed frames")
	interval    = flag.Duration("interval", report.DefaultInterval, "timeline point spacing")
	dbPath      = flag.String("db", "", "record the trip into this SQLite trip log")
	verbose     = flag.Bool("v", false, "enable diagnostic and per-frame trace logging")
	showVersion = flag.Bool("version", false, "print version and exit")
)

// replayEpoch anchors the virtual clock for logs without timestamps.
var replayEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

type options struct {
	format   framesource.Format
	cfg      fatigue.Config
	autoAck  bool
	step     time.Duration
	interval time.Duration
	store    *tripstore.Store // optional
	source   string
}

// result is what a replay produced.
type result struct {
	timeline *report.Timeline
	final    fatigue.Metrics
	stats    framesource.Stats
	alerts   int
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("fatigue-replay"))
		return
	}
	if *inPath == "" {
		log.Fatal("-in is required")
	}
	if *fps <= 0 {
		log.Fatal("-fps must be positive")
	}
	if *verbose {
		monitoring.SetLogWriters(monitoring.LogWriters{Ops: os.Stderr, Diag: os.Stderr, Trace: os.Stderr})
	}

	f, err := framesource.ParseFormat(*format)
	if err != nil {
		log.Fatal(err)
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	in := io.Reader(os.Stdin)
	if *inPath != "-" {
		file, err := os.Open(*inPath)
		if err != nil {
			log.Fatalf("open frame log: %v", err)
		}
		defer file.Close()
		in = file
	}

	var store *tripstore.Store
	if *dbPath != "" {
		store, err = tripstore.Open(*dbPath)
		if err != nil {
			log.Fatalf("open trip log: %v", err)
		}
		defer store.Close()
	}

	res, err := replay(context.Background(), in, os.Stdout, options{
		format:   f,
		cfg:      cfg,
		autoAck:  *autoAck,
		step:     time.Duration(float64(time.Second) / *fps),
		interval: *interval,
		store:    store,
		source:   *inPath,
	})
	if err != nil {
		log.Fatalf("replay: %v", err)
	}
	printSummary(os.Stdout, res)

	if *pngPath != "" {
		if err := res.timeline.WritePNG(*pngPath, cfg.Levels); err != nil {
			log.Fatalf("write png: %v", err)
		}
		log.Printf("wrote %s", *pngPath)
	}
	if *htmlPath != "" {
		if err := writeHTML(res.timeline, *htmlPath); err != nil {
			log.Fatalf("write html: %v", err)
		}
		log.Printf("wrote %s", *htmlPath)
	}
}

func loadConfig(path string) (fatigue.Config, error) {
	if path == "" {
		return fatigue.DefaultConfig(), nil
	}
	tc, err := config.LoadTuningConfig(path)
	if err != nil {
		return fatigue.Config{}, fmt.Errorf("load tuning config: %w", err)
	}
	return fatigue.ConfigFromTuning(tc), nil
}

// replay feeds every frame in r through a fresh engine driven by a mock
// clock, writing level changes and alerts to out.
func replay(ctx context.Context, r io.Reader, out io.Writer, o options) (*result, error) {
	clock := timeutil.NewMockClock(replayEpoch)
	var start time.Time

	offset := func(t time.Time) time.Duration {
		if start.IsZero() {
			return 0
		}
		return t.Sub(start).Round(time.Millisecond)
	}

	engine, err := fatigue.NewEngine(o.cfg,
		fatigue.WithClock(clock),
		fatigue.WithLevelChangeHandler(func(c fatigue.LevelChange) {
			fmt.Fprintf(out, "%10s  level %-8s -> %-8s score %5.1f\n", offset(c.Timestamp), c.From, c.To, c.Score)
			if o.store != nil {
				if err := o.store.RecordLevelChange(c); err != nil {
					log.Printf("failed to record level change: %v", err)
				}
			}
		}),
	)
	if err != nil {
		return nil, err
	}
	defer engine.Close()

	res := &result{timeline: report.NewTimeline(o.interval)}
	src := framesource.NewStream(r, o.format)
	first := true

	err = src.Run(ctx, func(s fatigue.Sample) {
		switch {
		case !s.Timestamp.IsZero():
			if s.Timestamp.After(clock.Now()) {
				clock.Set(s.Timestamp)
			}
		case !first:
			clock.Advance(o.step)
		}
		first = false

		m := engine.Update(s)
		if start.IsZero() && m.Calibrated {
			start = m.Timestamp
		}
		res.timeline.Record(m)

		if o.autoAck && engine.ShouldTriggerAlert() {
			engine.MarkAlertTriggered()
			res.alerts++
			res.timeline.MarkAlert(m.Timestamp, m.Level)
			fmt.Fprintf(out, "%10s  ALERT %s (priority %d, %s)\n", offset(m.Timestamp), m.Level, m.Level.AlertPriority(), m.AcuteSource)
			if o.store != nil {
				a := tripstore.Alert{TripID: m.TripID, At: m.Timestamp, Level: m.Level, AcuteSource: m.AcuteSource, Score: m.Score}
				if err := o.store.RecordAlert(a); err != nil {
					log.Printf("failed to record alert: %v", err)
				}
			}
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}

	res.final = engine.Snapshot()
	res.stats = src.Stats()
	if o.store != nil && res.final.Calibrated {
		if err := o.store.SaveTrip(tripstore.TripFrom(res.final, res.timeline.Summary(), o.source)); err != nil {
			return nil, fmt.Errorf("save trip: %w", err)
		}
	}
	return res, nil
}

func printSummary(w io.Writer, res *result) {
	sum := res.timeline.Summary()
	m := res.final

	fmt.Fprintf(w, "\ntrip %s\n", m.TripID)
	fmt.Fprintf(w, "  lines %d  frames %d  skipped lines %d  malformed %d  engine skipped %d\n",
		res.stats.Lines, res.stats.Frames, res.stats.Skipped, res.stats.Malformed, m.SkippedFrames)
	if !m.Calibrated {
		fmt.Fprintf(w, "  never calibrated (%.0f%% of calibration samples)\n", m.CalibrationProgress*100)
		return
	}
	fmt.Fprintf(w, "  baseline eye %.3f pitch %.2f°  sample rate %.1f fps\n", m.Baseline.EyeOpenness, m.Baseline.HeadPitch, m.SampleRate)
	fmt.Fprintf(w, "  duration %s  peak %s (%.1f)  mean score %.1f  alerts %d\n",
		sum.Duration.Round(time.Millisecond), sum.PeakLevel, sum.PeakScore, sum.MeanScore, res.alerts)
	for l := fatigue.LevelNormal; l <= fatigue.LevelCritical; l++ {
		if d := sum.TimeAtLevel[l]; d > 0 {
			fmt.Fprintf(w, "  %-8s %s\n", l, d.Round(time.Millisecond))
		}
	}
}

func writeHTML(tl *report.Timeline, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := tl.WriteHTML(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
