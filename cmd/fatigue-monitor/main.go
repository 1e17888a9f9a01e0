// Command fatigue-monitor reads face-tracking frames from a serial capture
// device, runs them through the fatigue engine in real time and logs level
// changes and alerts. SIGHUP starts a new trip; SIGINT or SIGTERM stops the
// monitor and writes the trip timeline when -png or -html is set.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/drowsiness.report/internal/config"
	"github.com/banshee-data/drowsiness.report/internal/fatigue"
	"github.com/banshee-data/drowsiness.report/internal/framesource"
	"github.com/banshee-data/drowsiness.report/internal/monitoring"
	"github.com/banshee-data/drowsiness.report/internal/report"
	"github.com/banshee-data/drowsiness.report/internal/tripstore"
	"github.com/banshee-data/drowsiness.report/internal/version"
)

var (
	portPath    = flag.String("port", "/dev/ttyACM0", "serial port of the face-tracking device")
	baudRate    = flag.Int("baud", framesource.DefaultBaudRate, "serial baud rate")
	parity      = flag.String("parity", "N", "serial parity: N, E or O")
	fixture     = flag.String("fixture", "", "read frames from this file instead of the serial port")
	format      = flag.String("format", "auto", "frame format: json, csv or auto")
	configPath  = flag.String("config", "", "tuning config JSON (defaults when empty)")
	dbPath      = flag.String("db", "", "record trips into this SQLite trip log")
	listen      = flag.String("listen", "", "serve /debug/ pages for the trip log on this address, e.g. localhost:8090")
	pngPath     = flag.String("png", "", "write the trip timeline as PNG on shutdown")
	htmlPath    = flag.String("html", "", "write the trip timeline as HTML on shutdown")
	listPorts   = flag.Bool("list", false, "list available serial ports and exit")
	debug       = flag.Bool("debug", false, "enable diagnostic logging")
	showVersion = flag.Bool("version", false, "print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String("fatigue-monitor"))
		return
	}
	if *listPorts {
		ports, err := framesource.ListPorts()
		if err != nil {
			log.Fatalf("failed to list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}
	if *listen != "" && *dbPath == "" {
		log.Fatal("-listen requires -db")
	}
	if *debug {
		monitoring.SetLogWriters(monitoring.LogWriters{Ops: os.Stderr, Diag: os.Stderr})
	}

	f, err := framesource.ParseFormat(*format)
	if err != nil {
		log.Fatal(err)
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	var src io.ReadCloser
	source := *fixture
	if *fixture != "" {
		src, err = os.Open(*fixture)
		if err != nil {
			log.Fatalf("failed to open fixture file: %v", err)
		}
	} else {
		src, err = framesource.OpenSerial(*portPath, framesource.PortOptions{BaudRate: *baudRate, Parity: *parity}, framesource.SerialOpener)
		if err != nil {
			log.Fatalf("failed to open capture device: %v", err)
		}
		source = *portPath
		log.Printf("opened capture device %s at %d baud", *portPath, *baudRate)
	}
	defer src.Close()

	var store *tripstore.Store
	if *dbPath != "" {
		store, err = tripstore.Open(*dbPath)
		if err != nil {
			log.Fatalf("failed to open trip log: %v", err)
		}
		defer store.Close()
	}

	sess, err := newSession(cfg, store, source)
	if err != nil {
		log.Fatalf("failed to create engine: %v", err)
	}
	defer sess.engine.Close()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	resets := make(chan struct{}, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				select {
				case resets <- struct{}{}:
				default:
				}
			}
		}
	}()

	if *listen != "" {
		mux := http.NewServeMux()
		if err := store.AttachAdminRoutes(mux); err != nil {
			log.Fatalf("failed to attach debug routes: %v", err)
		}
		server := &http.Server{Addr: *listen, Handler: mux}

		wg.Add(1)
		go func() {
			defer wg.Done()
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("debug server error: %v", err)
				}
			}()
			log.Printf("debug pages on http://%s/debug/", *listen)

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("debug server shutdown error: %v", err)
			}
		}()
	}

	if err := sess.run(ctx, src, f, resets); err != nil {
		log.Printf("monitor stopped: %v", err)
	}
	stop()
	wg.Wait()

	sess.finishTrip()
	if *pngPath != "" {
		if err := sess.timeline.WritePNG(*pngPath, cfg.Levels); err != nil {
			log.Printf("failed to write png: %v", err)
		}
	}
	if *htmlPath != "" {
		if err := writeHTML(sess.timeline, *htmlPath); err != nil {
			log.Printf("failed to write html: %v", err)
		}
	}
	log.Printf("Graceful shutdown complete")
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

// session is one monitor run: a live engine, the timeline of its current
// trip and an optional trip log.
type session struct {
	engine   *fatigue.Engine
	timeline *report.Timeline
	store    *tripstore.Store
	source   string
}

func newSession(cfg fatigue.Config, store *tripstore.Store, source string) (*session, error) {
	s := &session{timeline: report.NewTimeline(report.DefaultInterval), store: store, source: source}
	engine, err := fatigue.NewEngine(cfg, fatigue.WithLevelChangeHandler(s.levelChanged))
	if err != nil {
		return nil, err
	}
	s.engine = engine
	return s, nil
}

func (s *session) levelChanged(c fatigue.LevelChange) {
	log.Printf("level %s -> %s (score %.1f)", c.From, c.To, c.Score)
	if s.store == nil {
		return
	}
	if err := s.store.RecordLevelChange(c); err != nil {
		log.Printf("failed to record level change: %v", err)
	}
}

func (s *session) alert(m fatigue.Metrics, level fatigue.Level) {
	s.engine.MarkAlertTriggered()
	s.timeline.MarkAlert(m.Timestamp, level)
	log.Printf("ALERT %s (priority %d, source %s)", level, level.AlertPriority(), m.AcuteSource)
	if s.store == nil {
		return
	}
	a := tripstore.Alert{TripID: m.TripID, At: m.Timestamp, Level: level, AcuteSource: m.AcuteSource, Score: m.Score}
	if err := s.store.RecordAlert(a); err != nil {
		log.Printf("failed to record alert: %v", err)
	}
}

// finishTrip logs the current trip's summary and saves it to the trip log.
func (s *session) finishTrip() {
	final := s.engine.Snapshot()
	sum := s.timeline.Summary()
	log.Printf("trip %s: duration %s, peak %s (%.1f), alerts %d",
		final.TripID, sum.Duration.Round(time.Second), sum.PeakLevel, sum.PeakScore, sum.Alerts)
	if s.store == nil || !final.Calibrated || sum.TripID != final.TripID {
		return
	}
	if err := s.store.SaveTrip(tripstore.TripFrom(final, sum, s.source)); err != nil {
		log.Printf("failed to save trip %s: %v", final.TripID, err)
	}
}

// run feeds frames from r into the engine until r ends or ctx is done. Each
// snapshot is recorded into the timeline and a due alert is raised and
// acknowledged right after the frame that made it due. A value on resets
// finishes the current trip and starts a new one before the next frame.
// Update, Reset and alert acknowledgement all stay on the frame goroutine.
func (s *session) run(ctx context.Context, r io.Reader, f framesource.Format, resets <-chan struct{}) error {
	stream := framesource.NewStream(r, f)
	err := stream.Run(ctx, func(sample fatigue.Sample) {
		select {
		case <-resets:
			s.finishTrip()
			s.engine.Reset()
			log.Printf("started new trip %s", s.engine.TripID())
		default:
		}
		m := s.engine.Update(sample)
		s.timeline.Record(m)
		if s.engine.ShouldTriggerAlert() {
			s.alert(m, m.Level)
		}
	})

	st := stream.Stats()
	monitoring.Opsf("stream closed: %d lines, %d frames, %d malformed", st.Lines, st.Frames, st.Malformed)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
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
