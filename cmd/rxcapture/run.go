package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rjboer/rxcapture/internal/acquisition"
	"github.com/rjboer/rxcapture/internal/app"
	"github.com/rjboer/rxcapture/internal/config"
	"github.com/rjboer/rxcapture/internal/logging"
	"github.com/rjboer/rxcapture/internal/mdns"
	"github.com/rjboer/rxcapture/internal/recorder"
	"github.com/rjboer/rxcapture/internal/sdr"
	"github.com/rjboer/rxcapture/internal/supervisor"
	"github.com/rjboer/rxcapture/internal/telemetry"
)

// runner wires one acquisition session: source, status reporting, raw
// output, consumer and the optional web and mDNS surfaces.
type runner struct {
	cfg    config.Config
	stdin  io.Reader
	stdout io.Writer

	// onStart is called after each task starts. Tests use it to wait for
	// acquisition before issuing commands.
	onStart func(*acquisition.Task)
}

func (r *runner) run(ctx context.Context) error {
	cfg := r.cfg
	logger, logCloser, err := logging.Open(cfg.LoggingOptions(), os.Stderr)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	logging.SetDefault(logger)

	src, err := openSource(cfg.Device)
	if err != nil {
		return err
	}
	defer src.Close()

	actual, err := app.ConfigureSource(ctx, src, sdr.Config{
		SampleRate: cfg.Device.Rate,
		Frequency:  cfg.Device.Frequency,
		LOOffset:   cfg.Device.LOOffset,
		Gain:       cfg.Device.Gain,
	}, logger)
	if err != nil {
		return err
	}

	policy, err := cfg.Acquisition.Policy()
	if err != nil {
		return err
	}

	hub := telemetry.NewHub(cfg.Telemetry.HistoryLimit, logger)
	reporters := telemetry.MultiReporter{telemetry.NewLogReporter(logger), hub}
	if cfg.Output.MetadataLog != "" {
		metaLog := logging.RotatingFile(cfg.Output.MetadataLog, cfg.Output.MaxSizeMB, cfg.Output.MaxBackups, 0, false)
		defer metaLog.Close()
		reporters = append(reporters, telemetry.NewTextSink(metaLog, logger))
	}
	status := telemetry.NewAsyncReporter(reporters, cfg.Acquisition.StatusQueue, logger)
	defer status.Close()

	var taps []acquisition.Tap
	var rec *recorder.Recorder
	if cfg.Output.RawData != "" {
		rec, err = recorder.Open(recorder.Options{
			Path:   cfg.Output.RawData,
			Depth:  cfg.Output.RawQueue,
			FIFO:   cfg.Output.RawFIFO,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				logger.Error("raw sample output", logging.Err(err))
			}
		}()
		taps = append(taps, rec)
	}

	webCtx, stopWeb := context.WithCancel(context.Background())
	defer stopWeb()
	port := 0
	if cfg.Telemetry.Addr != "" {
		if port, err = r.serveTelemetry(webCtx, hub, logger); err != nil {
			return err
		}
	}
	var announce sync.Once

	var monitors sync.WaitGroup
	sup := supervisor.New(func() (*acquisition.Task, error) {
		return acquisition.NewTask(src, acquisition.Options{
			Capacity: cfg.Acquisition.Samples,
			Timeout:  cfg.Acquisition.Timeout,
			Priority: cfg.Acquisition.Priority,
			Policy:   policy,
			Reporter: status,
			Taps:     taps,
			Logger:   logger,
		})
	}, supervisor.Options{
		MaxRestarts:     cfg.Supervisor.MaxRestarts,
		InitialInterval: cfg.Supervisor.InitialInterval,
		MaxInterval:     cfg.Supervisor.MaxInterval,
		Logger:          logger,
		OnStart: func(task *acquisition.Task) {
			mon := app.NewMonitor(task.Coordinator(), hub, logger, app.MonitorConfig{
				SampleRate:    actual.SampleRate,
				ThresholdDBFS: cfg.Telemetry.ThresholdDBFS,
			})
			monitors.Add(1)
			go func() {
				defer monitors.Done()
				// The producer closes the handoff on exit, which ends Run.
				if err := mon.Run(context.Background()); err != nil {
					logger.Warn("monitor stopped", logging.Err(err))
				}
			}()
			if cfg.Telemetry.Announce && port > 0 {
				announce.Do(func() { r.announce(webCtx, port, actual, task.SessionID(), logger) })
			}
			if r.onStart != nil {
				r.onStart(task)
			}
		},
	})
	hub.SetController(sup)

	stopOnCancel := context.AfterFunc(ctx, sup.Stop)
	defer stopOnCancel()

	if r.stdin != nil {
		go r.readCommands(sup, hub, status, rec)
	}

	disp, err := sup.Run(ctx)
	monitors.Wait()
	if err != nil {
		return err
	}
	logger.Info("capture finished",
		logging.Field{Key: "reason", Value: disp.Reason.String()},
		logging.Field{Key: "iterations", Value: disp.Iterations},
		logging.Field{Key: "restarts", Value: sup.Restarts()})
	if disp.StopErr != nil {
		logger.Warn("stop streaming", logging.Err(disp.StopErr))
	}
	if disp.Reason == acquisition.Fatal {
		return disp.Err
	}
	return nil
}

func (r *runner) serveTelemetry(ctx context.Context, hub *telemetry.Hub, logger logging.Logger) (int, error) {
	web := telemetry.NewWebServer(r.cfg.Telemetry.Addr, hub, telemetry.NewTokenVerifier(r.cfg.Telemetry.JWTSecret))
	ln, err := web.Listen()
	if err != nil {
		return 0, fmt.Errorf("telemetry listen: %w", err)
	}
	go web.Serve(ctx, ln)
	logger.Info("web telemetry listening", logging.Field{Key: "addr", Value: ln.Addr().String()})
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		return tcp.Port, nil
	}
	return 0, nil
}

// announce publishes the telemetry endpoint until ctx ends. Failure only
// costs discoverability.
func (r *runner) announce(ctx context.Context, port int, actual sdr.Config, session string, logger logging.Logger) {
	ann, err := mdns.Announce(r.cfg.Telemetry.Instance, port, map[string]string{
		"session": session,
		"rate":    strconv.FormatFloat(actual.SampleRate, 'f', -1, 64),
		"freq":    strconv.FormatFloat(actual.Frequency, 'f', -1, 64),
	})
	if err != nil {
		logger.Warn("mdns announce failed", logging.Err(err))
		return
	}
	logger.Info("announced over mdns",
		logging.Field{Key: "instance", Value: r.cfg.Telemetry.Instance},
		logging.Field{Key: "port", Value: port})
	context.AfterFunc(ctx, func() { ann.Close() })
}

// readCommands handles operator input. EOF leaves acquisition running so
// the tool can be driven with a closed stdin.
func (r *runner) readCommands(sup *supervisor.Supervisor, hub *telemetry.Hub, status *telemetry.AsyncReporter, rec *recorder.Recorder) {
	sc := bufio.NewScanner(r.stdin)
	for sc.Scan() {
		switch strings.ToLower(strings.TrimSpace(sc.Text())) {
		case "q", "quit", "exit":
			sup.Stop()
			return
		case "status":
			r.printStatus(sup, hub, status, rec)
		case "":
		default:
			fmt.Fprintln(r.stdout, `commands: status, quit`)
		}
	}
}

func (r *runner) printStatus(sup *supervisor.Supervisor, hub *telemetry.Hub, status *telemetry.AsyncReporter, rec *recorder.Recorder) {
	st := hub.Stats()
	state := acquisition.NotStarted
	if task := sup.Current(); task != nil {
		state = task.State()
	}
	fmt.Fprintf(r.stdout, "state=%s session=%s records=%d samples=%d last=%s consecutive=%d restarts=%d status_dropped=%d\n",
		state, st.Session, st.Records, st.Samples, st.LastKind, st.Consecutive, sup.Restarts(), status.Dropped())
	if rec != nil {
		rs := rec.Stats()
		fmt.Fprintf(r.stdout, "raw blocks=%d samples=%d dropped=%d\n", rs.Blocks, rs.Samples, rs.Dropped)
	}
}

func openSource(dev config.DeviceConfig) (sdr.SampleSource, error) {
	switch dev.Backend {
	case "mock":
		return sdr.NewMock(sdr.MockOptions{
			ToneOffset: dev.ToneOffset,
			NoiseStd:   dev.NoiseStd,
			Realtime:   true,
		}), nil
	case "replay":
		return sdr.NewReplay(dev.ReplayPath, dev.ReplayLoop, true)
	default:
		return nil, errors.New("unknown backend " + strconv.Quote(dev.Backend))
	}
}
