package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/msageha/agentflow/internal/events"
	"github.com/msageha/agentflow/internal/model"
	"github.com/msageha/agentflow/internal/scheduler"
	"github.com/msageha/agentflow/internal/session"
	"github.com/msageha/agentflow/internal/workload"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runRun(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "version":
		fmt.Printf("agentflow %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`agentflow - dependency-aware task session runner

Usage:
  agentflow run <workload.yaml> [-config <file>] [-out <summary.yaml>]
  agentflow validate <workload.yaml>
  agentflow watch <workload.yaml> [-config <file>] [-out <summary.yaml>]
  agentflow version
  agentflow help`)
}

func loadConfig(path string) model.Config {
	if path == "" {
		return model.DefaultConfig()
	}
	cfg, err := model.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// simulatedExecutor stands in for an external execution backend: it
// acknowledges each task with a placeholder result after a short pause.
func simulatedExecutor() session.Executor {
	return session.ExecutorFunc(func(ctx context.Context, t *model.Task) (map[string]any, error) {
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
		}
		return map[string]any{
			"status": "completed",
			"output": fmt.Sprintf("simulated completion of %s", t.Title),
		}, nil
	})
}

type runtime struct {
	cfg    model.Config
	logger *log.Logger
	bus    *events.Bus
	audit  *events.AuditLogger
}

func newRuntime(cfg model.Config) *runtime {
	logger := log.New(os.Stderr, "", log.LstdFlags)
	rt := &runtime{
		cfg:    cfg,
		logger: logger,
		bus:    events.NewBus(cfg.Events.HistoryCapacity, logger),
	}
	if cfg.Events.AuditLog != "" {
		audit, err := events.NewAuditLogger(cfg.Events.AuditLog, 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		rt.audit = audit
		rt.bus.Subscribe("*", audit.Hook())
	}
	return rt
}

func (rt *runtime) close() {
	if rt.audit != nil {
		rt.audit.Close()
	}
}

// runSession executes one workload file end to end and returns its summary.
func (rt *runtime) runSession(ctx context.Context, f *workload.File) (*session.Summary, error) {
	tasks, err := f.Build()
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(rt.cfg.Scheduler)
	for _, t := range tasks {
		if !sched.Enqueue(t) {
			return nil, fmt.Errorf("enqueue %s: rejected", t.ID)
		}
		rt.bus.Publish(events.Event{
			Kind:    events.KindTaskCreated,
			Source:  t.Role,
			Payload: map[string]any{"task_id": t.ID, "title": t.Title},
		})
	}

	coord := session.New(f.Project.Name, sched, rt.bus, simulatedExecutor(),
		rt.cfg.Session, rt.logger, session.ParseLogLevel(rt.cfg.Logging.Level))
	return coord.Run(ctx)
}

func printSummary(summary *session.Summary) {
	out, err := yaml.Marshal(summary)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	fmt.Print(string(out))
}

func writeSummaryFile(path string, summary *session.Summary) {
	if path == "" {
		return
	}
	if err := workload.WriteSummary(path, summary); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
}

func runRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	outPath := fs.String("out", "", "write the session summary to this file")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: agentflow run <workload.yaml> [-config <file>] [-out <summary.yaml>]")
		os.Exit(1)
	}

	f, err := workload.Load(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	rt := newRuntime(loadConfig(*configPath))
	defer rt.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := rt.runSession(ctx, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	printSummary(summary)
	writeSummaryFile(*outPath, summary)

	if summary.Failed > 0 || summary.HitRoundCeiling {
		os.Exit(1)
	}
}

func runValidate(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: agentflow validate <workload.yaml>")
		os.Exit(1)
	}

	f, err := workload.Load(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	tasks, err := f.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("ok: %s (%d tasks)\n", f.Project.Name, len(tasks))
}

func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	outPath := fs.String("out", "", "write each session summary to this file")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: agentflow watch <workload.yaml> [-config <file>] [-out <summary.yaml>]")
		os.Exit(1)
	}
	path := fs.Arg(0)

	rt := newRuntime(loadConfig(*configPath))
	defer rt.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reloads := make(chan *workload.File, 1)
	w, err := workload.NewWatcher(path, workload.DefaultDebounce, func(f *workload.File) {
		// Latest edit wins; an unconsumed older reload is dropped
		select {
		case reloads <- f:
		default:
			select {
			case <-reloads:
			default:
			}
			reloads <- f
		}
	}, func(err error) {
		rt.logger.Printf("workload rejected: %v", err)
	}, rt.logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := w.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer w.Close()

	// Run once immediately, then on every change
	if f, err := workload.Load(path); err != nil {
		rt.logger.Printf("workload rejected: %v", err)
	} else {
		reloads <- f
	}

	rt.logger.Printf("watching %s", path)
	for {
		select {
		case <-ctx.Done():
			rt.logger.Printf("watch stopped")
			return
		case f := <-reloads:
			summary, err := rt.runSession(ctx, f)
			if err != nil {
				rt.logger.Printf("session failed: %v", err)
				continue
			}
			printSummary(summary)
			writeSummaryFile(*outPath, summary)
		}
	}
}
