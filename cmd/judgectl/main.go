package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codejudge/internal/judge/language"
	"codejudge/internal/judge/sandbox"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/sandbox/runner"
	"codejudge/pkg/utils/logger"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		if !errors.Is(err, errRejected) {
			fmt.Fprintf(os.Stderr, "judgectl: %v\n", err)
		}
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "judgectl",
		Usage: "judge a source file locally against a testcase directory",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Value: "warn", Usage: "debug, info, warn or error"},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			return ctx, logger.Init(logger.Config{
				Level:      cmd.String("log-level"),
				Format:     "console",
				OutputPath: "stderr",
				ErrorPath:  "stderr",
			})
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "compile and run a submission against <dir>/manifest.json",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "lang", Usage: "language id; detected from the file name when empty"},
					&cli.StringFlag{Name: "source", Required: true, Usage: "path to the source file"},
					&cli.StringFlag{Name: "tests", Required: true, Usage: "testcase directory"},
					&cli.StringFlag{Name: "docker", Value: "docker", Usage: "docker command, e.g. \"sudo -n docker\""},
					&cli.DurationFlag{Name: "timeout", Usage: "per testcase timeout"},
					&cli.IntFlag{Name: "memory", Usage: "per testcase memory in MB"},
					&cli.BoolFlag{Name: "json", Usage: "print the judge result as JSON"},
				},
				Action: runAction,
			},
			{
				Name:  "languages",
				Usage: "list supported languages",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					registry, err := language.NewRegistry(nil)
					if err != nil {
						return err
					}
					printLanguages(os.Stdout, registry.List())
					return nil
				},
			},
		},
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	registry, err := language.NewRegistry(nil)
	if err != nil {
		return err
	}
	lang := cmd.String("lang")
	if lang == "" {
		desc, err := registry.Detect(cmd.String("source"))
		if err != nil {
			return err
		}
		lang = desc.ID
	}

	eng, err := engine.NewEngine(engine.Config{DockerCommand: cmd.String("docker")})
	if err != nil {
		return err
	}
	jobRunner, err := runner.NewRunner(eng, registry, nil, runner.Config{
		Compile: runner.DefaultCompileLimits(),
		Run:     runner.DefaultRunLimits(),
	})
	if err != nil {
		return err
	}

	opts := runOptions{
		Language:  lang,
		Source:    cmd.String("source"),
		TestsDir:  cmd.String("tests"),
		Limits:    runner.Limits{MemoryMB: int(cmd.Int("memory")), Timeout: cmd.Duration("timeout")},
		PrintJSON: cmd.Bool("json"),
	}
	return judgeLocal(ctx, sandbox.NewWorker(jobRunner, nil), opts, os.Stdout)
}
