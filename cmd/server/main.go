// Copyright 2026 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/livekit/darkcyan/pkg/config"
	"github.com/livekit/darkcyan/pkg/errors"
	"github.com/livekit/darkcyan/pkg/server"
	"github.com/livekit/darkcyan/pkg/signals"
	"github.com/livekit/darkcyan/pkg/worker"
	"github.com/livekit/darkcyan/version"
	"github.com/livekit/protocol/logger"
)

func main() {
	// a missing .env is fine
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:        "darkcyan",
		Usage:       "Camera worker supervisor",
		Version:     version.Version,
		Description: "runs one capture and inference worker per camera source",
		Commands: []*cli.Command{
			{
				Name:        "run-worker",
				Description: "runs a single source in a new process",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name: "config",
					},
				},
				Action: runWorker,
				Hidden: true,
			},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "yaml config file",
				Sources: cli.EnvVars("DARKCYAN_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "config-body",
				Usage:   "yaml config body",
				Sources: cli.EnvVars("DARKCYAN_CONFIG_BODY"),
			},
			&cli.DurationFlag{
				Name:  "run-for",
				Usage: "overrides run_for",
			},
			&cli.BoolFlag{
				Name:  "no-display",
				Usage: "disables the terminal status display",
			},
		},
		Action: runService,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runService(ctx context.Context, c *cli.Command) error {
	configFile := c.String("config")
	configBody := c.String("config-body")
	if configBody == "" {
		if configFile == "" {
			return errors.ErrNoConfig
		}
		content, err := os.ReadFile(configFile)
		if err != nil {
			return err
		}
		configBody = string(content)
	}

	conf, err := config.NewServiceConfig(configBody)
	if err != nil {
		return err
	}
	if runFor := c.Duration("run-for"); runFor > 0 {
		conf.RunFor = runFor
	}
	if c.Bool("no-display") {
		conf.Display.Disabled = true
	}

	abort := signals.NewMonitor()
	defer abort.Stop()

	svc, err := server.NewServer(conf, server.Options{Abort: abort})
	if err != nil {
		return err
	}

	if conf.HealthPort != 0 {
		go func() {
			_ = http.ListenAndServe(fmt.Sprintf(":%d", conf.HealthPort), newHealthMux(svc))
		}()
	}

	return svc.Run(ctx)
}

func runWorker(ctx context.Context, c *cli.Command) error {
	conf, err := config.NewWorkerConfig(c.String("config"))
	if err != nil {
		return err
	}

	logger.Debugw("worker launched")

	// workers share the terminal's process group, so ctrl-c reaches them too
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	w, err := worker.New(conf)
	if err != nil {
		logger.Errorw("failed to create worker", err)
		return err
	}
	defer func() {
		_ = w.Close()
	}()

	return w.Run(ctx)
}
