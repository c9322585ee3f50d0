package main

import (
	"fmt"
	"os"

	"github.com/Capitan-Parrot/firewatch/internal/config"
	"github.com/Capitan-Parrot/firewatch/internal/logger"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // registers platform cameras
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "firewatch",
		Usage: "Watch a camera for fire and smoke and raise an alarm",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML config file",
				EnvVars: []string{"CONFIG_PATH"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override log.level (debug, info, warn, error)",
			},
		},
		DefaultCommand: "run",
		Commands: []*cli.Command{
			runCommand(),
			devicesCommand(),
			logsCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the config and builds the logger shared by every command
func setup(c *cli.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, nil, err
	}
	if level := c.String("log-level"); level != "" {
		cfg.Log.Level = level
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
