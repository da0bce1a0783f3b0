// Package main runs a chain of ultrasonic sensors on the host's GPIO lines and logs their
// readings.
package main

import (
	"context"
	"encoding/json"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"go.viam.com/asyncsonar/components/board"
	"go.viam.com/asyncsonar/components/board/gpiochip"
	"go.viam.com/asyncsonar/components/board/periph"
	"go.viam.com/asyncsonar/logging"
	"go.viam.com/asyncsonar/services/ranging"
	"go.viam.com/asyncsonar/utils"
)

const (
	flagConfig         = "config"
	flagDebug          = "debug"
	flagReportInterval = "report-interval"
	flagGPIOChip       = "gpiochip"
)

func main() {
	var logger logging.Logger

	app := &cli.App{
		Name:  "asyncsonar",
		Usage: "range with HC-SR04 style ultrasonic sensors",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     flagConfig,
				Aliases:  []string{"c"},
				Usage:    "load sensor configuration from `FILE` (JSON or YAML)",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				logger = logging.NewDebugLogger("asyncsonar")
			} else {
				logger = logging.NewLogger("asyncsonar")
			}
			logging.ReplaceGlobal(logger)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the sensors until interrupted",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  flagReportInterval,
						Value: time.Second,
						Usage: "how often to log readings",
					},
					&cli.StringFlag{
						Name:  flagGPIOChip,
						Usage: "use the GPIO character device at `PATH` (e.g. /dev/gpiochip0) instead of periph.io",
					},
				},
				Action: func(c *cli.Context) error {
					conf, err := loadConfig(c.String(flagConfig))
					if err != nil {
						return err
					}
					ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
					defer stop()
					b, err := openBoard(c.String(flagGPIOChip), conf.Pins(), logger.Named("board"))
					if err != nil {
						return err
					}
					return run(ctx, b, conf, c.Duration(flagReportInterval), logger)
				},
			},
			{
				Name:  "validate",
				Usage: "check a configuration file and exit",
				Action: func(c *cli.Context) error {
					conf, err := loadConfig(c.String(flagConfig))
					if err != nil {
						return err
					}
					logger.Infow("configuration is valid", "sensors", len(conf.Sensors))
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logging.Global().Fatal(err)
	}
}

// loadConfig reads a ranging config. Files ending in .yaml or .yml are YAML, anything else is
// JSON. Both go through the same attribute decoding so field names and unknown key errors match.
func loadConfig(path string) (*ranging.Config, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}

	attrs := map[string]interface{}{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &attrs)
	default:
		err = json.Unmarshal(data, &attrs)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}

	var conf ranging.Config
	if err := utils.TransformAttributeMapToStruct(&conf, attrs); err != nil {
		return nil, err
	}
	if err := conf.Validate("ranging"); err != nil {
		return nil, err
	}
	return &conf, nil
}

// openBoard opens the character device board when chipPath is set and the periph.io board
// otherwise.
func openBoard(chipPath string, pins []string, logger logging.Logger) (board.Board, error) {
	if chipPath != "" {
		b, err := gpiochip.Open(logger, chipPath, pins...)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	b, err := periph.Open(logger, pins...)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// run owns b and closes it on return.
func run(
	ctx context.Context, b board.Board, conf *ranging.Config, reportInterval time.Duration, logger logging.Logger,
) (err error) {
	svc, err := ranging.New(ctx, b, conf, logger.Named("ranging"))
	if err != nil {
		return multierr.Combine(err, b.Close(ctx))
	}
	defer func() {
		// ctx is already done here
		closeCtx := context.Background()
		err = multierr.Combine(err, svc.Close(closeCtx), b.Close(closeCtx))
	}()

	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
		}
		readings, err := svc.Readings(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		report(logger, readings)
	}
}

func report(logger logging.Logger, readings map[string]ranging.Reading) {
	for _, name := range slices.Sorted(maps.Keys(readings)) {
		r := readings[name]
		logger.Infow("reading",
			"sensor", name,
			"filtered_mm", r.FilteredMm,
			"measured_mm", r.MeasuredMm,
			"raw_us", r.RawUs,
			"timed_out", r.TimedOut,
			"pings", r.Pings,
			"time_outs", r.TimeOuts,
		)
		if r.LastError != "" {
			logger.Warnw("sensor error", "sensor", name, "error", r.LastError)
		}
	}
}
