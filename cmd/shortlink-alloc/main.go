// Command shortlink-alloc 从命令行分配和查询去重标识符
//
//	shortlink-alloc --config alloc.yaml allocate --namespace short-link-suffix --domain s.ly --seed https://example.com/a
//	shortlink-alloc check --namespace username alice
//	shortlink-alloc warm
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/EatingXiGua/shortlink/clog"
	"github.com/EatingXiGua/shortlink/engine"
	"github.com/EatingXiGua/shortlink/errcode"
	"github.com/EatingXiGua/shortlink/store"
	"github.com/EatingXiGua/shortlink/tracing"
	"github.com/urfave/cli/v2"
)

const (
	appName    = "shortlink-alloc"
	appVersion = "0.1.0"

	metaConfig = "config"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		if code := errcode.CodeOf(err); code != errcode.Unknown {
			fmt.Fprintf(os.Stderr, "code: %s\n", code)
		}
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:     appName,
		Usage:    "allocate collision-free identifiers",
		Version:  appVersion,
		Metadata: map[string]interface{}{},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file",
				EnvVars: []string{"SHORTLINK_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment used for defaults: development or production",
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := LoadConfig(c.String("config"), c.String("env"))
			if err != nil {
				return err
			}
			if err := clog.Init(c.Context, cfg.Log); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			if cfg.Tracing.Enabled {
				if err := tracing.Init(appName, appVersion, cfg.Tracing.Output); err != nil {
					return fmt.Errorf("init tracing: %w", err)
				}
			}
			c.App.Metadata[metaConfig] = cfg
			return nil
		},
		After: func(c *cli.Context) error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return tracing.Shutdown(ctx)
		},
		Commands: []*cli.Command{
			allocateCommand(),
			checkCommand(),
			warmCommand(),
		},
	}
}

// withRuntime 打开运行时执行 fn，结束后关闭
func withRuntime(c *cli.Context, fn func(rt *runtime) error) (err error) {
	cfg, ok := c.App.Metadata[metaConfig].(*FileConfig)
	if !ok {
		return fmt.Errorf("config not loaded")
	}
	rt, err := openRuntime(c.Context, cfg, clog.Namespace(appName))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(rt)
}

type allocationOutput struct {
	FullyQualified string       `json:"fullyQualified"`
	Attempts       int          `json:"attempts"`
	Record         store.Record `json:"record"`
}

func allocateCommand() *cli.Command {
	return &cli.Command{
		Name:  "allocate",
		Usage: "allocate a new identifier and print the stored record as JSON",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "namespace", Aliases: []string{"n"}, Required: true, Usage: "target namespace"},
			&cli.StringFlag{Name: "seed", Usage: "hash input, or the identifier itself for explicit namespaces"},
			&cli.StringFlag{Name: "domain", Usage: "qualifying domain for qualified namespaces"},
			&cli.IntFlag{Name: "length", Usage: "override the namespace candidate length"},
			&cli.IntFlag{Name: "max-attempts", Usage: "override the namespace generation budget"},
			&cli.StringSliceFlag{Name: "attr", Usage: "attribute stored with the record, as key=value"},
			&cli.DurationFlag{Name: "retry", Usage: "keep retrying lock conflicts and exhausted budgets for up to this long"},
		},
		Action: func(c *cli.Context) error {
			attrs, err := parseAttributes(c.StringSlice("attr"))
			if err != nil {
				return err
			}
			req := engine.Request{
				Namespace:   c.String("namespace"),
				Seed:        c.String("seed"),
				Domain:      c.String("domain"),
				Length:      c.Int("length"),
				MaxAttempts: c.Int("max-attempts"),
				Attributes:  attrs,
			}

			return withRuntime(c, func(rt *runtime) error {
				var (
					alloc *engine.Allocation
					err   error
				)
				if d := c.Duration("retry"); d > 0 {
					alloc, err = engine.AllocateWithBackoff(c.Context, rt.engine, req, engine.NewBackOff(d))
				} else {
					alloc, err = rt.engine.Allocate(c.Context, req)
				}
				if err != nil {
					return err
				}
				return writeJSON(c, allocationOutput{
					FullyQualified: alloc.FullyQualified,
					Attempts:       alloc.Attempts,
					Record:         alloc.Record,
				})
			})
		},
	}
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "report whether a fully-qualified identifier is taken",
		ArgsUsage: "<key>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "namespace", Aliases: []string{"n"}, Required: true, Usage: "namespace to look in"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("check expects exactly one key, got %d", c.NArg())
			}
			namespace, key := c.String("namespace"), c.Args().First()
			return withRuntime(c, func(rt *runtime) error {
				exists, err := rt.engine.Exists(c.Context, namespace, key)
				if err != nil {
					return err
				}
				return writeJSON(c, map[string]any{
					"namespace": namespace,
					"key":       key,
					"exists":    exists,
				})
			})
		},
	}
}

func warmCommand() *cli.Command {
	return &cli.Command{
		Name:  "warm",
		Usage: "rebuild the guard from the store and print how many records were loaded",
		Action: func(c *cli.Context) error {
			return withRuntime(c, func(rt *runtime) error {
				return writeJSON(c, map[string]any{"records": rt.warmed})
			})
		},
	}
}

func parseAttributes(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	attrs := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid attribute %q, want key=value", pair)
		}
		attrs[k] = v
	}
	return attrs, nil
}

func writeJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
