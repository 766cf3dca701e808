package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/castrilha/castrilha"
	"github.com/castrilha/castrilha/internal/app"
	"github.com/castrilha/castrilha/internal/mcpserver"
	"github.com/castrilha/castrilha/internal/navservice"
	pkgconfig "github.com/castrilha/castrilha/pkg/config"
)

const defaultConfigFile = "config/config.yaml"

func loadConfig(cmd *cli.Command) (*app.Config, error) {
	configPath := cmd.String("config")

	cfg := app.NewDefaultConfig()
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) && configPath == defaultConfigFile {
		// No config file: run on defaults.
		return cfg, cfg.Validate()
	}
	if err := pkgconfig.Load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func cliLogger(cfg *app.Config) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.App.LogLevel}))
}

func open(ctx context.Context, cmd *cli.Command, opts ...app.Option) (*app.Runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return app.Open(ctx, append([]app.Option{
		app.WithConfig(cfg),
		app.WithLogger(cliLogger(cfg)),
	}, opts...)...)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := app.Run(ctx, app.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	// stdout carries the protocol.
	rt, err := open(ctx, cmd, app.WithConsoleOutput(os.Stderr))
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if rt.Monitor != nil {
		go rt.Monitor.Run(ctx)
	}
	return mcpserver.New(rt.Service).ServeStdio()
}

func plan(ctx context.Context, cmd *cli.Command) error {
	rt, err := open(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := rt.Service.Plan(ctx, navservice.PlanRequest{
		From:       cmd.String("from"),
		FromIP:     cmd.String("from-ip"),
		To:         cmd.String("to"),
		TravelMode: castrilha.TravelMode(cmd.String("mode")),
		SaveAs:     cmd.String("save"),
		Overwrite:  cmd.Bool("force"),
	})
	if res.Route != nil {
		printRoute(res.Route)
	}
	if err != nil {
		return userError(err)
	}
	if res.SavedAs != "" {
		fmt.Printf("saved as %q\n", res.SavedAs)
	}
	if res.Warning != "" {
		fmt.Fprintln(os.Stderr, "warning:", res.Warning)
	}
	return nil
}

func printRoute(route *castrilha.Route) {
	fmt.Printf("%s -> %s\n", route.Origin, route.Destination)
	for i, step := range route.Steps() {
		line := fmt.Sprintf("%3d. %s", i+1, step.CleanInstruction())
		if step.DistanceText != "" {
			line += " (" + step.DistanceText + ")"
		}
		fmt.Println(line)
	}
}

func listRoutes(ctx context.Context, cmd *cli.Command) error {
	rt, err := open(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	saved := rt.Service.ListRoutes()
	if len(saved) == 0 {
		fmt.Println("no saved routes")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tFROM\tTO\tSTEPS\tSAVED")
	for _, s := range saved {
		savedAt := "-"
		if !s.SavedAt.IsZero() {
			savedAt = s.SavedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", s.Name, s.Route.Origin, s.Route.Destination, len(s.Route.Steps()), savedAt)
	}
	return tw.Flush()
}

func showRoute(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return errors.New("route name is required")
	}
	rt, err := open(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	route, err := rt.Service.GetRoute(name)
	if err != nil {
		return userError(err)
	}
	printRoute(route)
	return nil
}

func deleteRoute(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return errors.New("route name is required")
	}
	rt, err := open(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	warning, err := rt.Service.DeleteRoute(name)
	if err != nil {
		return userError(err)
	}
	fmt.Printf("deleted %q\n", name)
	if warning != "" {
		fmt.Fprintln(os.Stderr, "warning:", warning)
	}
	return nil
}

func locate(ctx context.Context, cmd *cli.Command) error {
	ip := cmd.Args().First()
	if ip == "" {
		return errors.New("ip address is required")
	}
	rt, err := open(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	loc, err := rt.Service.LocateIP(ip)
	if err != nil {
		return userError(err)
	}
	fmt.Printf("%s: %s, %s (%.4f, %.4f)\n", loc.IP, loc.City, loc.Country, loc.Latitude, loc.Longitude)
	return nil
}

// navigate runs one guidance session in the foreground until arrival,
// stop or interrupt.
func navigate(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if file := cmd.String("replay"); file != "" {
		cfg.Position.Source = app.SourceReplay
		cfg.Position.ReplayFile = file
	}
	if cmd.Bool("console") {
		cfg.Link.Transport = app.TransportConsole
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan castrilha.Event, 1)
	rt, err := app.Open(ctx,
		app.WithConfig(cfg),
		app.WithLogger(cliLogger(cfg)),
		app.WithConsoleOutput(os.Stdout),
		app.WithEventHandler(func(ev castrilha.Event) {
			switch ev.Type {
			case castrilha.EventInstruction:
				fmt.Fprintf(os.Stderr, "-> step %d: %s\n", ev.StepIndex+1, ev.Message)
			case castrilha.EventDispatchFailed, castrilha.EventPositionLost:
				fmt.Fprintf(os.Stderr, "!! %s: %s\n", ev.Type, ev.Error)
			case castrilha.EventArrived, castrilha.EventStopped:
				select {
				case done <- ev:
				default:
				}
			}
		}))
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.Monitor != nil {
		go rt.Monitor.Run(ctx)
	}

	route, err := rt.Service.Start(ctx, navservice.StartRequest{
		Name:        cmd.String("route"),
		Destination: cmd.String("to"),
	})
	if err != nil {
		return userError(err)
	}
	fmt.Fprintf(os.Stderr, "navigating to %s (%d steps)\n", route.Destination, len(route.Steps()))

	select {
	case ev := <-done:
		if ev.Type == castrilha.EventArrived {
			fmt.Fprintln(os.Stderr, "arrived")
			return nil
		}
		if ev.Error != "" {
			return fmt.Errorf("navigation stopped: %s", ev.Error)
		}
		return nil
	case <-ctx.Done():
		return rt.Service.Stop()
	}
}

// userError prefixes err with the traveler-facing message.
func userError(err error) error {
	msg := castrilha.UserMessage(err)
	if msg == "" || strings.Contains(err.Error(), msg) {
		return err
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func main() {
	cmd := &cli.Command{
		Name:   "castrilha",
		Usage:  "Turn-by-turn directions on a wearable device, dispatched by GPS proximity",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: defaultConfigFile,
				Value:       defaultConfigFile,
				Sources:     cli.EnvVars("CASTRILHA_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the navigation daemon with its HTTP control API",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve navigation tools over MCP on stdin/stdout",
				Action: serveMCP,
			},
			{
				Name:   "plan",
				Usage:  "Plan a route and optionally save it for offline use",
				Action: plan,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "to", Usage: "Destination address or lat,lng", Required: true},
					&cli.StringFlag{Name: "from", Usage: "Origin address or lat,lng (default: current position)"},
					&cli.StringFlag{Name: "from-ip", Usage: "Approximate the origin from an IP address"},
					&cli.StringFlag{Name: "mode", Usage: "driving, walking, bicycling or transit"},
					&cli.StringFlag{Name: "save", Usage: "Save the route under this name"},
					&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "Replace a saved route with the same name"},
				},
			},
			{
				Name:  "routes",
				Usage: "Manage saved routes",
				Commands: []*cli.Command{
					{Name: "list", Usage: "List saved routes", Action: listRoutes},
					{Name: "show", Usage: "Print a saved route", ArgsUsage: "NAME", Action: showRoute},
					{Name: "delete", Usage: "Delete a saved route", ArgsUsage: "NAME", Action: deleteRoute},
				},
			},
			{
				Name:   "navigate",
				Usage:  "Guide along a saved route or towards a destination in the foreground",
				Action: navigate,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "route", Aliases: []string{"r"}, Usage: "Saved route name"},
					&cli.StringFlag{Name: "to", Usage: "Destination address or lat,lng"},
					&cli.StringFlag{Name: "replay", Usage: "Replay fixes from a JSON-lines track instead of the configured source"},
					&cli.BoolFlag{Name: "console", Usage: "Print instructions to stdout instead of the device"},
				},
			},
			{
				Name:      "locate",
				Usage:     "Approximate location of an IP address",
				ArgsUsage: "IP",
				Action:    locate,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
