package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ecopia-map/tiles_streamer/internal/config"
	"github.com/ecopia-map/tiles_streamer/internal/converters/units"
	"github.com/ecopia-map/tiles_streamer/pkg"
	"github.com/ecopia-map/tiles_streamer/pkg/component_manager"
	"github.com/ecopia-map/tiles_streamer/pkg/component_manager/std_component_manager"
	"github.com/ecopia-map/tiles_streamer/tools"
	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const VERSION = "0.3.0"

const logo = `
 _   _ _                     _
| |_(_) | ___  ___       ___| |_ _ __ ___  __ _ _ __ ___   ___ _ __
| __| | |/ _ \/ __|_____/ __| __| '__/ _ \/ _  | '_   _ \ / _ \ '__|
| |_| | |  __/\__ \_____\__ \ |_| | |  __/ (_| | | | | | |  __/ |
 \__|_|_|\___||___/     |___/\__|_|  \___|\__,_|_| |_| |_|\___|_|
  Level of detail streaming of 3D Tiles, written in golang
`

func main() {
	flagsGlobal := tools.ParseFlagsGlobal()
	defer glog.Flush()
	glog.V(1).Infoln(tools.FmtJSONString(flagsGlobal))

	if *flagsGlobal.Help {
		showHelp()
		return
	}
	if *flagsGlobal.Version {
		printVersion()
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		glog.Fatal("Please specify a subcommand [inspect|stream|serve].")
	}
	cmd, args := args[0], args[1:]

	switch cmd {
	case tools.CommandInspect:
		mainCommandInspect(args)
	case tools.CommandStream:
		mainCommandStream(args)
	case tools.CommandServe:
		mainCommandServe(args)
	default:
		glog.Fatalf("Unrecognized command [%q]. Command must be one of [inspect|stream|serve]", cmd)
	}
}

func mainCommandInspect(args []string) {
	flags, visited := tools.ParseFlagsForCommandInspect(args)
	if *flags.Help {
		showCommandHelp(tools.CommandInspect)
		return
	}
	setupLogger(flags.StreamerFlags)

	opts := buildOptions(flags.StreamerFlags, visited)
	opts.Command = tools.CommandInspect
	if opts.InspectOptions == nil {
		opts.InspectOptions = &config.InspectOptions{MaxDepth: *flags.MaxDepth, Recursive: *flags.Recursive}
	}
	if applyFlag(flags.StreamerFlags, visited, "depth") {
		opts.InspectOptions.MaxDepth = *flags.MaxDepth
	}
	if applyFlag(flags.StreamerFlags, visited, "recursive") {
		opts.InspectOptions.Recursive = *flags.Recursive
	}
	validate(opts)

	inputs := []*config.StreamerOptions{opts}
	if !tools.IsRemote(opts.Input) {
		files, err := tools.NewStandardFileFinder().GetTilesetFiles(tools.AbsolutePath(opts.Root, opts.Input), opts.InspectOptions.Recursive)
		if err != nil {
			glog.Fatal("Error looking for tilesets: ", err)
		}
		inputs = inputs[:0]
		for _, file := range files {
			fileOpts := opts.Copy()
			fileOpts.Input = file
			inputs = append(inputs, fileOpts)
		}
	}

	failed := 0
	for i, inputOpts := range inputs {
		tools.LogOutput(fmt.Sprintf("Inspecting tileset %d/%d", i+1, len(inputs)))
		if err := inspect(inputOpts); err != nil {
			glog.Errorf("%s: %v", inputOpts.Input, err)
			failed++
		}
	}
	if failed > 0 {
		glog.Fatalf("%d of %d tilesets could not be loaded", failed, len(inputs))
	}
	tools.LogOutput("Inspection Completed")
}

func inspect(opts *config.StreamerOptions) error {
	// every tileset gets its own registry, the collectors are registered per component manager
	components := newComponentManager(opts, prometheus.NewRegistry())
	s, err := pkg.Open(context.Background(), opts, components)
	if err != nil {
		_ = components.Close()
		return err
	}
	defer s.Close()
	return pkg.Inspect(os.Stdout, s.Tileset(), opts.InspectOptions.MaxDepth)
}

func mainCommandStream(args []string) {
	flags, visited := tools.ParseFlagsForCommandStream(args)
	if *flags.Help {
		showCommandHelp(tools.CommandStream)
		return
	}
	setupLogger(flags.StreamerFlags)

	opts := buildOptions(flags.StreamerFlags, visited)
	opts.Command = tools.CommandStream
	if opts.StreamOptions == nil {
		opts.StreamOptions = &config.StreamOptions{Frames: *flags.Frames, FrameDelay: *flags.FrameDelay, Distance: *flags.Distance}
	}
	if applyFlag(flags.StreamerFlags, visited, "frames") {
		opts.StreamOptions.Frames = *flags.Frames
	}
	if applyFlag(flags.StreamerFlags, visited, "frame-delay") {
		opts.StreamOptions.FrameDelay = *flags.FrameDelay
	}
	if applyFlag(flags.StreamerFlags, visited, "distance") {
		opts.StreamOptions.Distance = *flags.Distance
	}
	validate(opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer timeTrack(time.Now(), "streaming")
	s := open(ctx, opts, prometheus.NewRegistry())
	logged := logEvents(s)

	stats, err := pkg.RunStream(ctx, s, opts.StreamOptions)
	if closeErr := s.Close(); closeErr != nil {
		glog.Warningf("close: %v", closeErr)
	}
	<-logged

	if err != nil && !errors.Is(err, context.Canceled) {
		glog.Fatal("Error while streaming: ", err)
	}
	tools.LogOutput("Streaming Completed:", stats.String())
}

func mainCommandServe(args []string) {
	flags, visited := tools.ParseFlagsForCommandServe(args)
	if *flags.Help {
		showCommandHelp(tools.CommandServe)
		return
	}
	setupLogger(flags.StreamerFlags)

	opts := buildOptions(flags.StreamerFlags, visited)
	opts.Command = tools.CommandServe
	if opts.ServeOptions == nil {
		opts.ServeOptions = &config.ServeOptions{Address: *flags.Address, FrameRate: *flags.FrameRate, Orbit: *flags.Orbit, Distance: *flags.Distance}
	}
	if applyFlag(flags.StreamerFlags, visited, "address") {
		opts.ServeOptions.Address = *flags.Address
	}
	if applyFlag(flags.StreamerFlags, visited, "frame-rate") {
		opts.ServeOptions.FrameRate = *flags.FrameRate
	}
	if applyFlag(flags.StreamerFlags, visited, "orbit") {
		opts.ServeOptions.Orbit = *flags.Orbit
	}
	if applyFlag(flags.StreamerFlags, visited, "distance") {
		opts.ServeOptions.Distance = *flags.Distance
	}
	validate(opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s := open(ctx, opts, registry)

	gin.SetMode(gin.ReleaseMode)
	err := pkg.NewServer(s, opts.ServeOptions, registry).Run(ctx)
	if closeErr := s.Close(); closeErr != nil {
		glog.Warningf("close: %v", closeErr)
	}
	if err != nil {
		glog.Fatal("Error while serving: ", err)
	}
	tools.LogOutput("Server Stopped")
}

// buildOptions layers the config file, when given, under the flags the user set. Without a file
// every flag applies, defaults included.
func buildOptions(flags tools.StreamerFlags, visited map[string]bool) *config.StreamerOptions {
	opts := config.Default()
	if *flags.Config != "" {
		if err := config.LoadFile(*flags.Config, opts); err != nil {
			glog.Fatal("Error reading config: ", err)
		}
	}

	if applyFlag(flags, visited, "input") {
		opts.Input = *flags.Input
	}
	if applyFlag(flags, visited, "max-sse") {
		opts.MaxScreenSpaceError = *flags.MaxScreenSpaceError
	}
	if applyFlag(flags, visited, "max-screen-height") {
		opts.MaxScreenHeight = *flags.MaxScreenHeight
	}
	if applyFlag(flags, visited, "redundancy") {
		opts.Redundancy = strings.ToLower(*flags.Redundancy)
	}
	if applyFlag(flags, visited, "workers") {
		opts.Workers = *flags.Workers
	}
	if applyFlag(flags, visited, "max-loads") {
		opts.MaxConcurrentLoads = *flags.MaxConcurrentLoads
	}
	if applyFlag(flags, visited, "loads-per-second") {
		opts.LoadsPerSecond = *flags.LoadsPerSecond
	}
	if applyFlag(flags, visited, "prioritiser") {
		opts.UsePrioritiser = *flags.UsePrioritiser
	}
	if applyFlag(flags, visited, "max-retries") {
		opts.MaxRetries = *flags.MaxRetries
	}
	if applyFlag(flags, visited, "max-resolutions") {
		opts.MaxConcurrentResolutions = int64(*flags.MaxConcurrentResolutions)
	}
	if applyFlag(flags, visited, "timeout") {
		opts.RequestTimeout = *flags.Timeout
	}
	if visited["header"] {
		if opts.RequestHeaders == nil {
			opts.RequestHeaders = map[string]string{}
		}
		for name, value := range tools.ParseHeaders(*flags.Headers) {
			opts.RequestHeaders[name] = value
		}
	}
	if applyFlag(flags, visited, "cache") {
		opts.CacheDatabase = *flags.Cache
	}
	if applyFlag(flags, visited, "root") {
		opts.Root = *flags.Root
	}
	if applyFlag(flags, visited, "units") {
		opts.GeometricErrorUnits = units.Unit(strings.ToUpper(*flags.Units))
	}
	if applyFlag(flags, visited, "zoffset") {
		opts.HeightOffset = *flags.HeightOffset
	}

	if opts.Root == "" {
		opts.Root = tools.GetRootFolder()
	}
	glog.V(1).Infoln("options", tools.FmtJSONIndent(opts))
	return opts
}

func applyFlag(flags tools.StreamerFlags, visited map[string]bool, name string) bool {
	return *flags.Config == "" || visited[name]
}

// Validates the options, checking that a local input exists
func validate(opts *config.StreamerOptions) {
	if msg, ok := opts.Validate(); !ok {
		glog.Fatal("Error parsing input parameters: " + msg)
	}
	if !tools.IsRemote(opts.Input) {
		if _, err := os.Stat(tools.AbsolutePath(opts.Root, opts.Input)); os.IsNotExist(err) {
			glog.Fatal("Error parsing input parameters: input file/folder not found")
		}
	}
	if opts.CacheDatabase != "" {
		if err := tools.CreateDirectoryIfDoesNotExist(filepath.Dir(opts.CacheDatabase)); err != nil {
			glog.Fatal("Error creating cache folder: ", err)
		}
	}
}

func newComponentManager(opts *config.StreamerOptions, registerer prometheus.Registerer) component_manager.ComponentManager {
	components, err := std_component_manager.NewComponentManager(opts, registerer)
	if err != nil {
		glog.Fatal("Error initializing components: ", err)
	}
	return components
}

func open(ctx context.Context, opts *config.StreamerOptions, registerer prometheus.Registerer) *pkg.Streamer {
	components := newComponentManager(opts, registerer)
	s, err := pkg.Open(ctx, opts, components)
	if err != nil {
		_ = components.Close()
		glog.Fatal("Error while opening tileset: ", err)
	}
	return s
}

// logEvents logs streamer events until the streamer is closed. The returned channel is closed
// once every event has been logged.
func logEvents(s *pkg.Streamer) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range s.Events() {
			switch e.Kind {
			case pkg.EventContentFailed, pkg.EventStructureFailed:
				glog.Warningf("frame %d: %s tile %d %s: %s", e.Frame, e.Kind, e.TileID, e.URI, e.Error)
			case pkg.EventUnsupportedExtension:
				glog.Warningf("%s: %s", e.URI, strings.Join(e.Warnings, "; "))
			default:
				glog.V(1).Infof("frame %d: %s tile %d %s", e.Frame, e.Kind, e.TileID, e.URI)
			}
		}
	}()
	return done
}

func setupLogger(flags tools.StreamerFlags) {
	if *flags.Silent {
		tools.DisableLogger()
	} else {
		printLogo()
	}
	if !*flags.LogTimestamp {
		tools.DisableLoggerTimestamp()
	}
}

func timeTrack(start time.Time, name string) {
	elapsed := time.Since(start)
	tools.LogOutput(fmt.Sprintf("%s took %s", name, elapsed))
}

func printLogo() {
	fmt.Print(logo + "\n")
}

func showHelp() {
	printLogo()
	fmt.Println("***")
	fmt.Println("tiles-streamer loads a 3D Tiles tileset and streams its level of detail for a moving camera.")
	fmt.Println("Commands: inspect, stream, serve. Run a command with --help to list its flags.")
	printVersion()
	fmt.Println("***")
	fmt.Println("")
	fmt.Println("Command line flags: ")
	flag.CommandLine.SetOutput(os.Stdout)
	flag.PrintDefaults()
}

func showCommandHelp(command string) {
	printLogo()
	fmt.Printf("Flags of the %s command: \n", command)
	tools.PrintCommandDefaults(os.Stdout, command)
}

func printVersion() {
	fmt.Println("v." + VERSION)
}
