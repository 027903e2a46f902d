package tools

import (
	"flag"
	"io"
	"strings"
	"time"

	"github.com/golang/glog"
)

const (
	CommandInspect = "inspect"
	CommandStream  = "stream"
	CommandServe   = "serve"
)

type FlagsGlobal struct {
	Help    *bool `json:"help"`
	Version *bool `json:"version"`
}

type StreamerFlags struct {
	Input                    *string  `json:"input"`
	Config                   *string  `json:"config"`
	MaxScreenSpaceError      *float64 `json:"max_sse"`
	MaxScreenHeight          *float64 `json:"max_screen_height"`
	Redundancy               *string  `json:"redundancy"`
	Workers                  *int
	MaxConcurrentLoads       *int     `json:"max_loads"`
	LoadsPerSecond           *float64 `json:"loads_per_second"`
	UsePrioritiser           *bool    `json:"prioritiser"`
	MaxRetries               *int     `json:"max_retries"`
	MaxConcurrentResolutions *int     `json:"max_resolutions"`
	Timeout                  *time.Duration
	Headers                  *string  `json:"-"`
	Cache                    *string  `json:"cache"`
	Root                     *string  `json:"root"`
	Units                    *string  `json:"units"`
	HeightOffset             *float64 `json:"zoffset"`
	Silent                   *bool
	LogTimestamp             *bool
	Help                     *bool
}

type FlagsForCommandInspect struct {
	StreamerFlags
	MaxDepth  *int
	Recursive *bool
}

type FlagsForCommandStream struct {
	StreamerFlags
	Frames     *int
	FrameDelay *time.Duration
	Distance   *float64
}

type FlagsForCommandServe struct {
	StreamerFlags
	Address   *string
	FrameRate *float64
	Orbit     *time.Duration
	Distance  *float64
}

// Visited returns the long names of the flags set on the command line, so that file values
// are only overridden by flags the user gave.
func Visited(flagCommand *flag.FlagSet) map[string]bool {
	visited := map[string]bool{}
	flagCommand.Visit(func(f *flag.Flag) {
		visited[longName(f)] = true
	})
	return visited
}

func longName(f *flag.Flag) string {
	if i := strings.Index(f.Usage, "(shorthand for "); i >= 0 {
		return strings.TrimSuffix(f.Usage[i+len("(shorthand for "):], ")")
	}
	return f.Name
}

func ParseFlagsGlobal() FlagsGlobal {
	help := defineBoolFlag("help", "h", false, "Displays this help.")
	// -v belongs to glog verbosity
	version := defineBoolFlag("version", "", false, "Displays the version of tiles-streamer.")

	flag.Parse()

	return FlagsGlobal{
		Help:    help,
		Version: version,
	}
}

func defineStreamerFlags(flagCommand *flag.FlagSet) StreamerFlags {
	return StreamerFlags{
		Input:                    defineStringFlagCommand(flagCommand, "input", "i", "", "Specifies the tileset.json url or file path."),
		Config:                   defineStringFlagCommand(flagCommand, "config", "c", "", "Optional yaml file with streamer options. Flags override its values."),
		MaxScreenSpaceError:      defineFloat64FlagCommand(flagCommand, "max-sse", "e", 16, "Maximum screen space error in pixels. Tiles are refined until their error is below it."),
		MaxScreenHeight:          defineFloat64FlagCommand(flagCommand, "max-screen-height", "", 1080, "Clamp of the viewport height used to compute screen space error, 0 disables it."),
		Redundancy:               defineStringFlagCommand(flagCommand, "redundancy", "", "covered", "When a finer tile is dropped for a coarser ancestor: 'covered' waits for the ancestor to be loaded, 'eager' drops it as soon as the ancestor is loading."),
		Workers:                  defineIntFlagCommand(flagCommand, "workers", "w", 0, "Number of fetch workers, 0 uses the number of cpus."),
		MaxConcurrentLoads:       defineIntFlagCommand(flagCommand, "max-loads", "l", 16, "Maximum number of content loads in flight when the prioritiser is enabled, 0 is unlimited."),
		LoadsPerSecond:           defineFloat64FlagCommand(flagCommand, "loads-per-second", "", 0, "Rate of new content loads when the prioritiser is enabled, 0 is unlimited."),
		UsePrioritiser:           defineBoolFlagCommand(flagCommand, "prioritiser", "p", false, "Routes loads through the rate limited prioritiser."),
		MaxRetries:               defineIntFlagCommand(flagCommand, "max-retries", "r", 2, "Retries of failed loads and resolutions, negative retries forever."),
		MaxConcurrentResolutions: defineIntFlagCommand(flagCommand, "max-resolutions", "", 1, "Subtree and nested tileset fetches in flight."),
		Timeout:                  defineDurationFlagCommand(flagCommand, "timeout", "", 30*time.Second, "Timeout of a single request."),
		Headers:                  defineStringFlagCommand(flagCommand, "header", "H", "", "Request headers sent with every fetch, as 'Name: value' pairs separated by ';'."),
		Cache:                    defineStringFlagCommand(flagCommand, "cache", "", "", "Sqlite file caching fetched bytes between runs."),
		Root:                     defineStringFlagCommand(flagCommand, "root", "", "", "Directory relative file paths are resolved against."),
		Units:                    defineStringFlagCommand(flagCommand, "units", "u", "meters", "Units of the geometric errors in the tileset."),
		HeightOffset:             defineFloat64FlagCommand(flagCommand, "zoffset", "z", 0, "Vertical offset in meters applied to region bounding volumes."),
		Silent:                   defineBoolFlagCommand(flagCommand, "silent", "s", false, "Use to suppress all the non-error messages."),
		LogTimestamp:             defineBoolFlagCommand(flagCommand, "timestamp", "t", false, "Adds timestamp to log messages."),
		Help:                     defineBoolFlagCommand(flagCommand, "help", "h", false, "Displays this help."),
	}
}

func defineFlagsForCommandInspect(flagCommand *flag.FlagSet) FlagsForCommandInspect {
	return FlagsForCommandInspect{
		StreamerFlags: defineStreamerFlags(flagCommand),
		MaxDepth:      defineIntFlagCommand(flagCommand, "depth", "d", 3, "Levels of the tree to print."),
		Recursive:     defineBoolFlagCommand(flagCommand, "recursive", "R", false, "Looks for tileset files in the subfolders of a local input folder."),
	}
}

func defineFlagsForCommandStream(flagCommand *flag.FlagSet) FlagsForCommandStream {
	return FlagsForCommandStream{
		StreamerFlags: defineStreamerFlags(flagCommand),
		Frames:        defineIntFlagCommand(flagCommand, "frames", "f", 120, "Number of frames of the fly-in camera path."),
		FrameDelay:    defineDurationFlagCommand(flagCommand, "frame-delay", "", 50*time.Millisecond, "Pause between two frames, giving fetches time to complete."),
		Distance:      defineFloat64FlagCommand(flagCommand, "distance", "", 0, "Start distance of the camera from the root tile, 0 picks ten root diagonals."),
	}
}

func defineFlagsForCommandServe(flagCommand *flag.FlagSet) FlagsForCommandServe {
	return FlagsForCommandServe{
		StreamerFlags: defineStreamerFlags(flagCommand),
		Address:       defineStringFlagCommand(flagCommand, "address", "a", ":8080", "Address of the status server."),
		FrameRate:     defineFloat64FlagCommand(flagCommand, "frame-rate", "", 10, "Traversal ticks per second."),
		Orbit:         defineDurationFlagCommand(flagCommand, "orbit", "", time.Minute, "Time the camera takes for one orbit around the tileset."),
		Distance:      defineFloat64FlagCommand(flagCommand, "distance", "", 0, "Orbit radius, 0 picks two root diagonals."),
	}
}

func ParseFlagsForCommandInspect(args []string) (FlagsForCommandInspect, map[string]bool) {
	glog.V(1).Infoln(FmtJSONString(args))

	flagCommand := flag.NewFlagSet("command-"+CommandInspect, flag.ExitOnError)
	flags := defineFlagsForCommandInspect(flagCommand)
	flagCommand.Parse(args)
	return flags, Visited(flagCommand)
}

func ParseFlagsForCommandStream(args []string) (FlagsForCommandStream, map[string]bool) {
	glog.V(1).Infoln(FmtJSONString(args))

	flagCommand := flag.NewFlagSet("command-"+CommandStream, flag.ExitOnError)
	flags := defineFlagsForCommandStream(flagCommand)
	flagCommand.Parse(args)
	return flags, Visited(flagCommand)
}

func ParseFlagsForCommandServe(args []string) (FlagsForCommandServe, map[string]bool) {
	glog.V(1).Infoln(FmtJSONString(args))

	flagCommand := flag.NewFlagSet("command-"+CommandServe, flag.ExitOnError)
	flags := defineFlagsForCommandServe(flagCommand)
	flagCommand.Parse(args)
	return flags, Visited(flagCommand)
}

// PrintCommandDefaults writes the flags of command to w.
func PrintCommandDefaults(w io.Writer, command string) {
	flagCommand := flag.NewFlagSet("command-"+command, flag.ContinueOnError)
	switch command {
	case CommandInspect:
		defineFlagsForCommandInspect(flagCommand)
	case CommandStream:
		defineFlagsForCommandStream(flagCommand)
	case CommandServe:
		defineFlagsForCommandServe(flagCommand)
	default:
		defineStreamerFlags(flagCommand)
	}
	flagCommand.SetOutput(w)
	flagCommand.PrintDefaults()
}

// ParseHeaders splits "Name: value; Other: value" into pairs.
func ParseHeaders(value string) map[string]string {
	headers := map[string]string{}
	for _, pair := range strings.Split(value, ";") {
		name, headerValue, ok := strings.Cut(pair, ":")
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(headerValue)
	}
	return headers
}

func defineBoolFlag(name string, shortHand string, defaultValue bool, usage string) *bool {
	var output bool
	flag.BoolVar(&output, name, defaultValue, usage)
	if shortHand != name && shortHand != "" {
		flag.BoolVar(&output, shortHand, defaultValue, usage+" (shorthand for "+name+")")
	}
	return &output
}

func defineStringFlagCommand(flagCommand *flag.FlagSet, name string, shortHand string, defaultValue string, usage string) *string {
	var output string
	flagCommand.StringVar(&output, name, defaultValue, usage)
	if shortHand != name && shortHand != "" {
		flagCommand.StringVar(&output, shortHand, defaultValue, usage+" (shorthand for "+name+")")
	}

	return &output
}

func defineIntFlagCommand(flagCommand *flag.FlagSet, name string, shortHand string, defaultValue int, usage string) *int {
	var output int
	flagCommand.IntVar(&output, name, defaultValue, usage)
	if shortHand != name && shortHand != "" {
		flagCommand.IntVar(&output, shortHand, defaultValue, usage+" (shorthand for "+name+")")
	}

	return &output
}

func defineFloat64FlagCommand(flagCommand *flag.FlagSet, name string, shortHand string, defaultValue float64, usage string) *float64 {
	var output float64
	flagCommand.Float64Var(&output, name, defaultValue, usage)
	if shortHand != name && shortHand != "" {
		flagCommand.Float64Var(&output, shortHand, defaultValue, usage+" (shorthand for "+name+")")
	}
	return &output
}

func defineBoolFlagCommand(flagCommand *flag.FlagSet, name string, shortHand string, defaultValue bool, usage string) *bool {
	var output bool
	flagCommand.BoolVar(&output, name, defaultValue, usage)
	if shortHand != name && shortHand != "" {
		flagCommand.BoolVar(&output, shortHand, defaultValue, usage+" (shorthand for "+name+")")
	}
	return &output
}

func defineDurationFlagCommand(flagCommand *flag.FlagSet, name string, shortHand string, defaultValue time.Duration, usage string) *time.Duration {
	var output time.Duration
	flagCommand.DurationVar(&output, name, defaultValue, usage)
	if shortHand != name && shortHand != "" {
		flagCommand.DurationVar(&output, shortHand, defaultValue, usage+" (shorthand for "+name+")")
	}
	return &output
}
