package ndkports

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"
)

// printHelp prints the commands table
func printHelp() {
	colSuccess.Println("Usage: ndkports <command> [flags] [port...]")
	fmt.Println()
	color.Info.Println("Available Commands:")

	type cmdInfo struct {
		Cmd  string
		Args string
		Desc string
	}
	cmds := []cmdInfo{
		{"downloadSource", "<port...>", "Fetch and verify source archives"},
		{"extractSrc", "<port...>", "Extract and patch source trees"},
		{"buildPort", "<port...>", "Build every ABI of a port"},
		{"verify", "<port...>", "Run a port's smoke test on a connected device"},
		{"prefabPackage", "<port...>", "Write the Prefab AAR and descriptor"},
		{"publish", "<port...>", "Sign and stage packages into the Maven repository"},
		{"release", "[port...]", "All of the above, dependencies first"},
		{"distZip", "<port...>", "Zip a published version for distribution"},
		{"upload", "[-y]", "Upload the repository to R2 and update the index"},
		{"exportProjectInfo", "", "Print the port list as a JSON build matrix"},
		{"list, ls", "", "List ports"},
		{"log", "[port]", "TUI build log viewer"},
		{"keys", "[dir] [id]", "Generate an ed25519 repository index key"},
		{"version, --version", "", "Version information"},
	}

	maxLen := 0
	for _, c := range cmds {
		length := len(c.Cmd) + len(c.Args)
		if c.Args != "" {
			length++
		}
		if length > maxLen {
			maxLen = length
		}
	}
	columnWidth := maxLen + 4

	for _, c := range cmds {
		usage := c.Cmd
		if c.Args != "" {
			usage += " " + c.Args
		}
		fmt.Print("  ")
		color.Bold.Print(c.Cmd)
		if c.Args != "" {
			fmt.Print(" ")
			color.Cyan.Print(c.Args)
		}
		fmt.Print(strings.Repeat(" ", max(columnWidth-len(usage), 1)))
		color.Info.Println(c.Desc)
	}
	fmt.Println()
	color.Info.Println("Flags:")
	fmt.Println("  -abis a,b   -jobs N   -abi-jobs N   -timeout D   -verify   -debug   -y")
	fmt.Println()
}

// Main is the CLI entrypoint for cmd/ndkports.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			colArrow.Print("\n-> ")
			color.Danger.Printf("Received %v. Cancelling running builds\n", sig)
			cancel()
			select {
			case <-sigs:
				colArrow.Print("\n-> ")
				color.Danger.Println("Second interrupt received. Forcing immediate exit.")
				os.Exit(130)
			case <-time.After(10 * time.Second):
				os.Exit(130)
			}
		case <-ctx.Done():
		}
	}()

	if len(os.Args) < 2 {
		printHelp()
		return
	}

	configPath := ConfigFile
	if p := os.Getenv("NDKPORTS_CONFIG"); p != "" {
		configPath = p
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := runCommand(ctx, cfg, os.Args[1], os.Args[2:]); err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}

type cliFlags struct {
	abis    string
	jobs    int
	abiJobs int
	timeout time.Duration
	verify  bool
	debug   bool
	yes     bool
}

func parseFlags(verb string, args []string) (*cliFlags, []string, error) {
	f := &cliFlags{}
	fs := flag.NewFlagSet(verb, flag.ContinueOnError)
	fs.StringVar(&f.abis, "abis", "", "comma separated ABI list")
	fs.IntVar(&f.jobs, "jobs", 0, "parallel jobs per build")
	fs.IntVar(&f.abiJobs, "abi-jobs", 0, "ABIs built concurrently")
	fs.DurationVar(&f.timeout, "timeout", 0, "limit for each external command")
	fs.BoolVar(&f.verify, "verify", false, "run on-device verification after building")
	fs.BoolVar(&f.debug, "debug", false, "verbose output")
	fs.BoolVar(&f.yes, "y", false, "assume yes on prompts")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return f, fs.Args(), nil
}

// apply folds command-line flags into a copy of s.
func (f *cliFlags) apply(s *Settings) (*Settings, error) {
	out := *s
	if f.abis != "" {
		out.Abis = nil
		for _, name := range strings.Split(f.abis, ",") {
			if name = strings.TrimSpace(name); name != "" {
				out.Abis = append(out.Abis, name)
			}
		}
		if _, err := ParseAbis(out.Abis); err != nil {
			return nil, err
		}
	}
	if f.jobs > 0 {
		out.Jobs = f.jobs
	}
	if f.abiJobs > 0 {
		out.AbiJobs = f.abiJobs
	}
	if f.timeout > 0 {
		out.BuildTimeout = f.timeout
	}
	if f.verify {
		out.Verify = true
	}
	if f.debug {
		Debug = true
	}
	return &out, nil
}

func runCommand(ctx context.Context, cfg *Config, verb string, args []string) error {
	switch verb {
	case "help", "-h", "--help":
		printHelp()
		return nil
	case "version", "--version":
		colSuccess.Printf("ndkports %s (built %s, %s)\n", version, buildDate, hostArch)
		return nil
	case "keys":
		dir, id := "/etc/ndkports/keys", "index"
		if len(args) > 0 {
			dir = args[0]
		}
		if len(args) > 1 {
			id = args[1]
		}
		pub, err := GenerateKeyPair(dir, id)
		if err != nil {
			return err
		}
		printStep("Wrote %s and %s\n", filepath.Join(dir, id+".key"), pub)
		return nil
	}

	flags, names, err := parseFlags(verb, args)
	if err != nil {
		return err
	}
	base, err := newSettings(cfg)
	if err != nil {
		return err
	}
	settings, err := flags.apply(base)
	if err != nil {
		return err
	}

	if verb == "log" {
		port := ""
		if len(names) > 0 {
			port = names[0]
		}
		if code := runLogViewer(settings.WorkDir, port); code != 0 {
			return fmt.Errorf("log viewer exited with code %d", code)
		}
		return nil
	}

	catalog, err := LoadCatalog(settings.CatalogPath)
	if err != nil {
		return err
	}
	ports, err := catalog.Apply(DefaultPorts())
	if err != nil {
		return err
	}

	runLog, err := openRunLog(settings.WorkDir, settings.LogFormat)
	if err != nil {
		return err
	}
	defer runLog.Close()
	runLog.WithFields(map[string]any{"verb": verb, "ports": names}).Info("command started")

	pipeline, err := NewPipeline(settings, ports, runLog.Entry)
	if err != nil {
		return err
	}

	eachPort := func(fn func(name string) error) error {
		if len(names) == 0 {
			return fmt.Errorf("%s: no port given (known: %s)", verb, strings.Join(pipeline.Ports.Names(), ", "))
		}
		for _, name := range names {
			if err := fn(name); err != nil {
				return err
			}
		}
		return nil
	}

	switch verb {
	case "list", "ls":
		for _, name := range pipeline.Ports.Names() {
			p, _ := pipeline.Ports.Get(name)
			deps := "-"
			if len(p.Dependencies) > 0 {
				deps = strings.Join(p.Dependencies, ",")
			}
			colSuccess.Printf("%-10s", p.Name)
			colNote.Printf(" %-8s", p.Version)
			fmt.Printf(" %-9s %s\n", p.Builder.Kind(), deps)
		}
		return nil

	case "exportProjectInfo":
		return exportProjectInfo(os.Stdout, pipeline.Ports)

	case "downloadSource":
		return eachPort(func(name string) error {
			_, err := pipeline.DownloadSource(ctx, name)
			return err
		})

	case "extractSrc":
		return eachPort(func(name string) error {
			_, err := pipeline.ExtractSrc(ctx, name)
			return err
		})

	case "buildPort":
		return eachPort(func(name string) error {
			return pipeline.BuildPort(ctx, name)
		})

	case "verify":
		return eachPort(func(name string) error {
			return pipeline.Verify(ctx, name)
		})

	case "prefabPackage":
		return eachPort(func(name string) error {
			_, err := pipeline.PrefabPackage(ctx, name)
			return err
		})

	case "publish":
		if len(names) == 0 {
			return eachPort(nil)
		}
		pub, err := pipeline.NewPublisher()
		if err != nil {
			return err
		}
		return eachPort(func(name string) error {
			_, err := pipeline.Publish(ctx, name, pub)
			return err
		})

	case "release":
		if len(names) == 0 {
			names = pipeline.Ports.Names()
		}
		if err := pipeline.Release(ctx, names); err != nil {
			return err
		}
		colSuccess.Printf("Released %s\n", strings.Join(names, ", "))
		return nil

	case "distZip":
		return eachPort(func(name string) error {
			_, err := pipeline.DistZip(name)
			return err
		})

	case "upload":
		r2, err := NewR2Client(ctx, cfg)
		if err != nil {
			return err
		}
		key, err := loadOptionalIndexKey(settings.IndexKey)
		if err != nil {
			return err
		}
		up := &Uploader{
			Store:    r2,
			RepoDir:  pipeline.repoDir(),
			Group:    settings.Group,
			IndexKey: key,
		}
		if !flags.yes {
			up.Confirm = func(format string, a ...any) bool {
				colArrow.Print("-> ")
				return askForConfirmation(colWarn, format, a...)
			}
		}
		_, err = up.Sync(ctx)
		return err
	}

	printHelp()
	return fmt.Errorf("unknown command %q", verb)
}

// reportError prints err and, for build failures, the tail of the failing
// command's output.
func reportError(w io.Writer, err error) {
	color.Fprintf(w, "<red>Error:</> %v\n", err)

	var bf *BuildFailure
	if errors.As(err, &bf) && bf.Output != "" {
		fmt.Fprintf(w, "--- last output of %s (%s) ---\n", bf.Stage, bf.Abi)
		fmt.Fprintln(w, lastLines(bf.Output, outputTailLines*4))
	}
	var cycle *DependencyCycleError
	if errors.As(err, &cycle) {
		fmt.Fprintln(w, "No build was started.")
	}
}
