package cmds

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/process"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/structspider/spider/pkg/config"
	"github.com/structspider/spider/pkg/logflags"
	"github.com/structspider/spider/pkg/procmem"
	"github.com/structspider/spider/pkg/terminal"
	"github.com/structspider/spider/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string

	// scanPid is the process searched by the scan command.
	scanPid int
	// scanBase is the address of the root structure of the scan command.
	scanBase string
	// scanValue is the value searched by the scan command.
	scanValue string
	// scanTimeout bounds the time the scan command waits for the search.
	scanTimeout time.Duration

	// verbose makes the version command print the build information.
	verbose bool

	conf *config.Config
)

const spiderCommandLongDesc = `The structure spider searches the memory of a running process
for chains of pointers that lead to a value.

A first search probes the structure at a base address, follows every pointer it
finds there down to a number of levels and records every slot holding the
value. Next searches replay the chains found and keep the ones whose value
still satisfies a condition, until only the interesting ones are left.`

const logHelp = `Logging options.

Logging is enabled with --log, --log-output selects the components that
produce debug output:

	spider		first and next searches
	procmem		access to the memory of the target process
	terminal	commands typed in the terminal

--log-dest writes the log to the given file, or to the given file
descriptor when it is a number.`

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	rootCommand := &cobra.Command{
		Use:   "spider",
		Short: "Searches process memory for pointer chains leading to a value.",
		Long:  spiderCommandLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'spider help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'spider help log').")
	addSearchFlags(rootCommand.PersistentFlags())

	// 'attach' subcommand.
	attachCommand := &cobra.Command{
		Use:   "attach pid",
		Short: "Attach to a running process and start an interactive session.",
		Long: `Attach to an already running process and start an interactive session.

The memory of the process is only read, searches never stop or modify it.`,
		Args: cobra.ExactArgs(1),
		Run:  attachCmd,
	}
	rootCommand.AddCommand(attachCommand)

	// 'scan' subcommand.
	scanCommand := &cobra.Command{
		Use:   "scan",
		Short: "Run a single first search and print its results.",
		Long: `Run a single first search on a running process and print its results.

	spider scan --pid 1234 --base 7ffd4e1c9000 --value 100 --kind i32 --depth 2`,
		Args: cobra.NoArgs,
		Run:  scanCmd,
	}
	scanCommand.Flags().IntVar(&scanPid, "pid", 0, "Process to search.")
	scanCommand.Flags().StringVar(&scanBase, "base", "", "Hexadecimal address of the root structure.")
	scanCommand.Flags().StringVar(&scanValue, "value", "", "Value to search for.")
	scanCommand.Flags().DurationVar(&scanTimeout, "timeout", 0, "Give up waiting for the search after this long (0 waits forever).")
	scanCommand.MarkFlagRequired("pid")
	scanCommand.MarkFlagRequired("base")
	scanCommand.MarkFlagRequired("value")
	rootCommand.AddCommand(scanCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Structure spider\n%s\n", version.SpiderVersion)
			if verbose {
				fmt.Printf("%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long:  logHelp,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

// addSearchFlags registers the flags that override the search parameters
// of the configuration file.
func addSearchFlags(fs *pflag.FlagSet) {
	fs.String("kind", "", "Type of the values searched: i8, i16, i32, i64, u8, u16, u32, u64, f32 or f64.")
	fs.Int("depth", 0, "Number of pointer levels followed.")
	fs.String("size", "", "Number of bytes probed in every structure.")
	fs.String("align", "", "Distance between probed offsets.")
	fs.Int("workers", 0, "Number of goroutines used by a search.")
	fs.Int("page-cache", 0, "Number of memory pages whose readability is cached.")
	fs.Bool("hex", false, "Print integer values in hexadecimal.")
}

// applySearchFlags copies the search flags set on the command line into
// conf.
func applySearchFlags(fs *pflag.FlagSet, conf *config.Config) error {
	if fs.Changed("kind") {
		conf.Kind, _ = fs.GetString("kind")
		if _, err := conf.ScanKind(); err != nil {
			return err
		}
		if !fs.Changed("align") {
			conf.Alignment = nil
		}
	}
	if fs.Changed("depth") {
		n, _ := fs.GetInt("depth")
		if n < 0 {
			return fmt.Errorf("invalid depth %d", n)
		}
		conf.MaxLevels = &n
	}
	for _, f := range []struct {
		name string
		dst  **uint64
	}{{"size", &conf.StructSize}, {"align", &conf.Alignment}} {
		if !fs.Changed(f.name) {
			continue
		}
		s, _ := fs.GetString(f.name)
		n, err := strconv.ParseUint(s, 0, 64)
		if err != nil || n == 0 {
			return fmt.Errorf("invalid --%s %q", f.name, s)
		}
		*f.dst = &n
	}
	if fs.Changed("workers") {
		conf.Workers, _ = fs.GetInt("workers")
	}
	if fs.Changed("page-cache") {
		conf.PageCache, _ = fs.GetInt("page-cache")
	}
	if fs.Changed("hex") {
		conf.ShowHex, _ = fs.GetBool("hex")
	}
	return nil
}

// openTarget opens the memory of pid and prints a banner naming it.
func openTarget(pid int) (*procmem.Process, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("could not find process %d: %v", pid, err)
	}
	name, err := p.Name()
	if err != nil {
		name = "?"
	}
	mem, err := procmem.Open(pid, conf.PageCache)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%v (reading another process needs ptrace permission, see /proc/sys/kernel/yama/ptrace_scope)", err)
		}
		return nil, err
	}
	fmt.Printf("Attached to %d (%s), %d readable regions.\n", pid, name, len(mem.Regions()))
	return mem, nil
}

func attachCmd(cmd *cobra.Command, args []string) {
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid pid: %s\n", args[0])
		os.Exit(1)
	}
	os.Exit(execute(cmd, pid, nil))
}

func scanCmd(cmd *cobra.Command, args []string) {
	script := []string{
		fmt.Sprintf("first %s %s", scanBase, scanValue),
		"wait",
		"results",
	}
	os.Exit(execute(cmd, scanPid, script))
}

// execute opens pid and either runs script or, when script is empty, the
// interactive terminal.
func execute(cmd *cobra.Command, pid int, script []string) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	if err := applySearchFlags(cmd.Flags(), conf); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	mem, err := openTarget(pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	term, err := terminal.New(mem, conf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	if len(script) == 0 {
		status, err := term.Run()
		if err != nil {
			fmt.Println(err)
		}
		return status
	}

	if scanTimeout > 0 {
		timer := time.AfterFunc(scanTimeout, func() {
			fmt.Fprintf(os.Stderr, "Search did not finish in %v.\n", scanTimeout)
			os.Exit(2)
		})
		defer timer.Stop()
	}
	for _, cmdstr := range script {
		if err := term.Exec(cmdstr); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", cmdstr, err)
			return 1
		}
	}
	return 0
}
