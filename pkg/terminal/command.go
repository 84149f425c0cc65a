// Package terminal implements functions for responding to user
// input and dispatching to the spider session.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"

	"github.com/structspider/spider/pkg/logflags"
	"github.com/structspider/spider/pkg/procmem"
	"github.com/structspider/spider/pkg/spider"
	"github.com/structspider/spider/pkg/value"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the spider terminal.
type Commands struct {
	cmds []command
}

// SpiderCommands returns a Commands struct with default commands defined.
func SpiderCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"first", "f"}, group: searchCmds, cmdFn: first, helpMsg: `Starts a first search.

	first <base> <value>

Probes the structure at the hexadecimal address base for value, following
every pointer found on the way down to max-levels levels. The search runs in
the background, use "status" or "wait" to collect its results.

See also: "help set"`},
		{aliases: []string{"next", "n"}, group: searchCmds, cmdFn: next, helpMsg: `Narrows down the results of the previous search.

	next <filter> <base> [value]

Every result is replayed from the hexadecimal address base and kept if its
current value satisfies filter. Filters are:

	>, >=, <, <=, ==, !=	compare with value
	changed, unchanged	compare with the value seen by the previous search`},
		{aliases: []string{"wait", "w"}, group: searchCmds, cmdFn: wait, helpMsg: `Waits for the running search to finish.

Interrupting the wait leaves the search running.`},
		{aliases: []string{"status", "st"}, group: searchCmds, cmdFn: status, helpMsg: "Prints the progress of the running search."},
		{aliases: []string{"set"}, group: searchCmds, cmdFn: setParam, helpMsg: `Changes a search parameter.

	set [<parameter> <value>]

Parameters are:

	max-levels	number of pointer levels followed below the base
			structure, 0 only probes the base structure
	struct-size	number of bytes probed in every structure
	alignment	distance between probed offsets
	kind		type of the values searched (i8 ... u64, f32, f64),
			also sets alignment to the size of the type

Parameters can only be changed while there are no results. Without arguments
the current parameters are printed.`},
		{aliases: []string{"results", "r"}, group: resultCmds, cmdFn: results, helpMsg: `Prints the results.

	results [count]

Prints count results, or results-limit of them when count is omitted. Values
that changed since the previous search are highlighted.`},
		{aliases: []string{"hex"}, group: resultCmds, cmdFn: toggleHex, helpMsg: "Toggles hexadecimal display of integer values."},
		{aliases: []string{"clear", "c"}, group: resultCmds, cmdFn: clearResults, helpMsg: "Drops the results."},
		{aliases: []string{"regions"}, group: targetCmds, cmdFn: regions, helpMsg: "Lists the readable memory regions of the target."},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the spider.`},
	}

	return c
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	if logflags.Terminal() && cmdname != "" {
		t.log.WithField("args", args).Debugf("command %s", cmdname)
	}
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

var noCmdError = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return noCmdError
}

func nullCommand(t *Term, args string) error {
	return nil
}

// ExitRequestError is returned when the user
// exits the spider.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return noCmdError
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// splitArgs splits args the way a shell would.
func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal command line '%s'", args)
	}
	return v[0], nil
}

func first(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) != 2 {
		return fmt.Errorf("wrong number of arguments to \"first\", expected <base> <value>")
	}
	base, err := procmem.ParseAddress(v[0])
	if err != nil {
		return err
	}
	if err := t.session.First(t.params, base, v[1]); err != nil {
		return err
	}
	t.base = base
	fmt.Fprintf(t.stdout, "Searching %s %s from %#x, %d levels of %#x bytes every %d bytes.\n",
		t.session.Kind().Label(), v[1], base, t.params.MaxDepth, t.params.StructSize, t.params.Alignment)
	return nil
}

func next(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) < 2 || len(v) > 3 {
		return fmt.Errorf("wrong number of arguments to \"next\", expected <filter> <base> [value]")
	}
	mode, err := spider.ParseFilterMode(v[0])
	if err != nil {
		return err
	}
	base, err := procmem.ParseAddress(v[1])
	if err != nil {
		return err
	}
	var text string
	if len(v) == 3 {
		text = v[2]
	} else if mode.NeedsValue() {
		return fmt.Errorf("filter %q needs a value", mode)
	}

	r, err := t.session.Next(mode, base, text)
	if err != nil {
		return err
	}
	t.base = base
	fmt.Fprintf(t.stdout, "%s: kept %d of %d results in %v.\n", r.Mode, r.After, r.Before, r.Elapsed)
	return nil
}

func wait(t *Term, args string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	p, err := t.session.Wait(ctx)
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(t.stdout, "Interrupted, the search keeps running.")
		err = nil
	}
	printProgress(t, p)
	return err
}

func status(t *Term, args string) error {
	printProgress(t, t.session.Poll())
	return nil
}

func printProgress(t *Term, p spider.Progress) {
	switch {
	case p.State == spider.Scanning:
		fmt.Fprintf(t.stdout, "Searching: %d structures, %d probes, %d failed reads.\n",
			p.Stats.Structures, p.Stats.Probes, p.Stats.FailedReads)
	case p.Finished:
		fmt.Fprintf(t.stdout, "Search finished in %v: %d results (%d structures, %d probes, %d failed reads).\n",
			p.Elapsed, p.Results, p.Stats.Structures, p.Stats.Probes, p.Stats.FailedReads)
	case p.State == spider.Empty:
		fmt.Fprintln(t.stdout, "No results.")
	default:
		fmt.Fprintf(t.stdout, "%d results.\n", p.Results)
	}
}

func setParam(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) == 0 {
		printParams(t)
		return nil
	}
	if len(v) != 2 {
		return fmt.Errorf("wrong number of arguments to \"set\", expected <parameter> <value>")
	}
	if t.session.State() != spider.Empty {
		return fmt.Errorf("parameters can only be changed while there are no results, use \"clear\" first")
	}

	switch v[0] {
	case "max-levels", "levels", "depth":
		n, err := strconv.Atoi(v[1])
		if err != nil || n < 0 {
			return fmt.Errorf("invalid level count %q", v[1])
		}
		t.params.MaxDepth = n
	case "struct-size", "size":
		n, err := strconv.ParseUint(v[1], 0, 64)
		if err != nil || n == 0 {
			return fmt.Errorf("invalid structure size %q", v[1])
		}
		t.params.StructSize = n
	case "alignment", "align":
		n, err := strconv.ParseUint(v[1], 0, 64)
		if err != nil || n == 0 {
			return fmt.Errorf("invalid alignment %q", v[1])
		}
		t.params.Alignment = n
	case "kind", "type":
		k, err := value.ParseKind(v[1])
		if err != nil {
			return err
		}
		t.session = spider.NewSession(t.target, k, t.conf.Workers)
		t.params.Alignment = uint64(k.Size())
	default:
		return fmt.Errorf("%q is not a search parameter", v[0])
	}
	printParams(t)
	return nil
}

func printParams(t *Term) {
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)
	fmt.Fprintf(w, "kind\t%s (%s)\n", t.session.Kind(), t.session.Kind().Label())
	fmt.Fprintf(w, "max-levels\t%d\n", t.params.MaxDepth)
	fmt.Fprintf(w, "struct-size\t%#x\n", t.params.StructSize)
	fmt.Fprintf(w, "alignment\t%d\n", t.params.Alignment)
	w.Flush()
}

func (t *Term) formatMode() value.FormatMode {
	if t.conf.ShowHex {
		return value.Hex
	}
	return value.Normal
}

func results(t *Term, args string) error {
	limit := t.conf.ResultsLimit
	if args != "" {
		n, err := strconv.Atoi(args)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid count %q", args)
		}
		limit = n
	}

	rows := t.session.Rows()
	if len(rows) == 0 {
		if t.session.State() == spider.Scanning {
			return spider.ErrScanInProgress
		}
		return spider.ErrNoResults
	}
	total := len(rows)
	if limit > 0 && limit < total {
		rows = rows[:limit]
	}

	levels := 0
	for _, row := range rows {
		if row.Path.Len() > levels {
			levels = row.Path.Len()
		}
	}
	levels++

	mode := t.formatMode()
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 2, ' ', 0)
	fmt.Fprint(w, "#")
	for i := 0; i < levels; i++ {
		fmt.Fprintf(w, "\tLevel %d", i+1)
	}
	fmt.Fprint(w, "\tPrevious\tCurrent\n")
	for i, row := range rows {
		fmt.Fprintf(w, "%d", i)
		for l := 0; l < levels; l++ {
			switch {
			case l < row.Path.Len():
				fmt.Fprintf(w, "\t%#x", row.Path.At(l))
			case l == row.Path.Len():
				fmt.Fprintf(w, "\t%#x", row.Offset)
			default:
				fmt.Fprint(w, "\t")
			}
		}
		cur := t.session.Current(i, t.base)
		curstr := cur.Format(mode)
		if cur != row.Last {
			curstr = t.colorize(curstr)
		}
		fmt.Fprintf(w, "\t%s\t%s\n", row.Last.Format(mode), curstr)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if len(rows) < total {
		fmt.Fprintf(t.stdout, "(showing %d of %d results)\n", len(rows), total)
	}
	return nil
}

func toggleHex(t *Term, args string) error {
	t.conf.ShowHex = !t.conf.ShowHex
	if t.conf.ShowHex {
		fmt.Fprintln(t.stdout, "Hexadecimal display on.")
	} else {
		fmt.Fprintln(t.stdout, "Hexadecimal display off.")
	}
	return nil
}

func clearResults(t *Term, args string) error {
	if err := t.session.Clear(); err != nil {
		return err
	}
	fmt.Fprintln(t.stdout, "Results cleared.")
	return nil
}

func regions(t *Term, args string) error {
	if r, ok := t.target.(interface{ Refresh() error }); ok {
		if err := r.Refresh(); err != nil {
			return err
		}
	}
	for _, r := range t.target.Regions() {
		if r.Read {
			fmt.Fprintln(t.stdout, r)
		}
	}
	return nil
}
