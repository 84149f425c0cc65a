package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/derekparker/trie"
	"github.com/go-delve/liner"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/structspider/spider/pkg/config"
	"github.com/structspider/spider/pkg/logflags"
	"github.com/structspider/spider/pkg/procmem"
	"github.com/structspider/spider/pkg/spider"
	"github.com/structspider/spider/pkg/value"
)

const (
	historyFile                 string = ".spider_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiBlack    = 30
	ansiYellow   = 33
	ansiWhite    = 37
	ansiBrBlack  = 90
	ansiBrWhite  = 97
	defaultColor = ansiYellow
)

// Target is the memory of the process being searched.
type Target interface {
	procmem.Memory
	Regions() []procmem.Region
}

// Term represents the terminal running the spider.
type Term struct {
	target Target
	conf   *config.Config
	prompt string
	line   *liner.State
	cmds   *Commands
	dumb   bool
	stdout io.Writer
	log    logflags.Logger

	session *spider.Session
	params  spider.Params
	// base is the address used by the last search, results are replayed
	// from it.
	base uint64
}

// New returns a new Term searching target.
func New(target Target, conf *config.Config) (*Term, error) {
	if conf == nil {
		conf = &config.Config{}
	}
	cmds := SpiderCommands()
	if conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	kind, err := conf.ScanKind()
	if err != nil {
		return nil, err
	}

	var w io.Writer
	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb" || !isatty.IsTerminal(os.Stdout.Fd())
	if dumb {
		w = os.Stdout
	} else {
		w = colorable.NewColorableStdout()
	}

	if (conf.ChangedColor > ansiWhite && conf.ChangedColor < ansiBrBlack) ||
		conf.ChangedColor < ansiBlack ||
		conf.ChangedColor > ansiBrWhite {
		conf.ChangedColor = defaultColor
	}

	t := &Term{
		target: target,
		conf:   conf,
		prompt: "(spider) ",
		cmds:   cmds,
		dumb:   dumb,
		stdout: w,
		log:    logflags.TerminalLogger(),
	}
	t.params = paramsFromConfig(conf, kind)
	t.session = spider.NewSession(target, kind, conf.Workers)
	return t, nil
}

// paramsFromConfig returns the scan parameters of conf, using the
// defaults of kind for the unset ones.
func paramsFromConfig(conf *config.Config, kind value.Kind) spider.Params {
	p := spider.DefaultParams(kind)
	if conf.MaxLevels != nil {
		p.MaxDepth = *conf.MaxLevels
	}
	if conf.StructSize != nil {
		p.StructSize = *conf.StructSize
	}
	if conf.Alignment != nil {
		p.Alignment = *conf.Alignment
	}
	return p
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
}

// Run begins running the spider in the terminal.
func (t *Term) Run() (int, error) {
	t.line = liner.NewLiner()
	defer t.Close()

	completions := trie.New()
	for _, cmd := range t.cmds.cmds {
		for _, alias := range cmd.aliases {
			completions.Add(alias, nil)
		}
	}
	t.line.SetCompleter(func(line string) []string {
		return completions.PrefixSearch(strings.ToLower(line))
	})

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}
	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("Prompt for input failed.\n")
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			t.reportError(err)
		}
	}
}

// reportError prints the failure of a command.
func (t *Term) reportError(err error) {
	var perr *value.ParseError
	var aerr *procmem.AddressError
	switch {
	case errors.As(err, &perr):
		fmt.Fprintf(os.Stderr, "Invalid %s value %q: %v\n", perr.Kind.Label(), perr.Text, perr.Err)
	case errors.As(err, &aerr):
		fmt.Fprintf(os.Stderr, "Invalid address %q\n", aerr.Text)
	case errors.Is(err, spider.ErrScanInProgress):
		fmt.Fprintln(os.Stderr, "A search is running, use 'wait' or 'status'.")
	default:
		fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
	}
	if logflags.Terminal() {
		t.log.WithError(err).Debug("command failed")
	}
}

// colorize highlights str unless the terminal is dumb.
func (t *Term) colorize(str string) string {
	if t.dumb {
		return str
	}
	return fmt.Sprintf(terminalHighlightEscapeCode, t.conf.ChangedColor) + str + terminalResetEscapeCode
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_TRUNC, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}

	if t.session.State() == spider.Scanning {
		fmt.Fprintln(t.stdout, "Abandoning the running search.")
	}
	return 0, nil
}

// Exec runs a single command as if it had been typed at the prompt.
func (t *Term) Exec(cmdstr string) error {
	return t.cmds.Call(cmdstr, t)
}
