package cmds

import (
	"testing"

	"github.com/spf13/pflag"

	"github.com/structspider/spider/pkg/config"
)

func searchFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addSearchFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}
	return fs
}

func TestApplySearchFlags(t *testing.T) {
	align := uint64(2)
	conf := &config.Config{Kind: "i16", Alignment: &align, Workers: 3}

	fs := searchFlags(t, "--kind", "u64", "--depth", "3", "--size", "0x80", "--hex")
	if err := applySearchFlags(fs, conf); err != nil {
		t.Fatal(err)
	}
	if conf.Kind != "u64" {
		t.Errorf("kind %q", conf.Kind)
	}
	if conf.Alignment != nil {
		t.Errorf("alignment should follow the new kind, got %d", *conf.Alignment)
	}
	if conf.MaxLevels == nil || *conf.MaxLevels != 3 {
		t.Errorf("depth %v", conf.MaxLevels)
	}
	if conf.StructSize == nil || *conf.StructSize != 0x80 {
		t.Errorf("size %v", conf.StructSize)
	}
	if !conf.ShowHex {
		t.Error("hex not set")
	}
	if conf.Workers != 3 {
		t.Errorf("workers changed without flag: %d", conf.Workers)
	}
}

func TestApplySearchFlagsKindAndAlign(t *testing.T) {
	conf := &config.Config{}
	fs := searchFlags(t, "--kind", "f32", "--align", "1", "--workers", "8")
	if err := applySearchFlags(fs, conf); err != nil {
		t.Fatal(err)
	}
	if conf.Alignment == nil || *conf.Alignment != 1 {
		t.Errorf("alignment %v", conf.Alignment)
	}
	if conf.Workers != 8 {
		t.Errorf("workers %d", conf.Workers)
	}
}

func TestApplySearchFlagsErrors(t *testing.T) {
	for _, args := range [][]string{
		{"--kind", "i128"},
		{"--depth", "-1"},
		{"--size", "0"},
		{"--align", "eight"},
	} {
		if err := applySearchFlags(searchFlags(t, args...), &config.Config{}); err == nil {
			t.Errorf("%v: expected an error", args)
		}
	}
}

func TestCommandTree(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", "")

	root := New()
	for _, name := range []string{"attach", "scan", "version", "log"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not found: %v", name, err)
		}
	}
	for _, name := range []string{"log", "log-output", "log-dest", "kind", "depth", "size", "align"} {
		if root.PersistentFlags().Lookup(name) == nil {
			t.Errorf("flag --%s not registered", name)
		}
	}
	scan, _, _ := root.Find([]string{"scan"})
	for _, name := range []string{"pid", "base", "value", "timeout"} {
		if scan.Flags().Lookup(name) == nil {
			t.Errorf("scan flag --%s not registered", name)
		}
	}
}
