package terminal

import (
	"testing"

	"github.com/structspider/spider/pkg/config"
	"github.com/structspider/spider/pkg/spider"
	"github.com/structspider/spider/pkg/value"
)

func TestParamsFromConfig(t *testing.T) {
	levels := 5
	align := uint64(2)
	tests := []struct {
		name string
		conf *config.Config
		kind value.Kind
		want spider.Params
	}{
		{"defaults", &config.Config{}, value.I32, spider.Params{MaxDepth: 1, StructSize: 256, Alignment: 4}},
		{"kind alignment", &config.Config{}, value.I64, spider.Params{MaxDepth: 1, StructSize: 256, Alignment: 8}},
		{"overrides", &config.Config{MaxLevels: &levels, Alignment: &align}, value.F64, spider.Params{MaxDepth: 5, StructSize: 256, Alignment: 2}},
	}
	for _, test := range tests {
		if got := paramsFromConfig(test.conf, test.kind); got != test.want {
			t.Errorf("%s: got %#v, want %#v", test.name, got, test.want)
		}
	}
}

func TestColorize(t *testing.T) {
	term := &Term{conf: &config.Config{ChangedColor: 31}}
	if got := term.colorize("7"); got != "\033[31m7\033[0m" {
		t.Fatalf("colorize() = %q", got)
	}
	term.dumb = true
	if got := term.colorize("7"); got != "7" {
		t.Fatalf("dumb colorize() = %q", got)
	}
}
