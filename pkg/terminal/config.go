package terminal

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/structspider/spider/pkg/config"
	"github.com/structspider/spider/pkg/spider"
)

func configureCmd(t *Term, args string) error {
	switch args {
	case "-list", "":
		return configureList(t)
	case "-save":
		if err := config.SaveConfig(t.conf); err != nil {
			return err
		}
		path, _ := config.GetConfigFilePath("config.yml")
		fmt.Fprintf(t.stdout, "Configuration saved to %s.\n", path)
		return nil
	default:
		err := configureSet(t, args)
		if err != nil {
			return err
		}
		return t.applyConfig()
	}
}

// applyConfig recomputes the search parameters from the configuration.
// Parameters of a session holding results are left alone.
func (t *Term) applyConfig() error {
	if t.session.State() != spider.Empty {
		return nil
	}
	kind, err := t.conf.ScanKind()
	if err != nil {
		return err
	}
	if kind != t.session.Kind() {
		t.session = spider.NewSession(t.target, kind, t.conf.Workers)
	}
	t.params = paramsFromConfig(t.conf, kind)
	return nil
}

// configField is a configuration key, named after its yaml tag.
type configField struct {
	name  string
	value reflect.Value
}

// configFields lists the settable keys of conf. The alias table is
// changed through "config alias" and is not listed.
func configFields(conf *config.Config) []configField {
	v := reflect.ValueOf(conf).Elem()
	fields := make([]configField, 0, v.NumField())
	for i := 0; i < v.NumField(); i++ {
		name, _, _ := strings.Cut(v.Type().Field(i).Tag.Get("yaml"), ",")
		if name == "" || name == "aliases" {
			continue
		}
		fields = append(fields, configField{name, v.Field(i)})
	}
	return fields
}

func configureList(t *Term) error {
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)
	for _, f := range configFields(t.conf) {
		switch {
		case f.value.Kind() != reflect.Ptr:
			fmt.Fprintf(w, "%s\t%v\n", f.name, f.value)
		case f.value.IsNil():
			fmt.Fprintf(w, "%s\t<not defined>\n", f.name)
		default:
			fmt.Fprintf(w, "%s\t%v\n", f.name, f.value.Elem())
		}
	}
	return w.Flush()
}

// parseConfigValue converts text to a value of typ, one of the scalar
// types of config.Config.
func parseConfigValue(name string, typ reflect.Type, text string) (reflect.Value, error) {
	switch typ.Kind() {
	case reflect.Int:
		n, err := strconv.Atoi(text)
		if err != nil || n < 0 {
			return reflect.Value{}, fmt.Errorf("argument to %q must be a number greater than zero", name)
		}
		return reflect.ValueOf(n), nil
	case reflect.Uint64:
		n, err := strconv.ParseUint(text, 0, 64)
		if err != nil || n == 0 {
			return reflect.Value{}, fmt.Errorf("argument to %q must be a number greater than zero", name)
		}
		return reflect.ValueOf(n), nil
	case reflect.Bool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("argument to %q must be true or false", name)
		}
		return reflect.ValueOf(b), nil
	case reflect.String:
		return reflect.ValueOf(text), nil
	}
	return reflect.Value{}, fmt.Errorf("unsupported type for configuration key %q", name)
}

func configureSet(t *Term, args string) error {
	name, rest, _ := strings.Cut(strings.TrimSpace(args), " ")
	rest = strings.TrimSpace(rest)

	if name == "alias" {
		return configureSetAlias(t, rest)
	}

	for _, f := range configFields(t.conf) {
		if f.name != name {
			continue
		}
		typ := f.value.Type()
		if typ.Kind() == reflect.Ptr {
			typ = typ.Elem()
		}
		v, err := parseConfigValue(name, typ, rest)
		if err != nil {
			return err
		}
		if f.value.Kind() == reflect.Ptr {
			p := reflect.New(typ)
			p.Elem().Set(v)
			v = p
		}
		f.value.Set(v)
		return nil
	}
	return fmt.Errorf("%q is not a configuration parameter", name)
}

func configureSetAlias(t *Term, rest string) error {
	argv, err := splitArgs(rest)
	if err != nil {
		return err
	}
	switch len(argv) {
	case 1: // delete alias rule
		for k := range t.conf.Aliases {
			v := t.conf.Aliases[k]
			for i := range v {
				if v[i] == argv[0] {
					copy(v[i:], v[i+1:])
					t.conf.Aliases[k] = v[:len(v)-1]
					break
				}
			}
		}
	case 2: // add alias rule
		alias, cmd := argv[1], argv[0]
		if t.conf.Aliases == nil {
			t.conf.Aliases = make(map[string][]string)
		}
		t.conf.Aliases[cmd] = append(t.conf.Aliases[cmd], alias)
	default:
		return fmt.Errorf("wrong number of arguments to \"config alias\"")
	}
	t.cmds.Merge(t.conf.Aliases)
	return nil
}
