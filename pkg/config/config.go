package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/structspider/spider/pkg/value"
)

const (
	configDir  string = ".spider"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// MaxLevels is the number of pointer levels followed by a first search.
	MaxLevels *int `yaml:"max-levels,omitempty"`
	// StructSize is the number of bytes probed in every structure.
	StructSize *uint64 `yaml:"struct-size,omitempty"`
	// Alignment is the distance between probed offsets. When unset it is
	// the size of Kind.
	Alignment *uint64 `yaml:"alignment,omitempty"`
	// Kind is the type of the values searched, i32 when unset.
	Kind string `yaml:"kind,omitempty"`

	// Workers is the number of goroutines used by a search, GOMAXPROCS
	// when zero.
	Workers int `yaml:"workers,omitempty"`
	// PageCache is the number of pages whose readability is remembered
	// while scanning a live process.
	PageCache int `yaml:"page-cache,omitempty"`

	// ShowHex prints integer values in hexadecimal.
	ShowHex bool `yaml:"show-hex"`
	// ResultsLimit is the number of rows printed by the results command
	// when no count is given. Zero prints every row.
	ResultsLimit int `yaml:"results-limit,omitempty"`
	// Color of the values that changed since the previous search (3/4 bit
	// color codes as defined here: https://en.wikipedia.org/wiki/ANSI_escape_code#Colors)
	ChangedColor int `yaml:"changed-color,omitempty"`
}

// ScanKind returns the configured kind, defaulting to i32.
func (c *Config) ScanKind() (value.Kind, error) {
	if c.Kind == "" {
		return value.I32, nil
	}
	return value.ParseKind(c.Kind)
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not create config directory: %v.\n", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to get config file path: %v.\n", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating default config file: %v\n", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Closing config file failed: %v.\n", err)
		}
	}()

	data, err := io.ReadAll(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to read config data: %v.\n", err)
		return &Config{}
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to decode config file: %v.\n", err)
		return &Config{}
	}

	return &c
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	if err := createConfigPath(); err != nil {
		return err
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f io.Writer) error {
	_, err := io.WriteString(f,
		`# Configuration file for the structure spider.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Type of the values searched: i8, i16, i32, i64, u8, u16, u32, u64, f32 or f64.
# kind: i32

# Number of pointer levels followed by a first search.
# max-levels: 1

# Number of bytes probed in every structure.
# struct-size: 256

# Distance between probed offsets, the size of kind when unset.
# alignment: 4

# Number of goroutines used by a search, one per CPU when unset.
# workers: 8

# Number of memory pages whose readability is cached while scanning.
# page-cache: 4096

# Uncomment the following line to print integer values in hexadecimal.
# show-hex: true

# Number of rows printed by the results command, all of them when unset.
# results-limit: 50

# ANSI foreground color of values that changed since the previous search
# (if unset, default is 33, yellow).
# changed-color: 33

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		userHomeDir = "."
	}
	return filepath.Join(userHomeDir, configDir, file), nil
}
