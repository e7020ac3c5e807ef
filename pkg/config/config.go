// memo uses flags and a single optional config file for configuration.
// A config file is a google.protobuf.Struct, encoded either as JSON (.json) or as text protobuf (.txtpb), whose field
// names are flag names and whose values are the flag values. Only scalar values (bool, number, string) are allowed.
// Flags given on the command line win over the config file.

package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/types/known/structpb"
)

var configFilePath = flag.String("config_file", "", "Path to the configuration file (.json or .txtpb).")

// skippedConfigFlags can only be set on the command line.
var skippedConfigFlags = []string{"config_file", "print_version"}

// LoadFile reads and decodes the config file at `path`. The encoding is picked by the file extension.
func LoadFile(path string) (*structpb.Struct, error) {
	configBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	conf := new(structpb.Struct)
	switch ext := filepath.Ext(path); ext {
	case ".json":
		err = protojson.Unmarshal(configBytes, conf)
	case ".txtpb", ".textproto":
		err = prototext.Unmarshal(configBytes, conf)
	default:
		return nil, fmt.Errorf("unsupported config file extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return conf, nil
}

// protobufValueToString converts a config value to its string representation suitable for flag setting.
func protobufValueToString(value *structpb.Value) (string, error) {
	switch kind := value.GetKind().(type) {
	case *structpb.Value_BoolValue:
		return strconv.FormatBool(kind.BoolValue), nil
	case *structpb.Value_NumberValue:
		// 'f' keeps integers like 1e6 readable by integer flags.
		return strconv.FormatFloat(kind.NumberValue, 'f', -1, 64), nil
	case *structpb.Value_StringValue:
		return kind.StringValue, nil
	case *structpb.Value_ListValue, *structpb.Value_StructValue:
		return "", errors.New("lists and nested objects are not supported")
	default:
		return "", errors.New("null values are not supported")
	}
}

// setConfigFlags sets every flag named in `conf`, except those listed in `keep`, in sorted flag order.
func setConfigFlags(conf *structpb.Struct, keep map[ /*flagName*/ string]bool) error {
	fields := conf.GetFields()
	for _, flagName := range slices.Sorted(maps.Keys(fields)) {
		if slices.Contains(skippedConfigFlags, flagName) {
			return fmt.Errorf("flag '%s' can't be set from a config file", flagName)
		}
		if flag.Lookup(flagName) == nil {
			return fmt.Errorf("config sets unknown flag '%s'", flagName)
		}
		stringValue, err := protobufValueToString(fields[flagName])
		if err != nil {
			return fmt.Errorf("failed to convert flag '%s': %w", flagName, err)
		}
		if keep[flagName] {
			slog.Debug("Flag set on the command line overrides the config file.", "flag", flagName)
			continue
		}
		if err := flag.Set(flagName, stringValue); err != nil {
			return fmt.Errorf("failed to set flag %s: %w", flagName, err)
		}
	}
	return nil
}

// InitFlags parses the command line, then applies the config file given by --config_file, if any.
// It should be called after defining all flags and before using them.
func InitFlags() error {
	flag.Parse()

	if *configFilePath == "" {
		slog.Debug("Config file not specified. Skipping config initialization.")
		return nil
	}
	conf, err := LoadFile(*configFilePath)
	if err != nil {
		return err
	}
	commandLineFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { commandLineFlags[f.Name] = true })
	if err := setConfigFlags(conf, commandLineFlags); err != nil {
		return fmt.Errorf("failed to set flags from config file: %w", err)
	}
	slog.Info("Loaded config file.", "path", *configFilePath, "flags", len(conf.GetFields()))
	return nil
}
