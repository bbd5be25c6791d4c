package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"dowser/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing dowserd configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration values in YAML format.

This shows every configuration option after applying the config file and
environment variables on top of the defaults. Redirect the output to a
file to create a configuration template:

  dowserd config dump > config.yaml

Configuration can be set via:
  - Config file (./config.yaml, /etc/dowser/config.yaml, $HOME/.dowser/config.yaml)
  - Environment variables (DOWSER_SERVER_PORT, DOWSER_RELAY_PUBLIC_URL, etc.)
  - Command-line flags (for some options)

Environment variables use the DOWSER_ prefix and underscores for nesting.
Example: server.port -> DOWSER_SERVER_PORT`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a config struct to a map keyed by mapstructure tags,
// formatting durations and byte sizes for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch v := field.Interface().(type) {
		case time.Duration:
			result[key] = v.String()
		case config.ByteSize:
			result[key] = v.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	// The global viper already carries defaults, config file, and env vars.
	var cfg config.Config
	if err := viper.Unmarshal(&cfg, config.DecodeHook()); err != nil {
		return fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	yamlData, err := yaml.Marshal(toMap(&cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# dowserd Configuration File")
	fmt.Println("# ==========================")
	fmt.Println("#")
	fmt.Println("# Values reflect the current effective configuration.")
	fmt.Println("# Duration format: 30s, 5m, 1h")
	fmt.Println("# Size format: 256KB, 2MB, 1GB")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides:")
	fmt.Println("#   DOWSER_SERVER_HOST, DOWSER_SERVER_PORT")
	fmt.Println("#   DOWSER_RELAY_PUBLIC_URL, DOWSER_RELAY_TIMEOUT")
	fmt.Println("#   DOWSER_LOGGING_LEVEL, DOWSER_LOGGING_FORMAT")
	fmt.Println("#   etc.")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}
