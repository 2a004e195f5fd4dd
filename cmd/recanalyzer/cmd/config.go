package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing recanalyzer configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration values in YAML format.

This shows every configuration option after merging defaults, the config
file, and environment variables. Redirect the output to a file to create
a configuration template:

  recanalyzer config dump > config.yaml

Environment variables use the RECANALYZER_ prefix and underscores for
nesting. Example: server.port -> RECANALYZER_SERVER_PORT.

The legacy names JSON_DB_STORAGE, TASK_OUTPUT_PATH, ITS_API_KEY, and
LISTEN_PORT are still honoured.`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a config struct to a map keyed by mapstructure tags, with
// durations formatted for human readability.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		key := typ.Field(i).Tag.Get("mapstructure")
		if key == "" {
			key = typ.Field(i).Name
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = fv.String()
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
	dumped := *cfg
	if dumped.ITS.APIKey != "" {
		dumped.ITS.APIKey = "[REDACTED]"
	}

	yamlData, err := yaml.Marshal(toMap(&dumped))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# recanalyzer configuration file")
	fmt.Println("# ==============================")
	fmt.Println("#")
	fmt.Println("# All values shown below reflect the current effective configuration.")
	fmt.Println("# Duration format: 30s, 5m, 1h")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}
