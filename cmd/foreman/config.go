package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/config"
)

const apiKeySetting = "anthropic.api_key"

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify foreman configuration.

Without arguments, displays the merged configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the value in the user config.

Configuration is stored at ~/.config/foreman/config.yaml
Project-specific overrides can be placed in .foreman.yaml`,
	Args: cobra.MaximumNArgs(2),
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	if len(args) == 2 {
		return setConfigKey(cmd, args[0], args[1])
	}

	settings, err := config.Settings(configPath)
	if err != nil {
		return err
	}
	flat := flattenSettings(settings)
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		key := strings.ToLower(args[0])
		value, ok := flat[key]
		if !ok {
			return fmt.Errorf("unknown configuration key: %s", args[0])
		}
		fmt.Fprintln(out, displayValue(key, value))
		return nil
	}

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "%s: %s\n", k, displayValue(k, flat[k]))
	}
	return nil
}

// setConfigKey saves a known key, then reloads the user config so an
// invalid value is reported straight away.
func setConfigKey(cmd *cobra.Command, key, raw string) error {
	key = strings.ToLower(key)
	settings, err := config.Settings("")
	if err != nil {
		return err
	}
	if _, ok := flattenSettings(settings)[key]; !ok && !strings.HasPrefix(key, "supervisor.env.") {
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	if err := config.Save(key, parseValue(raw)); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	if _, err := config.LoadFromPath(config.GetUserConfigPath()); err != nil {
		return fmt.Errorf("saved %s but the config no longer loads: %w", key, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, displayValue(key, raw))
	return nil
}

// flattenSettings turns nested settings into dot-notation keys. Maps with
// no entries are kept as a single key.
func flattenSettings(settings map[string]any) map[string]any {
	flat := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
				walk(key, nested)
				continue
			}
			flat[key] = v
		}
	}
	walk("", settings)
	return flat
}

// parseValue keeps YAML types for numbers and booleans. Durations and
// everything else stay strings.
func parseValue(raw string) any {
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}

func displayValue(key string, value any) string {
	if key == apiKeySetting {
		s, _ := value.(string)
		if s == "" {
			return "(not set)"
		}
		return config.MaskAPIKey(s)
	}
	switch v := value.(type) {
	case []any:
		parts := make([]string, len(v))
		for i, p := range v {
			parts[i] = fmt.Sprint(p)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []string:
		return "[" + strings.Join(v, ", ") + "]"
	case map[string]any:
		return "{}"
	case map[string]string:
		return "{}"
	default:
		return fmt.Sprint(v)
	}
}
