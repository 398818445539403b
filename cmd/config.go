package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "callsage"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage callsage configuration.

Running bare 'callsage config' is the same as 'callsage config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate renders config.yaml from the current effective values.
const configTemplate = `# callsage configuration
# See: callsage config show (for effective values and sources)
# Every key can also be set as CALLSAGE_<KEY> (dots become underscores),
# including from a .env file in the working directory.

# State/data directory (default: ~/.config/callsage)
# state_dir: {{ get "state_dir" }}

# SQLite database path (default: ~/.config/callsage/callsage.db)
# db_path: {{ get "db_path" }}

# Model backend
llm:
  # "anthropic" or "gateway" (OpenAI-compatible, needed for audio input)
  provider: "{{ get "llm.provider" }}"
  max_tokens: {{ get "llm.max_tokens" }}
  # Sampling temperature for review generation
  temperature: {{ get "llm.temperature" }}

anthropic:
  # Falls back to $ANTHROPIC_API_KEY
  api_key: ""
  model: "{{ get "anthropic.model" }}"

gateway:
  # Chat completions endpoint, e.g. https://gateway.example.com/v1/chat/completions
  url: "{{ get "gateway.url" }}"
  api_key: ""
  model: "{{ get "gateway.model" }}"

# Bounded retry for transient model failures
retry:
  max_attempts: {{ get "retry.max_attempts" }}
  max_elapsed: "{{ duration "retry.max_elapsed" }}"

chat:
  temperature: {{ get "chat.temperature" }}

review:
  # Scoring matrix profile used when none is given
  default_profile: "{{ get "review.default_profile" }}"
  # Parallel generations for 'callsage review batch'
  concurrency: {{ get "review.concurrency" }}

# API server port for 'callsage serve'
port: {{ get "port" }}

log:
  # debug, info, warn, error
  level: "{{ get "log.level" }}"
  # text or json
  format: "{{ get "log.format" }}"
`

var configFuncs = template.FuncMap{
	"get":      viper.Get,
	"duration": func(key string) string { return viper.GetDuration(key).String() },
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func renderConfig() ([]byte, error) {
	tmpl, err := template.New("config.yaml").Funcs(configFuncs).Parse(configTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, nil); err != nil {
		return nil, fmt.Errorf("render config template: %w", err)
	}
	return buf.Bytes(), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	_, statErr := os.Stat(cfgPath)
	exists := statErr == nil
	if exists && !configForce {
		return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
	}

	content, err := renderConfig()
	if err != nil {
		return err
	}

	switch {
	case dryRun:
		ui.DryRunMsg("Would write %s", cfgPath)
	default:
		if exists {
			ui.Warning("Overwriting %s", cfgPath)
		}
		if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		if err := os.WriteFile(cfgPath, content, 0o600); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}
		ui.Success("Wrote %s", cfgPath)
	}
	fmt.Fprintf(ui.Out, "\n%s", content)
	return nil
}

// configKey is one setting listed by 'config show'. Secret values are masked.
type configKey struct {
	Key    string
	Secret bool
}

var configKeys = []configKey{
	{Key: "state_dir"},
	{Key: "db_path"},
	{Key: "llm.provider"},
	{Key: "llm.max_tokens"},
	{Key: "llm.temperature"},
	{Key: "anthropic.api_key", Secret: true},
	{Key: "anthropic.model"},
	{Key: "gateway.url"},
	{Key: "gateway.api_key", Secret: true},
	{Key: "gateway.model"},
	{Key: "retry.max_attempts"},
	{Key: "retry.max_elapsed"},
	{Key: "chat.temperature"},
	{Key: "chat.cache_size"},
	{Key: "review.default_profile"},
	{Key: "review.concurrency"},
	{Key: "port"},
	{Key: "log.level"},
	{Key: "log.format"},
}

// envVarFor mirrors the env binding set up in initConfig.
func envVarFor(key string) string {
	return "CALLSAGE_" + strings.ToUpper(envKeyReplacer.Replace(key))
}

// displayValue masks secrets, keeping the last four characters.
func displayValue(k configKey) string {
	val := fmt.Sprintf("%v", viper.Get(k.Key))
	switch {
	case !k.Secret || val == "":
		return val
	case len(val) <= 4:
		return "****"
	default:
		return "****" + val[len(val)-4:]
	}
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	inFile, err := configFileKeys(cfgPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		ui.Info("Config file: (none)")
	case err != nil:
		ui.Warning("Config file %s is unreadable: %v", cfgPath, err)
	default:
		ui.Info("Config file: %s", cfgPath)
	}

	table := ui.Table([]string{"Key", "Value", "Source"})
	for _, k := range configKeys {
		if err := table.Append([]string{k.Key, displayValue(k), keySource(k.Key, inFile)}); err != nil {
			return err
		}
	}
	return table.Render()
}

// configFileKeys returns the dotted keys set in the YAML file at path.
func configFileKeys(path string) (map[string]bool, error) {
	keys := make(map[string]bool)
	data, err := os.ReadFile(path)
	if err != nil {
		return keys, err
	}
	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return keys, err
	}
	flattenKeys("", parsed, keys)
	return keys, nil
}

// flattenKeys records leaf keys of m in dot notation.
func flattenKeys(prefix string, m map[string]any, keys map[string]bool) {
	for name, val := range m {
		if prefix != "" {
			name = prefix + "." + name
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(name, nested, keys)
			continue
		}
		keys[name] = true
	}
}

// keySource reports where the effective value of key comes from. The
// environment wins over the file, as in viper.
func keySource(key string, inFile map[string]bool) string {
	if env := envVarFor(key); os.Getenv(env) != "" {
		return "env " + env
	}
	if inFile[key] {
		return "file"
	}
	return "default"
}

func preferredEditor() string {
	for _, name := range []string{"EDITOR", "VISUAL"} {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

func configEditRun() error {
	editor := preferredEditor()
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfgPath); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config file not found: %s (run 'callsage config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	c := exec.Command(editor, cfgPath)
	c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
	return c.Run()
}
