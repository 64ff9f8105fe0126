package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/freegpt4/webapi/internal/config"
	"github.com/freegpt4/webapi/internal/logging"
	"github.com/freegpt4/webapi/internal/settings"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "freegpt",
		Short: "Web API and settings GUI in front of free AI chat providers",
		Long: `freegpt answers questions over HTTP by forwarding them to free AI chat
providers. Flags given on the command line override the settings saved
from the admin page; features switched on by a flag cannot be switched off
from the GUI.

Examples:
  freegpt --enable-gui --password 's3cret-pass'
  freegpt --provider DeepInfra --model meta-llama/Meta-Llama-3-70B-Instruct
  freegpt --private-mode --enable-fast-api`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags, err := flagsFrom(cmd)
			if err != nil {
				return err
			}
			password, _ := cmd.Flags().GetString("password")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, flags, password)
		},
	}

	f := cmd.Flags()
	f.String("port", "", "port of the main server")
	f.String("model", "", "model sent to the provider")
	f.String("provider", "", "provider name, or Auto")
	f.String("keyword", "", "query parameter or form field holding the question")
	f.String("system-prompt", "", "system prompt prepended to every conversation")
	f.String("cookie-file", "", "path of a JSON cookie file sent to providers")
	f.String("password", "", "set or change the settings page password")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.Bool("remove-sources", false, "strip source citations from replies")
	f.Bool("enable-gui", false, "serve the settings GUI")
	f.Bool("private-mode", false, "require an access token on every request")
	f.Bool("enable-proxies", false, "route provider calls through the proxy list")
	f.Bool("enable-history", false, "send previous messages with each question")
	f.Bool("file-input", false, "accept questions as uploaded files")
	f.Bool("enable-fast-api", false, "start the OpenAI-compatible API")
	f.Bool("enable-virtual-users", false, "allow virtual users with their own settings")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newProxiesCmd())
	return cmd
}

// flagsFrom collects the flags that were given explicitly. Values left at
// their zero default stay nil so stored settings apply.
func flagsFrom(cmd *cobra.Command) (settings.Flags, error) {
	f := cmd.Flags()
	var out settings.Flags

	if f.Changed("port") {
		raw, _ := f.GetString("port")
		p, err := settings.ParsePort(raw)
		if err != nil {
			return settings.Flags{}, fmt.Errorf("--port: %w", err)
		}
		out.Port = &p
	}
	if f.Changed("log-level") {
		level, _ := f.GetString("log-level")
		if !logging.ValidLevel(level) {
			return settings.Flags{}, fmt.Errorf("--log-level: invalid level %q", level)
		}
		out.LogLevel = &level
	}
	strs := []struct {
		name string
		dst  **string
	}{
		{"model", &out.Model},
		{"provider", &out.Provider},
		{"keyword", &out.Keyword},
		{"system-prompt", &out.SystemPrompt},
		{"cookie-file", &out.CookieFile},
	}
	for _, s := range strs {
		if !f.Changed(s.name) {
			continue
		}
		v, _ := f.GetString(s.name)
		*s.dst = &v
	}

	bools := []struct {
		name string
		dst  *bool
	}{
		{"remove-sources", &out.RemoveSources},
		{"enable-gui", &out.EnableGUI},
		{"private-mode", &out.PrivateMode},
		{"enable-proxies", &out.EnableProxies},
		{"enable-history", &out.EnableHistory},
		{"file-input", &out.FileInput},
		{"enable-fast-api", &out.EnableFastAPI},
		{"enable-virtual-users", &out.EnableVirtualUsers},
	}
	for _, b := range bools {
		*b.dst, _ = f.GetBool(b.name)
	}
	return out, nil
}
