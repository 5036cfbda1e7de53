package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/marcus/possync/internal/output"
	"github.com/marcus/possync/internal/syncconfig"
	"github.com/spf13/cobra"
)

// validConfigKeys lists the supported config keys for set/get.
var validConfigKeys = []string{
	"tenant",
	"sync.url",
	"sync.realtime_url",
	"sync.strategy",
	"sync.interval",
}

func isValidConfigKey(key string) bool {
	for _, k := range validConfigKeys {
		if k == key {
			return true
		}
	}
	return false
}

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Manage possync configuration",
	GroupID: "system",
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]

		if !isValidConfigKey(key) {
			output.Error("unknown config key: %s", key)
			fmt.Println("Valid keys:", strings.Join(validConfigKeys, ", "))
			return fmt.Errorf("unknown config key: %s", key)
		}

		cfg, err := syncconfig.LoadConfig()
		if err != nil {
			output.Error("load config: %v", err)
			return err
		}

		switch key {
		case "tenant":
			cfg.TenantID = val
		case "sync.url":
			cfg.Sync.URL = val
		case "sync.realtime_url":
			cfg.Sync.Realtime = val
		case "sync.strategy":
			if val != "queued" && val != "direct" {
				output.Error("invalid strategy %q (use queued or direct)", val)
				return fmt.Errorf("invalid strategy %q", val)
			}
			cfg.Sync.Strategy = val
		case "sync.interval":
			cfg.Sync.Interval = val
		}

		if err := syncconfig.SaveConfig(cfg); err != nil {
			output.Error("save config: %v", err)
			return err
		}

		output.Success("set %s = %s", key, val)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a config value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]

		if !isValidConfigKey(key) {
			output.Error("unknown config key: %s", key)
			fmt.Println("Valid keys:", strings.Join(validConfigKeys, ", "))
			return fmt.Errorf("unknown config key: %s", key)
		}

		cfg, err := syncconfig.LoadConfig()
		if err != nil {
			output.Error("load config: %v", err)
			return err
		}

		var val string
		switch key {
		case "tenant":
			val = cfg.TenantID
		case "sync.url":
			val = cfg.Sync.URL
			if val == "" {
				val = syncconfig.GetServerURL() + " (default)"
			}
		case "sync.realtime_url":
			val = cfg.Sync.Realtime
			if val == "" {
				val = syncconfig.GetRealtimeURL() + " (derived)"
			}
		case "sync.strategy":
			val = cfg.Sync.Strategy
			if val == "" {
				val = "queued (default)"
			}
		case "sync.interval":
			val = cfg.Sync.Interval
			if val == "" {
				val = "5m (default)"
			}
		}

		fmt.Println(val)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all config values",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := syncconfig.LoadConfig()
		if err != nil {
			output.Error("load config: %v", err)
			return err
		}

		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			output.Error("marshal config: %v", err)
			return err
		}

		fmt.Println(string(data))
		return nil
	},
}

var configSetTenantCmd = &cobra.Command{
	Use:   "set-tenant <tenant-id>",
	Short: "Select the active tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := syncconfig.LoadConfig()
		if err != nil {
			output.Error("load config: %v", err)
			return err
		}
		cfg.TenantID = args[0]
		if err := syncconfig.SaveConfig(cfg); err != nil {
			output.Error("save config: %v", err)
			return err
		}
		output.Success("active tenant: %s", args[0])
		return nil
	},
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key <api-key>",
	Short: "Store the API key used for sync requests",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := syncconfig.LoadAuth()
		if err != nil {
			output.Error("load credentials: %v", err)
			return err
		}
		if creds == nil {
			creds = &syncconfig.AuthCredentials{}
		}
		creds.APIKey = args[0]
		if creds.TenantID == "" {
			creds.TenantID = syncconfig.GetTenantID()
		}
		creds.ServerURL = syncconfig.GetServerURL()
		if err := syncconfig.SaveAuth(creds); err != nil {
			output.Error("save credentials: %v", err)
			return err
		}
		output.Success("API key stored")
		return nil
	},
}

var configSetURLCmd = &cobra.Command{
	Use:   "set-url <url>",
	Short: "Set the sync server URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := syncconfig.LoadConfig()
		if err != nil {
			output.Error("load config: %v", err)
			return err
		}
		cfg.Sync.URL = args[0]
		if err := syncconfig.SaveConfig(cfg); err != nil {
			output.Error("save config: %v", err)
			return err
		}
		output.Success("sync server: %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configSetTenantCmd)
	configCmd.AddCommand(configSetKeyCmd)
	configCmd.AddCommand(configSetURLCmd)
	rootCmd.AddCommand(configCmd)
}
