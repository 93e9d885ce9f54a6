// Package cli provides the command-line interface for the aggregation
// service: the admin commands that load, dump, enable, and disable
// analytics definitions against the Configuration Registry, and the
// serve command that runs the Worker Supervisor and HTTP front door.
//
// Configuration is layered via Viper: command-line flags, environment
// variables, and an optional YAML config file, with flags taking
// precedence.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pulsegrid/aggregator/analytics"
	"github.com/pulsegrid/aggregator/config"
	"github.com/pulsegrid/aggregator/registry"
	"github.com/pulsegrid/aggregator/store"
)

var cfgFile string

// RootCmd is the aggregation service's top-level command.
var RootCmd = &cobra.Command{
	Use:   "aggregatord",
	Short: "real-time analytics aggregation service",
	Long: `aggregatord aggregates event transactions into incrementally
updated analytics, queryable by dimension slice, atop a Redis-compatible
key-value store.

Subcommands manage analytics definitions in the Configuration Registry
(load, dump, dumpall, enable, disable) or run the service (serve).`,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.aggregatord.yaml)")
	RootCmd.PersistentFlags().String("store-url", "", "config store connection URL (redis://...)")
	viper.BindPFlag("store.url", RootCmd.PersistentFlags().Lookup("store-url"))

	RootCmd.AddCommand(loadCmd, dumpCmd, dumpAllCmd, enableCmd, disableCmd, serveCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".aggregatord")
	}

	viper.SetEnvPrefix("AGGREGATOR")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

// storeURL resolves the config store connection URL: an explicit
// --store-url flag (or AGGREGATOR_STORE_URL env var) wins, otherwise
// it falls back to config.LoadStoreConfig's environment-driven config.
func storeURL() string {
	if u := viper.GetString("store.url"); u != "" {
		return u
	}
	return config.LoadStoreConfig("AGGREGATOR_STORE").URL
}

func openConfigStore() (*store.Client, error) {
	url := storeURL()

	v := config.NewValidator()
	v.RequireString("store.url", url)
	if err := v.Validate(); err != nil {
		return nil, err
	}

	return store.New(store.Config{URL: url})
}

// loadDataDB is the --data-db override applied to every definition
// loaded in a single invocation, mirroring analytics_manager.py's
// "load [-<db>] file.json..." form. -1 means "use the definition's own
// data_db".
var loadDataDB int

var loadCmd = &cobra.Command{
	Use:   "load <definition.json> [definition.json...]",
	Short: "load and activate one or more analytics definitions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := openConfigStore()
		if err != nil {
			return err
		}
		defer conf.Close()
		reg := registry.New(conf)

		var override *int
		if loadDataDB >= 0 {
			override = &loadDataDB
		}

		for _, path := range args {
			def, err := loadOne(reg, path, override)
			if err != nil {
				return err
			}
			fmt.Printf("loaded %q\n", def.Name)
		}
		return nil
	},
}

func loadOne(reg *registry.Registry, path string, override *int) (*analytics.Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition file %s: %w", path, err)
	}
	def, err := analytics.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse definition %s: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := reg.Load(ctx, def, override); err != nil {
		return nil, fmt.Errorf("load analytics %s: %w", path, err)
	}
	return def, nil
}

func init() {
	loadCmd.Flags().IntVar(&loadDataDB, "data-db", -1, "override data_db for every definition being loaded")
}

var dumpCmd = &cobra.Command{
	Use:   "dump <name>",
	Short: "print the stored definition for a single analytics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := openConfigStore()
		if err != nil {
			return err
		}
		defer conf.Close()

		reg := registry.New(conf)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		def, err := reg.Get(ctx, args[0])
		if err != nil {
			return err
		}
		blob, err := def.JSON()
		if err != nil {
			return err
		}
		fmt.Println(string(blob))
		return nil
	},
}

var dumpAllCmd = &cobra.Command{
	Use:   "dumpall",
	Short: "print every currently active analytics definition",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := openConfigStore()
		if err != nil {
			return err
		}
		defer conf.Close()

		reg := registry.New(conf)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		names, err := reg.ActiveNames(ctx)
		if err != nil {
			return err
		}
		defs := make([]*analytics.Definition, 0, len(names))
		for _, name := range names {
			def, err := reg.Get(ctx, name)
			if err != nil {
				return fmt.Errorf("dump %q: %w", name, err)
			}
			defs = append(defs, def)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(defs)
	},
}

var enableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "re-activate a previously disabled analytics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := openConfigStore()
		if err != nil {
			return err
		}
		defer conf.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := registry.New(conf).Enable(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("enabled %q\n", args[0])
		return nil
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "deactivate an analytics without discarding its definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := openConfigStore()
		if err != nil {
			return err
		}
		defer conf.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := registry.New(conf).Disable(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("disabled %q\n", args[0])
		return nil
	},
}
