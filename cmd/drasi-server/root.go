package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile  string
	host     string
	port     int
	logLevel string
	pretty   bool
)

// rootCmd is the single-purpose "serve" command; drasi-server has no
// subcommands today, mirroring spec.md's single-process deployment model.
var rootCmd = &cobra.Command{
	Use:   "drasi-server",
	Short: "Continuous query streaming engine",
	Long: `drasi-server evaluates continuous queries over changes fed by one
or more sources and dispatches result deltas to reactions, per a
declarative configuration file.`,
	RunE: runServe,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "drasi.yaml", "path to the config file")
	rootCmd.Flags().StringVar(&host, "host", "", "override the config file's listen host")
	rootCmd.Flags().IntVar(&port, "port", 0, "override the config file's listen port")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "override the config file's log level")
	rootCmd.Flags().BoolVar(&pretty, "pretty-log", false, "use a human-readable console log writer instead of JSON")

	viper.SetEnvPrefix("DRASI")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlag("config", rootCmd.Flags().Lookup("config"))
	_ = viper.BindPFlag("host", rootCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("port", rootCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("log-level", rootCmd.Flags().Lookup("log-level"))
}
