package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// flagSet holds the raw pflag-backed values a Command parses before Build validates them
// into a Config.
type flagSet struct {
	binds       []string
	relayIdle   time.Duration
	logLevel    string
	logJSON     bool
	metricsAddr string
	printConfig string
}

// NewRootCommand builds the dispatcher's root cobra.Command. run receives the validated
// Config once flag parsing and Build both succeed; any error from either aborts before run
// is ever called, matching the fatal/abort tier of the error-handling design.
func NewRootCommand(appName, appVersion string, run func(Config) error) *cobra.Command {
	var f flagSet
	v := viper.New()

	cmd := &cobra.Command{
		Use:     appName + " [flags] <host>@<metric> [<host>@<metric> ...]",
		Short:   "Non-blocking SOCKS5 CONNECT dispatcher with weighted outgoing interface selection",
		Version: appVersion,
		Args:    cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Build(f.binds, args, v.GetDuration("relay-idle"), v.GetString("log-level"), v.GetBool("log-json"), v.GetString("metrics"), v.GetString("print-config"))
			if err != nil {
				return err
			}
			if cfg.PrintConfig != "" {
				out, rerr := cfg.Render()
				if rerr != nil {
					return rerr
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringArrayVar(&f.binds, "bind", nil, "local address to accept SOCKS5 clients on, repeatable (default 127.0.0.1:1080 and [::1]:1080)")
	cmd.Flags().Duration("relay-idle", 0, "close a relayed connection after this long without activity in either direction (0 disables)")
	cmd.Flags().String("log-level", "info", "log level: trace, debug, info, warn, error")
	cmd.Flags().Bool("log-json", false, "emit logs as JSON instead of colored text")
	cmd.Flags().String("metrics", "", "address to serve Prometheus metrics on, e.g. 127.0.0.1:9090 (empty disables)")
	cmd.Flags().String("print-config", "", "print the parsed configuration and exit format: yaml or json")

	for _, name := range []string{"relay-idle", "log-level", "log-json", "metrics", "print-config"} {
		_ = v.BindPFlag(name, cmd.Flags().Lookup(name))
	}

	// cobra's default help exits 0; -h|--help must exit 1 instead.
	defaultHelp := cmd.HelpFunc()
	cmd.SetHelpFunc(func(c *cobra.Command, args []string) {
		defaultHelp(c, args)
		os.Exit(1)
	})

	return cmd
}
