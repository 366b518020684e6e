package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// InstallConfigFlag installs a --config option on the given command.
func InstallConfigFlag(cmd *cobra.Command) *pflag.Flag {
	cmd.PersistentFlags().String("config", "", "use a specific configuration file")
	return cmd.PersistentFlags().Lookup("config")
}

// InitViperConfig sets verbosity level and add config env variables and file support based on name prefix.
func InitViperConfig(name string, cmd *cobra.Command, vip *viper.Viper) error {
	// Force a visit of the local flags so persistent flags for all parents are merged.
	cmd.LocalFlags()

	// Get cmdline flag for config file to install it in viper.
	if configFlag := cmd.Flags().Lookup("config"); configFlag != nil && configFlag.Changed {
		vip.SetConfigFile(configFlag.Value.String())
	} else {
		vip.SetConfigName(name)
		vip.AddConfigPath("./")
		vip.AddConfigPath("$HOME/")
		vip.AddConfigPath(filepath.Join("/etc", name))
	}

	if err := vip.ReadInConfig(); err != nil {
		var e viper.ConfigFileNotFoundError
		if errors.As(err, &e) {
			slog.Info("No configuration file, using defaults", "error", e)
		} else {
			return fmt.Errorf("invalid configuration file: %w", err)
		}
	} else {
		vip.WatchConfig()
		vip.OnConfigChange(func(e fsnotify.Event) {
			slog.Info("Configuration file changed, reloading", "file", e.Name)
		})
		slog.Info("Using configuration file", "file", vip.ConfigFileUsed())
	}

	vip.SetEnvPrefix(strings.ReplaceAll(name, "-", "_"))
	vip.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	vip.AutomaticEnv()

	return nil
}
