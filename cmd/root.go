package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"hermannm.dev/devlog"
)

var logLevel slog.LevelVar

var rootCmd = &cobra.Command{
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	Use:   "tokencore",
	Short: "Firmware core for a USB/NFC security token",
	Long: `tokencore runs the FIDO2/U2F and PIV applet personalities over a
development harness standing in for the token's USB HID/CCID/CDC and
ISO-14443 contactless transports.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	slog.SetDefault(slog.New(devlog.NewHandler(os.Stdout, &devlog.Options{
		Level: &logLevel,
	})))

	rootCmd.PersistentFlags().Bool("debug", false, "print debug logging")
	rootCmd.PersistentFlags().String("config", "", "path to the configuration file")
	rootCmd.PersistentFlags().String("internal-dir", "", "directory backing the Internal keystore tier")
	rootCmd.PersistentFlags().String("external-dir", "", "directory backing the External keystore tier")
	rootCmd.PersistentFlags().String("http", "", "HTTP development harness listen address (ip:port)")
}

// bindPersistentFlags binds the root's persistent flags into viper and
// applies the --debug flag to the shared log level. Subcommands call
// this from their own PreRunE after binding their own flags.
func bindPersistentFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Root().PersistentFlags()); err != nil {
		return err
	}
	if viper.GetBool("debug") {
		logLevel.Set(slog.LevelDebug)
	}
	return nil
}

// loadConfigFile reads the --config file into viper, if one was given.
func loadConfigFile(cmd *cobra.Command) error {
	path, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return err
	}
	if path == "" {
		return nil
	}
	viper.SetConfigFile(path)
	return viper.ReadInConfig()
}
