package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"multi-complete/internal/config"
	"multi-complete/internal/logger"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type Options struct {
	Config   string
	LogLevel string
}

func NewRootCmd() *cobra.Command {
	opts := &Options{}
	root := &cobra.Command{
		Use:           "multi-complete",
		Short:         "multi-complete - request several LLM completions at once",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return attachLogger(cmd)
		},
	}

	cobra.OnInitialize(func() {
		initConfig(opts.Config)
	})

	root.PersistentFlags().StringVar(
		&opts.Config,
		"config",
		"",
		"config file (default: ./multi-complete.yaml)",
	)
	root.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (default: log.level)")
	_ = viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(newCompleteCmd())
	root.AddCommand(newChatCmd())
	root.AddCommand(newPingCmd())
	root.AddCommand(newMemoryCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func initConfig(configFile string) {
	_ = godotenv.Load()
	config.SetDefaults(viper.GetViper())

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("multi-complete")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/multi-complete")
	}

	viper.SetEnvPrefix("MULTI_COMPLETE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return
		}
		fmt.Fprintln(os.Stderr, err.Error())
	}
}

// attachLogger puts a logger tagged with a fresh request id on the command
// context so every layer below can reach it through zerolog.Ctx.
func attachLogger(cmd *cobra.Command) error {
	log := logger.New(logger.Config{
		Level:  viper.GetString("log.level"),
		Format: viper.GetString("log.format"),
	}, cmd.ErrOrStderr())
	log = log.With().
		Str("request_id", uuid.NewString()).
		Str("command", cmd.CommandPath()).
		Logger()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(log.WithContext(ctx))
	return nil
}
