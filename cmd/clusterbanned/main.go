// Author @gajzzs
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gajzzs/clusterbanned/internal/app"
	"github.com/gajzzs/clusterbanned/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "clusterbanned",
	Short:         "Block game-server clusters by region",
	Long:          "ClusterBanned blocks selected game-server clusters through the hosts file and the platform firewall",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	app.AddGlobalFlags(rootCmd)
	rootCmd.AddCommand(
		app.NewBlockCommand(),
		app.NewUnblockCommand(),
		app.NewApplyCommand(),
		app.NewSelectCommand(),
		app.NewCheckCommand(),
		app.NewClearCommand(),
		app.NewListCommand(),
		app.NewRegionsCommand(),
		app.NewRulesCommand(),
		app.NewResolveCommand(),
		app.NewStatusCommand(),
		app.NewServiceCommand(),
	)
}

func main() {
	if err := config.InitConfig(); err != nil {
		log.Printf("Warning: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
