package app

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gajzzs/clusterbanned/internal/config"
	"github.com/gajzzs/clusterbanned/internal/hosts"
	"github.com/gajzzs/clusterbanned/internal/service"
)

var serviceDone = map[string]string{
	"install":   "Service installed",
	"uninstall": "Service uninstalled",
	"start":     "Service started",
	"stop":      "Service stopped",
	"restart":   "Service restarted",
}

func NewServiceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the background drift monitor",
	}
	for _, action := range service.Actions {
		cmd.AddCommand(serviceAction(action))
	}
	cmd.AddCommand(newServiceStatusCommand(), newServiceRunCommand())
	return cmd
}

func serviceAction(action string) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: fmt.Sprintf("%s the system service", strings.ToUpper(action[:1])+action[1:]),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sm, err := service.NewServiceManager(nil)
			if err != nil {
				return err
			}
			if action == "uninstall" {
				_ = sm.Control("stop")
			}
			if err := sm.Control(action); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), serviceDone[action])
			return nil
		},
	}
}

func newServiceStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the system service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sm, err := service.NewServiceManager(nil)
			if err != nil {
				return err
			}
			status, err := sm.Status()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Service: %s\n", status)
			fmt.Fprintf(cmd.OutOrStdout(), "Config: %s\n", service.ConfigPath())
			return nil
		},
	}
}

func newServiceRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:    "run",
		Short:  "Run the drift monitor in the foreground (used by the service manager)",
		Args:   cobra.NoArgs,
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine()
			if err != nil {
				return err
			}
			daemon := service.NewDaemon(e.store, e.blocker, service.DaemonConfig{
				Interval:   e.cfg.Interval(),
				AutoRepair: e.cfg.AutoRepair,
				Options:    optionsFromConfig(e.cfg),
				Selection:  reloadSelection,
			})
			sm, err := service.NewServiceManager(daemon)
			if err != nil {
				return err
			}
			if logger, err := sm.Logger(); err == nil {
				logger.Info("clusterbanned drift monitor starting")
			}
			return sm.Run()
		},
	}
}

// reloadSelection re-reads the config file so that selections saved by
// other invocations reach a running daemon.
func reloadSelection() hosts.Selection {
	cfg, err := config.Load(config.ConfigFile)
	if err != nil {
		log.Printf("daemon: keeping previous selection: %v", err)
		return hosts.Selection(config.GetConfig().Selections)
	}
	return hosts.Selection(cfg.Selections)
}
