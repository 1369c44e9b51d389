package service

import (
	"errors"
	"fmt"
	"os"

	"github.com/kardianos/service"
)

const serviceName = "clusterbanned"

// Actions accepted by Control.
var Actions = service.ControlAction

// ServiceManager installs and controls the system service running
// `clusterbanned service run`.
type ServiceManager struct {
	svc    service.Service
	runner service.Interface
}

type idle struct{}

func (idle) Start(service.Service) error { return errors.New("no daemon configured") }
func (idle) Stop(service.Service) error  { return nil }

// NewServiceManager binds runner to the system service. Pass nil when
// the manager is only used for install/control/status.
func NewServiceManager(runner service.Interface) (*ServiceManager, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}
	if runner == nil {
		runner = idle{}
	}

	svc, err := service.New(runner, &service.Config{
		Name:        serviceName,
		DisplayName: "ClusterBanned drift monitor",
		Description: "Checks that blocked game-server clusters stay blocked in the hosts file",
		Executable:  exe,
		Arguments:   []string{"service", "run"},
		Option: service.KeyValue{
			"RunAtLoad": true,
			"KeepAlive": true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return &ServiceManager{svc: svc, runner: runner}, nil
}

// Control runs one of Actions (install, uninstall, start, stop, restart).
func (sm *ServiceManager) Control(action string) error {
	if err := service.Control(sm.svc, action); err != nil {
		return fmt.Errorf("service %s: %w", action, err)
	}
	return nil
}

// Status describes the service state; a missing service is not an error.
func (sm *ServiceManager) Status() (string, error) {
	st, err := sm.svc.Status()
	switch {
	case errors.Is(err, service.ErrNotInstalled):
		return "Not installed", nil
	case err != nil:
		return "Unknown", err
	}
	switch st {
	case service.StatusRunning:
		return "Running", nil
	case service.StatusStopped:
		return "Stopped", nil
	default:
		return "Unknown", nil
	}
}

// Run blocks until the service manager, or an interrupt when run from a
// terminal, stops the runner.
func (sm *ServiceManager) Run() error {
	return sm.svc.Run()
}

func (sm *ServiceManager) Logger() (service.Logger, error) {
	return sm.svc.Logger(nil)
}

// ConfigPath is where the platform keeps the installed unit.
func ConfigPath() string {
	switch service.Platform() {
	case "linux-systemd":
		return "/etc/systemd/system/" + serviceName + ".service"
	case "darwin-launchd":
		return "/Library/LaunchDaemons/" + serviceName + ".plist"
	case "windows-service":
		return `HKLM\SYSTEM\CurrentControlSet\Services\` + serviceName
	default:
		return service.Platform()
	}
}
