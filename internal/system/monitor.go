package system

import (
	stdnet "net"
	"strconv"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

type SystemMonitor struct{}

func NewSystemMonitor() *SystemMonitor {
	return &SystemMonitor{}
}

// GetSystemInfo returns host facts shown by the status command.
func (sm *SystemMonitor) GetSystemInfo() (map[string]interface{}, error) {
	info := make(map[string]interface{})

	hostInfo, err := host.Info()
	if err != nil {
		return info, err
	}
	info["hostname"] = hostInfo.Hostname
	info["os"] = hostInfo.OS
	info["platform"] = hostInfo.Platform
	info["platform_version"] = hostInfo.PlatformVersion
	info["kernel"] = hostInfo.KernelVersion
	info["uptime"] = hostInfo.Uptime

	return info, nil
}

// Connection is an open socket towards a blocked address.
type Connection struct {
	PID     int32
	Process string
	Local   string
	Remote  string
	Status  string
}

// ConnectionsTo lists open inet connections whose remote address is in ips.
// Blocking only affects new connections, so these show what is still live.
func (sm *SystemMonitor) ConnectionsTo(ips []string) ([]Connection, error) {
	if len(ips) == 0 {
		return nil, nil
	}
	want := make(map[string]bool, len(ips))
	for _, ip := range ips {
		want[ip] = true
	}

	conns, err := net.Connections("inet")
	if err != nil {
		return nil, err
	}
	out := filterConnections(conns, want)
	for i := range out {
		out[i].Process = processName(out[i].PID)
	}
	return out, nil
}

func processName(pid int32) string {
	if pid <= 0 {
		return ""
	}
	proc, err := process.NewProcess(pid)
	if err != nil {
		return ""
	}
	name, _ := proc.Name()
	return name
}

func filterConnections(conns []net.ConnectionStat, want map[string]bool) []Connection {
	var out []Connection
	for _, c := range conns {
		if c.Raddr.IP == "" || !want[c.Raddr.IP] {
			continue
		}
		out = append(out, Connection{
			PID:    c.Pid,
			Local:  addr(c.Laddr),
			Remote: addr(c.Raddr),
			Status: c.Status,
		})
	}
	return out
}

func addr(a net.Addr) string {
	return stdnet.JoinHostPort(a.IP, strconv.FormatUint(uint64(a.Port), 10))
}
