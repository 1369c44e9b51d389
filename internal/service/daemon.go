package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/kardianos/service"

	"github.com/gajzzs/clusterbanned/internal/blocker"
	"github.com/gajzzs/clusterbanned/internal/crypto"
	"github.com/gajzzs/clusterbanned/internal/hosts"
)

type HostsReader interface {
	Read() (path, text string, err error)
}

type Repairer interface {
	ApplySelection(ctx context.Context, regionID string, sel hosts.Selection, opts blocker.Options) (blocker.Result, error)
}

type DaemonConfig struct {
	Interval   time.Duration
	AutoRepair bool
	Options    blocker.Options
	// Selection is called on every check so edits made by other
	// processes are picked up.
	Selection func() hosts.Selection
}

// Daemon periodically compares the hosts file with the saved selection
// and, when configured, re-applies the selection on drift.
type Daemon struct {
	hosts    HostsReader
	repairer Repairer
	cfg      DaemonConfig

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	fingerprint string
}

func NewDaemon(h HostsReader, r Repairer, cfg DaemonConfig) *Daemon {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Selection == nil {
		cfg.Selection = func() hosts.Selection { return hosts.Selection{} }
	}
	return &Daemon{hosts: h, repairer: r, cfg: cfg}
}

// Start implements service.Interface. It must not block.
func (d *Daemon) Start(s service.Service) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("daemon already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running = true

	log.Printf("daemon: checking hosts every %s (auto repair: %v)", d.cfg.Interval, d.cfg.AutoRepair)
	go d.loop(ctx, d.done)
	return nil
}

// Stop implements service.Interface.
func (d *Daemon) Stop(s service.Service) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon not running")
	}
	d.cancel()
	done := d.done
	d.running = false
	d.mu.Unlock()

	<-done
	log.Println("daemon: stopped")
	return nil
}

func (d *Daemon) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.CheckOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.CheckOnce(ctx)
		}
	}
}

type CheckResult struct {
	// Skipped is set when neither the hosts file nor the selection changed
	// since the previous clean check.
	Skipped  bool
	Report   hosts.Report
	Repaired []string
}

func (d *Daemon) CheckOnce(ctx context.Context) CheckResult {
	sel := d.cfg.Selection()

	_, text, err := d.hosts.Read()
	if err != nil {
		d.setFingerprint("")
		log.Printf("daemon: %v: %v", hosts.ErrUnavailable, err)
		return CheckResult{Report: hosts.Report{Message: err.Error()}}
	}

	fp := stateFingerprint(text, sel)
	if fp == d.getFingerprint() {
		return CheckResult{Skipped: true}
	}

	rep := hosts.CheckText(text, sel)
	res := CheckResult{Report: rep}
	if !rep.Mismatch {
		d.setFingerprint(fp)
		return res
	}

	log.Printf("daemon: drift detected: %s", rep.Message)
	d.setFingerprint("")
	if !d.cfg.AutoRepair {
		return res
	}

	regions := make([]string, 0, len(sel))
	for r := range sel {
		regions = append(regions, r)
	}
	sort.Strings(regions)
	for _, region := range regions {
		out, err := d.repairer.ApplySelection(ctx, region, sel, d.cfg.Options)
		if err != nil {
			log.Printf("daemon: repair of region %s failed: %v", region, err)
			continue
		}
		log.Printf("daemon: repaired region %s: hosts=%q success=%v", region, out.Hosts, out.Success)
		res.Repaired = append(res.Repaired, region)
	}
	return res
}

func (d *Daemon) getFingerprint() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fingerprint
}

func (d *Daemon) setFingerprint(fp string) {
	d.mu.Lock()
	d.fingerprint = fp
	d.mu.Unlock()
}

func stateFingerprint(text string, sel hosts.Selection) string {
	// encoding/json sorts map keys, so equal selections encode equally.
	data, _ := json.Marshal(sel)
	return crypto.Fingerprint(text + "\x00" + string(data))
}
