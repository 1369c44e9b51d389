package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gajzzs/clusterbanned/internal/blocker"
	"github.com/gajzzs/clusterbanned/internal/hosts"
)

type fakeHosts struct {
	mu   sync.Mutex
	text string
	err  error
}

func (f *fakeHosts) Read() (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return "/etc/hosts", f.text, f.err
}

func (f *fakeHosts) set(text string) {
	f.mu.Lock()
	f.text = text
	f.mu.Unlock()
}

type fakeRepairer struct {
	mu      sync.Mutex
	regions []string
	hosts   *fakeHosts
}

func (r *fakeRepairer) ApplySelection(_ context.Context, regionID string, sel hosts.Selection, _ blocker.Options) (blocker.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regions = append(r.regions, regionID)

	var domains []string
	for d, enabled := range sel[regionID] {
		if !enabled {
			domains = append(domains, d)
		}
	}
	r.hosts.set(hosts.Encode(regionID, true, domains) + "\n")
	return blocker.Result{Success: true}, nil
}

func TestCheckOnceSkipsUnchangedState(t *testing.T) {
	h := &fakeHosts{text: hosts.Encode("eu", true, []string{"a.com"}) + "\n"}
	sel := hosts.Selection{"eu": {"a.com": false}}
	d := NewDaemon(h, &fakeRepairer{hosts: h}, DaemonConfig{Selection: func() hosts.Selection { return sel }})
	ctx := context.Background()

	first := d.CheckOnce(ctx)
	assert.False(t, first.Skipped)
	assert.False(t, first.Report.Mismatch)

	assert.True(t, d.CheckOnce(ctx).Skipped)

	sel = hosts.Selection{"eu": {"a.com": true}}
	changed := d.CheckOnce(ctx)
	assert.False(t, changed.Skipped)
	assert.True(t, changed.Report.Mismatch)

	// Drift is re-evaluated on every tick until it is gone.
	assert.False(t, d.CheckOnce(ctx).Skipped)
}

func TestCheckOnceRepairs(t *testing.T) {
	h := &fakeHosts{text: "127.0.0.1 localhost\n"}
	r := &fakeRepairer{hosts: h}
	sel := hosts.Selection{"eu": {"a.com": false}, "asia": {"b.com": true}}
	d := NewDaemon(h, r, DaemonConfig{AutoRepair: true, Selection: func() hosts.Selection { return sel }})

	res := d.CheckOnce(context.Background())
	assert.True(t, res.Report.Mismatch)
	assert.Equal(t, []string{"asia", "eu"}, res.Repaired)

	res = d.CheckOnce(context.Background())
	assert.False(t, res.Report.Mismatch, res.Report.Message)
}

func TestCheckOnceUnavailable(t *testing.T) {
	h := &fakeHosts{err: errors.New("gone")}
	d := NewDaemon(h, &fakeRepairer{hosts: h}, DaemonConfig{AutoRepair: true})

	res := d.CheckOnce(context.Background())
	assert.False(t, res.Report.Available)
	assert.False(t, res.Report.Mismatch)
	assert.Empty(t, res.Repaired)
}

func TestDaemonStartStop(t *testing.T) {
	h := &fakeHosts{text: ""}
	d := NewDaemon(h, &fakeRepairer{hosts: h}, DaemonConfig{Interval: 10 * time.Millisecond})

	require.NoError(t, d.Start(nil))
	assert.Error(t, d.Start(nil))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, d.Stop(nil))
	assert.Error(t, d.Stop(nil))
}
