/*
Copyright (c) st2110core authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package st2110 is the top-level library handle of spec.md §9: "Global
// mutable state (PTP clock, DMA manager, session managers) -> model each as
// an owned singleton inside the top-level library handle; no process-wide
// statics. All references flow through this handle." A Handle owns the
// epoch clock, the DMA channel pool, one tasklet scheduler per configured
// scheduler entry, and one video
// session-manager pair per configured port; applications never reach the
// internal/* packages directly.
package st2110

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/stormlinemedia/st2110core/internal/config"
	"github.com/stormlinemedia/st2110core/internal/dmapool"
	"github.com/stormlinemedia/st2110core/internal/epoch"
	"github.com/stormlinemedia/st2110core/internal/errs"
	"github.com/stormlinemedia/st2110core/internal/nicio"
	"github.com/stormlinemedia/st2110core/internal/pluginconfig"
	"github.com/stormlinemedia/st2110core/internal/rtp"
	"github.com/stormlinemedia/st2110core/internal/rxvideo"
	"github.com/stormlinemedia/st2110core/internal/sessionmgr"
	"github.com/stormlinemedia/st2110core/internal/stats"
	"github.com/stormlinemedia/st2110core/internal/tasklet"
	"github.com/stormlinemedia/st2110core/internal/txvideo"
)

// Error and Code are re-exported from internal/errs so application code
// never has to import an internal package to switch on a failure's kind,
// per spec.md §6 "a flat signed enum".
type (
	Error = errs.Error
	Code  = errs.Code
)

// Error codes, re-exported from internal/errs.
const (
	Ok              = errs.Ok
	General         = errs.General
	NoMemory        = errs.NoMemory
	NotSupported    = errs.NotSupported
	InvalidParam    = errs.InvalidParam
	NoQueueBudget   = errs.NoQueueBudget
	NoSchedCapacity = errs.NoSchedCapacity
	PtpNotSynced    = errs.PtpNotSynced
	DevErr          = errs.DevErr
)

// port bundles one NIC port with the session managers layered on it. TX
// bandwidth is admitted directly against nic (the real TX queue doubles as
// the budget reservation); RX bandwidth has no real hardware queue to
// reserve, so its manager is handed the port and performs a budget-only
// reservation the way internal/sessionmgr was built to.
type port struct {
	nic        *nicio.Port
	cfg        config.PortConfig
	videoTX    *sessionmgr.Manager
	videoRX    *sessionmgr.Manager
	rxSchedIdx int // which h.cfg.Schedulers entry drives videoRX's tasklet
}

// Handle is the process-wide singleton every session attaches through.
type Handle struct {
	cfg config.Config

	Clock      *epoch.Clock
	DMAPool    *dmapool.Pool
	Schedulers []*tasklet.Scheduler // one per config.Config.Schedulers entry, i.e. one per core
	Stats      *stats.Exporter

	mu        sync.Mutex
	ports     map[string]*port
	nextSched int // round-robins tasklet registration across Schedulers

	plugins []pluginconfig.Plugin
}

// Open builds a Handle from cfg, disciplined by ptp. ptp is typically a
// *internal/ptpslave.Slave bound to a real network transport; tests may
// pass any other epoch.PTPSource.
func Open(cfg config.Config, ptp epoch.PTPSource) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errs.New(errs.InvalidParam, err)
	}

	h := &Handle{
		cfg:   cfg,
		Clock: epoch.NewClock(ptp, nil),
		ports: map[string]*port{},
	}
	h.Clock.Calibrate()
	h.DMAPool = dmapool.NewPool()

	h.Schedulers = make([]*tasklet.Scheduler, len(cfg.Schedulers))
	for i, sched := range cfg.Schedulers {
		h.Schedulers[i] = tasklet.New(tasklet.Config{MinSleepUS: sched.DefaultSleepUS})
	}

	for _, pc := range cfg.Ports {
		if err := h.addPort(pc); err != nil {
			return nil, err
		}
	}

	if cfg.StatsPort > 0 {
		h.Stats = stats.NewExporter(cfg.StatsPort)
		go func() {
			if err := h.Stats.Start(); err != nil {
				log.WithError(err).Error("st2110: stats exporter stopped")
			}
		}()
	}

	if manifest, err := pluginconfig.LoadDefault(); err != nil {
		log.WithError(err).Debug("st2110: no plugin manifest loaded")
	} else {
		plugins, err := manifest.Enabled()
		if err != nil {
			return nil, fmt.Errorf("st2110: plugin manifest: %w", err)
		}
		h.plugins = plugins
		for _, pl := range plugins {
			log.WithField("plugin", pl.Name).Info("st2110: plugin enabled")
		}
	}

	return h, nil
}

func (h *Handle) addPort(pc config.PortConfig) error {
	if pc.Iface != "" {
		if err := nicio.RequireMinMTU(pc.Iface, rtp.MinMTUBytes); err != nil {
			log.WithError(err).WithField("iface", pc.Iface).Warn("st2110: link state check failed, binding port anyway")
		}
	}

	nicPort := nicio.NewPort(len(h.ports), pc.TotalMbps)
	p := &port{
		nic:     nicPort,
		cfg:     pc,
		videoTX: sessionmgr.New(sessionmgr.Video, nil, pc.MaxTXSessions),
		videoRX: sessionmgr.New(sessionmgr.Video, nicPort, pc.MaxRXSessions),
	}
	tx := p
	_, txSched := h.pickScheduler()
	if err := txSched.Register(&tasklet.Tasklet{
		Name:    pc.Name + "/video-tx",
		Handler: func() tasklet.Result { tx.videoTX.TaskletHandler(); return tasklet.HasPending },
	}); err != nil {
		return fmt.Errorf("st2110: register %s video-tx tasklet: %w", pc.Name, err)
	}
	rx := p
	rxIdx, rxSched := h.pickScheduler()
	if err := rxSched.Register(&tasklet.Tasklet{
		Name:    pc.Name + "/video-rx",
		Handler: func() tasklet.Result { rx.videoRX.TaskletHandler(); return tasklet.HasPending },
	}); err != nil {
		return fmt.Errorf("st2110: register %s video-rx tasklet: %w", pc.Name, err)
	}
	p.rxSchedIdx = rxIdx
	h.ports[pc.Name] = p
	return nil
}

// pickScheduler round-robins tasklet registration across the configured
// per-core schedulers, per spec.md §4.3 "a fixed pool of OS threads, one
// per CPU core", and returns which config.Config.Schedulers entry backs
// the chosen scheduler.
func (h *Handle) pickScheduler() (int, *tasklet.Scheduler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx := h.nextSched % len(h.Schedulers)
	h.nextSched++
	return idx, h.Schedulers[idx]
}

func (h *Handle) port(name string) (*port, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.ports[name]
	if !ok {
		return nil, errs.New(errs.InvalidParam, fmt.Errorf("st2110: unknown port %q", name))
	}
	return p, nil
}

// Plugins lists the dynamic codec modules the plugin manifest enabled and
// ABI-gated successfully, per spec.md §6.
func (h *Handle) Plugins() []pluginconfig.Plugin { return h.plugins }

// Run drives every per-core scheduler until ctx is cancelled, per spec.md
// §5. Each scheduler runs on its own goroutine (standing in for its own
// OS thread/core); errgroup.WithContext coordinates their shutdown so one
// scheduler returning (e.g. a tasklet panicking a recover path into a
// returned error, in a future extension) cancels ctx for the rest instead
// of leaving siblings running orphaned.
func (h *Handle) Run(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for _, sched := range h.Schedulers {
		sched := sched
		g.Go(func() error {
			sched.Run(gctx)
			return nil
		})
	}
	_ = g.Wait()
}

// Close tears down every owned resource. Sessions must be detached first.
func (h *Handle) Close() {
	for _, sched := range h.Schedulers {
		sched.RequestExit()
	}
	h.DMAPool.Close()
}

// TXHandle is what an application holds for one attached TX video session.
type TXHandle struct {
	*txvideo.Session
	port *port
	idx  int
	send *nicio.TXQueue
	sec  *nicio.TXQueue
}

// AttachTX creates, admits, and attaches a TX video session on portName,
// per spec.md §4.5 and §4.7. send is the actual packet transmit function —
// a real socket write, or internal/nicio.SoftLoopback.TXQueueEnqueue() in
// tests and sample loopback runs.
func (h *Handle) AttachTX(portName string, vcfg txvideo.Config, source txvideo.FrameSource, send func(pkt []byte) error, statID string) (*TXHandle, error) {
	p, err := h.port(portName)
	if err != nil {
		return nil, err
	}

	mbps := rtp.BandwidthBPS(vcfg.Format) / 1_000_000
	if mbps == 0 {
		mbps = 1
	}
	q, err := p.nic.RequestTXQueue(mbps, send)
	if err != nil {
		return nil, err
	}

	var secQ *nicio.TXQueue
	if vcfg.Redundant {
		secQ, err = p.nic.RequestTXQueue(mbps, send)
		if err != nil {
			p.nic.ReleaseTXQueue(q)
			return nil, err
		}
	}

	sess := txvideo.New(vcfg, h.Clock, q, secQ, source, h.sessionStat(statID))

	idx, err := p.videoTX.Attach(sess, true)
	if err != nil {
		p.nic.ReleaseTXQueue(q)
		if secQ != nil {
			p.nic.ReleaseTXQueue(secQ)
		}
		return nil, err
	}

	return &TXHandle{Session: sess, port: p, idx: idx, send: q, sec: secQ}, nil
}

// Detach tears down a TX session and returns its queue budget.
func (t *TXHandle) Detach() {
	t.port.videoTX.Detach(t.idx)
	t.port.nic.ReleaseTXQueue(t.send)
	if t.sec != nil {
		t.port.nic.ReleaseTXQueue(t.sec)
	}
}

// RXHandle is what an application holds for one attached RX video session.
// It embeds the tick adapter so both Tick() (driven by the session manager)
// and every rxvideo.Session method are available directly.
type RXHandle struct {
	*rxvideo.TickAdapter
	Ingest chan<- rxvideo.Packet
	port   *port
	idx    int
	rxq    *nicio.RXQueue
}

// AttachRX creates, admits, and attaches an RX video session on portName.
// flow may be nil to receive on the port's shared (promiscuous) queue.
// Demultiplexed packets are pushed onto the returned RXHandle.Ingest
// channel by the caller's packet-receive loop; the session itself is
// packet-driven (internal/rxvideo.TickAdapter bridges it into the tasklet
// scheduler).
func (h *Handle) AttachRX(portName string, vcfg rxvideo.Config, sink rxvideo.Sink, flow *nicio.FiveTuple, statID string) (*RXHandle, error) {
	p, err := h.port(portName)
	if err != nil {
		return nil, err
	}

	var lender *dmapool.Lender
	sched := h.cfg.Schedulers[p.rxSchedIdx]
	if sched.DMAQueueSize > 0 {
		lender, err = h.DMAPool.Request(sched.DMAQueueSize, sched.DMAMaxSharedLend, nil)
		if err != nil {
			return nil, err
		}
	}

	sess := rxvideo.New(vcfg, sink, lender, h.sessionStat(statID))
	packets := make(chan rxvideo.Packet, 256)
	adapter := &rxvideo.TickAdapter{Session: sess, Packets: packets}

	idx, err := p.videoRX.Attach(adapter, false)
	if err != nil {
		return nil, err
	}

	rxq, err := p.nic.RequestRXQueue(flow, nil, nil, nil)
	if err != nil {
		p.videoRX.Detach(idx)
		return nil, err
	}

	return &RXHandle{TickAdapter: adapter, Ingest: packets, port: p, idx: idx, rxq: rxq}, nil
}

// Detach tears down an RX session.
func (r *RXHandle) Detach() {
	r.port.videoRX.Detach(r.idx)
}

func (h *Handle) sessionStat(id string) *stats.Session {
	if h.Stats == nil || id == "" {
		return nil
	}
	return stats.NewSession(h.Stats.Registry(), id)
}
