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

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stormlinemedia/st2110core/internal/config"
	"github.com/stormlinemedia/st2110core/internal/nicio"
	"github.com/stormlinemedia/st2110core/internal/rtp"
	"github.com/stormlinemedia/st2110core/internal/rxvideo"
	"github.com/stormlinemedia/st2110core/st2110"
)

var (
	runConfigFlag string
	runGroupFlag  string
	runIfaceFlag  string
	runPortFlag   string
	runWidthFlag  int
	runHeightFlag int
	runFPSFlag    int
	runOutFlag    string
)

func init() {
	runCmd.Flags().StringVarP(&runConfigFlag, "config", "c", "", "library init config YAML (defaults built in if unset)")
	runCmd.Flags().StringVarP(&runGroupFlag, "group", "g", "", "multicast group:port to join, $ST_PORT_R if unset")
	runCmd.Flags().StringVar(&runIfaceFlag, "iface", "", "interface to join the multicast group on (empty: kernel default)")
	runCmd.Flags().StringVarP(&runPortFlag, "port", "p", "p0", "configured port name to attach on")
	runCmd.Flags().IntVar(&runWidthFlag, "width", 1920, "frame width")
	runCmd.Flags().IntVar(&runHeightFlag, "height", 1080, "frame height")
	runCmd.Flags().IntVar(&runFPSFlag, "fps", 60, "frame rate (integer fps)")
	runCmd.Flags().StringVarP(&runOutFlag, "out", "o", "", "output raw planar video file")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reassemble one ST 2110-20 flow off a multicast socket into a file",
	RunE: func(_ *cobra.Command, _ []string) error {
		configureVerbosity()
		return runRX()
	},
}

func loadConfig() (config.Config, error) {
	if runConfigFlag != "" {
		c, err := config.ReadConfig(runConfigFlag)
		if err != nil {
			return config.Config{}, err
		}
		return *c, nil
	}
	c := config.DefaultConfig()
	c.StatsPort = 9111
	c.Ports = []config.PortConfig{{Name: runPortFlag, TotalMbps: 25000}}
	return c, nil
}

func runRX() error {
	if runOutFlag == "" {
		return fmt.Errorf("st2110-rxsample: --out must name an output file")
	}
	group := runGroupFlag
	if group == "" {
		group = os.Getenv("ST_PORT_R")
	}
	if group == "" {
		return fmt.Errorf("st2110-rxsample: --group or $ST_PORT_R must name host:port to listen on")
	}
	host, portStr, err := net.SplitHostPort(group)
	if err != nil {
		return fmt.Errorf("parse %s: %w", group, err)
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return fmt.Errorf("parse port %s: %w", portStr, err)
	}

	var iface *net.Interface
	if runIfaceFlag != "" {
		iface, err = net.InterfaceByName(runIfaceFlag)
		if err != nil {
			return fmt.Errorf("interface %s: %w", runIfaceFlag, err)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	h, err := st2110.Open(cfg, &wallClockPTP{})
	if err != nil {
		return fmt.Errorf("open handle: %w", err)
	}
	defer h.Close()

	format := rtp.VideoFormat{
		Width: runWidthFlag, Height: runHeightFlag,
		FPSNum: runFPSFlag, FPSDen: 1,
		PixelFormat: rtp.YUV422_10BE, Packing: rtp.GPMSL,
	}

	sink, err := newFileFrameSink(runOutFlag, format.FrameSize())
	if err != nil {
		return fmt.Errorf("create %s: %w", runOutFlag, err)
	}
	defer sink.Close()

	rxh, err := h.AttachRX(runPortFlag, rxvideo.Config{Format: format}, sink, nil, "rxsample")
	if err != nil {
		return fmt.Errorf("attach rx: %w", err)
	}
	defer rxh.Detach()

	sock, err := nicio.ListenRX(iface, host, port)
	if err != nil {
		return fmt.Errorf("listen %s:%d: %w", host, port, err)
	}
	defer sock.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go pumpPackets(ctx, sock, rxh.Ingest)

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.WithError(err).Debug("st2110-rxsample: sd_notify failed")
	} else if ok {
		log.Debug("st2110-rxsample: notified systemd readiness")
	}

	log.WithFields(log.Fields{"port": runPortFlag, "group": group}).Info("st2110-rxsample: receiving")
	h.Run(ctx)
	return nil
}

// pumpPackets reads datagrams off sock and pushes decoded RX packets onto
// ingest until ctx is cancelled. A failed read is logged and the loop goes
// on reading.
func pumpPackets(ctx context.Context, sock *nicio.UDPTransport, ingest chan<- rxvideo.Packet) {
	buf := make([]byte, 9000)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		hdr, srd, payload, err := sock.ReadPacket(buf)
		if err != nil {
			log.WithError(err).Warn("st2110-rxsample: packet read failed")
			continue
		}
		pkt := rxvideo.Packet{Header: hdr, SRD: srd, Payload: append([]byte(nil), payload...)}
		select {
		case ingest <- pkt:
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
			log.Warn("st2110-rxsample: ingest channel full, dropping packet")
		}
	}
}

// wallClockPTP is a free-running epoch.PTPSource for demo runs that don't
// bind to a real PTP grandmaster: the sample exercises RX reassembly, not
// PTP bring-up, so it reports the host wall clock as always synced.
type wallClockPTP struct{}

func (wallClockPTP) NowNS() int64 { return time.Now().UnixNano() }
func (wallClockPTP) Synced() bool { return true }
