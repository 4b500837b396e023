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
	"github.com/stormlinemedia/st2110core/internal/txvideo"
	"github.com/stormlinemedia/st2110core/st2110"
)

var (
	runConfigFlag string
	runDestFlag   string
	runPortFlag   string
	runWidthFlag  int
	runHeightFlag int
	runFPSFlag    int
	runLoopFlag   bool
)

func init() {
	runCmd.Flags().StringVarP(&runConfigFlag, "config", "c", "", "library init config YAML (defaults built in if unset)")
	runCmd.Flags().StringVarP(&runDestFlag, "dest", "d", "", "UDP destination host:port, $ST_PORT_P if unset. Empty runs the internal loopback")
	runCmd.Flags().StringVarP(&runPortFlag, "port", "p", "p0", "configured port name to attach on")
	runCmd.Flags().IntVar(&runWidthFlag, "width", 1920, "frame width")
	runCmd.Flags().IntVar(&runHeightFlag, "height", 1080, "frame height")
	runCmd.Flags().IntVar(&runFPSFlag, "fps", 60, "frame rate (integer fps)")
	runCmd.Flags().BoolVar(&runLoopFlag, "loop", true, "loop the input file once it is exhausted")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Pace a raw YUV file out as one ST 2110-20 flow",
	RunE: func(_ *cobra.Command, _ []string) error {
		configureVerbosity()
		return runTX()
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
	c.Ports = []config.PortConfig{{Name: runPortFlag, TotalMbps: 25000}}
	return c, nil
}

func runTX() error {
	yuvPath := os.Getenv("YUVFILE")
	if yuvPath == "" {
		return fmt.Errorf("st2110-txsample: YUVFILE must name a raw planar video file")
	}
	dest := runDestFlag
	if dest == "" {
		dest = os.Getenv("ST_PORT_P")
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

	source, err := newFileFrameSource(yuvPath, format.FrameSize(), runLoopFlag)
	if err != nil {
		return fmt.Errorf("open %s: %w", yuvPath, err)
	}
	defer source.Close()

	var send func([]byte) error
	var loop *nicio.SoftLoopback
	if dest == "" {
		log.Warn("st2110-txsample: no destination given, tracing onto an internal loopback")
		loop = nicio.NewSoftLoopback(0, 0)
		send = loop.TXQueueEnqueue()
	} else {
		tx, err := nicio.DialTX(dest)
		if err != nil {
			return fmt.Errorf("dial %s: %w", dest, err)
		}
		defer tx.Close()
		send = tx.Enqueue
	}

	txh, err := h.AttachTX(runPortFlag, txvideo.Config{Format: format, PayloadType: 96, SSRC: 1}, source, send, "txsample")
	if err != nil {
		return fmt.Errorf("attach tx: %w", err)
	}
	defer txh.Detach()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.WithError(err).Debug("st2110-txsample: sd_notify failed")
	} else if ok {
		log.Debug("st2110-txsample: notified systemd readiness")
	}

	log.WithFields(log.Fields{"port": runPortFlag, "format": format}).Info("st2110-txsample: transmitting")
	h.Run(ctx)
	return nil
}

// wallClockPTP is a free-running epoch.PTPSource for demo runs that don't
// bind to a real PTP grandmaster: the sample exercises TX pacing, not PTP
// bring-up, so it reports the host wall clock as always synced.
type wallClockPTP struct{}

func (wallClockPTP) NowNS() int64 { return time.Now().UnixNano() }
func (wallClockPTP) Synced() bool { return true }
