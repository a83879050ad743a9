// stackd 在TUN/TAP设备上跑一个用户态IPv4协议栈
// 收到的echo request会被自动回显 可以直接用ping验证
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/impact-eintr/ipstack/logger"
	"github.com/impact-eintr/ipstack/tcpip"
	"github.com/impact-eintr/ipstack/tcpip/buffer"
	"github.com/impact-eintr/ipstack/tcpip/link/fdbased"
	"github.com/impact-eintr/ipstack/tcpip/link/sniffer"
	"github.com/impact-eintr/ipstack/tcpip/link/tuntap"
	"github.com/impact-eintr/ipstack/tcpip/network/ipv4"
	"github.com/impact-eintr/ipstack/tcpip/stack"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "stackd",
	Short:        "user-mode ipv4 stack on tun/tap devices",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "stackd.yml", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging(cfg *Config) error {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("bad log level %q: %w", cfg.Log.Level, err)
	}
	logger.SetLevel(level)
	logger.SetFlags(logger.ALL)

	if cfg.Log.File != "" {
		logger.SetOutput(&lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    64, // MB
			MaxBackups: 4,
		})
	}
	return nil
}

func createNIC(s *stack.Stack, id tcpip.NICID, ifc *InterfaceConfig, capture string) error {
	mode := tuntap.TUN
	if ifc.Mode == "tap" {
		mode = tuntap.TAP
	}

	fd, err := tuntap.NewNetDev(&tuntap.Option{Name: ifc.Name, Mode: mode})
	if err != nil {
		return err
	}
	if err := tuntap.SetLinkUp(ifc.Name); err != nil {
		return err
	}

	opts := &fdbased.Options{
		FD:  fd,
		MTU: ifc.MTU,
		ClosedFunc: func(e *tcpip.Error) {
			if e != nil {
				logger.GetInstance().Errorf("device %s closed: %v", ifc.Name, e)
			}
		},
	}
	if mode == tuntap.TAP {
		mac, err := tuntap.GetHardwareAddr(ifc.Name)
		if err != nil {
			return err
		}
		opts.EthernetHeader = true
		opts.Address = tcpip.LinkAddress(mac)
	}
	linkID := fdbased.New(opts)

	if capture != "" {
		// 每块网卡一个独立的pcap文件
		f, err := os.Create(fmt.Sprintf("%s.%s", capture, ifc.Name))
		if err != nil {
			return fmt.Errorf("create capture file: %w", err)
		}
		linkID, err = sniffer.New(linkID, f)
		if err != nil {
			return err
		}
	}

	if err := s.CreateNamedNIC(id, ifc.Name, linkID); err != nil {
		return fmt.Errorf("create nic %q: %v", ifc.Name, err)
	}
	nic := s.NIC(id)

	addr, prefix, err := parseCIDR(ifc.Address)
	if err != nil {
		return err
	}
	if err := nic.SetAddress(stack.MakeAddressSetting(prefix, addr)); err != nil {
		return fmt.Errorf("set address on %q: %v", ifc.Name, err)
	}

	if ifc.Gateway != "" {
		gw, err := parseIP(ifc.Gateway)
		if err != nil {
			return err
		}
		if err := nic.SetGateway(stack.MakeGatewaySetting(gw)); err != nil {
			return fmt.Errorf("set gateway on %q: %v", ifc.Name, err)
		}
	}
	return nil
}

// logHandler 把收到的报文记到日志里 当作观察协议栈工作的探针
type logHandler struct {
	name string
}

func (h *logHandler) HandlePacket(rx stack.RxInfoIP4, vv buffer.VectorisedView) {
	logger.GetInstance().Infof(logger.RX, "%s: %d bytes %s -> %s",
		h.name, vv.Size(), rx.SrcAddr, rx.DstAddr)
}

func (h *logHandler) HandleControlPacket(rx stack.RxInfoIP4, meta stack.DestUnreachMeta,
	vv buffer.VectorisedView) {
	logger.GetInstance().Warnf("%s: destination %s unreachable, code %d",
		h.name, rx.DstAddr, meta.Code)
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}

	s := stack.New([]string{ipv4.ProtocolName})
	for i := range cfg.Interfaces {
		if err := createNIC(s, tcpip.NICID(i+1), &cfg.Interfaces[i], cfg.Capture.File); err != nil {
			return err
		}
	}

	// UDP和ICMP回显之外的报文没有消费者 挂一个探针便于排查
	s.RegisterTransportHandler(17, &logHandler{name: "udp"})

	logger.GetInstance().Infof(logger.IP, "stackd running with %d interface(s)", len(cfg.Interfaces))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	st := s.Stats()
	logger.GetInstance().Infof(logger.IP, "shutting down: rx=%d tx=%d dropped=%d",
		st.IP.PacketsReceived.Value(), st.IP.PacketsSent.Value(), st.IP.DroppedPackets.Value())
	return nil
}
