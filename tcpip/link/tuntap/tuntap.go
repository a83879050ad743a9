// Package tuntap 提供Linux下TUN/TAP虚拟网卡的创建和配置
package tuntap

import (
	"fmt"
	"net"
	"os/exec"

	"golang.org/x/sys/unix"
)

const (
	// TUN 三层设备 收发的是裸IP报文
	TUN = 1

	// TAP 二层设备 收发的是以太网帧
	TAP = 2
)

// Option 创建虚拟网卡的参数
type Option struct {
	// Name 网卡名 比如tap0
	Name string

	// Mode TUN或TAP
	Mode int
}

// NewNetDev 创建一块虚拟网卡并返回它的文件描述符
func NewNetDev(opt *Option) (int, error) {
	var flags uint16 = unix.IFF_NO_PI
	switch opt.Mode {
	case TUN:
		flags |= unix.IFF_TUN
	case TAP:
		flags |= unix.IFF_TAP
	default:
		return -1, fmt.Errorf("tuntap: unknown mode %d", opt.Mode)
	}

	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR, 0)
	if err != nil {
		return -1, fmt.Errorf("tuntap: open /dev/net/tun: %w", err)
	}

	ifr, err := unix.NewIfreq(opt.Name)
	if err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("tuntap: bad device name %q: %w", opt.Name, err)
	}
	ifr.SetUint16(flags)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("tuntap: TUNSETIFF %q: %w", opt.Name, err)
	}

	return fd, nil
}

// SetLinkUp 启动网卡
func SetLinkUp(name string) error {
	out, err := exec.Command("ip", "link", "set", name, "up").CombinedOutput()
	if err != nil {
		return fmt.Errorf("tuntap: link up %q: %v: %s", name, err, out)
	}
	return nil
}

// SetRoute 给网卡添加一条路由 cidr形如192.168.1.0/24
func SetRoute(name, cidr string) error {
	out, err := exec.Command("ip", "route", "add", cidr, "dev", name).CombinedOutput()
	if err != nil {
		return fmt.Errorf("tuntap: route add %q via %q: %v: %s", cidr, name, err, out)
	}
	return nil
}

// AddIP 给网卡绑定一个IP地址
func AddIP(name, ip string) error {
	out, err := exec.Command("ip", "addr", "add", ip, "dev", name).CombinedOutput()
	if err != nil {
		return fmt.Errorf("tuntap: addr add %q to %q: %v: %s", ip, name, err, out)
	}
	return nil
}

// GetHardwareAddr 获取网卡的MAC地址 TUN设备没有MAC地址会返回错误
func GetHardwareAddr(name string) (string, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return "", err
	}
	if len(iface.HardwareAddr) == 0 {
		return "", fmt.Errorf("tuntap: %q has no hardware address", name)
	}
	return string(iface.HardwareAddr), nil
}
