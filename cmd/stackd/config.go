package main

import (
	"fmt"
	"net"

	"github.com/spf13/viper"

	"github.com/impact-eintr/ipstack/tcpip"
)

// Config stackd的全部配置 从yaml文件加载
type Config struct {
	Log struct {
		// File 日志文件路径 为空时输出到stderr
		File string `mapstructure:"file"`

		// Level debug/info/warn/error
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Capture struct {
		// File pcap文件路径 为空时不抓包
		File string `mapstructure:"file"`
	} `mapstructure:"capture"`

	Interfaces []InterfaceConfig `mapstructure:"interfaces"`
}

// InterfaceConfig 一块虚拟网卡的配置
type InterfaceConfig struct {
	// Name 设备名 比如tap0
	Name string `mapstructure:"name"`

	// Mode tun或者tap
	Mode string `mapstructure:"mode"`

	// MTU 链路MTU
	MTU uint32 `mapstructure:"mtu"`

	// Address CIDR形式的地址 比如192.168.1.1/24
	Address string `mapstructure:"address"`

	// Gateway 默认网关地址 可以为空
	Gateway string `mapstructure:"gateway"`
}

func loadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("log.level", "info")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}

	if len(c.Interfaces) == 0 {
		return nil, fmt.Errorf("config %q: no interfaces defined", path)
	}
	for i := range c.Interfaces {
		ifc := &c.Interfaces[i]
		if ifc.Name == "" {
			return nil, fmt.Errorf("config %q: interface %d has no name", path, i)
		}
		if ifc.Mode != "tun" && ifc.Mode != "tap" {
			return nil, fmt.Errorf("config %q: interface %q: unknown mode %q", path, ifc.Name, ifc.Mode)
		}
		if ifc.MTU == 0 {
			ifc.MTU = 1500
		}
	}
	return &c, nil
}

// parseCIDR 把192.168.1.1/24这样的字符串拆成地址和前缀长度
func parseCIDR(s string) (tcpip.Address, uint8, error) {
	ip, ipnet, err := net.ParseCIDR(s)
	if err != nil {
		return "", 0, err
	}
	v4 := ip.To4()
	if v4 == nil {
		return "", 0, fmt.Errorf("%q is not an ipv4 address", s)
	}
	ones, _ := ipnet.Mask.Size()
	return tcpip.Address(v4), uint8(ones), nil
}

// parseIP 把点分十进制地址转成协议栈内部的地址表示
func parseIP(s string) (tcpip.Address, error) {
	v4 := net.ParseIP(s).To4()
	if v4 == nil {
		return "", fmt.Errorf("%q is not an ipv4 address", s)
	}
	return tcpip.Address(v4), nil
}
