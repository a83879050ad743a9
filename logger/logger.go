// Package logger 在logrus之上加了一层按子系统过滤的开关
//
//	logger.SetFlags(logger.ROUTE | logger.SEND)
//	logger.GetInstance().Infof(logger.ROUTE, "...") // 会输出
//	logger.GetInstance().Infof(logger.RX, "...")    // 不会输出
package logger

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// 各个子系统的掩码
const (
	ETH uint16 = 1 << iota
	IP
	ICMP
	ROUTE
	SEND
	RX

	// ALL 打开所有子系统
	ALL = ^uint16(0)
)

type logger struct {
	flags uint16
	log   *logrus.Logger
}

var instance *logger
var once sync.Once

// GetInstance 获取日志单例
func GetInstance() *logger {
	once.Do(func() {
		instance = &logger{
			log: logrus.New(),
		}
	})
	return instance
}

// SetFlags 设置要输出哪些子系统的日志
func SetFlags(flags uint16) {
	GetInstance().flags = flags
}

// SetLevel 设置日志级别
func SetLevel(level logrus.Level) {
	GetInstance().log.SetLevel(level)
}

// SetOutput 重定向日志输出 比如接到lumberjack上做轮转
func SetOutput(w io.Writer) {
	GetInstance().log.SetOutput(w)
}

// Raw 返回底层的logrus实例 给需要精细配置的调用者用
func Raw() *logrus.Logger {
	return GetInstance().log
}

func (l *logger) Debugf(mask uint16, format string, args ...interface{}) {
	if mask&l.flags != 0 {
		l.log.Debugf(format, args...)
	}
}

func (l *logger) Infof(mask uint16, format string, args ...interface{}) {
	if mask&l.flags != 0 {
		l.log.Infof(format, args...)
	}
}

// Warnf和Errorf不做过滤 问题总是要暴露出来的
func (l *logger) Warnf(format string, args ...interface{}) {
	l.log.Warnf(format, args...)
}

func (l *logger) Errorf(format string, args ...interface{}) {
	l.log.Errorf(format, args...)
}
