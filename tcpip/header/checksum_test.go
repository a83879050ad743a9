package header

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksum(t *testing.T) {
	// RFC1071的计算示例
	buf := []byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7}
	assert.Equal(t, uint16(0xddf2), Checksum(buf, 0))
}

func TestChecksumOddLength(t *testing.T) {
	// 奇数长度时最后一个字节按高位补齐
	buf := []byte{0x12, 0x34, 0x56}
	assert.Equal(t, uint16(0x1234+0x5600), Checksum(buf, 0))
}

func TestChecksumIncremental(t *testing.T) {
	buf := []byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7}

	// 分两段累加与一次算完结果一致
	partial := Checksum(buf[:4], 0)
	assert.Equal(t, Checksum(buf, 0), Checksum(buf[4:], partial))
}

func TestChecksumCombine(t *testing.T) {
	assert.Equal(t, uint16(0x579b), ChecksumCombine(0x1234, 0x4567))
	// 进位回卷 0xffff在反码和里等价于0
	assert.Equal(t, uint16(0x0002), ChecksumCombine(0xffff, 0x0002))
}
