package scan

import (
	"context"
	"net"
)

//用于端口普查
type portJob struct {
	ip net.IP
	//三个通道归类不同状态的端口
	port     int
	open     chan int
	closed   chan int
	filtered chan int
	done     chan struct{}   //信号通道
	ctx      context.Context //用于控制
}
