package firewall

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/routing"
	"github.com/mostlygeek/arp"
	"github.com/phayes/freeport"
)

//使用gopacket包使得go能够处理数据包

// pcapConn probeConn的真实现,一轮探测独占一个pcap句柄
type pcapConn struct {
	handle    *pcap.Handle
	closeOnce sync.Once //超时/取消/defer都会调close,必须幂等

	serializeOptions gopacket.SerializeOptions
	eth              layers.Ethernet
	ip4              layers.IPv4
	srcPort          layers.TCPPort //我们的源端口,用来过滤回包
	ipFlow           gopacket.Flow

	sendMu     sync.Mutex
	sendClosed bool                 //置位后拒绝再发,防止往已关闭的句柄里写
	sentAt     map[uint16]time.Time //记录发包时间,用于算RTT

	//收包解析的复用对象,readReply只在一个G里跑
	decEth  layers.Ethernet
	decIP4  layers.IPv4
	decTCP  layers.TCP
	decICMP layers.ICMPv4
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

// dialPcap 打开到目标的原始包传输:查路由,开pcap,解析MAC,准备好包模板
// 打不开基本都是权限问题,包装成ErrProbePermission让仲裁器识别
func dialPcap(target net.IP, timeout time.Duration) (probeConn, error) {
	router, err := routing.New()
	if err != nil {
		return nil, wrapPermission(err)
	}

	networkInterface, gateway, srcIP, err := router.Route(target)
	if err != nil {
		return nil, err
	}

	handle, err := pcap.OpenLive(networkInterface.Name, 65535, true, pcap.BlockForever)
	if err != nil {
		return nil, wrapPermission(err)
	}

	serializeOptions := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}

	rawPort, err := freeport.GetFreePort() //获取一个空闲的端口
	if err != nil {
		handle.Close()
		return nil, err
	}

	//根据IP 获取硬件MAC地址
	hwaddr, err := getHwAddr(networkInterface, target, gateway, srcIP, serializeOptions, timeout)
	if err != nil {
		handle.Close()
		return nil, err
	}

	c := &pcapConn{
		handle:           handle,
		serializeOptions: serializeOptions,
		eth: layers.Ethernet{
			SrcMAC:       networkInterface.HardwareAddr,
			DstMAC:       hwaddr,
			EthernetType: layers.EthernetTypeIPv4,
		},
		ip4: layers.IPv4{
			SrcIP:    srcIP,
			DstIP:    target,
			Version:  4,
			TTL:      255,
			Protocol: layers.IPProtocolTCP,
		},
		srcPort: layers.TCPPort(rawPort),
		ipFlow:  gopacket.NewFlow(layers.EndpointIPv4, target, srcIP),
		sentAt:  make(map[uint16]time.Time),
	}
	c.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &c.decEth, &c.decIP4, &c.decTCP, &c.decICMP)
	c.parser.IgnoreUnsupported = true //中间可能夹着我们不关心的层
	return c, nil
}

func (c *pcapConn) sendAck(port uint16) error {
	//无握手,裸发一个只带ACK的段,有状态设备查不到会话就会丢弃它
	tcp := layers.TCP{
		SrcPort: c.srcPort,
		DstPort: layers.TCPPort(port),
		ACK:     true,
		Ack:     1,
		Window:  1024,
	}
	tcp.SetNetworkLayerForChecksum(&c.ip4)

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return errors.New("probe transport closed")
	}
	c.sentAt[port] = time.Now()

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, c.serializeOptions, &c.eth, &c.ip4, &tcp); err != nil {
		return err
	}
	return c.handle.WritePacketData(buf.Bytes())
}

func (c *pcapConn) readReply() (reply, error) {
	for {
		data, _, err := c.handle.ReadPacketData()
		if err == pcap.NextErrorTimeoutExpired {
			return reply{}, io.EOF
		} else if err != nil {
			//句柄被关闭或链路断开,收包结束
			return reply{}, io.EOF
		}

		//解析返回的数据,判断响应类型
		if err := c.parser.DecodeLayers(data, &c.decoded); err != nil {
			continue
		}
		flowMatched := false
		for _, layerType := range c.decoded {
			switch layerType {
			case layers.LayerTypeIPv4:
				if c.decIP4.NetworkFlow() != c.ipFlow {
					continue
				}
				flowMatched = true
			case layers.LayerTypeTCP:
				if !flowMatched || c.decTCP.DstPort != c.srcPort {
					continue
				}
				if c.decTCP.RST { //RST说明ACK穿透了,传输层没有过滤
					port := uint16(c.decTCP.SrcPort)
					return reply{port: port, response: ResponseRST, rtt: c.rttFor(port)}, nil
				}
				//其他标志位不参与判定
			case layers.LayerTypeICMPv4:
				if !flowMatched {
					continue
				}
				if port, ok := c.unreachablePort(); ok {
					return reply{port: port, response: ResponseUnreachable, rtt: c.rttFor(port)}, nil
				}
			}
		}
	}
}

//从ICMP不可达报文里挖出我们探测的端口
//ICMP载荷是原始IP头加前8字节,里面有我们发出去的TCP端口对
func (c *pcapConn) unreachablePort() (uint16, bool) {
	if c.decICMP.TypeCode.Type() != layers.ICMPv4TypeDestinationUnreachable {
		return 0, false
	}
	switch c.decICMP.TypeCode.Code() {
	case layers.ICMPv4CodeHost,
		layers.ICMPv4CodeProtocol,
		layers.ICMPv4CodePort,
		layers.ICMPv4CodeNetAdminProhibited,
		layers.ICMPv4CodeHostAdminProhibited,
		layers.ICMPv4CodeCommAdminProhibited:
	default:
		return 0, false
	}

	payload := c.decICMP.Payload
	if len(payload) < 20 {
		return 0, false
	}
	ihl := int(payload[0]&0x0f) * 4
	if len(payload) < ihl+4 || payload[9] != 6 { //内层必须是TCP
		return 0, false
	}
	innerSrc := binary.BigEndian.Uint16(payload[ihl : ihl+2])
	if innerSrc != uint16(c.srcPort) { //不是我们发的包
		return 0, false
	}
	return binary.BigEndian.Uint16(payload[ihl+2 : ihl+4]), true
}

func (c *pcapConn) rttFor(port uint16) time.Duration {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if t, ok := c.sentAt[port]; ok {
		return time.Since(t)
	}
	return 0
}

func (c *pcapConn) close() {
	c.closeOnce.Do(func() {
		//先挡住发包方再关句柄,关句柄会让收包循环以io.EOF退出
		c.sendMu.Lock()
		c.sendClosed = true
		c.sendMu.Unlock()
		c.handle.Close()
	})
}

func getHwAddr(networkInterface *net.Interface, ip net.IP, gateway net.IP, srcIP net.IP, serializeOptions gopacket.SerializeOptions, timeout time.Duration) (net.HardwareAddr, error) {
	//先查看ARP中是否有缓存,有且正确的话直接返回
	macStr := arp.Search(ip.String())
	if macStr != "00:00:00:00:00:00" && macStr != "" {
		if mac, err := net.ParseMAC(macStr); err == nil {
			return mac, nil
		}
	}

	arpDst := ip
	if gateway != nil {
		arpDst = gateway
	}

	handle, err := pcap.OpenLive(networkInterface.Name, 65535, true, pcap.BlockForever)
	if err != nil {
		return nil, wrapPermission(err)
	}
	defer handle.Close()

	start := time.Now()

	//发送ARP请求做准备
	eth := layers.Ethernet{
		SrcMAC:       networkInterface.HardwareAddr,
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	arpReq := layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   []byte(networkInterface.HardwareAddr),
		SourceProtAddress: []byte(srcIP.To4()),
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte(arpDst.To4()),
	}
	buf := gopacket.NewSerializeBuffer()

	if err := gopacket.SerializeLayers(buf, serializeOptions, &eth, &arpReq); err != nil {
		return nil, err
	}
	if err := handle.WritePacketData(buf.Bytes()); err != nil {
		return nil, err
	}

	for {
		if time.Since(start) > timeout {
			return nil, errors.New("timeout getting ARP reply")
		}
		data, _, err := handle.ReadPacketData()
		if err == pcap.NextErrorTimeoutExpired {
			continue
		} else if err != nil {
			return nil, err
		}
		packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)
		if arpLayer := packet.Layer(layers.LayerTypeARP); arpLayer != nil {
			a := arpLayer.(*layers.ARP)
			if net.IP(a.SourceProtAddress).Equal(arpDst.To4()) {
				return net.HardwareAddr(a.SourceHwAddress), nil
			}
		}
	}
}

//权限类失败统一归到ErrProbePermission,仲裁器据此回退
func wrapPermission(err error) error {
	return &permissionError{cause: err}
}

type permissionError struct {
	cause error
}

func (e *permissionError) Error() string {
	return ErrProbePermission.Error() + ": " + e.cause.Error()
}

func (e *permissionError) Unwrap() error { return ErrProbePermission }
