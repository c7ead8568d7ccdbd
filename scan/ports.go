package scan

type PortState uint8

const (
	PortUnknown PortState = iota
	PortOpen
	PortClosed
	PortFiltered
)

func (s PortState) String() string {
	switch s {
	case PortOpen:
		return "open"
	case PortClosed:
		return "closed"
	case PortFiltered:
		return "filtered"
	}
	return "unknown"
}

// MarshalJSON 输出给外部消费者时状态用字符串表示
func (s PortState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

var DefaultPorts []int

func init() {

	for port := range knownPorts { //初始化默认端口列表
		DefaultPorts = append(DefaultPorts, port)
	}
}

func DescribePort(port int) string { //返回端口的描述
	if s, ok := knownPorts[port]; ok {
		return s
	}

	return ""
}
