package scan

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Scanner 普查扫描器的统一行为,方便以后扩展别的普查方式
type Scanner interface {
	Stop()                                                   //可以停止
	Start() error                                            //可以开始
	Scan(ctx context.Context, ports []int) ([]Result, error) //扫描需要一个ctx 端口,返回结果或者错误
	OutPutResult(result Result)                              //对外输出结果
}

// PortObservation 端口普查的单条事实,一次扫描中每个端口一条,生成后不再修改
// 防火墙引擎只依赖这三个字段
type PortObservation struct {
	Port     uint16    `json:"port"`
	Protocol string    `json:"protocol"` //tcp或udp
	State    PortState `json:"state"`
}

type Result struct {
	Host net.IP
	//三种状态,开启,关闭,过滤
	Open     []int
	Closed   []int
	Filtered []int

	Latency time.Duration //连接延迟
}

func NewResult(host net.IP) Result { //初始化
	return Result{
		Host:     host,
		Open:     []int{},
		Closed:   []int{},
		Filtered: []int{},
		Latency:  -1,
	}
}

// Observations 把普查结果摊平成防火墙引擎需要的观测集合
func (r Result) Observations() []PortObservation {
	obs := make([]PortObservation, 0, len(r.Open)+len(r.Closed)+len(r.Filtered))
	appendState := func(ports []int, state PortState) {
		for _, p := range ports {
			if p < 1 || p > 65535 { //非法端口直接丢弃,不让脏数据进入推断
				continue
			}
			obs = append(obs, PortObservation{Port: uint16(p), Protocol: "tcp", State: state})
		}
	}
	appendState(r.Open, PortOpen)
	appendState(r.Closed, PortClosed)
	appendState(r.Filtered, PortFiltered)
	return obs
}

func (r Result) IsHostUp() bool {
	return r.Latency > -1 //当主机存活时会修改默认值-1
}

//实现Stringer接口,自定义打印Result!
func (r Result) String() string {
	text := fmt.Sprintf("Scan result for %s:\n", r.Host.String())
	if r.IsHostUp() {
		text = fmt.Sprintf("%v\tHost is up with latency %v\n", text, r.Latency.String())
	} else {
		text = fmt.Sprintf("%v\tHost is down!\n", text)
	}
	text = fmt.Sprintf("%s\topen:%d closed:%d filtered:%d\n", text, len(r.Open), len(r.Closed), len(r.Filtered))
	if len(r.Open) > 0 {
		text = fmt.Sprintf("%s\t%s\t%s\t%s\n",
			text, pad("PORT", 10), pad("STATE", 10), "SERVICE")
	}

	for _, port := range r.Open {
		text = fmt.Sprintf(
			"%s\t%s\t%s\t%s\n",
			text,
			pad(fmt.Sprintf("%d/tcp", port), 10), // 8080/tcp
			pad("OPEN", 10),
			DescribePort(port),
		)
	}
	return text
}

//填充空格直到达到指定的长度
func pad(input string, length int) string {
	for len(input) < length {
		input += " "
	}
	return input
}
