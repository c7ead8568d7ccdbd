package firewall

import (
	"errors"
	"fmt"
	"time"
)

// Response ACK探测的响应分类
type Response uint8

const (
	ResponseRST         Response = iota //对端回了RST,说明ACK穿透了过滤
	ResponseNone                        //超时无响应,包被静默丢弃
	ResponseUnreachable                 //ICMP不可达/管理禁止
	ResponseError                       //探测本身出错
)

func (r Response) String() string {
	switch r {
	case ResponseRST:
		return "rst"
	case ResponseNone:
		return "no_response"
	case ResponseUnreachable:
		return "icmp_unreachable"
	}
	return "error"
}

func (r Response) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// ProbeResult 单个端口一次探测的结果,只在一轮探测内有效
type ProbeResult struct {
	Port     uint16        `json:"port"`
	Response Response      `json:"response"`
	RTT      time.Duration `json:"rtt,omitempty"` //0表示没拿到
}

// Status 防火墙判定结论
type Status string

const (
	StatusStatefulSecure      Status = "STATEFUL_SECURE"      //有状态防火墙在丢弃非会话包
	StatusStatelessVulnerable Status = "STATELESS_VULNERABLE" //无状态过滤或者根本没有防火墙
	StatusIndeterminate       Status = "INDETERMINATE"        //证据不足
)

// Method 结论的来源,消费者可以据此排序可靠性
type Method string

const (
	MethodActiveProbe      Method = "ACTIVE_PROBE"
	MethodPassiveInference Method = "PASSIVE_INFERENCE"
)

// Verdict 一次扫描唯一的对外产物,构造之后不再修改,重扫会重新构造而不是原地更新
type Verdict struct {
	Status     Status         `json:"status"`
	Confidence float64        `json:"confidence"` //[0,1],由Breakdown和Method确定性推导
	Method     Method         `json:"method,omitempty"`
	Breakdown  map[string]int `json:"port_breakdown"`
	Err        string         `json:"error,omitempty"` //探测失败原因,回退和双失败时填充
}

// ConfidencePercent 给UI用的百分比表示
func (v Verdict) ConfidencePercent() string {
	return fmt.Sprintf("%.0f%%", v.Confidence*100)
}

//实现Stringer接口,方便直接打印
func (v Verdict) String() string {
	text := fmt.Sprintf("Firewall verdict: %s (confidence %s)\n", v.Status, v.ConfidencePercent())
	if v.Method != "" {
		text = fmt.Sprintf("%s\tmethod: %s\n", text, v.Method)
	}
	for _, key := range breakdownOrder {
		if n, ok := v.Breakdown[key]; ok && n > 0 {
			text = fmt.Sprintf("%s\t%s: %d\n", text, key, n)
		}
	}
	if v.Err != "" {
		text = fmt.Sprintf("%s\trationale: %s\n", text, v.Err)
	}
	return text
}

//打印时固定顺序,map遍历是乱序的
var breakdownOrder = []string{"open", "closed", "filtered", "rst", "no_response", "icmp_unreachable", "error"}

//错误分类,探测失败会触发回退而不是让整个扫描失败
var (
	ErrProbePermission    = errors.New("raw packet injection denied: insufficient privilege")
	ErrInsufficientSample = errors.New("insufficient sample size for inference")
	ErrTotalFailure       = errors.New("active probe and passive inference both unusable")
)
