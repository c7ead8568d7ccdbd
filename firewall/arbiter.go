package firewall

import (
	"context"
	"errors"
	"fmt"
	"net"

	"fwdetect/scan"

	log "github.com/sirupsen/logrus"
)

// Prober 主动探测能力的抽象,仲裁器不关心包是怎么发的,测试时可以注入失败场景
type Prober interface {
	Probe(ctx context.Context, target net.IP, ports []uint16) ([]ProbeResult, error)
}

//一次扫描的状态机,PROBING失败才进INFERRING,绝不并行投机
type scanState uint8

const (
	stateInit scanState = iota
	stateProbing
	stateInferring
	stateVerdictReady
)

func (s scanState) String() string {
	switch s {
	case stateProbing:
		return "PROBING"
	case stateInferring:
		return "INFERRING"
	case stateVerdictReady:
		return "VERDICT_READY"
	}
	return "INIT"
}

// Arbiter 编排两个引擎,每次Determine产出且仅产出一个Verdict
// 配置在构造时传入之后不变,多个目标可以各建各的Arbiter并行跑
type Arbiter struct {
	cfg    Config
	prober Prober //可以为nil,表示当前环境没有主动探测能力
}

func NewArbiter(cfg Config, prober Prober) *Arbiter {
	return &Arbiter{
		cfg:    cfg.withDefaults(),
		prober: prober,
	}
}

// Determine 防火墙判定的唯一入口,主动探测优先,失败则回退被动推断
// 任何输入都不会panic,最坏也是带error的INDETERMINATE
func (a *Arbiter) Determine(ctx context.Context, target net.IP, obs []scan.PortObservation) Verdict {
	state := stateProbing
	log.Debugf("[%s] %s: 尝试主动ACK探测", state, target)

	results, probeErr := a.probe(ctx, target, obs)
	if probeErr == nil {
		state = stateVerdictReady
		v := judgeActive(results)
		log.Debugf("[%s] %s: %s (%s)", state, target, v.Status, v.ConfidencePercent())
		return v
	}

	state = stateInferring
	log.Debugf("[%s] %s: 主动探测不可用(%v),回退被动推断", state, target, probeErr)

	v := Infer(obs, a.cfg)
	if countStatesTotal(v.Breakdown) == 0 {
		//两条路都走不通:没有观测数据,主动探测也失败了
		v.Method = ""
		v.Err = fmt.Sprintf("%v: %v; no port observations to infer from", ErrTotalFailure, probeErr)
	} else if v.Err != "" {
		v.Err = fmt.Sprintf("active probe unavailable: %v; %s", probeErr, v.Err)
	} else {
		//被动结论也要带上回退的原因,消费者需要区分它和高置信的主动结果
		v.Err = fmt.Sprintf("active probe unavailable: %v", probeErr)
	}
	state = stateVerdictReady
	log.Debugf("[%s] %s: %s (%s)", state, target, v.Status, v.ConfidencePercent())
	return v
}

//执行PROBING阶段,任何失败都返回结构化错误触发回退
func (a *Arbiter) probe(ctx context.Context, target net.IP, obs []scan.PortObservation) ([]ProbeResult, error) {
	if a.prober == nil {
		return nil, ErrProbePermission
	}
	if target == nil {
		return nil, errors.New("no target address")
	}

	candidates := candidatePorts(obs)
	if len(candidates) == 0 {
		//全是open的端口对防火墙判定没有区分度,没得探
		return nil, errors.New("no filtered or closed ports worth probing")
	}

	results, err := a.prober.Probe(ctx, target, candidates)
	if err != nil {
		return nil, err
	}

	ok := 0
	for _, r := range results {
		if r.Response != ResponseError {
			ok++
		}
	}
	if ok == 0 { //一个有效响应都没有,不能打ACTIVE_PROBE的戳
		return nil, errors.New("no usable probe result")
	}
	return results, nil
}

// candidatePorts 从普查观测中挑探测对象:filtered和closed
// open端口对方必然回RST,探了也分不出有无防火墙,直接跳过
func candidatePorts(obs []scan.PortObservation) []uint16 {
	seen := make(map[uint16]struct{})
	ports := make([]uint16, 0, len(obs))
	for _, o := range obs {
		if o.Protocol != "tcp" || o.Port < 1 {
			continue
		}
		if o.State != scan.PortFiltered && o.State != scan.PortClosed {
			continue
		}
		if _, ok := seen[o.Port]; ok {
			continue
		}
		seen[o.Port] = struct{}{}
		ports = append(ports, o.Port)
	}
	return ports
}

// judgeActive 把探测的原始计数变成结论,贴标签是仲裁器的事,探测引擎只报数
func judgeActive(results []ProbeResult) Verdict {
	breakdown := map[string]int{}
	for _, r := range results {
		breakdown[r.Response.String()]++
	}

	rst := breakdown["rst"]
	filtered := breakdown["no_response"] + breakdown["icmp_unreachable"]
	total := rst + filtered

	v := Verdict{
		Method:    MethodActiveProbe,
		Breakdown: breakdown,
	}
	if total == 0 { //调用方保证不会发生,兜底而已
		v.Status = StatusIndeterminate
		return v
	}

	//多数RST说明非会话包大量穿透,是无状态过滤的信号
	//多数被过滤说明有设备在跟踪会话并丢弃,是有状态防火墙的信号
	//置信度由优势幅度决定,全票0.95,平票不强行下结论
	margin := float64(rst-filtered) / float64(total)
	if margin < 0 {
		margin = -margin
	}
	switch {
	case rst > filtered:
		v.Status = StatusStatelessVulnerable
		v.Confidence = 0.7 + 0.25*margin
	case filtered > rst:
		v.Status = StatusStatefulSecure
		v.Confidence = 0.7 + 0.25*margin
	default:
		v.Status = StatusIndeterminate
		v.Confidence = 0.5
	}
	return v
}

func countStatesTotal(breakdown map[string]int) int {
	return breakdown["open"] + breakdown["closed"] + breakdown["filtered"]
}
