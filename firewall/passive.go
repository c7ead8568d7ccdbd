package firewall

import (
	"fwdetect/scan"

	log "github.com/sirupsen/logrus"
)

// Infer 被动推断:只靠普查到的端口状态分布推测防火墙形态,是主动探测失败后的备胎
// 明确弱于主动探测,置信度永远不超过PassiveConfidenceCap
func Infer(obs []scan.PortObservation, cfg Config) Verdict {
	cfg = cfg.withDefaults()

	breakdown := countStates(obs)
	open := breakdown["open"]
	closed := breakdown["closed"]
	filtered := breakdown["filtered"]
	total := open + closed + filtered
	cap := cfg.PassiveConfidenceCap

	log.Debugf("被动推断: open=%d closed=%d filtered=%d", open, closed, filtered)

	//样本太小没有统计意义,先于其他规则判断,空集合也落在这里
	if total < cfg.MinSampleSize {
		conf := 0.0
		if total > 0 {
			conf = 0.3 * float64(total) / float64(cfg.MinSampleSize)
		}
		return Verdict{
			Status:     StatusIndeterminate,
			Confidence: clamp(conf, cap),
			Method:     MethodPassiveInference,
			Breakdown:  breakdown,
			Err:        ErrInsufficientSample.Error(),
		}
	}

	//完全没有filtered且有开放端口:没观察到过滤,倾向无防火墙或无状态过滤
	//也可能单纯是防火墙放行了这些端口,所以置信度只能给中低
	if filtered == 0 && open > 0 {
		openShare := float64(open) / float64(total)
		return Verdict{
			Status:     StatusStatelessVulnerable,
			Confidence: clamp(0.3+0.3*openShare, cap),
			Method:     MethodPassiveInference,
			Breakdown:  breakdown,
		}
	}

	//filtered占比超过阈值:大量静默丢包,倾向有状态防火墙,按占比缩放置信度
	ratio := float64(filtered) / float64(total)
	if filtered > 0 && ratio > cfg.FilteredRatioThreshold {
		return Verdict{
			Status:     StatusStatefulSecure,
			Confidence: clamp(cap*ratio, cap),
			Method:     MethodPassiveInference,
			Breakdown:  breakdown,
		}
	}

	//分布混杂,给不出结论,置信度和主导状态的占比挂钩
	dominant := open
	if closed > dominant {
		dominant = closed
	}
	if filtered > dominant {
		dominant = filtered
	}
	return Verdict{
		Status:     StatusIndeterminate,
		Confidence: clamp(cap*float64(dominant)/float64(total)*0.5, cap),
		Method:     MethodPassiveInference,
		Breakdown:  breakdown,
	}
}

//统计各状态数量,非法端口和未知状态不计入
func countStates(obs []scan.PortObservation) map[string]int {
	breakdown := map[string]int{"open": 0, "closed": 0, "filtered": 0}
	for _, o := range obs {
		if o.Port < 1 {
			continue
		}
		switch o.State {
		case scan.PortOpen:
			breakdown["open"]++
		case scan.PortClosed:
			breakdown["closed"]++
		case scan.PortFiltered:
			breakdown["filtered"]++
		}
	}
	return breakdown
}

func clamp(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
