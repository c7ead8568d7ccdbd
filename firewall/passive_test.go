package firewall

import (
	"math"
	"testing"

	"fwdetect/scan"
)

//构造观测集合,端口号递增,只在数量分布上做文章
func makeObs(open, closed, filtered int) []scan.PortObservation {
	obs := []scan.PortObservation{}
	port := uint16(1000)
	add := func(n int, state scan.PortState) {
		for i := 0; i < n; i++ {
			obs = append(obs, scan.PortObservation{Port: port, Protocol: "tcp", State: state})
			port++
		}
	}
	add(open, scan.PortOpen)
	add(closed, scan.PortClosed)
	add(filtered, scan.PortFiltered)
	return obs
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestInferSmallSampleAlwaysIndeterminate(t *testing.T) {
	cfg := DefaultConfig() //min_sample_size=5
	cases := []struct {
		name                 string
		open, closed, filter int
	}{
		{"empty", 0, 0, 0},
		{"four open", 4, 0, 0}, //就算全open也不许下STATELESS的结论
		{"four filtered", 0, 0, 4},
		{"mixed four", 2, 1, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := Infer(makeObs(tc.open, tc.closed, tc.filter), cfg)
			if v.Status != StatusIndeterminate {
				t.Fatalf("status = %s, want INDETERMINATE", v.Status)
			}
			if v.Confidence > 0.3 {
				t.Fatalf("confidence = %v, want <= 0.3", v.Confidence)
			}
			if v.Method != MethodPassiveInference {
				t.Fatalf("method = %s, want PASSIVE_INFERENCE", v.Method)
			}
			if v.Err == "" {
				t.Fatal("small sample should carry a rationale")
			}
		})
	}
}

func TestInferNoFilteredLeansStateless(t *testing.T) {
	v := Infer(makeObs(10, 5, 0), DefaultConfig())
	if v.Status != StatusStatelessVulnerable {
		t.Fatalf("status = %s, want STATELESS_VULNERABLE", v.Status)
	}
	//没观察到过滤不等于确定没防火墙,置信度必须是中低档
	if v.Confidence >= DefaultPassiveConfidenceCap {
		t.Fatalf("confidence = %v, want < cap", v.Confidence)
	}
	if v.Confidence <= 0.3 {
		t.Fatalf("confidence = %v, want > 0.3", v.Confidence)
	}
	//open份额10/15,置信度应该是0.3+0.3*(10/15)=0.5
	if !almostEqual(v.Confidence, 0.5) {
		t.Fatalf("confidence = %v, want 0.5", v.Confidence)
	}
}

func TestInferFilteredRatioLeansStateful(t *testing.T) {
	v := Infer(makeObs(0, 2, 8), DefaultConfig())
	if v.Status != StatusStatefulSecure {
		t.Fatalf("status = %s, want STATEFUL_SECURE", v.Status)
	}
	//按占比缩放:0.7*0.8=0.56
	if !almostEqual(v.Confidence, 0.56) {
		t.Fatalf("confidence = %v, want 0.56", v.Confidence)
	}
}

func TestInferMixedDistribution(t *testing.T) {
	//filtered占比0.4没过阈值,open又不为零filtered也不为零,落到兜底分支
	v := Infer(makeObs(3, 3, 4), DefaultConfig())
	if v.Status != StatusIndeterminate {
		t.Fatalf("status = %s, want INDETERMINATE", v.Status)
	}
	if v.Confidence <= 0 || v.Confidence > DefaultPassiveConfidenceCap {
		t.Fatalf("confidence = %v, out of range", v.Confidence)
	}
}

func TestInferNeverExceedsCap(t *testing.T) {
	cfg := DefaultConfig()
	for open := 0; open <= 20; open += 5 {
		for closed := 0; closed <= 20; closed += 5 {
			for filtered := 0; filtered <= 20; filtered += 5 {
				v := Infer(makeObs(open, closed, filtered), cfg)
				if v.Confidence > cfg.PassiveConfidenceCap {
					t.Fatalf("o=%d c=%d f=%d: confidence %v exceeds cap %v",
						open, closed, filtered, v.Confidence, cfg.PassiveConfidenceCap)
				}
				if v.Confidence < 0 || v.Confidence > 1 {
					t.Fatalf("confidence %v outside [0,1]", v.Confidence)
				}
			}
		}
	}
}

func TestInferConfigurableThresholds(t *testing.T) {
	cfg := Config{
		FilteredRatioThreshold: 0.2,
		MinSampleSize:          3,
		PassiveConfidenceCap:   0.5,
	}
	//3个样本刚好够,filtered占比1/3>0.2,应判有状态且被0.5封顶
	v := Infer(makeObs(0, 2, 1), cfg)
	if v.Status != StatusStatefulSecure {
		t.Fatalf("status = %s, want STATEFUL_SECURE", v.Status)
	}
	if v.Confidence > 0.5 {
		t.Fatalf("confidence = %v, want <= custom cap 0.5", v.Confidence)
	}
}

func TestInferBreakdownMatchesInput(t *testing.T) {
	v := Infer(makeObs(2, 3, 5), DefaultConfig())
	if v.Breakdown["open"] != 2 || v.Breakdown["closed"] != 3 || v.Breakdown["filtered"] != 5 {
		t.Fatalf("breakdown = %v", v.Breakdown)
	}
}
