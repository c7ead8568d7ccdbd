package firewall

import "time"

//默认值,和配置文件中的字段一一对应
const (
	DefaultProbeTimeout           = 2 * time.Second
	DefaultMaxConcurrentProbes    = 15
	DefaultFilteredRatioThreshold = 0.5
	DefaultMinSampleSize          = 5
	DefaultPassiveConfidenceCap   = 0.7
)

// Config 判定引擎的全部可调参数,构造时传入,之后不可变,不读全局状态
// 阈值是经验值不是定律,所以全部可配置
type Config struct {
	ProbeTimeout           time.Duration //单端口探测超时
	MaxConcurrentProbes    int           //探测并发上限
	FilteredRatioThreshold float64       //被动推断:filtered占比超过该值判定有状态
	MinSampleSize          int           //被动推断:低于该样本数直接INDETERMINATE
	PassiveConfidenceCap   float64       //被动推断置信度的硬上限
}

func DefaultConfig() Config {
	return Config{
		ProbeTimeout:           DefaultProbeTimeout,
		MaxConcurrentProbes:    DefaultMaxConcurrentProbes,
		FilteredRatioThreshold: DefaultFilteredRatioThreshold,
		MinSampleSize:          DefaultMinSampleSize,
		PassiveConfidenceCap:   DefaultPassiveConfidenceCap,
	}
}

//零值字段补成默认值,防止空Config把引擎弄瘫
func (c Config) withDefaults() Config {
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.MaxConcurrentProbes <= 0 {
		c.MaxConcurrentProbes = DefaultMaxConcurrentProbes
	}
	if c.FilteredRatioThreshold <= 0 || c.FilteredRatioThreshold >= 1 {
		c.FilteredRatioThreshold = DefaultFilteredRatioThreshold
	}
	if c.MinSampleSize <= 0 {
		c.MinSampleSize = DefaultMinSampleSize
	}
	if c.PassiveConfidenceCap <= 0 || c.PassiveConfidenceCap > 1 {
		c.PassiveConfidenceCap = DefaultPassiveConfidenceCap
	}
	return c
}
