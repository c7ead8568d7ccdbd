package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"fwdetect/firewall"
)

// Config 对应config.yaml,字段名和对外文档里的配置项保持一致
type Config struct {
	ProbeTimeoutMS         int     `yaml:"probe_timeout_ms"`
	MaxConcurrentProbes    int     `yaml:"max_concurrent_probes"`
	FilteredRatioThreshold float64 `yaml:"filtered_ratio_threshold"`
	MinSampleSize          int     `yaml:"min_sample_size"`
	PassiveConfidenceCap   float64 `yaml:"passive_confidence_cap"`

	Census struct {
		TimeoutMS int    `yaml:"timeout_ms"`
		Workers   int    `yaml:"workers"`
		Ports     string `yaml:"ports"` //逗号分隔,支持连字符区间,空则用内置端口表
	} `yaml:"census"`
}

func Default() *Config {
	c := &Config{
		ProbeTimeoutMS:         2000,
		MaxConcurrentProbes:    15,
		FilteredRatioThreshold: 0.5,
		MinSampleSize:          5,
		PassiveConfidenceCap:   0.7,
	}
	c.Census.TimeoutMS = 1000
	c.Census.Workers = 500
	return c
}

// Load 读取YAML配置,文件不存在时生成一份带默认值的并继续用默认值跑
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("配置文件 %s 不存在,正在生成默认配置文件...\n", path)
			if genErr := generateDefaultConfig(path); genErr != nil {
				return nil, fmt.Errorf("生成默认配置文件失败: %w", genErr)
			}
			return Default(), nil
		}
		return nil, err
	}

	cfg := Default() //文件里缺的字段落回默认值
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	return cfg, nil
}

// Firewall 转换成判定引擎需要的不可变配置
func (c *Config) Firewall() firewall.Config {
	return firewall.Config{
		ProbeTimeout:           time.Duration(c.ProbeTimeoutMS) * time.Millisecond,
		MaxConcurrentProbes:    c.MaxConcurrentProbes,
		FilteredRatioThreshold: c.FilteredRatioThreshold,
		MinSampleSize:          c.MinSampleSize,
		PassiveConfidenceCap:   c.PassiveConfidenceCap,
	}
}

// CensusTimeout 普查的连接超时
func (c *Config) CensusTimeout() time.Duration {
	return time.Duration(c.Census.TimeoutMS) * time.Millisecond
}

func generateDefaultConfig(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	header := []byte("# fwdetect配置,阈值是经验值,按需调整\n")
	return os.WriteFile(path, append(header, data...), 0644)
}
