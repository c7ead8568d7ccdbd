package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"fwdetect/config"
	"fwdetect/firewall"
	"fwdetect/scan"
)

//默认值
var debug bool                  //日志级别
var configPath = "config.yaml"  //配置文件路径
var probeTimeoutMS int          //单端口探测超时
var probeWorkers int            //探测并发
var censusTimeoutMS int         //普查连接超时
var censusWorkers int           //普查并发
var filteredRatio float64       //被动推断的filtered占比阈值
var minSample int               //被动推断的最小样本数
var passiveCap float64          //被动推断置信度上限
var portSelection string        //指定端口
var jsonOutput bool             //按JSON输出判定,给UI/报告消费
var versionRequested bool       //打印版本

//初始化命令

func init() {
	//带P的表示同时可接收缩写选项,P代表可以设置短指令
	rootCmd.PersistentFlags().BoolVarP(&versionRequested, "version", "", versionRequested, "Output version information and exit")
	rootCmd.PersistentFlags().BoolVarP(&debug, "verbose", "v", debug, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", configPath, "Path to YAML config file")
	rootCmd.PersistentFlags().IntVarP(&probeTimeoutMS, "probe-timeout-ms", "t", probeTimeoutMS, "Per-port ACK probe timeout in MS")
	rootCmd.PersistentFlags().IntVarP(&probeWorkers, "probe-workers", "", probeWorkers, "Max concurrent ACK probes")
	rootCmd.PersistentFlags().IntVarP(&censusTimeoutMS, "census-timeout-ms", "", censusTimeoutMS, "Port census connect timeout in MS")
	rootCmd.PersistentFlags().IntVarP(&censusWorkers, "census-workers", "w", censusWorkers, "Parallel routines for the port census")
	rootCmd.PersistentFlags().Float64VarP(&filteredRatio, "filtered-ratio", "", filteredRatio, "Filtered ratio threshold for passive inference")
	rootCmd.PersistentFlags().IntVarP(&minSample, "min-sample", "", minSample, "Minimum sample size for passive inference")
	rootCmd.PersistentFlags().Float64VarP(&passiveCap, "passive-cap", "", passiveCap, "Confidence cap for passive inference")
	rootCmd.PersistentFlags().StringVarP(&portSelection, "ports", "p", portSelection, "Ports to census. Comma separated, can use hyphens e.g. 22,80,443,8080-8090")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", jsonOutput, "Print the firewall verdict as JSON")
}

//配置文件打底,显式传入的flag覆盖
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("probe-timeout-ms") {
		cfg.ProbeTimeoutMS = probeTimeoutMS
	}
	if cmd.Flags().Changed("probe-workers") {
		cfg.MaxConcurrentProbes = probeWorkers
	}
	if cmd.Flags().Changed("census-timeout-ms") {
		cfg.Census.TimeoutMS = censusTimeoutMS
	}
	if cmd.Flags().Changed("census-workers") {
		cfg.Census.Workers = censusWorkers
	}
	if cmd.Flags().Changed("filtered-ratio") {
		cfg.FilteredRatioThreshold = filteredRatio
	}
	if cmd.Flags().Changed("min-sample") {
		cfg.MinSampleSize = minSample
	}
	if cmd.Flags().Changed("passive-cap") {
		cfg.PassiveConfidenceCap = passiveCap
	}
	if cmd.Flags().Changed("ports") {
		cfg.Census.Ports = portSelection
	}
	return cfg, nil
}

var rootCmd = &cobra.Command{
	Use:   "fwdetect",
	Short: "firewall posture detector: ACK probe with passive fallback",
	Run: func(cmd *cobra.Command, args []string) { //主要的执行函数
		if versionRequested {
			fmt.Println("development version")
			os.Exit(1)
		}
		if debug {
			log.SetLevel(log.DebugLevel) //设置日志级别
		}
		//检查是否输入目标
		if len(args) == 0 {
			fmt.Println("至少指定一个目标IP!")
			os.Exit(1)
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			log.Fatal(err)
		}

		//检查端口flag的输入,没有指定的话用内置的端口,返回[]int
		ports, err := getPorts(cfg.Census.Ports)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		//设置一个主动取消的机制
		ctx, cancel := context.WithCancel(context.Background())
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-c //阻塞直到有信号
			fmt.Println("退出...")
			cancel()
		}()

		//没有root权限就不构造主动探测器,仲裁器会自动回退到被动推断
		var prober firewall.Prober
		if os.Geteuid() == 0 {
			prober = firewall.NewAckProber(cfg.Firewall())
		} else {
			log.Warn("无root权限,主动ACK探测不可用,将只做被动推断")
		}
		arbiter := firewall.NewArbiter(cfg.Firewall(), prober)

		start := time.Now()
		fmt.Printf("\n开始扫描[%s]\n\n", start)

		for _, target := range args {
			//对输入的参数进行解析,构建迭代器(如果是CIDR则会含有ipnet等字段)
			ti := scan.NewTargetIterator(target)
			//普查先行,为防火墙判定提供端口状态事实
			census := scan.NewConnectScanner(ti, cfg.CensusTimeout(), cfg.Census.Workers)

			log.Debugf("开始普查:%v", target)
			if err := census.Start(); err != nil {
				log.Fatal(err)
			}

			results, err := census.Scan(ctx, ports)
			if err != nil {
				log.Fatal(err)
			}

			for _, result := range results {
				census.OutPutResult(result)

				verdict := arbiter.Determine(ctx, result.Host, result.Observations())
				outputVerdict(verdict)
			}
		}
		fmt.Printf("扫描完毕 耗时:%v\n", time.Since(start).String())
	},
}

func outputVerdict(v firewall.Verdict) {
	if jsonOutput {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			log.Errorf("编码判定结果失败: %v", err)
			return
		}
		fmt.Println(string(data))
		return
	}
	fmt.Println(v.String())
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func getPorts(selection string) ([]int, error) {
	if selection == "" {
		return scan.DefaultPorts, nil //用内置的常见端口
	}

	ports := []int{}
	ranges := strings.Split(selection, ",")
	for _, r := range ranges {
		r = strings.TrimSpace(r)
		if strings.Contains(r, "-") { //分别解析起始结束端口
			parts := strings.Split(r, "-")
			if len(parts) != 2 {
				return nil, fmt.Errorf("Invalid port selection segment: '%s'", r)
			}

			p1, err := strconv.Atoi(parts[0])
			if err != nil {
				return nil, fmt.Errorf("Invalid port number: '%s'", parts[0])
			}

			p2, err := strconv.Atoi(parts[1])
			if err != nil {
				return nil, fmt.Errorf("Invalid port number: '%s'", parts[1])
			}

			if p1 > p2 {
				return nil, fmt.Errorf("Invalid port range: %d-%d", p1, p2)
			}
			if p1 < 1 || p2 > 65535 {
				return nil, fmt.Errorf("Invalid port range: %d-%d, port number must be between 1 and 65535", p1, p2)
			}

			for i := p1; i <= p2; i++ {
				ports = append(ports, i)
			}

		} else { //按单个情况处理
			if port, err := strconv.Atoi(r); err != nil {
				return nil, fmt.Errorf("Invalid port number: '%s'", r)
			} else {
				if port > 65535 || port < 1 {
					return nil, fmt.Errorf("Invalid port number:%s,port number must be between 1 and 65535", r)
				}
				ports = append(ports, port)
			}
		}
	}
	return ports, nil

}
