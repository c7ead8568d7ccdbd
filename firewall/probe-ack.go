package firewall

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

//ACK探测:不经过握手直接发一个只带ACK标志的TCP包
//有状态防火墙因为查不到会话会静默丢弃,无状态过滤(或没有防火墙)会让对端回RST
//这个区别就是判定的依据

// reply 收包循环解析出来的单条响应
type reply struct {
	port     uint16
	response Response
	rtt      time.Duration
}

// probeConn 发包和收包的最小接口,真实现走pcap,测试时用假实现注入合成响应
type probeConn interface {
	sendAck(port uint16) error
	readReply() (reply, error) //阻塞,句柄关闭后返回io.EOF
	close()                    //必须幂等,超时/取消/正常退出都会调它
}

// AckProber 主动探测引擎,每轮探测独占一个probeConn,结束时必定释放
type AckProber struct {
	timeout     time.Duration
	maxRoutines int
	dial        func(target net.IP, timeout time.Duration) (probeConn, error)
}

// NewAckProber 根据配置构造,探测的并发和超时都来自这里
func NewAckProber(cfg Config) *AckProber {
	cfg = cfg.withDefaults()
	return &AckProber{
		timeout:     cfg.ProbeTimeout,
		maxRoutines: cfg.MaxConcurrentProbes,
		dial:        dialPcap,
	}
}

// Probe 对候选端口各发一个ACK包并归类响应
// 单个端口超时即视为filtered,不重试;整轮打不开底层传输才算失败,由仲裁器回退
func (p *AckProber) Probe(ctx context.Context, target net.IP, ports []uint16) ([]ProbeResult, error) {
	if len(ports) == 0 {
		return nil, fmt.Errorf("no candidate ports to probe")
	}

	conn, err := p.dial(target, p.timeout)
	if err != nil {
		return nil, fmt.Errorf("open probe transport: %w", err)
	}
	defer conn.close()

	replyChan := make(chan reply)
	doneChan := make(chan struct{})

	//汇总响应,每个端口只认第一个,多余的丢弃
	responses := make(map[uint16]reply)
	go func() {
		for r := range replyChan {
			if _, ok := responses[r.port]; !ok {
				responses[r.port] = r
			}
		}
		close(doneChan)
	}()

	//收包循环,句柄被关闭后readReply返回io.EOF退出
	go func() {
		for {
			r, err := conn.readReply()
			if err != nil {
				break
			}
			replyChan <- r
		}
		close(replyChan)
	}()

	//发包用有界工作池,探测彼此独立,完成顺序无所谓
	jobChan := make(chan uint16, p.maxRoutines)
	sendWg := &sync.WaitGroup{}
	for i := 0; i < p.maxRoutines; i++ {
		sendWg.Add(1)
		go func() {
			defer sendWg.Done()
			for port := range jobChan {
				select {
				case <-ctx.Done(): //取消后剩余的包不再发
					continue
				default:
				}
				if err := conn.sendAck(port); err != nil {
					log.Debugf("发包失败 port %d: %v", port, err)
				}
			}
		}()
	}
	for _, port := range ports {
		jobChan <- port
	}
	close(jobChan)
	sendWg.Wait()

	//超时后关闭句柄让收包循环退出,这是唯一的等待上限
	timer := time.AfterFunc(p.timeout, conn.close)
	defer timer.Stop()

	//取消也要立刻关句柄,绝不把句柄留到下一轮
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.close()
		case <-watchDone:
		}
	}()

	<-doneChan
	close(watchDone)

	//没收到响应的端口按超时归为filtered,单次超时即定论
	results := make([]ProbeResult, 0, len(ports))
	for _, port := range ports {
		if r, ok := responses[port]; ok {
			results = append(results, ProbeResult{Port: port, Response: r.response, RTT: r.rtt})
		} else {
			results = append(results, ProbeResult{Port: port, Response: ResponseNone})
		}
	}

	if ctx.Err() != nil {
		//取消的探测视为整轮失败,让仲裁器走回退,而不是拿半截数据装成功
		return results, fmt.Errorf("probe cancelled: %w", ctx.Err())
	}
	return results, nil
}

var _ Prober = (*AckProber)(nil)
