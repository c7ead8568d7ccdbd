package firewall

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeConn probeConn的假实现,发包时按脚本回放响应,用来测探测引擎的汇总逻辑
type fakeConn struct {
	mu      sync.Mutex
	scripts map[uint16]reply //没有脚本的端口保持沉默
	sent    []uint16

	replyCh   chan reply
	closed    chan struct{}
	closeOnce sync.Once
	onClose   func()
}

func newFakeConn(scripts map[uint16]reply) *fakeConn {
	return &fakeConn{
		scripts: scripts,
		replyCh: make(chan reply),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) sendAck(port uint16) error {
	f.mu.Lock()
	f.sent = append(f.sent, port)
	r, ok := f.scripts[port]
	f.mu.Unlock()
	if ok {
		select {
		case f.replyCh <- r:
		case <-f.closed:
		}
	}
	return nil
}

func (f *fakeConn) readReply() (reply, error) {
	select {
	case r := <-f.replyCh:
		return r, nil
	case <-f.closed:
		return reply{}, io.EOF
	}
}

func (f *fakeConn) close() {
	f.closeOnce.Do(func() {
		close(f.closed)
		if f.onClose != nil {
			f.onClose()
		}
	})
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func testProber(conn *fakeConn, timeout time.Duration) *AckProber {
	return &AckProber{
		timeout:     timeout,
		maxRoutines: 3,
		dial: func(net.IP, time.Duration) (probeConn, error) {
			return conn, nil
		},
	}
}

func portRange(from, n int) []uint16 {
	out := make([]uint16, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, uint16(from+i))
	}
	return out
}

func TestProbeClassifiesReplies(t *testing.T) {
	scripts := map[uint16]reply{
		3001: {port: 3001, response: ResponseRST, rtt: time.Millisecond},
		3002: {port: 3002, response: ResponseRST, rtt: time.Millisecond},
		3003: {port: 3003, response: ResponseUnreachable},
	}
	conn := newFakeConn(scripts)
	p := testProber(conn, 50*time.Millisecond)

	results, err := p.Probe(context.Background(), testTarget, portRange(3001, 6))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 6 {
		t.Fatalf("got %d results, want 6", len(results))
	}

	counts := map[Response]int{}
	for _, r := range results {
		counts[r.Response]++
	}
	if counts[ResponseRST] != 2 {
		t.Fatalf("rst = %d, want 2", counts[ResponseRST])
	}
	if counts[ResponseUnreachable] != 1 {
		t.Fatalf("unreachable = %d, want 1", counts[ResponseUnreachable])
	}
	//没回包的端口单次超时即定论,视为filtered
	if counts[ResponseNone] != 3 {
		t.Fatalf("no_response = %d, want 3", counts[ResponseNone])
	}
	if !conn.isClosed() {
		t.Fatal("conn not closed after probe pass")
	}
}

func TestProbeSendsEveryCandidateOnce(t *testing.T) {
	conn := newFakeConn(nil)
	p := testProber(conn, 30*time.Millisecond)

	ports := portRange(4001, 20)
	if _, err := p.Probe(context.Background(), testTarget, ports); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.sent) != len(ports) {
		t.Fatalf("sent %d probes, want %d", len(conn.sent), len(ports))
	}
	seen := map[uint16]bool{}
	for _, p := range conn.sent {
		if seen[p] {
			t.Fatalf("port %d probed twice", p)
		}
		seen[p] = true
	}
}

func TestProbeEmptyCandidates(t *testing.T) {
	p := testProber(newFakeConn(nil), 30*time.Millisecond)
	if _, err := p.Probe(context.Background(), testTarget, nil); err == nil {
		t.Fatal("expected error on empty candidate set")
	}
}

func TestProbeDialFailurePropagates(t *testing.T) {
	p := &AckProber{
		timeout:     30 * time.Millisecond,
		maxRoutines: 3,
		dial: func(net.IP, time.Duration) (probeConn, error) {
			return nil, wrapPermission(errors.New("pcap open: operation not permitted"))
		},
	}
	_, err := p.Probe(context.Background(), testTarget, portRange(5001, 3))
	if err == nil {
		t.Fatal("expected error")
	}
	//权限失败必须可识别,仲裁器靠它决定回退
	if !errors.Is(err, ErrProbePermission) {
		t.Fatalf("error %v does not wrap ErrProbePermission", err)
	}
}

func TestProbeCancellationFailsThePass(t *testing.T) {
	conn := newFakeConn(nil)
	p := testProber(conn, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() //取消的探测必须报失败,不能拿半截数据装成功

	_, err := p.Probe(ctx, testTarget, portRange(6001, 5))
	if err == nil {
		t.Fatal("cancelled probe returned success")
	}
	if !conn.isClosed() {
		t.Fatal("transport left open after cancellation")
	}
}

func TestProbeCancellationNeverLeaksTransport(t *testing.T) {
	var opened, closed int32

	for i := 0; i < 100; i++ {
		conn := newFakeConn(nil)
		conn.onClose = func() { atomic.AddInt32(&closed, 1) }

		p := &AckProber{
			timeout:     time.Second,
			maxRoutines: 3,
			dial: func(net.IP, time.Duration) (probeConn, error) {
				atomic.AddInt32(&opened, 1)
				return conn, nil
			},
		}

		ctx, cancel := context.WithCancel(context.Background())
		go cancel() //扫描中途被取消
		_, _ = p.Probe(ctx, testTarget, portRange(7001, 10))
	}

	if o, c := atomic.LoadInt32(&opened), atomic.LoadInt32(&closed); o != c {
		t.Fatalf("transport leak: opened %d, closed %d", o, c)
	}
}
