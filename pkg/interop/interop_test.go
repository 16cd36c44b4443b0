package interop

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pagevis/pagevis-go/pkg/bridge"
	"github.com/pagevis/pagevis-go/pkg/transport"
	"github.com/pagevis/pagevis-go/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanReceiver chan bool

func (r chanReceiver) SetVisibility(visible bool) { r <- visible }

func (r chanReceiver) next(t *testing.T) bool {
	t.Helper()
	select {
	case v := <-r:
		return v
	case <-time.After(time.Second):
		t.Fatal("no callback delivered")
		return false
	}
}

func (r chanReceiver) none(t *testing.T) {
	t.Helper()
	select {
	case v := <-r:
		t.Fatalf("unexpected callback %v", v)
	case <-time.After(20 * time.Millisecond):
	}
}

func connect(t *testing.T, host *Host) (*Client, *transport.Conn) {
	t.Helper()
	a, b := net.Pipe()

	hc := transport.NewConn(b)
	go host.Serve(hc)

	client := NewClient(ClientConfig{SessionID: "test"})
	cc := transport.NewConn(a)
	client.Bind(cc)
	go func() {
		_ = cc.Serve(client.HandleFrame)
		client.Unbind()
	}()

	t.Cleanup(func() {
		cc.Close()
		hc.Close()
		client.Close()
	})
	return client, cc
}

func invoke(t *testing.T, c *Client, function string, args ...any) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := c.Invoke(ctx, function, args...)
	return err
}

func TestClientUnboundIsUnavailable(t *testing.T) {
	c := NewClient(ClientConfig{})

	_, err := c.Invoke(context.Background(), bridge.AdapterFunction, "x")
	assert.ErrorIs(t, err, bridge.ErrInteropUnavailable)
	assert.False(t, c.Bound())
}

func TestClientClosedIsUnavailable(t *testing.T) {
	c := NewClient(ClientConfig{})
	c.Bind(&mockSender{})
	require.NoError(t, c.Close())

	_, err := c.Invoke(context.Background(), bridge.AdapterFunction, "x")
	assert.ErrorIs(t, err, bridge.ErrInteropUnavailable)
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestSubscribeLifecycle(t *testing.T) {
	host := NewHost(HostConfig{})
	client, _ := connect(t, host)
	recv := make(chanReceiver, 4)

	require.NoError(t, invoke(t, client, bridge.AdapterFunction, bridge.AdapterScript))
	assert.True(t, host.Injected())

	require.NoError(t, invoke(t, client, bridge.SubscribeFunction, recv))
	assert.True(t, host.Subscribed())
	assert.True(t, recv.next(t), "initial value on subscribe")

	require.NoError(t, host.SetVisible(false))
	assert.False(t, recv.next(t))

	require.NoError(t, host.SetVisible(false))
	recv.none(t)

	require.NoError(t, invoke(t, client, bridge.UnsubscribeFunction))
	assert.False(t, host.Subscribed())

	require.NoError(t, host.SetVisible(true))
	recv.none(t)
}

func TestConcurrentSetVisibleDeliversInOrder(t *testing.T) {
	host := NewHost(HostConfig{})
	client, _ := connect(t, host)
	recv := make(chanReceiver, 256)

	require.NoError(t, invoke(t, client, bridge.AdapterFunction, bridge.AdapterScript))
	require.NoError(t, invoke(t, client, bridge.SubscribeFunction, recv))
	require.True(t, recv.next(t))

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(visible bool) {
			defer wg.Done()
			assert.NoError(t, host.SetVisible(visible))
		}(i%2 == 1)
	}
	wg.Wait()

	last, n := true, 0
	for {
		select {
		case v := <-recv:
			last = v
			n++
			continue
		case <-time.After(50 * time.Millisecond):
		}
		break
	}
	assert.Equal(t, host.Visible(), last, "last delivered value matches host state after %d callbacks", n)
}

func TestReceiverKeepsHandle(t *testing.T) {
	host := NewHost(HostConfig{})
	client, _ := connect(t, host)
	recv := make(chanReceiver, 4)

	require.NoError(t, invoke(t, client, bridge.AdapterFunction, bridge.AdapterScript))
	require.NoError(t, invoke(t, client, bridge.SubscribeFunction, recv))
	recv.next(t)
	require.NoError(t, invoke(t, client, bridge.UnsubscribeFunction))
	require.NoError(t, invoke(t, client, bridge.SubscribeFunction, recv))
	recv.next(t)

	assert.Equal(t, uint32(1), client.handleFor(recv))
}

func TestSubscribeBeforeInjection(t *testing.T) {
	hidden := false
	host := NewHost(HostConfig{InitialVisible: &hidden})
	client, _ := connect(t, host)

	err := invoke(t, client, bridge.SubscribeFunction, make(chanReceiver, 1))
	assert.ErrorIs(t, err, ErrCallFailed)
	assert.Contains(t, err.Error(), "adapter not installed")
	assert.False(t, host.Subscribed())
}

func TestUnknownFunction(t *testing.T) {
	client, _ := connect(t, NewHost(HostConfig{}))

	assert.ErrorIs(t, invoke(t, client, "window.nothing"), ErrUnknownFunction)
}

func TestHostUnavailable(t *testing.T) {
	host := NewHost(HostConfig{})
	host.SetUnavailable(true)
	client, _ := connect(t, host)

	err := invoke(t, client, bridge.AdapterFunction, bridge.AdapterScript)
	assert.ErrorIs(t, err, bridge.ErrInteropUnavailable)
	assert.False(t, host.Injected())
}

func TestConnectionLossFailsPendingCalls(t *testing.T) {
	c := NewClient(ClientConfig{})
	sender := &mockSender{}
	c.Bind(sender)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Invoke(context.Background(), bridge.UnsubscribeFunction)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, time.Millisecond)
	c.Unbind()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, bridge.ErrInteropUnavailable)
	case <-time.After(time.Second):
		t.Fatal("pending call not failed")
	}
}

func TestInvokeHonorsContext(t *testing.T) {
	c := NewClient(ClientConfig{})
	c.Bind(&mockSender{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Invoke(ctx, bridge.UnsubscribeFunction)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInvokeRejectsTwoReceivers(t *testing.T) {
	c := NewClient(ClientConfig{})
	c.Bind(&mockSender{})

	_, err := c.Invoke(context.Background(), bridge.SubscribeFunction, make(chanReceiver), make(chanReceiver))
	assert.Error(t, err)
}

func TestInvokeEncodesHandleNotReceiver(t *testing.T) {
	c := NewClient(ClientConfig{})
	sender := &mockSender{}
	c.Bind(sender)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _ = c.Invoke(ctx, bridge.SubscribeFunction, make(chanReceiver))

	require.Equal(t, 1, sender.count())
	env, err := wire.Decode(sender.last())
	require.NoError(t, err)
	require.Equal(t, wire.KindRequest, env.Kind)
	assert.Equal(t, bridge.SubscribeFunction, env.Request.Function)
	assert.Equal(t, uint32(1), env.Request.Handle)
	assert.Empty(t, env.Request.Args)
}

func TestHandleFrameIgnoresStrayMessages(t *testing.T) {
	c := NewClient(ClientConfig{})

	c.HandleFrame([]byte{0xff, 0x00})

	data, err := wire.EncodeResponse(&wire.Response{MessageID: 77, Status: wire.StatusOK})
	require.NoError(t, err)
	c.HandleFrame(data)

	data, err = wire.EncodeCallback(&wire.Callback{Handle: 9, Function: wire.CallbackSetVisibility})
	require.NoError(t, err)
	c.HandleFrame(data)

	assert.ErrorIs(t, c.handleResponse(&wire.Response{MessageID: 77}), ErrUnexpectedReply)
}

func TestMessageIDWraparound(t *testing.T) {
	c := NewClient(ClientConfig{})
	c.nextMsgID = 0xFFFFFFFF - 2

	assert.Equal(t, uint32(0xFFFFFFFF-1), c.nextMessageID())
	assert.Equal(t, uint32(0xFFFFFFFF), c.nextMessageID())
	assert.Equal(t, uint32(1), c.nextMessageID(), "0 is reserved")
}

func TestResponseError(t *testing.T) {
	tests := []struct {
		status wire.Status
		want   error
	}{
		{wire.StatusUnavailable, bridge.ErrInteropUnavailable},
		{wire.StatusFailed, ErrCallFailed},
		{wire.StatusUnknownFunction, ErrUnknownFunction},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			err := responseError(&wire.Response{MessageID: 1, Status: tt.status, Error: "detail"})
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "detail")
		})
	}
	assert.NoError(t, responseError(&wire.Response{MessageID: 1, Status: wire.StatusOK}))
}

func TestHostHandleRequest(t *testing.T) {
	h := NewHost(HostConfig{})

	resp, cb := h.HandleRequest(&wire.Request{MessageID: 1, Function: bridge.AdapterFunction})
	assert.Equal(t, wire.StatusFailed, resp.Status, "empty script")
	assert.Nil(t, cb)

	resp, _ = h.HandleRequest(&wire.Request{MessageID: 2, Function: bridge.AdapterFunction, Args: []any{"(function(){})()"}})
	assert.True(t, resp.IsSuccess())

	resp, _ = h.HandleRequest(&wire.Request{MessageID: 3, Function: bridge.SubscribeFunction})
	assert.Equal(t, wire.StatusFailed, resp.Status, "missing handle")

	resp, cb = h.HandleRequest(&wire.Request{MessageID: 4, Function: bridge.SubscribeFunction, Handle: 5})
	assert.True(t, resp.IsSuccess())
	require.NotNil(t, cb)
	assert.Equal(t, uint32(5), cb.Handle)
	assert.True(t, cb.Visible)

	resp, cb = h.HandleRequest(&wire.Request{MessageID: 5, Function: bridge.SubscribeFunction, Handle: 6})
	assert.True(t, resp.IsSuccess())
	assert.Nil(t, cb, "second subscribe is ignored")

	resp, _ = h.HandleRequest(&wire.Request{MessageID: 6, Function: bridge.UnsubscribeFunction})
	assert.True(t, resp.IsSuccess())
	assert.False(t, h.Subscribed())
}

func TestHostAcceptServesConnections(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	host := NewHost(HostConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	acceptErr := make(chan error, 1)
	go func() { acceptErr <- host.Accept(ctx, ln) }()

	nc, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	cc := transport.NewConn(nc)
	client := NewClient(ClientConfig{})
	client.Bind(cc)
	go cc.Serve(client.HandleFrame)

	require.NoError(t, invoke(t, client, bridge.AdapterFunction, bridge.AdapterScript))
	assert.True(t, host.Injected())

	cc.Close()
	cancel()
	select {
	case err := <-acceptErr:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Accept did not return")
	}
}

type mockSender struct {
	mu   sync.Mutex
	sent [][]byte
}

func (m *mockSender) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, data)
	return nil
}

func (m *mockSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockSender) last() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}
