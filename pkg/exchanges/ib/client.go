package ib

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/scmhub/ibapi"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultQueueSize = 1024

// Observer receives pump and wire counters. Implementations must be safe
// for concurrent use.
type Observer interface {
	MessageReceived(msgID int)
	MessageSent(msgID int)
	DecodeFailed(msgID int)
	HandlerPanicked(msgID int)
}

type nopObserver struct{}

func (nopObserver) MessageReceived(int) {}
func (nopObserver) MessageSent(int)     {}
func (nopObserver) DecodeFailed(int)    {}
func (nopObserver) HandlerPanicked(int) {}

// Options configures a Client.
type Options struct {
	ClientID       int
	MaxMessageRate float64 // outbound messages per second; <= 0 disables pacing
	QueueSize      int
	Logger         *zap.Logger
	Observer       Observer
}

// Client is one session with the venue. The ibapi client reads the socket
// and invokes the wrapper, which queues each callback as a Message; after
// Start a single pump goroutine dispatches them, so handler callbacks
// never run concurrently.
type Client struct {
	ec      *ibapi.EClient
	opts    Options
	log     *zap.Logger
	obs     Observer
	limiter *rate.Limiter

	reqMu sync.Mutex

	msgs      chan Message
	lost      chan struct{}
	lostOnce  sync.Once
	started   atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}

	errMu sync.Mutex
	err   error
}

// Dial connects to addr. The library performs the version handshake and
// sends startApi; what the venue answers is queued until Start.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("parse address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parse port %q: %w", portStr, err)
	}

	c := newClient(opts)
	res := make(chan error, 1)
	go func() { res <- c.ec.Connect(host, port, int64(opts.ClientID)) }()

	select {
	case err := <-res:
		if err != nil {
			c.shutdown()
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
	case <-ctx.Done():
		c.closing.Store(true)
		go func() {
			<-res
			c.shutdown()
		}()
		return nil, fmt.Errorf("dial %s: %w", addr, ctx.Err())
	}

	if v := c.ServerVersion(); v < MinServerVersion {
		c.shutdown()
		return nil, fmt.Errorf("%w: %d", ErrVersionTooOld, v)
	}
	go c.watchContext()
	c.log.Debug("handshake_complete",
		zap.String("addr", addr),
		zap.Int("server_version", c.ServerVersion()),
		zap.String("conn_time", c.ConnTime()))
	return c, nil
}

func newClient(opts Options) *Client {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	c := &Client{
		opts:   opts,
		log:    opts.Logger,
		obs:    opts.Observer,
		msgs:   make(chan Message, opts.QueueSize),
		lost:   make(chan struct{}),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.obs == nil {
		c.obs = nopObserver{}
	}
	if opts.MaxMessageRate > 0 {
		burst := int(opts.MaxMessageRate)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.MaxMessageRate), burst)
	}
	c.ec = ibapi.NewEClient(&wrapper{c: c})
	return c
}

// ServerVersion is the version negotiated in the handshake.
func (c *Client) ServerVersion() int { return int(c.ec.ServerVersion()) }

// ConnTime is the server's connection timestamp from the handshake.
func (c *Client) ConnTime() string { return c.ec.TWSConnectionTime() }

// Start launches the pump. Messages that arrived since Dial, nextValidId
// among them, are delivered to h first.
func (c *Client) Start(ctx context.Context, h Handler) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	go c.pump(h)
	return nil
}

// enqueue hands m to the pump, blocking while the queue is full so a slow
// handler pushes back on the socket reader.
func (c *Client) enqueue(m Message) {
	c.obs.MessageReceived(m.MsgID())
	select {
	case c.msgs <- m:
	case <-c.closed:
	}
}

// markLost records that the library saw the socket close.
func (c *Client) markLost() {
	c.lostOnce.Do(func() { close(c.lost) })
}

// watchContext treats the library's connection context ending as a lost
// connection, in case it tears down without a connectionClosed callback.
func (c *Client) watchContext() {
	ctx := c.ec.Ctx
	if ctx == nil {
		return
	}
	select {
	case <-ctx.Done():
		c.markLost()
	case <-c.closed:
	}
}

func (c *Client) pump(h Handler) {
	defer close(c.done)
	defer c.shutdown()
	for {
		select {
		case <-c.closed:
			return
		case m := <-c.msgs:
			c.dispatch(h, m)
		case <-c.lost:
			c.drain(h)
			if !c.closing.Load() {
				c.setErr(ErrConnectionLost)
				c.log.Warn("connection_lost")
			}
			return
		}
	}
}

// drain dispatches what was queued before the connection went away.
func (c *Client) drain(h Handler) {
	for {
		select {
		case m := <-c.msgs:
			c.dispatch(h, m)
		default:
			return
		}
	}
}

func (c *Client) dispatch(h Handler, m Message) {
	defer func() {
		if r := recover(); r != nil {
			c.obs.HandlerPanicked(m.MsgID())
			c.log.Error("handler_panic", zap.String("msg", InboundName(m.MsgID())), zap.Any("panic", r))
		}
	}()
	Dispatch(h, m)
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}

// Err returns the error that ended the session, or nil after a local Close.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Done is closed once the pump has stopped, whether by Close or because the
// venue dropped the connection.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		close(c.closed)
		if c.ec.IsConnected() {
			if err := c.ec.Disconnect(); err != nil {
				c.log.Debug("disconnect_failed", zap.Error(err))
			}
		}
		if c.started.CompareAndSwap(false, true) {
			close(c.done)
		}
	})
}

// Close tears the connection down. It is safe to call more than once and
// from a handler callback; it does not wait for the pump to exit.
func (c *Client) Close() error {
	c.shutdown()
	return nil
}

// send paces and issues one request. The library reports write failures
// through the error callback rather than returning them.
func (c *Client) send(ctx context.Context, msgID int, call func(ec *ibapi.EClient)) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("pace %s: %w", OutboundName(msgID), err)
		}
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	if !c.ec.IsConnected() {
		return ErrClosed
	}
	call(c.ec)
	c.obs.MessageSent(msgID)
	return nil
}
