// Package ibtest runs an in-process fake venue that speaks the gateway's
// text protocol at ServerVersion, so the real ibapi client can connect to
// it. It answers handshakes, contract lookups, market data and orders from
// fixtures, and lets tests inject ticks, errors and disconnects.
package ibtest

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"trading-console/pkg/exchanges/common"
	"trading-console/pkg/exchanges/ib"
)

// ServerVersion is the version the fake venue reports in the handshake.
const ServerVersion = 176

// Venue error codes the fake emits.
const (
	CodeNoSecurityDefinition = ib.CodeNoSecurityDefinition
	CodeCancelNotFound       = 10147
)

// OrderDecision tells the fake how to answer a placement.
type OrderDecision struct {
	Ignore        bool // send nothing back
	RejectCode    int  // non-zero sends an error instead of an ack
	RejectMessage string
	Status        string // overrides the ack status when set
}

// PlacedOrder is an order as received by the fake.
type PlacedOrder struct {
	OrderID  int64
	Contract common.Contract
	Order    common.OrderSpec
	Status   string
}

// Quote seeds the ticks sent when a contract is subscribed.
type Quote struct {
	Bid, Ask, Last float64
	BidSize        float64
	AskSize        float64
}

// Option configures a Server.
type Option func(*Server)

// WithNextValidID sets the id sent in response to startApi.
func WithNextValidID(id int64) Option {
	return func(s *Server) { s.nextID = id }
}

// WithoutNextValidID makes the fake stay silent after startApi.
func WithoutNextValidID() Option {
	return func(s *Server) { s.silentStart = true }
}

// WithContracts replaces the contract fixtures.
func WithContracts(details ...ib.ContractDetails) Option {
	return func(s *Server) { s.contracts = details }
}

// WithOptionChains sets the option chains returned for an underlying.
func WithOptionChains(underlyingConID int64, chains ...ib.OptionChain) Option {
	return func(s *Server) { s.chains[underlyingConID] = chains }
}

// WithQuote seeds the ticks sent when conID is subscribed.
func WithQuote(conID int64, q Quote) Option {
	return func(s *Server) { s.quotes[conID] = q }
}

// WithOrderHook decides how each placement is answered.
func WithOrderHook(fn func(PlacedOrder) OrderDecision) Option {
	return func(s *Server) { s.orderHook = fn }
}

// WithCancelStatus sets the status reported for cancelled orders
// ("Cancelled" by default).
func WithCancelStatus(status string) Option {
	return func(s *Server) { s.cancelStatus = status }
}

// WithAckDelay delays every placement answer, simulating a slow venue.
// Other messages are answered immediately.
func WithAckDelay(d time.Duration) Option {
	return func(s *Server) { s.ackDelay = d }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

type conn struct {
	net.Conn
	mu sync.Mutex
}

func (c *conn) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeFrame(c.Conn, payload)
}

// Server is the fake venue.
type Server struct {
	ln  net.Listener
	log *zap.Logger

	silentStart  bool
	orderHook    func(PlacedOrder) OrderDecision
	cancelStatus string
	ackDelay     time.Duration

	mu             sync.Mutex
	nextID         int64
	contracts      []ib.ContractDetails
	chains         map[int64][]ib.OptionChain
	quotes         map[int64]Quote
	orders         map[int64]*PlacedOrder
	placed         []PlacedOrder
	cancels        []int64
	subscriptions  map[int64]int64
	marketDataType int
	received       map[int]int
	conns          map[*conn]struct{}

	wg     sync.WaitGroup
	closed chan struct{}
}

// NewServer starts a fake venue on 127.0.0.1 with an ephemeral port.
func NewServer(opts ...Option) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	return Serve(ln, opts...), nil
}

// Serve runs the fake venue on an existing listener.
func Serve(ln net.Listener, opts ...Option) *Server {
	s := &Server{
		ln:             ln,
		log:            zap.NewNop(),
		cancelStatus:   "Cancelled",
		nextID:         1,
		contracts:      DefaultContracts(),
		chains:         map[int64][]ib.OptionChain{AAPLConID: DefaultChains()},
		quotes:         map[int64]Quote{AAPLConID: {Bid: 189.50, Ask: 189.60, Last: 189.55, BidSize: 300, AskSize: 200}},
		orders:         make(map[int64]*PlacedOrder),
		subscriptions:  make(map[int64]int64),
		marketDataType: ib.MarketDataLive,
		received:       make(map[int]int),
		conns:          make(map[*conn]struct{}),
		closed:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s
}

// Addr returns host:port.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// HostPort splits Addr.
func (s *Server) HostPort() (string, int) {
	host, port, _ := net.SplitHostPort(s.Addr())
	p, _ := strconv.Atoi(port)
	return host, p
}

// Close stops accepting and drops every client.
func (s *Server) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
	}
	close(s.closed)
	err := s.ln.Close()
	s.DropClients()
	s.wg.Wait()
	return err
}

// DropClients closes every client connection, simulating a venue restart.
func (s *Server) DropClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Orders returns every placement received, in arrival order.
func (s *Server) Orders() []PlacedOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PlacedOrder(nil), s.placed...)
}

// Cancels returns every order id a cancel was received for.
func (s *Server) Cancels() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.cancels...)
}

// Subscribed reports whether tickerID has an active market data stream.
func (s *Server) Subscribed(tickerID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subscriptions[tickerID]
	return ok
}

// Received returns how many messages with msgID arrived.
func (s *Server) Received(msgID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received[msgID]
}

// SendTickPrice pushes a price tick to every client. For bid, ask and last
// the client also reports a zero size tick.
func (s *Server) SendTickPrice(tickerID int64, field int, price float64) {
	s.broadcast(tickPriceMsg(tickerID, field, price, 0))
}

// SendTickSize pushes a size tick to every client.
func (s *Server) SendTickSize(tickerID int64, field int, size float64) {
	s.broadcast(tickSizeMsg(tickerID, field, size))
}

// SendError pushes an error message to every client.
func (s *Server) SendError(id int64, code int, msg string) {
	s.broadcast(errorMsg(id, code, msg))
}

// SendOrderStatus pushes an order status to every client.
func (s *Server) SendOrderStatus(st ib.OrderStatus) {
	s.broadcast(orderStatusMsg(st))
}

func (s *Server) broadcast(payload []byte) {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.write(payload)
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.closed:
			default:
				s.log.Warn("accept_failed", zap.Error(err))
			}
			return
		}
		c := &conn{Conn: nc}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, c)
				s.mu.Unlock()
				_ = c.Close()
			}()
			if err := s.serve(c); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.Debug("client_closed", zap.Error(err))
			}
		}()
	}
}

func (s *Server) serve(c *conn) error {
	prefix := make([]byte, 4)
	if _, err := io.ReadFull(c, prefix); err != nil {
		return err
	}
	if string(prefix) != "API\x00" {
		return fmt.Errorf("bad prefix %q", prefix)
	}
	if _, err := readFrame(c); err != nil {
		return fmt.Errorf("read client version range: %w", err)
	}
	hello := newMessage(ServerVersion).text(time.Now().Format("20060102 15:04:05 MST")).bytes()
	if err := c.write(hello); err != nil {
		return err
	}

	for {
		payload, err := readFrame(c)
		if err != nil {
			return err
		}
		d := splitFields(payload)
		msgID := int(d.int())
		s.mu.Lock()
		s.received[msgID]++
		s.mu.Unlock()

		if err := s.handle(c, msgID, d); err != nil {
			return err
		}
	}
}

func (s *Server) handle(c *conn, msgID int, d *fields) error {
	switch msgID {
	case ib.OutStartAPI:
		if s.silentStart {
			return nil
		}
		s.mu.Lock()
		next := s.nextID
		s.mu.Unlock()
		if err := c.write(nextValidIDMsg(next)); err != nil {
			return err
		}
		return c.write(managedAccountsMsg("DU1234567"))

	case ib.OutReqCurrentTime:
		return c.write(currentTimeMsg(time.Now().Unix()))

	case ib.OutReqMarketDataType:
		d.skip(1) // version
		s.mu.Lock()
		s.marketDataType = int(d.int())
		s.mu.Unlock()
		return nil

	case ib.OutReqMatchingSymbols:
		reqID := d.int()
		pattern := d.text()
		return c.write(symbolSamplesMsg(reqID, s.matchSymbols(pattern)))

	case ib.OutReqContractData:
		d.skip(1) // version
		reqID := d.int()
		want := readContract(d)
		matches := s.matchContracts(want)
		if len(matches) == 0 {
			return c.write(errorMsg(reqID, CodeNoSecurityDefinition, "No security definition has been found for the request"))
		}
		for _, cd := range matches {
			if err := c.write(contractDataMsg(reqID, cd)); err != nil {
				return err
			}
		}
		return c.write(contractDataEndMsg(reqID))

	case ib.OutReqSecDefOptParams:
		reqID := d.int()
		d.skip(3) // symbol, fut/fop exchange, sec type
		conID := d.int()
		s.mu.Lock()
		chains := append([]ib.OptionChain(nil), s.chains[conID]...)
		s.mu.Unlock()
		for _, ch := range chains {
			if err := c.write(secDefOptParamsMsg(reqID, ch)); err != nil {
				return err
			}
		}
		return c.write(secDefOptParamsEndMsg(reqID))

	case ib.OutReqMktData:
		return s.handleMktData(c, d)

	case ib.OutCancelMktData:
		d.skip(1) // version
		tickerID := d.int()
		s.mu.Lock()
		delete(s.subscriptions, tickerID)
		s.mu.Unlock()
		return nil

	case ib.OutPlaceOrder:
		return s.handlePlaceOrder(c, d)

	case ib.OutCancelOrder:
		return s.handleCancelOrder(c, d)
	}
	return nil
}

func (s *Server) handleMktData(c *conn, d *fields) error {
	d.skip(1) // version
	tickerID := d.int()
	want := readContract(d)
	matches := s.matchContracts(want)
	if len(matches) != 1 {
		return c.write(errorMsg(tickerID, CodeNoSecurityDefinition, "No security definition has been found for the request"))
	}
	conID := matches[0].Contract.ConID

	s.mu.Lock()
	s.subscriptions[tickerID] = conID
	dataType := s.marketDataType
	q, hasQuote := s.quotes[conID]
	s.mu.Unlock()

	if err := c.write(marketDataTypeMsg(tickerID, dataType)); err != nil {
		return err
	}
	if !hasQuote {
		return nil
	}
	bid, ask, last := ib.TickBid, ib.TickAsk, ib.TickLast
	if dataType == ib.MarketDataDelayed || dataType == ib.MarketDataDelayedFrozen {
		bid, ask, last = ib.TickDelayedBid, ib.TickDelayedAsk, ib.TickDelayedLast
	}
	// The client derives the matching size ticks from each price tick.
	return writeAll(c, [][]byte{
		tickPriceMsg(tickerID, bid, q.Bid, q.BidSize),
		tickPriceMsg(tickerID, ask, q.Ask, q.AskSize),
		tickPriceMsg(tickerID, last, q.Last, 0),
	})
}

func (s *Server) handlePlaceOrder(c *conn, d *fields) error {
	po := PlacedOrder{OrderID: d.int(), Contract: readContract(d)}
	d.skip(2) // sec id type, sec id
	po.Order = readOrder(d)
	if err := d.Err(); err != nil {
		return c.write(errorMsg(ib.NoValidID, 320, "Error reading request: "+err.Error()))
	}

	decision := OrderDecision{}
	if s.orderHook != nil {
		decision = s.orderHook(po)
	}
	status := decision.Status
	if status == "" {
		status = "Submitted"
		if !po.Order.Transmit {
			status = "PreSubmitted"
		}
	}
	if decision.RejectCode != 0 {
		status = "Inactive"
	}
	po.Status = status

	s.mu.Lock()
	s.placed = append(s.placed, po)
	stored := po
	s.orders[po.OrderID] = &stored
	if po.OrderID >= s.nextID {
		s.nextID = po.OrderID + 1
	}
	s.mu.Unlock()

	if decision.Ignore {
		return nil
	}
	var frames [][]byte
	if decision.RejectCode != 0 {
		frames = [][]byte{errorMsg(po.OrderID, decision.RejectCode, decision.RejectMessage)}
	} else {
		frames = [][]byte{
			orderStatusMsg(ib.OrderStatus{
				OrderID:   po.OrderID,
				Status:    status,
				Remaining: po.Order.TotalQty,
				ParentID:  po.Order.ParentID,
				PermID:    po.OrderID + 1_000_000,
			}),
		}
	}
	if s.ackDelay > 0 {
		time.AfterFunc(s.ackDelay, func() { _ = writeAll(c, frames) })
		return nil
	}
	return writeAll(c, frames)
}

func writeAll(c *conn, frames [][]byte) error {
	for _, f := range frames {
		if err := c.write(f); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleCancelOrder(c *conn, d *fields) error {
	d.skip(1) // version
	orderID := d.int()

	s.mu.Lock()
	s.cancels = append(s.cancels, orderID)
	o, ok := s.orders[orderID]
	if ok {
		o.Status = s.cancelStatus
	}
	s.mu.Unlock()

	if !ok {
		return c.write(errorMsg(orderID, CodeCancelNotFound,
			fmt.Sprintf("OrderId %d that needs to be cancelled is not found.", orderID)))
	}
	if err := c.write(orderStatusMsg(ib.OrderStatus{
		OrderID:   orderID,
		Status:    s.cancelStatus,
		Remaining: o.Order.TotalQty,
		ParentID:  o.Order.ParentID,
	})); err != nil {
		return err
	}
	return c.write(errorMsg(orderID, ib.CodeOrderCancelled, "Order Canceled - reason:"))
}

func (s *Server) matchSymbols(pattern string) []ib.ContractDescription {
	pattern = strings.ToUpper(strings.TrimSpace(pattern))
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ib.ContractDescription
	seen := make(map[int64]bool)
	for _, cd := range s.contracts {
		c := cd.Contract
		if c.SecType == common.SecTypeOption || seen[c.ConID] {
			continue
		}
		if pattern == "" || strings.HasPrefix(c.Symbol, pattern) || strings.Contains(strings.ToUpper(cd.LongName), pattern) {
			seen[c.ConID] = true
			out = append(out, ib.ContractDescription{
				Contract:           common.Contract{ConID: c.ConID, Symbol: c.Symbol, SecType: c.SecType, PrimaryExchange: c.PrimaryExchange, Currency: c.Currency},
				DerivativeSecTypes: s.derivativesOf(c.ConID),
				Description:        cd.LongName,
			})
		}
	}
	return out
}

func (s *Server) derivativesOf(conID int64) []string {
	if len(s.chains[conID]) > 0 {
		return []string{common.SecTypeOption}
	}
	return nil
}

func (s *Server) matchContracts(want common.Contract) []ib.ContractDetails {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ib.ContractDetails
	for _, cd := range s.contracts {
		if contractMatches(cd.Contract, want) {
			out = append(out, cd)
		}
	}
	return out
}

func contractMatches(have, want common.Contract) bool {
	if want.ConID != 0 {
		return have.ConID == want.ConID
	}
	if !strings.EqualFold(have.Symbol, want.Symbol) {
		return false
	}
	if want.SecType != "" && have.SecType != want.SecType {
		return false
	}
	if want.Right != "" && have.Right != want.Right {
		return false
	}
	if want.LastTradeDate != "" && have.LastTradeDate != want.LastTradeDate {
		return false
	}
	if want.Strike != 0 && have.Strike != want.Strike {
		return false
	}
	if want.Currency != "" && have.Currency != "" && have.Currency != want.Currency {
		return false
	}
	return true
}
