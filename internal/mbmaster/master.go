package mbmaster

import (
	"sync"

	"github.com/sirupsen/logrus"

	"modbusbaby/internal/rtuio"
)

// TraceMask gates Debug-level tracing by category, supplementing spec.md
// with the original C++ driver's independent trace flags.
type TraceMask uint

const (
	TraceControl TraceMask = 1 << iota
	TraceRequest
	TraceResponse
	TraceDataUnit
)

// Master is the L1 RTU master: it owns the serial link, a FIFO of pending
// requests, and a single worker goroutine that guarantees at most one
// request is ever in flight on the bus.
type Master struct {
	log   *logrus.Logger
	trace TraceMask

	mu         sync.Mutex
	port       *rtuio.Port
	open       bool
	closing    bool
	queue      []Request
	queuedC    chan struct{}
	stop       chan struct{}
	done       chan struct{}
	pendingCfg *rtuio.Config

	bus *broadcaster
}

// New constructs a closed master bound to cfg. Call Open to connect.
func New(cfg rtuio.Config, log *logrus.Logger) *Master {
	return NewWithPort(rtuio.New(cfg), log)
}

// NewWithPort wires a master to an already-constructed port — used in tests
// to substitute rtuio.NewWithDialer's in-memory device for the real serial
// hardware the bare New constructor would open.
func NewWithPort(port *rtuio.Port, log *logrus.Logger) *Master {
	return &Master{
		log:     log,
		port:    port,
		queuedC: make(chan struct{}, 1),
		bus:     newBroadcaster(),
	}
}

// Subscribe returns a channel of every event this master publishes. Call
// before Open to avoid missing early events.
func (m *Master) Subscribe() <-chan Event {
	return m.bus.subscribe(32)
}

func (m *Master) SetTrace(mask TraceMask) { m.trace = mask }

func (m *Master) isTrace(mask TraceMask) bool { return m.trace&mask != 0 }

// IsOpen reports whether the link is currently connected.
func (m *Master) IsOpen() bool { return m.port.IsOpen() }

// Config setters — update the adapter parameters for the next Open. A
// port name, baud, or parity change must be made while closed; it takes
// effect on the next Open.
func (m *Master) SetPortName(name string) error {
	return m.port.SetParameter("port name", func(c *rtuio.Config) { c.PortName = name })
}

func (m *Master) SetBaudRate(baud int) error {
	return m.setFramingParam(func(c *rtuio.Config) { c.BaudRate = baud })
}

func (m *Master) SetDataBits(bits int) error {
	return m.setFramingParam(func(c *rtuio.Config) { c.DataBits = bits })
}

func (m *Master) SetStopBits(bits rtuio.StopBits) error {
	return m.setFramingParam(func(c *rtuio.Config) { c.StopBits = bits })
}

func (m *Master) SetParity(p rtuio.Parity) error {
	return m.setFramingParam(func(c *rtuio.Config) { c.Parity = p })
}

func (m *Master) setFramingParam(apply func(*rtuio.Config)) error {
	if !m.port.IsOpen() {
		return m.port.SetParameter("framing", apply)
	}
	// Safe to change live: mutate now, the worker re-applies framing to the
	// open port the next time it is idle between requests (applyPendingFraming).
	m.mu.Lock()
	cfg := m.port.Config()
	apply(&cfg)
	m.pendingCfg = &cfg
	m.mu.Unlock()
	return cfg.Validate()
}

// Open connects the link. Safe to call when already open.
func (m *Master) Open() error {
	m.mu.Lock()
	if m.open {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.port.Open(); err != nil {
		return err
	}

	m.mu.Lock()
	m.open = true
	m.closing = false
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	go m.runWorker(stop, done)
	m.bus.publish(OpenedEvent{})
	return nil
}

// Close tears the link down, failing every queued request with
// ErrReplyAborted and stopping the worker.
func (m *Master) Close() {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return
	}
	m.open = false
	m.closing = true
	pending := m.queue
	m.queue = nil
	stop, done := m.stop, m.done
	m.mu.Unlock()

	close(stop)
	_ = m.port.Close() // unblocks the worker's in-flight Request

	for _, req := range pending {
		m.bus.publish(ErrorEvent{Server: req.Server, Kind: ErrReplyAborted, Message: rtuio.ErrReplyAborted.Error()})
		m.bus.publish(CompleteEvent{Server: req.Server})
	}
	if done != nil {
		<-done
	}
	m.bus.publish(ClosedEvent{})
}

// Read enqueues a ReadUnit request. Never blocks the caller.
func (m *Master) Read(server byte, unit DataUnit) error {
	return m.enqueue(Request{Kind: ReadRequest, Server: server, Unit: unit})
}

// Write enqueues a WriteUnit request. Never blocks the caller.
func (m *Master) Write(server byte, unit DataUnit) error {
	return m.enqueue(Request{Kind: WriteRequest, Server: server, Unit: unit})
}

// Send enqueues a Raw request carrying a fully-formed PDU.
func (m *Master) Send(server byte, pdu []byte) error {
	return m.enqueue(Request{Kind: RawRequest, Server: server, PDU: pdu})
}

func (m *Master) enqueue(req Request) error {
	if !ValidServer(req.Server) {
		return ErrInvalidServer
	}
	m.mu.Lock()
	m.queue = append(m.queue, req)
	m.mu.Unlock()
	select {
	case m.queuedC <- struct{}{}:
	default:
	}
	return nil
}

func (m *Master) dequeue() (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return Request{}, false
	}
	req := m.queue[0]
	m.queue = m.queue[1:]
	return req, true
}

func (m *Master) runWorker(stop, done chan struct{}) {
	defer close(done)
	for {
		m.applyPendingFraming()
		req, ok := m.dequeue()
		if !ok {
			select {
			case <-m.queuedC:
				continue
			case <-stop:
				return
			}
		}

		m.mu.Lock()
		closing := m.closing
		m.mu.Unlock()
		if closing {
			return
		}

		m.execute(req)
	}
}

func (m *Master) applyPendingFraming() {
	m.mu.Lock()
	cfg := m.pendingCfg
	m.pendingCfg = nil
	m.mu.Unlock()
	if cfg == nil {
		return
	}
	_ = m.port.SetParameter("framing", func(c *rtuio.Config) { *c = *cfg })
	if m.port.IsOpen() {
		_ = m.port.ApplyFraming()
	}
}

func (m *Master) execute(req Request) {
	pdu, fn, err := buildRequestPDU(req)
	if err != nil {
		m.failRequest(req.Server, ErrConfiguration, err.Error())
		return
	}

	if m.isTrace(TraceRequest) {
		m.log.Debugf("mbmaster: -> server=%d pdu=% x", req.Server, pdu)
	}

	respPDU, err := m.port.Request(req.Server, pdu)
	if err != nil {
		m.mu.Lock()
		closing := m.closing
		m.mu.Unlock()
		if closing {
			// Close() already tore the port down; this request was the one
			// in flight when it happened.
			m.bus.publish(ErrorEvent{Server: req.Server, Kind: ErrReplyAborted, Message: rtuio.ErrReplyAborted.Error()})
			m.bus.publish(CompleteEvent{Server: req.Server})
			return
		}
		m.failRequest(req.Server, classifyError(err), err.Error())
		return
	}

	if m.isTrace(TraceResponse) {
		m.log.Debugf("mbmaster: <- server=%d pdu=% x", req.Server, respPDU)
	}

	reply := decodeReply(fn, respPDU)
	if m.isTrace(TraceDataUnit) && reply.DecodedUnit != nil {
		m.log.Debugf("mbmaster: server=%d unit=%+v", req.Server, *reply.DecodedUnit)
	}

	m.bus.publish(ReceivedEvent{Server: req.Server, Reply: reply, IsDecodedAsUnit: reply.DecodedUnit != nil})
	m.bus.publish(CompleteEvent{Server: req.Server})
}

func (m *Master) failRequest(server byte, kind ErrorKind, message string) {
	m.bus.publish(ErrorEvent{Server: server, Kind: kind, Message: message})
	m.bus.publish(CompleteEvent{Server: server})
	if kind.fatalToLink() {
		go m.Close()
	}
}

func buildRequestPDU(req Request) (pdu []byte, requestFn byte, err error) {
	switch req.Kind {
	case ReadRequest:
		pdu, err = encodeRead(req.Unit)
	case WriteRequest:
		pdu, err = encodeWrite(req.Unit)
	case RawRequest:
		pdu = req.PDU
	}
	if err != nil || len(pdu) == 0 {
		return nil, 0, err
	}
	return pdu, pdu[0], nil
}

func classifyError(err error) ErrorKind {
	switch err {
	case rtuio.ErrTimeout:
		return ErrTimeout
	case rtuio.ErrCRCMismatch, rtuio.ErrFrameTooShort, rtuio.ErrAddressMismatch:
		return ErrProtocol
	case rtuio.ErrNotOpen:
		return ErrConnection
	default:
		return ErrConnection
	}
}
