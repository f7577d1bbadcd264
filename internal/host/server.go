// Package host is the TCP boundary around a single engine.Pool: a
// supervised listener feeds connections to a worker pool, workers read
// wire frames off them, and one serializer goroutine applies every
// operation to the pool in arrival order. That last hop is what gives the
// engine the one-transaction-at-a-time-per-pool discipline it assumes of
// its hosting runtime.
package host

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"critbook/internal/account"
	"critbook/internal/engine"
	"critbook/internal/wire"
)

const (
	MAX_RECV_SIZE      = 4 * 1024
	defaultNWorkers    = 10
	defaultConnTimeout = time.Second
)

var (
	ErrClientDoesNotExist = errors.New("host: client does not exist")
)

// ClientSession contains relevant information pertaining to an individual
// connected TCP session.
type ClientSession struct {
	conn net.Conn
}

// ClientMessage links a raw request frame to the client that sent it.
type ClientMessage struct {
	clientAddress string
	frame         []byte
}

type Server struct {
	address            string
	port               int
	pool               *engine.Pool
	workers            WorkerPool
	cancel             context.CancelFunc
	clientSessions     map[string]ClientSession
	clientSessionsLock sync.Mutex
	clientMessages     chan ClientMessage
}

func New(address string, port int, pool *engine.Pool) *Server {
	return &Server{
		address:        address,
		port:           port,
		pool:           pool,
		workers:        NewWorkerPool(defaultNWorkers),
		clientSessions: make(map[string]ClientSession),
		clientMessages: make(chan ClientMessage, TASK_CHAN_SIZE),
	}
}

func (s *Server) Shutdown() {
	log.Info().Msg("server shutting down")
	s.cancel()
}

func (s *Server) Run(ctx context.Context) {
	defer s.Shutdown()

	// Setup a cancel on the context for future shutdown.
	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	// Start a tcp listener.
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
	}()

	// Start the worker pool.
	s.workers.Setup(t, s.handleConnection)

	// Start the serializer: the single goroutine allowed to touch the pool.
	t.Go(func() error {
		return s.serializer(t)
	})

	log.Info().Str("address", s.address).Int("port", s.port).Msg("server running")

	// Start accepting connections.
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := listener.Accept()
			if err != nil {
				log.Error().Err(err).Msg("error accepting client")
				continue
			}

			log.Info().
				Str("address", conn.RemoteAddr().String()).
				Msg("new client added")
			// Track the session: we expect to maintain a long TCP
			// connection and push execution reports back over it.
			s.addClientSession(conn)

			// Pass over the connection to be read from.
			s.workers.AddTask(conn)
		}
	}
}

// Broadcast pushes an engine event to every connected session. It is the
// pool's EventSink: delivery is best effort, a dead connection just drops
// its session.
func (s *Server) Broadcast(e engine.Event) {
	frame := wire.EventReport(e)
	payload := frame.Serialize()

	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	for addr, session := range s.clientSessions {
		if _, err := session.conn.Write(payload); err != nil {
			delete(s.clientSessions, addr)
		}
	}
}

// reportError writes an ErrorReport for a rejected operation back to the
// client that sent it.
func (s *Server) reportError(clientAddress string, opErr error) error {
	rep := wire.NewErrorReport(s.pool.ID(), "", 0, opErr)
	return s.write(clientAddress, rep.Serialize())
}

func (s *Server) write(clientAddress string, payload []byte) error {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	client, ok := s.clientSessions[clientAddress]
	if !ok {
		return ErrClientDoesNotExist
	}
	if _, err := client.conn.Write(payload); err != nil {
		delete(s.clientSessions, clientAddress)
		return fmt.Errorf("unable to send report: %w", err)
	}
	return nil
}

// serializer drains incoming client messages and applies them to the pool
// one at a time. No other goroutine touches the pool while the server
// runs.
func (s *Server) serializer(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case message := <-s.clientMessages:
			if err := s.handleMessage(message); err != nil {
				log.Error().
					Err(err).
					Str("clientAddress", message.clientAddress).
					Msg("error handling message")
				if rerr := s.reportError(message.clientAddress, err); rerr != nil {
					log.Error().
						Err(rerr).
						Str("clientAddress", message.clientAddress).
						Msg("error reporting failure to client")
				}
			}
		}
	}
}

// handleMessage parses one request frame and applies it to the pool,
// writing the operation's result report back to the requesting client. A
// returned error means the operation was rejected; serializer turns it
// into an ErrorReport.
func (s *Server) handleMessage(message ClientMessage) error {
	msgType, parsed, err := wire.ParseRequest(message.frame)
	if err != nil {
		return err
	}

	var result engine.PlaceResult
	var opErr error
	var kind engine.EventKind
	var acct account.ID

	switch msg := parsed.(type) {
	case wire.PlaceLimitMessage:
		acct = account.ID(msg.Account)
		kind = engine.EventPlaced
		result, opErr = s.pool.PlaceLimitOrder(
			acct, msg.ClientID, msg.Side, msg.Price, msg.Quantity,
			msg.ExpireTimestampMs, msg.Restriction, msg.SelfMatchPolicy,
		)
	case wire.PlaceMarketMessage:
		acct = account.ID(msg.Account)
		kind = engine.EventFilled
		result, opErr = s.pool.PlaceMarketOrder(acct, msg.Side, msg.Quantity, msg.SelfMatchPolicy)
	case wire.SwapMessage:
		acct = account.ID(msg.Account)
		kind = engine.EventFilled
		if msgType == wire.SwapExactBaseForQuote {
			result, opErr = s.pool.SwapExactBaseForQuote(acct, msg.Quantity, msg.SelfMatchPolicy)
		} else {
			result, opErr = s.pool.SwapExactQuoteForBase(acct, msg.Quantity, msg.SelfMatchPolicy)
		}
	case wire.CancelOrderMessage:
		acct = account.ID(msg.Account)
		kind = engine.EventCancelled
		opErr = s.pool.CancelOrder(acct, msg.OrderID)
		result = engine.PlaceResult{OrderID: msg.OrderID}
	case wire.CancelAllMessage:
		acct = account.ID(msg.Account)
		kind = engine.EventCancelled
		opErr = s.pool.CancelAll(acct)
	case nil:
		// Heartbeat: nothing to apply, nothing to report.
		return nil
	default:
		return wire.ErrInvalidMessageType
	}
	if opErr != nil {
		return opErr
	}

	rep := wire.Report{
		MessageType: wire.ExecutionReport,
		Kind:        kind,
		OrderID:     result.OrderID,
		BaseQty:     result.BaseFilled,
		QuoteQty:    result.QuoteFilled,
		PoolID:      s.pool.ID(),
		Account:     acct.String(),
	}
	return s.write(message.clientAddress, rep.Serialize())
}

// handleConnection is a short-lived worker method which reads the next
// message off the connection and passes it forward to the serializer. If
// the connection dies, the client session is cleaned up. The connection is
// re-queued afterwards so the next frame is picked up by whichever worker
// frees up first.
func (s *Server) handleConnection(t *tomb.Tomb, conn net.Conn) error {
	// Set max read timeout so a silent client releases the worker.
	if err := conn.SetReadDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		log.Error().
			Str("address", conn.RemoteAddr().String()).
			Err(err).
			Msg("failed setting deadline for connection")
		return nil
	}

	buffer := make([]byte, MAX_RECV_SIZE)
	select {
	case <-t.Dying():
		return nil
	default:
		n, err := conn.Read(buffer)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				// Nothing pending; hand the connection back for later.
				s.workers.AddTask(conn)
				return nil
			}
			// The client likely exited. Clean up the session.
			s.deleteClientSession(conn.RemoteAddr().String())
			if cerr := conn.Close(); cerr != nil {
				log.Error().Str("address", conn.RemoteAddr().String()).Err(cerr).Msg("error closing connection")
			}
			return nil
		}

		frame := make([]byte, n)
		copy(frame, buffer[:n])

		// Pass over to the serializer and exit this worker.
		s.clientMessages <- ClientMessage{
			frame:         frame,
			clientAddress: conn.RemoteAddr().String(),
		}

		// Push the client connection back to handle the next message.
		s.workers.AddTask(conn)
	}
	return nil
}

// addClientSession is an atomic map add
func (s *Server) addClientSession(conn net.Conn) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	s.clientSessions[conn.RemoteAddr().String()] = ClientSession{
		conn: conn,
	}
}

// deleteClientSession is an atomic map remove
func (s *Server) deleteClientSession(address string) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	delete(s.clientSessions, address)
}
