package subscribe

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// ErrServerShuttingDown is an error returned in case the server is in the
// process of shutting down.
var ErrServerShuttingDown = errors.New("subscription server shutting down")

// clientQueueSize is the buffer of each client's update queue.
const clientQueueSize = 20

// Client is used to get notified about updates the caller has subscribed to.
type Client[T any] struct {
	// cancel should be called in case the client no longer wants to
	// subscribe for updates from the server.
	cancel func()

	updates *fn.ConcurrentQueue[T]
	quit    chan struct{}
}

// Updates returns a read-only channel where the updates the client has
// subscribed to will be delivered.
func (c *Client[T]) Updates() <-chan T {
	return c.updates.ChanOut()
}

// Quit is a channel that will be closed in case the server decides to no
// longer deliver updates to this client.
func (c *Client[T]) Quit() <-chan struct{} {
	return c.quit
}

// Cancel should be called in case the client no longer wants to
// subscribe for updates from the server.
func (c *Client[T]) Cancel() {
	c.cancel()
}

// Server manages a set of subscriptions. Every update is delivered to all
// active clients, and a new client first receives the latest update, if
// any, so it never starts from a blank view.
type Server[T any] struct {
	clientCounter atomic.Uint64

	started atomic.Bool
	stopped atomic.Bool

	clients       map[uint64]*Client[T]
	clientUpdates chan *clientUpdate[T]

	updates chan T
	latest  fn.Option[T]

	quit chan struct{}
	wg   sync.WaitGroup
}

// clientUpdate is an internal message sent to the subscriptionHandler to
// either register a new client for subscription or cancel an existing
// subscription.
type clientUpdate[T any] struct {
	// cancel indicates if the update to the client is cancelling an
	// existing client's subscription. If not then this update will be to
	// subscribe a new client.
	cancel bool

	clientID uint64

	// client is the new client that will receive updates. Will be nil in
	// case this is a cancellation update.
	client *Client[T]
}

// NewServer returns a new Server.
func NewServer[T any]() *Server[T] {
	return &Server[T]{
		clients:       make(map[uint64]*Client[T]),
		clientUpdates: make(chan *clientUpdate[T]),
		updates:       make(chan T),
		latest:        fn.None[T](),
		quit:          make(chan struct{}),
	}
}

// Start starts the Server, making it ready to accept subscriptions and
// updates.
func (s *Server[T]) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	s.wg.Add(1)
	go s.subscriptionHandler()

	return nil
}

// Stop stops the server.
func (s *Server[T]) Stop() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}

	close(s.quit)
	s.wg.Wait()

	return nil
}

// Subscribe returns a Client that will receive updates any time the Server is
// made aware of a new event.
func (s *Server[T]) Subscribe() (*Client[T], error) {
	clientID := s.clientCounter.Add(1)

	client := &Client[T]{
		updates: fn.NewConcurrentQueue[T](clientQueueSize),
		quit:    make(chan struct{}),
		cancel: func() {
			select {
			case s.clientUpdates <- &clientUpdate[T]{
				cancel:   true,
				clientID: clientID,
			}:
			case <-s.quit:
				return
			}
		},
	}

	select {
	case s.clientUpdates <- &clientUpdate[T]{
		clientID: clientID,
		client:   client,
	}:
	case <-s.quit:
		return nil, ErrServerShuttingDown
	}

	return client, nil
}

// SendUpdate is called to send the passed update to all currently active
// subscription clients.
func (s *Server[T]) SendUpdate(update T) error {
	select {
	case s.updates <- update:
		return nil
	case <-s.quit:
		return ErrServerShuttingDown
	}
}

// deliver hands upd to one client. It returns false if the server is
// shutting down.
func (s *Server[T]) deliver(client *Client[T], upd T) bool {
	select {
	case client.updates.ChanIn() <- upd:
	case <-client.quit:
	case <-s.quit:
		return false
	}

	return true
}

// subscriptionHandler is the main handler for the Server. It will handle
// incoming updates and subscriptions, and forward the incoming updates to the
// registered clients.
//
// NOTE: MUST be run as a goroutine.
func (s *Server[T]) subscriptionHandler() {
	defer s.wg.Done()

	for {
		select {
		case update := <-s.clientUpdates:
			clientID := update.clientID

			if update.cancel {
				client, ok := s.clients[clientID]
				if ok {
					client.updates.Stop()
					close(client.quit)
					delete(s.clients, clientID)
				}

				continue
			}

			update.client.updates.Start()
			s.clients[clientID] = update.client

			if s.latest.IsSome() {
				var zero T
				if !s.deliver(
					update.client, s.latest.UnwrapOr(zero),
				) {
					return
				}
			}

		// A new update was received, forward it to all active clients.
		case upd := <-s.updates:
			s.latest = fn.Some(upd)

			for _, client := range s.clients {
				if !s.deliver(client, upd) {
					return
				}
			}

		// In case the server is shutting down, stop the clients and
		// close the quit channels to notify them.
		case <-s.quit:
			for _, client := range s.clients {
				client.updates.Stop()
				close(client.quit)
			}
			return
		}
	}
}
