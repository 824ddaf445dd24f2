package capture

import (
	"bufio"
	"log"
	"net"
	"sync"
	"time"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultIdleTimeout    = 30 * time.Second
	maxLineSize           = 64 * 1024
)

// Message is one line received from a flight-controller feed
type Message struct {
	Source    string
	Data      []byte
	Timestamp time.Time
}

// Capture reads newline-delimited events from TCP feeds and reconnects
// when a feed drops or goes quiet.
type Capture struct {
	sources        []string
	conns          map[string]net.Conn
	msgChan        chan Message
	wg             sync.WaitGroup
	stopChan       chan struct{}
	stopOnce       sync.Once
	mu             sync.Mutex
	reconnectDelay time.Duration
	idleTimeout    time.Duration
}

// Option configures a Capture
type Option func(*Capture)

// WithReconnectDelay sets the wait between connection attempts
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Capture) { c.reconnectDelay = d }
}

// WithIdleTimeout sets how long a feed may stay silent before it is
// redialled; zero disables the check.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Capture) { c.idleTimeout = d }
}

// New creates a new Capture instance
func New(sources []string, opts ...Option) *Capture {
	c := &Capture{
		sources:        sources,
		conns:          make(map[string]net.Conn),
		msgChan:        make(chan Message, 1000),
		stopChan:       make(chan struct{}),
		reconnectDelay: defaultReconnectDelay,
		idleTimeout:    defaultIdleTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start connects to every source in the background
func (c *Capture) Start() error {
	for _, source := range c.sources {
		c.wg.Add(1)
		go c.connectToSource(source)
	}
	return nil
}

// Stop closes all feeds and the message channel
func (c *Capture) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.mu.Lock()
		for _, conn := range c.conns {
			conn.Close()
		}
		c.mu.Unlock()
		c.wg.Wait()
		close(c.msgChan)
	})
}

// Messages returns the channel for receiving messages
func (c *Capture) Messages() <-chan Message {
	return c.msgChan
}

func (c *Capture) connectToSource(source string) {
	defer c.wg.Done()

	log.Printf("Attempting to connect to %s...", source)
	var disconnectTime time.Time

	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		conn, err := net.DialTimeout("tcp", source, c.reconnectDelay)
		if err != nil {
			if disconnectTime.IsZero() {
				disconnectTime = time.Now()
				log.Printf("Warning: Failed to connect to %s: %v", source, err)
			}
			if !c.wait(c.reconnectDelay) {
				return
			}
			continue
		}

		c.configureTCPKeepalive(conn, source)
		disconnectTime = c.reportReconnect(disconnectTime, source)

		if !c.track(source, conn) {
			conn.Close()
			return
		}

		c.handleConnection(source, conn)

		c.mu.Lock()
		delete(c.conns, source)
		c.mu.Unlock()

		disconnectTime = time.Now()
	}
}

// track registers conn so Stop can close it. It reports false when Stop
// already ran, since Stop would never see the connection.
func (c *Capture) track(source string, conn net.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.stopChan:
		return false
	default:
	}
	c.conns[source] = conn
	return true
}

// wait sleeps for d and reports false when the capture was stopped meanwhile
func (c *Capture) wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.stopChan:
		return false
	case <-timer.C:
		return true
	}
}

// reportReconnect logs how long a feed was unavailable and resets the
// disconnect time
func (c *Capture) reportReconnect(disconnectTime time.Time, source string) time.Time {
	if disconnectTime.IsZero() {
		log.Printf("Successfully connected to %s", source)
		return time.Time{}
	}

	duration := time.Since(disconnectTime)
	switch {
	case duration >= 10*time.Second:
		log.Printf("Connection to %s reestablished after %.1f minutes", source, duration.Minutes())
	case duration >= 100*time.Millisecond:
		log.Printf("Connection to %s reestablished after %.1f seconds", source, duration.Seconds())
	}
	return time.Time{}
}

func (c *Capture) configureTCPKeepalive(conn net.Conn, source string) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tcpConn.SetKeepAlive(true); err != nil {
		log.Printf("Warning: Failed to set keepalive for %s: %v", source, err)
	}
	if err := tcpConn.SetKeepAlivePeriod(2 * time.Second); err != nil {
		log.Printf("Warning: Failed to set keepalive period for %s: %v", source, err)
	}
	if err := tcpConn.SetNoDelay(true); err != nil {
		log.Printf("Warning: Failed to set no delay for %s: %v", source, err)
	}
}

func (c *Capture) handleConnection(source string, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxLineSize)

	for {
		if c.idleTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(c.idleTimeout)); err != nil {
				log.Printf("Warning: Failed to set read deadline for %s: %v", source, err)
			}
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				select {
				case <-c.stopChan:
				default:
					log.Printf("Connection to %s lost: %v", source, err)
				}
			}
			return
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		data := make([]byte, len(line))
		copy(data, line)

		select {
		case c.msgChan <- Message{Source: source, Data: data, Timestamp: time.Now().UTC()}:
		case <-c.stopChan:
			return
		}
	}
}
