package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/linechat/pkg/chat"
	"github.com/aeolun/linechat/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
)

// Server accepts line-protocol connections over TCP, SSH and WebSocket and
// hands each one to the chat hub.
type Server struct {
	hub         *chat.Hub
	metrics     *chat.Metrics
	config      ServerConfig
	listener    net.Listener
	sshListener net.Listener
	httpServer  *http.Server
	metricsHTTP *http.Server
	shutdown    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	startTime   time.Time

	// Connection deltas for periodic reporting
	connectionsSinceReport    atomic.Int64
	disconnectionsSinceReport atomic.Int64

	// Raw transports, closed on Stop so unauthenticated clients are released too
	connsMu sync.Mutex
	conns   map[io.Closer]struct{}
}

// ServerConfig holds server configuration
type ServerConfig struct {
	TCPPort        int // 0 = random port
	SSHPort        int // 0 = disabled
	HTTPPort       int // WebSocket endpoint /ws (0 = disabled)
	MetricsPort    int // /metrics and /health (0 = disabled)
	SSHHostKeyPath string

	BlockDuration     time.Duration
	RecentWindow      time.Duration
	IdleTimeout       time.Duration // 0 disables idle timeouts
	IdleSweepInterval time.Duration // 0 only checks idle time when input arrives
	WriteTimeout      time.Duration
	MaxAuthAttempts   int
	MaxLineLength     int

	Verbose          bool
	ResolveHostnames bool
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		TCPPort:        4000,
		SSHPort:        4001,
		HTTPPort:       8080,
		MetricsPort:    9090,
		SSHHostKeyPath: "~/.linechat/ssh_host_key",

		BlockDuration:     time.Minute,
		RecentWindow:      time.Hour,
		IdleTimeout:       30 * time.Minute,
		IdleSweepInterval: time.Minute,
		WriteTimeout:      10 * time.Second,
		MaxAuthAttempts:   3,
		MaxLineLength:     protocol.MaxLineLength,
	}
}

// ChatConfig returns the hub's timing policy
func (c ServerConfig) ChatConfig() chat.Config {
	cfg := chat.DefaultConfig()
	cfg.BlockDuration = c.BlockDuration
	cfg.RecentWindow = c.RecentWindow
	cfg.IdleTimeout = c.IdleTimeout
	cfg.MaxAuthAttempts = c.MaxAuthAttempts
	if c.ResolveHostnames {
		cfg.ResolveAddress = chat.CanonicalHostName
	}
	return cfg
}

// NewServer creates a new server instance authenticating against creds
func NewServer(creds chat.CredentialStore, config ServerConfig) *Server {
	initLoggers(config.Verbose)
	return newServer(creds, config)
}

// newServer builds the server without touching the package loggers
func newServer(creds chat.CredentialStore, config ServerConfig) *Server {
	metrics := chat.NewMetrics()
	hub := chat.NewHub(creds, config.ChatConfig())
	hub.SetMetrics(metrics)

	return &Server{
		hub:       hub,
		metrics:   metrics,
		config:    config,
		shutdown:  make(chan struct{}),
		startTime: time.Now(),
		conns:     make(map[io.Closer]struct{}),
	}
}

// initLoggers sets up error and debug loggers. Debug output (every protocol
// step) is only written in verbose mode.
func initLoggers(verbose bool) {
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags)
	chat.SetDebugOutput(io.Discard)
	if verbose {
		enableDebugLogging()
	}
}

func enableDebugLogging() {
	debugLog = log.New(os.Stderr, "DEBUG: ", log.LstdFlags)
	chat.SetDebugOutput(os.Stderr)
	debugLog.Println("Debug logging enabled")
}

// Hub returns the chat hub shared by all transports
func (s *Server) Hub() *chat.Hub {
	return s.hub
}

// Start starts all configured listeners and background loops
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.TCPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	log.Printf("TCP server listening on %s", listener.Addr())

	if err := s.startSSHServer(); err != nil {
		s.listener.Close()
		return fmt.Errorf("failed to start SSH server: %w", err)
	}

	if s.config.HTTPPort > 0 {
		srv, err := s.startHTTPServer(s.config.HTTPPort, s.webSocketMux())
		if err != nil {
			s.closeListeners()
			return fmt.Errorf("failed to start WebSocket server: %w", err)
		}
		s.httpServer = srv
		log.Printf("WebSocket server listening on :%d (/ws, /health)", s.config.HTTPPort)
	}

	if s.config.MetricsPort > 0 {
		srv, err := s.startHTTPServer(s.config.MetricsPort, s.metricsMux())
		if err != nil {
			s.closeListeners()
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		s.metricsHTTP = srv
		log.Printf("Metrics server listening on :%d (/metrics, /health) - INTERNAL ONLY", s.config.MetricsPort)
	}

	s.wg.Add(1)
	go s.metricsLoggingLoop()

	if s.config.IdleTimeout > 0 && s.config.IdleSweepInterval > 0 {
		s.wg.Add(1)
		go s.idleSweepLoop()
	}

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// webSocketMux serves the public WebSocket endpoint
func (s *Server) webSocketMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWebSocket)
	mux.HandleFunc("/health", s.HealthHandler)
	return mux
}

// metricsMux serves the internal Prometheus endpoint
func (s *Server) metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", s.HealthHandler)
	return mux
}

func (s *Server) startHTTPServer(port int, handler http.Handler) (*http.Server, error) {
	addr := fmt.Sprintf(":%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorLog.Printf("HTTP server on %s: %v", addr, err)
		}
	}()
	return srv, nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.stopOnce.Do(s.stop)
	return nil
}

func (s *Server) stop() {
	log.Println("Graceful shutdown initiated...")
	close(s.shutdown)

	s.closeListeners()

	n := s.hub.CloseAll(protocol.ServerShutdown)
	log.Printf("Closed %d chat sessions", n)

	// Connections still authenticating
	s.connsMu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.connsMu.Unlock()

	log.Println("Waiting for connections to finish...")
	s.wg.Wait()
	log.Println("Graceful shutdown complete")
}

func (s *Server) closeListeners() {
	if s.listener != nil {
		s.listener.Close()
		log.Println("TCP listener closed")
	}
	if s.sshListener != nil {
		s.sshListener.Close()
		log.Println("SSH listener closed")
	}
	if s.httpServer != nil {
		s.httpServer.Close()
	}
	if s.metricsHTTP != nil {
		s.metricsHTTP.Close()
	}
}

// track registers a raw transport for Stop. It returns false once the server
// is shutting down; the caller must then close the transport itself.
func (s *Server) track(c io.Closer) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()

	select {
	case <-s.shutdown:
		return false
	default:
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c io.Closer) {
	s.connsMu.Lock()
	delete(s.conns, c)
	s.connsMu.Unlock()
	s.wg.Done()
}

// acceptLoop accepts incoming TCP connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			errorLog.Printf("Accept error: %v", err)
			continue
		}

		if !s.track(conn) {
			conn.Close()
			return
		}
		go s.handleConnection(conn)
	}
}

// handleConnection runs one TCP client until it disconnects
func (s *Server) handleConnection(conn net.Conn) {
	defer s.untrack(conn)

	// Disable Nagle's algorithm for immediate prompts
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	s.serveConn(NewSafeConn(conn, s.config.MaxLineLength, s.config.WriteTimeout), "tcp")
}

// serveConn runs the chat protocol on conn and logs how it ended
func (s *Server) serveConn(conn chat.Conn, transport string) {
	s.connectionsSinceReport.Add(1)
	defer s.disconnectionsSinceReport.Add(1)
	debugLog.Printf("New %s connection from %s", transport, conn.RemoteAddr())

	err := s.hub.Serve(conn)
	switch {
	case err == nil:
		debugLog.Printf("%s connection from %s closed", transport, conn.RemoteAddr())
	case errors.Is(err, chat.ErrLocked),
		errors.Is(err, chat.ErrTooManyFailures),
		errors.Is(err, chat.ErrAlreadyConnected):
		log.Printf("Rejected %s login from %s: %v", transport, conn.RemoteAddr(), err)
	case errors.Is(err, chat.ErrStreamClosed):
		debugLog.Printf("%s client %s left during login: %v", transport, conn.RemoteAddr(), err)
	default:
		debugLog.Printf("%s connection from %s ended: %v", transport, conn.RemoteAddr(), err)
	}
}

// metricsLoggingLoop periodically logs key metrics
func (s *Server) metricsLoggingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			connected := s.connectionsSinceReport.Swap(0)
			disconnected := s.disconnectionsSinceReport.Swap(0)
			if connected == 0 && disconnected == 0 {
				continue
			}
			log.Printf("[METRICS] Online users: %d, connected since last: %d, disconnected since last: %d, goroutines: %d",
				s.hub.Registry().Count(), connected, disconnected, runtime.NumGoroutine())
		}
	}
}

// idleSweepLoop logs out silent sessions whose idle time has run out
func (s *Server) idleSweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.IdleSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			if n := s.hub.ExpireIdle(); n > 0 {
				debugLog.Printf("Idle sweep closed %d sessions", n)
			}
		}
	}
}

// HealthHandler reports liveness and the number of online users
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"online_users":   s.hub.Registry().Count(),
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}
