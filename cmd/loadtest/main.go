package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aeolun/linechat/pkg/client"
	"github.com/aeolun/linechat/pkg/credentials"
	"github.com/aeolun/linechat/pkg/protocol"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur."

var loremWords = strings.Fields(loremIpsum)

const responseTimeout = 5 * time.Second

// getCPULoad returns the 1-minute load average
func getCPULoad() float64 {
	// Read /proc/loadavg on Linux
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}

	// Format: "0.52 0.58 0.59 1/285 12345"
	var load1, load5, load15 float64
	fmt.Sscanf(string(data), "%f %f %f", &load1, &load5, &load15)
	return load1
}

// Stats tracks performance metrics
type Stats struct {
	broadcastsSent     atomic.Int64
	broadcastsReceived atomic.Int64
	messagesFailed     atomic.Int64
	totalResponseTime  atomic.Int64 // in microseconds
	connectionErrors   atomic.Int64
	successfulClients  atomic.Int64

	// Detailed failure tracking
	timeouts       atomic.Int64
	disconnections atomic.Int64

	// Login failure breakdown
	dialFailed     atomic.Int64
	loginBadCreds  atomic.Int64
	loginRejected  atomic.Int64
	loginOtherFail atomic.Int64
}

func (s *Stats) recordSuccess(responseTimeUs int64) {
	s.broadcastsSent.Add(1)
	s.totalResponseTime.Add(responseTimeUs)
}

func (s *Stats) recordTimeout() {
	s.messagesFailed.Add(1)
	s.timeouts.Add(1)
}

func (s *Stats) recordDisconnection() {
	s.messagesFailed.Add(1)
	s.disconnections.Add(1)
}

func (s *Stats) snapshot() (sent, received, failed, connErrors int64, avgResponseUs float64) {
	sent = s.broadcastsSent.Load()
	received = s.broadcastsReceived.Load()
	failed = s.messagesFailed.Load()
	connErrors = s.connectionErrors.Load()

	if sent > 0 {
		avgResponseUs = float64(s.totalResponseTime.Load()) / float64(sent)
	}
	return
}

// BotClient is one logged-in user that broadcasts random text and times
// how long its own echo takes to come back
type BotClient struct {
	id       int
	username string
	password string
	conn     *client.Conn
	stats    *Stats
}

func (bc *BotClient) Connect(serverAddr string) error {
	conn, err := client.Dial(serverAddr, client.Options{Timeout: responseTimeout})
	if err != nil {
		bc.stats.dialFailed.Add(1)
		return fmt.Errorf("dial: %w", err)
	}
	bc.conn = conn

	offline, err := conn.Login(bc.username, bc.password, responseTimeout)
	switch {
	case err == nil:
	case errors.Is(err, client.ErrBadCredentials):
		bc.stats.loginBadCreds.Add(1)
		return fmt.Errorf("login %s: %w", bc.username, err)
	case errors.Is(err, client.ErrRejected):
		bc.stats.loginRejected.Add(1)
		return fmt.Errorf("login %s: %w", bc.username, err)
	default:
		bc.stats.loginOtherFail.Add(1)
		return fmt.Errorf("login %s: %w", bc.username, err)
	}

	if len(offline) > 0 {
		debugLogger.Printf("[Bot %d] %s had %d offline messages", bc.id, bc.username, len(offline))
	}
	return nil
}

// Broadcast sends one random broadcast and waits for its echo. Broadcasts
// from other bots that arrive first are counted as received.
func (bc *BotClient) Broadcast() error {
	wordCount := 5 + rand.Intn(16)
	words := make([]string, wordCount)
	for i := range words {
		words[i] = loremWords[rand.Intn(len(loremWords))]
	}
	body := strings.Join(words, " ")
	echo := protocol.BroadcastEcho(bc.username, body)

	start := time.Now()
	if err := bc.conn.Send("broadcast " + body); err != nil {
		bc.stats.recordDisconnection()
		return err
	}

	deadline := start.Add(responseTimeout)
	for {
		line, err := bc.conn.Next(time.Until(deadline))
		if errors.Is(err, client.ErrTimeout) {
			bc.stats.recordTimeout()
			return err
		}
		if err != nil {
			bc.stats.recordDisconnection()
			return err
		}

		switch {
		case line == echo:
			bc.stats.recordSuccess(time.Since(start).Microseconds())
			return nil
		case line == protocol.PromptCommand:
		case strings.Contains(line, ": "):
			bc.stats.broadcastsReceived.Add(1)
		default:
			debugLogger.Printf("[Bot %d] unexpected line: %q", bc.id, line)
		}
	}
}

// Run broadcasts at random intervals until duration has passed or stop is
// closed, then logs out
func (bc *BotClient) Run(duration, minDelay, maxDelay time.Duration, stop <-chan struct{}) {
	defer bc.conn.Close()

	deadline := time.After(duration)
	for {
		delay := minDelay
		if maxDelay > minDelay {
			delay += time.Duration(rand.Int63n(int64(maxDelay - minDelay)))
		}

		select {
		case <-deadline:
			bc.logout()
			return
		case <-stop:
			bc.logout()
			return
		case <-time.After(delay):
		}

		if err := bc.Broadcast(); err != nil {
			debugLogger.Printf("[Bot %d] broadcast failed: %v", bc.id, err)
			if errors.Is(err, client.ErrClosed) {
				return
			}
		}
	}
}

func (bc *BotClient) logout() {
	if err := bc.conn.Logout(responseTimeout); err != nil {
		debugLogger.Printf("[Bot %d] logout: %v", bc.id, err)
	}
}

var debugLogger *log.Logger

func initLogging() error {
	// Create loadtest.log file (truncate on each run to avoid confusion)
	logFile, err := os.OpenFile("loadtest.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return fmt.Errorf("failed to create loadtest.log: %w", err)
	}

	// Create loadtest_debug.log file for detailed bot communication logs
	debugLogFile, err := os.OpenFile("loadtest_debug.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return fmt.Errorf("failed to create loadtest_debug.log: %w", err)
	}

	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.SetFlags(log.LstdFlags)
	debugLogger = log.New(debugLogFile, "", log.LstdFlags|log.Lmicroseconds)

	return nil
}

func main() {
	serverAddr := flag.String("server", "localhost:4000", "Server address (host:port, ssh://host:port or ws://host:port)")
	usersFile := flag.String("users", "user_pass.txt", "Credential file with one \"username password\" per line")
	numClients := flag.Int("clients", 0, "Number of concurrent clients (0 = one per user)")
	duration := flag.Duration("duration", 1*time.Minute, "Test duration")
	minDelay := flag.Duration("min-delay", 100*time.Millisecond, "Minimum delay between broadcasts")
	maxDelay := flag.Duration("max-delay", 1*time.Second, "Maximum delay between broadcasts")
	flag.Parse()

	if err := initLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	pairs, err := credentials.ReadPairsFile(*usersFile)
	if err != nil {
		log.Fatalf("Failed to load users: %v", err)
	}
	usernames := make([]string, 0, len(pairs))
	for name := range pairs {
		usernames = append(usernames, name)
	}
	sort.Strings(usernames)

	// Each user can only be logged in once
	if *numClients <= 0 || *numClients > len(usernames) {
		*numClients = len(usernames)
	}

	// Ramp up over 25% of test duration
	rampUpDuration := *duration / 4
	staggerDelay := rampUpDuration / time.Duration(*numClients)
	if staggerDelay < 1*time.Millisecond {
		staggerDelay = 1 * time.Millisecond
	}

	log.Printf("Starting load test:")
	log.Printf("  Server: %s", *serverAddr)
	log.Printf("  Clients: %d", *numClients)
	log.Printf("  Duration: %v", *duration)
	log.Printf("  Ramp-up: %v (%v per client)", rampUpDuration, staggerDelay)
	log.Printf("  Delay: %v - %v", *minDelay, *maxDelay)

	stats := &Stats{}
	stop := make(chan struct{})
	var stopOnce sync.Once
	var wg sync.WaitGroup

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Printf("Shutdown signal received, stopping test...")
		stopOnce.Do(func() { close(stop) })
	}()

	// Stats reporter
	stopStats := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		startTime := time.Now()
		for {
			select {
			case <-ticker.C:
				sent, received, failed, connErrors, avgUs := stats.snapshot()
				elapsed := time.Since(startTime).Seconds()
				log.Printf("Stats: %d sent (%.1f/s), %d received, %d failed, %d conn errors, avg %.2fms, load %.2f, goroutines %d",
					sent, float64(sent)/elapsed, received, failed, connErrors, avgUs/1000.0, getCPULoad(), runtime.NumGoroutine())
			case <-stopStats:
				return
			}
		}
	}()

	start := time.Now()
	for i := 0; i < *numClients; i++ {
		username := usernames[i]
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			bot := &BotClient{id: id, username: username, password: pairs[username], stats: stats}
			if err := bot.Connect(*serverAddr); err != nil {
				stats.connectionErrors.Add(1)
				debugLogger.Printf("[Bot %d] %v", id, err)
				if bot.conn != nil {
					bot.conn.Close()
				}
				return
			}
			stats.successfulClients.Add(1)

			// Only log every 100th client during ramp-up
			if id%100 == 0 {
				log.Printf("[Bot %d] Connected as %s", id, username)
			}

			bot.Run(*duration, *minDelay, *maxDelay, stop)
		}(i)

		select {
		case <-stop:
		case <-time.After(staggerDelay):
		}
	}

	wg.Wait()
	close(stopStats)

	sent, received, failed, connErrors, avgUs := stats.snapshot()
	elapsed := time.Since(start)

	log.Printf("=== Final Results ===")
	log.Printf("Clients: %d attempted, %d successful", *numClients, stats.successfulClients.Load())
	log.Printf("Duration: %v", elapsed.Round(time.Second))
	log.Printf("Broadcasts sent: %d (%.1f/s)", sent, float64(sent)/elapsed.Seconds())
	log.Printf("Broadcasts received: %d", received)
	log.Printf("Failures: %d", failed)
	log.Printf("  - Timeouts: %d", stats.timeouts.Load())
	log.Printf("  - Disconnections: %d", stats.disconnections.Load())
	log.Printf("Connection errors: %d", connErrors)
	if connErrors > 0 {
		log.Printf("  - Dial failed: %d", stats.dialFailed.Load())
		log.Printf("  - Bad credentials: %d", stats.loginBadCreds.Load())
		log.Printf("  - Login refused: %d", stats.loginRejected.Load())
		log.Printf("  - Other login errors: %d", stats.loginOtherFail.Load())
	}
	log.Printf("Average echo time: %.2fms", avgUs/1000.0)
	if sent > 0 {
		log.Printf("Success rate: %.1f%%", float64(sent)/float64(sent+failed)*100)
	}
}
