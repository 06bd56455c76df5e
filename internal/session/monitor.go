package session

import (
	"sync"
	"time"

	"deepsearch/internal/logging"
)

// ConnectionStatus is the lifecycle state of one SSE connection.
type ConnectionStatus string

const (
	StatusConnecting ConnectionStatus = "connecting"
	StatusActive     ConnectionStatus = "active"
	StatusCompleted  ConnectionStatus = "completed"
	StatusError      ConnectionStatus = "error"
	StatusTimeout    ConnectionStatus = "timeout"
)

// ConnectionInfo is the monitor's record of one SSE connection.
type ConnectionInfo struct {
	ConnectionID string           `json:"connection_id"`
	Query        string           `json:"query"`
	Status       ConnectionStatus `json:"status"`
	StartTime    time.Time        `json:"start_time"`
	LastActivity time.Time        `json:"last_activity"`
	EventsSent   int              `json:"events_sent"`
	ClientIP     string           `json:"client_ip,omitempty"`
	UserAgent    string           `json:"user_agent,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// Stats is a point-in-time snapshot of the monitor.
type Stats struct {
	Timestamp             string           `json:"timestamp"`
	ActiveConnections     int              `json:"active_connections"`
	TotalConnections      int              `json:"total_connections"`
	SuccessfulConnections int              `json:"successful_connections"`
	FailedConnections     int              `json:"failed_connections"`
	Connections           []ConnectionInfo `json:"connections"`
}

// Monitor tracks live SSE connections so operators can see what the service
// is doing and so stuck connections get reaped. A background sweep marks
// connections errored after the session timeout (default 30 minutes).
type Monitor struct {
	mu          sync.Mutex
	connections map[string]*ConnectionInfo

	total      int
	successful int
	failed     int

	timeout       time.Duration
	sweepInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
}

// NewMonitor creates a monitor and starts its expiry sweep.
func NewMonitor() *Monitor {
	m := &Monitor{
		connections:   make(map[string]*ConnectionInfo),
		timeout:       30 * time.Minute,
		sweepInterval: 5 * time.Minute,
		stop:          make(chan struct{}),
	}
	go m.sweep()
	return m
}

// Register records a new connection in connecting state.
func (m *Monitor) Register(connectionID, query, clientIP, userAgent string) {
	const maxQuery = 100
	if len(query) > maxQuery {
		query = query[:maxQuery]
	}
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[connectionID] = &ConnectionInfo{
		ConnectionID: connectionID,
		Query:        query,
		Status:       StatusConnecting,
		StartTime:    now,
		LastActivity: now,
		ClientIP:     clientIP,
		UserAgent:    userAgent,
	}
	m.total++
	logging.Session("sse connection registered: %s", connectionID)
}

// Touch records event activity on a connection and moves it to active.
func (m *Monitor) Touch(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.connections[connectionID]; ok {
		c.EventsSent++
		c.LastActivity = time.Now()
		c.Status = StatusActive
	}
}

// Complete marks a connection as finished successfully.
func (m *Monitor) Complete(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.connections[connectionID]; ok && c.Status != StatusCompleted {
		c.Status = StatusCompleted
		m.successful++
		logging.Session("sse connection completed: %s after %s, %d events",
			connectionID, time.Since(c.StartTime).Round(time.Millisecond), c.EventsSent)
	}
}

// Error marks a connection as failed with a message.
func (m *Monitor) Error(connectionID, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.connections[connectionID]; ok && c.Status != StatusError {
		c.Status = StatusError
		c.ErrorMessage = message
		m.failed++
		logging.SessionWarn("sse connection errored: %s: %s", connectionID, message)
	}
}

// Remove drops a connection record entirely.
func (m *Monitor) Remove(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connections, connectionID)
}

// Snapshot returns current statistics.
func (m *Monitor) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Timestamp:             time.Now().Format(time.RFC3339),
		TotalConnections:      m.total,
		SuccessfulConnections: m.successful,
		FailedConnections:     m.failed,
	}
	for _, c := range m.connections {
		if c.Status == StatusActive || c.Status == StatusConnecting {
			s.ActiveConnections++
		}
		s.Connections = append(s.Connections, *c)
	}
	return s
}

// Close stops the expiry sweep.
func (m *Monitor) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Monitor) sweep() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.expire()
		}
	}
}

func (m *Monitor) expire() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.connections {
		if c.Status != StatusActive && c.Status != StatusConnecting {
			// Terminal records linger for one timeout window for the stats
			// endpoint, then get dropped.
			if now.Sub(c.LastActivity) > m.timeout {
				delete(m.connections, id)
			}
			continue
		}
		if now.Sub(c.LastActivity) > m.timeout {
			c.Status = StatusTimeout
			c.ErrorMessage = "connection timed out"
			m.failed++
			logging.SessionWarn("sse connection timed out: %s", id)
		}
	}
}
