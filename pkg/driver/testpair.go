package driver

import (
	"context"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/test"

	"github.com/mikebaz/gozwave/pkg/cc"
	"github.com/mikebaz/gozwave/pkg/cc/security2"
	"github.com/mikebaz/gozwave/pkg/security"
)

// TestHost is an in-memory Controller implementation for tests: a node id,
// a home id and a grant table.
type TestHost struct {
	nodeID cc.NodeID
	homeID uint32

	mu     sync.Mutex
	grants map[cc.NodeID]map[security.Class]bool
}

// NewTestHost creates a TestHost.
func NewTestHost(nodeID cc.NodeID, homeID uint32) *TestHost {
	return &TestHost{
		nodeID: nodeID,
		homeID: homeID,
		grants: make(map[cc.NodeID]map[security.Class]bool),
	}
}

// OwnNodeID implements Controller.
func (h *TestHost) OwnNodeID() cc.NodeID { return h.nodeID }

// HomeID implements Controller.
func (h *TestHost) HomeID() uint32 { return h.homeID }

// HasSecurityClass implements security2.SecurityInfo.
func (h *TestHost) HasSecurityClass(node cc.NodeID, class security.Class) security2.GrantState {
	h.mu.Lock()
	defer h.mu.Unlock()
	granted, ok := h.grants[node][class]
	if !ok {
		return security2.GrantUnknown
	}
	if granted {
		return security2.GrantGranted
	}
	return security2.GrantDenied
}

// SetSecurityClass implements security2.SecurityInfo.
func (h *TestHost) SetSecurityClass(node cc.NodeID, class security.Class, granted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.grants[node] == nil {
		h.grants[node] = make(map[security.Class]bool)
	}
	h.grants[node][class] = granted
}

// GetHighestSecurityClass implements security2.SecurityInfo.
func (h *TestHost) GetHighestSecurityClass(node cc.NodeID) (security.Class, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var classes []security.Class
	for class, granted := range h.grants[node] {
		if granted {
			classes = append(classes, class)
		}
	}
	if len(classes) == 0 {
		return security.ClassNone, false
	}
	return security.Highest(classes), true
}

// TestEndpoint is an in-memory Endpoint implementation for tests.
type TestEndpoint struct {
	node  cc.NodeID
	index uint8
	ccs   []cc.CommandClassID

	mu     sync.Mutex
	secure map[cc.CommandClassID]bool
}

// NewTestEndpoint creates a TestEndpoint with the given known CCs.
func NewTestEndpoint(node cc.NodeID, index uint8, ccs []cc.CommandClassID) *TestEndpoint {
	return &TestEndpoint{
		node:   node,
		index:  index,
		ccs:    ccs,
		secure: make(map[cc.CommandClassID]bool),
	}
}

// NodeID implements Endpoint.
func (e *TestEndpoint) NodeID() cc.NodeID { return e.node }

// Index implements Endpoint.
func (e *TestEndpoint) Index() uint8 { return e.index }

// SupportedCCs implements Endpoint.
func (e *TestEndpoint) SupportedCCs() []cc.CommandClassID {
	return append([]cc.CommandClassID(nil), e.ccs...)
}

// SetSecureCC implements Endpoint.
func (e *TestEndpoint) SetSecureCC(id cc.CommandClassID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.secure[id] = true
}

// IsSecureCC reports whether a CC was marked secure.
func (e *TestEndpoint) IsSecureCC(id cc.CommandClassID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.secure[id]
}

// SecureCCCount returns how many CCs were marked secure.
func (e *TestEndpoint) SecureCCCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.secure)
}

// bridgeTransport sends frames over one side of a test bridge.
type bridgeTransport struct {
	conn interface {
		Write([]byte) (int, error)
	}
}

// SendFrame implements Transport.
func (t *bridgeTransport) SendFrame(ctx context.Context, peer cc.NodeID, data []byte, opts SendOptions) error {
	_, err := t.conn.Write(append([]byte(nil), data...))
	return err
}

// TestPairConfig configures a TestPair.
type TestPairConfig struct {
	// ControllerID and NodeID default to 1 and 5.
	ControllerID cc.NodeID
	NodeID       cc.NodeID

	// HomeID defaults to 0xDEADBEEF.
	HomeID uint32

	// ControllerKeys and NodeKeys are the network keys loaded into each
	// side's security manager.
	ControllerKeys map[security.Class][]byte
	NodeKeys       map[security.Class][]byte

	// NodeHandler receives unclaimed commands on the node side; use it to
	// script the remote node's behavior.
	NodeHandler Handler

	LoggerFactory logging.LoggerFactory
}

// TestPair wires two S2 layers together over an in-memory bridge:
//
//	Controller (1)                     Node (5)
//	──────────────                     ────────
//	driver.S2  ◀──── test.Bridge ────▶ driver.S2
//
// Frames written on one side are delivered to the other side's HandleFrame
// by background pumps.
type TestPair struct {
	Controller     *S2
	Node           *S2
	ControllerHost *TestHost
	NodeHost       *TestHost

	bridge *test.Bridge
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewTestPair creates and starts a connected pair.
func NewTestPair(config TestPairConfig) (*TestPair, error) {
	if config.ControllerID == 0 {
		config.ControllerID = 1
	}
	if config.NodeID == 0 {
		config.NodeID = 5
	}
	if config.HomeID == 0 {
		config.HomeID = 0xDEADBEEF
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}

	bridge := test.NewBridge()
	pair := &TestPair{
		bridge: bridge,
		stopCh: make(chan struct{}),
	}

	makeSide := func(own cc.NodeID, conn interface {
		Write([]byte) (int, error)
	}, keys map[security.Class][]byte, handler Handler) (*S2, *TestHost, error) {

		host := NewTestHost(own, config.HomeID)
		mgr, err := security.NewManager(security.ManagerConfig{
			HighestSecurityClass: host.GetHighestSecurityClass,
		})
		if err != nil {
			return nil, nil, err
		}
		for class, key := range keys {
			if err := mgr.SetNetworkKey(class, key); err != nil {
				return nil, nil, err
			}
		}

		s2, err := New(Config{
			Controller:      host,
			Transport:       &bridgeTransport{conn: conn},
			SecurityManager: mgr,
			Handler:         handler,
			LoggerFactory:   config.LoggerFactory,
		})
		if err != nil {
			return nil, nil, err
		}
		return s2, host, nil
	}

	var err error
	pair.Controller, pair.ControllerHost, err = makeSide(config.ControllerID, bridge.GetConn0(), config.ControllerKeys, nil)
	if err != nil {
		return nil, err
	}
	pair.Node, pair.NodeHost, err = makeSide(config.NodeID, bridge.GetConn1(), config.NodeKeys, config.NodeHandler)
	if err != nil {
		return nil, err
	}

	pair.startPump(bridge.GetConn0(), pair.Controller, config.NodeID)
	pair.startPump(bridge.GetConn1(), pair.Node, config.ControllerID)
	pair.startTick()
	return pair, nil
}

// startPump reads frames from conn and feeds them to side.HandleFrame,
// attributing them to peer.
func (p *TestPair) startPump(conn interface {
	Read([]byte) (int, error)
}, side *S2, peer cc.NodeID) {

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		buf := make([]byte, 1500)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			frame := append([]byte(nil), buf[:n]...)
			// Decode failures are part of normal protocol recovery.
			_, _ = side.HandleFrame(context.Background(), peer, frame)
		}
	}()
}

// startTick delivers bridged messages continuously, like the transport
// pipe's auto-processor.
func (p *TestPair) startTick() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.bridge.Tick()
			}
		}
	}()
}

// Close stops the pumps and tears the bridge down.
func (p *TestPair) Close() {
	close(p.stopCh)
	_ = p.bridge.GetConn0().Close()
	_ = p.bridge.GetConn1().Close()

	// The tick goroutine has stopped; keep ticking the bridge here until
	// every pump has returned.
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	for {
		select {
		case <-done:
			return
		case <-time.After(time.Millisecond):
			p.bridge.Tick()
		}
	}
}
