package security

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mikebaz/gozwave/pkg/cc"
	"github.com/mikebaz/gozwave/pkg/crypto"
)

// SPAN constants.
const (
	// EISize is the entropy input size in bytes.
	EISize = 16

	// NonceSize is the CCM nonce size. The SPAN generator produces 16-byte
	// blocks; the nonce is the first 13 bytes of a block.
	NonceSize = 13

	// SPANGrace is how long a retained nonce stays acceptable for the
	// immediately following sequence number.
	SPANGrace = 500 * time.Millisecond
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// HighestSecurityClass resolves a node's highest granted security
	// class. Required; the manager holds no grant table of its own.
	HighestSecurityClass func(node cc.NodeID) (Class, bool)

	// Rand is the entropy source for EIs and sequence number
	// initialization. Default: crypto/rand.Reader.
	Rand io.Reader

	// Now is the clock used for nonce expiry. Default: time.Now.
	Now func() time.Time
}

// Manager is the process-wide Security 2 state holder: network and temp key
// sets, per-peer SPAN states and sequence numbers. It is owned by the driver
// and injected into every encapsulation operation; it persists nothing.
type Manager struct {
	highestSecurityClass func(node cc.NodeID) (Class, bool)
	rand                 io.Reader
	now                  func() time.Time

	mu           sync.Mutex
	networkKeys  map[Class]*crypto.NetworkKeySet
	tempKeys     map[cc.NodeID]*crypto.NetworkKeySet
	spans        map[cc.NodeID]*SPANState
	ownSeq       map[cc.NodeID]uint8
	lastReceived map[cc.NodeID]uint8
}

// NewManager creates a Manager. Keys are loaded afterwards with
// SetNetworkKey; the host reloads them on startup.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.HighestSecurityClass == nil {
		return nil, fmt.Errorf("security: ManagerConfig.HighestSecurityClass is required")
	}
	if config.Rand == nil {
		config.Rand = rand.Reader
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Manager{
		highestSecurityClass: config.HighestSecurityClass,
		rand:                 config.Rand,
		now:                  config.Now,
		networkKeys:          make(map[Class]*crypto.NetworkKeySet),
		tempKeys:             make(map[cc.NodeID]*crypto.NetworkKeySet),
		spans:                make(map[cc.NodeID]*SPANState),
		ownSeq:               make(map[cc.NodeID]uint8),
		lastReceived:         make(map[cc.NodeID]uint8),
	}, nil
}

// SetNetworkKey expands and stores the permanent network key for a security
// class.
func (m *Manager) SetNetworkKey(class Class, networkKey []byte) error {
	set, err := crypto.ExpandNetworkKey(networkKey)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.networkKeys[class] = set
	return nil
}

// GetKeysForSecurityClass returns the key set for a class.
func (m *Manager) GetKeysForSecurityClass(class Class) (*crypto.NetworkKeySet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keysForClassLocked(class)
}

func (m *Manager) keysForClassLocked(class Class) (*crypto.NetworkKeySet, error) {
	set, ok := m.networkKeys[class]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrNoKeysForClass, class)
	}
	return set, nil
}

// HasKeysForSecurityClass reports whether a network key is configured for
// the class.
func (m *Manager) HasKeysForSecurityClass(class Class) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.networkKeys[class]
	return ok
}

// GetKeysForNode returns the key set to use with a node: the temp key set
// while the node is being bootstrapped, otherwise the key set of its highest
// granted security class.
func (m *Manager) GetKeysForNode(node cc.NodeID) (*crypto.NetworkKeySet, Class, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if set, ok := m.tempKeys[node]; ok {
		return set, ClassTemporary, nil
	}

	class, ok := m.highestSecurityClass(node)
	if !ok || class == ClassNone {
		return nil, ClassNone, fmt.Errorf("%w: node %d", ErrNoSecurityClass, node)
	}
	set, err := m.keysForClassLocked(class)
	if err != nil {
		return nil, ClassNone, err
	}
	return set, class, nil
}

// SetTempKey stores the bootstrap temp key set for a node.
func (m *Manager) SetTempKey(node cc.NodeID, set *crypto.NetworkKeySet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tempKeys[node] = set
}

// TempKey returns the temp key set for a node, if the node is being
// bootstrapped.
func (m *Manager) TempKey(node cc.NodeID) (*crypto.NetworkKeySet, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.tempKeys[node]
	return set, ok
}

// DeleteTempKey forgets a node's temp key set; called when bootstrap
// completes or fails.
func (m *Manager) DeleteTempKey(node cc.NodeID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tempKeys, node)
}

// NextSequenceNumber returns the next outgoing sequence number for a peer.
// The counter starts at a random value on first use and wraps at 255.
func (m *Manager) NextSequenceNumber(peer cc.NodeID) uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq, ok := m.ownSeq[peer]
	if !ok {
		seq = m.randomByteLocked()
	} else {
		seq++
	}
	m.ownSeq[peer] = seq
	return seq
}

// IsDuplicateSinglecast reports whether seq equals the last accepted
// incoming sequence number for the peer.
func (m *Manager) IsDuplicateSinglecast(peer cc.NodeID, seq uint8) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.lastReceived[peer]
	return ok && last == seq
}

// StoreSequenceNumber records seq as the last accepted incoming sequence
// number and returns the previous value, if any.
func (m *Manager) StoreSequenceNumber(peer cc.NodeID, seq uint8) (prev uint8, hadPrev bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, hadPrev = m.lastReceived[peer]
	m.lastReceived[peer] = seq
	return prev, hadPrev
}

// GenerateEI produces a fresh 16-byte entropy input from the CSPRNG without
// touching any peer state.
func (m *Manager) GenerateEI() ([]byte, error) {
	ei := make([]byte, EISize)
	if _, err := io.ReadFull(m.rand, ei); err != nil {
		return nil, err
	}
	return ei, nil
}

// GenerateNonce produces a fresh receiver EI for a peer and records it as
// the LocalEI state, replacing whatever SPAN state existed.
func (m *Manager) GenerateNonce(peer cc.NodeID) ([]byte, error) {
	ei, err := m.GenerateEI()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.spans[peer] = &SPANState{
		Kind:       SPANStateLocalEI,
		ReceiverEI: append([]byte(nil), ei...),
	}
	return ei, nil
}

// StoreRemoteEI records the receiver EI a peer offered in a NonceReport.
// Any established SPAN is discarded.
func (m *Manager) StoreRemoteEI(peer cc.NodeID, ei []byte) error {
	if len(ei) != EISize {
		return ErrInvalidEI
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spans[peer] = &SPANState{
		Kind:       SPANStateRemoteEI,
		ReceiverEI: append([]byte(nil), ei...),
	}
	return nil
}

// InitializeSPAN seeds the shared nonce generator for a peer from both
// entropy inputs and the personalization string of the given security class.
func (m *Manager) InitializeSPAN(peer cc.NodeID, class Class, senderEI, receiverEI []byte) error {
	if len(senderEI) != EISize || len(receiverEI) != EISize {
		return ErrInvalidEI
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	set, err := m.keysForClassLocked(class)
	if err != nil {
		return err
	}
	m.initializeSPANLocked(peer, class, set, senderEI, receiverEI)
	return nil
}

// InitializeTempSPAN seeds the nonce generator from the bootstrap temp key
// schedule.
func (m *Manager) InitializeTempSPAN(peer cc.NodeID, senderEI, receiverEI []byte) error {
	if len(senderEI) != EISize || len(receiverEI) != EISize {
		return ErrInvalidEI
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.tempKeys[peer]
	if !ok {
		return fmt.Errorf("%w: node %d", ErrNoTempKey, peer)
	}
	m.initializeSPANLocked(peer, ClassTemporary, set, senderEI, receiverEI)
	return nil
}

func (m *Manager) initializeSPANLocked(peer cc.NodeID, class Class, set *crypto.NetworkKeySet, senderEI, receiverEI []byte) {
	entropy := make([]byte, 0, 2*EISize)
	entropy = append(entropy, senderEI...)
	entropy = append(entropy, receiverEI...)

	m.spans[peer] = &SPANState{
		Kind:          SPANStateEstablished,
		RNG:           crypto.NewCTRDRBG(entropy, set.PersonalizationString),
		SecurityClass: class,
	}
}

// NextNonce advances the peer's nonce generator and returns the next
// 13-byte CCM nonce. With persistPrevious, the returned nonce is also
// retained as the current SPAN nonce with a grace expiry, so the very next
// incoming sequence number may still be decrypted with it.
func (m *Manager) NextNonce(peer cc.NodeID, persistPrevious bool) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.spans[peer]
	if !ok || state.Kind != SPANStateEstablished {
		return nil, fmt.Errorf("%w: node %d", ErrNoSPANState, peer)
	}

	block := state.RNG.Generate(crypto.CTRDRBGOutSize)
	nonce := block[:NonceSize]
	if persistPrevious {
		state.Current = &SavedNonce{
			Nonce:   append([]byte(nil), nonce...),
			Expires: m.now().Add(SPANGrace),
		}
	}
	return nonce, nil
}

// GetSPANState returns the peer's SPAN state. The returned value is the live
// state; callers that need a rollback point must Clone it first.
func (m *Manager) GetSPANState(peer cc.NodeID) *SPANState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.spans[peer]; ok {
		return state
	}
	return &SPANState{Kind: SPANStateNone}
}

// SetSPANState directly replaces the peer's SPAN state; used to roll back
// after a failed trial decryption.
func (m *Manager) SetSPANState(peer cc.NodeID, state *SPANState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state == nil || state.Kind == SPANStateNone {
		delete(m.spans, peer)
		return
	}
	m.spans[peer] = state
}

// DeleteNonce resets the peer's SPAN state to None. Sequence-number memory
// is reset with it.
func (m *Manager) DeleteNonce(peer cc.NodeID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.spans, peer)
	delete(m.lastReceived, peer)
}

// Now returns the manager's clock reading; encapsulation uses it to judge
// nonce expiry consistently with the manager.
func (m *Manager) Now() time.Time {
	return m.now()
}

func (m *Manager) randomByteLocked() uint8 {
	var b [1]byte
	if _, err := io.ReadFull(m.rand, b[:]); err != nil {
		// Fall back to 0 if random fails (should never happen)
		return 0
	}
	return b[0]
}
