package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/mikebaz/gozwave/pkg/cc"
	"github.com/mikebaz/gozwave/pkg/cc/security2"
	"github.com/mikebaz/gozwave/pkg/security"
)

// Config configures the S2 driver layer.
type Config struct {
	// Controller supplies identity and security class inventory.
	Controller Controller

	// Transport sends serialized frames.
	Transport Transport

	// SecurityManager holds keys, SPAN states and sequence numbers. The
	// host owns it and loads keys before frames flow.
	SecurityManager *security.Manager

	// Registry decodes incoming commands. Optional; a registry with the
	// S2 commands bound is created when nil.
	Registry *cc.Registry

	// Handler receives decoded commands no pending wait claimed.
	Handler Handler

	// AwaitTimeout bounds waits for peer replies.
	// Default: DefaultAwaitTimeout.
	AwaitTimeout time.Duration

	// LoggerFactory creates the driver's logger.
	LoggerFactory logging.LoggerFactory
}

// S2 is the Security 2 driver layer.
type S2 struct {
	controller   Controller
	transport    Transport
	mgr          *security.Manager
	registry     *cc.Registry
	handler      Handler
	awaitTimeout time.Duration
	log          logging.LeveledLogger

	mu      sync.Mutex
	waiters []*pendingWait
}

type awaitResult struct {
	cmd cc.Command
	err error
}

type pendingWait struct {
	peer  cc.NodeID
	match func(cc.Command) bool
	ch    chan awaitResult

	// persistent waits stay registered after a delivery; the bootstrap
	// collects its whole dialog through one.
	persistent bool
}

// New creates the S2 driver layer.
func New(config Config) (*S2, error) {
	if config.Controller == nil || config.Transport == nil {
		return nil, fmt.Errorf("driver: Controller and Transport are required")
	}
	if config.SecurityManager == nil {
		return nil, ErrNoSecurity
	}
	if config.Registry == nil {
		config.Registry = cc.NewRegistry()
		security2.Register(config.Registry)
	}
	if config.AwaitTimeout <= 0 {
		config.AwaitTimeout = DefaultAwaitTimeout
	}
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}

	return &S2{
		controller:   config.Controller,
		transport:    config.Transport,
		mgr:          config.SecurityManager,
		registry:     config.Registry,
		handler:      config.Handler,
		awaitTimeout: config.AwaitTimeout,
		log:          config.LoggerFactory.NewLogger("s2"),
	}, nil
}

// SecurityManager returns the manager instance the layer operates on.
func (s *S2) SecurityManager() *security.Manager {
	return s.mgr
}

// SetHandler replaces the fallback handler for unclaimed commands.
func (s *S2) SetHandler(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// securityContext assembles the codec context for one operation.
func (s *S2) securityContext() *security2.Context {
	return &security2.Context{
		OwnNodeID: s.controller.OwnNodeID(),
		HomeID:    s.controller.HomeID(),
		Manager:   s.mgr,
		Grants:    s.controller,
		Registry:  s.registry,
	}
}

// Send serializes and transmits a command. Secure commands that the S2
// policy requires encapsulated are wrapped transparently; when no SPAN
// exists yet, the peer's nonce is fetched first.
func (s *S2) Send(ctx context.Context, peer cc.NodeID, cmd cc.Command, opts SendOptions) error {
	if s.controller.OwnNodeID() == 0 {
		return ErrNotReady
	}

	if opts.Secure && security2.RequiresEncapsulation(cmd) {
		return s.SendEncapsulated(ctx, &security2.MessageEncapsulation{
			Peer:    peer,
			Command: cmd,
		}, opts)
	}

	data, err := cc.Marshal(cmd)
	if err != nil {
		return err
	}
	return s.transport.SendFrame(ctx, peer, data, opts)
}

// SendEncapsulated encrypts and transmits a prepared encapsulation. A
// missing SPAN is resolved by one NonceGet round trip before retrying.
//
// A transport failure after the nonce was drawn does not rewind the SPAN;
// desync is resolved by the peer's next NonceReport.
func (s *S2) SendEncapsulated(ctx context.Context, encap *security2.MessageEncapsulation, opts SendOptions) error {
	if s.controller.OwnNodeID() == 0 {
		return ErrNotReady
	}

	wire, err := encap.Encode(s.securityContext())
	if errors.Is(err, security2.ErrNoSPAN) {
		if nerr := s.requestNonce(ctx, encap.Peer); nerr != nil {
			return nerr
		}
		wire, err = encap.Encode(s.securityContext())
	}
	if err != nil {
		return err
	}
	return s.transport.SendFrame(ctx, encap.Peer, wire, opts)
}

// HandleFrame processes one received frame from peer: decrypts S2
// encapsulations, answers NonceGet, records offered EIs, and dispatches the
// decoded command to a pending wait or the handler.
//
// Returns the decoded (inner) command. Decode failures that S2 recovers
// from (ErrNoSPAN, ErrCannotDecode) have already triggered the
// NonceReport(SOS) answer when the error is returned.
func (s *S2) HandleFrame(ctx context.Context, peer cc.NodeID, data []byte) (cc.Command, error) {
	if len(data) >= 2 && data[0] == byte(cc.Security2) && data[1] == security2.CmdMessageEncapsulation {
		return s.handleEncapsulated(ctx, peer, data[2:])
	}

	cmd, err := s.registry.Decode(data)
	if err != nil {
		s.log.Warnf("dropping invalid frame from node %d: %v", peer, err)
		return nil, err
	}

	switch c := cmd.(type) {
	case *security2.NonceGet:
		s.log.Debugf("node %d requested a nonce", peer)
		s.sendNonceReport(ctx, peer)
	case *security2.NonceReport:
		if c.SOS {
			if err := s.mgr.StoreRemoteEI(peer, c.ReceiverEI); err != nil {
				s.log.Warnf("invalid receiver EI from node %d: %v", peer, err)
				return nil, err
			}
		}
		if c.MOS {
			// Multicast resync is out of scope; log and move on.
			s.log.Debugf("node %d reported multicast out of sync", peer)
		}
		s.dispatch(peer, cmd)
	default:
		s.dispatch(peer, cmd)
	}
	return cmd, nil
}

func (s *S2) handleEncapsulated(ctx context.Context, peer cc.NodeID, payload []byte) (cc.Command, error) {
	encap, err := security2.ParseEncapsulation(s.securityContext(), peer, payload)
	if err != nil {
		if errors.Is(err, security2.ErrNoSPAN) || errors.Is(err, security2.ErrCannotDecode) {
			s.log.Warnf("cannot decrypt frame from node %d: %v", peer, err)
			s.deliverError(peer, err)
			s.sendNonceReport(ctx, peer)
		} else {
			s.log.Warnf("dropping invalid encapsulation from node %d: %v", peer, err)
		}
		return nil, err
	}

	if encap.Command == nil {
		// Extension-only frame; nothing to dispatch.
		return nil, nil
	}
	s.dispatch(peer, encap.Command)
	return encap.Command, nil
}

// sendNonceReport offers a fresh receiver EI with SOS set. NonceReports go
// out with a single attempt and never change node status; a transmit
// failure invalidates the pending EI and is swallowed.
func (s *S2) sendNonceReport(ctx context.Context, peer cc.NodeID) {
	ei, err := s.mgr.GenerateNonce(peer)
	if err != nil {
		s.log.Errorf("nonce generation failed: %v", err)
		return
	}
	report := &security2.NonceReport{
		SequenceNumber: s.mgr.NextSequenceNumber(peer),
		SOS:            true,
		ReceiverEI:     ei,
	}
	data, err := cc.Marshal(report)
	if err != nil {
		s.log.Errorf("nonce report marshal failed: %v", err)
		return
	}
	if err := s.transport.SendFrame(ctx, peer, data, NonceSendOptions()); err != nil {
		s.mgr.DeleteNonce(peer)
		s.log.Debugf("nonce report to node %d failed, nonce discarded: %v", peer, err)
	}
}

// requestNonce performs one NonceGet round trip so the peer's receiver EI
// becomes available for SPAN establishment.
func (s *S2) requestNonce(ctx context.Context, peer cc.NodeID) error {
	wait := s.addWaiter(peer, func(cmd cc.Command) bool {
		report, ok := cmd.(*security2.NonceReport)
		return ok && report.SOS
	})
	defer s.removeWaiter(wait)

	get := &security2.NonceGet{SequenceNumber: s.mgr.NextSequenceNumber(peer)}
	data, err := cc.Marshal(get)
	if err != nil {
		return err
	}
	opts := NonceSendOptions()
	if err := s.transport.SendFrame(ctx, peer, data, opts); err != nil {
		return err
	}

	_, err = s.awaitOn(ctx, wait, s.awaitTimeout)
	return err
}

// Await blocks until a command from peer matches, the timeout elapses, or a
// decode failure for the peer is reported.
func (s *S2) Await(ctx context.Context, peer cc.NodeID, timeout time.Duration, match func(cc.Command) bool) (cc.Command, error) {
	wait := s.addWaiter(peer, match)
	defer s.removeWaiter(wait)
	return s.awaitOn(ctx, wait, timeout)
}

func (s *S2) awaitOn(ctx context.Context, wait *pendingWait, timeout time.Duration) (cc.Command, error) {
	if timeout <= 0 {
		timeout = s.awaitTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-wait.ch:
		return res.cmd, res.err
	case <-timer.C:
		return nil, ErrAwaitTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *S2) addWaiter(peer cc.NodeID, match func(cc.Command) bool) *pendingWait {
	wait := &pendingWait{
		peer:  peer,
		match: match,
		ch:    make(chan awaitResult, 1),
	}
	s.mu.Lock()
	s.waiters = append(s.waiters, wait)
	s.mu.Unlock()
	return wait
}

// addCollector registers a persistent wait that queues every matching
// command until removed.
func (s *S2) addCollector(peer cc.NodeID, match func(cc.Command) bool) *pendingWait {
	wait := &pendingWait{
		peer:       peer,
		match:      match,
		ch:         make(chan awaitResult, 32),
		persistent: true,
	}
	s.mu.Lock()
	s.waiters = append(s.waiters, wait)
	s.mu.Unlock()
	return wait
}

func (s *S2) removeWaiter(wait *pendingWait) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if w == wait {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

// dispatch hands a decoded command to the first matching waiter, falling
// back to the handler.
func (s *S2) dispatch(peer cc.NodeID, cmd cc.Command) {
	s.mu.Lock()
	for i, w := range s.waiters {
		if w.peer != peer || !w.match(cmd) {
			continue
		}
		if w.persistent {
			s.mu.Unlock()
			select {
			case w.ch <- awaitResult{cmd: cmd}:
			default:
				s.log.Warnf("collector for node %d full, dropping %v", peer, cmd.CommandClassID())
			}
			return
		}
		s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
		s.mu.Unlock()
		w.ch <- awaitResult{cmd: cmd}
		return
	}
	handler := s.handler
	s.mu.Unlock()

	if handler != nil {
		handler(peer, cmd)
	}
}

// deliverError fails every pending wait for the peer; the interview uses
// this to distinguish "could not decode" from silence.
func (s *S2) deliverError(peer cc.NodeID, err error) {
	s.mu.Lock()
	var failed []*pendingWait
	kept := s.waiters[:0]
	for _, w := range s.waiters {
		if w.peer == peer {
			failed = append(failed, w)
		} else {
			kept = append(kept, w)
		}
	}
	s.waiters = kept
	s.mu.Unlock()

	for _, w := range failed {
		w.ch <- awaitResult{err: err}
	}
}
