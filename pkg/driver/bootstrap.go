package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/mikebaz/gozwave/pkg/cc"
	"github.com/mikebaz/gozwave/pkg/cc/security2"
	"github.com/mikebaz/gozwave/pkg/crypto"
	"github.com/mikebaz/gozwave/pkg/security"
)

// BootstrapConfig configures one S2 inclusion run.
type BootstrapConfig struct {
	// GrantableKeys limits which requested classes may be granted.
	// Default: every S2 class with a configured network key.
	GrantableKeys []security.Class

	// StepTimeout bounds each wait for the joining node's next message.
	// Default: DefaultAwaitTimeout.
	StepTimeout time.Duration
}

// BootstrapResult reports a completed inclusion.
type BootstrapResult struct {
	GrantedKeys []security.Class
}

// Bootstrap runs the controller side of the S2 KEX dialog with a joining
// node: capability exchange, ECDH over Curve25519, echo verification under
// the temp key, and transfer plus verification of each granted network key.
//
// Any KEXFail from the node, an echo mismatch, or a protocol violation
// aborts the run. The temp key for the node is dropped either way; its SPAN
// state is dropped only when the run fails.
func (s *S2) Bootstrap(ctx context.Context, node cc.NodeID, config BootstrapConfig) (result *BootstrapResult, err error) {
	if s.controller.OwnNodeID() == 0 {
		return nil, ErrNotReady
	}
	if config.StepTimeout <= 0 {
		config.StepTimeout = s.awaitTimeout
	}
	grantable := config.GrantableKeys
	if grantable == nil {
		grantable = configuredS2Classes(s.mgr)
	}

	defer func() {
		s.mgr.DeleteTempKey(node)
		if err != nil {
			s.mgr.DeleteNonce(node)
		}
	}()

	// Collect the whole dialog through one persistent wait so no message
	// from the node slips past between steps. Nonce frames keep flowing
	// to their own waiters.
	dialog := s.addCollector(node, func(cmd cc.Command) bool {
		return cmd.CommandClassID() == cc.Security2 && cmd.CommandID() != security2.CmdNonceReport
	})
	defer s.removeWaiter(dialog)

	// Capability exchange, in the clear.
	if err := s.Send(ctx, node, &security2.KEXGet{}, DefaultSendOptions()); err != nil {
		return nil, err
	}
	cmd, err := s.awaitBootstrap(ctx, dialog, config.StepTimeout, security2.CmdKEXReport)
	if err != nil {
		return nil, err
	}
	report := cmd.(*security2.KEXReport)
	reportPayload, err := report.MarshalPayload()
	if err != nil {
		return nil, err
	}

	if !containsScheme(report.SupportedSchemes, security2.KEXScheme1) {
		return nil, s.abortBootstrap(ctx, node, security2.KEXFailNoSupportedScheme)
	}
	if !containsProfile(report.SupportedProfiles, security2.ProfileCurve25519) {
		return nil, s.abortBootstrap(ctx, node, security2.KEXFailNoSupportedCurve)
	}
	granted := intersectClasses(report.RequestedKeys, grantable)
	if len(granted) == 0 {
		return nil, s.abortBootstrap(ctx, node, security2.KEXFailNoKeysRequested)
	}

	kexSet := &security2.KEXSet{
		SelectedScheme:  security2.KEXScheme1,
		SelectedProfile: security2.ProfileCurve25519,
		GrantedKeys:     granted,
	}
	if err := s.Send(ctx, node, kexSet, DefaultSendOptions()); err != nil {
		return nil, err
	}

	// Public key exchange; the joining node reports first.
	cmd, err = s.awaitBootstrap(ctx, dialog, config.StepTimeout, security2.CmdPublicKeyReport)
	if err != nil {
		return nil, err
	}
	nodeKey := cmd.(*security2.PublicKeyReport)
	if !nodeKey.IncludingNode {
		return nil, s.abortBootstrap(ctx, node, security2.KEXFailCancel)
	}

	pair, err := crypto.GenerateECDHKeyPair()
	if err != nil {
		return nil, err
	}
	ourKey := &security2.PublicKeyReport{IncludingNode: false, PublicKey: pair.PublicKey}
	if err := s.Send(ctx, node, ourKey, DefaultSendOptions()); err != nil {
		return nil, err
	}

	// ECDH completes; everything below runs under the temp key.
	secret, err := crypto.SharedSecret(pair.PrivateKey, nodeKey.PublicKey)
	if err != nil {
		return nil, err
	}
	tempKeys, err := crypto.ExpandTempKey(secret, nodeKey.PublicKey, pair.PublicKey)
	if err != nil {
		return nil, err
	}
	s.mgr.SetTempKey(node, tempKeys)

	// Echo round: we re-send our KEXSet encrypted; the node answers with
	// its echoed KEXReport, which must match the original byte for byte.
	echoSet := *kexSet
	echoSet.Echo = true
	if err := s.Send(ctx, node, &echoSet, DefaultSendOptions()); err != nil {
		return nil, err
	}
	cmd, err = s.awaitBootstrap(ctx, dialog, config.StepTimeout, security2.CmdKEXReport)
	if err != nil {
		return nil, err
	}
	echoReport := cmd.(*security2.KEXReport)
	if !echoReport.Echo {
		return nil, s.abortBootstrap(ctx, node, security2.KEXFailAuth)
	}
	echoPayload, err := echoReport.MarshalPayload()
	if err != nil {
		return nil, err
	}
	if !security2.EchoEqual(reportPayload, echoPayload) {
		return nil, s.abortBootstrap(ctx, node, security2.KEXFailAuth)
	}

	// Key transfer: the node requests each granted key, verifies it under
	// the new key, and finally completes the request phase.
	verified := make(map[security.Class]bool)
	for {
		cmd, err = s.awaitBootstrap(ctx, dialog, config.StepTimeout,
			security2.CmdNetworkKeyGet, security2.CmdTransferEnd)
		if err != nil {
			return nil, err
		}

		switch c := cmd.(type) {
		case *security2.NetworkKeyGet:
			if !containsClass(granted, c.RequestedKey) {
				return nil, s.abortBootstrap(ctx, node, security2.KEXFailKeyNotGranted)
			}
			keys, kerr := s.mgr.GetKeysForSecurityClass(c.RequestedKey)
			if kerr != nil {
				return nil, s.abortBootstrap(ctx, node, security2.KEXFailKeyNotGranted)
			}
			keyReport := &security2.NetworkKeyReport{
				GrantedKey: c.RequestedKey,
				NetworkKey: keys.NetworkKey,
			}
			if err := s.Send(ctx, node, keyReport, DefaultSendOptions()); err != nil {
				return nil, err
			}

			// The node verifies under the key it just received; the
			// trial decryption records the grant.
			if _, err := s.awaitBootstrap(ctx, dialog, config.StepTimeout, security2.CmdNetworkKeyVerify); err != nil {
				return nil, s.abortBootstrap(ctx, node, security2.KEXFailNoVerify)
			}
			verified[c.RequestedKey] = true

			// Back to the temp key for the acknowledgement. The SPAN
			// established under the class key is discarded so the next
			// frame renegotiates nonces under the temp schedule.
			s.mgr.DeleteNonce(node)
			te := &security2.TransferEnd{KeyVerified: true}
			if err := s.Send(ctx, node, te, DefaultSendOptions()); err != nil {
				return nil, err
			}

		case *security2.TransferEnd:
			if !c.KeyRequestComplete || c.KeyVerified {
				return nil, s.abortBootstrap(ctx, node, security2.KEXFailCancel)
			}
			for _, class := range granted {
				if !verified[class] {
					return nil, s.abortBootstrap(ctx, node, security2.KEXFailNoVerify)
				}
			}

			// Record the outcome for every S2 class.
			for _, class := range security.S2Classes() {
				s.controller.SetSecurityClass(node, class, containsClass(granted, class))
			}
			s.log.Infof("node %d bootstrapped with keys %v", node, granted)
			return &BootstrapResult{GrantedKeys: granted}, nil
		}
	}
}

// awaitBootstrap reads the next dialog message from the collector and
// requires it to be one of the expected commands. A KEXFail from the node,
// an unexpected command, or silence terminates the dialog with an error.
func (s *S2) awaitBootstrap(ctx context.Context, dialog *pendingWait, timeout time.Duration, commands ...uint8) (cc.Command, error) {
	cmd, err := s.awaitOn(ctx, dialog, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBootstrapFailed, err)
	}
	if fail, ok := cmd.(*security2.KEXFail); ok {
		return nil, fmt.Errorf("%w: node sent KEXFail(%v)", ErrBootstrapFailed, fail.Reason)
	}
	for _, want := range commands {
		if cmd.CommandID() == want {
			return cmd, nil
		}
	}
	return nil, fmt.Errorf("%w: unexpected %v command 0x%02x",
		ErrBootstrapFailed, cmd.CommandClassID(), cmd.CommandID())
}

// abortBootstrap notifies the node and returns the terminal error.
func (s *S2) abortBootstrap(ctx context.Context, node cc.NodeID, reason security2.KEXFailType) error {
	if err := s.Send(ctx, node, &security2.KEXFail{Reason: reason}, DefaultSendOptions()); err != nil {
		s.log.Debugf("KEXFail to node %d not delivered: %v", node, err)
	}
	return fmt.Errorf("%w: %v", ErrBootstrapFailed, reason)
}

func containsScheme(schemes []security2.KEXScheme, want security2.KEXScheme) bool {
	for _, s := range schemes {
		if s == want {
			return true
		}
	}
	return false
}

func containsProfile(profiles []security2.ECDHProfile, want security2.ECDHProfile) bool {
	for _, p := range profiles {
		if p == want {
			return true
		}
	}
	return false
}

func containsClass(classes []security.Class, want security.Class) bool {
	for _, c := range classes {
		if c == want {
			return true
		}
	}
	return false
}

// intersectClasses returns requested ∩ grantable in preference order.
func intersectClasses(requested, grantable []security.Class) []security.Class {
	var out []security.Class
	for _, class := range security.ClassOrder() {
		if !class.IsS2() {
			continue
		}
		if containsClass(requested, class) && containsClass(grantable, class) {
			out = append(out, class)
		}
	}
	return out
}
