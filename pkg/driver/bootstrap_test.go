package driver

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mikebaz/gozwave/pkg/cc"
	"github.com/mikebaz/gozwave/pkg/cc/security2"
	"github.com/mikebaz/gozwave/pkg/crypto"
	"github.com/mikebaz/gozwave/pkg/security"
)

// joiningNode scripts the node side of the KEX dialog for tests: it behaves
// like a device requesting S2_Authenticated.
type joiningNode struct {
	pair *TestPair
	cmds chan cc.Command
}

func (j *joiningNode) next() (cc.Command, error) {
	for {
		select {
		case cmd := <-j.cmds:
			if _, ok := cmd.(*security2.NonceReport); ok {
				continue
			}
			return cmd, nil
		case <-time.After(5 * time.Second):
			return nil, errors.New("joining node timed out")
		}
	}
}

func (j *joiningNode) expect(command uint8) (cc.Command, error) {
	cmd, err := j.next()
	if err != nil {
		return nil, err
	}
	if cmd.CommandClassID() != cc.Security2 || cmd.CommandID() != command {
		return nil, fmt.Errorf("joining node: got %v/0x%02x, want 0x%02x",
			cmd.CommandClassID(), cmd.CommandID(), command)
	}
	return cmd, nil
}

func (j *joiningNode) send(cmd cc.Command) error {
	return j.pair.Node.Send(context.Background(), 1, cmd, DefaultSendOptions())
}

// run executes the joining side of the dialog, requesting
// S2_Authenticated.
func (j *joiningNode) run() error {
	mgr := j.pair.Node.SecurityManager()

	if _, err := j.expect(security2.CmdKEXGet); err != nil {
		return err
	}

	myReport := &security2.KEXReport{
		SupportedSchemes:  []security2.KEXScheme{security2.KEXScheme1},
		SupportedProfiles: []security2.ECDHProfile{security2.ProfileCurve25519},
		RequestedKeys:     []security.Class{security.ClassS2Authenticated},
	}
	if err := j.send(myReport); err != nil {
		return err
	}

	cmd, err := j.expect(security2.CmdKEXSet)
	if err != nil {
		return err
	}
	kexSet := cmd.(*security2.KEXSet)
	if kexSet.Echo {
		return errors.New("first KEXSet already echoed")
	}
	setPayload, err := kexSet.MarshalPayload()
	if err != nil {
		return err
	}

	keyPair, err := crypto.GenerateECDHKeyPair()
	if err != nil {
		return err
	}
	if err := j.send(&security2.PublicKeyReport{IncludingNode: true, PublicKey: keyPair.PublicKey}); err != nil {
		return err
	}

	cmd, err = j.expect(security2.CmdPublicKeyReport)
	if err != nil {
		return err
	}
	ctrlKey := cmd.(*security2.PublicKeyReport)
	if ctrlKey.IncludingNode {
		return errors.New("controller key flagged as joining node")
	}

	secret, err := crypto.SharedSecret(keyPair.PrivateKey, ctrlKey.PublicKey)
	if err != nil {
		return err
	}
	tempKeys, err := crypto.ExpandTempKey(secret, keyPair.PublicKey, ctrlKey.PublicKey)
	if err != nil {
		return err
	}
	mgr.SetTempKey(1, tempKeys)

	// The echoed KEXSet arrives under the temp key and must match the
	// original.
	cmd, err = j.expect(security2.CmdKEXSet)
	if err != nil {
		return err
	}
	echoSet := cmd.(*security2.KEXSet)
	if !echoSet.Echo {
		return errors.New("expected echoed KEXSet")
	}
	echoPayload, err := echoSet.MarshalPayload()
	if err != nil {
		return err
	}
	if !security2.EchoEqual(setPayload, echoPayload) {
		return errors.New("KEXSet echo mismatch")
	}

	echoReport := *myReport
	echoReport.Echo = true
	if err := j.send(&echoReport); err != nil {
		return err
	}

	// Request and verify the granted key.
	if err := j.send(&security2.NetworkKeyGet{RequestedKey: security.ClassS2Authenticated}); err != nil {
		return err
	}
	cmd, err = j.expect(security2.CmdNetworkKeyReport)
	if err != nil {
		return err
	}
	keyReport := cmd.(*security2.NetworkKeyReport)
	if keyReport.GrantedKey != security.ClassS2Authenticated {
		return fmt.Errorf("granted key = %v", keyReport.GrantedKey)
	}
	if err := mgr.SetNetworkKey(security.ClassS2Authenticated, keyReport.NetworkKey); err != nil {
		return err
	}

	// Verification runs under the freshly received key: drop the temp
	// key and the temp SPAN so the next send renegotiates with it.
	mgr.DeleteTempKey(1)
	mgr.DeleteNonce(1)
	j.pair.NodeHost.SetSecurityClass(1, security.ClassS2Authenticated, true)
	if err := j.send(&security2.NetworkKeyVerify{}); err != nil {
		return err
	}

	// The acknowledgement comes back under the temp key.
	mgr.SetTempKey(1, tempKeys)
	mgr.DeleteNonce(1)
	cmd, err = j.expect(security2.CmdTransferEnd)
	if err != nil {
		return err
	}
	if te := cmd.(*security2.TransferEnd); !te.KeyVerified {
		return errors.New("TransferEnd without KeyVerified")
	}

	return j.send(&security2.TransferEnd{KeyRequestComplete: true})
}

func TestBootstrapDialog(t *testing.T) {
	cmds := make(chan cc.Command, 32)
	pair, err := NewTestPair(TestPairConfig{
		ControllerKeys: map[security.Class][]byte{security.ClassS2Authenticated: testKey},
		NodeHandler: func(peer cc.NodeID, cmd cc.Command) {
			cmds <- cmd
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer pair.Close()

	node := &joiningNode{pair: pair, cmds: cmds}
	scriptErr := make(chan error, 1)
	go func() { scriptErr <- node.run() }()

	result, err := pair.Controller.Bootstrap(context.Background(), 5, BootstrapConfig{
		StepTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	if len(result.GrantedKeys) != 1 || result.GrantedKeys[0] != security.ClassS2Authenticated {
		t.Errorf("granted = %v", result.GrantedKeys)
	}

	if err := <-scriptErr; err != nil {
		t.Fatalf("joining node: %v", err)
	}

	// Grants recorded for every S2 class, the temp key forgotten.
	if got := pair.ControllerHost.HasSecurityClass(5, security.ClassS2Authenticated); got != security2.GrantGranted {
		t.Errorf("authenticated grant = %v", got)
	}
	for _, class := range []security.Class{security.ClassS2Unauthenticated, security.ClassS2AccessControl} {
		if got := pair.ControllerHost.HasSecurityClass(5, class); got != security2.GrantDenied {
			t.Errorf("%v grant = %v, want denied", class, got)
		}
	}
	if _, ok := pair.Controller.SecurityManager().TempKey(5); ok {
		t.Error("temp key survived bootstrap")
	}

	// The provisioned key actually works: a secure command flows from
	// the controller to the node.
	received := make(chan cc.Command, 1)
	pair.Node.SetHandler(func(peer cc.NodeID, cmd cc.Command) { received <- cmd })
	// Fresh nonce state on both sides after the bootstrap churn.
	pair.Controller.SecurityManager().DeleteNonce(5)
	pair.Node.SecurityManager().DeleteNonce(1)

	cmd := &cc.Raw{ClassID: cc.BinarySwitch, Command: 0x02}
	if err := pair.Controller.Send(context.Background(), 5, cmd, DefaultSendOptions()); err != nil {
		t.Fatalf("post-bootstrap Send failed: %v", err)
	}
	select {
	case got := <-received:
		if got.CommandClassID() != cc.BinarySwitch {
			t.Errorf("received %v", got.CommandClassID())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("node never received the post-bootstrap command")
	}
}

func TestBootstrapRejectsEmptyKeyRequest(t *testing.T) {
	cmds := make(chan cc.Command, 32)
	pair, err := NewTestPair(TestPairConfig{
		ControllerKeys: map[security.Class][]byte{security.ClassS2Authenticated: testKey},
		NodeHandler: func(peer cc.NodeID, cmd cc.Command) {
			cmds <- cmd
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer pair.Close()

	node := &joiningNode{pair: pair, cmds: cmds}
	scriptErr := make(chan error, 1)
	go func() {
		if _, err := node.expect(security2.CmdKEXGet); err != nil {
			scriptErr <- err
			return
		}
		// A report requesting nothing.
		report := &security2.KEXReport{
			SupportedSchemes:  []security2.KEXScheme{security2.KEXScheme1},
			SupportedProfiles: []security2.ECDHProfile{security2.ProfileCurve25519},
		}
		if err := node.send(report); err != nil {
			scriptErr <- err
			return
		}
		// The controller must answer with KEXFail(NoKeysRequested).
		cmd, err := node.expect(security2.CmdKEXFail)
		if err != nil {
			scriptErr <- err
			return
		}
		if reason := cmd.(*security2.KEXFail).Reason; reason != security2.KEXFailNoKeysRequested {
			scriptErr <- fmt.Errorf("reason = %v", reason)
			return
		}
		scriptErr <- nil
	}()

	_, err = pair.Controller.Bootstrap(context.Background(), 5, BootstrapConfig{
		StepTimeout: 5 * time.Second,
	})
	if !errors.Is(err, ErrBootstrapFailed) {
		t.Fatalf("got error %v, want ErrBootstrapFailed", err)
	}
	if err := <-scriptErr; err != nil {
		t.Fatalf("joining node: %v", err)
	}
}
