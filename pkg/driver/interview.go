package driver

import (
	"context"
	"errors"
	"time"

	"github.com/mikebaz/gozwave/pkg/cc"
	"github.com/mikebaz/gozwave/pkg/cc/security2"
	"github.com/mikebaz/gozwave/pkg/security"
)

// InterviewConfig configures the S2 security interview of one endpoint.
type InterviewConfig struct {
	// QueryTimeout bounds one CommandsSupportedGet round trip.
	// Default: DefaultAwaitTimeout.
	QueryTimeout time.Duration

	// RetryDelay is the pause before retrying a query that could not be
	// decoded. Default: 500ms.
	RetryDelay time.Duration
}

// rootRetries and endpointRetries bound "could not decode" retries.
const (
	rootRetries     = 3
	endpointRetries = 1
)

// InterviewEndpoint discovers which security classes a node holds by trial
// encrypted CommandsSupportedGet queries, and records the reported command
// classes as supported securely on the endpoint.
//
// With the node's highest class already known, only that class is probed;
// otherwise every configured S2 class is probed lowest first, and classes
// that stay silent are recorded as not granted.
func (s *S2) InterviewEndpoint(ctx context.Context, ep Endpoint, config InterviewConfig) error {
	if s.controller.OwnNodeID() == 0 {
		return ErrNotReady
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = s.awaitTimeout
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = interviewRetryDelay
	}

	node := ep.NodeID()
	var candidates []security.Class
	if highest, ok := s.controller.GetHighestSecurityClass(node); ok && highest.IsS2() {
		candidates = []security.Class{highest}
	} else {
		candidates = security.S2Classes()
	}

	retries := endpointRetries
	if ep.Index() == 0 {
		retries = rootRetries
	}

	gotResponse := false
	for _, class := range candidates {
		if s.controller.HasSecurityClass(node, class) == security2.GrantDenied {
			continue
		}
		if !s.mgr.HasKeysForSecurityClass(class) {
			continue
		}

		report, err := s.queryCommandsSupported(ctx, node, class, retries, config)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Silence for a probed class means the class is not
			// granted, but only when we were actually probing.
			if len(candidates) > 1 {
				s.controller.SetSecurityClass(node, class, false)
			}
			continue
		}

		if len(report.SupportedCCs) > 0 {
			gotResponse = true
			s.controller.SetSecurityClass(node, class, true)
			for _, id := range report.SupportedCCs {
				ep.SetSecureCC(id)
			}
			s.log.Infof("node %d endpoint %d supports %d CCs via %v",
				node, ep.Index(), len(report.SupportedCCs), class)
		}
	}

	// Fail-safe on sub-endpoints: with the root class unknown and no
	// answer at all, prefer encrypted attempts for everything the
	// endpoint implements.
	if !gotResponse && ep.Index() != 0 {
		if _, ok := s.controller.GetHighestSecurityClass(node); !ok {
			for _, id := range ep.SupportedCCs() {
				ep.SetSecureCC(id)
			}
		}
	}
	return nil
}

// queryCommandsSupported sends one trial query encapsulated with an
// override class, retrying after a delay when the reply could not be
// decoded. Silence is a timeout.
func (s *S2) queryCommandsSupported(ctx context.Context, node cc.NodeID, class security.Class,
	retries int, config InterviewConfig) (*security2.CommandsSupportedReport, error) {

	opts := DefaultSendOptions()
	opts.Priority = PriorityNodeQuery

	for attempt := 0; ; attempt++ {
		override := class
		encap := &security2.MessageEncapsulation{
			Peer:                  node,
			SecurityClassOverride: &override,
			Command:               &security2.CommandsSupportedGet{},
		}

		wait := s.addWaiter(node, func(cmd cc.Command) bool {
			_, ok := cmd.(*security2.CommandsSupportedReport)
			return ok
		})

		err := s.SendEncapsulated(ctx, encap, opts)
		if err != nil {
			s.removeWaiter(wait)
			return nil, err
		}

		cmd, err := s.awaitOn(ctx, wait, config.QueryTimeout)
		s.removeWaiter(wait)
		if err == nil {
			return cmd.(*security2.CommandsSupportedReport), nil
		}
		if !errors.Is(err, security2.ErrCannotDecode) || attempt >= retries {
			return nil, err
		}

		s.log.Debugf("node %d query via %v could not be decoded, retrying", node, class)
		select {
		case <-time.After(config.RetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
