package settings

import (
	"context"
	"fmt"

	"github.com/openfroyo/clientrb/pkg/converge"
	"github.com/openfroyo/clientrb/pkg/transports/ssh"
)

// OpenTarget connects to the configured target. The returned close function
// is never nil.
func (s *Settings) OpenTarget(ctx context.Context) (converge.Target, func() error, error) {
	switch s.Target.Kind {
	case TargetSSH:
		config := s.Target.SSH
		remote, err := ssh.Dial(ctx, &config)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to %s: %w", config.Address(), err)
		}
		return remote, remote.Close, nil
	case TargetLocal, "":
		return converge.NewLocalTarget(s.Target.Root), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown target kind %q", s.Target.Kind)
	}
}
