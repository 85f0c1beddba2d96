package collab

import (
	"context"
	"errors"
	"fmt"
)

// Strategy is one attempt in a tiered fallback sequence.
type Strategy[T any] struct {
	// Name identifies the attempt in errors and logs.
	Name string

	// Run performs the attempt. ok=false with a nil error means the
	// strategy does not apply here; the runner moves on without recording
	// a failure.
	Run func(ctx context.Context) (result T, ok bool, err error)
}

// TryInOrder runs strategies in sequence and returns the first success.
// Failures accumulate; when every strategy fails the joined error reports
// each attempt. Context cancellation aborts between attempts.
func TryInOrder[T any](ctx context.Context, strategies ...Strategy[T]) (T, error) {
	var zero T
	var errs []error

	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		result, ok, err := s.Run(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		if ok {
			return result, nil
		}
	}

	if len(errs) == 0 {
		return zero, errors.New("no applicable strategy")
	}
	return zero, errors.Join(errs...)
}

// InstallChain composes certificate installers as a tiered strategy: each is
// tried in order and the first one that reports anything other than Failed
// wins. The typical order is fully automatic methods first, then methods
// that end in RequiresManualInstall.
type InstallChain struct {
	installers []namedInstaller
}

type namedInstaller struct {
	name string
	inst CertificateInstaller
}

// NewInstallChain builds an empty chain. Add installers with Append.
func NewInstallChain() *InstallChain {
	return &InstallChain{}
}

// Append adds an installer to the end of the chain and returns the chain for
// chaining.
func (c *InstallChain) Append(name string, inst CertificateInstaller) *InstallChain {
	c.installers = append(c.installers, namedInstaller{name: name, inst: inst})
	return c
}

// Install implements CertificateInstaller over the whole chain.
func (c *InstallChain) Install(ctx context.Context, deviceID string) (InstallResult, error) {
	strategies := make([]Strategy[InstallResult], len(c.installers))
	for i, ni := range c.installers {
		ni := ni
		strategies[i] = Strategy[InstallResult]{
			Name: ni.name,
			Run: func(ctx context.Context) (InstallResult, bool, error) {
				res, err := ni.inst.Install(ctx, deviceID)
				if err != nil {
					return Failed, false, err
				}
				if res == Failed {
					return Failed, false, fmt.Errorf("installer reported failure")
				}
				return res, true, nil
			},
		}
	}

	res, err := TryInOrder(ctx, strategies...)
	if err != nil {
		return Failed, err
	}
	return res, nil
}
