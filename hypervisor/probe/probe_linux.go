// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"fmt"

	"github.com/bureau-foundation/microvm/hypervisor"
	"github.com/bureau-foundation/microvm/hypervisor/kvm"
	"github.com/bureau-foundation/microvm/hypervisor/mshv"
)

// Available reports whether any backend can run a guest on this host.
func Available() bool {
	return kvm.Available() || mshv.Available()
}

// Name returns the backend New would pick, or "" when none is
// available.
func Name() string {
	switch {
	case kvm.Available():
		return "kvm"
	case mshv.Available():
		return "mshv"
	default:
		return ""
	}
}

// New constructs a driver on the preferred backend.
func New(params hypervisor.Params) (hypervisor.Driver, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	switch {
	case kvm.Available():
		return kvm.New(params)
	case mshv.Available():
		return mshv.New(params)
	default:
		return nil, fmt.Errorf("probing /dev/kvm and /dev/mshv: %w", hypervisor.ErrUnavailable)
	}
}
