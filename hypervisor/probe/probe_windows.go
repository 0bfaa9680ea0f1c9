// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package probe

import (
	"fmt"

	"github.com/bureau-foundation/microvm/hypervisor"
	"github.com/bureau-foundation/microvm/hypervisor/whp"
)

// Available reports whether the Windows Hypervisor Platform is
// present and enabled.
func Available() bool {
	return whp.Available()
}

// Name returns the backend New would pick, or "" when none is
// available.
func Name() string {
	if whp.Available() {
		return "whp"
	}
	return ""
}

// New constructs a driver on the Windows Hypervisor Platform.
func New(params hypervisor.Params) (hypervisor.Driver, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if !whp.Available() {
		return nil, fmt.Errorf("windows hypervisor platform not present: %w", hypervisor.ErrUnavailable)
	}
	return whp.New(params)
}
