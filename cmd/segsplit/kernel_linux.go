// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux
// +build linux

package main

import (
	"grimm.is/segsplit/internal/config"
	"grimm.is/segsplit/internal/kernel"
)

// newKernel binds a real NFQUEUE-backed Interceptor on Linux.
func newKernel(cfg config.Config) (kernel.Interceptor, error) {
	return kernel.NewNFQueueKernel(cfg.QueueNum, ""), nil
}
