// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux
// +build !linux

package main

import (
	"grimm.is/segsplit/internal/config"
	"grimm.is/segsplit/internal/kernel"
)

// newKernel falls back to the in-memory simulator off Linux: there is no
// real packet-divert facility to bind.
func newKernel(_ config.Config) (kernel.Interceptor, error) {
	return kernel.NewSimKernel(), nil
}
