//go:build !debug

// Package debug provides invariant checks that compile to no-ops unless
// built with the "debug" tag.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package debug

func ON() bool { return false }

func Assert(_ bool, _ ...any)            {}
func Assertf(_ bool, _ string, _ ...any) {}
func AssertNoErr(_ error)                {}
