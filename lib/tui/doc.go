// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package tui provides shared terminal user interface primitives for
// Warden's interactive tools: the color theme, fuzzy match scoring,
// and scrollbar rendering.
//
// Domain-specific viewers (the approval console) import this package
// for consistent look and behavior. Each viewer owns its own data
// source, layout, and domain-specific rendering.
package tui
