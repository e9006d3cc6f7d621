// Package testutil provides in-process fakes shared by package tests: a
// settable clock, a capturing sender, a stub invoker, and a static flow
// getter. Nothing here touches the network.
package testutil
