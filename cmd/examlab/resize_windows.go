//go:build windows

package main

import "context"

// watchResize is a no-op: Windows consoles do not signal size changes.
func watchResize(ctx context.Context, fn func()) (stop func()) {
	return func() {}
}
