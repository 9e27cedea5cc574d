package model

import (
	"errors"
)

var (
	// ErrProbeTimeout means the host did not answer the liveness probe
	// within the configured bound.
	ErrProbeTimeout = errors.New("probe timeout")
	// ErrUnreachable means the network returned an explicit negative
	// signal, e.g. destination unreachable.
	ErrUnreachable = errors.New("host unreachable")
	// ErrCorruptFeed means the downloaded vulnerability feed did not
	// decompress or parse as well formed entries.
	ErrCorruptFeed = errors.New("corrupt vulnerability feed")
	// ErrDownloadFailed means the vulnerability feed could not be fetched.
	ErrDownloadFailed = errors.New("feed download failed")
	// ErrNoLocalCache means there is no previously persisted vulnerability
	// index to fall back to.
	ErrNoLocalCache = errors.New("no local vulnerability cache")
	// ErrNoTargets means the configuration expands to an empty target list.
	ErrNoTargets = errors.New("no targets to scan")
)
