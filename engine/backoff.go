//
// Copyright (C) 2026 DiPeO Authors. All rights reserved.
//
// dipeo-go is licensed under the Apache License Version 2.0.
//

package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// backoffDelay computes the delay before retry attempt (1-based) for a node.
// Exponential growth from base, capped at max, with deterministic jitter
// derived from the seed so test runs are reproducible.
func backoffDelay(seed string, attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base << uint(attempt-1)
	if delay > max || delay <= 0 {
		delay = max
	}
	// Jitter in [0, delay/2), derived from the seed and attempt.
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", seed, attempt)))
	n := binary.BigEndian.Uint64(sum[:8])
	half := uint64(delay / 2)
	if half == 0 {
		return delay
	}
	return delay/2 + time.Duration(n%half)
}
