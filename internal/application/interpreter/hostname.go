package interpreter

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

// HostnameGenerator produces stable sequential machine names. Counters are
// keyed by service id; uniqueness holds within one process lifetime.
type HostnameGenerator struct {
	mu       sync.Mutex
	counters map[string]int
}

func NewHostnameGenerator() *HostnameGenerator {
	return &HostnameGenerator{counters: map[string]int{}}
}

// Generate resolves a hostname pattern. A '#' in the pattern is replaced
// (first occurrence only) with a per-service counter starting at 1. An empty
// pattern yields a random name. Any other pattern is returned unchanged.
func (g *HostnameGenerator) Generate(pattern, serviceID string) string {
	if pattern == "" {
		return g.random()
	}
	if strings.Contains(pattern, "#") {
		g.mu.Lock()
		counter := g.counters[serviceID]
		if counter == 0 {
			counter = 1
		}
		g.counters[serviceID] = counter + 1
		g.mu.Unlock()
		return strings.Replace(pattern, "#", itoaBase(counter, 10), 1)
	}
	return pattern
}

// random builds <5 random lowercase letters><8-char base36 ms
// timestamp><base36 counter mod 1296>.
func (g *HostnameGenerator) random() string {
	g.mu.Lock()
	counter := g.counters[""]
	if counter == 0 {
		counter = 1
	}
	g.counters[""] = (counter + 1) % 1296
	g.mu.Unlock()

	letters := make([]byte, 5)
	for i := range letters {
		letters[i] = byte('a' + rand.Intn(26))
	}
	timestamp := itoaBase(int(time.Now().UnixMilli()), 36)
	if len(timestamp) > 8 {
		timestamp = timestamp[:8]
	}
	return string(letters) + timestamp + itoaBase(counter, 36)
}

const baseDigits = "0123456789abcdefghijklmnopqrstuvwxyz"

// itoaBase renders a non-negative integer in the given base using lowercase
// digits.
func itoaBase(x, base int) string {
	if x == 0 {
		return "0"
	}
	var digits []byte
	for x > 0 {
		digits = append(digits, baseDigits[x%base])
		x /= base
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}
