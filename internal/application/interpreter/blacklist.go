package interpreter

// Blacklist suppresses rule re-firing per (rule id, entity id) pair. A true
// value is an auto-reset ban that holds until the start of the next pass; a
// false value is a permanent ban installed by the mute action and held for
// the task's lifetime.
type Blacklist struct {
	entries map[blacklistKey]bool
}

type blacklistKey struct {
	Rule   string
	Entity string
}

func NewBlacklist() *Blacklist {
	return &Blacklist{entries: map[blacklistKey]bool{}}
}

// Ban suppresses the pair until the next pass.
func (b *Blacklist) Ban(rule, entity string) {
	b.entries[blacklistKey{rule, entity}] = true
}

// Mute suppresses the pair permanently.
func (b *Blacklist) Mute(rule, entity string) {
	b.entries[blacklistKey{rule, entity}] = false
}

// Unmute removes any suppression of the pair.
func (b *Blacklist) Unmute(rule, entity string) {
	delete(b.entries, blacklistKey{rule, entity})
}

// Banned reports whether the pair is currently suppressed.
func (b *Blacklist) Banned(rule, entity string) bool {
	_, ok := b.entries[blacklistKey{rule, entity}]
	return ok
}

// Prepare drops all auto-reset entries, keeping permanent ones. The task
// runtime calls it at the start of each pass.
func (b *Blacklist) Prepare() {
	for key, auto := range b.entries {
		if auto {
			delete(b.entries, key)
		}
	}
}
