package main

import (
	"sort"
	"sync"
)

// BotRegistry is the process-wide, concurrency-safe directory of running
// bots, keyed by name. CommandHandler uses it to resolve SteamMasterID
// commands like "!farm other-bot-name" against a sibling session.
type BotRegistry struct {
	mu   sync.RWMutex
	bots map[string]*Bot
}

// NewBotRegistry builds an empty registry. One instance is constructed once
// at process start and shared by every Bot.
func NewBotRegistry() *BotRegistry {
	return &BotRegistry{bots: make(map[string]*Bot)}
}

// InsertIfAbsent registers bot under its name unless a bot with that name is
// already present, returning false in that case (the caller should treat a
// duplicate config name as a startup error, not silently overwrite a live
// session).
func (r *BotRegistry) InsertIfAbsent(bot *Bot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bots[bot.Name()]; exists {
		return false
	}
	r.bots[bot.Name()] = bot
	return true
}

// Remove drops a bot from the registry, e.g. once its Stop has completed.
func (r *BotRegistry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bots, name)
}

// Get looks up a bot by name.
func (r *BotRegistry) Get(name string) (*Bot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bots[name]
	return b, ok
}

// Snapshot returns a stable copy of all registered bots' statuses, ordered
// by name, for the !status command and the /health endpoint.
func (r *BotRegistry) Snapshot() []BotStatus {
	bots := r.Bots()
	statuses := make([]BotStatus, 0, len(bots))
	for _, b := range bots {
		statuses = append(statuses, b.Status())
	}
	return statuses
}

// Bots returns every registered bot ordered by name. CommandHandler uses
// this order for registry-wide fan-out (e.g. the multi-key redeem form,
// one key per bot).
func (r *BotRegistry) Bots() []*Bot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.bots))
	for name := range r.bots {
		names = append(names, name)
	}
	sort.Strings(names)

	bots := make([]*Bot, 0, len(names))
	for _, name := range names {
		bots = append(bots, r.bots[name])
	}
	return bots
}

// Count reports how many bots are currently registered.
func (r *BotRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bots)
}

// ShutdownAll calls Shutdown on every registered bot and waits for all of
// them to return before reporting completion. Snapshotting bots before
// releasing the lock means each Shutdown's own r.Remove doesn't deadlock
// against this call.
func (r *BotRegistry) ShutdownAll() {
	bots := r.Bots()

	var wg sync.WaitGroup
	for _, b := range bots {
		wg.Add(1)
		go func(b *Bot) {
			defer wg.Done()
			b.Shutdown()
		}(b)
	}
	wg.Wait()
}
