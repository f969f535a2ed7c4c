package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const purchaseResponseTimeout = 30 * time.Second

// PendingRedeem correlates one RedeemKey call with its eventual
// PurchaseResponseEvent. Steam's wire protocol doesn't tag the response with
// a request id, so correlation is by strict ordering: redemptions are
// serialized one at a time and the oldest pending entry claims the next
// response. ID is a per-entry tag; it plays no part in wire correlation.
type PendingRedeem struct {
	ID   string
	done chan PurchaseResult
}

// CommandHandler parses chat commands and dispatches them against a Bot, or
// (for named-bot and swarm-wide forms) against sibling bots resolved through
// the shared BotRegistry. Only the configured SteamMasterID may issue
// control commands; anyone may ask !status.
type CommandHandler struct {
	bot      *Bot
	registry *BotRegistry

	mu      sync.Mutex
	pending []*PendingRedeem

	// redeemMu keeps at most one redeemAndWait in flight per bot.
	redeemMu sync.Mutex
}

// NewCommandHandler builds a handler bound to bot, with registry access for
// named-bot dispatch and fan-out redemption.
func NewCommandHandler(bot *Bot, registry *BotRegistry) *CommandHandler {
	return &CommandHandler{bot: bot, registry: registry}
}

// Handle parses and dispatches one incoming chat line from sender. Callers
// (bot.go's pumpUntilDisconnected) are expected to have already filtered to
// master-only senders, but Handle re-checks authorization itself for every
// command that mutates state, since it's also exercised directly in tests.
func (h *CommandHandler) Handle(sender uint64, message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		return
	}

	if !strings.HasPrefix(message, "!") {
		if !h.isAuthorized(sender) {
			return
		}
		if keys := parseDashPrefixedKeys(message); len(keys) > 0 {
			h.fanOutRedeem(sender, keys)
			return
		}
		if isValidCdKey(message) {
			// Redeemed directly with no acknowledgement: no pending entry is
			// registered, so the eventual PurchaseResponse finds nothing to
			// correlate against and no reply is sent.
			h.bot.platform.RedeemKey(message)
		}
		return
	}

	fields := strings.Fields(message[1:])
	if len(fields) == 0 {
		return
	}
	cmd := strings.ToLower(fields[0])
	args := strings.TrimSpace(strings.TrimPrefix(message[1:], fields[0]))

	authorized := h.isAuthorized(sender)

	switch cmd {
	case "status":
		h.handleStatus(sender, args)

	case "pause":
		if !authorized {
			h.reply(sender, "not authorized")
			return
		}
		sticky := strings.EqualFold(strings.TrimSpace(args), "sticky")
		h.bot.farmer.Pause(sticky)
		h.reply(sender, "paused")

	case "resume":
		if !authorized {
			h.reply(sender, "not authorized")
			return
		}
		h.bot.farmer.Resume(true)
		h.reply(sender, "resumed")

	case "redeem":
		if !authorized {
			h.reply(sender, "not authorized")
			return
		}
		h.handleRedeemCommand(sender, args)

	case "farm":
		if !authorized {
			h.reply(sender, "not authorized")
			return
		}
		h.handleFarm(sender, args)

	case "stop":
		if !authorized {
			h.reply(sender, "not authorized")
			return
		}
		h.handleStop(sender, args)

	case "start":
		if !authorized {
			h.reply(sender, "not authorized")
			return
		}
		if args == "" {
			h.reply(sender, "usage: !start <name>")
			return
		}
		h.handleStart(sender, args)

	case "restart":
		if !authorized {
			h.reply(sender, "not authorized")
			return
		}
		h.handleRestart(sender)

	case "exit":
		if !authorized {
			h.reply(sender, "not authorized")
			return
		}
		h.reply(sender, "shutting down all bots")
		go h.registry.ShutdownAll()

	default:
		h.reply(sender, fmt.Sprintf("unknown command: %s", cmd))
	}
}

func (h *CommandHandler) isAuthorized(sender uint64) bool {
	return h.bot.cfg.SteamMasterID != 0 && sender == h.bot.cfg.SteamMasterID
}

// handleStatus implements the bare, named-bot, and "all" forms of !status.
func (h *CommandHandler) handleStatus(sender uint64, args string) {
	name := strings.TrimSpace(args)
	switch {
	case name == "":
		h.reply(sender, formatStatus(h.bot.Status()))

	case strings.EqualFold(name, "all"):
		statuses := h.registry.Snapshot()
		parts := make([]string, 0, len(statuses))
		for _, s := range statuses {
			parts = append(parts, formatStatus(s))
		}
		h.reply(sender, strings.Join(parts, " | "))

	default:
		target, ok := h.registry.Get(name)
		if !ok {
			h.reply(sender, fmt.Sprintf("no such bot: %s", name))
			return
		}
		h.reply(sender, formatStatus(target.Status()))
	}
}

func formatStatus(s BotStatus) string {
	return fmt.Sprintf("%s: farming=%v games=%d running=%v", s.Name, s.NowFarming, s.GamesToFarm, s.Running)
}

// handleFarm implements the bare (this-bot) and named-bot forms of !farm.
func (h *CommandHandler) handleFarm(sender uint64, args string) {
	name := strings.TrimSpace(args)
	if name == "" {
		go h.bot.farmer.StartFarming()
		h.reply(sender, "farming round requested")
		return
	}
	target, ok := h.registry.Get(name)
	if !ok {
		h.reply(sender, fmt.Sprintf("no such bot: %s", name))
		return
	}
	go target.farmer.StartFarming()
	h.reply(sender, fmt.Sprintf("%s: farming round requested", name))
}

// handleStop implements the bare (this-bot) and named-bot forms of !stop:
// the bot is shut down (stopped and removed from the registry).
func (h *CommandHandler) handleStop(sender uint64, args string) {
	name := strings.TrimSpace(args)
	if name == "" {
		h.reply(sender, "shutting down")
		go h.bot.Shutdown()
		return
	}
	target, ok := h.registry.Get(name)
	if !ok {
		h.reply(sender, fmt.Sprintf("no such bot: %s", name))
		return
	}
	h.reply(sender, fmt.Sprintf("%s: shutting down", name))
	go target.Shutdown()
}

// handleStart loads name's on-disk config and launches it as a new bot in
// the shared registry, mirroring main's own startup loop.
func (h *CommandHandler) handleStart(sender uint64, name string) {
	if _, ok := h.registry.Get(name); ok {
		h.reply(sender, fmt.Sprintf("%s is already running", name))
		return
	}
	cfg, err := LoadBotConfig(name)
	if err != nil {
		h.reply(sender, fmt.Sprintf("failed to load config for %s: %v", name, err))
		return
	}
	bot := NewBot(cfg, h.registry, h.bot.history, h.bot.alerts, h.bot.throttle, nil, nil)
	if !h.registry.InsertIfAbsent(bot) {
		h.reply(sender, fmt.Sprintf("%s is already running", name))
		return
	}
	bot.Start()
	h.reply(sender, fmt.Sprintf("%s started", name))
}

// handleRestart shuts down every registered bot and relaunches each from its
// on-disk config — a process-level restart of the whole swarm without
// actually exec-ing a new OS process.
func (h *CommandHandler) handleRestart(sender uint64) {
	h.reply(sender, "restarting all bots")
	go func() {
		h.registry.ShutdownAll()
		configs, err := ListBotConfigs()
		if err != nil {
			LogError("restart: failed to reload bot configs: %v", err)
			return
		}
		for _, cfg := range configs {
			bot := NewBot(cfg, h.registry, h.bot.history, h.bot.alerts, h.bot.throttle, nil, nil)
			if !h.registry.InsertIfAbsent(bot) {
				LogError("restart: duplicate bot name %s, skipping", cfg.Name)
				continue
			}
			bot.Start()
		}
	}()
}

// handleRedeemCommand implements !redeem's two forms: a bare key redeems
// silently on this bot; a named bot + key redeems on that bot and replies
// with its result once correlated.
func (h *CommandHandler) handleRedeemCommand(sender uint64, args string) {
	fields := strings.Fields(args)
	switch len(fields) {
	case 1:
		key := fields[0]
		if !isValidCdKey(key) {
			h.reply(sender, "invalid key format")
			return
		}
		h.bot.platform.RedeemKey(key)

	case 2:
		name, key := fields[0], fields[1]
		if !isValidCdKey(key) {
			h.reply(sender, fmt.Sprintf("%s answer: invalid key format", name))
			return
		}
		target, ok := h.registry.Get(name)
		if !ok {
			h.reply(sender, fmt.Sprintf("no such bot: %s", name))
			return
		}
		result, err := target.command.redeemAndWait(key)
		if err != nil {
			h.reply(sender, fmt.Sprintf("%s answer: %v", name, err))
			return
		}
		h.reply(sender, fmt.Sprintf("%s answer: %s", name, result.Summary()))

	default:
		h.reply(sender, "usage: !redeem <key> | !redeem <bot> <key>")
	}
}

// fanOutRedeem dispatches one key per bot, in registry order, for the bare
// multi-line "-key" chat form. Keys beyond the registry's size are reported
// as unredeemed rather than silently dropped.
func (h *CommandHandler) fanOutRedeem(sender uint64, keys []string) {
	bots := h.registry.Bots()
	results := make([]string, 0, len(keys))
	for i, key := range keys {
		if i >= len(bots) {
			results = append(results, fmt.Sprintf("key %d: no bot available", i+1))
			continue
		}
		target := bots[i]
		if !isValidCdKey(key) {
			results = append(results, fmt.Sprintf("%s answer: invalid key format", target.Name()))
			continue
		}
		result, err := target.command.redeemAndWait(key)
		if err != nil {
			results = append(results, fmt.Sprintf("%s answer: %v", target.Name(), err))
			continue
		}
		results = append(results, fmt.Sprintf("%s answer: %s", target.Name(), result.Summary()))
	}
	h.reply(sender, strings.Join(results, " | "))
}

// redeemAndWait issues one RedeemKey call and blocks for its correlated
// PurchaseResponseEvent, or returns an error after purchaseResponseTimeout.
// The pending entry is always removed from the queue on return — by
// OnPurchaseResponse on success, or here on timeout — so a lost response
// can never wedge a later redemption against a stale entry.
func (h *CommandHandler) redeemAndWait(key string) (PurchaseResult, error) {
	h.redeemMu.Lock()
	defer h.redeemMu.Unlock()

	pr := &PendingRedeem{ID: uuid.New().String(), done: make(chan PurchaseResult, 1)}

	h.mu.Lock()
	h.pending = append(h.pending, pr)
	h.mu.Unlock()

	h.bot.platform.RedeemKey(key)

	select {
	case result := <-pr.done:
		return result, nil
	case <-time.After(purchaseResponseTimeout):
		h.removePending(pr)
		return PurchaseResult{}, fmt.Errorf("timed out waiting for purchase response")
	}
}

// OnPurchaseResponse delivers result to the oldest pending redemption, if
// any. A response with no pending entry (e.g. a silent redeem, or one
// arriving after a timeout already gave up) is logged and dropped.
func (h *CommandHandler) OnPurchaseResponse(result PurchaseResult) {
	h.mu.Lock()
	if len(h.pending) == 0 {
		h.mu.Unlock()
		LogWarning("Bot %s: purchase response with no pending redemption: %s", h.bot.cfg.Name, result.Summary())
		return
	}
	pr := h.pending[0]
	h.pending = h.pending[1:]
	h.mu.Unlock()

	select {
	case pr.done <- result:
	default:
	}
}

func (h *CommandHandler) removePending(target *PendingRedeem) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, pr := range h.pending {
		if pr == target {
			h.pending = append(h.pending[:i], h.pending[i+1:]...)
			return
		}
	}
}

func (h *CommandHandler) reply(to uint64, message string) {
	h.bot.platform.SendChatMessage(to, message)
}

// parseDashPrefixedKeys extracts one key per line from a bare chat message
// using the "-key" marker that distinguishes a multi-key fan-out from a
// single bare-key redemption; lines without the marker are ignored.
func parseDashPrefixedKeys(message string) []string {
	var keys []string
	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "-") {
			continue
		}
		if key := strings.TrimSpace(strings.TrimPrefix(line, "-")); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

// isValidCdKey reports whether s is a Steam CD key: length 17
// ("XXXXX-XXXXX-XXXXX") or 29 ("XXXXX-XXXXX-XXXXX-XXXXX-XXXXX"), with a dash
// at every index i where i%6==5 (i.e. {5,11,17,23}) and an uppercase
// alphanumeric everywhere else.
func isValidCdKey(s string) bool {
	if len(s) != 17 && len(s) != 29 {
		return false
	}
	for i, r := range s {
		if i%6 == 5 {
			if r != '-' {
				return false
			}
			continue
		}
		isUpper := r >= 'A' && r <= 'Z'
		isDigit := r >= '0' && r <= '9'
		if !isUpper && !isDigit {
			return false
		}
	}
	return true
}
