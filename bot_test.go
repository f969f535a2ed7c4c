package main

import (
	"testing"
	"time"

	"github.com/Philipp15b/go-steam/v3/protocol/steamlang"
)

func TestBotLogsOnAndStartsFarmingOnSuccess(t *testing.T) {
	platform := &fakePlatformClient{events: make(chan PlatformEvent, 8)}
	web := &fakeWebClient{}
	cfg := BotConfig{Name: "farmbot", SteamLogin: "user", SteamPassword: "pass", MaxFarmingTime: time.Hour, FarmingDelay: time.Hour}
	bot := NewBot(cfg, NewBotRegistry(), nil, nil, nil, platform, web)

	bot.Start()

	platform.events <- ConnectedEvent{Result: steamlang.EResult_OK}
	waitFor(t, func() bool { return len(platform.loggedOnDetails) == 1 })

	platform.events <- LoggedOnEvent{Result: steamlang.EResult_OK}
	waitFor(t, func() bool { return bot.IsReadyToPlay() })
	// StartFarming's first step is the badge-page scan.
	waitFor(t, func() bool { return len(web.fetchedPages) > 0 })

	bot.Stop()
}

func TestBotHandlesLogOnFailureAndBacksOff(t *testing.T) {
	platform := &fakePlatformClient{events: make(chan PlatformEvent, 8)}
	web := &fakeWebClient{}
	cfg := BotConfig{Name: "badpass", SteamLogin: "user", SteamPassword: "wrong"}
	bot := NewBot(cfg, NewBotRegistry(), nil, nil, nil, platform, web)

	bot.Start()
	platform.events <- ConnectedEvent{Result: steamlang.EResult_OK}
	waitFor(t, func() bool { return len(platform.loggedOnDetails) == 1 })

	platform.events <- LoggedOnEvent{Result: steamlang.EResult_InvalidPassword}
	waitFor(t, func() bool {
		bot.mu.Lock()
		defer bot.mu.Unlock()
		return bot.reconnectDelay == invalidPasswordBackoff
	})

	bot.Stop()
}

func TestBotStopIsIdempotent(t *testing.T) {
	platform := &fakePlatformClient{events: make(chan PlatformEvent, 8)}
	web := &fakeWebClient{}
	cfg := BotConfig{Name: "stopbot"}
	bot := NewBot(cfg, NewBotRegistry(), nil, nil, nil, platform, web)

	bot.Start()
	bot.Stop()
	bot.Stop() // must not panic on double stop (closing stopCh twice)

	if platform.disconnectCalls == 0 {
		t.Fatalf("expected Disconnect to have been called")
	}
}

func TestBotStartIsIdempotent(t *testing.T) {
	platform := &fakePlatformClient{events: make(chan PlatformEvent, 8)}
	web := &fakeWebClient{}
	cfg := BotConfig{Name: "startbot"}
	bot := NewBot(cfg, NewBotRegistry(), nil, nil, nil, platform, web)

	bot.Start()
	bot.Start() // must not spawn a second run() loop

	platform.events <- ConnectedEvent{Result: steamlang.EResult_OK}
	waitFor(t, func() bool { return len(platform.loggedOnDetails) == 1 })
	if len(platform.loggedOnDetails) != 1 {
		t.Fatalf("expected exactly one LogOn from a single run() loop, got %d", len(platform.loggedOnDetails))
	}

	bot.Stop()
}

func TestBotShutdownDeregistersFromRegistry(t *testing.T) {
	platform := &fakePlatformClient{events: make(chan PlatformEvent, 8)}
	web := &fakeWebClient{}
	registry := NewBotRegistry()
	cfg := BotConfig{Name: "shutdownbot"}
	bot := NewBot(cfg, registry, nil, nil, nil, platform, web)
	registry.InsertIfAbsent(bot)

	bot.Start()
	bot.Shutdown()

	if platform.disconnectCalls == 0 {
		t.Fatalf("expected Shutdown to disconnect the platform client")
	}
	if _, ok := registry.Get(cfg.Name); ok {
		t.Fatalf("expected Shutdown to remove the bot from its registry")
	}
}

func TestBotDeclinesNonMasterAndClanFriendRequests(t *testing.T) {
	platform := &fakePlatformClient{events: make(chan PlatformEvent, 8)}
	web := &fakeWebClient{}
	cfg := BotConfig{Name: "friendbot", SteamMasterID: 111, MaxFarmingTime: time.Hour, FarmingDelay: time.Hour}
	bot := NewBot(cfg, NewBotRegistry(), nil, nil, nil, platform, web)

	bot.Start()
	platform.events <- ConnectedEvent{Result: steamlang.EResult_OK}
	waitFor(t, func() bool { return len(platform.loggedOnDetails) == 1 })
	platform.events <- LoggedOnEvent{Result: steamlang.EResult_OK}
	waitFor(t, func() bool { return bot.IsReadyToPlay() })

	platform.events <- FriendsListEvent{Friends: []FriendRequest{
		{SteamID: 111, Requested: true},       // master: accept
		{SteamID: 222, Requested: true},       // stranger: decline
		{SteamID: 333, IsClan: true, Requested: true}, // clan: decline
	}}

	waitFor(t, func() bool { return len(platform.sentMessages) >= 0 && (bot.declinedCount() == 2) })

	bot.Stop()
}

func (b *Bot) declinedCount() int {
	fp, ok := b.platform.(*fakePlatformClient)
	if !ok {
		return -1
	}
	return fp.declineCalls
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within timeout")
}
