package main

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/net/html"
)

var errTestFetch = errors.New("fetch failed")

// fakeFarmerOwner is a minimal farmerOwner double for exercising CardsFarmer
// without a real Bot/PlatformClient/WebClient stack.
type fakeFarmerOwner struct {
	cfg      BotConfig
	platform *fakePlatformClient
	web      *fakeWebClient
	ready    bool
	finished []bool
}

func (o *fakeFarmerOwner) Name() string             { return o.cfg.Name }
func (o *fakeFarmerOwner) Config() BotConfig         { return o.cfg }
func (o *fakeFarmerOwner) Platform() PlatformClient  { return o.platform }
func (o *fakeFarmerOwner) Web() WebClient            { return o.web }
func (o *fakeFarmerOwner) IsReadyToPlay() bool       { return o.ready }
func (o *fakeFarmerOwner) OnFarmingFinished(ok bool) { o.finished = append(o.finished, ok) }

func newFakeOwner(cfg BotConfig) *fakeFarmerOwner {
	return &fakeFarmerOwner{
		cfg:      cfg,
		platform: &fakePlatformClient{events: make(chan PlatformEvent, 4)},
		web:      &fakeWebClient{},
		ready:    true,
	}
}

func badgeRow(appID uint32, name string, hours float32, cardsRemaining int) string {
	return `<div class="badge_title_stats_content" id="card_drop_info_dialog_` +
		uintToStr(uint64(appID)) + `_0">` +
		`<div class="badge_title_stats_playtime">` + floatToStr(hours) + ` hrs on record</div>` +
		`You have unlocked all the cards by playing ` + name + `.` +
		`<span class="progress_info_bold">` + intToStr(cardsRemaining) + ` card drops remaining</span>` +
		`</div>`
}

func uintToStr(n uint64) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func intToStr(n int) string { return uintToStr(uint64(n)) }

func floatToStr(f float32) string {
	whole := int(f)
	return intToStr(whole) + "." + intToStr(int((f-float32(whole))*10))
}

func TestCheckPageExtractsGamesAndSkipsBlacklisted(t *testing.T) {
	cfg := BotConfig{Name: "bot1", Blacklist: []uint32{999}}
	owner := newFakeOwner(cfg)
	farmer := NewCardsFarmer(owner)

	body := "<html><body>" +
		badgeRow(440, "Team Fortress 2", 12.5, 3) +
		badgeRow(999, "Blacklisted Game", 1, 2) +
		"</body></html>"
	doc := parseFragment(body)

	games, deferred := farmer.CheckPage(doc, cfg)
	if len(deferred) != 0 {
		t.Fatalf("expected no deferred checks, got %d", len(deferred))
	}
	if len(games) != 1 {
		t.Fatalf("expected 1 game (blacklisted excluded), got %d", len(games))
	}
	if games[0].AppID != 440 {
		t.Fatalf("expected appID 440, got %d", games[0].AppID)
	}
	if games[0].CardsRemaining != 3 {
		t.Fatalf("expected 3 cards remaining, got %d", games[0].CardsRemaining)
	}
}

func TestCheckPageDefersUntrustedZeroCardRow(t *testing.T) {
	cfg := BotConfig{Name: "bot1"}
	owner := newFakeOwner(cfg)
	farmer := NewCardsFarmer(owner)

	body := "<html><body>" + badgeRow(440, "Team Fortress 2", 5, 0) + "</body></html>"
	doc := parseFragment(body)

	games, deferred := farmer.CheckPage(doc, cfg)
	if len(games) != 0 {
		t.Fatalf("expected 0 immediate games for untrusted zero-card row, got %d", len(games))
	}
	if len(deferred) != 1 {
		t.Fatalf("expected 1 deferred check, got %d", len(deferred))
	}
	if deferred[0].AppID != 440 {
		t.Fatalf("expected deferred appID 440, got %d", deferred[0].AppID)
	}
}

func TestCheckPageDropsUntrackedZeroCardRow(t *testing.T) {
	cfg := BotConfig{Name: "bot1"}
	owner := newFakeOwner(cfg)
	farmer := NewCardsFarmer(owner)

	body := "<html><body>" + badgeRow(730, "Counter-Strike 2", 5, 0) + "</body></html>"
	doc := parseFragment(body)

	games, deferred := farmer.CheckPage(doc, cfg)
	if len(games) != 0 || len(deferred) != 0 {
		t.Fatalf("expected a non-allowlisted zero-card row to be dropped entirely, got games=%d deferred=%d", len(games), len(deferred))
	}
}

func TestShouldFarmReportsFalseWhenNoCardsLeft(t *testing.T) {
	cfg := BotConfig{Name: "bot1"}
	owner := newFakeOwner(cfg)
	owner.web.gameCards = map[uint32]*html.Node{}
	farmer := NewCardsFarmer(owner)

	doc := parseFragment(`<html><body><span class="progress_info_bold">0 card drops remaining</span></body></html>`)
	owner.web.gameCards[440] = doc

	game := &Game{AppID: 440, Name: "Team Fortress 2"}
	result := farmer.ShouldFarm(game)
	if result == nil {
		t.Fatalf("expected a definitive result, got nil")
	}
	if *result != false {
		t.Fatalf("expected ShouldFarm=false when 0 cards remain")
	}
}

func TestShouldFarmReturnsNilOnFetchFailure(t *testing.T) {
	cfg := BotConfig{Name: "bot1"}
	owner := newFakeOwner(cfg)
	owner.web.gameCardErr = errTestFetch
	farmer := NewCardsFarmer(owner)

	result := farmer.ShouldFarm(&Game{AppID: 440})
	if result != nil {
		t.Fatalf("expected nil result on fetch failure, got %v", *result)
	}
}

func TestStartFarmingSkipsWhenNotReady(t *testing.T) {
	cfg := BotConfig{Name: "bot1"}
	owner := newFakeOwner(cfg)
	owner.ready = false
	farmer := NewCardsFarmer(owner)

	farmer.StartFarming()
	if farmer.NowFarming() {
		t.Fatalf("expected farmer to stay idle when owner not ready")
	}
}

func TestStartFarmingFinishesImmediatelyWhenNothingToFarm(t *testing.T) {
	cfg := BotConfig{Name: "bot1"}
	owner := newFakeOwner(cfg)
	farmer := NewCardsFarmer(owner)

	farmer.StartFarming()

	if len(owner.finished) != 1 || owner.finished[0] != true {
		t.Fatalf("expected one OnFarmingFinished(true) call, got %v", owner.finished)
	}
}

func TestStopFarmingDuringActiveRoundDoesNotDeadlock(t *testing.T) {
	cfg := BotConfig{Name: "bot1", FarmingDelay: time.Hour, MaxFarmingTime: time.Hour, MaxGamesPlayedConcurrently: 1}
	owner := newFakeOwner(cfg)
	owner.web.badgePages = map[int]*html.Node{
		1: parseFragment("<html><body>" + badgeRow(440, "Team Fortress 2", 0, 3) + "</body></html>"),
	}
	farmer := NewCardsFarmer(owner)

	started := make(chan struct{})
	go func() {
		farmer.StartFarming()
		close(started)
	}()

	waitFor(t, farmer.NowFarming)

	stopped := make(chan struct{})
	go func() {
		farmer.StopFarming()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("StopFarming deadlocked waiting on farmingSemaphore held across the round")
	}
	<-started
}

func TestFarmSoloStopsWhenKeepFarmingCleared(t *testing.T) {
	cfg := BotConfig{Name: "bot1", FarmingDelay: 50 * time.Millisecond, MaxFarmingTime: time.Hour}
	owner := newFakeOwner(cfg)
	farmer := NewCardsFarmer(owner)

	farmer.mu.Lock()
	farmer.keepFarming = true
	farmer.mu.Unlock()

	go func() {
		time.Sleep(10 * time.Millisecond)
		farmer.mu.Lock()
		farmer.keepFarming = false
		farmer.mu.Unlock()
		farmer.farmResetEvent.Set()
	}()

	ok := farmer.FarmSolo(&Game{AppID: 440, Name: "Team Fortress 2"})
	if ok {
		t.Fatalf("expected FarmSolo to report aborted (false) when keepFarming cleared")
	}
	if len(owner.platform.playedGames) != 1 || owner.platform.playedGames[0][0] != 440 {
		t.Fatalf("expected PlayGames(440) to have been called, got %v", owner.platform.playedGames)
	}
}
