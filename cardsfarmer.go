package main

import (
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
)

// farmerOwner is the slice of Bot that CardsFarmer needs. Kept as an
// interface (rather than a concrete *Bot field) so tests can exercise the
// scheduler against a minimal fake, and so bot.go and cardsfarmer.go don't
// need to know about each other's full surface.
type farmerOwner interface {
	Name() string
	Config() BotConfig
	Platform() PlatformClient
	Web() WebClient
	IsReadyToPlay() bool
	OnFarmingFinished(success bool)
}

// CardsFarmer is the per-bot farming scheduler and play-loop state machine.
// All exported methods are safe for concurrent use; StartFarming/StopFarming
// serialize through farmingSemaphore per the spec's single-active-round rule.
type CardsFarmer struct {
	owner farmerOwner

	mu                  sync.Mutex
	gamesToFarm         map[uint32]*Game
	currentGamesFarming map[uint32]*Game
	nowFarming          bool
	keepFarming         bool
	paused              bool
	stickyPause         bool

	farmResetEvent   *resetEvent
	farmingSemaphore sync.Mutex

	log botLogger
}

// NewCardsFarmer builds a scheduler for one bot.
func NewCardsFarmer(owner farmerOwner) *CardsFarmer {
	return &CardsFarmer{
		owner:               owner,
		gamesToFarm:         make(map[uint32]*Game),
		currentGamesFarming: make(map[uint32]*Game),
		farmResetEvent:      newResetEvent(),
		log:                 forBot(owner.Name()),
	}
}

// NowFarming reports whether a round is currently in progress.
func (f *CardsFarmer) NowFarming() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nowFarming
}

// GamesToFarmCount reports the size of GamesToFarm, for !status replies.
func (f *CardsFarmer) GamesToFarmCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.gamesToFarm)
}

// StartFarming returns at once when a pre-check short-circuits: a round is
// already active, farming is paused, or the bot isn't ready to play.
// Otherwise it scans and then runs the round on the calling goroutine,
// returning only when the round ends; callers start it with `go`.
func (f *CardsFarmer) StartFarming() {
	f.mu.Lock()
	if f.nowFarming || f.paused || !f.owner.IsReadyToPlay() {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	f.farmingSemaphore.Lock()

	f.mu.Lock()
	if f.nowFarming || f.paused {
		f.mu.Unlock()
		f.farmingSemaphore.Unlock()
		return
	}
	f.mu.Unlock()

	if !f.IsAnythingToFarm() {
		f.farmingSemaphore.Unlock()
		f.log.Info("nothing to farm")
		f.owner.OnFarmingFinished(true)
		return
	}

	f.mu.Lock()
	f.nowFarming = true
	f.keepFarming = true
	f.mu.Unlock()

	// Release before the round runs: a round can last hours, and
	// StopFarming needs the semaphore only to serialize against this
	// pre-check, not for the round's whole lifetime.
	f.farmingSemaphore.Unlock()

	f.runRound()
}

// StopFarming cooperatively cancels the active round: it clears keepFarming,
// signals farmResetEvent so any in-progress wait wakes immediately, then
// polls up to 5x1s for nowFarming to clear. On timeout it forces the flag
// false and logs a warning, per §3's bounded-wait invariant.
func (f *CardsFarmer) StopFarming() {
	f.farmingSemaphore.Lock()
	f.mu.Lock()
	f.keepFarming = false
	f.mu.Unlock()
	f.farmResetEvent.Set()
	f.farmingSemaphore.Unlock()

	for i := 0; i < 5; i++ {
		if !f.NowFarming() {
			return
		}
		time.Sleep(1 * time.Second)
	}

	if f.NowFarming() {
		f.log.Warning("StopFarming timed out waiting for round to exit, forcing nowFarming=false")
		f.mu.Lock()
		f.nowFarming = false
		f.mu.Unlock()
	}
}

// Pause sets paused; stickyPause, once set, can only be cleared by Resume
// called with userAction=true.
func (f *CardsFarmer) Pause(sticky bool) {
	f.mu.Lock()
	f.paused = true
	if sticky {
		f.stickyPause = true
	}
	f.mu.Unlock()
}

// Resume clears paused (stickyPause only clears on an explicit user action)
// and starts a round if none is running.
func (f *CardsFarmer) Resume(userAction bool) {
	f.mu.Lock()
	if f.stickyPause && !userAction {
		f.mu.Unlock()
		return
	}
	f.paused = false
	if userAction {
		f.stickyPause = false
	}
	alreadyFarming := f.nowFarming
	f.mu.Unlock()

	if !alreadyFarming {
		go f.StartFarming()
	}
}

// OnNewGameAdded starts a round if idle; if already farming under the
// complex algorithm with any game still below the bump threshold, it pulses
// the reset event so the current wait re-checks sooner and the next pass
// through the round loop re-plans against the refreshed set.
func (f *CardsFarmer) OnNewGameAdded() {
	f.mu.Lock()
	farming := f.nowFarming
	restricted := f.owner.Config().CardDropsRestricted
	bumpThreshold := f.owner.Config().HoursToBump
	belowBump := false
	for _, g := range f.gamesToFarm {
		if g.HoursPlayed < bumpThreshold {
			belowBump = true
			break
		}
	}
	f.mu.Unlock()

	if !farming {
		go f.StartFarming()
		return
	}
	if restricted && belowBump {
		f.farmResetEvent.Set()
	}
}

// OnNewItemsNotification pulses farmResetEvent to shorten the current play
// window while farming is active.
func (f *CardsFarmer) OnNewItemsNotification() {
	if f.NowFarming() {
		f.farmResetEvent.Set()
	}
}

// OnDisconnected fires a fire-and-forget StopFarming.
func (f *CardsFarmer) OnDisconnected() {
	go f.StopFarming()
}

// runRound executes the do/while round algorithm of §4.2: repeatedly drain
// GamesToFarm (via the complex or simple sub-algorithm) and rescan with
// IsAnythingToFarm, until nothing is left or the round is aborted.
func (f *CardsFarmer) runRound() {
	completed := true

	for {
		aborted := false
		if f.owner.Config().CardDropsRestricted {
			aborted = !f.runComplexPass()
		} else {
			aborted = !f.runSimplePass()
		}
		if aborted {
			completed = false
			break
		}
		if !f.IsAnythingToFarm() {
			break
		}
	}

	f.mu.Lock()
	f.nowFarming = false
	f.mu.Unlock()

	if completed {
		f.owner.OnFarmingFinished(true)
	}
}

// runSimplePass drains GamesToFarm one title at a time. Returns false if a
// FarmSolo call was aborted by StopFarming.
func (f *CardsFarmer) runSimplePass() bool {
	for {
		game := f.firstGame()
		if game == nil {
			return true
		}
		if !f.FarmSolo(game) {
			return false
		}
	}
}

// runComplexPass implements the restricted-account algorithm: titles with
// at least HoursToBump play solo until drained; otherwise the top-N titles
// by hours played (N = MaxGamesPlayedConcurrently) are played together to
// accrue the bump threshold cheaply before going solo.
func (f *CardsFarmer) runComplexPass() bool {
	for {
		f.mu.Lock()
		total := len(f.gamesToFarm)
		if total == 0 {
			f.mu.Unlock()
			return true
		}

		bump := f.owner.Config().HoursToBump
		var solo []*Game
		for _, g := range f.gamesToFarm {
			if g.HoursPlayed >= bump {
				solo = append(solo, g)
			}
		}
		if total == 1 {
			solo = nil
			for _, g := range f.gamesToFarm {
				solo = append(solo, g)
			}
		}
		f.mu.Unlock()

		if len(solo) > 0 {
			for _, g := range solo {
				if !f.FarmSolo(g) {
					return false
				}
			}
			continue
		}

		picked := f.pickTopByHours(f.owner.Config().MaxGamesPlayedConcurrently)
		if len(picked) == 0 {
			return true
		}
		if !f.FarmMultiple(picked) {
			return false
		}
	}
}

func (f *CardsFarmer) firstGame() *Game {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.gamesToFarm {
		return g
	}
	return nil
}

// pickTopByHours returns up to n games from GamesToFarm sorted by
// hoursPlayed descending.
func (f *CardsFarmer) pickTopByHours(n int) []*Game {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := make([]*Game, 0, len(f.gamesToFarm))
	for _, g := range f.gamesToFarm {
		all = append(all, g)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].HoursPlayed > all[j].HoursPlayed })
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// FarmSolo plays one app id until keepFarming clears, MaxFarmingTime
// elapses, or the web endpoint reports no cards remaining. Each iteration
// waits on farmResetEvent for FarmingDelay (a signal means "new items —
// re-check sooner"), then accrues the elapsed wall time onto the game's
// hoursPlayed before re-querying ShouldFarm. Returns keepFarming, so the
// caller can distinguish a drained game from an aborted round.
func (f *CardsFarmer) FarmSolo(game *Game) bool {
	f.mu.Lock()
	f.currentGamesFarming[game.AppID] = game
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.currentGamesFarming, game.AppID)
		f.mu.Unlock()
	}()

	f.owner.Platform().PlayGames(game.AppID)
	cfg := f.owner.Config()
	deadline := time.Now().Add(cfg.MaxFarmingTime)

	for {
		f.mu.Lock()
		keepFarming := f.keepFarming
		f.mu.Unlock()
		if !keepFarming {
			return false
		}
		if time.Now().After(deadline) {
			f.removeGame(game.AppID)
			return true
		}

		start := time.Now()
		f.farmResetEvent.Wait(cfg.FarmingDelay)
		f.farmResetEvent.Reset()
		elapsed := time.Since(start)

		f.mu.Lock()
		game.HoursPlayed += float32(elapsed.Hours())
		f.mu.Unlock()

		ok := f.ShouldFarm(game)
		if ok == nil {
			continue // transient fetch failure: keep playing, try again next tick
		}
		if !*ok {
			f.removeGame(game.AppID)
			return f.keepFarmingFlag()
		}
	}
}

// FarmMultiple plays a batch of titles concurrently until the highest
// hoursPlayed among them reaches HoursToBump, using the same wait/elapsed
// accounting as FarmSolo.
func (f *CardsFarmer) FarmMultiple(games []*Game) bool {
	appIDs := make([]uint32, len(games))
	f.mu.Lock()
	for i, g := range games {
		appIDs[i] = g.AppID
		f.currentGamesFarming[g.AppID] = g
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		for _, g := range games {
			delete(f.currentGamesFarming, g.AppID)
		}
		f.mu.Unlock()
	}()

	f.owner.Platform().PlayGames(appIDs...)
	cfg := f.owner.Config()

	for {
		f.mu.Lock()
		keepFarming := f.keepFarming
		f.mu.Unlock()
		if !keepFarming {
			return false
		}

		maxHours := float32(0)
		for _, g := range games {
			if g.HoursPlayed > maxHours {
				maxHours = g.HoursPlayed
			}
		}
		if maxHours >= cfg.HoursToBump {
			return true
		}

		start := time.Now()
		f.farmResetEvent.Wait(cfg.FarmingDelay)
		f.farmResetEvent.Reset()
		elapsed := time.Since(start)

		f.mu.Lock()
		for _, g := range games {
			g.HoursPlayed += float32(elapsed.Hours())
		}
		f.mu.Unlock()
	}
}

func (f *CardsFarmer) keepFarmingFlag() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keepFarming
}

func (f *CardsFarmer) removeGame(appID uint32) {
	f.mu.Lock()
	delete(f.gamesToFarm, appID)
	f.mu.Unlock()
}

// IsAnythingToFarm re-scans the badge pages: fetch page 1, learn the last
// page from its pagination, fan out pages 2..N concurrently (each via
// CheckPage), wait for all, sort GamesToFarm per FarmingOrder, and report
// whether anything is left.
func (f *CardsFarmer) IsAnythingToFarm() bool {
	web := f.owner.Web()
	cfg := f.owner.Config()

	doc, err := web.FetchBadgePage(1)
	if err != nil {
		f.log.Warning("badge page 1 fetch failed: %v", err)
		return f.GamesToFarmCount() > 0
	}

	games, deferred := f.CheckPage(doc, cfg)
	f.mergeGames(games)
	f.resolveDeferred(deferred, cfg)

	lastPage := lastPageFromPagination(doc)
	if lastPage > 1 {
		var wg sync.WaitGroup
		for p := 2; p <= lastPage; p++ {
			wg.Add(1)
			go func(page int) {
				defer wg.Done()
				d, err := web.FetchBadgePage(page)
				if err != nil {
					f.log.Warning("badge page %d fetch failed: %v", page, err)
					return
				}
				gs, def := f.CheckPage(d, cfg)
				f.mergeGames(gs)
				f.resolveDeferred(def, cfg)
			}(p)
		}
		wg.Wait()
	}

	f.sortGamesToFarm(cfg.FarmingOrder)

	return f.GamesToFarmCount() > 0
}

func (f *CardsFarmer) mergeGames(games []Game) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range games {
		gc := g
		f.gamesToFarm[g.AppID] = &gc
	}
}

func (f *CardsFarmer) sortGamesToFarm(order FarmingOrder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if order == FarmingOrderUnordered || len(f.gamesToFarm) == 0 {
		return
	}
	all := make([]*Game, 0, len(f.gamesToFarm))
	for _, g := range f.gamesToFarm {
		all = append(all, g)
	}
	switch order {
	case FarmingOrderCardsAscending:
		sort.Slice(all, func(i, j int) bool { return all[i].CardsRemaining < all[j].CardsRemaining })
	case FarmingOrderCardsDescending:
		sort.Slice(all, func(i, j int) bool { return all[i].CardsRemaining > all[j].CardsRemaining })
	case FarmingOrderHoursAscending:
		sort.Slice(all, func(i, j int) bool { return all[i].HoursPlayed < all[j].HoursPlayed })
	case FarmingOrderHoursDescending:
		sort.Slice(all, func(i, j int) bool { return all[i].HoursPlayed > all[j].HoursPlayed })
	}
	rebuilt := make(map[uint32]*Game, len(all))
	for _, g := range all {
		rebuilt[g.AppID] = g
	}
	f.gamesToFarm = rebuilt
}

// deferredCheck is a row CheckPage could not resolve from the badge page
// alone (an untrusted zero-card title) and must re-verify via the per-game
// page before it can be trusted enough to add to GamesToFarm.
type deferredCheck struct {
	AppID uint32
	Name  string
	Hours float32
}

// CheckPage extracts candidate Games from one parsed badge page, per §4.2.
// Extraction is best-effort: a row missing a node is skipped, not fatal to
// the rest of the page.
func (f *CardsFarmer) CheckPage(doc *html.Node, cfg BotConfig) (games []Game, deferred []deferredCheck) {
	for _, row := range findAllByClass(doc, "badge_title_stats_content") {
		appID, ok := extractDropDialogAppID(row)
		if !ok {
			continue
		}
		if globalBlacklist[appID] || cfg.IsBlacklisted(appID) {
			continue
		}

		hours := extractHoursPlayed(row)
		name := extractGameName(row)

		cardsNode := firstByClass(row, "progress_info_bold")
		if cardsNode == nil {
			continue
		}
		cardsRemaining, ok := firstInt(nodeText(cardsNode))
		if !ok {
			continue
		}

		if cardsRemaining == 0 {
			if !untrustedAllowList[appID] {
				continue
			}
			deferred = append(deferred, deferredCheck{AppID: appID, Name: name, Hours: hours})
			continue
		}

		games = append(games, Game{AppID: appID, Name: name, HoursPlayed: hours, CardsRemaining: uint16(cardsRemaining)})
	}
	return games, deferred
}

// resolveDeferred re-queries each untrusted, badge-page-reported-zero title
// via its per-game page and only adds it back if cards are genuinely owed.
func (f *CardsFarmer) resolveDeferred(deferred []deferredCheck, cfg BotConfig) {
	for _, d := range deferred {
		go func(d deferredCheck) {
			g := &Game{AppID: d.AppID, Name: d.Name, HoursPlayed: d.Hours}
			ok := f.ShouldFarm(g)
			if ok != nil && *ok {
				f.mu.Lock()
				f.gamesToFarm[g.AppID] = g
				f.mu.Unlock()
			}
		}(d)
	}
}

// ShouldFarm re-fetches appID's per-game card page, updates cardsRemaining,
// and reports whether it's still worth farming. A fetch failure returns nil
// ("continue", per §4.2) rather than false.
func (f *CardsFarmer) ShouldFarm(game *Game) *bool {
	doc, err := f.owner.Web().FetchGameCardPage(game.AppID)
	if err != nil {
		f.log.Warning("card page fetch for %d failed: %v", game.AppID, err)
		return nil
	}

	node := firstByClass(doc, "progress_info_bold")
	if node == nil {
		return nil
	}
	remaining, ok := firstInt(nodeText(node))
	if !ok {
		return nil
	}

	f.mu.Lock()
	game.CardsRemaining = uint16(remaining)
	f.mu.Unlock()

	result := remaining > 0
	return &result
}

func firstByClass(n *html.Node, class string) *html.Node {
	all := findAllByClass(n, class)
	if len(all) == 0 {
		return nil
	}
	return all[0]
}

// extractDropDialogAppID pulls the app id from the fifth underscore-segment
// of the row's drop-dialog id attribute, e.g.
// id="card_drop_info_dialog_730_0" -> segments [card drop info dialog 730 0],
// index 4 (fifth) is "730".
func extractDropDialogAppID(row *html.Node) (uint32, bool) {
	id, ok := findAttrByName(row, "id")
	if !ok {
		return 0, false
	}
	segments := strings.Split(id, "_")
	if len(segments) < 5 {
		return 0, false
	}
	n, ok := firstInt(segments[4])
	if !ok {
		return 0, false
	}
	return uint32(n), true
}

func extractHoursPlayed(row *html.Node) float32 {
	node := firstByClass(row, "badge_title_stats_playtime")
	if node == nil {
		return 0
	}
	hours, _ := firstFloat(nodeText(node))
	return hours
}

// extractGameName parses the title out of the row's free text, preferring
// "... by playing <NAME>." and falling back to the zero-drops phrasing.
func extractGameName(row *html.Node) string {
	text := nodeText(row)

	const byPlaying = " by playing "
	if idx := strings.Index(text, byPlaying); idx != -1 {
		start := idx + len(byPlaying)
		if rest := text[start:]; rest != "" {
			if end := strings.LastIndex(rest, "."); end != -1 {
				return strings.TrimSpace(rest[:end])
			}
		}
	}

	const noMoreDrops = "You don't have any more drops remaining for "
	if idx := strings.Index(text, noMoreDrops); idx != -1 {
		start := idx + len(noMoreDrops)
		if rest := text[start:]; rest != "" {
			if end := strings.LastIndex(rest, "."); end != -1 {
				return strings.TrimSpace(rest[:end])
			}
		}
	}

	return ""
}

// globalBlacklist holds app ids excluded for every bot, regardless of
// per-bot Blacklist config.
var globalBlacklist = map[uint32]bool{}

// untrustedAllowList holds app ids known to sometimes report zero remaining
// card drops on the badge page even when drops are still owed (trading-card
// scraping has historically been unreliable for a small set of titles with
// unusual badge levels). A zero-card row for one of these is deferred and
// re-checked against its own card page instead of being dropped outright;
// every other title's zero-card row is taken at face value.
var untrustedAllowList = map[uint32]bool{
	440: true, // Team Fortress 2: extra foil badge levels confuse the badge-page count
	570: true, // Dota 2: seasonal event badges do the same
}
