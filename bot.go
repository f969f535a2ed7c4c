package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/Philipp15b/go-steam/v3/protocol/steamlang"
	"golang.org/x/time/rate"
)

// Connection/session states, per §3's Bot state machine.
const (
	BotStateDisconnected = "disconnected"
	BotStateConnecting   = "connecting"
	BotStateLoggingIn    = "logging_in"
	BotStateLoggedIn     = "logged_in"
)

const (
	initialReconnectDelay  = 10 * time.Second
	maxReconnectDelay      = 5 * time.Minute
	reconnectBackoffFactor = 1.5

	invalidPasswordBackoff  = 25 * time.Minute
	logOnTimeout            = 60 * time.Second
	immediateReconnectDelay = 0
)

// Bot supervises one Steam session: connect/auth/reconnect, the callback
// pump, and delegation to its CardsFarmer. It implements farmerOwner so the
// scheduler never needs a concrete dependency back on this type.
type Bot struct {
	cfg      BotConfig
	registry *BotRegistry
	history  *HistoryLog
	alerts   *AlertSink
	throttle *connectThrottle

	platform PlatformClient
	web      WebClient
	farmer   *CardsFarmer
	command  *CommandHandler
	log      botLogger

	mu                sync.Mutex
	state             string
	steamID           uint64
	reconnectDelay    time.Duration
	reconnectAttempts int
	started           bool
	shuttingDown      bool

	stopCh chan struct{}
}

// NewBot wires one bot's collaborators from its config. platform/web may be
// injected by tests; production callers pass nil to get the real
// go-steam/HTTP backed implementations.
func NewBot(cfg BotConfig, registry *BotRegistry, history *HistoryLog, alerts *AlertSink, throttle *connectThrottle, platform PlatformClient, web WebClient) *Bot {
	b := &Bot{
		cfg:            cfg,
		registry:       registry,
		history:        history,
		alerts:         alerts,
		throttle:       throttle,
		state:          BotStateDisconnected,
		reconnectDelay: initialReconnectDelay,
		stopCh:         make(chan struct{}),
		log:            forBot(cfg.Name),
	}

	if platform == nil {
		platform = NewSteamPlatformClient(SentryPath(cfg.Name))
	}
	if web == nil {
		dialer, err := GetProxyForBot(cfg)
		if err != nil {
			b.log.Warning("proxy setup failed, using direct connection: %v", err)
			dialer = nil
		}
		if dialer != nil {
			platform.SetProxyDialer(dialer)
		}
		web = NewWebClient(cfg.SteamAPIKey, dialer)
	}

	b.platform = platform
	b.web = web
	b.farmer = NewCardsFarmer(b)
	b.command = NewCommandHandler(b, registry)
	return b
}

// --- farmerOwner -------------------------------------------------------

func (b *Bot) Name() string          { return b.cfg.Name }
func (b *Bot) Config() BotConfig     { return b.cfg }
func (b *Bot) Platform() PlatformClient { return b.platform }
func (b *Bot) Web() WebClient        { return b.web }

// IsReadyToPlay reports whether the session is logged on.
func (b *Bot) IsReadyToPlay() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == BotStateLoggedIn
}

// OnFarmingFinished fires when a round drains GamesToFarm completely. Per
// §4.1, ShutdownOnFarmingFinished tells the supervisor to shut this bot down
// (stop and deregister) rather than wait idle for new drops.
func (b *Bot) OnFarmingFinished(success bool) {
	if success {
		b.log.Info("farming finished, nothing left to farm")
		b.appendHistory(HistoryFarmingFinished, "all games drained")
	}
	if success && b.cfg.ShutdownOnFarmingFinished {
		b.log.Info("ShutdownOnFarmingFinished set, shutting down")
		go b.Shutdown()
	}
}

// --- lifecycle -----------------------------------------------------------

// Start launches the connect/event-pump loop on its own goroutine and
// returns immediately. Idempotent: a second Start on an already-started bot
// is a no-op.
func (b *Bot) Start() {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	go b.run()
}

// Stop signals the run loop to disconnect and exit, without forcibly
// killing an in-progress farming round (StopFarming handles that
// cooperatively). Idempotent.
func (b *Bot) Stop() {
	b.mu.Lock()
	if b.shuttingDown {
		b.mu.Unlock()
		return
	}
	b.shuttingDown = true
	b.mu.Unlock()

	b.farmer.StopFarming()
	close(b.stopCh)
	b.platform.Disconnect()
	b.appendHistory(HistoryShutdown, "")
}

// Shutdown stops this bot and deregisters it from the BotRegistry. Unlike a
// plain Stop, a shut-down bot is gone for good: nothing will reconnect it
// until a fresh !start or process restart recreates it.
func (b *Bot) Shutdown() {
	b.Stop()
	if b.registry != nil {
		b.registry.Remove(b.cfg.Name)
	}
}

func (b *Bot) run() {
	for {
		select {
		case <-b.stopCh:
			return
		default:
		}

		b.throttle.Wait()

		b.setState(BotStateConnecting)
		b.log.Info("connecting")
		b.platform.Connect()

		if !b.pumpUntilDisconnected() {
			return // stop requested
		}

		delay := b.nextReconnectDelay()
		b.log.Info("reconnecting in %v", delay)
		select {
		case <-time.After(delay):
		case <-b.stopCh:
			return
		}
	}
}

// pumpUntilDisconnected processes platform events for one connection
// lifetime. Returns false if Stop was called (caller should exit), true if
// the session dropped and should reconnect.
func (b *Bot) pumpUntilDisconnected() bool {
	logOnDeadline := time.After(logOnTimeout)

	for {
		select {
		case <-b.stopCh:
			return false

		case ev := <-b.platform.Events():
			switch e := ev.(type) {
			case ConnectedEvent:
				b.log.Info("connected, logging on")
				b.setState(BotStateLoggingIn)
				b.platform.LogOn(b.logOnDetails())

			case LoggedOnEvent:
				if e.Result != steamlang.EResult_OK {
					return b.handleLogOnFailure(e.Result)
				}
				b.log.Info("logged on")
				b.setState(BotStateLoggedIn)
				b.reconnectAttempts = 0
				b.reconnectDelay = initialReconnectDelay
				if b.cfg.WantsPersona() {
					b.platform.SetPersonaName(b.cfg.SteamNickname)
				}
				if b.cfg.SteamMasterClanID != 0 {
					b.platform.JoinChat(b.cfg.SteamMasterClanID)
				}
				go b.farmer.StartFarming()

			case LoggedOffEvent:
				b.log.Warning("logged off: %s", resultName(e.Result))
				return true

			case DisconnectedEvent:
				b.log.Warning("disconnected")
				b.setState(BotStateDisconnected)
				b.farmer.OnDisconnected()
				return true

			case FriendsListEvent:
				b.handleFriendsList(e)

			case ChatMessageEvent:
				if e.Sender == b.cfg.SteamMasterID {
					b.command.Handle(e.Sender, e.Message)
				}

			case NotificationEvent:
				if e.Kind == NotificationTrading {
					tradingCollaborator.HandleNotification(b.cfg.Name)
				}
				b.farmer.OnNewItemsNotification()

			case PurchaseResponseEvent:
				b.command.OnPurchaseResponse(e.Result)
				kind := HistoryRedeemResult
				b.appendHistory(kind, e.Result.Summary())
			}

		case <-logOnDeadline:
			if b.IsReadyToPlay() {
				continue
			}
			b.log.Warning("log-on timed out")
			b.platform.Disconnect()
			return true
		}
	}
}

// handleLogOnFailure classifies the failure per §7: invalid password backs
// off for invalidPasswordBackoff instead of the normal exponential curve,
// since retrying immediately just burns the attempt counter Steam tracks.
func (b *Bot) handleLogOnFailure(result steamlang.EResult) bool {
	b.log.Error("log on failed: %s", resultName(result))

	switch result {
	case steamlang.EResult_InvalidPassword:
		b.appendHistory(HistoryInvalidPassword, resultName(result))
		b.notifyAlert(fmt.Sprintf("bot %s: invalid password, backing off %v", b.cfg.Name, invalidPasswordBackoff))
		b.mu.Lock()
		b.reconnectDelay = invalidPasswordBackoff
		b.mu.Unlock()
	case steamlang.EResult_AccountLogonDenied, steamlang.EResult_AccountLoginDeniedNeedTwoFactor:
		b.notifyAlert(fmt.Sprintf("bot %s: needs Steam Guard code", b.cfg.Name))
	case steamlang.EResult_ServiceUnavailable, steamlang.EResult_Timeout, steamlang.EResult_TryAnotherCM:
		// Transient CM-side failures: stop and start immediately, with no
		// backoff, instead of letting the normal reconnect curve apply.
		b.mu.Lock()
		b.reconnectAttempts = 0
		b.reconnectDelay = immediateReconnectDelay
		b.mu.Unlock()
	default:
		b.appendHistory(HistoryFatalLogon, resultName(result))
		go b.Shutdown()
	}
	b.setState(BotStateDisconnected)
	return true
}

func (b *Bot) handleFriendsList(e FriendsListEvent) {
	for _, fr := range e.Friends {
		if !fr.Requested {
			continue
		}
		if !fr.IsClan && fr.SteamID == b.cfg.SteamMasterID {
			b.platform.AcceptFriend(fr.SteamID)
			continue
		}
		// Clan invites and every non-master friend request are declined:
		// only the owner is trusted.
		b.platform.DeclineFriend(fr.SteamID)
	}
}

func (b *Bot) logOnDetails() LogOnDetails {
	return LogOnDetails{
		Username: b.cfg.SteamLogin,
		Password: b.cfg.SteamPassword,
	}
}

func (b *Bot) nextReconnectDelay() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reconnectAttempts++
	delay := b.reconnectDelay
	jitter := time.Duration(rand.Intn(1000)) * time.Millisecond
	if b.reconnectAttempts > 1 {
		b.reconnectDelay = time.Duration(float64(b.reconnectDelay) * reconnectBackoffFactor)
		if b.reconnectDelay > maxReconnectDelay {
			b.reconnectDelay = maxReconnectDelay
		}
	}
	return delay + jitter
}

func (b *Bot) setState(state string) {
	b.mu.Lock()
	b.state = state
	b.mu.Unlock()
}

// Status renders the bot's current state for !status replies and the
// health endpoint.
func (b *Bot) Status() BotStatus {
	b.mu.Lock()
	running := !b.shuttingDown
	b.mu.Unlock()
	return BotStatus{
		Name:        b.cfg.Name,
		Running:     running,
		NowFarming:  b.farmer.NowFarming(),
		GamesToFarm: b.farmer.GamesToFarmCount(),
	}
}

func (b *Bot) appendHistory(kind HistoryEventKind, detail string) {
	if b.history == nil {
		return
	}
	b.history.Append(HistoryEntry{BotName: b.cfg.Name, Kind: kind, Detail: detail, OccurredAt: time.Now()})
}

func (b *Bot) notifyAlert(message string) {
	if b.alerts == nil {
		return
	}
	b.alerts.Notify(message)
}

// connectThrottle rate-limits how often bots in a BotRegistry may start a
// fresh Connect() attempt, process-wide, so a flock of bots reconnecting
// together doesn't look like abuse to Steam's login servers.
type connectThrottle struct {
	limiter *rate.Limiter
}

// newConnectThrottle builds a throttle allowing ratePerSec sustained
// connects with a burst of burst, mirroring the rate.NewLimiter(1,3) pattern
// used to gate outbound request bursts.
func newConnectThrottle(ratePerSec float64, burst int) *connectThrottle {
	return &connectThrottle{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

func (t *connectThrottle) Wait() {
	if t == nil || t.limiter == nil {
		return
	}
	_ = t.limiter.Wait(context.Background())
}

// tradingCollaborator is the package-level Trading stub (§4.7); package
// main keeps a single instance since trade-offer state isn't per-bot.
var tradingCollaborator = &Trading{}
