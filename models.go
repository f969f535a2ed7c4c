package main

import (
	"time"
)

// FarmingOrder controls the sort order applied to GamesToFarm after a
// badges scan, mirroring the sort keys ArchiSteamFarm-style bots expose.
type FarmingOrder int

const (
	FarmingOrderUnordered FarmingOrder = iota
	FarmingOrderCardsAscending
	FarmingOrderCardsDescending
	FarmingOrderHoursAscending
	FarmingOrderHoursDescending
)

// Game is a value record describing one title with pending card drops.
// Identity and hashing are by AppID alone; HoursPlayed and CardsRemaining
// are the only mutable fields, and only ever move toward "done" while farmed.
type Game struct {
	AppID          uint32
	Name           string
	HoursPlayed    float32
	CardsRemaining uint16
}

// Done reports whether this game has no more drops left to collect.
func (g Game) Done() bool {
	return g.CardsRemaining == 0
}

// BotStatus represents the status of a bot, as surfaced by the HTTP status
// endpoint and the !status chat command.
type BotStatus struct {
	Name        string `json:"name"`
	Running     bool   `json:"running"`
	NowFarming  bool   `json:"nowFarming"`
	GamesToFarm int    `json:"gamesToFarm"`
}

// HealthResponse is the /health endpoint payload.
type HealthResponse struct {
	Status string      `json:"status"`
	Bots   []BotStatus `json:"bots"`
}

// BotConfig is the parsed, defaulted snapshot of a <botName>.xml file.
type BotConfig struct {
	Name                       string
	Enabled                    bool
	SteamLogin                 string
	SteamPassword              string
	SteamNickname              string
	SteamAPIKey                string
	SteamParentalPIN           string
	SteamMasterID              uint64
	SteamMasterClanID          uint64
	CardDropsRestricted        bool
	ShutdownOnFarmingFinished  bool
	Blacklist                  []uint32
	Statistics                 bool
	ProxyURL                   string
	FarmingOrder               FarmingOrder
	HoursToBump                float32
	MaxGamesPlayedConcurrently int
	FarmingDelay               time.Duration
	MaxFarmingTime             time.Duration
}

// WantsInteractiveLogin reports whether SteamLogin/SteamPassword are the
// "null" sentinel and must be prompted for rather than read from disk.
func (c BotConfig) WantsInteractiveLogin() bool {
	return c.SteamLogin == "null" || c.SteamPassword == "null"
}

// WantsInteractivePIN reports whether the parental PIN must be prompted for.
func (c BotConfig) WantsInteractivePIN() bool {
	return c.SteamParentalPIN == "null"
}

// WantsPersona reports whether a persona name change should be applied after login.
func (c BotConfig) WantsPersona() bool {
	return c.SteamNickname != "" && c.SteamNickname != "null"
}

// IsBlacklisted reports whether appID is excluded from farming by this bot's config.
func (c BotConfig) IsBlacklisted(appID uint32) bool {
	for _, id := range c.Blacklist {
		if id == appID {
			return true
		}
	}
	return false
}

// PurchaseResult is the outcome of a RedeemKey operation, as surfaced by
// the PlatformClient's PurchaseResponse callback.
type PurchaseResult struct {
	OK    bool
	State string
	Items []string
}

// Summary renders the one-line summary used in redeem replies
// (CommandHandler), purchase-response log lines and History Log entries.
func (p PurchaseResult) Summary() string {
	status := "Status: " + p.State
	if len(p.Items) == 0 {
		return status
	}
	items := p.Items[0]
	for _, it := range p.Items[1:] {
		items += ", " + it
	}
	return status + " | Items: " + items
}

// HistoryEventKind enumerates the one-way audit events the optional
// History Log records. It never feeds back into scheduling decisions.
type HistoryEventKind string

const (
	HistoryRedeemResult    HistoryEventKind = "redeem_result"
	HistoryFarmingFinished HistoryEventKind = "farming_finished"
	HistoryFatalLogon      HistoryEventKind = "fatal_logon"
	HistoryInvalidPassword HistoryEventKind = "invalid_password_backoff"
	HistoryShutdown        HistoryEventKind = "shutdown"
)

// HistoryEntry is a single audit row appended to the History Log.
type HistoryEntry struct {
	BotName    string
	Kind       HistoryEventKind
	Detail     string
	OccurredAt time.Time
}
