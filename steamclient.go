package main

import (
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	goSteam "github.com/Philipp15b/go-steam/v3"
	"github.com/Philipp15b/go-steam/v3/protocol/steamlang"
	"github.com/Philipp15b/go-steam/v3/steamid"
	"golang.org/x/net/proxy"
)

// PlatformClient is the capability a Bot drives: connect/disconnect, log on,
// a typed callback stream, and the imperative play/chat/friend operations.
// The concrete wire protocol is deliberately hidden behind this interface so
// Bot and CardsFarmer can be exercised against a fake in tests.
type PlatformClient interface {
	Connect()
	Disconnect()
	Events() <-chan PlatformEvent
	LogOn(details LogOnDetails)
	SetPersonaName(name string)
	JoinChat(clanID uint64)
	AcceptFriend(id uint64)
	DeclineFriend(id uint64)
	RemoveFriend(id uint64)
	SendChatMessage(to uint64, message string)
	PlayGames(appIDs ...uint32)
	RedeemKey(key string)
	AckSentry(ack SentryAck)
	SetProxyDialer(dialer proxy.Dialer)
}

// LogOnDetails carries the credentials and second-factor material for one
// logon attempt. SentryFileHash is the SHA-1 of the locally stored sentry
// blob, sent so the platform can skip re-issuing Steam Guard e-mail codes.
type LogOnDetails struct {
	Username       string
	Password       string
	AuthCode       string
	TwoFactorCode  string
	SentryFileHash []byte
}

// SentryAck is the reply to a MachineAuth chunk, per §4.1.
type SentryAck struct {
	JobID        uint64
	FileName     string
	BytesWritten uint32
	FileSize     uint32
	Offset       uint32
	Hash         []byte
}

// PlatformEvent is the tagged union of callbacks a PlatformClient emits.
// Bot's pump loop type-switches over these; concrete types below.
type PlatformEvent interface{ isPlatformEvent() }

type platformEventBase struct{}

func (platformEventBase) isPlatformEvent() {}

// ConnectedEvent fires once the transport handshake completes.
type ConnectedEvent struct {
	platformEventBase
	Result steamlang.EResult
}

// DisconnectedEvent fires whenever the transport drops, with no distinction
// between a clean close and a network failure — the Bot always reconnects
// when running.
type DisconnectedEvent struct{ platformEventBase }

// LoggedOnEvent reports the outcome of a LogOn call.
type LoggedOnEvent struct {
	platformEventBase
	Result steamlang.EResult
}

// LoggedOffEvent reports an unsolicited logoff from the platform.
type LoggedOffEvent struct {
	platformEventBase
	Result steamlang.EResult
}

// FriendRequest is one pending relationship change in a FriendsListEvent.
type FriendRequest struct {
	SteamID   uint64
	IsClan    bool
	Requested bool // true: they added us and are awaiting our decision
}

// FriendsListEvent carries the full set of pending friend/clan relationship changes.
type FriendsListEvent struct {
	platformEventBase
	Friends []FriendRequest
}

// ChatMessageEvent is an incoming chat line, direct or via a joined clan chat.
type ChatMessageEvent struct {
	platformEventBase
	Sender  uint64
	Message string
}

// MachineAuthEvent is one sentry-file chunk pushed by the platform.
type MachineAuthEvent struct {
	platformEventBase
	JobID    uint64
	FileName string
	Offset   uint32
	Data     []byte
}

// NotificationKind distinguishes the notification classes PlatformClient can emit.
type NotificationKind int

const (
	NotificationTrading NotificationKind = iota
)

// NotificationEvent is a lightweight "something happened, go check" signal;
// Trading notifications are delegated to the Trading collaborator (§4.7).
type NotificationEvent struct {
	platformEventBase
	Kind NotificationKind
}

// PurchaseResponseEvent is the outcome of a RedeemKey call.
type PurchaseResponseEvent struct {
	platformEventBase
	Result PurchaseResult
}

// resultName renders an EResult the way chat replies and logs expect.
func resultName(r steamlang.EResult) string {
	return r.String()
}

// steamPlatformClient adapts go-steam's callback-manager Client into the
// flat PlatformEvent stream Bot consumes. go-steam delivers events on its
// own Events() channel; the translate loop below is the only reader of that
// channel. The imperative methods (Connect, LogOn, PlayGames, ...) call the
// *goSteam.Client directly from whichever goroutine invokes them.
type steamPlatformClient struct {
	client *goSteam.Client
	events chan PlatformEvent

	sentryMu   sync.Mutex
	sentryBuf  []byte
	sentryFile string
}

// NewSteamPlatformClient constructs a PlatformClient backed by a fresh
// go-steam client and starts translating its callbacks.
func NewSteamPlatformClient(sentryFile string) PlatformClient {
	c := &steamPlatformClient{
		client:     goSteam.NewClient(),
		events:     make(chan PlatformEvent, 32),
		sentryFile: sentryFile,
	}
	go c.translate()
	return c
}

func (c *steamPlatformClient) Connect() {
	c.client.Connect()
}

func (c *steamPlatformClient) Disconnect() {
	c.client.Disconnect()
}

func (c *steamPlatformClient) Events() <-chan PlatformEvent {
	return c.events
}

func (c *steamPlatformClient) SetProxyDialer(dialer proxy.Dialer) {
	c.client.SetProxyDialer(&dialer)
}

func (c *steamPlatformClient) LogOn(details LogOnDetails) {
	c.client.Auth.LogOn(&goSteam.LogOnDetails{
		Username:       details.Username,
		Password:       details.Password,
		AuthCode:       details.AuthCode,
		TwoFactorCode:  details.TwoFactorCode,
		SentryFileHash: details.SentryFileHash,
	})
}

func (c *steamPlatformClient) SetPersonaName(name string) {
	c.client.Social.SetPersonaName(name)
}

func (c *steamPlatformClient) JoinChat(clanID uint64) {
	c.client.Social.JoinChat(steamid.SteamId(clanID))
}

func (c *steamPlatformClient) AcceptFriend(id uint64) {
	c.client.Social.AddFriend(steamid.SteamId(id))
}

func (c *steamPlatformClient) DeclineFriend(id uint64) {
	c.client.Social.RemoveFriend(steamid.SteamId(id))
}

func (c *steamPlatformClient) RemoveFriend(id uint64) {
	c.client.Social.RemoveFriend(steamid.SteamId(id))
}

func (c *steamPlatformClient) SendChatMessage(to uint64, message string) {
	c.client.Social.SendMessage(steamid.SteamId(to), steamlang.EChatEntryType_ChatMsg, message)
}

func (c *steamPlatformClient) PlayGames(appIDs ...uint32) {
	ids := make([]uint64, len(appIDs))
	for i, id := range appIDs {
		ids[i] = uint64(id)
	}
	c.client.GC.SetGamesPlayed(ids...)
}

func (c *steamPlatformClient) RedeemKey(key string) {
	c.client.Social.RegisterKey(key)
}

func (c *steamPlatformClient) AckSentry(ack SentryAck) {
	c.client.Auth.SendMachineAuthResponse(&goSteam.MachineAuthResponse{
		JobId:        ack.JobID,
		FileName:     ack.FileName,
		BytesWritten: ack.BytesWritten,
		FileSize:     ack.FileSize,
		Offset:       ack.Offset,
		Hash:         ack.Hash,
	})
}

// translate pulls go-steam's callback-manager events, mutates sentry state
// where relevant, and republishes a PlatformEvent. It is the sole writer to
// c.events and the sole reader of c.client.Events().
func (c *steamPlatformClient) translate() {
	for raw := range c.client.Events() {
		switch e := raw.(type) {
		case *goSteam.ConnectedEvent:
			c.events <- ConnectedEvent{Result: steamlang.EResult_OK}

		case *goSteam.DisconnectedEvent:
			c.events <- DisconnectedEvent{}

		case *goSteam.LoggedOnEvent:
			c.events <- LoggedOnEvent{Result: e.Result}

		case *goSteam.LogOnFailedEvent:
			c.events <- LoggedOnEvent{Result: e.Result}

		case *goSteam.LoggedOffEvent:
			c.events <- LoggedOffEvent{Result: e.Result}

		case *goSteam.FriendsListEvent:
			reqs := make([]FriendRequest, 0, len(e.Friends))
			for _, f := range e.Friends {
				reqs = append(reqs, FriendRequest{
					SteamID:   uint64(f.SteamId),
					IsClan:    f.SteamId.GetAccountType() == steamlang.EAccountType_Clan,
					Requested: f.Relationship == steamlang.EFriendRelationship_RequestRecipient,
				})
			}
			c.events <- FriendsListEvent{Friends: reqs}

		case *goSteam.ChatMsgEvent:
			c.events <- ChatMessageEvent{Sender: uint64(e.Sender), Message: e.Message}

		case *goSteam.MachineAuthUpdateEvent:
			c.appendSentryChunk(e.JobId, e.FileName, e.Offset, e.Data)

		case *goSteam.NotificationEvent:
			c.events <- NotificationEvent{Kind: NotificationTrading}

		case *goSteam.PurchaseResponseEvent:
			c.events <- PurchaseResponseEvent{Result: PurchaseResult{
				OK:    e.Result == steamlang.EResult_OK,
				State: resultName(e.Result),
				Items: e.Items,
			}}
		}
	}
}

// appendSentryChunk writes chunk.data at chunk.offset into the sentry blob
// on disk, recomputes its SHA-1 over the full file, and acks. One bot, one
// sentry file, one writer — see §5's "sentry file is exclusively owned by
// its bot" invariant.
func (c *steamPlatformClient) appendSentryChunk(jobID uint64, fileName string, offset uint32, data []byte) {
	c.sentryMu.Lock()
	defer c.sentryMu.Unlock()

	needed := int(offset) + len(data)
	if needed > len(c.sentryBuf) {
		grown := make([]byte, needed)
		copy(grown, c.sentryBuf)
		c.sentryBuf = grown
	}
	copy(c.sentryBuf[offset:], data)

	if err := writeSentryFile(c.sentryFile, c.sentryBuf); err != nil {
		LogError("Failed to persist sentry blob %s: %v", c.sentryFile, err)
	}

	hash := sha1.Sum(c.sentryBuf)

	ack := SentryAck{
		JobID:        jobID,
		FileName:     fileName,
		BytesWritten: uint32(len(data)),
		FileSize:     uint32(len(c.sentryBuf)),
		Offset:       offset,
		Hash:         hash[:],
	}
	c.AckSentry(ack)
}

// writeSentryFile persists the full sentry blob to disk, creating parent
// directories on first write.
func writeSentryFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating sentry dir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing sentry file %s: %w", path, err)
	}
	return nil
}
