package main

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/proxy"
)

// fakePlatformClient is a hand-rolled PlatformClient test double: it records
// every call it receives and lets a test push events on demand.
type fakePlatformClient struct {
	events chan PlatformEvent

	connectCalls    int
	disconnectCalls int
	loggedOnDetails []LogOnDetails
	playedGames     [][]uint32
	sentMessages    []fakeMessage
	redeemedKeys    []string
	acceptCalls     int
	declineCalls    int
}

type fakeMessage struct {
	To      uint64
	Message string
}

func (f *fakePlatformClient) Connect()    { f.connectCalls++ }
func (f *fakePlatformClient) Disconnect() { f.disconnectCalls++ }
func (f *fakePlatformClient) Events() <-chan PlatformEvent {
	return f.events
}
func (f *fakePlatformClient) LogOn(details LogOnDetails) {
	f.loggedOnDetails = append(f.loggedOnDetails, details)
}
func (f *fakePlatformClient) SetPersonaName(name string)  {}
func (f *fakePlatformClient) JoinChat(clanID uint64)       {}
func (f *fakePlatformClient) AcceptFriend(id uint64)       { f.acceptCalls++ }
func (f *fakePlatformClient) DeclineFriend(id uint64)      { f.declineCalls++ }
func (f *fakePlatformClient) RemoveFriend(id uint64)       {}
func (f *fakePlatformClient) SendChatMessage(to uint64, message string) {
	f.sentMessages = append(f.sentMessages, fakeMessage{To: to, Message: message})
}
func (f *fakePlatformClient) PlayGames(appIDs ...uint32) {
	f.playedGames = append(f.playedGames, append([]uint32(nil), appIDs...))
}
func (f *fakePlatformClient) RedeemKey(key string) {
	f.redeemedKeys = append(f.redeemedKeys, key)
}
func (f *fakePlatformClient) AckSentry(ack SentryAck)            {}
func (f *fakePlatformClient) SetProxyDialer(dialer proxy.Dialer) {}

// fakeWebClient is a hand-rolled WebClient test double returning canned
// parsed pages (or an error) per call.
type fakeWebClient struct {
	badgePages   map[int]*html.Node
	gameCards    map[uint32]*html.Node
	badgeErr     error
	gameCardErr  error
	fetchedPages []int
	fetchedGames []uint32
}

func (f *fakeWebClient) SetSession(steamID uint64, sessionID, accessToken string) {}

func (f *fakeWebClient) FetchBadgePage(page int) (*html.Node, error) {
	f.fetchedPages = append(f.fetchedPages, page)
	if f.badgeErr != nil {
		return nil, f.badgeErr
	}
	if f.badgePages == nil {
		return parseFragment("<html><body></body></html>"), nil
	}
	return f.badgePages[page], nil
}

func (f *fakeWebClient) FetchGameCardPage(appID uint32) (*html.Node, error) {
	f.fetchedGames = append(f.fetchedGames, appID)
	if f.gameCardErr != nil {
		return nil, f.gameCardErr
	}
	if f.gameCards == nil {
		return parseFragment("<html><body></body></html>"), nil
	}
	return f.gameCards[appID], nil
}

func parseFragment(s string) *html.Node {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return doc
}
