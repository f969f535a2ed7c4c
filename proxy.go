package main

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

var (
	proxyMutex sync.RWMutex
	// proxyCache is keyed by normalized proxy URL, not by bot name: several
	// BotConfig entries pointing at the same egress (a shared residential
	// or datacenter proxy bought for the whole swarm) share one dialer
	// value. Each Dial through it still opens and authenticates its own
	// connection to the proxy.
	proxyCache = make(map[string]proxy.Dialer)
)

// HTTPProxyDialer implements proxy.Dialer for HTTP proxies
type HTTPProxyDialer struct {
	proxyURL *url.URL
	forward  proxy.Dialer
	timeout  time.Duration
}

// Dial connects to addr through the HTTP proxy via a CONNECT tunnel.
func (d *HTTPProxyDialer) Dial(network, addr string) (net.Conn, error) {
	proxyDialer := &net.Dialer{Timeout: d.timeout, KeepAlive: 30 * time.Second}
	conn, err := proxyDialer.Dial("tcp", d.proxyURL.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to HTTP proxy: %v", err)
	}

	connectReq := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", addr, addr)
	if d.proxyURL.User != nil {
		username := d.proxyURL.User.Username()
		password, _ := d.proxyURL.User.Password()
		auth := base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s:%s", username, password)))
		connectReq += "Proxy-Authorization: Basic " + auth + "\r\n"
	}
	connectReq += "\r\n"

	if _, err := conn.Write([]byte(connectReq)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to write CONNECT request: %v", err)
	}

	buf := make([]byte, 1024)
	conn.SetReadDeadline(time.Now().Add(d.timeout))
	n, err := conn.Read(buf)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read CONNECT response: %v", err)
	}
	conn.SetReadDeadline(time.Time{})

	response := string(buf[:n])
	if !strings.Contains(response, "HTTP/1.1 200") && !strings.Contains(response, "HTTP/1.0 200") {
		conn.Close()
		return nil, fmt.Errorf("proxy connection failed: %s", strings.TrimSpace(response))
	}

	// Some proxies pack the first bytes of the tunneled stream onto the
	// same read as the CONNECT response's trailing headers; replay them.
	if headerEnd := strings.Index(response, "\r\n\r\n"); headerEnd > 0 && headerEnd+4 < n {
		conn = &preReadConn{Conn: conn, preRead: buf[headerEnd+4 : n]}
	}

	return conn, nil
}

// preReadConn is a net.Conn that has some data pre-read
type preReadConn struct {
	net.Conn
	preRead []byte
	preReadDone bool
}

// Read reads data from the connection
func (c *preReadConn) Read(b []byte) (int, error) {
	// If we have pre-read data, return that first
	if !c.preReadDone && len(c.preRead) > 0 {
		n := copy(b, c.preRead)
		if n >= len(c.preRead) {
			c.preReadDone = true
		} else {
			c.preRead = c.preRead[n:]
		}
		return n, nil
	}
	
	// Otherwise, read from the underlying connection
	return c.Conn.Read(b)
}

// NewHTTPProxyDialer creates a new HTTP proxy dialer
func NewHTTPProxyDialer(proxyURL *url.URL, forward proxy.Dialer) (proxy.Dialer, error) {
	return &HTTPProxyDialer{
		proxyURL: proxyURL,
		forward:  forward,
		timeout:  30 * time.Second,
	}, nil
}

// GetProxyForBot returns a proxy dialer for cfg's ProxyURL, or (nil, nil)
// when the bot runs direct ("null" or empty). The dialer is cached by the
// proxy's normalized URL rather than by cfg.Name: a swarm of accounts
// routed through the same egress point shares one dialer instead of each
// bot building its own copy. Authentication happens per Dial, not once per
// cached dialer.
func GetProxyForBot(cfg BotConfig) (proxy.Dialer, error) {
	proxyStr := cfg.ProxyURL
	if proxyStr == "" || proxyStr == "null" {
		LogDebug("Bot %s: no proxy configured", cfg.Name)
		return nil, nil
	}

	parsedURL, err := url.Parse(proxyStr)
	if err != nil {
		return nil, fmt.Errorf("bot %s: invalid proxy URL: %v", cfg.Name, err)
	}
	cacheKey := parsedURL.Scheme + "://" + parsedURL.Host

	proxyMutex.RLock()
	if dialer, ok := proxyCache[cacheKey]; ok {
		proxyMutex.RUnlock()
		LogDebug("Bot %s: reusing cached dialer for proxy %s", cfg.Name, cacheKey)
		return dialer, nil
	}
	proxyMutex.RUnlock()

	var dialer proxy.Dialer
	switch parsedURL.Scheme {
	case "socks5":
		auth := &proxy.Auth{}
		if parsedURL.User != nil {
			auth.User = parsedURL.User.Username()
			if password, ok := parsedURL.User.Password(); ok {
				auth.Password = password
			}
		}
		if auth.User == "" {
			auth = nil
		}
		dialer, err = proxy.SOCKS5("tcp", parsedURL.Host, auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("bot %s: failed to create SOCKS5 dialer: %v", cfg.Name, err)
		}
	case "http", "https":
		dialer, err = NewHTTPProxyDialer(parsedURL, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("bot %s: failed to create HTTP proxy dialer: %v", cfg.Name, err)
		}
	default:
		return nil, fmt.Errorf("bot %s: unsupported proxy scheme: %s", cfg.Name, parsedURL.Scheme)
	}

	LogInfo("Bot %s: caching new dialer for proxy %s", cfg.Name, cacheKey)
	proxyMutex.Lock()
	proxyCache[cacheKey] = dialer
	proxyMutex.Unlock()

	return dialer, nil
}

// ClearProxyCache drops every cached dialer, forcing the next
// GetProxyForBot call for each distinct proxy URL to rebuild it.
func ClearProxyCache() {
	proxyMutex.Lock()
	proxyCache = make(map[string]proxy.Dialer)
	proxyMutex.Unlock()
} 