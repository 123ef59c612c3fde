package util

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// SetProxy configures the provided HTTP client to route through proxyURL.
// It supports SOCKS5, HTTP, and HTTPS proxies. An empty or unparsable URL leaves the client as is.
// An existing *http.Transport is cloned so its timeouts carry over to the proxied transport.
func SetProxy(proxyURL string, httpClient *http.Client) *http.Client {
	if strings.TrimSpace(proxyURL) == "" {
		return httpClient
	}
	var transport *http.Transport
	parsed, errParse := url.Parse(proxyURL)
	if errParse == nil {
		if parsed.Scheme == "socks5" {
			var proxyAuth *proxy.Auth
			if parsed.User != nil {
				username := parsed.User.Username()
				password, _ := parsed.User.Password()
				proxyAuth = &proxy.Auth{User: username, Password: password}
			}
			dialer, errSOCKS5 := proxy.SOCKS5("tcp", parsed.Host, proxyAuth, proxy.Direct)
			if errSOCKS5 != nil {
				log.Errorf("create SOCKS5 dialer failed: %v", errSOCKS5)
				return httpClient
			}
			transport = baseTransport(httpClient)
			transport.Proxy = nil
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		} else if parsed.Scheme == "http" || parsed.Scheme == "https" {
			transport = baseTransport(httpClient)
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		log.Warnf("ignoring invalid proxy url: %v", errParse)
	}
	if transport != nil {
		httpClient.Transport = transport
	}
	return httpClient
}

func baseTransport(httpClient *http.Client) *http.Transport {
	if t, ok := httpClient.Transport.(*http.Transport); ok && t != nil {
		return t.Clone()
	}
	return &http.Transport{}
}
