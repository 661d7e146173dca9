// Copyright (c) Prism Proxy
// SPDX-License-Identifier: Apache-2.0

package egress

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/http2"
)

const (
	dialTimeout     = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Proxy is a forward proxy for egress traffic. Outgoing TLS connections
// use the compiled peer context supplied at construction time.
type Proxy struct {
	logger    *slog.Logger
	server    *http.Server
	addr      string
	transport *http.Transport
}

// NewProxy creates an egress proxy whose outbound transport is built from
// the given TLS client configuration. A nil configuration leaves outgoing
// TLS at library defaults.
func NewProxy(logger *slog.Logger, addr string, tlsConf *tls.Config) *Proxy {
	transport := &http.Transport{
		TLSClientConfig:   tlsConf,
		ForceAttemptHTTP2: true,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		logger.Warn("Failed to configure HTTP/2 transport", "error", err)
	}

	p := &Proxy{
		logger:    logger,
		addr:      addr,
		transport: transport,
	}
	p.server = &http.Server{
		Addr:    addr,
		Handler: http.HandlerFunc(p.handle),
	}

	return p
}

// Start starts the proxy server.
func (p *Proxy) Start() error {
	p.logger.Info("Starting egress proxy", "addr", p.addr)
	if err := p.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Stop gracefully shuts down the proxy server.
func (p *Proxy) Stop() error {
	p.logger.Info("Stopping egress proxy")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return p.server.Shutdown(ctx)
}

func (p *Proxy) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodConnect:
		p.handleConnect(w, r)
	case r.ProtoMajor == 2:
		p.handleHTTP2(w, r)
	default:
		p.handleHTTP(w, r)
	}
}

func (p *Proxy) handleConnect(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	p.logger.Debug("CONNECT request", "host", host)

	destConn, err := net.DialTimeout("tcp", host, dialTimeout)
	if err != nil {
		p.logger.Error("Failed to dial destination", "host", host, "error", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer destConn.Close()

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		p.logger.Error("Hijacking not supported")
		http.Error(w, "Hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		p.logger.Error("Failed to hijack connection", "error", err)
		return
	}
	defer clientConn.Close()

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		p.logger.Error("Failed to send CONNECT response", "error", err)
		return
	}

	p.pipe(clientConn, destConn)
}

func (p *Proxy) handleHTTP(w http.ResponseWriter, r *http.Request) {
	p.logger.Debug("HTTP request", "method", r.Method, "url", r.URL.String())

	r.RequestURI = "" // must be empty for Client.Do

	delHopHeaders(r.Header)

	client := &http.Client{
		Transport: p.transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(r)
	if err != nil {
		p.logger.Error("Failed to execute request", "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.logger.Debug("Response copy interrupted", "error", err)
	}
}

func (p *Proxy) handleHTTP2(w http.ResponseWriter, r *http.Request) {
	p.logger.Debug("HTTP/2 request", "method", r.Method, "host", r.Host, "path", r.URL.Path)

	targetURL := &url.URL{
		Scheme: "http",
		Host:   r.Host,
	}
	if r.URL.IsAbs() {
		targetURL = r.URL
	}

	proxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = targetURL.Scheme
			req.URL.Host = targetURL.Host
			req.Host = targetURL.Host

			if !r.URL.IsAbs() {
				req.URL.Path = r.URL.Path
				req.URL.RawQuery = r.URL.RawQuery
			}

			delHopHeaders(req.Header)
		},
		Transport: p.transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			p.logger.Error("HTTP/2 proxy error", "error", err, "host", r.Host)
			http.Error(w, err.Error(), http.StatusBadGateway)
		},
	}

	proxy.ServeHTTP(w, r)
}

func (p *Proxy) pipe(src, dst net.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		n, err := io.Copy(dst, src)
		p.logger.Debug("Pipe src->dst completed", "bytes", n, "error", err)
		if c, ok := dst.(*net.TCPConn); ok {
			c.CloseWrite()
		}
	}()

	go func() {
		defer wg.Done()
		n, err := io.Copy(src, dst)
		p.logger.Debug("Pipe dst->src completed", "bytes", n, "error", err)
		if c, ok := src.(*net.TCPConn); ok {
			c.CloseWrite()
		}
	}()

	wg.Wait()
}

// Hop-by-hop headers, removed when forwarding.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func delHopHeaders(header http.Header) {
	for _, h := range hopHeaders {
		header.Del(h)
	}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
