// Copyright (c) Prism Proxy
// SPDX-License-Identifier: Apache-2.0
package egress

import (
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxyHTTP(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("backend response")); err != nil {
			t.Logf("Failed to write response: %v", err)
		}
	}))
	defer backend.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	proxy := NewProxy(logger, ":0", nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	proxy.server.Addr = ln.Addr().String()

	go func() {
		if err := proxy.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.Logf("Proxy server error: %v", err)
		}
	}()
	defer func() {
		if err := proxy.Stop(); err != nil {
			t.Logf("Failed to stop proxy: %v", err)
		}
	}()

	time.Sleep(100 * time.Millisecond)

	proxyURL := fmt.Sprintf("http://%s", ln.Addr().String())

	os.Setenv("HTTP_PROXY", proxyURL)
	defer os.Unsetenv("HTTP_PROXY")

	client := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
		},
	}

	resp, err := client.Get(backend.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "backend response", string(body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProxyConnect(t *testing.T) {
	backend := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("secure backend response")); err != nil {
			t.Logf("Failed to write response: %v", err)
		}
	}))
	defer backend.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	proxy := NewProxy(logger, ":0", nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	proxy.server.Addr = ln.Addr().String()

	go func() {
		if err := proxy.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.Logf("Proxy server error: %v", err)
		}
	}()
	defer func() {
		if err := proxy.Stop(); err != nil {
			t.Logf("Failed to stop proxy: %v", err)
		}
	}()

	time.Sleep(100 * time.Millisecond)

	proxyURL := fmt.Sprintf("http://%s", ln.Addr().String())

	os.Setenv("HTTPS_PROXY", proxyURL)
	defer os.Unsetenv("HTTPS_PROXY")

	client := &http.Client{
		Transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}

	resp, err := client.Get(backend.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "secure backend response", string(body))
}

func TestProxyOutboundTLSConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tlsConf := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: "origin.example.com",
		NextProtos: []string{"http/1.1"},
	}

	proxy := NewProxy(logger, ":0", tlsConf)
	require.NotNil(t, proxy.transport.TLSClientConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), proxy.transport.TLSClientConfig.MinVersion)
	assert.Equal(t, "origin.example.com", proxy.transport.TLSClientConfig.ServerName)
}
