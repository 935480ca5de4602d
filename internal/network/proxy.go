// internal/network/proxy.go
package network

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/elazarl/goproxy"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/humshakals/internal/config"
)

// RequestHandler inspects or rewrites a request on its way upstream.
type RequestHandler func(*http.Request, *goproxy.ProxyCtx) (*http.Request, *http.Response)

// InterceptionProxy is the local proxy every device surface is routed through
// in "proxy" header mode. Its built-in hook removes the client hint headers;
// further hooks run after it.
type InterceptionProxy struct {
	proxy   *goproxy.ProxyHttpServer
	connect *goproxy.ConnectAction
	logger  *zap.Logger

	serverMu sync.Mutex
	server   *http.Server

	hooksMu      sync.RWMutex
	requestHooks []RequestHandler
}

// NewInterceptionProxy builds the proxy. TLS traffic is always intercepted so
// that HTTPS requests are normalized too: with a configured CA pair the leaf
// certificates are signed by it, otherwise goproxy's bundled CA is used (the
// browser is launched with certificate errors ignored in this mode).
func NewInterceptionProxy(cfg config.ProxyConfig, logger *zap.Logger) (*InterceptionProxy, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("interception_proxy")

	proxy := goproxy.NewProxyHttpServer()
	proxy.Tr = newUpstreamTransport()

	connect := goproxy.MitmConnect
	if cfg.CACert != "" && cfg.CAKey != "" {
		caCert, caKey, err := readCAPair(cfg.CACert, cfg.CAKey)
		if err != nil {
			return nil, err
		}
		if connect, err = mitmAction(caCert, caKey); err != nil {
			return nil, err
		}
		log.Info("Intercepting TLS with the configured CA.", zap.String("ca_cert", cfg.CACert))
	} else {
		log.Debug("No CA configured, intercepting TLS with the bundled goproxy CA.")
	}

	ip := &InterceptionProxy{
		proxy:   proxy,
		connect: connect,
		logger:  log,
	}
	ip.requestHooks = []RequestHandler{ip.stripClientHints}
	ip.setupHandlers()
	return ip, nil
}

func readCAPair(certPath, keyPath string) ([]byte, []byte, error) {
	certPath, err := homedir.Expand(certPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve CA certificate path: %w", err)
	}
	keyPath, err = homedir.Expand(keyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve CA key path: %w", err)
	}
	caCert, err := os.ReadFile(certPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	caKey, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CA key: %w", err)
	}
	return caCert, caKey, nil
}

func newUpstreamTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   15 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// AddRequestHook registers a request handler that runs after the header
// normalization.
func (ip *InterceptionProxy) AddRequestHook(handler RequestHandler) {
	ip.hooksMu.Lock()
	defer ip.hooksMu.Unlock()
	ip.requestHooks = append(ip.requestHooks, handler)
}

func (ip *InterceptionProxy) setupHandlers() {
	ip.proxy.OnRequest().HandleConnect(goproxy.FuncHttpsHandler(func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		return ip.connect, host
	}))
	ip.proxy.OnRequest().DoFunc(ip.handleRequest)
	ip.proxy.OnResponse().DoFunc(ip.handleResponse)
}

func (ip *InterceptionProxy) stripClientHints(r *http.Request, _ *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	if n := StripClientHints(r.Header); n > 0 {
		ip.logger.Debug("Stripped client hint headers.", zap.Int("count", n), zap.String("host", r.Host))
	}
	return r, nil
}

func (ip *InterceptionProxy) handleRequest(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	reqURL := getRequestURL(ctx)

	ip.hooksMu.RLock()
	hooks := ip.requestHooks
	ip.hooksMu.RUnlock()

	currentReq := r
	for _, hook := range hooks {
		newReq, resp := hook(currentReq, ctx)
		if resp != nil {
			ip.logger.Debug("Request short-circuited by a hook", zap.String("url", reqURL))
			return newReq, resp
		}
		if newReq == nil {
			ip.logger.Error("A request hook returned a nil request.", zap.String("url", reqURL))
			return currentReq, goproxy.NewResponse(r, goproxy.ContentTypeText, http.StatusInternalServerError, "Proxy Error: a request hook returned a nil request.")
		}
		currentReq = newReq
	}
	return currentReq, nil
}

func (ip *InterceptionProxy) handleResponse(r *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	if r != nil {
		return r
	}

	reason := "unknown error"
	if ctx.Error != nil {
		reason = ctx.Error.Error()
	}
	ip.logger.Warn("Upstream request failed.", zap.String("url", getRequestURL(ctx)), zap.String("error", reason))

	body := "Proxy error: upstream connection failed: " + reason
	if ctx.Req != nil {
		return goproxy.NewResponse(ctx.Req, goproxy.ContentTypeText, http.StatusBadGateway, body)
	}
	return &http.Response{
		StatusCode: http.StatusBadGateway,
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"Content-Type": []string{goproxy.ContentTypeText}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// Serve runs the proxy on ln and blocks until ctx is cancelled or the server
// fails. The listener is closed on return.
func (ip *InterceptionProxy) Serve(ctx context.Context, ln net.Listener) error {
	ip.serverMu.Lock()
	if ip.server != nil {
		ip.serverMu.Unlock()
		ln.Close()
		return errors.New("proxy server already started")
	}
	server := &http.Server{
		Handler:      ip.proxy,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorLog:     zap.NewStdLog(ip.logger.Named("http_server")),
	}
	ip.server = server
	ip.serverMu.Unlock()

	shutdownErr := make(chan error, 1)
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
			shutdownErr <- nil
			return
		}
		ip.logger.Info("Shutdown signal received, stopping interception proxy...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		shutdownErr <- server.Shutdown(shutdownCtx)
	}()

	ip.logger.Info("Starting interception proxy", zap.String("address", ln.Addr().String()))
	err := server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		err = <-shutdownErr
	} else {
		close(stop)
		<-shutdownErr
	}

	ip.serverMu.Lock()
	if ip.server == server {
		ip.server = nil
	}
	ip.serverMu.Unlock()

	if err != nil {
		ip.logger.Error("Proxy server stopped with an error", zap.Error(err))
		return fmt.Errorf("proxy server failed: %w", err)
	}
	ip.logger.Info("Interception proxy stopped gracefully.")
	return nil
}

// mitmAction builds the CONNECT action that signs intercepted leaf
// certificates with the given CA. It is scoped to one proxy instance, so
// goproxy's package defaults stay untouched.
func mitmAction(caCert, caKey []byte) (*goproxy.ConnectAction, error) {
	ca, err := tls.X509KeyPair(caCert, caKey)
	if err != nil {
		return nil, fmt.Errorf("invalid CA certificate/key pair: %w", err)
	}
	if ca.Leaf, err = x509.ParseCertificate(ca.Certificate[0]); err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}
	if !ca.Leaf.IsCA {
		return nil, errors.New("configured certificate is not a CA")
	}
	return &goproxy.ConnectAction{Action: goproxy.ConnectMitm, TLSConfig: goproxy.TLSConfigFromCA(&ca)}, nil
}

func getRequestURL(ctx *goproxy.ProxyCtx) string {
	if ctx != nil && ctx.Req != nil && ctx.Req.URL != nil {
		return ctx.Req.URL.String()
	}
	return "unknown"
}
