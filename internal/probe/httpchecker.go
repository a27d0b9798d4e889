package probe

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hamed0406/watchdog/internal/domain"
	"github.com/hamed0406/watchdog/internal/metrics"
)

// maxDrain bounds how much of a response body is read before closing, so
// keep-alive connections can be reused without downloading large pages.
const maxDrain = 64 << 10

type HTTPChecker struct {
	Client *http.Client

	connectTimeout time.Duration
	readTimeout    time.Duration
}

// NewHTTPChecker builds the checker and its client once; the client is
// shared by every probe the worker runs.
func NewHTTPChecker(opts Options) *HTTPChecker {
	def := DefaultOptions()
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = def.ReadTimeout
	}
	if opts.MaxConnsPerHost <= 0 {
		opts.MaxConnsPerHost = def.MaxConnsPerHost
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = def.MaxIdleConns
	}

	dialer := &net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		MaxConnsPerHost:       opts.MaxConnsPerHost,
		MaxIdleConns:          opts.MaxIdleConns,
		MaxIdleConnsPerHost:   opts.MaxIdleConns,
		IdleConnTimeout:       90 * time.Second,
	}
	client := &http.Client{Transport: tr}
	if !opts.FollowRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return &HTTPChecker{
		Client:         client,
		connectTimeout: opts.ConnectTimeout,
		readTimeout:    opts.ReadTimeout,
	}
}

func (h *HTTPChecker) Check(ctx context.Context, spec domain.ProbeSpec) domain.ProbeOutcome {
	out := h.check(ctx, spec)
	metrics.ProbesTotal.WithLabelValues(string(out.Classification)).Inc()
	return out
}

func (h *HTTPChecker) check(ctx context.Context, spec domain.ProbeSpec) domain.ProbeOutcome {
	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if spec.Body != "" {
		body = strings.NewReader(spec.Body)
	}

	// hard ceiling on the whole exchange in case the server trickles bytes
	rctx, cancel := context.WithTimeout(ctx, h.connectTimeout+h.readTimeout)
	defer cancel()

	start := time.Now()
	// microsecond precision survives a round trip through every store
	out := domain.ProbeOutcome{StartedAt: start.UTC().Truncate(time.Microsecond)}

	req, err := http.NewRequestWithContext(rctx, method, spec.URL, body)
	if err != nil {
		out.Classification = domain.RequestError
		out.Error = message(domain.RequestError, err, h.readTimeout)
		return out
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.Client.Do(req)
	if err == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
		resp.Body.Close()
	}
	out.DurationMS = time.Since(start).Milliseconds()

	if err != nil {
		out.Classification = Classify(err)
		out.Error = message(out.Classification, err, h.readTimeout)
		return out
	}
	out.Classification = domain.Responded
	out.StatusCode = resp.StatusCode
	return out
}

// Close drops idle keep-alive connections on worker shutdown.
func (h *HTTPChecker) Close() {
	h.Client.CloseIdleConnections()
}
