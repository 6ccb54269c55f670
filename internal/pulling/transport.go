package pulling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Transport is the external collaborator contract spec.md §6 assigns to
// the HTTP client: an async byte-array GET. This library owns none of its
// implementation details beyond this interface — the concrete
// *http.Client-backed implementation below exists to make the engine
// runnable, not as the spec's subject matter.
type Transport interface {
	// Get performs one GET and returns the body plus status on completion.
	// A non-nil error is always one of *TransportError, *TimeoutError, or
	// *HttpStatusError.
	Get(ctx context.Context, req FeedRequest, timeout time.Duration) (body []byte, status int, err error)
	// Shutdown closes the transport. Idempotent.
	Shutdown()
}

// httpTransport is a Transport backed by the standard library's HTTP
// client, one instance per priority class per spec.md §4.3.
type httpTransport struct {
	client *http.Client
}

// NewHTTPTransport builds a Transport with its own connection pool, sized
// via maxConnsPerHost so that priority classes do not share sockets.
func NewHTTPTransport(maxConnsPerHost int) Transport {
	rt := http.DefaultTransport.(*http.Transport).Clone()
	rt.MaxConnsPerHost = maxConnsPerHost
	rt.MaxIdleConnsPerHost = maxConnsPerHost
	return &httpTransport{client: &http.Client{Transport: rt}}
}

func (t *httpTransport) Get(ctx context.Context, req FeedRequest, timeout time.Duration) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL(), nil)
	if err != nil {
		return nil, 0, &TransportError{Category: CategoryTransport, Cause: err}
	}
	httpReq.Header = req.HTTPHeader()

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, 0, &TimeoutError{Cause: err}
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, 0, &TimeoutError{Cause: err}
		}
		return nil, 0, &TransportError{Category: CategoryTransport, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &TransportError{Category: CategoryTransport, Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, resp.StatusCode, &HttpStatusError{Code: resp.StatusCode}
	}
	return body, resp.StatusCode, nil
}

func (t *httpTransport) Shutdown() {
	t.client.CloseIdleConnections()
}

// TransportFactory builds one Transport per priority class.
type TransportFactory func(priority Priority) Transport

// DefaultTransportFactory returns a factory producing *httpTransport
// instances, one per class, each with its own connection pool.
func DefaultTransportFactory(maxConnsPerHost int) TransportFactory {
	return func(_ Priority) Transport {
		return NewHTTPTransport(maxConnsPerHost)
	}
}

var errShutdownFmt = "transport shut down: %w"

func shutdownErr() error {
	return fmt.Errorf(errShutdownFmt, ErrShutdown)
}
