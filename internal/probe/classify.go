package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/hamed0406/watchdog/internal/domain"
)

// Classify sorts a transport error into timeout, connection or request error.
// Timeouts win over everything else, including DNS timeouts.
func Classify(err error) domain.Classification {
	if err == nil {
		return domain.Responded
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return domain.Timeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.Timeout
	}
	if isConnectFailure(err) {
		return domain.ConnectionError
	}
	return domain.RequestError
}

func isConnectFailure(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	// TLS failures happen while establishing the connection.
	var recErr tls.RecordHeaderError
	var certErr *tls.CertificateVerificationError
	var authErr x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var invalidErr x509.CertificateInvalidError
	return errors.As(err, &recErr) ||
		errors.As(err, &certErr) ||
		errors.As(err, &authErr) ||
		errors.As(err, &hostErr) ||
		errors.As(err, &invalidErr)
}

// dnsClass labels a resolver failure: "NXDOMAIN" | "SERVFAIL_or_TIMEOUT" | "".
func dnsClass(err error) string {
	var de *net.DNSError
	if !errors.As(err, &de) {
		return ""
	}
	if de.IsNotFound {
		return "NXDOMAIN"
	}
	if de.IsTemporary || de.Timeout() {
		return "SERVFAIL_or_TIMEOUT"
	}
	return ""
}

// message renders the stored error text for a failed probe.
func message(c domain.Classification, err error, readTimeout time.Duration) string {
	switch c {
	case domain.Timeout:
		return fmt.Sprintf("Timeout: the site did not respond within %d seconds", int(readTimeout.Seconds()))
	case domain.ConnectionError:
		if class := dnsClass(err); class != "" {
			return fmt.Sprintf("Connection error: %v [dns=%s]", err, class)
		}
		return fmt.Sprintf("Connection error: %v", err)
	}
	return fmt.Sprintf("Request error: %v", err)
}
