package fetch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/ralt/appstore/internal/models"
)

// StatusError reports a response that was neither 2xx nor 304
type StatusError struct {
	Resource string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected response for %s: %d %s", e.Resource, e.Code, http.StatusText(e.Code))
}

// Classify wraps a transport or file error in the matching AppError
// category. Errors that already carry a category keep it and gain pkg when
// they had none.
func Classify(pkg string, err error) error {
	if err == nil {
		return nil
	}

	var appErr *models.AppError
	if errors.As(err, &appErr) {
		if appErr.Package == "" && pkg != "" {
			return models.NewError(appErr.Type, pkg, appErr.Err)
		}
		return err
	}

	return models.NewError(category(err), pkg, err)
}

func category(err error) models.ErrorType {
	switch {
	case isTLSError(err):
		return models.ErrTLS
	case errors.Is(err, context.Canceled):
		return models.ErrUnknown
	case isNetworkError(err):
		return models.ErrNetworkUnavailable
	case isFileError(err):
		return models.ErrIO
	default:
		return models.ErrUnknown
	}
}

func isTLSError(err error) bool {
	var (
		recordErr   tls.RecordHeaderError
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		invalidErr  x509.CertificateInvalidError
		alertErr    tls.AlertError
	)
	return errors.As(err, &recordErr) ||
		errors.As(err, &verifyErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidErr) ||
		errors.As(err, &alertErr)
}

func isNetworkError(err error) bool {
	var (
		dnsErr    *net.DNSError
		opErr     *net.OpError
		netErr    net.Error
		statusErr *StatusError
	)
	return errors.As(err, &dnsErr) ||
		errors.As(err, &opErr) ||
		errors.As(err, &netErr) ||
		errors.As(err, &statusErr) ||
		errors.Is(err, context.DeadlineExceeded)
}

func isFileError(err error) bool {
	var pathErr *os.PathError
	var linkErr *os.LinkError
	return errors.As(err, &pathErr) || errors.As(err, &linkErr)
}
