package temporalx

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	temporalsdkclient "go.temporal.io/sdk/client"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/yungbote/talkinghead-backend/internal/platform/logger"
)

// Dial connects to the configured frontend. Without an address Temporal is
// off and Dial returns a nil client.
func (c Config) Dial(ctx context.Context, log *logger.Logger) (temporalsdkclient.Client, error) {
	if c.Address == "" {
		log.Warn("TEMPORAL_ADDRESS not set; Temporal disabled")
		return nil, nil
	}
	opts, err := c.options(log, true)
	if err != nil {
		return nil, err
	}

	var tc temporalsdkclient.Client
	err = retry(ctx, c.DialMaxWait, c.DialBackoff, func(attempt int) (bool, error) {
		dialCtx, cancel := context.WithTimeout(ctx, c.DialTimeout)
		defer cancel()
		var err error
		if tc, err = temporalsdkclient.DialContext(dialCtx, opts); err != nil {
			log.Warn("Temporal not reachable", "address", c.Address, "namespace", c.Namespace, "attempt", attempt, "error", err)
			return true, err
		}
		if attempt > 1 {
			log.Info("Connected to Temporal", "address", c.Address, "namespace", c.Namespace, "attempts", attempt)
		}
		return false, nil
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal %s/%s: %w", c.Address, c.Namespace, err)
	}

	if c.AutoRegisterNamespace {
		if err := c.EnsureNamespace(ctx, log); err != nil {
			tc.Close()
			return nil, err
		}
	}
	return tc, nil
}

// EnsureNamespace registers the namespace when the frontend does not know it
// yet. Cloud namespaces are provisioned elsewhere; this is for local stacks.
func (c Config) EnsureNamespace(ctx context.Context, log *logger.Logger) error {
	namespace := strings.TrimSpace(c.Namespace)
	if c.Address == "" || namespace == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.EnsureTimeout)
	defer cancel()

	// no namespace header, so the client works before the namespace exists
	opts, err := c.options(log, false)
	if err != nil {
		return err
	}
	nc, err := temporalsdkclient.NewNamespaceClient(opts)
	if err != nil {
		return fmt.Errorf("temporal namespace client: %w", err)
	}
	defer nc.Close()

	return retry(ctx, c.EnsureTimeout, c.EnsureBackoff, func(attempt int) (bool, error) {
		_, err := nc.Describe(ctx, namespace)
		var missing *serviceerror.NamespaceNotFound
		if errors.As(err, &missing) {
			err = nc.Register(ctx, &workflowservice.RegisterNamespaceRequest{
				Namespace:                        namespace,
				Description:                      "talkinghead generation namespace",
				WorkflowExecutionRetentionPeriod: durationpb.New(time.Duration(c.RetentionDays) * 24 * time.Hour),
			})
			var exists *serviceerror.NamespaceAlreadyExists
			if errors.As(err, &exists) {
				err = nil
			} else if err == nil {
				log.Info("Registered Temporal namespace", "namespace", namespace, "retention_days", c.RetentionDays)
			}
		}
		switch {
		case err == nil:
			return false, nil
		case retryableRPC(err):
			log.Warn("Temporal namespace not ready", "namespace", namespace, "attempt", attempt, "error", err)
			return true, err
		default:
			return false, fmt.Errorf("ensure temporal namespace %s: %w", namespace, err)
		}
	})
}

func (c Config) options(log *logger.Logger, namespaced bool) (temporalsdkclient.Options, error) {
	opts := temporalsdkclient.Options{HostPort: c.Address, Logger: log}
	if namespaced {
		opts.Namespace = c.Namespace
	}
	if c.TLSEnabled() {
		tlsCfg, err := c.tlsConfig()
		if err != nil {
			return opts, err
		}
		opts.ConnectionOptions.TLS = tlsCfg
	}
	return opts, nil
}

func (c Config) tlsConfig() (*tls.Config, error) {
	if c.ClientCertPath == "" || c.ClientKeyPath == "" {
		return nil, fmt.Errorf("temporal mTLS needs both TEMPORAL_CLIENT_CERT_PATH and TEMPORAL_CLIENT_KEY_PATH")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCertPath, c.ClientKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load temporal client cert: %w", err)
	}
	out := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	if c.ClientCAPath == "" {
		return out, nil
	}
	pem, err := os.ReadFile(c.ClientCAPath)
	if err != nil {
		return nil, fmt.Errorf("read temporal CA: %w", err)
	}
	out.RootCAs = x509.NewCertPool()
	if !out.RootCAs.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("temporal CA %s holds no certificates", c.ClientCAPath)
	}
	return out, nil
}

// retry calls fn until it succeeds, returns a permanent error, or maxWait
// has passed. fn reports whether its error is worth another attempt.
func retry(ctx context.Context, maxWait time.Duration, b Backoff, fn func(attempt int) (bool, error)) error {
	deadline := time.Now().Add(maxWait)
	for attempt := 1; ; attempt++ {
		again, err := fn(attempt)
		if err == nil || !again || !time.Now().Before(deadline) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-time.After(b.Delay(attempt)):
		}
	}
}

func retryableRPC(err error) bool {
	s, ok := status.FromError(err)
	if !ok {
		return errors.Is(err, context.DeadlineExceeded)
	}
	switch s.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}
