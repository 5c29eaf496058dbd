// Package secrets resolves the referral service's sensitive settings through
// Doppler
package secrets

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Secrets read by the referral service
const (
	JWTSecret    = "JWT_SECRET"    // signs rider access tokens
	ServiceToken = "SERVICE_TOKEN" // guards booking and payout callbacks
)

// Keys lists every secret the service resolves at startup
var Keys = []string{JWTSecret, ServiceToken}

const lookupTimeout = 5 * time.Second

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// DopplerClient looks referral secrets up in a Doppler project
type DopplerClient struct {
	project  string
	config   string
	log      *zap.Logger
	run      commandRunner
	lookPath func(file string) (string, error)
	getenv   func(key string) string
}

// NewDopplerClient creates a new Doppler client
func NewDopplerClient(project, config string, log *zap.Logger) *DopplerClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &DopplerClient{
		project:  project,
		config:   config,
		log:      log.Named("secrets"),
		run:      runCommand,
		lookPath: exec.LookPath,
		getenv:   os.Getenv,
	}
}

// Available reports whether the doppler CLI is installed
func (d *DopplerClient) Available() bool {
	_, err := d.lookPath("doppler")
	return err == nil
}

// Resolve returns the values of keys. Values already in the environment (set
// by `doppler run` or the deployment) win; the CLI is only asked for the
// rest. Keys found nowhere are left out of the result. Values are never
// logged.
func (d *DopplerClient) Resolve(ctx context.Context, keys ...string) map[string]string {
	values := make(map[string]string, len(keys))
	cli := d.Available()

	for _, key := range keys {
		if value := d.getenv(key); value != "" {
			values[key] = value
			d.log.Debug("secret resolved", zap.String("key", key), zap.String("source", "env"))
			continue
		}
		if !cli {
			continue
		}

		value, err := d.fetch(ctx, key)
		if err != nil {
			d.log.Warn("doppler lookup failed",
				zap.String("key", key),
				zap.String("project", d.project),
				zap.String("config", d.config),
				zap.Error(err))
			continue
		}
		if value == "" {
			continue
		}
		values[key] = value
		d.log.Debug("secret resolved", zap.String("key", key), zap.String("source", "doppler"))
	}

	if !cli {
		d.log.Debug("doppler CLI not installed, using environment only")
	}
	return values
}

func (d *DopplerClient) fetch(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	output, err := d.run(ctx, "doppler", "secrets", "get", key,
		"--project", d.project,
		"--config", d.config,
		"--plain")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}
