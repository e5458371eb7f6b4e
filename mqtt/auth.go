// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"context"
	"crypto/tls"
	"os"
)

type (
	// UsernameProvider is a function that returns an MQTT username. Note that
	// the provider will be called on every connection attempt.
	UsernameProvider func(context.Context) (string, error)

	// PasswordProvider is a function that returns an MQTT password. Note that
	// the provider will be called on every connection attempt.
	PasswordProvider func(context.Context) ([]byte, error)
)

// ConstantUsername is a UsernameProvider that returns an unchanging username.
func ConstantUsername(username string) UsernameProvider {
	return func(context.Context) (string, error) {
		return username, nil
	}
}

// ConstantPassword is a PasswordProvider that returns an unchanging password.
func ConstantPassword(password []byte) PasswordProvider {
	return func(context.Context) ([]byte, error) {
		return password, nil
	}
}

// FilePassword is a PasswordProvider that reads the password from the given
// file on each connection attempt, picking up rotated credentials without a
// restart.
func FilePassword(filename string) PasswordProvider {
	return func(context.Context) ([]byte, error) {
		return os.ReadFile(filename)
	}
}

// WithCA is a TLSOption that installs the given PEM CA certificate file as
// the root pool for server verification.
func WithCA(caFile string) TLSOption {
	return func(_ context.Context, config *tls.Config) error {
		pool, err := loadCACertPool(caFile)
		if err != nil {
			return err
		}
		config.RootCAs = pool
		return nil
	}
}

// WithX509 is a TLSOption that loads the given PEM certificate and key files
// as the client certificate.
func WithX509(certFile, keyFile string) TLSOption {
	return func(_ context.Context, config *tls.Config) error {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return err
		}
		config.Certificates = []tls.Certificate{cert}
		return nil
	}
}

// WithEncryptedX509 is a TLSOption that loads a client certificate whose key
// file is encrypted with the password in passFile.
func WithEncryptedX509(certFile, keyFile, passFile string) TLSOption {
	return func(_ context.Context, config *tls.Config) error {
		cert, err := loadX509KeyPairWithPassword(certFile, keyFile, passFile)
		if err != nil {
			return err
		}
		config.Certificates = []tls.Certificate{cert}
		return nil
	}
}

// WithInsecureSkipVerify is a TLSOption that disables server certificate
// verification. Intended for local development brokers only.
func WithInsecureSkipVerify() TLSOption {
	return func(_ context.Context, config *tls.Config) error {
		config.InsecureSkipVerify = true // #nosec G402
		return nil
	}
}
