// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package mqtt

import (
	"os"
	"strconv"
	"strings"
)

type connectionProviderBuilder struct {
	hostname string
	port     int
	useTLS   *bool
	caFile   string
	certFile string
	keyFile  string
	passFile string
}

// SessionClientConfigFromEnv parses a session client configuration from
// well-known environment variables. Note that this will only return an error
// if the environment variables parse incorrectly; it will not return an error
// if required parameters (e.g. for the connection provider) are missing, to
// allow optional parameters to be specified from environment independently.
func SessionClientConfigFromEnv() (
	ConnectionProvider,
	[]SessionClientOption,
	error,
) {
	var opts []SessionClientOption
	conn := connectionProviderBuilder{}

	for _, env := range os.Environ() {
		idx := strings.IndexByte(env, '=')
		key := env[:idx]
		val := env[idx+1:]
		switch key {
		case "WEIGH_BROKER_HOSTNAME":
			conn.hostname = val

		case "WEIGH_BROKER_TCP_PORT":
			port, err := strconv.ParseUint(val, 10, 16)
			if err != nil {
				return nil, nil, &InvalidArgumentError{
					message: "could not parse broker TCP port",
					wrapped: err,
				}
			}
			conn.port = int(port)

		case "WEIGH_MQTT_USE_TLS":
			useTLS, err := strconv.ParseBool(val)
			if err != nil {
				return nil, nil, &InvalidArgumentError{
					message: "could not parse MQTT use TLS",
					wrapped: err,
				}
			}
			conn.useTLS = &useTLS

		case "WEIGH_MQTT_CLEAN_START":
			cleanStart, err := strconv.ParseBool(val)
			if err != nil {
				return nil, nil, &InvalidArgumentError{
					message: "could not parse MQTT clean start",
					wrapped: err,
				}
			}
			opts = append(opts, WithCleanStart(cleanStart))

		case "WEIGH_MQTT_KEEP_ALIVE":
			keepAlive, err := strconv.ParseUint(val, 10, 16)
			if err != nil {
				return nil, nil, &InvalidArgumentError{
					message: "could not parse MQTT keep-alive",
					wrapped: err,
				}
			}
			opts = append(opts, WithKeepAlive(uint16(keepAlive)))

		case "WEIGH_MQTT_CLIENT_ID":
			opts = append(opts, WithClientID(val))

		case "WEIGH_MQTT_SESSION_EXPIRY":
			sessionExpiry, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return nil, nil, &InvalidArgumentError{
					message: "could not parse MQTT session expiry",
					wrapped: err,
				}
			}
			opts = append(opts, WithSessionExpiry(uint32(sessionExpiry)))

		case "WEIGH_MQTT_USERNAME":
			opts = append(opts, WithUsername(ConstantUsername(val)))

		case "WEIGH_MQTT_PASSWORD_FILE":
			opts = append(opts, WithPassword(FilePassword(val)))

		case "WEIGH_TLS_CA_FILE":
			conn.caFile = val

		case "WEIGH_TLS_CERT_FILE":
			conn.certFile = val

		case "WEIGH_TLS_KEY_FILE":
			conn.keyFile = val

		case "WEIGH_TLS_KEY_PASSWORD_FILE":
			conn.passFile = val
		}
	}

	connectionProvider, err := conn.build()
	if err != nil {
		return nil, nil, err
	}
	return connectionProvider, opts, nil
}

// NewSessionClientFromEnv is a shorthand for constructing a session client
// using SessionClientConfigFromEnv. Options passed in override those from the
// environment.
func NewSessionClientFromEnv(
	opt ...SessionClientOption,
) (*SessionClient, error) {
	connectionProvider, opts, err := SessionClientConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if connectionProvider == nil {
		return nil, &InvalidArgumentError{
			message: "connection must be configured",
		}
	}
	return NewSessionClient(connectionProvider, append(opts, opt...)...), nil
}

func (b *connectionProviderBuilder) build() (ConnectionProvider, error) {
	if b.hostname == "" {
		if b.port != 0 || b.useTLS != nil || b.hasTLS() {
			return nil, &InvalidArgumentError{
				message: "connection configuration provided without hostname",
			}
		}
		return nil, nil
	}

	if b.port == 0 {
		b.port = 8883
	}

	if b.useTLS != nil && !*b.useTLS {
		if b.hasTLS() {
			return nil, &InvalidArgumentError{
				message: "TLS configuration provided but not using TLS",
			}
		}
		return TCPConnection(b.hostname, b.port), nil
	}

	if (b.certFile != "") != (b.keyFile != "") {
		return nil, &InvalidArgumentError{
			message: "certificate file and key file must be provided together",
		}
	}

	var tlsOpts []TLSOption

	// Bypasses hostname check in TLS config when deliberately connecting to
	// localhost.
	if b.hostname == "localhost" {
		tlsOpts = append(tlsOpts, WithInsecureSkipVerify())
	}

	if b.certFile != "" {
		if b.passFile != "" {
			tlsOpts = append(tlsOpts, WithEncryptedX509(
				b.certFile,
				b.keyFile,
				b.passFile,
			))
		} else {
			tlsOpts = append(tlsOpts, WithX509(
				b.certFile,
				b.keyFile,
			))
		}
	}

	if b.caFile != "" {
		tlsOpts = append(tlsOpts, WithCA(b.caFile))
	}

	return TLSConnection(b.hostname, b.port, tlsOpts...), nil
}

func (b *connectionProviderBuilder) hasTLS() bool {
	return b.caFile != "" || b.certFile != "" ||
		b.keyFile != "" || b.passFile != ""
}
