// Copyright 2023 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wire

import (
	"crypto/tls"
	"net"

	pgerrors "github.com/pgsqlite/pgsqlite/internal/errors"
)

// LoadTLSConfig reads the --ssl-cert/--ssl-key pair into a TLSConfig.
func LoadTLSConfig(certPath, keyPath string) (TLSConfig, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return TLSConfig{}, pgerrors.Wrap(pgerrors.KindInternal, err, "load TLS certificate")
	}
	return TLSConfig{Enabled: true, Cert: cert}, nil
}

// tlsServer wraps an accepted connection in a server-side TLS session
// after the 'S' byte answering an SSLRequest has been written, per the
// protocol's SSL negotiation sequence.
func tlsServer(conn net.Conn, cfg TLSConfig) net.Conn {
	return tls.Server(conn, &tls.Config{
		Certificates: []tls.Certificate{cfg.Cert},
		MinVersion:   tls.VersionTLS12,
	})
}
