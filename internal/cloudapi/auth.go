/*
Copyright 2025 Pextra Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cloudapi

import (
	"crypto/rand"
	"encoding/asn1"
	"encoding/base64"
	"fmt"
	"io"
	"math/big"
	"net"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// Authorizer produces the Authorization header value for a request sent
// with the given Date header.
type Authorizer interface {
	Authorization(date string) (string, error)
}

// KeySigner signs requests with an SSH key using the HTTP Signature scheme
// over the Date header.
type KeySigner struct {
	keyID     string
	algorithm string
	signer    ssh.Signer
}

// NewKeySigner returns a KeySigner for account. RSA, ECDSA and Ed25519 keys
// can sign requests.
func NewKeySigner(account string, signer ssh.Signer) (*KeySigner, error) {
	pub := signer.PublicKey()
	alg, err := signatureAlgorithm(pub.Type())
	if err != nil {
		return nil, err
	}
	return &KeySigner{
		keyID:     fmt.Sprintf("/%s/keys/%s", account, ssh.FingerprintLegacyMD5(pub)),
		algorithm: alg,
		signer:    signer,
	}, nil
}

func signatureAlgorithm(keyType string) (string, error) {
	switch keyType {
	case ssh.KeyAlgoRSA:
		return "rsa-sha256", nil
	case ssh.KeyAlgoECDSA256:
		return "ecdsa-sha256", nil
	case ssh.KeyAlgoECDSA384:
		return "ecdsa-sha384", nil
	case ssh.KeyAlgoECDSA521:
		return "ecdsa-sha512", nil
	case ssh.KeyAlgoED25519:
		return "ed25519", nil
	}
	return "", errors.Errorf("unsupported key type %s for request signing", keyType)
}

// KeyID is the keyId parameter sent with each signature.
func (k *KeySigner) KeyID() string { return k.keyID }

func (k *KeySigner) Authorization(date string) (string, error) {
	sig, err := k.sign([]byte("date: " + date))
	if err != nil {
		return "", errors.Wrap(err, "signing request")
	}
	return fmt.Sprintf(`Signature keyId="%s",algorithm="%s",headers="date",signature="%s"`,
		k.keyID, k.algorithm, base64.StdEncoding.EncodeToString(sig)), nil
}

func (k *KeySigner) sign(data []byte) ([]byte, error) {
	if k.signer.PublicKey().Type() == ssh.KeyAlgoRSA {
		as, ok := k.signer.(ssh.AlgorithmSigner)
		if !ok {
			return nil, errors.New("RSA signer does not support SHA-256 signatures")
		}
		sig, err := as.SignWithAlgorithm(rand.Reader, data, ssh.KeyAlgoRSASHA256)
		if err != nil {
			return nil, err
		}
		return sig.Blob, nil
	}

	sig, err := k.signer.Sign(rand.Reader, data)
	if err != nil {
		return nil, err
	}
	if k.algorithm == "ed25519" {
		return sig.Blob, nil
	}
	// SSH encodes ECDSA signatures as two mpints, HTTP Signature wants DER
	var rs struct {
		R *big.Int
		S *big.Int
	}
	if err := ssh.Unmarshal(sig.Blob, &rs); err != nil {
		return nil, errors.Wrap(err, "decoding ECDSA signature")
	}
	return asn1.Marshal(rs)
}

// FingerprintMatches reports whether keyID names pub. keyID may be an MD5
// fingerprint, with or without the "MD5:" prefix, or a "SHA256:" one.
func FingerprintMatches(pub ssh.PublicKey, keyID string) bool {
	if strings.HasPrefix(keyID, "SHA256:") {
		return ssh.FingerprintSHA256(pub) == keyID
	}
	keyID = strings.TrimPrefix(keyID, "MD5:")
	return strings.EqualFold(ssh.FingerprintLegacyMD5(pub), keyID)
}

// LoadSigner returns the signer for keyID. With a keyPath the key is read
// from that file, otherwise it is looked up in the running ssh-agent. The
// returned closer, when non-nil, releases the agent connection.
func LoadSigner(keyID, keyPath string) (ssh.Signer, io.Closer, error) {
	if keyPath != "" {
		signer, err := signerFromFile(keyPath)
		if err != nil {
			return nil, nil, err
		}
		if keyID != "" && !FingerprintMatches(signer.PublicKey(), keyID) {
			return nil, nil, errors.Errorf("key %s does not match key id %s", keyPath, keyID)
		}
		return signer, nil, nil
	}

	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, nil, errors.New("no key path given and SSH_AUTH_SOCK is not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, nil, errors.Wrap(err, "connecting to ssh-agent")
	}
	signers, err := agent.NewClient(conn).Signers()
	if err != nil {
		conn.Close()
		return nil, nil, errors.Wrap(err, "listing ssh-agent keys")
	}
	for _, s := range signers {
		if keyID == "" || FingerprintMatches(s.PublicKey(), keyID) {
			logrus.WithField("fingerprint", ssh.FingerprintLegacyMD5(s.PublicKey())).Debug("using ssh-agent key")
			return s, conn, nil
		}
	}
	conn.Close()
	return nil, nil, errors.Errorf("key %s not found in ssh-agent", keyID)
}

func signerFromFile(path string) (ssh.Signer, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading private key")
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, errors.Errorf("private key %s is encrypted, load it into ssh-agent instead", path)
		}
		return nil, errors.Wrapf(err, "parsing private key %s", path)
	}
	return signer, nil
}
