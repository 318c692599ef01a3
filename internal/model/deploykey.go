package model

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// DeployKey is an RSA key pair plus a passphrase derived deterministically
// from the repository id and the process secret. It is handed to the
// Builder and never persisted outside the project record.
type DeployKey struct {
	PrivateKeyPEM string
	PublicKeyOpenSSH string
	Passphrase    string
}

// rsaKeyBits is the key size used for generated deploy keys. 2048 matches
// what GitHub and every common git host accepts for deploy keys.
const rsaKeyBits = 2048

// NewDeployKey generates an RSA key pair and derives its passphrase from
// repoID and secret the way Project.passphrase does in the original
// implementation (sha256("<repo id>:<secret>")).
func NewDeployKey(repoID string, secret string) (*DeployKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generating deploy key: %w", err)
	}

	privDER := x509.MarshalPKCS1PrivateKey(key)
	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: privDER,
	})

	sshPub, err := ssh.NewPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshaling deploy key public half: %w", err)
	}

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s", repoID, secret)))

	return &DeployKey{
		PrivateKeyPEM:    string(privPEM),
		PublicKeyOpenSSH: string(ssh.MarshalAuthorizedKey(sshPub)),
		Passphrase:       hex.EncodeToString(sum[:]),
	}, nil
}
