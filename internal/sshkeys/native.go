package sshkeys

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// nativeBackend generates RSA and Ed25519 keys in process and writes them in
// the OpenSSH container format.
type nativeBackend struct{}

func (nativeBackend) name() Backend { return BackendNative }

func (nativeBackend) rules() map[KeyType]sizeRule {
	return map[KeyType]sizeRule{
		KeyTypeRSA:     {def: 2048, allowed: []int{2048, 3072, 4096}},
		KeyTypeEd25519: {def: 256, allowed: []int{256}},
	}
}

func (nativeBackend) generate(ctx context.Context, spec keySpec) ([]byte, []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var (
		priv crypto.PrivateKey
		pub  crypto.PublicKey
	)
	switch spec.keyType {
	case KeyTypeRSA:
		k, err := rsa.GenerateKey(rand.Reader, spec.bits)
		if err != nil {
			return nil, nil, fmt.Errorf("generate rsa key: %w", err)
		}
		priv, pub = k, &k.PublicKey
	case KeyTypeEd25519:
		p, k, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, fmt.Errorf("generate ed25519 key: %w", err)
		}
		priv, pub = k, p
	default:
		return nil, nil, fmt.Errorf("unsupported key type %q", spec.keyType)
	}

	var (
		block *pem.Block
		err   error
	)
	if spec.passphrase != "" {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, spec.comment, []byte(spec.passphrase))
	} else {
		block, err = ssh.MarshalPrivateKey(priv, spec.comment)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("marshal private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, nil, fmt.Errorf("create ssh public key: %w", err)
	}
	line := bytes.TrimRight(ssh.MarshalAuthorizedKey(sshPub), "\n")
	if spec.comment != "" {
		line = append(line, ' ')
		line = append(line, spec.comment...)
	}

	return pem.EncodeToMemory(block), line, nil
}
