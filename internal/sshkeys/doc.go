// Package sshkeys generates, parses and validates SSH key material.
//
// # Generation
//
// A [Generator] produces key pairs through one of two backends:
//
//   - ssh-keygen (preferred): RSA 2048-4096, Ed25519, ECDSA P-256/384/521
//     and DSA 1024, when the binary is found on the host.
//   - native (fallback): RSA 2048/3072/4096 and Ed25519 implemented with the
//     Go standard library and golang.org/x/crypto/ssh.
//
// [Generator.IsBackendAvailable] looks up ssh-keygen once and caches the
// answer for the life of the Generator. Parameters outside the selected
// backend's matrix fail with *InvalidParameterError before anything runs;
// backend failures are reported as *GenerationError.
//
// Every generated pair is re-read through [ValidatePrivateKey] and
// [ParsePublicKey] before it is returned, so callers never receive a blob the
// parser would reject.
//
// # Parsing
//
// [ValidatePrivateKey] distinguishes usable keys, well-formed keys that need a
// passphrase, and malformed input. It accepts PEM PKCS#1, PKCS#8 (plain and
// encrypted), SEC1, legacy DSA and legacy encrypted PEM, and the OpenSSH
// container format. [ParsePublicKey] accepts authorized_keys lines and PEM
// PKIX public keys.
//
// # Fingerprints
//
// [Fingerprint] is the OpenSSH SHA256 fingerprint: unpadded base64 of the
// SHA-256 digest of the wire-encoded public key. The comment is not part of
// the encoding, so re-commenting a key keeps its fingerprint.
//
// # Usage
//
//	gen := sshkeys.NewGenerator(sshkeys.GeneratorConfig{Logger: log})
//	kp, err := gen.Generate(ctx, sshkeys.GenerateRequest{
//	    KeyType:    sshkeys.KeyTypeEd25519,
//	    Comment:    "deploy@ci",
//	    Passphrase: "hunter2",
//	})
//	if err != nil { ... }
//
//	res := sshkeys.ValidatePrivateKey(kp.PrivateKey)
//	// res.Status == sshkeys.StatusPassphraseRequired
package sshkeys
