package sshkeys

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Replaced in tests.
var lookPath = exec.LookPath

// runKeygen invokes the ssh-keygen binary for spec and returns the contents
// of the private and public key files it wrote. Failures are returned as
// *GenerationError carrying the tool's stderr.
var runKeygen = execKeygen

type keygenBackend struct {
	path    string
	timeout time.Duration
}

func (b *keygenBackend) name() Backend { return BackendKeygen }

func (b *keygenBackend) rules() map[KeyType]sizeRule {
	return map[KeyType]sizeRule{
		KeyTypeRSA:     {def: 2048, min: 2048, max: 4096},
		KeyTypeEd25519: {def: 256, allowed: []int{256}},
		KeyTypeECDSA:   {def: 256, allowed: []int{256, 384, 521}},
		KeyTypeDSA:     {def: 1024, allowed: []int{1024}},
	}
}

func (b *keygenBackend) generate(ctx context.Context, spec keySpec) ([]byte, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return runKeygen(ctx, b.path, spec)
}

// keygenArgs builds the ssh-keygen command line writing to out and out.pub.
// DSA keys are written as PEM because the OpenSSH container cannot carry them.
func keygenArgs(spec keySpec, out string) []string {
	args := []string{"-q", "-t", string(spec.keyType)}
	if spec.keyType != KeyTypeEd25519 {
		args = append(args, "-b", strconv.Itoa(spec.bits))
	}
	if spec.keyType == KeyTypeDSA {
		args = append(args, "-m", "PEM")
	}
	return append(args, "-N", spec.passphrase, "-C", spec.comment, "-f", out)
}

func execKeygen(ctx context.Context, binary string, spec keySpec) ([]byte, []byte, error) {
	dir, err := os.MkdirTemp("", "keyvault-keygen-")
	if err != nil {
		return nil, nil, &GenerationError{Backend: BackendKeygen, Err: fmt.Errorf("create temp dir: %w", err)}
	}
	defer os.RemoveAll(dir)
	if err := os.Chmod(dir, 0700); err != nil {
		return nil, nil, &GenerationError{Backend: BackendKeygen, Err: fmt.Errorf("chmod temp dir: %w", err)}
	}

	out := filepath.Join(dir, "id")
	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, keygenArgs(spec, out)...)
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return nil, nil, &GenerationError{
			Backend: BackendKeygen,
			Err:     fmt.Errorf("run %s: %w", filepath.Base(binary), err),
			Stderr:  strings.TrimSpace(output.String()),
		}
	}

	priv, err := os.ReadFile(out)
	if err != nil {
		return nil, nil, &GenerationError{Backend: BackendKeygen, Err: fmt.Errorf("read private key: %w", err)}
	}
	pub, err := os.ReadFile(out + ".pub")
	if err != nil {
		return nil, nil, &GenerationError{Backend: BackendKeygen, Err: fmt.Errorf("read public key: %w", err)}
	}
	if len(priv) == 0 || len(pub) == 0 {
		return nil, nil, &GenerationError{Backend: BackendKeygen, Err: errors.New("ssh-keygen wrote an empty key file")}
	}
	return priv, pub, nil
}
