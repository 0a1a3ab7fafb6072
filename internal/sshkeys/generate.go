package sshkeys

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gluk-w/claworc/keyvault/internal/logging"
)

// KeyType names a key algorithm family.
type KeyType string

const (
	KeyTypeRSA     KeyType = "rsa"
	KeyTypeEd25519 KeyType = "ed25519"
	KeyTypeECDSA   KeyType = "ecdsa"
	KeyTypeDSA     KeyType = "dsa"
)

// ParseKeyType normalizes a user-supplied algorithm name. Matching is
// case-insensitive and accepts the ssh-rsa, ssh-ed25519 and ssh-dss wire
// names. The empty string selects RSA.
func ParseKeyType(s string) (KeyType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rsa", "ssh-rsa":
		return KeyTypeRSA, true
	case "ed25519", "ssh-ed25519":
		return KeyTypeEd25519, true
	case "ecdsa":
		return KeyTypeECDSA, true
	case "dsa", "ssh-dss":
		return KeyTypeDSA, true
	default:
		return "", false
	}
}

// Backend identifies the generator implementation that produced a key pair.
type Backend string

const (
	BackendKeygen Backend = "ssh-keygen"
	BackendNative Backend = "native"
)

// GenerateRequest describes a key pair to generate. KeySize 0 selects the
// default for KeyType. An empty Passphrase leaves the private key unencrypted.
type GenerateRequest struct {
	KeyType    KeyType
	KeySize    int
	Comment    string
	Passphrase string
}

// KeyPair is a freshly generated key pair. PrivateKey is a PEM or OpenSSH
// container blob; PublicKey is a single authorized_keys line without a
// trailing newline.
type KeyPair struct {
	PrivateKey    []byte
	PublicKey     []byte
	Fingerprint   string
	KeyType       KeyType
	KeySize       int
	HasPassphrase bool
	Comment       string
	Backend       Backend
}

// sizeRule is the set of bit lengths a backend accepts for one key type:
// either an inclusive range or an explicit list.
type sizeRule struct {
	def      int
	min, max int
	allowed  []int
}

func (r sizeRule) resolve(size int) (int, bool) {
	if size == 0 {
		return r.def, true
	}
	if len(r.allowed) > 0 {
		for _, a := range r.allowed {
			if a == size {
				return size, true
			}
		}
		return 0, false
	}
	return size, size >= r.min && size <= r.max
}

func (r sizeRule) String() string {
	if len(r.allowed) == 0 {
		return fmt.Sprintf("key size must be between %d and %d", r.min, r.max)
	}
	parts := make([]string, len(r.allowed))
	for i, a := range r.allowed {
		parts[i] = strconv.Itoa(a)
	}
	return "key size must be one of " + strings.Join(parts, ", ")
}

type backend interface {
	name() Backend
	rules() map[KeyType]sizeRule
	generate(ctx context.Context, spec keySpec) (private, public []byte, err error)
}

// keySpec is a request after validation against a backend's rules.
type keySpec struct {
	keyType    KeyType
	bits       int
	comment    string
	passphrase string
}

// GeneratorConfig configures a Generator. Zero values select ssh-keygen from
// PATH, a one minute subprocess timeout and a no-op logger.
type GeneratorConfig struct {
	KeygenPath    string
	KeygenTimeout time.Duration
	// DisableKeygen forces the native backend.
	DisableKeygen bool
	Logger        *zap.Logger
}

// Generator produces key pairs with ssh-keygen when it is installed and
// with the native backend otherwise. It is safe for concurrent use.
type Generator struct {
	log    *zap.Logger
	keygen *keygenBackend
	native nativeBackend
	noExec bool

	lookupOnce sync.Once
	// keygenFound is the cached lookup result. It is written once under
	// lookupOnce and never refreshed.
	keygenFound bool
}

func NewGenerator(cfg GeneratorConfig) *Generator {
	if cfg.KeygenPath == "" {
		cfg.KeygenPath = "ssh-keygen"
	}
	if cfg.KeygenTimeout <= 0 {
		cfg.KeygenTimeout = time.Minute
	}
	return &Generator{
		log:    logging.OrNop(cfg.Logger).Named("keygen"),
		keygen: &keygenBackend{path: cfg.KeygenPath, timeout: cfg.KeygenTimeout},
		noExec: cfg.DisableKeygen,
	}
}

// IsBackendAvailable reports whether the ssh-keygen backend can be used. The
// binary is looked up on first call only; installing it later requires a new
// Generator.
func (g *Generator) IsBackendAvailable() bool {
	if g.noExec {
		return false
	}
	g.lookupOnce.Do(func() {
		resolved, err := lookPath(g.keygen.path)
		if err != nil {
			g.log.Info("ssh-keygen not found, using native backend", zap.String("path", g.keygen.path), zap.Error(err))
			return
		}
		g.keygen.path = resolved
		g.keygenFound = true
		g.log.Info("ssh-keygen backend available", zap.String("path", resolved))
	})
	return g.keygenFound
}

// ActiveBackend returns the backend Generate would use.
func (g *Generator) ActiveBackend() Backend {
	return g.selectBackend().name()
}

// SupportedTypes lists the key types the active backend accepts.
func (g *Generator) SupportedTypes() []KeyType {
	rules := g.selectBackend().rules()
	types := make([]KeyType, 0, len(rules))
	for t := range rules {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func (g *Generator) selectBackend() backend {
	if g.IsBackendAvailable() {
		return g.keygen
	}
	return g.native
}

// Generate creates a key pair. Parameters the selected backend does not
// offer fail with *InvalidParameterError before any key material is created.
// Backend failures, and generated keys that do not read back cleanly, fail
// with *GenerationError.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (*KeyPair, error) {
	b := g.selectBackend()

	spec, err := checkRequest(b, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	priv, pub, err := b.generate(ctx, spec)
	if err != nil {
		var genErr *GenerationError
		if errors.As(err, &genErr) {
			return nil, err
		}
		return nil, &GenerationError{Backend: b.name(), Err: err}
	}

	kp, err := readBack(b.name(), spec, priv, pub)
	if err != nil {
		g.log.Error("generated key failed verification", zap.String("backend", string(b.name())), zap.Error(err))
		return nil, err
	}

	g.log.Info("generated key pair",
		zap.String("backend", string(kp.Backend)),
		zap.String("type", string(kp.KeyType)),
		zap.Int("bits", kp.KeySize),
		zap.Bool("passphrase", kp.HasPassphrase),
		zap.String("fingerprint", kp.Fingerprint),
		zap.Duration("took", time.Since(start)),
	)
	return kp, nil
}

func checkRequest(b backend, req GenerateRequest) (keySpec, error) {
	invalid := func(reason string) error {
		return &InvalidParameterError{KeyType: string(req.KeyType), KeySize: req.KeySize, Backend: b.name(), Reason: reason}
	}

	keyType, ok := ParseKeyType(string(req.KeyType))
	if !ok {
		return keySpec{}, invalid("unknown key type")
	}
	rule, ok := b.rules()[keyType]
	if !ok {
		return keySpec{}, invalid("key type not supported by this backend")
	}
	bits, ok := rule.resolve(req.KeySize)
	if !ok {
		return keySpec{}, invalid(rule.String())
	}
	if strings.ContainsAny(req.Comment, "\r\n") {
		return keySpec{}, invalid("comment must be a single line")
	}
	return keySpec{keyType: keyType, bits: bits, comment: req.Comment, passphrase: req.Passphrase}, nil
}

// readBack runs the generated blobs through the parsers and builds the
// KeyPair from what they report.
func readBack(name Backend, spec keySpec, priv, pub []byte) (*KeyPair, error) {
	fail := func(format string, args ...any) error {
		return &GenerationError{Backend: name, Err: fmt.Errorf(format, args...)}
	}

	want := StatusValid
	if spec.passphrase != "" {
		want = StatusPassphraseRequired
	}
	res := ValidatePrivateKey(priv)
	if res.Status != want {
		return nil, fail("generated private key is %s, want %s: %s", res.Status, want, res.Error)
	}
	if spec.passphrase != "" {
		res = ValidatePrivateKeyWithPassphrase(priv, []byte(spec.passphrase))
		if res.Status != StatusValid {
			return nil, fail("generated private key does not open with its passphrase: %s", res.Error)
		}
	}

	info, err := ParsePublicKey(pub)
	if err != nil {
		return nil, fail("generated public key: %w", err)
	}
	if info.KeyType != spec.keyType {
		return nil, fail("generated public key is %s, want %s", info.Algorithm, spec.keyType)
	}
	if info.BitLength != spec.bits {
		return nil, fail("generated public key has %d bits, want %d", info.BitLength, spec.bits)
	}
	if info.Fingerprint != res.Fingerprint {
		return nil, fail("public key %s does not match private key %s", info.Fingerprint, res.Fingerprint)
	}

	return &KeyPair{
		PrivateKey:    priv,
		PublicKey:     bytes.TrimSpace(pub),
		Fingerprint:   info.Fingerprint,
		KeyType:       info.KeyType,
		KeySize:       info.BitLength,
		HasPassphrase: spec.passphrase != "",
		Comment:       info.Comment,
		Backend:       name,
	}, nil
}
