package transactor

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/db"
	"github.com/wbrown/janus-factdb/datalog/index"
	"golang.org/x/crypto/pbkdf2"
)

// Fn is a transaction function. It receives the database before the
// transaction and returns transaction forms that replace the invocation.
type Fn func(before *db.Database, args ...interface{}) ([]interface{}, error)

type registeredFn struct {
	name    datalog.Keyword
	version string
	doc     string
	fn      Fn
	sig     string
}

// Registry maps keywords to statically registered transaction functions.
// Registrations are signed with a key derived from the registry secret; a
// database entity carrying the function's ident and a :db/fn signature
// pins the exact registration allowed to run.
type Registry struct {
	mu  sync.RWMutex
	fns map[datalog.Keyword]*registeredFn
	key []byte
}

const (
	keySalt       = "janus-factdb/tx-fn-registry"
	keyIterations = 4096
)

// NewRegistry creates an empty registry signing with secret
func NewRegistry(secret string) *Registry {
	return &Registry{
		fns: make(map[datalog.Keyword]*registeredFn),
		key: pbkdf2.Key([]byte(secret), []byte(keySalt), keyIterations, sha256.Size, sha256.New),
	}
}

// DefaultRegistry returns a registry holding the built in functions
func DefaultRegistry(secret string) *Registry {
	r := NewRegistry(secret)
	r.MustRegister(KwEnsureComposite.String(), "1", "Create an entity unless one with both attribute values exists.", EnsureComposite)
	return r
}

// MustRegister is Register for names known to be free. It panics on a
// duplicate.
func (r *Registry) MustRegister(name, version, doc string, fn Fn) {
	if err := r.Register(name, version, doc, fn); err != nil {
		panic("BUG: " + err.Error())
	}
}

// Register adds fn under name. Registering a name twice is an error.
func (r *Registry) Register(name, version, doc string, fn Fn) error {
	kw := datalog.NewKeyword(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.fns[kw]; dup {
		return fmt.Errorf("transaction function %s already registered", kw)
	}
	r.fns[kw] = &registeredFn{name: kw, version: version, doc: doc, fn: fn, sig: r.sign(kw, version)}
	return nil
}

func (r *Registry) sign(name datalog.Keyword, version string) string {
	mac := hmac.New(sha256.New, r.key)
	mac.Write([]byte(name.String()))
	mac.Write([]byte{0})
	mac.Write([]byte(version))
	return hex.EncodeToString(mac.Sum(nil))
}

// Names returns the registered function names in order
func (r *Registry) Names() []datalog.Keyword {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]datalog.Keyword, 0, len(r.fns))
	for k := range r.fns {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// Signature returns the signature of a registered function
func (r *Registry) Signature(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fns[datalog.NewKeyword(name)]
	if !ok {
		return "", false
	}
	return f.sig, true
}

// InstallForm returns the assertion map that pins the current registration
// of name in a database
func (r *Registry) InstallForm(name string) (map[datalog.Keyword]interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fns[datalog.NewKeyword(name)]
	if !ok {
		return nil, datalog.Validationf("unknown transaction function %s", name)
	}
	form := map[datalog.Keyword]interface{}{
		db.KwIdent: f.name,
		db.KwFn:    f.sig,
	}
	if f.doc != "" {
		form[db.KwDoc] = f.doc
	}
	return form, nil
}

func (r *Registry) lookup(name datalog.Keyword) (*registeredFn, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fns[name]
	return f, ok
}

// verify checks the registration against a :db/fn signature installed in
// the database, if there is one
func (r *Registry) verify(before *db.Database, f *registeredFn) error {
	id, ok := before.Entid(f.name)
	if !ok {
		return nil
	}
	for _, v := range before.Values(id, db.AttrFn) {
		sig, _ := v.(string)
		if !hmac.Equal([]byte(sig), []byte(f.sig)) {
			return datalog.Validationf("transaction function %s does not match the signature installed in the database", f.name)
		}
	}
	return nil
}

// Invoke runs a registered function against a database without
// transacting its result
func (r *Registry) Invoke(before *db.Database, name string, args ...interface{}) ([]interface{}, error) {
	f, ok := r.lookup(datalog.NewKeyword(name))
	if !ok {
		return nil, datalog.Validationf("unknown transaction function %s", name)
	}
	if err := r.verify(before, f); err != nil {
		return nil, err
	}
	return f.fn(before, args...)
}

// KwEnsureComposite names EnsureComposite in DefaultRegistry
var KwEnsureComposite = datalog.NewKeyword(":fn/ensure-composite")

// EnsureComposite takes k1 v1 k2 v2. It fails when an entity already has
// both k1=v1 and k2=v2, and otherwise asserts a new entity with both.
func EnsureComposite(before *db.Database, args ...interface{}) ([]interface{}, error) {
	if len(args) != 4 {
		return nil, datalog.Validationf("ensure-composite takes 4 arguments, got %d", len(args))
	}
	a1, err := before.ResolveAttr(args[0])
	if err != nil {
		return nil, err
	}
	a2, err := before.ResolveAttr(args[2])
	if err != nil {
		return nil, err
	}
	v1, err := before.CoerceValue(a1, args[1])
	if err != nil {
		return nil, err
	}
	v2, err := before.CoerceValue(a2, args[3])
	if err != nil {
		return nil, err
	}

	var existing datalog.EntityID
	found := false
	before.Seek(index.AVET, index.Prefix{A: a1.ID, V: v1, N: 2}, func(d datalog.Datom) bool {
		for _, v := range before.Values(d.E, a2.ID) {
			if datalog.ValuesEqual(v, v2) {
				existing, found = d.E, true
				return false
			}
		}
		return true
	})
	if found {
		return nil, &datalog.ConflictError{
			Msg:       fmt.Sprintf("entity %d already has %s %s and %s %s", existing, a1.Ident, datalog.FormatValue(v1), a2.Ident, datalog.FormatValue(v2)),
			Entity:    existing,
			Attribute: a2.Ident,
			Expected:  nil,
			Actual:    v2,
		}
	}
	return []interface{}{
		map[datalog.Keyword]interface{}{
			db.KwID:  NewTempID(":db.part/user"),
			a1.Ident: v1,
			a2.Ident: v2,
		},
	}, nil
}
