package datalog

import (
	"fmt"
	"strings"
	"sync"
)

// Datom is the fundamental unit of data in the database.
// It represents a single fact: Entity-Attribute-Value-Transaction, plus
// whether the fact was asserted or retracted by that transaction.
type Datom struct {
	E     EntityID // Entity identifier
	A     EntityID // Attribute entity identifier
	V     Value    // Any value (see value.go for valid types)
	Tx    EntityID // Transaction entity identifier
	Added bool     // false for retractions
}

// String returns a string representation of the Datom
func (d Datom) String() string {
	return fmt.Sprintf("[%d %d %s %d %t]", d.E, d.A, FormatValue(d.V), d.Tx, d.Added)
}

// Keyword represents an ident such as :person/name.
// Keywords are compared by their string form.
type Keyword struct {
	value string // The keyword string including the leading colon
}

// NewKeyword creates a keyword. A missing leading colon is added.
func NewKeyword(s string) Keyword {
	if !strings.HasPrefix(s, ":") {
		s = ":" + s
	}
	return *InternKeyword(s)
}

// String returns the keyword string
func (k Keyword) String() string {
	return k.value
}

// IsZero reports whether k is the empty keyword
func (k Keyword) IsZero() bool {
	return k.value == ""
}

// Namespace returns the part before the slash, or "" when there is none
func (k Keyword) Namespace() string {
	body := strings.TrimPrefix(k.value, ":")
	if i := strings.IndexByte(body, '/'); i >= 0 {
		return body[:i]
	}
	return ""
}

// Name returns the part after the slash
func (k Keyword) Name() string {
	body := strings.TrimPrefix(k.value, ":")
	if i := strings.IndexByte(body, '/'); i >= 0 {
		return body[i+1:]
	}
	return body
}

// IsReverse reports whether the keyword names a reverse reference (:ns/_attr)
func (k Keyword) IsReverse() bool {
	return strings.HasPrefix(k.Name(), "_")
}

// Reverse flips between :ns/attr and :ns/_attr
func (k Keyword) Reverse() Keyword {
	ns, name := k.Namespace(), k.Name()
	if strings.HasPrefix(name, "_") {
		name = name[1:]
	} else {
		name = "_" + name
	}
	if ns == "" {
		return NewKeyword(":" + name)
	}
	return NewKeyword(":" + ns + "/" + name)
}

// Compare compares two keywords
func (k Keyword) Compare(other Keyword) int {
	return strings.Compare(k.value, other.value)
}

// Bytes returns the keyword as bytes
func (k Keyword) Bytes() []byte {
	return []byte(k.value)
}

// keywords interns every keyword ever created
var keywords sync.Map // map[string]*Keyword

// InternKeyword returns the shared instance for s
func InternKeyword(s string) *Keyword {
	if val, ok := keywords.Load(s); ok {
		return val.(*Keyword)
	}
	actual, _ := keywords.LoadOrStore(s, &Keyword{value: s})
	return actual.(*Keyword)
}
