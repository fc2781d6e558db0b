// Package rand produces random fixtures for tests: object ids, ref names and sets of refs.
package rand

import (
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oneconcern/refmon/pkg/model"
)

const letters = "abcdefghijklmnopqrstuvwxyz0123456789"

var (
	onceSource sync.Once
	rgen       *rand.Rand
	randMutex  sync.Mutex
)

func seed() {
	src := rand.NewSource(time.Now().UnixNano())
	rgen = rand.New(src) // #nosec
}

func intn(n int) int {
	onceSource.Do(seed)
	randMutex.Lock()
	defer randMutex.Unlock()
	return rgen.Intn(n)
}

// Bytes returns a random slice of bytes
func Bytes(n int) []byte {
	onceSource.Do(seed)
	buf := make([]byte, n)
	randMutex.Lock()
	_, _ = rgen.Read(buf)
	randMutex.Unlock()
	return buf
}

// LetterString returns a random string picked in the [0-9]|[a-z] range
func LetterString(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(letters[intn(len(letters))])
	}
	return b.String()
}

// OID returns a random, non-zero object id
func OID() model.OID {
	for {
		oid, _ := model.OIDFromBytes(Bytes(model.OIDSize))
		if !oid.IsZero() {
			return oid
		}
	}
}

// RefName returns a random valid ref name below refs/, with 1 to depth components after the namespace
func RefName(depth int) string {
	namespaces := []string{"heads", "tags", "remotes/origin", "notes"}
	parts := []string{"refs", namespaces[intn(len(namespaces))]}
	if depth < 1 {
		depth = 1
	}
	for i := 0; i <= intn(depth); i++ {
		parts = append(parts, LetterString(1+intn(8)))
	}
	return strings.Join(parts, "/")
}

// Records returns n records with distinct names, sorted by name.
//
// About one ref in ten is symbolic and points to another ref of the set,
// never to itself. Names never conflict with each other as file paths.
func Records(n int) []model.Record {
	seen := make(map[string]struct{}, n)
	names := make([]string, 0, n)
	for len(names) < n {
		name := RefName(3)
		if _, ok := seen[name]; ok || conflicts(seen, name) {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)

	records := make([]model.Record, 0, n)
	for i, name := range names {
		target := model.Direct(OID())
		if n > 1 && intn(10) == 0 {
			j := intn(n - 1)
			if j >= i {
				j++
			}
			target = model.Symbolic(names[j])
		}
		records = append(records, model.NewRecord(name, target))
	}
	return records
}

// conflicts tells if name is a path prefix of an existing name, or the reverse
func conflicts(names map[string]struct{}, name string) bool {
	for existing := range names {
		if strings.HasPrefix(existing, name+"/") || strings.HasPrefix(name, existing+"/") {
			return true
		}
	}
	return false
}
